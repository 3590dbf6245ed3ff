// Package errdefs defines the classified error taxonomy shared by every layer
// of the gateway. Each failure a caller can observe is one of a fixed set of
// kinds, and each kind maps to a fixed HTTP status. Handlers render errors of
// this package as the JSON envelope {status, error, message} plus any detail
// fields the kind carries (quay_response, validation_info, greenwave_response).
//
// The kind is the contract: orchestration code must never re-wrap a classified
// error into a less specific one. Anything that reaches the HTTP boundary
// unclassified is rendered as InternalError after being logged in full.
package errdefs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind names a classified failure. The string value is what appears in the
// "error" field of the JSON envelope.
type Kind string

const (
	// Input / validation failures (caller-fixable).
	KindUnsupportedFileType    Kind = "UnsupportedFileType"
	KindMissingUploadField     Kind = "MissingUploadField"
	KindCorruptArchive         Kind = "CorruptArchive"
	KindEncryptedArchive       Kind = "EncryptedArchive"
	KindArchiveTooLarge        Kind = "ArchiveTooLarge"
	KindInvalidVersionFormat   Kind = "InvalidVersionFormat"
	KindPackageValidationError Kind = "PackageValidationError"
	KindNotAnOperatorImage     Kind = "NotAnOperatorImage"

	// Authorization failures.
	KindMissingAuthToken   Kind = "MissingAuthToken"
	KindAuthorizationError Kind = "AuthorizationError"

	// Not-found failures.
	KindOrganizationNotFound    Kind = "OrganizationNotFound"
	KindPackageNotFound         Kind = "PackageNotFound"
	KindBuildNotFound           Kind = "BuildNotFound"
	KindManifestArchiveNotFound Kind = "ManifestArchiveNotFound"

	// Upstream / integration failures.
	KindCourierBuildError Kind = "CourierBuildError"
	KindPackageQueryError Kind = "PackageQueryError"
	KindPolicyGateError   Kind = "PolicyGateError"
	KindTransportError    Kind = "TransportError"

	// Policy rejection: an expected, user-actionable outcome of policy
	// evaluation, distinct from a gate malfunction.
	KindPolicyUnsatisfied Kind = "PolicyUnsatisfied"

	// Fallback for unclassified failures at the outermost boundary.
	KindInternalError Kind = "InternalError"
)

// statusByKind is the fixed Kind → HTTP status mapping.
var statusByKind = map[Kind]int{
	KindUnsupportedFileType:     http.StatusBadRequest,
	KindMissingUploadField:      http.StatusBadRequest,
	KindCorruptArchive:          http.StatusBadRequest,
	KindEncryptedArchive:        http.StatusBadRequest,
	KindArchiveTooLarge:         http.StatusBadRequest,
	KindInvalidVersionFormat:    http.StatusBadRequest,
	KindPackageValidationError:  http.StatusBadRequest,
	KindNotAnOperatorImage:      http.StatusBadRequest,
	KindMissingAuthToken:        http.StatusForbidden,
	KindAuthorizationError:      http.StatusForbidden,
	KindOrganizationNotFound:    http.StatusNotFound,
	KindPackageNotFound:         http.StatusNotFound,
	KindBuildNotFound:           http.StatusNotFound,
	KindManifestArchiveNotFound: http.StatusNotFound,
	KindCourierBuildError:       http.StatusInternalServerError,
	KindPackageQueryError:       http.StatusInternalServerError,
	KindPolicyGateError:         http.StatusInternalServerError,
	KindTransportError:          http.StatusInternalServerError,
	KindPolicyUnsatisfied:       http.StatusBadRequest,
	KindInternalError:           http.StatusInternalServerError,
}

// Error is a classified gateway error. Detail holds kind-specific extra
// fields that are merged into the JSON envelope as-is.
type Error struct {
	Kind    Kind
	Message string
	Detail  map[string]any
	cause   error
}

// New creates a classified error.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a classified error that records err as its cause. The cause is
// reachable through errors.Unwrap but is not part of the caller-facing
// message.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: err}
}

// WithDetail attaches a single detail field and returns the same error.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Detail == nil {
		e.Detail = make(map[string]any, 1)
	}
	e.Detail[key] = value
	return e
}

// Status returns the HTTP status the error's kind maps to.
func (e *Error) Status() int {
	if s, ok := statusByKind[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports kind equality so errors.Is(err, errdefs.New(kind, ...)) and the
// IsKind helper both work on wrapped chains.
func (e *Error) Is(target error) bool {
	var ge *Error
	if errors.As(target, &ge) {
		return e.Kind == ge.Kind
	}
	return false
}

// AsError extracts a classified error from err's chain. When err is
// unclassified it returns a KindInternalError wrapper so the HTTP boundary
// always has a status and a sanitized message to render.
func AsError(err error) *Error {
	var ge *Error
	if errors.As(err, &ge) {
		return ge
	}
	return Wrap(KindInternalError, err, "internal server error")
}

// IsKind reports whether err's chain contains a classified error of the given
// kind.
func IsKind(err error, kind Kind) bool {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind == kind
	}
	return false
}
