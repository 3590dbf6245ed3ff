// Package registry implements the typed HTTP client for the backing package
// registry (a CNR-style API: list/delete releases by namespace+package, push
// by uploading a built bundle, change repository visibility).
//
// Every operation classifies the upstream response into the gateway error
// taxonomy: 404 → PackageNotFound, 403 → AuthorizationError carrying the
// upstream body, anything else unexpected → PackageQueryError. Timeouts are
// not a distinct kind at this layer; they surface as the same classification
// as other network failures.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/manifest-gateway/manifest-gateway/internal/bundle"
	"github.com/manifest-gateway/manifest-gateway/internal/errdefs"
	"github.com/manifest-gateway/manifest-gateway/internal/release"
)

// Client talks to one backing registry instance.
type Client struct {
	baseURL string
	client  *http.Client
	builder bundle.Builder
}

// NewClient creates a registry client for baseURL. builder performs the
// build-verify-push step of publish operations; every HTTP call is bounded by
// timeout.
func NewClient(baseURL string, timeout time.Duration, builder bundle.Builder) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		builder: builder,
	}
}

// errorMessage extracts the registry's error message from a response body of
// the form {"error": {"message": "..."}}.
func errorMessage(body []byte) string {
	var parsed struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil || parsed.Error.Message == "" {
		return "Unknown error"
	}
	return parsed.Error.Message
}

// ListReleasesRaw returns every release string the registry holds for
// org/repo, including ones that do not follow the gateway's version
// discipline.
func (c *Client) ListReleasesRaw(ctx context.Context, token, org, repo string) ([]string, error) {
	url := fmt.Sprintf("%s/cnr/api/v1/packages/%s/%s", c.baseURL, org, repo)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create list request: %w", err)
	}
	req.Header.Set("Authorization", token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindPackageQueryError, err,
			"cannot retrieve information about package %s/%s: %v", org, repo, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, errdefs.New(errdefs.KindPackageNotFound, "package %s/%s not found", org, repo)
	case resp.StatusCode == http.StatusForbidden:
		return nil, errdefs.New(errdefs.KindAuthorizationError,
			"not authorized to query package %s/%s: %s", org, repo, errorMessage(body)).
			WithDetail("quay_response", string(body))
	case resp.StatusCode != http.StatusOK:
		return nil, errdefs.New(errdefs.KindPackageQueryError,
			"cannot retrieve information about package %s/%s: %s", org, repo, errorMessage(body)).
			WithDetail("quay_response", string(body))
	}

	var packages []struct {
		Release string `json:"release"`
	}
	if err := json.Unmarshal(body, &packages); err != nil {
		return nil, errdefs.Wrap(errdefs.KindPackageQueryError, err,
			"cannot decode package listing for %s/%s: %v", org, repo, err)
	}
	releases := make([]string, 0, len(packages))
	for _, p := range packages {
		releases = append(releases, p.Release)
	}
	return releases, nil
}

// ListReleases returns the releases of org/repo that parse under the strict
// version grammar. Entries created outside the gateway's version discipline
// are discarded, logged at debug level; the registry legitimately holds
// releases from other tools.
func (c *Client) ListReleases(ctx context.Context, token, org, repo string) ([]release.Version, error) {
	raw, err := c.ListReleasesRaw(ctx, token, org, repo)
	if err != nil {
		return nil, err
	}
	var versions []release.Version
	for _, r := range raw {
		v, err := release.Parse(r)
		if err != nil {
			slog.Debug("ignoring non-conforming release version", "org", org, "repo", repo, "release", r)
			continue
		}
		versions = append(versions, v)
	}
	return versions, nil
}

// LatestRelease returns the highest conforming release of org/repo. A package
// with no conforming releases fails with PackageNotFound, the same as a
// missing package: either way the caller falls back to the configured initial
// version.
func (c *Client) LatestRelease(ctx context.Context, token, org, repo string) (release.Version, error) {
	versions, err := c.ListReleases(ctx, token, org, repo)
	if err != nil {
		return release.Version{}, err
	}
	latest, ok := release.Latest(versions)
	if !ok {
		return release.Version{}, errdefs.New(errdefs.KindPackageNotFound,
			"package %s/%s has no valid versions uploaded", org, repo)
	}
	return latest, nil
}

// DeleteRelease removes one release of org/repo.
func (c *Client) DeleteRelease(ctx context.Context, token, org, repo, version string) error {
	url := fmt.Sprintf("%s/cnr/api/v1/packages/%s/%s/%s/helm", c.baseURL, org, repo, version)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return fmt.Errorf("create delete request: %w", err)
	}
	req.Header.Set("Authorization", token)

	slog.Info("deleting release", "org", org, "repo", repo, "version", version)
	resp, err := c.client.Do(req)
	if err != nil {
		return errdefs.Wrap(errdefs.KindPackageQueryError, err,
			"cannot delete release %s of %s/%s: %v", version, org, repo, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return nil
	}
	body, _ := io.ReadAll(resp.Body)
	msg := errorMessage(body)
	if resp.StatusCode == http.StatusNotFound {
		return errdefs.New(errdefs.KindPackageNotFound, "%s", msg)
	}
	return errdefs.New(errdefs.KindPackageQueryError, "%s", msg).
		WithDetail("quay_response", string(body))
}

// Push builds the bundle in sourceDir and publishes it as version of
// org/repo, translating the builder's failure classes into the gateway
// taxonomy.
func (c *Client) Push(ctx context.Context, token, org, repo, version, sourceDir string) error {
	err := c.builder.BuildVerifyAndPush(ctx, org, repo, version, token, sourceDir)
	if err == nil {
		return nil
	}

	var badBundle *bundle.BadBundleError
	var registryErr *bundle.RegistryError
	switch {
	case errors.As(err, &badBundle):
		return errdefs.Wrap(errdefs.KindPackageValidationError, err,
			"bundle verification failed for %s/%s", org, repo).
			WithDetail("validation_info", badBundle.ValidationInfo)
	case errors.Is(err, bundle.ErrBadYAML):
		return errdefs.Wrap(errdefs.KindPackageValidationError, err,
			"invalid manifest yaml for %s/%s: %v", org, repo, err)
	case errors.As(err, &registryErr):
		if registryErr.StatusCode == http.StatusForbidden {
			return errdefs.Wrap(errdefs.KindAuthorizationError, err,
				"not authorized to push %s/%s: %s", org, repo, errorMessage([]byte(registryErr.Body))).
				WithDetail("quay_response", registryErr.Body)
		}
		return errdefs.Wrap(errdefs.KindCourierBuildError, err,
			"failed to push manifest for %s/%s: %s", org, repo, errorMessage([]byte(registryErr.Body))).
			WithDetail("quay_response", registryErr.Body)
	default:
		return errdefs.Wrap(errdefs.KindCourierBuildError, err,
			"failed to push manifest for %s/%s: %v", org, repo, err)
	}
}

// ChangeVisibility makes org/repo public. oauthToken is the visibility-change
// credential; calling this without one is a programming error — the
// orchestration layer must only publish when the credential is configured.
func (c *Client) ChangeVisibility(ctx context.Context, oauthToken, org, repo string) error {
	if oauthToken == "" {
		panic("registry: ChangeVisibility called without an oauth token")
	}

	url := fmt.Sprintf("%s/api/v1/repository/%s/%s/changevisibility", c.baseURL, org, repo)
	payload := strings.NewReader(`{"visibility": "public"}`)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, payload)
	if err != nil {
		return fmt.Errorf("create visibility request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+oauthToken)

	slog.Debug("publishing repository", "org", org, "repo", repo)
	resp, err := c.client.Do(req)
	if err != nil {
		return errdefs.Wrap(errdefs.KindPackageQueryError, err,
			"cannot change visibility of %s/%s: %v", org, repo, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return errdefs.New(errdefs.KindPackageQueryError,
			"cannot change visibility of %s/%s: %s", org, repo, errorMessage(body)).
			WithDetail("quay_response", string(body))
	}
	return nil
}

// APIVersion probes the registry's version endpoint; used by the health
// check.
func (c *Client) APIVersion(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/cnr/version", nil)
	if err != nil {
		return "", fmt.Errorf("create version request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return "", errdefs.Wrap(errdefs.KindPackageQueryError, err, "registry version check failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", errdefs.New(errdefs.KindPackageQueryError,
			"registry version check failed with status %d", resp.StatusCode)
	}
	var parsed struct {
		CNRAPI string `json:"cnr-api"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", errdefs.Wrap(errdefs.KindPackageQueryError, err, "cannot decode registry version: %v", err)
	}
	return parsed.CNRAPI, nil
}
