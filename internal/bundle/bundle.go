// Package bundle builds and publishes operator manifest bundles. It is the
// gateway's courier: it loads a directory of manifest documents, verifies the
// result is a publishable bundle, and uploads it to the backing registry as a
// base64-encoded tar.gz blob.
//
// Failures are classified so the registry layer can translate them into the
// gateway error taxonomy without string matching: ErrBadYAML for unparseable
// documents, BadBundleError for a structurally invalid bundle (carrying the
// validation diagnostics), RegistryError for an upstream error response.
package bundle

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
)

// Document kinds recognised when partitioning a manifest directory.
const (
	kindClusterServiceVersion    = "ClusterServiceVersion"
	kindCustomResourceDefinition = "CustomResourceDefinition"
)

// ErrBadYAML marks a manifest document that cannot be parsed at all.
var ErrBadYAML = errors.New("bundle: invalid yaml")

// BadBundleError reports a bundle that parsed but failed verification.
// ValidationInfo carries the structured diagnostics surfaced to callers.
type BadBundleError struct {
	ValidationInfo map[string]any
}

func (e *BadBundleError) Error() string {
	return fmt.Sprintf("bundle: verification failed: %v", e.ValidationInfo)
}

// RegistryError reports a non-2xx response from the registry during push.
type RegistryError struct {
	StatusCode int
	Body       string
}

func (e *RegistryError) Error() string {
	return fmt.Sprintf("bundle: registry responded with status %d: %s", e.StatusCode, e.Body)
}

// Bundle is the built, verified representation of a manifest directory,
// partitioned by document kind. Each entry holds the raw document text so the
// push payload preserves the operator's formatting.
type Bundle struct {
	Packages                  []string
	ClusterServiceVersions    []string
	CustomResourceDefinitions []string
}

// PackageName returns the package name declared by the bundle's first package
// document. BuildAndVerify guarantees at least one package exists.
func (b *Bundle) PackageName() (string, error) {
	var pkg struct {
		PackageName string `yaml:"packageName"`
	}
	if err := yaml.Unmarshal([]byte(b.Packages[0]), &pkg); err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadYAML, err)
	}
	return pkg.PackageName, nil
}

// Builder abstracts the build-verify-push collaborator so the registry client
// can be tested against a fake.
type Builder interface {
	// BuildAndVerify builds a bundle from sourceDir without pushing it.
	BuildAndVerify(ctx context.Context, sourceDir string) (*Bundle, error)

	// BuildVerifyAndPush builds a bundle from sourceDir and publishes it as
	// release version of org/repo, authenticating with token.
	BuildVerifyAndPush(ctx context.Context, org, repo, version, token, sourceDir string) error
}

// buildBundle loads every YAML document under sourceDir and partitions it by
// kind. Documents that are neither packages, CSVs, nor CRDs are ignored; the
// registry only consumes the three recognised kinds.
func buildBundle(sourceDir string) (*Bundle, error) {
	var b Bundle
	var problems []string

	err := filepath.WalkDir(sourceDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		var doc map[string]any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrBadYAML, filepath.Base(path), err)
		}

		switch {
		case doc["packageName"] != nil:
			b.Packages = append(b.Packages, string(data))
		case doc["kind"] == kindClusterServiceVersion:
			b.ClusterServiceVersions = append(b.ClusterServiceVersions, string(data))
		case doc["kind"] == kindCustomResourceDefinition:
			b.CustomResourceDefinitions = append(b.CustomResourceDefinitions, string(data))
		default:
			problems = append(problems,
				fmt.Sprintf("%s: unrecognised document (no packageName, kind %v)", filepath.Base(path), doc["kind"]))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var failures []string
	if len(b.Packages) == 0 {
		failures = append(failures, "bundle declares no package")
	}
	if len(b.Packages) > 1 {
		failures = append(failures, fmt.Sprintf("bundle declares %d packages, expected exactly one", len(b.Packages)))
	}
	if len(b.ClusterServiceVersions) == 0 {
		failures = append(failures, "bundle contains no ClusterServiceVersion")
	}
	if len(failures) > 0 {
		return nil, &BadBundleError{ValidationInfo: map[string]any{
			"errors":   failures,
			"warnings": problems,
		}}
	}
	return &b, nil
}
