package org

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/manifest-gateway/manifest-gateway/internal/errdefs"
	"github.com/manifest-gateway/manifest-gateway/internal/intake"
	"github.com/manifest-gateway/manifest-gateway/internal/release"
	"github.com/manifest-gateway/manifest-gateway/internal/telemetry"
	"github.com/manifest-gateway/manifest-gateway/internal/transform"
	"github.com/manifest-gateway/manifest-gateway/pkg/checksum"
)

// Registry is the slice of the registry client the gateway drives.
type Registry interface {
	ListReleasesRaw(ctx context.Context, token, org, repo string) ([]string, error)
	LatestRelease(ctx context.Context, token, org, repo string) (release.Version, error)
	DeleteRelease(ctx context.Context, token, org, repo, version string) error
	Push(ctx context.Context, token, org, repo, version, sourceDir string) error
	ChangeVisibility(ctx context.Context, oauthToken, org, repo string) error
}

// BuildSystem fetches operator manifest archives for completed builds.
type BuildSystem interface {
	DownloadManifestArchive(ctx context.Context, nvr string, target io.Writer) error
}

// PolicyGate answers whether a build may be released.
type PolicyGate interface {
	Enabled() bool
	Check(ctx context.Context, nvr string) error
}

// Config carries the gateway's tunables.
type Config struct {
	// DefaultReleaseVersion is assigned when the target repository has no
	// valid releases yet and the caller supplied no version.
	DefaultReleaseVersion string

	// MaxUncompressedSize bounds accepted archives; zero means the intake
	// default.
	MaxUncompressedSize int64

	// AllowedExtensions is the upload extension allow-list; empty means the
	// intake default.
	AllowedExtensions []string
}

// Gateway orchestrates the publish and delete flows. Collaborators are
// injected so handlers and tests can substitute fakes.
type Gateway struct {
	policies *Table
	registry Registry
	builds   BuildSystem
	gate     PolicyGate
	cfg      Config
}

func NewGateway(policies *Table, registry Registry, builds BuildSystem, gate PolicyGate, cfg Config) *Gateway {
	if cfg.DefaultReleaseVersion == "" {
		cfg.DefaultReleaseVersion = "1.0.0"
	}
	return &Gateway{
		policies: policies,
		registry: registry,
		builds:   builds,
		gate:     gate,
		cfg:      cfg,
	}
}

// PublishRequest identifies the destination of one publish operation.
type PublishRequest struct {
	Organization string
	Repo         string // discovered from the manifests when empty
	Version      string // computed from the registry when empty
	Token        string // opaque registry credential from the caller
}

// Result reports what one publish operation produced.
type Result struct {
	Organization   string   `json:"organization"`
	Repo           string   `json:"repo"`
	Version        string   `json:"version"`
	ExtractedFiles []string `json:"extracted_files"`
	NVR            string   `json:"nvr,omitempty"`
}

// DeleteResult reports which release versions a delete operation removed.
type DeleteResult struct {
	Organization string   `json:"organization"`
	Repo         string   `json:"repo"`
	Deleted      []string `json:"deleted"`
}

// PublishArchive validates and extracts the uploaded archive at archivePath,
// applies the organization's rewrites, and pushes the result as a new release.
// filename is the client-supplied name used for the extension check.
func (g *Gateway) PublishArchive(ctx context.Context, req PublishRequest, archivePath, filename string) (*Result, error) {
	res, err := g.publishFromArchive(ctx, req, archivePath, filename, "")
	g.recordPush(req.Organization, "archive", err)
	return res, err
}

// PublishBuild checks the release policy gate for nvr, downloads the build's
// operator manifest archive from the build system, and publishes it like an
// uploaded archive.
func (g *Gateway) PublishBuild(ctx context.Context, req PublishRequest, nvr string) (*Result, error) {
	res, err := g.publishBuild(ctx, req, nvr)
	g.recordPush(req.Organization, "build", err)
	return res, err
}

func (g *Gateway) publishBuild(ctx context.Context, req PublishRequest, nvr string) (*Result, error) {
	if g.gate != nil && g.gate.Enabled() {
		if err := g.gate.Check(ctx, nvr); err != nil {
			if errdefs.IsKind(err, errdefs.KindPolicyUnsatisfied) {
				telemetry.PolicyGateRejectionsTotal.WithLabelValues(req.Organization).Inc()
			}
			return nil, err
		}
	}

	archive, err := os.CreateTemp("", "manifest-gateway-build-*.zip")
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindInternalError, err, "create download target: %v", err)
	}
	defer os.Remove(archive.Name())

	err = g.builds.DownloadManifestArchive(ctx, nvr, archive)
	if cerr := archive.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, err
	}

	return g.publishFromArchive(ctx, req, archive.Name(), archive.Name(), nvr)
}

func (g *Gateway) publishFromArchive(ctx context.Context, req PublishRequest, archivePath, filename, nvr string) (*Result, error) {
	if err := intake.ValidateExtension(filename, g.cfg.AllowedExtensions); err != nil {
		return nil, err
	}

	sum, err := checksum.SHA256File(archivePath)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindInternalError, err, "checksum archive: %v", err)
	}
	slog.Info("manifest archive accepted for publishing",
		"organization", req.Organization,
		"sha256", sum,
		"nvr", nvr)

	ws, err := intake.NewWorkspace()
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindInternalError, err, "%v", err)
	}
	defer ws.Close()

	files, err := intake.ExtractFile(archivePath, ws.Dir, g.cfg.MaxUncompressedSize)
	if err != nil {
		return nil, err
	}
	var total int64
	if info, serr := os.Stat(archivePath); serr == nil {
		total = info.Size()
	}
	telemetry.ExtractedArchiveBytes.Observe(float64(total))

	return g.publish(ctx, req, ws, files, nvr)
}

// publish runs the shared tail of both publish flows over an already
// extracted workspace.
func (g *Gateway) publish(ctx context.Context, req PublishRequest, ws *intake.Workspace, files []string, nvr string) (*Result, error) {
	policy := g.policies.Resolve(req.Organization)

	repo := req.Repo
	pkgName, pkgErr := transform.DiscoverPackageName(ws.Dir)
	if repo == "" {
		if pkgErr != nil {
			return nil, pkgErr
		}
		repo = pkgName
	}
	repo = transform.ApplySuffix(repo, policy.RepoNameSuffix)

	// Keep the packageName inside the manifests aligned with the suffixed
	// repository so the registry entry and its package file agree.
	if policy.RepoNameSuffix != "" && pkgErr == nil {
		suffixed := transform.ApplySuffix(pkgName, policy.RepoNameSuffix)
		if err := transform.RenamePackage(ws.Dir, pkgName, suffixed); err != nil {
			return nil, err
		}
		pkgName = suffixed
	}
	if pkgErr != nil {
		pkgName = repo
	}

	version, err := g.resolveVersion(ctx, req, repo)
	if err != nil {
		return nil, err
	}

	if err := transform.ReplaceRegistries(ws.Dir, policy.ReplaceRegistry); err != nil {
		return nil, err
	}
	annotationCtx := map[string]string{
		"organization": req.Organization,
		"repo":         repo,
		"package_name": pkgName,
		"version":      version,
		"nvr":          nvr,
	}
	if err := transform.InjectAnnotations(ws.Dir, policy.CSVAnnotations, annotationCtx); err != nil {
		return nil, err
	}

	if err := g.registry.Push(ctx, req.Token, req.Organization, repo, version, ws.Dir); err != nil {
		return nil, err
	}
	slog.Info("release pushed",
		"organization", req.Organization,
		"repo", repo,
		"version", version)

	if policy.Public {
		if policy.OAuthToken == "" {
			slog.Error("cannot make repository public, organization has no oauth token configured",
				"organization", req.Organization,
				"repo", repo)
		} else if err := g.registry.ChangeVisibility(ctx, policy.OAuthToken, req.Organization, repo); err != nil {
			return nil, err
		}
	}

	return &Result{
		Organization:   req.Organization,
		Repo:           repo,
		Version:        version,
		ExtractedFiles: files,
		NVR:            nvr,
	}, nil
}

// resolveVersion picks the release version: the caller's explicit choice,
// else the registry's latest incremented, else the configured default when
// the repository has no valid releases yet.
func (g *Gateway) resolveVersion(ctx context.Context, req PublishRequest, repo string) (string, error) {
	if req.Version != "" {
		v, err := release.Parse(req.Version)
		if err != nil {
			return "", err
		}
		return v.String(), nil
	}

	latest, err := g.registry.LatestRelease(ctx, req.Token, req.Organization, repo)
	if err != nil {
		if errdefs.IsKind(err, errdefs.KindPackageNotFound) {
			return g.cfg.DefaultReleaseVersion, nil
		}
		return "", err
	}
	return latest.Increment().String(), nil
}

// Delete removes req.Version from the repository, or every release the
// registry lists for it when req.Version is empty.
func (g *Gateway) Delete(ctx context.Context, req PublishRequest) (*DeleteResult, error) {
	versions := []string{req.Version}
	if req.Version == "" {
		raw, err := g.registry.ListReleasesRaw(ctx, req.Token, req.Organization, req.Repo)
		if err != nil {
			return nil, err
		}
		versions = raw
	}

	deleted := make([]string, 0, len(versions))
	for _, v := range versions {
		if err := g.registry.DeleteRelease(ctx, req.Token, req.Organization, req.Repo, v); err != nil {
			return nil, err
		}
		telemetry.ReleasesDeletedTotal.WithLabelValues(req.Organization).Inc()
		deleted = append(deleted, v)
	}
	slog.Info("releases deleted",
		"organization", req.Organization,
		"repo", req.Repo,
		"versions", deleted)

	return &DeleteResult{
		Organization: req.Organization,
		Repo:         req.Repo,
		Deleted:      deleted,
	}, nil
}

func (g *Gateway) recordPush(organization, source string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	telemetry.PushesTotal.WithLabelValues(organization, source, outcome).Inc()
}
