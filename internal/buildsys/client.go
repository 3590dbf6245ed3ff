// Package buildsys implements the client for the build system that produced
// the operator image. A build is addressed by its NVR (name-version-release
// identifier); operator builds carry an operator_manifests_archive entry in
// their metadata naming the zip archive the build system stored alongside the
// build artifacts. The client resolves that name to a download path through
// the build's file listing and streams the archive to the caller.
package buildsys

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/manifest-gateway/manifest-gateway/internal/errdefs"
)

// manifestsArchiveKey is the build metadata key naming the operator manifests
// archive. Builds that are not operator images lack it.
const manifestsArchiveKey = "operator_manifests_archive"

// Client talks to one build-system instance. hubURL serves the metadata API;
// rootURL serves the stored build artifacts.
type Client struct {
	hubURL  string
	rootURL string
	client  *http.Client
}

// NewClient creates a build-system client. Every request is bounded by
// timeout.
func NewClient(hubURL, rootURL string, timeout time.Duration) *Client {
	return &Client{
		hubURL:  strings.TrimRight(hubURL, "/"),
		rootURL: strings.TrimRight(rootURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type buildMetadata struct {
	BuildID int               `json:"build_id"`
	NVR     string            `json:"nvr"`
	Extra   map[string]string `json:"extra"`
}

type buildFile struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

func (c *Client) getJSON(ctx context.Context, url string, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, errdefs.Wrap(errdefs.KindTransportError, err, "build system request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, errdefs.Wrap(errdefs.KindTransportError, err,
			"cannot decode build system response: %v", err)
	}
	return resp.StatusCode, nil
}

// DownloadManifestArchive resolves the operator manifests archive of the
// build named by nvr and streams its bytes into target.
func (c *Client) DownloadManifestArchive(ctx context.Context, nvr string, target io.Writer) error {
	var metadata buildMetadata
	status, err := c.getJSON(ctx, fmt.Sprintf("%s/builds/%s", c.hubURL, nvr), &metadata)
	if err != nil {
		return err
	}
	if status == http.StatusNotFound {
		return errdefs.New(errdefs.KindBuildNotFound, "NVR not found: %s", nvr)
	}
	if status != http.StatusOK {
		return errdefs.New(errdefs.KindTransportError,
			"build system responded with status %d for build %s", status, nvr)
	}

	filename, ok := metadata.Extra[manifestsArchiveKey]
	if !ok || filename == "" {
		return errdefs.New(errdefs.KindNotAnOperatorImage, "not an operator image: %s", nvr)
	}

	var files []buildFile
	status, err = c.getJSON(ctx, fmt.Sprintf("%s/builds/%d/files", c.hubURL, metadata.BuildID), &files)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return errdefs.New(errdefs.KindTransportError,
			"build system responded with status %d listing files of build %s", status, nvr)
	}

	var path string
	for _, f := range files {
		if f.Name == filename {
			path = f.Path
			break
		}
	}
	if path == "" {
		return errdefs.New(errdefs.KindManifestArchiveNotFound,
			"expected archive %q with manifests not found in build: %s", filename, nvr)
	}

	return c.download(ctx, fmt.Sprintf("%s/%s", c.rootURL, strings.TrimLeft(path, "/")), target)
}

func (c *Client) download(ctx context.Context, url string, target io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create download request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return errdefs.Wrap(errdefs.KindTransportError, err, "archive download failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errdefs.New(errdefs.KindTransportError,
			"archive download failed with status %d", resp.StatusCode)
	}
	if _, err := io.Copy(target, resp.Body); err != nil {
		return errdefs.Wrap(errdefs.KindTransportError, err, "archive download failed: %v", err)
	}
	return nil
}

// APIVersion probes the build system's version endpoint; used by the health
// check.
func (c *Client) APIVersion(ctx context.Context) (int, error) {
	var parsed struct {
		APIVersion int `json:"api_version"`
	}
	status, err := c.getJSON(ctx, c.hubURL+"/version", &parsed)
	if err != nil {
		return 0, err
	}
	if status != http.StatusOK {
		return 0, errdefs.New(errdefs.KindTransportError,
			"build system version check failed with status %d", status)
	}
	return parsed.APIVersion, nil
}
