package bundle

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
)

// Courier is the real Builder: it packages the verified bundle into the
// registry blob format (a base64-encoded tar.gz holding a single bundle.yaml)
// and uploads it with a release push request.
type Courier struct {
	baseURL string
	client  *http.Client
}

// NewCourier creates a Courier pushing to the registry at baseURL. Every
// request is bounded by timeout.
func NewCourier(baseURL string, timeout time.Duration) *Courier {
	return &Courier{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// BuildAndVerify builds a bundle from sourceDir without pushing it.
func (c *Courier) BuildAndVerify(_ context.Context, sourceDir string) (*Bundle, error) {
	return buildBundle(sourceDir)
}

// BuildVerifyAndPush builds a bundle from sourceDir and publishes it as
// release version of org/repo.
func (c *Courier) BuildVerifyAndPush(ctx context.Context, org, repo, version, token, sourceDir string) error {
	b, err := buildBundle(sourceDir)
	if err != nil {
		return err
	}

	blob, err := encodeBlob(b)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(map[string]any{
		"blob":       blob,
		"release":    version,
		"media_type": "helm",
	})
	if err != nil {
		return fmt.Errorf("encode push payload: %w", err)
	}

	url := fmt.Sprintf("%s/cnr/api/v1/packages/%s/%s", c.baseURL, org, repo)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", token)

	slog.Debug("pushing bundle", "org", org, "repo", repo, "version", version)
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("push request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return &RegistryError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return nil
}

// encodeBlob renders the bundle into the registry's push format: a yaml
// document {data: {packages, clusterServiceVersions, customResourceDefinitions}}
// wrapped in a tar.gz archive and base64 encoded.
func encodeBlob(b *Bundle) (string, error) {
	doc, err := yaml.Marshal(map[string]any{
		"data": map[string]any{
			"packages":                  joinDocuments(b.Packages),
			"clusterServiceVersions":    joinDocuments(b.ClusterServiceVersions),
			"customResourceDefinitions": joinDocuments(b.CustomResourceDefinitions),
		},
	})
	if err != nil {
		return "", fmt.Errorf("render bundle: %w", err)
	}

	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)
	hdr := &tar.Header{
		Name: "bundle.yaml",
		Mode: 0o644,
		Size: int64(len(doc)),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return "", fmt.Errorf("write bundle archive: %w", err)
	}
	if _, err := tw.Write(doc); err != nil {
		return "", fmt.Errorf("write bundle archive: %w", err)
	}
	if err := tw.Close(); err != nil {
		return "", fmt.Errorf("close bundle archive: %w", err)
	}
	if err := gw.Close(); err != nil {
		return "", fmt.Errorf("close bundle archive: %w", err)
	}

	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// joinDocuments concatenates raw documents into one multi-document yaml
// string, the list form the registry expects for each bundle section.
func joinDocuments(docs []string) string {
	var sb strings.Builder
	for i, d := range docs {
		if i > 0 {
			sb.WriteString("---\n")
		}
		sb.WriteString(d)
		if !strings.HasSuffix(d, "\n") {
			sb.WriteString("\n")
		}
	}
	return sb.String()
}
