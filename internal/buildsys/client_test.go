package buildsys

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/manifest-gateway/manifest-gateway/internal/errdefs"
)

// newHub serves a minimal build-system API: one build with an operator
// manifests archive stored under the root path.
func newHub(t *testing.T, extra map[string]string, files string, archive []byte) *Client {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/hub/builds/etcd-operator-1.0-5", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"build_id": 42, "nvr": "etcd-operator-1.0-5", "extra": %s}`, jsonMap(extra))
	})
	mux.HandleFunc("/hub/builds/42/files", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, files)
	})
	mux.HandleFunc("/root/packages/etcd/manifests.zip", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(archive)
	})
	mux.HandleFunc("/hub/version", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"api_version": 1}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/hub", srv.URL+"/root", time.Second)
}

func jsonMap(m map[string]string) string {
	if len(m) == 0 {
		return "{}"
	}
	out := "{"
	first := true
	for k, v := range m {
		if !first {
			out += ","
		}
		out += fmt.Sprintf("%q:%q", k, v)
		first = false
	}
	return out + "}"
}

func TestDownloadManifestArchive(t *testing.T) {
	archive := []byte("PK\x03\x04 pretend zip bytes")
	c := newHub(t,
		map[string]string{"operator_manifests_archive": "manifests.zip"},
		`[{"name":"build.log","path":"logs/build.log"},{"name":"manifests.zip","path":"packages/etcd/manifests.zip"}]`,
		archive)

	var buf bytes.Buffer
	if err := c.DownloadManifestArchive(context.Background(), "etcd-operator-1.0-5", &buf); err != nil {
		t.Fatalf("DownloadManifestArchive: %v", err)
	}
	if !bytes.Equal(buf.Bytes(), archive) {
		t.Fatalf("downloaded %q, want %q", buf.Bytes(), archive)
	}
}

func TestDownloadManifestArchiveBuildNotFound(t *testing.T) {
	c := newHub(t, nil, "[]", nil)
	err := c.DownloadManifestArchive(context.Background(), "no-such-build-1.0-1", &bytes.Buffer{})
	if !errdefs.IsKind(err, errdefs.KindBuildNotFound) {
		t.Fatalf("err = %v, want BuildNotFound", err)
	}
}

func TestDownloadManifestArchiveNotAnOperatorImage(t *testing.T) {
	c := newHub(t, map[string]string{}, "[]", nil)
	err := c.DownloadManifestArchive(context.Background(), "etcd-operator-1.0-5", &bytes.Buffer{})
	if !errdefs.IsKind(err, errdefs.KindNotAnOperatorImage) {
		t.Fatalf("err = %v, want NotAnOperatorImage", err)
	}
}

func TestDownloadManifestArchiveMissingArchive(t *testing.T) {
	c := newHub(t,
		map[string]string{"operator_manifests_archive": "manifests.zip"},
		`[{"name":"build.log","path":"logs/build.log"}]`,
		nil)
	err := c.DownloadManifestArchive(context.Background(), "etcd-operator-1.0-5", &bytes.Buffer{})
	if !errdefs.IsKind(err, errdefs.KindManifestArchiveNotFound) {
		t.Fatalf("err = %v, want ManifestArchiveNotFound", err)
	}
}

func TestDownloadManifestArchiveTransportError(t *testing.T) {
	c := NewClient("http://127.0.0.1:1/hub", "http://127.0.0.1:1/root", 100*time.Millisecond)
	err := c.DownloadManifestArchive(context.Background(), "etcd-operator-1.0-5", &bytes.Buffer{})
	if !errdefs.IsKind(err, errdefs.KindTransportError) {
		t.Fatalf("err = %v, want TransportError", err)
	}
}

func TestAPIVersion(t *testing.T) {
	c := newHub(t, nil, "[]", nil)
	v, err := c.APIVersion(context.Background())
	if err != nil {
		t.Fatalf("APIVersion: %v", err)
	}
	if v != 1 {
		t.Fatalf("version = %d, want 1", v)
	}
}
