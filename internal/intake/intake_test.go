package intake

import (
	"archive/zip"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/manifest-gateway/manifest-gateway/internal/errdefs"
)

// makeZip builds an in-memory zip archive from a map of entry name → content.
func makeZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip Create(%q): %v", name, err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("zip Write(%q): %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip Close: %v", err)
	}
	return buf.Bytes()
}

func extractBytes(t *testing.T, data []byte, maxSize int64) ([]string, string, error) {
	t.Helper()
	dest := t.TempDir()
	files, err := Extract(bytes.NewReader(data), int64(len(data)), dest, maxSize)
	return files, dest, err
}

func TestValidateExtension(t *testing.T) {
	tests := []struct {
		filename string
		wantErr  bool
	}{
		{"manifests.zip", false},
		{"MANIFESTS.ZIP", false},
		{"manifests.tar.gz", true},
		{"manifests", true},
		{"zip", true},
	}
	for _, tt := range tests {
		err := ValidateExtension(tt.filename, nil)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateExtension(%q) err=%v, wantErr=%v", tt.filename, err, tt.wantErr)
		}
		if err != nil && !errdefs.IsKind(err, errdefs.KindUnsupportedFileType) {
			t.Errorf("ValidateExtension(%q) kind = %v, want UnsupportedFileType", tt.filename, err)
		}
	}
}

func TestExtract(t *testing.T) {
	data := makeZip(t, map[string]string{
		"etcd.package.yaml":                            "packageName: etcd\n",
		"manifests/etcd.v1.clusterserviceversion.yaml": "kind: ClusterServiceVersion\n",
	})

	files, dest, err := extractBytes(t, data, 0)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	want := []string{
		"etcd.package.yaml",
		"manifests/etcd.v1.clusterserviceversion.yaml",
	}
	if len(files) != len(want) {
		t.Fatalf("extracted %v, want %v", files, want)
	}
	for i := range want {
		if files[i] != want[i] {
			t.Fatalf("extracted %v, want %v", files, want)
		}
	}
	content, err := os.ReadFile(filepath.Join(dest, "etcd.package.yaml"))
	if err != nil {
		t.Fatalf("reading extracted file: %v", err)
	}
	if string(content) != "packageName: etcd\n" {
		t.Fatalf("extracted content = %q", content)
	}
}

func TestExtractNotAZip(t *testing.T) {
	_, _, err := extractBytes(t, []byte("this is not a zip archive"), 0)
	if !errdefs.IsKind(err, errdefs.KindCorruptArchive) {
		t.Fatalf("err = %v, want CorruptArchive", err)
	}
}

func TestExtractTruncated(t *testing.T) {
	data := makeZip(t, map[string]string{"a.yaml": strings.Repeat("x: y\n", 100)})
	_, _, err := extractBytes(t, data[:len(data)-15], 0)
	if !errdefs.IsKind(err, errdefs.KindCorruptArchive) {
		t.Fatalf("err = %v, want CorruptArchive", err)
	}
}

func TestExtractCorruptEntry(t *testing.T) {
	// Flip bytes inside the compressed data stream so the central directory
	// still parses but the CRC check fails when the entry is read. The
	// content is pseudo-random so deflate cannot shrink it below the flipped
	// region.
	content := make([]byte, 600)
	seed := uint32(42)
	for i := range content {
		seed = seed*1664525 + 1013904223
		content[i] = byte(seed >> 24)
	}
	data := makeZip(t, map[string]string{"broken.yaml": string(content)})
	for i := 60; i < 70; i++ {
		data[i] ^= 0xff
	}
	_, _, err := extractBytes(t, data, 0)
	if !errdefs.IsKind(err, errdefs.KindCorruptArchive) {
		t.Fatalf("err = %v, want CorruptArchive", err)
	}
	if !strings.Contains(err.Error(), "broken.yaml") {
		t.Fatalf("error does not name the corrupted entry: %v", err)
	}
}

func TestExtractEncrypted(t *testing.T) {
	data := makeZip(t, map[string]string{"secret.yaml": "packageName: etcd\n"})
	// Set the encryption bit in both the local and central directory headers.
	for _, sig := range []struct {
		magic  string
		offset int
	}{
		{"PK\x03\x04", 6},
		{"PK\x01\x02", 8},
	} {
		idx := bytes.Index(data, []byte(sig.magic))
		if idx < 0 {
			t.Fatalf("signature %q not found", sig.magic)
		}
		data[idx+sig.offset] |= 0x1
	}
	_, _, err := extractBytes(t, data, 0)
	if !errdefs.IsKind(err, errdefs.KindEncryptedArchive) {
		t.Fatalf("err = %v, want EncryptedArchive", err)
	}
}

func TestExtractTooLarge(t *testing.T) {
	content := strings.Repeat("a", 1000)
	data := makeZip(t, map[string]string{"big.yaml": content})

	limit := int64(len(content)) - 1
	_, _, err := extractBytes(t, data, limit)
	if !errdefs.IsKind(err, errdefs.KindArchiveTooLarge) {
		t.Fatalf("err = %v, want ArchiveTooLarge", err)
	}
	// The message carries both the actual and the limit byte counts.
	wantCounts := fmt.Sprintf("%dB>%dB", len(content), limit)
	if !strings.Contains(err.Error(), wantCounts) {
		t.Fatalf("error message %q does not contain %q", err.Error(), wantCounts)
	}

	// Exactly at the limit is accepted.
	if _, _, err := extractBytes(t, data, int64(len(content))); err != nil {
		t.Fatalf("Extract at exact limit: %v", err)
	}
}

func TestExtractOversizedAndEncrypted(t *testing.T) {
	// The declared-size ceiling is checked before entry flags, so an archive
	// failing both reports ArchiveTooLarge.
	content := strings.Repeat("a", 1000)
	data := makeZip(t, map[string]string{"secret.yaml": content})
	for _, sig := range []struct {
		magic  string
		offset int
	}{
		{"PK\x03\x04", 6},
		{"PK\x01\x02", 8},
	} {
		idx := bytes.Index(data, []byte(sig.magic))
		if idx < 0 {
			t.Fatalf("signature %q not found", sig.magic)
		}
		data[idx+sig.offset] |= 0x1
	}

	_, _, err := extractBytes(t, data, int64(len(content))-1)
	if !errdefs.IsKind(err, errdefs.KindArchiveTooLarge) {
		t.Fatalf("err = %v, want ArchiveTooLarge", err)
	}
}

func TestExtractPathTraversal(t *testing.T) {
	for _, name := range []string{"../../etc/passthrough", "/etc/passthrough"} {
		t.Run(name, func(t *testing.T) {
			data := makeZip(t, map[string]string{name: "owned"})
			parent := t.TempDir()
			dest := filepath.Join(parent, "workspace")
			if err := os.Mkdir(dest, 0o755); err != nil {
				t.Fatal(err)
			}
			_, err := Extract(bytes.NewReader(data), int64(len(data)), dest, 0)
			if !errdefs.IsKind(err, errdefs.KindCorruptArchive) {
				t.Fatalf("err = %v, want CorruptArchive", err)
			}
			// Nothing may have landed outside the destination.
			if _, statErr := os.Stat(filepath.Join(parent, "etc", "passthrough")); statErr == nil {
				t.Fatal("entry escaped the extraction directory")
			}
		})
	}
}

func TestWorkspaceLifecycle(t *testing.T) {
	ws, err := NewWorkspace()
	if err != nil {
		t.Fatalf("NewWorkspace: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(ws.Dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"b.yaml", "a.yaml", "sub/c.yaml"} {
		if err := os.WriteFile(filepath.Join(ws.Dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	files, err := ws.Files()
	if err != nil {
		t.Fatalf("Files: %v", err)
	}
	want := []string{"a.yaml", "b.yaml", "sub/c.yaml"}
	for i := range want {
		if files[i] != want[i] {
			t.Fatalf("Files = %v, want %v", files, want)
		}
	}

	if err := ws.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(ws.Dir); !os.IsNotExist(err) {
		t.Fatal("workspace directory survived Close")
	}
}
