package bundle

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testCSV = `apiVersion: operators.coreos.com/v1alpha1
kind: ClusterServiceVersion
metadata:
  name: etcdoperator.v0.9.4
`

const testPackage = `packageName: etcd
channels:
- name: stable
  currentCSV: etcdoperator.v0.9.4
`

const testCRD = `apiVersion: apiextensions.k8s.io/v1
kind: CustomResourceDefinition
metadata:
  name: etcdclusters.etcd.database.coreos.com
`

func writeManifests(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestBuildAndVerify(t *testing.T) {
	dir := writeManifests(t, map[string]string{
		"etcd.package.yaml": testPackage,
		"etcd.csv.yaml":     testCSV,
		"etcd.crd.yaml":     testCRD,
		"readme.txt":        "not a manifest",
	})

	c := NewCourier("http://registry.invalid", time.Second)
	b, err := c.BuildAndVerify(context.Background(), dir)
	if err != nil {
		t.Fatalf("BuildAndVerify: %v", err)
	}
	if len(b.Packages) != 1 || len(b.ClusterServiceVersions) != 1 || len(b.CustomResourceDefinitions) != 1 {
		t.Fatalf("unexpected partition: %d/%d/%d",
			len(b.Packages), len(b.ClusterServiceVersions), len(b.CustomResourceDefinitions))
	}

	name, err := b.PackageName()
	if err != nil {
		t.Fatalf("PackageName: %v", err)
	}
	if name != "etcd" {
		t.Fatalf("PackageName = %q, want etcd", name)
	}
}

func TestBuildAndVerifyBadYAML(t *testing.T) {
	dir := writeManifests(t, map[string]string{
		"broken.yaml": "kind: [unclosed\n",
	})
	c := NewCourier("http://registry.invalid", time.Second)
	_, err := c.BuildAndVerify(context.Background(), dir)
	if !errors.Is(err, ErrBadYAML) {
		t.Fatalf("err = %v, want ErrBadYAML", err)
	}
}

func TestBuildAndVerifyBadBundle(t *testing.T) {
	dir := writeManifests(t, map[string]string{
		"etcd.csv.yaml": testCSV,
	})
	c := NewCourier("http://registry.invalid", time.Second)
	_, err := c.BuildAndVerify(context.Background(), dir)
	var bad *BadBundleError
	if !errors.As(err, &bad) {
		t.Fatalf("err = %v, want BadBundleError", err)
	}
	info, _ := bad.ValidationInfo["errors"].([]string)
	if len(info) == 0 || !strings.Contains(info[0], "no package") {
		t.Fatalf("ValidationInfo = %v", bad.ValidationInfo)
	}
}

func TestBuildVerifyAndPush(t *testing.T) {
	var gotPath, gotAuth string
	var gotPayload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotPayload)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	dir := writeManifests(t, map[string]string{
		"etcd.package.yaml": testPackage,
		"etcd.csv.yaml":     testCSV,
	})

	c := NewCourier(srv.URL, time.Second)
	err := c.BuildVerifyAndPush(context.Background(), "testorg", "etcd", "1.0.0", "basic dXNlcjpwdw==", dir)
	if err != nil {
		t.Fatalf("BuildVerifyAndPush: %v", err)
	}
	if gotPath != "/cnr/api/v1/packages/testorg/etcd" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotAuth != "basic dXNlcjpwdw==" {
		t.Fatalf("auth = %q", gotAuth)
	}
	if gotPayload["release"] != "1.0.0" || gotPayload["media_type"] != "helm" {
		t.Fatalf("payload = %v", gotPayload)
	}

	// The blob decodes to a tar.gz holding bundle.yaml with all sections.
	raw, err := base64.StdEncoding.DecodeString(gotPayload["blob"].(string))
	if err != nil {
		t.Fatalf("blob is not base64: %v", err)
	}
	gz, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("blob is not gzip: %v", err)
	}
	tr := tar.NewReader(gz)
	hdr, err := tr.Next()
	if err != nil {
		t.Fatalf("blob is not tar: %v", err)
	}
	if hdr.Name != "bundle.yaml" {
		t.Fatalf("archive entry = %q", hdr.Name)
	}
	content, _ := io.ReadAll(tr)
	for _, want := range []string{"packageName: etcd", "ClusterServiceVersion"} {
		if !strings.Contains(string(content), want) {
			t.Fatalf("bundle.yaml missing %q:\n%s", want, content)
		}
	}
}

func TestBuildVerifyAndPushRegistryError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"message":"wrong token"}}`))
	}))
	defer srv.Close()

	dir := writeManifests(t, map[string]string{
		"etcd.package.yaml": testPackage,
		"etcd.csv.yaml":     testCSV,
	})

	c := NewCourier(srv.URL, time.Second)
	err := c.BuildVerifyAndPush(context.Background(), "testorg", "etcd", "1.0.0", "t", dir)
	var re *RegistryError
	if !errors.As(err, &re) {
		t.Fatalf("err = %v, want RegistryError", err)
	}
	if re.StatusCode != http.StatusForbidden || !strings.Contains(re.Body, "wrong token") {
		t.Fatalf("RegistryError = %+v", re)
	}
}
