package fileapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"github.com/sessiond/sessiond/internal/logger"
	"github.com/sessiond/sessiond/internal/registry"
)

func init() {
	logger.Init("error", "")
}

func newTestServer(t *testing.T) (*httptest.Server, *registry.Registry, string) {
	t.Helper()
	reg := registry.New(registry.Options{
		StorageDir:   t.TempDir(),
		Shell:        "/bin/sh",
		IdleTimeout:  time.Hour,
		ReapInterval: time.Hour,
	})
	t.Cleanup(func() {
		reg.Shutdown(t.Context())
	})

	sess, err := reg.Create(registry.CreateOptions{Cols: 80, Rows: 24})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	r := mux.NewRouter()
	New(reg).Register(r)
	return httptest.NewServer(r), reg, sess.ID
}

func TestHandleCreateAndReadFile(t *testing.T) {
	srv, _, id := newTestServer(t)
	defer srv.Close()

	body, _ := json.Marshal(writeRequest{Path: "notes.txt", Content: "hello"})
	resp, err := http.Post(srv.URL+"/sessions/"+id+"/files", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}

	get, err := http.Get(srv.URL + "/sessions/" + id + "/files?path=notes.txt")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer get.Body.Close()
	if get.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", get.StatusCode)
	}
}

func TestHandleCreateDirectory(t *testing.T) {
	srv, reg, id := newTestServer(t)
	defer srv.Close()

	body, _ := json.Marshal(writeRequest{Path: "sub", IsDirectory: true})
	resp, err := http.Post(srv.URL+"/sessions/"+id+"/files", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}

	l, err := reg.Layout(id)
	if err != nil {
		t.Fatalf("Layout: %v", err)
	}
	if info, err := os.Stat(filepath.Join(l.FilesDir, "sub")); err != nil || !info.IsDir() {
		t.Fatalf("expected sub directory to exist: %v", err)
	}
}

func TestHandlePathEscapeRejected(t *testing.T) {
	srv, _, id := newTestServer(t)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/sessions/" + id + "/files?path=../../etc/passwd")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHandleDeleteRequiresRecursiveForNonEmptyDir(t *testing.T) {
	srv, reg, id := newTestServer(t)
	defer srv.Close()

	l, err := reg.Layout(id)
	if err != nil {
		t.Fatalf("Layout: %v", err)
	}
	dir := filepath.Join(l.FilesDir, "pkg")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "f.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/sessions/"+id+"/files?path=pkg", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		t.Fatal("expected non-recursive delete of a non-empty directory to fail")
	}
	if _, err := os.Stat(dir); err != nil {
		t.Fatal("directory should still exist after failed non-recursive delete")
	}

	req2, _ := http.NewRequest(http.MethodDelete, srv.URL+"/sessions/"+id+"/files?path=pkg&recursive=true", nil)
	resp2, err := http.DefaultClient.Do(req2)
	if err != nil {
		t.Fatalf("DELETE recursive: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp2.StatusCode)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatal("expected directory to be removed")
	}
}
