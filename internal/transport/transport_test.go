package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sessiond/sessiond/internal/logger"
	"github.com/sessiond/sessiond/internal/registry"
)

func init() {
	logger.Init("error", "")
}

func newTestTransport(t *testing.T) (*Transport, *registry.Registry) {
	t.Helper()
	reg := registry.New(registry.Options{
		StorageDir:   t.TempDir(),
		Shell:        "/bin/sh",
		IdleTimeout:  time.Hour,
		ReapInterval: time.Hour,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		reg.Shutdown(ctx)
	})
	return New(reg), reg
}

func TestHandleCreateAndGet(t *testing.T) {
	tr, _ := newTestTransport(t)
	srv := httptest.NewServer(tr.Router())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/terminal/sessions", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /api/terminal/sessions: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	var created sessionView
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected non-empty session id")
	}
	if created.Cwd == "" || created.Shell == "" {
		t.Fatalf("expected cwd and shell in summary, got %+v", created)
	}
	if !created.Active {
		t.Fatal("expected newly created session to be active")
	}

	resp2, err := http.Get(srv.URL + "/api/terminal/sessions/" + created.ID)
	if err != nil {
		t.Fatalf("GET /api/terminal/sessions/{id}: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp2.StatusCode)
	}
}

func TestHandleList(t *testing.T) {
	tr, reg := newTestTransport(t)
	srv := httptest.NewServer(tr.Router())
	defer srv.Close()

	if _, err := reg.Create(registry.CreateOptions{Cols: 80, Rows: 24}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	resp, err := http.Get(srv.URL + "/api/terminal/sessions")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	var body sessionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Sessions) != 1 {
		t.Fatalf("sessions len = %d, want 1", len(body.Sessions))
	}
}

func TestHandleGetMissingReturns404(t *testing.T) {
	tr, _ := newTestTransport(t)
	srv := httptest.NewServer(tr.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/terminal/sessions/nonexistent")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestHandleResize(t *testing.T) {
	tr, reg := newTestTransport(t)
	srv := httptest.NewServer(tr.Router())
	defer srv.Close()

	sess, err := reg.Create(registry.CreateOptions{Cols: 80, Rows: 24})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	body := []byte(`{"cols":132,"rows":40}`)
	deadline := time.Now().Add(2 * time.Second)
	var resp *http.Response
	for time.Now().Before(deadline) {
		resp, err = http.Post(srv.URL+"/api/terminal/sessions/"+sess.ID+"/size", "application/json", bytes.NewReader(body))
		if err != nil {
			t.Fatalf("POST size: %v", err)
		}
		if resp.StatusCode == http.StatusOK {
			break
		}
		resp.Body.Close()
		time.Sleep(10 * time.Millisecond)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var got statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Status != "success" {
		t.Fatalf("status body = %q, want success", got.Status)
	}
}

func TestHandleTerminate(t *testing.T) {
	tr, reg := newTestTransport(t)
	srv := httptest.NewServer(tr.Router())
	defer srv.Close()

	sess, err := reg.Create(registry.CreateOptions{Cols: 80, Rows: 24})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/terminal/sessions/"+sess.ID, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var got statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Status != "success" {
		t.Fatalf("status body = %q, want success", got.Status)
	}

	if _, err := reg.Get(sess.ID); err == nil {
		t.Fatal("expected session to be gone")
	}
}

func TestHandleCleanup(t *testing.T) {
	tr, _ := newTestTransport(t)
	srv := httptest.NewServer(tr.Router())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/maintenance/cleanup", "application/json", nil)
	if err != nil {
		t.Fatalf("POST cleanup: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var got cleanupResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestHandleHealthz(t *testing.T) {
	tr, _ := newTestTransport(t)
	srv := httptest.NewServer(tr.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}
