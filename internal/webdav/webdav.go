// Package webdav bridges a session's files directory onto the WebDAV
// protocol so desktop file managers and editors can mount it directly,
// protected by a per-session Basic-Auth credential derived with HKDF
// rather than stored anywhere. Grounded on the auth package's X25519
// ECDH + HKDF-SHA256 key derivation pattern, narrowed to a single HKDF
// derivation over a server-wide secret since there's no per-request
// key exchange here — the secret never leaves the process.
package webdav

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"golang.org/x/crypto/hkdf"
	xwebdav "golang.org/x/net/webdav"

	"github.com/sessiond/sessiond/internal/apierr"
	"github.com/sessiond/sessiond/internal/registry"
)

// Bridge mounts a WebDAV handler per session, gated by a credential
// derived from a server-wide secret. If secretKey is empty the bridge
// answers 503 to every request — it is an opt-in feature.
type Bridge struct {
	reg       *registry.Registry
	secretKey []byte
}

// New creates a Bridge. secretKey may be empty to disable WebDAV entirely.
func New(reg *registry.Registry, secretKey string) *Bridge {
	return &Bridge{reg: reg, secretKey: []byte(secretKey)}
}

// Register adds the WebDAV route to r at /sessions/{id}/webdav/.
func (b *Bridge) Register(r *mux.Router) {
	r.PathPrefix("/sessions/{id}/webdav/").HandlerFunc(b.handle)
}

// Credential returns the Basic-Auth username/password a client should
// use to mount session id's WebDAV share.
func (b *Bridge) Credential(id string) (user, pass string, err error) {
	if len(b.secretKey) == 0 {
		return "", "", fmt.Errorf("webdav: %w: bridge disabled, no SECRET_KEY configured", apierr.ErrBadRequest)
	}
	key, err := derive(b.secretKey, id)
	if err != nil {
		return "", "", err
	}
	return id, hex.EncodeToString(key), nil
}

func (b *Bridge) handle(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if len(b.secretKey) == 0 {
		http.Error(w, "webdav bridge disabled", http.StatusServiceUnavailable)
		return
	}

	l, err := b.reg.Layout(id)
	if err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	wantUser, wantPass, err := b.Credential(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	gotUser, gotPass, ok := r.BasicAuth()
	if !ok || !constantTimeEqual(gotUser, wantUser) || !constantTimeEqual(gotPass, wantPass) {
		w.Header().Set("WWW-Authenticate", `Basic realm="sessiond"`)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	prefix := fmt.Sprintf("/sessions/%s/webdav", id)
	handler := &xwebdav.Handler{
		Prefix:     prefix,
		FileSystem: xwebdav.Dir(l.FilesDir),
		LockSystem: xwebdav.NewMemLS(),
	}
	handler.ServeHTTP(w, r)
}

// derive expands secretKey into a 32-byte key bound to the session id,
// so compromising one session's WebDAV password reveals nothing about
// another session's.
func derive(secretKey []byte, id string) ([]byte, error) {
	kdf := hkdf.New(sha256.New, secretKey, []byte(id), []byte("sessiond-webdav"))
	key := make([]byte, 32)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("webdav: derive key: %w", err)
	}
	return key, nil
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
