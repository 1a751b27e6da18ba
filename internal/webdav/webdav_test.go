package webdav

import (
	"testing"

	"github.com/sessiond/sessiond/internal/registry"
)

func TestCredential_DisabledWithoutSecret(t *testing.T) {
	b := New(&registry.Registry{}, "")
	if _, _, err := b.Credential("abc"); err == nil {
		t.Fatal("expected error when SECRET_KEY is empty")
	}
}

func TestCredential_DeterministicPerSession(t *testing.T) {
	b := New(&registry.Registry{}, "top-secret")

	_, pass1, err := b.Credential("session-a")
	if err != nil {
		t.Fatalf("Credential: %v", err)
	}
	_, pass2, err := b.Credential("session-a")
	if err != nil {
		t.Fatalf("Credential: %v", err)
	}
	if pass1 != pass2 {
		t.Fatal("expected deterministic credential for the same session id")
	}

	_, pass3, err := b.Credential("session-b")
	if err != nil {
		t.Fatalf("Credential: %v", err)
	}
	if pass1 == pass3 {
		t.Fatal("expected distinct credentials for distinct sessions")
	}
}
