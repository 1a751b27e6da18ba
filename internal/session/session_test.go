package session

import (
	"context"
	"testing"
	"time"

	"github.com/sessiond/sessiond/internal/logger"
)

func init() {
	logger.Init("error", "")
}

func newTestSession(t *testing.T) *Session {
	t.Helper()
	s, err := New(Config{Shell: "/bin/sh", Home: t.TempDir(), Cols: 80, Rows: 24})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Terminate(ctx)
		s.Close()
	})
	waitRunning(t, s)
	return s
}

// waitRunning blocks until s has left StateStarting, so tests that
// immediately call Write/Resize don't race the reader's first poll.
func waitRunning(t *testing.T, s *Session) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.State() != StateStarting {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("session never left StateStarting")
}

func TestSession_WriteAndOutput(t *testing.T) {
	s := newTestSession(t)

	if err := s.Write([]byte("echo hi\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(s.Tail(1)) > 0 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("expected at least one replayed frame after writing input")
}

func TestSession_ResizeDoesNotTouchIdle(t *testing.T) {
	s := newTestSession(t)

	before := s.IdleDuration(time.Now())
	time.Sleep(10 * time.Millisecond)
	if err := s.Resize(100, 30); err != nil {
		t.Fatalf("Resize: %v", err)
	}
	after := s.IdleDuration(time.Now())
	if after < before {
		t.Fatalf("resize should not reset idle duration: before=%v after=%v", before, after)
	}
}

func TestSession_SubscribeReceivesRawBytes(t *testing.T) {
	s := newTestSession(t)
	id, ch := s.Subscribe()
	defer s.Unsubscribe(id)

	if err := s.Write([]byte("echo hi\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("expected output bytes on the subscriber channel")
	}
}

func TestSession_StartsInStartingThenTransitionsToRunning(t *testing.T) {
	s, err := New(Config{Shell: "/bin/sh", Home: t.TempDir(), Cols: 80, Rows: 24})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Terminate(ctx)
		s.Close()
	})

	waitRunning(t, s)
	if got := s.State(); got != StateRunning {
		t.Fatalf("state after first poll = %v, want %v", got, StateRunning)
	}
}

func TestSession_TerminateTransitionsState(t *testing.T) {
	s, err := New(Config{Shell: "/bin/sh", Home: t.TempDir(), Cols: 80, Rows: 24})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Terminate(ctx); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if got := s.State(); got != StateTerminated {
		t.Fatalf("state = %v, want %v", got, StateTerminated)
	}
	s.Close()
}

func TestSession_WriteAfterTerminateFails(t *testing.T) {
	s, err := New(Config{Shell: "/bin/sh", Home: t.TempDir(), Cols: 80, Rows: 24})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Terminate(ctx)
	s.Close()

	if err := s.Write([]byte("x")); err == nil {
		t.Fatal("expected write after terminate to fail")
	}
}
