// Package registry tracks every live Session, assigns each one a
// workspace directory, and runs the background sweep that reaps idle
// sessions and cleans up orphaned session directories left behind by a
// process crash. Grounded on the daemon's SweepDead ticker loop and the
// Python service's paired _cleanup_inactive_sessions /
// _cleanup_orphaned_session_directories threads, merged into one ticker
// goroutine so both jobs in a pass see the same set of live sessions.
package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sessiond/sessiond/internal/apierr"
	"github.com/sessiond/sessiond/internal/logger"
	"github.com/sessiond/sessiond/internal/session"
	"github.com/sessiond/sessiond/internal/workspace"
)

// Registry owns the set of live sessions and their on-disk workspaces.
type Registry struct {
	storageDir   string
	shell        string
	idleTimeout  time.Duration
	reapInterval time.Duration

	mu       sync.RWMutex
	sessions map[string]*session.Session
	layouts  map[string]*workspace.Layout

	stop chan struct{}
	wg   sync.WaitGroup
}

// Options configures a new Registry.
type Options struct {
	StorageDir   string
	Shell        string
	IdleTimeout  time.Duration
	ReapInterval time.Duration
}

// CreateOptions overrides the registry defaults for a single new session.
type CreateOptions struct {
	Shell string            // overrides Options.Shell if set
	Cwd   string            // overrides the <workspace>/files default if set
	Cols  int
	Rows  int
	Env   map[string]string // merged over the workspace's own env
}

// New creates a Registry and starts its background sweep goroutine.
func New(opts Options) *Registry {
	r := &Registry{
		storageDir:   opts.StorageDir,
		shell:        opts.Shell,
		idleTimeout:  opts.IdleTimeout,
		reapInterval: opts.ReapInterval,
		sessions:     make(map[string]*session.Session),
		layouts:      make(map[string]*workspace.Layout),
		stop:         make(chan struct{}),
	}
	r.wg.Add(1)
	go r.sweepLoop()
	return r
}

// Create provisions a new workspace and starts a Session inside it. The
// session id doubles as its workspace directory name, so Terminate can
// tear down both with the same key. cwd defaults to the workspace's
// files directory, distinct from $HOME, per the data model.
func (r *Registry) Create(opts CreateOptions) (*session.Session, error) {
	id := uuid.NewString()

	ws, err := workspace.Create(r.storageDir, id)
	if err != nil {
		return nil, fmt.Errorf("registry: %w: %v", apierr.ErrWorkspaceSetupFailed, err)
	}

	shell := opts.Shell
	if shell == "" {
		shell = r.shell
	}
	cwd := opts.Cwd
	if cwd == "" {
		cwd = ws.FilesDir
	}
	env := ws.Env(id)
	for k, v := range opts.Env {
		env[k] = v
	}

	sess, err := session.New(session.Config{
		ID:    id,
		Shell: shell,
		Home:  ws.HomeDir,
		Cwd:   cwd,
		Cols:  opts.Cols,
		Rows:  opts.Rows,
		Env:   env,
	})
	if err != nil {
		os.RemoveAll(ws.Root)
		return nil, err
	}

	r.mu.Lock()
	r.sessions[sess.ID] = sess
	r.layouts[sess.ID] = ws
	r.mu.Unlock()

	go ws.ProvisionVenv()

	logger.Info("session created", "id", sess.ID)
	return sess, nil
}

// Layout returns the workspace layout for a live session, or
// apierr.ErrNotFound.
func (r *Registry) Layout(id string) (*workspace.Layout, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.layouts[id]
	if !ok {
		return nil, fmt.Errorf("registry: layout %q: %w", id, apierr.ErrNotFound)
	}
	return l, nil
}

// Get returns the session with the given id, or apierr.ErrNotFound.
func (r *Registry) Get(id string) (*session.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("registry: session %q: %w", id, apierr.ErrNotFound)
	}
	return s, nil
}

// List returns every tracked session.
func (r *Registry) List() []*session.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*session.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Terminate stops a session, removes it from the registry, and tears
// down its workspace directory.
func (r *Registry) Terminate(ctx context.Context, id string) error {
	s, err := r.Get(id)
	if err != nil {
		return err
	}
	if err := s.Terminate(ctx); err != nil {
		return err
	}
	s.Close()

	r.mu.Lock()
	delete(r.sessions, id)
	delete(r.layouts, id)
	r.mu.Unlock()

	return os.RemoveAll(filepath.Join(r.storageDir, id))
}

// Shutdown stops the sweep goroutine and terminates every live session.
func (r *Registry) Shutdown(ctx context.Context) {
	close(r.stop)
	r.wg.Wait()

	for _, s := range r.List() {
		r.Terminate(ctx, s.ID)
	}
}

// Cleanup runs one reaper+sweeper pass immediately, outside the regular
// sweep cadence, and reports how much it cleaned up. Backs the
// maintenance HTTP endpoint.
func (r *Registry) Cleanup() (sessionsReaped, orphanedDirectoriesCleaned int) {
	sessionsReaped = r.reapIdle()
	orphanedDirectoriesCleaned = r.sweepOrphans()
	return sessionsReaped, orphanedDirectoriesCleaned
}

func (r *Registry) sweepLoop() {
	defer r.wg.Done()
	t := time.NewTicker(r.reapInterval)
	defer t.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-t.C:
			r.reapIdle()
			r.sweepOrphans()
		}
	}
}

// reapIdle terminates every session that has exceeded the configured
// idle timeout, removes already-terminated sessions from the map, and
// reports how many sessions it reaped for being idle.
func (r *Registry) reapIdle() int {
	now := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	reaped := 0
	for _, s := range r.List() {
		if s.State() == session.StateTerminated {
			r.mu.Lock()
			delete(r.sessions, s.ID)
			delete(r.layouts, s.ID)
			r.mu.Unlock()
			continue
		}
		if s.IdleDuration(now) >= r.idleTimeout {
			logger.Info("reaping idle session", "id", s.ID, "idle", s.IdleDuration(now))
			if err := r.Terminate(ctx, s.ID); err != nil {
				logger.Warn("idle reap failed", "id", s.ID, "error", err)
				continue
			}
			reaped++
		}
	}
	return reaped
}

// sweepOrphans removes session directories on disk that have no
// corresponding live Session and whose mtime age exceeds idleTimeout,
// left behind by a prior process crash. Reports how many it removed.
func (r *Registry) sweepOrphans() int {
	entries, err := os.ReadDir(r.storageDir)
	if err != nil {
		return 0
	}

	r.mu.RLock()
	live := make(map[string]struct{}, len(r.sessions))
	for id := range r.sessions {
		live[id] = struct{}{}
	}
	r.mu.RUnlock()

	removed := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, ok := live[e.Name()]; ok {
			continue
		}
		info, err := e.Info()
		if err != nil || time.Since(info.ModTime()) < r.idleTimeout {
			continue
		}
		path := filepath.Join(r.storageDir, e.Name())
		logger.Info("sweeping orphaned session directory", "path", path)
		if err := os.RemoveAll(path); err == nil {
			removed++
		}
	}
	return removed
}
