// Package session implements a single sandboxed interactive shell: a PTY
// process, the screen emulator and ring buffer fed from its output, and
// the fan-out to whatever WebSocket subscribers are currently attached.
// Grounded on the egg package's RunSession/readPTY/shutdown trio —
// narrowed from a gRPC-streamed AI-agent wrapper to a plain HTTP/WS shell
// session, with the replay buffer swapped for a rendered-frame ring per
// the screen/ring split this design uses.
package session

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/google/uuid"

	"github.com/sessiond/sessiond/internal/apierr"
	"github.com/sessiond/sessiond/internal/logger"
	"github.com/sessiond/sessiond/internal/ring"
	"github.com/sessiond/sessiond/internal/screen"
)

// State is a Session's position in its lifecycle.
type State int

const (
	StateStarting State = iota
	StateRunning
	StateTerminating
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateTerminating:
		return "terminating"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// killGrace is how long Terminate waits after SIGTERM before SIGKILL.
const killGrace = 3 * time.Second

// subscriberQueueLen bounds a subscriber's pending-output channel; once
// full, new bytes are dropped for that subscriber rather than blocking
// the PTY reader loop.
const subscriberQueueLen = 64

// Config describes how to start a new Session.
type Config struct {
	ID       string // if empty, a uuid is generated
	Shell    string
	Home     string // session home directory, becomes $HOME
	Cwd      string // initial working directory; defaults to Home if empty
	Cols     int
	Rows     int
	RingSize int // 0 uses ring.DefaultCapacity
	Env      map[string]string
}

// Session owns one PTY-backed shell process.
type Session struct {
	ID        string
	CreatedAt time.Time
	Shell     string
	Cwd       string
	PID       int

	mu         sync.Mutex
	state      State
	cmd        *exec.Cmd
	ptmx       *os.File
	emu        *screen.Emulator
	buf        *ring.Buffer
	cols, rows int
	lastInput  time.Time
	lastOutput time.Time
	exitCode   int
	done       chan struct{}

	subMu   sync.Mutex
	subs    map[int]chan []byte
	nextSub int
}

// New spawns a shell in a PTY and begins the reader loop. The returned
// Session starts in StateStarting and transitions to StateRunning once
// the reader completes its first successful poll of the PTY.
func New(cfg Config) (*Session, error) {
	shell := cfg.Shell
	if shell == "" {
		shell = "/bin/bash"
	}
	cols, rows := cfg.Cols, cfg.Rows
	if cols <= 0 {
		cols = 80
	}
	if rows <= 0 {
		rows = 24
	}
	cwd := cfg.Cwd
	if cwd == "" {
		cwd = cfg.Home
	}

	cmd := exec.Command(shell)
	cmd.Dir = cwd

	env := os.Environ()
	env = append(env, "HOME="+cfg.Home, "TERM=xterm-256color")
	for k, v := range cfg.Env {
		env = append(env, k+"="+v)
	}
	cmd.Env = env
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = killGrace

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
	if err != nil {
		return nil, fmt.Errorf("session: start pty: %w: %v", apierr.ErrSpawnFailed, err)
	}

	id := cfg.ID
	if id == "" {
		id = uuid.NewString()
	}

	now := time.Now()
	sess := &Session{
		ID:         id,
		CreatedAt:  now,
		Shell:      shell,
		Cwd:        cwd,
		PID:        cmd.Process.Pid,
		state:      StateStarting,
		cmd:        cmd,
		ptmx:       ptmx,
		emu:        screen.New(rows, cols),
		buf:        ring.New(cfg.RingSize),
		cols:       cols,
		rows:       rows,
		lastInput:  now,
		lastOutput: now,
		done:       make(chan struct{}),
		subs:       make(map[int]chan []byte),
	}

	go sess.readLoop()
	go sess.waitLoop()

	return sess, nil
}

// readLoop copies PTY output into the emulator, renders a frame for
// replay, and fans the raw bytes out to subscribers. It exits when the
// PTY is closed (process exit or Terminate). The first successful read
// transitions the Session from Starting to Running.
func (s *Session) readLoop() {
	buf := make([]byte, 1024)
	polled := false
	for {
		n, err := s.ptmx.Read(buf)
		if err == nil && !polled {
			polled = true
			s.mu.Lock()
			if s.state == StateStarting {
				s.state = StateRunning
			}
			s.mu.Unlock()
		}
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])

			s.mu.Lock()
			s.emu.Feed(data)
			s.lastOutput = time.Now()
			frame := ring.Frame{Lines: s.emu.Display(), At: s.lastOutput}
			s.buf.Push(frame)
			s.mu.Unlock()

			s.broadcast(data)
		}
		if err != nil {
			return
		}
	}
}

// waitLoop reaps the child process and transitions the Session to
// StateTerminated once it exits, however that happened.
func (s *Session) waitLoop() {
	err := s.cmd.Wait()
	code := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		} else {
			code = 1
		}
	}

	s.mu.Lock()
	s.exitCode = code
	s.state = StateTerminated
	s.mu.Unlock()

	s.ptmx.Close()
	close(s.done)
	logger.Info("session exited", "id", s.ID, "code", code)

	s.subMu.Lock()
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
	s.subMu.Unlock()
}

// Write sends client keystrokes to the PTY and marks the session active.
func (s *Session) Write(p []byte) error {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return fmt.Errorf("session: write: %w", apierr.ErrNotActive)
	}
	s.lastInput = time.Now()
	s.mu.Unlock()

	_, err := s.ptmx.Write(p)
	return err
}

// Resize reflows the emulator first, then the PTY window; if the PTY
// resize fails, the emulator is rolled back to its previous dimensions.
// Per design, a resize does not count as activity — it does not refresh
// idle accounting.
func (s *Session) Resize(cols, rows int) error {
	if cols <= 0 || rows <= 0 {
		return fmt.Errorf("session: resize: %w: cols and rows must be positive", apierr.ErrBadRequest)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning {
		return fmt.Errorf("session: resize: %w", apierr.ErrNotActive)
	}

	prevCols, prevRows := s.cols, s.rows
	s.emu.Resize(rows, cols)

	if err := pty.Setsize(s.ptmx, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)}); err != nil {
		s.emu.Resize(prevRows, prevCols)
		return fmt.Errorf("session: resize: %w: %v", apierr.ErrNotActive, err)
	}
	s.cols, s.rows = cols, rows
	return nil
}

// Subscribe registers a new fan-out channel of raw PTY output bytes and
// returns it along with an id to later Unsubscribe. The channel is
// closed when the session ends.
func (s *Session) Subscribe() (int, <-chan []byte) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextSub
	s.nextSub++
	ch := make(chan []byte, subscriberQueueLen)
	s.subs[id] = ch
	return id, ch
}

// Unsubscribe removes a fan-out channel registered via Subscribe.
func (s *Session) Unsubscribe(id int) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if ch, ok := s.subs[id]; ok {
		delete(s.subs, id)
		close(ch)
	}
}

// broadcast pushes raw output bytes to every subscriber, within a single
// PTY read all subscribers see the same payload in the same order; a
// subscriber whose queue is currently full has this frame dropped rather
// than blocking the PTY reader on a slow WebSocket client.
func (s *Session) broadcast(data []byte) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for id, ch := range s.subs {
		select {
		case ch <- data:
		default:
			logger.Warn("dropping output for slow subscriber", "session", s.ID, "subscriber", id)
		}
	}
}

// Tail returns the last n replayed frames, oldest first.
func (s *Session) Tail(n int) []ring.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Tail(n)
}

// Display returns the current visible grid.
func (s *Session) Display() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.emu.Display()
}

// IdleDuration reports how long it has been since either side of the PTY
// last produced activity, taking the more recent of input and output.
func (s *Session) IdleDuration(now time.Time) time.Duration {
	return now.Sub(s.LastActivity())
}

// LastActivity returns the more recent of the last accepted write and the
// last non-empty read.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	last := s.lastInput
	if s.lastOutput.After(last) {
		last = s.lastOutput
	}
	return last
}

// State reports the Session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Active reports whether the session has not yet terminated.
func (s *Session) Active() bool {
	return s.State() != StateTerminated
}

// Dimensions reports the current PTY size.
func (s *Session) Dimensions() (cols, rows int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cols, s.rows
}

// Terminate signals the shell process to exit, escalating to SIGKILL if
// it hasn't exited within the grace window. It blocks until the process
// has actually exited, unless ctx ends first: then it sends SIGKILL and
// returns ctx's error without waiting for the exit. Terminate is
// idempotent.
func (s *Session) Terminate(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateTerminated {
		s.mu.Unlock()
		return nil
	}
	s.state = StateTerminating
	proc := s.cmd.Process
	s.mu.Unlock()

	if proc == nil {
		return nil
	}
	proc.Signal(syscall.SIGTERM)

	select {
	case <-s.done:
		return nil
	case <-time.After(killGrace):
	case <-ctx.Done():
		proc.Kill()
		return ctx.Err()
	}

	if err := proc.Signal(syscall.Signal(0)); err == nil {
		proc.Kill()
	}
	<-s.done
	return nil
}

// Close releases the emulator and replay resources. Call after Terminate
// or after observing StateTerminated.
func (s *Session) Close() error {
	return s.emu.Close()
}
