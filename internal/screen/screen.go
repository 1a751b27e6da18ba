// Package screen implements the ScreenEmulator component: a virtual
// terminal of (rows x cols) cells fed by PTY output bytes, producing a
// grid of display lines. Grounded on the egg package's VTerm wrapper
// around charmbracelet/x/vt, narrowed to the three operations the spec
// calls for (feed/display/resize) — the ANSI-preserving scrollback and
// reconnect-snapshot concerns that VTerm also handles belong to the
// ring buffer and Session in this design, not to the emulator itself.
package screen

import (
	"strings"
	"sync"

	uv "github.com/charmbracelet/ultraviolet"
	"github.com/charmbracelet/x/vt"
)

// Emulator wraps a charmbracelet/x/vt virtual terminal. All methods are
// safe for concurrent use; the Session that owns one only ever calls it
// from its single PTY reader goroutine plus occasional Resize calls
// under the Session lock, but the internal lock keeps Display() safe to
// call from a status/debug path too.
type Emulator struct {
	mu   sync.Mutex
	emu  *vt.Emulator
	rows int
	cols int
}

// New creates an Emulator with the given dimensions.
func New(rows, cols int) *Emulator {
	e := &Emulator{
		emu:  vt.NewEmulator(cols, rows),
		rows: rows,
		cols: cols,
	}
	// Callbacks are required by the underlying emulator even though this
	// narrower wrapper has no scrollback of its own to maintain; the ring
	// buffer is fed from outside (Session.readLoop), not from here.
	e.emu.SetCallbacks(vt.Callbacks{
		ScrollOut:       func(_ []uv.Line) {},
		ScrollbackClear: func() {},
		AltScreen:       func(_ bool) {},
		CursorVisibility: func(_ bool) {},
	})
	return e
}

// Feed advances the decoder with newly read PTY bytes. Malformed UTF-8
// is handled by the underlying emulator the same way a real terminal
// tolerates it — replacement, not failure.
func (e *Emulator) Feed(b []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.emu.Write(b)
}

// Display returns a snapshot of the visible cells, one string per row.
func (e *Emulator) Display() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return renderLines(e.emu.Render(), e.rows)
}

// Resize reflows the grid to the new dimensions; content outside the new
// bounds is dropped by the underlying emulator.
func (e *Emulator) Resize(rows, cols int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.emu.Resize(cols, rows)
	e.rows = rows
	e.cols = cols
}

// Close releases emulator resources.
func (e *Emulator) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.emu.Close()
}

// renderLines splits the emulator's full-grid render into exactly `rows`
// lines, padding with empty rows if the render produced fewer (e.g. a
// freshly resized, still-blank screen) and truncating any excess.
func renderLines(rendered string, rows int) []string {
	rendered = strings.ReplaceAll(rendered, "\r\n", "\n")
	lines := strings.Split(rendered, "\n")
	out := make([]string, rows)
	for i := 0; i < rows; i++ {
		if i < len(lines) {
			out[i] = lines[i]
		}
	}
	return out
}
