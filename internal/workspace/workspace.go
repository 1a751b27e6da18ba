// Package workspace builds and tears down the on-disk layout for a
// single session: an isolated home directory with shell rc files, a
// files directory for user work, and a lazily-provisioned Python
// virtualenv. Grounded on the Python service's TerminalSession
// directory/rc-file setup (home/files/venv split, .bashrc contents) and
// on the egg package's ConfigSnapshot write-if-different idiom, adapted
// here to a write-if-absent policy so a session restart never clobbers
// files the user has since edited.
package workspace

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/sessiond/sessiond/internal/logger"
)

// ReadyMarker is the file ProvisionVenv creates once the virtualenv is
// usable; WatchReady watches the venv directory with fsnotify for its
// Create event instead of polling.
const ReadyMarker = ".ready"

// Layout is the set of directories and paths that make up one session's
// isolated filesystem. id is the owning session's id, reused as both the
// workspace directory name and the HKDF salt for WebDAV credential
// derivation.
type Layout struct {
	ID       string
	Root     string // <storage>/<id>
	HomeDir  string // Root/home — becomes $HOME
	FilesDir string // Root/files — user-facing workspace
	VenvDir  string // Root/venv — provisioned lazily
}

// Create lays out a fresh workspace directory tree under storageDir/id
// and idempotently writes its rc files. Calling Create again for an
// existing id is safe: directories are created with MkdirAll and rc
// files are only written if absent.
func Create(storageDir, id string) (*Layout, error) {
	l := &Layout{
		ID:       id,
		Root:     filepath.Join(storageDir, id),
		HomeDir:  filepath.Join(storageDir, id, "home"),
		FilesDir: filepath.Join(storageDir, id, "files"),
		VenvDir:  filepath.Join(storageDir, id, "venv"),
	}

	for _, dir := range []string{l.HomeDir, l.FilesDir, filepath.Join(l.HomeDir, "bin")} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("workspace: mkdir %s: %w", dir, err)
		}
	}

	if err := l.writeRCFiles(id); err != nil {
		return nil, err
	}
	if err := l.writeFilesSeed(id); err != nil {
		return nil, err
	}

	return l, nil
}

// Env returns the environment variables a Session should start its
// shell with, layered over the parent process environment.
func (l *Layout) Env(id string) map[string]string {
	path := fmt.Sprintf("%s/bin:%s:%s/bin:/usr/local/bin:/usr/bin:/bin", l.HomeDir, l.FilesDir, l.VenvDir)
	return map[string]string{
		"HOME":            l.HomeDir,
		"PATH":            path,
		"EDITOR":          "nano",
		"VISUAL":          "nano",
		"PYTHONUSERBASE":  l.HomeDir,
		"SESSION_ID":      id,
		"SESSION_FILES":   l.FilesDir,
		"SESSION_VENV":    l.VenvDir,
	}
}

// writeIfAbsent writes content to path only if nothing exists there yet,
// so reconnecting to a long-lived session never overwrites rc files the
// user has since customized.
func writeIfAbsent(path string, content []byte, perm os.FileMode) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return os.WriteFile(path, content, perm)
}

func (l *Layout) writeRCFiles(id string) error {
	bashrc := fmt.Sprintf(`# sessiond shell configuration for session %s
export PS1="\[\033[01;32m\]sessiond\[\033[00m\]:\[\033[01;34m\]\w\[\033[00m\]\$ "
export EDITOR=nano
export VISUAL=nano
export HISTSIZE=5000
export HISTFILESIZE=10000
export HISTCONTROL=ignoreboth:erasedups
export SESSION_ID="%s"
export SESSION_FILES="%s"
export SESSION_VENV="%s"
export PYTHONUSERBASE="%s"
export PATH="%s/bin:%s:%s/bin:$PATH"

source "%s/bin/activate" 2>/dev/null || true

alias ll="ls -la"
alias py=python3
alias pip=pip3
alias myfiles="cd %s"

echo "session %s ready — files in %s"
`, id, id, l.FilesDir, l.VenvDir, l.HomeDir, l.HomeDir, l.FilesDir, l.VenvDir, l.VenvDir, l.FilesDir, id, l.FilesDir)

	bashProfile := "if [ -f ~/.bashrc ]; then\n\tsource ~/.bashrc\nfi\n"

	vimrc := "syntax on\nset autoindent\nset expandtab\nset number\nset tabstop=4\nset shiftwidth=4\nset ruler\nset hlsearch\n"

	tmuxConf := "set -g default-terminal \"screen-256color\"\nset -g history-limit 10000\nset -g base-index 1\n"

	inputrc := "set completion-ignore-case on\nset show-all-if-ambiguous on\n\"\\e[A\": history-search-backward\n\"\\e[B\": history-search-forward\n"

	files := map[string]string{
		".bashrc":       bashrc,
		".bash_profile": bashProfile,
		".vimrc":        vimrc,
		".tmux.conf":    tmuxConf,
		".inputrc":      inputrc,
	}
	for name, content := range files {
		if err := writeIfAbsent(filepath.Join(l.HomeDir, name), []byte(content), 0644); err != nil {
			return fmt.Errorf("workspace: write %s: %w", name, err)
		}
	}
	return writeIfAbsent(filepath.Join(l.HomeDir, ".bash_history"), nil, 0644)
}

func (l *Layout) writeFilesSeed(id string) error {
	readme := fmt.Sprintf(`Welcome to your workspace.

Session ID: %s
Files here persist for the life of the session and are only reachable
from this session's shell and WebDAV credentials.
`, id)
	example := `#!/usr/bin/env python3
def hello(name="world"):
    return f"hello, {name}!"

if __name__ == "__main__":
    print(hello())
`
	if err := writeIfAbsent(filepath.Join(l.FilesDir, "README.txt"), []byte(readme), 0644); err != nil {
		return err
	}
	return writeIfAbsent(filepath.Join(l.FilesDir, "example.py"), []byte(example), 0755)
}

// ProvisionVenv creates a Python virtualenv in the background and drops
// ReadyMarker once pip is usable. Safe to call on an already-provisioned
// workspace — it's a no-op if ReadyMarker already exists; if the venv
// already has a python3 binary but no marker, venv creation is skipped
// and only the pip upgrade and marker write run. Errors are logged, not
// returned: a session is still usable as
// a plain shell if venv creation fails (e.g. python3 missing).
func (l *Layout) ProvisionVenv() {
	marker := filepath.Join(l.VenvDir, ReadyMarker)
	if _, err := os.Stat(marker); err == nil {
		return
	}

	if _, err := exec.LookPath("python3"); err != nil {
		logger.Warn("workspace: python3 not found, skipping venv provisioning", "venv", l.VenvDir)
		return
	}

	if _, err := os.Stat(filepath.Join(l.VenvDir, "bin", "python3")); err != nil {
		cmd := exec.Command("python3", "-m", "venv", l.VenvDir)
		if out, err := cmd.CombinedOutput(); err != nil {
			logger.Warn("workspace: venv creation failed", "error", err, "output", string(out))
			return
		}
	}

	pip := filepath.Join(l.VenvDir, "bin", "pip")
	cmd := exec.Command(pip, "install", "--upgrade", "pip", "setuptools", "wheel")
	if out, err := cmd.CombinedOutput(); err != nil {
		logger.Warn("workspace: pip upgrade failed", "error", err, "output", string(out))
	}

	if err := os.WriteFile(marker, []byte(time.Now().UTC().Format(time.RFC3339)), 0644); err != nil {
		logger.Warn("workspace: write ready marker failed", "error", err)
	}
}

// WatchReady blocks (up to timeout) until ProvisionVenv's ready marker
// appears, using fsnotify instead of polling. Returns promptly if the
// marker already exists.
func WatchReady(venvDir string, timeout time.Duration) error {
	marker := filepath.Join(venvDir, ReadyMarker)
	if _, err := os.Stat(marker); err == nil {
		return nil
	}

	if err := os.MkdirAll(venvDir, 0755); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("workspace: new watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(venvDir); err != nil {
		return fmt.Errorf("workspace: watch %s: %w", venvDir, err)
	}

	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("workspace: watcher closed")
			}
			if ev.Name == marker && (ev.Op&fsnotify.Create == fsnotify.Create || ev.Op&fsnotify.Write == fsnotify.Write) {
				return nil
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("workspace: watcher closed")
			}
			logger.Warn("workspace: watcher error", "error", err)
		case <-deadline:
			return fmt.Errorf("workspace: venv not ready after %s", timeout)
		}
	}
}
