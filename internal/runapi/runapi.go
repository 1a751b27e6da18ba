// Package runapi executes a submitted script inside a session's own
// venv and files directory and, once it finishes, returns its combined
// output and exit code.
// Grounded on the Python service's subprocess.run usage for venv
// bootstrap, applied here to arbitrary user scripts with a hard timeout
// so a runaway script can't pin the daemon indefinitely.
package runapi

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/exec"
	"time"

	"github.com/gorilla/mux"

	"github.com/sessiond/sessiond/internal/apierr"
	"github.com/sessiond/sessiond/internal/registry"
)

// runTimeout bounds how long a submitted script may run.
const runTimeout = 30 * time.Second

// API wires a Registry to the code-run HTTP handler.
type API struct {
	reg *registry.Registry
}

// New creates a run API over the given Registry.
func New(reg *registry.Registry) *API {
	return &API{reg: reg}
}

// Register adds the run route to r at POST /sessions/{id}/run.
func (a *API) Register(r *mux.Router) {
	r.HandleFunc("/sessions/{id}/run", a.handleRun).Methods(http.MethodPost)
}

type runRequest struct {
	Code string `json:"code"`
}

type runResult struct {
	Output   string `json:"output"`
	ExitCode int    `json:"exit_code"`
}

func (a *API) handleRun(w http.ResponseWriter, r *http.Request) {
	l, err := a.reg.Layout(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		writeError(w, apierr.ErrBadRequest)
		return
	}

	script, err := os.CreateTemp(l.FilesDir, ".run-*.py")
	if err != nil {
		writeError(w, err)
		return
	}
	defer os.Remove(script.Name())
	if _, err := script.WriteString(req.Code); err != nil {
		script.Close()
		writeError(w, err)
		return
	}
	script.Close()

	python := l.VenvDir + "/bin/python3"
	if _, err := os.Stat(python); err != nil {
		python = "python3"
	}

	ctx, cancel := context.WithTimeout(r.Context(), runTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, python, script.Name())
	cmd.Dir = l.FilesDir
	out, runErr := cmd.CombinedOutput()

	exitCode := 0
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	writeJSON(w, http.StatusOK, runResult{Output: string(out), ExitCode: exitCode})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := apierr.StatusCode(err)
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
