// Package pkgapi exposes pip list/install/uninstall scoped to a
// session's own virtualenv. Grounded on the Python service's
// _create_virtual_environment pip bootstrap, adapted to a restricted
// package-name grammar so the endpoint can't be used to smuggle
// arbitrary shell arguments to pip.
package pkgapi

import (
	"context"
	"encoding/json"
	"net/http"
	"os/exec"
	"regexp"
	"time"

	"github.com/gorilla/mux"

	"github.com/sessiond/sessiond/internal/apierr"
	"github.com/sessiond/sessiond/internal/registry"
)

// installTimeout bounds how long a single pip invocation may run.
const installTimeout = 30 * time.Second

// packageNamePattern restricts install/uninstall targets to the
// characters [A-Za-z0-9._-], starting with a letter or digit, so no shell
// metacharacters ever reach exec.Command. Version specifiers are not accepted.
var packageNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// API wires a Registry to pip management HTTP handlers.
type API struct {
	reg *registry.Registry
}

// New creates a package API over the given Registry.
func New(reg *registry.Registry) *API {
	return &API{reg: reg}
}

// Register adds the package routes to r, rooted at /sessions/{id}/packages.
func (a *API) Register(r *mux.Router) {
	r.HandleFunc("/sessions/{id}/packages", a.handleList).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{id}/packages", a.handleInstall).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}/packages/{name}", a.handleUninstall).Methods(http.MethodDelete)
}

type installRequest struct {
	Name string `json:"name"`
}

type pkgResult struct {
	Output string `json:"output"`
}

func (a *API) handleList(w http.ResponseWriter, r *http.Request) {
	l, err := a.reg.Layout(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	out, err := a.runPip(r.Context(), l.VenvDir, "list", "--format=json")
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(out)
}

func (a *API) handleInstall(w http.ResponseWriter, r *http.Request) {
	l, err := a.reg.Layout(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	var req installRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !packageNamePattern.MatchString(req.Name) {
		writeError(w, apierr.ErrBadRequest)
		return
	}
	out, err := a.runPip(r.Context(), l.VenvDir, "install", req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pkgResult{Output: string(out)})
}

func (a *API) handleUninstall(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	l, err := a.reg.Layout(vars["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	name := vars["name"]
	if !packageNamePattern.MatchString(name) {
		writeError(w, apierr.ErrBadRequest)
		return
	}
	out, err := a.runPip(r.Context(), l.VenvDir, "uninstall", "-y", name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pkgResult{Output: string(out)})
}

func (a *API) runPip(ctx context.Context, venvDir string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, installTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, venvDir+"/bin/pip", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return out, err
	}
	return out, nil
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
