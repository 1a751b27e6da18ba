// Package fileapi exposes read/write/list/delete over a session's files
// directory, every path resolved through pathguard so a client can never
// escape its own workspace. Grounded on the relay package's handler
// style (one method per route, JSON errors via apierr) applied to the
// WebDAV bridge's sibling concern — plain REST file CRUD for clients
// that don't want to speak WebDAV, and on files_api.py's query-param
// path / JSON-body contract.
package fileapi

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/sessiond/sessiond/internal/apierr"
	"github.com/sessiond/sessiond/internal/logger"
	"github.com/sessiond/sessiond/internal/pathguard"
	"github.com/sessiond/sessiond/internal/registry"
)

// API wires a Registry to HTTP file handlers. Register its routes onto
// an existing mux.Router under whatever prefix the caller wants.
type API struct {
	reg *registry.Registry
}

// New creates a file API over the given Registry.
func New(reg *registry.Registry) *API {
	return &API{reg: reg}
}

// Register adds the file route to r, rooted at /sessions/{id}/files.
// path is always a query parameter, never a URL segment, so it can
// carry arbitrary nested separators without fighting mux's own routing.
func (a *API) Register(r *mux.Router) {
	r.HandleFunc("/sessions/{id}/files", a.handleFiles).
		Methods(http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete)
}

type entryInfo struct {
	Name  string `json:"name"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size"`
}

type writeRequest struct {
	Path        string `json:"path"`
	Content     string `json:"content"`
	IsDirectory bool   `json:"is_directory"`
}

func (a *API) handleFiles(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	l, err := a.reg.Layout(id)
	if err != nil {
		writeError(w, err)
		return
	}

	switch r.Method {
	case http.MethodGet:
		a.handleList(w, r, l.FilesDir)
	case http.MethodPost:
		a.handleCreate(w, r, l.FilesDir)
	case http.MethodPut:
		a.handleWrite(w, r, l.FilesDir)
	case http.MethodDelete:
		a.handleDelete(w, r, l.FilesDir)
	}
}

// handleList serves ?path= (the workspace root if omitted): a
// directory is listed, a file's content is streamed back directly.
func (a *API) handleList(w http.ResponseWriter, r *http.Request, root string) {
	target, err := pathguard.Resolve(root, r.URL.Query().Get("path"))
	if err != nil {
		writeError(w, err)
		return
	}
	info, err := os.Stat(target)
	if err != nil {
		writeError(w, mapFSError(err))
		return
	}
	if !info.IsDir() {
		a.readFile(w, target)
		return
	}

	entries, err := os.ReadDir(target)
	if err != nil {
		writeError(w, mapFSError(err))
		return
	}
	out := make([]entryInfo, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, entryInfo{Name: e.Name(), IsDir: e.IsDir(), Size: info.Size()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	writeJSON(w, http.StatusOK, out)
}

func (a *API) readFile(w http.ResponseWriter, path string) {
	f, err := os.Open(path)
	if err != nil {
		writeError(w, mapFSError(err))
		return
	}
	defer f.Close()
	w.Header().Set("Content-Type", "application/octet-stream")
	if _, err := io.Copy(w, f); err != nil {
		logger.Warn("fileapi: copy failed", "error", err)
	}
}

// handleCreate makes a new file or directory at the body's path. A file
// created with no content yet present gets an empty file.
func (a *API) handleCreate(w http.ResponseWriter, r *http.Request, root string) {
	var req writeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.ErrBadRequest)
		return
	}
	target, err := pathguard.Resolve(root, req.Path)
	if err != nil {
		writeError(w, err)
		return
	}

	if req.IsDirectory {
		if err := os.MkdirAll(target, 0755); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"status": "success"})
		return
	}

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		writeError(w, err)
		return
	}
	if err := os.WriteFile(target, []byte(req.Content), 0644); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "success"})
}

// handleWrite overwrites an existing file's content.
func (a *API) handleWrite(w http.ResponseWriter, r *http.Request, root string) {
	var req writeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.ErrBadRequest)
		return
	}
	target, err := pathguard.Resolve(root, req.Path)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		writeError(w, err)
		return
	}
	if err := os.WriteFile(target, []byte(req.Content), 0644); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

// handleDelete removes the entry at ?path=. A non-empty directory is only
// removed when ?recursive=true is also given; otherwise it is left alone
// and the request fails. An empty directory is removed either way.
func (a *API) handleDelete(w http.ResponseWriter, r *http.Request, root string) {
	target, err := pathguard.Resolve(root, r.URL.Query().Get("path"))
	if err != nil {
		writeError(w, err)
		return
	}
	recursive, _ := strconv.ParseBool(r.URL.Query().Get("recursive"))

	info, err := os.Lstat(target)
	if err != nil {
		writeError(w, mapFSError(err))
		return
	}
	if info.IsDir() && recursive {
		err = os.RemoveAll(target)
	} else {
		err = os.Remove(target)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func mapFSError(err error) error {
	if os.IsNotExist(err) {
		return apierr.ErrNotFound
	}
	return err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("fileapi: encode response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := apierr.StatusCode(err)
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
