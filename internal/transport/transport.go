// Package transport exposes the Registry over HTTP and WebSocket.
// Routing follows the relay package's handler-per-concern layout;
// gorilla/mux supplies the {id} path-parameter routes the stdlib mux
// variant the relay uses doesn't support as cleanly. Grounded on
// relay/server.go's route table and relay/pty_relay.go's envelope
// dispatch, narrowed to a single-tenant session bus (no wing/org/auth
// routing — every request operates on whatever Registry is wired in).
package transport

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/sessiond/sessiond/internal/apierr"
	"github.com/sessiond/sessiond/internal/logger"
	"github.com/sessiond/sessiond/internal/registry"
	"github.com/sessiond/sessiond/internal/session"
)

// Transport wires a Registry to HTTP handlers.
type Transport struct {
	reg   *registry.Registry
	rooms *roomSet
}

// New creates a Transport over the given Registry.
func New(reg *registry.Registry) *Transport {
	return &Transport{reg: reg, rooms: newRoomSet()}
}

// Router builds the route table.
func (t *Transport) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/terminal/sessions", t.handleList).Methods(http.MethodGet)
	r.HandleFunc("/api/terminal/sessions", t.handleCreate).Methods(http.MethodPost)
	r.HandleFunc("/api/terminal/sessions/{id}", t.handleGet).Methods(http.MethodGet)
	r.HandleFunc("/api/terminal/sessions/{id}", t.handleTerminate).Methods(http.MethodDelete)
	r.HandleFunc("/api/terminal/sessions/{id}/size", t.handleResize).Methods(http.MethodPost)
	r.HandleFunc("/api/terminal/sessions/{id}/tail", t.handleTail).Methods(http.MethodGet)
	r.HandleFunc("/api/maintenance/cleanup", t.handleCleanup).Methods(http.MethodPost)
	r.HandleFunc("/ws", t.handleWS).Methods(http.MethodGet)
	r.HandleFunc("/healthz", t.handleHealthz).Methods(http.MethodGet)
	return r
}

func (t *Transport) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type createRequest struct {
	Shell string            `json:"shell"`
	Cwd   string            `json:"cwd"`
	Cols  int               `json:"cols"`
	Rows  int               `json:"rows"`
	Env   map[string]string `json:"env"`
}

type sizeRequest struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

type statusResponse struct {
	Status string `json:"status"`
}

type sessionsResponse struct {
	Sessions []sessionView `json:"sessions"`
}

type sessionView struct {
	ID           string `json:"id"`
	Shell        string `json:"shell"`
	Cwd          string `json:"cwd"`
	Cols         int    `json:"cols"`
	Rows         int    `json:"rows"`
	CreatedAt    string `json:"created_at"`
	LastActivity string `json:"last_activity"`
	Active       bool   `json:"active"`
	PID          int    `json:"pid"`
}

func (t *Transport) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, apierr.ErrBadRequest)
			return
		}
	}
	sess, err := t.reg.Create(registry.CreateOptions{
		Shell: req.Shell,
		Cwd:   req.Cwd,
		Cols:  req.Cols,
		Rows:  req.Rows,
		Env:   req.Env,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewOf(sess))
}

func (t *Transport) handleList(w http.ResponseWriter, r *http.Request) {
	sessions := t.reg.List()
	views := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, viewOf(s))
	}
	writeJSON(w, http.StatusOK, sessionsResponse{Sessions: views})
}

func (t *Transport) handleGet(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	sess, err := t.reg.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(sess))
}

func (t *Transport) handleTerminate(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := t.reg.Terminate(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "success"})
}

func (t *Transport) handleResize(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	sess, err := t.reg.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	var req sizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.ErrBadRequest)
		return
	}
	if err := sess.Resize(req.Cols, req.Rows); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "success"})
}

func (t *Transport) handleTail(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	sess, err := t.reg.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	n := 50
	if v := r.URL.Query().Get("n"); v != "" {
		if parsed, perr := strconv.Atoi(v); perr == nil {
			n = parsed
		}
	}
	writeJSON(w, http.StatusOK, sess.Tail(n))
}

type cleanupResponse struct {
	SessionsReaped             int `json:"sessions_reaped"`
	OrphanedDirectoriesCleaned int `json:"orphaned_directories_cleaned"`
}

func (t *Transport) handleCleanup(w http.ResponseWriter, r *http.Request) {
	reaped, orphans := t.reg.Cleanup()
	writeJSON(w, http.StatusOK, cleanupResponse{
		SessionsReaped:             reaped,
		OrphanedDirectoriesCleaned: orphans,
	})
}

func viewOf(s *session.Session) sessionView {
	cols, rows := s.Dimensions()
	return sessionView{
		ID:           s.ID,
		Shell:        s.Shell,
		Cwd:          s.Cwd,
		Cols:         cols,
		Rows:         rows,
		CreatedAt:    s.CreatedAt.UTC().Format(time.RFC3339),
		LastActivity: s.LastActivity().UTC().Format(time.RFC3339),
		Active:       s.Active(),
		PID:          s.PID,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("transport: encode response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := apierr.StatusCode(err)
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
