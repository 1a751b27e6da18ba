// Package apierr defines the sentinel error kinds shared by every
// component that can fail in a way a client needs to see, and the
// single place that maps them to HTTP status codes / WebSocket error
// payloads.
package apierr

import "errors"

// Sentinel error kinds, per the error handling design: each maps to
// exactly one HTTP status and WebSocket "error" surface.
var (
	ErrBadRequest           = errors.New("bad request")
	ErrNotFound             = errors.New("not found")
	ErrPathRejected         = errors.New("path rejected")
	ErrNotActive            = errors.New("session not active")
	ErrSpawnFailed          = errors.New("spawn failed")
	ErrWorkspaceSetupFailed = errors.New("workspace setup failed")
)

// StatusCode returns the conventional HTTP status for a given error,
// walking the wrap chain with errors.Is. Unrecognized errors map to 500.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return 200
	case errors.Is(err, ErrBadRequest), errors.Is(err, ErrPathRejected), errors.Is(err, ErrNotActive):
		return 400
	case errors.Is(err, ErrNotFound):
		return 404
	case errors.Is(err, ErrSpawnFailed), errors.Is(err, ErrWorkspaceSetupFailed):
		return 500
	default:
		return 500
	}
}
