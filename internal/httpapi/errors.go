package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"meshd/internal/capability"
	"meshd/internal/engine"
	"meshd/internal/facade"
	"meshd/internal/marshal"
	"meshd/internal/parallel"
	"meshd/pkg/types"
)

// HTTPError allows an error to carry its own HTTP status code.
type HTTPError interface {
	error
	StatusCode() int
}

type meshNotFoundError struct{ id string }

func (e meshNotFoundError) Error() string   { return "mesh not found: " + e.id }
func (e meshNotFoundError) StatusCode() int { return http.StatusNotFound }

type tooBusyError struct{ id, reason string }

func (e tooBusyError) Error() string   { return "mesh " + e.id + " is busy (" + e.reason + ")" }
func (e tooBusyError) StatusCode() int { return http.StatusTooManyRequests }

type fileNotFoundError struct{ err error }

func (e fileNotFoundError) Error() string   { return e.err.Error() }
func (e fileNotFoundError) Unwrap() error   { return e.err }
func (e fileNotFoundError) StatusCode() int { return http.StatusNotFound }

// classify maps an error to its HTTP status and class.
func classify(err error) (int, string) {
	var he HTTPError
	switch {
	case marshal.IsValidation(err):
		return http.StatusBadRequest, "validation"
	case errors.As(err, &he):
		var busy tooBusyError
		if errors.As(err, &busy) {
			return he.StatusCode(), "busy"
		}
		return he.StatusCode(), "not_found"
	case facade.IsHandleInvalid(err):
		return http.StatusGone, "handle_invalid"
	case errors.Is(err, parallel.ErrAlreadyConfigured):
		return http.StatusConflict, "config"
	case parallel.IsConfigError(err):
		return http.StatusBadRequest, "config"
	case capability.IsMissing(err), errors.Is(err, engine.ErrNotBuilt):
		return http.StatusNotImplemented, "missing_capability"
	case facade.IsFatalFault(err):
		return http.StatusInternalServerError, "fatal_fault"
	case facade.IsNativeFailure(err):
		return http.StatusUnprocessableEntity, "native_error"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "canceled"
	}
	return http.StatusInternalServerError, ""
}

// writeError writes err with the status classify picks for it.
func writeError(w http.ResponseWriter, err error) {
	status, class := classify(err)
	if status == http.StatusTooManyRequests {
		var busy tooBusyError
		if errors.As(err, &busy) {
			IncrementBackpressure(busy.reason)
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: err.Error(), Code: status, Class: class})
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to encode response: "+err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(b, '\n'))
}
