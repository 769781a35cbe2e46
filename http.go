package picchu

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"

	"github.com/klipach/picchu/auth"
	"github.com/klipach/picchu/log"
	"github.com/klipach/picchu/store"
)

const (
	functionLogField = "function"
	traceHeader      = "X-Cloud-Trace-Context"
	maxJSONBody      = 64 << 10
)

// request is an authenticated call with its request-scoped logger.
type request struct {
	ctx    context.Context
	logger *slog.Logger
	user   string
}

// begin checks the method and the caller's ID token. It writes the error response
// itself and returns false when the request must not proceed.
func (s *server) begin(w http.ResponseWriter, r *http.Request, function string, methods ...string) (request, bool) {
	ctx := log.WithTrace(r.Context(), log.TraceFromHeader(s.projectID, r.Header.Get(traceHeader)))
	logger := s.logger.With(slog.String(functionLogField, function))
	logger.DebugContext(ctx, "function called", slog.String("method", r.Method))

	if !slices.Contains(methods, r.Method) {
		logger.ErrorContext(ctx, "invalid method: "+r.Method)
		http.Error(w, "Method Not Implemented", http.StatusNotImplemented)
		return request{}, false
	}

	user, err := auth.Authenticate(r, s.verifier)
	if err != nil {
		logger.ErrorContext(ctx, "error while authenticating", slog.String(log.ErrorMsgLogField, err.Error()))
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return request{}, false
	}
	logger = logger.With(slog.String(log.UserLogField, user))
	return request{ctx: log.WithLogger(ctx, logger), logger: logger, user: user}, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, req request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(v); err != nil {
		req.logger.ErrorContext(req.ctx, "error while decoding request", slog.String(log.ErrorMsgLogField, err.Error()))
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, req request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		req.logger.ErrorContext(req.ctx, "error while writing response", slog.String(log.ErrorMsgLogField, err.Error()))
	}
}

// storeFailure reports a failed single-shot action to the caller. Nothing is retried.
func storeFailure(w http.ResponseWriter, req request, userMsg string, err error) {
	req.logger.ErrorContext(req.ctx, userMsg, slog.String(log.ErrorMsgLogField, err.Error()))
	switch {
	case store.IsNotFound(err):
		http.Error(w, userMsg+": not found", http.StatusNotFound)
	case store.IsTransient(err):
		http.Error(w, userMsg+": service unavailable, try again", http.StatusServiceUnavailable)
	default:
		http.Error(w, userMsg, http.StatusInternalServerError)
	}
}

// streamEnded reports whether a live view stopped because the client went away.
func streamEnded(err error) bool {
	return err == nil || errors.Is(err, context.Canceled)
}
