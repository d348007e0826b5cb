// Package api implements the HTTP boundary: request admission, task
// history, and the streaming/unary response bodies that wrap the
// dispatch loop.
package api

import (
	"encoding/json"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Clock is a testable source of the current time, kept as an interface
// so request handlers never call time.Now() directly.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the system clock.
type RealClock struct{}

// Now returns the current time.
func (RealClock) Now() time.Time { return time.Now() }

// jsonResponse writes data as a JSON body with the given status code.
func jsonResponse(w http.ResponseWriter, logger *zap.Logger, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Warn("failed to encode JSON response", zap.Error(err))
	}
}

// jsonError writes a {"error": msg} body with the given status code.
func jsonError(w http.ResponseWriter, logger *zap.Logger, status int, msg string) {
	jsonResponse(w, logger, status, map[string]string{"error": msg})
}

// getClientIP extracts the caller's address, preferring a
// reverse-proxy header over RemoteAddr.
func getClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
