package api

import "net/http"

// resolveUserID resolves the caller's identity with a trusted header
// first, falling back to a cookie, then the caller's IP, then an
// anonymous placeholder.
func resolveUserID(r *http.Request) string {
	if header := r.Header.Get("X-User-Id"); header != "" {
		return header
	}
	if cookie, err := r.Cookie("mt-user-id"); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	if host := getClientIP(r); host != "" {
		return "ip:" + host
	}
	return "anonymous"
}
