package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/netip"
	"strings"
)

type sessionIDKey struct{}

// AdminAuth admits requests carrying a live admin bearer token and stores
// the session id in the request context.
func (h *Handler) AdminAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			slog.Warn("missing authorization header", "path", r.URL.Path)
			h.writeError(w, http.StatusUnauthorized, errors.New("authorization header required"))
			return
		}

		token, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || token == "" {
			slog.Warn("invalid authorization header format", "path", r.URL.Path)
			h.writeError(w, http.StatusUnauthorized, errors.New("invalid authorization header"))
			return
		}

		jti, err := h.admin.Authorize(r.Context(), token)
		if err != nil {
			slog.Warn("admin authorization failed", "path", r.URL.Path, "error", err)
			h.fail(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), sessionIDKey{}, jti)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// clientKey identifies the caller for login rate limiting. X-Forwarded-For
// is read right to left and only across trusted proxies; the first hop that
// is not a trusted proxy is the client.
func (h *Handler) clientKey(r *http.Request) string {
	peer, err := netip.ParseAddrPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	client := peer.Addr().Unmap()
	if !h.trusted(client) {
		return client.String()
	}

	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
		if err != nil {
			break
		}
		client = hop.Unmap()
		if !h.trusted(client) {
			break
		}
	}
	return client.String()
}

func (h *Handler) trusted(addr netip.Addr) bool {
	for _, p := range h.trustedProxies {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
