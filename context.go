package auth

import (
	"context"
	"net"
	"net/http"
	"strings"
)

type contextKey int

const (
	clientIPKey contextKey = iota
	userIDKey
)

// WithClientIP attaches a caller IP to the context. Reset request limiting
// reads it for the per-IP budget; without it only the per-email budget
// applies.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey, ip)
}

// ClientIP returns the IP attached by WithClientIP, or "".
func ClientIP(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey).(string)
	return ip
}

// WithUserID attaches an authenticated subject to the context. The HTTP
// middleware sets it after verifying the bearer token.
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userIDKey, id)
}

// UserID returns the subject attached by WithUserID, or "".
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}

// RequestIP extracts a best-effort client IP from an HTTP request,
// preferring the first X-Forwarded-For hop, then X-Real-IP, then RemoteAddr.
func RequestIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first := strings.TrimSpace(strings.SplitN(fwd, ",", 2)[0])
		if first != "" {
			return first
		}
	}
	if real := strings.TrimSpace(r.Header.Get("X-Real-Ip")); real != "" {
		return real
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
