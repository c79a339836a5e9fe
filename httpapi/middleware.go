package httpapi

import (
	"net/http"
	"strings"

	auth "github.com/scottux/recipe-book-sub002"
)

// requireAuth reads the Authorization header, verifies the bearer token
// against the engine, and injects the subject into the request context.
func requireAuth(engine *auth.Engine, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok {
			writeJSON(w, http.StatusUnauthorized, envelope{Error: "Authentication required"})
			return
		}
		userID, err := engine.VerifyAccessToken(token)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, envelope{Error: "Authentication required"})
			return
		}
		next(w, r.WithContext(auth.WithUserID(r.Context(), userID)))
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}
	token := value[len(bearer):]
	if token == "" {
		return "", false
	}
	return token, true
}

// withClientIP tags the request context with the caller IP for the
// per-IP reset budget and audit records.
func withClientIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := auth.WithClientIP(r.Context(), auth.RequestIP(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// recoverPanics converts handler panics into the generic 500 so a single
// bad request cannot take the process down.
func recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				writeJSON(w, http.StatusInternalServerError, envelope{Error: "Internal server error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}
