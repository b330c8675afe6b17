package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

type contextKey string

const LangKey contextKey = "lang"

// RequireAdmin rejects requests whose bearer token does not match token.
// An empty token rejects everything, so unconfigured deployments expose no
// admin surface.
func RequireAdmin(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if token == "" || !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				w.Header().Set("WWW-Authenticate", `Bearer realm="baydir-admin"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Lang returns the preferred language stored by the session middleware, or
// "" when none is set.
func Lang(r *http.Request) string {
	lang, _ := r.Context().Value(LangKey).(string)
	return lang
}
