package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"deskbridge.io/internal/auth"
)

const (
	authHeader    = "Authorization"
	bearer        = "Bearer "
	sessionCookie = "deskbridge_session"
)

// requireUser authenticates the dashboard user from a bearer token or the
// session cookie and stores them in the context.
func (a *API) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.deps.Issuer == nil {
			writeError(w, r, http.StatusServiceUnavailable, "authentication is not configured")
			return
		}
		token, err := sessionToken(r)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}
		claims, err := a.deps.Issuer.ParseAndValidate(token)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidToken) {
				writeError(w, r, http.StatusUnauthorized, "invalid token")
				return
			}
			writeError(w, r, http.StatusInternalServerError, "authentication error")
			return
		}
		ctx := auth.ContextWithUser(r.Context(), claims.Subject, claims.Email)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionToken(r *http.Request) (string, error) {
	if h := strings.TrimSpace(r.Header.Get(authHeader)); h != "" {
		return extractBearerToken(h)
	}
	if c, err := r.Cookie(sessionCookie); err == nil && strings.TrimSpace(c.Value) != "" {
		return strings.TrimSpace(c.Value), nil
	}
	return "", errors.New("missing bearer token")
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
