package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"deskbridge.io/internal/auth"
)

func newAuthAPI(t *testing.T) (*API, *auth.Issuer) {
	t.Helper()
	issuer, err := auth.NewIssuer([]byte("session-secret"), nil)
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	return New(Deps{Issuer: issuer}), issuer
}

func whoAmI(a *API) http.Handler {
	return a.requireUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, ok := auth.UserFromContext(r.Context())
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(u.ID + "|" + u.Email))
	}))
}

func TestRequireUserAcceptsBearerToken(t *testing.T) {
	a, issuer := newAuthAPI(t)
	token, err := issuer.GenerateToken("auth-1", "ann@example.com", time.Hour)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/internal", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	whoAmI(a).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got := rr.Body.String(); got != "auth-1|ann@example.com" {
		t.Fatalf("unexpected user: %q", got)
	}
}

func TestRequireUserAcceptsSessionCookie(t *testing.T) {
	a, issuer := newAuthAPI(t)
	token, _ := issuer.GenerateToken("auth-2", "", time.Hour)

	req := httptest.NewRequest(http.MethodGet, "/internal", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookie, Value: token})
	rr := httptest.NewRecorder()
	whoAmI(a).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestRequireUserRejects(t *testing.T) {
	a, _ := newAuthAPI(t)
	other, _ := auth.NewIssuer([]byte("someone-else"), nil)
	foreign, _ := other.GenerateToken("auth-1", "", time.Hour)

	cases := map[string]string{
		"missing":       "",
		"wrong scheme":  "Basic abc",
		"empty bearer":  "Bearer ",
		"foreign token": "Bearer " + foreign,
	}
	for name, header := range cases {
		req := httptest.NewRequest(http.MethodGet, "/internal", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rr := httptest.NewRecorder()
		whoAmI(a).ServeHTTP(rr, req)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", name, rr.Code)
		}
	}
}

func TestExtractBearerToken(t *testing.T) {
	if tok, err := extractBearerToken("bearer abc"); err != nil || tok != "abc" {
		t.Fatalf("expected case-insensitive scheme, got %q %v", tok, err)
	}
	if _, err := extractBearerToken("Token abc"); err == nil {
		t.Fatal("expected scheme error")
	}
}
