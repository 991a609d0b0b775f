// Package httpapi is the HTTP surface: Slack callbacks, the OAuth entry and
// callback routes, the dashboard comment relay and the ops endpoints.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"deskbridge.io/internal/auth"
	"deskbridge.io/internal/gateway"
	"deskbridge.io/internal/interaction"
	"deskbridge.io/internal/obs"
)

// ReadyProbe reports whether dependencies can serve traffic.
type ReadyProbe interface {
	Ping(ctx context.Context) error
}

// Dispatcher handles decoded callbacks and dashboard comments.
type Dispatcher interface {
	Dispatch(ctx context.Context, env interaction.Envelope) gateway.Result
	RelayComment(ctx context.Context, ticketID, authorAuthID, text string, internal bool) (gateway.RelayResult, error)
}

// OAuthStarter builds Slack authorize URLs.
type OAuthStarter interface {
	StartLink(authUserID, email string) (string, error)
	InstallURL() (string, error)
}

// Deps are the collaborators the API is built from.
type Deps struct {
	Gateway  Dispatcher
	OAuth    OAuthStarter
	Verifier func(http.Handler) http.Handler
	Issuer   *auth.Issuer
	Ready    ReadyProbe
	Metrics  *obs.Metrics
	Log      *zap.Logger
	Version  string

	MaxBodyBytes int64
	RateBurst    int
	RatePerSec   float64

	// TrustProxyHeaders keys the limiter on X-Forwarded-For.
	TrustProxyHeaders bool
}

// API is the HTTP layer.
type API struct {
	mux     chi.Router
	deps    Deps
	log     *zap.Logger
	limiter *ipLimiter
}

// New builds the router.
func New(d Deps) *API {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Metrics == nil {
		d.Metrics = obs.NewMetrics(nil)
	}
	if d.MaxBodyBytes <= 0 {
		d.MaxBodyBytes = 1 << 20
	}
	if d.Verifier == nil {
		// Without a verifier nothing on /slack/* may be trusted.
		d.Verifier = func(http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeError(w, r, http.StatusUnauthorized, "invalid signature")
			})
		}
	}
	a := &API{deps: d, log: d.Log}
	if d.RateBurst > 0 && d.RatePerSec > 0 {
		a.limiter = newIPLimiter(d.RateBurst, d.RatePerSec, d.TrustProxyHeaders)
	}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Recoverer(a.log))
	r.Use(Logging(a.log))
	r.Use(SecurityHeaders)
	r.Use(d.Metrics.Instrument)

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())

	r.Route("/slack", func(r chi.Router) {
		if a.limiter != nil {
			r.Use(a.limiter.Middleware)
		}
		r.Use(func(next http.Handler) http.Handler { return MaxBodyBytes(next, d.MaxBodyBytes) })

		r.Group(func(r chi.Router) {
			r.Use(d.Verifier)
			r.Post("/commands", a.handleSlackCallback)
			r.Post("/interactions", a.handleSlackCallback)
		})

		r.Get("/oauth/install", a.handleInstall)
		r.Get("/oauth/callback", a.handleOAuthCallback(interaction.FlowInstall))
		r.With(a.requireUser).Get("/oauth/connect", a.handleConnect)
		r.Get("/oauth/connect-callback", a.handleOAuthCallback(interaction.FlowLink))
	})

	r.Group(func(r chi.Router) {
		r.Use(a.requireUser)
		r.Use(func(next http.Handler) http.Handler { return MaxBodyBytes(next, d.MaxBodyBytes) })
		r.Post("/v1/tickets/{id}/comments", a.handleComment)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	a.mux = r
	return a
}

// Handler returns the root http.Handler.
func (a *API) Handler() http.Handler {
	return a.mux
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "deskbridge",
		"version": a.deps.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if a.deps.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.deps.Ready.Ping(ctx); err != nil {
			a.log.Warn("readiness check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "not_ready",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

// writeResult renders a gateway acknowledgment.
func writeResult(w http.ResponseWriter, r *http.Request, res gateway.Result) {
	if res.Redirect != "" {
		http.Redirect(w, r, res.Redirect, http.StatusSeeOther)
		return
	}
	status := res.Status
	if status == 0 {
		status = http.StatusOK
	}
	if res.Body == nil {
		w.WriteHeader(status)
		return
	}
	writeJSON(w, status, res.Body)
}
