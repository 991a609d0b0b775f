package signature

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"deskbridge.io/internal/audit"
)

// Verifier guards handlers that receive Slack callbacks.
type Verifier struct {
	secret   []byte
	now      func() time.Time
	log      *zap.Logger
	failures *prometheus.CounterVec
}

// NewVerifier returns a Verifier. failures may be nil; it is labelled by reason.
func NewVerifier(secret []byte, log *zap.Logger, failures *prometheus.CounterVec) *Verifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &Verifier{secret: secret, now: time.Now, log: log, failures: failures}
}

// WithClock replaces the time source.
func (v *Verifier) WithClock(now func() time.Time) *Verifier {
	v.now = now
	return v
}

// Middleware rejects unauthenticated requests with 401 before the body is
// parsed, and bodies over an upstream http.MaxBytesReader limit with 413.
// The body is restored for next on success.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		_ = r.Body.Close()
		if err == nil {
			err = Check(body, r.Header.Get(HeaderTimestamp), r.Header.Get(HeaderSignature), v.secret, v.now())
		}
		if err != nil {
			reason := Reason(err)
			if v.failures != nil {
				v.failures.WithLabelValues(reason).Inc()
			}
			v.log.Warn("slack signature rejected",
				zap.String("request_id", audit.RequestID(r.Context())),
				zap.String("path", r.URL.Path),
				zap.String("reason", reason),
				zap.Error(err),
			)
			code, msg := http.StatusUnauthorized, "invalid signature"
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				code, msg = http.StatusRequestEntityTooLarge, "request body too large"
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(code)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"error":      msg,
				"request_id": audit.RequestID(r.Context()),
			})
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		r.ContentLength = int64(len(body))
		next.ServeHTTP(w, r)
	})
}
