package httpapi

import (
	"context"
	"fmt"
	"math"
	"net"
	"net/http"
	"regexp"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"deskbridge.io/internal/audit"
)

const requestIDHeader = "X-Request-ID"

var requestIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,128}$`)

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// RequestID reuses a well-formed inbound X-Request-ID or mints one, echoes it
// on the response and stores it in the context.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if !requestIDPattern.MatchString(id) {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(audit.WithRequestID(r.Context(), id)))
	})
}

// RequestIDFromContext returns the id set by RequestID.
func RequestIDFromContext(ctx context.Context) string {
	return audit.RequestID(ctx)
}

// Logging emits one request_complete entry per request.
func Logging(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(sw, r)
			log.Info("request_complete",
				zap.String("request_id", audit.RequestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", sw.code),
				zap.Float64("duration_ms", float64(time.Since(start).Microseconds())/1000),
				zap.String("remote_ip", clientIP(r, false)),
				zap.String("forwarded_for", r.Header.Get("X-Forwarded-For")),
				zap.String("user_agent", r.UserAgent()),
			)
		})
	}
}

// Recoverer turns a handler panic into a logged 500.
func Recoverer(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				log.Error("handler panic",
					zap.String("request_id", audit.RequestID(r.Context())),
					zap.String("path", r.URL.Path),
					zap.String("panic", fmt.Sprint(rec)),
					zap.ByteString("stack", debug.Stack()),
				)
				writeError(w, r, http.StatusInternalServerError, "internal error")
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// SecurityHeaders sets hardening headers. Nothing here serves HTML, so the
// CSP denies everything.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "0")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		next.ServeHTTP(w, r)
	})
}

// MaxBodyBytes limits the request body size.
func MaxBodyBytes(next http.Handler, maxBytes int64) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		next.ServeHTTP(w, r)
	})
}

// RateLimit applies a per client IP token bucket to next. Clients are keyed
// by the connection's remote address; X-Forwarded-For is honored only when
// trustProxy is set.
func RateLimit(next http.Handler, burst int, perSecond float64, trustProxy bool) http.Handler {
	return newIPLimiter(burst, perSecond, trustProxy).Middleware(next)
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// ipLimiter keeps one token bucket per client IP. Idle buckets are pruned
// on access, at most once per minute.
type ipLimiter struct {
	burst      int
	perSecond  float64
	trustProxy bool
	ttl        time.Duration
	now       func() time.Time

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastPrune time.Time
}

func newIPLimiter(burst int, perSecond float64, trustProxy bool) *ipLimiter {
	return &ipLimiter{
		burst:      burst,
		perSecond:  perSecond,
		trustProxy: trustProxy,
		ttl:        5 * time.Minute,
		now:        time.Now,
		buckets:    make(map[string]*bucket),
	}
}

func (l *ipLimiter) allow(ip string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if now.Sub(l.lastPrune) > time.Minute {
		for k, b := range l.buckets {
			if now.Sub(b.seen) > l.ttl {
				delete(l.buckets, k)
			}
		}
		l.lastPrune = now
	}
	b, ok := l.buckets[ip]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rate.Limit(l.perSecond), l.burst)}
		l.buckets[ip] = b
	}
	b.seen = now
	res := b.lim.ReserveN(now, 1)
	if !res.OK() {
		return false, time.Second
	}
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return false, delay
	}
	return true, 0
}

func (l *ipLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r, l.trustProxy)
		if ip == "" {
			ip = "unknown"
		}
		if ok, wait := l.allow(ip); !ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			writeError(w, r, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP returns the peer address. With trustProxy it returns the last
// X-Forwarded-For hop, the one appended by the proxy in front of us; earlier
// hops are client supplied.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			parts := strings.Split(xff, ",")
			if hop := strings.TrimSpace(parts[len(parts)-1]); hop != "" {
				return hop
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
