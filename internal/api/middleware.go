package api

import (
	"context"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/hackgods/hospital-appointment-booking/internal/appointment"
	"github.com/hackgods/hospital-appointment-booking/internal/metrics"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	callerKey    contextKey = "caller"
)

// RequestIDMiddleware adds a unique request ID to each request context
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}

		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// LoggingMiddleware attaches a request-scoped logger to the context and logs
// one line per request once the handler returns.
func LoggingMiddleware(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			reqLogger := logger.With().Str("request_id", GetRequestID(r.Context())).Logger()
			ctx := reqLogger.WithContext(r.Context())

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r.WithContext(ctx))

			evt := reqLogger.Info()
			if wrapped.statusCode >= http.StatusInternalServerError {
				evt = reqLogger.Error()
			}
			evt.
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", wrapped.statusCode).
				Dur("duration", time.Since(start)).
				Str("remote_ip", clientIP(r)).
				Msg("http request")
		})
	}
}

// MetricsMiddleware records request counts and latency keyed by route pattern.
func MetricsMiddleware(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if p := rctx.RoutePattern(); p != "" {
					route = p
				}
			}
			m.ObserveRequest(r.Method, route, wrapped.statusCode, time.Since(start))
		})
	}
}

// IPRateLimiter keeps one token bucket per client address.
// Buckets idle longer than the sweep cutoff are dropped by Sweep or Run.
type IPRateLimiter struct {
	limiters sync.Map // ip -> *clientLimiter
	rate     rate.Limit
	burst    int
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64 // unix nanos
}

func NewIPRateLimiter(r rate.Limit, burst int) *IPRateLimiter {
	return &IPRateLimiter{rate: r, burst: burst}
}

func (l *IPRateLimiter) getLimiter(ip string) *rate.Limiter {
	v, ok := l.limiters.Load(ip)
	if !ok {
		v, _ = l.limiters.LoadOrStore(ip, &clientLimiter{limiter: rate.NewLimiter(l.rate, l.burst)})
	}
	c := v.(*clientLimiter)
	c.lastSeen.Store(time.Now().UnixNano())
	return c.limiter
}

// Sweep drops every bucket last used before cutoff and returns how many it removed.
func (l *IPRateLimiter) Sweep(cutoff time.Time) int {
	removed := 0
	l.limiters.Range(func(key, v any) bool {
		if v.(*clientLimiter).lastSeen.Load() < cutoff.UnixNano() {
			l.limiters.CompareAndDelete(key, v)
			removed++
		}
		return true
	})
	return removed
}

// Run sweeps buckets idle for longer than idle every interval until ctx is done.
func (l *IPRateLimiter) Run(ctx context.Context, interval, idle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := l.Sweep(now.Add(-idle)); n > 0 {
				zerolog.Ctx(ctx).Debug().Int("removed", n).Msg("swept idle rate limiters")
			}
		}
	}
}

func (l *IPRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !l.getLimiter(ip).Allow() {
			zerolog.Ctx(r.Context()).Warn().Str("remote_ip", ip).Str("path", r.URL.Path).Msg("rate limit exceeded")
			writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Authenticator resolves the caller of a request.
type Authenticator interface {
	Authenticate(r *http.Request) (appointment.Caller, error)
}

// AuthMiddleware rejects requests without a valid caller and stores the
// caller in the request context.
func AuthMiddleware(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, err := auth.Authenticate(r)
			if err != nil {
				zerolog.Ctx(r.Context()).Debug().Err(err).Msg("authentication failed")
				writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
				return
			}

			ctx := context.WithValue(r.Context(), callerKey, caller)
			ctx = zerolog.Ctx(ctx).With().
				Str("caller_id", caller.ID.String()).
				Str("caller_role", string(caller.Role)).
				Logger().WithContext(ctx)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetRequestID retrieves the request ID from context
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// callerFromContext returns the zero Caller when the request was not
// authenticated; the service treats that as access denied.
func callerFromContext(ctx context.Context) appointment.Caller {
	c, _ := ctx.Value(callerKey).(appointment.Caller)
	return c
}

// clientIP expects chi's RealIP middleware to have rewritten RemoteAddr.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
