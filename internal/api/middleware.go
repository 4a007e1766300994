package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"careerpilot.app/career-chat/internal/auth"
	"careerpilot.app/career-chat/internal/cache"
)

type contextKey string

const userIDKey contextKey = "user_id"

// UserIDFromContext returns the authenticated caller, or "" outside RequireAuth.
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

// tokenFromRequest reads a bearer token, falling back to the session cookies.
func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	for _, name := range []string{auth.SecureSessionCookieName, auth.SessionCookieName} {
		if c, err := r.Cookie(name); err == nil && c.Value != "" {
			return c.Value
		}
	}
	return ""
}

// RequireAuth verifies the session token and puts the caller's ID in the context.
func (h *APIHandler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := tokenFromRequest(r)
		if token == "" {
			writeRPCError(w, ErrUnauthorized)
			return
		}

		claims, err := h.tokens.Validate(r.Context(), token)
		if err != nil {
			rpcErr := toRPCError(err)
			if rpcErr == ErrInternal {
				h.log.Error("token validation failed", zap.Error(err))
			}
			writeRPCError(w, rpcErr)
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, claims.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (rw *statusRecorder) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}
	rw.status = code
	rw.wroteHeader = true
	rw.ResponseWriter.WriteHeader(code)
}

// AccessLog logs one structured line per request.
func AccessLog(log *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			log.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", wrapped.status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", chimiddleware.GetReqID(r.Context())),
				zap.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "career_chat_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "career_chat_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	rpcCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "career_chat_rpc_calls_total",
			Help: "Procedure calls by name and result code",
		},
		[]string{"procedure", "code"},
	)

	rateLimitedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "career_chat_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		},
		[]string{"scope"},
	)
)

// Metrics records request counts and latencies labelled by route pattern.
func Metrics() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			path := routePattern(r)
			httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
			httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

// routePattern keeps label cardinality bounded by preferring chi's pattern.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// RateLimitConfig defines rate limiting parameters.
type RateLimitConfig struct {
	RequestsPerMinute int
	BurstSize         int
}

// RateLimiter counts requests per key in fixed one-minute windows held in
// the shared cache.
type RateLimiter struct {
	cache cache.Store
	cfg   RateLimitConfig
	log   *zap.Logger
}

func NewRateLimiter(c cache.Store, cfg RateLimitConfig, log *zap.Logger) *RateLimiter {
	return &RateLimiter{cache: c, cfg: cfg, log: log.Named("ratelimit")}
}

// allow sets the X-RateLimit headers and reports whether the request may
// proceed. When the cache is unavailable requests are let through.
func (l *RateLimiter) allow(w http.ResponseWriter, r *http.Request, scope, clientID string) bool {
	if l == nil || l.cfg.RequestsPerMinute <= 0 {
		return true
	}
	window := time.Minute
	key := fmt.Sprintf("ratelimit:%s:%s", scope, clientID)

	count, err := l.cache.IncrWithExpire(r.Context(), key, window)
	if err != nil {
		l.log.Warn("rate limit check failed, allowing request", zap.Error(err))
		return true
	}

	limit := l.cfg.RequestsPerMinute
	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(window).Unix(), 10))

	if int(count) > limit+l.cfg.BurstSize {
		w.Header().Set("Retry-After", strconv.Itoa(int(window.Seconds())))
		rateLimitedTotal.WithLabelValues(scope).Inc()
		return false
	}
	return true
}

// ByIP returns middleware limiting requests per client address.
func (l *RateLimiter) ByIP(scope string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.allow(w, r, scope, "ip:"+clientIP(r)) {
				writeRPCError(w, ErrRateLimited)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP relies on chi's RealIP middleware having rewritten RemoteAddr.
func clientIP(r *http.Request) string {
	addr := r.RemoteAddr
	if i := strings.LastIndex(addr, ":"); i > 0 && !strings.HasSuffix(addr, "]") {
		return addr[:i]
	}
	return addr
}
