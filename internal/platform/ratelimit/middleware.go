package ratelimit

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"livecheck/pkg/platform/httputil"
	"livecheck/pkg/requestcontext"
)

// Rule is a quota of Limit requests per Window for one route class.
type Rule struct {
	Name   string
	Limit  int
	Window time.Duration
}

// Disabled reports whether the rule lets everything through.
func (r Rule) Disabled() bool {
	return r.Limit <= 0 || r.Window <= 0
}

// ExceededResponse is the 429 body.
type ExceededResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after"`
}

// Middleware applies Rules keyed by the authenticated user, falling back to
// the client IP for anonymous requests.
type Middleware struct {
	limiter Limiter
	logger  *slog.Logger
}

func NewMiddleware(limiter Limiter, logger *slog.Logger) *Middleware {
	return &Middleware{limiter: limiter, logger: logger}
}

// Limit enforces rule. Limiter errors fail open.
func (m *Middleware) Limit(rule Rule) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if rule.Disabled() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			key := rule.Name + ":" + subject(r)

			result, err := m.limiter.Allow(ctx, key, rule.Limit, rule.Window)
			if err != nil {
				m.logger.ErrorContext(ctx, "rate limit check failed", "error", err, "rule", rule.Name)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

			if !result.Allowed {
				m.logger.WarnContext(ctx, "rate limit exceeded",
					"rule", rule.Name,
					"request_id", requestcontext.RequestID(ctx),
				)
				w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
				httputil.WriteJSON(w, http.StatusTooManyRequests, &ExceededResponse{
					Error:      "rate_limit_exceeded",
					Message:    "Too many requests. Please slow down.",
					RetryAfter: result.RetryAfter,
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func subject(r *http.Request) string {
	ctx := r.Context()
	if userID := requestcontext.UserID(ctx); !userID.IsNil() {
		return "user:" + userID.String()
	}
	if ip := requestcontext.ClientIP(ctx); ip != "" {
		return "ip:" + ip
	}
	return "ip:" + r.RemoteAddr
}
