package middleware

import (
	"net"
	"net/http"
	"strings"
	"thinkhive-api/internal/config"
	"thinkhive-api/internal/logger"
	"thinkhive-api/internal/services"

	"github.com/sirupsen/logrus"
)

// RateLimiter guards the public answer endpoint with two per-client-IP
// sliding windows: a burst window and a daily one. Both must admit the
// request before any paid downstream call is made.
type RateLimiter struct {
	limiter services.RateLimiter
	cfg     *config.RateLimitConfig
}

func NewRateLimiter(limiter services.RateLimiter, cfg *config.RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		limiter: limiter,
		cfg:     cfg,
	}
}

func (rl *RateLimiter) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)

		allowed, err := rl.limiter.Allow(r.Context(), "ratelimit:burst:"+ip, rl.cfg.BurstLimit, rl.cfg.BurstWindow)
		if err == nil && allowed {
			allowed, err = rl.limiter.Allow(r.Context(), "ratelimit:daily:"+ip, rl.cfg.DailyLimit, rl.cfg.DailyWindow)
		}

		if err != nil {
			logger.LogEvent(logrus.ErrorLevel, "Rate limiter unavailable", logrus.Fields{
				"ip":    ip,
				"error": err.Error(),
			})
			http.Error(w, "Service unavailable", http.StatusServiceUnavailable)
			return
		}

		if !allowed {
			w.Header().Set("Retry-After", "60")
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
