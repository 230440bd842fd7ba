package middleware

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/technosupport/ts-vigil/internal/ratelimit"
)

type RateLimitConfig struct {
	PerIP      ratelimit.LimitConfig `yaml:"per_ip" envPrefix:"PER_IP_"`
	PerService ratelimit.LimitConfig `yaml:"per_service" envPrefix:"PER_SERVICE_"`
	// IPHashSalt salts client addresses before they become Redis keys.
	IPHashSalt string `yaml:"ip_hash_salt" env:"IP_HASH_SALT"`
}

type RateLimitMiddleware struct {
	limiter *ratelimit.Limiter
	config  RateLimitConfig
}

func NewRateLimitMiddleware(l *ratelimit.Limiter, c RateLimitConfig) *RateLimitMiddleware {
	return &RateLimitMiddleware{limiter: l, config: c}
}

// Limit applies the per-IP budget and, for authenticated callers, the
// per-service budget. Redis failures let the request through.
func (m *RateLimitMiddleware) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.config.PerIP.Enabled() {
			key := fmt.Sprintf("vigil:rl:ip:%s", m.limiter.HashIP(clientIP(r)))
			if !m.allow(w, r, key, m.config.PerIP, "ip") {
				return
			}
		}
		if caller, ok := GetCaller(r.Context()); ok && m.config.PerService.Enabled() {
			key := fmt.Sprintf("vigil:rl:svc:%s", caller.Service)
			if !m.allow(w, r, key, m.config.PerService, "service") {
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (m *RateLimitMiddleware) allow(w http.ResponseWriter, r *http.Request, key string, cfg ratelimit.LimitConfig, scope string) bool {
	decision, err := m.limiter.Check(r.Context(), key, cfg)
	if err != nil {
		RecordRateLimit(scope, "error")
		log.Warn().Err(err).Str("scope", scope).Msg("rate limit check failed, failing open")
		return true
	}
	writeRateLimitHeaders(w, decision)
	if !decision.Allowed {
		RecordRateLimit(scope, "blocked")
		respondError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return false
	}
	RecordRateLimit(scope, "allowed")
	return true
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeRateLimitHeaders(w http.ResponseWriter, d *ratelimit.Decision) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.Reset.Unix(), 10))
	if !d.Allowed {
		w.Header().Set("Retry-After", strconv.Itoa(d.RetryAfter))
	}
}
