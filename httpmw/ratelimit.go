package httpmw

import (
	"net"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimit is the token-bucket configuration for one route group.
type RateLimit struct {
	RatePerSecond float64
	Burst         int
}

// RateLimiter enforces a per-caller token bucket for routes registered under
// a key, identifying callers by node cert_token or source IP the same way
// the cluster's gateway identifies external API callers.
type RateLimiter struct {
	mu       sync.Mutex
	limits   map[string]RateLimit
	visitors map[string]*rate.Limiter
}

// NewRateLimiter builds a limiter keyed by route group name.
func NewRateLimiter(limits map[string]RateLimit) *RateLimiter {
	return &RateLimiter{
		limits:   limits,
		visitors: make(map[string]*rate.Limiter),
	}
}

// Middleware wraps next with the limit registered under key; routes with no
// registered key pass through unlimited.
func (r *RateLimiter) Middleware(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			limit, ok := r.limits[key]
			if !ok {
				next.ServeHTTP(w, req)
				return
			}
			id := key + "|" + callerID(req)
			if !r.obtain(id, limit).Allow() {
				http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}

func (r *RateLimiter) obtain(id string, cfg RateLimit) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.visitors[id]; ok {
		return l
	}
	perSecond := cfg.RatePerSecond
	if perSecond <= 0 {
		perSecond = 1
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	l := rate.NewLimiter(rate.Limit(perSecond), burst)
	r.visitors[id] = l
	return l
}

func callerID(r *http.Request) string {
	if token := strings.TrimSpace(r.Header.Get("X-Cert-Token")); token != "" {
		return "cert:" + token
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if ip := net.ParseIP(strings.TrimSpace(strings.Split(fwd, ",")[0])); ip != nil {
			return ip.String()
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
