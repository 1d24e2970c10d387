// JWT-based auth for the coordinator's operator/admin surface (reputation
// and violation lookups over the audit store) — separate from the
// node-to-coordinator registry/PKI/vote routes, which authenticate by PSK,
// cert_token, or mTLS instead.
package httpmw

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// AdminAuthConfig configures bearer-token validation for operator routes.
type AdminAuthConfig struct {
	Enabled        bool
	HMACSecret     string
	Issuer         string
	Audience       string
	ScopeClaim     string
	OptionalPaths  []string
	AllowAnonymous bool
	ClockSkew      time.Duration
}

type adminAuthContextKey string

const (
	ContextKeyAdminToken  adminAuthContextKey = "admin.token"
	ContextKeyAdminScopes adminAuthContextKey = "admin.scopes"
)

// AdminAuthenticator gates the operator HTTP surface behind bearer JWTs
// signed with the cluster's admin HMAC secret. Disabled by default; a
// cluster with no operator API exposed never pays the parsing cost.
type AdminAuthenticator struct {
	cfg    AdminAuthConfig
	logger *slog.Logger
	secret []byte
	once   sync.Once
}

// NewAdminAuthenticator builds an authenticator from cfg. logger may be nil,
// in which case slog.Default() is used.
func NewAdminAuthenticator(cfg AdminAuthConfig, logger *slog.Logger) *AdminAuthenticator {
	if logger == nil {
		logger = slog.Default()
	}
	a := &AdminAuthenticator{cfg: cfg, logger: logger}
	a.once.Do(func() {
		a.secret = []byte(strings.TrimSpace(cfg.HMACSecret))
		if a.cfg.ScopeClaim == "" {
			a.cfg.ScopeClaim = "scope"
		}
		if a.cfg.ClockSkew <= 0 {
			a.cfg.ClockSkew = 2 * time.Minute
		}
	})
	return a
}

// Middleware requires a valid bearer token carrying every scope in
// requiredScopes. Routes under cfg.OptionalPaths bypass auth entirely when
// AllowAnonymous is set; everything else is rejected when Enabled is false
// is NOT implied — Enabled gates the whole authenticator, OptionalPaths
// gates individual routes within an enabled one.
func (a *AdminAuthenticator) Middleware(requiredScopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !a.cfg.Enabled {
				next.ServeHTTP(w, r)
				return
			}
			if a.isOptional(r.URL.Path) && a.cfg.AllowAnonymous {
				next.ServeHTTP(w, r)
				return
			}
			tokenString := extractBearer(r.Header.Get("Authorization"))
			if tokenString == "" {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}
			claims, err := a.parseToken(tokenString)
			if err != nil {
				a.logger.Warn("admin auth: token validation failed", "error", err)
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			if err := validateAdminClaims(claims, a.cfg.Issuer, a.cfg.Audience); err != nil {
				a.logger.Warn("admin auth: claim validation failed", "error", err)
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			scopes := extractScopes(claims, a.cfg.ScopeClaim)
			if len(requiredScopes) > 0 && !hasScopes(scopes, requiredScopes) {
				http.Error(w, "insufficient scope", http.StatusForbidden)
				return
			}
			ctx := context.WithValue(r.Context(), ContextKeyAdminToken, tokenString)
			ctx = context.WithValue(ctx, ContextKeyAdminScopes, scopes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (a *AdminAuthenticator) isOptional(path string) bool {
	for _, prefix := range a.cfg.OptionalPaths {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (a *AdminAuthenticator) parseToken(tokenString string) (jwt.MapClaims, error) {
	if len(a.secret) == 0 {
		return nil, errors.New("admin auth secret not configured")
	}
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwt.WithLeeway(a.cfg.ClockSkew))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("token invalid")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("claims not map")
	}
	return claims, nil
}

func validateAdminClaims(claims jwt.MapClaims, issuer, audience string) error {
	if issuer != "" {
		if value, ok := claims["iss"].(string); !ok || value != issuer {
			return errors.New("issuer mismatch")
		}
	}
	if audience != "" {
		switch val := claims["aud"].(type) {
		case string:
			if val != audience {
				return errors.New("audience mismatch")
			}
		case []interface{}:
			matched := false
			for _, entry := range val {
				if s, ok := entry.(string); ok && s == audience {
					matched = true
					break
				}
			}
			if !matched {
				return errors.New("audience mismatch")
			}
		}
	}
	if exp, ok := claims["exp"].(float64); ok {
		if int64(exp) < time.Now().Unix() {
			return errors.New("token expired")
		}
	}
	return nil
}

func extractScopes(claims jwt.MapClaims, scopeClaim string) []string {
	if scopeClaim == "" {
		scopeClaim = "scope"
	}
	raw, ok := claims[scopeClaim]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return nil
		}
		return strings.Fields(trimmed)
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, entry := range v {
			if s, ok := entry.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func hasScopes(scopes []string, required []string) bool {
	if len(required) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(scopes))
	for _, scope := range scopes {
		set[scope] = struct{}{}
	}
	for _, req := range required {
		if _, ok := set[req]; !ok {
			return false
		}
	}
	return true
}

func extractBearer(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
