package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken      = errors.New("missing bearer token")
	ErrInvalidToken      = errors.New("invalid token")
	ErrInsufficientScope = errors.New("insufficient scope")
)

type AuthConfig struct {
	Enabled    bool
	HMACSecret string
	Issuer     string
	Audience   string
	ScopeClaim string
	ClockSkew  time.Duration
}

type contextKey string

const (
	ContextKeySubject contextKey = "openbounty.subject"
	ContextKeyScopes  contextKey = "openbounty.scopes"
)

// Authenticator validates HS256 bearer tokens for privileged operations such
// as the faucet.
type Authenticator struct {
	cfg    AuthConfig
	logger *slog.Logger
	secret []byte
	nowFn  func() time.Time
}

func NewAuthenticator(cfg AuthConfig, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ScopeClaim == "" {
		cfg.ScopeClaim = "scope"
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 2 * time.Minute
	}
	return &Authenticator{
		cfg:    cfg,
		logger: logger,
		secret: []byte(strings.TrimSpace(cfg.HMACSecret)),
		nowFn:  time.Now,
	}
}

// Enabled reports whether requests must carry a token.
func (a *Authenticator) Enabled() bool {
	return a != nil && a.cfg.Enabled
}

// Authorize checks the bearer token on r and returns a context carrying its
// subject and scopes. With authentication disabled r's context is returned
// unchanged.
func (a *Authenticator) Authorize(r *http.Request, requiredScopes ...string) (context.Context, error) {
	if !a.Enabled() {
		return r.Context(), nil
	}
	tokenString := extractBearer(r.Header.Get("Authorization"))
	if tokenString == "" {
		return nil, ErrMissingToken
	}
	claims, err := a.parseToken(tokenString)
	if err != nil {
		a.logger.Debug("auth: token validation failed", "error", err)
		return nil, ErrInvalidToken
	}
	if err := validateClaims(claims, a.cfg.Issuer, a.cfg.Audience, a.nowFn()); err != nil {
		a.logger.Debug("auth: claim validation failed", "error", err)
		return nil, ErrInvalidToken
	}
	scopes := extractScopes(claims, a.cfg.ScopeClaim)
	if !hasScopes(scopes, requiredScopes) {
		return nil, ErrInsufficientScope
	}
	subject, _ := claims["sub"].(string)
	ctx := context.WithValue(r.Context(), ContextKeySubject, subject)
	ctx = context.WithValue(ctx, ContextKeyScopes, scopes)
	return ctx, nil
}

func (a *Authenticator) Middleware(requiredScopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, err := a.Authorize(r, requiredScopes...)
			switch {
			case errors.Is(err, ErrInsufficientScope):
				http.Error(w, err.Error(), http.StatusForbidden)
				return
			case err != nil:
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (a *Authenticator) parseToken(tokenString string) (jwt.MapClaims, error) {
	if len(a.secret) == 0 {
		return nil, errors.New("auth secret not configured")
	}
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwt.WithLeeway(a.cfg.ClockSkew), jwt.WithTimeFunc(a.nowFn))
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

func validateClaims(claims jwt.MapClaims, issuer, audience string, now time.Time) error {
	if issuer != "" {
		if value, ok := claims["iss"].(string); !ok || value != issuer {
			return errors.New("issuer mismatch")
		}
	}
	if audience != "" {
		matched := false
		switch val := claims["aud"].(type) {
		case string:
			matched = val == audience
		case []interface{}:
			for _, entry := range val {
				if s, ok := entry.(string); ok && s == audience {
					matched = true
					break
				}
			}
		}
		if !matched {
			return errors.New("audience mismatch")
		}
	}
	if _, ok := claims["exp"]; !ok {
		return errors.New("token has no expiry")
	}
	return nil
}

func extractScopes(claims jwt.MapClaims, scopeClaim string) []string {
	raw, ok := claims[scopeClaim]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case string:
		return strings.Fields(v)
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
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
