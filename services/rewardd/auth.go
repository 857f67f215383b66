package rewardd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"finova/observability"
)

// Scopes understood by the API.
const (
	ScopeWrite  = "rewards:write"
	ScopeReview = "rewards:review"
)

type principalKey struct{}

// Principal is the authenticated caller.
type Principal struct {
	Subject string
	Scopes  []string
}

// principalFrom returns the caller attached by the authenticator, if any.
func principalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// authenticator checks HMAC-signed bearer tokens. An empty secret disables
// authentication.
type authenticator struct {
	cfg    AuthConfig
	secret []byte
	logger *slog.Logger
}

func newAuthenticator(cfg AuthConfig, logger *slog.Logger) *authenticator {
	if cfg.ClockSkew.Duration <= 0 {
		cfg.ClockSkew.Duration = 2 * time.Minute
	}
	return &authenticator{cfg: cfg, secret: []byte(strings.TrimSpace(cfg.HMACSecret)), logger: logger}
}

func (a *authenticator) enabled() bool { return len(a.secret) > 0 }

func (a *authenticator) require(route string, scopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !a.enabled() {
				next.ServeHTTP(w, r)
				return
			}
			raw := extractBearer(r.Header.Get("Authorization"))
			if raw == "" {
				observability.API().RecordThrottle(route, "unauthenticated")
				writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
				return
			}
			principal, err := a.parse(raw)
			if err != nil {
				a.logger.Warn("token rejected", slog.String("route", route), slog.Any("error", err))
				observability.API().RecordThrottle(route, "unauthenticated")
				writeError(w, http.StatusUnauthorized, errors.New("invalid token"))
				return
			}
			if !hasScopes(principal.Scopes, scopes) {
				observability.API().RecordThrottle(route, "forbidden")
				writeError(w, http.StatusForbidden, errors.New("insufficient scope"))
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, principal)))
		})
	}
}

func (a *authenticator) parse(raw string) (Principal, error) {
	opts := []jwt.ParserOption{
		jwt.WithLeeway(a.cfg.ClockSkew.Duration),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg(), jwt.SigningMethodHS384.Alg(), jwt.SigningMethodHS512.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if a.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.cfg.Issuer))
	}
	if a.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(a.cfg.Audience))
	}
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return Principal{}, err
	}
	if !token.Valid {
		return Principal{}, errors.New("token invalid")
	}
	subject, err := claims.GetSubject()
	if err != nil || strings.TrimSpace(subject) == "" {
		return Principal{}, errors.New("subject required")
	}
	return Principal{Subject: subject, Scopes: extractScopes(claims)}, nil
}

func extractScopes(claims jwt.MapClaims) []string {
	switch v := claims["scope"].(type) {
	case string:
		return strings.Fields(v)
	case []any:
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

func hasScopes(scopes, required []string) bool {
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
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
