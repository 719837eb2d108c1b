package security

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ecommerce/backend/pkg/domain"
)

type contextKey string

const principalContextKey contextKey = "principal"

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p domain.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

// PrincipalFromContext returns the authenticated caller, or the anonymous
// principal when the request carried no credentials.
func PrincipalFromContext(ctx context.Context) domain.Principal {
	if p, ok := ctx.Value(principalContextKey).(domain.Principal); ok {
		return p
	}
	return domain.AnonymousPrincipal()
}

// Authenticator turns request credentials into a principal.
// ok is false when the request presented no credentials it understands.
type Authenticator interface {
	Authenticate(r *http.Request) (p domain.Principal, ok bool, err error)
}

// Claims is the JWT payload accepted by the bearer authenticator.
type Claims struct {
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

type jwtAuthenticator struct {
	secret []byte
	parser *jwt.Parser
}

func newJWTAuthenticator(s domain.JWTSettings, now func() time.Time) *jwtAuthenticator {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(30 * time.Second),
	}
	if s.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.Issuer))
	}
	if s.Audience != "" {
		opts = append(opts, jwt.WithAudience(s.Audience))
	}
	if now != nil {
		opts = append(opts, jwt.WithTimeFunc(now))
	}
	return &jwtAuthenticator{secret: []byte(s.Secret), parser: jwt.NewParser(opts...)}
}

func (a *jwtAuthenticator) Authenticate(r *http.Request) (domain.Principal, bool, error) {
	raw, ok := bearerToken(r)
	if !ok {
		return domain.Principal{}, false, nil
	}

	var claims Claims
	_, err := a.parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	})
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return domain.Principal{}, true, fmt.Errorf("%w: %w", domain.ErrAuthenticationFailed, domain.ErrTokenExpired)
	case err != nil:
		return domain.Principal{}, true, fmt.Errorf("%w: %w: %w", domain.ErrAuthenticationFailed, domain.ErrInvalidToken, err)
	}

	if claims.Subject == "" {
		return domain.Principal{}, true, fmt.Errorf("%w: %w: missing subject", domain.ErrAuthenticationFailed, domain.ErrInvalidToken)
	}

	return domain.Principal{
		Subject:       claims.Subject,
		Roles:         claims.Roles,
		Authenticated: true,
	}, true, nil
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// SignToken issues an HS256 token the bearer authenticator accepts.
func SignToken(s domain.JWTSettings, subject string, roles []string, issuedAt time.Time, ttl time.Duration) (string, error) {
	if s.Secret == "" {
		return "", domain.NewConfigError("authentication.jwt.secret", "required to sign tokens")
	}
	claims := Claims{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    s.Issuer,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
		},
	}
	if s.Audience != "" {
		claims.Audience = jwt.ClaimStrings{s.Audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.Secret))
}

// authenticationFilter resolves the request principal. Requests without
// bearer credentials continue as anonymous; invalid credentials are rejected.
type authenticationFilter struct {
	authn Authenticator
	obs   observer
}

func newAuthenticationFilter(authn Authenticator, obs observer) *authenticationFilter {
	return &authenticationFilter{authn: authn, obs: obs}
}

func (f *authenticationFilter) Name() string { return FilterAuthentication }

func (f *authenticationFilter) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok, err := f.authn.Authenticate(r)
		if err != nil {
			msg := "invalid bearer token"
			if errors.Is(err, domain.ErrTokenExpired) {
				msg = "bearer token expired"
			}
			f.obs.reject(w, r, FilterAuthentication, rejection{
				status:  http.StatusUnauthorized,
				code:    domain.CodeAuthenticationFailed,
				message: msg,
				err:     err,
			})
			return
		}
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		f.obs.allow(r, FilterAuthentication)
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
	})
}
