package security

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"github.com/ecommerce/backend/pkg/domain"
	"github.com/ecommerce/backend/pkg/policy"
	"github.com/ecommerce/backend/pkg/telemetry"
)

// Verdict is an authorization outcome. Challenge marks a denial that
// authenticating could turn into an allow.
type Verdict struct {
	Allowed   bool
	Challenge bool
	Reason    string
}

// Authorizer decides whether a principal may perform a request.
type Authorizer interface {
	Authorize(ctx context.Context, r *http.Request, p domain.Principal) (Verdict, error)
}

type compiledRule struct {
	matcher requestMatcher
	access  domain.Access
	roles   []string
}

// ruleAuthorizer applies the first matching rule, falling back to anyRequest.
type ruleAuthorizer struct {
	rules      []compiledRule
	anyRequest domain.Access
}

func newRuleAuthorizer(s domain.AuthorizationSettings) (*ruleAuthorizer, error) {
	a := &ruleAuthorizer{anyRequest: s.AnyRequest}
	for i, rule := range s.Rules {
		m, err := newRequestMatcher(rule.Methods, rule.Paths)
		if err != nil {
			return nil, domain.NewConfigError(fmt.Sprintf("authorization.rules[%d]", i), err.Error())
		}
		a.rules = append(a.rules, compiledRule{matcher: m, access: rule.Access, roles: rule.Roles})
	}
	return a, nil
}

func (a *ruleAuthorizer) Authorize(_ context.Context, r *http.Request, p domain.Principal) (Verdict, error) {
	for i, rule := range a.rules {
		if rule.matcher.matches(r.Method, r.URL.Path) {
			return verdictFor(rule.access, rule.roles, p, fmt.Sprintf("rule %d: %s", i, rule.access)), nil
		}
	}
	return verdictFor(a.anyRequest, nil, p, "any request: "+string(a.anyRequest)), nil
}

func verdictFor(access domain.Access, roles []string, p domain.Principal, reason string) Verdict {
	allowed := grants(access, roles, p)
	return Verdict{
		Allowed:   allowed,
		Challenge: !allowed && !p.Authenticated && needsAuthentication(access),
		Reason:    reason,
	}
}

// needsAuthentication reports whether access can only be granted to an
// authenticated principal.
func needsAuthentication(access domain.Access) bool {
	switch access {
	case domain.AccessAuthenticated, domain.AccessHasRole, domain.AccessHasAnyRole:
		return true
	default:
		return false
	}
}

func grants(access domain.Access, roles []string, p domain.Principal) bool {
	switch access {
	case domain.AccessPermitAll:
		return true
	case domain.AccessAuthenticated:
		return p.Authenticated
	case domain.AccessAnonymous:
		return !p.Authenticated
	case domain.AccessHasRole, domain.AccessHasAnyRole:
		return p.Authenticated && p.HasAnyRole(roles...)
	default:
		return false
	}
}

// regoAuthorizer delegates the decision to an OPA policy. Anonymous
// denials are challenged since the policy may admit an authenticated caller.
type regoAuthorizer struct {
	eval    policy.Evaluator
	headers []string
}

func newRegoAuthorizer(ctx context.Context, s domain.RegoSettings, logger *slog.Logger) (*regoAuthorizer, error) {
	name := "authz.rego"
	module := s.Module
	if s.File != "" {
		//nolint:gosec // Policy path is controlled by admin/operator
		data, err := os.ReadFile(s.File)
		if err != nil {
			return nil, fmt.Errorf("read rego policy %s: %w", s.File, err)
		}
		name = filepath.Base(s.File)
		module = string(data)
	}

	engine, err := policy.NewEngine(ctx, policy.EngineOptions{
		Entrypoint:      s.Entrypoint,
		Modules:         map[string]string{name: module},
		CacheMaxEntries: s.CacheSize,
		Logger:          logger,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: authorization.rego: %w", domain.ErrConfigInvalid, err)
	}

	headers := make([]string, 0, len(s.Headers))
	for _, h := range s.Headers {
		headers = append(headers, http.CanonicalHeaderKey(h))
	}
	return &regoAuthorizer{eval: engine, headers: headers}, nil
}

func (a *regoAuthorizer) Authorize(ctx context.Context, r *http.Request, p domain.Principal) (Verdict, error) {
	input := policy.Input{
		Method:    r.Method,
		Path:      r.URL.Path,
		Principal: p,
	}
	if len(a.headers) > 0 {
		input.Headers = make(map[string]string, len(a.headers))
		for _, h := range a.headers {
			if v := r.Header.Get(h); v != "" {
				input.Headers[strings.ToLower(h)] = v
			}
		}
	}

	decision, err := a.eval.Evaluate(ctx, input)
	if err != nil {
		return Verdict{}, fmt.Errorf("%w: %w", domain.ErrPolicyEvalFailed, err)
	}
	telemetry.RecordPolicyDecision(trace.SpanFromContext(ctx), decision)

	allowed := decision.Allowed()
	return Verdict{
		Allowed:   allowed,
		Challenge: !allowed && !p.Authenticated,
		Reason:    decision.Reason,
	}, nil
}

func newAuthorizer(ctx context.Context, s domain.AuthorizationSettings, logger *slog.Logger) (Authorizer, error) {
	if s.Rego != nil {
		return newRegoAuthorizer(ctx, *s.Rego, logger)
	}
	return newRuleAuthorizer(s)
}

// authorizationFilter rejects requests the authorizer denies. A challenged
// denial gets 401; every other denial gets 403.
type authorizationFilter struct {
	authz Authorizer
	obs   observer
}

func newAuthorizationFilter(authz Authorizer, obs observer) *authorizationFilter {
	return &authorizationFilter{authz: authz, obs: obs}
}

func (f *authorizationFilter) Name() string { return FilterAuthorization }

func (f *authorizationFilter) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal := PrincipalFromContext(r.Context())

		verdict, err := f.authz.Authorize(r.Context(), r, principal)
		if err != nil {
			f.obs.reject(w, r, FilterAuthorization, rejection{
				status:  http.StatusInternalServerError,
				code:    domain.CodePolicyError,
				message: "authorization policy could not be evaluated",
				err:     err,
			})
			return
		}

		if !verdict.Allowed {
			rej := rejection{
				status:  http.StatusForbidden,
				code:    domain.CodeAccessDenied,
				message: "access denied",
				err:     fmt.Errorf("%w: %s", domain.ErrAuthorizationDenied, verdict.Reason),
			}
			if verdict.Challenge {
				rej.status = http.StatusUnauthorized
				rej.code = domain.CodeAuthenticationRequired
				rej.message = "authentication required"
			}
			f.obs.reject(w, r, FilterAuthorization, rej)
			return
		}

		f.obs.allow(r, FilterAuthorization)
		next.ServeHTTP(w, r)
	})
}
