package security

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecommerce/backend/pkg/domain"
	"github.com/ecommerce/backend/pkg/policy"
)

const allowAllRego = `package http.authz

decision := {"action": "allow"}
`

const storefrontRego = `package http.authz

default allow := false

allow if startswith(input.path, "/api/public/")

allow if {
	input.principal.authenticated
	"admin" in input.principal.roles
}

allow if input.headers["x-tenant"] == "internal"

decision := {"action": "allow", "reason": "storefront policy"} if allow

decision := {"action": "deny", "reason": "storefront policy"} if not allow
`

func TestRuleAuthorization(t *testing.T) {
	settings := productionWithJWT()
	settings.Authorization = domain.AuthorizationSettings{
		Rules: []domain.AccessRule{
			{Paths: []string{"/api/public/**", "/healthz"}, Access: domain.AccessPermitAll},
			{Methods: []string{"delete"}, Paths: []string{"/api/orders/*"}, Access: domain.AccessHasRole, Roles: []string{"admin"}},
			{Paths: []string{"/api/admin/**"}, Access: domain.AccessHasAnyRole, Roles: []string{"admin", "ops"}},
			{Paths: []string{"/login"}, Access: domain.AccessAnonymous},
			{Paths: []string{"/internal/**"}, Access: domain.AccessDenyAll},
		},
		AnyRequest: domain.AccessAuthenticated,
	}
	chain := mustBuild(t, settings)

	tests := []struct {
		name     string
		method   string
		path     string
		subject  string
		roles    []string
		wantCode int
		wantErr  string
	}{
		{name: "public prefix", method: http.MethodGet, path: "/api/public", wantCode: http.StatusOK},
		{name: "public nested", method: http.MethodGet, path: "/api/public/catalog/42", wantCode: http.StatusOK},
		{name: "second pattern of rule", method: http.MethodGet, path: "/healthz", wantCode: http.StatusOK},
		{name: "fallback anonymous", method: http.MethodGet, path: "/api/orders", wantCode: http.StatusUnauthorized, wantErr: domain.CodeAuthenticationRequired},
		{name: "fallback authenticated", method: http.MethodGet, path: "/api/orders", subject: "alice", wantCode: http.StatusOK},
		{name: "method scoped rule skipped for GET", method: http.MethodGet, path: "/api/orders/7", subject: "alice", wantCode: http.StatusOK},
		{name: "role missing", method: http.MethodDelete, path: "/api/orders/7", subject: "alice", roles: []string{"customer"}, wantCode: http.StatusForbidden, wantErr: domain.CodeAccessDenied},
		{name: "role present", method: http.MethodDelete, path: "/api/orders/7", subject: "root", roles: []string{"ADMIN"}, wantCode: http.StatusOK},
		{name: "role rule anonymous", method: http.MethodDelete, path: "/api/orders/7", wantCode: http.StatusUnauthorized, wantErr: domain.CodeAuthenticationRequired},
		{name: "single star does not span segments", method: http.MethodDelete, path: "/api/orders/7/items", subject: "alice", wantCode: http.StatusOK},
		{name: "any role", method: http.MethodGet, path: "/api/admin/reports", subject: "olga", roles: []string{"ops"}, wantCode: http.StatusOK},
		{name: "double star matches prefix", method: http.MethodGet, path: "/api/admin", subject: "alice", roles: []string{"customer"}, wantCode: http.StatusForbidden, wantErr: domain.CodeAccessDenied},
		{name: "anonymous only", method: http.MethodGet, path: "/login", wantCode: http.StatusOK},
		{name: "anonymous only rejects users", method: http.MethodGet, path: "/login", subject: "alice", wantCode: http.StatusForbidden, wantErr: domain.CodeAccessDenied},
		{name: "deny all", method: http.MethodGet, path: "/internal/debug", subject: "root", roles: []string{"admin"}, wantCode: http.StatusForbidden, wantErr: domain.CodeAccessDenied},
		{name: "deny all anonymous", method: http.MethodGet, path: "/internal/debug", wantCode: http.StatusForbidden, wantErr: domain.CodeAccessDenied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := withCSRF(httptest.NewRequest(tt.method, tt.path, nil), "tok")
			if tt.subject != "" {
				req.Header.Set("Authorization", bearer(t, tt.subject, tt.roles...))
			}

			rec := serve(chain, req)

			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			if tt.wantErr != "" {
				assert.Equal(t, tt.wantErr, decodeError(t, rec).Code)
			}
			if tt.wantCode == http.StatusForbidden {
				assert.Empty(t, rec.Header().Get("WWW-Authenticate"))
			}
		})
	}
}

func TestRegoAuthorization(t *testing.T) {
	settings := productionWithJWT()
	settings.Authorization = domain.AuthorizationSettings{
		Rego: &domain.RegoSettings{Module: storefrontRego, Headers: []string{"X-Tenant"}},
	}
	chain := mustBuild(t, settings)
	assert.Equal(t, "rego", chain.Describe().Authorizer)

	tests := []struct {
		name     string
		path     string
		subject  string
		roles    []string
		tenant   string
		wantCode int
		wantErr  string
	}{
		{name: "public", path: "/api/public/catalog", wantCode: http.StatusOK},
		{name: "anonymous denied", path: "/api/orders", wantCode: http.StatusUnauthorized, wantErr: domain.CodeAuthenticationRequired},
		{name: "user denied", path: "/api/orders", subject: "alice", wantCode: http.StatusForbidden, wantErr: domain.CodeAccessDenied},
		{name: "admin allowed", path: "/api/orders", subject: "root", roles: []string{"admin"}, wantCode: http.StatusOK},
		{name: "header input", path: "/api/orders", tenant: "internal", wantCode: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.subject != "" {
				req.Header.Set("Authorization", bearer(t, tt.subject, tt.roles...))
			}
			if tt.tenant != "" {
				req.Header.Set("X-Tenant", tt.tenant)
			}

			rec := serve(chain, req)

			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			if tt.wantErr != "" {
				assert.Equal(t, tt.wantErr, decodeError(t, rec).Code)
			}
		})
	}
}

func TestRegoPolicyFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storefront.rego")
	require.NoError(t, os.WriteFile(path, []byte(storefrontRego), 0o600))

	settings := productionWithJWT()
	settings.Authorization.Rego = &domain.RegoSettings{File: path}
	chain := mustBuild(t, settings)

	rec := serve(chain, httptest.NewRequest(http.MethodGet, "/api/public/catalog", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(chain, httptest.NewRequest(http.MethodGet, "/api/orders", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRegoEvaluationErrorFailsClosed(t *testing.T) {
	settings := productionWithJWT()
	settings.Authorization.Rego = &domain.RegoSettings{Module: `package http.authz

decision := {"action": "maybe"}
`}
	chain := mustBuild(t, settings)

	rec := serve(chain, httptest.NewRequest(http.MethodGet, "/api/public/catalog", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, domain.CodePolicyError, decodeError(t, rec).Code)
	assert.Empty(t, rec.Header().Get("X-Reached"))
}

func TestRegoBuildErrors(t *testing.T) {
	t.Run("syntax error", func(t *testing.T) {
		settings := productionWithJWT()
		settings.Authorization.Rego = &domain.RegoSettings{Module: "package http.authz\n\ndecision := {"}

		_, err := Build(context.Background(), settings, testOptions())
		require.ErrorIs(t, err, domain.ErrConfigInvalid)
	})

	t.Run("missing file", func(t *testing.T) {
		settings := productionWithJWT()
		settings.Authorization.Rego = &domain.RegoSettings{File: filepath.Join(t.TempDir(), "absent.rego")}

		_, err := Build(context.Background(), settings, testOptions())
		require.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestGrants(t *testing.T) {
	anon := domain.AnonymousPrincipal()
	user := domain.Principal{Subject: "alice", Roles: []string{"customer"}, Authenticated: true}

	assert.True(t, grants(domain.AccessPermitAll, nil, anon))
	assert.False(t, grants(domain.AccessDenyAll, nil, user))
	assert.False(t, grants(domain.AccessAuthenticated, nil, anon))
	assert.True(t, grants(domain.AccessAuthenticated, nil, user))
	assert.True(t, grants(domain.AccessAnonymous, nil, anon))
	assert.False(t, grants(domain.AccessAnonymous, nil, user))
	assert.True(t, grants(domain.AccessHasAnyRole, []string{"staff", "Customer"}, user))
	assert.False(t, grants(domain.AccessHasRole, []string{"customer"}, domain.Principal{Roles: []string{"customer"}}))
	assert.False(t, grants("unknown", nil, user))
}

func TestVerdictChallenge(t *testing.T) {
	anon := domain.AnonymousPrincipal()
	user := domain.Principal{Subject: "alice", Roles: []string{"customer"}, Authenticated: true}

	tests := []struct {
		name          string
		access        domain.Access
		roles         []string
		principal     domain.Principal
		wantAllowed   bool
		wantChallenge bool
	}{
		{name: "authenticated anonymous", access: domain.AccessAuthenticated, principal: anon, wantChallenge: true},
		{name: "has role anonymous", access: domain.AccessHasRole, roles: []string{"admin"}, principal: anon, wantChallenge: true},
		{name: "has any role anonymous", access: domain.AccessHasAnyRole, roles: []string{"admin"}, principal: anon, wantChallenge: true},
		{name: "deny all anonymous", access: domain.AccessDenyAll, principal: anon},
		{name: "deny all user", access: domain.AccessDenyAll, principal: user},
		{name: "role missing user", access: domain.AccessHasRole, roles: []string{"admin"}, principal: user},
		{name: "anonymous only user", access: domain.AccessAnonymous, principal: user},
		{name: "permit all anonymous", access: domain.AccessPermitAll, principal: anon, wantAllowed: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := verdictFor(tt.access, tt.roles, tt.principal, "test")
			assert.Equal(t, tt.wantAllowed, v.Allowed)
			assert.Equal(t, tt.wantChallenge, v.Challenge)
		})
	}
}

type stubEvaluator struct {
	decision policy.Decision
	err      error
	inputs   []policy.Input
}

func (s *stubEvaluator) Evaluate(_ context.Context, input policy.Input) (policy.Decision, error) {
	s.inputs = append(s.inputs, input)
	return s.decision, s.err
}

func TestRegoAuthorizerWithEvaluator(t *testing.T) {
	t.Run("evaluation error", func(t *testing.T) {
		eval := &stubEvaluator{err: errors.New("opa unavailable")}
		authz := &regoAuthorizer{eval: eval}

		_, err := authz.Authorize(context.Background(), httptest.NewRequest(http.MethodGet, "/api/orders", nil), domain.AnonymousPrincipal())
		require.ErrorIs(t, err, domain.ErrPolicyEvalFailed)

		filter := newAuthorizationFilter(authz, observer{logger: quietLogger()})
		rec := httptest.NewRecorder()
		filter.Wrap(reachedHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/orders", nil))

		require.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, domain.CodePolicyError, decodeError(t, rec).Code)
		assert.Empty(t, rec.Header().Get("X-Reached"))
	})

	t.Run("selected headers only", func(t *testing.T) {
		eval := &stubEvaluator{decision: policy.Decision{Action: policy.ActionAllow}}
		authz := &regoAuthorizer{eval: eval, headers: []string{"X-Tenant"}}

		req := httptest.NewRequest(http.MethodPost, "/api/orders", nil)
		req.Header.Set("X-Tenant", "internal")
		req.Header.Set("Cookie", "session=secret")

		v, err := authz.Authorize(context.Background(), req, domain.AnonymousPrincipal())
		require.NoError(t, err)
		assert.True(t, v.Allowed)
		require.Len(t, eval.inputs, 1)
		assert.Equal(t, map[string]string{"x-tenant": "internal"}, eval.inputs[0].Headers)
		assert.Equal(t, http.MethodPost, eval.inputs[0].Method)
	})

	t.Run("deny challenges only anonymous callers", func(t *testing.T) {
		authz := &regoAuthorizer{eval: &stubEvaluator{decision: policy.Decision{Action: policy.ActionDeny}}}
		req := httptest.NewRequest(http.MethodGet, "/", nil)

		v, err := authz.Authorize(context.Background(), req, domain.AnonymousPrincipal())
		require.NoError(t, err)
		assert.True(t, v.Challenge)

		v, err = authz.Authorize(context.Background(), req, domain.Principal{Subject: "alice", Authenticated: true})
		require.NoError(t, err)
		assert.False(t, v.Challenge)
	})
}
