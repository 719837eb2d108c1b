package security

import (
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/ecommerce/backend/pkg/domain"
	"github.com/ecommerce/backend/pkg/policy"
)

// Settings is the input of Build.
type Settings = domain.SecuritySettings

// Defaults for the CSRF token names and HSTS lifetime.
const (
	DefaultCSRFCookieName    = "XSRF-TOKEN"
	DefaultCSRFHeaderName    = "X-XSRF-TOKEN"
	DefaultCSRFParameterName = "_csrf"
	DefaultHSTSMaxAgeSeconds = 31536000
)

// DevelopmentSettings returns the permissive development chain: every
// request is permitted, CSRF and frame-options protection are off.
func DevelopmentSettings() Settings {
	return Settings{
		Profile: domain.ProfileDevelopment,
		Authorization: domain.AuthorizationSettings{
			AnyRequest: domain.AccessPermitAll,
		},
		CSRF:    &domain.CSRFSettings{Enabled: false},
		Headers: domain.HeaderSettings{FrameOptions: domain.FrameOptionsDisabled},
	}
}

// ProductionSettings returns the production chain defaults: every request
// must be authenticated, CSRF, frame-options and HSTS protection are on.
func ProductionSettings() Settings {
	return Settings{
		Profile: domain.ProfileProduction,
		Authorization: domain.AuthorizationSettings{
			AnyRequest: domain.AccessAuthenticated,
		},
		CSRF:    &domain.CSRFSettings{Enabled: true},
		Headers: domain.HeaderSettings{FrameOptions: domain.FrameOptionsDeny},
	}
}

// effectiveSettings are settings with every profile default filled in.
// CSRF and Headers.HSTS are never nil and header toggles are never nil.
type effectiveSettings struct {
	Settings
}

// resolve fills profile defaults into a copy of s and validates the result.
func resolve(s Settings) (effectiveSettings, error) {
	profile, ok := domain.ParseProfile(string(s.Profile))
	if !ok {
		return effectiveSettings{}, domain.NewConfigError("profile", fmt.Sprintf("unknown profile %q", s.Profile))
	}

	eff := effectiveSettings{Settings: cloneSettings(s)}
	eff.Profile = profile
	production := profile == domain.ProfileProduction

	if eff.Authorization.AnyRequest == "" {
		eff.Authorization.AnyRequest = defaultAnyRequest(profile)
	}

	if eff.CSRF == nil {
		eff.CSRF = &domain.CSRFSettings{Enabled: production}
	}
	if eff.CSRF.CookieName == "" {
		eff.CSRF.CookieName = DefaultCSRFCookieName
	}
	if eff.CSRF.HeaderName == "" {
		eff.CSRF.HeaderName = DefaultCSRFHeaderName
	}
	if eff.CSRF.ParameterName == "" {
		eff.CSRF.ParameterName = DefaultCSRFParameterName
	}

	if rego := eff.Authorization.Rego; rego != nil && rego.Entrypoint == "" {
		rego.Entrypoint = policy.DefaultEntrypoint
	}

	h := &eff.Headers
	if h.FrameOptions == "" {
		if production {
			h.FrameOptions = domain.FrameOptionsDeny
		} else {
			h.FrameOptions = domain.FrameOptionsDisabled
		}
	}
	h.FrameOptions = domain.FrameOptionsMode(strings.ToLower(string(h.FrameOptions)))
	h.ContentTypeOptions = defaultTrue(h.ContentTypeOptions)
	h.CacheControl = defaultTrue(h.CacheControl)
	h.XSSProtection = defaultTrue(h.XSSProtection)
	if h.HSTS == nil {
		h.HSTS = &domain.HSTSSettings{Enabled: production, IncludeSubDomains: true}
	}
	if h.HSTS.Enabled && h.HSTS.MaxAgeSeconds == 0 {
		h.HSTS.MaxAgeSeconds = DefaultHSTSMaxAgeSeconds
	}

	if err := eff.validate(); err != nil {
		return effectiveSettings{}, err
	}
	return eff, nil
}

func defaultAnyRequest(profile domain.Profile) domain.Access {
	if profile == domain.ProfileProduction {
		return domain.AccessAuthenticated
	}
	return domain.AccessPermitAll
}

func (e effectiveSettings) validate() error {
	authz := e.Authorization
	if !authz.AnyRequest.Valid() {
		return domain.NewConfigError("authorization.any_request", fmt.Sprintf("unknown access %q", authz.AnyRequest))
	}
	if authz.AnyRequest.NeedsRoles() {
		return domain.NewConfigError("authorization.any_request", "role based access needs a rule with roles")
	}

	for i, rule := range authz.Rules {
		field := fmt.Sprintf("authorization.rules[%d]", i)
		if !rule.Access.Valid() {
			return domain.NewConfigError(field+".access", fmt.Sprintf("unknown access %q", rule.Access))
		}
		if rule.Access.NeedsRoles() && len(rule.Roles) == 0 {
			return domain.NewConfigError(field+".roles", fmt.Sprintf("access %q needs at least one role", rule.Access))
		}
		if rule.Access == domain.AccessHasRole && len(rule.Roles) > 1 {
			return domain.NewConfigError(field+".roles", "has_role takes exactly one role, use has_any_role")
		}
		for _, m := range rule.Methods {
			if !validMethod(m) {
				return domain.NewConfigError(field+".methods", fmt.Sprintf("invalid method %q", m))
			}
		}
		for _, p := range rule.Paths {
			if err := validatePattern(p); err != nil {
				return domain.NewConfigError(field+".paths", err.Error())
			}
		}
	}

	if rego := authz.Rego; rego != nil {
		if len(authz.Rules) > 0 {
			return domain.NewConfigError("authorization", "rules and rego are mutually exclusive")
		}
		if authz.AnyRequest != defaultAnyRequest(e.Profile) {
			return domain.NewConfigError("authorization.any_request", "has no effect when rego is configured")
		}
		hasModule := strings.TrimSpace(rego.Module) != ""
		hasFile := strings.TrimSpace(rego.File) != ""
		if hasModule == hasFile {
			return domain.NewConfigError("authorization.rego", "exactly one of module or file is required")
		}
	}

	for _, p := range e.CSRF.IgnorePaths {
		if err := validatePattern(p); err != nil {
			return domain.NewConfigError("csrf.ignore_paths", err.Error())
		}
	}

	switch e.Headers.FrameOptions {
	case domain.FrameOptionsDeny, domain.FrameOptionsSameOrigin, domain.FrameOptionsDisabled:
	default:
		return domain.NewConfigError("headers.frame_options", fmt.Sprintf("unknown mode %q", e.Headers.FrameOptions))
	}

	if e.Headers.HSTS.MaxAgeSeconds < 0 {
		return domain.NewConfigError("headers.hsts.max_age_seconds", "must not be negative")
	}

	return nil
}

// checkProduction lists the protections a production chain would lose.
// They are returned as warnings when AllowInsecure is set, otherwise as
// an error wrapping domain.ErrInsecureProduction.
func (e effectiveSettings) checkProduction() ([]string, error) {
	if e.Profile != domain.ProfileProduction {
		return nil, nil
	}

	var reasons []string
	if e.Authorization.Rego == nil && e.Authorization.AnyRequest == domain.AccessPermitAll {
		reasons = append(reasons, "unmatched requests are permitted without authentication")
	}
	if !e.CSRF.Enabled {
		reasons = append(reasons, "csrf protection is disabled")
	}
	if e.Headers.FrameOptions == domain.FrameOptionsDisabled {
		reasons = append(reasons, "frame options header is disabled")
	}

	if len(reasons) == 0 {
		return nil, nil
	}
	if e.AllowInsecure {
		return reasons, nil
	}
	return nil, fmt.Errorf("%w: %s (set allow_insecure to override)", domain.ErrInsecureProduction, strings.Join(reasons, "; "))
}

func (e effectiveSettings) clone() Settings {
	return cloneSettings(e.Settings)
}

func cloneSettings(s Settings) Settings {
	out := s

	out.Authorization.Rules = make([]domain.AccessRule, len(s.Authorization.Rules))
	for i, r := range s.Authorization.Rules {
		out.Authorization.Rules[i] = domain.AccessRule{
			Methods: slices.Clone(r.Methods),
			Paths:   slices.Clone(r.Paths),
			Access:  r.Access,
			Roles:   slices.Clone(r.Roles),
		}
	}
	if s.Authorization.Rego != nil {
		rego := *s.Authorization.Rego
		rego.Headers = slices.Clone(rego.Headers)
		out.Authorization.Rego = &rego
	}
	if s.CSRF != nil {
		csrf := *s.CSRF
		csrf.IgnorePaths = slices.Clone(csrf.IgnorePaths)
		out.CSRF = &csrf
	}
	if s.Headers.HSTS != nil {
		hsts := *s.Headers.HSTS
		out.Headers.HSTS = &hsts
	}
	out.Headers.ContentTypeOptions = cloneBool(s.Headers.ContentTypeOptions)
	out.Headers.CacheControl = cloneBool(s.Headers.CacheControl)
	out.Headers.XSSProtection = cloneBool(s.Headers.XSSProtection)

	return out
}

func defaultTrue(b *bool) *bool {
	if b != nil {
		return b
	}
	v := true
	return &v
}

func cloneBool(b *bool) *bool {
	if b == nil {
		return nil
	}
	v := *b
	return &v
}

func validMethod(m string) bool {
	if m == "" {
		return false
	}
	switch strings.ToUpper(m) {
	case http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut, http.MethodPatch,
		http.MethodDelete, http.MethodConnect, http.MethodOptions, http.MethodTrace:
		return true
	default:
		return false
	}
}
