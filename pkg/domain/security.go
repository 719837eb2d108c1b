package domain

import (
	"slices"
	"strings"
)

// Profile selects the security posture the filter chain is built for.
type Profile string

const (
	// ProfileDevelopment permits every request and turns off CSRF and
	// frame-options protection. It must be requested explicitly.
	ProfileDevelopment Profile = "development"
	// ProfileProduction requires authentication and keeps every protection on.
	ProfileProduction Profile = "production"
)

// ParseProfile normalizes a profile name. An empty name resolves to production.
func ParseProfile(name string) (Profile, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "prod", "production":
		return ProfileProduction, true
	case "dev", "development":
		return ProfileDevelopment, true
	default:
		return "", false
	}
}

// Access is the outcome an authorization rule grants.
type Access string

const (
	AccessPermitAll     Access = "permit_all"
	AccessDenyAll       Access = "deny_all"
	AccessAuthenticated Access = "authenticated"
	AccessAnonymous     Access = "anonymous"
	AccessHasRole       Access = "has_role"
	AccessHasAnyRole    Access = "has_any_role"
)

// Valid reports whether a is a known access level.
func (a Access) Valid() bool {
	switch a {
	case AccessPermitAll, AccessDenyAll, AccessAuthenticated, AccessAnonymous, AccessHasRole, AccessHasAnyRole:
		return true
	default:
		return false
	}
}

// NeedsRoles reports whether the access level is meaningless without Roles.
func (a Access) NeedsRoles() bool {
	return a == AccessHasRole || a == AccessHasAnyRole
}

// AccessRule grants Access to requests whose method and path match.
// Empty Methods or Paths match anything.
type AccessRule struct {
	Methods []string `json:"methods,omitempty" yaml:"methods,omitempty"`
	Paths   []string `json:"paths,omitempty" yaml:"paths,omitempty"`
	Access  Access   `json:"access" yaml:"access"`
	Roles   []string `json:"roles,omitempty" yaml:"roles,omitempty"`
}

// RegoSettings points the authorizer at an OPA policy instead of rules.
type RegoSettings struct {
	Module     string `json:"-" yaml:"module,omitempty"`
	File       string `json:"file,omitempty" yaml:"file,omitempty"`
	Entrypoint string `json:"entrypoint,omitempty" yaml:"entrypoint,omitempty"`
	CacheSize  int    `json:"cache_size,omitempty" yaml:"cache_size,omitempty"`
	// Headers lists the request headers passed to the policy as input.headers.
	Headers []string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// AuthorizationSettings holds ordered rules and the fallback for unmatched requests.
type AuthorizationSettings struct {
	Rules      []AccessRule  `json:"rules,omitempty" yaml:"rules,omitempty"`
	AnyRequest Access        `json:"any_request" yaml:"any_request"`
	Rego       *RegoSettings `json:"rego,omitempty" yaml:"rego,omitempty"`
}

// PermitsAll reports whether the settings can never reject a request.
func (a AuthorizationSettings) PermitsAll() bool {
	if a.Rego != nil {
		return false
	}
	if a.AnyRequest != AccessPermitAll {
		return false
	}
	return !slices.ContainsFunc(a.Rules, func(r AccessRule) bool {
		return r.Access != AccessPermitAll
	})
}

// CSRFSettings configures the double-submit cookie check.
type CSRFSettings struct {
	Enabled       bool     `json:"enabled" yaml:"enabled"`
	CookieName    string   `json:"cookie_name,omitempty" yaml:"cookie_name,omitempty"`
	HeaderName    string   `json:"header_name,omitempty" yaml:"header_name,omitempty"`
	ParameterName string   `json:"parameter_name,omitempty" yaml:"parameter_name,omitempty"`
	CookieSecure  bool     `json:"cookie_secure" yaml:"cookie_secure"`
	IgnorePaths   []string `json:"ignore_paths,omitempty" yaml:"ignore_paths,omitempty"`
}

// FrameOptionsMode is the X-Frame-Options policy.
type FrameOptionsMode string

const (
	FrameOptionsDeny       FrameOptionsMode = "deny"
	FrameOptionsSameOrigin FrameOptionsMode = "sameorigin"
	FrameOptionsDisabled   FrameOptionsMode = "disabled"
)

// HSTSSettings configures Strict-Transport-Security.
type HSTSSettings struct {
	Enabled           bool `json:"enabled" yaml:"enabled"`
	MaxAgeSeconds     int  `json:"max_age_seconds,omitempty" yaml:"max_age_seconds,omitempty"`
	IncludeSubDomains bool `json:"include_subdomains" yaml:"include_subdomains"`
}

// HeaderSettings configures the response headers written on every request.
// Nil toggles take the profile default.
type HeaderSettings struct {
	FrameOptions       FrameOptionsMode `json:"frame_options" yaml:"frame_options"`
	ContentTypeOptions *bool            `json:"content_type_options,omitempty" yaml:"content_type_options,omitempty"`
	CacheControl       *bool            `json:"cache_control,omitempty" yaml:"cache_control,omitempty"`
	XSSProtection      *bool            `json:"xss_protection,omitempty" yaml:"xss_protection,omitempty"`
	HSTS               *HSTSSettings    `json:"hsts,omitempty" yaml:"hsts,omitempty"`
}

// JWTSettings configures bearer token verification.
type JWTSettings struct {
	Secret   string `json:"-" yaml:"secret,omitempty"`
	Issuer   string `json:"issuer,omitempty" yaml:"issuer,omitempty"`
	Audience string `json:"audience,omitempty" yaml:"audience,omitempty"`
}

// AuthenticationSettings configures how a request becomes a Principal.
type AuthenticationSettings struct {
	JWT JWTSettings `json:"jwt" yaml:"jwt"`
}

// SecuritySettings is everything the filter chain factory needs.
type SecuritySettings struct {
	Profile        Profile                `json:"profile" yaml:"profile"`
	AllowInsecure  bool                   `json:"allow_insecure" yaml:"allow_insecure"`
	Authorization  AuthorizationSettings  `json:"authorization" yaml:"authorization"`
	CSRF           *CSRFSettings          `json:"csrf,omitempty" yaml:"csrf,omitempty"`
	Headers        HeaderSettings         `json:"headers" yaml:"headers"`
	Authentication AuthenticationSettings `json:"authentication" yaml:"authentication"`
}

// Principal is the caller a request is evaluated as.
type Principal struct {
	Subject       string   `json:"subject,omitempty"`
	Roles         []string `json:"roles,omitempty"`
	Authenticated bool     `json:"authenticated"`
}

// AnonymousPrincipal is the identity of a request that presented no credentials.
func AnonymousPrincipal() Principal {
	return Principal{Subject: "anonymousUser"}
}

// HasAnyRole reports whether the principal holds at least one of roles.
// Role names compare case-insensitively.
func (p Principal) HasAnyRole(roles ...string) bool {
	for _, want := range roles {
		for _, have := range p.Roles {
			if strings.EqualFold(want, have) {
				return true
			}
		}
	}
	return false
}

// Snapshot is a point-in-time security configuration published by a ConfigService.
type Snapshot struct {
	Generation int64
	Security   SecuritySettings
}

// ConfigService defines the interface for configuration management.
type ConfigService interface {
	// CurrentSnapshot returns the current configuration.
	CurrentSnapshot() Snapshot

	// Subscribe to configuration changes.
	Subscribe() <-chan Snapshot
}
