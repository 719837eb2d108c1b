package security

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ecommerce/backend/pkg/telemetry"
)

// Filter names, in chain order.
const (
	FilterHeaders        = "headers"
	FilterCSRF           = "csrf"
	FilterAuthentication = "authentication"
	FilterAuthorization  = "authorization"
)

// Filter is one stage of the security chain.
type Filter interface {
	Name() string
	Wrap(next http.Handler) http.Handler
}

// Options carries the collaborators a chain records to. All fields are optional.
type Options struct {
	Logger  *slog.Logger
	Metrics *Metrics
	// Now overrides the clock used for token validation.
	Now func() time.Time
}

// FilterChain is an ordered, immutable sequence of filters.
// It is safe for concurrent use.
type FilterChain struct {
	filters  []Filter
	settings effectiveSettings
	warnings []string
}

// Build validates settings, applies the profile defaults and assembles the
// filter chain. Equal settings always produce equivalent chains.
func Build(ctx context.Context, settings Settings, opts Options) (*FilterChain, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	eff, err := resolve(settings)
	if err != nil {
		recordBuild(ctx, opts.Metrics, string(settings.Profile), false)
		return nil, err
	}

	warnings, err := eff.checkProduction()
	if err != nil {
		recordBuild(ctx, opts.Metrics, string(eff.Profile), false)
		return nil, err
	}
	for _, w := range warnings {
		logger.Warn("Insecure security settings allowed in production", "profile", eff.Profile, "reason", w)
	}

	obs := observer{logger: logger, metrics: opts.Metrics}

	filters := []Filter{newHeadersFilter(eff.Headers)}

	if eff.CSRF.Enabled {
		filters = append(filters, newCSRFFilter(*eff.CSRF, obs))
	}

	if eff.Authentication.JWT.Secret != "" {
		filters = append(filters, newAuthenticationFilter(newJWTAuthenticator(eff.Authentication.JWT, opts.Now), obs))
	} else if !eff.Authorization.PermitsAll() {
		logger.Warn("No authenticator configured; every caller is anonymous", "profile", eff.Profile)
	}

	authorizer, err := newAuthorizer(ctx, eff.Authorization, logger)
	if err != nil {
		recordBuild(ctx, opts.Metrics, string(eff.Profile), false)
		return nil, err
	}
	filters = append(filters, newAuthorizationFilter(authorizer, obs))

	recordBuild(ctx, opts.Metrics, string(eff.Profile), true)

	return &FilterChain{filters: filters, settings: eff, warnings: warnings}, nil
}

func recordBuild(ctx context.Context, m *Metrics, profile string, ok bool) {
	m.RecordChainBuild(profile, ok)
	telemetry.RecordChainBuild(ctx, profile, ok)
}

// Then wraps next with every filter. The first filter sees the request first.
func (c *FilterChain) Then(next http.Handler) http.Handler {
	h := next
	for i := len(c.filters) - 1; i >= 0; i-- {
		h = c.filters[i].Wrap(h)
	}
	return h
}

// Filters returns the names of the filters in chain order.
func (c *FilterChain) Filters() []string {
	names := make([]string, len(c.filters))
	for i, f := range c.filters {
		names[i] = f.Name()
	}
	return names
}

// Settings returns the effective settings the chain was built from,
// with profile defaults applied.
func (c *FilterChain) Settings() Settings {
	return c.settings.clone()
}

// Description summarizes a chain for operators. Secrets are never included.
type Description struct {
	Profile      string   `json:"profile" yaml:"profile"`
	Filters      []string `json:"filters" yaml:"filters"`
	PermitsAll   bool     `json:"permits_all" yaml:"permits_all"`
	CSRF         bool     `json:"csrf" yaml:"csrf"`
	FrameOptions string   `json:"frame_options" yaml:"frame_options"`
	Authorizer   string   `json:"authorizer" yaml:"authorizer"`
	Warnings     []string `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Settings     Settings `json:"settings" yaml:"settings"`
}

// Describe returns a comparable summary of the chain.
func (c *FilterChain) Describe() Description {
	authorizer := "rules"
	if c.settings.Authorization.Rego != nil {
		authorizer = "rego"
	}

	settings := c.settings.clone()
	settings.Authentication.JWT.Secret = ""
	if settings.Authorization.Rego != nil {
		settings.Authorization.Rego.Module = ""
	}

	return Description{
		Profile:      string(c.settings.Profile),
		Filters:      c.Filters(),
		PermitsAll:   c.settings.Authorization.PermitsAll(),
		CSRF:         c.settings.CSRF.Enabled,
		FrameOptions: string(c.settings.Headers.FrameOptions),
		Authorizer:   authorizer,
		Warnings:     append([]string(nil), c.warnings...),
		Settings:     settings,
	}
}

func (c *FilterChain) String() string {
	return fmt.Sprintf("FilterChain(profile=%s, filters=%v)", c.settings.Profile, c.Filters())
}
