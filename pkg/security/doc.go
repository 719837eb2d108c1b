// Package security builds the HTTP filter chain every inbound request passes
// through before it reaches application handlers.
//
// Build turns domain.SecuritySettings into an immutable FilterChain. The
// chain applies, in order:
//
//   - headers: framing protection (X-Frame-Options), content sniffing,
//     cache control and HSTS response headers
//   - csrf: double-submit cookie validation of state-changing requests
//   - authentication: bearer JWT verification into a domain.Principal
//   - authorization: ordered access rules, or a Rego policy
//
// Filters that are switched off are left out of the chain entirely.
//
// The development profile permits every request and disables CSRF and
// frame-options protection. It is never selected implicitly: an unset
// profile builds the production chain, and Build refuses production settings
// that weaken those protections unless AllowInsecure is set.
package security
