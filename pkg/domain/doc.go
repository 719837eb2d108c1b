// Package domain defines the core security types shared by the backend.
//
// This package has ZERO external dependencies outside the Go standard
// library. It describes what a security filter chain is configured to do
// (profiles, access rules, CSRF and header settings) and the principal a
// request is evaluated as, without knowing how HTTP filters enforce it.
//
// The dependency direction is always:
//
//	config, security, server → domain (CORRECT)
//	domain → anything else      (FORBIDDEN)
package domain
