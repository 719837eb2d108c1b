package domain

import "errors"

// Common domain errors
var (
	ErrConfigInvalid        = errors.New("invalid configuration")
	ErrInsecureProduction   = errors.New("insecure security settings in production profile")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrAuthorizationDenied  = errors.New("authorization denied")
	ErrInvalidToken         = errors.New("invalid token")
	ErrTokenExpired         = errors.New("token expired")
	ErrCSRFTokenMissing     = errors.New("csrf token missing")
	ErrCSRFTokenInvalid     = errors.New("csrf token invalid")
	ErrPolicyEvalFailed     = errors.New("policy evaluation failed")
)

// Machine-readable codes carried by ErrorResponse.
const (
	CodeAuthenticationRequired = "AUTHN_REQUIRED"
	CodeAuthenticationFailed   = "AUTHN_FAILED"
	CodeAccessDenied           = "ACCESS_DENIED"
	CodeCSRFTokenMissing       = "CSRF_TOKEN_MISSING"
	CodeCSRFTokenInvalid       = "CSRF_TOKEN_INVALID"
	CodePolicyError            = "POLICY_ERROR"
	CodeNotFound               = "NOT_FOUND"
)

// DomainError wraps errors with additional context.
//
//nolint:revive // Name is intentionally verbose to distinguish domain-layer errors
type DomainError struct {
	Err     error
	Code    string
	Message string
	Details map[string]any
}

func (e *DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Err.Error()
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewConfigError reports an invalid setting, naming the field at fault.
func NewConfigError(field, message string) *DomainError {
	return &DomainError{
		Err:     ErrConfigInvalid,
		Code:    "CONFIG_INVALID",
		Message: field + ": " + message,
		Details: map[string]any{"field": field},
	}
}

// ErrorResponse defines the standard JSON error model returned when the
// security chain rejects a request. It never carries token values or
// credential material.
type ErrorResponse struct {
	Code    string `json:"code"`               // Machine-readable error code (e.g., AUTHN_REQUIRED, CSRF_TOKEN_MISSING)
	Message string `json:"message"`            // Human-readable message (safe for logs)
	TraceID string `json:"trace_id,omitempty"` // Optional trace/correlation ID
}
