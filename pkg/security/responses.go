package security

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/trace"

	"github.com/ecommerce/backend/pkg/domain"
	"github.com/ecommerce/backend/pkg/telemetry"
)

const (
	outcomeAllow  = "allow"
	outcomeReject = "reject"
)

// rejection is a request a filter refused to pass on.
type rejection struct {
	status  int
	code    string
	message string
	// err is logged but never written to the client.
	err error
}

// observer records filter outcomes to logs, metrics and the request span.
type observer struct {
	logger  *slog.Logger
	metrics *Metrics
}

func (o observer) allow(r *http.Request, filter string) {
	o.metrics.RecordDecision(filter, outcomeAllow)
	telemetry.RecordSecurityEvent(r.Context(), telemetry.SecurityEvent{
		Filter:  filter,
		Outcome: outcomeAllow,
	})
}

func (o observer) reject(w http.ResponseWriter, r *http.Request, filter string, rej rejection) {
	o.metrics.RecordDecision(filter, outcomeReject)
	o.metrics.RecordRejection(rej.code)

	ctx := r.Context()
	telemetry.RecordSecurityEvent(ctx, telemetry.SecurityEvent{
		Filter:  filter,
		Outcome: outcomeReject,
		Code:    rej.code,
		Reason:  rej.message,
		Method:  r.Method,
		Path:    r.URL.Path,
	})

	attrs := []any{
		"filter", filter,
		"code", rej.code,
		"status", rej.status,
		"method", r.Method,
		"path", r.URL.Path,
		"remote_addr", r.RemoteAddr,
	}
	if rej.err != nil {
		attrs = append(attrs, "error", rej.err)
	}
	if rej.status >= http.StatusInternalServerError {
		o.logger.ErrorContext(ctx, "Security filter failed", attrs...)
	} else {
		o.logger.InfoContext(ctx, "Request rejected by security filter", attrs...)
	}

	if rej.status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
	}
	o.writeError(w, r, rej.status, rej.code, rej.message)
}

// writeError writes the JSON error body shared by every filter.
func (o observer) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	var traceID string
	if sc := trace.SpanFromContext(r.Context()).SpanContext(); sc.IsValid() {
		traceID = sc.TraceID().String()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := domain.ErrorResponse{Code: code, Message: message, TraceID: traceID}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		o.logger.Error("failed to encode error response", "error", err)
	}
}
