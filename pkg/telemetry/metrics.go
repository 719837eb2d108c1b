package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	metricsOnce       sync.Once
	metricsInitErr    error
	decisionCounter   metric.Int64Counter
	rejectionCounter  metric.Int64Counter
	chainBuildCounter metric.Int64Counter
)

// SecurityEvent describes one security filter outcome. It never carries
// token values or credentials.
type SecurityEvent struct {
	Filter  string
	Outcome string
	// Code is the rejection code; empty when the request was allowed.
	Code   string
	Reason string
	Method string
	Path   string
}

// RecordSecurityEvent attaches the event to the span in ctx and counts it.
func RecordSecurityEvent(ctx context.Context, ev SecurityEvent) {
	attrs := []attribute.KeyValue{
		attribute.String("security.filter", ev.Filter),
		attribute.String("security.outcome", ev.Outcome),
	}
	if ev.Code != "" {
		attrs = append(attrs, attribute.String("security.code", ev.Code))
	}

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		eventAttrs := attrs
		if ev.Reason != "" {
			eventAttrs = append(eventAttrs, attribute.String("security.reason", ev.Reason))
		}
		if ev.Method != "" {
			eventAttrs = append(eventAttrs, attribute.String("http.request.method", ev.Method))
		}
		if ev.Path != "" {
			eventAttrs = append(eventAttrs, attribute.String("url.path", ev.Path))
		}
		span.AddEvent("security.decision", trace.WithAttributes(eventAttrs...))
	}

	if err := ensureMetrics(); err != nil {
		return
	}

	decisionCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	if ev.Code != "" {
		rejectionCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("security.code", ev.Code)))
	}
}

// RecordChainBuild counts a filter chain build attempt.
func RecordChainBuild(ctx context.Context, profile string, ok bool) {
	if err := ensureMetrics(); err != nil {
		return
	}
	status := "success"
	if !ok {
		status = "error"
	}
	chainBuildCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("security.profile", profile),
		attribute.String("status", status),
	))
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("backend.security")

		decisionCounter, metricsInitErr = meter.Int64Counter(
			"security.filter.decisions_total",
			metric.WithDescription("Security filter decisions partitioned by filter and outcome"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		rejectionCounter, metricsInitErr = meter.Int64Counter(
			"security.rejections_total",
			metric.WithDescription("Requests rejected by the security chain"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		chainBuildCounter, metricsInitErr = meter.Int64Counter(
			"security.chain.builds_total",
			metric.WithDescription("Filter chain build attempts"),
			metric.WithUnit("{count}"),
		)
	})

	return metricsInitErr
}
