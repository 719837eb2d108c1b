// Package telemetry wires OpenTelemetry tracing and meters for the backend.
//
// It sets up the OTLP trace exporter and records security chain decisions
// as span events and counters so rejected requests can be correlated with
// the traces that produced them.
package telemetry
