package security

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the security chain.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	decisions     *prometheus.CounterVec
	rejections    *prometheus.CounterVec
	builds        *prometheus.CounterVec
	activeProfile *prometheus.GaugeVec
	generation    prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates the collectors on a private registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "security_filter_decisions_total",
				Help: "Security filter decisions by filter and outcome",
			},
			[]string{"filter", "outcome"},
		),

		rejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "security_rejections_total",
				Help: "Requests rejected by the security chain by error code",
			},
			[]string{"code"},
		),

		builds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "security_chain_builds_total",
				Help: "Filter chain builds by profile and status",
			},
			[]string{"profile", "status"},
		),

		activeProfile: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "security_chain_active_profile",
				Help: "Profile of the filter chain serving requests (1=active)",
			},
			[]string{"profile"},
		),

		generation: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "security_chain_config_generation",
				Help: "Configuration generation of the active filter chain",
			},
		),

		registry: registry,
	}

	registry.MustRegister(
		m.decisions,
		m.rejections,
		m.builds,
		m.activeProfile,
		m.generation,
	)

	return m
}

// RecordDecision counts one filter outcome ("allow" or "reject").
func (m *Metrics) RecordDecision(filter, outcome string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(filter, outcome).Inc()
}

// RecordRejection counts a rejected request by error code.
func (m *Metrics) RecordRejection(code string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(code).Inc()
}

// RecordChainBuild counts a Build attempt.
func (m *Metrics) RecordChainBuild(profile string, ok bool) {
	if m == nil {
		return
	}
	status := "success"
	if !ok {
		status = "error"
	}
	if profile == "" {
		profile = "unknown"
	}
	m.builds.WithLabelValues(profile, status).Inc()
}

// SetActiveChain marks the profile and generation now serving requests.
func (m *Metrics) SetActiveChain(profile string, generation int64) {
	if m == nil {
		return
	}
	m.activeProfile.Reset()
	m.activeProfile.WithLabelValues(profile).Set(1)
	m.generation.Set(float64(generation))
}

// Handler returns the Prometheus metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
