package server

import (
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/ecommerce/backend/pkg/security"
)

// SecurityStatus is the body of GET /security.
type SecurityStatus struct {
	Generation int64                `json:"generation"`
	Chain      security.Description `json:"chain"`
}

// Admin serves operational endpoints.
type Admin struct {
	chains  *ChainHandler
	metrics *security.Metrics
	logger  *slog.Logger
	ready   atomic.Bool
}

// NewAdmin creates the admin endpoints. Readiness starts false.
func NewAdmin(chains *ChainHandler, metrics *security.Metrics, logger *slog.Logger) *Admin {
	if logger == nil {
		logger = slog.Default()
	}
	return &Admin{chains: chains, metrics: metrics, logger: logger}
}

// SetReady flips the /readyz answer.
func (a *Admin) SetReady(ready bool) {
	a.ready.Store(ready)
}

// Handler returns the admin mux.
func (a *Admin) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, _ *http.Request) {
		if !a.ready.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	if a.metrics != nil {
		mux.Handle("GET /metrics", a.metrics.Handler())
	}

	mux.HandleFunc("GET /security", func(w http.ResponseWriter, _ *http.Request) {
		chain, generation := a.chains.Current()
		writeJSON(w, a.logger, http.StatusOK, SecurityStatus{
			Generation: generation,
			Chain:      chain.Describe(),
		})
	})

	return mux
}
