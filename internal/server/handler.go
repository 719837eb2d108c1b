package server

import (
	"net/http"
	"sync/atomic"

	"github.com/ecommerce/backend/pkg/security"
)

type chainState struct {
	chain      *security.FilterChain
	handler    http.Handler
	generation int64
}

// ChainHandler serves requests through the current filter chain. The chain
// can be replaced while requests are in flight; each request sees exactly
// one chain.
type ChainHandler struct {
	app   http.Handler
	state atomic.Pointer[chainState]
}

// NewChainHandler wraps app with chain.
func NewChainHandler(chain *security.FilterChain, generation int64, app http.Handler) *ChainHandler {
	h := &ChainHandler{app: app}
	h.Swap(chain, generation)
	return h
}

// Swap installs a new chain.
func (h *ChainHandler) Swap(chain *security.FilterChain, generation int64) {
	h.state.Store(&chainState{
		chain:      chain,
		handler:    chain.Then(h.app),
		generation: generation,
	})
}

// Current returns the active chain and the configuration generation it was built from.
func (h *ChainHandler) Current() (*security.FilterChain, int64) {
	s := h.state.Load()
	return s.chain, s.generation
}

func (h *ChainHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.state.Load().handler.ServeHTTP(w, r)
}
