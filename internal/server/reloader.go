package server

import (
	"context"
	"log/slog"

	"github.com/ecommerce/backend/pkg/domain"
	"github.com/ecommerce/backend/pkg/security"
)

// Reloader rebuilds the filter chain whenever the configuration changes.
// A snapshot that fails to build leaves the previous chain in place.
type Reloader struct {
	handler *ChainHandler
	opts    security.Options
	logger  *slog.Logger
}

// NewReloader creates a reloader that swaps chains into handler.
func NewReloader(handler *ChainHandler, opts security.Options) *Reloader {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Reloader{handler: handler, opts: opts, logger: logger}
}

// Apply builds a chain from snap and installs it. Snapshots no newer than
// the active chain are ignored.
func (r *Reloader) Apply(ctx context.Context, snap domain.Snapshot) error {
	_, current := r.handler.Current()
	if snap.Generation <= current {
		r.logger.Debug("Ignoring stale configuration", "generation", snap.Generation, "active_generation", current)
		return nil
	}

	chain, err := security.Build(ctx, snap.Security, r.opts)
	if err != nil {
		r.logger.Error("Security chain rebuild failed; keeping previous chain",
			"generation", snap.Generation,
			"active_generation", current,
			"error", err,
		)
		return err
	}

	r.handler.Swap(chain, snap.Generation)
	r.opts.Metrics.SetActiveChain(chain.Describe().Profile, snap.Generation)

	r.logger.Info("Security chain reloaded",
		"generation", snap.Generation,
		"profile", chain.Describe().Profile,
		"filters", chain.Filters(),
	)
	return nil
}

// Run applies snapshots from updates until ctx is done or updates is closed.
func (r *Reloader) Run(ctx context.Context, updates <-chan domain.Snapshot) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			_ = r.Apply(ctx, snap)
		}
	}
}
