package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ecommerce/backend/pkg/domain"
)

const defaultDebounce = 100 * time.Millisecond

// FileConfigProvider implements domain.ConfigService using a local file.
type FileConfigProvider struct {
	path        string
	logger      *slog.Logger
	debounce    time.Duration
	mu          sync.RWMutex
	config      *Config
	snapshot    domain.Snapshot
	subscribers []chan domain.Snapshot
	watcher     *fsnotify.Watcher
	cancel      context.CancelFunc
	overrides   []func(*Config)
}

// ProviderOption customizes a FileConfigProvider.
type ProviderOption func(*FileConfigProvider)

// WithOverride applies fn to every loaded configuration before validation,
// so command-line overrides survive reloads.
func WithOverride(fn func(*Config)) ProviderOption {
	return func(p *FileConfigProvider) {
		p.overrides = append(p.overrides, fn)
	}
}

// NewFileConfigProvider loads the file and starts watching it for changes.
func NewFileConfigProvider(path string, logger *slog.Logger, opts ...ProviderOption) (*FileConfigProvider, error) {
	if logger == nil {
		logger = slog.Default()
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	p := &FileConfigProvider{
		path:     absPath,
		logger:   logger,
		debounce: defaultDebounce,
		watcher:  watcher,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(p)
	}

	if err := p.load(); err != nil {
		cancel()
		_ = watcher.Close()
		return nil, fmt.Errorf("initial config load: %w", err)
	}

	// Watch the directory so editors that replace the file are still seen.
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		cancel()
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch directory: %w", err)
	}

	go p.watchLoop(ctx)

	return p, nil
}

// CurrentSnapshot returns the current configuration.
func (p *FileConfigProvider) CurrentSnapshot() domain.Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snapshot
}

// GetConfig returns the most recently loaded configuration.
func (p *FileConfigProvider) GetConfig() *Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.config
}

// Subscribe returns a channel that receives configuration updates.
// The current snapshot is delivered immediately.
func (p *FileConfigProvider) Subscribe() <-chan domain.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := make(chan domain.Snapshot, 1)
	p.subscribers = append(p.subscribers, ch)
	ch <- p.snapshot
	return ch
}

// Close stops the watcher and closes subscriber channels.
func (p *FileConfigProvider) Close() error {
	p.cancel()
	err := p.watcher.Close()

	p.mu.Lock()
	for _, ch := range p.subscribers {
		close(ch)
	}
	p.subscribers = nil
	p.mu.Unlock()

	return err
}

func (p *FileConfigProvider) watchLoop(ctx context.Context) {
	var debounceTimer *time.Timer

	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return
		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}

			if filepath.Clean(event.Name) != p.path {
				continue
			}

			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Chmod) {
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(p.debounce, func() {
					if ctx.Err() != nil {
						return
					}
					if err := p.load(); err != nil {
						p.logger.Error("Error reloading config", "path", p.path, "error", err)
					} else {
						p.logger.Info("Configuration reloaded", "path", p.path)
					}
				})
			}
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.logger.Warn("Config watcher error", "error", err)
		}
	}
}

func (p *FileConfigProvider) load() error {
	cfg, err := Load(p.path)
	if err != nil {
		return err
	}
	if len(p.overrides) > 0 {
		for _, fn := range p.overrides {
			fn(cfg)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.config = cfg
	p.snapshot = domain.Snapshot{
		Generation: p.snapshot.Generation + 1,
		Security:   cfg.Security,
	}

	// Non-blocking sends; Close takes the same lock before closing channels.
	for _, ch := range p.subscribers {
		select {
		case ch <- p.snapshot:
		default:
			// Drop the stale pending snapshot so the consumer sees the newest one.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- p.snapshot:
			default:
			}
		}
	}

	return nil
}
