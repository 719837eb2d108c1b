package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ecommerce/backend/pkg/config"
)

// Config selects the listener addresses.
type Config struct {
	DataAddress  string
	AdminAddress string
	TLS          *config.TLSConfig
}

// Server runs the data and admin listeners.
type Server struct {
	cfg    Config
	data   *http.Server
	admin  *http.Server
	logger *slog.Logger

	dataLn  net.Listener
	adminLn net.Listener
	errCh   chan error
}

// New creates the servers. data is the chain-wrapped application handler.
func New(cfg Config, data http.Handler, admin http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	dataServer := &http.Server{
		Handler:           otelhttp.NewHandler(data, "backend.data"),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	if cfg.TLS != nil && cfg.TLS.Enabled {
		dataServer.TLSConfig = cfg.TLS.ServerTLSConfig()
	}

	adminServer := &http.Server{
		Handler:           admin,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	return &Server{
		cfg:    cfg,
		data:   dataServer,
		admin:  adminServer,
		logger: logger,
		errCh:  make(chan error, 2),
	}
}

// Start binds both listeners and serves in the background.
func (s *Server) Start() error {
	var err error
	s.adminLn, err = net.Listen("tcp", s.cfg.AdminAddress)
	if err != nil {
		return fmt.Errorf("bind admin listener %s: %w", s.cfg.AdminAddress, err)
	}
	s.dataLn, err = net.Listen("tcp", s.cfg.DataAddress)
	if err != nil {
		_ = s.adminLn.Close()
		return fmt.Errorf("bind data listener %s: %w", s.cfg.DataAddress, err)
	}

	s.logger.Info("Admin server listening", "addr", s.adminLn.Addr().String())
	go s.serve("admin", func() error { return s.admin.Serve(s.adminLn) })

	if tlsCfg := s.cfg.TLS; tlsCfg != nil && tlsCfg.Enabled {
		s.logger.Info("Data server listening", "addr", s.dataLn.Addr().String(), "tls", true)
		go s.serve("data", func() error { return s.data.ServeTLS(s.dataLn, tlsCfg.CertFile, tlsCfg.KeyFile) })
	} else {
		s.logger.Info("Data server listening", "addr", s.dataLn.Addr().String(), "tls", false)
		go s.serve("data", func() error { return s.data.Serve(s.dataLn) })
	}

	return nil
}

func (s *Server) serve(name string, fn func() error) {
	if err := fn(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("Server failed", "server", name, "error", err)
		s.errCh <- fmt.Errorf("%s server: %w", name, err)
	}
}

// Errors reports listener failures after Start.
func (s *Server) Errors() <-chan error {
	return s.errCh
}

// DataAddr returns the bound data address. Valid after Start.
func (s *Server) DataAddr() string {
	return s.dataLn.Addr().String()
}

// AdminAddr returns the bound admin address. Valid after Start.
func (s *Server) AdminAddr() string {
	return s.adminLn.Addr().String()
}

// Shutdown drains the data server first, then the admin server.
func (s *Server) Shutdown(ctx context.Context) error {
	return errors.Join(
		s.data.Shutdown(ctx),
		s.admin.Shutdown(ctx),
	)
}
