// Package main is the entry point for the backend binary.
// It serves the application behind the profile-selected security filter chain.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ecommerce/backend/internal/server"
	"github.com/ecommerce/backend/pkg/config"
	"github.com/ecommerce/backend/pkg/domain"
	"github.com/ecommerce/backend/pkg/logging"
	"github.com/ecommerce/backend/pkg/security"
	"github.com/ecommerce/backend/pkg/telemetry"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const (
	shutdownTimeout      = 10 * time.Second
	telemetryFlushWindow = 5 * time.Second
)

// CLIOptions holds the parsed persistent flags.
type CLIOptions struct {
	Config        string
	Profile       string
	DataListen    string
	AdminListen   string
	LogLevel      string
	Pretty        bool
	AllowInsecure bool
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd creates the root command and its subcommands.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "backend",
		Short: "Storefront backend behind a profile-selected security chain",
		Long: `Runs the storefront backend.

Every request passes through the security filter chain selected by the
profile. The development profile permits every request, disables CSRF
protection and omits X-Frame-Options. The production profile is the
default and refuses to start with those relaxations unless
--allow-insecure is given.

Example:
  backend serve --profile development
  backend check --config backend.yaml`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadDotEnv()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringP("config", "c", "", "Path to configuration file (YAML)")
	flags.StringP("profile", "p", "", "Security profile (development, production)")
	flags.String("data-listen", "", "Application listener address")
	flags.String("admin-listen", "", "Admin listener address")
	flags.StringP("log-level", "l", "", "Log level (debug, info, warn, error)")
	flags.Bool("pretty", false, "Human-readable log output")
	flags.Bool("allow-insecure", false, "Allow a relaxed production chain (logged as warnings)")

	rootCmd.AddCommand(newServeCmd(), newCheckCmd(), newTokenCmd(), newVersionCmd())

	return rootCmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the data and admin listeners",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
}

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Build the security chain and print its description",
		Args:  cobra.NoArgs,
		RunE:  runCheck,
	}
}

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign a bearer token with the configured JWT secret",
		Args:  cobra.NoArgs,
		RunE:  runToken,
	}
	cmd.Flags().String("subject", "", "Token subject")
	cmd.Flags().StringSlice("role", nil, "Role to grant (repeatable)")
	cmd.Flags().Duration("ttl", time.Hour, "Token lifetime")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "backend %s\n", version)
		},
	}
}

// loadDotEnv reads .env from the working directory when one exists.
func loadDotEnv() error {
	if err := godotenv.Load(); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

// parseCLIOptions reads the persistent flags.
func parseCLIOptions(cmd *cobra.Command) (*CLIOptions, error) {
	flags := cmd.Flags()
	opts := &CLIOptions{}

	var err error
	if opts.Config, err = flags.GetString("config"); err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}
	if opts.Profile, err = flags.GetString("profile"); err != nil {
		return nil, fmt.Errorf("failed to get profile flag: %w", err)
	}
	if opts.DataListen, err = flags.GetString("data-listen"); err != nil {
		return nil, fmt.Errorf("failed to get data-listen flag: %w", err)
	}
	if opts.AdminListen, err = flags.GetString("admin-listen"); err != nil {
		return nil, fmt.Errorf("failed to get admin-listen flag: %w", err)
	}
	if opts.LogLevel, err = flags.GetString("log-level"); err != nil {
		return nil, fmt.Errorf("failed to get log-level flag: %w", err)
	}
	if opts.Pretty, err = flags.GetBool("pretty"); err != nil {
		return nil, fmt.Errorf("failed to get pretty flag: %w", err)
	}
	if opts.AllowInsecure, err = flags.GetBool("allow-insecure"); err != nil {
		return nil, fmt.Errorf("failed to get allow-insecure flag: %w", err)
	}

	return opts, nil
}

// Apply overrides cfg with every flag that was set.
// Flags take precedence over environment variables and the config file.
func (o *CLIOptions) Apply(cfg *config.Config) {
	if o.Profile != "" {
		cfg.Security.Profile = domain.Profile(o.Profile)
	}
	if o.AllowInsecure {
		cfg.Security.AllowInsecure = true
	}
	if o.DataListen != "" {
		cfg.Server.DataAddress = o.DataListen
	}
	if o.AdminListen != "" {
		cfg.Server.AdminAddress = o.AdminListen
	}
	if o.LogLevel != "" {
		cfg.Logging.Level = o.LogLevel
	}
	if o.Pretty {
		cfg.Logging.Pretty = true
	}
}

// loadConfig loads the configuration and applies the flag overrides.
func loadConfig(opts *CLIOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, err
	}

	opts.Apply(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	return logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Pretty: cfg.Logging.Pretty,
	})
}

func runServe(cmd *cobra.Command, _ []string) error {
	opts, err := parseCLIOptions(cmd)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	snapshot := domain.Snapshot{Generation: 1, Security: cfg.Security}
	var updates <-chan domain.Snapshot
	if opts.Config != "" {
		provider, err := config.NewFileConfigProvider(opts.Config, logger, config.WithOverride(opts.Apply))
		if err != nil {
			return err
		}
		defer func() {
			if err := provider.Close(); err != nil {
				logger.Warn("Failed to close config provider", "error", err)
			}
		}()
		snapshot = provider.CurrentSnapshot()
		updates = provider.Subscribe()
	}

	shutdownTelemetry, err := telemetry.SetupProvider(ctx, telemetry.Config{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		Endpoint:       cfg.Telemetry.OTLPEndpoint,
		Environment:    string(snapshot.Security.Profile),
		Insecure:       cfg.Telemetry.Insecure,
	})
	if err != nil {
		return fmt.Errorf("failed to set up telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), telemetryFlushWindow)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("Telemetry shutdown failed", "error", err)
		}
	}()

	metrics := security.NewMetrics()
	secOpts := security.Options{Logger: logger, Metrics: metrics}

	chain, err := security.Build(ctx, snapshot.Security, secOpts)
	if err != nil {
		logger.Error("Failed to build security chain", "profile", snapshot.Security.Profile, "error", err)
		return err
	}

	var chains *server.ChainHandler
	app := server.NewAppHandler(version, func() string {
		active, _ := chains.Current()
		return active.Describe().Profile
	}, logger)
	chains = server.NewChainHandler(chain, snapshot.Generation, app)
	metrics.SetActiveChain(chain.Describe().Profile, snapshot.Generation)

	admin := server.NewAdmin(chains, metrics, logger)
	srv := server.New(server.Config{
		DataAddress:  cfg.Server.DataAddress,
		AdminAddress: cfg.Server.AdminAddress,
		TLS:          cfg.Server.TLS,
	}, chains, admin.Handler(), logger)

	if err := srv.Start(); err != nil {
		return err
	}

	if updates != nil {
		go server.NewReloader(chains, secOpts).Run(ctx, updates)
	}

	admin.SetReady(true)
	logger.Info("Starting backend",
		"version", version,
		"profile", chain.Describe().Profile,
		"filters", chain.Filters(),
		"data_addr", srv.DataAddr(),
		"admin_addr", srv.AdminAddr(),
	)

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case runErr = <-srv.Errors():
		logger.Error("Listener failed", "error", runErr)
	}

	admin.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", "error", err)
	}

	logger.Info("Backend stopped")
	return runErr
}

func runCheck(cmd *cobra.Command, _ []string) error {
	opts, err := parseCLIOptions(cmd)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	logger := logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Pretty: true,
		Output: cmd.ErrOrStderr(),
	})

	chain, err := security.Build(cmd.Context(), cfg.Security, security.Options{Logger: logger})
	if err != nil {
		return fmt.Errorf("security chain rejected: %w", err)
	}

	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	if err := enc.Encode(chain.Describe()); err != nil {
		return fmt.Errorf("failed to encode chain description: %w", err)
	}
	return enc.Close()
}

func runToken(cmd *cobra.Command, _ []string) error {
	opts, err := parseCLIOptions(cmd)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	subject, err := cmd.Flags().GetString("subject")
	if err != nil {
		return fmt.Errorf("failed to get subject flag: %w", err)
	}
	roles, err := cmd.Flags().GetStringSlice("role")
	if err != nil {
		return fmt.Errorf("failed to get role flag: %w", err)
	}
	ttl, err := cmd.Flags().GetDuration("ttl")
	if err != nil {
		return fmt.Errorf("failed to get ttl flag: %w", err)
	}

	token, err := security.SignToken(cfg.Security.Authentication.JWT, subject, roles, time.Now(), ttl)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
