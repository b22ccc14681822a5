// Package cmd defines and implements the CLI commands for the pipeline executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/music-content-pipeline/internal/app"
	"github.com/JakeFAU/music-content-pipeline/internal/config"
	"github.com/JakeFAU/music-content-pipeline/internal/content"
	"github.com/JakeFAU/music-content-pipeline/internal/logging"
	"github.com/JakeFAU/music-content-pipeline/internal/worker"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the services commands use. Tests inject a fake through
// newApp.
type App interface {
	Close() error
	Config() config.Config
	Logger() *zap.Logger
	Runner() worker.Runner
	Runs() content.RunStore
	IDs() content.IDGenerator
	Clock() content.Clock
	Ping(ctx context.Context) error
}

type appAdapter struct {
	*app.App
}

func (a appAdapter) Runner() worker.Runner {
	return a.Scraper()
}

// newApp is the application factory, replaced in tests.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return appAdapter{App: a}, nil
}

// newLogger is replaced in tests to silence output.
var newLogger = func(cfg config.Config) (*zap.Logger, error) {
	return logging.New(logging.Options{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Music journalism content pipeline.",
		Long: `pipeline fetches music journalism articles through a cascade of
direct and archival strategies, extracts and validates them, and writes
the accepted batch to object storage with a manifest.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return nil
			}
			logger := appInstance.Logger()
			if err := appInstance.Close(); err != nil {
				logger.Warn("close application services", zap.Error(err))
			}
			_ = logger.Sync()
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file")
	cmd.AddCommand(newRunCmd(), newServeCmd())
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the command
// context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
