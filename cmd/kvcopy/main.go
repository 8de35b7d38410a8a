// Package main is the entry point for the kvcopy binary.
// It validates copy pipelines and streams JSON-lines entries through them.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/polisai/kvcopy/pkg/config"
	"github.com/polisai/kvcopy/pkg/logging"
	"github.com/polisai/kvcopy/pkg/pipeline"
	"github.com/polisai/kvcopy/pkg/telemetry"
	"github.com/polisai/kvcopy/pkg/transform"
)

const defaultConfigPath = "kvcopy.yaml"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "kvcopy",
		Short: "Copy, rename and stamp fields on key-value entries",
		Long: `kvcopy runs entries through configured copy stages.

Each stage holds directives that copy a field to a new name, optionally
through a transform, or write a literal value. Entries are read as JSON
lines and written back out the same way.

Example:
  kvcopy validate -c pipeline.yaml
  tail -f events.jsonl | kvcopy apply -c pipeline.yaml --watch`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", defaultConfigPath, "Path to configuration file (YAML)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "", "Log level override (debug, info, warn, error)")

	rootCmd.AddCommand(newValidateCmd(), newApplyCmd(), newTransformsCmd())
	return rootCmd
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check a configuration file without processing entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			stages, err := buildStages(cfg, logger)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d stage(s) valid\n", cfg.Pipeline, len(stages))
			return nil
		},
	}
}

func newTransformsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "transforms",
		Short: "List the transforms directives can reference by name",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, name := range transform.Default().Names() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

func newApplyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Stream JSON-lines entries from stdin through the pipeline",
		Args:  cobra.NoArgs,
		RunE:  runApply,
	}
	cmd.Flags().Bool("watch", false, "Reload stages when the configuration file changes")
	cmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address")
	cmd.Flags().Bool("fail-fast", false, "Stop at the first entry that cannot be processed")
	return cmd
}

func runApply(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	watch, _ := cmd.Flags().GetBool("watch")
	failFast, _ := cmd.Flags().GetBool("fail-fast")
	if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
		cfg.Metrics.Addr = addr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupProvider(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Error("Failed to flush traces", "error", err)
		}
	}()

	metrics := telemetry.NewMetrics()
	runner := pipeline.NewRunner(pipeline.Config{
		PipelineID: cfg.Pipeline,
		Logger:     logger,
		Metrics:    metrics,
	})
	stages, err := buildStages(cfg, logger)
	if err != nil {
		return err
	}
	if err := runner.Load(stages); err != nil {
		return err
	}

	if cfg.Metrics.Addr != "" {
		server, err := startMetricsServer(cfg.Metrics, metrics, logger)
		if err != nil {
			return err
		}
		defer shutdownServer(server, logger)
	}

	if watch {
		loader, err := config.NewLoader(configPath(cmd), logger)
		if err != nil {
			return err
		}
		defer func() { _ = loader.Close() }()
		if err := loader.Watch(reloadFunc(runner, logger)); err != nil {
			return err
		}
		logger.Info("Watching configuration", "path", loader.Path())
	}

	var onError func(*pipeline.LineError)
	if !failFast {
		onError = func(e *pipeline.LineError) {
			logger.Warn("Skipping entry", "line", e.Line, "error", e.Err)
		}
	}

	stats, err := runner.Run(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), onError)
	logger.Info("Pipeline finished", "entries", stats.Entries, "failed", stats.Failed)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func reloadFunc(runner *pipeline.Runner, logger *slog.Logger) func(*config.Config) {
	return func(cfg *config.Config) {
		stages, err := cfg.StageConfigs(transform.Default())
		if err != nil {
			logger.Error("Rejected configuration update", "error", err)
			return
		}
		if err := runner.Reload(stages); err != nil {
			return
		}
		logger.Info("Stages updated", "count", len(stages))
	}
}

func configPath(cmd *cobra.Command) string {
	path, _ := cmd.Flags().GetString("config")
	return path
}

// loadConfig reads the configuration named by the --config flag and installs
// the process logger it describes.
func loadConfig(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath(cmd))
	if err != nil {
		return nil, nil, err
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}

	logger := logging.New(cfg.Logging, cmd.ErrOrStderr())
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func buildStages(cfg *config.Config, logger *slog.Logger) ([]pipeline.Stage, error) {
	configs, err := cfg.StageConfigs(transform.Default())
	if err != nil {
		return nil, err
	}
	return pipeline.BuildStages(configs, logger)
}

func newMetricsHandler(cfg config.MetricsConfig, metrics *telemetry.Metrics) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, otelhttp.NewHandler(metrics.Handler(), "kvcopy.metrics"))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "ok")
	})
	return mux
}

func startMetricsServer(cfg config.MetricsConfig, metrics *telemetry.Metrics, logger *slog.Logger) (*http.Server, error) {
	server := &http.Server{
		Handler:      newMetricsHandler(cfg, metrics),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("bind metrics listener %s: %w", cfg.Addr, err)
	}
	logger.Info("Metrics server listening", "addr", listener.Addr().String(), "path", cfg.Path)

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", "error", err)
		}
	}()
	return server, nil
}

func shutdownServer(server *http.Server, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Metrics server shutdown error", "error", err)
	}
}
