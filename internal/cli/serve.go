package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/awacha/cctd/internal/config"
	"github.com/awacha/cctd/internal/daemon"
)

func init() {
	serveCmd.Flags().StringVar(&serveConfigPath, "config", "/etc/cctd/config.yaml", "Path to config.yaml")
	rootCmd.AddCommand(serveCmd)
}

var serveConfigPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the cctd daemon in the foreground",
	RunE:  runServe,
}

// runServe loads config, builds the daemon, and blocks until a shutdown
// signal arrives. SIGHUP triggers a config reload rather than a restart;
// SIGINT/SIGTERM trigger a graceful shutdown with a bounded drain window.
func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(serveConfigPath)
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}

	log, err := buildLogger(cfg.Daemon.LogLevel)
	if err != nil {
		return fmt.Errorf("logger init failed: %w", err)
	}
	defer log.Sync() //nolint:errcheck

	log.Info("cctd starting",
		zap.String("version", config.Version),
		zap.String("commit", config.GitCommit),
		zap.String("built", config.BuildTime),
		zap.String("config", serveConfigPath),
	)

	d, err := daemon.New(cfg, log)
	if err != nil {
		log.Error("daemon construction failed", zap.Error(err))
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())

	runErr := make(chan error, 1)
	go func() { runErr <- d.Run(ctx) }()

	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	go func() {
		for range sighup {
			log.Info("SIGHUP received, reloading config")
			if err := d.Reload(serveConfigPath); err != nil {
				log.Error("config reload failed, retaining previous config", zap.Error(err))
				continue
			}
			log.Info("config reload applied")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-runErr:
		if err != nil {
			log.Error("daemon run loop exited with error", zap.Error(err))
		}
	}

	cancel()
	signal.Stop(sighup)
	close(sighup)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := d.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown did not complete cleanly", zap.Error(err))
		return err
	}

	log.Info("cctd shutdown complete")
	return nil
}

// buildLogger constructs a zap.Logger at the given level, JSON-formatted
// for production use.
func buildLogger(level string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	return cfg.Build()
}
