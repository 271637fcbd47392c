// Package cli defines the marketfeed command tree.
package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"marketfeed/internal/control"
	"marketfeed/internal/core/config"
)

var (
	cfgPath string
	isDebug bool
)

var rootCmd = &cobra.Command{
	Use:   "marketfeed",
	Short: "Marketfeed data acquisition service",
	Long:  `Marketfeed fetches market quotes, volatility and sentiment data from multiple providers and assembles a resilient dashboard snapshot.`,
	Run:   runFeed,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "config file (default is config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&isDebug, "debug", false, "enable debug logging")
}

// setupLogger installs the tint handler as the process default and returns it.
func setupLogger(cfg *config.AppConfig) *slog.Logger {
	level := slog.LevelInfo
	if isDebug || (cfg != nil && cfg.Logging.Level == "debug") {
		level = slog.LevelDebug
	}
	log := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.RFC3339,
	}))
	slog.SetDefault(log)
	return log
}

func runFeed(cmd *cobra.Command, args []string) {
	_ = godotenv.Load()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		setupLogger(nil)
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	log := setupLogger(cfg)

	app, err := control.NewFeed(cfg, log)
	if err != nil {
		slog.Error("Failed to initialize feed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if err := app.Start(ctx); err != nil {
		slog.Error("Failed to start feed", "error", err)
		os.Exit(1)
	}

	slog.Info("Feed started", "config", cfgPath)

	sig := <-sigChan
	slog.Info("Received signal, shutting down...", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	cancel()
	if err := app.Stop(shutdownCtx); err != nil {
		slog.Error("Shutdown finished with errors", "error", err)
		os.Exit(1)
	}
	slog.Info("Shutdown complete")
}
