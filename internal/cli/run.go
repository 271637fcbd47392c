package cli

import (
	"context"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"marketfeed/internal/control"
	"marketfeed/internal/core/config"
	"marketfeed/internal/pipeline"
)

var outPath string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one pipeline run and write the snapshot",
	Run:   runOnce,
}

func init() {
	runCmd.Flags().StringVar(&outPath, "out", "", "snapshot destination (defaults to pipeline.output_path)")
	rootCmd.AddCommand(runCmd)
}

func runOnce(cmd *cobra.Command, args []string) {
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

	ctx := context.Background()
	snap, err := app.Orchestrator().RunOnce(ctx)
	if err != nil {
		slog.Error("Pipeline run failed", "error", err)
	}
	if snap == nil {
		os.Exit(1)
	}

	dest := outPath
	if dest == "" {
		dest = cfg.Pipeline.OutputPath
	}
	if err := pipeline.WriteSnapshot(dest, snap); err != nil {
		slog.Error("Failed to write snapshot", "path", dest, "error", err)
		os.Exit(1)
	}
	slog.Info("Snapshot written", "path", dest, "degraded", snap.Degraded)
}
