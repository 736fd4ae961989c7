package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vastdb/vast/catalog"
	"github.com/vastdb/vast/config"
	"github.com/vastdb/vast/diskmonitor"
	"github.com/vastdb/vast/engine"
	"github.com/vastdb/vast/eraser"
	"github.com/vastdb/vast/logging"
	"github.com/vastdb/vast/metrics"
	"github.com/vastdb/vast/vfs"
)

func initRun(root *cobra.Command) {
	var configFile string
	var dataDir string

	runCommand := &cobra.Command{
		Use:   "run",
		Short: "Start vastd",
		Long: `Start a vastd process.

vastd loads its settings from --config, opens its database directory with
--data-dir, and runs the ingest-facing engine alongside the eraser and
disk monitor background sweeps until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), configFile, dataDir)
		},
	}
	runCommand.Flags().StringVarP(&configFile, "config", "c", "", "path to the vastd settings file (required)")
	runCommand.Flags().StringVarP(&dataDir, "data-dir", "d", ".", "database directory vastd persists partitions under")
	runCommand.MarkFlagRequired("config")

	root.AddCommand(runCommand)
}

func runServer(ctx context.Context, configFile, dataDir string) error {
	settings, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("cmd: load config: %w", err)
	}

	logger := logging.New()
	logger.SetJSONFormatter()
	m := metrics.NewPrometheus()

	fs, err := vfs.New(dataDir)
	if err != nil {
		return fmt.Errorf("cmd: open data dir %s: %w", dataDir, err)
	}

	cat := catalog.New()
	idx, err := engine.New(fs, cat, settings.EngineOptions(), logger, m)
	if err != nil {
		return fmt.Errorf("cmd: build engine: %w", err)
	}

	mon := diskmonitor.New(fs, idx, settings.EngineOptions().PartitionDir, settings.DiskMonitorOptions(), logger, m)

	eraserOpts, err := settings.EraserOptions(time.Now())
	if err != nil {
		return fmt.Errorf("cmd: build eraser options: %w", err)
	}
	er, err := eraser.New(cat, idx, eraserOpts, logger, m)
	if err != nil {
		return fmt.Errorf("cmd: build eraser: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	idx.Run(ctx)
	mon.Run(ctx)
	er.Run(ctx)

	logger.Info("vastd: running")
	<-ctx.Done()
	logger.Info("vastd: shutting down")

	er.Close()
	mon.Close()
	return idx.Close()
}
