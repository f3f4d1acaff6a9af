package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/groundd/internal/workflows"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run ingestion and test run workflows from Temporal",
	Long: `Poll the configured Temporal task queue and execute document ingestion
and test run workflows started by "groundd serve".

Examples:
  GROUNDD_TEMPORAL_HOST_PORT=localhost:7233 groundd worker`,
	Args: cobra.NoArgs,
	RunE: runWorker,
}

func runWorker(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(ctx) }()

	if a.cfg.Temporal.HostPort == "" {
		return errors.New("temporal.host_port is not configured")
	}
	c, err := workflows.Dial(a.cfg.Temporal)
	if err != nil {
		return err
	}
	defer c.Close()

	a.logger.Info(ctx, "worker polling", zap.String("task_queue", a.cfg.Temporal.TaskQueue))
	w := workflows.NewWorker(c, a.cfg.Temporal.TaskQueue, a.activities())
	if err := w.Run(worker.InterruptCh()); err != nil {
		return fmt.Errorf("worker: %w", err)
	}
	return nil
}
