package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	ghttp "github.com/fyrsmithlabs/groundd/internal/http"
	"github.com/fyrsmithlabs/groundd/internal/scheduler"
	"github.com/fyrsmithlabs/groundd/internal/workflows"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	Long: `Serve the chat, document and test run API.

Ingestions and test runs started through the API execute in this process,
or as Temporal workflows when temporal.host_port is configured. Periodic
sweeps fail documents and test runs that stopped making progress.

Examples:
  groundd serve
  groundd serve --config ./groundd.yaml
  GROUNDD_SERVER_PORT=8080 groundd serve`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(context.Background()) }()
	cfg := a.cfg

	dispatcher, mode, err := newDispatcher(a)
	if err != nil {
		return err
	}
	defer func() { _ = dispatcher.Close() }()

	if !cfg.Scheduler.Disabled {
		sched := scheduler.New(cfg.Scheduler, a.logger)
		if err := sched.Add("documents", a.pipeline.NewSweeper()); err != nil {
			return err
		}
		if err := sched.Add("testruns", a.harness.NewWatchdog()); err != nil {
			return err
		}
		sched.Start()
		defer sched.Stop()
	}

	srv, err := ghttp.NewServer(ghttp.Deps{
		Conversations: a.orchestrator,
		Store:         a.store,
		Indexer:       a.pipeline,
		Dispatcher:    dispatcher,
		Events:        a.bus,
		Logger:        a.logger,
	}, &ghttp.Config{
		Host:          cfg.Server.Host,
		Port:          cfg.Server.Port,
		MaxAudioBytes: cfg.Server.MaxAudioBytes,
		UploadDir:     cfg.Ingestion.UploadDir,
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()
	a.logger.Info(ctx, "serving",
		zap.String("addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)),
		zap.String("dispatch", mode),
		zap.Bool("scheduler", !cfg.Scheduler.Disabled),
	)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info(ctx, "shutting down", zap.Duration("timeout", cfg.Server.ShutdownTimeout.Duration()))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// newDispatcher picks Temporal when a host is configured and in-process
// execution otherwise.
func newDispatcher(a *app) (workflows.Dispatcher, string, error) {
	if a.cfg.Temporal.HostPort == "" {
		return workflows.NewLocalDispatcher(a.activities(), a.logger), "local", nil
	}
	c, err := workflows.Dial(a.cfg.Temporal)
	if err != nil {
		return nil, "", err
	}
	return workflows.NewTemporalDispatcher(c, a.cfg.Temporal.TaskQueue), "temporal", nil
}
