package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"projectflow/internal/handler"
	"projectflow/internal/httpserver"
	"projectflow/internal/quality"
	"projectflow/pkg/mq"
	"projectflow/pkg/outbox"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	serveDispatch  bool
	serveConsumers bool
)

func init() {
	serveCmd.Flags().BoolVar(&serveDispatch, "dispatch", true, "run the outbox dispatcher in this process")
	serveCmd.Flags().BoolVar(&serveConsumers, "consumers", false, "also run the event consumers in this process")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the workflow HTTP API",
	Long: `Run the workflow HTTP API and, by default, the outbox dispatcher that
publishes workflow events to RabbitMQ.

Examples:
  # Local run against config/local.yaml
  projectflow serve --env local

  # API plus consumers in one process
  projectflow serve --consumers`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()
	if a.cfg.JWT.Secret == "" {
		return fmt.Errorf("jwt.secret is not configured")
	}

	wf := a.workflowService()
	gates := quality.NewGateService(a.store, a.logger)
	defects := quality.NewDefectService(a.store, a.logger)

	publisher, err := mq.NewPublisher(a.cfg.MQ.URL)
	if err != nil {
		return fmt.Errorf("MQ publisher initialization failed: %w", err)
	}
	defer publisher.Close()

	handlers := httpserver.Handlers{
		Workflow: handler.NewWorkflowHandler(wf, a.logger),
		Quality:  handler.NewQualityHandler(gates, a.logger),
		Defect:   handler.NewDefectHandler(defects, a.logger),
	}
	if a.cfg.Admin.KeyHash != "" {
		replay := outbox.NewReplayService(a.events, publisher, a.cfg.Outbox.MaxRetries, a.logger)
		handlers.Admin = handler.NewAdminHandler(replay, a.logger)
	}

	router := httpserver.NewRouter(handlers, httpserver.RouterConfig{
		JWTSecret:    a.cfg.JWT.Secret,
		AdminKeyHash: a.cfg.Admin.KeyHash,
	}, a.store, a.logger)
	server := httpserver.NewServer(a.cfg.Server.Port, router, a.cfg.Server.ShutdownTimeout, a.logger)

	g, gctx := errgroup.WithContext(ctx)
	if serveConsumers {
		consumers, err := startConsumers(gctx, g, a, wf, publisher)
		if err != nil {
			stop()
			_ = g.Wait()
			return err
		}
		defer closeConsumers(consumers)
	}

	g.Go(func() error {
		return server.Run(gctx)
	})

	if serveDispatch {
		dispatcher := outbox.NewDispatcher(a.events, publisher, a.logger).
			WithMaxRetries(a.cfg.Outbox.MaxRetries).
			WithInterval(a.cfg.Outbox.Interval).
			WithBatchSize(a.cfg.Outbox.BatchSize)
		g.Go(func() error {
			dispatcher.Start(gctx)
			return nil
		})
	}

	a.logger.Info("projectflow started",
		zap.String("version", version),
		zap.String("port", a.cfg.Server.Port),
		zap.String("storage", a.cfg.Workflow.Storage),
		zap.String("lock_backend", a.cfg.Workflow.LockBackend),
	)
	return g.Wait()
}
