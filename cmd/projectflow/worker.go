package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	mqcontracts "projectflow/contracts/mq"
	"projectflow/internal/mqhandler"
	"projectflow/internal/workflow"
	"projectflow/pkg/mq"
	"projectflow/pkg/util"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	autoAdvanceQueue = "projectflow.auto_advance.q"
	auditQueue       = "projectflow.audit.q"

	dedupTTL        = 24 * time.Hour
	retryCounterTTL = time.Hour
	maxHandlerRetry = 3
)

func init() {
	rootCmd.AddCommand(workerCmd)
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the workflow event consumers",
	Long: `Run the RabbitMQ consumers for workflow events:

  projectflow.audit.q         every workflow event, written to the log
  projectflow.auto_advance.q  quality.inspection.passed, advances the project
                              (only when workflow.auto_advance is enabled)`,
	RunE: runWorker,
}

func runWorker(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	publisher, err := mq.NewPublisher(a.cfg.MQ.URL)
	if err != nil {
		return fmt.Errorf("MQ publisher initialization failed: %w", err)
	}
	defer publisher.Close()

	g, gctx := errgroup.WithContext(ctx)
	consumers, err := startConsumers(gctx, g, a, a.workflowService(), publisher)
	if err != nil {
		return err
	}
	defer closeConsumers(consumers)

	a.logger.Info("All consumers started, worker is ready to process messages",
		zap.Int("consumers", len(consumers)))
	return g.Wait()
}

// startConsumers starts one goroutine per consumer in g. Consumers are
// stopped when ctx is done.
func startConsumers(ctx context.Context, g *errgroup.Group, a *app, wf *workflow.Service, dlq mq.DeadLetterer) ([]*mq.Consumer, error) {
	var consumers []*mq.Consumer

	add := func(queue, routingKey string, handler mq.MessageHandler) error {
		a.logger.Info("Initializing consumer", zap.String("queue", queue), zap.String("routing_key", routingKey))
		c, err := mq.NewConsumer(a.cfg.MQ.URL, queue, routingKey, a.logger)
		if err != nil {
			return fmt.Errorf("failed to init %s consumer: %w", queue, err)
		}
		c.SetHandler(handler)
		c.SetDeadLetterer(dlq)
		consumers = append(consumers, c)
		g.Go(c.StartConsuming)
		return nil
	}

	audit := mqhandler.NewAuditHandler("#", a.logger)
	if err := add(auditQueue, "#", audit.Handle); err != nil {
		closeConsumers(consumers)
		return nil, err
	}

	if a.cfg.Workflow.AutoAdvance {
		rdb := a.redisClient()
		advance := mqhandler.NewAutoAdvanceHandler(
			wf,
			util.NewDeduper(rdb, dedupTTL, a.logger),
			util.NewRetryCounter(rdb, retryCounterTTL),
			maxHandlerRetry,
			a.logger,
		)
		if err := add(autoAdvanceQueue, mqcontracts.RoutingKeyInspectionPassed, advance.Handle); err != nil {
			closeConsumers(consumers)
			return nil, err
		}
	}

	g.Go(func() error {
		<-ctx.Done()
		for _, c := range consumers {
			c.Stop()
		}
		return nil
	})
	return consumers, nil
}

func closeConsumers(consumers []*mq.Consumer) {
	for _, c := range consumers {
		c.Close()
	}
}
