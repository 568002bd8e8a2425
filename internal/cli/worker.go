package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/suPer8Hu/keystone/internal/chat"
	"github.com/suPer8Hu/keystone/internal/completion"
	"github.com/suPer8Hu/keystone/internal/db"
	"github.com/suPer8Hu/keystone/internal/metrics"
	"github.com/suPer8Hu/keystone/internal/store/rabbitmq"
	"github.com/suPer8Hu/keystone/internal/worker"
)

func newWorkerCommand(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume completion jobs from RabbitMQ",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd, f)
		},
	}
}

// NewWorkerCommand is the standalone worker binary's entry point.
func NewWorkerCommand() *cobra.Command {
	f := &rootFlags{}
	cmd := newWorkerCommand(f)
	cmd.Use = "keystone-worker"
	cmd.Flags().StringVar(&f.logLevel, "log-level", "", "override LOG_LEVEL (debug, info, warn, error)")
	return cmd
}

func runWorker(cmd *cobra.Command, f *rootFlags) error {
	cfg, log := loadConfig(f)
	if cfg.RabbitURL == "" {
		return errors.New("RABBIT_URL is required; without it serve runs jobs in process")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gdb, err := db.Connect(cfg.DBDSN)
	if err != nil {
		return err
	}

	provider, err := newRegistry(cfg).Get(ctx, cfg.AIProvider, "")
	if err != nil {
		return err
	}
	// no HTTP surface to scrape from
	rec := metrics.Nop{}
	comp := completion.NewService(cfg.AIProvider, provider,
		completion.WithTimeout(cfg.CompletionTimeout),
		completion.WithRecorder(rec),
		completion.WithLogger(log),
	)

	consumer, err := rabbitmq.NewConsumer(cfg.RabbitURL, cfg.RabbitQueue, log)
	if err != nil {
		return fmt.Errorf("rabbit: %w", err)
	}
	defer consumer.Close()

	tasks, err := consumer.Tasks(ctx, cfg.WorkerConcurrency)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	log.Info("worker started", slog.String("queue", cfg.RabbitQueue), slog.Int("concurrency", cfg.WorkerConcurrency))
	worker.NewPool(worker.NewHandler(chat.NewRepo(gdb), comp, rec, log), cfg.WorkerConcurrency, log).Run(ctx, tasks)
	return nil
}
