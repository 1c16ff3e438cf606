package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"resynth/src/core/artifact"
	"resynth/src/core/effects"
	"resynth/src/infrastructure/job"
	"resynth/src/infrastructure/log"
	"resynth/src/infrastructure/queue"
	"resynth/src/jobctrl"
	"resynth/src/storage/minioctrl"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the background job worker",
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func newWorker(cfg appConfig, store job.Store, blobs *minioctrl.MinioService) *job.Worker {
	task := jobctrl.NewResynthesisTask(blobs, effects.NewEngine(), artifact.NewLayout(cfg.OutputPrefix))
	return job.NewWorker(store, task, cfg.WorkerConcurrency)
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	blobs, err := openMinio(ctx, cfg)
	if err != nil {
		return err
	}

	if cfg.QueueBackend != "amqp" && cfg.QueueBackend != "" {
		log.Info("Standalone worker only consumes amqp; use serve --embedded-worker for the memory queue", "backend", cfg.QueueBackend)
		return nil
	}
	subscriber, err := queue.NewAMQPSubscriber(cfg.AMQPURL, log.NewWatermillAdapter(log.WithName("queue")))
	if err != nil {
		return err
	}
	defer subscriber.Close()

	worker := newWorker(cfg, store, blobs)
	if err := worker.Run(ctx, queue.NewReceiver(subscriber, cfg.Queue)); err != nil {
		return err
	}
	log.Info("Worker exited")
	return nil
}
