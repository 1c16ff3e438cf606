package cmd

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	v1 "resynth/handler/http/v1"
	"resynth/src/core/artifact"
	"resynth/src/infrastructure/job"
	"resynth/src/infrastructure/log"
	"resynth/src/infrastructure/queue"
)

var embeddedWorker bool

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the job API server",
	Long: `The serve command starts an HTTP server for submitting jobs and reading
their status. With --embedded-worker it also processes jobs in-process over an
in-memory queue.`,
	RunE: runServer,
}

func init() {
	serveCmd.Flags().BoolVar(&embeddedWorker, "embedded-worker", false, "process jobs in this process over an in-memory queue")
	rootCmd.AddCommand(serveCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
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

	wmLogger := log.NewWatermillAdapter(log.WithName("queue"))
	var publisher message.Publisher
	if embeddedWorker {
		pubSub := queue.NewMemoryPubSub(wmLogger)
		defer pubSub.Close()
		publisher = pubSub

		// gochannel fans out to every subscriber, so one consumer only.
		qcfg := cfg.Queue
		qcfg.Consumers = 1
		worker := newWorker(cfg, store, blobs)
		go func() {
			if err := worker.Run(ctx, queue.NewReceiver(pubSub, qcfg)); err != nil {
				log.Error(err, "Embedded worker stopped")
			}
		}()
	} else {
		publisher, err = openPublisher(cfg, wmLogger)
		if err != nil {
			return err
		}
		defer publisher.Close()
	}

	jobService := job.NewJobService(store, queue.NewSender(publisher, cfg.Queue), cfg.Retention)
	deriver := artifact.NewDeriver(blobs, cfg.PresignExpiry)
	handler := v1.NewHandler(jobService, deriver, blobs, v1.Config{
		InputPrefix:   cfg.InputPrefix,
		PresignExpiry: cfg.PresignExpiry,
	})

	// Setup gin router
	r := gin.Default()
	handler.RegisterRoutes(r)

	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Server listening", "addr", srv.Addr, "embedded_worker", embeddedWorker)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(err, "Server forced to shutdown")
	}

	log.Info("Server exited")
	return nil
}
