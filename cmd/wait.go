package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"resynth/src/infrastructure/job"
)

var waitInterval time.Duration

var waitCmd = &cobra.Command{
	Use:   "wait <job-id>...",
	Short: "Poll jobs until all of them have completed or failed",
	Args:  cobra.RangeArgs(1, job.MaxBatchSize),
	RunE:  runWait,
}

func init() {
	waitCmd.Flags().DurationVar(&waitInterval, "interval", 2*time.Second, "poll interval")
	rootCmd.AddCommand(waitCmd)
}

func runWait(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	ids := make([]string, 0, len(args))
	seen := map[string]bool{}
	for _, id := range args {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	bar := progressbar.NewOptions(len(ids),
		progressbar.OptionSetWriter(cmd.ErrOrStderr()),
		progressbar.OptionSetDescription("waiting for jobs"),
		progressbar.OptionShowCount(),
	)

	ticker := time.NewTicker(waitInterval)
	defer ticker.Stop()
	for {
		recs, err := store.BatchGet(ctx, ids)
		if err != nil {
			return err
		}

		done := 0
		for _, rec := range recs {
			if rec.Status.Terminal() {
				done++
			}
		}
		_ = bar.Set(done)

		if done == len(recs) {
			_ = bar.Finish()
			fmt.Fprintln(cmd.OutOrStdout())
			for _, rec := range recs {
				line := fmt.Sprintf("%s\t%s", rec.JobID, rec.Status)
				if rec.ErrorMessage != nil {
					line += "\t" + *rec.ErrorMessage
				}
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			if missing := len(ids) - len(recs); missing > 0 {
				return fmt.Errorf("%d job(s) not found", missing)
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
