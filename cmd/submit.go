package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"resynth/src/infrastructure/job"
	"resynth/src/infrastructure/log"
	"resynth/src/infrastructure/queue"
)

var (
	submitEffects  string
	submitFilename string
)

var submitCmd = &cobra.Command{
	Use:   "submit <input-key>",
	Short: "Enqueue a job for an already uploaded input",
	Example: `  resynth submit input/take1.wav --effects '[{"name":"Blues Driver"},{"name":"Reverb","params":{"room_size":0.8}}]'`,
	Args: cobra.ExactArgs(1),
	RunE: runSubmit,
}

func init() {
	submitCmd.Flags().StringVar(&submitEffects, "effects", "[]", "effect chain as a JSON array of {name, params}")
	submitCmd.Flags().StringVar(&submitFilename, "filename", "", "original filename used to name the download")
	rootCmd.AddCommand(submitCmd)
}

func runSubmit(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	ctx := context.Background()

	var chain []job.Instruction
	if err := json.Unmarshal([]byte(submitEffects), &chain); err != nil {
		return fmt.Errorf("invalid --effects: %w", err)
	}

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	publisher, err := openPublisher(cfg, log.NewWatermillAdapter(log.WithName("queue")))
	if err != nil {
		return err
	}
	defer publisher.Close()

	var filename *string
	if submitFilename != "" {
		filename = &submitFilename
	}

	svc := job.NewJobService(store, queue.NewSender(publisher, cfg.Queue), cfg.Retention)
	rec, err := svc.Submit(ctx, job.SubmitRequest{
		InputKey:         args[0],
		EffectChain:      chain,
		OriginalFilename: filename,
	})
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), rec.JobID)
	return nil
}
