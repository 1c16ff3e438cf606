package cmd

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"resynth/src/infrastructure/log"
)

var rootCmd = &cobra.Command{
	Use:   "resynth",
	Short: "Audio re-synthesis job service",
	Long: `resynth accepts audio files, queues them for processing through an
effect chain and serves download links for the results.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded := loadDotEnv()
		if err := log.Setup(viper.GetBool("log.development"), viper.GetInt("log.verbosity")); err != nil {
			return err
		}
		if loaded {
			log.Info("Loaded environment from .env.local")
		}
		return nil
	},
}

func init() {
	settingDefaultConfig()
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
