// Command synapse runs the EEG confusion-adaptive flashcard service and
// its maintenance tools.
package main

import (
	"os"

	"github.com/mdobak/go-xerrors"
	"github.com/spf13/cobra"

	"github.com/banshee-data/synapse/internal/config"
	"github.com/banshee-data/synapse/internal/monitoring"
)

var (
	configPath string
	envFile    string
	logLevel   string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		xerrors.Print(xerrors.New(err))
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "synapse",
		Short:         "EEG confusion-adaptive spaced repetition",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (.json, .yaml or .toml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before SYNAPSE_* overrides")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (overrides config)")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newTrainCmd())
	rootCmd.AddCommand(newModelsCmd())
	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newReplayCmd())
	rootCmd.AddCommand(newReceiveCmd())
	rootCmd.AddCommand(newReportCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

// loadConfig reads --config (if given), the dotenv file and SYNAPSE_*
// overrides, then applies the log level.
func loadConfig() (*config.Config, error) {
	cfg := &config.Config{}
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return nil, err
		}
	}
	if err := config.LoadDotEnv(envFile); err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(nil); err != nil {
		return nil, err
	}
	level := cfg.GetLogLevel()
	if logLevel != "" {
		level = logLevel
	}
	if err := monitoring.SetLevel(level); err != nil {
		return nil, err
	}
	return cfg, nil
}
