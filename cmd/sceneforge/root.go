package main

import (
	"os"

	"github.com/spf13/cobra"

	"sceneforge/internal/config"
	"sceneforge/internal/logging"
	"sceneforge/internal/observability"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "sceneforge",
	Short: "Turn a topic into a rendered animation",
	Long: `sceneforge generates animation scene code from a natural-language
topic with a code-generation model, screens it with a static validator,
renders it with an external renderer, and feeds render failures back to
the model for bounded repair.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./sceneforge.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "", "log format: text, json")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(renderCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads the merged configuration and installs the process
// logger before anything else runs.
func loadConfig(cmd *cobra.Command) (*config.Config, *observability.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, err
	}

	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.Log.Level = v
	}
	if v, _ := cmd.Flags().GetString("log-format"); v != "" {
		cfg.Log.Format = v
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stderr,
	})
	logging.SetDefault(logger)
	return cfg, logger, nil
}
