package commands

import (
	"os"

	"github.com/spf13/cobra"

	"vcni/internal/config"
	"vcni/internal/logging"
)

var (
	// Global flags
	cfgFile  string
	logLevel string
	noColor  bool
)

var rootCmd = &cobra.Command{
	Use:   "vcnictl",
	Short: "Headless client for the voice command session",
	Long: `vcnictl drives the same session stack as the desktop app from a terminal.

Configuration is read from .env, ~/.config/vcni/config.yaml (or --config)
and VCNI_* environment variables.

Examples:
  # Listen hands-free until Ctrl-C
  vcnictl listen

  # Send a typed command without speaking the answer
  vcnictl ask --quiet "what's the weather in Paris"

  # Check that the backend hands out transcription tokens
  vcnictl token`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Command returns the root cobra command.
func Command() *cobra.Command {
	return rootCmd
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.config/vcni/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable styled output")

	rootCmd.AddCommand(listenCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(sayCmd)
	rootCmd.AddCommand(tokenCmd)
}

// loadConfig applies global flags on top of config.Load.
func loadConfig() (config.Config, error) {
	if cfgFile != "" {
		if err := os.Setenv("VCNI_CONFIG_FILE", cfgFile); err != nil {
			return config.Config{}, err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	return cfg, nil
}
