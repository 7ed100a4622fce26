package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/kilianp07/tankwatch/config"
)

var (
	cfgPath string
	envFile string
)

var rootCmd = &cobra.Command{
	Use:   "tankwatch",
	Short: "Fuel tank level monitoring service",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadEnv(envFile)
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.yaml", "configuration file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the configuration")
}

// Execute runs the CLI.
func Execute() error { return rootCmd.Execute() }

// loadEnv applies a dotenv file when it exists. Variables already set in the
// environment win.
func loadEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
