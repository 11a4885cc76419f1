// File: internal/cli/root.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package cli

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/momentics/hioload-state/facade"
	"github.com/momentics/hioload-state/internal/logging"
)

var (
	envFile string
	config  *facade.Config
)

var rootCmd = &cobra.Command{
	Use:   "hioload-state",
	Short: "Shared-memory state for multi-worker WebSocket servers",
	Long: `hioload-state keeps a fixed-capacity cache and a per-identity WebSocket
connection registry in shared memory so that several worker processes share
them. Each worker pushes to the connections it accepted itself.

Configuration is read from HIOLOAD_* environment variables, optionally
loaded from a .env file first.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
}

func loadConfig(_ *cobra.Command, _ []string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	cfg, err := facade.LoadConfig()
	if err != nil {
		return err
	}
	if err := logging.Init(cfg.Log); err != nil {
		return err
	}
	config = cfg
	return nil
}
