package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"frostanchor.ai/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "anchorsim",
	Short: "anchorsim runs the spatial-anchor freeze/melt simulation",
	Long: `anchorsim hosts a voxel world and the anchor engine that freezes and melts water
around anchor blocks. It serves a metrics endpoint, an observer feed and a control
socket, and persists snapshots, an audit log and a SQLite index under the data dir.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("log_level", "info", "debug, info, warn or error")
	rootCmd.PersistentFlags().String("data", "./data", "data directory for snapshots, audit logs and the index")
	rootCmd.PersistentFlags().String("tuning", "configs/tuning.yaml", "path to tuning.yaml")
}

func newLogger(cmd *cobra.Command) (*slog.Logger, error) {
	s, _ := cmd.Flags().GetString("log_level")
	level, err := logging.ParseLevel(s)
	if err != nil {
		return nil, err
	}
	return logging.New(level, cmd.ErrOrStderr()), nil
}
