package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"frostanchor.ai/internal/sim/tuning"
)

var tuningCmd = &cobra.Command{
	Use:   "tuning",
	Short: "Inspect and validate tuning files",
}

var tuningValidateCmd = &cobra.Command{
	Use:   "validate [path]",
	Short: "Check a tuning file against the schema",
	Long:  `Validates the file (default: --tuning) and prints the digest of the tuning it resolves to.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("tuning")
		if len(args) > 0 {
			path = args[0]
		}
		tune, err := tuning.Load(path)
		if err != nil {
			return err
		}
		digest, _, err := tuning.Digest(tune)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (digest %s)\n", path, digest)
		return nil
	},
}

var tuningDefaultsCmd = &cobra.Command{
	Use:   "defaults",
	Short: "Print the built-in tuning as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		if err := enc.Encode(tuning.Defaults()); err != nil {
			return err
		}
		return enc.Close()
	},
}

func init() {
	rootCmd.AddCommand(tuningCmd)
	tuningCmd.AddCommand(tuningValidateCmd, tuningDefaultsCmd)
}
