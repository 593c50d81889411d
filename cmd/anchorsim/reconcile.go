package main

import (
	"encoding/json"
	"errors"

	"github.com/spf13/cobra"

	"frostanchor.ai/internal/sim/anchors"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Rebuild the anchor registry from a snapshot and print the result",
	Long: `Loads a snapshot (the newest one in the data dir unless --snapshot is given), runs one
reconciliation pass against it and prints the repair report and the resulting census
as JSON. The snapshot file is not modified.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, err := newLogger(cmd)
		if err != nil {
			return err
		}
		tune, err := loadTuning(cmd, logger)
		if err != nil {
			return err
		}
		dataDir, _ := cmd.Flags().GetString("data")
		explicit, _ := cmd.Flags().GetString("snapshot")
		path := resolveSnapshot(dataDir, explicit, true)
		if path == "" {
			return errors.New("no snapshot found; pass --snapshot")
		}
		w, err := loadWorld(path)
		if err != nil {
			return err
		}
		eng, err := anchors.New(w, tune, anchors.Options{Logger: logger})
		if err != nil {
			return err
		}

		out := struct {
			Snapshot string                  `json:"snapshot"`
			Report   anchors.ReconcileReport `json:"report"`
			Census   anchors.Census          `json:"census"`
		}{Snapshot: path}
		out.Report = eng.Reconcile()
		out.Census = eng.Census()

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	rootCmd.AddCommand(reconcileCmd)
	reconcileCmd.Flags().String("snapshot", "", "snapshot file to reconcile")
}
