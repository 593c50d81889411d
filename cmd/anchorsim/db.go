package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"frostanchor.ai/internal/persistence/indexdb"
	"frostanchor.ai/internal/sim/voxel"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Query the SQLite index",
}

var dbHistoryCmd = &cobra.Command{
	Use:   "history x,y,z",
	Short: "Print every indexed change of one cell",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pos, err := parsePos(args[0])
		if err != nil {
			return err
		}
		dimName, _ := cmd.Flags().GetString("dim")
		dim, err := voxel.ParseDimension(dimName)
		if err != nil {
			return err
		}
		idx, err := openIndex(cmd)
		if err != nil {
			return err
		}
		defer idx.Close()

		rows, err := idx.MutationsAt(cmd.Context(), dim.String(), pos.ToArray())
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		for _, r := range rows {
			if err := enc.Encode(r); err != nil {
				return err
			}
		}
		return nil
	},
}

var dbReasonsCmd = &cobra.Command{
	Use:   "reasons",
	Short: "Count indexed mutations by reason",
	RunE: func(cmd *cobra.Command, args []string) error {
		idx, err := openIndex(cmd)
		if err != nil {
			return err
		}
		defer idx.Close()

		counts, err := idx.CountByReason(cmd.Context())
		if err != nil {
			return err
		}
		reasons := make([]string, 0, len(counts))
		for r := range counts {
			reasons = append(reasons, r)
		}
		sort.Strings(reasons)
		for _, r := range reasons {
			fmt.Fprintf(cmd.OutOrStdout(), "%-10s %d\n", r, counts[r])
		}
		return nil
	},
}

var dbLatestCmd = &cobra.Command{
	Use:   "latest",
	Short: "Print the newest indexed snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		idx, err := openIndex(cmd)
		if err != nil {
			return err
		}
		defer idx.Close()

		path, tick, err := idx.LatestSnapshot(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d %s\n", tick, path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(dbCmd)
	dbCmd.PersistentFlags().String("db", "", "sqlite path (default <data>/index/anchors.sqlite)")
	dbHistoryCmd.Flags().String("dim", "primary", "dimension of the cell")
	dbCmd.AddCommand(dbHistoryCmd, dbReasonsCmd, dbLatestCmd)
}

func openIndex(cmd *cobra.Command) (*indexdb.SQLiteIndex, error) {
	path, _ := cmd.Flags().GetString("db")
	if path == "" {
		dataDir, _ := cmd.Flags().GetString("data")
		path = indexPath(dataDir)
	}
	return indexdb.OpenSQLite(path)
}

func parsePos(s string) (voxel.Vec3i, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return voxel.Vec3i{}, fmt.Errorf("position %q: want x,y,z", s)
	}
	var v [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return voxel.Vec3i{}, fmt.Errorf("position %q: %w", s, err)
		}
		v[i] = n
	}
	return voxel.FromArray(v), nil
}
