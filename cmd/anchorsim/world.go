package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"frostanchor.ai/internal/persistence/indexdb"
	"frostanchor.ai/internal/persistence/snapshot"
	"frostanchor.ai/internal/sim/tuning"
	"frostanchor.ai/internal/sim/voxel"
)

// loadTuning reads --tuning. A missing default file falls back to built-in defaults; a
// missing file named explicitly is an error.
func loadTuning(cmd *cobra.Command, logger *slog.Logger) (tuning.Tuning, error) {
	path, _ := cmd.Flags().GetString("tuning")
	tune, err := tuning.Load(path)
	if err == nil {
		return tune, nil
	}
	if errors.Is(err, os.ErrNotExist) && !cmd.Flags().Changed("tuning") {
		logger.Warn("tuning file not found, using defaults", "path", path)
		return tuning.Defaults(), nil
	}
	return tuning.Tuning{}, err
}

func snapshotDir(dataDir string) string { return filepath.Join(dataDir, "snapshots") }

func indexPath(dataDir string) string { return filepath.Join(dataDir, "index", "anchors.sqlite") }

// resolveSnapshot picks the snapshot to resume from: an explicit path wins, then the
// newest file in the data dir when latest is set. "" means start fresh.
func resolveSnapshot(dataDir, explicit string, latest bool) string {
	if explicit != "" {
		return explicit
	}
	if latest {
		return snapshot.Latest(snapshotDir(dataDir))
	}
	return ""
}

func loadWorld(path string) (*voxel.World, error) {
	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", path, err)
	}
	w, err := voxel.LoadWorld(snap)
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", path, err)
	}
	return w, nil
}

// saveSnapshot writes snap under the data dir and indexes it. Safe off the simulation
// goroutine: snap is already a copy.
func saveSnapshot(dataDir string, snap snapshot.SnapshotV1, idx *indexdb.SQLiteIndex, logger *slog.Logger) (string, error) {
	path := filepath.Join(snapshotDir(dataDir), snapshot.FileName(snap.Header.Tick))
	if err := snapshot.WriteSnapshot(path, snap); err != nil {
		return "", err
	}
	idx.RecordSnapshot(path, snap)
	logger.Info("snapshot written", "tick", snap.Header.Tick, "path", path, "sections", len(snap.Sections), "markers", len(snap.Markers))
	return path, nil
}
