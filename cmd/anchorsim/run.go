package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"frostanchor.ai/internal/metrics"
	"frostanchor.ai/internal/persistence/indexdb"
	persistlog "frostanchor.ai/internal/persistence/log"
	"frostanchor.ai/internal/persistence/snapshot"
	"frostanchor.ai/internal/sim/anchors"
	"frostanchor.ai/internal/sim/tuning"
	"frostanchor.ai/internal/sim/voxel"
	"frostanchor.ai/internal/transport/observer"
	"frostanchor.ai/internal/transport/ws"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the simulation and serve its endpoints",
	Long: `Loads tuning and the newest snapshot (or seeds a fresh world), reconciles the anchor
registry against it, then ticks the engine at tick_rate_hz until interrupted. With
--ticks the engine is stepped that many times without a server and the final census
is printed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, err := newLogger(cmd)
		if err != nil {
			return err
		}
		opts := runOptions{}
		opts.dataDir, _ = cmd.Flags().GetString("data")
		opts.snapshotPath, _ = cmd.Flags().GetString("snapshot")
		opts.loadLatest, _ = cmd.Flags().GetBool("load_latest_snapshot")
		opts.addr, _ = cmd.Flags().GetString("addr")
		opts.ticks, _ = cmd.Flags().GetInt("ticks")
		opts.demo, _ = cmd.Flags().GetBool("demo")
		opts.disableDB, _ = cmd.Flags().GetBool("disable_db")
		opts.worldID, _ = cmd.Flags().GetString("world")
		opts.seed, _ = cmd.Flags().GetInt64("seed")

		tune, err := loadTuning(cmd, logger)
		if err != nil {
			return err
		}
		ctx, cancel := signalContext()
		defer cancel()
		return run(ctx, opts, tune, logger, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().String("addr", ":8080", "HTTP listen address")
	runCmd.Flags().String("snapshot", "", "resume from this snapshot file")
	runCmd.Flags().Bool("load_latest_snapshot", true, "resume from the newest snapshot in the data dir")
	runCmd.Flags().Int("ticks", 0, "step this many ticks headless, print the census and exit")
	runCmd.Flags().Bool("demo", false, "seed a demo pond when starting fresh and keep triggering its anchors")
	runCmd.Flags().Bool("disable_db", false, "do not maintain the SQLite index")
	runCmd.Flags().String("world", "world_1", "world id for a fresh world")
	runCmd.Flags().Int64("seed", 1337, "world seed for a fresh world")
}

type runOptions struct {
	dataDir      string
	snapshotPath string
	loadLatest   bool
	addr         string
	ticks        int
	demo         bool
	disableDB    bool
	worldID      string
	seed         int64
}

func run(ctx context.Context, opts runOptions, tune tuning.Tuning, logger *slog.Logger, stdout io.Writer) error {
	w, demoAnchors, err := openWorld(opts, logger)
	if err != nil {
		return err
	}

	var idx *indexdb.SQLiteIndex
	if !opts.disableDB {
		idx, err = indexdb.OpenSQLite(indexPath(opts.dataDir))
		if err != nil {
			return fmt.Errorf("index: %w", err)
		}
		defer idx.Close()
	}
	digest, err := idx.UpsertTuning(ctx, tune)
	if err != nil {
		logger.Warn("index tuning upsert failed", "err", err)
	}
	if digest == "" {
		digest, _, _ = tuning.Digest(tune)
	}

	auditLog := persistlog.NewMutationLog(opts.dataDir, logger)
	defer auditLog.Close()

	met := metrics.New()
	var (
		eng    *anchors.Engine
		demo   *demoDriver
		snapCh = make(chan snapshot.SnapshotV1, 2)
	)
	every := uint64(tune.SnapshotEveryTicks)
	afterStep := func(tick uint64) {
		demo.afterStep(tick)
		if every == 0 || tick%every != 0 {
			return
		}
		idx.RecordCensus(eng.Census())
		select {
		case snapCh <- w.ExportSnapshot():
		default:
			logger.Warn("snapshot skipped, writer busy", "tick", tick)
		}
	}

	sinks := []anchors.Sink{auditLog}
	if idx != nil {
		sinks = append(sinks, idx)
	}
	eng, err = anchors.New(w, tune, anchors.Options{
		Logger:    logger.With("component", "anchors"),
		Metrics:   met,
		Sinks:     sinks,
		AfterStep: afterStep,
	})
	if err != nil {
		return err
	}
	if len(demoAnchors) > 0 {
		for _, p := range demoAnchors {
			eng.HandlePlace(voxel.Primary, p, voxel.Block{Kind: voxel.AnchorEmpty})
		}
		demo = &demoDriver{eng: eng, world: w, anchors: demoAnchors, every: uint64(5 * tune.TickRateHz)}
	}

	rep := eng.Reconcile()
	logger.Info("startup reconcile",
		"tick", w.CurrentTick(),
		"registered", rep.Registered,
		"torn_down", rep.TornDown,
		"markers_destroyed", rep.MarkersDestroyed,
		"anchors", eng.Registry().Len(),
		"tuning_digest", digest,
	)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for snap := range snapCh {
			if _, err := saveSnapshot(opts.dataDir, snap, idx, logger); err != nil {
				logger.Error("snapshot write failed", "tick", snap.Header.Tick, "err", err)
			}
		}
	}()

	if opts.ticks > 0 {
		for i := 0; i < opts.ticks && ctx.Err() == nil; i++ {
			eng.Step()
		}
	} else if err := serve(ctx, opts.addr, eng, met, tune, digest, logger); err != nil {
		close(snapCh)
		wg.Wait()
		return err
	}

	close(snapCh)
	wg.Wait()

	// The engine is stopped, so the world can be read from here.
	if _, err := saveSnapshot(opts.dataDir, w.ExportSnapshot(), idx, logger); err != nil {
		logger.Error("final snapshot failed", "err", err)
	}
	c := eng.Census()
	idx.RecordCensus(c)
	if err := idx.Flush(context.Background()); err != nil {
		logger.Warn("index flush failed", "err", err)
	}
	if dropped := auditLog.Dropped(); dropped > 0 {
		logger.Warn("audit entries dropped", "count", dropped)
	}

	if opts.ticks > 0 {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(c)
	}
	return nil
}

// openWorld resumes from a snapshot when one is available, else creates a fresh world.
// The returned positions are demo anchors still to be registered.
func openWorld(opts runOptions, logger *slog.Logger) (*voxel.World, []voxel.Vec3i, error) {
	if path := resolveSnapshot(opts.dataDir, opts.snapshotPath, opts.loadLatest); path != "" {
		w, err := loadWorld(path)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("resumed from snapshot", "path", path, "world", w.ID(), "tick", w.CurrentTick())
		return w, nil, nil
	}

	w := voxel.NewWorld(opts.worldID, opts.seed)
	if opts.demo {
		anchorsAt := seedDemo(w)
		logger.Info("seeded demo world", "world", w.ID(), "anchors", len(anchorsAt))
		return w, anchorsAt, nil
	}
	for _, dim := range voxel.Dimensions {
		w.LoadBox(dim, demoMin, demoMax)
	}
	logger.Info("created world", "world", w.ID(), "seed", w.Seed())
	return w, nil, nil
}

func serve(ctx context.Context, addr string, eng *anchors.Engine, met *metrics.Metrics, tune tuning.Tuning, digest string, logger *slog.Logger) error {
	obs := observer.NewServer(eng, tune.TickRateHz, logger.With("component", "observer"))
	eng.AddSink(obs)
	ctl := ws.NewServer(eng, digest, logger.With("component", "control"))

	srv := &http.Server{
		Addr: addr,
		Handler: newRouter(routes{
			census:    eng,
			metrics:   met.Handler(),
			observe:   obs.WSHandler(),
			bootstrap: obs.BootstrapHandler(),
			control:   ctl.Handler(),
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	runCtx, stopEngine := context.WithCancel(ctx)
	defer stopEngine()
	engineDone := make(chan error, 1)
	go func() { engineDone <- eng.Run(runCtx) }()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", addr)
		serverErr <- srv.ListenAndServe()
	}()

	var err error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err = <-serverErr:
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
	case err = <-engineDone:
		engineDone <- err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		logger.Warn("graceful shutdown did not complete", "err", serr)
		_ = srv.Close()
	}
	stopEngine()
	if eerr := <-engineDone; eerr != nil && !errors.Is(eerr, context.Canceled) && err == nil {
		err = eerr
	}
	return err
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-ch:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(ch)
	}()
	return ctx, cancel
}
