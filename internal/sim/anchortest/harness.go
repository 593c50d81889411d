package anchortest

import (
	"math/rand/v2"
	"testing"

	"frostanchor.ai/internal/metrics"
	"frostanchor.ai/internal/sim/anchors"
	"frostanchor.ai/internal/sim/tuning"
	"frostanchor.ai/internal/sim/voxel"
)

// Harness drives an Engine against an in-memory voxel world through exported APIs only:
// - Place/Break/Trigger/Interact mutate the world like a host would, then notify the engine
// - Step/StepN/StepUntil advance the shared clock
// - every engine mutation is captured in Mutations
type Harness struct {
	T       *testing.T
	W       *voxel.World
	E       *anchors.Engine
	Metrics *metrics.Metrics

	Mutations []anchors.Mutation
}

type Config struct {
	// Tuning defaults to tuning.Defaults().
	Tuning *tuning.Tuning
	// Climate overrides the world's climatology.
	Climate voxel.Climatology
	Seed    uint64
}

// Fixed returns a climatology that reports raw everywhere.
func Fixed(raw int) voxel.Climatology {
	return func(voxel.Dimension, voxel.Vec3i) (int, bool) { return raw, true }
}

// Silent is a climatology whose markers never report a value.
func Silent() voxel.Climatology {
	return func(voxel.Dimension, voxel.Vec3i) (int, bool) { return 0, false }
}

// Origin is where the harness centres its loaded area.
var Origin = voxel.Vec3i{X: 0, Y: 64, Z: 0}

func New(t *testing.T, cfg Config) *Harness {
	t.Helper()
	w := voxel.NewWorld("test", int64(cfg.Seed))
	if cfg.Climate != nil {
		w.Markers.SetClimatology(cfg.Climate)
	}
	for _, dim := range voxel.Dimensions {
		w.LoadBox(dim, voxel.Vec3i{X: -32, Y: 32, Z: -32}, voxel.Vec3i{X: 31, Y: 95, Z: 31})
	}
	return NewWithWorld(t, w, cfg)
}

// NewWithWorld is like New but runs against an existing world, e.g. one loaded from a
// snapshot.
func NewWithWorld(t *testing.T, w *voxel.World, cfg Config) *Harness {
	t.Helper()
	tun := tuning.Defaults()
	if cfg.Tuning != nil {
		tun = *cfg.Tuning
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = 42
	}
	h := &Harness{T: t, W: w, Metrics: metrics.New()}
	e, err := anchors.New(w, tun, anchors.Options{
		Metrics: h.Metrics,
		Rand:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		Sinks:   []anchors.Sink{anchors.SinkFunc(func(m anchors.Mutation) { h.Mutations = append(h.Mutations, m) })},
	})
	if err != nil {
		t.Fatalf("anchors.New: %v", err)
	}
	h.E = e
	return h
}

// Set writes a block without telling the engine.
func (h *Harness) Set(dim voxel.Dimension, p voxel.Vec3i, b voxel.Block) {
	h.T.Helper()
	if err := h.W.SetBlock(dim, p, b); err != nil {
		h.T.Fatalf("set %s %s: %v", dim, p, err)
	}
}

func (h *Harness) Block(dim voxel.Dimension, p voxel.Vec3i) voxel.Block {
	h.T.Helper()
	b, err := h.W.BlockAt(dim, p)
	if err != nil {
		h.T.Fatalf("block %s %s: %v", dim, p, err)
	}
	return b
}

func (h *Harness) Place(dim voxel.Dimension, p voxel.Vec3i, b voxel.Block) {
	h.T.Helper()
	h.Set(dim, p, b)
	h.E.HandlePlace(dim, p, b)
}

func (h *Harness) Break(dim voxel.Dimension, p voxel.Vec3i) {
	h.T.Helper()
	old := h.Block(dim, p)
	h.Set(dim, p, voxel.AirBlock)
	h.E.HandleBreak(dim, p, old)
}

func (h *Harness) Trigger(dim voxel.Dimension, p voxel.Vec3i) { h.E.HandleTrigger(dim, p) }

func (h *Harness) Interact(dim voxel.Dimension, p voxel.Vec3i) { h.E.HandleInteract(dim, p) }

func (h *Harness) Step() uint64 { return h.E.Step() }

func (h *Harness) StepN(n int) {
	for i := 0; i < n; i++ {
		h.E.Step()
	}
}

// StepUntil steps until cond holds or max ticks pass, and reports whether cond held.
func (h *Harness) StepUntil(max int, cond func() bool) bool {
	for i := 0; i < max; i++ {
		if cond() {
			return true
		}
		h.E.Step()
	}
	return cond()
}

func (h *Harness) CountMutations(reason string) int {
	n := 0
	for _, m := range h.Mutations {
		if m.Reason == reason {
			n++
		}
	}
	return n
}

// AnchorKeys lists registered anchors in registration order.
func (h *Harness) AnchorKeys() []string {
	var out []string
	for _, a := range h.E.Registry().All() {
		out = append(out, a.Key)
	}
	return out
}
