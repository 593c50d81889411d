package anchors_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"frostanchor.ai/internal/sim/anchortest"
	"frostanchor.ai/internal/sim/voxel"
)

type anchorState struct {
	Key      string
	Progress int
}

func registryState(h *anchortest.Harness) []anchorState {
	var out []anchorState
	for _, a := range h.E.Registry().All() {
		out = append(out, anchorState{Key: a.Key, Progress: a.Progress})
	}
	return out
}

func TestReconcile_RebuildsFromMarkersAndDropsStrays(t *testing.T) {
	h := anchortest.New(t, anchortest.Config{Climate: anchortest.Fixed(voxel.ClassCold)})
	anchorPos := at(5, 0, 5)
	h.Set(prim, anchorPos, voxel.Block{Kind: voxel.AnchorHalf})
	_, err := h.W.Spawn(prim, anchorPos)
	require.NoError(t, err)
	_, err = h.W.Spawn(prim, at(-7, 0, 0))
	require.NoError(t, err)

	rep := h.E.Reconcile()
	assert.Equal(t, 1, rep.Registered)
	assert.Equal(t, 1, rep.MarkersDestroyed)

	a, ok := h.E.Registry().Find(voxel.Key(prim, anchorPos))
	require.True(t, ok)
	assert.Equal(t, 2, a.Progress, "progress recovered from the block stage")
	assert.Empty(t, h.W.MarkersAt(prim, at(-7, 0, 0)))
}

func TestReconcile_Idempotent(t *testing.T) {
	h := anchortest.New(t, anchortest.Config{Climate: anchortest.Fixed(voxel.ClassTemperate)})
	h.Set(prim, at(3, 0, 0), voxel.Block{Kind: voxel.AnchorEmpty})
	h.Set(prim, at(-6, 2, 4), voxel.Block{Kind: voxel.AnchorAlmostFull})
	h.Set(prim, at(0, -5, -8), voxel.Block{Kind: voxel.AnchorQuarter})
	h.Set(prim, at(20, 0, 0), voxel.Block{Kind: voxel.AnchorQuarter})
	h.Set(prim, at(1, 0, 1), voxel.Block{Kind: voxel.AnchorFull})
	_, err := h.W.Spawn(prim, at(20, 0, 0))
	require.NoError(t, err)
	h.E.HandleObserverJoin("viewer", prim, origin)
	h.StepN(5)

	first := h.E.Reconcile()
	assert.Equal(t, 1, first.Registered, "only the marked anchor is outside the join sweep")
	before := registryState(h)
	second := h.E.Reconcile()
	after := registryState(h)

	assert.Equal(t, before, after)
	assert.Len(t, before, 4, "terminal blocks are not anchors")
	assert.Zero(t, second.Registered)
	assert.Zero(t, second.TornDown)
	assert.Zero(t, second.MarkersDestroyed)
	assert.Equal(t, 4, second.Checked)
}

func TestReconcile_TearsDownMissingBlocks(t *testing.T) {
	h := anchortest.New(t, anchortest.Config{Climate: anchortest.Fixed(voxel.ClassWarm)})
	h.Place(prim, origin, anchorBlock())
	key := voxel.Key(prim, origin)

	// The block vanishes without an event.
	h.Set(prim, origin, voxel.StoneBlock)
	rep := h.E.Reconcile()
	assert.Equal(t, 1, rep.TornDown)
	assert.False(t, h.E.Registry().Has(key))
}

func TestReconcile_SkipsUnloadedAnchors(t *testing.T) {
	h := anchortest.New(t, anchortest.Config{Climate: anchortest.Fixed(voxel.ClassWarm)})
	h.Place(prim, origin, anchorBlock())
	h.W.Unload(prim, origin)

	rep := h.E.Reconcile()
	assert.Zero(t, rep.TornDown)
	assert.Zero(t, rep.Checked)
	assert.True(t, h.E.Registry().Has(voxel.Key(prim, origin)))
}

func TestReconcile_RunsOnCadence(t *testing.T) {
	h := anchortest.New(t, anchortest.Config{})
	h.Set(prim, at(2, 0, 0), anchorBlock())
	h.E.HandleObserverJoin("viewer", prim, at(0, 0, 30))
	require.Empty(t, h.AnchorKeys(), "anchor lies outside the join sweep")

	h.E.HandleObserverMove("viewer", prim, origin)
	h.StepN(h.E.Tuning().Reconcile.InitialDelayTicks)
	assert.Equal(t, []string{voxel.Key(prim, at(2, 0, 0))}, h.AnchorKeys())
}
