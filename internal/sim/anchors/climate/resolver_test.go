package climate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"frostanchor.ai/internal/sim/voxel"
)

func newWorld(t *testing.T) *voxel.World {
	t.Helper()
	w := voxel.NewWorld("test", 7)
	w.LoadBox(voxel.Primary, voxel.Vec3i{X: -16, Y: 0, Z: -16}, voxel.Vec3i{X: 16, Y: 80, Z: 16})
	w.LoadBox(voxel.Scorched, voxel.Vec3i{X: -16, Y: 0, Z: -16}, voxel.Vec3i{X: 16, Y: 80, Z: 16})
	return w
}

// step advances the host and resolver clocks together.
func step(w *voxel.World, r *Resolver, n int) {
	for i := 0; i < n; i++ {
		w.Advance()
		r.Tick(w.CurrentTick())
	}
}

func TestResolve_FixedDimensionIsImmediate(t *testing.T) {
	w := newWorld(t)
	r := NewResolver(w, Config{}, nil)

	var got Result
	sync := r.Resolve("k", voxel.Scorched, voxel.Vec3i{Y: 64}, func(res Result) { got = res })
	require.True(t, sync)
	assert.Equal(t, voxel.Warm, got.Climate)
	assert.Equal(t, SourceFixed, got.Source)
	assert.Zero(t, w.Markers.Len(), "fixed dimensions never spawn a marker")
}

func TestResolve_ProbeBecomesReady(t *testing.T) {
	w := newWorld(t)
	w.Markers.SetClimatology(func(voxel.Dimension, voxel.Vec3i) (int, bool) { return voxel.ClassCold, true })
	r := NewResolver(w, Config{PollTicks: 2, TimeoutPolls: 40}, nil)

	var got []Result
	pos := voxel.Vec3i{X: 1, Y: 64, Z: 1}
	require.False(t, r.Resolve("k", voxel.Primary, pos, func(res Result) { got = append(got, res) }))
	require.Equal(t, 1, w.Markers.Len())

	step(w, r, 10)
	require.Len(t, got, 1)
	assert.Equal(t, voxel.Cold, got[0].Climate)
	assert.Equal(t, SourceProbe, got[0].Source)
	assert.Zero(t, w.Markers.Len(), "marker destroyed after read")
	assert.Zero(t, r.PendingCount())
}

func TestResolve_TimeoutFallsBackWithoutLeaks(t *testing.T) {
	w := newWorld(t)
	w.Markers.SetClimatology(func(voxel.Dimension, voxel.Vec3i) (int, bool) { return 0, false })
	r := NewResolver(w, Config{PollTicks: 2, TimeoutPolls: 40, Fallback: voxel.Temperate}, nil)

	var got []Result
	require.False(t, r.Resolve("k", voxel.Primary, voxel.Vec3i{Y: 64}, func(res Result) { got = append(got, res) }))

	step(w, r, 79)
	assert.Empty(t, got, "still polling before the budget is spent")
	p, ok := r.Pending("k")
	require.True(t, ok)
	assert.Equal(t, Pending, p.State)
	assert.Equal(t, 39, p.Polls)

	step(w, r, 1)
	require.Len(t, got, 1)
	assert.Equal(t, voxel.Temperate, got[0].Climate)
	assert.Equal(t, SourceTimeout, got[0].Source)
	assert.True(t, got[0].Source.Degraded())
	assert.Zero(t, w.Markers.Len())
	assert.Equal(t, TimedOut, p.State)
}

func TestResolve_ConcurrentRequestsShareOneProbe(t *testing.T) {
	w := newWorld(t)
	w.Markers.SetClimatology(func(voxel.Dimension, voxel.Vec3i) (int, bool) { return voxel.ClassWarm, true })
	r := NewResolver(w, Config{PollTicks: 2}, nil)

	pos := voxel.Vec3i{Y: 64}
	calls := 0
	for i := 0; i < 3; i++ {
		r.Resolve("k", voxel.Primary, pos, func(res Result) {
			assert.Equal(t, voxel.Warm, res.Climate)
			calls++
		})
	}
	assert.Equal(t, 1, w.Markers.Len(), "one probe per key")
	assert.Equal(t, 1, r.PendingCount())

	step(w, r, 6)
	assert.Equal(t, 3, calls)
	assert.Zero(t, w.Markers.Len())
}

func TestResolve_ReusesSettledMarker(t *testing.T) {
	w := newWorld(t)
	w.Markers.SetClimatology(func(voxel.Dimension, voxel.Vec3i) (int, bool) { return voxel.ClassCold, true })
	pos := voxel.Vec3i{X: 2, Y: 64}
	_, err := w.Spawn(voxel.Primary, pos)
	require.NoError(t, err)
	_, err = w.Spawn(voxel.Primary, pos)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		w.Advance()
	}

	r := NewResolver(w, Config{}, nil)
	var got Result
	require.True(t, r.Resolve("k", voxel.Primary, pos, func(res Result) { got = res }))
	assert.Equal(t, SourceExisting, got.Source)
	assert.Equal(t, voxel.Cold, got.Climate)
	assert.Zero(t, w.Markers.Len(), "all markers on the cell are cleaned up")
}

func TestResolve_AdoptsUnsettledMarker(t *testing.T) {
	w := newWorld(t)
	pos := voxel.Vec3i{X: 3, Y: 64}
	id, err := w.Spawn(voxel.Primary, pos)
	require.NoError(t, err)

	r := NewResolver(w, Config{PollTicks: 2}, nil)
	require.False(t, r.Resolve("k", voxel.Primary, pos, func(Result) {}))
	assert.Equal(t, 1, w.Markers.Len(), "no second marker spawned")
	assert.True(t, r.Owns(id))
}

func TestResolve_MarkerRemovedExternally(t *testing.T) {
	w := newWorld(t)
	r := NewResolver(w, Config{PollTicks: 2, Fallback: voxel.Cold}, nil)

	var got []Result
	r.Resolve("k", voxel.Primary, voxel.Vec3i{Y: 64}, func(res Result) { got = append(got, res) })
	p, _ := r.Pending("k")
	w.Destroy(p.Marker)

	step(w, r, 2)
	require.Len(t, got, 1)
	assert.Equal(t, SourceInvalid, got[0].Source)
	assert.Equal(t, voxel.Cold, got[0].Climate)
}

func TestResolve_SpawnFailureFallsBack(t *testing.T) {
	w := newWorld(t)
	r := NewResolver(w, Config{}, nil)

	var got Result
	require.True(t, r.Resolve("k", voxel.Primary, voxel.Vec3i{X: 500, Y: 64}, func(res Result) { got = res }))
	assert.Equal(t, SourceSpawnFailed, got.Source)
	assert.Equal(t, voxel.Temperate, got.Climate)
	assert.Zero(t, r.PendingCount())
}

func TestCancel_DestroysMarkerAndDropsWaiters(t *testing.T) {
	w := newWorld(t)
	r := NewResolver(w, Config{PollTicks: 2}, nil)

	called := false
	r.Resolve("k", voxel.Primary, voxel.Vec3i{Y: 64}, func(Result) { called = true })
	r.Cancel("k")
	step(w, r, 10)

	assert.False(t, called)
	assert.Zero(t, w.Markers.Len())
	assert.Zero(t, r.PendingCount())
}

func TestFromRaw(t *testing.T) {
	cases := map[int]voxel.Climate{0: voxel.Warm, 1: voxel.Cold, 2: voxel.Temperate}
	for raw, want := range cases {
		got, ok := FromRaw(raw)
		assert.True(t, ok)
		assert.Equal(t, want, got)
	}
	_, ok := FromRaw(9)
	assert.False(t, ok)
}
