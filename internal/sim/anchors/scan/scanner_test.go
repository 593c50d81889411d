package scan

import (
	"math/bits"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"frostanchor.ai/internal/sim/anchors/jobs"
	"frostanchor.ai/internal/sim/anchors/registry"
	"frostanchor.ai/internal/sim/voxel"
)

const dim = voxel.Primary

func newStore() *voxel.Store {
	s := voxel.NewStore()
	s.LoadBox(dim, voxel.Vec3i{X: -32, Y: 0, Z: -32}, voxel.Vec3i{X: 31, Y: 31, Z: 31})
	return s
}

func set(t *testing.T, s *voxel.Store, p voxel.Vec3i, b voxel.Block) {
	t.Helper()
	require.NoError(t, s.SetBlock(dim, p, b))
}

func newScanner(s *voxel.Store, idx *registry.Index) *Scanner {
	if idx == nil {
		idx = registry.New()
	}
	return New(s, idx, Config{MaxRadius: 5, ProtectRadius: 5, EnclosureSolids: 5}, rand.New(rand.NewPCG(1, 1)))
}

func TestScan_EnclosureExhaustive(t *testing.T) {
	target := voxel.Vec3i{X: 0, Y: 10, Z: 0}
	// Diagonal neighbour: one step away, so the ray test never samples anything.
	origin := voxel.Vec3i{X: 1, Y: 11, Z: 1}

	for mask := 0; mask < 1<<6; mask++ {
		s := newStore()
		set(t, s, origin, voxel.Block{Kind: voxel.AnchorEmpty})
		set(t, s, target, voxel.SourceWater)
		for i, d := range voxel.Neighbors6 {
			if mask&(1<<i) != 0 {
				set(t, s, target.Add(d), voxel.StoneBlock)
			}
		}
		sc := newScanner(s, nil)
		solids := bits.OnesCount(uint(mask))

		job, ok := sc.Scan("k", dim, origin, jobs.Freeze, voxel.Cold)
		if solids >= 5 {
			assert.False(t, ok, "mask %06b (%d solid) must be rejected", mask, solids)
			assert.True(t, sc.Enclosed(dim, target))
			continue
		}
		require.True(t, ok, "mask %06b (%d solid) must be selectable", mask, solids)
		assert.Equal(t, target, job.Target)
	}
}

func TestEnclosed_UnloadedNeighbourCountsSolid(t *testing.T) {
	s := voxel.NewStore()
	s.LoadBox(dim, voxel.Vec3i{}, voxel.Vec3i{X: 15, Y: 15, Z: 15})
	target := voxel.Vec3i{X: 15, Y: 10, Z: 5}
	set(t, s, target, voxel.SourceWater)
	sc := newScanner(s, nil)

	set(t, s, target.Add(voxel.Vec3i{X: -1}), voxel.StoneBlock)
	set(t, s, target.Add(voxel.Vec3i{Y: 1}), voxel.StoneBlock)
	set(t, s, target.Add(voxel.Vec3i{Y: -1}), voxel.StoneBlock)
	assert.False(t, sc.Enclosed(dim, target), "3 stones plus the unloaded face is 4")

	set(t, s, target.Add(voxel.Vec3i{Z: 1}), voxel.StoneBlock)
	assert.True(t, sc.Enclosed(dim, target))
}

func TestScan_RayObstruction(t *testing.T) {
	s := newStore()
	origin := voxel.Vec3i{X: 0, Y: 10, Z: 0}
	target := voxel.Vec3i{X: 4, Y: 10, Z: 0}
	set(t, s, origin, voxel.Block{Kind: voxel.AnchorEmpty})
	set(t, s, target, voxel.SourceWater)
	sc := newScanner(s, nil)

	job, ok := sc.Scan("k", dim, origin, jobs.Freeze, voxel.Cold)
	require.True(t, ok)
	assert.Equal(t, target, job.Target)

	set(t, s, voxel.Vec3i{X: 2, Y: 10, Z: 0}, voxel.StoneBlock)
	assert.True(t, sc.PathObstructed(dim, origin, target))
	_, ok = sc.Scan("k", dim, origin, jobs.Freeze, voxel.Cold)
	assert.False(t, ok)

	// Ice on the path lets cold through.
	set(t, s, voxel.Vec3i{X: 2, Y: 10, Z: 0}, voxel.IceBlock)
	assert.False(t, sc.PathObstructed(dim, origin, target))
}

func TestPathObstructed_EndpointsAndAdjacency(t *testing.T) {
	s := newStore()
	sc := newScanner(s, nil)
	origin := voxel.Vec3i{X: 0, Y: 10, Z: 0}

	set(t, s, origin, voxel.StoneBlock)
	set(t, s, voxel.Vec3i{X: 3, Y: 10}, voxel.StoneBlock)
	assert.False(t, sc.PathObstructed(dim, origin, voxel.Vec3i{X: 3, Y: 10}), "endpoints are never sampled")

	set(t, s, voxel.Vec3i{X: 1, Y: 11, Z: 1}, voxel.StoneBlock)
	assert.False(t, sc.PathObstructed(dim, origin, voxel.Vec3i{X: 1, Y: 11, Z: 1}), "adjacent diagonal")
}

func TestPathObstructed_UnloadedSample(t *testing.T) {
	s := voxel.NewStore()
	s.LoadBox(dim, voxel.Vec3i{X: 0, Y: 0, Z: 0}, voxel.Vec3i{X: 15, Y: 15, Z: 15})
	s.LoadBox(dim, voxel.Vec3i{X: 32, Y: 0, Z: 0}, voxel.Vec3i{X: 47, Y: 15, Z: 15})
	sc := newScanner(s, nil)
	assert.True(t, sc.PathObstructed(dim, voxel.Vec3i{X: 14, Y: 5}, voxel.Vec3i{X: 34, Y: 5}))
}

func TestScan_FlowingWaterExcluded(t *testing.T) {
	s := newStore()
	origin := voxel.Vec3i{Y: 10}
	set(t, s, voxel.Vec3i{X: 1, Y: 10}, voxel.FlowingWater)
	sc := newScanner(s, nil)

	_, ok := sc.Scan("k", dim, origin, jobs.Freeze, voxel.Cold)
	assert.False(t, ok)
	assert.False(t, sc.FreezableSource(dim, origin, voxel.Vec3i{X: 1, Y: 10}))
}

func TestScan_FreezeNearestFirst(t *testing.T) {
	s := newStore()
	origin := voxel.Vec3i{Y: 10}
	set(t, s, voxel.Vec3i{X: 3, Y: 10}, voxel.SourceWater)
	set(t, s, voxel.Vec3i{X: -1, Y: 10}, voxel.SourceWater)
	sc := newScanner(s, nil)

	job, ok := sc.Scan("k", dim, origin, jobs.Freeze, voxel.Temperate)
	require.True(t, ok)
	assert.Equal(t, voxel.Vec3i{X: -1, Y: 10}, job.Target)
	assert.Equal(t, jobs.Freeze, job.Direction)
	assert.Equal(t, voxel.Temperate, job.Climate)
	assert.True(t, job.Matches(voxel.SourceWater))
	assert.False(t, job.Matches(voxel.IceBlock))
}

func TestScan_MeltFarthestFirstAndProtection(t *testing.T) {
	s := newStore()
	idx := registry.New()
	origin := voxel.Vec3i{Y: 10}
	self, _ := idx.Register(dim, origin, 0)
	set(t, s, voxel.Vec3i{X: -1, Y: 10}, voxel.IceBlock)
	set(t, s, voxel.Vec3i{X: 4, Y: 10}, voxel.IceBlock)
	sc := newScanner(s, idx)

	job, ok := sc.Scan(jobs.ThawKey(self.Key), dim, origin, jobs.Melt, voxel.Warm)
	require.True(t, ok)
	assert.Equal(t, voxel.Vec3i{X: 4, Y: 10}, job.Target, "own anchor does not protect")
	assert.Equal(t, jobs.ThawKey(self.Key), job.Key)

	idx.Register(dim, voxel.Vec3i{X: 9, Y: 10}, 0)
	job, ok = sc.Scan(self.Key, dim, origin, jobs.Melt, voxel.Warm)
	require.True(t, ok)
	assert.Equal(t, voxel.Vec3i{X: -1, Y: 10}, job.Target, "far ice is held by the other anchor")
}

func TestScan_RandomPickWithinShell(t *testing.T) {
	s := newStore()
	origin := voxel.Vec3i{Y: 10}
	ring := []voxel.Vec3i{{X: 1, Y: 10}, {X: -1, Y: 10}, {Y: 10, Z: 1}, {Y: 10, Z: -1}}
	for _, p := range ring {
		set(t, s, p, voxel.SourceWater)
	}
	sc := newScanner(s, nil)

	seen := map[voxel.Vec3i]bool{}
	for i := 0; i < 200; i++ {
		job, ok := sc.Scan("k", dim, origin, jobs.Freeze, voxel.Cold)
		require.True(t, ok)
		seen[job.Target] = true
	}
	assert.Len(t, seen, len(ring))
}
