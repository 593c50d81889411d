// Package scan finds the next target cell for an anchor.
//
// Candidates are searched over Chebyshev cube shells around the anchor: nearest-first
// when freezing, farthest-first when melting. A random candidate is picked from the
// first shell that has any. Scanning is pure; it returns a job and never mutates.
package scan

import (
	"errors"
	"math"
	"math/rand/v2"

	"frostanchor.ai/internal/sim/anchors/jobs"
	"frostanchor.ai/internal/sim/voxel"
	"frostanchor.ai/internal/sim/voxel/mathx"
)

// Blocks is the read side of the block store.
type Blocks interface {
	BlockAt(dim voxel.Dimension, p voxel.Vec3i) (voxel.Block, error)
}

// Anchors answers protection queries.
type Anchors interface {
	FindWithinRadius(dim voxel.Dimension, pos voxel.Vec3i, radius int, excludeKey string) bool
}

type Config struct {
	MaxRadius       int
	ProtectRadius   int
	EnclosureSolids int
}

type Scanner struct {
	blocks  Blocks
	anchors Anchors
	cfg     Config
	rng     *rand.Rand
}

func New(blocks Blocks, anchors Anchors, cfg Config, rng *rand.Rand) *Scanner {
	if cfg.MaxRadius <= 0 {
		cfg.MaxRadius = 5
	}
	if cfg.ProtectRadius <= 0 {
		cfg.ProtectRadius = 5
	}
	if cfg.EnclosureSolids <= 0 {
		cfg.EnclosureSolids = 5
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(5, 6))
	}
	return &Scanner{blocks: blocks, anchors: anchors, cfg: cfg, rng: rng}
}

var (
	freezeExpect = []voxel.Kind{voxel.Water}
	meltExpect   = []voxel.Kind{voxel.Ice}
)

// Scan looks for the next target of an anchor at origin and returns a job keyed key.
func (s *Scanner) Scan(key string, dim voxel.Dimension, origin voxel.Vec3i, dir jobs.Direction, climate voxel.Climate) (*jobs.Job, bool) {
	anchorKey := voxel.Key(dim, origin)

	start, end, step := 1, s.cfg.MaxRadius, 1
	if dir == jobs.Melt {
		start, end, step = s.cfg.MaxRadius, 1, -1
	}

	var candidates []voxel.Vec3i
	for r := start; ; r += step {
		candidates = candidates[:0]
		forShell(origin, r, func(p voxel.Vec3i) {
			b, err := s.blocks.BlockAt(dim, p)
			if err != nil {
				return
			}
			switch dir {
			case jobs.Freeze:
				if b.IsFreezableSource() && !s.Blocked(dim, origin, p) {
					candidates = append(candidates, p)
				}
			case jobs.Melt:
				if b.Kind == voxel.Ice && !s.Protected(dim, p, anchorKey) {
					candidates = append(candidates, p)
				}
			}
		})
		if len(candidates) > 0 {
			target := candidates[s.rng.IntN(len(candidates))]
			expect := freezeExpect
			if dir == jobs.Melt {
				expect = meltExpect
			}
			return &jobs.Job{
				Key:       key,
				Origin:    origin,
				Dim:       dim,
				Target:    target,
				Direction: dir,
				Expect:    expect,
				Climate:   climate,
			}, true
		}
		if r == end {
			return nil, false
		}
	}
}

// forShell visits every cell at Chebyshev distance exactly r from c, in x, y, z order.
func forShell(c voxel.Vec3i, r int, fn func(voxel.Vec3i)) {
	for x := -r; x <= r; x++ {
		for y := -r; y <= r; y++ {
			for z := -r; z <= r; z++ {
				if mathx.AbsInt(x) != r && mathx.AbsInt(y) != r && mathx.AbsInt(z) != r {
					continue
				}
				fn(voxel.Vec3i{X: c.X + x, Y: c.Y + y, Z: c.Z + z})
			}
		}
	}
}

// FreezableSource re-checks a freeze target at mutation time.
func (s *Scanner) FreezableSource(dim voxel.Dimension, origin, p voxel.Vec3i) bool {
	b, err := s.blocks.BlockAt(dim, p)
	if err != nil {
		return false
	}
	return b.IsFreezableSource() && !s.Blocked(dim, origin, p)
}

// Protected reports whether a cell is held frozen by an anchor other than excludeKey.
func (s *Scanner) Protected(dim voxel.Dimension, p voxel.Vec3i, excludeKey string) bool {
	return s.anchors.FindWithinRadius(dim, p, s.cfg.ProtectRadius, excludeKey)
}

// Blocked reports whether cold from origin cannot reach target: the target is sealed
// on EnclosureSolids or more of its faces, or the straight path crosses an obstacle.
func (s *Scanner) Blocked(dim voxel.Dimension, origin, target voxel.Vec3i) bool {
	return s.Enclosed(dim, target) || s.PathObstructed(dim, origin, target)
}

func (s *Scanner) Enclosed(dim voxel.Dimension, target voxel.Vec3i) bool {
	solid := 0
	for _, d := range voxel.Neighbors6 {
		if s.obstacle(dim, target.Add(d)) {
			solid++
		}
	}
	return solid >= s.cfg.EnclosureSolids
}

// PathObstructed samples the segment origin->target once per unit of length, skipping
// both endpoints. Adjacent cells (fewer than two steps) are never obstructed.
func (s *Scanner) PathObstructed(dim voxel.Dimension, origin, target voxel.Vec3i) bool {
	dx := float64(target.X - origin.X)
	dy := float64(target.Y - origin.Y)
	dz := float64(target.Z - origin.Z)
	dist := math.Sqrt(dx*dx + dy*dy + dz*dz)
	steps := int(math.Floor(dist))
	if steps < 2 {
		return false
	}
	ux, uy, uz := dx/dist, dy/dist, dz/dist
	for i := 1; i < steps; i++ {
		fi := float64(i)
		p := voxel.Vec3i{
			X: mathx.RoundHalfUp(float64(origin.X) + ux*fi),
			Y: mathx.RoundHalfUp(float64(origin.Y) + uy*fi),
			Z: mathx.RoundHalfUp(float64(origin.Z) + uz*fi),
		}
		if s.obstacle(dim, p) {
			return true
		}
	}
	return false
}

// obstacle reports whether p stops cold. Unloaded cells count as solid; cells outside
// the dimension's height range are open.
func (s *Scanner) obstacle(dim voxel.Dimension, p voxel.Vec3i) bool {
	b, err := s.blocks.BlockAt(dim, p)
	if err != nil {
		return !errors.Is(err, voxel.ErrOutOfBounds)
	}
	return !b.Kind.ColdPermeable()
}
