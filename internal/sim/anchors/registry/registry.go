// Package registry is the authoritative in-memory index of live anchors.
//
// The registry is not persisted. After a restart it starts empty and is rebuilt by
// reconciliation from the world itself.
package registry

import (
	"frostanchor.ai/internal/sim/voxel"
)

// Anchor is one tracked source block.
type Anchor struct {
	Key      string
	Dim      voxel.Dimension
	Pos      voxel.Vec3i
	Progress int

	// Climate is valid once ClimateKnown is set; resolution is lazy.
	Climate      voxel.Climate
	ClimateKnown bool

	// Seq is the registration order, used for deterministic iteration.
	Seq uint64
}

// Index maps canonical cell keys to anchors. Iteration follows registration order.
//
// Accessed only from the simulation goroutine.
type Index struct {
	byKey map[string]*Anchor
	order []*Anchor
	next  uint64
}

func New() *Index {
	return &Index{byKey: map[string]*Anchor{}}
}

// Register returns the anchor at (dim, pos), creating it with the given progress if it
// does not exist yet. created reports whether a new record was made.
func (x *Index) Register(dim voxel.Dimension, pos voxel.Vec3i, progress int) (a *Anchor, created bool) {
	key := voxel.Key(dim, pos)
	if a := x.byKey[key]; a != nil {
		return a, false
	}
	if progress < 0 {
		progress = 0
	}
	x.next++
	a = &Anchor{Key: key, Dim: dim, Pos: pos, Progress: progress, Seq: x.next}
	x.byKey[key] = a
	x.order = append(x.order, a)
	return a, true
}

func (x *Index) Unregister(key string) bool {
	a := x.byKey[key]
	if a == nil {
		return false
	}
	delete(x.byKey, key)
	for i, o := range x.order {
		if o == a {
			x.order = append(x.order[:i], x.order[i+1:]...)
			break
		}
	}
	return true
}

func (x *Index) Find(key string) (*Anchor, bool) {
	a, ok := x.byKey[key]
	return a, ok
}

func (x *Index) Has(key string) bool {
	_, ok := x.byKey[key]
	return ok
}

func (x *Index) Len() int { return len(x.byKey) }

// All returns a copy of the registration-ordered anchor list; callers may mutate the
// index while walking it.
func (x *Index) All() []*Anchor {
	out := make([]*Anchor, len(x.order))
	copy(out, x.order)
	return out
}

// FindWithinRadius reports whether any anchor other than excludeKey lies within radius
// (inclusive, euclidean) of pos in the same dimension.
func (x *Index) FindWithinRadius(dim voxel.Dimension, pos voxel.Vec3i, radius int, excludeKey string) bool {
	r2 := radius * radius
	for _, a := range x.order {
		if a.Dim != dim || a.Key == excludeKey {
			continue
		}
		if voxel.DistSq(a.Pos, pos) <= r2 {
			return true
		}
	}
	return false
}

// FirstWithin returns the first anchor in registration order within radius of pos. It
// does not pick the geometrically closest one; the earliest registered anchor in range wins.
func (x *Index) FirstWithin(dim voxel.Dimension, pos voxel.Vec3i, radius int) (*Anchor, bool) {
	r2 := radius * radius
	for _, a := range x.order {
		if a.Dim == dim && voxel.DistSq(a.Pos, pos) <= r2 {
			return a, true
		}
	}
	return nil, false
}

// Within returns every anchor within radius of pos, in registration order.
func (x *Index) Within(dim voxel.Dimension, pos voxel.Vec3i, radius int) []*Anchor {
	r2 := radius * radius
	var out []*Anchor
	for _, a := range x.order {
		if a.Dim == dim && voxel.DistSq(a.Pos, pos) <= r2 {
			out = append(out, a)
		}
	}
	return out
}
