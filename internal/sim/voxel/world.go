package voxel

import (
	"fmt"

	"frostanchor.ai/internal/persistence/snapshot"
	"frostanchor.ai/internal/sim/voxel/mathx"
)

// World is the in-process host: block storage, the marker field, and the host clock.
// It implements the ports the anchor engine consumes.
//
// Accessed only from the simulation goroutine.
type World struct {
	*Store
	Markers *Markers

	id   string
	seed int64
	tick uint64
}

func NewWorld(id string, seed int64) *World {
	w := &World{Store: NewStore(), id: id, seed: seed}
	w.Markers = NewMarkers(w.CurrentTick, w.regionClimate)
	return w
}

func (w *World) ID() string          { return w.id }
func (w *World) Seed() int64         { return w.seed }
func (w *World) CurrentTick() uint64 { return w.tick }

// Advance moves the host clock one tick forward.
func (w *World) Advance() { w.tick++ }

// regionClimate is the default climatology: 32x32 column regions with a hashed class.
func (w *World) regionClimate(dim Dimension, p Vec3i) (int, bool) {
	if c, ok := dim.FixedClimate(); ok {
		switch c {
		case Warm:
			return ClassWarm, true
		case Cold:
			return ClassCold, true
		}
		return ClassTemperate, true
	}
	rx := mathx.FloorDiv(p.X, 32)
	rz := mathx.FloorDiv(p.Z, 32)
	return int(mathx.Hash3(w.seed, rx, 0, rz) % 3), true
}

// Marker field ports.

func (w *World) Spawn(dim Dimension, p Vec3i) (string, error) {
	if !dim.Range().Contains(p.Y) {
		return "", fmt.Errorf("%w: marker at %s", ErrOutOfBounds, p)
	}
	if !w.Loaded(dim, p) {
		return "", fmt.Errorf("%w: marker at %s", ErrNotLoaded, p)
	}
	return w.Markers.Spawn(dim, p)
}

func (w *World) ReadClassification(id string) (int, bool) { return w.Markers.ReadClassification(id) }
func (w *World) Destroy(id string)                        { w.Markers.Destroy(id) }
func (w *World) Alive(id string) bool                     { return w.Markers.Alive(id) }
func (w *World) MarkersAt(dim Dimension, p Vec3i) []Marker {
	return w.Markers.MarkersAt(dim, p)
}
func (w *World) AllMarkers(dim Dimension) []Marker { return w.Markers.All(dim) }

func (w *World) ExportSnapshot() snapshot.SnapshotV1 {
	snap := snapshot.SnapshotV1{
		Header:      snapshot.Header{Version: snapshot.Version, WorldID: w.id, Tick: w.tick},
		Seed:        w.seed,
		SettleTicks: int(w.Markers.SettleTicks),
	}
	for _, sec := range w.Sections() {
		kinds := make([]uint16, len(sec.Blocks))
		depths := make([]uint8, len(sec.Blocks))
		for i, b := range sec.Blocks {
			kinds[i] = uint16(b.Kind)
			depths[i] = b.Depth
		}
		snap.Sections = append(snap.Sections, snapshot.SectionV1{
			Dim:    uint8(sec.Key.Dim),
			CX:     sec.Key.CX,
			CY:     sec.Key.CY,
			CZ:     sec.Key.CZ,
			Parked: w.parked[sec.Key] != nil,
			Kinds:  kinds,
			Depths: depths,
		})
	}
	for _, dim := range Dimensions {
		for _, mk := range w.Markers.All(dim) {
			snap.Markers = append(snap.Markers, snapshot.MarkerV1{
				ID:        mk.ID,
				Dim:       uint8(mk.Dim),
				Pos:       mk.Pos.ToArray(),
				SpawnTick: mk.SpawnTick,
			})
		}
	}
	return snap
}

// LoadWorld rebuilds a world from a snapshot. Markers keep their identity.
func LoadWorld(snap snapshot.SnapshotV1) (*World, error) {
	w := NewWorld(snap.Header.WorldID, snap.Seed)
	w.tick = snap.Header.Tick
	if snap.SettleTicks > 0 {
		w.Markers.SettleTicks = uint64(snap.SettleTicks)
	}
	const cells = SectionSize * SectionSize * SectionSize
	for _, s := range snap.Sections {
		if len(s.Kinds) != cells || len(s.Depths) != cells {
			return nil, fmt.Errorf("section %d/%d/%d: bad length %d", s.CX, s.CY, s.CZ, len(s.Kinds))
		}
		k := SectionKey{Dim: Dimension(s.Dim), CX: s.CX, CY: s.CY, CZ: s.CZ}
		sec := newSection(k)
		for i := range sec.Blocks {
			sec.Blocks[i] = Block{Kind: Kind(s.Kinds[i]), Depth: s.Depths[i]}
		}
		if s.Parked {
			w.parked[k] = sec
		} else {
			w.resident[k] = sec
		}
	}
	for _, m := range snap.Markers {
		w.Markers.Restore(Marker{ID: m.ID, Dim: Dimension(m.Dim), Pos: FromArray(m.Pos), SpawnTick: m.SpawnTick})
	}
	return w, nil
}
