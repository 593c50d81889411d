package voxel

import (
	"sort"

	"github.com/google/uuid"
)

// Raw classification values reported by a marker once it has settled.
const (
	ClassWarm      = 0
	ClassCold      = 1
	ClassTemperate = 2
)

// Climatology answers what a marker at a position would report. ok=false means the
// location never yields a readable value.
type Climatology func(dim Dimension, p Vec3i) (raw int, ok bool)

type Marker struct {
	ID        string
	Dim       Dimension
	Pos       Vec3i
	SpawnTick uint64
}

// Markers is the ephemeral entity field: transient markers spawned at a block to read
// an environment value. A marker's value becomes readable SettleTicks after spawn.
// Markers are part of the persisted world, so a marker left behind by a crash is
// still there after a reload.
type Markers struct {
	SettleTicks uint64

	now     func() uint64
	climate Climatology
	byID    map[string]*Marker
}

func NewMarkers(now func() uint64, climate Climatology) *Markers {
	if climate == nil {
		climate = func(Dimension, Vec3i) (int, bool) { return ClassTemperate, true }
	}
	return &Markers{
		SettleTicks: 3,
		now:         now,
		climate:     climate,
		byID:        map[string]*Marker{},
	}
}

func (m *Markers) SetClimatology(c Climatology) { m.climate = c }

func (m *Markers) Spawn(dim Dimension, p Vec3i) (string, error) {
	id := uuid.NewString()
	m.byID[id] = &Marker{ID: id, Dim: dim, Pos: p, SpawnTick: m.now()}
	return id, nil
}

// Restore re-inserts a marker with its original identity (snapshot import).
func (m *Markers) Restore(mk Marker) {
	cp := mk
	m.byID[mk.ID] = &cp
}

func (m *Markers) Alive(id string) bool {
	_, ok := m.byID[id]
	return ok
}

func (m *Markers) ReadClassification(id string) (int, bool) {
	mk := m.byID[id]
	if mk == nil {
		return 0, false
	}
	if m.now() < mk.SpawnTick+m.SettleTicks {
		return 0, false
	}
	return m.climate(mk.Dim, mk.Pos)
}

func (m *Markers) Destroy(id string) {
	delete(m.byID, id)
}

func (m *Markers) MarkersAt(dim Dimension, p Vec3i) []Marker {
	var out []Marker
	for _, mk := range m.byID {
		if mk.Dim == dim && mk.Pos == p {
			out = append(out, *mk)
		}
	}
	sortMarkers(out)
	return out
}

// All returns the markers of one dimension in a stable order.
func (m *Markers) All(dim Dimension) []Marker {
	var out []Marker
	for _, mk := range m.byID {
		if mk.Dim == dim {
			out = append(out, *mk)
		}
	}
	sortMarkers(out)
	return out
}

func (m *Markers) Len() int { return len(m.byID) }

func sortMarkers(ms []Marker) {
	sort.Slice(ms, func(i, j int) bool {
		if ms[i].SpawnTick != ms[j].SpawnTick {
			return ms[i].SpawnTick < ms[j].SpawnTick
		}
		return ms[i].ID < ms[j].ID
	})
}
