package voxel

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"frostanchor.ai/internal/sim/voxel/mathx"
)

var (
	// ErrNotLoaded is returned for cells whose section is not resident. It is transient:
	// callers skip the cell for this tick and try again later.
	ErrNotLoaded = errors.New("voxel: section not loaded")
	// ErrOutOfBounds is returned for cells outside a dimension's build range.
	ErrOutOfBounds = errors.New("voxel: position out of bounds")
)

const SectionSize = 16

type SectionKey struct {
	Dim        Dimension
	CX, CY, CZ int
}

func SectionOf(dim Dimension, p Vec3i) SectionKey {
	return SectionKey{
		Dim: dim,
		CX:  mathx.FloorDiv(p.X, SectionSize),
		CY:  mathx.FloorDiv(p.Y, SectionSize),
		CZ:  mathx.FloorDiv(p.Z, SectionSize),
	}
}

func (k SectionKey) Origin() Vec3i {
	return Vec3i{X: k.CX * SectionSize, Y: k.CY * SectionSize, Z: k.CZ * SectionSize}
}

type Section struct {
	Key    SectionKey
	Blocks []Block // len = 16*16*16, x fastest, then z, then y

	dirty bool
	hash  [32]byte
}

func newSection(k SectionKey) *Section {
	return &Section{Key: k, Blocks: make([]Block, SectionSize*SectionSize*SectionSize), dirty: true}
}

func (s *Section) index(lx, ly, lz int) int {
	return lx + lz*SectionSize + ly*SectionSize*SectionSize
}

func (s *Section) local(p Vec3i) (int, int, int) {
	return mathx.Mod(p.X, SectionSize), mathx.Mod(p.Y, SectionSize), mathx.Mod(p.Z, SectionSize)
}

func (s *Section) Get(p Vec3i) Block {
	return s.Blocks[s.index(s.local(p))]
}

func (s *Section) Set(p Vec3i, b Block) {
	i := s.index(s.local(p))
	if s.Blocks[i] == b {
		return
	}
	s.Blocks[i] = b
	s.dirty = true
}

func (s *Section) Digest() [32]byte {
	if s.dirty || s.hash == ([32]byte{}) {
		h := sha256.New()
		var tmp [3]byte
		for _, b := range s.Blocks {
			binary.LittleEndian.PutUint16(tmp[:2], uint16(b.Kind))
			tmp[2] = b.Depth
			h.Write(tmp[:])
		}
		copy(s.hash[:], h.Sum(nil))
		s.dirty = false
	}
	return s.hash
}

// Store is the block space of all dimensions, split into 16^3 sections. A section is
// either resident (readable and writable) or parked (kept, but reads fail with
// ErrNotLoaded until it is loaded again).
//
// Accessed only from the simulation goroutine.
type Store struct {
	resident map[SectionKey]*Section
	parked   map[SectionKey]*Section
}

func NewStore() *Store {
	return &Store{
		resident: map[SectionKey]*Section{},
		parked:   map[SectionKey]*Section{},
	}
}

func (s *Store) section(dim Dimension, p Vec3i) (*Section, error) {
	if !dim.Range().Contains(p.Y) {
		return nil, fmt.Errorf("%w: %s y=%d", ErrOutOfBounds, dim, p.Y)
	}
	sec := s.resident[SectionOf(dim, p)]
	if sec == nil {
		return nil, fmt.Errorf("%w: %s %s", ErrNotLoaded, dim, p)
	}
	return sec, nil
}

func (s *Store) BlockAt(dim Dimension, p Vec3i) (Block, error) {
	sec, err := s.section(dim, p)
	if err != nil {
		return Block{}, err
	}
	return sec.Get(p), nil
}

func (s *Store) SetBlock(dim Dimension, p Vec3i, b Block) error {
	sec, err := s.section(dim, p)
	if err != nil {
		return err
	}
	sec.Set(p, b)
	return nil
}

// LoadBox makes every section overlapping the inclusive box [min, max] resident,
// restoring parked sections and creating missing ones filled with air.
func (s *Store) LoadBox(dim Dimension, min, max Vec3i) {
	lo := SectionOf(dim, min)
	hi := SectionOf(dim, max)
	for cy := lo.CY; cy <= hi.CY; cy++ {
		for cz := lo.CZ; cz <= hi.CZ; cz++ {
			for cx := lo.CX; cx <= hi.CX; cx++ {
				s.loadSection(SectionKey{Dim: dim, CX: cx, CY: cy, CZ: cz})
			}
		}
	}
}

func (s *Store) loadSection(k SectionKey) *Section {
	if sec := s.resident[k]; sec != nil {
		return sec
	}
	sec := s.parked[k]
	if sec != nil {
		delete(s.parked, k)
	} else {
		sec = newSection(k)
	}
	s.resident[k] = sec
	return sec
}

// Unload parks the section containing p. Its contents survive and come back on load.
func (s *Store) Unload(dim Dimension, p Vec3i) {
	k := SectionOf(dim, p)
	if sec := s.resident[k]; sec != nil {
		delete(s.resident, k)
		s.parked[k] = sec
	}
}

func (s *Store) Loaded(dim Dimension, p Vec3i) bool {
	return s.resident[SectionOf(dim, p)] != nil
}

// Fill writes b into every cell of the inclusive box, loading sections as needed.
func (s *Store) Fill(dim Dimension, min, max Vec3i, b Block) {
	s.LoadBox(dim, min, max)
	for y := min.Y; y <= max.Y; y++ {
		for z := min.Z; z <= max.Z; z++ {
			for x := min.X; x <= max.X; x++ {
				_ = s.SetBlock(dim, Vec3i{X: x, Y: y, Z: z}, b)
			}
		}
	}
}

// Sections returns every section, resident and parked, in a stable order.
func (s *Store) Sections() []*Section {
	out := make([]*Section, 0, len(s.resident)+len(s.parked))
	for _, sec := range s.resident {
		out = append(out, sec)
	}
	for _, sec := range s.parked {
		out = append(out, sec)
	}
	sort.Slice(out, func(i, j int) bool { return sectionLess(out[i].Key, out[j].Key) })
	return out
}

func sectionLess(a, b SectionKey) bool {
	if a.Dim != b.Dim {
		return a.Dim < b.Dim
	}
	if a.CY != b.CY {
		return a.CY < b.CY
	}
	if a.CZ != b.CZ {
		return a.CZ < b.CZ
	}
	return a.CX < b.CX
}

// Digest hashes all resident sections in key order.
func (s *Store) Digest() string {
	keys := make([]SectionKey, 0, len(s.resident))
	for k := range s.resident {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return sectionLess(keys[i], keys[j]) })
	h := sha256.New()
	var tmp [8]byte
	for _, k := range keys {
		for _, v := range []int{int(k.Dim), k.CX, k.CY, k.CZ} {
			binary.LittleEndian.PutUint64(tmp[:], uint64(int64(v)))
			h.Write(tmp[:])
		}
		d := s.resident[k].Digest()
		h.Write(d[:])
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}
