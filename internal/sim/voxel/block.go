package voxel

import (
	"fmt"
	"strconv"
	"strings"
)

type Kind uint16

const (
	Air Kind = iota
	Water
	Ice
	PackedIce
	Snow
	Stone
	Dirt
	Wood

	// Anchor charge stages, empty through almost full, then the terminal form.
	AnchorEmpty
	AnchorQuarter
	AnchorHalf
	AnchorAlmostFull
	AnchorFull
)

var kindNames = [...]string{
	Air:              "air",
	Water:            "water",
	Ice:              "ice",
	PackedIce:        "packed_ice",
	Snow:             "snow",
	Stone:            "stone",
	Dirt:             "dirt",
	Wood:             "wood",
	AnchorEmpty:      "anchor_empty",
	AnchorQuarter:    "anchor_quarter",
	AnchorHalf:       "anchor_half",
	AnchorAlmostFull: "anchor_almost_full",
	AnchorFull:       "anchor_full",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) && kindNames[k] != "" {
		return kindNames[k]
	}
	return fmt.Sprintf("kind%d", uint16(k))
}

func ParseKind(s string) (Kind, error) {
	for i, n := range kindNames {
		if n == s {
			return Kind(i), nil
		}
	}
	return Air, fmt.Errorf("unknown block kind %q", s)
}

// MaxStage is the number of charge steps an anchor accepts before it converts.
const MaxStage = 4

var stageKinds = [MaxStage + 1]Kind{AnchorEmpty, AnchorQuarter, AnchorHalf, AnchorAlmostFull, AnchorFull}

// StageOf returns the charge stage of a live anchor block. The terminal kind is not
// a live anchor and reports false.
func StageOf(k Kind) (int, bool) {
	for i := 0; i < MaxStage; i++ {
		if stageKinds[i] == k {
			return i, true
		}
	}
	return 0, false
}

// StageKind returns the block kind for a charge stage; n is clamped to [0, MaxStage].
func StageKind(n int) Kind {
	if n < 0 {
		n = 0
	}
	if n > MaxStage {
		n = MaxStage
	}
	return stageKinds[n]
}

func (k Kind) IsAnchor() bool {
	_, ok := StageOf(k)
	return ok
}

func (k Kind) IsWater() bool { return k == Water }

// ColdPermeable reports whether cold passes through the kind. Anything else blocks it.
func (k Kind) ColdPermeable() bool {
	switch k {
	case Air, Water, Ice, PackedIce, Snow:
		return true
	}
	return k.IsAnchor()
}

// Block is one cell. Depth is the liquid depth for water: 0 is a full-depth source,
// 1..7 is flowing.
type Block struct {
	Kind  Kind
	Depth uint8
}

func (b Block) String() string {
	if b.Kind == Water {
		return fmt.Sprintf("%s/%d", b.Kind, b.Depth)
	}
	return b.Kind.String()
}

// ParseBlock is the inverse of Block.String.
func ParseBlock(s string) (Block, error) {
	name, depth, hasDepth := strings.Cut(s, "/")
	k, err := ParseKind(name)
	if err != nil {
		return Block{}, err
	}
	if k != Water {
		if hasDepth {
			return Block{}, fmt.Errorf("block %q: depth on a non-water kind", s)
		}
		return Block{Kind: k}, nil
	}
	if !hasDepth {
		return Block{Kind: Water}, nil
	}
	d, err := strconv.ParseUint(depth, 10, 8)
	if err != nil || d > 7 {
		return Block{}, fmt.Errorf("block %q: bad depth", s)
	}
	return Block{Kind: Water, Depth: uint8(d)}, nil
}

var (
	AirBlock     = Block{Kind: Air}
	SourceWater  = Block{Kind: Water}
	FlowingWater = Block{Kind: Water, Depth: 1}
	IceBlock     = Block{Kind: Ice}
	StoneBlock   = Block{Kind: Stone}
)

// IsFreezableSource is true only for full-depth water. Flowing cells never freeze,
// otherwise one bucket would feed an endless ice generator.
func (b Block) IsFreezableSource() bool {
	return b.Kind == Water && b.Depth == 0
}
