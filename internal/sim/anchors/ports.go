package anchors

import (
	"frostanchor.ai/internal/sim/voxel"
)

// BlockStore is the host's block access. Unloaded cells return voxel.ErrNotLoaded.
type BlockStore interface {
	BlockAt(dim voxel.Dimension, p voxel.Vec3i) (voxel.Block, error)
	SetBlock(dim voxel.Dimension, p voxel.Vec3i, b voxel.Block) error
}

// MarkerField spawns and reads the transient markers used for climate probes.
type MarkerField interface {
	Spawn(dim voxel.Dimension, p voxel.Vec3i) (string, error)
	ReadClassification(id string) (int, bool)
	Destroy(id string)
	Alive(id string) bool
	MarkersAt(dim voxel.Dimension, p voxel.Vec3i) []voxel.Marker
	AllMarkers(dim voxel.Dimension) []voxel.Marker
}

// Clock is the host tick counter. The engine advances it once per Step.
type Clock interface {
	Advance()
	CurrentTick() uint64
}

// Host is everything the engine needs from the world it runs against.
type Host interface {
	BlockStore
	MarkerField
	Clock
}

type EventKind uint8

const (
	EventPlace EventKind = iota + 1
	EventBreak
	EventTrigger
	EventInteract
	EventObserverJoin
	EventObserverMove
	EventObserverLeave
)

func (k EventKind) String() string {
	switch k {
	case EventPlace:
		return "place"
	case EventBreak:
		return "break"
	case EventTrigger:
		return "trigger"
	case EventInteract:
		return "interact"
	case EventObserverJoin:
		return "observer_join"
	case EventObserverMove:
		return "observer_move"
	case EventObserverLeave:
		return "observer_leave"
	}
	return "unknown"
}

// Event is a host notification. Block is the placed block for EventPlace and the
// removed block for EventBreak; Observer names the observer for observer events.
//
// Apply asks the engine to make the block change itself before handling the event,
// for remote hosts that edit the in-process world only through events. Block is then
// ignored for EventBreak and read from the world instead.
type Event struct {
	Kind     EventKind
	Dim      voxel.Dimension
	Pos      voxel.Vec3i
	Block    voxel.Block
	Observer string
	Apply    bool
}

// Mutation reasons.
const (
	ReasonFreeze    = "FREEZE"
	ReasonMelt      = "MELT"
	ReasonStage     = "STAGE"
	ReasonConvert   = "CONVERT"
	ReasonEvaporate = "EVAPORATE"
	ReasonStrayMelt = "STRAY_MELT"
	ReasonPour      = "POUR"
	ReasonHost      = "HOST"
)

// Mutation is one block change made by the engine.
type Mutation struct {
	Tick   uint64          `json:"tick"`
	Dim    voxel.Dimension `json:"-"`
	DimID  string          `json:"dim"`
	Pos    [3]int          `json:"pos"`
	From   string          `json:"from"`
	To     string          `json:"to"`
	Anchor string          `json:"anchor,omitempty"`
	Reason string          `json:"reason"`
}

// Sink receives every mutation. Record is called on the simulation goroutine and must
// not block.
type Sink interface {
	Record(m Mutation)
}

type SinkFunc func(m Mutation)

func (f SinkFunc) Record(m Mutation) { f(m) }
