package jobs

import (
	"strings"

	"frostanchor.ai/internal/sim/voxel"
)

type Direction uint8

const (
	Freeze Direction = iota
	Melt
)

func (d Direction) String() string {
	if d == Melt {
		return "melt"
	}
	return "freeze"
}

// Job is one pending cell transition owned by an anchor (or by the thaw of a removed one).
type Job struct {
	Key       string
	Origin    voxel.Vec3i
	Dim       voxel.Dimension
	Target    voxel.Vec3i
	Direction Direction
	// Expect lists the kinds the target may hold for the transition to still apply.
	Expect  []voxel.Kind
	Climate voxel.Climate
}

// Matches reports whether b is still an acceptable pre-transition state.
func (j *Job) Matches(b voxel.Block) bool {
	for _, k := range j.Expect {
		if b.Kind == k {
			return true
		}
	}
	return false
}

// AnchorKey is the key of the anchor the job originates from.
func (j *Job) AnchorKey() string { return voxel.Key(j.Dim, j.Origin) }

const thawSuffix = "#thaw"

// ThawKey keys the residual melt work of an anchor that has been torn down, so the
// anchor key itself maps to no job.
func ThawKey(anchorKey string) string { return anchorKey + thawSuffix }

func IsThawKey(key string) bool { return strings.HasSuffix(key, thawSuffix) }

// ChanceTable holds per-climate roll probabilities for each direction.
type ChanceTable struct {
	Freeze map[voxel.Climate]float64
	Melt   map[voxel.Climate]float64
}

func DefaultChances() ChanceTable {
	return ChanceTable{
		Freeze: map[voxel.Climate]float64{voxel.Warm: 0.02, voxel.Temperate: 0.10, voxel.Cold: 0.35},
		Melt:   map[voxel.Climate]float64{voxel.Warm: 0.85, voxel.Temperate: 0.60, voxel.Cold: 0},
	}
}

// ChancesFrom converts name-keyed tables (as found in tuning files). Unknown names are
// ignored.
func ChancesFrom(freeze, melt map[string]float64) ChanceTable {
	t := ChanceTable{Freeze: map[voxel.Climate]float64{}, Melt: map[voxel.Climate]float64{}}
	for name, v := range freeze {
		if c, err := voxel.ParseClimate(name); err == nil {
			t.Freeze[c] = v
		}
	}
	for name, v := range melt {
		if c, err := voxel.ParseClimate(name); err == nil {
			t.Melt[c] = v
		}
	}
	return t
}

// Chance returns the probability for a job; a missing entry is 0.
func (t ChanceTable) Chance(dir Direction, c voxel.Climate) float64 {
	if dir == Melt {
		return t.Melt[c]
	}
	return t.Freeze[c]
}
