package tuning

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// ErrInvalid wraps every schema or range violation found in a tuning file.
var ErrInvalid = errors.New("tuning: invalid")

//go:embed tuning.schema.json
var schemaJSON string

type Tuning struct {
	TickRateHz         int `yaml:"tick_rate_hz" json:"tick_rate_hz"`
	SnapshotEveryTicks int `yaml:"snapshot_every_ticks" json:"snapshot_every_ticks"`

	Anchors   Anchors   `yaml:"anchors" json:"anchors"`
	Climate   Climate   `yaml:"climate" json:"climate"`
	Scan      Scan      `yaml:"scan" json:"scan"`
	Jobs      Jobs      `yaml:"jobs" json:"jobs"`
	Reconcile Reconcile `yaml:"reconcile" json:"reconcile"`
	StrayIce  StrayIce  `yaml:"stray_ice" json:"stray_ice"`
}

type Anchors struct {
	TriggerRadius     int `yaml:"trigger_radius" json:"trigger_radius"`
	RefreshRadius     int `yaml:"refresh_radius" json:"refresh_radius"`
	RefreshDelayTicks int `yaml:"refresh_delay_ticks" json:"refresh_delay_ticks"`
	LocalSweepRadius  int `yaml:"local_sweep_radius" json:"local_sweep_radius"`
	EvaporateRadius   int `yaml:"evaporate_radius" json:"evaporate_radius"`
}

type Climate struct {
	ProbePollTicks    int    `yaml:"probe_poll_ticks" json:"probe_poll_ticks"`
	ProbeTimeoutPolls int    `yaml:"probe_timeout_polls" json:"probe_timeout_polls"`
	Fallback          string `yaml:"fallback" json:"fallback"`
}

type Scan struct {
	MaxRadius     int `yaml:"max_radius" json:"max_radius"`
	ProtectRadius int `yaml:"protect_radius" json:"protect_radius"`
	// EnclosureSolids is how many of the six neighbours must be solid to seal a cell.
	EnclosureSolids int `yaml:"enclosure_solids" json:"enclosure_solids"`
}

type Jobs struct {
	IntervalTicks int                `yaml:"interval_ticks" json:"interval_ticks"`
	FreezeChance  map[string]float64 `yaml:"freeze_chance" json:"freeze_chance"`
	MeltChance    map[string]float64 `yaml:"melt_chance" json:"melt_chance"`
}

type Reconcile struct {
	InitialDelayTicks int `yaml:"initial_delay_ticks" json:"initial_delay_ticks"`
	EveryTicks        int `yaml:"every_ticks" json:"every_ticks"`
	SweepRadius       int `yaml:"sweep_radius" json:"sweep_radius"`
	SweepHalfHeight   int `yaml:"sweep_half_height" json:"sweep_half_height"`
}

type StrayIce struct {
	EveryTicks   int     `yaml:"every_ticks" json:"every_ticks"`
	AnchorRadius int     `yaml:"anchor_radius" json:"anchor_radius"`
	Chance       float64 `yaml:"chance" json:"chance"`
}

const defaultStrayIceChance = 0.2

func Defaults() Tuning {
	t := Tuning{StrayIce: StrayIce{Chance: defaultStrayIceChance}}
	t.applyDefaults()
	return t
}

func (t *Tuning) applyDefaults() {
	if t.TickRateHz <= 0 {
		t.TickRateHz = 20
	}
	if t.SnapshotEveryTicks <= 0 {
		t.SnapshotEveryTicks = 6000
	}

	a := &t.Anchors
	if a.TriggerRadius <= 0 {
		a.TriggerRadius = 7
	}
	if a.RefreshRadius <= 0 {
		a.RefreshRadius = 6
	}
	if a.RefreshDelayTicks <= 0 {
		a.RefreshDelayTicks = 10
	}
	if a.LocalSweepRadius <= 0 {
		a.LocalSweepRadius = 3
	}
	if a.EvaporateRadius <= 0 {
		a.EvaporateRadius = 8
	}

	c := &t.Climate
	if c.ProbePollTicks <= 0 {
		c.ProbePollTicks = 2
	}
	if c.ProbeTimeoutPolls <= 0 {
		c.ProbeTimeoutPolls = 40
	}
	if c.Fallback == "" {
		c.Fallback = "temperate"
	}

	s := &t.Scan
	if s.MaxRadius <= 0 {
		s.MaxRadius = 5
	}
	if s.ProtectRadius <= 0 {
		s.ProtectRadius = 5
	}
	if s.EnclosureSolids <= 0 {
		s.EnclosureSolids = 5
	}

	j := &t.Jobs
	if j.IntervalTicks <= 0 {
		j.IntervalTicks = 5
	}
	// Missing entries take defaults; an explicit 0 is kept (cold never melts).
	j.FreezeChance = mergeChances(j.FreezeChance, map[string]float64{"warm": 0.02, "temperate": 0.10, "cold": 0.35})
	j.MeltChance = mergeChances(j.MeltChance, map[string]float64{"warm": 0.85, "temperate": 0.60, "cold": 0})

	r := &t.Reconcile
	if r.InitialDelayTicks <= 0 {
		r.InitialDelayTicks = 20
	}
	if r.EveryTicks <= 0 {
		r.EveryTicks = 40
	}
	if r.SweepRadius <= 0 {
		r.SweepRadius = 8
	}
	if r.SweepHalfHeight <= 0 {
		r.SweepHalfHeight = 8
	}

	si := &t.StrayIce
	if si.EveryTicks <= 0 {
		si.EveryTicks = 10
	}
	if si.AnchorRadius <= 0 {
		si.AnchorRadius = 6
	}
}

func mergeChances(got, def map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(def))
	for k, v := range def {
		out[k] = v
	}
	for k, v := range got {
		out[k] = v
	}
	return out
}

// Digest is the hex SHA-256 of the canonical JSON encoding, together with that encoding.
func Digest(t Tuning) (string, []byte, error) {
	b, err := json.Marshal(t)
	if err != nil {
		return "", nil, err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), b, nil
}

func Load(path string) (Tuning, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Tuning{}, err
	}
	t, err := Parse(raw)
	if err != nil {
		return t, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// Parse validates raw YAML against the tuning schema, decodes it, and fills defaults.
func Parse(raw []byte) (Tuning, error) {
	// Seeded before decoding so an explicit chance of 0 turns stray ice decay off.
	t := Tuning{StrayIce: StrayIce{Chance: defaultStrayIceChance}}
	if err := Validate(raw); err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.applyDefaults()
	return t, nil
}

var schema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	return jsonschema.CompileString("tuning.schema.json", schemaJSON)
})

// Validate checks raw YAML against the embedded JSON schema.
func Validate(raw []byte) error {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if doc == nil {
		return nil
	}
	// Round-trip through JSON so the validator sees plain JSON values.
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	s, err := schema()
	if err != nil {
		return err
	}
	if err := s.Validate(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}
