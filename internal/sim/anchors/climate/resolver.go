// Package climate resolves the environment classification of an anchor's cell.
//
// Fixed-climate dimensions answer immediately. Elsewhere a transient marker is spawned
// at the cell and polled until the host reports a value or the poll budget runs out.
// Polling is an explicit state machine (pending -> ready | timed out | invalid) driven
// by Tick, so tests advance it with a virtual clock.
package climate

import (
	"log/slog"

	"frostanchor.ai/internal/sim/voxel"
)

// Field is the marker spawner the resolver probes through.
type Field interface {
	Spawn(dim voxel.Dimension, p voxel.Vec3i) (string, error)
	ReadClassification(id string) (int, bool)
	Destroy(id string)
	Alive(id string) bool
	MarkersAt(dim voxel.Dimension, p voxel.Vec3i) []voxel.Marker
}

type State uint8

const (
	Pending State = iota
	Ready
	TimedOut
	Invalid
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Ready:
		return "ready"
	case TimedOut:
		return "timed_out"
	case Invalid:
		return "invalid"
	}
	return "unknown"
}

// Source says where a result came from. Degraded sources carry the fallback class.
type Source uint8

const (
	SourceFixed Source = iota + 1
	SourceExisting
	SourceProbe
	SourceTimeout
	SourceInvalid
	SourceSpawnFailed
)

func (s Source) String() string {
	switch s {
	case SourceFixed:
		return "fixed"
	case SourceExisting:
		return "existing"
	case SourceProbe:
		return "probe"
	case SourceTimeout:
		return "timeout"
	case SourceInvalid:
		return "invalid"
	case SourceSpawnFailed:
		return "spawn_failed"
	}
	return "unknown"
}

func (s Source) Degraded() bool { return s >= SourceTimeout }

type Result struct {
	Climate voxel.Climate
	Source  Source
}

type Config struct {
	PollTicks    int
	TimeoutPolls int
	Fallback     voxel.Climate
}

// Probe is one in-flight classification read, owned by the resolver.
type Probe struct {
	Key      string
	Marker   string
	Dim      voxel.Dimension
	Pos      voxel.Vec3i
	State    State
	Polls    int
	NextPoll uint64

	waiters []func(Result)
}

// Resolver deduplicates probes per anchor key. It never leaves a marker behind: every
// exit path (ready, timeout, invalidation, cancel) destroys the probe's marker.
//
// Accessed only from the simulation goroutine.
type Resolver struct {
	field Field
	cfg   Config
	log   *slog.Logger

	now     uint64
	pending map[string]*Probe
	order   []string
}

func NewResolver(field Field, cfg Config, logger *slog.Logger) *Resolver {
	if cfg.PollTicks <= 0 {
		cfg.PollTicks = 2
	}
	if cfg.TimeoutPolls <= 0 {
		cfg.TimeoutPolls = 40
	}
	if cfg.Fallback == voxel.ClimateUnknown {
		cfg.Fallback = voxel.Temperate
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Resolver{field: field, cfg: cfg, log: logger, pending: map[string]*Probe{}}
}

// FromRaw maps a host classification value to a climate.
func FromRaw(v int) (voxel.Climate, bool) {
	switch v {
	case voxel.ClassWarm:
		return voxel.Warm, true
	case voxel.ClassCold:
		return voxel.Cold, true
	case voxel.ClassTemperate:
		return voxel.Temperate, true
	}
	return voxel.ClimateUnknown, false
}

// Resolve classifies the cell of anchor key. done is called exactly once, either before
// Resolve returns (the bool result is then true) or from a later Tick. A Cancel drops
// the pending call without invoking done.
func (r *Resolver) Resolve(key string, dim voxel.Dimension, pos voxel.Vec3i, done func(Result)) bool {
	if c, ok := dim.FixedClimate(); ok {
		done(Result{Climate: c, Source: SourceFixed})
		return true
	}
	if p := r.pending[key]; p != nil {
		p.waiters = append(p.waiters, done)
		return false
	}

	// A marker may already sit on the cell, e.g. one persisted across a reload.
	var adopt string
	for _, mk := range r.field.MarkersAt(dim, pos) {
		if raw, ok := r.field.ReadClassification(mk.ID); ok {
			if c, ok := FromRaw(raw); ok {
				r.destroyAll(dim, pos)
				done(Result{Climate: c, Source: SourceExisting})
				return true
			}
		}
		if adopt == "" && !r.Owns(mk.ID) {
			adopt = mk.ID
			continue
		}
		if !r.Owns(mk.ID) {
			r.field.Destroy(mk.ID)
		}
	}

	marker := adopt
	if marker == "" {
		id, err := r.field.Spawn(dim, pos)
		if err != nil {
			r.log.Debug("climate probe spawn failed", "key", key, "err", err)
			done(Result{Climate: r.cfg.Fallback, Source: SourceSpawnFailed})
			return true
		}
		marker = id
	}

	p := &Probe{
		Key:      key,
		Marker:   marker,
		Dim:      dim,
		Pos:      pos,
		State:    Pending,
		NextPoll: r.now + uint64(r.cfg.PollTicks),
		waiters:  []func(Result){done},
	}
	r.pending[key] = p
	r.order = append(r.order, key)
	return false
}

// Tick advances every pending probe whose poll is due.
func (r *Resolver) Tick(now uint64) {
	r.now = now
	if len(r.order) == 0 {
		return
	}
	keys := append([]string(nil), r.order...)
	for _, key := range keys {
		p := r.pending[key]
		if p == nil || now < p.NextPoll {
			continue
		}
		p.Polls++

		if !r.field.Alive(p.Marker) {
			p.State = Invalid
			r.finish(p, Result{Climate: r.cfg.Fallback, Source: SourceInvalid})
			continue
		}
		if raw, ok := r.field.ReadClassification(p.Marker); ok {
			if c, ok := FromRaw(raw); ok {
				p.State = Ready
				r.finish(p, Result{Climate: c, Source: SourceProbe})
				continue
			}
		}
		if p.Polls >= r.cfg.TimeoutPolls {
			p.State = TimedOut
			r.log.Debug("climate probe timed out", "key", key, "polls", p.Polls)
			r.finish(p, Result{Climate: r.cfg.Fallback, Source: SourceTimeout})
			continue
		}
		p.NextPoll = now + uint64(r.cfg.PollTicks)
	}
}

func (r *Resolver) finish(p *Probe, res Result) {
	r.field.Destroy(p.Marker)
	r.drop(p.Key)
	for _, w := range p.waiters {
		w(res)
	}
}

func (r *Resolver) drop(key string) {
	delete(r.pending, key)
	for i, k := range r.order {
		if k == key {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}

func (r *Resolver) destroyAll(dim voxel.Dimension, pos voxel.Vec3i) {
	for _, mk := range r.field.MarkersAt(dim, pos) {
		if !r.Owns(mk.ID) {
			r.field.Destroy(mk.ID)
		}
	}
}

// Cancel abandons a pending probe for key and destroys its marker. Waiters are dropped.
func (r *Resolver) Cancel(key string) {
	p := r.pending[key]
	if p == nil {
		return
	}
	p.State = Invalid
	r.field.Destroy(p.Marker)
	r.drop(key)
}

// Owns reports whether marker belongs to an in-flight probe.
func (r *Resolver) Owns(marker string) bool {
	for _, p := range r.pending {
		if p.Marker == marker {
			return true
		}
	}
	return false
}

func (r *Resolver) Pending(key string) (*Probe, bool) {
	p, ok := r.pending[key]
	return p, ok
}

func (r *Resolver) PendingCount() int { return len(r.pending) }
