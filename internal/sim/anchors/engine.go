// Package anchors is the spatial-anchor effect scheduler.
//
// An Engine owns the anchor registry, the climate resolver, the candidate scanner and
// the shared job runner, and drives them from a single goroutine. Host events either
// call the Handle* methods directly (tests, same goroutine) or go through Submit and
// are applied at the top of the next Step.
package anchors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"frostanchor.ai/internal/metrics"
	"frostanchor.ai/internal/sim/anchors/climate"
	"frostanchor.ai/internal/sim/anchors/jobs"
	"frostanchor.ai/internal/sim/anchors/registry"
	"frostanchor.ai/internal/sim/anchors/scan"
	"frostanchor.ai/internal/sim/tuning"
	"frostanchor.ai/internal/sim/voxel"
)

// ErrBacklog is returned by Submit when the event queue is full.
var ErrBacklog = errors.New("anchors: event queue full")

type Options struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Rand    *rand.Rand
	Sinks   []Sink
	// AfterStep runs on the simulation goroutine at the end of every Step.
	AfterStep func(tick uint64)
	// QueueSize bounds the Submit channel. Defaults to 1024.
	QueueSize int
}

type Engine struct {
	host Host
	cfg  tuning.Tuning
	log  *slog.Logger
	met  *metrics.Metrics
	rng  *rand.Rand

	anchors  *registry.Index
	resolver *climate.Resolver
	scanner  *scan.Scanner
	runner   *jobs.Runner
	sinks    []Sink
	fallback voxel.Climate

	observers map[string]*Observer
	obsOrder  []string

	timers   []timer
	timerSeq uint64
	deferred []Event

	nextReconcile uint64
	nextStray     uint64
	afterStep     func(tick uint64)

	events    chan Event
	censusReq chan chan Census
	leaveMu   sync.Mutex
	leaves    []string
	stop      chan struct{}
	stopOnce  sync.Once
}

// Observer is an active viewer around which the world is kept reconciled.
type Observer struct {
	ID  string
	Dim voxel.Dimension
	Pos voxel.Vec3i
}

type timer struct {
	at  uint64
	seq uint64
	fn  func()
}

func New(host Host, cfg tuning.Tuning, opts Options) (*Engine, error) {
	if host == nil {
		return nil, errors.New("anchors: nil host")
	}
	fallback, err := voxel.ParseClimate(cfg.Climate.Fallback)
	if err != nil {
		return nil, fmt.Errorf("%w: climate.fallback: %v", tuning.ErrInvalid, err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(1, 2))
	}
	queue := opts.QueueSize
	if queue <= 0 {
		queue = 1024
	}

	e := &Engine{
		host:      host,
		cfg:       cfg,
		log:       logger,
		met:       opts.Metrics,
		rng:       rng,
		anchors:   registry.New(),
		sinks:     opts.Sinks,
		fallback:  fallback,
		observers: map[string]*Observer{},
		afterStep: opts.AfterStep,
		events:    make(chan Event, queue),
		censusReq: make(chan chan Census),
		stop:      make(chan struct{}),
	}
	e.resolver = climate.NewResolver(host, climate.Config{
		PollTicks:    cfg.Climate.ProbePollTicks,
		TimeoutPolls: cfg.Climate.ProbeTimeoutPolls,
		Fallback:     fallback,
	}, logger)
	e.scanner = scan.New(host, e.anchors, scan.Config{
		MaxRadius:       cfg.Scan.MaxRadius,
		ProtectRadius:   cfg.Scan.ProtectRadius,
		EnclosureSolids: cfg.Scan.EnclosureSolids,
	}, rng)
	e.runner = jobs.NewRunner(jobs.Config{
		IntervalTicks: cfg.Jobs.IntervalTicks,
		Chances:       jobs.ChancesFrom(cfg.Jobs.FreezeChance, cfg.Jobs.MeltChance),
	}, rng, logger)
	e.runner.SetExecutor(executor{e})

	now := host.CurrentTick()
	e.resolver.Tick(now)
	e.runner.Tick(now)
	e.nextReconcile = now + uint64(cfg.Reconcile.InitialDelayTicks)
	e.nextStray = now + uint64(cfg.StrayIce.EveryTicks)
	return e, nil
}

func (e *Engine) Registry() *registry.Index   { return e.anchors }
func (e *Engine) Runner() *jobs.Runner        { return e.runner }
func (e *Engine) Resolver() *climate.Resolver { return e.resolver }
func (e *Engine) Scanner() *scan.Scanner      { return e.scanner }
func (e *Engine) Tuning() tuning.Tuning       { return e.cfg }
func (e *Engine) CurrentTick() uint64         { return e.host.CurrentTick() }

func (e *Engine) AddSink(s Sink) { e.sinks = append(e.sinks, s) }

// After schedules fn to run inside Step once ticks have elapsed. Callbacks must re-check
// whatever state they depend on.
func (e *Engine) After(ticks int, fn func()) {
	if ticks < 1 {
		ticks = 1
	}
	e.timerSeq++
	e.timers = append(e.timers, timer{at: e.host.CurrentTick() + uint64(ticks), seq: e.timerSeq, fn: fn})
}

// Submit queues a host event from any goroutine.
func (e *Engine) Submit(ev Event) error {
	select {
	case e.events <- ev:
		return nil
	default:
		return ErrBacklog
	}
}

// Leave queues an observer departure from any goroutine. Unlike Submit it never drops;
// the observer is gone at the top of the next Step.
func (e *Engine) Leave(id string) {
	if id == "" {
		return
	}
	e.leaveMu.Lock()
	e.leaves = append(e.leaves, id)
	e.leaveMu.Unlock()
}

// Step advances the host clock one tick and runs every phase of the tick in order:
// deferred mutations, queued events, observer departures, timers, probe polling, the
// job runner, stray ice decay and reconciliation.
func (e *Engine) Step() uint64 {
	start := time.Now()
	e.host.Advance()
	now := e.host.CurrentTick()

	if len(e.deferred) > 0 {
		batch := e.deferred
		e.deferred = nil
		for _, ev := range batch {
			e.guard("deferred", func() { e.applyDeferred(ev) })
		}
	}

	for drained := false; !drained; {
		select {
		case ev := <-e.events:
			e.guard("event", func() { e.Handle(ev) })
		default:
			drained = true
		}
	}

	e.leaveMu.Lock()
	gone := e.leaves
	e.leaves = nil
	e.leaveMu.Unlock()
	for _, id := range gone {
		e.HandleObserverLeave(id)
	}

	e.fireTimers(now)
	e.guard("resolver", func() { e.resolver.Tick(now) })
	e.guard("runner", func() { e.runner.Tick(now) })

	if e.cfg.StrayIce.EveryTicks > 0 && now >= e.nextStray {
		e.nextStray = now + uint64(e.cfg.StrayIce.EveryTicks)
		e.guard("stray_ice", e.decayStrayIce)
	}
	if now >= e.nextReconcile {
		e.nextReconcile = now + uint64(e.cfg.Reconcile.EveryTicks)
		e.guard("reconcile", func() { e.Reconcile() })
	}

	e.met.ObserveStep(now, e.anchors.Len(), e.runner.Len(), e.resolver.PendingCount(), time.Since(start))
	if e.afterStep != nil {
		e.guard("after_step", func() { e.afterStep(now) })
	}
	return now
}

func (e *Engine) fireTimers(now uint64) {
	if len(e.timers) == 0 {
		return
	}
	var due []timer
	keep := e.timers[:0]
	for _, t := range e.timers {
		if t.at <= now {
			due = append(due, t)
		} else {
			keep = append(keep, t)
		}
	}
	e.timers = keep
	sort.Slice(due, func(i, j int) bool {
		if due[i].at != due[j].at {
			return due[i].at < due[j].at
		}
		return due[i].seq < due[j].seq
	})
	for _, t := range due {
		e.guard("timer", t.fn)
	}
}

// guard runs fn and turns a panic into a warning so no failure escapes a tick.
func (e *Engine) guard(where string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Warn("recovered panic", "where", where, "panic", r)
			e.met.ObservePanic(where)
		}
	}()
	fn()
}

// Run steps the engine at the configured tick rate until ctx is done or Stop is called.
// Census requests are served between ticks.
func (e *Engine) Run(ctx context.Context) error {
	hz := e.cfg.TickRateHz
	if hz <= 0 {
		hz = 20
	}
	ticker := time.NewTicker(time.Second / time.Duration(hz))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.stop:
			return nil
		case resp := <-e.censusReq:
			resp <- e.Census()
		case <-ticker.C:
			e.Step()
		}
	}
}

func (e *Engine) Stop() { e.stopOnce.Do(func() { close(e.stop) }) }

// RequestCensus asks the running engine for a census. Safe from any goroutine.
func (e *Engine) RequestCensus(ctx context.Context) (Census, error) {
	resp := make(chan Census, 1)
	select {
	case e.censusReq <- resp:
	case <-ctx.Done():
		return Census{}, ctx.Err()
	case <-e.stop:
		return Census{}, errors.New("anchors: engine stopped")
	}
	select {
	case c := <-resp:
		return c, nil
	case <-ctx.Done():
		return Census{}, ctx.Err()
	}
}

// Handle dispatches one host event.
func (e *Engine) Handle(ev Event) {
	if ev.Apply && !e.applyHostEdit(&ev) {
		return
	}
	switch ev.Kind {
	case EventPlace:
		e.HandlePlace(ev.Dim, ev.Pos, ev.Block)
	case EventBreak:
		e.HandleBreak(ev.Dim, ev.Pos, ev.Block)
	case EventTrigger:
		e.HandleTrigger(ev.Dim, ev.Pos)
	case EventInteract:
		e.HandleInteract(ev.Dim, ev.Pos)
	case EventObserverJoin:
		e.HandleObserverJoin(ev.Observer, ev.Dim, ev.Pos)
	case EventObserverMove:
		e.HandleObserverMove(ev.Observer, ev.Dim, ev.Pos)
	case EventObserverLeave:
		e.HandleObserverLeave(ev.Observer)
	default:
		e.log.Debug("ignoring event", "kind", ev.Kind)
	}
}

func (e *Engine) applyHostEdit(ev *Event) bool {
	var err error
	switch ev.Kind {
	case EventPlace:
		err = e.setBlock(ev.Dim, ev.Pos, ev.Block, "", ReasonHost)
	case EventBreak:
		var prev voxel.Block
		if prev, err = e.host.BlockAt(ev.Dim, ev.Pos); err == nil {
			ev.Block = prev
			err = e.setBlock(ev.Dim, ev.Pos, voxel.AirBlock, "", ReasonHost)
		}
	}
	if err != nil {
		e.log.Debug("host edit skipped", "kind", ev.Kind, "dim", ev.Dim, "pos", ev.Pos, "err", err)
		return false
	}
	return true
}

// setBlock writes b and reports the change to every sink.
func (e *Engine) setBlock(dim voxel.Dimension, p voxel.Vec3i, b voxel.Block, anchor, reason string) error {
	from, err := e.host.BlockAt(dim, p)
	if err != nil {
		return err
	}
	if err := e.host.SetBlock(dim, p, b); err != nil {
		return err
	}
	m := Mutation{
		Tick:   e.host.CurrentTick(),
		Dim:    dim,
		DimID:  dim.String(),
		Pos:    p.ToArray(),
		From:   from.String(),
		To:     b.String(),
		Anchor: anchor,
		Reason: reason,
	}
	e.met.ObserveMutation(reason)
	for _, s := range e.sinks {
		e.guard("sink", func() { s.Record(m) })
	}
	return nil
}
