package anchors

import (
	"frostanchor.ai/internal/sim/anchors/climate"
	"frostanchor.ai/internal/sim/anchors/jobs"
	"frostanchor.ai/internal/sim/anchors/registry"
	"frostanchor.ai/internal/sim/voxel"
)

// HandlePlace is called after b has been placed at pos.
func (e *Engine) HandlePlace(dim voxel.Dimension, pos voxel.Vec3i, b voxel.Block) {
	if stage, ok := voxel.StageOf(b.Kind); ok {
		a, created := e.register(dim, pos, stage)
		if created {
			key := a.Key
			e.After(e.cfg.Anchors.RefreshDelayTicks, func() { e.activate(key) })
		}
		return
	}
	e.refreshAround(dim, pos)
}

// HandleBreak is called after the block broken (its former value) was removed from pos.
func (e *Engine) HandleBreak(dim voxel.Dimension, pos voxel.Vec3i, broken voxel.Block) {
	key := voxel.Key(dim, pos)
	if a, ok := e.anchors.Find(key); ok {
		e.log.Info("anchor broken", "key", key, "progress", a.Progress)
		e.remove(a, e.fallback)
		return
	}
	e.refreshAround(dim, pos)
}

// HandleTrigger advances the first registered anchor within trigger radius of pos.
func (e *Engine) HandleTrigger(dim voxel.Dimension, pos voxel.Vec3i) {
	a, ok := e.anchors.FirstWithin(dim, pos, e.cfg.Anchors.TriggerRadius)
	if !ok {
		return
	}
	b, err := e.host.BlockAt(a.Dim, a.Pos)
	if err != nil {
		e.log.Debug("trigger skipped", "key", a.Key, "err", err)
		return
	}
	if _, live := voxel.StageOf(b.Kind); !live {
		e.log.Info("anchor block missing, tearing down", "key", a.Key, "block", b)
		e.remove(a, e.fallback)
		return
	}

	a.Progress++
	if a.Progress >= voxel.MaxStage {
		e.convert(a)
		return
	}
	if err := e.setBlock(a.Dim, a.Pos, voxel.Block{Kind: voxel.StageKind(a.Progress)}, a.Key, ReasonStage); err != nil {
		e.log.Debug("stage write failed", "key", a.Key, "err", err)
	}
}

// HandleInteract records a request to pour water at pos. Handlers run in a read-only
// phase, so the request is applied in the next tick's mutation phase.
func (e *Engine) HandleInteract(dim voxel.Dimension, pos voxel.Vec3i) {
	e.deferred = append(e.deferred, Event{Kind: EventInteract, Dim: dim, Pos: pos})
}

func (e *Engine) HandleObserverJoin(id string, dim voxel.Dimension, pos voxel.Vec3i) {
	if id == "" {
		return
	}
	if o := e.observers[id]; o != nil {
		o.Dim, o.Pos = dim, pos
		return
	}
	e.observers[id] = &Observer{ID: id, Dim: dim, Pos: pos}
	e.obsOrder = append(e.obsOrder, id)
	e.sweep(dim, pos, e.cfg.Reconcile.SweepRadius, e.cfg.Reconcile.SweepHalfHeight)
}

func (e *Engine) HandleObserverMove(id string, dim voxel.Dimension, pos voxel.Vec3i) {
	o := e.observers[id]
	if o == nil {
		e.HandleObserverJoin(id, dim, pos)
		return
	}
	o.Dim, o.Pos = dim, pos
}

func (e *Engine) HandleObserverLeave(id string) {
	if _, ok := e.observers[id]; !ok {
		return
	}
	delete(e.observers, id)
	for i, k := range e.obsOrder {
		if k == id {
			e.obsOrder = append(e.obsOrder[:i], e.obsOrder[i+1:]...)
			break
		}
	}
}

// Observers returns the active observers in join order.
func (e *Engine) Observers() []Observer {
	out := make([]Observer, 0, len(e.obsOrder))
	for _, id := range e.obsOrder {
		out = append(out, *e.observers[id])
	}
	return out
}

func (e *Engine) register(dim voxel.Dimension, pos voxel.Vec3i, progress int) (*registry.Anchor, bool) {
	a, created := e.anchors.Register(dim, pos, progress)
	if created {
		// A fresh anchor supersedes residual thaw work at the same cell.
		e.runner.Unregister(jobs.ThawKey(a.Key))
		e.log.Info("anchor registered", "key", a.Key, "progress", a.Progress)
	}
	return a, created
}

// activate makes sure the anchor has a climate and a freeze job. Anchors in a dimension
// where water evaporates only take their fixed climate; they never freeze.
func (e *Engine) activate(key string) {
	a, ok := e.anchors.Find(key)
	if !ok {
		return
	}
	if a.Dim.WaterEvaporates() {
		a.Climate, a.ClimateKnown = a.Dim.FixedClimate()
		e.runner.Unregister(a.Key)
		return
	}
	if a.ClimateKnown {
		e.scanFreeze(a)
		return
	}
	if _, pending := e.resolver.Pending(key); pending {
		return
	}
	e.resolver.Resolve(key, a.Dim, a.Pos, func(res climate.Result) {
		e.met.ObserveProbe(res.Source.String())
		a, ok := e.anchors.Find(key)
		if !ok {
			return
		}
		if res.Source != climate.SourceSpawnFailed {
			a.Climate = res.Climate
			a.ClimateKnown = true
		}
		e.scanFreezeAs(a, res.Climate)
	})
}

func (e *Engine) scanFreeze(a *registry.Anchor) { e.scanFreezeAs(a, a.Climate) }

func (e *Engine) scanFreezeAs(a *registry.Anchor, c voxel.Climate) {
	if job, ok := e.scanner.Scan(a.Key, a.Dim, a.Pos, jobs.Freeze, c); ok {
		e.runner.Register(job)
		return
	}
	e.runner.Unregister(a.Key)
}

// refreshAround re-scans anchors near a changed cell and picks up unregistered anchor
// blocks right next to it.
func (e *Engine) refreshAround(dim voxel.Dimension, pos voxel.Vec3i) {
	for _, a := range e.anchors.Within(dim, pos, e.cfg.Anchors.RefreshRadius) {
		e.activate(a.Key)
	}
	r := e.cfg.Anchors.LocalSweepRadius
	e.sweep(dim, pos, r, r)
}

// sweep registers and activates every unregistered anchor block in the box around
// center. It returns how many anchors were registered.
func (e *Engine) sweep(dim voxel.Dimension, center voxel.Vec3i, radius, halfHeight int) int {
	n := 0
	for y := center.Y - halfHeight; y <= center.Y+halfHeight; y++ {
		if !dim.Range().Contains(y) {
			continue
		}
		for z := center.Z - radius; z <= center.Z+radius; z++ {
			for x := center.X - radius; x <= center.X+radius; x++ {
				p := voxel.Vec3i{X: x, Y: y, Z: z}
				b, err := e.host.BlockAt(dim, p)
				if err != nil {
					continue
				}
				stage, ok := voxel.StageOf(b.Kind)
				if !ok || e.anchors.Has(voxel.Key(dim, p)) {
					continue
				}
				a, _ := e.register(dim, p, stage)
				e.activate(a.Key)
				n++
			}
		}
	}
	return n
}

// teardown drops every trace of an anchor: its job, its probe and its record.
func (e *Engine) teardown(a *registry.Anchor) {
	e.runner.Unregister(a.Key)
	e.resolver.Cancel(a.Key)
	e.anchors.Unregister(a.Key)
}

// remove tears an anchor down and starts the aftermath for its dimension. Residual ice
// thaws at climate c.
func (e *Engine) remove(a *registry.Anchor, c voxel.Climate) {
	e.teardown(a)
	e.aftermath(a, c)
}

// convert turns a fully charged anchor into its terminal block within the current tick.
func (e *Engine) convert(a *registry.Anchor) {
	if err := e.setBlock(a.Dim, a.Pos, voxel.Block{Kind: voxel.AnchorFull}, a.Key, ReasonConvert); err != nil {
		e.log.Debug("convert write failed", "key", a.Key, "err", err)
	}
	e.log.Info("anchor converted", "key", a.Key)
	c := e.fallback
	if a.ClimateKnown {
		c = a.Climate
	}
	e.remove(a, c)
}

func (e *Engine) aftermath(a *registry.Anchor, c voxel.Climate) {
	if a.Dim.WaterEvaporates() {
		e.evaporate(a)
		return
	}
	if job, ok := e.scanner.Scan(jobs.ThawKey(a.Key), a.Dim, a.Pos, jobs.Melt, c); ok {
		e.runner.Register(job)
	}
}

// evaporate clears water the removed anchor was keeping alive.
func (e *Engine) evaporate(a *registry.Anchor) {
	r := e.cfg.Anchors.EvaporateRadius
	r2 := r * r
	for y := a.Pos.Y - r; y <= a.Pos.Y+r; y++ {
		for z := a.Pos.Z - r; z <= a.Pos.Z+r; z++ {
			for x := a.Pos.X - r; x <= a.Pos.X+r; x++ {
				p := voxel.Vec3i{X: x, Y: y, Z: z}
				if voxel.DistSq(p, a.Pos) > r2 {
					continue
				}
				b, err := e.host.BlockAt(a.Dim, p)
				if err != nil || !b.Kind.IsWater() {
					continue
				}
				if e.scanner.Protected(a.Dim, p, a.Key) {
					continue
				}
				if err := e.setBlock(a.Dim, p, voxel.AirBlock, a.Key, ReasonEvaporate); err != nil {
					e.log.Debug("evaporate write failed", "pos", p, "err", err)
				}
			}
		}
	}
}

// applyDeferred runs a request queued by a read-only handler.
func (e *Engine) applyDeferred(ev Event) {
	if ev.Kind == EventInteract {
		e.pour(ev.Dim, ev.Pos)
	}
}

// pour places a water source at target. Where water evaporates, it only survives next
// to an anchor with an open path to the target; an unregistered anchor block found in
// range is registered on the spot.
func (e *Engine) pour(dim voxel.Dimension, target voxel.Vec3i) {
	b, err := e.host.BlockAt(dim, target)
	if err != nil {
		e.log.Debug("pour skipped", "pos", target, "err", err)
		return
	}
	if b.Kind != voxel.Air && !b.Kind.IsWater() {
		return
	}
	if !dim.WaterEvaporates() {
		if e.pourAt(dim, target, "") {
			e.refreshAround(dim, target)
		}
		return
	}

	radius := e.cfg.Scan.ProtectRadius
	if a, ok := e.nearestAnchor(dim, target, radius); ok {
		if e.scanner.Blocked(dim, a.Pos, target) {
			return
		}
		if e.pourAt(dim, target, a.Key) {
			e.activate(a.Key)
		}
		return
	}

	for y := -radius; y <= radius; y++ {
		for z := -radius; z <= radius; z++ {
			for x := -radius; x <= radius; x++ {
				p := target.Add(voxel.Vec3i{X: x, Y: y, Z: z})
				nb, err := e.host.BlockAt(dim, p)
				if err != nil {
					continue
				}
				stage, ok := voxel.StageOf(nb.Kind)
				if !ok || e.scanner.Blocked(dim, p, target) {
					continue
				}
				a, _ := e.register(dim, p, stage)
				if e.pourAt(dim, target, a.Key) {
					e.activate(a.Key)
				}
				return
			}
		}
	}
}

func (e *Engine) pourAt(dim voxel.Dimension, target voxel.Vec3i, anchor string) bool {
	if err := e.setBlock(dim, target, voxel.SourceWater, anchor, ReasonPour); err != nil {
		e.log.Debug("pour write failed", "pos", target, "err", err)
		return false
	}
	return true
}

// nearestAnchor returns the geometrically closest anchor within radius; ties go to the
// earlier registration.
func (e *Engine) nearestAnchor(dim voxel.Dimension, pos voxel.Vec3i, radius int) (*registry.Anchor, bool) {
	var best *registry.Anchor
	bestD := 0
	for _, a := range e.anchors.Within(dim, pos, radius) {
		if d := voxel.DistSq(a.Pos, pos); best == nil || d < bestD {
			best, bestD = a, d
		}
	}
	return best, best != nil
}

// decayStrayIce melts one random ice cell near each observer when no anchor holds it.
func (e *Engine) decayStrayIce() {
	si := e.cfg.StrayIce
	for _, id := range e.obsOrder {
		o := e.observers[id]
		if o == nil || o.Dim.WaterEvaporates() {
			continue
		}
		p := o.Pos.Add(voxel.Vec3i{
			X: e.rng.IntN(10) - 5,
			Y: e.rng.IntN(6) - 3,
			Z: e.rng.IntN(10) - 5,
		})
		b, err := e.host.BlockAt(o.Dim, p)
		if err != nil || b.Kind != voxel.Ice {
			continue
		}
		if e.anchors.FindWithinRadius(o.Dim, p, si.AnchorRadius, "") {
			continue
		}
		if e.rng.Float64() >= si.Chance {
			continue
		}
		if err := e.setBlock(o.Dim, p, voxel.FlowingWater, "", ReasonStrayMelt); err != nil {
			e.log.Debug("stray melt write failed", "pos", p, "err", err)
		}
	}
}
