package anchors

import (
	"errors"

	"frostanchor.ai/internal/sim/voxel"
)

// ReconcileReport counts what one reconciliation pass repaired.
type ReconcileReport struct {
	Registered       int `json:"registered"`
	TornDown         int `json:"torn_down"`
	MarkersDestroyed int `json:"markers_destroyed"`
	Checked          int `json:"checked"`
}

// Reconcile rebuilds the registry from the world. Persisted markers sitting on anchor
// blocks re-register those anchors and stray markers are destroyed; the area around each
// observer is swept; then every anchor is revalidated against its block. Running it
// twice with no world change in between leaves the registry unchanged.
func (e *Engine) Reconcile() ReconcileReport {
	var rep ReconcileReport

	for _, dim := range voxel.Dimensions {
		for _, mk := range e.host.AllMarkers(dim) {
			if e.resolver.Owns(mk.ID) {
				continue
			}
			b, err := e.host.BlockAt(dim, mk.Pos)
			if err != nil {
				if errors.Is(err, voxel.ErrNotLoaded) {
					continue
				}
				e.host.Destroy(mk.ID)
				rep.MarkersDestroyed++
				continue
			}
			stage, ok := voxel.StageOf(b.Kind)
			if !ok {
				e.host.Destroy(mk.ID)
				rep.MarkersDestroyed++
				continue
			}
			a, created := e.register(dim, mk.Pos, stage)
			if created {
				rep.Registered++
			}
			if a.ClimateKnown {
				e.host.Destroy(mk.ID)
				rep.MarkersDestroyed++
				continue
			}
			// The resolver reads or adopts the marker.
			e.activate(a.Key)
		}
	}

	for _, id := range e.obsOrder {
		o := e.observers[id]
		rep.Registered += e.sweep(o.Dim, o.Pos, e.cfg.Reconcile.SweepRadius, e.cfg.Reconcile.SweepHalfHeight)
	}

	for _, a := range e.anchors.All() {
		b, err := e.host.BlockAt(a.Dim, a.Pos)
		if err != nil {
			continue
		}
		rep.Checked++
		stage, ok := voxel.StageOf(b.Kind)
		if !ok {
			e.log.Info("reconcile: anchor block gone", "key", a.Key, "block", b)
			e.remove(a, e.fallback)
			rep.TornDown++
			continue
		}
		if stage > a.Progress {
			a.Progress = stage
		}
	}

	e.met.ObserveReconcile("registered", rep.Registered)
	e.met.ObserveReconcile("torn_down", rep.TornDown)
	e.met.ObserveReconcile("markers_destroyed", rep.MarkersDestroyed)
	if rep.Registered+rep.TornDown+rep.MarkersDestroyed > 0 {
		e.log.Info("reconcile", "registered", rep.Registered, "torn_down", rep.TornDown, "markers_destroyed", rep.MarkersDestroyed)
	}
	return rep
}
