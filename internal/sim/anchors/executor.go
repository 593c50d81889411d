package anchors

import (
	"errors"

	"frostanchor.ai/internal/sim/anchors/jobs"
	"frostanchor.ai/internal/sim/voxel"
)

// executor applies jobs whose roll succeeded.
type executor struct{ e *Engine }

func (x executor) Attempt(j *jobs.Job) {
	e := x.e
	// Late results for a torn-down anchor are discarded. Thaw jobs outlive their anchor.
	if !jobs.IsThawKey(j.Key) && !e.anchors.Has(j.Key) {
		e.runner.Unregister(j.Key)
		return
	}

	b, err := e.host.BlockAt(j.Dim, j.Target)
	if err != nil {
		if errors.Is(err, voxel.ErrNotLoaded) {
			e.log.Debug("job target not loaded", "key", j.Key, "target", j.Target)
			return
		}
		e.rescan(j)
		return
	}

	if j.Matches(b) {
		switch j.Direction {
		case jobs.Freeze:
			if e.scanner.FreezableSource(j.Dim, j.Origin, j.Target) {
				if err := e.setBlock(j.Dim, j.Target, voxel.IceBlock, j.AnchorKey(), ReasonFreeze); err != nil {
					e.log.Debug("freeze write failed", "key", j.Key, "target", j.Target, "err", err)
				}
			}
		case jobs.Melt:
			// Melted ice comes back as flowing water, which can never freeze again.
			if !e.scanner.Protected(j.Dim, j.Target, j.AnchorKey()) {
				if err := e.setBlock(j.Dim, j.Target, voxel.FlowingWater, j.AnchorKey(), ReasonMelt); err != nil {
					e.log.Debug("melt write failed", "key", j.Key, "target", j.Target, "err", err)
				}
			}
		}
	}
	e.rescan(j)
}

// rescan replaces j with the owner's next job, or drops it when nothing is left to do.
func (e *Engine) rescan(j *jobs.Job) {
	if next, ok := e.scanner.Scan(j.Key, j.Dim, j.Origin, j.Direction, j.Climate); ok {
		e.runner.Register(next)
		return
	}
	e.runner.Unregister(j.Key)
}
