package anchors

import (
	"frostanchor.ai/internal/sim/anchors/jobs"
)

type JobView struct {
	Key       string `json:"key"`
	Direction string `json:"direction"`
	Target    [3]int `json:"target"`
	Climate   string `json:"climate"`
}

type AnchorView struct {
	Key      string   `json:"key"`
	Dim      string   `json:"dim"`
	Pos      [3]int   `json:"pos"`
	Progress int      `json:"progress"`
	Climate  string   `json:"climate,omitempty"`
	Job      *JobView `json:"job,omitempty"`
}

// Census is a read-only view of the engine state.
type Census struct {
	Tick          uint64       `json:"tick"`
	Anchors       []AnchorView `json:"anchors"`
	Jobs          []JobView    `json:"jobs"`
	PendingProbes int          `json:"pending_probes"`
	Observers     int          `json:"observers"`
}

func viewJob(j *jobs.Job) JobView {
	return JobView{
		Key:       j.Key,
		Direction: j.Direction.String(),
		Target:    j.Target.ToArray(),
		Climate:   j.Climate.String(),
	}
}

// Census builds the view. Call it on the simulation goroutine; other goroutines use
// RequestCensus.
func (e *Engine) Census() Census {
	c := Census{
		Tick:          e.host.CurrentTick(),
		Anchors:       []AnchorView{},
		Jobs:          []JobView{},
		PendingProbes: e.resolver.PendingCount(),
		Observers:     len(e.observers),
	}
	for _, a := range e.anchors.All() {
		v := AnchorView{Key: a.Key, Dim: a.Dim.String(), Pos: a.Pos.ToArray(), Progress: a.Progress}
		if a.ClimateKnown {
			v.Climate = a.Climate.String()
		}
		if j, ok := e.runner.Get(a.Key); ok {
			jv := viewJob(j)
			v.Job = &jv
		}
		c.Anchors = append(c.Anchors, v)
	}
	for _, k := range e.runner.Keys() {
		if j, ok := e.runner.Get(k); ok {
			c.Jobs = append(c.Jobs, viewJob(j))
		}
	}
	return c
}
