// Package jobs holds the shared probabilistic runner that drives freeze and melt work.
//
// Each anchor owns at most one job at a time. The runner wakes every IntervalTicks while
// at least one job is registered, rolls each job's chance in insertion order, and hands
// winners to an Executor which mutates the target and re-scans.
package jobs

import (
	"log/slog"
	"math/rand/v2"
)

// Executor performs a job whose roll succeeded. It is expected to re-validate the target,
// mutate it, and register (or drop) the anchor's next job.
type Executor interface {
	Attempt(job *Job)
}

type Config struct {
	IntervalTicks int
	Chances       ChanceTable
}

type Stats struct {
	Runs    uint64
	Rolls   uint64
	Fired   uint64
	Dropped uint64
}

// Runner is accessed only from the simulation goroutine.
type Runner struct {
	cfg  Config
	rng  *rand.Rand
	exec Executor
	log  *slog.Logger

	jobs  map[string]*Job
	order []string

	active bool
	now    uint64
	next   uint64
	stats  Stats
}

func NewRunner(cfg Config, rng *rand.Rand, logger *slog.Logger) *Runner {
	if cfg.IntervalTicks <= 0 {
		cfg.IntervalTicks = 5
	}
	if cfg.Chances.Freeze == nil && cfg.Chances.Melt == nil {
		cfg.Chances = DefaultChances()
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(1, 2))
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Runner{cfg: cfg, rng: rng, log: logger, jobs: map[string]*Job{}}
}

func (r *Runner) SetExecutor(e Executor) { r.exec = e }

// Register installs job, replacing any job with the same key. The replacement moves to
// the end of the iteration order. The first job (re)starts the runner.
func (r *Runner) Register(job *Job) {
	if job == nil || job.Key == "" {
		return
	}
	if _, ok := r.jobs[job.Key]; ok {
		r.removeOrder(job.Key)
	}
	r.jobs[job.Key] = job
	r.order = append(r.order, job.Key)
	if !r.active {
		r.active = true
		r.next = r.now + uint64(r.cfg.IntervalTicks)
	}
}

// Unregister drops the job for key. The runner goes idle once no jobs remain.
func (r *Runner) Unregister(key string) bool {
	if _, ok := r.jobs[key]; !ok {
		return false
	}
	delete(r.jobs, key)
	r.removeOrder(key)
	if len(r.jobs) == 0 {
		r.active = false
	}
	return true
}

func (r *Runner) removeOrder(key string) {
	for i, k := range r.order {
		if k == key {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}

func (r *Runner) Get(key string) (*Job, bool) {
	j, ok := r.jobs[key]
	return j, ok
}

func (r *Runner) Has(key string) bool {
	_, ok := r.jobs[key]
	return ok
}

func (r *Runner) Len() int       { return len(r.jobs) }
func (r *Runner) Active() bool   { return r.active }
func (r *Runner) Stats() Stats   { return r.stats }
func (r *Runner) Keys() []string { return append([]string(nil), r.order...) }

// Tick runs one batch if the runner is active and the interval has elapsed.
func (r *Runner) Tick(now uint64) {
	r.now = now
	if !r.active || now < r.next {
		return
	}
	r.next = now + uint64(r.cfg.IntervalTicks)
	r.stats.Runs++

	for _, key := range r.Keys() {
		j := r.jobs[key]
		if j == nil {
			continue
		}
		chance := r.cfg.Chances.Chance(j.Direction, j.Climate)
		if chance <= 0 {
			// Can never fire; the anchor stays dormant until something re-scans it.
			r.Unregister(key)
			r.stats.Dropped++
			continue
		}
		r.stats.Rolls++
		if r.rng.Float64() > chance {
			continue
		}
		r.stats.Fired++
		if r.exec != nil {
			r.exec.Attempt(j)
		}
	}
}
