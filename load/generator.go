package load

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync"
	"time"

	"github.com/PeladoCollado/cpuload/metrics"
	"github.com/PeladoCollado/cpuload/server/logger"
	"github.com/PeladoCollado/cpuload/types"
)

const (
	DefaultIterations = 30
	DefaultInterval   = time.Second

	// how many square roots to compute between cancellation checks
	spinBatch = 1024
)

var ErrCanceled = errors.New("load session canceled")

// spinOperand is a variable so the compiler cannot fold the busy computation away.
var spinOperand = float64(64 * 64 * 64 * 64 * 64)

type Config struct {
	Iterations int
	Interval   time.Duration
	// Workers is the number of goroutines per session. Zero means one per logical CPU,
	// sampled when the session is planned.
	Workers int
	// Clamp bounds utilization to [0,100]. When false, values above 100 keep every
	// busy phase running past the interval.
	Clamp bool
}

func DefaultConfig() Config {
	return Config{
		Iterations: DefaultIterations,
		Interval:   DefaultInterval,
		Clamp:      true,
	}
}

// Plan is the fixed shape of one load session.
type Plan struct {
	RequestedUtilization int
	Utilization          int
	Workers              int
	Iterations           int
	Interval             time.Duration
}

func (p Plan) Clamped() bool {
	return p.RequestedUtilization != p.Utilization
}

// Busy is the part of each interval a worker spends computing.
func (p Plan) Busy() time.Duration {
	return time.Duration(float64(p.Utilization) / 100.0 * float64(p.Interval))
}

// Idle is the sleep that follows each busy phase. It is never negative.
func (p Plan) Idle() time.Duration {
	idle := p.Interval - p.Busy()
	if idle < 0 {
		return 0
	}
	return idle
}

type Result struct {
	Plan
	StartedAt time.Time
	Elapsed   time.Duration
	Canceled  bool
}

func (r Result) Report(id string) types.SessionReport {
	return types.SessionReport{
		ID:                   id,
		RequestedUtilization: r.RequestedUtilization,
		Utilization:          r.Utilization,
		Workers:              r.Workers,
		Iterations:           r.Iterations,
		StartedAt:            r.StartedAt,
		ElapsedSeconds:       r.Elapsed.Seconds(),
		Canceled:             r.Canceled,
	}
}

type Generator struct {
	cfg       Config
	collector metrics.LoadCollector
}

func NewGenerator(cfg Config, collector metrics.LoadCollector) *Generator {
	if cfg.Iterations <= 0 {
		cfg.Iterations = DefaultIterations
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if collector == nil {
		collector = metrics.Noop()
	}
	return &Generator{cfg: cfg, collector: collector}
}

func (g *Generator) Plan(utilization int) Plan {
	workers := g.cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	applied := utilization
	if g.cfg.Clamp {
		applied = types.ClampUtilization(utilization)
		if applied != utilization {
			logger.Logger.Warnw("Clamping utilization to supported range",
				"requested", utilization, "applied", applied)
		}
	}
	return Plan{
		RequestedUtilization: utilization,
		Utilization:          applied,
		Workers:              workers,
		Iterations:           g.cfg.Iterations,
		Interval:             g.cfg.Interval,
	}
}

func (g *Generator) Run(ctx context.Context, id string, utilization int) (Result, error) {
	return g.Execute(ctx, id, g.Plan(utilization))
}

// Execute starts one worker per planned slot and blocks until every worker has returned.
func (g *Generator) Execute(ctx context.Context, id string, plan Plan) (Result, error) {
	logger.Logger.Infow("Starting load session",
		"session", id, "utilization", plan.Utilization, "workers", plan.Workers,
		"iterations", plan.Iterations, "interval", plan.Interval)
	g.collector.SessionStarted(plan.Utilization, plan.Workers)

	start := time.Now()
	errs := make([]error, plan.Workers)
	var wg sync.WaitGroup
	wg.Add(plan.Workers)
	for w := 0; w < plan.Workers; w++ {
		go func(worker int) {
			defer wg.Done()
			errs[worker] = g.generateLoad(ctx, id, worker, plan)
		}(w)
	}
	wg.Wait()

	result := Result{Plan: plan, StartedAt: start, Elapsed: time.Since(start)}
	err := errors.Join(errs...)
	result.Canceled = err != nil
	g.collector.SessionFinished(metrics.SessionEvent{
		Utilization: plan.Utilization,
		Workers:     plan.Workers,
		Duration:    result.Elapsed,
		Canceled:    result.Canceled,
	})
	logger.Logger.Infow("Finished load session",
		"session", id, "elapsed", result.Elapsed, "canceled", result.Canceled)

	if err != nil {
		return result, fmt.Errorf("%w after %s: %w", ErrCanceled, result.Elapsed, ctx.Err())
	}
	return result, nil
}

// generateLoad alternates a busy phase and a sleep phase once per interval. The reference
// start advances by exactly one interval per iteration, so an overshoot in one iteration
// shortens the next busy phase instead of shifting the schedule.
func (g *Generator) generateLoad(ctx context.Context, id string, worker int, plan Plan) error {
	busy := plan.Busy()
	idle := plan.Idle()
	reference := time.Now()
	for i := 0; i < plan.Iterations; i++ {
		logger.Logger.Debugw("About to do some arithmetic", "session", id, "worker", worker, "iteration", i)
		busyStart := time.Now()
		if err := spin(ctx, reference.Add(busy)); err != nil {
			return err
		}
		busySpent := time.Since(busyStart)

		logger.Logger.Debugw("About to sleep", "session", id, "worker", worker, "iteration", i)
		if err := pause(ctx, idle); err != nil {
			return err
		}
		g.collector.WorkerIteration(metrics.IterationEvent{Busy: busySpent, Idle: idle})
		reference = reference.Add(plan.Interval)
	}
	return nil
}

func spin(ctx context.Context, deadline time.Time) error {
	var acc float64
	for n := 0; time.Now().Before(deadline); n++ {
		acc += math.Sqrt(spinOperand)
		if n%spinBatch == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
	}
	runtime.KeepAlive(acc)
	return ctx.Err()
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
