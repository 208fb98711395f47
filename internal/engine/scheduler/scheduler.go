// Package scheduler executes a unit graph with bounded parallelism.
// Units become ready when every dependency succeeded, are checked for
// freshness at dispatch, and run under a job token. Diagnostics of each
// unit are buffered and flushed contiguously on completion.
package scheduler

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"

	"go.trai.ch/zerr"

	"freight.build/freight/internal/core/domain"
	"freight.build/freight/internal/core/ports"
)

// Slots bounds the number of concurrently running units. The jobserver
// pool satisfies it.
type Slots interface {
	// Slot blocks until an execution slot is free and returns its
	// release function.
	Slot(ctx context.Context) (func(), error)
}

// Outputs maps completed build script runs to their parsed directives.
type Outputs map[*domain.Unit]*domain.BuildOutput

// Runner executes one unit once its dependencies are satisfied.
type Runner interface {
	// Fresh reports whether the unit's artifacts can be reused as is.
	// It is consulted only after every dependency completed, and never
	// when a dependency was rebuilt in this run.
	Fresh(u *domain.Unit) bool

	// Execute builds the unit, or replays its persisted output when
	// fresh. deps holds the outputs of completed dependencies that
	// produced any; diagnostics go to diag.
	Execute(ctx context.Context, u *domain.Unit, fresh bool, deps Outputs, diag io.Writer) (*domain.BuildOutput, error)
}

// Status is the lifecycle state of one unit during a run.
type Status uint8

const (
	StatusPending Status = iota
	StatusReady
	StatusRunning
	StatusSucceeded
	StatusFailed
	StatusCancelled
)

// String returns the status name for logs.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusReady:
		return "ready"
	case StatusRunning:
		return "running"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Summary counts the outcome of a run.
type Summary struct {
	// Built is the number of units that were executed.
	Built int

	// Fresh is the number of units reused without execution.
	Fresh int

	// Failed is the number of units whose execution failed.
	Failed int

	// Cancelled is the number of units skipped because a dependency
	// failed.
	Cancelled int
}

// Scheduler drives unit execution.
type Scheduler struct {
	runner    Runner
	slots     Slots
	logger    ports.Logger
	tracer    ports.Tracer
	sink      io.Writer
	keepGoing bool
}

// Option configures the scheduler.
type Option func(*Scheduler)

// WithKeepGoing keeps building units unaffected by a failure instead of
// stopping at the first failed unit.
func WithKeepGoing(enabled bool) Option {
	return func(s *Scheduler) { s.keepGoing = enabled }
}

// WithDiagnosticsSink redirects compiler diagnostics, default stderr.
func WithDiagnosticsSink(w io.Writer) Option {
	return func(s *Scheduler) { s.sink = w }
}

// New creates a scheduler running units through runner, bounded by slots.
func New(runner Runner, slots Slots, logger ports.Logger, tracer ports.Tracer, opts ...Option) *Scheduler {
	s := &Scheduler{
		runner: runner,
		slots:  slots,
		logger: logger,
		tracer: tracer,
		sink:   os.Stderr,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run executes the graph. The first failure stops dispatch of new units
// while in-flight units drain; dependents of a failed unit are cancelled
// either way. The returned error joins every unit failure.
func (s *Scheduler) Run(ctx context.Context, g *domain.UnitGraph) (Summary, error) {
	units := g.Units()
	names := make([]string, len(units))
	for i, u := range units {
		names[i] = u.String()
	}
	ctx, span := s.tracer.Start(ctx, "Executing build plan",
		ports.WithAttribute("units", len(units)))
	defer span.End()
	s.tracer.EmitPlan(ctx, names)

	state := s.newRunState(g, units)
	summary, err := state.loop(ctx)
	if err != nil {
		span.RecordError(err)
	}
	return summary, err
}

type result struct {
	unit *domain.Unit
	out  *domain.BuildOutput
	err  error
	diag *bytes.Buffer
}

type runState struct {
	s *Scheduler

	status     map[*domain.Unit]Status
	inDegree   map[*domain.Unit]int
	deps       map[*domain.Unit][]domain.UnitDep
	dependents map[*domain.Unit][]*domain.Unit
	ready      []*domain.Unit
	outputs    Outputs
	rebuilt    map[*domain.Unit]bool

	active  int
	results chan result
	halted  bool
	errs    error
	summary Summary
}

func (s *Scheduler) newRunState(g *domain.UnitGraph, units []*domain.Unit) *runState {
	state := &runState{
		s:          s,
		status:     make(map[*domain.Unit]Status, len(units)),
		inDegree:   make(map[*domain.Unit]int, len(units)),
		deps:       make(map[*domain.Unit][]domain.UnitDep, len(units)),
		dependents: make(map[*domain.Unit][]*domain.Unit),
		outputs:    make(Outputs),
		rebuilt:    make(map[*domain.Unit]bool),
		results:    make(chan result),
	}
	for _, u := range units {
		edges := g.DepsOf(u)
		state.status[u] = StatusPending
		state.inDegree[u] = len(edges)
		state.deps[u] = edges
		for _, d := range edges {
			state.dependents[d.Unit] = append(state.dependents[d.Unit], u)
		}
		if len(edges) == 0 {
			state.markReady(u)
		}
	}
	return state
}

func (st *runState) markReady(u *domain.Unit) {
	st.status[u] = StatusReady
	st.ready = append(st.ready, u)
}

func (st *runState) loop(ctx context.Context) (Summary, error) {
	st.dispatch(ctx)
	for st.active > 0 {
		res := <-st.results
		st.finish(res)
		st.dispatch(ctx)
	}
	if ctx.Err() != nil {
		st.errs = errors.Join(st.errs, ctx.Err())
	}
	return st.summary, st.errs
}

// dispatch moves ready units forward. Fresh units complete immediately
// without consuming a slot; the rest run on worker goroutines that block
// on slot acquisition, so actual parallelism is bounded by the pool.
func (st *runState) dispatch(ctx context.Context) {
	for len(st.ready) > 0 && !st.halted && ctx.Err() == nil {
		u := st.ready[0]
		st.ready = st.ready[1:]
		if st.status[u] != StatusReady {
			continue
		}

		deps := st.depOutputs(u)
		if !st.depsRebuilt(u) && st.s.runner.Fresh(u) {
			var diag bytes.Buffer
			out, err := st.s.runner.Execute(ctx, u, true, deps, &diag)
			st.flush(&diag)
			if err != nil {
				st.fail(u, err)
				continue
			}
			st.s.logger.Verbose("Fresh", u.String())
			st.summary.Fresh++
			st.succeed(u, out)
			continue
		}

		st.status[u] = StatusRunning
		st.active++
		go st.execute(ctx, u, deps)
	}
}

func (st *runState) execute(ctx context.Context, u *domain.Unit, deps Outputs) {
	var diag bytes.Buffer
	release, err := st.s.slots.Slot(ctx)
	if err != nil {
		st.results <- result{unit: u, err: err, diag: &diag}
		return
	}
	defer release()

	out, err := st.s.runner.Execute(ctx, u, false, deps, &diag)
	st.results <- result{unit: u, out: out, err: err, diag: &diag}
}

// depsRebuilt reports whether any dependency was executed in this run. A
// rebuilt dependency invalidates the unit regardless of its own
// fingerprint.
func (st *runState) depsRebuilt(u *domain.Unit) bool {
	for _, d := range st.deps[u] {
		if st.rebuilt[d.Unit] {
			return true
		}
	}
	return false
}

// depOutputs snapshots the outputs of the unit's completed dependencies.
func (st *runState) depOutputs(u *domain.Unit) Outputs {
	var deps Outputs
	for _, d := range st.deps[u] {
		if out, ok := st.outputs[d.Unit]; ok {
			if deps == nil {
				deps = make(Outputs)
			}
			deps[d.Unit] = out
		}
	}
	return deps
}

func (st *runState) finish(res result) {
	st.active--
	st.flush(res.diag)
	if res.err != nil {
		st.fail(res.unit, res.err)
		return
	}
	st.summary.Built++
	st.rebuilt[res.unit] = true
	st.succeed(res.unit, res.out)
}

func (st *runState) succeed(u *domain.Unit, out *domain.BuildOutput) {
	st.status[u] = StatusSucceeded
	if out != nil {
		st.outputs[u] = out
	}
	for _, dep := range st.dependents[u] {
		st.inDegree[dep]--
		if st.inDegree[dep] == 0 && st.status[dep] == StatusPending {
			st.markReady(dep)
		}
	}
}

func (st *runState) fail(u *domain.Unit, err error) {
	st.status[u] = StatusFailed
	st.summary.Failed++
	st.errs = errors.Join(st.errs, zerr.With(err, "unit", u.String()))
	st.cancelDependents(u)
	if !st.s.keepGoing {
		st.halted = true
	}
}

// cancelDependents marks the transitive dependents of a failed unit, so
// their cancellation notes appear right after the failure's diagnostics.
func (st *runState) cancelDependents(u *domain.Unit) {
	for _, dep := range st.dependents[u] {
		switch st.status[dep] {
		case StatusPending, StatusReady:
			st.status[dep] = StatusCancelled
			st.summary.Cancelled++
			st.s.logger.Verbose("Cancelled", dep.String()+" (dependency failed)")
			st.cancelDependents(dep)
		}
	}
}

func (st *runState) flush(diag *bytes.Buffer) {
	if diag.Len() == 0 {
		return
	}
	_, _ = io.Copy(st.s.sink, diag)
}
