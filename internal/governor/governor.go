package governor

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

const (
	// maxConcurrentSweeps caps watchdog sweeps running at the same time.
	maxConcurrentSweeps = 5

	cpuBudgetFactor  = 3
	wallBudgetFactor = 10

	slowReportInterval = 10 * time.Second
)

// exitAborted terminates the calling goroutine after its record was aborted.
var exitAborted = runtime.Goexit

// Config configures a Governor. A SoftLimit of zero or less disables all
// governance: hosted logic is then called directly.
type Config struct {
	SoftLimit time.Duration
}

// Option customises a Governor.
type Option func(*Governor)

// WithScheduler replaces the OS thread scheduler.
func WithScheduler(s Scheduler) Option {
	return func(g *Governor) { g.sched = s }
}

// WithCPUSampler replaces the per-thread CPU time source. With a nil sampler
// only the wall budget is enforced.
func WithCPUSampler(s CPUSampler) Option {
	return func(g *Governor) { g.cpuSampler = s }
}

// WithClock replaces the monotonic wall clock.
func WithClock(now func() time.Duration) Option {
	return func(g *Governor) { g.clock = now }
}

// CallOption customises one outermost governed call.
type CallOption func(*callOptions)

type callOptions struct {
	wallBudget time.Duration
}

// WithWallBudget replaces both the wall and CPU budgets of the outermost call
// with d. It has no effect on re-entrant calls.
func WithWallBudget(d time.Duration) CallOption {
	return func(o *callOptions) { o.wallBudget = d }
}

// Governor supervises every call into hosted logic.
type Governor struct {
	softLimit   time.Duration
	cpuBudget   time.Duration
	wallBudget  time.Duration
	logger      *slog.Logger
	sched       Scheduler
	cpuSampler  CPUSampler
	clock       func() time.Duration
	records     sync.Map // WorkerID → *Record
	nextWorker  atomic.Uint64
	aborts      atomic.Int64
	inFlight    atomic.Int32
	skipped     atomic.Int64
	skippedLast atomic.Int64
	slowReport  rate.Sometimes
	wg          sync.WaitGroup
}

// New creates a Governor. Budgets derive from the soft limit: CPU 3× and wall
// 10×; the watchdog period equals the soft limit.
func New(cfg Config, logger *slog.Logger, opts ...Option) *Governor {
	g := &Governor{
		softLimit:  cfg.SoftLimit,
		cpuBudget:  cpuBudgetFactor * cfg.SoftLimit,
		wallBudget: wallBudgetFactor * cfg.SoftLimit,
		logger:     logger,
		sched:      defaultScheduler(),
		cpuSampler: defaultCPUSampler(),
		clock:      monotonicNow,
		slowReport: rate.Sometimes{Interval: slowReportInterval},
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.sched == nil {
		g.sched = noopScheduler{}
	}
	if g.Enabled() && g.cpuSampler == nil {
		g.logger.Warn("per-thread cpu time is unavailable, enforcing the wall budget only",
			"wall_budget_ms", g.wallBudget.Milliseconds())
	}
	return g
}

// Enabled reports whether budgets are enforced.
func (g *Governor) Enabled() bool {
	return g.softLimit > 0
}

// SoftLimit returns the configured soft limit.
func (g *Governor) SoftLimit() time.Duration {
	return g.softLimit
}

// AbortCount returns the number of forced terminations since the last reset.
func (g *Governor) AbortCount() int64 {
	return g.aborts.Load()
}

// ResetAbortCount zeroes the abort counter and returns its previous value.
func (g *Governor) ResetAbortCount() int64 {
	return g.aborts.Swap(0)
}

type recordKey struct{}

// recordFrom returns the live record of g carried by ctx, if any. A record is
// only returned to the goroutine it is bound to: other goroutines holding the
// ctx run ungoverned and cannot change its phase.
func (g *Governor) recordFrom(ctx context.Context) *Record {
	r, _ := ctx.Value(recordKey{}).(*Record)
	if r == nil || r.gov != g || r.Phase() == PhaseOutOfScope {
		return nil
	}
	if goroutineID() != r.goid.Load() {
		return nil
	}
	return r
}

// RunHostedLogic runs work under the budget of sessionID. The first governed
// call of a chain creates a Budget Record and runs work on a dedicated,
// thread-pinned goroutine; calls made on that goroutine with a ctx derived
// from it reuse the record. Errors from work are returned unchanged and panics are re-raised
// after cleanup. If the watchdog preempts the call, an *AbortError is
// returned as soon as the preemption happens.
func (g *Governor) RunHostedLogic(ctx context.Context, sessionID string, work func(context.Context) error, opts ...CallOption) error {
	if !g.Enabled() {
		return work(ctx)
	}
	if r := g.recordFrom(ctx); r != nil {
		return g.runNested(ctx, r, work)
	}
	return g.runOutermost(ctx, sessionID, work, opts)
}

// RunHosted is RunHostedLogic for work that produces a value.
func RunHosted[T any](ctx context.Context, g *Governor, sessionID string, work func(context.Context) (T, error), opts ...CallOption) (T, error) {
	result := make(chan T, 1)
	err := g.RunHostedLogic(ctx, sessionID, func(ctx context.Context) error {
		v, err := work(ctx)
		if err == nil {
			result <- v
		}
		return err
	}, opts...)

	var v T
	if err == nil {
		select {
		case v = <-result:
		default:
		}
	}
	return v, err
}

func (g *Governor) newRecord(ctx context.Context, sessionID string, co callOptions) *Record {
	r := &Record{
		gov:       g,
		worker:    WorkerID(g.nextWorker.Add(1)),
		sessionID: sessionID,
		wall:      newStopwatch(g.clock),
		born:      g.clock(),
		maxWall:   g.wallBudget,
		maxCPU:    g.cpuBudget,
		killed:    make(chan struct{}),
	}
	if co.wallBudget > 0 {
		r.maxWall = co.wallBudget
		r.maxCPU = co.wallBudget
	}
	r.ctx, r.cancel = context.WithCancel(context.WithValue(ctx, recordKey{}, r))
	return r
}

type outcome struct {
	err        error
	aborted    bool
	panicked   bool
	panicValue any
	stack      string
}

func (g *Governor) runOutermost(ctx context.Context, sessionID string, work func(context.Context) error, opts []CallOption) error {
	var co callOptions
	for _, opt := range opts {
		opt(&co)
	}

	r := g.newRecord(ctx, sessionID, co)
	if _, loaded := g.records.LoadOrStore(r.worker, r); loaded {
		g.logger.Error("internal logic error: worker already registered", "worker", r.worker)
	} else {
		trackedWorkers.Inc()
	}

	start := time.Now()
	defer func() {
		if g.records.CompareAndDelete(r.worker, r) {
			trackedWorkers.Dec()
		} else {
			g.logger.Error("internal logic error: could not remove budget record", "worker", r.worker, "session_id", sessionID)
		}
		r.dispose()
		hostedCallSeconds.Observe(time.Since(start).Seconds())
	}()

	done := make(chan outcome, 1)
	go g.execute(r, work, done)

	select {
	case out := <-done:
		if out.aborted {
			<-r.killed
			return g.abortError(r, out.err, out.stack)
		}
		if out.panicked {
			panic(out.panicValue)
		}
		return out.err
	case <-r.killed:
		return g.abortError(r, nil, filterGovernorFrames(goroutineStack(r.goid.Load())))
	}
}

func (g *Governor) abortError(r *Record, cause error, stack string) error {
	g.logger.Info("intercepted preempted hosted call",
		"worker", r.worker, "session_id", r.sessionID, "reason", r.reason)
	return &AbortError{
		SessionID:   r.sessionID,
		Reason:      r.reason,
		Cause:       cause,
		HostedStack: stack,
	}
}

// execute runs on the dedicated goroutine. The OS thread is only handed back
// to the Go scheduler when the call was not preempted and its priority is
// known to be restored; otherwise the thread dies with the goroutine.
func (g *Governor) execute(r *Record, work func(context.Context) error, done chan<- outcome) {
	runtime.LockOSThread()

	var out outcome
	defer func() { done <- out }()

	tid := g.sched.ThreadID()
	r.bind(tid, goroutineID())
	base, baseErr := g.sched.Priority(tid)

	defer func() {
		lowered := r.seal()
		if r.Phase() == PhaseAborted {
			return
		}
		if lowered {
			if baseErr != nil {
				return
			}
			if err := g.sched.SetPriority(tid, base); err != nil {
				g.logger.Debug("restore thread priority", "worker", r.worker, "error", err)
				return
			}
		}
		runtime.UnlockOSThread()
	}()

	out = g.invoke(r, work)
}

func (g *Governor) invoke(r *Record, work func(context.Context) error) (out outcome) {
	transitioned, cur := r.enterExternal()
	if cur == PhaseAborted {
		out.aborted = true
		return out
	}

	returned := false
	defer func() {
		v := recover()
		if transitioned {
			_, cur = r.leaveExternal()
		}
		aborted := cur == PhaseAborted || r.Phase() == PhaseAborted

		switch {
		case v != nil && aborted:
			out.err = fmt.Errorf("hosted logic panicked: %v", v)
			out.stack = filterGovernorFrames(string(debug.Stack()))
		case v != nil:
			out.panicked = true
			out.panicValue = v
			out.stack = filterGovernorFrames(string(debug.Stack()))
		case !returned && !aborted:
			out.err = ErrWorkerExited
		}
		out.aborted = aborted
	}()

	out.err = work(r.ctx)
	returned = true
	return out
}

func (g *Governor) runNested(ctx context.Context, r *Record, work func(context.Context) error) error {
	transitioned, cur := r.enterExternal()
	if r.checkAbort(cur) {
		return g.abortError(r, nil, "")
	}

	var err error
	func() {
		defer func() {
			if transitioned {
				_, cur = r.leaveExternal()
			}
		}()
		err = work(ctx)
	}()

	if r.checkAbort(cur) {
		return g.abortError(r, err, "")
	}
	return err
}

// PauseToRunOurCode runs trusted host code from inside hosted logic without
// charging the interval to the hosted budget. Outside a governed call, and
// when already paused, fn simply runs. Goroutines started by hosted logic are
// not governed and cannot pause the worker.
func (g *Governor) PauseToRunOurCode(ctx context.Context, fn func() error) error {
	if !g.Enabled() {
		return fn()
	}
	r := g.recordFrom(ctx)
	if r == nil {
		return fn()
	}

	g.act(r)
	transitioned, cur := r.leaveExternal()
	if !transitioned && cur == PhaseRunningOurCode {
		return fn()
	}
	if r.checkAbort(cur) {
		return g.abortError(r, nil, "")
	}

	var err error
	func() {
		defer func() {
			if transitioned {
				_, cur = r.enterExternal()
			}
		}()
		err = fn()
	}()

	if r.checkAbort(cur) {
		return g.abortError(r, err, "")
	}
	return err
}

// Pause is PauseToRunOurCode for trusted code that produces a value.
func Pause[T any](ctx context.Context, g *Governor, fn func() (T, error)) (T, error) {
	var v T
	err := g.PauseToRunOurCode(ctx, func() error {
		var err error
		v, err = fn()
		return err
	})
	return v, err
}

// AbortSession preempts every worker currently running hosted logic for
// sessionID and returns how many were aborted.
func (g *Governor) AbortSession(sessionID, reason string) int {
	n := 0
	g.records.Range(func(_, v any) bool {
		r := v.(*Record)
		if r.sessionID == sessionID && r.abort(reason) {
			n++
			g.aborts.Add(1)
			abortsTotal.Inc()
			g.logger.Warn("aborting worker on host request", "worker", r.worker, "session_id", sessionID, "reason", reason)
		}
		return true
	})
	return n
}

// Diagnostics is an operational view of the governor.
type Diagnostics struct {
	Enabled        bool          `json:"enabled"`
	SoftLimit      time.Duration `json:"soft_limit_ns"`
	TrackedWorkers int           `json:"tracked_workers"`
	SweepsInFlight int32         `json:"sweeps_in_flight"`
	SkippedSweeps  int64         `json:"skipped_sweeps"`
	Aborts         int64         `json:"aborts"`
	Slow           []Snapshot    `json:"slow"`
}

// Diagnostics returns the current tracked-worker count, the slow workers and
// the sweep counters.
func (g *Governor) Diagnostics() Diagnostics {
	d := Diagnostics{
		Enabled:        g.Enabled(),
		SoftLimit:      g.softLimit,
		SweepsInFlight: g.inFlight.Load(),
		SkippedSweeps:  g.skipped.Load(),
		Aborts:         g.aborts.Load(),
		Slow:           []Snapshot{},
	}
	g.records.Range(func(_, v any) bool {
		r := v.(*Record)
		d.TrackedWorkers++
		if r.slow.Load() {
			d.Slow = append(d.Slow, r.snapshot())
		}
		return true
	})
	return d
}
