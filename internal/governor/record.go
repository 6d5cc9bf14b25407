package governor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// WorkerID identifies one outermost governed call chain.
type WorkerID uint64

// Record is the Budget Record of one worker. The owner (the goroutine that
// entered the outermost call) inserts and removes it; the worker goroutine
// running the hosted logic performs the phase transitions; the watchdog only
// reads clocks and may CAS RunningExternalCode → Aborted.
type Record struct {
	gov       *Governor
	worker    WorkerID
	sessionID string

	phase atomic.Int32
	wall  *stopwatch
	cpu   atomic.Pointer[stopwatch]
	born  time.Duration

	maxWall time.Duration
	maxCPU  time.Duration

	// reason is written once by the abort CAS winner before killed is closed.
	reason string
	killed chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	tid  atomic.Int64
	goid atomic.Uint64

	// prioMu orders the watchdog's priority change against the worker
	// handing its thread back. Once sealed the priority is never touched.
	prioMu  sync.Mutex
	sealed  bool
	lowered atomic.Bool
	slow    atomic.Bool
	inSweep atomic.Bool
}

// Phase returns the current phase.
func (r *Record) Phase() Phase {
	return Phase(r.phase.Load())
}

// SessionID returns the session this worker executes on behalf of.
func (r *Record) SessionID() string {
	return r.sessionID
}

// bind attaches the record to the pinned OS thread and goroutine that will run
// the hosted logic. It must run before the first transition to external code.
func (r *Record) bind(tid int, goid uint64) {
	r.tid.Store(int64(tid))
	r.goid.Store(goid)

	s := r.gov.cpuSampler
	if s == nil || tid <= 0 {
		return
	}
	if _, err := s.ThreadCPU(tid); err != nil {
		r.gov.logger.Debug("thread cpu time unavailable, enforcing the wall budget only",
			"worker", r.worker, "tid", tid, "error", err)
		return
	}
	r.cpu.Store(newStopwatch(func() time.Duration {
		d, err := s.ThreadCPU(tid)
		if err != nil {
			return 0
		}
		return d
	}))
}

// cpuTracked reports whether a per-thread CPU clock backs the CPU budget.
func (r *Record) cpuTracked() bool {
	return r.cpu.Load() != nil
}

func (r *Record) cpuElapsed() time.Duration {
	if c := r.cpu.Load(); c != nil {
		return c.Elapsed()
	}
	return 0
}

func (r *Record) startClocks() {
	r.wall.Start()
	if c := r.cpu.Load(); c != nil {
		c.Start()
	}
}

func (r *Record) stopClocks() {
	r.wall.Stop()
	if c := r.cpu.Load(); c != nil {
		c.Stop()
	}
}

// enterExternal moves RunningOurCode → AboutToRunExternalCode →
// RunningExternalCode, starting the clocks in between. If the first CAS fails
// the observed phase is adopted rather than retried; transitioned is false and
// cur holds what was observed.
func (r *Record) enterExternal() (transitioned bool, cur Phase) {
	if !r.phase.CompareAndSwap(int32(PhaseRunningOurCode), int32(PhaseAboutToRunExternalCode)) {
		cur = r.Phase()
		if cur != PhaseRunningExternalCode && cur != PhaseAboutToRunExternalCode && cur != PhaseAborted {
			r.gov.logger.Warn("could not change worker phase",
				"worker", r.worker, "want", PhaseAboutToRunExternalCode, "observed", cur, "expected", PhaseRunningOurCode)
		}
		return false, cur
	}

	r.startClocks()
	if !r.phase.CompareAndSwap(int32(PhaseAboutToRunExternalCode), int32(PhaseRunningExternalCode)) {
		cur = r.Phase()
		r.stopClocks()
		r.gov.logger.Warn("could not change worker phase",
			"worker", r.worker, "want", PhaseRunningExternalCode, "observed", cur, "expected", PhaseAboutToRunExternalCode)
		return false, cur
	}
	return true, PhaseRunningExternalCode
}

// leaveExternal moves RunningExternalCode → RunningOurCode and stops the
// clocks. On failure the observed phase is returned unchanged.
func (r *Record) leaveExternal() (transitioned bool, cur Phase) {
	if r.phase.CompareAndSwap(int32(PhaseRunningExternalCode), int32(PhaseRunningOurCode)) {
		r.stopClocks()
		return true, PhaseRunningOurCode
	}
	cur = r.Phase()
	if cur != PhaseRunningOurCode && cur != PhaseAborted {
		r.gov.logger.Warn("could not change worker phase",
			"worker", r.worker, "want", PhaseRunningOurCode, "observed", cur, "expected", PhaseRunningExternalCode)
	}
	return false, cur
}

// abort moves RunningExternalCode → Aborted. Only the CAS winner records the
// reason and preempts the worker.
func (r *Record) abort(reason string) bool {
	if !r.phase.CompareAndSwap(int32(PhaseRunningExternalCode), int32(PhaseAborted)) {
		return false
	}
	r.reason = reason
	close(r.killed)
	r.cancel()
	return true
}

// abortReason returns the reason once the abort has been published.
func (r *Record) abortReason() (string, bool) {
	select {
	case <-r.killed:
		return r.reason, true
	default:
		return "", false
	}
}

// dispose parks the record in OutOfScope unless it was aborted, and stops the
// clocks. Aborted stays visible to any goroutine still holding the record.
func (r *Record) dispose() {
	for {
		p := r.Phase()
		if p.Terminal() {
			break
		}
		if r.phase.CompareAndSwap(int32(p), int32(PhaseOutOfScope)) {
			break
		}
	}
	r.stopClocks()
	r.cancel()
}

// evaluate reports why the watchdog should act on this record now, if at all.
func (r *Record) evaluate(softLimit time.Duration) (slowReason, abortReason, verbose string) {
	wall := r.wall.Elapsed()
	if wall <= softLimit {
		return "", "", ""
	}
	slowReason = fmt.Sprintf("lowering priority of worker %d because it ran hosted logic for more than %d ms",
		r.worker, wall.Milliseconds())

	cpu := r.cpuElapsed()
	if (r.cpuTracked() && cpu > r.maxCPU) || wall > r.maxWall {
		abortReason = fmt.Sprintf("aborted because it ran for %d ms, which is more than allowed", wall.Milliseconds())
		verbose = fmt.Sprintf("aborting worker %d because it ran hosted logic for %d ms, used the cpu for %d ms and took %d ms in total",
			r.worker, wall.Milliseconds(), cpu.Milliseconds(), (r.gov.clock() - r.born).Milliseconds())
	}
	return slowReason, abortReason, verbose
}

// lowerPriority sets the worker thread's nice value once. It does nothing
// after seal.
func (r *Record) lowerPriority(sched Scheduler, nice int) (bool, error) {
	r.prioMu.Lock()
	defer r.prioMu.Unlock()
	if r.sealed || r.lowered.Load() {
		return false, nil
	}
	r.lowered.Store(true)
	return true, sched.SetPriority(int(r.tid.Load()), nice)
}

// seal forbids further priority changes and reports whether the priority was
// lowered. The worker calls it before handing its thread back.
func (r *Record) seal() bool {
	r.prioMu.Lock()
	defer r.prioMu.Unlock()
	r.sealed = true
	return r.lowered.Load()
}

// checkAbort delivers the termination signal to the calling goroutine when
// the record has been aborted. The bound worker goroutine never returns from
// it; any other goroutine gets true and must stop without running more
// hosted logic.
func (r *Record) checkAbort(cur Phase) bool {
	owner := goroutineID() == r.goid.Load()
	if !owner {
		r.gov.logger.Error("internal logic error: monitored goroutine is not the caller",
			"worker", r.worker, "monitored", r.goid.Load())
	}
	if cur != PhaseAborted {
		return false
	}
	if owner {
		exitAborted()
	}
	<-r.killed
	return true
}

// Snapshot is a point-in-time view of a Budget Record.
type Snapshot struct {
	Worker          WorkerID      `json:"worker"`
	SessionID       string        `json:"session_id"`
	Phase           string        `json:"phase"`
	Wall            time.Duration `json:"wall_ns"`
	CPU             time.Duration `json:"cpu_ns"`
	Total           time.Duration `json:"total_ns"`
	MaxWall         time.Duration `json:"max_wall_ns"`
	MaxCPU          time.Duration `json:"max_cpu_ns"`
	Slow            bool          `json:"slow"`
	PriorityLowered bool          `json:"priority_lowered"`
	AbortReason     string        `json:"abort_reason,omitempty"`
}

func (r *Record) snapshot() Snapshot {
	reason, _ := r.abortReason()
	return Snapshot{
		Worker:          r.worker,
		SessionID:       r.sessionID,
		Phase:           r.Phase().String(),
		Wall:            r.wall.Elapsed(),
		CPU:             r.cpuElapsed(),
		Total:           r.gov.clock() - r.born,
		MaxWall:         r.maxWall,
		MaxCPU:          r.maxCPU,
		Slow:            r.slow.Load(),
		PriorityLowered: r.lowered.Load(),
		AbortReason:     reason,
	}
}
