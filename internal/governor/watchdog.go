package governor

import (
	"context"
	"time"
)

// Run drives the watchdog until ctx is cancelled. Each tick starts a sweep on
// its own goroutine, so a slow sweep never delays the next one; sweeps beyond
// maxConcurrentSweeps are skipped instead.
func (g *Governor) Run(ctx context.Context) error {
	if !g.Enabled() {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(g.softLimit)
	defer ticker.Stop()
	defer g.wg.Wait()

	g.logger.Info("governor watchdog started",
		"soft_limit_ms", g.softLimit.Milliseconds(),
		"cpu_budget_ms", g.cpuBudget.Milliseconds(),
		"wall_budget_ms", g.wallBudget.Milliseconds(),
	)

	for {
		select {
		case <-ctx.Done():
			g.logger.Info("governor watchdog stopped")
			return nil
		case <-ticker.C:
			g.wg.Go(g.sweep)
		}
	}
}

func (g *Governor) sweep() {
	// Owners remove their record before disposing it, so an OutOfScope
	// record here means that contract was broken somewhere.
	g.records.Range(func(k, v any) bool {
		r := v.(*Record)
		if r.Phase() == PhaseOutOfScope && g.records.CompareAndDelete(k, r) {
			trackedWorkers.Dec()
			g.logger.Error("internal logic error: holding record of a finished worker", "worker", r.worker)
			r.dispose()
		}
		return true
	})

	if g.inFlight.Add(1) > maxConcurrentSweeps {
		g.skipped.Add(1)
		g.skippedLast.Add(1)
		skippedSweepsTotal.Inc()
	} else {
		slow := 0
		g.records.Range(func(_, v any) bool {
			r := v.(*Record)
			r.inSweep.Store(true)
			g.act(r)
			r.inSweep.Store(false)
			if r.slow.Load() {
				slow++
			}
			return true
		})
		slowWorkers.Set(float64(slow))
	}
	g.inFlight.Add(-1)

	g.slowReport.Do(g.reportSlow)
}

// act lowers the priority of a worker past the soft limit and aborts it when
// it is past its hard budget. Losing the abort CAS is not an error.
func (g *Governor) act(r *Record) {
	slowReason, abortReason, verbose := r.evaluate(g.softLimit)

	if abortReason != "" && r.abort(abortReason) {
		g.aborts.Add(1)
		abortsTotal.Inc()
		g.logger.Warn(verbose, "worker", r.worker, "session_id", r.sessionID)
		g.logger.Info("worker preempted", "worker", r.worker, "session_id", r.sessionID)
	}

	if slowReason == "" {
		return
	}
	r.slow.Store(true)
	if r.Phase() == PhaseOutOfScope {
		return
	}
	lowered, err := r.lowerPriority(g.sched, belowNormalNice)
	if err != nil {
		g.logger.Debug("lower thread priority", "worker", r.worker, "tid", r.tid.Load(), "error", err)
	}
	if lowered {
		g.logger.Warn(slowReason, "worker", r.worker, "session_id", r.sessionID)
	}
}

// reportSlow summarises slow workers and skipped sweeps. It is rate limited by
// the caller.
func (g *Governor) reportSlow() {
	skipped := g.skippedLast.Swap(0)
	var slow []Snapshot
	g.records.Range(func(_, v any) bool {
		if r := v.(*Record); r.slow.Load() {
			slow = append(slow, r.snapshot())
		}
		return true
	})
	if skipped == 0 && len(slow) == 0 {
		return
	}

	if skipped > 0 {
		g.logger.Error("watchdog skipped sweeps because too many were running at the same time",
			"skipped", skipped, "max_concurrent", maxConcurrentSweeps)
	}
	for _, s := range slow {
		g.logger.Warn("slow hosted session",
			"session_id", s.SessionID,
			"worker", s.Worker,
			"phase", s.Phase,
			"cpu_ms", s.CPU.Milliseconds(),
			"wall_ms", s.Wall.Milliseconds(),
			"total_ms", s.Total.Milliseconds(),
			"abort_reason", s.AbortReason,
		)
	}
}
