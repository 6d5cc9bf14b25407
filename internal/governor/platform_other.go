//go:build !linux

package governor

func defaultScheduler() Scheduler { return noopScheduler{} }

// Without a per-thread CPU source the CPU clock falls back to wall time.
func defaultCPUSampler() CPUSampler { return nil }
