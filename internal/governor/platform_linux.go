//go:build linux

package governor

import (
	"time"

	"github.com/prometheus/procfs"
	"golang.org/x/sys/unix"
)

type threadScheduler struct{}

func defaultScheduler() Scheduler { return threadScheduler{} }

func (threadScheduler) ThreadID() int { return unix.Gettid() }

func (threadScheduler) Priority(tid int) (int, error) {
	// The raw syscall reports 20-nice so that the result is never negative.
	p, err := unix.Getpriority(unix.PRIO_PROCESS, tid)
	if err != nil {
		return 0, err
	}
	return 20 - p, nil
}

func (threadScheduler) SetPriority(tid, nice int) error {
	return unix.Setpriority(unix.PRIO_PROCESS, tid, nice)
}

// procfsSampler reads per-thread user+system time from /proc/self/task/<tid>/stat.
type procfsSampler struct {
	self procfs.Proc
}

func defaultCPUSampler() CPUSampler {
	self, err := procfs.Self()
	if err != nil {
		return nil
	}
	return procfsSampler{self: self}
}

func (s procfsSampler) ThreadCPU(tid int) (time.Duration, error) {
	thread, err := s.self.Thread(tid)
	if err != nil {
		return 0, err
	}
	stat, err := thread.Stat()
	if err != nil {
		return 0, err
	}
	return time.Duration(stat.CPUTime() * float64(time.Second)), nil
}
