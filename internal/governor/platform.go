package governor

import "time"

// Scheduler reads and changes OS thread scheduling priority. Priorities are
// nice values: larger means less CPU share.
type Scheduler interface {
	// ThreadID returns the id of the calling OS thread.
	ThreadID() int
	Priority(tid int) (int, error)
	SetPriority(tid, nice int) error
}

// CPUSampler reports the cumulative CPU time consumed by one OS thread.
type CPUSampler interface {
	ThreadCPU(tid int) (time.Duration, error)
}

// belowNormalNice is applied to threads that exceed the soft limit.
const belowNormalNice = 5

type noopScheduler struct{}

func (noopScheduler) ThreadID() int { return 0 }

func (noopScheduler) Priority(int) (int, error) { return 0, nil }

func (noopScheduler) SetPriority(int, int) error { return nil }
