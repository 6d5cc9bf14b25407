// Package governor bounds the CPU and wall-clock time spent inside hosted
// session logic. Every call into hosted logic goes through a Governor, which
// keeps one Budget Record per worker, flips its phase with compare-and-swap as
// control crosses between host code and hosted code, and runs a watchdog that
// lowers the priority of slow workers and preempts those that exceed their
// hard budget.
//
// A preempted call returns an *AbortError to its caller immediately. The
// goroutine that was running the hosted logic is pinned to its OS thread and
// is never resumed by the host; the thread is discarded when it exits.
package governor
