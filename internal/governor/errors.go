package governor

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"strconv"
	"strings"
)

// ErrWorkerExited is reported when hosted logic terminated its own goroutine
// (runtime.Goexit) instead of returning.
var ErrWorkerExited = errors.New("hosted logic exited its goroutine without returning")

// AbortError is returned by RunHostedLogic when the watchdog preempted the
// hosted logic for exceeding its budget.
type AbortError struct {
	SessionID string
	Reason    string
	// Cause is the error the hosted logic returned, if it returned at all.
	Cause error
	// HostedStack is the hosted goroutine's stack with the governor's own
	// frames removed.
	HostedStack string
}

func (e *AbortError) Error() string {
	msg := fmt.Sprintf("hosted logic for session %q %s", e.SessionID, e.Reason)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *AbortError) Unwrap() error {
	return e.Cause
}

// IsAbort reports whether err is, or wraps, an *AbortError.
func IsAbort(err error) bool {
	var ae *AbortError
	return errors.As(err, &ae)
}

type pkgMarker struct{}

var framePrefix = reflect.TypeOf(pkgMarker{}).PkgPath() + "."

// filterGovernorFrames drops function/location line pairs that belong to this
// package from a goroutine stack dump.
func filterGovernorFrames(stack string) string {
	lines := strings.Split(strings.TrimRight(stack, "\n"), "\n")
	out := make([]string, 0, len(lines))
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		if strings.HasPrefix(line, framePrefix) {
			if i+1 < len(lines) && strings.HasPrefix(lines[i+1], "\t") {
				i++
			}
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

// goroutineStack returns the stack dump of the goroutine with the given id,
// or "" if it is no longer running.
func goroutineStack(id uint64) string {
	if id == 0 {
		return ""
	}
	buf := make([]byte, 64<<10)
	for {
		n := runtime.Stack(buf, true)
		if n < len(buf) {
			buf = buf[:n]
			break
		}
		if len(buf) >= 16<<20 {
			break
		}
		buf = make([]byte, 2*len(buf))
	}

	header := []byte("goroutine " + strconv.FormatUint(id, 10) + " [")
	for block := range bytes.SplitSeq(buf, []byte("\n\n")) {
		if bytes.HasPrefix(block, header) {
			return string(block)
		}
	}
	return ""
}

// goroutineID parses the current goroutine id from its stack header.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] < '0' || buf[i] > '9' {
			break
		}
		id = id*10 + uint64(buf[i]-'0')
	}
	return id
}
