package governor

// Phase is the execution phase of a Budget Record.
type Phase int32

// Legal cycle: RunningOurCode → AboutToRunExternalCode → RunningExternalCode →
// RunningOurCode. The watchdog may move RunningExternalCode → Aborted, and a
// disposed record is parked in OutOfScope. Aborted and OutOfScope are terminal.
const (
	PhaseRunningOurCode Phase = iota
	PhaseAboutToRunExternalCode
	PhaseRunningExternalCode
	PhaseAborted
	PhaseOutOfScope
)

func (p Phase) String() string {
	switch p {
	case PhaseRunningOurCode:
		return "running_our_code"
	case PhaseAboutToRunExternalCode:
		return "about_to_run_external_code"
	case PhaseRunningExternalCode:
		return "running_external_code"
	case PhaseAborted:
		return "aborted"
	case PhaseOutOfScope:
		return "out_of_scope"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition may leave p.
func (p Phase) Terminal() bool {
	return p == PhaseAborted || p == PhaseOutOfScope
}
