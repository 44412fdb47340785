package update

// State identifies where an update attempt is in its pipeline.
type State int

const (
	StateIdle State = iota
	StateChecking
	StateUpToDate
	StateUpdateAvailable
	StateDownloading
	StateVerifying
	StateBackingUp
	StateInstalling
	StateDone
	StateRolledBack
	StateFailed
)

// String returns the state name used in progress events and CLI output.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateChecking:
		return "checking"
	case StateUpToDate:
		return "up-to-date"
	case StateUpdateAvailable:
		return "update-available"
	case StateDownloading:
		return "downloading"
	case StateVerifying:
		return "verifying"
	case StateBackingUp:
		return "backing-up"
	case StateInstalling:
		return "installing"
	case StateDone:
		return "done"
	case StateRolledBack:
		return "rolled-back"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the pipeline stops in this state.
func (s State) Terminal() bool {
	switch s {
	case StateUpToDate, StateDone, StateRolledBack, StateFailed:
		return true
	default:
		return false
	}
}
