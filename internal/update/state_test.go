package update

import "testing"

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateIdle, "idle"},
		{StateChecking, "checking"},
		{StateUpToDate, "up-to-date"},
		{StateUpdateAvailable, "update-available"},
		{StateDownloading, "downloading"},
		{StateVerifying, "verifying"},
		{StateBackingUp, "backing-up"},
		{StateInstalling, "installing"},
		{StateDone, "done"},
		{StateRolledBack, "rolled-back"},
		{StateFailed, "failed"},
		{State(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %s, want %s", tt.state, got, tt.want)
		}
	}
}

func TestStateTerminal(t *testing.T) {
	terminal := map[State]bool{
		StateUpToDate:   true,
		StateDone:       true,
		StateRolledBack: true,
		StateFailed:     true,
	}

	for s := StateIdle; s <= StateFailed; s++ {
		if got := s.Terminal(); got != terminal[s] {
			t.Errorf("%s.Terminal() = %v, want %v", s, got, terminal[s])
		}
	}
}
