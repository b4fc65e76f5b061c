package recording

import (
	"errors"
	"fmt"
)

// State is the lifecycle state of an engine.
//
//	IDLE -> RECORDING <-> PAUSED
//	           |            |
//	           +-> STOPPING <+
//	                  |
//	               STOPPED -> RECORDING (next session)
//
// Any state moves to DESTROYED, which is terminal.
type State int

const (
	StateIdle State = iota
	StateRecording
	StatePaused
	StateStopping
	StateStopped
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRecording:
		return "RECORDING"
	case StatePaused:
		return "PAUSED"
	case StateStopping:
		return "STOPPING"
	case StateStopped:
		return "STOPPED"
	case StateDestroyed:
		return "DESTROYED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// IsCapturing reports whether a session holds the microphone.
func (s State) IsCapturing() bool {
	return s == StateRecording || s == StatePaused || s == StateStopping
}

// ErrInvalidTransition is returned for a move the lifecycle does not allow.
var ErrInvalidTransition = errors.New("invalid recording state transition")

var transitions = map[State][]State{
	StateIdle:      {StateRecording},
	StateRecording: {StatePaused, StateStopping},
	StatePaused:    {StateRecording, StateStopping},
	StateStopping:  {StateStopped},
	StateStopped:   {StateRecording},
}

// lifecycle guards state changes. Callers hold the engine lock.
type lifecycle struct {
	state State
}

func (l *lifecycle) to(next State) error {
	if l.state == StateDestroyed {
		return fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, l.state)
	}
	if next == StateDestroyed {
		l.state = next
		return nil
	}
	for _, s := range transitions[l.state] {
		if s == next {
			l.state = next
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, l.state, next)
}
