// Package segment numbers the transcript segments of a recording session.
// A segment opens with the first interim result, takes any number of
// partials, and closes with exactly one final.
package segment

import (
	"errors"
	"fmt"
	"sync"
)

// State of the current segment.
type State int

const (
	StateOpen State = iota
	StateFinalEmitted
	StateDropped
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateFinalEmitted:
		return "FINAL_EMITTED"
	case StateDropped:
		return "DROPPED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

var (
	// ErrSegmentDropped is returned for results arriving after Drop.
	ErrSegmentDropped = errors.New("segment dropped")
	// ErrFinalAlreadyEmitted is returned for a second final on one segment.
	ErrFinalAlreadyEmitted = errors.New("final already emitted for this segment")
)

// Tracker follows the segments of one session. Ids have the form
// "<session>-seg-N" starting at 1.
type Tracker struct {
	mu        sync.Mutex
	sessionID string
	n         int
	state     State
}

// NewTracker opens the first segment of sessionID.
func NewTracker(sessionID string) *Tracker {
	return &Tracker{sessionID: sessionID, n: 1}
}

// Current returns the id and state of the current segment.
func (t *Tracker) Current() (string, State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.id(), t.state
}

// Partial records an interim result and returns its segment id.
func (t *Tracker) Partial() (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.state {
	case StateOpen:
		return t.id(), nil
	case StateFinalEmitted:
		// A partial after a final starts the next segment.
		t.advance()
		return t.id(), nil
	default:
		return t.id(), ErrSegmentDropped
	}
}

// Final closes the current segment and returns its id. The next result
// opens a new segment.
func (t *Tracker) Final() (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.state {
	case StateOpen:
		t.state = StateFinalEmitted
		return t.id(), nil
	case StateFinalEmitted:
		t.advance()
		t.state = StateFinalEmitted
		return t.id(), nil
	default:
		return t.id(), ErrSegmentDropped
	}
}

// Drop abandons the current segment; results stop until Resume.
// It reports whether an open segment was dropped.
func (t *Tracker) Drop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == StateDropped {
		return false
	}
	dropped := t.state == StateOpen
	t.state = StateDropped
	return dropped
}

// Resume opens a fresh segment after Drop, for example when a recognizer
// restarts. It is a no-op otherwise.
func (t *Tracker) Resume() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == StateDropped {
		t.advance()
	}
}

// Count returns the number of segments opened so far.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.n
}

func (t *Tracker) advance() {
	t.n++
	t.state = StateOpen
}

func (t *Tracker) id() string {
	return fmt.Sprintf("%s-seg-%d", t.sessionID, t.n)
}
