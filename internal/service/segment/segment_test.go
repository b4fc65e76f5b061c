package segment

import (
	"errors"
	"sync"
	"testing"
)

func TestTracker_InitialSegment(t *testing.T) {
	tr := NewTracker("sess-1")

	id, state := tr.Current()
	if id != "sess-1-seg-1" {
		t.Errorf("expected 'sess-1-seg-1', got %s", id)
	}
	if state != StateOpen {
		t.Errorf("expected StateOpen, got %v", state)
	}
}

func TestTracker_PartialsShareSegment(t *testing.T) {
	tr := NewTracker("sess-1")

	for i := 0; i < 3; i++ {
		id, err := tr.Partial()
		if err != nil {
			t.Fatalf("partial %d: unexpected error: %v", i, err)
		}
		if id != "sess-1-seg-1" {
			t.Errorf("partial %d: expected 'sess-1-seg-1', got %s", i, id)
		}
	}
}

func TestTracker_FinalAdvancesSegment(t *testing.T) {
	tr := NewTracker("sess-1")

	tr.Partial()
	id, err := tr.Final()
	if err != nil || id != "sess-1-seg-1" {
		t.Fatalf("expected final on seg-1, got %s, %v", id, err)
	}

	id, _ = tr.Partial()
	if id != "sess-1-seg-2" {
		t.Errorf("expected partial after final to open 'sess-1-seg-2', got %s", id)
	}
	id, _ = tr.Final()
	if id != "sess-1-seg-2" {
		t.Errorf("expected final on 'sess-1-seg-2', got %s", id)
	}
}

func TestTracker_ConsecutiveFinals(t *testing.T) {
	tr := NewTracker("s")

	ids := []string{}
	for i := 0; i < 3; i++ {
		id, err := tr.Final()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		ids = append(ids, id)
	}

	want := []string{"s-seg-1", "s-seg-2", "s-seg-3"}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("final %d: expected %s, got %s", i, want[i], ids[i])
		}
	}
}

func TestTracker_DropAndResume(t *testing.T) {
	tr := NewTracker("s")
	tr.Partial()

	if !tr.Drop() {
		t.Error("expected open segment to be dropped")
	}
	if tr.Drop() {
		t.Error("expected second drop to be a no-op")
	}
	if _, err := tr.Partial(); !errors.Is(err, ErrSegmentDropped) {
		t.Errorf("expected ErrSegmentDropped, got %v", err)
	}
	if _, err := tr.Final(); !errors.Is(err, ErrSegmentDropped) {
		t.Errorf("expected ErrSegmentDropped, got %v", err)
	}

	tr.Resume()
	id, state := tr.Current()
	if id != "s-seg-2" || state != StateOpen {
		t.Errorf("expected fresh open 's-seg-2', got %s %v", id, state)
	}
}

func TestTracker_DropAfterFinal(t *testing.T) {
	tr := NewTracker("s")
	tr.Final()

	if tr.Drop() {
		t.Error("expected no open segment to drop after a final")
	}
}

func TestTracker_ConcurrentFinalsUnique(t *testing.T) {
	tr := NewTracker("s")

	var wg sync.WaitGroup
	results := make(chan string, 200)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				id, _ := tr.Final()
				results <- id
			}
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[string]bool)
	for id := range results {
		if seen[id] {
			t.Errorf("duplicate segment id: %s", id)
		}
		seen[id] = true
	}
	if len(seen) != 200 {
		t.Errorf("expected 200 unique ids, got %d", len(seen))
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateOpen, "OPEN"},
		{StateFinalEmitted, "FINAL_EMITTED"},
		{StateDropped, "DROPPED"},
		{State(9), "UNKNOWN(9)"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("expected %s, got %s", tt.want, got)
		}
	}
}
