package mock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"clinical-dictation-service/internal/service/stt"
)

// testCallback implements stt.Callback for testing
type testCallback struct {
	mu     sync.Mutex
	events []string
	finals []finalResult
	ends   int
}

type finalResult struct {
	text       string
	confidence float64
}

func (c *testCallback) OnPartial(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, "partial:"+text)
}

func (c *testCallback) OnFinal(text string, confidence float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, "final:"+text)
	c.finals = append(c.finals, finalResult{text, confidence})
}

func (c *testCallback) OnError(err error) {}

func (c *testCallback) OnEnd() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ends++
}

func (c *testCallback) snapshot() ([]string, []finalResult, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string{}, c.events...), append([]finalResult{}, c.finals...), c.ends
}

var script = []SimulatedUtterance{
	{Partials: []string{"blood", "blood pressure"}, Final: "Blood pressure is 120 over 80.", Confidence: 0.9},
}

func TestAdapter_Start_Twice(t *testing.T) {
	a := New(WithDelay(0))
	defer a.Close()

	if err := a.Start(context.Background(), &testCallback{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := a.Start(context.Background(), &testCallback{}); !errors.Is(err, stt.ErrAlreadyStarted) {
		t.Errorf("expected ErrAlreadyStarted, got %v", err)
	}
}

func TestAdapter_PartialsPrecedeFinal(t *testing.T) {
	a := New(WithDelay(time.Millisecond), WithUtterances(script), WithListenWindow(0))
	defer a.Close()

	cb := &testCallback{}
	a.Start(context.Background(), cb)

	for i := 0; i < 3; i++ {
		if err := a.SendAudio(context.Background(), []byte("audio")); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	time.Sleep(100 * time.Millisecond)

	events, finals, _ := cb.snapshot()
	want := []string{"partial:blood", "partial:blood pressure", "final:Blood pressure is 120 over 80."}
	if len(events) != len(want) {
		t.Fatalf("expected %d events, got %v", len(want), events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("event %d: expected %q, got %q", i, want[i], events[i])
		}
	}
	if len(finals) != 1 || finals[0].confidence != 0.9 {
		t.Errorf("expected one final with confidence 0.9, got %v", finals)
	}
}

func TestAdapter_ListenWindowEnds(t *testing.T) {
	a := New(WithDelay(0), WithUtterances(script), WithListenWindow(2))
	defer a.Close()

	cb := &testCallback{}
	a.Start(context.Background(), cb)
	a.SendAudio(context.Background(), []byte("a"))
	a.SendAudio(context.Background(), []byte("b"))
	// Window closed, this frame is ignored.
	a.SendAudio(context.Background(), []byte("c"))

	time.Sleep(50 * time.Millisecond)

	events, _, ends := cb.snapshot()
	if ends != 1 {
		t.Errorf("expected 1 end, got %d", ends)
	}
	if len(events) != 2 {
		t.Errorf("expected 2 events before the window closed, got %v", events)
	}

	// A restart after the window closed is allowed.
	if err := a.Start(context.Background(), cb); err != nil {
		t.Errorf("expected restart to succeed, got %v", err)
	}
}

func TestAdapter_StopFinalizesPendingUtterance(t *testing.T) {
	a := New(WithDelay(0), WithUtterances(script), WithListenWindow(0))
	defer a.Close()

	cb := &testCallback{}
	a.Start(context.Background(), cb)
	a.SendAudio(context.Background(), []byte("a"))

	if err := a.Stop(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	time.Sleep(50 * time.Millisecond)

	_, finals, ends := cb.snapshot()
	if len(finals) != 1 {
		t.Errorf("expected pending utterance to be finalized, got %v", finals)
	}
	if ends != 1 {
		t.Errorf("expected 1 end, got %d", ends)
	}
}

func TestAdapter_Close_Idempotent(t *testing.T) {
	a := New()
	a.Start(context.Background(), &testCallback{})

	if err := a.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("unexpected error on second close: %v", err)
	}
	if err := a.SendAudio(context.Background(), []byte("audio")); err != nil {
		t.Fatalf("unexpected error after close: %v", err)
	}
	if err := a.Start(context.Background(), &testCallback{}); !errors.Is(err, stt.ErrAborted) {
		t.Errorf("expected ErrAborted starting a closed engine, got %v", err)
	}
}
