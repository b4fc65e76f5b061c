package transcribe

import (
	"context"
	"errors"
	"math/rand/v2"
	"slices"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"clinical-dictation-service/internal/platform"
)

func TestPoolFor(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want Pool
	}{
		{0, PoolShort},
		{10 * time.Second, PoolShort},
		{15*time.Second - time.Millisecond, PoolShort},
		{15 * time.Second, PoolMedium},
		{30 * time.Second, PoolMedium},
		{45 * time.Second, PoolLong},
		{90 * time.Second, PoolLong},
	}
	for _, tt := range tests {
		t.Run(tt.d.String(), func(t *testing.T) {
			if got := PoolFor(tt.d); got != tt.want {
				t.Errorf("PoolFor(%v) = %v, want %v", tt.d, got, tt.want)
			}
		})
	}
}

func TestSynthetic_PicksFromMatchingPool(t *testing.T) {
	s := NewSynthetic(0, WithRand(rand.New(rand.NewPCG(1, 2))))

	tests := []struct {
		d    time.Duration
		pool Pool
	}{
		{10 * time.Second, PoolShort},
		{30 * time.Second, PoolMedium},
		{90 * time.Second, PoolLong},
	}
	for _, tt := range tests {
		for i := 0; i < 10; i++ {
			text, err := s.Transcribe(context.Background(), Request{Duration: tt.d})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !slices.Contains(Templates[tt.pool], text) {
				t.Errorf("duration %v: %q is not in the %v pool", tt.d, text, tt.pool)
			}
		}
	}
}

func TestSynthetic_WaitsForDelay(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := NewSynthetic(1500*time.Millisecond, WithClock(clock))

	done := make(chan string, 1)
	go func() {
		text, _ := s.Transcribe(context.Background(), Request{Duration: time.Second})
		done <- text
	}()

	clock.BlockUntil(1)
	select {
	case <-done:
		t.Fatal("expected transcriber to wait for the processing delay")
	default:
	}

	clock.Advance(1500 * time.Millisecond)
	select {
	case text := <-done:
		if text == "" {
			t.Error("expected non-empty text")
		}
	case <-time.After(time.Second):
		t.Fatal("transcriber did not finish after the delay")
	}
}

func TestSynthetic_ContextCanceled(t *testing.T) {
	s := NewSynthetic(time.Hour, WithClock(clockwork.NewFakeClock()))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.Transcribe(ctx, Request{}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

type stubTranscriber struct {
	name  string
	text  string
	err   error
	calls int
}

func (s *stubTranscriber) Name() string { return s.name }

func (s *stubTranscriber) Transcribe(ctx context.Context, req Request) (string, error) {
	s.calls++
	return s.text, s.err
}

func TestChain(t *testing.T) {
	tests := []struct {
		name    string
		first   *stubTranscriber
		want    string
		wantErr bool
	}{
		{"first succeeds", &stubTranscriber{name: "a", text: "real text"}, "real text", false},
		{"first fails", &stubTranscriber{name: "a", err: errors.New("boom")}, "fallback", false},
		{"first empty", &stubTranscriber{name: "a", text: "  "}, "fallback", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			second := &stubTranscriber{name: "b", text: "fallback"}
			c := NewChain(tt.first, second)

			got, err := c.Transcribe(context.Background(), Request{Audio: &platform.Blob{Data: []byte{1}}})
			if (err != nil) != tt.wantErr {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestChain_AllFail(t *testing.T) {
	boom := errors.New("boom")
	c := NewChain(&stubTranscriber{name: "a", err: boom})

	if _, err := c.Transcribe(context.Background(), Request{}); !errors.Is(err, boom) {
		t.Errorf("expected last error, got %v", err)
	}
	if c.Name() != "a" {
		t.Errorf("expected name 'a', got %s", c.Name())
	}
}

func TestWhisper_EmptyAudio(t *testing.T) {
	w := NewWhisper("test-key", "en")

	if _, err := w.Transcribe(context.Background(), Request{Audio: nil}); !errors.Is(err, ErrEmptyTranscript) {
		t.Errorf("expected ErrEmptyTranscript without audio, got %v", err)
	}
}
