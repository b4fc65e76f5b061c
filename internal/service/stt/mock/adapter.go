// Package mock provides a simulated speech engine for running without cloud
// credentials. It produces progressive partial transcripts, exactly one final
// per utterance, and closes its listening window after a fixed number of
// audio frames the way browser engines do.
package mock

import (
	"context"
	"sync"
	"time"

	"clinical-dictation-service/internal/service/stt"
)

// SimulatedUtterance represents a mock utterance with progressive transcripts.
type SimulatedUtterance struct {
	Partials   []string // Progressive partial transcripts
	Final      string   // Final transcript text
	Confidence float64  // Confidence score for final
}

// DefaultUtterances provides sample dictation for simulation.
var DefaultUtterances = []SimulatedUtterance{
	{
		Partials:   []string{"Patient", "Patient presents with", "Patient presents with a sore"},
		Final:      "Patient presents with a sore throat for three days.",
		Confidence: 0.94,
	},
	{
		Partials:   []string{"No fever", "No fever reported"},
		Final:      "No fever reported at home.",
		Confidence: 0.97,
	},
	{
		Partials:   []string{"On exam", "On exam tonsils", "On exam tonsils are mildly"},
		Final:      "On exam tonsils are mildly erythematous without exudate.",
		Confidence: 0.91,
	},
	{
		Partials:   []string{"Plan", "Plan supportive care"},
		Final:      "Plan supportive care and follow up in one week if not improving.",
		Confidence: 0.93,
	},
}

// Default tuning for the simulation.
const (
	DefaultDelay        = 50 * time.Millisecond
	DefaultListenWindow = 60
)

// Adapter implements stt.Adapter with scripted responses.
type Adapter struct {
	mu           sync.Mutex
	cb           stt.Callback
	utterances   []SimulatedUtterance
	current      int // index into utterances
	partialIndex int // next partial to send
	frames       int // frames in the current listening window
	listenWindow int
	delay        time.Duration
	running      bool
	closed       bool
	queue        chan func()
	done         chan struct{}
}

// Option configures the mock adapter.
type Option func(*Adapter)

// WithUtterances replaces the scripted utterances.
func WithUtterances(u []SimulatedUtterance) Option {
	return func(a *Adapter) { a.utterances = u }
}

// WithDelay sets the simulated processing delay before each callback.
func WithDelay(d time.Duration) Option {
	return func(a *Adapter) { a.delay = d }
}

// WithListenWindow sets how many audio frames are accepted before the
// simulated engine ends its listening window. Zero disables the limit.
func WithListenWindow(frames int) Option {
	return func(a *Adapter) { a.listenWindow = frames }
}

// New creates a new mock speech engine.
func New(opts ...Option) *Adapter {
	a := &Adapter{
		utterances:   DefaultUtterances,
		delay:        DefaultDelay,
		listenWindow: DefaultListenWindow,
		queue:        make(chan func(), 64),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	go a.dispatch()
	return a
}

// dispatch runs callbacks one at a time so partials always precede their final.
func (a *Adapter) dispatch() {
	for {
		select {
		case fn := <-a.queue:
			if a.delay > 0 {
				time.Sleep(a.delay)
			}
			fn()
		case <-a.done:
			return
		}
	}
}

func (a *Adapter) enqueue(fn func()) {
	select {
	case a.queue <- fn:
	default:
		// Queue full: drop, a real engine would lag too.
	}
}

// Start begins a listening window.
func (a *Adapter) Start(ctx context.Context, cb stt.Callback) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return stt.ErrAborted
	}
	if a.running {
		return stt.ErrAlreadyStarted
	}
	a.cb = cb
	a.running = true
	a.frames = 0
	return nil
}

// SendAudio advances the simulation by one frame: the next partial, or the
// final once all partials of the utterance were sent.
func (a *Adapter) SendAudio(ctx context.Context, audio []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed || !a.running || a.cb == nil || len(a.utterances) == 0 {
		return nil
	}

	a.frames++
	cb := a.cb
	utt := a.utterances[a.current%len(a.utterances)]

	if a.partialIndex < len(utt.Partials) {
		text := utt.Partials[a.partialIndex]
		a.partialIndex++
		a.enqueue(func() { cb.OnPartial(text) })
	} else {
		a.partialIndex = 0
		a.current++
		a.enqueue(func() { cb.OnFinal(utt.Final, utt.Confidence) })
	}

	if a.listenWindow > 0 && a.frames >= a.listenWindow {
		a.running = false
		a.enqueue(cb.OnEnd)
	}
	return nil
}

// Stop ends the listening window. A pending utterance is finalized first.
func (a *Adapter) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.running {
		return nil
	}
	a.running = false
	cb := a.cb

	if a.partialIndex > 0 && len(a.utterances) > 0 {
		utt := a.utterances[a.current%len(a.utterances)]
		a.partialIndex = 0
		a.current++
		a.enqueue(func() { cb.OnFinal(utt.Final, utt.Confidence) })
	}
	a.enqueue(cb.OnEnd)
	return nil
}

// Close ends the simulation. Idempotent.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.closed = true
	a.running = false
	close(a.done)
	return nil
}
