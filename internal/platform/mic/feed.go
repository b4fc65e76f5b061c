// Package mic implements a push-fed microphone. Audio arrives from outside
// the process (a websocket client, a file) and is recorded in timeslices.
package mic

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"clinical-dictation-service/internal/platform"
)

// Feed is the device end of the microphone. The party producing audio
// connects, optionally denies permission, and pushes bytes.
type Feed struct {
	mu        sync.Mutex
	connected bool
	denied    bool
	recorders map[*recorder]struct{}
	released  atomic.Int64
}

// NewFeed creates a disconnected feed.
func NewFeed() *Feed {
	return &Feed{recorders: make(map[*recorder]struct{})}
}

// Connect marks an input device as present and permission as granted.
func (f *Feed) Connect() {
	f.mu.Lock()
	f.connected = true
	f.denied = false
	f.mu.Unlock()
}

// Deny marks permission as refused by the user.
func (f *Feed) Deny() {
	f.mu.Lock()
	f.denied = true
	f.mu.Unlock()
}

// Disconnect removes the input device.
func (f *Feed) Disconnect() {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
}

// Push delivers captured audio to every recording recorder.
func (f *Feed) Push(b []byte) {
	if len(b) == 0 {
		return
	}
	f.mu.Lock()
	recs := make([]*recorder, 0, len(f.recorders))
	for r := range f.recorders {
		recs = append(recs, r)
	}
	f.mu.Unlock()

	for _, r := range recs {
		r.write(b)
	}
}

// Released returns how many tracks have been stopped.
func (f *Feed) Released() int64 {
	return f.released.Load()
}

func (f *Feed) attach(r *recorder) {
	f.mu.Lock()
	f.recorders[r] = struct{}{}
	f.mu.Unlock()
}

func (f *Feed) detach(r *recorder) {
	f.mu.Lock()
	delete(f.recorders, r)
	f.mu.Unlock()
}

// Microphone opens streams over a Feed.
type Microphone struct {
	feed *Feed
}

// New creates a microphone backed by feed.
func New(feed *Feed) *Microphone {
	return &Microphone{feed: feed}
}

// Open implements platform.Microphone. Constraint hints are accepted as-is;
// processing happens on the producing side.
func (m *Microphone) Open(ctx context.Context, c platform.Constraints) (platform.MediaStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.feed.mu.Lock()
	defer m.feed.mu.Unlock()

	if m.feed.denied {
		return nil, platform.ErrPermissionDenied
	}
	if !m.feed.connected {
		return nil, platform.ErrDeviceNotFound
	}
	return &stream{feed: m.feed, track: &track{id: uuid.NewString(), feed: m.feed}}, nil
}

type stream struct {
	feed  *Feed
	track *track
}

func (s *stream) Tracks() []platform.Track {
	return []platform.Track{s.track}
}

func (s *stream) NewRecorder(mimeType string) (platform.ChunkRecorder, error) {
	return &recorder{feed: s.feed}, nil
}

type track struct {
	id   string
	feed *Feed
}

func (t *track) ID() string { return t.id }

func (t *track) Stop() {
	t.feed.released.Add(1)
}

// recorder buffers pushed audio and emits it once per timeslice.
type recorder struct {
	feed *Feed

	mu      sync.Mutex
	buf     []byte
	paused  bool
	active  bool
	onData  func([]byte)
	stop    chan struct{}
	stopped chan struct{}
}

func (r *recorder) Start(timeslice time.Duration, onData func([]byte)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active {
		return nil
	}
	r.active = true
	r.onData = onData
	r.stop = make(chan struct{})
	r.stopped = make(chan struct{})
	r.feed.attach(r)

	go r.run(timeslice)
	return nil
}

func (r *recorder) run(timeslice time.Duration) {
	defer close(r.stopped)

	ticker := time.NewTicker(timeslice)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.flush()
		case <-r.stop:
			return
		}
	}
}

func (r *recorder) write(b []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active || r.paused {
		return
	}
	r.buf = append(r.buf, b...)
}

func (r *recorder) flush() {
	r.mu.Lock()
	if len(r.buf) == 0 {
		r.mu.Unlock()
		return
	}
	chunk := r.buf
	r.buf = nil
	onData := r.onData
	r.mu.Unlock()

	onData(chunk)
}

// Pause drops incoming audio until Resume.
func (r *recorder) Pause() error {
	r.mu.Lock()
	r.paused = true
	r.mu.Unlock()
	return nil
}

func (r *recorder) Resume() error {
	r.mu.Lock()
	r.paused = false
	r.mu.Unlock()
	return nil
}

func (r *recorder) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.active {
		r.mu.Unlock()
		return platform.ErrRecorderInactive
	}
	r.active = false
	close(r.stop)
	stopped := r.stopped
	r.mu.Unlock()

	r.feed.detach(r)

	select {
	case <-stopped:
	case <-ctx.Done():
		return ctx.Err()
	}

	r.flush()
	return nil
}
