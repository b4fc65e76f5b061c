// Package workspace composes a recording engine and an idle guard for one
// signed-in clinician page, and saves finished recordings.
package workspace

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"clinical-dictation-service/internal/dataservice"
	"clinical-dictation-service/internal/identity"
	"clinical-dictation-service/internal/platform"
	"clinical-dictation-service/internal/platform/mic"
	"clinical-dictation-service/internal/service/idlelock"
	"clinical-dictation-service/internal/service/recording"
)

const (
	recordingsTable = "recordings"
	notesTable      = "clinical_notes"
	subscriberQueue = 64
)

// EventType names a live workspace event.
type EventType string

const (
	EventTranscript     EventType = "transcript"
	EventRecordingState EventType = "recording_state"
	EventError          EventType = "error"
	EventSilence        EventType = "silence"
	EventIdlePhase      EventType = "idle_phase"
	EventLocked         EventType = "locked"
	EventUnlocked       EventType = "unlocked"
	EventNoteChanged    EventType = "note_changed"
	EventSaved          EventType = "recording_saved"
)

// Event is pushed to live subscribers.
type Event struct {
	Type    EventType `json:"type"`
	Text    string    `json:"text,omitempty"`
	IsFinal bool      `json:"isFinal,omitempty"`
	Message string    `json:"message,omitempty"`
	Data    any       `json:"data,omitempty"`
}

// Saved is a stopped recording after upload.
type Saved struct {
	SessionID           string `json:"sessionId"`
	Transcript          string `json:"transcript"`
	DurationSeconds     int    `json:"durationSeconds"`
	SizeBytes           int    `json:"sizeBytes"`
	SyntheticTranscript bool   `json:"syntheticTranscript"`
	UsingFallbackMode   bool   `json:"usingFallbackMode"`
	// PlaybackURL is revoked when the workspace closes.
	PlaybackURL string `json:"playbackUrl,omitempty"`
	StoragePath string `json:"storagePath,omitempty"`
	DownloadURL string `json:"downloadUrl,omitempty"`
}

// Workspace is one clinician page: a microphone feed, an engine and a guard.
type Workspace struct {
	ID        string
	Actor     identity.Identity
	CreatedAt time.Time
	Feed      *mic.Feed
	Engine    *recording.Engine
	Guard     *idlelock.Guard

	cfg    Config
	deps   Deps
	logger zerolog.Logger
	cancel context.CancelFunc
	notes  dataservice.Subscription

	mu     sync.Mutex
	subs   map[chan Event]struct{}
	closed bool

	closeOnce sync.Once
}

// Subscribe returns a channel of live events and a function that ends the
// subscription. Events are dropped for subscribers that fall behind. After
// the workspace is closed the returned channel is already closed.
func (w *Workspace) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberQueue)
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	if w.subs == nil {
		w.subs = make(map[chan Event]struct{})
	}
	w.subs[ch] = struct{}{}
	w.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			w.mu.Lock()
			if _, ok := w.subs[ch]; ok {
				delete(w.subs, ch)
				close(ch)
			}
			w.mu.Unlock()
		})
	}
}

func (w *Workspace) emit(ev Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for ch := range w.subs {
		select {
		case ch <- ev:
		default:
			w.logger.Warn().Str("event", string(ev.Type)).Msg("Live subscriber behind, event dropped")
		}
	}
}

// Stop ends the current recording, uploads the audio and stores a
// recordings row. Storage and data failures are logged; the transcript is
// returned regardless.
func (w *Workspace) Stop(ctx context.Context) (Saved, error) {
	res, err := w.Engine.Stop(ctx)
	if err != nil {
		return Saved{}, err
	}
	if res.SessionID == "" {
		return Saved{}, nil
	}

	saved := Saved{
		SessionID:           res.SessionID,
		Transcript:          res.Transcript,
		DurationSeconds:     res.DurationSeconds,
		SizeBytes:           res.Audio.Size(),
		SyntheticTranscript: res.SyntheticTranscript,
		UsingFallbackMode:   res.UsingFallbackMode,
		PlaybackURL:         w.Engine.CreatePlaybackURL(res.Audio),
	}

	if res.Audio != nil && w.deps.Storage != nil {
		path := fmt.Sprintf("%s/%s/%s%s", w.cfg.RecordingsPath, w.Actor.ID, res.SessionID, res.Audio.Extension())
		stored, err := w.deps.Storage.Upload(ctx, w.cfg.Bucket, path, res.Audio)
		if err != nil {
			w.logger.Error().Err(err).Str("path", path).Msg("Failed to upload recording")
		} else {
			saved.StoragePath = stored
			if u, err := w.deps.Storage.SignedURL(ctx, w.cfg.Bucket, stored, w.cfg.SignedURLTTL); err != nil {
				w.logger.Warn().Err(err).Str("path", stored).Msg("Failed to sign recording URL")
			} else {
				saved.DownloadURL = u
			}
		}
	}

	if w.deps.Data != nil {
		_, err := w.deps.Data.Insert(ctx, recordingsTable, dataservice.Row{
			"id":               res.SessionID,
			"author_id":        w.Actor.ID,
			"workspace_id":     w.ID,
			"storage_path":     saved.StoragePath,
			"mime_type":        mimeTypeOf(res.Audio, w.cfg.Recording.MIMEType),
			"size_bytes":       saved.SizeBytes,
			"duration_seconds": saved.DurationSeconds,
			"transcript":       saved.Transcript,
			"fallback":         saved.UsingFallbackMode,
		})
		if err != nil {
			w.logger.Error().Err(err).Str("sessionId", res.SessionID).Msg("Failed to store recording")
		}
	}

	w.emit(Event{Type: EventSaved, Data: saved})
	return saved, nil
}

// close tears the workspace down. It is idempotent.
func (w *Workspace) close() {
	w.closeOnce.Do(func() {
		w.Guard.Unmount()
		w.Engine.Destroy()
		w.Feed.Disconnect()
		if w.notes != nil {
			w.notes.Close()
		}
		w.cancel()

		w.mu.Lock()
		w.closed = true
		for ch := range w.subs {
			close(ch)
		}
		w.subs = nil
		w.mu.Unlock()

		w.logger.Info().Msg("Workspace closed")
	})
}

func (w *Workspace) callbacks() recording.Callbacks {
	return recording.Callbacks{
		OnTranscript: func(text string, isFinal bool) {
			w.emit(Event{Type: EventTranscript, Text: text, IsFinal: isFinal})
		},
		OnRecordingStateChange: func(isRecording bool) {
			w.emit(Event{Type: EventRecordingState, Data: map[string]bool{"isRecording": isRecording}})
		},
		OnError: func(message string) {
			w.emit(Event{Type: EventError, Message: message})
		},
		OnSilence: func() {
			w.emit(Event{Type: EventSilence})
		},
	}
}

func (w *Workspace) guardCallbacks() idlelock.Callbacks {
	return idlelock.Callbacks{
		OnLock: func() {
			// Dictation must not continue behind the lock screen.
			if err := w.Engine.Pause(); err != nil {
				w.logger.Warn().Err(err).Msg("Failed to pause recording on lock")
			}
			w.emit(Event{Type: EventLocked})
		},
		OnUnlock: func() {
			w.emit(Event{Type: EventUnlocked})
		},
		OnPhaseChange: func(p idlelock.Phase) {
			w.emit(Event{Type: EventIdlePhase, Data: map[string]string{"phase": p.String()}})
		},
	}
}

func mimeTypeOf(b *platform.Blob, def string) string {
	if b == nil || b.MIMEType == "" {
		return def
	}
	return b.MIMEType
}
