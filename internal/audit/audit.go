// Package audit records who did what. Writes are fire-and-forget: a failing
// sink is logged and counted but never reaches the caller.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"clinical-dictation-service/internal/models"
	"clinical-dictation-service/internal/observability/metrics"
)

// Actions recorded by the service.
const (
	ActionRecordingStarted          = "RECORDING_STARTED"
	ActionRecordingStopped          = "RECORDING_STOPPED"
	ActionRecordingError            = "RECORDING_ERROR"
	ActionTranscriptionFallbackUsed = "TRANSCRIPTION_FALLBACK_USED"
	ActionTranscriptionCompleted    = "TRANSCRIPTION_COMPLETED"
	ActionSessionLocked             = "SESSION_LOCKED"
	ActionSessionUnlocked           = "SESSION_UNLOCKED"
	ActionUnlockFailed              = "UNLOCK_FAILED"
	ActionLogoutUnsignedOverride    = "LOGOUT_UNSIGNED_OVERRIDE"
)

// Entity types.
const (
	EntityRecording = "recording"
	EntitySession   = "session"
	EntityNote      = "clinical_note"
)

const (
	writeTimeout = 5 * time.Second
	queueSize    = 1024
)

// Sink persists audit entries.
type Sink interface {
	Record(ctx context.Context, e models.AuditEntry) error
	Name() string
}

// Logger fans entries out to its sinks from a single writer goroutine, so
// every sink sees entries in the order they were logged. A nil *Logger
// drops everything.
type Logger struct {
	sinks   []Sink
	logger  zerolog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	queue   chan queued
}

// queued is an entry, or a flush marker when done is set.
type queued struct {
	entry models.AuditEntry
	done  chan struct{}
}

// NewLogger creates a logger over sinks and starts its writer.
func NewLogger(sinks ...Sink) *Logger {
	l := &Logger{
		sinks:   sinks,
		logger:  log.With().Str("component", "audit").Logger(),
		metrics: metrics.DefaultMetrics,
		now:     time.Now,
		queue:   make(chan queued, queueSize),
	}
	if len(sinks) > 0 {
		go l.run()
	}
	return l
}

func (l *Logger) run() {
	for q := range l.queue {
		if q.done != nil {
			close(q.done)
			continue
		}
		l.write(q.entry)
	}
}

// Log records an action without blocking. details may be nil. Entries are
// dropped, and counted, while the queue is full.
func (l *Logger) Log(actorID, action, entityType, entityID string, details map[string]any) {
	if l == nil || len(l.sinks) == 0 {
		return
	}

	now := l.now().UTC()
	e := models.AuditEntry{
		ID:         ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		EventType:  models.EventAudit,
		ActorID:    actorID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Details:    details,
		CreatedAt:  now,
	}

	select {
	case l.queue <- queued{entry: e}:
	default:
		l.metrics.RecordAuditError("queue")
		l.logger.Warn().
			Str("action", action).
			Str("actorId", actorID).
			Msg("Audit queue full, entry dropped")
	}
}

func (l *Logger) write(e models.AuditEntry) {
	for _, s := range l.sinks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					l.fail(s, e, fmt.Errorf("panic: %v", r))
				}
			}()

			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			defer cancel()
			if err := s.Record(ctx, e); err != nil {
				l.fail(s, e, err)
			}
		}()
	}
}

func (l *Logger) fail(s Sink, e models.AuditEntry, err error) {
	l.metrics.RecordAuditError(s.Name())
	l.logger.Warn().
		Err(err).
		Str("sink", s.Name()).
		Str("action", e.Action).
		Str("actorId", e.ActorID).
		Msg("Audit write failed")
}

// Flush waits until every entry logged before the call has been written.
func (l *Logger) Flush() {
	if l == nil || len(l.sinks) == 0 {
		return
	}
	done := make(chan struct{})
	l.queue <- queued{done: done}
	<-done
}
