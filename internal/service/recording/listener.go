package recording

import (
	"errors"
	"strings"

	"clinical-dictation-service/internal/models"
	"clinical-dictation-service/internal/service/stt"
)

// listener receives speech engine results for one session. Results for a
// session that is no longer current are dropped.
type listener struct {
	e         *Engine
	sessionID string
}

func (l *listener) OnPartial(text string) {
	e := l.e
	e.mu.Lock()
	if !l.currentLocked() {
		e.mu.Unlock()
		return
	}
	segID, err := e.segments.Partial()
	if err != nil {
		e.mu.Unlock()
		return
	}
	e.session.InterimText = text
	if e.lc.state == StateRecording {
		e.armSilenceLocked()
	}
	ctx := e.bg
	e.mu.Unlock()

	e.metrics.RecordPartialTranscript()
	e.publishPartial(ctx, models.TranscriptPartial{
		EventType: models.EventTranscriptPartial,
		SessionID: l.sessionID,
		ActorID:   e.cfg.ActorID,
		Timestamp: e.clock.Now().UnixMilli(),
		SegmentID: segID,
		Text:      text,
	})
	if e.cb.OnTranscript != nil {
		e.cb.OnTranscript(text, false)
	}
}

func (l *listener) OnFinal(text string, confidence float64) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	e := l.e
	e.mu.Lock()
	if !l.currentLocked() {
		e.mu.Unlock()
		return
	}
	segID, err := e.segments.Final()
	if err != nil {
		e.mu.Unlock()
		return
	}
	e.session.LiveTranscript = joinTranscript(e.session.LiveTranscript, text)
	e.session.InterimText = ""
	if e.lc.state == StateRecording {
		e.armSilenceLocked()
	}
	offset := e.clock.Since(e.startedAt)
	ctx := e.bg
	e.mu.Unlock()

	e.metrics.RecordFinalTranscript()
	e.publishFinal(ctx, models.TranscriptFinal{
		EventType:  models.EventTranscriptFinal,
		SessionID:  l.sessionID,
		ActorID:    e.cfg.ActorID,
		Timestamp:  e.clock.Now().UnixMilli(),
		SegmentID:  segID,
		Text:       text,
		Confidence: confidence,
		OffsetMs:   offset.Milliseconds(),
	})
	if e.cb.OnTranscript != nil {
		e.cb.OnTranscript(text, true)
	}
}

func (l *listener) OnError(err error) {
	e := l.e
	e.mu.Lock()
	current := l.currentLocked()
	logger := e.logger
	e.mu.Unlock()
	if !current {
		return
	}

	switch {
	case errors.Is(err, stt.ErrAborted):
	case errors.Is(err, stt.ErrNoSpeech):
		e.metrics.RecordRecognizerError(e.cfg.Provider, "no_speech")
		if e.cb.OnSilence != nil {
			e.cb.OnSilence()
		}
	case errors.Is(err, stt.ErrNetwork):
		e.enterFallback(l.sessionID, err)
	default:
		e.metrics.RecordRecognizerError(e.cfg.Provider, "other")
		logger.Warn().Err(err).Msg("Speech engine error")
		e.notifyError((&Error{Kind: KindRecognitionOther, Err: err}).UserMessage())
	}
}

// OnEnd restarts the speech engine while the session is still recording.
func (l *listener) OnEnd() {
	e := l.e
	e.mu.Lock()
	restart := l.currentLocked() &&
		e.lc.state == StateRecording &&
		!e.session.UsingFallbackMode &&
		e.adapter != nil
	adapter := e.adapter
	if restart {
		e.segments.Resume()
	}
	e.mu.Unlock()

	if !restart {
		return
	}
	e.metrics.RecordRecognizerRestart()
	e.restartRecognizer(adapter, l.sessionID)
}

func (l *listener) currentLocked() bool {
	return l.e.session.ID == l.sessionID && l.e.lc.state.IsCapturing()
}
