// Package recording implements the dictation engine: it owns the microphone,
// a chunk recorder and a live speech engine for one clinician, and turns a
// session into a transcript plus an audio blob.
package recording

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"clinical-dictation-service/internal/audit"
	"clinical-dictation-service/internal/models"
	"clinical-dictation-service/internal/observability/logging"
	"clinical-dictation-service/internal/observability/metrics"
	"clinical-dictation-service/internal/platform"
	"clinical-dictation-service/internal/service/segment"
	"clinical-dictation-service/internal/service/stt"
	"clinical-dictation-service/internal/service/transcribe"
)

const (
	recorderStopTimeout = 2 * time.Second
	// transcribeTimeout bounds fallback transcription, which outlives the
	// caller's context.
	transcribeTimeout = time.Minute
)

// Config holds engine timing and identity.
type Config struct {
	// ActorID is the clinician the engine records for.
	ActorID       string
	ChunkInterval time.Duration
	// SilenceWindow is how long without a recognizer result before
	// OnSilence fires. Zero disables the timer.
	SilenceWindow time.Duration
	// FlushGrace is the wait between stopping the recognizer and the
	// recorder, for late results.
	FlushGrace time.Duration
	MIMEType   string
	// Provider labels recognizer metrics.
	Provider string
}

// DefaultConfig returns the standard timings.
func DefaultConfig() Config {
	return Config{
		ChunkInterval: time.Second,
		SilenceWindow: 5 * time.Second,
		FlushGrace:    500 * time.Millisecond,
		MIMEType:      "audio/webm",
		Provider:      "unknown",
	}
}

// Callbacks are invoked outside the engine lock. Any may be nil.
type Callbacks struct {
	OnTranscript           func(text string, isFinal bool)
	OnRecordingStateChange func(isRecording bool)
	OnError                func(message string)
	OnSilence              func()
}

// Publisher is the part of events.Publisher the engine uses.
type Publisher interface {
	PublishPartial(ctx context.Context, key string, event any) error
	PublishFinal(ctx context.Context, key string, event any) error
}

// Deps are the engine's collaborators. Microphone and Speech are required;
// the rest may be nil.
type Deps struct {
	Microphone  platform.Microphone
	Speech      stt.Provider
	Transcriber transcribe.Transcriber
	Blobs       *platform.BlobURLs
	Audit       *audit.Logger
	Publisher   Publisher
	Clock       clockwork.Clock
}

// Engine records one session at a time.
type Engine struct {
	cfg     Config
	deps    Deps
	cb      Callbacks
	clock   clockwork.Clock
	metrics *metrics.Metrics

	// opMu serializes Start, Stop, Pause, Resume and Destroy.
	opMu sync.Mutex

	// mu guards everything below.
	mu        sync.Mutex
	lc        lifecycle
	session   Session
	logger    zerolog.Logger
	bg        context.Context
	tracks    []platform.Track
	recorder  platform.ChunkRecorder
	adapter   stt.Adapter
	segments  *segment.Tracker
	startedAt time.Time
	ticker    clockwork.Ticker
	tickDone  chan struct{}
	silence   clockwork.Timer
	silenceN  int
	urls      []string
}

// NewEngine creates an idle engine.
func NewEngine(cfg Config, deps Deps, cb Callbacks) *Engine {
	if deps.Speech == nil {
		deps.Speech = stt.None
	}
	if deps.Blobs == nil {
		deps.Blobs = platform.NewBlobURLs()
	}
	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.MIMEType == "" {
		cfg.MIMEType = DefaultConfig().MIMEType
	}
	if cfg.ChunkInterval <= 0 {
		cfg.ChunkInterval = DefaultConfig().ChunkInterval
	}
	return &Engine{
		cfg:     cfg,
		deps:    deps,
		cb:      cb,
		clock:   clock,
		metrics: metrics.DefaultMetrics,
		logger:  logging.WithSession("recording", "", cfg.ActorID),
		bg:      context.Background(),
	}
}

// Start opens the microphone and begins a new session. It returns
// ErrAlreadyRecording while a session is active and a *Error when capture
// cannot start.
func (e *Engine) Start(ctx context.Context) error {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	e.mu.Lock()
	state := e.lc.state
	e.mu.Unlock()
	if state == StateDestroyed {
		return ErrDestroyed
	}
	if state.IsCapturing() {
		return ErrAlreadyRecording
	}

	stream, err := e.deps.Microphone.Open(ctx, platform.DictationConstraints())
	if err != nil {
		return e.fail("", classifyOpen(err))
	}
	rec, err := stream.NewRecorder(e.cfg.MIMEType)
	if err != nil {
		stopTracks(stream.Tracks())
		return e.fail("", &Error{Kind: KindCaptureFailure, Err: err})
	}

	id := uuid.NewString()
	now := e.clock.Now()

	e.mu.Lock()
	if err := e.lc.to(StateRecording); err != nil {
		e.mu.Unlock()
		stopTracks(stream.Tracks())
		return err
	}
	e.session = Session{
		ID:          id,
		State:       StateRecording,
		IsRecording: true,
		StartTime:   &now,
	}
	e.startedAt = now
	e.tracks = stream.Tracks()
	e.recorder = rec
	e.segments = segment.NewTracker(id)
	e.bg = context.WithoutCancel(ctx)
	e.logger = logging.WithSession("recording", id, e.cfg.ActorID)
	logger := e.logger
	e.mu.Unlock()

	if err := rec.Start(e.cfg.ChunkInterval, e.chunkHandler(id)); err != nil {
		e.mu.Lock()
		e.releaseTracksLocked()
		e.recorder = nil
		e.lc.state = StateIdle
		e.session = Session{}
		e.mu.Unlock()
		return e.fail(id, &Error{Kind: KindCaptureFailure, Err: err})
	}

	fallback := !e.startRecognizer(ctx, id)

	e.mu.Lock()
	e.session.UsingFallbackMode = fallback
	e.startTickerLocked()
	if !fallback {
		e.armSilenceLocked()
	}
	e.mu.Unlock()

	e.metrics.RecordRecordingStart()
	e.deps.Audit.Log(e.cfg.ActorID, audit.ActionRecordingStarted, audit.EntityRecording, id, map[string]any{
		"fallbackMode": fallback,
		"mimeType":     e.cfg.MIMEType,
	})
	logger.Info().Bool("fallbackMode", fallback).Msg("Recording started")

	if e.cb.OnRecordingStateChange != nil {
		e.cb.OnRecordingStateChange(true)
	}
	return nil
}

// startRecognizer detects and starts a speech engine. It reports whether
// live recognition is running.
func (e *Engine) startRecognizer(ctx context.Context, sessionID string) bool {
	adapter, ok := e.deps.Speech.DetectSpeechEngine(ctx)
	if !ok || adapter == nil {
		e.logger.Info().Msg("No speech engine available, using fallback mode")
		return false
	}

	if err := adapter.Start(e.bg, &listener{e: e, sessionID: sessionID}); err != nil && !errors.Is(err, stt.ErrAlreadyStarted) {
		e.metrics.RecordRecognizerError(e.cfg.Provider, errorType(err))
		e.logger.Warn().Err(err).Msg("Speech engine failed to start, using fallback mode")
		adapter.Close()
		return false
	}

	e.mu.Lock()
	e.adapter = adapter
	e.mu.Unlock()
	return true
}

// Stop ends the session and returns its transcript and audio. It is a no-op
// returning an empty Result when nothing is recording.
func (e *Engine) Stop(ctx context.Context) (Result, error) {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	e.mu.Lock()
	if e.lc.state != StateRecording && e.lc.state != StatePaused {
		e.mu.Unlock()
		return Result{}, nil
	}
	e.lc.to(StateStopping)
	e.session.State = StateStopping
	adapter := e.adapter
	rec := e.recorder
	logger := e.logger
	e.stopSilenceLocked()
	e.stopTickerLocked()
	e.mu.Unlock()

	if adapter != nil {
		if err := adapter.Stop(); err != nil {
			logger.Debug().Err(err).Msg("Speech engine stop")
		}
	}

	if e.cfg.FlushGrace > 0 {
		select {
		case <-e.clock.After(e.cfg.FlushGrace):
		case <-ctx.Done():
		}
	}

	if rec != nil {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recorderStopTimeout)
		if err := rec.Stop(stopCtx); err != nil && !errors.Is(err, platform.ErrRecorderInactive) {
			logger.Warn().Err(err).Msg("Recorder stop failed")
		}
		cancel()
	}

	e.mu.Lock()
	e.releaseTracksLocked()
	e.recorder = nil
	e.adapter = nil

	chunks := e.session.AudioChunks
	e.session.AudioChunks = nil
	var blob *platform.Blob
	if len(chunks) > 0 {
		blob = &platform.Blob{Data: bytes.Join(chunks, nil), MIMEType: e.cfg.MIMEType}
	}
	e.session.FinalAudio = blob

	if interim := strings.TrimSpace(e.session.InterimText); interim != "" {
		e.session.LiveTranscript = joinTranscript(e.session.LiveTranscript, interim)
		e.session.InterimText = ""
	}

	duration := e.clock.Since(e.startedAt)
	e.session.DurationSeconds = int(duration.Seconds())
	res := Result{
		SessionID:         e.session.ID,
		Transcript:        strings.TrimSpace(e.session.LiveTranscript),
		Audio:             blob,
		DurationSeconds:   e.session.DurationSeconds,
		UsingFallbackMode: e.session.UsingFallbackMode,
	}
	e.mu.Unlock()

	if adapter != nil {
		adapter.Close()
	}

	if res.Transcript == "" && e.deps.Transcriber != nil {
		start := time.Now()
		tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), transcribeTimeout)
		text, err := e.deps.Transcriber.Transcribe(tctx, transcribe.Request{Duration: duration, Audio: blob})
		cancel()
		if err != nil {
			logger.Error().Err(err).Msg("Fallback transcription failed")
			e.notifyError("The transcript could not be generated for this recording.")
		} else {
			res.Transcript = strings.TrimSpace(text)
			res.SyntheticTranscript = true
			e.deps.Audit.Log(e.cfg.ActorID, audit.ActionTranscriptionFallbackUsed, audit.EntityRecording, res.SessionID, map[string]any{
				"backend":         e.deps.Transcriber.Name(),
				"durationSeconds": res.DurationSeconds,
				"latencyMs":       time.Since(start).Milliseconds(),
			})
		}
	}

	e.mu.Lock()
	e.session.LiveTranscript = res.Transcript
	e.session.IsRecording = false
	e.session.IsPaused = false
	e.session.State = StateStopped
	e.lc.to(StateStopped)
	e.mu.Unlock()

	e.metrics.RecordRecordingStop(duration.Seconds())
	e.deps.Audit.Log(e.cfg.ActorID, audit.ActionRecordingStopped, audit.EntityRecording, res.SessionID, map[string]any{
		"durationSeconds": res.DurationSeconds,
		"audioBytes":      res.Audio.Size(),
		"chunks":          len(chunks),
	})
	e.deps.Audit.Log(e.cfg.ActorID, audit.ActionTranscriptionCompleted, audit.EntityRecording, res.SessionID, map[string]any{
		"characters": len(res.Transcript),
		"synthetic":  res.SyntheticTranscript,
	})
	logger.Info().
		Int("durationSeconds", res.DurationSeconds).
		Int("audioBytes", res.Audio.Size()).
		Bool("synthetic", res.SyntheticTranscript).
		Msg("Recording stopped")

	if e.cb.OnRecordingStateChange != nil {
		e.cb.OnRecordingStateChange(false)
	}
	return res, nil
}

// Pause suspends recognition and duration counting. Capture continues when
// the recorder cannot pause.
func (e *Engine) Pause() error {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	e.mu.Lock()
	if e.lc.state == StateDestroyed {
		e.mu.Unlock()
		return ErrDestroyed
	}
	if e.lc.state != StateRecording {
		e.mu.Unlock()
		return nil
	}
	e.lc.to(StatePaused)
	e.session.State = StatePaused
	e.session.IsPaused = true
	e.stopSilenceLocked()
	adapter := e.adapter
	rec := e.recorder
	logger := e.logger
	e.mu.Unlock()

	if adapter != nil {
		if err := adapter.Stop(); err != nil {
			logger.Debug().Err(err).Msg("Speech engine stop on pause")
		}
	}
	if rec != nil {
		if err := rec.Pause(); errors.Is(err, platform.ErrPauseUnsupported) {
			logger.Info().Msg("Recorder cannot pause, capture continues")
		} else if err != nil {
			logger.Warn().Err(err).Msg("Recorder pause failed")
		}
	}
	logger.Info().Msg("Recording paused")
	return nil
}

// Resume restarts recognition and duration counting after Pause.
func (e *Engine) Resume() error {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	e.mu.Lock()
	if e.lc.state == StateDestroyed {
		e.mu.Unlock()
		return ErrDestroyed
	}
	if e.lc.state != StatePaused {
		e.mu.Unlock()
		return nil
	}
	e.lc.to(StateRecording)
	e.session.State = StateRecording
	e.session.IsPaused = false
	adapter := e.adapter
	rec := e.recorder
	fallback := e.session.UsingFallbackMode
	sessionID := e.session.ID
	logger := e.logger
	if adapter != nil && !fallback {
		e.segments.Resume()
		e.armSilenceLocked()
	}
	e.mu.Unlock()

	if rec != nil {
		if err := rec.Resume(); err != nil && !errors.Is(err, platform.ErrPauseUnsupported) {
			logger.Warn().Err(err).Msg("Recorder resume failed")
		}
	}
	if adapter != nil && !fallback {
		e.restartRecognizer(adapter, sessionID)
	}
	logger.Info().Msg("Recording resumed")
	return nil
}

// Destroy releases everything the engine holds. It is idempotent and safe
// to call in any state.
func (e *Engine) Destroy() {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	e.mu.Lock()
	if e.lc.state == StateDestroyed {
		e.mu.Unlock()
		return
	}
	wasCapturing := e.lc.state.IsCapturing()
	e.lc.to(StateDestroyed)
	e.session.State = StateDestroyed
	e.session.IsRecording = false
	e.session.IsPaused = false
	e.session.AudioChunks = nil
	e.stopSilenceLocked()
	e.stopTickerLocked()
	adapter := e.adapter
	e.adapter = nil
	rec := e.recorder
	e.recorder = nil
	urls := e.urls
	e.urls = nil
	logger := e.logger
	e.mu.Unlock()

	if rec != nil {
		ctx, cancel := context.WithTimeout(context.Background(), recorderStopTimeout)
		rec.Stop(ctx)
		cancel()
	}

	e.mu.Lock()
	e.releaseTracksLocked()
	e.mu.Unlock()

	if adapter != nil {
		adapter.Stop()
		adapter.Close()
	}
	for _, u := range urls {
		e.deps.Blobs.Revoke(u)
	}

	if wasCapturing {
		e.metrics.RecordRecordingReleased()
	}
	logger.Info().Bool("wasRecording", wasCapturing).Int("revokedUrls", len(urls)).Msg("Recording engine destroyed")
}

// CreatePlaybackURL registers blob for playback. The URL is revoked on
// Destroy. It returns "" for a nil blob or a destroyed engine.
func (e *Engine) CreatePlaybackURL(blob *platform.Blob) string {
	if blob == nil {
		return ""
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lc.state == StateDestroyed {
		return ""
	}
	u := e.deps.Blobs.Create(blob)
	e.urls = append(e.urls, u)
	return u
}

// Snapshot returns a copy of the current session.
func (e *Engine) Snapshot() Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.session.clone()
	s.State = e.lc.state
	return s
}

// State returns the lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lc.state
}

func (e *Engine) chunkHandler(sessionID string) func([]byte) {
	return func(b []byte) {
		if len(b) == 0 {
			return
		}
		chunk := append([]byte(nil), b...)

		e.mu.Lock()
		if e.session.ID != sessionID || !e.lc.state.IsCapturing() {
			e.mu.Unlock()
			return
		}
		e.session.AudioChunks = append(e.session.AudioChunks, chunk)
		var adapter stt.Adapter
		if e.lc.state == StateRecording && !e.session.UsingFallbackMode {
			adapter = e.adapter
		}
		ctx := e.bg
		logger := e.logger
		e.mu.Unlock()

		e.metrics.RecordAudioCaptured(len(chunk))
		if adapter != nil {
			if err := adapter.SendAudio(ctx, chunk); err != nil {
				logger.Debug().Err(err).Msg("Speech engine rejected audio")
			}
		}
	}
}

// tick advances the duration counter while recording.
func (e *Engine) tick() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lc.state == StateRecording {
		e.session.DurationSeconds++
	}
}

func (e *Engine) startTickerLocked() {
	e.ticker = e.clock.NewTicker(time.Second)
	e.tickDone = make(chan struct{})
	ticker, done := e.ticker, e.tickDone
	go func() {
		for {
			select {
			case <-ticker.Chan():
				e.tick()
			case <-done:
				return
			}
		}
	}()
}

func (e *Engine) stopTickerLocked() {
	if e.ticker == nil {
		return
	}
	e.ticker.Stop()
	close(e.tickDone)
	e.ticker = nil
	e.tickDone = nil
}

func (e *Engine) armSilenceLocked() {
	e.stopSilenceLocked()
	if e.cfg.SilenceWindow <= 0 {
		return
	}
	e.silenceN++
	n := e.silenceN
	e.silence = e.clock.AfterFunc(e.cfg.SilenceWindow, func() { e.silenceElapsed(n) })
}

func (e *Engine) stopSilenceLocked() {
	if e.silence != nil {
		e.silence.Stop()
		e.silence = nil
	}
}

func (e *Engine) silenceElapsed(n int) {
	e.mu.Lock()
	fire := n == e.silenceN && e.silence != nil && e.lc.state == StateRecording
	if fire {
		e.silence = nil
	}
	e.mu.Unlock()

	if fire && e.cb.OnSilence != nil {
		e.cb.OnSilence()
	}
}

func (e *Engine) releaseTracksLocked() {
	stopTracks(e.tracks)
	e.tracks = nil
}

func stopTracks(tracks []platform.Track) {
	for _, t := range tracks {
		t.Stop()
	}
}

func (e *Engine) fail(sessionID string, rerr *Error) error {
	e.metrics.RecordRecordingFailed(rerr.Kind.String())
	e.deps.Audit.Log(e.cfg.ActorID, audit.ActionRecordingError, audit.EntityRecording, sessionID, map[string]any{
		"kind":  rerr.Kind.String(),
		"error": rerr.Error(),
	})
	e.logger.Warn().Err(rerr).Msg("Recording failed to start")
	e.notifyError(rerr.UserMessage())
	return rerr
}

func (e *Engine) notifyError(msg string) {
	if e.cb.OnError != nil {
		e.cb.OnError(msg)
	}
}

func (e *Engine) restartRecognizer(adapter stt.Adapter, sessionID string) {
	err := adapter.Start(e.bg, &listener{e: e, sessionID: sessionID})
	switch {
	case err == nil, errors.Is(err, stt.ErrAlreadyStarted):
	case errors.Is(err, stt.ErrNetwork):
		e.enterFallback(sessionID, err)
	default:
		e.metrics.RecordRecognizerError(e.cfg.Provider, errorType(err))
		e.logger.Warn().Err(err).Msg("Speech engine restart failed")
	}
}

// enterFallback switches the session to fallback mode for good.
func (e *Engine) enterFallback(sessionID string, cause error) {
	e.mu.Lock()
	if e.session.ID != sessionID || e.session.UsingFallbackMode {
		e.mu.Unlock()
		return
	}
	e.session.UsingFallbackMode = true
	e.segments.Drop()
	e.stopSilenceLocked()
	adapter := e.adapter
	logger := e.logger
	e.mu.Unlock()

	if adapter != nil {
		adapter.Stop()
	}

	rerr := &Error{Kind: KindRecognitionNetwork, Err: cause}
	e.metrics.RecordRecognizerError(e.cfg.Provider, "network")
	e.deps.Audit.Log(e.cfg.ActorID, audit.ActionRecordingError, audit.EntityRecording, sessionID, map[string]any{
		"kind":  rerr.Kind.String(),
		"error": cause.Error(),
	})
	logger.Warn().Err(cause).Msg("Speech engine network error, switching to fallback mode")
	e.notifyError(rerr.UserMessage())
}

func (e *Engine) publishPartial(ctx context.Context, ev models.TranscriptPartial) {
	if e.deps.Publisher == nil {
		return
	}
	if err := e.deps.Publisher.PublishPartial(ctx, ev.SessionID, ev); err != nil {
		e.logger.Warn().Err(err).Str("segmentId", ev.SegmentID).Msg("Failed to publish partial")
	}
}

func (e *Engine) publishFinal(ctx context.Context, ev models.TranscriptFinal) {
	if e.deps.Publisher == nil {
		return
	}
	if err := e.deps.Publisher.PublishFinal(ctx, ev.SessionID, ev); err != nil {
		e.logger.Warn().Err(err).Str("segmentId", ev.SegmentID).Msg("Failed to publish final")
	}
}

func joinTranscript(transcript, text string) string {
	if transcript == "" {
		return text
	}
	return transcript + " " + text
}

func errorType(err error) string {
	switch {
	case errors.Is(err, stt.ErrNetwork):
		return "network"
	case errors.Is(err, stt.ErrNoSpeech):
		return "no_speech"
	case errors.Is(err, stt.ErrAborted):
		return "aborted"
	default:
		return "other"
	}
}
