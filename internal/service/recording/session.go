package recording

import (
	"time"

	"clinical-dictation-service/internal/platform"
)

// Session is the state of one recording from Start to Stop.
type Session struct {
	ID          string
	State       State
	IsRecording bool
	IsPaused    bool
	StartTime   *time.Time
	// DurationSeconds counts ticks while recording and not paused. At stop
	// it is set to the wall-clock time since StartTime.
	DurationSeconds int
	// LiveTranscript accumulates final results.
	LiveTranscript string
	// InterimText is the latest partial result, replaced on each partial.
	InterimText string
	// AudioChunks hold captured fragments in capture order until stop.
	AudioChunks [][]byte
	// FinalAudio is assembled once at stop. Nil when nothing was captured.
	FinalAudio        *platform.Blob
	UsingFallbackMode bool
}

func (s Session) clone() Session {
	c := s
	if s.StartTime != nil {
		t := *s.StartTime
		c.StartTime = &t
	}
	c.AudioChunks = append([][]byte(nil), s.AudioChunks...)
	return c
}

// Result is what Stop returns.
type Result struct {
	SessionID       string
	Transcript      string
	Audio           *platform.Blob
	DurationSeconds int
	// SyntheticTranscript is set when the transcript came from the
	// transcriber instead of live recognition.
	SyntheticTranscript bool
	UsingFallbackMode   bool
}
