// Package platform abstracts the capture capabilities the recording engine
// depends on: microphone access, chunked recording and playback blob URLs.
package platform

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrPermissionDenied is returned by Microphone.Open when access is refused.
	ErrPermissionDenied = errors.New("microphone permission denied")
	// ErrDeviceNotFound is returned by Microphone.Open when no input device exists.
	ErrDeviceNotFound = errors.New("no microphone device found")
	// ErrPauseUnsupported is returned by recorders that cannot pause.
	ErrPauseUnsupported = errors.New("recorder does not support pause")
	// ErrRecorderInactive is returned when stopping a recorder that never started.
	ErrRecorderInactive = errors.New("recorder is not active")
)

// Constraints are capture hints passed to the microphone.
type Constraints struct {
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// DictationConstraints are the hints used for clinical dictation.
func DictationConstraints() Constraints {
	return Constraints{
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
	}
}

// Track is one live input track. Stop releases the device.
type Track interface {
	ID() string
	Stop()
}

// MediaStream is an open microphone stream.
type MediaStream interface {
	Tracks() []Track
	// NewRecorder creates a chunk recorder over this stream.
	NewRecorder(mimeType string) (ChunkRecorder, error)
}

// Microphone requests access to an input device.
type Microphone interface {
	Open(ctx context.Context, c Constraints) (MediaStream, error)
}

// ChunkRecorder emits captured audio in fragments of roughly timeslice length.
// onData is called in capture order from the recorder's goroutine.
type ChunkRecorder interface {
	Start(timeslice time.Duration, onData func([]byte)) error
	// Pause may return ErrPauseUnsupported; capture then continues.
	Pause() error
	Resume() error
	// Stop flushes buffered audio through onData and returns once the
	// recorder has fully stopped.
	Stop(ctx context.Context) error
}

// Blob is an assembled audio artifact.
type Blob struct {
	Data     []byte
	MIMEType string
}

// Size returns the blob length in bytes.
func (b *Blob) Size() int {
	if b == nil {
		return 0
	}
	return len(b.Data)
}

// Extension returns a file extension for the blob's MIME type, defaulting
// to .webm.
func (b *Blob) Extension() string {
	if b == nil {
		return ".webm"
	}
	base, _, _ := strings.Cut(b.MIMEType, ";")
	switch strings.TrimSpace(base) {
	case "audio/ogg":
		return ".ogg"
	case "audio/wav", "audio/x-wav":
		return ".wav"
	case "audio/mpeg":
		return ".mp3"
	case "audio/mp4":
		return ".m4a"
	default:
		return ".webm"
	}
}
