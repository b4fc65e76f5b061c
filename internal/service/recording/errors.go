package recording

import (
	"errors"
	"fmt"

	"clinical-dictation-service/internal/platform"
)

var (
	// ErrAlreadyRecording is returned by Start while a session is active.
	ErrAlreadyRecording = errors.New("recording already in progress")
	// ErrDestroyed is returned by operations on a destroyed engine.
	ErrDestroyed = errors.New("recording engine destroyed")
)

// ErrorKind classifies recording failures.
type ErrorKind int

const (
	KindPermissionDenied ErrorKind = iota
	KindDeviceNotFound
	KindCaptureFailure
	KindRecognitionNetwork
	KindRecognitionOther
)

func (k ErrorKind) String() string {
	switch k {
	case KindPermissionDenied:
		return "permission_denied"
	case KindDeviceNotFound:
		return "device_not_found"
	case KindCaptureFailure:
		return "capture_failure"
	case KindRecognitionNetwork:
		return "recognition_network"
	case KindRecognitionOther:
		return "recognition_other"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Error is a classified recording failure.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// UserMessage is the text shown to the clinician.
func (e *Error) UserMessage() string {
	switch e.Kind {
	case KindPermissionDenied:
		return "Microphone access was denied. Allow microphone access for this site in your browser settings, then try again."
	case KindDeviceNotFound:
		return "No microphone was found. Connect a microphone and try again."
	case KindCaptureFailure:
		return "Audio capture could not be started. Please try again."
	case KindRecognitionNetwork:
		return "Live transcription is unavailable because of a network problem. Recording continues and a transcript will be produced when you stop."
	default:
		if e.Err != nil {
			return "Live transcription error: " + e.Err.Error()
		}
		return "Live transcription error."
	}
}

func classifyOpen(err error) *Error {
	switch {
	case errors.Is(err, platform.ErrPermissionDenied):
		return &Error{Kind: KindPermissionDenied, Err: err}
	case errors.Is(err, platform.ErrDeviceNotFound):
		return &Error{Kind: KindDeviceNotFound, Err: err}
	default:
		return &Error{Kind: KindCaptureFailure, Err: err}
	}
}
