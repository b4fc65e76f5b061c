// Package stt defines the speech engine contract used for live dictation.
package stt

import (
	"context"
	"errors"
)

// Errors a speech engine reports through Callback.OnError or returns from
// Start. Implementations wrap them with %w so callers can use errors.Is.
var (
	// ErrAlreadyStarted is returned by Start while the engine is listening.
	ErrAlreadyStarted = errors.New("speech engine already started")
	// ErrNoSpeech means nothing was heard within the engine's own window.
	ErrNoSpeech = errors.New("no speech detected")
	// ErrAborted means the engine was interrupted, usually by Stop.
	ErrAborted = errors.New("recognition aborted")
	// ErrNetwork means the engine lost its backend connection.
	ErrNetwork = errors.New("recognition network error")
)

// Callback receives recognition results from a speech engine.
type Callback interface {
	// OnPartial is called with interim text that replaces the previous interim text.
	OnPartial(text string)

	// OnFinal is called when a segment of text is confirmed.
	OnFinal(text string, confidence float64)

	// OnError is called when an error occurs during recognition.
	OnError(err error)

	// OnEnd is called when the engine stops listening, whether asked to or
	// because the provider closed its listening window.
	OnEnd()
}

// Adapter is a continuous speech engine (Google, mock, ...).
type Adapter interface {
	// Start begins listening. It returns ErrAlreadyStarted if the engine is running.
	Start(ctx context.Context, cb Callback) error

	// SendAudio feeds captured audio. Engines that capture on their own ignore it.
	SendAudio(ctx context.Context, audio []byte) error

	// Stop ends the current listening window; OnEnd follows.
	Stop() error

	// Close releases the engine for good.
	Close() error
}

// Provider probes for a speech engine. It reports false when the platform
// has none, which puts the recording engine in fallback mode.
type Provider interface {
	DetectSpeechEngine(ctx context.Context) (Adapter, bool)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context) (Adapter, bool)

// DetectSpeechEngine calls f.
func (f ProviderFunc) DetectSpeechEngine(ctx context.Context) (Adapter, bool) {
	return f(ctx)
}

// None is a Provider for platforms without speech recognition.
var None Provider = ProviderFunc(func(context.Context) (Adapter, bool) { return nil, false })
