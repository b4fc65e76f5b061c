// Package transcribe turns a finished recording into text when live
// recognition produced none.
package transcribe

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"clinical-dictation-service/internal/observability/metrics"
	"clinical-dictation-service/internal/platform"
)

// ErrEmptyTranscript is returned by backends that heard nothing.
var ErrEmptyTranscript = errors.New("transcriber returned empty text")

// Request describes a finished recording.
type Request struct {
	Duration time.Duration
	// Audio may be nil when no chunks were captured.
	Audio *platform.Blob
}

// Transcriber converts a recording to text.
type Transcriber interface {
	Transcribe(ctx context.Context, req Request) (string, error)
	// Name identifies the backend in logs and metrics.
	Name() string
}

// Chain tries each transcriber in order and returns the first non-empty
// result. The last transcriber should never fail (Synthetic).
type Chain struct {
	backends []Transcriber
	logger   zerolog.Logger
	metrics  *metrics.Metrics
}

// NewChain creates a chain over backends.
func NewChain(backends ...Transcriber) *Chain {
	return &Chain{
		backends: backends,
		logger:   log.With().Str("component", "transcribe").Logger(),
		metrics:  metrics.DefaultMetrics,
	}
}

func (c *Chain) Name() string {
	names := make([]string, 0, len(c.backends))
	for _, b := range c.backends {
		names = append(names, b.Name())
	}
	return strings.Join(names, ">")
}

func (c *Chain) Transcribe(ctx context.Context, req Request) (string, error) {
	var lastErr error = ErrEmptyTranscript
	for _, b := range c.backends {
		start := time.Now()
		text, err := b.Transcribe(ctx, req)
		if err == nil && strings.TrimSpace(text) == "" {
			err = ErrEmptyTranscript
		}
		if err != nil {
			c.logger.Warn().Err(err).Str("backend", b.Name()).Msg("Transcriber failed, trying next")
			lastErr = err
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			continue
		}
		c.metrics.RecordFallbackTranscript(b.Name(), time.Since(start).Seconds())
		return text, nil
	}
	return "", lastErr
}
