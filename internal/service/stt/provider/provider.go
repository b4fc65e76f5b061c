// Package provider detects which speech engine is available.
package provider

import (
	"context"

	"github.com/rs/zerolog/log"

	"clinical-dictation-service/internal/config"
	"clinical-dictation-service/internal/service/stt"
	"clinical-dictation-service/internal/service/stt/google"
	"clinical-dictation-service/internal/service/stt/mock"
)

// New returns the probe for the configured provider. Every call to
// DetectSpeechEngine yields a fresh engine because engines are owned by a
// single recording engine and closed on its teardown.
func New(cfg config.STTConfig) stt.Provider {
	switch cfg.Provider {
	case "google":
		gcfg := google.Config{
			LanguageCode:   cfg.LanguageCode,
			SampleRateHz:   cfg.SampleRateHz,
			InterimResults: cfg.InterimResults,
			AudioEncoding:  cfg.AudioEncoding,
			Model:          cfg.Model,
		}
		return stt.ProviderFunc(func(ctx context.Context) (stt.Adapter, bool) {
			a, err := google.New(ctx, gcfg)
			if err != nil {
				log.Warn().Err(err).Msg("Google speech engine unavailable, using fallback mode")
				return nil, false
			}
			return a, true
		})
	case "mock":
		return stt.ProviderFunc(func(context.Context) (stt.Adapter, bool) {
			return mock.New(), true
		})
	default:
		return stt.None
	}
}
