package provider

import (
	"context"
	"testing"

	"clinical-dictation-service/internal/config"
)

func TestNew_Detection(t *testing.T) {
	tests := []struct {
		provider string
		want     bool
	}{
		{"mock", true},
		{"none", false},
		{"", false},
		{"unknown", false},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			a, ok := New(config.STTConfig{Provider: tt.provider}).DetectSpeechEngine(context.Background())
			if ok != tt.want {
				t.Fatalf("DetectSpeechEngine() ok = %v, want %v", ok, tt.want)
			}
			if ok && a == nil {
				t.Fatal("expected an engine when detection succeeds")
			}
			if a != nil {
				a.Close()
			}
		})
	}
}

func TestNew_MockYieldsFreshEngines(t *testing.T) {
	p := New(config.STTConfig{Provider: "mock"})

	a, _ := p.DetectSpeechEngine(context.Background())
	b, _ := p.DetectSpeechEngine(context.Background())
	defer a.Close()
	defer b.Close()

	if a == b {
		t.Error("expected a new engine per detection")
	}
}
