package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"clinical-dictation-service/internal/config"
	"clinical-dictation-service/internal/dataservice"
	"clinical-dictation-service/internal/identity"
	"clinical-dictation-service/internal/platform"
	"clinical-dictation-service/internal/service/transcribe"
)

func inMemoryConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("JWT_SECRET", "0123456789abcdef0123")
	t.Setenv("AUTH_DEV_USER_EMAIL", "dev@example.com")
	t.Setenv("AUTH_DEV_USER_PASSWORD", "s3cret")
	t.Setenv("STT_PROVIDER", "none")
	return config.Load()
}

func TestStart_InMemory(t *testing.T) {
	a := New(inMemoryConfig(t))
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer a.Shutdown()

	if _, ok := a.Data.(*dataservice.Memory); !ok {
		t.Errorf("Data = %T, want *dataservice.Memory", a.Data)
	}
	if a.API == nil || !a.API.Ready() {
		t.Fatal("API not ready after Start")
	}

	token, id, err := a.Identity.Login(context.Background(), "dev@example.com", "s3cret")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if token == "" || id.ID != devUserID {
		t.Errorf("Login() = %q, %+v", token, id)
	}

	ctx := identity.WithIdentity(context.Background(), id)
	if _, err := a.Workspaces.Create(ctx); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	a.Shutdown()
	if a.Workspaces.Len() != 0 {
		t.Errorf("workspaces after Shutdown = %d, want 0", a.Workspaces.Len())
	}
	if a.API.Ready() {
		t.Error("API still ready after Shutdown")
	}
}

func TestStart_InvalidConfig(t *testing.T) {
	cfg := inMemoryConfig(t)
	cfg.Auth.JWTSecret = "short"

	a := New(cfg)
	if err := a.Start(context.Background()); err == nil {
		a.Shutdown()
		t.Fatal("Start() with short secret succeeded")
	}
}

func TestNewTranscriber(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.TranscriptionConfig
		want string
	}{
		{"synthetic", config.TranscriptionConfig{Backend: "synthetic"}, "synthetic"},
		{"whisper without key", config.TranscriptionConfig{Backend: "whisper"}, "synthetic"},
		{"whisper", config.TranscriptionConfig{Backend: "whisper", OpenAIAPIKey: "sk-test"}, "whisper>synthetic"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NewTranscriber(tt.cfg).Name(); got != tt.want {
				t.Errorf("Name() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewTranscriber_BaseURL(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if !strings.HasSuffix(r.URL.Path, "/audio/transcriptions") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"Follow up in two weeks."}`))
	}))
	defer srv.Close()

	tr := NewTranscriber(config.TranscriptionConfig{
		Backend:      "whisper",
		OpenAIAPIKey: "sk-test",
		BaseURL:      srv.URL + "/v1",
		Language:     "en",
	})
	if tr.Name() != "whisper>synthetic" {
		t.Fatalf("Name() = %q", tr.Name())
	}

	text, err := tr.Transcribe(context.Background(), transcribe.Request{
		Duration: 5 * time.Second,
		Audio:    &platform.Blob{Data: []byte("audio"), MIMEType: "audio/webm"},
	})
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if text != "Follow up in two weeks." {
		t.Errorf("Transcribe() = %q", text)
	}
	if calls.Load() != 1 {
		t.Errorf("server calls = %d, want 1", calls.Load())
	}
}

func TestRecordingConfig(t *testing.T) {
	cfg := inMemoryConfig(t)
	rc := RecordingConfig(cfg)
	if rc.ChunkInterval != cfg.Recording.ChunkInterval || rc.MIMEType != cfg.Recording.MIMEType {
		t.Errorf("RecordingConfig() = %+v", rc)
	}
	if rc.Provider != "none" {
		t.Errorf("Provider = %q, want none", rc.Provider)
	}
	if rc.ActorID != "" {
		t.Errorf("ActorID = %q, want empty", rc.ActorID)
	}
}
