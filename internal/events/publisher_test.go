package events

import (
	"context"
	"testing"

	"clinical-dictation-service/internal/models"
)

func TestNew_DisabledMode(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
	}{
		{"nil config", nil},
		{"disabled", &Config{Enabled: false, Brokers: []string{"localhost:9092"}}},
		{"no brokers", &Config{Enabled: true, Brokers: []string{}}},
		{"empty brokers", &Config{Enabled: true, Brokers: nil}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(tt.cfg)
			if p == nil {
				t.Fatal("expected non-nil publisher")
			}
			if p.enabled {
				t.Error("expected publisher to be disabled")
			}
			if p.writerPartial != nil || p.writerFinal != nil || p.writerAudit != nil {
				t.Error("expected nil writers when disabled")
			}
		})
	}
}

func TestNew_ConfigValues(t *testing.T) {
	p := New(&Config{
		Enabled:      false,
		Brokers:      []string{"localhost:9092"},
		TopicPartial: "test.partial",
		TopicFinal:   "test.final",
		TopicAudit:   "test.audit",
		Principal:    "test-principal",
	})

	if p.principal != "test-principal" {
		t.Errorf("expected principal 'test-principal', got %s", p.principal)
	}
	if p.topicPartial != "test.partial" {
		t.Errorf("expected topic partial 'test.partial', got %s", p.topicPartial)
	}
	if p.topicFinal != "test.final" {
		t.Errorf("expected topic final 'test.final', got %s", p.topicFinal)
	}
	if p.topicAudit != "test.audit" {
		t.Errorf("expected topic audit 'test.audit', got %s", p.topicAudit)
	}
}

func TestPublisher_Disabled_PublishesWithoutError(t *testing.T) {
	p := New(&Config{Enabled: false, Principal: "test-svc"})
	ctx := context.Background()

	partial := models.TranscriptPartial{
		EventType: models.EventTranscriptPartial,
		SessionID: "sess-1",
		Text:      "patient reports",
	}
	if err := p.PublishPartial(ctx, "sess-1", partial); err != nil {
		t.Errorf("expected no error publishing partial, got %v", err)
	}

	final := models.TranscriptFinal{
		EventType:  models.EventTranscriptFinal,
		SessionID:  "sess-1",
		Text:       "patient reports mild headache",
		Confidence: 0.92,
	}
	if err := p.PublishFinal(ctx, "sess-1", final); err != nil {
		t.Errorf("expected no error publishing final, got %v", err)
	}

	audit := models.AuditEntry{ID: "01H", ActorID: "user-1", Action: "RECORDING_STARTED"}
	if err := p.PublishAudit(ctx, "user-1", audit); err != nil {
		t.Errorf("expected no error publishing audit, got %v", err)
	}
}

func TestPublisher_InvalidJSON(t *testing.T) {
	p := New(&Config{Enabled: false})
	event := make(chan int)

	if err := p.PublishPartial(context.Background(), "k", event); err == nil {
		t.Error("expected error for unmarshalable partial")
	}
	if err := p.PublishFinal(context.Background(), "k", event); err == nil {
		t.Error("expected error for unmarshalable final")
	}
	if err := p.PublishAudit(context.Background(), "k", event); err == nil {
		t.Error("expected error for unmarshalable audit entry")
	}
}

func TestPublisher_Close_NoWriters(t *testing.T) {
	p := New(&Config{Enabled: false})

	if err := p.Close(); err != nil {
		t.Errorf("expected no error closing disabled publisher, got %v", err)
	}

	empty := &Publisher{}
	if err := empty.Close(); err != nil {
		t.Errorf("expected no error closing publisher with nil writers, got %v", err)
	}
}
