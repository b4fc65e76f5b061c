package events

import (
	"testing"

	"clinical-dictation-service/internal/models"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name      string
		value     string
		wantType  string
		wantError bool
	}{
		{"final transcript", `{"eventType":"dictation.transcript.final","text":"hello"}`, models.EventTranscriptFinal, false},
		{"audit", `{"eventType":"clinic.audit","action":"SESSION_LOCKED"}`, models.EventAudit, false},
		{"no event type", `{"text":"hello"}`, "", false},
		{"not json", `hello`, "", true},
		{"array", `[1,2]`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := Decode("topic-a", []byte("clin-1"), []byte(tt.value))
			if tt.wantError {
				if err == nil {
					t.Fatalf("Decode(%q) succeeded", tt.value)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode(%q) error = %v", tt.value, err)
			}
			if env.EventType != tt.wantType {
				t.Errorf("EventType = %q, want %q", env.EventType, tt.wantType)
			}
			if env.Topic != "topic-a" || env.Key != "clin-1" {
				t.Errorf("routing = %q/%q", env.Topic, env.Key)
			}
			if string(env.Payload) != tt.value {
				t.Errorf("Payload = %s, want %s", env.Payload, tt.value)
			}
		})
	}
}

func TestDecode_CopiesValue(t *testing.T) {
	value := []byte(`{"eventType":"x"}`)
	env, err := Decode("t", nil, value)
	if err != nil {
		t.Fatal(err)
	}
	value[2] = 'X'
	if string(env.Payload) != `{"eventType":"x"}` {
		t.Errorf("Payload aliased the message buffer: %s", env.Payload)
	}
}
