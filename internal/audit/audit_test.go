package audit

import (
	"context"
	"errors"
	"testing"

	"clinical-dictation-service/internal/dataservice"
	"clinical-dictation-service/internal/events"
	"clinical-dictation-service/internal/identity"
	"clinical-dictation-service/internal/models"
)

type failingSink struct{ panics bool }

func (f failingSink) Name() string { return "failing" }

func (f failingSink) Record(ctx context.Context, e models.AuditEntry) error {
	if f.panics {
		panic("sink exploded")
	}
	return errors.New("sink down")
}

func TestLogger_RecordsEntry(t *testing.T) {
	sink := &MemorySink{}
	l := NewLogger(sink)

	l.Log("u-1", ActionRecordingStarted, EntityRecording, "r-1", map[string]any{"fallback": false})
	l.Flush()

	entries := sink.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.ID == "" || len(e.ID) != 26 {
		t.Errorf("expected a ULID id, got %q", e.ID)
	}
	if e.ActorID != "u-1" || e.Action != ActionRecordingStarted || e.EntityID != "r-1" {
		t.Errorf("unexpected entry: %+v", e)
	}
	if e.EventType != models.EventAudit {
		t.Errorf("expected event type %s, got %s", models.EventAudit, e.EventType)
	}
}

func TestLogger_SinkFailuresAreSwallowed(t *testing.T) {
	sink := &MemorySink{}
	l := NewLogger(failingSink{}, failingSink{panics: true}, sink)

	l.Log("u-1", ActionSessionLocked, EntitySession, "", nil)
	l.Flush()

	if got := sink.Actions(); len(got) != 1 || got[0] != ActionSessionLocked {
		t.Errorf("expected later sinks to still record, got %v", got)
	}
}

func TestLogger_PreservesOrder(t *testing.T) {
	sink := &MemorySink{}
	l := NewLogger(sink)

	want := []string{ActionSessionLocked, ActionUnlockFailed, ActionUnlockFailed, ActionSessionUnlocked, ActionRecordingStarted}
	for i := 0; i < 20; i++ {
		for _, action := range want {
			l.Log("u-1", action, EntitySession, "", nil)
		}
	}
	l.Flush()

	got := sink.Actions()
	if len(got) != 20*len(want) {
		t.Fatalf("expected %d entries, got %d", 20*len(want), len(got))
	}
	for i, action := range got {
		if action != want[i%len(want)] {
			t.Fatalf("entry %d = %s, want %s (order %v)", i, action, want[i%len(want)], got[:len(want)])
		}
	}
}

func TestLogger_FlushWithoutEntries(t *testing.T) {
	l := NewLogger(&MemorySink{})
	l.Flush()
	NewLogger().Flush()
}

func TestLogger_Nil(t *testing.T) {
	var l *Logger
	l.Log("u-1", ActionSessionLocked, EntitySession, "", nil)
	l.Flush()
}

func TestKafkaSink_DisabledPublisher(t *testing.T) {
	sink := NewKafkaSink(events.New(&events.Config{Enabled: false, TopicAudit: "clinic.audit"}))

	err := sink.Record(context.Background(), models.AuditEntry{ID: "x", ActorID: "u-1", Action: ActionUnlockFailed})
	if err != nil {
		t.Errorf("expected log-only publish to succeed, got %v", err)
	}
}

func TestTableSink_InsertsAsActor(t *testing.T) {
	data := dataservice.NewMemory()
	sink := NewTableSink(data)

	err := sink.Record(context.Background(), models.AuditEntry{
		ID:         "01J0000000000000000000000",
		ActorID:    "u-1",
		Action:     ActionLogoutUnsignedOverride,
		EntityType: EntityNote,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx := identity.WithIdentity(context.Background(), identity.Identity{ID: "u-1"})
	rows, _ := data.Select(ctx, "audit_logs", dataservice.Eq("actor_id", "u-1"))
	if len(rows) != 1 || rows[0]["action"] != ActionLogoutUnsignedOverride {
		t.Errorf("expected audit row, got %v", rows)
	}
}
