package audit

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"clinical-dictation-service/internal/dataservice"
	"clinical-dictation-service/internal/identity"
	"clinical-dictation-service/internal/models"
)

// Publisher is the part of events.Publisher used for audit fan-out.
type Publisher interface {
	PublishAudit(ctx context.Context, key string, event any) error
}

// KafkaSink publishes entries to the audit topic keyed by actor.
type KafkaSink struct {
	pub Publisher
}

// NewKafkaSink creates a sink on pub.
func NewKafkaSink(pub Publisher) *KafkaSink {
	return &KafkaSink{pub: pub}
}

func (k *KafkaSink) Name() string { return "kafka" }

func (k *KafkaSink) Record(ctx context.Context, e models.AuditEntry) error {
	return k.pub.PublishAudit(ctx, e.ActorID, e)
}

// TableSink inserts entries into the audit_logs table through the data
// service, as the acting identity.
type TableSink struct {
	data dataservice.Service
}

// NewTableSink creates a sink on data.
func NewTableSink(data dataservice.Service) *TableSink {
	return &TableSink{data: data}
}

func (t *TableSink) Name() string { return "table" }

func (t *TableSink) Record(ctx context.Context, e models.AuditEntry) error {
	ctx = identity.WithIdentity(ctx, identity.Identity{ID: e.ActorID})
	details := e.Details
	if details == nil {
		details = map[string]any{}
	}
	_, err := t.data.Insert(ctx, "audit_logs", dataservice.Row{
		"id":          e.ID,
		"actor_id":    e.ActorID,
		"action":      e.Action,
		"entity_type": e.EntityType,
		"entity_id":   e.EntityID,
		"details":     details,
		"created_at":  e.CreatedAt,
	})
	return err
}

// LogSink writes entries to the service log.
type LogSink struct{}

func (LogSink) Name() string { return "log" }

func (LogSink) Record(ctx context.Context, e models.AuditEntry) error {
	log.Info().
		Str("component", "audit").
		Str("id", e.ID).
		Str("actorId", e.ActorID).
		Str("action", e.Action).
		Str("entityType", e.EntityType).
		Str("entityId", e.EntityID).
		Interface("details", e.Details).
		Msg("Audit")
	return nil
}

// MemorySink keeps entries in process.
type MemorySink struct {
	mu      sync.Mutex
	entries []models.AuditEntry
}

func (m *MemorySink) Name() string { return "memory" }

func (m *MemorySink) Record(ctx context.Context, e models.AuditEntry) error {
	m.mu.Lock()
	m.entries = append(m.entries, e)
	m.mu.Unlock()
	return nil
}

// Entries returns a copy of the recorded entries.
func (m *MemorySink) Entries() []models.AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.AuditEntry(nil), m.entries...)
}

// Actions returns the recorded actions in order.
func (m *MemorySink) Actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.Action
	}
	return out
}
