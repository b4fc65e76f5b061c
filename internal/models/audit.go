package models

import "time"

// AuditEntry is one row of the audit trail.
type AuditEntry struct {
	ID         string         `json:"id" db:"id"`
	EventType  string         `json:"eventType" db:"-"`
	ActorID    string         `json:"actorId" db:"actor_id"`
	Action     string         `json:"action" db:"action"`
	EntityType string         `json:"entityType" db:"entity_type"`
	EntityID   string         `json:"entityId,omitempty" db:"entity_id"`
	Details    map[string]any `json:"details,omitempty" db:"-"`
	CreatedAt  time.Time      `json:"createdAt" db:"created_at"`
}
