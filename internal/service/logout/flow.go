// Package logout signs a clinician out, asking for confirmation first when
// today's notes are still unsigned.
package logout

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"clinical-dictation-service/internal/audit"
	"clinical-dictation-service/internal/dataservice"
	"clinical-dictation-service/internal/identity"
	"clinical-dictation-service/internal/observability/logging"
)

const (
	notesTable   = "clinical_notes"
	previewChars = 80
)

// Item is an unsigned note awaiting confirmation.
type Item struct {
	ID        string    `json:"id"`
	PatientID string    `json:"patientId"`
	Preview   string    `json:"preview"`
	CreatedAt time.Time `json:"createdAt"`
}

// Outcome of Begin. Either SignedOut is set or Unsigned lists what needs
// confirmation.
type Outcome struct {
	SignedOut bool   `json:"signedOut"`
	Unsigned  []Item `json:"unsigned,omitempty"`
}

// Flow runs the logout confirmation.
type Flow struct {
	identity identity.Provider
	data     dataservice.Service
	audit    *audit.Logger
	clock    clockwork.Clock
	logger   zerolog.Logger
}

// NewFlow creates a logout flow. A nil clock uses the real clock.
func NewFlow(id identity.Provider, data dataservice.Service, auditLog *audit.Logger, clock clockwork.Clock) *Flow {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Flow{
		identity: id,
		data:     data,
		audit:    auditLog,
		clock:    clock,
		logger:   logging.WithComponent("logout"),
	}
}

// Begin signs out immediately when the clinician has no unsigned notes from
// today. Otherwise it returns them without signing out.
func (f *Flow) Begin(ctx context.Context) (Outcome, error) {
	id, err := f.identity.CurrentIdentity(ctx)
	if err != nil {
		return Outcome{}, err
	}

	items, err := f.unsigned(ctx, id.ID)
	if err != nil {
		return Outcome{}, err
	}
	if len(items) > 0 {
		f.logger.Info().Str("actorId", id.ID).Int("unsigned", len(items)).Msg("Logout needs confirmation")
		return Outcome{Unsigned: items}, nil
	}

	if err := f.identity.SignOut(ctx); err != nil {
		return Outcome{}, fmt.Errorf("sign out: %w", err)
	}
	return Outcome{SignedOut: true}, nil
}

// Discard records that the clinician left items unsigned, then signs out.
func (f *Flow) Discard(ctx context.Context, items []Item) error {
	id, err := f.identity.CurrentIdentity(ctx)
	if err != nil {
		return err
	}

	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ID)
	}
	f.audit.Log(id.ID, audit.ActionLogoutUnsignedOverride, audit.EntitySession, id.SessionID, map[string]any{
		"noteIds": ids,
		"count":   len(ids),
	})
	f.logger.Warn().Str("actorId", id.ID).Strs("noteIds", ids).Msg("Logout with unsigned notes")

	if err := f.identity.SignOut(ctx); err != nil {
		return fmt.Errorf("sign out: %w", err)
	}
	return nil
}

func (f *Flow) unsigned(ctx context.Context, actorID string) ([]Item, error) {
	today := dataservice.StartOfDay(f.clock.Now())
	rows, err := f.data.Select(ctx, notesTable,
		dataservice.Eq("author_id", actorID),
		dataservice.Eq("signed", false),
		dataservice.Gte("created_at", today),
		dataservice.Lt("created_at", today.AddDate(0, 0, 1)),
	)
	if err != nil {
		return nil, fmt.Errorf("select unsigned notes: %w", err)
	}

	items := make([]Item, 0, len(rows))
	for _, r := range rows {
		items = append(items, itemFromRow(r))
	}
	return items, nil
}

func itemFromRow(r dataservice.Row) Item {
	it := Item{
		ID:        fmt.Sprint(r["id"]),
		PatientID: stringOf(r["patient_id"]),
		Preview:   stringOf(r["body"]),
	}
	if t, ok := r["created_at"].(time.Time); ok {
		it.CreatedAt = t
	}
	if runes := []rune(it.Preview); len(runes) > previewChars {
		it.Preview = string(runes[:previewChars]) + "…"
	}
	return it
}

func stringOf(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}
