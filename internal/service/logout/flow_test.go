package logout

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"clinical-dictation-service/internal/audit"
	"clinical-dictation-service/internal/dataservice"
	"clinical-dictation-service/internal/identity"
)

type fakeIdentity struct {
	id       identity.Identity
	err      error
	signOuts int
}

func (f *fakeIdentity) CurrentIdentity(ctx context.Context) (identity.Identity, error) {
	return f.id, f.err
}

func (f *fakeIdentity) VerifyCredentials(ctx context.Context, email, password string) error {
	return nil
}

func (f *fakeIdentity) SignOut(ctx context.Context) error {
	f.signOuts++
	return nil
}

type flowFixture struct {
	flow  *Flow
	ident *fakeIdentity
	data  *dataservice.Memory
	sink  *audit.MemorySink
	log   *audit.Logger
	ctx   context.Context
	now   time.Time
}

func newFlowFixture(t *testing.T) *flowFixture {
	t.Helper()
	now := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	f := &flowFixture{
		ident: &fakeIdentity{id: identity.Identity{ID: "clin-1", Email: "dr@example.com", SessionID: "sess-1"}},
		data:  dataservice.NewMemory(),
		sink:  &audit.MemorySink{},
		now:   now,
	}
	f.log = audit.NewLogger(f.sink)
	f.ctx = identity.WithIdentity(context.Background(), f.ident.id)
	f.flow = NewFlow(f.ident, f.data, f.log, clockwork.NewFakeClockAt(now))
	return f
}

func (f *flowFixture) note(t *testing.T, author string, signed bool, created time.Time) string {
	t.Helper()
	row, err := f.data.Insert(f.ctx, "clinical_notes", dataservice.Row{
		"author_id":  author,
		"patient_id": "pt-9",
		"body":       strings.Repeat("Assessment and plan. ", 10),
		"signed":     signed,
		"created_at": created,
	})
	if err != nil {
		t.Fatalf("insert note: %v", err)
	}
	return row["id"].(string)
}

func TestFlow_BeginWithoutUnsignedSignsOut(t *testing.T) {
	f := newFlowFixture(t)
	f.note(t, "clin-1", true, f.now.Add(-time.Hour))
	f.note(t, "clin-1", false, f.now.AddDate(0, 0, -1))
	f.note(t, "clin-2", false, f.now.Add(-time.Hour))

	out, err := f.flow.Begin(f.ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.SignedOut || len(out.Unsigned) != 0 {
		t.Errorf("expected immediate sign out, got %+v", out)
	}
	if f.ident.signOuts != 1 {
		t.Errorf("expected one sign out, got %d", f.ident.signOuts)
	}
}

func TestFlow_BeginWithUnsignedAsksForConfirmation(t *testing.T) {
	f := newFlowFixture(t)
	id := f.note(t, "clin-1", false, f.now.Add(-2*time.Hour))

	out, err := f.flow.Begin(f.ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.SignedOut {
		t.Error("expected no sign out before confirmation")
	}
	if len(out.Unsigned) != 1 || out.Unsigned[0].ID != id {
		t.Fatalf("expected note %s, got %+v", id, out.Unsigned)
	}
	if out.Unsigned[0].PatientID != "pt-9" {
		t.Errorf("expected patient pt-9, got %s", out.Unsigned[0].PatientID)
	}
	if n := len([]rune(out.Unsigned[0].Preview)); n != previewChars+1 {
		t.Errorf("expected a truncated preview, got %d runes", n)
	}
	if f.ident.signOuts != 0 {
		t.Errorf("expected no sign out, got %d", f.ident.signOuts)
	}
}

func TestFlow_Discard(t *testing.T) {
	f := newFlowFixture(t)
	f.note(t, "clin-1", false, f.now.Add(-time.Hour))

	out, _ := f.flow.Begin(f.ctx)
	if err := f.flow.Discard(f.ctx, out.Unsigned); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.ident.signOuts != 1 {
		t.Errorf("expected one sign out, got %d", f.ident.signOuts)
	}

	f.log.Flush()
	entries := f.sink.Entries()
	if len(entries) != 1 || entries[0].Action != audit.ActionLogoutUnsignedOverride {
		t.Fatalf("expected LOGOUT_UNSIGNED_OVERRIDE, got %+v", entries)
	}
	ids, _ := entries[0].Details["noteIds"].([]string)
	if len(ids) != 1 || ids[0] != out.Unsigned[0].ID {
		t.Errorf("expected the note ids recorded, got %v", entries[0].Details["noteIds"])
	}
}

func TestFlow_NoSession(t *testing.T) {
	f := newFlowFixture(t)
	f.ident.err = identity.ErrNoSession

	if _, err := f.flow.Begin(f.ctx); !errors.Is(err, identity.ErrNoSession) {
		t.Errorf("expected ErrNoSession, got %v", err)
	}
	if err := f.flow.Discard(f.ctx, nil); !errors.Is(err, identity.ErrNoSession) {
		t.Errorf("expected ErrNoSession, got %v", err)
	}
	if f.ident.signOuts != 0 {
		t.Error("expected no sign out")
	}
}
