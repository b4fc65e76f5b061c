package identity

import (
	"context"
	"errors"
	"testing"
	"time"
)

const testSecret = "test-secret-0123456789"

func newTestService(t *testing.T) (*Service, *MemoryRevocations) {
	t.Helper()
	users := NewMemoryUsers()
	if err := users.Add(Identity{ID: "u-1", Email: "Dr.Lee@Clinic.test", DisplayName: "Dr Lee"}, "correct horse"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	revoked := NewMemoryRevocations()
	return NewService(users, NewTokens(testSecret, time.Hour, "test"), revoked), revoked
}

func TestService_Login(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		email    string
		password string
		wantErr  error
	}{
		{"valid", "dr.lee@clinic.test", "correct horse", nil},
		{"email case and spaces", "  DR.LEE@clinic.test ", "correct horse", nil},
		{"wrong password", "dr.lee@clinic.test", "wrong", ErrInvalidCredentials},
		{"unknown email", "nobody@clinic.test", "correct horse", ErrInvalidCredentials},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, id, err := svc.Login(ctx, tt.email, tt.password)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if tt.wantErr != nil {
				return
			}
			if token == "" || id.ID != "u-1" || id.SessionID == "" {
				t.Errorf("unexpected login result: token=%q id=%+v", token, id)
			}
		})
	}
}

func TestService_AuthenticateAndSignOut(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	token, _, err := svc.Login(ctx, "dr.lee@clinic.test", "correct horse")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	id, err := svc.Authenticate(ctx, token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.Email != "dr.lee@clinic.test" || id.DisplayName != "Dr Lee" {
		t.Errorf("unexpected identity: %+v", id)
	}

	reqCtx := WithIdentity(ctx, id)
	if cur, err := svc.CurrentIdentity(reqCtx); err != nil || cur.ID != "u-1" {
		t.Fatalf("expected current identity, got %+v, %v", cur, err)
	}

	if err := svc.SignOut(reqCtx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.Authenticate(ctx, token); !errors.Is(err, ErrNoSession) {
		t.Errorf("expected ErrNoSession after sign out, got %v", err)
	}
	if _, err := svc.CurrentIdentity(reqCtx); !errors.Is(err, ErrNoSession) {
		t.Errorf("expected ErrNoSession for revoked session, got %v", err)
	}
}

func TestService_CurrentIdentity_NoSession(t *testing.T) {
	svc, _ := newTestService(t)

	if _, err := svc.CurrentIdentity(context.Background()); !errors.Is(err, ErrNoSession) {
		t.Errorf("expected ErrNoSession, got %v", err)
	}
	if err := svc.SignOut(context.Background()); !errors.Is(err, ErrNoSession) {
		t.Errorf("expected ErrNoSession, got %v", err)
	}
}

func TestTokens_Parse(t *testing.T) {
	tokens := NewTokens(testSecret, time.Minute, "test")
	token, issued, err := tokens.Issue(Identity{ID: "u-1", Email: "a@b.test"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	t.Run("valid", func(t *testing.T) {
		id, err := tokens.Parse(token)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if id.SessionID != issued.SessionID {
			t.Errorf("expected session %s, got %s", issued.SessionID, id.SessionID)
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		other := NewTokens("another-secret-0123456789", time.Minute, "test")
		if _, err := other.Parse(token); !errors.Is(err, ErrNoSession) {
			t.Errorf("expected ErrNoSession, got %v", err)
		}
	})

	t.Run("wrong issuer", func(t *testing.T) {
		other := NewTokens(testSecret, time.Minute, "elsewhere")
		if _, err := other.Parse(token); !errors.Is(err, ErrNoSession) {
			t.Errorf("expected ErrNoSession, got %v", err)
		}
	})

	t.Run("expired", func(t *testing.T) {
		later := NewTokens(testSecret, time.Minute, "test")
		later.now = func() time.Time { return time.Now().Add(time.Hour) }
		if _, err := later.Parse(token); !errors.Is(err, ErrNoSession) {
			t.Errorf("expected ErrNoSession, got %v", err)
		}
	})

	t.Run("garbage", func(t *testing.T) {
		if _, err := tokens.Parse("not-a-token"); !errors.Is(err, ErrNoSession) {
			t.Errorf("expected ErrNoSession, got %v", err)
		}
	})
}

func TestMemoryRevocations_Expire(t *testing.T) {
	r := NewMemoryRevocations()
	now := time.Now()
	r.now = func() time.Time { return now }

	r.Revoke(context.Background(), "s-1", time.Minute)
	if revoked, _ := r.IsRevoked(context.Background(), "s-1"); !revoked {
		t.Error("expected session to be revoked")
	}

	now = now.Add(2 * time.Minute)
	if revoked, _ := r.IsRevoked(context.Background(), "s-1"); revoked {
		t.Error("expected revocation to expire with the token")
	}
}

func TestFromContext(t *testing.T) {
	if _, ok := FromContext(context.Background()); ok {
		t.Error("expected no identity on a bare context")
	}
	if _, ok := FromContext(WithIdentity(context.Background(), Identity{})); ok {
		t.Error("expected empty identity to be treated as absent")
	}
	if id, ok := FromContext(WithIdentity(context.Background(), Identity{ID: "u"})); !ok || id.ID != "u" {
		t.Errorf("expected identity u, got %+v", id)
	}
}
