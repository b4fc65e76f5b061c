package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

// User is a stored account.
type User struct {
	Identity
	PasswordHash string `db:"password_hash"`
}

// Users looks up accounts by email.
type Users interface {
	FindByEmail(ctx context.Context, email string) (User, error)
}

// Revocations records signed-out sessions until their tokens expire.
type Revocations interface {
	Revoke(ctx context.Context, sessionID string, ttl time.Duration) error
	IsRevoked(ctx context.Context, sessionID string) (bool, error)
}

// Service implements Provider over a user store, bcrypt hashes and
// signed session tokens.
type Service struct {
	users   Users
	tokens  *Tokens
	revoked Revocations
	logger  zerolog.Logger
}

// NewService creates an identity service.
func NewService(users Users, tokens *Tokens, revoked Revocations) *Service {
	return &Service{
		users:   users,
		tokens:  tokens,
		revoked: revoked,
		logger:  log.With().Str("component", "identity").Logger(),
	}
}

// Login verifies credentials and issues a session token.
func (s *Service) Login(ctx context.Context, email, password string) (string, Identity, error) {
	u, err := s.check(ctx, email, password)
	if err != nil {
		return "", Identity{}, err
	}
	token, id, err := s.tokens.Issue(u.Identity)
	if err != nil {
		return "", Identity{}, err
	}
	s.logger.Info().Str("actorId", id.ID).Msg("Signed in")
	return token, id, nil
}

// Authenticate resolves a bearer token to a live identity.
func (s *Service) Authenticate(ctx context.Context, token string) (Identity, error) {
	id, err := s.tokens.Parse(token)
	if err != nil {
		return Identity{}, err
	}
	revoked, err := s.revoked.IsRevoked(ctx, id.SessionID)
	if err != nil {
		return Identity{}, fmt.Errorf("check revocation: %w", err)
	}
	if revoked {
		return Identity{}, ErrNoSession
	}
	return id, nil
}

func (s *Service) CurrentIdentity(ctx context.Context) (Identity, error) {
	id, ok := FromContext(ctx)
	if !ok {
		return Identity{}, ErrNoSession
	}
	revoked, err := s.revoked.IsRevoked(ctx, id.SessionID)
	if err != nil {
		return Identity{}, fmt.Errorf("check revocation: %w", err)
	}
	if revoked {
		return Identity{}, ErrNoSession
	}
	return id, nil
}

func (s *Service) VerifyCredentials(ctx context.Context, email, password string) error {
	_, err := s.check(ctx, email, password)
	return err
}

func (s *Service) SignOut(ctx context.Context) error {
	id, ok := FromContext(ctx)
	if !ok {
		return ErrNoSession
	}
	if err := s.revoked.Revoke(ctx, id.SessionID, s.tokens.TTL()); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	s.logger.Info().Str("actorId", id.ID).Msg("Signed out")
	return nil
}

func (s *Service) check(ctx context.Context, email, password string) (User, error) {
	u, err := s.users.FindByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, ErrInvalidCredentials) {
		return User{}, ErrInvalidCredentials
	}
	if err != nil {
		return User{}, fmt.Errorf("find user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return User{}, ErrInvalidCredentials
	}
	return u, nil
}

// HashPassword returns a bcrypt hash of password.
func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

const queryFindByEmail = `
	SELECT id, email, display_name, password_hash
	FROM users
	WHERE email = :email
	LIMIT 1`

// PostgresUsers reads accounts from the users table.
type PostgresUsers struct {
	db *sqlx.DB
}

// NewPostgresUsers creates a user store on db.
func NewPostgresUsers(db *sqlx.DB) *PostgresUsers {
	return &PostgresUsers{db: db}
}

func (p *PostgresUsers) FindByEmail(ctx context.Context, email string) (User, error) {
	query, args, err := sqlx.Named(queryFindByEmail, map[string]any{"email": email})
	if err != nil {
		return User{}, err
	}
	query = p.db.Rebind(query)

	var u User
	if err := p.db.GetContext(ctx, &u, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrInvalidCredentials
		}
		return User{}, err
	}
	return u, nil
}

// MemoryUsers is an in-memory user store for development and tests.
type MemoryUsers struct {
	mu    sync.RWMutex
	users map[string]User
}

// NewMemoryUsers creates an empty store.
func NewMemoryUsers() *MemoryUsers {
	return &MemoryUsers{users: make(map[string]User)}
}

// Add stores an account with a bcrypt hash of password.
func (m *MemoryUsers) Add(id Identity, password string) error {
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	id.Email = normalizeEmail(id.Email)
	m.mu.Lock()
	m.users[id.Email] = User{Identity: id, PasswordHash: hash}
	m.mu.Unlock()
	return nil
}

func (m *MemoryUsers) FindByEmail(ctx context.Context, email string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[email]
	if !ok {
		return User{}, ErrInvalidCredentials
	}
	return u, nil
}

// MemoryRevocations keeps revoked sessions in process.
type MemoryRevocations struct {
	mu      sync.Mutex
	revoked map[string]time.Time
	now     func() time.Time
}

// NewMemoryRevocations creates an empty revocation list.
func NewMemoryRevocations() *MemoryRevocations {
	return &MemoryRevocations{revoked: make(map[string]time.Time), now: time.Now}
}

func (m *MemoryRevocations) Revoke(ctx context.Context, sessionID string, ttl time.Duration) error {
	m.mu.Lock()
	m.revoked[sessionID] = m.now().Add(ttl)
	m.mu.Unlock()
	return nil
}

func (m *MemoryRevocations) IsRevoked(ctx context.Context, sessionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	until, ok := m.revoked[sessionID]
	if !ok {
		return false, nil
	}
	if m.now().After(until) {
		delete(m.revoked, sessionID)
		return false, nil
	}
	return true, nil
}
