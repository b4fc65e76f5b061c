package workspace

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"clinical-dictation-service/internal/audit"
	"clinical-dictation-service/internal/dataservice"
	"clinical-dictation-service/internal/identity"
	"clinical-dictation-service/internal/observability/logging"
	"clinical-dictation-service/internal/platform"
	"clinical-dictation-service/internal/platform/mic"
	"clinical-dictation-service/internal/service/idlelock"
	"clinical-dictation-service/internal/service/recording"
	"clinical-dictation-service/internal/service/stt"
	"clinical-dictation-service/internal/service/transcribe"
	"clinical-dictation-service/internal/storage"
)

var (
	// ErrNotFound is returned for unknown workspace ids.
	ErrNotFound = errors.New("workspace not found")
	// ErrForbidden is returned when a workspace belongs to another clinician.
	ErrForbidden = errors.New("workspace belongs to another clinician")
)

// Config holds per-workspace settings.
type Config struct {
	Recording      recording.Config
	IdleLock       idlelock.Config
	Bucket         string
	RecordingsPath string
	SignedURLTTL   time.Duration
}

// Deps are shared by every workspace. Identity is required; Storage, Data,
// Locks, Audit and Publisher may be nil.
type Deps struct {
	Speech      stt.Provider
	Transcriber transcribe.Transcriber
	Identity    identity.Provider
	Data        dataservice.Service
	Storage     storage.Store
	Locks       idlelock.LockStore
	Audit       *audit.Logger
	Publisher   recording.Publisher
	Blobs       *platform.BlobURLs
	Clock       clockwork.Clock
}

// Manager owns the open workspaces.
type Manager struct {
	cfg      Config
	deps     Deps
	registry *idlelock.Registry
	logger   zerolog.Logger

	mu         sync.Mutex
	workspaces map[string]*Workspace
}

// NewManager creates a manager with no workspaces.
func NewManager(cfg Config, deps Deps) *Manager {
	if deps.Blobs == nil {
		deps.Blobs = platform.NewBlobURLs()
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if cfg.SignedURLTTL <= 0 {
		cfg.SignedURLTTL = 15 * time.Minute
	}
	if cfg.RecordingsPath == "" {
		cfg.RecordingsPath = "recordings"
	}
	return &Manager{
		cfg:        cfg,
		deps:       deps,
		registry:   idlelock.NewRegistry(),
		logger:     logging.WithComponent("workspace"),
		workspaces: make(map[string]*Workspace),
	}
}

// Create opens a workspace for the identity on ctx. The microphone feed
// starts connected.
func (m *Manager) Create(ctx context.Context) (*Workspace, error) {
	actor, err := m.deps.Identity.CurrentIdentity(ctx)
	if err != nil {
		return nil, err
	}

	id := ulid.MustNew(ulid.Timestamp(m.deps.Clock.Now()), ulid.DefaultEntropy()).String()
	wctx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	w := &Workspace{
		ID:        id,
		Actor:     actor,
		CreatedAt: m.deps.Clock.Now(),
		Feed:      mic.NewFeed(),
		cfg:       m.cfg,
		deps:      m.deps,
		logger:    logging.WithWorkspace(id, actor.ID),
		cancel:    cancel,
	}
	w.Feed.Connect()

	rcfg := m.cfg.Recording
	rcfg.ActorID = actor.ID
	w.Engine = recording.NewEngine(rcfg, recording.Deps{
		Microphone:  mic.New(w.Feed),
		Speech:      m.deps.Speech,
		Transcriber: m.deps.Transcriber,
		Blobs:       m.deps.Blobs,
		Audit:       m.deps.Audit,
		Publisher:   m.deps.Publisher,
		Clock:       m.deps.Clock,
	}, w.callbacks())

	w.Guard = idlelock.NewGuard(actor.ID, m.cfg.IdleLock, idlelock.Deps{
		Identity: m.deps.Identity,
		Store:    m.deps.Locks,
		Audit:    m.deps.Audit,
		Clock:    m.deps.Clock,
	}, w.guardCallbacks())

	if err := m.registry.Mount(wctx, id, w.Guard); err != nil {
		cancel()
		w.Engine.Destroy()
		return nil, fmt.Errorf("mount idle guard: %w", err)
	}

	if m.deps.Data != nil {
		sub, err := m.deps.Data.Subscribe(wctx, notesTable, []dataservice.Predicate{dataservice.Eq("author_id", actor.ID)}, func(c dataservice.Change) {
			w.emit(Event{Type: EventNoteChanged, Data: c})
		})
		if err != nil {
			w.logger.Warn().Err(err).Msg("Note change feed unavailable")
		} else {
			w.notes = sub
		}
	}

	m.mu.Lock()
	m.workspaces[id] = w
	n := len(m.workspaces)
	m.mu.Unlock()

	w.logger.Info().Int("open", n).Msg("Workspace created")
	return w, nil
}

// Get returns the workspace with id if it belongs to the identity on ctx.
func (m *Manager) Get(ctx context.Context, id string) (*Workspace, error) {
	actor, err := m.deps.Identity.CurrentIdentity(ctx)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	w, ok := m.workspaces[id]
	m.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	if w.Actor.ID != actor.ID {
		return nil, ErrForbidden
	}
	return w, nil
}

// Close tears down the workspace with id.
func (m *Manager) Close(ctx context.Context, id string) error {
	w, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	m.remove(w)
	return nil
}

// CloseAll tears down every workspace, for shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	all := make([]*Workspace, 0, len(m.workspaces))
	for _, w := range m.workspaces {
		all = append(all, w)
	}
	m.mu.Unlock()

	for _, w := range all {
		m.remove(w)
	}
}

// CloseFor tears down every workspace of actorID, after sign out. It
// returns how many were closed.
func (m *Manager) CloseFor(actorID string) int {
	m.mu.Lock()
	var mine []*Workspace
	for _, w := range m.workspaces {
		if w.Actor.ID == actorID {
			mine = append(mine, w)
		}
	}
	m.mu.Unlock()

	for _, w := range mine {
		m.remove(w)
	}
	return len(mine)
}

// Len returns the number of open workspaces.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.workspaces)
}

// Blobs returns the playback URL registry.
func (m *Manager) Blobs() *platform.BlobURLs {
	return m.deps.Blobs
}

func (m *Manager) remove(w *Workspace) {
	m.mu.Lock()
	delete(m.workspaces, w.ID)
	m.mu.Unlock()

	m.registry.Unmount(w.ID)
	w.close()
}
