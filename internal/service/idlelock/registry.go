package idlelock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrAlreadyMounted is returned when a workspace already has a guard.
var ErrAlreadyMounted = errors.New("idle guard already mounted for workspace")

// Registry allows one mounted guard per workspace.
type Registry struct {
	mu     sync.Mutex
	guards map[string]*Guard
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{guards: make(map[string]*Guard)}
}

// Mount mounts g for workspaceID.
func (r *Registry) Mount(ctx context.Context, workspaceID string, g *Guard) error {
	r.mu.Lock()
	if _, ok := r.guards[workspaceID]; ok {
		r.mu.Unlock()
		return ErrAlreadyMounted
	}
	r.guards[workspaceID] = g
	r.mu.Unlock()

	g.Mount(ctx)
	return nil
}

// Unmount unmounts and forgets the guard of workspaceID, if any.
func (r *Registry) Unmount(workspaceID string) {
	r.mu.Lock()
	g, ok := r.guards[workspaceID]
	delete(r.guards, workspaceID)
	r.mu.Unlock()

	if ok {
		g.Unmount()
	}
}

// Get returns the guard mounted for workspaceID.
func (r *Registry) Get(workspaceID string) (*Guard, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.guards[workspaceID]
	return g, ok
}

// MemoryLockStore is an in-process LockStore.
type MemoryLockStore struct {
	mu     sync.Mutex
	locked map[string]time.Time
}

// NewMemoryLockStore creates an empty store.
func NewMemoryLockStore() *MemoryLockStore {
	return &MemoryLockStore{locked: make(map[string]time.Time)}
}

func (m *MemoryLockStore) SetLocked(ctx context.Context, actorID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locked[actorID] = at
	return nil
}

func (m *MemoryLockStore) ClearLock(ctx context.Context, actorID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locked, actorID)
	return nil
}

func (m *MemoryLockStore) IsLocked(ctx context.Context, actorID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.locked[actorID]
	return ok, nil
}
