package dataservice

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"

	"clinical-dictation-service/internal/identity"
)

// Memory implements Service in process. It is used when no database is
// configured and in tests. Rows get an id and created_at when missing.
type Memory struct {
	mu     sync.Mutex
	tables map[string][]Row
	subs   map[*memorySub]struct{}
	now    func() time.Time
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{
		tables: make(map[string][]Row),
		subs:   make(map[*memorySub]struct{}),
		now:    time.Now,
	}
}

func (m *Memory) Select(ctx context.Context, table string, preds ...Predicate) ([]Row, error) {
	if err := m.check(ctx, table, preds); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Row
	for _, r := range m.tables[table] {
		if Matches(r, preds) {
			out = append(out, maps.Clone(r))
		}
	}
	return out, nil
}

func (m *Memory) Insert(ctx context.Context, table string, row Row) (Row, error) {
	if err := m.check(ctx, table, nil); err != nil {
		return nil, err
	}
	for c := range row {
		if err := validIdent(c); err != nil {
			return nil, err
		}
	}

	stored := maps.Clone(row)
	if stored == nil {
		stored = Row{}
	}
	if _, ok := stored["id"]; !ok {
		stored["id"] = uuid.NewString()
	}
	if _, ok := stored["created_at"]; !ok {
		stored["created_at"] = m.now()
	}

	m.mu.Lock()
	m.tables[table] = append(m.tables[table], stored)
	subs := m.subscribers(table)
	m.mu.Unlock()

	m.fanOut(subs, Change{Type: ChangeInsert, Table: table, Row: maps.Clone(stored)})
	return maps.Clone(stored), nil
}

func (m *Memory) Update(ctx context.Context, table string, values Row, preds ...Predicate) (int64, error) {
	if err := m.check(ctx, table, preds); err != nil {
		return 0, err
	}

	var changed []Row
	m.mu.Lock()
	for _, r := range m.tables[table] {
		if !Matches(r, preds) {
			continue
		}
		maps.Copy(r, values)
		changed = append(changed, maps.Clone(r))
	}
	subs := m.subscribers(table)
	m.mu.Unlock()

	for _, r := range changed {
		m.fanOut(subs, Change{Type: ChangeUpdate, Table: table, Row: r})
	}
	return int64(len(changed)), nil
}

func (m *Memory) Subscribe(ctx context.Context, table string, preds []Predicate, onChange func(Change)) (Subscription, error) {
	if err := m.check(ctx, table, preds); err != nil {
		return nil, err
	}

	sub := &memorySub{table: table, preds: preds, onChange: onChange, owner: m}
	m.mu.Lock()
	m.subs[sub] = struct{}{}
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		sub.Close()
	}()
	return sub, nil
}

func (m *Memory) check(ctx context.Context, table string, preds []Predicate) error {
	if _, ok := identity.FromContext(ctx); !ok {
		return ErrUnauthenticated
	}
	if err := validIdent(table); err != nil {
		return err
	}
	return validPredicates(preds)
}

func (m *Memory) subscribers(table string) []*memorySub {
	var out []*memorySub
	for s := range m.subs {
		if s.table == table {
			out = append(out, s)
		}
	}
	return out
}

func (m *Memory) fanOut(subs []*memorySub, c Change) {
	for _, s := range subs {
		if Matches(c.Row, s.preds) {
			s.onChange(c)
		}
	}
}

type memorySub struct {
	table    string
	preds    []Predicate
	onChange func(Change)
	owner    *Memory
}

func (s *memorySub) Close() error {
	s.owner.mu.Lock()
	delete(s.owner.subs, s)
	s.owner.mu.Unlock()
	return nil
}
