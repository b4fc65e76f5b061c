package dataservice

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"clinical-dictation-service/internal/identity"
)

// NotifyChannel is the LISTEN/NOTIFY channel the change trigger writes to.
const NotifyChannel = "dataservice_changes"

//go:embed schema.sql
var schemaSQL string

// Postgres implements Service on PostgreSQL. Each call runs in a transaction
// with request.actor_id set so row level security policies apply.
type Postgres struct {
	db     *sqlx.DB
	dsn    string
	logger zerolog.Logger
}

// Open connects to dsn.
func Open(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return NewPostgres(db, dsn), nil
}

// NewPostgres wraps an open database. dsn is used for change listeners.
func NewPostgres(db *sqlx.DB, dsn string) *Postgres {
	return &Postgres{
		db:     db,
		dsn:    dsn,
		logger: log.With().Str("component", "dataservice").Logger(),
	}
}

// DB returns the underlying handle.
func (p *Postgres) DB() *sqlx.DB { return p.db }

// Close closes the pool.
func (p *Postgres) Close() error { return p.db.Close() }

// Migrate creates the tables, policies and change trigger.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	p.logger.Info().Msg("Schema migrated")
	return nil
}

func (p *Postgres) Select(ctx context.Context, table string, preds ...Predicate) ([]Row, error) {
	if err := validIdent(table); err != nil {
		return nil, err
	}
	if err := validPredicates(preds); err != nil {
		return nil, err
	}

	where, args := buildWhere(preds, 1)
	query := "SELECT * FROM " + pq.QuoteIdentifier(table) + where

	var out []Row
	err := p.asIdentity(ctx, func(tx *sqlx.Tx) error {
		rows, err := tx.QueryxContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			r := Row{}
			if err := rows.MapScan(r); err != nil {
				return err
			}
			out = append(out, normalize(r))
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", table, err)
	}
	return out, nil
}

func (p *Postgres) Insert(ctx context.Context, table string, row Row) (Row, error) {
	if err := validIdent(table); err != nil {
		return nil, err
	}
	cols := sortedColumns(row)
	if len(cols) == 0 {
		return nil, fmt.Errorf("insert %s: empty row", table)
	}

	quoted := make([]string, len(cols))
	holders := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		if err := validIdent(c); err != nil {
			return nil, err
		}
		quoted[i] = pq.QuoteIdentifier(c)
		holders[i] = fmt.Sprintf("$%d", i+1)
		v, err := toArg(row[c])
		if err != nil {
			return nil, err
		}
		args[i] = v
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING *",
		pq.QuoteIdentifier(table), strings.Join(quoted, ", "), strings.Join(holders, ", "))

	out := Row{}
	err := p.asIdentity(ctx, func(tx *sqlx.Tx) error {
		return tx.QueryRowxContext(ctx, query, args...).MapScan(out)
	})
	if err != nil {
		return nil, fmt.Errorf("insert %s: %w", table, err)
	}
	return normalize(out), nil
}

func (p *Postgres) Update(ctx context.Context, table string, values Row, preds ...Predicate) (int64, error) {
	if err := validIdent(table); err != nil {
		return 0, err
	}
	if err := validPredicates(preds); err != nil {
		return 0, err
	}
	cols := sortedColumns(values)
	if len(cols) == 0 {
		return 0, nil
	}

	sets := make([]string, len(cols))
	args := make([]any, 0, len(cols)+len(preds))
	for i, c := range cols {
		if err := validIdent(c); err != nil {
			return 0, err
		}
		sets[i] = fmt.Sprintf("%s = $%d", pq.QuoteIdentifier(c), i+1)
		v, err := toArg(values[c])
		if err != nil {
			return 0, err
		}
		args = append(args, v)
	}
	where, whereArgs := buildWhere(preds, len(cols)+1)
	args = append(args, whereArgs...)

	query := "UPDATE " + pq.QuoteIdentifier(table) + " SET " + strings.Join(sets, ", ") + where

	var n int64
	err := p.asIdentity(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("update %s: %w", table, err)
	}
	return n, nil
}

// Subscribe listens on NotifyChannel and forwards matching changes.
func (p *Postgres) Subscribe(ctx context.Context, table string, preds []Predicate, onChange func(Change)) (Subscription, error) {
	if _, ok := identity.FromContext(ctx); !ok {
		return nil, ErrUnauthenticated
	}
	if err := validIdent(table); err != nil {
		return nil, err
	}
	if err := validPredicates(preds); err != nil {
		return nil, err
	}

	logger := p.logger.With().Str("table", table).Logger()
	listener := pq.NewListener(p.dsn, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logger.Warn().Err(err).Int("event", int(ev)).Msg("Change listener event")
		}
	})
	if err := listener.Listen(NotifyChannel); err != nil {
		listener.Close()
		return nil, fmt.Errorf("listen: %w", err)
	}

	sub := &listenerSub{listener: listener, done: make(chan struct{})}
	go func() {
		for {
			select {
			case n := <-listener.Notify:
				if n == nil {
					// Reconnected; changes during the gap are lost.
					continue
				}
				var c Change
				if err := json.Unmarshal([]byte(n.Extra), &c); err != nil {
					logger.Warn().Err(err).Msg("Malformed change notification")
					continue
				}
				if c.Table == table && Matches(c.Row, preds) {
					onChange(c)
				}
			case <-time.After(90 * time.Second):
				go listener.Ping()
			case <-ctx.Done():
				sub.Close()
				return
			case <-sub.done:
				return
			}
		}
	}()
	return sub, nil
}

type listenerSub struct {
	listener *pq.Listener
	once     sync.Once
	done     chan struct{}
}

func (s *listenerSub) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.listener.Close()
	})
	return err
}

func (p *Postgres) asIdentity(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	id, ok := identity.FromContext(ctx)
	if !ok {
		return ErrUnauthenticated
	}

	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT set_config('request.actor_id', $1, true)`, id.ID); err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func buildWhere(preds []Predicate, start int) (string, []any) {
	if len(preds) == 0 {
		return "", nil
	}
	parts := make([]string, len(preds))
	args := make([]any, len(preds))
	for i, p := range preds {
		parts[i] = fmt.Sprintf("%s %s $%d", pq.QuoteIdentifier(p.Column), p.Op, start+i)
		args[i] = p.Value
	}
	return " WHERE " + strings.Join(parts, " AND "), args
}

func sortedColumns(r Row) []string {
	cols := make([]string, 0, len(r))
	for c := range r {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}

// toArg encodes composite values as JSON for jsonb columns.
func toArg(v any) (any, error) {
	switch v.(type) {
	case map[string]any, []any, []string, Row:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	}
	return v, nil
}

// normalize turns driver byte slices into strings.
func normalize(r Row) Row {
	for k, v := range r {
		if b, ok := v.([]byte); ok {
			r[k] = string(b)
		}
	}
	return r
}
