// Package dataservice is the authenticated row store the workspaces talk
// to. Every call is scoped to the identity attached to the context.
package dataservice

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"
)

var (
	// ErrInvalidIdentifier is returned for table or column names that are not
	// plain lower-case identifiers.
	ErrInvalidIdentifier = errors.New("invalid identifier")
	// ErrUnauthenticated is returned when the context carries no identity.
	ErrUnauthenticated = errors.New("data service requires an identity")
)

// Row is one record keyed by column.
type Row map[string]any

// Op is a predicate operator.
type Op string

const (
	OpEq  Op = "="
	OpNeq Op = "<>"
	OpGte Op = ">="
	OpLt  Op = "<"
)

// Predicate filters rows by one column.
type Predicate struct {
	Column string
	Op     Op
	Value  any
}

// Eq, Neq, Gte and Lt build predicates.
func Eq(col string, v any) Predicate  { return Predicate{col, OpEq, v} }
func Neq(col string, v any) Predicate { return Predicate{col, OpNeq, v} }
func Gte(col string, v any) Predicate { return Predicate{col, OpGte, v} }
func Lt(col string, v any) Predicate  { return Predicate{col, OpLt, v} }

// ChangeType is the kind of row change delivered to subscribers.
type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// Change is one row change.
type Change struct {
	Type  ChangeType `json:"op"`
	Table string     `json:"table"`
	Row   Row        `json:"row"`
}

// Subscription is a live change feed. Close stops delivery.
type Subscription interface {
	Close() error
}

// Service is the data service contract.
type Service interface {
	Select(ctx context.Context, table string, preds ...Predicate) ([]Row, error)
	Insert(ctx context.Context, table string, row Row) (Row, error)
	Update(ctx context.Context, table string, values Row, preds ...Predicate) (int64, error)
	// Subscribe delivers changes on table matching preds until ctx is done
	// or the subscription is closed.
	Subscribe(ctx context.Context, table string, preds []Predicate, onChange func(Change)) (Subscription, error)
}

var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

func validIdent(name string) error {
	if !identRe.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, name)
	}
	return nil
}

func validPredicates(preds []Predicate) error {
	for _, p := range preds {
		if err := validIdent(p.Column); err != nil {
			return err
		}
		switch p.Op {
		case OpEq, OpNeq, OpGte, OpLt:
		default:
			return fmt.Errorf("unsupported operator %q", p.Op)
		}
	}
	return nil
}

// Matches reports whether row satisfies every predicate. Values compare as
// numbers, times or strings depending on their types.
func Matches(row Row, preds []Predicate) bool {
	for _, p := range preds {
		c, ok := compare(row[p.Column], p.Value)
		if !ok {
			return false
		}
		switch p.Op {
		case OpEq:
			if c != 0 {
				return false
			}
		case OpNeq:
			if c == 0 {
				return false
			}
		case OpGte:
			if c < 0 {
				return false
			}
		case OpLt:
			if c >= 0 {
				return false
			}
		}
	}
	return true
}

func compare(a, b any) (int, bool) {
	if a == nil || b == nil {
		if a == nil && b == nil {
			return 0, true
		}
		return 0, false
	}
	if at, ok := asTime(a); ok {
		if bt, ok := asTime(b); ok {
			return at.Compare(bt), true
		}
	}
	if af, ok := asFloat(a); ok {
		if bf, ok := asFloat(b); ok {
			switch {
			case af < bf:
				return -1, true
			case af > bf:
				return 1, true
			}
			return 0, true
		}
	}
	as, bs := fmt.Sprint(a), fmt.Sprint(b)
	switch {
	case as < bs:
		return -1, true
	case as > bs:
		return 1, true
	}
	return 0, true
}

func asTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		return parsed, err == nil
	}
	return time.Time{}, false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// StartOfDay returns midnight of t's day in t's location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
