// Package database defines the record store the settlement engines read and
// write through, and its Supabase, Postgres and in-memory backends.
package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by Single when no row matches.
	ErrNotFound = errors.New("record not found")
	// ErrMultipleRows is returned by Single when more than one row matches.
	ErrMultipleRows = errors.New("multiple records match")
	// ErrConflict is returned by CompareAndSwap when the expected state no
	// longer holds.
	ErrConflict = errors.New("record changed concurrently")
	// ErrInvalidQuery is returned for unknown tables, columns or operators.
	ErrInvalidQuery = errors.New("invalid query")
)

// RecordStore is generic CRUD over named tables. Rows are exchanged as JSON
// compatible values: row and patch are marshaled, out is unmarshaled into.
type RecordStore interface {
	// Insert stores row and decodes the stored representation into out
	// (nil to discard).
	Insert(ctx context.Context, table string, row any, out any) error
	// Select decodes every matching row into out, which must point to a slice.
	Select(ctx context.Context, table string, q Query, out any) error
	// Single decodes exactly one matching row into out.
	Single(ctx context.Context, table string, q Query, out any) error
	// Update applies patch to every matching row, decodes the updated rows
	// into out (a slice pointer, or nil) and returns how many were affected.
	Update(ctx context.Context, table string, patch any, q Query, out any) (int, error)
}

// Expect is the state a compare-and-swap requires the row to still have.
type Expect map[string]any

// CompareAndSwap updates the row with the given id only if every column in
// expected still holds the given value. It fails with ErrConflict when no row
// matched, and decodes the updated row into out (nil to discard).
func CompareAndSwap(ctx context.Context, store RecordStore, table, id string, expected Expect, patch any, out any) error {
	q := NewQuery().Eq("id", id)
	for _, col := range sortedKeys(expected) {
		q = q.Eq(col, expected[col])
	}

	var rows []json.RawMessage
	n, err := store.Update(ctx, table, patch, q, &rows)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", table, id, ErrConflict)
	}
	if out != nil && len(rows) > 0 {
		if err := json.Unmarshal(rows[0], out); err != nil {
			return fmt.Errorf("decode %s: %w", table, err)
		}
	}
	return nil
}

// IsNotFound reports whether err is a missing-record error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict reports whether err is a failed compare-and-swap.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// decodeRows unmarshals a JSON array assembled from raw rows into out.
func decodeRows(rows []json.RawMessage, out any) error {
	if out == nil {
		return nil
	}
	if rows == nil {
		rows = []json.RawMessage{}
	}
	data, err := json.Marshal(rows)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// decodeSingle enforces exactly-one semantics over rows.
func decodeSingle(table string, rows []json.RawMessage, out any) error {
	switch len(rows) {
	case 0:
		return fmt.Errorf("%s: %w", table, ErrNotFound)
	case 1:
		if out == nil {
			return nil
		}
		return json.Unmarshal(rows[0], out)
	default:
		return fmt.Errorf("%s: %w", table, ErrMultipleRows)
	}
}

// toColumns marshals a row or patch into its column map.
func toColumns(v any) (map[string]json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal row: %w", err)
	}
	var cols map[string]json.RawMessage
	if err := json.Unmarshal(data, &cols); err != nil {
		return nil, fmt.Errorf("%w: row must be an object", ErrInvalidQuery)
	}
	return cols, nil
}
