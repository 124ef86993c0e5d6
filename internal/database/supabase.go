package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ScrapCrafters/scrap_layer/supabase/client"
)

// SupabaseStore is a RecordStore over Supabase's PostgREST API. Each call is
// one HTTP request; it does not implement Transactor.
type SupabaseStore struct {
	client *client.Client
}

// NewSupabaseStore wraps an existing client.
func NewSupabaseStore(c *client.Client) *SupabaseStore {
	return &SupabaseStore{client: c}
}

func (s *SupabaseStore) builder(table string, q Query) (*client.QueryBuilder, error) {
	if err := validateIdentifier(table); err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}

	b := s.client.From(table).Select("*")
	for _, f := range q.Filters {
		switch f.Op {
		case OpEq:
			b = b.Eq(f.Column, f.Value)
		case OpNeq:
			b = b.Neq(f.Column, f.Value)
		case OpGt:
			b = b.Gt(f.Column, f.Value)
		case OpGte:
			b = b.Gte(f.Column, f.Value)
		case OpLt:
			b = b.Lt(f.Column, f.Value)
		case OpLte:
			b = b.Lte(f.Column, f.Value)
		case OpIn:
			b = b.In(f.Column, f.Value.([]any))
		case OpIs:
			b = b.Is(f.Column, f.Value)
		}
	}
	for _, o := range q.Orders {
		b = b.Order(o.Column, !o.Descending)
	}
	if q.Limit > 0 {
		b = b.Limit(q.Limit)
	}
	return b, nil
}

func rowsFrom(table string, resp *client.Response, err error) ([]json.RawMessage, error) {
	if err != nil {
		return nil, fmt.Errorf("supabase %s: %w", table, err)
	}
	if err := resp.Error(); err != nil {
		return nil, fmt.Errorf("supabase %s: %w", table, err)
	}
	var rows []json.RawMessage
	if len(resp.Body) == 0 {
		return rows, nil
	}
	if err := resp.JSON(&rows); err != nil {
		return nil, fmt.Errorf("supabase %s: decode response: %w", table, err)
	}
	return rows, nil
}

// Insert implements RecordStore.
func (s *SupabaseStore) Insert(ctx context.Context, table string, row any, out any) error {
	if err := validateIdentifier(table); err != nil {
		return err
	}
	resp, err := s.client.From(table).ExecuteInsert(ctx, row)
	rows, err := rowsFrom(table, resp, err)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if len(rows) == 0 {
		return fmt.Errorf("supabase %s: insert returned no rows", table)
	}
	return json.Unmarshal(rows[0], out)
}

// Select implements RecordStore.
func (s *SupabaseStore) Select(ctx context.Context, table string, q Query, out any) error {
	b, err := s.builder(table, q)
	if err != nil {
		return err
	}
	resp, err := b.Execute(ctx)
	rows, err := rowsFrom(table, resp, err)
	if err != nil {
		return err
	}
	return decodeRows(rows, out)
}

// Single implements RecordStore. It asks for two rows so that ambiguity is
// detected without a separate count request.
func (s *SupabaseStore) Single(ctx context.Context, table string, q Query, out any) error {
	q.Limit = 2
	b, err := s.builder(table, q)
	if err != nil {
		return err
	}
	resp, err := b.Execute(ctx)
	rows, err := rowsFrom(table, resp, err)
	if err != nil {
		return err
	}
	return decodeSingle(table, rows, out)
}

// Update implements RecordStore.
func (s *SupabaseStore) Update(ctx context.Context, table string, patch any, q Query, out any) (int, error) {
	if len(q.Filters) == 0 {
		return 0, fmt.Errorf("%w: refusing unfiltered update of %s", ErrInvalidQuery, table)
	}
	b, err := s.builder(table, q)
	if err != nil {
		return 0, err
	}
	resp, err := b.ExecuteUpdate(ctx, patch)
	rows, err := rowsFrom(table, resp, err)
	if err != nil {
		return 0, err
	}
	if err := decodeRows(rows, out); err != nil {
		return 0, err
	}
	return len(rows), nil
}
