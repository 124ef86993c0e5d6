package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// PostgresStore is a RecordStore over a Postgres database with the schema
// from internal/platform/migrations. Rows travel as row_to_json documents so
// the same Go types decode from every backend.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type postgresTxKey struct{}

func (s *PostgresStore) conn(ctx context.Context) querier {
	if tx, ok := ctx.Value(postgresTxKey{}).(*sql.Tx); ok {
		return tx
	}
	return s.db
}

// InTx implements Transactor. Nested calls join the outer transaction.
func (s *PostgresStore) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(postgresTxKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(context.WithValue(ctx, postgresTxKey{}, tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Insert implements RecordStore.
func (s *PostgresStore) Insert(ctx context.Context, table string, row any, out any) error {
	if err := validateIdentifier(table); err != nil {
		return err
	}
	cols, err := toColumns(row)
	if err != nil {
		return err
	}
	if len(cols) == 0 {
		return fmt.Errorf("%w: empty insert into %s", ErrInvalidQuery, table)
	}

	names := sortedKeys(cols)
	quoted := make([]string, len(names))
	placeholders := make([]string, len(names))
	args := make([]any, len(names))
	for i, name := range names {
		if err := validateIdentifier(name); err != nil {
			return err
		}
		quoted[i] = pq.QuoteIdentifier(name)
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		if args[i], err = sqlValue(cols[name]); err != nil {
			return err
		}
	}

	stmt := fmt.Sprintf(
		"WITH ins AS (INSERT INTO %s (%s) VALUES (%s) RETURNING *) SELECT row_to_json(ins) FROM ins",
		pq.QuoteIdentifier(table), strings.Join(quoted, ", "), strings.Join(placeholders, ", "),
	)
	rows, err := s.collect(ctx, stmt, args)
	if err != nil {
		return fmt.Errorf("insert %s: %w", table, err)
	}
	if out == nil || len(rows) == 0 {
		return nil
	}
	return json.Unmarshal(rows[0], out)
}

// Select implements RecordStore.
func (s *PostgresStore) Select(ctx context.Context, table string, q Query, out any) error {
	rows, err := s.selectRows(ctx, table, q)
	if err != nil {
		return err
	}
	return decodeRows(rows, out)
}

// Single implements RecordStore.
func (s *PostgresStore) Single(ctx context.Context, table string, q Query, out any) error {
	q.Limit = 2
	rows, err := s.selectRows(ctx, table, q)
	if err != nil {
		return err
	}
	return decodeSingle(table, rows, out)
}

func (s *PostgresStore) selectRows(ctx context.Context, table string, q Query) ([]json.RawMessage, error) {
	if err := validateIdentifier(table); err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}

	where, args := whereClause(q.Filters, 1)
	stmt := fmt.Sprintf("SELECT row_to_json(t) FROM %s AS t%s%s", pq.QuoteIdentifier(table), where, orderClause(q.Orders))
	if q.Limit > 0 {
		stmt += fmt.Sprintf(" LIMIT %d", q.Limit)
	}
	rows, err := s.collect(ctx, stmt, args)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", table, err)
	}
	return rows, nil
}

// Update implements RecordStore.
func (s *PostgresStore) Update(ctx context.Context, table string, patch any, q Query, out any) (int, error) {
	if err := validateIdentifier(table); err != nil {
		return 0, err
	}
	if err := q.Validate(); err != nil {
		return 0, err
	}
	if len(q.Filters) == 0 {
		return 0, fmt.Errorf("%w: refusing unfiltered update of %s", ErrInvalidQuery, table)
	}
	cols, err := toColumns(patch)
	if err != nil {
		return 0, err
	}
	if len(cols) == 0 {
		return 0, fmt.Errorf("%w: empty update of %s", ErrInvalidQuery, table)
	}

	names := sortedKeys(cols)
	sets := make([]string, len(names))
	args := make([]any, 0, len(names)+len(q.Filters))
	for i, name := range names {
		if err := validateIdentifier(name); err != nil {
			return 0, err
		}
		v, err := sqlValue(cols[name])
		if err != nil {
			return 0, err
		}
		args = append(args, v)
		sets[i] = fmt.Sprintf("%s = $%d", pq.QuoteIdentifier(name), i+1)
	}
	where, whereArgs := whereClause(q.Filters, len(names)+1)
	args = append(args, whereArgs...)

	stmt := fmt.Sprintf(
		"WITH upd AS (UPDATE %s AS t SET %s%s RETURNING t.*) SELECT row_to_json(upd) FROM upd",
		pq.QuoteIdentifier(table), strings.Join(sets, ", "), where,
	)
	rows, err := s.collect(ctx, stmt, args)
	if err != nil {
		return 0, fmt.Errorf("update %s: %w", table, err)
	}
	if err := decodeRows(rows, out); err != nil {
		return 0, err
	}
	return len(rows), nil
}

func (s *PostgresStore) collect(ctx context.Context, stmt string, args []any) ([]json.RawMessage, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []json.RawMessage
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		out = append(out, json.RawMessage(doc))
	}
	return out, rows.Err()
}

// whereClause renders filters with placeholders numbered from start.
func whereClause(filters []Filter, start int) (string, []any) {
	if len(filters) == 0 {
		return "", nil
	}
	parts := make([]string, 0, len(filters))
	args := make([]any, 0, len(filters))
	n := start
	for _, f := range filters {
		col := "t." + pq.QuoteIdentifier(f.Column)
		switch f.Op {
		case OpIs:
			switch v := f.Value.(type) {
			case nil:
				parts = append(parts, col+" IS NULL")
			case bool:
				if v {
					parts = append(parts, col+" IS TRUE")
				} else {
					parts = append(parts, col+" IS FALSE")
				}
			}
			continue
		case OpIn:
			values := f.Value.([]any)
			text := make([]string, len(values))
			for i, v := range values {
				text[i] = fmt.Sprint(v)
			}
			parts = append(parts, fmt.Sprintf("%s::text = ANY($%d::text[])", col, n))
			args = append(args, pq.Array(text))
		default:
			parts = append(parts, fmt.Sprintf("%s %s $%d", col, sqlOperator(f.Op), n))
			args = append(args, f.Value)
		}
		n++
	}
	return " WHERE " + strings.Join(parts, " AND "), args
}

func sqlOperator(op Op) string {
	switch op {
	case OpNeq:
		return "<>"
	case OpGt:
		return ">"
	case OpGte:
		return ">="
	case OpLt:
		return "<"
	case OpLte:
		return "<="
	default:
		return "="
	}
}

func orderClause(orders []Order) string {
	if len(orders) == 0 {
		return ""
	}
	parts := make([]string, len(orders))
	for i, o := range orders {
		dir := "ASC"
		if o.Descending {
			dir = "DESC"
		}
		parts[i] = "t." + pq.QuoteIdentifier(o.Column) + " " + dir
	}
	return " ORDER BY " + strings.Join(parts, ", ")
}

// sqlValue converts a marshaled column into a driver argument. Objects and
// arrays are passed as JSON text for jsonb columns.
func sqlValue(raw json.RawMessage) (any, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}
	switch trimmed[0] {
	case '{', '[':
		return trimmed, nil
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		return s, nil
	case 't', 'f':
		return trimmed == "true", nil
	default:
		// Numbers keep their textual form; Postgres casts them to the column type.
		return trimmed, nil
	}
}
