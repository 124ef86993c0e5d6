package database

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
)

// Operation names a store call for failure injection.
type Operation string

const (
	OpInsert Operation = "insert"
	OpSelect Operation = "select"
	OpUpdate Operation = "update"
)

// MemoryStore is an in-process RecordStore. Rows are kept as JSON documents
// and filtered with gjson, so it accepts the same row types as the remote
// backends. Writes and transactions are serialized; rollback restores the
// snapshot taken when the transaction began.
type MemoryStore struct {
	mu     sync.RWMutex
	tables map[string][]json.RawMessage

	txMu sync.Mutex

	failMu   sync.Mutex
	failures map[string][]error
}

type memoryTxKey struct{}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tables:   make(map[string][]json.RawMessage),
		failures: make(map[string][]error),
	}
}

// FailNext makes the next op on table return err. An empty table matches any.
// Multiple registrations for the same key fire in order.
func (m *MemoryStore) FailNext(op Operation, table string, err error) {
	m.failMu.Lock()
	defer m.failMu.Unlock()
	key := string(op) + ":" + table
	m.failures[key] = append(m.failures[key], err)
}

func (m *MemoryStore) takeFailure(op Operation, table string) error {
	m.failMu.Lock()
	defer m.failMu.Unlock()
	for _, key := range []string{string(op) + ":" + table, string(op) + ":"} {
		if errs := m.failures[key]; len(errs) > 0 {
			m.failures[key] = errs[1:]
			return errs[0]
		}
	}
	return nil
}

// Count returns the number of rows in table.
func (m *MemoryStore) Count(table string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tables[table])
}

func (m *MemoryStore) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(memoryTxKey{}).(*MemoryStore)
	return owner == m
}

// writeLock serializes writes against open transactions.
func (m *MemoryStore) writeLock(ctx context.Context) func() {
	if m.inTx(ctx) {
		return func() {}
	}
	m.txMu.Lock()
	return m.txMu.Unlock
}

// InTx implements Transactor. Nested calls join the outer transaction.
func (m *MemoryStore) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.inTx(ctx) {
		return fn(ctx)
	}

	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.RLock()
	snapshot := make(map[string][]json.RawMessage, len(m.tables))
	for table, rows := range m.tables {
		snapshot[table] = append([]json.RawMessage(nil), rows...)
	}
	m.mu.RUnlock()

	if err := fn(context.WithValue(ctx, memoryTxKey{}, m)); err != nil {
		m.mu.Lock()
		m.tables = snapshot
		m.mu.Unlock()
		return err
	}
	return nil
}

// Insert implements RecordStore.
func (m *MemoryStore) Insert(ctx context.Context, table string, row any, out any) error {
	if err := validateIdentifier(table); err != nil {
		return err
	}
	if err := m.takeFailure(OpInsert, table); err != nil {
		return err
	}
	cols, err := toColumns(row)
	if err != nil {
		return err
	}
	data, err := json.Marshal(cols)
	if err != nil {
		return err
	}

	unlock := m.writeLock(ctx)
	defer unlock()

	m.mu.Lock()
	m.tables[table] = append(m.tables[table], data)
	m.mu.Unlock()

	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

// Select implements RecordStore.
func (m *MemoryStore) Select(ctx context.Context, table string, q Query, out any) error {
	rows, err := m.query(table, q)
	if err != nil {
		return err
	}
	return decodeRows(rows, out)
}

// Single implements RecordStore.
func (m *MemoryStore) Single(ctx context.Context, table string, q Query, out any) error {
	q.Limit = 2
	rows, err := m.query(table, q)
	if err != nil {
		return err
	}
	return decodeSingle(table, rows, out)
}

func (m *MemoryStore) query(table string, q Query) ([]json.RawMessage, error) {
	if err := validateIdentifier(table); err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if err := m.takeFailure(OpSelect, table); err != nil {
		return nil, err
	}

	m.mu.RLock()
	var matched []json.RawMessage
	for _, row := range m.tables[table] {
		if matchesAll(row, q.Filters) {
			matched = append(matched, row)
		}
	}
	m.mu.RUnlock()

	if len(q.Orders) > 0 {
		sort.SliceStable(matched, func(i, j int) bool {
			for _, o := range q.Orders {
				c := compareResults(gjson.GetBytes(matched[i], o.Column), gjson.GetBytes(matched[j], o.Column))
				if c == 0 {
					continue
				}
				if o.Descending {
					return c > 0
				}
				return c < 0
			}
			return false
		})
	}
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched, nil
}

// Update implements RecordStore.
func (m *MemoryStore) Update(ctx context.Context, table string, patch any, q Query, out any) (int, error) {
	if err := validateIdentifier(table); err != nil {
		return 0, err
	}
	if err := q.Validate(); err != nil {
		return 0, err
	}
	if err := m.takeFailure(OpUpdate, table); err != nil {
		return 0, err
	}
	changes, err := toColumns(patch)
	if err != nil {
		return 0, err
	}

	unlock := m.writeLock(ctx)
	defer unlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	var updated []json.RawMessage
	rows := m.tables[table]
	for i, row := range rows {
		if !matchesAll(row, q.Filters) {
			continue
		}
		var cols map[string]json.RawMessage
		if err := json.Unmarshal(row, &cols); err != nil {
			return 0, fmt.Errorf("decode %s row: %w", table, err)
		}
		for k, v := range changes {
			cols[k] = v
		}
		data, err := json.Marshal(cols)
		if err != nil {
			return 0, err
		}
		rows[i] = data
		updated = append(updated, data)
	}

	if err := decodeRows(updated, out); err != nil {
		return 0, err
	}
	return len(updated), nil
}

func matchesAll(row json.RawMessage, filters []Filter) bool {
	for _, f := range filters {
		if !matches(gjson.GetBytes(row, f.Column), f) {
			return false
		}
	}
	return true
}

func matches(field gjson.Result, f Filter) bool {
	isNull := !field.Exists() || field.Type == gjson.Null
	switch f.Op {
	case OpIs:
		switch v := f.Value.(type) {
		case nil:
			return isNull
		case bool:
			return !isNull && field.IsBool() && field.Bool() == v
		}
		return false
	case OpIn:
		if isNull {
			return false
		}
		for _, v := range f.Value.([]any) {
			if compareValue(field, v) == 0 {
				return true
			}
		}
		return false
	}

	if isNull || f.Value == nil {
		return false
	}
	c := compareValue(field, f.Value)
	switch f.Op {
	case OpEq:
		return c == 0
	case OpNeq:
		return c != 0
	case OpGt:
		return c > 0
	case OpGte:
		return c >= 0
	case OpLt:
		return c < 0
	case OpLte:
		return c <= 0
	}
	return false
}

// compareValue orders a stored field against a Go operand by round-tripping
// the operand through JSON, so numbers, strings, times and bools compare the
// way they were stored.
func compareValue(field gjson.Result, v any) int {
	data, err := json.Marshal(v)
	if err != nil {
		return -1
	}
	return compareResults(field, gjson.ParseBytes(data))
}

func compareResults(a, b gjson.Result) int {
	switch {
	case a.Type == gjson.Number && b.Type == gjson.Number:
		return compareFloat(a.Float(), b.Float())
	case a.Type == gjson.String && b.Type == gjson.String:
		if ta, okA := parseTime(a.Str); okA {
			if tb, okB := parseTime(b.Str); okB {
				return ta.Compare(tb)
			}
		}
		return strings.Compare(a.Str, b.Str)
	case a.IsBool() && b.IsBool():
		return compareFloat(boolRank(a.Bool()), boolRank(b.Bool()))
	case a.Type == gjson.Number && b.Type == gjson.String:
		return compareFloat(a.Float(), b.Float())
	case a.Type == gjson.String && b.Type == gjson.Number:
		return compareFloat(a.Float(), b.Float())
	}
	// Nulls sort last, matching Postgres ascending order.
	return compareFloat(nullRank(a), nullRank(b))
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func boolRank(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func nullRank(r gjson.Result) float64 {
	if !r.Exists() || r.Type == gjson.Null {
		return 1
	}
	return 0
}

func parseTime(s string) (time.Time, bool) {
	if len(s) < len("2006-01-02T15:04:05") || s[4] != '-' || s[10] != 'T' {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
