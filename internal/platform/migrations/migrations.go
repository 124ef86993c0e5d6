// Package migrations holds the Postgres schema for the settlement tables.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
)

//go:embed sql/*.sql
var files embed.FS

// Migration is one schema file.
type Migration struct {
	Name string
	SQL  string
}

// All returns the embedded migrations in apply order.
func All() ([]Migration, error) {
	names, err := fs.Glob(files, "sql/*.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	out := make([]Migration, 0, len(names))
	for _, name := range names {
		body, err := files.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		out = append(out, Migration{Name: name[len("sql/"):], SQL: string(body)})
	}
	return out, nil
}

// Execer is the subset of *sql.DB used to apply migrations.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Apply runs every migration in order. Each file is idempotent, so Apply is
// safe to run on every deploy.
func Apply(ctx context.Context, db Execer) error {
	return ApplyEach(ctx, db, nil)
}

// ApplyEach is Apply with a callback after each file succeeds.
func ApplyEach(ctx context.Context, db Execer, applied func(Migration)) error {
	migs, err := All()
	if err != nil {
		return err
	}
	for _, m := range migs {
		if _, err := db.ExecContext(ctx, m.SQL); err != nil {
			return fmt.Errorf("apply migration %s: %w", m.Name, err)
		}
		if applied != nil {
			applied(m)
		}
	}
	return nil
}
