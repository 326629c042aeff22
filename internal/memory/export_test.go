package memory

import (
	"context"
	"database/sql"
	"time"
)

// FailExec makes every write statement matching fn return err.
// This file only compiles during `go test`.
func (s *Store) FailExec(fn func(query string) bool, err error) {
	s.hooks.exec = func(ctx context.Context, db execer, query string, args ...any) (sql.Result, error) {
		if fn(query) {
			return nil, err
		}
		return db.ExecContext(ctx, query, args...)
	}
}

// SetTimeNow overrides the package clock and returns a restore func.
func SetTimeNow(fn func() time.Time) func() {
	prev := timeNow
	timeNow = fn
	return func() { timeNow = prev }
}
