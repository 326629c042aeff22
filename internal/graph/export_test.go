package graph

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

// FailExec makes every exec whose SQL contains substr fail with err.
func (s *Store) FailExec(substr string, err error) {
	s.hooks.exec = func(ctx context.Context, db dbtx, query string, args ...any) (sql.Result, error) {
		if strings.Contains(query, substr) {
			return nil, err
		}
		return db.ExecContext(ctx, query, args...)
	}
}

// FailQuery makes every query whose SQL contains substr fail with err.
func (s *Store) FailQuery(substr string, err error) {
	s.hooks.query = func(ctx context.Context, db dbtx, query string, args ...any) (*sql.Rows, error) {
		if strings.Contains(query, substr) {
			return nil, err
		}
		return db.QueryContext(ctx, query, args...)
	}
}

// InsertEdge writes an edge row directly.
func (s *Store) InsertEdge(ctx context.Context, from, to int64, weight, confidence float64, expiresAt *string) (int64, error) {
	ts := now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO graph_edges (from_node_id, to_node_id, edge_type, weight, confidence,
			expires_at, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		from, to, EdgeCoOccurs, weight, confidence, expiresAt, ts, ts,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// InsertLink writes a memory-node link directly.
func (s *Store) InsertLink(ctx context.Context, memoryID, nodeID int64, role string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memory_node_links (memory_id, node_id, role, created_at) VALUES (?, ?, ?, ?)`,
		memoryID, nodeID, role, now(),
	)
	return err
}

// EdgeBetween returns the co-occurrence edge between two nodes, or nil.
func (s *Store) EdgeBetween(ctx context.Context, a, b int64) (*Edge, error) {
	if a > b {
		a, b = b, a
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+edgeColumns+` FROM graph_edges WHERE from_node_id = ? AND to_node_id = ? AND edge_type = ?`,
		a, b, EdgeCoOccurs,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, rows.Err()
	}
	e, err := scanEdge(rows, nil)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// SetTimeNow overrides the package clock and returns a restore function.
func SetTimeNow(fn func() time.Time) func() {
	prev := timeNow
	timeNow = fn
	return func() { timeNow = prev }
}
