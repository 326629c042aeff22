package memory

import (
	"context"
	"fmt"
	"strings"
)

// ─── Search (FTS5) ───────────────────────────────────────────────────────────

// Search performs full-text search across active memories with filters.
// If the query is empty or whitespace-only, falls back to returning recent memories.
func (s *Store) Search(ctx context.Context, query string, opts SearchOptions) ([]SearchResult, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	if limit > s.cfg.MaxSearchResults {
		limit = s.cfg.MaxSearchResults
	}

	ftsQuery := sanitizeFTS(query)

	// Empty or whitespace-only query: fall back to recent memories (no FTS).
	if ftsQuery == "" {
		return s.searchRecent(ctx, opts.Filter, limit)
	}

	sqlStr := `
		SELECT m.id, m.content, m.type, m.layer, m.scope, m.tenant_id, m.user_id, m.project_id,
		       m.tags, m.category, m.expires_at, m.created_at, m.updated_at, m.deleted_at,
		       fts.rank
		FROM memories_fts fts
		JOIN memories m ON m.id = fts.rowid
		WHERE memories_fts MATCH ?
	`
	args := []any{ftsQuery}
	sqlStr, args = appendActive(sqlStr, args, "m")
	sqlStr, args = appendFilter(sqlStr, args, "m", opts.Filter)

	sqlStr += " ORDER BY fts.rank, m.id LIMIT ?"
	args = append(args, limit)

	return s.querySearch(ctx, sqlStr, args...)
}

// searchRecent returns the most recent memories without FTS, used as
// fallback when the query is empty or whitespace-only.
func (s *Store) searchRecent(ctx context.Context, f Filter, limit int) ([]SearchResult, error) {
	sqlStr := `
		SELECT m.id, m.content, m.type, m.layer, m.scope, m.tenant_id, m.user_id, m.project_id,
		       m.tags, m.category, m.expires_at, m.created_at, m.updated_at, m.deleted_at,
		       0 AS rank
		FROM memories m
		WHERE 1=1
	`
	var args []any
	sqlStr, args = appendActive(sqlStr, args, "m")
	sqlStr, args = appendFilter(sqlStr, args, "m", f)

	sqlStr += " ORDER BY m.updated_at DESC, m.id DESC LIMIT ?"
	args = append(args, limit)

	return s.querySearch(ctx, sqlStr, args...)
}

func (s *Store) querySearch(ctx context.Context, sqlStr string, args ...any) ([]SearchResult, error) {
	rows, err := s.queryHook(ctx, s.db, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("memory: search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []SearchResult
	for rows.Next() {
		var sr SearchResult
		m, err := scanMemory(rows, []any{&sr.Rank})
		if err != nil {
			return nil, fmt.Errorf("memory: search scan: %w", err)
		}
		sr.Memory = m
		results = append(results, sr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("memory: search: %w", err)
	}
	return results, nil
}

// sanitizeFTS wraps each word in quotes for safe FTS5 queries and joins
// them with OR so any keyword hit counts; rank orders by how many match.
// "fix auth bug" → `"fix" OR "auth" OR "bug"`
func sanitizeFTS(query string) string {
	words := strings.Fields(query)
	out := words[:0]
	for _, w := range words {
		w = strings.ReplaceAll(w, `"`, "")
		if w == "" {
			continue
		}
		out = append(out, `"`+w+`"`)
	}
	return strings.Join(out, " OR ")
}
