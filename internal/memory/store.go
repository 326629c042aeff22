// Package memory implements the persistent memory store for memgraph.
//
// It uses SQLite with FTS5 full-text search to store short agent memories
// (rules, decisions, facts, notes, skills) and to answer the keyword
// baseline of a retrieval request. The derived knowledge graph lives in
// package graph; this package only notifies an Observer after each write.
package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// ─── Errors ──────────────────────────────────────────────────────────────────

var (
	// ErrNotFound is returned when a memory does not exist or is soft-deleted.
	ErrNotFound = errors.New("memory: not found")
	// ErrInvalid is returned when write parameters fail validation.
	ErrInvalid = errors.New("memory: invalid parameters")
)

// ─── Enums ───────────────────────────────────────────────────────────────────

// Memory types.
const (
	TypeRule     = "rule"
	TypeDecision = "decision"
	TypeFact     = "fact"
	TypeNote     = "note"
	TypeSkill    = "skill"
)

// Memory layers.
const (
	LayerRule     = "rule"
	LayerWorking  = "working"
	LayerLongTerm = "long_term"
)

// Memory scopes.
const (
	ScopeGlobal  = "global"
	ScopeProject = "project"
)

// TypeValues returns the accepted memory types, for MCP enum definitions.
func TypeValues() []string {
	return []string{TypeRule, TypeDecision, TypeFact, TypeNote, TypeSkill}
}

// LayerValues returns the accepted memory layers.
func LayerValues() []string {
	return []string{LayerRule, LayerWorking, LayerLongTerm}
}

// ─── Types ───────────────────────────────────────────────────────────────────

// Memory is a stored textual unit of agent context.
type Memory struct {
	ID        int64    `json:"id"`
	Content   string   `json:"content"`
	Type      string   `json:"type"`
	Layer     string   `json:"layer"`
	Scope     string   `json:"scope"`
	TenantID  *string  `json:"tenant_id,omitempty"`
	UserID    *string  `json:"user_id,omitempty"`
	ProjectID *string  `json:"project_id,omitempty"`
	Tags      []string `json:"tags"`
	Category  *string  `json:"category,omitempty"`
	ExpiresAt *string  `json:"expires_at,omitempty"`
	CreatedAt string   `json:"created_at"`
	UpdatedAt string   `json:"updated_at"`
	DeletedAt *string  `json:"deleted_at,omitempty"`
}

// Deleted reports whether the memory carries a deletion timestamp.
func (m Memory) Deleted() bool {
	return m.DeletedAt != nil
}

// SearchResult embeds a Memory with its FTS5 rank score.
type SearchResult struct {
	Memory
	Rank float64 `json:"rank"`
}

// AddParams holds the input for creating a new memory.
type AddParams struct {
	Content   string     `json:"content"`
	Type      string     `json:"type,omitempty"`
	Layer     string     `json:"layer,omitempty"`
	Scope     string     `json:"scope,omitempty"`
	TenantID  string     `json:"tenant_id,omitempty"`
	UserID    string     `json:"user_id,omitempty"`
	ProjectID string     `json:"project_id,omitempty"`
	Tags      []string   `json:"tags,omitempty"`
	Category  string     `json:"category,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// UpdateParams holds partial update fields for a memory.
type UpdateParams struct {
	Content   *string    `json:"content,omitempty"`
	Type      *string    `json:"type,omitempty"`
	Layer     *string    `json:"layer,omitempty"`
	Tags      *[]string  `json:"tags,omitempty"`
	Category  *string    `json:"category,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	// ClearExpiry removes an existing expiry. Ignored when ExpiresAt is set.
	ClearExpiry bool `json:"clear_expiry,omitempty"`
}

// Filter restricts reads to a tenant/user/project scope and a set of layers.
// Empty fields do not filter.
type Filter struct {
	TenantID  string   `json:"tenant_id,omitempty"`
	UserID    string   `json:"user_id,omitempty"`
	ProjectID string   `json:"project_id,omitempty"`
	Layers    []string `json:"layers,omitempty"`
	Type      string   `json:"type,omitempty"`
}

// SearchOptions holds filters for FTS5 search queries.
type SearchOptions struct {
	Filter
	Limit int `json:"limit,omitempty"`
}

// Stats holds aggregate memory statistics.
type Stats struct {
	TotalMemories int            `json:"total_memories"`
	ByLayer       map[string]int `json:"by_layer"`
	Projects      []string       `json:"projects"`
}

// Observer is notified after every committed memory write. Deletions are
// delivered with DeletedAt set. Implementations must not fail the write;
// the store ignores anything they do.
type Observer interface {
	MemoryChanged(ctx context.Context, m Memory)
}

// ─── Config ──────────────────────────────────────────────────────────────────

// Config holds memory store configuration.
type Config struct {
	DataDir          string
	MaxContentLength int
	MaxSearchResults int
}

// DefaultConfig returns the default configuration for the memory store.
func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	return Config{
		DataDir:          filepath.Join(home, ".memgraph"),
		MaxContentLength: 4000,
		MaxSearchResults: 50,
	}
}

// ─── Store ───────────────────────────────────────────────────────────────────

// Store is the persistent memory engine backed by SQLite + FTS5.
type Store struct {
	db       *sql.DB
	cfg      Config
	hooks    storeHooks
	observer Observer
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type storeHooks struct {
	exec    func(ctx context.Context, db execer, query string, args ...any) (sql.Result, error)
	query   func(ctx context.Context, db queryer, query string, args ...any) (*sql.Rows, error)
	beginTx func(ctx context.Context, db *sql.DB) (*sql.Tx, error)
	commit  func(tx *sql.Tx) error
}

func (s *Store) execHook(ctx context.Context, db execer, query string, args ...any) (sql.Result, error) {
	if s.hooks.exec != nil {
		return s.hooks.exec(ctx, db, query, args...)
	}
	return db.ExecContext(ctx, query, args...)
}

func (s *Store) queryHook(ctx context.Context, db queryer, query string, args ...any) (*sql.Rows, error) {
	if s.hooks.query != nil {
		return s.hooks.query(ctx, db, query, args...)
	}
	return db.QueryContext(ctx, query, args...)
}

func (s *Store) beginTxHook(ctx context.Context) (*sql.Tx, error) {
	if s.hooks.beginTx != nil {
		return s.hooks.beginTx(ctx, s.db)
	}
	return s.db.BeginTx(ctx, nil)
}

func (s *Store) commitHook(tx *sql.Tx) error {
	if s.hooks.commit != nil {
		return s.hooks.commit(tx)
	}
	return tx.Commit()
}

// connPragmas apply to every pooled connection. busy_timeout and
// foreign_keys are connection-scoped, so a one-off Exec would only reach
// one of them.
var connPragmas = []string{
	"journal_mode(WAL)",
	"busy_timeout(5000)",
	"synchronous(NORMAL)",
	"foreign_keys(1)",
}

// dsn builds the modernc connection string for path. Write transactions
// take the lock at BEGIN so concurrent writers wait on busy_timeout instead
// of failing a deferred lock upgrade.
func dsn(path string) string {
	q := url.Values{}
	for _, p := range connPragmas {
		q.Add("_pragma", p)
	}
	q.Set("_txlock", "immediate")
	return path + "?" + q.Encode()
}

// Open creates the data directory if needed and opens the workspace database
// with WAL mode. Both the memory store and the graph store share the handle.
func Open(dataDir string) (*sql.DB, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("memory: create data dir: %w", err)
	}

	db, err := openDB("sqlite", dsn(filepath.Join(dataDir, "memory.db")))
	if err != nil {
		return nil, fmt.Errorf("memory: open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("memory: open database: %w", err)
	}
	return db, nil
}

// New opens the workspace database under cfg.DataDir and runs migrations.
func New(cfg Config) (*Store, error) {
	db, err := Open(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	s, err := NewWithDB(db, cfg)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewWithDB wraps an already opened database and runs migrations.
func NewWithDB(db *sql.DB, cfg Config) (*Store, error) {
	if cfg.MaxContentLength <= 0 {
		cfg.MaxContentLength = DefaultConfig().MaxContentLength
	}
	if cfg.MaxSearchResults <= 0 {
		cfg.MaxSearchResults = DefaultConfig().MaxSearchResults
	}
	s := &Store{db: db, cfg: cfg}
	if err := s.migrate(context.Background()); err != nil {
		return nil, fmt.Errorf("memory: migration: %w", err)
	}
	return s, nil
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// SetObserver registers the write observer. Passing nil disables notifications.
func (s *Store) SetObserver(o Observer) {
	s.observer = o
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ─── Migrations ──────────────────────────────────────────────────────────────

func (s *Store) migrate(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS memories (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			content    TEXT    NOT NULL,
			type       TEXT    NOT NULL DEFAULT 'note',
			layer      TEXT    NOT NULL DEFAULT 'long_term',
			scope      TEXT    NOT NULL DEFAULT 'global',
			tenant_id  TEXT,
			user_id    TEXT,
			project_id TEXT,
			tags       TEXT    NOT NULL DEFAULT '[]',
			category   TEXT,
			expires_at TEXT,
			created_at TEXT    NOT NULL,
			updated_at TEXT    NOT NULL,
			deleted_at TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_mem_layer   ON memories(layer);
		CREATE INDEX IF NOT EXISTS idx_mem_scope   ON memories(tenant_id, project_id, scope);
		CREATE INDEX IF NOT EXISTS idx_mem_deleted ON memories(deleted_at);
		CREATE INDEX IF NOT EXISTS idx_mem_updated ON memories(updated_at DESC);

		CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
			content,
			tags,
			category,
			type,
			content='memories',
			content_rowid='id'
		);
	`
	if _, err := s.execHook(ctx, s.db, schema); err != nil {
		return err
	}

	// Create FTS triggers (idempotent)
	var name string
	err := s.db.QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type='trigger' AND name='mem_fts_insert'",
	).Scan(&name)

	if err == sql.ErrNoRows {
		triggers := `
			CREATE TRIGGER mem_fts_insert AFTER INSERT ON memories BEGIN
				INSERT INTO memories_fts(rowid, content, tags, category, type)
				VALUES (new.id, new.content, new.tags, new.category, new.type);
			END;

			CREATE TRIGGER mem_fts_delete AFTER DELETE ON memories BEGIN
				INSERT INTO memories_fts(memories_fts, rowid, content, tags, category, type)
				VALUES ('delete', old.id, old.content, old.tags, old.category, old.type);
			END;

			CREATE TRIGGER mem_fts_update AFTER UPDATE ON memories BEGIN
				INSERT INTO memories_fts(memories_fts, rowid, content, tags, category, type)
				VALUES ('delete', old.id, old.content, old.tags, old.category, old.type);
				INSERT INTO memories_fts(rowid, content, tags, category, type)
				VALUES (new.id, new.content, new.tags, new.category, new.type);
			END;
		`
		if _, err := s.execHook(ctx, s.db, triggers); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	return nil
}

// ─── Writes ──────────────────────────────────────────────────────────────────

const memoryColumns = `id, content, type, layer, scope, tenant_id, user_id, project_id,
	tags, category, expires_at, created_at, updated_at, deleted_at`

// Add creates a new memory and notifies the observer once committed.
func (s *Store) Add(ctx context.Context, p AddParams) (*Memory, error) {
	content := s.clampContent(stripPrivateTags(p.Content))
	if content == "" {
		return nil, fmt.Errorf("%w: content is required", ErrInvalid)
	}

	typ, err := normalizeType(p.Type)
	if err != nil {
		return nil, err
	}
	layer, err := normalizeLayer(p.Layer, typ)
	if err != nil {
		return nil, err
	}
	scope := normalizeScope(p.Scope, p.ProjectID)
	tags, err := encodeTags(NormalizeTags(p.Tags))
	if err != nil {
		return nil, err
	}

	now := Now()
	res, err := s.execHook(ctx, s.db,
		`INSERT INTO memories (content, type, layer, scope, tenant_id, user_id, project_id, tags, category, expires_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		content, typ, layer, scope,
		nullableString(strings.TrimSpace(p.TenantID)),
		nullableString(strings.TrimSpace(p.UserID)),
		nullableString(strings.TrimSpace(p.ProjectID)),
		tags,
		nullableString(normalizeCategory(p.Category)),
		nullableTime(p.ExpiresAt),
		now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("memory: insert: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("memory: insert id: %w", err)
	}

	m, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, *m)
	return m, nil
}

// Update partially updates a memory by ID and notifies the observer.
func (s *Store) Update(ctx context.Context, id int64, p UpdateParams) (*Memory, error) {
	m, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	content := m.Content
	typ := m.Type
	layer := m.Layer
	tags := m.Tags
	category := derefString(m.Category)
	expiresAt := m.ExpiresAt

	if p.Content != nil {
		content = s.clampContent(stripPrivateTags(*p.Content))
		if content == "" {
			return nil, fmt.Errorf("%w: content cannot be empty", ErrInvalid)
		}
	}
	if p.Type != nil {
		if typ, err = normalizeType(*p.Type); err != nil {
			return nil, err
		}
	}
	if p.Layer != nil {
		if layer, err = normalizeLayer(*p.Layer, typ); err != nil {
			return nil, err
		}
	}
	if p.Tags != nil {
		tags = NormalizeTags(*p.Tags)
	}
	if p.Category != nil {
		category = normalizeCategory(*p.Category)
	}
	if p.ExpiresAt != nil {
		expiresAt = nullableTime(p.ExpiresAt)
	} else if p.ClearExpiry {
		expiresAt = nil
	}

	encoded, err := encodeTags(tags)
	if err != nil {
		return nil, err
	}

	if _, err := s.execHook(ctx, s.db,
		`UPDATE memories
		 SET content = ?,
		     type = ?,
		     layer = ?,
		     tags = ?,
		     category = ?,
		     expires_at = ?,
		     updated_at = ?
		 WHERE id = ? AND deleted_at IS NULL`,
		content, typ, layer, encoded, nullableString(category), expiresAt, Now(), id,
	); err != nil {
		return nil, fmt.Errorf("memory: update %d: %w", id, err)
	}

	updated, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, *updated)
	return updated, nil
}

// Delete soft-deletes (or hard-deletes) a memory by ID. The observer is
// notified with DeletedAt set in both cases.
func (s *Store) Delete(ctx context.Context, id int64, hardDelete bool) error {
	m, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	now := Now()
	if hardDelete {
		if _, err := s.execHook(ctx, s.db, `DELETE FROM memories WHERE id = ?`, id); err != nil {
			return fmt.Errorf("memory: delete %d: %w", id, err)
		}
	} else {
		if _, err := s.execHook(ctx, s.db,
			`UPDATE memories
			 SET deleted_at = ?,
			     updated_at = ?
			 WHERE id = ? AND deleted_at IS NULL`,
			now, now, id,
		); err != nil {
			return fmt.Errorf("memory: soft delete %d: %w", id, err)
		}
	}

	m.DeletedAt = &now
	s.notify(ctx, *m)
	return nil
}

// CopyToProject copies a memory into another project (cross-workspace copy).
// The copy is a new memory with project scope and is synced like any write.
func (s *Store) CopyToProject(ctx context.Context, id int64, projectID string) (*Memory, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, fmt.Errorf("%w: target project is required", ErrInvalid)
	}
	src, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	p := AddParams{
		Content:   src.Content,
		Type:      src.Type,
		Layer:     src.Layer,
		Scope:     ScopeProject,
		TenantID:  derefString(src.TenantID),
		UserID:    derefString(src.UserID),
		ProjectID: projectID,
		Tags:      src.Tags,
		Category:  derefString(src.Category),
	}
	if src.ExpiresAt != nil {
		if t, err := ParseTime(*src.ExpiresAt); err == nil {
			p.ExpiresAt = &t
		}
	}
	return s.Add(ctx, p)
}

func (s *Store) notify(ctx context.Context, m Memory) {
	if s.observer == nil {
		return
	}
	s.observer.MemoryChanged(ctx, m)
}

// ─── Reads ───────────────────────────────────────────────────────────────────

// Get retrieves a single memory by ID (excludes soft-deleted).
func (s *Store) Get(ctx context.Context, id int64) (*Memory, error) {
	rows, err := s.queryHook(ctx, s.db,
		`SELECT `+memoryColumns+` FROM memories WHERE id = ? AND deleted_at IS NULL`, id,
	)
	if err != nil {
		return nil, fmt.Errorf("memory: get %d: %w", id, err)
	}
	results, err := scanMemories(rows)
	if err != nil {
		return nil, fmt.Errorf("memory: get %d: %w", id, err)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("%w: #%d", ErrNotFound, id)
	}
	return &results[0], nil
}

// GetMany loads the given memories in the order of ids, dropping any that are
// deleted, expired, or outside the filter.
func (s *Store) GetMany(ctx context.Context, ids []int64, f Filter) ([]Memory, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, 0, len(ids)+8)
	for i, id := range ids {
		placeholders[i] = "?"
		args = append(args, id)
	}

	sqlStr := `SELECT ` + memoryColumns + ` FROM memories m
		WHERE m.id IN (` + strings.Join(placeholders, ",") + `)`
	sqlStr, args = appendActive(sqlStr, args, "m")
	sqlStr, args = appendFilter(sqlStr, args, "m", f)

	rows, err := s.queryHook(ctx, s.db, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("memory: get many: %w", err)
	}
	found, err := scanMemories(rows)
	if err != nil {
		return nil, fmt.Errorf("memory: get many: %w", err)
	}

	byID := make(map[int64]Memory, len(found))
	for _, m := range found {
		byID[m.ID] = m
	}
	ordered := make([]Memory, 0, len(found))
	for _, id := range ids {
		if m, ok := byID[id]; ok {
			ordered = append(ordered, m)
			delete(byID, id)
		}
	}
	return ordered, nil
}

// Rules returns active rule-layer memories in scope, most recently updated first.
func (s *Store) Rules(ctx context.Context, f Filter, limit int) ([]Memory, error) {
	if limit <= 0 {
		limit = 8
	}
	f.Layers = []string{LayerRule}

	sqlStr := `SELECT ` + memoryColumns + ` FROM memories m WHERE 1=1`
	var args []any
	sqlStr, args = appendActive(sqlStr, args, "m")
	sqlStr, args = appendFilter(sqlStr, args, "m", f)
	sqlStr += " ORDER BY m.updated_at DESC, m.id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.queryHook(ctx, s.db, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("memory: rules: %w", err)
	}
	return scanMemories(rows)
}

// ListActive pages through non-deleted memories in ID order, starting after
// afterID. It is used to backfill the graph.
func (s *Store) ListActive(ctx context.Context, afterID int64, limit int) ([]Memory, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.queryHook(ctx, s.db,
		`SELECT `+memoryColumns+` FROM memories
		 WHERE deleted_at IS NULL AND id > ?
		 ORDER BY id ASC LIMIT ?`,
		afterID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("memory: list active: %w", err)
	}
	return scanMemories(rows)
}

// Stats returns aggregate memory statistics.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{ByLayer: map[string]int{}}

	rows, err := s.queryHook(ctx, s.db,
		`SELECT layer, COUNT(*) FROM memories WHERE deleted_at IS NULL GROUP BY layer`)
	if err != nil {
		return nil, fmt.Errorf("memory: stats: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var layer string
		var n int
		if err := rows.Scan(&layer, &n); err != nil {
			return nil, err
		}
		stats.ByLayer[layer] = n
		stats.TotalMemories += n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	projRows, err := s.queryHook(ctx, s.db,
		`SELECT project_id FROM memories
		 WHERE project_id IS NOT NULL AND deleted_at IS NULL
		 GROUP BY project_id ORDER BY MAX(created_at) DESC`)
	if err != nil {
		return stats, nil
	}
	defer func() { _ = projRows.Close() }()
	for projRows.Next() {
		var p string
		if err := projRows.Scan(&p); err == nil {
			stats.Projects = append(stats.Projects, p)
		}
	}
	return stats, nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// appendActive restricts a query to non-deleted, non-expired memories.
func appendActive(sqlStr string, args []any, alias string) (string, []any) {
	sqlStr += fmt.Sprintf(" AND %[1]s.deleted_at IS NULL AND (%[1]s.expires_at IS NULL OR %[1]s.expires_at > ?)", alias)
	return sqlStr, append(args, Now())
}

// appendFilter adds tenant/user/project/layer/type predicates. A global
// memory is visible to every project of its tenant.
func appendFilter(sqlStr string, args []any, alias string, f Filter) (string, []any) {
	if f.TenantID != "" {
		sqlStr += " AND " + alias + ".tenant_id = ?"
		args = append(args, f.TenantID)
	}
	if f.UserID != "" {
		sqlStr += " AND (" + alias + ".user_id IS NULL OR " + alias + ".user_id = ?)"
		args = append(args, f.UserID)
	}
	if f.ProjectID != "" {
		sqlStr += " AND (" + alias + ".scope = 'global' OR " + alias + ".project_id = ?)"
		args = append(args, f.ProjectID)
	}
	if len(f.Layers) > 0 {
		placeholders := make([]string, len(f.Layers))
		for i, l := range f.Layers {
			placeholders[i] = "?"
			args = append(args, l)
		}
		sqlStr += " AND " + alias + ".layer IN (" + strings.Join(placeholders, ",") + ")"
	}
	if f.Type != "" {
		sqlStr += " AND " + alias + ".type = ?"
		args = append(args, f.Type)
	}
	return sqlStr, args
}

func scanMemories(rows *sql.Rows) ([]Memory, error) {
	defer func() { _ = rows.Close() }()

	var results []Memory
	for rows.Next() {
		m, err := scanMemory(rows, nil)
		if err != nil {
			return nil, err
		}
		results = append(results, m)
	}
	return results, rows.Err()
}

// scanMemory scans the memoryColumns projection plus any extra destinations.
func scanMemory(rows *sql.Rows, extra []any) (Memory, error) {
	var m Memory
	var tags string
	dest := []any{
		&m.ID, &m.Content, &m.Type, &m.Layer, &m.Scope,
		&m.TenantID, &m.UserID, &m.ProjectID,
		&tags, &m.Category, &m.ExpiresAt,
		&m.CreatedAt, &m.UpdatedAt, &m.DeletedAt,
	}
	dest = append(dest, extra...)
	if err := rows.Scan(dest...); err != nil {
		return m, err
	}
	m.Tags = decodeTags(tags)
	return m, nil
}

func (s *Store) clampContent(content string) string {
	if len(content) > s.cfg.MaxContentLength {
		return content[:s.cfg.MaxContentLength] + "... [truncated]"
	}
	return content
}

func normalizeType(typ string) (string, error) {
	v := strings.TrimSpace(strings.ToLower(typ))
	if v == "" {
		return TypeNote, nil
	}
	for _, t := range TypeValues() {
		if v == t {
			return v, nil
		}
	}
	return "", fmt.Errorf("%w: unknown type %q", ErrInvalid, typ)
}

func normalizeLayer(layer, typ string) (string, error) {
	v := strings.TrimSpace(strings.ToLower(layer))
	if v == "" {
		if typ == TypeRule {
			return LayerRule, nil
		}
		return LayerLongTerm, nil
	}
	for _, l := range LayerValues() {
		if v == l {
			return v, nil
		}
	}
	return "", fmt.Errorf("%w: unknown layer %q", ErrInvalid, layer)
}

func normalizeScope(scope, projectID string) string {
	v := strings.TrimSpace(strings.ToLower(scope))
	switch v {
	case ScopeGlobal:
		return ScopeGlobal
	case ScopeProject:
		return ScopeProject
	}
	if strings.TrimSpace(projectID) != "" {
		return ScopeProject
	}
	return ScopeGlobal
}

func normalizeCategory(category string) string {
	return strings.ToLower(strings.Join(strings.Fields(category), " "))
}

// NormalizeTags trims, lower-cases and de-duplicates tags, preserving order.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		v := strings.ToLower(strings.Join(strings.Fields(t), "-"))
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

func encodeTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("memory: encode tags: %w", err)
	}
	return string(b), nil
}

func decodeTags(raw string) []string {
	var tags []string
	if err := json.Unmarshal([]byte(raw), &tags); err != nil || tags == nil {
		return []string{}
	}
	return tags
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullableTime(t *time.Time) *string {
	if t == nil || t.IsZero() {
		return nil
	}
	v := FormatTime(*t)
	return &v
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

// Truncate shortens a string to max length with ellipsis.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// privateTagRegex matches <private>...</private> tags and their contents.
var privateTagRegex = regexp.MustCompile(`(?is)<private>.*?</private>`)

// stripPrivateTags removes all <private>...</private> content from a string.
func stripPrivateTags(s string) string {
	result := privateTagRegex.ReplaceAllString(s, "[REDACTED]")
	return strings.TrimSpace(result)
}
