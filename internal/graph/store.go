// Package graph maintains the knowledge graph derived from memories: typed
// nodes, weighted co-occurrence edges, and memory-node links. It also owns
// the persisted rollout configuration and metric events, and answers the
// status and explorer reads.
//
// The graph schema is optional. Workspaces created before the graph existed
// have no graph tables; every read in this package then returns an empty
// result instead of an error.
package graph

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// ErrSchemaAbsent is returned by graph writes and by Expand when the graph
// tables do not exist in the workspace. Status and explore reads never
// return it.
var ErrSchemaAbsent = errors.New("graph: schema absent")

// Node types.
const (
	NodeTag      = "tag"
	NodeCategory = "category"
	NodeTopic    = "topic"
	NodeFile     = "file"
)

// NodeTypeValues returns the node types, for MCP enum definitions.
func NodeTypeValues() []string {
	return []string{NodeTag, NodeCategory, NodeTopic, NodeFile}
}

// Link roles.
const (
	RoleTagged      = "tagged"
	RoleCategorized = "categorized"
	RoleAbout       = "about"
	RoleMentions    = "mentions"
)

// EdgeCoOccurs links two nodes referenced by the same memory.
const EdgeCoOccurs = "co_occurs"

// ─── Types ───────────────────────────────────────────────────────────────────

// Node is a typed, keyed entity. (Type, Key) is unique.
type Node struct {
	ID        int64          `json:"id"`
	Type      string         `json:"node_type"`
	Key       string         `json:"node_key"`
	Label     string         `json:"label"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt string         `json:"created_at"`
	UpdatedAt string         `json:"updated_at"`
}

// NodeRef identifies a node to upsert.
type NodeRef struct {
	Type     string         `json:"node_type"`
	Key      string         `json:"node_key"`
	Label    string         `json:"label"`
	Role     string         `json:"role"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Edge is a directed, weighted relationship between two nodes.
type Edge struct {
	ID               int64   `json:"id"`
	FromNodeID       int64   `json:"from_node_id"`
	ToNodeID         int64   `json:"to_node_id"`
	Type             string  `json:"edge_type"`
	Weight           float64 `json:"weight"`
	Confidence       float64 `json:"confidence"`
	EvidenceMemoryID *int64  `json:"evidence_memory_id,omitempty"`
	ExpiresAt        *string `json:"expires_at,omitempty"`
	CreatedAt        string  `json:"created_at"`
	UpdatedAt        string  `json:"updated_at"`
}

// Link records that a memory references a node in a role.
type Link struct {
	MemoryID  int64  `json:"memory_id"`
	NodeID    int64  `json:"node_id"`
	Role      string `json:"role"`
	CreatedAt string `json:"created_at"`
}

// ─── Store ───────────────────────────────────────────────────────────────────

type schemaState int32

const (
	schemaUnknown schemaState = iota
	schemaPresent
	schemaAbsent
)

// Options configures a Store.
type Options struct {
	Logger zerolog.Logger
	// Errors receives sync and graph-path failures for the status feed.
	// A feed is created when nil.
	Errors *ErrorFeed
	// AutoMigrate creates the graph tables on construction.
	AutoMigrate bool
	// SchemaRecheck is how long an absent schema is trusted before the
	// tables are probed again. Defaults to 30s.
	SchemaRecheck time.Duration
}

// DefaultSchemaRecheck is the default Options.SchemaRecheck.
const DefaultSchemaRecheck = 30 * time.Second

// Store reads and writes the graph tables on a workspace database shared
// with the memory store.
type Store struct {
	db     *sql.DB
	hooks  storeHooks
	log    zerolog.Logger
	errors *ErrorFeed
	schema atomic.Int32
	// absentAt is when the probe last found the schema absent, in unix nanos.
	absentAt atomic.Int64
	recheck  time.Duration
}

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type storeHooks struct {
	exec    func(ctx context.Context, db dbtx, query string, args ...any) (sql.Result, error)
	query   func(ctx context.Context, db dbtx, query string, args ...any) (*sql.Rows, error)
	beginTx func(ctx context.Context, db *sql.DB) (*sql.Tx, error)
}

func (s *Store) execHook(ctx context.Context, db dbtx, query string, args ...any) (sql.Result, error) {
	if s.hooks.exec != nil {
		return s.hooks.exec(ctx, db, query, args...)
	}
	return db.ExecContext(ctx, query, args...)
}

func (s *Store) queryHook(ctx context.Context, db dbtx, query string, args ...any) (*sql.Rows, error) {
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

// NewStore wraps db. With AutoMigrate the graph tables are created;
// otherwise the store works against whatever schema the workspace has.
func NewStore(ctx context.Context, db *sql.DB, opts Options) (*Store, error) {
	feed := opts.Errors
	if feed == nil {
		feed = NewErrorFeed(DefaultErrorFeedSize)
	}
	if opts.SchemaRecheck <= 0 {
		opts.SchemaRecheck = DefaultSchemaRecheck
	}
	s := &Store{db: db, log: opts.Logger, errors: feed, recheck: opts.SchemaRecheck}
	if opts.AutoMigrate {
		if err := s.EnsureSchema(ctx); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Errors returns the failure feed shown by Status.
func (s *Store) Errors() *ErrorFeed {
	return s.errors
}

// ─── Schema ──────────────────────────────────────────────────────────────────

var graphTables = []string{
	"graph_nodes",
	"graph_edges",
	"memory_node_links",
	"graph_rollout_config",
	"graph_rollout_metrics",
}

// EnsureSchema creates the graph tables and seeds the rollout row with mode
// off. It is idempotent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS graph_nodes (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			node_type  TEXT    NOT NULL,
			node_key   TEXT    NOT NULL,
			label      TEXT    NOT NULL DEFAULT '',
			metadata   TEXT    NOT NULL DEFAULT '{}',
			created_at TEXT    NOT NULL,
			updated_at TEXT    NOT NULL,
			UNIQUE(node_type, node_key)
		);

		CREATE TABLE IF NOT EXISTS graph_edges (
			id                 INTEGER PRIMARY KEY AUTOINCREMENT,
			from_node_id       INTEGER NOT NULL REFERENCES graph_nodes(id),
			to_node_id         INTEGER NOT NULL REFERENCES graph_nodes(id),
			edge_type          TEXT    NOT NULL,
			weight             REAL    NOT NULL DEFAULT 1.0,
			confidence         REAL    NOT NULL DEFAULT 1.0,
			evidence_memory_id INTEGER,
			expires_at         TEXT,
			created_at         TEXT    NOT NULL,
			updated_at         TEXT    NOT NULL,
			UNIQUE(from_node_id, to_node_id, edge_type)
		);

		CREATE INDEX IF NOT EXISTS idx_edge_from    ON graph_edges(from_node_id);
		CREATE INDEX IF NOT EXISTS idx_edge_to      ON graph_edges(to_node_id);
		CREATE INDEX IF NOT EXISTS idx_edge_expires ON graph_edges(expires_at);

		CREATE TABLE IF NOT EXISTS memory_node_links (
			memory_id  INTEGER NOT NULL,
			node_id    INTEGER NOT NULL REFERENCES graph_nodes(id),
			role       TEXT    NOT NULL,
			created_at TEXT    NOT NULL,
			PRIMARY KEY (memory_id, node_id, role)
		);

		CREATE INDEX IF NOT EXISTS idx_link_node ON memory_node_links(node_id, created_at DESC);

		CREATE TABLE IF NOT EXISTS graph_rollout_config (
			id         INTEGER PRIMARY KEY CHECK (id = 1),
			mode       TEXT    NOT NULL DEFAULT 'off',
			updated_at TEXT    NOT NULL,
			updated_by TEXT    NOT NULL DEFAULT 'system'
		);

		CREATE TABLE IF NOT EXISTS graph_rollout_metrics (
			id                   INTEGER PRIMARY KEY AUTOINCREMENT,
			request_id           TEXT    NOT NULL DEFAULT '',
			created_at           TEXT    NOT NULL,
			mode                 TEXT    NOT NULL,
			requested_strategy   TEXT    NOT NULL,
			applied_strategy     TEXT    NOT NULL,
			shadow_executed      INTEGER NOT NULL DEFAULT 0,
			baseline_candidates  INTEGER NOT NULL DEFAULT 0,
			graph_candidates     INTEGER NOT NULL DEFAULT 0,
			graph_expanded_count INTEGER NOT NULL DEFAULT 0,
			total_candidates     INTEGER NOT NULL DEFAULT 0,
			fallback_triggered   INTEGER NOT NULL DEFAULT 0,
			fallback_reason      TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_metrics_created ON graph_rollout_metrics(created_at);
	`
	if _, err := s.execHook(ctx, s.db, schema); err != nil {
		return fmt.Errorf("graph: migrate: %w", err)
	}

	if _, err := s.execHook(ctx, s.db,
		`INSERT INTO graph_rollout_config (id, mode, updated_at, updated_by)
		 VALUES (1, 'off', ?, 'system')
		 ON CONFLICT(id) DO NOTHING`, now(),
	); err != nil {
		return fmt.Errorf("graph: seed rollout config: %w", err)
	}

	s.schema.Store(int32(schemaPresent))
	return nil
}

// SchemaPresent probes for all graph tables and caches the answer. A
// present schema is cached for good; an absent one is probed again after
// the recheck interval, so a backfill run by another process is picked up.
// A partial schema counts as absent.
func (s *Store) SchemaPresent(ctx context.Context) (bool, error) {
	switch schemaState(s.schema.Load()) {
	case schemaPresent:
		return true, nil
	case schemaAbsent:
		if timeNow().Sub(time.Unix(0, s.absentAt.Load())) < s.recheck {
			return false, nil
		}
	}

	args := make([]any, len(graphTables))
	for i, name := range graphTables {
		args[i] = name
	}
	rows, err := s.queryHook(ctx, s.db,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN (?, ?, ?, ?, ?)`,
		args...,
	)
	if err != nil {
		return false, fmt.Errorf("graph: schema probe: %w", err)
	}
	defer rows.Close()

	var n int
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return false, fmt.Errorf("graph: schema probe: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("graph: schema probe: %w", err)
	}

	if n == len(graphTables) {
		s.schema.Store(int32(schemaPresent))
		return true, nil
	}
	s.absentAt.Store(timeNow().UnixNano())
	s.schema.Store(int32(schemaAbsent))
	return false, nil
}

// ready reports whether graph reads can proceed. Probe errors are logged and
// read as absent.
func (s *Store) ready(ctx context.Context) bool {
	ok, err := s.SchemaPresent(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("graph schema probe failed")
		return false
	}
	return ok
}

// ─── Nodes ───────────────────────────────────────────────────────────────────

// UpsertNode inserts a node or updates the label and metadata of the
// existing (type, key) row. It returns the node id.
func (s *Store) UpsertNode(ctx context.Context, ref NodeRef) (int64, error) {
	if !s.ready(ctx) {
		return 0, ErrSchemaAbsent
	}
	return s.upsertNode(ctx, s.db, ref, now())
}

func (s *Store) upsertNode(ctx context.Context, db dbtx, ref NodeRef, ts string) (int64, error) {
	meta, err := encodeMetadata(ref.Metadata)
	if err != nil {
		return 0, err
	}
	label := ref.Label
	if label == "" {
		label = ref.Key
	}

	rows, err := s.queryHook(ctx, db,
		`INSERT INTO graph_nodes (node_type, node_key, label, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(node_type, node_key) DO UPDATE SET
			label      = excluded.label,
			metadata   = excluded.metadata,
			updated_at = excluded.updated_at
		 RETURNING id`,
		ref.Type, ref.Key, label, meta, ts, ts,
	)
	if err != nil {
		return 0, fmt.Errorf("graph: upsert node %s/%s: %w", ref.Type, ref.Key, err)
	}
	defer rows.Close()

	var id int64
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return 0, fmt.Errorf("graph: upsert node %s/%s: %w", ref.Type, ref.Key, err)
		}
		return 0, fmt.Errorf("graph: upsert node %s/%s: no id returned", ref.Type, ref.Key)
	}
	if err := rows.Scan(&id); err != nil {
		return 0, fmt.Errorf("graph: upsert node %s/%s: %w", ref.Type, ref.Key, err)
	}
	return id, nil
}

// FindNode returns the node with the given type and key, or nil.
func (s *Store) FindNode(ctx context.Context, nodeType, nodeKey string) (*Node, error) {
	if !s.ready(ctx) {
		return nil, nil
	}
	rows, err := s.queryHook(ctx, s.db,
		`SELECT `+nodeColumns+` FROM graph_nodes WHERE node_type = ? AND node_key = ?`,
		nodeType, nodeKey,
	)
	if err != nil {
		return nil, fmt.Errorf("graph: find node: %w", err)
	}
	nodes, err := scanNodes(rows)
	if err != nil {
		return nil, fmt.Errorf("graph: find node: %w", err)
	}
	if len(nodes) == 0 {
		return nil, nil
	}
	return &nodes[0], nil
}

// LinksForMemory returns the links of one memory, ordered by node id and role.
func (s *Store) LinksForMemory(ctx context.Context, memoryID int64) ([]Link, error) {
	if !s.ready(ctx) {
		return nil, nil
	}
	return s.linksForMemory(ctx, s.db, memoryID)
}

func (s *Store) linksForMemory(ctx context.Context, db dbtx, memoryID int64) ([]Link, error) {
	rows, err := s.queryHook(ctx, db,
		`SELECT memory_id, node_id, role, created_at FROM memory_node_links
		 WHERE memory_id = ? ORDER BY node_id, role`, memoryID,
	)
	if err != nil {
		return nil, fmt.Errorf("graph: links for memory %d: %w", memoryID, err)
	}
	defer rows.Close()

	var links []Link
	for rows.Next() {
		var l Link
		if err := rows.Scan(&l.MemoryID, &l.NodeID, &l.Role, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("graph: links for memory %d: %w", memoryID, err)
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

// ─── Scanning ────────────────────────────────────────────────────────────────

const nodeColumns = `id, node_type, node_key, label, metadata, created_at, updated_at`

const edgeColumns = `id, from_node_id, to_node_id, edge_type, weight, confidence,
	evidence_memory_id, expires_at, created_at, updated_at`

func scanNodes(rows *sql.Rows) ([]Node, error) {
	defer rows.Close()
	var nodes []Node
	for rows.Next() {
		n, err := scanNode(rows, nil)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// scanNode scans nodeColumns followed by any extra destinations.
func scanNode(rows *sql.Rows, extra []any) (Node, error) {
	var n Node
	var meta string
	dest := []any{&n.ID, &n.Type, &n.Key, &n.Label, &meta, &n.CreatedAt, &n.UpdatedAt}
	if err := rows.Scan(append(dest, extra...)...); err != nil {
		return Node{}, err
	}
	n.Metadata = decodeMetadata(meta)
	return n, nil
}

// scanEdge scans edgeColumns followed by any extra destinations.
func scanEdge(rows *sql.Rows, extra []any) (Edge, error) {
	var e Edge
	var evidence sql.NullInt64
	var expires sql.NullString
	dest := []any{&e.ID, &e.FromNodeID, &e.ToNodeID, &e.Type, &e.Weight, &e.Confidence,
		&evidence, &expires, &e.CreatedAt, &e.UpdatedAt}
	if err := rows.Scan(append(dest, extra...)...); err != nil {
		return Edge{}, err
	}
	if evidence.Valid {
		e.EvidenceMemoryID = &evidence.Int64
	}
	if expires.Valid {
		e.ExpiresAt = &expires.String
	}
	return e, nil
}

func encodeMetadata(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("graph: encode metadata: %w", err)
	}
	return string(b), nil
}

func decodeMetadata(raw string) map[string]any {
	if raw == "" || raw == "{}" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil
	}
	return m
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	b := make([]byte, 0, n*2)
	for i := 0; i < n; i++ {
		if i > 0 {
			b = append(b, ',')
		}
		b = append(b, '?')
	}
	return string(b)
}

func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
