package graph

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/HendryAvila/memgraph/internal/memory"
)

// SyncMetrics counts synchronizations. *metrics.Metrics satisfies it.
type SyncMetrics interface {
	IncSynced()
	IncSyncFailure()
}

// SyncResult reports what one synchronization changed.
type SyncResult struct {
	MemoryID     int64 `json:"memory_id"`
	NodesTouched int   `json:"nodes_touched"`
	EdgesTouched int   `json:"edges_touched"`
	LinksRemoved int   `json:"links_removed"`
	// Skipped is set when the workspace has no graph schema.
	Skipped bool `json:"skipped,omitempty"`
}

// SyncOptions configures a Synchronizer.
type SyncOptions struct {
	Extractor Extractor
	Logger    zerolog.Logger
	Metrics   SyncMetrics
	// Async moves syncs triggered by MemoryChanged onto a single background
	// worker. Sync and Backfill are always synchronous.
	Async     bool
	QueueSize int
	// Timeout bounds one synchronization. Defaults to 5s.
	Timeout time.Duration
}

// Synchronizer projects memory writes into the graph. It implements
// memory.Observer; failures are logged and fed to the status error feed and
// never reach the writer.
type Synchronizer struct {
	store     *Store
	extractor Extractor
	log       zerolog.Logger
	metrics   SyncMetrics
	timeout   time.Duration

	queue chan memory.Memory
	done  chan struct{}
	mu    sync.RWMutex
	// closed guards sends on queue.
	closed bool
}

var _ memory.Observer = (*Synchronizer)(nil)

// NewSynchronizer creates a synchronizer over store.
func NewSynchronizer(store *Store, opts SyncOptions) *Synchronizer {
	if opts.Extractor == nil {
		opts.Extractor = FieldExtractor{MaxNodes: 24}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	sy := &Synchronizer{
		store:     store,
		extractor: opts.Extractor,
		log:       opts.Logger,
		metrics:   opts.Metrics,
		timeout:   opts.Timeout,
	}
	if opts.Async {
		if opts.QueueSize <= 0 {
			opts.QueueSize = 256
		}
		sy.queue = make(chan memory.Memory, opts.QueueSize)
		sy.done = make(chan struct{})
		go sy.worker()
	}
	return sy
}

// MemoryChanged implements memory.Observer.
func (sy *Synchronizer) MemoryChanged(ctx context.Context, m memory.Memory) {
	if sy.queue == nil {
		sy.syncLogged(context.WithoutCancel(ctx), m)
		return
	}

	sy.mu.RLock()
	defer sy.mu.RUnlock()
	if sy.closed {
		sy.fail(m.ID, fmt.Errorf("graph: synchronizer closed"))
		return
	}
	select {
	case sy.queue <- m:
	default:
		sy.fail(m.ID, fmt.Errorf("graph: sync queue full"))
	}
}

// Close stops the async worker after draining queued memories.
func (sy *Synchronizer) Close() {
	if sy.queue == nil {
		return
	}
	sy.mu.Lock()
	if sy.closed {
		sy.mu.Unlock()
		return
	}
	sy.closed = true
	close(sy.queue)
	sy.mu.Unlock()
	<-sy.done
}

func (sy *Synchronizer) worker() {
	defer close(sy.done)
	for m := range sy.queue {
		sy.syncLogged(context.Background(), m)
	}
}

func (sy *Synchronizer) syncLogged(ctx context.Context, m memory.Memory) {
	ctx, cancel := context.WithTimeout(ctx, sy.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			sy.fail(m.ID, fmt.Errorf("graph: sync panic: %v", r))
		}
	}()

	res, err := sy.Sync(ctx, m)
	if err != nil {
		sy.fail(m.ID, err)
		return
	}
	if res.Skipped {
		return
	}
	if sy.metrics != nil {
		sy.metrics.IncSynced()
	}
	sy.log.Debug().
		Int64("memory_id", m.ID).
		Int("nodes", res.NodesTouched).
		Int("edges", res.EdgesTouched).
		Int("links_removed", res.LinksRemoved).
		Msg("graph synced")
}

func (sy *Synchronizer) fail(memoryID int64, err error) {
	sy.log.Warn().Err(err).Int64("memory_id", memoryID).Msg("graph sync failed")
	sy.store.errors.Add(ErrorEntry{Source: "sync", MemoryID: memoryID, Message: err.Error()})
	if sy.metrics != nil {
		sy.metrics.IncSyncFailure()
	}
}

// ─── Sync ────────────────────────────────────────────────────────────────────

type linkKey struct {
	node int64
	role string
}

type nodePair struct {
	from, to int64
}

// Sync converges the graph state of one memory: nodes are upserted, links
// that are no longer supported are removed, and co-occurrence edges between
// affected nodes are recomputed from the remaining links. A deleted memory
// loses all of its links. Running Sync twice on the same memory changes
// nothing the second time.
func (sy *Synchronizer) Sync(ctx context.Context, m memory.Memory) (SyncResult, error) {
	res := SyncResult{MemoryID: m.ID}
	s := sy.store

	present, err := s.SchemaPresent(ctx)
	if err != nil {
		return res, err
	}
	if !present {
		res.Skipped = true
		return res, nil
	}

	var refs []NodeRef
	if !m.Deleted() {
		refs = sy.extractor.Extract(m)
	}

	tx, err := s.beginTxHook(ctx)
	if err != nil {
		return res, fmt.Errorf("graph: sync %d: begin: %w", m.ID, err)
	}
	defer func() { _ = tx.Rollback() }()

	ts := now()
	prev, err := s.linksForMemory(ctx, tx, m.ID)
	if err != nil {
		return res, err
	}

	current := make(map[linkKey]bool, len(refs))
	var currentNodes []int64
	seenNode := map[int64]bool{}
	for _, ref := range refs {
		id, err := s.upsertNode(ctx, tx, ref, ts)
		if err != nil {
			return res, err
		}
		res.NodesTouched++
		if _, err := s.execHook(ctx, tx,
			`INSERT INTO memory_node_links (memory_id, node_id, role, created_at)
			 VALUES (?, ?, ?, ?)
			 ON CONFLICT(memory_id, node_id, role) DO NOTHING`,
			m.ID, id, ref.Role, ts,
		); err != nil {
			return res, fmt.Errorf("graph: sync %d: link node %d: %w", m.ID, id, err)
		}
		current[linkKey{id, ref.Role}] = true
		if !seenNode[id] {
			seenNode[id] = true
			currentNodes = append(currentNodes, id)
		}
	}

	var prevNodes []int64
	seenPrev := map[int64]bool{}
	for _, l := range prev {
		if !seenPrev[l.NodeID] {
			seenPrev[l.NodeID] = true
			prevNodes = append(prevNodes, l.NodeID)
		}
		if current[linkKey{l.NodeID, l.Role}] {
			continue
		}
		if _, err := s.execHook(ctx, tx,
			`DELETE FROM memory_node_links WHERE memory_id = ? AND node_id = ? AND role = ?`,
			m.ID, l.NodeID, l.Role,
		); err != nil {
			return res, fmt.Errorf("graph: sync %d: unlink node %d: %w", m.ID, l.NodeID, err)
		}
		res.LinksRemoved++
	}

	for _, p := range pairs(currentNodes) {
		if err := s.upsertCoOccurrence(ctx, tx, p, m.ID, ts); err != nil {
			return res, err
		}
		res.EdgesTouched++
	}
	for _, p := range pairs(prevNodes) {
		if seenNode[p.from] && seenNode[p.to] {
			continue
		}
		changed, err := s.refreshCoOccurrence(ctx, tx, p, ts)
		if err != nil {
			return res, err
		}
		if changed {
			res.EdgesTouched++
		}
	}

	if err := tx.Commit(); err != nil {
		return res, fmt.Errorf("graph: sync %d: commit: %w", m.ID, err)
	}
	return res, nil
}

// pairs returns every unordered pair of distinct ids, smaller id first.
func pairs(ids []int64) []nodePair {
	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	var out []nodePair
	for i := 0; i < len(sorted); i++ {
		for j := i + 1; j < len(sorted); j++ {
			out = append(out, nodePair{sorted[i], sorted[j]})
		}
	}
	return out
}

// support counts memories linking both nodes of p and derives the edge
// expiry from them: NULL when any supporter never expires, otherwise the
// latest supporter expiry.
func (s *Store) support(ctx context.Context, db dbtx, p nodePair) (int, *string, error) {
	rows, err := s.queryHook(ctx, db,
		`SELECT COUNT(DISTINCT a.memory_id),
			CASE WHEN SUM(CASE WHEN m.expires_at IS NULL THEN 1 ELSE 0 END) > 0 THEN NULL
			     ELSE MAX(m.expires_at) END
		 FROM memory_node_links a
		 JOIN memory_node_links b ON b.memory_id = a.memory_id
		 LEFT JOIN memories m ON m.id = a.memory_id
		 WHERE a.node_id = ? AND b.node_id = ?`,
		p.from, p.to,
	)
	if err != nil {
		return 0, nil, fmt.Errorf("graph: edge support %d-%d: %w", p.from, p.to, err)
	}
	defer rows.Close()

	var (
		n       int
		expires sql.NullString
	)
	if rows.Next() {
		if err := rows.Scan(&n, &expires); err != nil {
			return 0, nil, fmt.Errorf("graph: edge support %d-%d: %w", p.from, p.to, err)
		}
	}
	if err := rows.Err(); err != nil {
		return 0, nil, err
	}
	if n == 0 || !expires.Valid {
		return n, nil, nil
	}
	return n, &expires.String, nil
}

// confidenceFor maps support to a confidence in [0.5, 1).
func confidenceFor(support int) float64 {
	w := float64(support)
	return w / (w + 1)
}

func (s *Store) upsertCoOccurrence(ctx context.Context, db dbtx, p nodePair, evidence int64, ts string) error {
	n, expiresAt, err := s.support(ctx, db, p)
	if err != nil {
		return err
	}
	if n < 1 {
		n = 1
	}

	var expires any
	if expiresAt != nil {
		expires = *expiresAt
	}
	if _, err := s.execHook(ctx, db,
		`INSERT INTO graph_edges (from_node_id, to_node_id, edge_type, weight, confidence,
			evidence_memory_id, expires_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(from_node_id, to_node_id, edge_type) DO UPDATE SET
			weight             = excluded.weight,
			confidence         = excluded.confidence,
			evidence_memory_id = excluded.evidence_memory_id,
			expires_at         = excluded.expires_at,
			updated_at         = excluded.updated_at`,
		p.from, p.to, EdgeCoOccurs, float64(n), confidenceFor(n), evidence, expires, ts, ts,
	); err != nil {
		return fmt.Errorf("graph: upsert edge %d-%d: %w", p.from, p.to, err)
	}
	return nil
}

// refreshCoOccurrence recomputes an edge that lost support from this
// memory, deleting it when nothing supports it any more.
func (s *Store) refreshCoOccurrence(ctx context.Context, db dbtx, p nodePair, ts string) (bool, error) {
	n, expiresAt, err := s.support(ctx, db, p)
	if err != nil {
		return false, err
	}

	var r sql.Result
	if n == 0 {
		r, err = s.execHook(ctx, db,
			`DELETE FROM graph_edges WHERE from_node_id = ? AND to_node_id = ? AND edge_type = ?`,
			p.from, p.to, EdgeCoOccurs,
		)
	} else {
		r, err = s.execHook(ctx, db,
			`UPDATE graph_edges SET weight = ?, confidence = ?, expires_at = ?, updated_at = ?
			 WHERE from_node_id = ? AND to_node_id = ? AND edge_type = ?`,
			float64(n), confidenceFor(n), expiresAt, ts, p.from, p.to, EdgeCoOccurs,
		)
	}
	if err != nil {
		return false, fmt.Errorf("graph: refresh edge %d-%d: %w", p.from, p.to, err)
	}
	affected, _ := r.RowsAffected()
	return affected > 0, nil
}

// ─── Backfill ────────────────────────────────────────────────────────────────

// MemorySource pages through live memories.
type MemorySource interface {
	ListActive(ctx context.Context, afterID int64, limit int) ([]memory.Memory, error)
}

// BackfillResult summarizes a backfill run.
type BackfillResult struct {
	Memories     int `json:"memories"`
	Failed       int `json:"failed"`
	Pruned       int `json:"pruned"`
	NodesTouched int `json:"nodes_touched"`
	EdgesTouched int `json:"edges_touched"`
}

const backfillPage = 200

// Backfill creates the graph schema if needed, re-syncs every live memory
// and drops links of memories that no longer exist. Safe to repeat.
func (sy *Synchronizer) Backfill(ctx context.Context, src MemorySource) (BackfillResult, error) {
	var out BackfillResult
	if err := sy.store.EnsureSchema(ctx); err != nil {
		return out, err
	}

	live := map[int64]bool{}
	var after int64
	for {
		page, err := src.ListActive(ctx, after, backfillPage)
		if err != nil {
			return out, fmt.Errorf("graph: backfill: list memories: %w", err)
		}
		for _, m := range page {
			live[m.ID] = true
			after = m.ID
			res, err := sy.Sync(ctx, m)
			if err != nil {
				out.Failed++
				sy.fail(m.ID, err)
				continue
			}
			out.Memories++
			out.NodesTouched += res.NodesTouched
			out.EdgesTouched += res.EdgesTouched
		}
		if len(page) < backfillPage {
			break
		}
		if err := ctx.Err(); err != nil {
			return out, err
		}
	}

	linked, err := sy.store.linkedMemoryIDs(ctx)
	if err != nil {
		return out, err
	}
	ts := now()
	for _, id := range linked {
		if live[id] {
			continue
		}
		if _, err := sy.Sync(ctx, memory.Memory{ID: id, DeletedAt: &ts}); err != nil {
			out.Failed++
			sy.fail(id, err)
			continue
		}
		out.Pruned++
	}

	sy.log.Info().
		Int("memories", out.Memories).
		Int("failed", out.Failed).
		Int("pruned", out.Pruned).
		Msg("graph backfill complete")
	return out, nil
}

func (s *Store) linkedMemoryIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.queryHook(ctx, s.db, `SELECT DISTINCT memory_id FROM memory_node_links ORDER BY memory_id`)
	if err != nil {
		return nil, fmt.Errorf("graph: linked memories: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("graph: linked memories: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
