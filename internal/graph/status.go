package graph

import (
	"context"
	"fmt"

	"github.com/HendryAvila/memgraph/internal/rollout"
)

// Counts are the graph size figures reported by Status.
type Counts struct {
	Nodes        int `json:"nodes"`
	Edges        int `json:"edges"`
	MemoryLinks  int `json:"memory_links"`
	ActiveEdges  int `json:"active_edges"`
	ExpiredEdges int `json:"expired_edges"`
	// OrphanNodes have no active edge and no memory link.
	OrphanNodes int `json:"orphan_nodes"`
}

// NodeSummary is a node with its connectivity.
type NodeSummary struct {
	Node
	MemoryLinks int `json:"memory_links"`
	EdgeCount   int `json:"edge_count"`
}

// Degree is memory links plus active edges.
func (n NodeSummary) Degree() int {
	return n.MemoryLinks + n.EdgeCount
}

// Status is the operator health view of the graph and the rollout.
type Status struct {
	SchemaPresent     bool          `json:"schema_present"`
	Mode              rollout.Mode  `json:"mode"`
	Counts            Counts        `json:"counts"`
	TopConnectedNodes []NodeSummary `json:"top_connected_nodes"`
	RecentErrors      []ErrorEntry  `json:"recent_errors"`
	FallbackRate24h   float64       `json:"fallback_rate_24h"`
	Events24h         int           `json:"events_24h"`
	// Degraded is the number of sync and graph-path failures since start.
	Degraded int64 `json:"degraded"`
}

// DefaultTopNodes is the number of top connected nodes in Status.
const DefaultTopNodes = 10

func emptyStatus() Status {
	return Status{
		Mode:              rollout.ModeOff,
		TopConnectedNodes: []NodeSummary{},
		RecentErrors:      []ErrorEntry{},
	}
}

// Status reports counts, the most connected nodes, recent failures and the
// trailing 24h fallback rate. Without a graph schema it returns zero counts
// and empty lists.
func (s *Store) Status(ctx context.Context, topN int) (Status, error) {
	st := emptyStatus()
	present, err := s.SchemaPresent(ctx)
	if err != nil {
		return st, err
	}
	if !present {
		return st, nil
	}
	st.SchemaPresent = true
	if topN <= 0 {
		topN = DefaultTopNodes
	}

	if st.Counts, err = s.counts(ctx); err != nil {
		return st, err
	}
	top, err := s.topNodes(ctx, topN)
	if err != nil {
		return st, err
	}
	if len(top) > 0 {
		st.TopConnectedNodes = top
	}

	rate, err := s.FallbackRate24h(ctx)
	if err != nil {
		return st, err
	}
	st.FallbackRate24h = rate.Rate
	st.Events24h = rate.Events

	cfg, err := s.LoadRolloutConfig(ctx)
	if err != nil {
		return st, err
	}
	st.Mode = cfg.Mode

	if recent := s.errors.Recent(10); len(recent) > 0 {
		st.RecentErrors = recent
	}
	st.Degraded = s.errors.Total()
	return st, nil
}

func (s *Store) counts(ctx context.Context) (Counts, error) {
	var c Counts
	ts := now()
	rows, err := s.queryHook(ctx, s.db,
		`SELECT
			(SELECT COUNT(*) FROM graph_nodes),
			(SELECT COUNT(*) FROM graph_edges),
			(SELECT COUNT(*) FROM graph_edges WHERE expires_at IS NULL OR expires_at > ?),
			(SELECT COUNT(*) FROM memory_node_links),
			(SELECT COUNT(*) FROM graph_nodes n
			  WHERE NOT EXISTS (SELECT 1 FROM memory_node_links l WHERE l.node_id = n.id)
			    AND NOT EXISTS (
					SELECT 1 FROM graph_edges e
					WHERE (e.from_node_id = n.id OR e.to_node_id = n.id)
					  AND (e.expires_at IS NULL OR e.expires_at > ?)))`,
		ts, ts,
	)
	if err != nil {
		return c, fmt.Errorf("graph: counts: %w", err)
	}
	defer rows.Close()

	if rows.Next() {
		if err := rows.Scan(&c.Nodes, &c.Edges, &c.ActiveEdges, &c.MemoryLinks, &c.OrphanNodes); err != nil {
			return c, fmt.Errorf("graph: counts: %w", err)
		}
	}
	c.ExpiredEdges = c.Edges - c.ActiveEdges
	return c, rows.Err()
}

// topNodes ranks nodes by memory links plus active edges, ties broken by
// type then key.
func (s *Store) topNodes(ctx context.Context, limit int) ([]NodeSummary, error) {
	rows, err := s.queryHook(ctx, s.db,
		`SELECT `+nodeColumns+`, link_count, edge_count FROM (
			SELECT n.id, n.node_type, n.node_key, n.label, n.metadata, n.created_at, n.updated_at,
				(SELECT COUNT(*) FROM memory_node_links l WHERE l.node_id = n.id) AS link_count,
				(SELECT COUNT(*) FROM graph_edges e
				  WHERE (e.from_node_id = n.id OR e.to_node_id = n.id)
				    AND (e.expires_at IS NULL OR e.expires_at > ?)) AS edge_count
			FROM graph_nodes n
		)
		ORDER BY link_count + edge_count DESC, node_type ASC, node_key ASC
		LIMIT ?`,
		now(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("graph: top nodes: %w", err)
	}
	defer rows.Close()

	var out []NodeSummary
	for rows.Next() {
		var ns NodeSummary
		n, err := scanNode(rows, []any{&ns.MemoryLinks, &ns.EdgeCount})
		if err != nil {
			return nil, fmt.Errorf("graph: top nodes: %w", err)
		}
		ns.Node = n
		out = append(out, ns)
	}
	return out, rows.Err()
}
