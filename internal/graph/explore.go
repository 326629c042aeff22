package graph

import (
	"context"
	"fmt"
	"strings"
)

// Edge directions relative to the explored node.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// EdgeView is an edge seen from one of its endpoints.
type EdgeView struct {
	Edge
	Direction string `json:"direction"`
	Neighbor  Node   `json:"neighbor"`
}

// ExploreRequest selects the node index (no type/key) or one node's
// neighborhood.
type ExploreRequest struct {
	NodeType string
	NodeKey  string
	Limit    int
}

// ExploreResult is the explorer payload. Unused lists are empty, never nil.
type ExploreResult struct {
	Node     *NodeSummary  `json:"node"`
	Nodes    []NodeSummary `json:"nodes"`
	Edges    []EdgeView    `json:"edges"`
	Memories []Link        `json:"memories"`
}

// Explorer limits.
const (
	DefaultExploreLimit = 20
	MaxExploreLimit     = 100
)

func emptyExplore() ExploreResult {
	return ExploreResult{
		Nodes:    []NodeSummary{},
		Edges:    []EdgeView{},
		Memories: []Link{},
	}
}

// Explore returns the top node index when no node is named, or the node's
// active edges (newest first) and linked memories (most recently linked
// first). An unknown node or absent schema yields the empty payload.
func (s *Store) Explore(ctx context.Context, req ExploreRequest) (ExploreResult, error) {
	out := emptyExplore()
	if !s.ready(ctx) {
		return out, nil
	}

	limit := req.Limit
	if limit <= 0 {
		limit = DefaultExploreLimit
	}
	if limit > MaxExploreLimit {
		limit = MaxExploreLimit
	}

	nodeType := strings.TrimSpace(req.NodeType)
	nodeKey := strings.TrimSpace(req.NodeKey)
	if nodeType == "" || nodeKey == "" {
		top, err := s.topNodes(ctx, limit)
		if err != nil {
			return out, err
		}
		if len(top) > 0 {
			out.Nodes = top
		}
		return out, nil
	}

	summary, err := s.nodeSummary(ctx, nodeType, nodeKey)
	if err != nil || summary == nil {
		return out, err
	}
	out.Node = summary

	edges, err := s.incidentEdges(ctx, summary.ID, limit)
	if err != nil {
		return out, err
	}
	if len(edges) > 0 {
		out.Edges = edges
	}

	links, err := s.nodeLinks(ctx, summary.ID, limit)
	if err != nil {
		return out, err
	}
	if len(links) > 0 {
		out.Memories = links
	}
	return out, nil
}

func (s *Store) nodeSummary(ctx context.Context, nodeType, nodeKey string) (*NodeSummary, error) {
	rows, err := s.queryHook(ctx, s.db,
		`SELECT `+nodeColumns+`,
			(SELECT COUNT(*) FROM memory_node_links l WHERE l.node_id = n.id),
			(SELECT COUNT(*) FROM graph_edges e
			  WHERE (e.from_node_id = n.id OR e.to_node_id = n.id)
			    AND (e.expires_at IS NULL OR e.expires_at > ?))
		 FROM graph_nodes n WHERE n.node_type = ? AND n.node_key = ?`,
		now(), nodeType, nodeKey,
	)
	if err != nil {
		return nil, fmt.Errorf("graph: explore node: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	var ns NodeSummary
	n, err := scanNode(rows, []any{&ns.MemoryLinks, &ns.EdgeCount})
	if err != nil {
		return nil, fmt.Errorf("graph: explore node: %w", err)
	}
	ns.Node = n
	return &ns, nil
}

func (s *Store) incidentEdges(ctx context.Context, nodeID int64, limit int) ([]EdgeView, error) {
	rows, err := s.queryHook(ctx, s.db,
		`SELECT e.id, e.from_node_id, e.to_node_id, e.edge_type, e.weight, e.confidence,
			e.evidence_memory_id, e.expires_at, e.created_at, e.updated_at,
			n.id, n.node_type, n.node_key, n.label, n.metadata, n.created_at, n.updated_at
		 FROM graph_edges e
		 JOIN graph_nodes n ON n.id = CASE WHEN e.from_node_id = ? THEN e.to_node_id ELSE e.from_node_id END
		 WHERE (e.from_node_id = ? OR e.to_node_id = ?)
		   AND (e.expires_at IS NULL OR e.expires_at > ?)
		 ORDER BY e.updated_at DESC, e.id DESC
		 LIMIT ?`,
		nodeID, nodeID, nodeID, now(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("graph: explore edges: %w", err)
	}
	defer rows.Close()

	var out []EdgeView
	for rows.Next() {
		var v EdgeView
		var meta string
		nb := &v.Neighbor
		e, err := scanEdge(rows, []any{&nb.ID, &nb.Type, &nb.Key, &nb.Label, &meta, &nb.CreatedAt, &nb.UpdatedAt})
		if err != nil {
			return nil, fmt.Errorf("graph: explore edges: %w", err)
		}
		v.Edge = e
		nb.Metadata = decodeMetadata(meta)
		v.Direction = DirectionOutbound
		if e.ToNodeID == nodeID {
			v.Direction = DirectionInbound
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Store) nodeLinks(ctx context.Context, nodeID int64, limit int) ([]Link, error) {
	rows, err := s.queryHook(ctx, s.db,
		`SELECT memory_id, node_id, role, created_at FROM memory_node_links
		 WHERE node_id = ?
		 ORDER BY created_at DESC, memory_id DESC
		 LIMIT ?`,
		nodeID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("graph: explore memories: %w", err)
	}
	defer rows.Close()

	var out []Link
	for rows.Next() {
		var l Link
		if err := rows.Scan(&l.MemoryID, &l.NodeID, &l.Role, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("graph: explore memories: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
