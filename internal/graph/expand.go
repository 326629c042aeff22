package graph

import (
	"context"
	"fmt"
)

// ExpandRequest describes one graph expansion.
type ExpandRequest struct {
	// SeedMemoryIDs are the keyword hits the traversal starts from. They are
	// never returned as candidates.
	SeedMemoryIDs []int64
	// Depth is the number of edge hops beyond the seed nodes, 0 to 2.
	Depth int
	// Limit caps the number of candidates returned.
	Limit int
	// MaxNodes caps the number of nodes visited. Defaults to 8*Limit.
	MaxNodes int
}

// Candidate is a memory reached through the graph.
type Candidate struct {
	MemoryID int64   `json:"memory_id"`
	NodeID   int64   `json:"node_id"`
	Hops     int     `json:"hops"`
	Score    float64 `json:"score"`
}

// Expansion is the result of Expand.
type Expansion struct {
	Candidates []Candidate `json:"candidates"`
	// SeedNodes is the number of nodes linked to the seed memories.
	SeedNodes int `json:"seed_nodes"`
	// VisitedNodes counts every node reached, seeds included.
	VisitedNodes int `json:"visited_nodes"`
}

type visit struct {
	id    int64
	depth int
	score float64
}

// Expand walks breadth-first from the nodes linked to the seed memories
// along active edges, strongest edges (weight*confidence) first at each
// hop, and collects the memories linked to the visited nodes. A candidate's
// score is the lowest confidence on its path; memories sharing a seed node
// score 1.
//
// Expand returns ErrSchemaAbsent when the graph tables do not exist.
func (s *Store) Expand(ctx context.Context, req ExpandRequest) (Expansion, error) {
	var out Expansion
	present, err := s.SchemaPresent(ctx)
	if err != nil {
		return out, err
	}
	if !present {
		return out, ErrSchemaAbsent
	}
	if req.Depth < 0 || len(req.SeedMemoryIDs) == 0 || req.Limit <= 0 {
		return out, nil
	}
	if req.MaxNodes <= 0 {
		req.MaxNodes = req.Limit * 8
	}

	seeds, err := s.seedNodes(ctx, req.SeedMemoryIDs)
	if err != nil {
		return out, err
	}
	out.SeedNodes = len(seeds)

	visited := make(map[int64]bool, len(seeds))
	scores := make(map[int64]float64, len(seeds))
	var order []visit
	frontier := make([]int64, 0, len(seeds))
	for _, id := range seeds {
		visited[id] = true
		scores[id] = 1
		order = append(order, visit{id: id, score: 1})
		frontier = append(frontier, id)
	}

	for depth := 1; depth <= req.Depth && len(frontier) > 0 && len(order) < req.MaxNodes; depth++ {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		edges, err := s.activeEdgesFrom(ctx, frontier)
		if err != nil {
			return out, err
		}

		inFrontier := make(map[int64]bool, len(frontier))
		for _, id := range frontier {
			inFrontier[id] = true
		}
		var next []int64
		for _, e := range edges {
			from, other := e.FromNodeID, e.ToNodeID
			if !inFrontier[from] {
				from, other = other, from
			}
			if visited[other] {
				continue
			}
			visited[other] = true

			score := scores[from]
			if e.Confidence < score {
				score = e.Confidence
			}
			scores[other] = score
			order = append(order, visit{id: other, depth: depth, score: score})
			next = append(next, other)
			if len(order) >= req.MaxNodes {
				break
			}
		}
		frontier = next
	}
	out.VisitedNodes = len(order)

	out.Candidates, err = s.collectMemories(ctx, order, req)
	return out, err
}

func (s *Store) seedNodes(ctx context.Context, memoryIDs []int64) ([]int64, error) {
	rows, err := s.queryHook(ctx, s.db,
		`SELECT DISTINCT node_id FROM memory_node_links
		 WHERE memory_id IN (`+placeholders(len(memoryIDs))+`)
		 ORDER BY node_id`,
		int64Args(memoryIDs)...,
	)
	if err != nil {
		return nil, fmt.Errorf("graph: seed nodes: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("graph: seed nodes: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// activeEdgesFrom returns non-expired edges touching any of the nodes,
// strongest first.
func (s *Store) activeEdgesFrom(ctx context.Context, nodeIDs []int64) ([]Edge, error) {
	ph := placeholders(len(nodeIDs))
	args := append(int64Args(nodeIDs), int64Args(nodeIDs)...)
	args = append(args, now())

	rows, err := s.queryHook(ctx, s.db,
		`SELECT `+edgeColumns+` FROM graph_edges
		 WHERE (from_node_id IN (`+ph+`) OR to_node_id IN (`+ph+`))
		   AND (expires_at IS NULL OR expires_at > ?)
		 ORDER BY weight * confidence DESC, id ASC`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("graph: active edges: %w", err)
	}
	defer rows.Close()

	var edges []Edge
	for rows.Next() {
		e, err := scanEdge(rows, nil)
		if err != nil {
			return nil, fmt.Errorf("graph: active edges: %w", err)
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// collectMemories walks the visited nodes in order and gathers their linked
// memories, most recently linked first, skipping seeds and duplicates.
func (s *Store) collectMemories(ctx context.Context, order []visit, req ExpandRequest) ([]Candidate, error) {
	if len(order) == 0 {
		return nil, nil
	}
	nodeIDs := make([]int64, len(order))
	for i, v := range order {
		nodeIDs[i] = v.id
	}

	rows, err := s.queryHook(ctx, s.db,
		`SELECT node_id, memory_id FROM memory_node_links
		 WHERE node_id IN (`+placeholders(len(nodeIDs))+`)
		 ORDER BY created_at DESC, memory_id DESC`,
		int64Args(nodeIDs)...,
	)
	if err != nil {
		return nil, fmt.Errorf("graph: linked memories: %w", err)
	}
	defer rows.Close()

	byNode := map[int64][]int64{}
	for rows.Next() {
		var nodeID, memoryID int64
		if err := rows.Scan(&nodeID, &memoryID); err != nil {
			return nil, fmt.Errorf("graph: linked memories: %w", err)
		}
		byNode[nodeID] = append(byNode[nodeID], memoryID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("graph: linked memories: %w", err)
	}

	taken := make(map[int64]bool, len(req.SeedMemoryIDs))
	for _, id := range req.SeedMemoryIDs {
		taken[id] = true
	}
	var out []Candidate
	for _, v := range order {
		for _, memoryID := range byNode[v.id] {
			if taken[memoryID] {
				continue
			}
			taken[memoryID] = true
			out = append(out, Candidate{MemoryID: memoryID, NodeID: v.id, Hops: v.depth, Score: v.score})
			if len(out) >= req.Limit {
				return out, nil
			}
		}
	}
	return out, nil
}
