package memtools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/HendryAvila/memgraph/internal/graph"
	"github.com/HendryAvila/memgraph/internal/memory"
	"github.com/HendryAvila/memgraph/internal/rollout"
	"github.com/mark3labs/mcp-go/mcp"
)

// ─── StatusTool ─────────────────────────────────────────────────────────────

// StatusTool handles the graph_status MCP tool.
type StatusTool struct {
	graph *graph.Store
}

// NewStatusTool creates a StatusTool.
func NewStatusTool(g *graph.Store) *StatusTool {
	return &StatusTool{graph: g}
}

// Definition returns the MCP tool definition for graph_status.
func (t *StatusTool) Definition() mcp.Tool {
	return mcp.NewTool("graph_status",
		mcp.WithDescription(
			"Knowledge graph health: node/edge/link counts, expired and orphan counts, most connected nodes, "+
				"recent sync failures, rollout mode and the 24h fallback rate.",
		),
		mcp.WithNumber("top", mcp.Description("Number of top connected nodes (default: 10)")),
	)
}

// Handle processes the graph_status tool call.
func (t *StatusTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	st, err := t.graph.Status(ctx, intArg(req, "top", graph.DefaultTopNodes))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("graph status failed: %v", err)), nil
	}
	return jsonResult(st)
}

// ─── ExploreTool ────────────────────────────────────────────────────────────

// ExploreTool handles the graph_explore MCP tool.
type ExploreTool struct {
	graph *graph.Store
	mem   *memory.Store
}

// NewExploreTool creates an ExploreTool.
func NewExploreTool(g *graph.Store, mem *memory.Store) *ExploreTool {
	return &ExploreTool{graph: g, mem: mem}
}

// Definition returns the MCP tool definition for graph_explore.
func (t *ExploreTool) Definition() mcp.Tool {
	return mcp.NewTool("graph_explore",
		mcp.WithDescription(
			"Inspect the knowledge graph. Without node_type/node_key it lists the most connected nodes; "+
				"with both it returns the node, its active edges and the memories linked to it.",
		),
		mcp.WithString("node_type",
			mcp.Description("Node type"),
			mcp.Enum(graph.NodeTypeValues()...),
		),
		mcp.WithString("node_key", mcp.Description("Node key, e.g. a tag or file path")),
		mcp.WithNumber("limit", mcp.Description("Max rows per section (default: 20, max: 100)")),
		mcp.WithString("detail_level",
			mcp.Description("Memory previews: summary, standard (default) or full"),
			mcp.Enum(DetailLevelValues()...),
		),
	)
}

// exploredMemory is a linked memory with its preview.
type exploredMemory struct {
	MemoryID int64    `json:"memory_id"`
	Role     string   `json:"role"`
	LinkedAt string   `json:"linked_at"`
	Type     string   `json:"type,omitempty"`
	Layer    string   `json:"layer,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	Preview  string   `json:"preview,omitempty"`
}

type exploreResponse struct {
	Node     *graph.NodeSummary  `json:"node"`
	Nodes    []graph.NodeSummary `json:"nodes"`
	Edges    []graph.EdgeView    `json:"edges"`
	Memories []exploredMemory    `json:"memories"`
}

// Handle processes the graph_explore tool call.
func (t *ExploreTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	nodeType := strings.TrimSpace(req.GetString("node_type", ""))
	nodeKey := strings.TrimSpace(req.GetString("node_key", ""))
	if (nodeType == "") != (nodeKey == "") {
		return mcp.NewToolResultError("'node_type' and 'node_key' must be given together"), nil
	}

	res, err := t.graph.Explore(ctx, graph.ExploreRequest{
		NodeType: nodeType,
		NodeKey:  nodeKey,
		Limit:    intArg(req, "limit", 0),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("graph explore failed: %v", err)), nil
	}

	out := exploreResponse{
		Node:     res.Node,
		Nodes:    res.Nodes,
		Edges:    res.Edges,
		Memories: []exploredMemory{},
	}
	if len(res.Memories) > 0 {
		memories, err := t.hydrate(ctx, res.Memories, ParseDetailLevel(req.GetString("detail_level", "")))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("loading linked memories failed: %v", err)), nil
		}
		out.Memories = memories
	}
	return jsonResult(out)
}

// hydrate attaches previews to links, dropping memories that are gone.
func (t *ExploreTool) hydrate(ctx context.Context, links []graph.Link, level string) ([]exploredMemory, error) {
	ids := make([]int64, 0, len(links))
	for _, l := range links {
		ids = append(ids, l.MemoryID)
	}
	found, err := t.mem.GetMany(ctx, ids, memory.Filter{})
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]memory.Memory, len(found))
	for _, m := range found {
		byID[m.ID] = m
	}

	out := make([]exploredMemory, 0, len(links))
	for _, l := range links {
		m, ok := byID[l.MemoryID]
		if !ok {
			continue
		}
		out = append(out, exploredMemory{
			MemoryID: l.MemoryID,
			Role:     l.Role,
			LinkedAt: l.CreatedAt,
			Type:     m.Type,
			Layer:    m.Layer,
			Tags:     m.Tags,
			Preview:  preview(m.Content, level),
		})
	}
	return out, nil
}

// ─── RolloutTool ────────────────────────────────────────────────────────────

// RolloutTool handles the graph_rollout MCP tool.
type RolloutTool struct {
	controller *rollout.Controller
	graph      *graph.Store
}

// NewRolloutTool creates a RolloutTool.
func NewRolloutTool(c *rollout.Controller, g *graph.Store) *RolloutTool {
	return &RolloutTool{controller: c, graph: g}
}

// Definition returns the MCP tool definition for graph_rollout.
func (t *RolloutTool) Definition() mcp.Tool {
	return mcp.NewTool("graph_rollout",
		mcp.WithDescription(
			"Read or change the graph rollout mode. off: baseline only. shadow: graph path runs and is measured, "+
				"results are not used. canary: graph results are blended after baseline results.",
		),
		mcp.WithString("action",
			mcp.Description("get (default) or set"),
			mcp.Enum("get", "set"),
		),
		mcp.WithString("mode",
			mcp.Description("New mode, required for set"),
			mcp.Enum(rollout.ModeValues()...),
		),
		mcp.WithString("updated_by", mcp.Description("Who is changing the mode")),
		mcp.WithNumber("events", mcp.Description("Recent rollout events to include with get (default: 0)")),
	)
}

type rolloutResponse struct {
	Config       rollout.Config      `json:"config"`
	FallbackRate *graph.FallbackRate `json:"fallback_rate_24h,omitempty"`
	Events       []rollout.Event     `json:"events,omitempty"`
}

// Handle processes the graph_rollout tool call.
func (t *RolloutTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	switch action := req.GetString("action", "get"); action {
	case "set":
		cfg, err := t.controller.SetMode(ctx, req.GetString("mode", ""), req.GetString("updated_by", ""))
		switch {
		case errors.Is(err, rollout.ErrInvalidMode):
			return mcp.NewToolResultError(err.Error()), nil
		case errors.Is(err, graph.ErrSchemaAbsent):
			return mcp.NewToolResultError("graph schema is not installed; run graph_backfill first"), nil
		case err != nil:
			return mcp.NewToolResultError(fmt.Sprintf("failed to set rollout mode: %v", err)), nil
		}
		return jsonResult(rolloutResponse{Config: cfg})
	case "get":
		cfg, err := t.controller.Config(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to read rollout config: %v", err)), nil
		}
		out := rolloutResponse{Config: cfg}
		rate, err := t.graph.FallbackRate24h(ctx)
		if err == nil {
			out.FallbackRate = &rate
		}
		if n := intArg(req, "events", 0); n > 0 {
			events, err := t.graph.RecentRolloutEvents(ctx, n)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("failed to read rollout events: %v", err)), nil
			}
			out.Events = events
		}
		return jsonResult(out)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown action %q: use get or set", action)), nil
	}
}

// ─── BackfillTool ───────────────────────────────────────────────────────────

// BackfillTool handles the graph_backfill MCP tool.
type BackfillTool struct {
	sync *graph.Synchronizer
	mem  *memory.Store
}

// NewBackfillTool creates a BackfillTool.
func NewBackfillTool(sy *graph.Synchronizer, mem *memory.Store) *BackfillTool {
	return &BackfillTool{sync: sy, mem: mem}
}

// Definition returns the MCP tool definition for graph_backfill.
func (t *BackfillTool) Definition() mcp.Tool {
	return mcp.NewTool("graph_backfill",
		mcp.WithDescription(
			"Install the graph schema if missing and project every live memory into the graph. "+
				"Safe to repeat; links of deleted memories are pruned.",
		),
	)
}

// Handle processes the graph_backfill tool call.
func (t *BackfillTool) Handle(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := t.sync.Backfill(ctx, t.mem)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("backfill failed: %v", err)), nil
	}
	return jsonResult(res)
}
