// Package resources implements read-only MCP resources for memgraph.
//
// Resources use URI-based addressing (memgraph://...) following MCP
// conventions.
package resources

import (
	"context"
	"fmt"

	"github.com/HendryAvila/memgraph/internal/graph"
	"github.com/mark3labs/mcp-go/mcp"
)

// Resource URIs.
const (
	StatusURI  = "memgraph://graph/status"
	RolloutURI = "memgraph://graph/rollout"
)

// Handler serves graph resources.
type Handler struct {
	graph *graph.Store
}

// NewHandler creates a resource Handler with its dependencies.
func NewHandler(g *graph.Store) *Handler {
	return &Handler{graph: g}
}

// StatusResource returns the MCP resource definition for graph status.
func (h *Handler) StatusResource() mcp.Resource {
	return mcp.NewResource(
		StatusURI,
		"Knowledge Graph Status",
		mcp.WithResourceDescription("Graph counts, top connected nodes, recent failures, rollout mode and 24h fallback rate"),
		mcp.WithMIMEType("application/json"),
	)
}

// HandleStatus returns the graph status as JSON.
func (h *Handler) HandleStatus(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	st, err := h.graph.Status(ctx, graph.DefaultTopNodes)
	if err != nil {
		return errorResource(req.Params.URI, err.Error()), nil
	}
	return jsonResource(req.Params.URI, st)
}

// RolloutResource returns the MCP resource definition for the rollout config.
func (h *Handler) RolloutResource() mcp.Resource {
	return mcp.NewResource(
		RolloutURI,
		"Graph Rollout",
		mcp.WithResourceDescription("Current rollout mode with the 24h fallback rate"),
		mcp.WithMIMEType("application/json"),
	)
}

// HandleRollout returns the persisted rollout config and fallback rate.
func (h *Handler) HandleRollout(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	cfg, err := h.graph.LoadRolloutConfig(ctx)
	if err != nil {
		return errorResource(req.Params.URI, err.Error()), nil
	}
	rate, err := h.graph.FallbackRate24h(ctx)
	if err != nil {
		return errorResource(req.Params.URI, fmt.Sprintf("fallback rate: %v", err)), nil
	}
	return jsonResource(req.Params.URI, map[string]any{
		"config":            cfg,
		"fallback_rate_24h": rate,
	})
}
