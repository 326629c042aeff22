package memtools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/HendryAvila/memgraph/internal/memory"
	"github.com/HendryAvila/memgraph/internal/retrieval"
	"github.com/HendryAvila/memgraph/internal/rollout"
	"github.com/mark3labs/mcp-go/mcp"
)

// SearchTool handles the mem_search MCP tool.
type SearchTool struct {
	store *memory.Store
}

// NewSearchTool creates a SearchTool.
func NewSearchTool(store *memory.Store) *SearchTool {
	return &SearchTool{store: store}
}

// Definition returns the MCP tool definition for mem_search.
func (t *SearchTool) Definition() mcp.Tool {
	return mcp.NewTool("mem_search",
		mcp.WithDescription(
			"Keyword search over memories. Use mem_context instead when you want rules plus ranked context for a task.",
		),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Search query: natural language or keywords"),
		),
		mcp.WithString("type",
			mcp.Description("Filter by memory type"),
			mcp.Enum(memory.TypeValues()...),
		),
		mcp.WithString("tenant_id", mcp.Description("Filter by tenant")),
		mcp.WithString("user_id", mcp.Description("Filter by user")),
		mcp.WithString("project_id", mcp.Description("Filter by project")),
		mcp.WithNumber("limit",
			mcp.Description("Max results (default: 10, max: 50)"),
		),
		mcp.WithString("detail_level",
			mcp.Description("summary, standard (default) or full"),
			mcp.Enum(DetailLevelValues()...),
		),
	)
}

// Handle processes the mem_search tool call.
func (t *SearchTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := req.GetString("query", "")
	if strings.TrimSpace(query) == "" {
		return mcp.NewToolResultError("'query' is required"), nil
	}
	level := ParseDetailLevel(req.GetString("detail_level", ""))

	results, err := t.store.Search(ctx, query, memory.SearchOptions{
		Filter: memory.Filter{
			TenantID:  req.GetString("tenant_id", ""),
			UserID:    req.GetString("user_id", ""),
			ProjectID: req.GetString("project_id", ""),
			Type:      req.GetString("type", ""),
		},
		Limit: intArg(req, "limit", 10),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}

	if len(results) == 0 {
		return mcp.NewToolResultText("No memories found matching your query."), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d memories:\n\n", len(results))
	for i, r := range results {
		writeMemory(&b, i+1, r.Memory, "", level)
	}
	b.WriteString(TokenFooter(EstimateTokens(b.String())))

	return mcp.NewToolResultText(b.String()), nil
}

// ─── ContextTool ────────────────────────────────────────────────────────────

// Retriever answers context requests.
type Retriever interface {
	Retrieve(ctx context.Context, req retrieval.Request) (*retrieval.Response, error)
}

// ContextTool handles the mem_context MCP tool.
type ContextTool struct {
	retriever Retriever
}

// NewContextTool creates a ContextTool.
func NewContextTool(r Retriever) *ContextTool {
	return &ContextTool{retriever: r}
}

// Definition returns the MCP tool definition for mem_context.
func (t *ContextTool) Definition() mcp.Tool {
	return mcp.NewTool("mem_context",
		mcp.WithDescription(
			"Build task context: always-on rules plus ranked memories for the query. "+
				"strategy=hybrid_graph asks for graph expansion; whether it is applied depends on the rollout mode. "+
				"The trace explains what happened.",
		),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("What you are working on"),
		),
		mcp.WithString("tenant_id", mcp.Description("Tenant scope")),
		mcp.WithString("user_id", mcp.Description("User scope")),
		mcp.WithString("project_id", mcp.Description("Project scope")),
		mcp.WithString("mode",
			mcp.Description("Layer filter (default: all)"),
			mcp.Enum(retrieval.ModeValues()...),
		),
		mcp.WithString("strategy",
			mcp.Description("baseline (default) or hybrid_graph"),
			mcp.Enum(rollout.StrategyValues()...),
		),
		mcp.WithNumber("limit", mcp.Description("Max memories (default: 8, max: 50)")),
		mcp.WithNumber("graph_depth", mcp.Description("Traversal depth 0-2 (default: 1; 0 disables expansion)")),
		mcp.WithNumber("graph_limit", mcp.Description("Max graph candidates (default: 8, max: 50)")),
		mcp.WithString("format",
			mcp.Description("text (default) or json"),
			mcp.Enum("text", "json"),
		),
		mcp.WithString("detail_level",
			mcp.Description("summary, standard (default) or full; text format only"),
			mcp.Enum(DetailLevelValues()...),
		),
	)
}

// Handle processes the mem_context tool call.
func (t *ContextTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resp, err := t.retriever.Retrieve(ctx, retrieval.Request{
		Query:      req.GetString("query", ""),
		TenantID:   req.GetString("tenant_id", ""),
		UserID:     req.GetString("user_id", ""),
		ProjectID:  req.GetString("project_id", ""),
		Mode:       req.GetString("mode", ""),
		Strategy:   req.GetString("strategy", ""),
		Limit:      intArg(req, "limit", 0),
		GraphDepth: optionalIntArg(req, "graph_depth"),
		GraphLimit: intArg(req, "graph_limit", 0),
	})
	switch {
	case errors.Is(err, retrieval.ErrInvalidRequest):
		return mcp.NewToolResultError(err.Error()), nil
	case errors.Is(err, retrieval.ErrStoreUnavailable):
		return mcp.NewToolResultError(fmt.Sprintf("memory store unavailable, retry later: %v", err)), nil
	case err != nil:
		return mcp.NewToolResultError(fmt.Sprintf("context failed: %v", err)), nil
	}

	if req.GetString("format", "text") == "json" {
		return jsonResult(resp)
	}
	return mcp.NewToolResultText(renderContext(resp, ParseDetailLevel(req.GetString("detail_level", "")))), nil
}

func renderContext(resp *retrieval.Response, level string) string {
	var b strings.Builder

	if len(resp.Rules) > 0 {
		fmt.Fprintf(&b, "## Rules (%d)\n\n", len(resp.Rules))
		for i, r := range resp.Rules {
			writeMemory(&b, i+1, r, "", level)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "## Memories (%d)\n\n", len(resp.Memories))
	if len(resp.Memories) == 0 {
		b.WriteString("No memories matched.\n")
	}
	for i, r := range resp.Memories {
		extra := "[" + r.Source + "]"
		if r.Source == retrieval.SourceGraph {
			extra = fmt.Sprintf("[graph hops=%d score=%.2f]", r.Hops, r.Score)
		}
		writeMemory(&b, i+1, r.Memory, extra, level)
	}

	tr := resp.Trace
	fmt.Fprintf(&b, "\n---\nrollout: %s | requested: %s | applied: %s", tr.RolloutMode, tr.RequestedStrategy, tr.AppliedStrategy)
	if tr.ShadowExecuted {
		b.WriteString(" | shadow")
	}
	fmt.Fprintf(&b, "\ncandidates: baseline=%d graph=%d expanded=%d total=%d",
		tr.BaselineCandidates, tr.GraphCandidates, tr.GraphExpandedCount, tr.TotalCandidates)
	if tr.FallbackTriggered {
		fmt.Fprintf(&b, "\nfallback: %s", tr.FallbackReason)
	}
	fmt.Fprintf(&b, "\nrequest: %s", tr.RequestID)
	b.WriteString(TokenFooter(EstimateTokens(b.String())))
	return b.String()
}
