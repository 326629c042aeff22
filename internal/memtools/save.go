package memtools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/HendryAvila/memgraph/internal/memory"
	"github.com/mark3labs/mcp-go/mcp"
)

// SaveTool handles the mem_save MCP tool.
type SaveTool struct {
	store *memory.Store
}

// NewSaveTool creates a SaveTool with the given memory store.
func NewSaveTool(store *memory.Store) *SaveTool {
	return &SaveTool{store: store}
}

// Definition returns the MCP tool definition for mem_save.
func (t *SaveTool) Definition() mcp.Tool {
	return mcp.NewTool("mem_save",
		mcp.WithDescription(
			"Save a memory (rule, decision, fact, note or skill). Call this PROACTIVELY after learning something "+
				"worth keeping. Tags, category and file paths in the content feed the knowledge graph.",
		),
		mcp.WithString("content",
			mcp.Required(),
			mcp.Description("The memory text. Mention file paths and concepts explicitly; they become graph nodes."),
		),
		mcp.WithString("type",
			mcp.Description("Memory type (default: note)"),
			mcp.Enum(memory.TypeValues()...),
		),
		mcp.WithString("layer",
			mcp.Description("Memory layer. Rules default to the rule layer, everything else to long_term."),
			mcp.Enum(memory.LayerValues()...),
		),
		mcp.WithString("scope",
			mcp.Description("global or project (default: project when project_id is set)"),
			mcp.Enum(memory.ScopeGlobal, memory.ScopeProject),
		),
		mcp.WithString("tenant_id", mcp.Description("Tenant that owns the memory")),
		mcp.WithString("user_id", mcp.Description("User that owns the memory")),
		mcp.WithString("project_id", mcp.Description("Project the memory belongs to")),
		mcp.WithArray("tags",
			mcp.Description("Tags (array or comma-separated string). Normalized to lowercase."),
			mcp.Items(map[string]any{"type": "string"}),
		),
		mcp.WithString("category", mcp.Description("Free-form category, e.g. auth or deploy")),
		mcp.WithString("expires_at",
			mcp.Description("Optional expiry (RFC 3339 or YYYY-MM-DD). Graph edges derived from this memory expire with it."),
		),
	)
}

// Handle processes the mem_save tool call.
func (t *SaveTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	content := req.GetString("content", "")
	if strings.TrimSpace(content) == "" {
		return mcp.NewToolResultError("'content' is required"), nil
	}

	expiresAt, err := expiryArg(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	tags, _ := tagsArg(req, "tags")

	m, err := t.store.Add(ctx, memory.AddParams{
		Content:   content,
		Type:      req.GetString("type", ""),
		Layer:     req.GetString("layer", ""),
		Scope:     req.GetString("scope", ""),
		TenantID:  req.GetString("tenant_id", ""),
		UserID:    req.GetString("user_id", ""),
		ProjectID: req.GetString("project_id", ""),
		Tags:      tags,
		Category:  req.GetString("category", ""),
		ExpiresAt: expiresAt,
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to save memory: %v", err)), nil
	}

	response := fmt.Sprintf("Memory saved: #%d (%s/%s)", m.ID, m.Type, m.Layer)
	if len(m.Tags) > 0 {
		response += fmt.Sprintf("\nTags: %s", strings.Join(m.Tags, ", "))
	}
	if m.ExpiresAt != nil {
		response += fmt.Sprintf("\nExpires: %s", *m.ExpiresAt)
	}
	return mcp.NewToolResultText(response), nil
}

// expiryArg parses the optional expires_at argument.
func expiryArg(req mcp.CallToolRequest) (*time.Time, error) {
	raw := strings.TrimSpace(req.GetString("expires_at", ""))
	if raw == "" {
		return nil, nil
	}
	ts, err := memory.ParseTime(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid 'expires_at' %q: use RFC 3339 or YYYY-MM-DD", raw)
	}
	return &ts, nil
}
