package memtools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/HendryAvila/memgraph/internal/memory"
	"github.com/mark3labs/mcp-go/mcp"
)

// ─── DeleteTool ─────────────────────────────────────────────────────────────

// DeleteTool handles the mem_delete MCP tool.
type DeleteTool struct {
	store *memory.Store
}

// NewDeleteTool creates a DeleteTool with the given memory store.
func NewDeleteTool(store *memory.Store) *DeleteTool {
	return &DeleteTool{store: store}
}

// Definition returns the MCP tool definition for mem_delete.
func (t *DeleteTool) Definition() mcp.Tool {
	return mcp.NewTool("mem_delete",
		mcp.WithDescription(
			"Delete a memory by ID. Soft-delete by default; set hard_delete=true for permanent deletion. "+
				"Its graph links are removed either way.",
		),
		mcp.WithNumber("id",
			mcp.Required(),
			mcp.Description("Memory ID to delete"),
		),
		mcp.WithBoolean("hard_delete",
			mcp.Description("If true, permanently deletes the memory"),
		),
	)
}

// Handle processes the mem_delete tool call.
func (t *DeleteTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := intArg(req, "id", 0)
	if id <= 0 {
		return mcp.NewToolResultError("'id' is required"), nil
	}

	hardDelete := boolArg(req, "hard_delete", false)

	if err := t.store.Delete(ctx, int64(id), hardDelete); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to delete memory: %v", err)), nil
	}

	action := "soft-deleted"
	if hardDelete {
		action = "permanently deleted"
	}
	return mcp.NewToolResultText(fmt.Sprintf("Memory %d %s", id, action)), nil
}

// ─── UpdateTool ─────────────────────────────────────────────────────────────

// UpdateTool handles the mem_update MCP tool.
type UpdateTool struct {
	store *memory.Store
}

// NewUpdateTool creates an UpdateTool with the given memory store.
func NewUpdateTool(store *memory.Store) *UpdateTool {
	return &UpdateTool{store: store}
}

// Definition returns the MCP tool definition for mem_update.
func (t *UpdateTool) Definition() mcp.Tool {
	return mcp.NewTool("mem_update",
		mcp.WithDescription(
			"Update an existing memory by ID. Only provided fields are changed. The graph is re-synced after the write.",
		),
		mcp.WithNumber("id",
			mcp.Required(),
			mcp.Description("Memory ID to update"),
		),
		mcp.WithString("content", mcp.Description("New content")),
		mcp.WithString("type",
			mcp.Description("New type"),
			mcp.Enum(memory.TypeValues()...),
		),
		mcp.WithString("layer",
			mcp.Description("New layer"),
			mcp.Enum(memory.LayerValues()...),
		),
		mcp.WithArray("tags",
			mcp.Description("Replacement tags (array or comma-separated string). An empty list clears them."),
			mcp.Items(map[string]any{"type": "string"}),
		),
		mcp.WithString("category", mcp.Description("New category")),
		mcp.WithString("expires_at", mcp.Description("New expiry (RFC 3339 or YYYY-MM-DD)")),
		mcp.WithBoolean("clear_expiry", mcp.Description("Remove the current expiry")),
	)
}

// Handle processes the mem_update tool call.
func (t *UpdateTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := intArg(req, "id", 0)
	if id <= 0 {
		return mcp.NewToolResultError("'id' is required"), nil
	}

	params := memory.UpdateParams{}
	hasUpdates := false

	if v := req.GetString("content", ""); v != "" {
		params.Content = &v
		hasUpdates = true
	}
	if v := req.GetString("type", ""); v != "" {
		params.Type = &v
		hasUpdates = true
	}
	if v := req.GetString("layer", ""); v != "" {
		params.Layer = &v
		hasUpdates = true
	}
	if v, ok := req.GetArguments()["category"].(string); ok {
		params.Category = &v
		hasUpdates = true
	}
	if tags, ok := tagsArg(req, "tags"); ok {
		params.Tags = &tags
		hasUpdates = true
	}
	expiresAt, err := expiryArg(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if expiresAt != nil {
		params.ExpiresAt = expiresAt
		hasUpdates = true
	}
	if boolArg(req, "clear_expiry", false) {
		params.ClearExpiry = true
		hasUpdates = true
	}

	if !hasUpdates {
		return mcp.NewToolResultError("at least one field to update is required"), nil
	}

	m, err := t.store.Update(ctx, int64(id), params)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to update memory: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Memory %d updated (%s/%s, updated_at %s)", m.ID, m.Type, m.Layer, m.UpdatedAt)), nil
}

// ─── CopyTool ───────────────────────────────────────────────────────────────

// CopyTool handles the mem_copy MCP tool.
type CopyTool struct {
	store *memory.Store
}

// NewCopyTool creates a CopyTool.
func NewCopyTool(store *memory.Store) *CopyTool {
	return &CopyTool{store: store}
}

// Definition returns the MCP tool definition for mem_copy.
func (t *CopyTool) Definition() mcp.Tool {
	return mcp.NewTool("mem_copy",
		mcp.WithDescription("Copy a memory into another project. The copy is a new memory with its own graph links."),
		mcp.WithNumber("id",
			mcp.Required(),
			mcp.Description("Memory ID to copy"),
		),
		mcp.WithString("project_id",
			mcp.Required(),
			mcp.Description("Target project"),
		),
	)
}

// Handle processes the mem_copy tool call.
func (t *CopyTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := intArg(req, "id", 0)
	if id <= 0 {
		return mcp.NewToolResultError("'id' is required"), nil
	}
	project := strings.TrimSpace(req.GetString("project_id", ""))
	if project == "" {
		return mcp.NewToolResultError("'project_id' is required"), nil
	}

	m, err := t.store.CopyToProject(ctx, int64(id), project)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to copy memory: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Memory %d copied to project %s as #%d", id, project, m.ID)), nil
}

// ─── GetTool ────────────────────────────────────────────────────────────────

// GetTool handles the mem_get MCP tool.
type GetTool struct {
	store *memory.Store
}

// NewGetTool creates a GetTool.
func NewGetTool(store *memory.Store) *GetTool {
	return &GetTool{store: store}
}

// Definition returns the MCP tool definition for mem_get.
func (t *GetTool) Definition() mcp.Tool {
	return mcp.NewTool("mem_get",
		mcp.WithDescription("Get the full content and metadata of one memory by ID."),
		mcp.WithNumber("id",
			mcp.Required(),
			mcp.Description("Memory ID"),
		),
	)
}

// Handle processes the mem_get tool call.
func (t *GetTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := intArg(req, "id", 0)
	if id <= 0 {
		return mcp.NewToolResultError("'id' is required"), nil
	}

	m, err := t.store.Get(ctx, int64(id))
	if errors.Is(err, memory.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("memory %d not found", id)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to get memory: %v", err)), nil
	}
	return jsonResult(m)
}
