package memtools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HendryAvila/memgraph/internal/graph"
	"github.com/HendryAvila/memgraph/internal/memory"
	"github.com/HendryAvila/memgraph/internal/retrieval"
	"github.com/HendryAvila/memgraph/internal/rollout"
)

// ─── Test helpers ────────────────────────────────────────────────────────────

type fixture struct {
	mem        *memory.Store
	graph      *graph.Store
	sync       *graph.Synchronizer
	controller *rollout.Controller
	ranker     *retrieval.Ranker
}

// newFixture wires a memory store, graph store, inline synchronizer and ranker
// over one temp database.
func newFixture(t *testing.T, autoMigrate bool) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := memory.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	mem, err := memory.NewWithDB(db, memory.Config{})
	require.NoError(t, err)
	g, err := graph.NewStore(ctx, db, graph.Options{Logger: zerolog.Nop(), AutoMigrate: autoMigrate})
	require.NoError(t, err)
	sy := graph.NewSynchronizer(g, graph.SyncOptions{Logger: zerolog.Nop()})
	mem.SetObserver(sy)

	controller, err := rollout.NewController(g, rollout.ControllerOptions{Logger: zerolog.Nop()})
	require.NoError(t, err)
	t.Cleanup(controller.Close)

	ranker := retrieval.NewRanker(mem, g, controller, retrieval.Options{
		GraphTimeout: 2 * time.Second,
		Logger:       zerolog.Nop(),
		Errors:       g.Errors(),
	})
	return &fixture{mem: mem, graph: g, sync: sy, controller: controller, ranker: ranker}
}

// makeReq builds a mcp.CallToolRequest with the given arguments.
func makeReq(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

// resultText extracts the text content from a tool result.
func resultText(r *mcp.CallToolResult) string {
	if r == nil || len(r.Content) == 0 {
		return ""
	}
	for _, c := range r.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func mustNotError(t *testing.T, r *mcp.CallToolResult, err error) {
	t.Helper()
	require.NoError(t, err)
	require.NotNil(t, r)
	require.False(t, r.IsError, "unexpected tool error: %s", resultText(r))
}

func mustBeToolError(t *testing.T, r *mcp.CallToolResult, err error, wantSubstr string) {
	t.Helper()
	require.NoError(t, err)
	require.NotNil(t, r)
	require.True(t, r.IsError, "expected tool error, got: %s", resultText(r))
	assert.Contains(t, resultText(r), wantSubstr)
}

func decode[T any](t *testing.T, r *mcp.CallToolResult) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(resultText(r)), &v), resultText(r))
	return v
}

func seed(t *testing.T, f *fixture, content string, tags ...string) *memory.Memory {
	t.Helper()
	m, err := f.mem.Add(context.Background(), memory.AddParams{Content: content, Tags: tags, TenantID: "acme"})
	require.NoError(t, err)
	return m
}

// ─── Argument helpers ────────────────────────────────────────────────────────

func TestTagsArg(t *testing.T) {
	tags, ok := tagsArg(makeReq(map[string]any{"tags": []any{"a", "b", 3}}), "tags")
	assert.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, tags)

	tags, ok = tagsArg(makeReq(map[string]any{"tags": " a, ,b "}), "tags")
	assert.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, tags)

	_, ok = tagsArg(makeReq(map[string]any{}), "tags")
	assert.False(t, ok)
}

func TestOptionalIntArg(t *testing.T) {
	assert.Nil(t, optionalIntArg(makeReq(map[string]any{}), "graph_depth"))
	v := optionalIntArg(makeReq(map[string]any{"graph_depth": float64(0)}), "graph_depth")
	require.NotNil(t, v)
	assert.Equal(t, 0, *v)
}

func TestPreview(t *testing.T) {
	long := strings.Repeat("x", previewLength+10)
	assert.Empty(t, preview(long, DetailSummary))
	assert.Equal(t, long, preview(long, DetailFull))
	assert.Len(t, preview(long, DetailStandard), previewLength+3)
	assert.Equal(t, DetailStandard, ParseDetailLevel("bogus"))
}

// ─── Save / update / delete ──────────────────────────────────────────────────

func TestSaveTool_Definition(t *testing.T) {
	def := NewSaveTool(nil).Definition()
	assert.Equal(t, "mem_save", def.Name)
	assert.Contains(t, def.InputSchema.Properties, "content")
	assert.Contains(t, def.InputSchema.Properties, "tags")
	assert.Contains(t, def.InputSchema.Required, "content")
}

func TestSaveTool_SavesAndProjects(t *testing.T) {
	f := newFixture(t, true)
	tool := NewSaveTool(f.mem)

	r, err := tool.Handle(context.Background(), makeReq(map[string]any{
		"content":    "Retry budget lives in internal/retry/budget.go",
		"type":       "decision",
		"tags":       []any{"Retry", "resilience"},
		"tenant_id":  "acme",
		"expires_at": "2099-01-01",
	}))
	mustNotError(t, r, err)
	assert.Contains(t, resultText(r), "decision/long_term")
	assert.Contains(t, resultText(r), "retry, resilience")
	assert.Contains(t, resultText(r), "Expires: 2099-01-01")

	node, err := f.graph.FindNode(context.Background(), graph.NodeFile, "internal/retry/budget.go")
	require.NoError(t, err)
	require.NotNil(t, node)
}

func TestSaveTool_Validation(t *testing.T) {
	f := newFixture(t, true)
	tool := NewSaveTool(f.mem)

	r, err := tool.Handle(context.Background(), makeReq(map[string]any{"content": "  "}))
	mustBeToolError(t, r, err, "'content' is required")

	r, err = tool.Handle(context.Background(), makeReq(map[string]any{"content": "x", "expires_at": "soon"}))
	mustBeToolError(t, r, err, "invalid 'expires_at'")

	r, err = tool.Handle(context.Background(), makeReq(map[string]any{"content": "x", "type": "poem"}))
	mustBeToolError(t, r, err, "failed to save memory")
}

func TestUpdateTool(t *testing.T) {
	f := newFixture(t, true)
	m := seed(t, f, "plain memory", "one")
	tool := NewUpdateTool(f.mem)

	r, err := tool.Handle(context.Background(), makeReq(map[string]any{"id": float64(m.ID)}))
	mustBeToolError(t, r, err, "at least one field")

	r, err = tool.Handle(context.Background(), makeReq(map[string]any{
		"id":   float64(m.ID),
		"tags": "two",
	}))
	mustNotError(t, r, err)

	got, err := f.mem.Get(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"two"}, got.Tags)

	links, err := f.graph.LinksForMemory(context.Background(), m.ID)
	require.NoError(t, err)
	require.Len(t, links, 1)
}

func TestDeleteTool(t *testing.T) {
	f := newFixture(t, true)
	m := seed(t, f, "plain memory", "one")
	tool := NewDeleteTool(f.mem)

	r, err := tool.Handle(context.Background(), makeReq(map[string]any{}))
	mustBeToolError(t, r, err, "'id' is required")

	r, err = tool.Handle(context.Background(), makeReq(map[string]any{"id": float64(m.ID)}))
	mustNotError(t, r, err)
	assert.Contains(t, resultText(r), "soft-deleted")

	links, err := f.graph.LinksForMemory(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Empty(t, links)

	r, err = tool.Handle(context.Background(), makeReq(map[string]any{"id": float64(m.ID)}))
	mustBeToolError(t, r, err, "failed to delete")
}

func TestCopyAndGetTools(t *testing.T) {
	f := newFixture(t, true)
	m := seed(t, f, "plain memory", "one")

	r, err := NewCopyTool(f.mem).Handle(context.Background(), makeReq(map[string]any{"id": float64(m.ID)}))
	mustBeToolError(t, r, err, "'project_id' is required")

	r, err = NewCopyTool(f.mem).Handle(context.Background(), makeReq(map[string]any{
		"id": float64(m.ID), "project_id": "billing",
	}))
	mustNotError(t, r, err)
	assert.Contains(t, resultText(r), "copied to project billing")

	r, err = NewGetTool(f.mem).Handle(context.Background(), makeReq(map[string]any{"id": float64(m.ID)}))
	mustNotError(t, r, err)
	got := decode[memory.Memory](t, r)
	assert.Equal(t, "plain memory", got.Content)

	r, err = NewGetTool(f.mem).Handle(context.Background(), makeReq(map[string]any{"id": float64(9999)}))
	mustBeToolError(t, r, err, "not found")
}

// ─── Search / context ────────────────────────────────────────────────────────

func TestSearchTool(t *testing.T) {
	f := newFixture(t, true)
	seed(t, f, "Rotate jwt keys quarterly", "auth")
	tool := NewSearchTool(f.mem)

	r, err := tool.Handle(context.Background(), makeReq(map[string]any{"query": ""}))
	mustBeToolError(t, r, err, "'query' is required")

	r, err = tool.Handle(context.Background(), makeReq(map[string]any{"query": "jwt", "detail_level": "summary"}))
	mustNotError(t, r, err)
	text := resultText(r)
	assert.Contains(t, text, "Found 1 memories")
	assert.NotContains(t, text, "Rotate jwt keys", "summary omits content")

	r, err = tool.Handle(context.Background(), makeReq(map[string]any{"query": "nothing-like-this"}))
	mustNotError(t, r, err)
	assert.Contains(t, resultText(r), "No memories found")
}

func TestContextTool_Validation(t *testing.T) {
	f := newFixture(t, true)
	tool := NewContextTool(f.ranker)

	r, err := tool.Handle(context.Background(), makeReq(map[string]any{"query": "x", "graph_depth": float64(5)}))
	mustBeToolError(t, r, err, "graph")

	r, err = tool.Handle(context.Background(), makeReq(map[string]any{"query": "x", "strategy": "vector"}))
	mustBeToolError(t, r, err, "strategy")
}

func TestContextTool_CanaryBlendsGraphResults(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	rotate := seed(t, f, "Rotate jwt keys quarterly", "auth")
	cookies := seed(t, f, "Session cookies use SameSite strict", "auth")
	_, err := f.controller.SetMode(ctx, "canary", "test")
	require.NoError(t, err)

	tool := NewContextTool(f.ranker)
	r, err := tool.Handle(ctx, makeReq(map[string]any{
		"query":     "jwt",
		"tenant_id": "acme",
		"strategy":  "hybrid_graph",
		"format":    "json",
	}))
	mustNotError(t, r, err)

	resp := decode[retrieval.Response](t, r)
	require.Len(t, resp.Memories, 2)
	assert.Equal(t, rotate.ID, resp.Memories[0].ID)
	assert.Equal(t, retrieval.SourceBaseline, resp.Memories[0].Source)
	assert.Equal(t, cookies.ID, resp.Memories[1].ID)
	assert.Equal(t, retrieval.SourceGraph, resp.Memories[1].Source)
	assert.Equal(t, rollout.StrategyHybridGraph, resp.Trace.AppliedStrategy)

	r, err = tool.Handle(ctx, makeReq(map[string]any{"query": "jwt", "tenant_id": "acme", "strategy": "hybrid_graph"}))
	mustNotError(t, r, err)
	text := resultText(r)
	assert.Contains(t, text, "## Memories (2)")
	assert.Contains(t, text, "[graph hops=0")
	assert.Contains(t, text, "rollout: canary")
}

// ─── Graph tools ─────────────────────────────────────────────────────────────

func TestStatusTool_SchemaAbsent(t *testing.T) {
	f := newFixture(t, false)
	r, err := NewStatusTool(f.graph).Handle(context.Background(), makeReq(map[string]any{}))
	mustNotError(t, r, err)

	st := decode[graph.Status](t, r)
	assert.False(t, st.SchemaPresent)
	assert.Equal(t, rollout.ModeOff, st.Mode)
	assert.Zero(t, st.Counts.Nodes)
}

func TestStatusTool_Counts(t *testing.T) {
	f := newFixture(t, true)
	seed(t, f, "plain memory", "a", "b")

	r, err := NewStatusTool(f.graph).Handle(context.Background(), makeReq(map[string]any{"top": float64(1)}))
	mustNotError(t, r, err)

	st := decode[graph.Status](t, r)
	assert.True(t, st.SchemaPresent)
	assert.Equal(t, 2, st.Counts.Nodes)
	assert.Equal(t, 1, st.Counts.Edges)
	assert.Len(t, st.TopConnectedNodes, 1)
}

func TestExploreTool(t *testing.T) {
	f := newFixture(t, true)
	m := seed(t, f, "plain memory", "auth", "jwt")
	tool := NewExploreTool(f.graph, f.mem)

	r, err := tool.Handle(context.Background(), makeReq(map[string]any{"node_type": "tag"}))
	mustBeToolError(t, r, err, "must be given together")

	r, err = tool.Handle(context.Background(), makeReq(map[string]any{}))
	mustNotError(t, r, err)
	overview := decode[exploreResponse](t, r)
	assert.Nil(t, overview.Node)
	assert.NotEmpty(t, overview.Nodes)

	r, err = tool.Handle(context.Background(), makeReq(map[string]any{"node_type": "tag", "node_key": "auth"}))
	mustNotError(t, r, err)
	got := decode[exploreResponse](t, r)
	require.NotNil(t, got.Node)
	assert.Equal(t, "auth", got.Node.Key)
	require.Len(t, got.Edges, 1)
	assert.Equal(t, "jwt", got.Edges[0].Neighbor.Key)
	require.Len(t, got.Memories, 1)
	assert.Equal(t, m.ID, got.Memories[0].MemoryID)
	assert.Equal(t, graph.RoleTagged, got.Memories[0].Role)
	assert.Equal(t, "plain memory", got.Memories[0].Preview)

	r, err = tool.Handle(context.Background(), makeReq(map[string]any{"node_type": "tag", "node_key": "missing"}))
	mustNotError(t, r, err)
	empty := decode[exploreResponse](t, r)
	assert.Nil(t, empty.Node)
	assert.Empty(t, empty.Memories)
}

func TestRolloutTool(t *testing.T) {
	f := newFixture(t, true)
	tool := NewRolloutTool(f.controller, f.graph)
	ctx := context.Background()

	r, err := tool.Handle(ctx, makeReq(map[string]any{}))
	mustNotError(t, r, err)
	assert.Equal(t, rollout.ModeOff, decode[rolloutResponse](t, r).Config.Mode)

	r, err = tool.Handle(ctx, makeReq(map[string]any{"action": "set", "mode": "loud"}))
	mustBeToolError(t, r, err, "mode")

	r, err = tool.Handle(ctx, makeReq(map[string]any{"action": "set", "mode": "shadow", "updated_by": "ops"}))
	mustNotError(t, r, err)
	cfg := decode[rolloutResponse](t, r).Config
	assert.Equal(t, rollout.ModeShadow, cfg.Mode)
	assert.Equal(t, "ops", cfg.UpdatedBy)

	r, err = tool.Handle(ctx, makeReq(map[string]any{"action": "reset"}))
	mustBeToolError(t, r, err, "unknown action")
}

func TestRolloutTool_SetWithoutSchema(t *testing.T) {
	f := newFixture(t, false)
	r, err := NewRolloutTool(f.controller, f.graph).Handle(context.Background(),
		makeReq(map[string]any{"action": "set", "mode": "canary"}))
	mustBeToolError(t, r, err, "graph_backfill")
}

func TestBackfillTool(t *testing.T) {
	f := newFixture(t, false)
	seed(t, f, "plain memory", "a", "b")

	r, err := NewBackfillTool(f.sync, f.mem).Handle(context.Background(), makeReq(map[string]any{}))
	mustNotError(t, r, err)
	res := decode[graph.BackfillResult](t, r)
	assert.Equal(t, 1, res.Memories)

	present, err := f.graph.SchemaPresent(context.Background())
	require.NoError(t, err)
	assert.True(t, present)
}

func TestStatsTool(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	_, err := f.mem.Add(ctx, memory.AddParams{Content: "always run gofmt", Type: memory.TypeRule, ProjectID: "api"})
	require.NoError(t, err)
	seed(t, f, "plain memory")

	r, err := NewStatsTool(f.mem).Handle(ctx, makeReq(map[string]any{}))
	mustNotError(t, r, err)
	text := resultText(r)
	assert.Contains(t, text, "**Memories**: 2")
	assert.Contains(t, text, "rule: 1")
	assert.Contains(t, text, "long_term: 1")
	assert.Contains(t, text, "api")
}
