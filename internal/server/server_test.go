package server_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HendryAvila/memgraph/internal/config"
	"github.com/HendryAvila/memgraph/internal/logging"
	"github.com/HendryAvila/memgraph/internal/memory"
	"github.com/HendryAvila/memgraph/internal/metrics"
	"github.com/HendryAvila/memgraph/internal/retrieval"
	"github.com/HendryAvila/memgraph/internal/rollout"
	"github.com/HendryAvila/memgraph/internal/server"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("MEMGRAPH_DATA_DIR", t.TempDir())
	t.Setenv("MEMGRAPH_GRAPH_ASYNC_SYNC", "false")
	cfg, err := config.Load("")
	require.NoError(t, err)
	return cfg
}

func TestNewApp_WiresEngine(t *testing.T) {
	ctx := context.Background()
	m := metrics.NewMetrics()
	app, err := server.NewApp(ctx, testConfig(t), logging.Nop(), m)
	require.NoError(t, err)
	defer app.Close()

	require.NotNil(t, app.Monitor)

	_, err = app.Memory.Add(ctx, memory.AddParams{Content: "Rotate jwt keys quarterly", Tags: []string{"auth"}})
	require.NoError(t, err)
	_, err = app.Memory.Add(ctx, memory.AddParams{Content: "Session cookies use SameSite strict", Tags: []string{"auth"}})
	require.NoError(t, err)

	_, err = app.Controller.SetMode(ctx, "canary", "test")
	require.NoError(t, err)

	resp, err := app.Ranker.Retrieve(ctx, retrieval.Request{Query: "jwt", Strategy: "hybrid_graph"})
	require.NoError(t, err)
	assert.Equal(t, rollout.ModeCanary, resp.Trace.RolloutMode)
	assert.Len(t, resp.Memories, 2)

	st, err := app.Graph.Status(ctx, 5)
	require.NoError(t, err)
	assert.True(t, st.SchemaPresent)
	assert.Equal(t, 1, st.Counts.Nodes)
}

func TestNewMCPServer(t *testing.T) {
	app, err := server.NewApp(context.Background(), testConfig(t), logging.Nop(), nil)
	require.NoError(t, err)
	defer app.Close()

	s := server.NewMCPServer(app)
	require.NotNil(t, s)

	tools := s.ListTools()
	for _, name := range []string{
		"mem_save", "mem_update", "mem_delete", "mem_copy", "mem_get", "mem_search", "mem_context", "mem_stats",
		"graph_status", "graph_explore", "graph_rollout", "graph_backfill",
	} {
		assert.Contains(t, tools, name)
	}
}

func TestNewApp_BadSchedule(t *testing.T) {
	cfg := testConfig(t)
	cfg.Health.Schedule = "whenever"
	_, err := server.NewApp(context.Background(), cfg, logging.Nop(), nil)
	assert.Error(t, err)
}
