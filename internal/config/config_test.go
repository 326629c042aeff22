package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HendryAvila/memgraph/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("MEMGRAPH_DATA_DIR", t.TempDir())

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 4000, cfg.Memory.MaxContentLength)
	assert.Equal(t, 250*time.Millisecond, cfg.Graph.Timeout)
	assert.Equal(t, 24, cfg.Graph.MaxNodesPerMemory)
	assert.Equal(t, 1, cfg.Graph.MinCandidates)
	assert.Equal(t, 5, cfg.Graph.SeedLimit)
	assert.Equal(t, 30*time.Second, cfg.Graph.SchemaRecheck)
	assert.True(t, cfg.Graph.AutoMigrate)
	assert.Equal(t, 5*time.Second, cfg.Rollout.CacheTTL)
	assert.Equal(t, 256, cfg.Rollout.RecorderBuffer)
	assert.Equal(t, "@every 15m", cfg.Health.Schedule)
	assert.Empty(t, cfg.Metrics.Addr)
}

func TestLoad_FileAndEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "memgraph.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
data_dir: `+dir+`
log:
  level: debug
graph:
  timeout: 80ms
  min_confidence: 0.4
rollout:
  cache_ttl: 1s
`), 0o600))

	t.Setenv("MEMGRAPH_GRAPH_SEED_LIMIT", "9")
	t.Setenv("MEMGRAPH_LOG_LEVEL", "warn")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.DataDir)
	assert.Equal(t, "warn", cfg.Log.Level, "env overrides file")
	assert.Equal(t, 80*time.Millisecond, cfg.Graph.Timeout)
	assert.InDelta(t, 0.4, cfg.Graph.MinConfidence, 1e-9)
	assert.Equal(t, 9, cfg.Graph.SeedLimit)
	assert.Equal(t, time.Second, cfg.Rollout.CacheTTL)
}

func TestLoad_ConfigInDataDir(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("MEMGRAPH_DATA_DIR", dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("metrics:\n  addr: \":9464\"\n"), 0o600))

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, ":9464", cfg.Metrics.Addr)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Setenv("MEMGRAPH_DATA_DIR", t.TempDir())
	cfg, err := config.Load("")
	require.NoError(t, err)

	cfg.Graph.Timeout = 0
	cfg.Graph.MinConfidence = 1.5
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "graph.timeout")
	assert.Contains(t, err.Error(), "graph.min_confidence")
}
