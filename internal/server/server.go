// Package server wires memgraph's components and creates the MCP server.
//
// This is the composition root: it creates concrete implementations and
// injects them into the tools and resources that depend on them. No business
// logic lives here, only wiring.
package server

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/HendryAvila/memgraph/internal/config"
	"github.com/HendryAvila/memgraph/internal/graph"
	"github.com/HendryAvila/memgraph/internal/health"
	"github.com/HendryAvila/memgraph/internal/logging"
	"github.com/HendryAvila/memgraph/internal/memory"
	"github.com/HendryAvila/memgraph/internal/memtools"
	"github.com/HendryAvila/memgraph/internal/metrics"
	"github.com/HendryAvila/memgraph/internal/resources"
	"github.com/HendryAvila/memgraph/internal/retrieval"
	"github.com/HendryAvila/memgraph/internal/rollout"
)

// Version is set at build time via ldflags.
var Version = "dev"

// App holds every wired component. The CLI uses it directly; serve exposes
// it over MCP.
type App struct {
	Config     *config.Config
	Memory     *memory.Store
	Graph      *graph.Store
	Sync       *graph.Synchronizer
	Controller *rollout.Controller
	Recorder   *rollout.Recorder
	Ranker     *retrieval.Ranker
	Metrics    *metrics.Metrics
	// Monitor is nil when health.schedule is empty.
	Monitor *health.Monitor

	log zerolog.Logger
}

// Logger returns the application logger.
func (a *App) Logger() zerolog.Logger {
	return a.log
}

// NewApp opens the workspace database and wires the engine. m may be nil.
// The caller must Close the App.
func NewApp(ctx context.Context, cfg *config.Config, log *logging.Logger, m *metrics.Metrics) (*App, error) {
	db, err := memory.Open(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	mem, err := memory.NewWithDB(db, memory.Config{
		DataDir:          cfg.DataDir,
		MaxContentLength: cfg.Memory.MaxContentLength,
		MaxSearchResults: cfg.Memory.MaxSearchResults,
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	// Graph failures never take memory down: a missing schema reads as
	// empty and writes are skipped until backfill runs.
	g, err := graph.NewStore(ctx, db, graph.Options{
		Logger:        log.Component("graph"),
		AutoMigrate:   cfg.Graph.AutoMigrate,
		SchemaRecheck: cfg.Graph.SchemaRecheck,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("graph store: %w", err)
	}

	sy := graph.NewSynchronizer(g, graph.SyncOptions{
		Extractor: graph.FieldExtractor{MaxNodes: cfg.Graph.MaxNodesPerMemory},
		Logger:    log.Component("sync"),
		Metrics:   m,
		Async:     cfg.Graph.AsyncSync,
	})
	mem.SetObserver(sy)

	controller, err := rollout.NewController(g, rollout.ControllerOptions{
		CacheTTL: cfg.Rollout.CacheTTL,
		Logger:   log.Component("rollout"),
	})
	if err != nil {
		sy.Close()
		_ = db.Close()
		return nil, err
	}

	recorder := rollout.NewRecorder(g, rollout.RecorderOptions{
		Buffer:  cfg.Rollout.RecorderBuffer,
		Logger:  log.Component("recorder"),
		Dropped: m,
	})

	ranker := retrieval.NewRanker(mem, g, controller, retrieval.Options{
		GraphTimeout:  cfg.Graph.Timeout,
		SeedLimit:     cfg.Graph.SeedLimit,
		MinConfidence: cfg.Graph.MinConfidence,
		MinCandidates: cfg.Graph.MinCandidates,
		Logger:        log.Component("retrieval"),
		Recorder:      recorder,
		Metrics:       m,
		Errors:        g.Errors(),
	})

	app := &App{
		Config:     cfg,
		Memory:     mem,
		Graph:      g,
		Sync:       sy,
		Controller: controller,
		Recorder:   recorder,
		Ranker:     ranker,
		Metrics:    m,
		log:        log.Logger,
	}

	if cfg.Health.Schedule != "" {
		mon, err := health.NewMonitor(g, health.Options{
			Schedule:         cfg.Health.Schedule,
			WarnFallbackRate: cfg.Health.WarnFallbackRate,
			Logger:           log.Component("health"),
		})
		if err != nil {
			app.Close()
			return nil, err
		}
		app.Monitor = mon
	}
	return app, nil
}

// Close stops background work in dependency order and closes the database.
func (a *App) Close() {
	if a.Monitor != nil {
		a.Monitor.Stop()
	}
	a.Sync.Close()
	a.Recorder.Close()
	a.Controller.Close()
	if err := a.Memory.Close(); err != nil {
		a.log.Warn().Err(err).Msg("memory store close")
	}
}

// NewMCPServer creates the MCP server with all tools and resources
// registered against app.
func NewMCPServer(app *App) *server.MCPServer {
	s := server.NewMCPServer(
		"memgraph",
		Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithRecovery(),
		server.WithInstructions(serverInstructions()),
	)

	registerMemoryTools(s, app)
	registerGraphTools(s, app)

	res := resources.NewHandler(app.Graph)
	s.AddResource(res.StatusResource(), res.HandleStatus)
	s.AddResource(res.RolloutResource(), res.HandleRollout)

	return s
}

// registerMemoryTools registers the memory CRUD and retrieval tools.
func registerMemoryTools(s *server.MCPServer, app *App) {
	// --- Save & manage ---
	saveTool := memtools.NewSaveTool(app.Memory)
	s.AddTool(saveTool.Definition(), saveTool.Handle)

	updateTool := memtools.NewUpdateTool(app.Memory)
	s.AddTool(updateTool.Definition(), updateTool.Handle)

	deleteTool := memtools.NewDeleteTool(app.Memory)
	s.AddTool(deleteTool.Definition(), deleteTool.Handle)

	copyTool := memtools.NewCopyTool(app.Memory)
	s.AddTool(copyTool.Definition(), copyTool.Handle)

	getTool := memtools.NewGetTool(app.Memory)
	s.AddTool(getTool.Definition(), getTool.Handle)

	// --- Query & retrieval ---
	searchTool := memtools.NewSearchTool(app.Memory)
	s.AddTool(searchTool.Definition(), searchTool.Handle)

	contextTool := memtools.NewContextTool(app.Ranker)
	s.AddTool(contextTool.Definition(), contextTool.Handle)

	statsTool := memtools.NewStatsTool(app.Memory)
	s.AddTool(statsTool.Definition(), statsTool.Handle)
}

// registerGraphTools registers the graph inspection and rollout tools.
func registerGraphTools(s *server.MCPServer, app *App) {
	statusTool := memtools.NewStatusTool(app.Graph)
	s.AddTool(statusTool.Definition(), statusTool.Handle)

	exploreTool := memtools.NewExploreTool(app.Graph, app.Memory)
	s.AddTool(exploreTool.Definition(), exploreTool.Handle)

	rolloutTool := memtools.NewRolloutTool(app.Controller, app.Graph)
	s.AddTool(rolloutTool.Definition(), rolloutTool.Handle)

	backfillTool := memtools.NewBackfillTool(app.Sync, app.Memory)
	s.AddTool(backfillTool.Definition(), backfillTool.Handle)
}

// serverInstructions returns the system instructions that tell the AI how to
// use memgraph.
func serverInstructions() string {
	return `You have access to memgraph, a persistent memory server with a derived knowledge graph.

## Saving
Call mem_save PROACTIVELY when you learn a rule, make a decision, or discover a fact
worth keeping. Tag memories and mention file paths explicitly: tags, categories,
topics and file paths become graph nodes that connect related memories.

## Retrieving
Call mem_context at the start of a task with a short description of what you are
doing. It returns always-on rules plus ranked memories. Pass strategy=hybrid_graph
to ask for graph expansion; whether graph results are used depends on the rollout
mode, and the trace tells you what happened. Use mem_search for plain keyword lookup
and mem_get for full content.

## Graph rollout
The graph path is gated by a workspace-wide mode:
- off: baseline keyword retrieval only
- shadow: the graph path runs and is measured, results are not returned
- canary: graph results are appended after baseline results
Use graph_status to check health and the 24h fallback rate before moving from
shadow to canary. graph_rollout changes the mode; graph_backfill installs the
graph schema and projects existing memories.
`
}
