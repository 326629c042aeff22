// memgraph: persistent agent memory with a derived knowledge graph.
//
// An MCP server that stores agent memories in SQLite, projects them into a
// tag/category/topic/file graph, and serves hybrid keyword + graph retrieval
// behind an off/shadow/canary rollout switch.
//
// Usage:
//
//	memgraph serve                 # Start MCP server (stdio transport)
//	memgraph status                # Print graph status as JSON
//	memgraph rollout set canary    # Change the rollout mode
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/HendryAvila/memgraph/internal/config"
	"github.com/HendryAvila/memgraph/internal/logging"
	"github.com/HendryAvila/memgraph/internal/metrics"
	"github.com/HendryAvila/memgraph/internal/server"
)

var (
	cfgFile     string
	dataDir     string
	logLevel    string
	metricsAddr string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "memgraph",
		Short:         "Persistent agent memory with a derived knowledge graph",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $DATA_DIR/config.yaml)")
	root.PersistentFlags().StringVar(&dataDir, "data-dir", "", "workspace directory (default is ~/.memgraph)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server (stdio transport)",
		RunE:  runServe,
	}
	serve.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9464")

	version := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "memgraph v%s\n", server.Version)
		},
	}

	root.AddCommand(serve, version, newStatusCmd(), newExploreCmd(), newRolloutCmd(), newContextCmd(), newBackfillCmd())
	return root
}

// loadConfig applies flag overrides on top of file and environment settings.
func loadConfig() (*config.Config, error) {
	if dataDir != "" {
		if err := os.Setenv("MEMGRAPH_DATA_DIR", dataDir); err != nil {
			return nil, err
		}
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if metricsAddr != "" {
		cfg.Metrics.Addr = metricsAddr
	}
	return cfg, nil
}

// withApp builds the engine, runs fn and tears everything down.
func withApp(cmd *cobra.Command, m *metrics.Metrics, fn func(ctx context.Context, app *server.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := logging.New(logging.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty, File: cfg.Log.File})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Close() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := server.NewApp(ctx, cfg, logger, m)
	if err != nil {
		return fmt.Errorf("creating app: %w", err)
	}
	defer app.Close()

	return fn(ctx, app)
}

func runServe(cmd *cobra.Command, _ []string) error {
	m := metrics.NewMetrics()
	return withApp(cmd, m, func(ctx context.Context, app *server.App) error {
		if app.Monitor != nil {
			app.Monitor.Start()
		}

		if addr := app.Config.Metrics.Addr; addr != "" {
			srv := &http.Server{Addr: addr, Handler: metricsMux(m), ReadHeaderTimeout: 5 * time.Second}
			go serveMetrics(srv, app.Logger())
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()
		}

		return mcpserver.ServeStdio(server.NewMCPServer(app))
	})
}

// serveMetrics runs srv until it is shut down. Listener failures are logged.
func serveMetrics(srv *http.Server, log zerolog.Logger) {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Str("addr", srv.Addr).Msg("metrics listener")
	}
}

func metricsMux(m *metrics.Metrics) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return mux
}

// printJSON writes v to the command's stdout.
func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
