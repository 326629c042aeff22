package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/HendryAvila/memgraph/internal/graph"
	"github.com/HendryAvila/memgraph/internal/retrieval"
	"github.com/HendryAvila/memgraph/internal/server"
)

func newStatusCmd() *cobra.Command {
	var top int
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print knowledge graph status as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, nil, func(ctx context.Context, app *server.App) error {
				st, err := app.Graph.Status(ctx, top)
				if err != nil {
					return err
				}
				return printJSON(cmd, st)
			})
		},
	}
	cmd.Flags().IntVar(&top, "top", graph.DefaultTopNodes, "number of top connected nodes")
	return cmd
}

func newExploreCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "explore [node_type node_key]",
		Short: "List top nodes, or show one node's edges and linked memories",
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) != 0 && len(args) != 2 {
				return fmt.Errorf("expected no arguments or node_type and node_key, got %d", len(args))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			req := graph.ExploreRequest{Limit: limit}
			if len(args) == 2 {
				req.NodeType, req.NodeKey = args[0], args[1]
			}
			return withApp(cmd, nil, func(ctx context.Context, app *server.App) error {
				res, err := app.Graph.Explore(ctx, req)
				if err != nil {
					return err
				}
				return printJSON(cmd, res)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "max rows per section")
	return cmd
}

func newRolloutCmd() *cobra.Command {
	rollout := &cobra.Command{
		Use:   "rollout",
		Short: "Read or change the graph rollout mode",
	}

	get := &cobra.Command{
		Use:   "get",
		Short: "Print the current rollout mode",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, nil, func(ctx context.Context, app *server.App) error {
				cfg, err := app.Controller.Config(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, cfg)
			})
		},
	}

	var by string
	set := &cobra.Command{
		Use:       "set off|shadow|canary",
		Short:     "Change the rollout mode",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"off", "shadow", "canary"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, nil, func(ctx context.Context, app *server.App) error {
				cfg, err := app.Controller.SetMode(ctx, args[0], by)
				if err != nil {
					return err
				}
				return printJSON(cmd, cfg)
			})
		},
	}
	set.Flags().StringVar(&by, "by", "cli", "who is changing the mode")

	rollout.AddCommand(get, set)
	return rollout
}

func newContextCmd() *cobra.Command {
	var (
		req   retrieval.Request
		depth int
	)
	cmd := &cobra.Command{
		Use:   "context QUERY...",
		Short: "Run a retrieval request and print the response with its trace",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Query = strings.Join(args, " ")
			if cmd.Flags().Changed("graph-depth") {
				req.GraphDepth = &depth
			}
			return withApp(cmd, nil, func(ctx context.Context, app *server.App) error {
				resp, err := app.Ranker.Retrieve(ctx, req)
				if err != nil {
					return err
				}
				return printJSON(cmd, resp)
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&req.TenantID, "tenant", "", "tenant scope")
	f.StringVar(&req.UserID, "user", "", "user scope")
	f.StringVar(&req.ProjectID, "project", "", "project scope")
	f.StringVar(&req.Mode, "mode", "", "layer filter: all, working, long_term or rules_only")
	f.StringVar(&req.Strategy, "strategy", "", "baseline or hybrid_graph")
	f.IntVar(&req.Limit, "limit", 0, "max memories")
	f.IntVar(&depth, "graph-depth", 1, "traversal depth 0-2")
	f.IntVar(&req.GraphLimit, "graph-limit", 0, "max graph candidates")
	return cmd
}

func newBackfillCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backfill",
		Short: "Install the graph schema and project every live memory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, nil, func(ctx context.Context, app *server.App) error {
				res, err := app.Sync.Backfill(ctx, app.Memory)
				if err != nil {
					return err
				}
				return printJSON(cmd, res)
			})
		},
	}
}
