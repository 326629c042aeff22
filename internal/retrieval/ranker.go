// Package retrieval answers context requests: a keyword baseline, an
// optional graph expansion run concurrently under a deadline, and the merge
// of both according to the rollout plan.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/HendryAvila/memgraph/internal/graph"
	"github.com/HendryAvila/memgraph/internal/memory"
	"github.com/HendryAvila/memgraph/internal/rollout"
)

// ─── Collaborators ───────────────────────────────────────────────────────────

// MemoryReader is the baseline side. *memory.Store satisfies it.
type MemoryReader interface {
	Search(ctx context.Context, query string, opts memory.SearchOptions) ([]memory.SearchResult, error)
	GetMany(ctx context.Context, ids []int64, f memory.Filter) ([]memory.Memory, error)
	Rules(ctx context.Context, f memory.Filter, limit int) ([]memory.Memory, error)
}

// Expander is the graph side. *graph.Store satisfies it.
type Expander interface {
	Expand(ctx context.Context, req graph.ExpandRequest) (graph.Expansion, error)
}

// Planner resolves the rollout plan. *rollout.Controller satisfies it.
type Planner interface {
	Plan(ctx context.Context, requested rollout.Strategy) (rollout.Mode, rollout.Plan)
}

// EventRecorder receives one metric event per request. *rollout.Recorder
// satisfies it.
type EventRecorder interface {
	Record(ev rollout.Event) bool
}

// Metrics observes retrievals. *metrics.Metrics satisfies it.
type Metrics interface {
	RecordRetrieval(mode, appliedStrategy, fallbackReason string)
	ObserveGraphPath(d time.Duration)
}

// ─── Response ────────────────────────────────────────────────────────────────

// Result sources.
const (
	SourceBaseline = "baseline"
	SourceGraph    = "graph"
)

// Result is one ranked memory.
type Result struct {
	memory.Memory
	Source string `json:"source"`
	// Rank is the full-text rank of a baseline hit (lower is better).
	Rank float64 `json:"rank,omitempty"`
	// Score is the path confidence of a graph hit.
	Score float64 `json:"score,omitempty"`
	Hops  int     `json:"hops,omitempty"`
}

// Trace explains how a response was built.
type Trace struct {
	RequestID          string                 `json:"request_id"`
	RolloutMode        rollout.Mode           `json:"rollout_mode"`
	RequestedStrategy  rollout.Strategy       `json:"requested_strategy"`
	AppliedStrategy    rollout.Strategy       `json:"applied_strategy"`
	ShadowExecuted     bool                   `json:"shadow_executed"`
	LayerMode          string                 `json:"layer_mode"`
	Limit              int                    `json:"limit"`
	GraphDepth         int                    `json:"graph_depth"`
	GraphLimit         int                    `json:"graph_limit"`
	BaselineCandidates int                    `json:"baseline_candidates"`
	GraphCandidates    int                    `json:"graph_candidates"`
	GraphExpandedCount int                    `json:"graph_expanded_count"`
	TotalCandidates    int                    `json:"total_candidates"`
	FallbackTriggered  bool                   `json:"fallback_triggered"`
	FallbackReason     rollout.FallbackReason `json:"fallback_reason,omitempty"`
	BaselineMillis     int64                  `json:"baseline_ms"`
	GraphMillis        int64                  `json:"graph_ms,omitempty"`
}

// Response is the context payload: always-on rules, ranked memories and the
// trace.
type Response struct {
	Rules    []memory.Memory `json:"rules"`
	Memories []Result        `json:"memories"`
	Trace    Trace           `json:"trace"`
}

// ─── Ranker ──────────────────────────────────────────────────────────────────

// Options tunes the graph path.
type Options struct {
	// GraphTimeout bounds the graph sub-operation. Defaults to 250ms.
	GraphTimeout time.Duration
	// SeedLimit is the number of keyword hits the traversal starts from.
	SeedLimit int
	// MinConfidence and MinCandidates form the bar graph candidates must
	// clear before they are blended.
	MinConfidence float64
	MinCandidates int

	Logger   zerolog.Logger
	Recorder EventRecorder
	Metrics  Metrics
	// Errors receives graph-path failures for the status feed.
	Errors *graph.ErrorFeed
	// NewRequestID defaults to uuid.NewString.
	NewRequestID func() string
}

// Ranker runs retrieval requests.
type Ranker struct {
	mem     MemoryReader
	graph   Expander
	planner Planner
	opts    Options
	log     zerolog.Logger
}

// NewRanker creates a ranker. graph may be nil, in which case the graph
// path always falls back with schema_absent.
func NewRanker(mem MemoryReader, g Expander, planner Planner, opts Options) *Ranker {
	if opts.GraphTimeout <= 0 {
		opts.GraphTimeout = 250 * time.Millisecond
	}
	if opts.SeedLimit <= 0 {
		opts.SeedLimit = 5
	}
	if opts.MinCandidates <= 0 {
		opts.MinCandidates = 1
	}
	if opts.NewRequestID == nil {
		opts.NewRequestID = uuid.NewString
	}
	return &Ranker{mem: mem, graph: g, planner: planner, opts: opts, log: opts.Logger}
}

// outcome is what the graph sub-operation hands back: candidates, or the
// reason it produced none.
type outcome struct {
	candidates []Result
	expanded   int
	reason     rollout.FallbackReason
	err        error
	elapsed    time.Duration
}

// Retrieve answers one request. Graph failures never surface: the response
// falls back to baseline and the reason lands in the trace and metrics.
// Validation errors wrap ErrInvalidRequest; storage errors wrap
// ErrStoreUnavailable.
func (r *Ranker) Retrieve(ctx context.Context, req Request) (*Response, error) {
	n, err := normalize(req)
	if err != nil {
		return nil, err
	}

	mode, plan := r.planner.Plan(ctx, n.strategy)
	if n.graphDepth == 0 {
		plan = rollout.Plan{}
	}

	trace := Trace{
		RequestID:         r.opts.NewRequestID(),
		RolloutMode:       mode,
		RequestedStrategy: n.strategy,
		AppliedStrategy:   rollout.StrategyBaseline,
		ShadowExecuted:    plan.Shadow(),
		LayerMode:         n.mode,
		Limit:             n.limit,
		GraphDepth:        n.graphDepth,
		GraphLimit:        n.graphLimit,
	}

	var (
		graphCtx context.Context
		cancel   context.CancelFunc = func() {}
		graphCh  chan outcome
	)
	if plan.RunGraph {
		graphCtx, cancel = context.WithTimeout(ctx, r.opts.GraphTimeout)
		graphCh = make(chan outcome, 1)
		go func() {
			graphCh <- r.runGraph(graphCtx, n)
		}()
	}
	defer cancel()

	start := time.Now()
	hits, err := r.mem.Search(ctx, n.query, memory.SearchOptions{Filter: n.filter, Limit: n.limit})
	trace.BaselineMillis = time.Since(start).Milliseconds()
	if err == nil {
		var rules []memory.Memory
		rules, err = r.mem.Rules(ctx, scopeOnly(n.filter), n.limit)
		if err == nil {
			return r.finish(ctx, n, plan, trace, hits, rules, graphCtx, graphCh), nil
		}
	}

	cancel()
	if ctxErr := ctx.Err(); ctxErr != nil {
		if plan.RunGraph {
			trace.FallbackTriggered = true
			trace.FallbackReason = rollout.ReasonCancelled
		}
		r.record(trace)
		return nil, fmt.Errorf("retrieval: %w", ctxErr)
	}
	return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}

func (r *Ranker) finish(
	ctx context.Context,
	n normalized,
	plan rollout.Plan,
	trace Trace,
	hits []memory.SearchResult,
	rules []memory.Memory,
	graphCtx context.Context,
	graphCh chan outcome,
) *Response {
	results := make([]Result, 0, len(hits))
	seen := make(map[int64]bool, len(hits))
	for _, h := range hits {
		results = append(results, Result{Memory: h.Memory, Source: SourceBaseline, Rank: h.Rank})
		seen[h.ID] = true
	}
	trace.BaselineCandidates = len(results)
	trace.TotalCandidates = len(results)

	if plan.RunGraph {
		out := await(ctx, graphCtx, graphCh)
		if out.elapsed == 0 && out.reason == rollout.ReasonTimeout {
			out.elapsed = r.opts.GraphTimeout
		}
		trace.GraphMillis = out.elapsed.Milliseconds()
		trace.GraphExpandedCount = out.expanded
		if r.opts.Metrics != nil && out.elapsed > 0 {
			r.opts.Metrics.ObserveGraphPath(out.elapsed)
		}

		var fresh []Result
		for _, c := range out.candidates {
			if seen[c.ID] {
				continue
			}
			seen[c.ID] = true
			fresh = append(fresh, c)
			if len(fresh) >= n.graphLimit {
				break
			}
		}
		trace.GraphCandidates = len(fresh)
		trace.TotalCandidates += len(fresh)

		reason := out.reason
		if reason == rollout.ReasonNone {
			reason = r.blendBar(fresh)
		}
		if reason != rollout.ReasonNone {
			trace.FallbackTriggered = true
			trace.FallbackReason = reason
			r.noteFailure(trace, out)
		} else if plan.BlendResult {
			trace.AppliedStrategy = rollout.StrategyHybridGraph
			for _, c := range fresh {
				if len(results) >= n.limit {
					break
				}
				if c.Score >= r.opts.MinConfidence {
					results = append(results, c)
				}
			}
		}
	}

	r.record(trace)
	if rules == nil {
		rules = []memory.Memory{}
	}
	return &Response{Rules: rules, Memories: results, Trace: trace}
}

// blendBar reports why fresh graph candidates would not be blended, or
// ReasonNone when they qualify.
func (r *Ranker) blendBar(fresh []Result) rollout.FallbackReason {
	if len(fresh) == 0 || len(fresh) < r.opts.MinCandidates {
		return rollout.ReasonNoCandidates
	}
	qualified := 0
	for _, c := range fresh {
		if c.Score >= r.opts.MinConfidence {
			qualified++
		}
	}
	if qualified < r.opts.MinCandidates {
		return rollout.ReasonLowConfidence
	}
	return rollout.ReasonNone
}

// await joins the graph sub-operation. A result that is already waiting
// wins over an expired deadline; otherwise it never waits past the graph
// deadline.
func await(parent, graphCtx context.Context, ch <-chan outcome) outcome {
	select {
	case out := <-ch:
		return out
	default:
	}
	select {
	case out := <-ch:
		return out
	case <-graphCtx.Done():
		if parent.Err() != nil {
			return outcome{reason: rollout.ReasonCancelled}
		}
		return outcome{reason: rollout.ReasonTimeout, err: graphCtx.Err()}
	}
}

// runGraph seeds from its own keyword query, expands, and hydrates the
// candidates through the same scope and layer filter as the baseline.
func (r *Ranker) runGraph(ctx context.Context, n normalized) (out outcome) {
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			out = outcome{reason: rollout.ReasonError, err: fmt.Errorf("graph path panic: %v", p)}
		}
		out.elapsed = time.Since(start)
	}()

	if r.graph == nil {
		return outcome{reason: rollout.ReasonSchemaAbsent}
	}

	seeds, err := r.mem.Search(ctx, n.query, memory.SearchOptions{Filter: n.filter, Limit: r.opts.SeedLimit})
	if err != nil {
		return failed(err)
	}
	if len(seeds) == 0 {
		return outcome{reason: rollout.ReasonNoCandidates}
	}
	seedIDs := make([]int64, len(seeds))
	for i, s := range seeds {
		seedIDs[i] = s.ID
	}

	exp, err := r.graph.Expand(ctx, graph.ExpandRequest{
		SeedMemoryIDs: seedIDs,
		Depth:         n.graphDepth,
		// Overfetch: some candidates are dropped by scope filtering and by
		// de-duplication against the baseline.
		Limit: n.graphLimit*2 + n.limit,
	})
	if err != nil {
		return failed(err)
	}
	out.expanded = len(exp.Candidates)
	if len(exp.Candidates) == 0 {
		out.reason = rollout.ReasonNoCandidates
		return out
	}

	ids := make([]int64, len(exp.Candidates))
	byID := make(map[int64]graph.Candidate, len(exp.Candidates))
	for i, c := range exp.Candidates {
		ids[i] = c.MemoryID
		byID[c.MemoryID] = c
	}
	mems, err := r.mem.GetMany(ctx, ids, n.filter)
	if err != nil {
		return failed(err)
	}
	for _, m := range mems {
		c := byID[m.ID]
		out.candidates = append(out.candidates, Result{Memory: m, Source: SourceGraph, Score: c.Score, Hops: c.Hops})
	}
	return out
}

func failed(err error) outcome {
	switch {
	case errors.Is(err, graph.ErrSchemaAbsent):
		return outcome{reason: rollout.ReasonSchemaAbsent}
	case errors.Is(err, context.DeadlineExceeded):
		return outcome{reason: rollout.ReasonTimeout, err: err}
	case errors.Is(err, context.Canceled):
		return outcome{reason: rollout.ReasonCancelled}
	default:
		return outcome{reason: rollout.ReasonError, err: err}
	}
}

func (r *Ranker) noteFailure(trace Trace, out outcome) {
	ev := r.log.Debug()
	if out.err != nil {
		ev = r.log.Warn().Err(out.err)
		if r.opts.Errors != nil {
			r.opts.Errors.Add(graph.ErrorEntry{
				Source:  "graph_path",
				Message: fmt.Sprintf("%s: %v", trace.FallbackReason, out.err),
			})
		}
	}
	ev.Str("request_id", trace.RequestID).
		Str("rollout_mode", string(trace.RolloutMode)).
		Str("reason", string(trace.FallbackReason)).
		Msg("graph path fell back to baseline")
}

func (r *Ranker) record(trace Trace) {
	if r.opts.Metrics != nil {
		r.opts.Metrics.RecordRetrieval(string(trace.RolloutMode), string(trace.AppliedStrategy), string(trace.FallbackReason))
	}
	if r.opts.Recorder == nil {
		return
	}
	r.opts.Recorder.Record(rollout.Event{
		RequestID:          trace.RequestID,
		Mode:               trace.RolloutMode,
		RequestedStrategy:  trace.RequestedStrategy,
		AppliedStrategy:    trace.AppliedStrategy,
		ShadowExecuted:     trace.ShadowExecuted,
		BaselineCandidates: trace.BaselineCandidates,
		GraphCandidates:    trace.GraphCandidates,
		GraphExpandedCount: trace.GraphExpandedCount,
		TotalCandidates:    trace.TotalCandidates,
		FallbackTriggered:  trace.FallbackTriggered,
		FallbackReason:     trace.FallbackReason,
	})
}

func scopeOnly(f memory.Filter) memory.Filter {
	return memory.Filter{TenantID: f.TenantID, UserID: f.UserID, ProjectID: f.ProjectID}
}
