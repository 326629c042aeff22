package retrieval

import (
	"errors"
	"fmt"
	"strings"

	"github.com/HendryAvila/memgraph/internal/memory"
	"github.com/HendryAvila/memgraph/internal/rollout"
)

var (
	// ErrInvalidRequest marks malformed retrieval parameters. Not retryable.
	ErrInvalidRequest = errors.New("retrieval: invalid request")
	// ErrStoreUnavailable marks a storage failure on the baseline path.
	// Callers may retry.
	ErrStoreUnavailable = errors.New("retrieval: store unavailable")
)

// Layer modes.
const (
	ModeAll       = "all"
	ModeWorking   = "working"
	ModeLongTerm  = "long_term"
	ModeRulesOnly = "rules_only"
)

// ModeValues returns the accepted layer modes.
func ModeValues() []string {
	return []string{ModeAll, ModeWorking, ModeLongTerm, ModeRulesOnly}
}

// Request defaults and bounds.
const (
	DefaultLimit      = 8
	DefaultGraphLimit = 8
	DefaultGraphDepth = 1
	MaxLimit          = 50
	MaxGraphDepth     = 2
)

// Request is one retrieval call.
type Request struct {
	Query     string `json:"query"`
	TenantID  string `json:"tenant_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	ProjectID string `json:"project_id,omitempty"`
	// Mode is the memory-layer filter, not the rollout mode.
	Mode     string `json:"mode,omitempty"`
	Strategy string `json:"strategy,omitempty"`
	Limit    int    `json:"limit,omitempty"`
	// GraphDepth nil means the default; 0 disables expansion.
	GraphDepth *int `json:"graph_depth,omitempty"`
	GraphLimit int  `json:"graph_limit,omitempty"`
}

type normalized struct {
	query      string
	filter     memory.Filter
	mode       string
	strategy   rollout.Strategy
	limit      int
	graphDepth int
	graphLimit int
}

func normalize(req Request) (normalized, error) {
	n := normalized{
		query:      strings.TrimSpace(req.Query),
		limit:      clampLimit(req.Limit, DefaultLimit),
		graphLimit: clampLimit(req.GraphLimit, DefaultGraphLimit),
		graphDepth: DefaultGraphDepth,
	}
	if n.query == "" {
		return n, fmt.Errorf("%w: query is required", ErrInvalidRequest)
	}

	strategy, err := rollout.ParseStrategy(req.Strategy)
	if err != nil {
		return n, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	n.strategy = strategy

	if req.GraphDepth != nil {
		n.graphDepth = *req.GraphDepth
	}
	if n.graphDepth < 0 || n.graphDepth > MaxGraphDepth {
		return n, fmt.Errorf("%w: graph_depth must be 0, 1 or 2, got %d", ErrInvalidRequest, n.graphDepth)
	}

	n.mode = strings.TrimSpace(strings.ToLower(req.Mode))
	if n.mode == "" {
		n.mode = ModeAll
	}
	layers, ok := layersFor(n.mode)
	if !ok {
		return n, fmt.Errorf("%w: unknown mode %q (want one of %s)",
			ErrInvalidRequest, req.Mode, strings.Join(ModeValues(), ", "))
	}

	n.filter = memory.Filter{
		TenantID:  strings.TrimSpace(req.TenantID),
		UserID:    strings.TrimSpace(req.UserID),
		ProjectID: strings.TrimSpace(req.ProjectID),
		Layers:    layers,
	}
	return n, nil
}

func layersFor(mode string) ([]string, bool) {
	switch mode {
	case ModeAll:
		return nil, true
	case ModeWorking:
		return []string{memory.LayerWorking}, true
	case ModeLongTerm:
		return []string{memory.LayerLongTerm}, true
	case ModeRulesOnly:
		return []string{memory.LayerRule}, true
	}
	return nil, false
}

func clampLimit(v, def int) int {
	if v <= 0 {
		return def
	}
	if v > MaxLimit {
		return MaxLimit
	}
	return v
}
