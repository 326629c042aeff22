// Package rollout owns the graph rollout mode and decides, per retrieval
// request, whether the graph-expansion path runs and whether its output may
// reach the response.
//
// The mode is a singleton persisted by a ConfigStore. It only changes
// through SetMode; nothing in this package promotes or demotes it.
package rollout

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidMode is returned when a mode string is not off, shadow or canary.
var ErrInvalidMode = errors.New("rollout: invalid mode")

// ErrInvalidStrategy is returned for an unknown requested strategy.
var ErrInvalidStrategy = errors.New("rollout: invalid strategy")

// Mode is the global rollout switch.
type Mode string

const (
	// ModeOff never executes the graph path.
	ModeOff Mode = "off"
	// ModeShadow executes the graph path for measurement only.
	ModeShadow Mode = "shadow"
	// ModeCanary blends graph candidates into the response when they qualify.
	ModeCanary Mode = "canary"
)

// ModeValues returns the accepted modes, for MCP enum definitions.
func ModeValues() []string {
	return []string{string(ModeOff), string(ModeShadow), string(ModeCanary)}
}

// ParseMode validates a mode string. Unknown values are an error, never
// silently mapped to a default.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.TrimSpace(strings.ToLower(s))); m {
	case ModeOff, ModeShadow, ModeCanary:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q (want one of %s)", ErrInvalidMode, s, strings.Join(ModeValues(), ", "))
}

// Strategy is a retrieval strategy, requested by the caller or applied.
type Strategy string

const (
	StrategyBaseline    Strategy = "baseline"
	StrategyHybridGraph Strategy = "hybrid_graph"
)

// StrategyValues returns the accepted strategies.
func StrategyValues() []string {
	return []string{string(StrategyBaseline), string(StrategyHybridGraph)}
}

// ParseStrategy validates a requested strategy; empty means baseline.
func ParseStrategy(s string) (Strategy, error) {
	switch v := Strategy(strings.TrimSpace(strings.ToLower(s))); v {
	case "":
		return StrategyBaseline, nil
	case StrategyBaseline, StrategyHybridGraph:
		return v, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStrategy, s)
}

// FallbackReason enumerates why a request fell back to baseline.
type FallbackReason string

const (
	ReasonNone          FallbackReason = ""
	ReasonTimeout       FallbackReason = "timeout"
	ReasonCancelled     FallbackReason = "cancelled"
	ReasonError         FallbackReason = "error"
	ReasonNoCandidates  FallbackReason = "no_candidates"
	ReasonLowConfidence FallbackReason = "low_confidence"
	ReasonSchemaAbsent  FallbackReason = "schema_absent"
)

// Config is the persisted singleton rollout row.
type Config struct {
	Mode      Mode   `json:"mode"`
	UpdatedAt string `json:"updated_at,omitempty"`
	UpdatedBy string `json:"updated_by,omitempty"`
}

// Event is one append-only metric row describing a retrieval request.
type Event struct {
	ID                 int64          `json:"id,omitempty"`
	RequestID          string         `json:"request_id"`
	CreatedAt          string         `json:"created_at,omitempty"`
	Mode               Mode           `json:"mode"`
	RequestedStrategy  Strategy       `json:"requested_strategy"`
	AppliedStrategy    Strategy       `json:"applied_strategy"`
	ShadowExecuted     bool           `json:"shadow_executed"`
	BaselineCandidates int            `json:"baseline_candidates"`
	GraphCandidates    int            `json:"graph_candidates"`
	GraphExpandedCount int            `json:"graph_expanded_count"`
	TotalCandidates    int            `json:"total_candidates"`
	FallbackTriggered  bool           `json:"fallback_triggered"`
	FallbackReason     FallbackReason `json:"fallback_reason,omitempty"`
}

// ConfigStore persists the singleton rollout configuration.
type ConfigStore interface {
	LoadRolloutConfig(ctx context.Context) (Config, error)
	SaveRolloutConfig(ctx context.Context, mode Mode, updatedBy string) (Config, error)
}

// EventSink appends metric events.
type EventSink interface {
	AppendRolloutEvent(ctx context.Context, ev Event) error
}
