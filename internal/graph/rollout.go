package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/HendryAvila/memgraph/internal/rollout"
)

// ─── Rollout config ──────────────────────────────────────────────────────────

// LoadRolloutConfig reads the singleton row. A missing row or absent schema
// reads as mode off.
func (s *Store) LoadRolloutConfig(ctx context.Context) (rollout.Config, error) {
	off := rollout.Config{Mode: rollout.ModeOff}
	present, err := s.SchemaPresent(ctx)
	if err != nil {
		return off, err
	}
	if !present {
		return off, nil
	}

	rows, err := s.queryHook(ctx, s.db,
		`SELECT mode, updated_at, updated_by FROM graph_rollout_config WHERE id = 1`,
	)
	if err != nil {
		return off, fmt.Errorf("graph: load rollout config: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return off, rows.Err()
	}
	var cfg rollout.Config
	var mode string
	if err := rows.Scan(&mode, &cfg.UpdatedAt, &cfg.UpdatedBy); err != nil {
		return off, fmt.Errorf("graph: load rollout config: %w", err)
	}
	cfg.Mode = rollout.Mode(mode)
	return cfg, nil
}

// SaveRolloutConfig overwrites the singleton row. Concurrent saves are last
// write wins.
func (s *Store) SaveRolloutConfig(ctx context.Context, mode rollout.Mode, updatedBy string) (rollout.Config, error) {
	present, err := s.SchemaPresent(ctx)
	if err != nil {
		return rollout.Config{}, err
	}
	if !present {
		return rollout.Config{}, ErrSchemaAbsent
	}

	ts := now()
	if _, err := s.execHook(ctx, s.db,
		`INSERT INTO graph_rollout_config (id, mode, updated_at, updated_by)
		 VALUES (1, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			mode       = excluded.mode,
			updated_at = excluded.updated_at,
			updated_by = excluded.updated_by`,
		string(mode), ts, updatedBy,
	); err != nil {
		return rollout.Config{}, fmt.Errorf("graph: save rollout config: %w", err)
	}
	return rollout.Config{Mode: mode, UpdatedAt: ts, UpdatedBy: updatedBy}, nil
}

// ─── Rollout metrics ─────────────────────────────────────────────────────────

// AppendRolloutEvent inserts one metric row. Rows are never updated.
func (s *Store) AppendRolloutEvent(ctx context.Context, ev rollout.Event) error {
	if !s.ready(ctx) {
		return fmt.Errorf("%w: %w", rollout.ErrSinkUnavailable, ErrSchemaAbsent)
	}
	createdAt := ev.CreatedAt
	if createdAt == "" {
		createdAt = now()
	}
	var reason any
	if ev.FallbackReason != rollout.ReasonNone {
		reason = string(ev.FallbackReason)
	}

	if _, err := s.execHook(ctx, s.db,
		`INSERT INTO graph_rollout_metrics (
			request_id, created_at, mode, requested_strategy, applied_strategy,
			shadow_executed, baseline_candidates, graph_candidates,
			graph_expanded_count, total_candidates, fallback_triggered, fallback_reason
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.RequestID, createdAt, string(ev.Mode),
		string(ev.RequestedStrategy), string(ev.AppliedStrategy),
		boolInt(ev.ShadowExecuted), ev.BaselineCandidates, ev.GraphCandidates,
		ev.GraphExpandedCount, ev.TotalCandidates, boolInt(ev.FallbackTriggered), reason,
	); err != nil {
		return fmt.Errorf("graph: append rollout event: %w", err)
	}
	return nil
}

// RecentRolloutEvents returns the newest metric rows, newest first.
func (s *Store) RecentRolloutEvents(ctx context.Context, limit int) ([]rollout.Event, error) {
	if !s.ready(ctx) {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.queryHook(ctx, s.db,
		`SELECT id, request_id, created_at, mode, requested_strategy, applied_strategy,
			shadow_executed, baseline_candidates, graph_candidates, graph_expanded_count,
			total_candidates, fallback_triggered, COALESCE(fallback_reason, '')
		 FROM graph_rollout_metrics ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("graph: recent rollout events: %w", err)
	}
	defer rows.Close()

	var events []rollout.Event
	for rows.Next() {
		var ev rollout.Event
		var mode, requested, applied, reason string
		var shadow, fallback int
		if err := rows.Scan(&ev.ID, &ev.RequestID, &ev.CreatedAt, &mode, &requested, &applied,
			&shadow, &ev.BaselineCandidates, &ev.GraphCandidates, &ev.GraphExpandedCount,
			&ev.TotalCandidates, &fallback, &reason); err != nil {
			return nil, fmt.Errorf("graph: recent rollout events: %w", err)
		}
		ev.Mode = rollout.Mode(mode)
		ev.RequestedStrategy = rollout.Strategy(requested)
		ev.AppliedStrategy = rollout.Strategy(applied)
		ev.ShadowExecuted = shadow != 0
		ev.FallbackTriggered = fallback != 0
		ev.FallbackReason = rollout.FallbackReason(reason)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// FallbackRate is the share of metric events since the given time that
// triggered a fallback. With no events the rate is 0.
type FallbackRate struct {
	Events    int     `json:"events"`
	Fallbacks int     `json:"fallbacks"`
	Rate      float64 `json:"rate"`
}

// FallbackRateSince computes the fallback rate over events created at or
// after since.
func (s *Store) FallbackRateSince(ctx context.Context, since time.Time) (FallbackRate, error) {
	var fr FallbackRate
	if !s.ready(ctx) {
		return fr, nil
	}
	rows, err := s.queryHook(ctx, s.db,
		`SELECT COUNT(*), COALESCE(SUM(fallback_triggered), 0)
		 FROM graph_rollout_metrics WHERE created_at >= ?`, formatTime(since),
	)
	if err != nil {
		return fr, fmt.Errorf("graph: fallback rate: %w", err)
	}
	defer rows.Close()

	if rows.Next() {
		if err := rows.Scan(&fr.Events, &fr.Fallbacks); err != nil {
			return fr, fmt.Errorf("graph: fallback rate: %w", err)
		}
	}
	if fr.Events > 0 {
		fr.Rate = float64(fr.Fallbacks) / float64(fr.Events)
	}
	return fr, rows.Err()
}

// FallbackRate24h is FallbackRateSince over the trailing 24 hours.
func (s *Store) FallbackRate24h(ctx context.Context) (FallbackRate, error) {
	return s.FallbackRateSince(ctx, timeNow().Add(-24*time.Hour))
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
