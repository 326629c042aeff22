// Package health periodically snapshots graph status into the log.
//
// The monitor only observes. It never changes the rollout mode; operators
// read the snapshots and decide.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/HendryAvila/memgraph/internal/graph"
)

// StatusSource produces the graph status snapshot.
type StatusSource interface {
	Status(ctx context.Context, topN int) (graph.Status, error)
}

// Options configures a Monitor.
type Options struct {
	// Schedule is a cron spec, e.g. "@every 15m" or "0 * * * *".
	Schedule string
	// WarnFallbackRate escalates the snapshot to Warn when the 24h fallback
	// rate exceeds it. Zero means 0.5.
	WarnFallbackRate float64
	// Timeout bounds a single snapshot. Zero means 10s.
	Timeout time.Duration
	Logger  zerolog.Logger
}

// Monitor runs Check on a cron schedule.
type Monitor struct {
	src     StatusSource
	opts    Options
	log     zerolog.Logger
	cron    *cron.Cron
	mu      sync.Mutex
	last    *graph.Status
	started bool
}

// NewMonitor validates the schedule and returns a stopped monitor.
func NewMonitor(src StatusSource, opts Options) (*Monitor, error) {
	if opts.WarnFallbackRate <= 0 {
		opts.WarnFallbackRate = 0.5
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	m := &Monitor{
		src:  src,
		opts: opts,
		log:  opts.Logger.With().Str("component", "health").Logger(),
		cron: cron.New(),
	}
	if _, err := m.cron.AddFunc(opts.Schedule, m.tick); err != nil {
		return nil, fmt.Errorf("health: schedule %q: %w", opts.Schedule, err)
	}
	return m, nil
}

// Start begins the schedule. Calling it twice is a no-op.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true
	m.cron.Start()
	m.log.Info().Str("schedule", m.opts.Schedule).Msg("health monitor started")
}

// Stop halts the schedule and waits for a running snapshot to finish.
func (m *Monitor) Stop() {
	m.mu.Lock()
	started := m.started
	m.started = false
	m.mu.Unlock()
	if !started {
		return
	}
	<-m.cron.Stop().Done()
}

// Last returns the most recent snapshot, or nil before the first one.
func (m *Monitor) Last() *graph.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

func (m *Monitor) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.Timeout)
	defer cancel()
	_, _ = m.Check(ctx)
}

// Check takes one snapshot and logs it. A schema-absent graph logs at Debug.
func (m *Monitor) Check(ctx context.Context) (graph.Status, error) {
	st, err := m.src.Status(ctx, 3)
	if err != nil {
		m.log.Error().Err(err).Msg("graph status snapshot failed")
		return graph.Status{}, err
	}

	m.mu.Lock()
	m.last = &st
	m.mu.Unlock()

	if !st.SchemaPresent {
		m.log.Debug().Msg("graph schema absent")
		return st, nil
	}

	ev := m.log.Info()
	if st.FallbackRate24h > m.opts.WarnFallbackRate || st.Degraded > 0 {
		ev = m.log.Warn()
	}
	ev.Str("mode", string(st.Mode)).
		Int("nodes", st.Counts.Nodes).
		Int("edges", st.Counts.Edges).
		Int("active_edges", st.Counts.ActiveEdges).
		Int("expired_edges", st.Counts.ExpiredEdges).
		Int("orphan_nodes", st.Counts.OrphanNodes).
		Int("memory_links", st.Counts.MemoryLinks).
		Int("events_24h", st.Events24h).
		Float64("fallback_rate_24h", st.FallbackRate24h).
		Int64("degraded", st.Degraded).
		Msg("graph health")
	return st, nil
}
