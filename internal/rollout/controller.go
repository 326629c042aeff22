package rollout

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/rs/zerolog"
)

const modeCacheKey = "rollout:mode"

// Controller reads and changes the rollout mode. Reads go through a short
// TTL cache so retrieval does not hit storage per request; SetMode
// invalidates it.
type Controller struct {
	store ConfigStore
	cache *ristretto.Cache
	ttl   time.Duration
	log   zerolog.Logger
}

// ControllerOptions configures a Controller.
type ControllerOptions struct {
	// CacheTTL bounds how stale a cached mode may be. Zero disables caching.
	CacheTTL time.Duration
	Logger   zerolog.Logger
}

// NewController creates a controller over store.
func NewController(store ConfigStore, opts ControllerOptions) (*Controller, error) {
	c := &Controller{store: store, ttl: opts.CacheTTL, log: opts.Logger}
	if opts.CacheTTL > 0 {
		cache, err := ristretto.NewCache(&ristretto.Config{
			NumCounters: 1000,
			MaxCost:     1 << 20,
			BufferItems: 64,
		})
		if err != nil {
			return nil, fmt.Errorf("rollout: create mode cache: %w", err)
		}
		c.cache = cache
	}
	return c, nil
}

// Mode returns the current mode. A storage failure reads as off so the
// graph path stays disabled; the error is returned for logging.
func (c *Controller) Mode(ctx context.Context) (Mode, error) {
	if c.cache != nil {
		if v, ok := c.cache.Get(modeCacheKey); ok {
			if m, ok := v.(Mode); ok {
				return m, nil
			}
		}
	}

	cfg, err := c.store.LoadRolloutConfig(ctx)
	if err != nil {
		return ModeOff, fmt.Errorf("rollout: load mode: %w", err)
	}
	mode, err := ParseMode(string(cfg.Mode))
	if err != nil {
		c.log.Warn().Str("stored_mode", string(cfg.Mode)).Msg("unknown stored rollout mode, treating as off")
		mode = ModeOff
	}

	if c.cache != nil {
		c.cache.SetWithTTL(modeCacheKey, mode, 1, c.ttl)
	}
	return mode, nil
}

// Plan resolves the current mode and the plan for a requested strategy.
func (c *Controller) Plan(ctx context.Context, requested Strategy) (Mode, Plan) {
	mode, err := c.Mode(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("rollout mode unavailable, graph path disabled")
	}
	return mode, Decide(requested, mode)
}

// Config returns the persisted configuration, bypassing the cache.
func (c *Controller) Config(ctx context.Context) (Config, error) {
	cfg, err := c.store.LoadRolloutConfig(ctx)
	if err != nil {
		return Config{}, fmt.Errorf("rollout: load config: %w", err)
	}
	return cfg, nil
}

// SetMode validates and persists a new mode. Concurrent calls are last
// write wins.
func (c *Controller) SetMode(ctx context.Context, raw, updatedBy string) (Config, error) {
	mode, err := ParseMode(raw)
	if err != nil {
		return Config{}, err
	}
	updatedBy = strings.TrimSpace(updatedBy)
	if updatedBy == "" {
		updatedBy = "unknown"
	}

	cfg, err := c.store.SaveRolloutConfig(ctx, mode, updatedBy)
	if err != nil {
		return Config{}, fmt.Errorf("rollout: save mode: %w", err)
	}
	c.Invalidate()

	c.log.Info().
		Str("mode", string(cfg.Mode)).
		Str("updated_by", cfg.UpdatedBy).
		Msg("rollout mode changed")
	return cfg, nil
}

// Invalidate drops the cached mode.
func (c *Controller) Invalidate() {
	if c.cache == nil {
		return
	}
	c.cache.Del(modeCacheKey)
	c.cache.Wait()
}

// Close releases the cache.
func (c *Controller) Close() {
	if c.cache != nil {
		c.cache.Close()
	}
}
