package market

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Inputs provides the external market measurements the store refreshes from.
type Inputs interface {
	RealizedVolatility(ctx context.Context) (float64, error)
	VolumeTrend(ctx context.Context) (VolumeTrend, error)
	RiskAppetite(ctx context.Context) (float64, error)
	SeasonActive(ctx context.Context) (bool, error)
}

// Store owns the current market Context. Refresh is the single writer;
// Snapshot hands out value copies so concurrent weighting passes never see a
// half-updated regime.
type Store struct {
	mu       sync.RWMutex
	current  Context
	inputs   Inputs
	interval time.Duration
	cache    *SnapshotCache // optional write-through cache
}

// StoreOption configures optional store behavior.
type StoreOption func(*Store)

// WithSnapshotCache makes the store publish each refreshed snapshot to a
// shared cache for out-of-process readers.
func WithSnapshotCache(c *SnapshotCache) StoreOption {
	return func(s *Store) { s.cache = c }
}

// NewStore creates a market context store refreshing from the given inputs.
func NewStore(inputs Inputs, interval time.Duration, opts ...StoreOption) *Store {
	s := &Store{inputs: inputs, interval: interval}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Snapshot returns the context in effect right now. The zero Context (with
// Valid() == false) is returned before the first successful refresh.
func (s *Store) Snapshot() Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Refresh pulls fresh measurements and swaps in a new snapshot. A failed
// refresh keeps the previous snapshot; staleness is tolerated downstream.
func (s *Store) Refresh(ctx context.Context) error {
	vol, err := s.inputs.RealizedVolatility(ctx)
	if err != nil {
		return fmt.Errorf("failed to get realized volatility: %w", err)
	}
	trend, err := s.inputs.VolumeTrend(ctx)
	if err != nil {
		return fmt.Errorf("failed to get volume trend: %w", err)
	}
	appetite, err := s.inputs.RiskAppetite(ctx)
	if err != nil {
		return fmt.Errorf("failed to get risk appetite: %w", err)
	}
	season, err := s.inputs.SeasonActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to get season flag: %w", err)
	}

	next := Context{
		Volatility:   clamp01(vol),
		HighActivity: season,
		RiskAppetite: clamp01(appetite),
		VolumeTrend:  trend,
		UpdatedAt:    time.Now().UTC(),
	}

	s.mu.Lock()
	s.current = next
	s.mu.Unlock()

	if s.cache != nil {
		if err := s.cache.Put(ctx, next); err != nil {
			log.Warn().Err(err).Msg("market snapshot cache write failed")
		}
	}

	log.Debug().
		Float64("volatility", next.Volatility).
		Bool("season", next.HighActivity).
		Str("volume_trend", next.VolumeTrend.String()).
		Msg("market context refreshed")

	return nil
}

// Run refreshes on the configured interval until ctx is cancelled.
func (s *Store) Run(ctx context.Context) {
	if err := s.Refresh(ctx); err != nil {
		log.Warn().Err(err).Msg("initial market context refresh failed")
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Refresh(ctx); err != nil {
				log.Warn().Err(err).Msg("market context refresh failed")
			}
		}
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
