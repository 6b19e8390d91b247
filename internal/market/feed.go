package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ErrNoFeedData is returned before the feed has accumulated enough ticks.
var ErrNoFeedData = errors.New("market feed has no data yet")

// tick is the wire shape of one ticker message from the upstream feed.
type tick struct {
	Price     float64 `json:"price"`
	Volume24h float64 `json:"volume_24h"`
	Season    bool    `json:"high_activity,omitempty"`
	Timestamp int64   `json:"ts"`
}

// WSFeed implements Inputs from a streaming ticker WebSocket. It keeps a
// rolling window of mid prices and 24h volumes and derives the regime
// measurements the Store refreshes from.
type WSFeed struct {
	url        string
	windowSize int

	mu      sync.RWMutex
	prices  []float64
	volumes []float64
	season  bool

	closeCh chan struct{}
	once    sync.Once
}

// NewWSFeed creates a feed reading from the given WebSocket URL.
func NewWSFeed(url string, windowSize int) *WSFeed {
	if windowSize < 8 {
		windowSize = 8
	}
	return &WSFeed{
		url:        url,
		windowSize: windowSize,
		closeCh:    make(chan struct{}),
	}
}

// Run dials the feed and consumes ticks until ctx is cancelled, reconnecting
// with capped exponential backoff on connection loss.
func (f *WSFeed) Run(ctx context.Context) {
	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return
		case <-f.closeCh:
			return
		default:
		}

		if err := f.consume(ctx); err != nil {
			log.Warn().Err(err).Dur("backoff", backoff).Msg("market feed disconnected")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

// Close stops the feed loop.
func (f *WSFeed) Close() {
	f.once.Do(func() { close(f.closeCh) })
}

func (f *WSFeed) consume(ctx context.Context) error {
	// Value copy: mutating the shared DefaultDialer would leak the timeout
	// to every other dialer user in the process.
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 15 * time.Second

	conn, _, err := dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("market feed dial failed: %w", err)
	}
	defer conn.Close()

	log.Info().Str("url", f.url).Msg("market feed connected")

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-f.closeCh:
			return nil
		default:
		}

		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("market feed read failed: %w", err)
		}

		var t tick
		if err := json.Unmarshal(payload, &t); err != nil {
			log.Debug().Err(err).Msg("skipping malformed feed message")
			continue
		}
		f.observe(t)
	}
}

// observe appends one tick to the rolling windows.
func (f *WSFeed) observe(t tick) {
	if t.Price <= 0 {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	f.prices = append(f.prices, t.Price)
	if len(f.prices) > f.windowSize {
		f.prices = f.prices[1:]
	}
	if t.Volume24h > 0 {
		f.volumes = append(f.volumes, t.Volume24h)
		if len(f.volumes) > f.windowSize {
			f.volumes = f.volumes[1:]
		}
	}
	f.season = t.Season
}

// RealizedVolatility returns the stddev of log returns over the window,
// scaled into the 0..1 regime range.
func (f *WSFeed) RealizedVolatility(_ context.Context) (float64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if len(f.prices) < 2 {
		return 0, ErrNoFeedData
	}

	returns := make([]float64, 0, len(f.prices)-1)
	for i := 1; i < len(f.prices); i++ {
		returns = append(returns, math.Log(f.prices[i]/f.prices[i-1]))
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns))

	// 10% per-tick stddev saturates the regime scale.
	return clamp01(math.Sqrt(variance) * 10), nil
}

// VolumeTrend compares the recent half of the volume window to the older half.
func (f *WSFeed) VolumeTrend(_ context.Context) (VolumeTrend, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if len(f.volumes) < 4 {
		return VolumeStable, ErrNoFeedData
	}

	half := len(f.volumes) / 2
	older, recent := avg(f.volumes[:half]), avg(f.volumes[half:])
	switch {
	case recent > older*1.1:
		return VolumeIncreasing, nil
	case recent < older*0.9:
		return VolumeDecreasing, nil
	default:
		return VolumeStable, nil
	}
}

// RiskAppetite maps current volatility into appetite: calm markets invite
// larger exposure, turbulent markets shrink it.
func (f *WSFeed) RiskAppetite(ctx context.Context) (float64, error) {
	vol, err := f.RealizedVolatility(ctx)
	if err != nil {
		return 0, err
	}
	return clamp01(1.0 - vol*0.7), nil
}

// SeasonActive reports the heightened-activity flag carried by the feed.
func (f *WSFeed) SeasonActive(_ context.Context) (bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.season, nil
}

func avg(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}
