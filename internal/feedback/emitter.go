package feedback

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/krakenfall/conclave/internal/synth"
)

// DefaultStream is the Redis stream the execution collaborator consumes
// decisions from.
const DefaultStream = "conclave:decisions"

// Emitter publishes synthesized decisions to the execution collaborator via
// a Redis Stream. The executor is solely responsible for turning a Decision
// into an on-chain action and reporting the TradeResult back.
type Emitter struct {
	rdb    *redis.Client
	stream string
}

// NewEmitter creates a stream emitter. An empty stream name uses the default.
func NewEmitter(rdb *redis.Client, stream string) *Emitter {
	if stream == "" {
		stream = DefaultStream
	}
	return &Emitter{rdb: rdb, stream: stream}
}

// Publish appends one decision record to the stream.
func (e *Emitter) Publish(ctx context.Context, d *synth.Decision) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal decision: %w", err)
	}

	id, err := e.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: e.stream,
		Values: map[string]interface{}{
			"decision_id": d.ID.String(),
			"action":      d.Action.String(),
			"payload":     payload,
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to publish decision %s: %w", d.ID, err)
	}

	log.Debug().Str("decision", d.ID.String()).Str("stream_id", id).Msg("decision published")
	return nil
}
