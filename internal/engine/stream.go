package engine

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// DefaultTaskStream is the stream agent workers consume assignments from.
const DefaultTaskStream = "conclave:tasks"

// StreamGateway dispatches assignments onto a Redis Stream. Agent workers
// consume the stream and reply through the task-response endpoint.
type StreamGateway struct {
	rdb    *redis.Client
	stream string
}

// NewStreamGateway creates a gateway publishing to the given stream.
func NewStreamGateway(rdb *redis.Client, stream string) *StreamGateway {
	if stream == "" {
		stream = DefaultTaskStream
	}
	return &StreamGateway{rdb: rdb, stream: stream}
}

// Assign publishes one assignment. The entry carries the full assignment as
// JSON plus flat fields for consumers that filter without decoding.
func (g *StreamGateway) Assign(ctx context.Context, a TaskAssignment) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return err
	}

	id, err := g.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: g.stream,
		Values: map[string]any{
			"task_id":        a.TaskID.String(),
			"goal_id":        a.GoalID.String(),
			"agent_id":       a.AgentID,
			"specialization": a.Specialization,
			"payload":        payload,
		},
	}).Result()
	if err != nil {
		return err
	}

	log.Debug().
		Str("task", a.TaskID.String()).
		Str("agent", a.AgentID).
		Str("entry", id).
		Msg("assignment published")
	return nil
}
