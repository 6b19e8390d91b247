package engine

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/krakenfall/conclave/internal/synth"
)

// Responder is the callback a gateway uses to deliver agent responses. In
// production this is Engine.ReportAgentResponse.
type Responder func(resp synth.Response) error

// SimGateway stands in for a live agent fleet: every assignment is answered
// after a short delay with a plausible recommendation for the agent's
// specialization. Useful for local runs and load rehearsal.
type SimGateway struct {
	respond Responder
	delay   time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimGateway creates a simulated fleet answering through respond after
// roughly delay per task.
func NewSimGateway(respond Responder, delay time.Duration) *SimGateway {
	return &SimGateway{
		respond: respond,
		delay:   delay,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Assign schedules a simulated response for the task.
func (g *SimGateway) Assign(ctx context.Context, a TaskAssignment) error {
	go g.answer(ctx, a)
	return nil
}

func (g *SimGateway) answer(ctx context.Context, a TaskAssignment) {
	g.mu.Lock()
	jitter := time.Duration(g.rng.Int63n(int64(g.delay)/2 + 1))
	confidence := 0.6 + g.rng.Float64()*0.35
	g.mu.Unlock()

	select {
	case <-ctx.Done():
		return
	case <-time.After(g.delay + jitter):
	}

	resp := synth.Response{
		TaskID:  a.TaskID,
		AgentID: a.AgentID,
		Recommendation: synth.Recommendation{
			Action: synth.Execute,
			Params: map[string]float64{
				"exposure":     0.05 + confidence*0.1,
				"target_price": 1.0,
			},
		},
		Confidence: confidence,
		Reasoning:  "simulated recommendation",
		ReceivedAt: time.Now().UTC(),
	}

	if err := g.respond(resp); err != nil {
		log.Debug().Err(err).
			Str("task", a.TaskID.String()).
			Msg("simulated response rejected")
	}
}
