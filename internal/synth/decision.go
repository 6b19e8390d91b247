package synth

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/krakenfall/conclave/internal/agent"
	"github.com/krakenfall/conclave/internal/signal"
)

// Action is the final synthesized verdict for a goal.
type Action int

const (
	Execute Action = iota
	Abstain
	Reject
)

func (a Action) String() string {
	switch a {
	case Execute:
		return "execute"
	case Abstain:
		return "abstain"
	case Reject:
		return "reject"
	default:
		return "unknown"
	}
}

// ParseAction converts a wire string to an Action.
func ParseAction(s string) (Action, error) {
	switch s {
	case "execute":
		return Execute, nil
	case "abstain":
		return Abstain, nil
	case "reject":
		return Reject, nil
	default:
		return 0, fmt.Errorf("unknown action: %q", s)
	}
}

// riskRank orders actions for tie-breaking: ties resolve toward the
// lower-risk action, so Execute loses to either no-trade verdict.
func (a Action) riskRank() int {
	switch a {
	case Execute:
		return 2
	case Abstain:
		return 1
	case Reject:
		return 0
	default:
		return 3
	}
}

// Recommendation is an agent's proposed action with its parameters.
// Params recognizes "exposure" (position size), "target_price", "stop_loss".
type Recommendation struct {
	Action Action             `json:"action"`
	Params map[string]float64 `json:"params,omitempty"`
}

// Response is one agent's report for a completed task.
type Response struct {
	TaskID         uuid.UUID            `json:"task_id"`
	AgentID        string               `json:"agent_id"`
	Specialization agent.Specialization `json:"specialization"`
	Recommendation Recommendation       `json:"recommendation"`
	Confidence     float64              `json:"confidence"` // 0.0-1.0
	Reasoning      string               `json:"reasoning"`
	ReceivedAt     time.Time            `json:"received_at"`
}

// Validate rejects malformed responses at ingestion.
func (r Response) Validate() error {
	if r.AgentID == "" {
		return fmt.Errorf("response missing agent id")
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("response confidence %.4f out of [0,1]", r.Confidence)
	}
	switch r.Recommendation.Action {
	case Execute, Abstain, Reject:
		return nil
	default:
		return fmt.Errorf("unknown recommended action: %d", r.Recommendation.Action)
	}
}

// Decision is the synthesized, auditable output for one goal. Immutable once
// emitted: it references the exact set of responses it was built from, and
// later TradeResult/feedback records only point back at it.
type Decision struct {
	ID          uuid.UUID          `json:"id"`
	GoalID      uuid.UUID          `json:"goal_id"`
	Action      Action             `json:"action"`
	Params      map[string]float64 `json:"params,omitempty"`
	Confidence  float64            `json:"confidence"` // aggregate weighted score of the winning action
	Responses   []Response         `json:"responses"`  // the exact contributing set
	SignalKinds []signal.Kind      `json:"signal_kinds,omitempty"`
	Rationale   []string           `json:"rationale"`
	Vetoed      bool               `json:"vetoed"`
	Clipped     bool               `json:"clipped"` // exposure reduced by the risk gate
	CreatedAt   time.Time          `json:"created_at"`
}
