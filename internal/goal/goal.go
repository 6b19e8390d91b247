package goal

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/krakenfall/conclave/internal/agent"
)

// Status tracks a goal through its lifecycle.
type Status int

const (
	Created Status = iota
	Decomposed
	Delegated
	AwaitingReports
	Synthesized
	Closed
	Cancelled
)

func (s Status) String() string {
	switch s {
	case Created:
		return "created"
	case Decomposed:
		return "decomposed"
	case Delegated:
		return "delegated"
	case AwaitingReports:
		return "awaiting_reports"
	case Synthesized:
		return "synthesized"
	case Closed:
		return "closed"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Priority orders goals for reporting; it does not reorder synthesis.
type Priority int

const (
	Low Priority = iota
	Medium
	High
	Critical
)

// ParsePriority converts a wire string to a Priority.
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "low":
		return Low, nil
	case "medium", "":
		return Medium, nil
	case "high":
		return High, nil
	case "critical":
		return Critical, nil
	default:
		return 0, fmt.Errorf("unknown priority: %q", s)
	}
}

// Kind selects the decomposition template for a goal.
type Kind string

const (
	// TokenAssessment is the full opportunity review: strategy, qualitative
	// analysis, quantitative modeling, and a safety check.
	TokenAssessment Kind = "token_assessment"
	// ExitReview evaluates whether to unwind an existing position.
	ExitReview Kind = "exit_review"
	// RiskAudit is a safety-only pass over a position or venue.
	RiskAudit Kind = "risk_audit"
)

// Goal is one high-level objective submitted to the engine.
type Goal struct {
	ID        uuid.UUID      `json:"id"`
	Title     string         `json:"title"`
	Kind      Kind           `json:"kind"`
	Priority  Priority       `json:"priority"`
	Context   map[string]any `json:"context"`
	Status    Status         `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
}

// New creates a goal in the Created state.
func New(title string, kind Kind, priority Priority, context map[string]any) *Goal {
	return &Goal{
		ID:        uuid.New(),
		Title:     title,
		Kind:      kind,
		Priority:  priority,
		Context:   context,
		Status:    Created,
		CreatedAt: time.Now().UTC(),
	}
}

// Validate rejects malformed goals at ingestion.
func (g *Goal) Validate() error {
	if g.Title == "" {
		return fmt.Errorf("goal missing title")
	}
	switch g.Kind {
	case TokenAssessment, ExitReview, RiskAudit:
		return nil
	default:
		return fmt.Errorf("unknown goal kind: %q", g.Kind)
	}
}

// TaskStatus tracks one delegated sub-task.
type TaskStatus int

const (
	TaskPending TaskStatus = iota
	TaskAssigned
	TaskCompleted
	TaskTimedOut
	TaskCancelled
)

func (s TaskStatus) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskAssigned:
		return "assigned"
	case TaskCompleted:
		return "completed"
	case TaskTimedOut:
		return "timed_out"
	case TaskCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Task is one sub-task derived from a goal, assignable to exactly one agent.
type Task struct {
	ID             uuid.UUID            `json:"id"`
	GoalID         uuid.UUID            `json:"goal_id"`
	Title          string               `json:"title"`
	Specialization agent.Specialization `json:"specialization"`
	Deadline       time.Time            `json:"deadline"`
	Status         TaskStatus           `json:"status"`
	AgentID        string               `json:"agent_id,omitempty"`
}
