package delegate

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/krakenfall/conclave/internal/agent"
	"github.com/krakenfall/conclave/internal/goal"
)

// Policy selects how tasks map onto available agents. Policies are mutually
// exclusive per delegation request.
type Policy int

const (
	BestAvailable Policy = iota
	LoadBalanced
	SpecializationBased
	PerformanceBased
)

func (p Policy) String() string {
	switch p {
	case BestAvailable:
		return "best_available"
	case LoadBalanced:
		return "load_balanced"
	case SpecializationBased:
		return "specialization_based"
	case PerformanceBased:
		return "performance_based"
	default:
		return "unknown"
	}
}

// ParsePolicy converts a config string to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "best_available":
		return BestAvailable, nil
	case "load_balanced":
		return LoadBalanced, nil
	case "specialization_based":
		return SpecializationBased, nil
	case "performance_based":
		return PerformanceBased, nil
	default:
		return 0, fmt.Errorf("unknown delegation policy: %q", s)
	}
}

// ErrNoAgent is returned when no roster agent matches a task's required
// specialization. Delegation fails fast rather than silently dropping tasks.
var ErrNoAgent = errors.New("no agent matches required specialization")

// Assignment binds one task to one agent.
type Assignment struct {
	Task       *goal.Task
	Agent      *agent.Agent
	AssignedAt time.Time
}

// PerformanceSource supplies historical agent accuracy for the
// performance-based policy.
type PerformanceSource interface {
	AgentSuccessRate(agentID string) (float64, bool)
}

// Delegator assigns decomposed tasks to roster agents under a policy.
type Delegator struct {
	registry *agent.Registry
	perf     PerformanceSource
}

// NewDelegator creates a delegator over the given roster. perf may be nil;
// the performance-based policy then treats every agent as neutral (0.5).
func NewDelegator(registry *agent.Registry, perf PerformanceSource) *Delegator {
	return &Delegator{registry: registry, perf: perf}
}

// Delegate assigns every task or fails fast on the first unmatchable
// specialization. Successful assignments bump the agents' outstanding counts.
func (d *Delegator) Delegate(tasks []*goal.Task, policy Policy) ([]Assignment, error) {
	assignments := make([]Assignment, 0, len(tasks))

	// Loads seen within this request, so load-balancing accounts for
	// assignments it is about to make, not just prior ones.
	pending := make(map[string]int)

	for _, task := range tasks {
		candidates := d.registry.BySpecialization(task.Specialization)
		if len(candidates) == 0 {
			return nil, fmt.Errorf("%w: %s (task %s)", ErrNoAgent, task.Specialization, task.ID)
		}

		chosen := d.pick(candidates, policy, pending)
		task.Status = goal.TaskAssigned
		task.AgentID = chosen.ID
		pending[chosen.ID]++

		assignments = append(assignments, Assignment{
			Task:       task,
			Agent:      chosen,
			AssignedAt: time.Now().UTC(),
		})
	}

	// Commit outstanding counts only once the whole request is assignable.
	for _, a := range assignments {
		d.registry.IncOutstanding(a.Agent.ID)
	}

	log.Debug().
		Int("tasks", len(assignments)).
		Str("policy", policy.String()).
		Msg("tasks delegated")

	return assignments, nil
}

func (d *Delegator) pick(candidates []*agent.Agent, policy Policy, pending map[string]int) *agent.Agent {
	switch policy {
	case LoadBalanced:
		return d.leastLoaded(candidates, pending)
	case PerformanceBased:
		return d.bestPerforming(candidates)
	case BestAvailable:
		// Prefer an idle agent; fall back to least loaded.
		for _, c := range candidates {
			if d.registry.Outstanding(c.ID)+pending[c.ID] == 0 {
				return c
			}
		}
		return d.leastLoaded(candidates, pending)
	case SpecializationBased:
		fallthrough
	default:
		// Strict tag match; candidates are already filtered, take the first
		// in stable order.
		return candidates[0]
	}
}

func (d *Delegator) leastLoaded(candidates []*agent.Agent, pending map[string]int) *agent.Agent {
	best := candidates[0]
	bestLoad := d.registry.Outstanding(best.ID) + pending[best.ID]
	for _, c := range candidates[1:] {
		load := d.registry.Outstanding(c.ID) + pending[c.ID]
		if load < bestLoad {
			best, bestLoad = c, load
		}
	}
	return best
}

func (d *Delegator) bestPerforming(candidates []*agent.Agent) *agent.Agent {
	best := candidates[0]
	bestRate := d.successRate(best.ID)
	for _, c := range candidates[1:] {
		if rate := d.successRate(c.ID); rate > bestRate {
			best, bestRate = c, rate
		}
	}
	return best
}

func (d *Delegator) successRate(id string) float64 {
	if d.perf == nil {
		return 0.5
	}
	rate, ok := d.perf.AgentSuccessRate(id)
	if !ok {
		return 0.5
	}
	return rate
}
