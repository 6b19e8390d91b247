package agent

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
)

// WeightEpsilon is the tolerated rounding error when checking that roster
// decision weights sum to 1.0.
const WeightEpsilon = 1e-6

var (
	// ErrWeightSum is returned when the roster weights do not sum to 1.0.
	ErrWeightSum = errors.New("roster decision weights must sum to 1.0")
	// ErrEmptyRoster is returned when a registry is built with no agents.
	ErrEmptyRoster = errors.New("roster must contain at least one agent")
	// ErrUnknownAgent is returned for lookups of unregistered agent ids.
	ErrUnknownAgent = errors.New("unknown agent")
)

// Registry holds the active roster and per-agent outstanding task counts.
// Roster membership is fixed at construction; a weight-sum violation is a
// configuration error and is rejected here, never tolerated at decision time.
type Registry struct {
	mu          sync.RWMutex
	agents      map[string]*Agent
	ordered     []string // stable iteration order for deterministic policies
	outstanding map[string]int
}

// NewRegistry validates the roster and builds a registry from it.
func NewRegistry(roster []Agent) (*Registry, error) {
	if len(roster) == 0 {
		return nil, ErrEmptyRoster
	}

	agents := make(map[string]*Agent, len(roster))
	ordered := make([]string, 0, len(roster))
	sum := 0.0
	for i := range roster {
		a := roster[i]
		if err := a.Validate(); err != nil {
			return nil, fmt.Errorf("invalid roster entry: %w", err)
		}
		if _, dup := agents[a.ID]; dup {
			return nil, fmt.Errorf("duplicate agent id: %s", a.ID)
		}
		agents[a.ID] = &a
		ordered = append(ordered, a.ID)
		sum += a.Weight
	}
	if math.Abs(sum-1.0) > WeightEpsilon {
		return nil, fmt.Errorf("%w: got %.6f", ErrWeightSum, sum)
	}
	sort.Strings(ordered)

	return &Registry{
		agents:      agents,
		ordered:     ordered,
		outstanding: make(map[string]int, len(roster)),
	}, nil
}

// Get returns the agent for the given id.
func (r *Registry) Get(id string) (*Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, id)
	}
	return a, nil
}

// Agents returns the roster in stable id order.
func (r *Registry) Agents() []*Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Agent, 0, len(r.ordered))
	for _, id := range r.ordered {
		out = append(out, r.agents[id])
	}
	return out
}

// BySpecialization returns all agents with the given specialization, in
// stable id order.
func (r *Registry) BySpecialization(spec Specialization) []*Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Agent
	for _, id := range r.ordered {
		if r.agents[id].Specialization == spec {
			out = append(out, r.agents[id])
		}
	}
	return out
}

// Outstanding returns the number of tasks currently assigned to the agent.
func (r *Registry) Outstanding(id string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.outstanding[id]
}

// IncOutstanding records a new assignment for the agent.
func (r *Registry) IncOutstanding(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outstanding[id]++
}

// DecOutstanding records completion (or timeout/cancellation) of one of the
// agent's assigned tasks.
func (r *Registry) DecOutstanding(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outstanding[id] > 0 {
		r.outstanding[id]--
	}
}

// WeightOf returns the hierarchical decision weight for the agent, or 0 for
// unknown ids.
func (r *Registry) WeightOf(id string) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if a, ok := r.agents[id]; ok {
		return a.Weight
	}
	return 0
}
