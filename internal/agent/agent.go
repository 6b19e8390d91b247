package agent

import (
	"fmt"
)

// Specialization identifies the reasoning role an agent plays in the swarm.
// The set is closed: each variant carries a default hierarchical decision
// weight and, for Oversight, the ability to veto a synthesized decision.
type Specialization int

const (
	Strategic Specialization = iota
	Analytical
	Quantitative
	Oversight
)

func (s Specialization) String() string {
	switch s {
	case Strategic:
		return "strategic"
	case Analytical:
		return "analytical"
	case Quantitative:
		return "quantitative"
	case Oversight:
		return "oversight"
	default:
		return "unknown"
	}
}

// ParseSpecialization converts a config string to a Specialization.
func ParseSpecialization(s string) (Specialization, error) {
	switch s {
	case "strategic":
		return Strategic, nil
	case "analytical":
		return Analytical, nil
	case "quantitative":
		return Quantitative, nil
	case "oversight":
		return Oversight, nil
	default:
		return 0, fmt.Errorf("unknown specialization: %q", s)
	}
}

// DefaultWeight returns the standard hierarchical decision weight for the
// specialization. A roster may override these as long as the total stays 1.0.
func (s Specialization) DefaultWeight() float64 {
	switch s {
	case Strategic:
		return 0.40
	case Analytical:
		return 0.25
	case Quantitative:
		return 0.30
	case Oversight:
		return 0.05
	default:
		return 0.0
	}
}

// CanVeto reports whether agents of this specialization may issue an
// absolute block on a decision.
func (s Specialization) CanVeto() bool {
	return s == Oversight
}

// Agent is one specialist reasoning unit in the roster.
type Agent struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Specialization Specialization `json:"specialization"`
	Weight         float64        `json:"weight"` // Hierarchical decision weight
	MaxConcurrent  int            `json:"max_concurrent"`
}

// Validate checks a single agent entry for structural problems.
func (a Agent) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("agent missing id")
	}
	if a.Weight < 0 || a.Weight > 1 {
		return fmt.Errorf("agent %s: weight %.4f out of [0,1]", a.ID, a.Weight)
	}
	if a.MaxConcurrent <= 0 {
		return fmt.Errorf("agent %s: max_concurrent must be positive", a.ID)
	}
	return nil
}
