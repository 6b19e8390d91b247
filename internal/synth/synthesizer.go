package synth

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/krakenfall/conclave/internal/agent"
	"github.com/krakenfall/conclave/internal/goal"
	"github.com/krakenfall/conclave/internal/signal"
)

// NoReportsRationale is the rationale emitted when every task timed out.
const NoReportsRationale = "no agent reports available"

// Config holds the synthesis gates.
type Config struct {
	ConfidenceThreshold float64 // aggregate score required to act; default 0.7
	MaxExposure         float64 // exposure clip, same unit as params["exposure"]
	RelevanceFloor      float64 // signals below this relevance are filtered out
}

// DefaultConfig returns the domain-default gates.
func DefaultConfig() Config {
	return Config{
		ConfidenceThreshold: 0.7,
		MaxExposure:         1.0,
		RelevanceFloor:      0.4,
	}
}

// Synthesizer combines agent responses and weighted signals into exactly one
// Decision per goal.
type Synthesizer struct {
	cfg      Config
	registry *agent.Registry
}

// NewSynthesizer creates a synthesizer over the active roster.
func NewSynthesizer(cfg Config, registry *agent.Registry) *Synthesizer {
	return &Synthesizer{cfg: cfg, registry: registry}
}

// Synthesize produces the decision for a goal from the surviving responses
// (timed-out and cancelled tasks are already excluded by the caller) and the
// weighted signals in effect. It never returns an error for empty or
// low-confidence input: Abstain is a valid, surfaced outcome.
func (s *Synthesizer) Synthesize(g *goal.Goal, responses []Response, signals []signal.Enhanced) *Decision {
	started := time.Now()
	d := &Decision{
		ID:        uuid.New(),
		GoalID:    g.ID,
		Responses: responses,
		CreatedAt: time.Now().UTC(),
	}
	for _, es := range signals {
		d.SignalKinds = append(d.SignalKinds, es.Signal.Kind)
	}

	// No quorum at all: all tasks timed out.
	if len(responses) == 0 {
		d.Action = Abstain
		d.Rationale = []string{NoReportsRationale}
		s.logDecision(g, d, started)
		return d
	}

	// Weighted vote with the contribution trail.
	scores := make(map[Action]float64)
	for _, r := range responses {
		weight := s.registry.WeightOf(r.AgentID)
		effective := weight * r.Confidence
		scores[r.Recommendation.Action] += effective
		d.Rationale = append(d.Rationale, fmt.Sprintf(
			"%s (%s, weight %.2f) → %s conf %.2f (effective %.3f)",
			r.AgentID, r.Specialization, weight, r.Recommendation.Action, r.Confidence, effective))
	}

	candidate, aggregate := winningAction(scores)

	// Veto is absolute and evaluated before the confidence gate.
	if vetoer := s.findVeto(responses); vetoer != nil {
		d.Action = Reject
		d.Vetoed = true
		d.Confidence = scores[Reject]
		d.Rationale = append(d.Rationale, fmt.Sprintf(
			"vetoed by %s (oversight): %s", vetoer.AgentID, vetoer.Reasoning))
		s.logDecision(g, d, started)
		return d
	}

	d.Rationale = append(d.Rationale, s.signalRationale(signals)...)

	// Confidence gate.
	if aggregate < s.cfg.ConfidenceThreshold {
		d.Action = Abstain
		d.Confidence = aggregate
		d.Rationale = append(d.Rationale, fmt.Sprintf(
			"aggregate confidence %.3f below threshold %.2f for %s", aggregate, s.cfg.ConfidenceThreshold, candidate))
		s.logDecision(g, d, started)
		return d
	}

	d.Action = candidate
	d.Confidence = aggregate

	if candidate == Execute {
		d.Params = s.executionParams(responses)
		// Risk gate: clip exposure rather than rejecting the trade.
		if exposure, ok := d.Params["exposure"]; ok && exposure > s.cfg.MaxExposure {
			d.Params["exposure"] = s.cfg.MaxExposure
			d.Clipped = true
			d.Rationale = append(d.Rationale, fmt.Sprintf(
				"exposure clipped from %.4f to configured maximum %.4f", exposure, s.cfg.MaxExposure))
		}
	}

	s.logDecision(g, d, started)
	return d
}

// winningAction returns the highest-scoring action; exact ties resolve in
// favor of the lower-risk action.
func winningAction(scores map[Action]float64) (Action, float64) {
	actions := make([]Action, 0, len(scores))
	for a := range scores {
		actions = append(actions, a)
	}
	sort.Slice(actions, func(i, j int) bool {
		if scores[actions[i]] != scores[actions[j]] {
			return scores[actions[i]] > scores[actions[j]]
		}
		return actions[i].riskRank() < actions[j].riskRank()
	})
	best := actions[0]
	return best, scores[best]
}

// findVeto returns the first blocking response from a veto-capable agent.
func (s *Synthesizer) findVeto(responses []Response) *Response {
	for i, r := range responses {
		if r.Specialization.CanVeto() && r.Recommendation.Action == Reject {
			return &responses[i]
		}
	}
	return nil
}

// signalRationale records the weighted-signal tilt and which signals were
// filtered out as irrelevant to the current regime.
func (s *Synthesizer) signalRationale(signals []signal.Enhanced) []string {
	if len(signals) == 0 {
		return nil
	}

	var lines []string
	tilt := 0.0
	used := 0
	for _, es := range signals {
		if es.Relevance < s.cfg.RelevanceFloor {
			lines = append(lines, fmt.Sprintf(
				"signal %s excluded: relevance %.2f below floor %.2f",
				es.Signal.Kind, es.Relevance, s.cfg.RelevanceFloor))
			continue
		}
		tilt += es.Weight * es.Signal.Strength * es.Confidence
		used++
	}
	if used > 0 {
		lines = append(lines, fmt.Sprintf("signal tilt %.3f from %d relevant signals", tilt, used))
	}
	return lines
}

// executionParams merges the Execute responders' parameters. Exposure is the
// confidence-weighted mean; price levels take the most confident responder.
func (s *Synthesizer) executionParams(responses []Response) map[string]float64 {
	params := make(map[string]float64)

	var exposureSum, confSum, bestConf float64
	for _, r := range responses {
		if r.Recommendation.Action != Execute {
			continue
		}
		if exp, ok := r.Recommendation.Params["exposure"]; ok {
			exposureSum += exp * r.Confidence
			confSum += r.Confidence
		}
		if r.Confidence > bestConf {
			bestConf = r.Confidence
			for k, v := range r.Recommendation.Params {
				if k != "exposure" {
					params[k] = v
				}
			}
		}
	}
	if confSum > 0 {
		params["exposure"] = exposureSum / confSum
	}
	return params
}

func (s *Synthesizer) logDecision(g *goal.Goal, d *Decision, started time.Time) {
	log.Info().
		Str("goal", g.ID.String()).
		Str("decision", d.ID.String()).
		Str("action", d.Action.String()).
		Float64("confidence", d.Confidence).
		Bool("vetoed", d.Vetoed).
		Int("responses", len(d.Responses)).
		Dur("synthesis", time.Since(started)).
		Msg("decision synthesized")
}
