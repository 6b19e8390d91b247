package goal

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/krakenfall/conclave/internal/agent"
)

// taskTemplate is one sub-task pattern inside a decomposition template.
type taskTemplate struct {
	title string
	spec  agent.Specialization
}

// Decomposer splits a goal into typed sub-tasks using per-kind templates.
type Decomposer struct {
	templates map[Kind][]taskTemplate
}

// NewDecomposer builds a decomposer with the standard templates.
func NewDecomposer() *Decomposer {
	return &Decomposer{
		templates: map[Kind][]taskTemplate{
			TokenAssessment: {
				{title: "strategy fit and entry plan", spec: agent.Strategic},
				{title: "qualitative and sentiment review", spec: agent.Analytical},
				{title: "quantitative opportunity model", spec: agent.Quantitative},
				{title: "safety and threat screening", spec: agent.Oversight},
			},
			ExitReview: {
				{title: "exit strategy assessment", spec: agent.Strategic},
				{title: "position risk model", spec: agent.Quantitative},
				{title: "exit safety screening", spec: agent.Oversight},
			},
			RiskAudit: {
				{title: "threat and anomaly screening", spec: agent.Oversight},
				{title: "exposure model review", spec: agent.Quantitative},
			},
		},
	}
}

// Decompose produces the goal's sub-tasks, each tagged with its required
// specialization and carrying the task deadline. The goal transitions to
// Decomposed.
func (d *Decomposer) Decompose(g *Goal, taskDeadline time.Duration) ([]*Task, error) {
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("cannot decompose invalid goal: %w", err)
	}

	templates, ok := d.templates[g.Kind]
	if !ok {
		return nil, fmt.Errorf("no decomposition template for goal kind %q", g.Kind)
	}

	deadline := time.Now().UTC().Add(taskDeadline)
	tasks := make([]*Task, 0, len(templates))
	for _, tpl := range templates {
		tasks = append(tasks, &Task{
			ID:             uuid.New(),
			GoalID:         g.ID,
			Title:          tpl.title,
			Specialization: tpl.spec,
			Deadline:       deadline,
			Status:         TaskPending,
		})
	}

	g.Status = Decomposed
	log.Debug().
		Str("goal", g.ID.String()).
		Str("kind", string(g.Kind)).
		Int("tasks", len(tasks)).
		Msg("goal decomposed")

	return tasks, nil
}
