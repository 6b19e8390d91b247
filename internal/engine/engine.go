package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/krakenfall/conclave/internal/agent"
	"github.com/krakenfall/conclave/internal/delegate"
	"github.com/krakenfall/conclave/internal/feedback"
	"github.com/krakenfall/conclave/internal/goal"
	"github.com/krakenfall/conclave/internal/market"
	"github.com/krakenfall/conclave/internal/persistence"
	"github.com/krakenfall/conclave/internal/signal"
	"github.com/krakenfall/conclave/internal/synth"
)

var (
	// ErrUnknownTask is returned for responses to tasks the engine never
	// delegated.
	ErrUnknownTask = errors.New("unknown task")
	// ErrTaskClosed is returned for responses to timed-out or cancelled
	// tasks; the response is discarded.
	ErrTaskClosed = errors.New("task no longer accepts responses")
	// ErrUnknownGoal is returned for cancellation of goals the engine does
	// not hold.
	ErrUnknownGoal = errors.New("unknown goal")
	// ErrUnknownDecision is returned for trade results referencing no
	// emitted decision.
	ErrUnknownDecision = errors.New("unknown decision")
)

// TaskAssignment is the outbound contract to an agent collaborator.
type TaskAssignment struct {
	TaskID         uuid.UUID      `json:"task_id"`
	GoalID         uuid.UUID      `json:"goal_id"`
	AgentID        string         `json:"agent_id"`
	Specialization string         `json:"specialization"`
	Title          string         `json:"title"`
	Deadline       time.Time      `json:"deadline"`
	Context        map[string]any `json:"context,omitempty"`
}

// AgentGateway dispatches assignments to agent collaborators. Responses come
// back asynchronously through Engine.ReportAgentResponse.
type AgentGateway interface {
	Assign(ctx context.Context, assignment TaskAssignment) error
}

// DecisionEmitter hands emitted decisions to the execution collaborator.
type DecisionEmitter interface {
	Publish(ctx context.Context, d *synth.Decision) error
}

// Hooks are optional observation points, wired to metrics by the caller.
type Hooks struct {
	OnDecision    func(d *synth.Decision, synthesisTime time.Duration)
	OnTaskTimeout func(goalID, taskID uuid.UUID)
	OnGoalOpened  func()
	OnGoalClosed  func()
}

// Config holds the engine's scheduling parameters.
type Config struct {
	TaskDeadline time.Duration   // per-task response deadline
	GoalDeadline time.Duration   // hard fan-in timeout per goal
	Policy       delegate.Policy // delegation policy for all requests
}

// Engine coordinates the full decision cycle: decompose, delegate, fan out,
// join on completion or deadline, synthesize, emit, and feed outcomes back.
// Each goal is an independent bounded fan-out/fan-in; goals synthesize in
// whatever order their joins complete.
type Engine struct {
	cfg         Config
	registry    *agent.Registry
	decomposer  *goal.Decomposer
	delegator   *delegate.Delegator
	synthesizer *synth.Synthesizer
	weighting   *signal.Engine
	market      *market.Store
	loop        *feedback.Loop
	decisions   persistence.DecisionsRepo
	gateway     AgentGateway
	emitter     DecisionEmitter // optional
	hooks       Hooks

	mu       sync.Mutex
	runs     map[uuid.UUID]*goalRun   // goal id -> run
	taskGoal map[uuid.UUID]uuid.UUID  // task id -> goal id
	emitted  map[uuid.UUID]*synth.Decision
}

// Deps bundles the engine's collaborators.
type Deps struct {
	Registry    *agent.Registry
	Decomposer  *goal.Decomposer
	Delegator   *delegate.Delegator
	Synthesizer *synth.Synthesizer
	Weighting   *signal.Engine
	Market      *market.Store
	Feedback    *feedback.Loop
	Decisions   persistence.DecisionsRepo
	Gateway     AgentGateway
	Emitter     DecisionEmitter
	Hooks       Hooks
}

// New creates an engine.
func New(cfg Config, deps Deps) *Engine {
	return &Engine{
		cfg:         cfg,
		registry:    deps.Registry,
		decomposer:  deps.Decomposer,
		delegator:   deps.Delegator,
		synthesizer: deps.Synthesizer,
		weighting:   deps.Weighting,
		market:      deps.Market,
		loop:        deps.Feedback,
		decisions:   deps.Decisions,
		gateway:     deps.Gateway,
		emitter:     deps.Emitter,
		hooks:       deps.Hooks,
		runs:        make(map[uuid.UUID]*goalRun),
		taskGoal:    make(map[uuid.UUID]uuid.UUID),
		emitted:     make(map[uuid.UUID]*synth.Decision),
	}
}

// goalRun tracks one goal's in-flight fan-out.
type goalRun struct {
	mu          sync.Mutex
	g           *goal.Goal
	signals     []signal.Signal
	tasks       map[uuid.UUID]*goal.Task
	outstanding int
	collected   []synth.Response
	respCh      chan synth.Response
	cancel      context.CancelFunc
	cancelled   bool
	done        chan struct{}
}

// SubmitGoal validates, decomposes, and delegates a goal, then starts its
// fan-out/fan-in. It returns as soon as dispatch is underway; the decision
// arrives asynchronously via the emitter.
func (e *Engine) SubmitGoal(ctx context.Context, g *goal.Goal, signals []signal.Signal) (uuid.UUID, error) {
	if err := g.Validate(); err != nil {
		return uuid.Nil, fmt.Errorf("invalid goal: %w", err)
	}
	for _, sig := range signals {
		if err := sig.Validate(); err != nil {
			return uuid.Nil, fmt.Errorf("invalid signal: %w", err)
		}
	}

	tasks, err := e.decomposer.Decompose(g, e.cfg.TaskDeadline)
	if err != nil {
		return uuid.Nil, err
	}

	assignments, err := e.delegator.Delegate(tasks, e.cfg.Policy)
	if err != nil {
		return uuid.Nil, fmt.Errorf("delegation failed: %w", err)
	}
	g.Status = goal.Delegated

	runCtx, cancel := context.WithTimeout(context.Background(), e.cfg.GoalDeadline)
	run := &goalRun{
		g:           g,
		signals:     signals,
		tasks:       make(map[uuid.UUID]*goal.Task, len(tasks)),
		outstanding: len(tasks),
		respCh:      make(chan synth.Response, len(tasks)),
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	for _, task := range tasks {
		run.tasks[task.ID] = task
	}

	e.mu.Lock()
	e.runs[g.ID] = run
	for _, task := range tasks {
		e.taskGoal[task.ID] = g.ID
	}
	e.mu.Unlock()

	if e.hooks.OnGoalOpened != nil {
		e.hooks.OnGoalOpened()
	}

	g.Status = goal.AwaitingReports
	for _, a := range assignments {
		go e.dispatch(runCtx, run, a)
	}
	go e.await(runCtx, run)

	log.Info().
		Str("goal", g.ID.String()).
		Str("kind", string(g.Kind)).
		Int("tasks", len(tasks)).
		Str("policy", e.cfg.Policy.String()).
		Msg("goal submitted")

	return g.ID, nil
}

// dispatch sends one assignment to its agent. A dispatch failure leaves the
// task assigned; it will simply time out and be excluded from synthesis.
func (e *Engine) dispatch(ctx context.Context, run *goalRun, a delegate.Assignment) {
	assignment := TaskAssignment{
		TaskID:         a.Task.ID,
		GoalID:         a.Task.GoalID,
		AgentID:        a.Agent.ID,
		Specialization: a.Task.Specialization.String(),
		Title:          a.Task.Title,
		Deadline:       a.Task.Deadline,
		Context:        run.g.Context,
	}
	if err := e.gateway.Assign(ctx, assignment); err != nil {
		log.Warn().Err(err).
			Str("task", a.Task.ID.String()).
			Str("agent", a.Agent.ID).
			Msg("task dispatch failed; task will time out")
	}
}

// await is the fan-in: it blocks until the run context ends, either because
// the last task resolved (resolution cancels the context) or the goal
// deadline elapsed, then synthesizes exactly once.
func (e *Engine) await(ctx context.Context, run *goalRun) {
	defer run.cancel()
	<-ctx.Done()
	e.finish(ctx, run)
}

// finish closes the join: expires unanswered tasks, gathers the surviving
// responses, and synthesizes unless the goal was cancelled.
func (e *Engine) finish(ctx context.Context, run *goalRun) {
	defer close(run.done)
	started := time.Now()

	run.mu.Lock()
	cancelled := run.cancelled
	var responses []synth.Response
	for _, task := range run.tasks {
		switch task.Status {
		case goal.TaskCompleted:
			// collected below
		case goal.TaskCancelled:
			// already released
		case goal.TaskTimedOut:
			// expired on report; already logged and released
		default:
			if cancelled {
				task.Status = goal.TaskCancelled
			} else {
				task.Status = goal.TaskTimedOut
				log.Warn().
					Str("goal", run.g.ID.String()).
					Str("task", task.ID.String()).
					Str("agent", task.AgentID).
					Msg("task deadline exceeded; excluded from synthesis")
				if e.hooks.OnTaskTimeout != nil {
					e.hooks.OnTaskTimeout(run.g.ID, task.ID)
				}
			}
			if task.AgentID != "" {
				e.registry.DecOutstanding(task.AgentID)
			}
		}
	}
	responses = run.collectedLocked()
	run.mu.Unlock()

	if cancelled {
		run.mu.Lock()
		run.g.Status = goal.Cancelled
		run.mu.Unlock()
		if e.hooks.OnGoalClosed != nil {
			e.hooks.OnGoalClosed()
		}
		log.Info().Str("goal", run.g.ID.String()).Msg("goal cancelled before synthesis")
		return
	}

	mctx := market.Context{}
	if e.market != nil {
		mctx = e.market.Snapshot()
	}
	enhanced := e.weighting.EnhanceAll(run.signals, mctx)

	decision := e.synthesizer.Synthesize(run.g, responses, enhanced)
	run.mu.Lock()
	run.g.Status = goal.Synthesized
	run.mu.Unlock()

	e.mu.Lock()
	e.emitted[decision.ID] = decision
	e.mu.Unlock()

	e.persistDecision(decision)

	if e.emitter != nil {
		if err := e.emitter.Publish(context.WithoutCancel(ctx), decision); err != nil {
			log.Error().Err(err).Str("decision", decision.ID.String()).
				Msg("decision emit failed")
		}
	}

	if e.hooks.OnDecision != nil {
		e.hooks.OnDecision(decision, time.Since(started))
	}
	if e.hooks.OnGoalClosed != nil {
		e.hooks.OnGoalClosed()
	}
}

// ReportAgentResponse accepts an agent's recommendation for a delegated
// task. Responses for unknown, timed-out, or cancelled tasks are rejected so
// late reports never leak into a decision.
func (e *Engine) ReportAgentResponse(resp synth.Response) error {
	e.mu.Lock()
	goalID, ok := e.taskGoal[resp.TaskID]
	var run *goalRun
	if ok {
		run = e.runs[goalID]
	}
	e.mu.Unlock()
	if run == nil {
		return ErrUnknownTask
	}

	run.mu.Lock()
	task := run.tasks[resp.TaskID]
	if task == nil {
		run.mu.Unlock()
		return ErrUnknownTask
	}
	if run.cancelled || task.Status != goal.TaskAssigned {
		run.mu.Unlock()
		log.Debug().
			Str("task", resp.TaskID.String()).
			Str("agent", resp.AgentID).
			Str("status", task.Status.String()).
			Msg("late agent response discarded")
		return ErrTaskClosed
	}
	if resp.AgentID != task.AgentID {
		run.mu.Unlock()
		return fmt.Errorf("task %s is assigned to %s, not %s", resp.TaskID, task.AgentID, resp.AgentID)
	}
	if !task.Deadline.IsZero() && time.Now().After(task.Deadline) {
		task.Status = goal.TaskTimedOut
		run.outstanding--
		settled := run.outstanding == 0
		run.mu.Unlock()
		log.Warn().
			Str("goal", goalID.String()).
			Str("task", resp.TaskID.String()).
			Str("agent", resp.AgentID).
			Time("deadline", task.Deadline).
			Msg("response past task deadline; excluded from synthesis")
		if e.hooks.OnTaskTimeout != nil {
			e.hooks.OnTaskTimeout(goalID, resp.TaskID)
		}
		e.registry.DecOutstanding(task.AgentID)
		if settled {
			run.cancel()
		}
		return ErrTaskClosed
	}
	resp.Specialization = task.Specialization
	if resp.ReceivedAt.IsZero() {
		resp.ReceivedAt = time.Now().UTC()
	}
	if err := resp.Validate(); err != nil {
		run.mu.Unlock()
		return fmt.Errorf("invalid response: %w", err)
	}
	task.Status = goal.TaskCompleted
	run.outstanding--
	settled := run.outstanding == 0
	// Sent while holding run.mu so a deadline fan-in racing this report
	// either drains the response or rejects it, never drops it. The channel
	// is buffered to the task count; at most one send per task.
	run.respCh <- resp
	run.mu.Unlock()

	e.registry.DecOutstanding(resp.AgentID)
	if settled {
		run.cancel()
	}
	return nil
}

// CancelGoal aborts an in-flight goal. Pending tasks are marked cancelled
// and no decision is synthesized.
func (e *Engine) CancelGoal(goalID uuid.UUID) error {
	e.mu.Lock()
	run := e.runs[goalID]
	e.mu.Unlock()
	if run == nil {
		return ErrUnknownGoal
	}

	run.mu.Lock()
	if run.cancelled || run.g.Status == goal.Synthesized {
		run.mu.Unlock()
		return ErrUnknownGoal
	}
	run.cancelled = true
	run.mu.Unlock()

	run.cancel()
	<-run.done
	e.evict(goalID, uuid.Nil)
	return nil
}

// ReportTradeResult feeds an execution outcome for an emitted decision back
// into the learning loop and closes the goal, releasing its in-memory state.
// An exhausted durable write still closes the goal: the learning update was
// applied and the decision is flagged for reconciliation, so holding the goal
// open would only strand it.
func (e *Engine) ReportTradeResult(ctx context.Context, res feedback.TradeResult) error {
	e.mu.Lock()
	decision := e.emitted[res.DecisionID]
	var run *goalRun
	if decision != nil {
		run = e.runs[decision.GoalID]
	}
	e.mu.Unlock()
	if decision == nil {
		var err error
		decision, err = e.lookupDecision(ctx, res.DecisionID)
		if err != nil {
			return err
		}
	}

	err := e.loop.RecordOutcome(ctx, decision, res)
	if err != nil && !errors.Is(err, feedback.ErrPersistExhausted) {
		return err
	}
	if run != nil {
		run.mu.Lock()
		run.g.Status = goal.Closed
		run.mu.Unlock()
	}
	e.evict(decision.GoalID, res.DecisionID)
	return err
}

// Decision returns an emitted decision by ID, falling back to the decisions
// repository once the goal's in-memory state has been released.
func (e *Engine) Decision(ctx context.Context, id uuid.UUID) (*synth.Decision, error) {
	e.mu.Lock()
	d := e.emitted[id]
	e.mu.Unlock()
	if d != nil {
		return d, nil
	}
	return e.lookupDecision(ctx, id)
}

func (e *Engine) lookupDecision(ctx context.Context, id uuid.UUID) (*synth.Decision, error) {
	if e.decisions == nil {
		return nil, ErrUnknownDecision
	}
	rec, err := e.decisions.Get(ctx, id)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return nil, ErrUnknownDecision
		}
		return nil, fmt.Errorf("decision lookup failed: %w", err)
	}
	return decisionFromRecord(rec)
}

// evict drops the bookkeeping for a goal that reached a terminal state. The
// decision, if one was emitted, stays readable through the repository.
func (e *Engine) evict(goalID, decisionID uuid.UUID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if run, ok := e.runs[goalID]; ok {
		for taskID := range run.tasks {
			delete(e.taskGoal, taskID)
		}
		delete(e.runs, goalID)
	}
	if decisionID != uuid.Nil {
		delete(e.emitted, decisionID)
	}
}

// GoalStatus reports the current status of a submitted goal.
func (e *Engine) GoalStatus(goalID uuid.UUID) (goal.Status, bool) {
	e.mu.Lock()
	run := e.runs[goalID]
	e.mu.Unlock()
	if run == nil {
		return 0, false
	}
	run.mu.Lock()
	defer run.mu.Unlock()
	return run.g.Status, true
}

// persistDecision writes the decision row. Persistence failures are logged
// and do not block emission; the in-memory copy remains authoritative.
func (e *Engine) persistDecision(d *synth.Decision) {
	if e.decisions == nil {
		return
	}
	record, err := decisionRecord(d)
	if err != nil {
		log.Error().Err(err).Str("decision", d.ID.String()).Msg("decision encode failed")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.decisions.Insert(ctx, record); err != nil {
		log.Error().Err(err).Str("decision", d.ID.String()).Msg("decision persist failed")
	}
}

func decisionRecord(d *synth.Decision) (persistence.DecisionRecord, error) {
	params, err := json.Marshal(d.Params)
	if err != nil {
		return persistence.DecisionRecord{}, err
	}
	responses, err := json.Marshal(d.Responses)
	if err != nil {
		return persistence.DecisionRecord{}, err
	}
	rationale, err := json.Marshal(d.Rationale)
	if err != nil {
		return persistence.DecisionRecord{}, err
	}
	kinds, err := json.Marshal(d.SignalKinds)
	if err != nil {
		return persistence.DecisionRecord{}, err
	}
	return persistence.DecisionRecord{
		ID:          d.ID,
		GoalID:      d.GoalID,
		Action:      d.Action.String(),
		Confidence:  d.Confidence,
		Params:      params,
		Responses:   responses,
		Rationale:   rationale,
		SignalKinds: kinds,
		Vetoed:      d.Vetoed,
		Clipped:     d.Clipped,
		CreatedAt:   d.CreatedAt,
	}, nil
}

// decisionFromRecord rebuilds a decision from its durable row. It is the
// inverse of decisionRecord, used when serving audits for evicted goals.
func decisionFromRecord(rec persistence.DecisionRecord) (*synth.Decision, error) {
	action, err := synth.ParseAction(rec.Action)
	if err != nil {
		return nil, fmt.Errorf("stored decision %s: %w", rec.ID, err)
	}
	d := &synth.Decision{
		ID:         rec.ID,
		GoalID:     rec.GoalID,
		Action:     action,
		Confidence: rec.Confidence,
		Vetoed:     rec.Vetoed,
		Clipped:    rec.Clipped,
		CreatedAt:  rec.CreatedAt,
	}
	if len(rec.Params) > 0 {
		if err := json.Unmarshal(rec.Params, &d.Params); err != nil {
			return nil, fmt.Errorf("stored decision %s params: %w", rec.ID, err)
		}
	}
	if len(rec.Responses) > 0 {
		if err := json.Unmarshal(rec.Responses, &d.Responses); err != nil {
			return nil, fmt.Errorf("stored decision %s responses: %w", rec.ID, err)
		}
	}
	if len(rec.Rationale) > 0 {
		if err := json.Unmarshal(rec.Rationale, &d.Rationale); err != nil {
			return nil, fmt.Errorf("stored decision %s rationale: %w", rec.ID, err)
		}
	}
	if len(rec.SignalKinds) > 0 {
		if err := json.Unmarshal(rec.SignalKinds, &d.SignalKinds); err != nil {
			return nil, fmt.Errorf("stored decision %s signal kinds: %w", rec.ID, err)
		}
	}
	return d, nil
}

// collectedLocked drains any responses that raced the deadline into the
// collected slice and returns it. run.mu must be held.
func (run *goalRun) collectedLocked() []synth.Response {
	for {
		select {
		case resp := <-run.respCh:
			run.collected = append(run.collected, resp)
		default:
			return run.collected
		}
	}
}
