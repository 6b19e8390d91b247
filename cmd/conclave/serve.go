package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	redisv8 "github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	redisv9 "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/time/rate"

	"github.com/krakenfall/conclave/internal/agent"
	"github.com/krakenfall/conclave/internal/config"
	"github.com/krakenfall/conclave/internal/delegate"
	"github.com/krakenfall/conclave/internal/engine"
	"github.com/krakenfall/conclave/internal/feedback"
	"github.com/krakenfall/conclave/internal/goal"
	httpapi "github.com/krakenfall/conclave/internal/interfaces/http"
	"github.com/krakenfall/conclave/internal/market"
	"github.com/krakenfall/conclave/internal/perf"
	"github.com/krakenfall/conclave/internal/persistence"
	"github.com/krakenfall/conclave/internal/persistence/postgres"
	"github.com/krakenfall/conclave/internal/signal"
	"github.com/krakenfall/conclave/internal/synth"
)

const repoTimeout = 5 * time.Second

// policyFlag is a pflag.Value that validates the delegation policy at parse
// time instead of at startup.
type policyFlag struct {
	value string
}

func (p *policyFlag) String() string { return p.value }
func (p *policyFlag) Type() string   { return "policy" }

func (p *policyFlag) Set(s string) error {
	if _, err := delegate.ParsePolicy(s); err != nil {
		return err
	}
	p.value = s
	return nil
}

var _ pflag.Value = (*policyFlag)(nil)

func serveCmd() *cobra.Command {
	var (
		configPath string
		simulate   bool
		simDelay   time.Duration
		policy     policyFlag
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the decision engine and its HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, simulate, simDelay, policy.value)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML config (defaults apply when omitted)")
	cmd.Flags().BoolVar(&simulate, "simulate", false, "answer assignments with a simulated agent fleet")
	cmd.Flags().DurationVar(&simDelay, "sim-delay", 250*time.Millisecond, "simulated agent response delay")
	cmd.Flags().Var(&policy, "policy", "delegation policy override (best_available, load_balanced, specialization_based, performance_based)")
	return cmd
}

func runServe(ctx context.Context, configPath string, simulate bool, simDelay time.Duration, policy string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if policy != "" {
		cfg.Engine.DelegationPolicy = policy
	}

	roster, err := cfg.BuildRoster()
	if err != nil {
		return err
	}
	registry, err := agent.NewRegistry(roster)
	if err != nil {
		return err
	}

	tracker := perf.NewTracker(cfg.Weighting.EMADecay, cfg.Weighting.WindowSize)

	weightCfg := signal.DefaultEngineConfig()
	weightCfg.VolatilityBoost = cfg.Weighting.VolBoost
	weightCfg.SeasonBoost = cfg.Weighting.SeasonBoost
	weightCfg.HighVolumeDamp = cfg.Weighting.HighVolumeDamp
	weighting := signal.NewEngine(weightCfg, tracker)

	// Market context: live websocket feed when configured, neutral inputs
	// otherwise (weights then pass through unadjusted).
	var inputs market.Inputs = neutralInputs{}
	if cfg.Market.FeedURL != "" {
		feed := market.NewWSFeed(cfg.Market.FeedURL, 120)
		go feed.Run(ctx)
		inputs = feed
	}

	var storeOpts []market.StoreOption
	var rdb8 *redisv8.Client
	var rdb9 *redisv9.Client
	if cfg.Redis.Addr != "" {
		rdb8 = redisv8.NewClient(&redisv8.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb8.Close()
		storeOpts = append(storeOpts, market.WithSnapshotCache(
			market.NewSnapshotCache(rdb8, cfg.Market.CacheTTL)))

		rdb9 = redisv9.NewClient(&redisv9.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb9.Close()
	}

	store := market.NewStore(inputs, cfg.Market.RefreshInterval, storeOpts...)
	go store.Run(ctx)

	var decisionsRepo persistence.DecisionsRepo
	var perfRepo persistence.PerformanceRepo
	if cfg.Postgres.DSN != "" {
		db, err := sqlx.Connect("postgres", cfg.Postgres.DSN)
		if err != nil {
			return fmt.Errorf("postgres connect: %w", err)
		}
		defer db.Close()
		decisionsRepo = postgres.NewDecisionsRepo(db, repoTimeout)
		perfRepo = postgres.NewPerformanceRepo(db, repoTimeout)
	} else {
		log.Warn().Msg("no postgres dsn configured; running memory-only")
	}

	var emitter engine.DecisionEmitter
	var gateway engine.AgentGateway
	if rdb9 != nil {
		emitter = feedback.NewEmitter(rdb9, cfg.Redis.Stream)
		gateway = engine.NewStreamGateway(rdb9, engine.DefaultTaskStream)
	}

	metrics := httpapi.NewMetricsRegistry()

	// The simulated fleet responds through the engine itself, which does not
	// exist yet here; bind it through a late-bound pointer.
	var eng *engine.Engine
	if simulate || gateway == nil {
		gateway = engine.NewSimGateway(func(resp synth.Response) error {
			return eng.ReportAgentResponse(resp)
		}, simDelay)
		log.Info().Dur("delay", simDelay).Msg("simulated agent fleet enabled")
	}

	eng = engine.New(engine.Config{
		TaskDeadline: cfg.Engine.TaskDeadline,
		GoalDeadline: cfg.Engine.GoalDeadline,
		Policy:       cfg.Policy(),
	}, engine.Deps{
		Registry:   registry,
		Decomposer: goal.NewDecomposer(),
		Delegator:  delegate.NewDelegator(registry, tracker),
		Synthesizer: synth.NewSynthesizer(synth.Config{
			ConfidenceThreshold: cfg.Engine.ConfidenceThreshold,
			MaxExposure:         cfg.Engine.MaxExposure,
			RelevanceFloor:      cfg.Engine.RelevanceFloor,
		}, registry),
		Weighting: weighting,
		Market:    store,
		Feedback:  feedback.NewLoop(feedback.DefaultConfig(), tracker, decisionsRepo, perfRepo),
		Decisions: decisionsRepo,
		Gateway:   gateway,
		Emitter:   emitter,
		Hooks:     httpHooks(metrics),
	})

	serverCfg := httpapi.DefaultServerConfig()
	serverCfg.Host = cfg.Server.Host
	serverCfg.Port = cfg.Server.Port
	serverCfg.RateLimit = rate.Limit(cfg.Server.RateLimit)
	serverCfg.RateBurst = cfg.Server.RateBurst

	server := httpapi.NewServer(serverCfg, httpapi.NewHandlers(eng, store, metrics), metrics)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	log.Info().
		Str("version", version).
		Int("agents", len(roster)).
		Str("policy", cfg.Engine.DelegationPolicy).
		Msg("conclave running")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// httpHooks binds engine lifecycle events to the Prometheus registry.
func httpHooks(m *httpapi.MetricsRegistry) engine.Hooks {
	return engine.Hooks{
		OnDecision: func(d *synth.Decision, synthesisTime time.Duration) {
			m.DecisionsTotal.WithLabelValues(d.Action.String(), strconv.FormatBool(d.Vetoed)).Inc()
			m.SynthesisTime.Observe(synthesisTime.Seconds())
		},
		OnTaskTimeout: func(_, _ uuid.UUID) {
			m.TaskTimeouts.Inc()
		},
		OnGoalOpened: func() { m.GoalsActive.Inc() },
		OnGoalClosed: func() { m.GoalsActive.Dec() },
	}
}

// neutralInputs supplies a flat market when no feed is configured.
type neutralInputs struct{}

func (neutralInputs) RealizedVolatility(context.Context) (float64, error) { return 0.5, nil }
func (neutralInputs) VolumeTrend(context.Context) (market.VolumeTrend, error) {
	return market.VolumeStable, nil
}
func (neutralInputs) RiskAppetite(context.Context) (float64, error) { return 0.5, nil }
func (neutralInputs) SeasonActive(context.Context) (bool, error)    { return false, nil }
