package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/krakenfall/conclave/internal/agent"
	"github.com/krakenfall/conclave/internal/delegate"
)

// Config is the full engine configuration loaded from YAML.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Engine    EngineConfig    `yaml:"engine"`
	Weighting WeightingConfig `yaml:"weighting"`
	Market    MarketConfig    `yaml:"market"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Redis     RedisConfig     `yaml:"redis"`
	Roster    []AgentConfig   `yaml:"roster"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	RateLimit int    `yaml:"rate_limit"` // requests per second
	RateBurst int    `yaml:"rate_burst"`
}

// EngineConfig holds decision-cycle settings.
type EngineConfig struct {
	ConfidenceThreshold float64       `yaml:"confidence_threshold"`
	MaxExposure         float64       `yaml:"max_exposure"`
	RelevanceFloor      float64       `yaml:"relevance_floor"`
	TaskDeadline        time.Duration `yaml:"task_deadline"`
	GoalDeadline        time.Duration `yaml:"goal_deadline"`
	DelegationPolicy    string        `yaml:"delegation_policy"`
}

// WeightingConfig holds signal-weighting and learning settings.
type WeightingConfig struct {
	EMADecay       float64 `yaml:"ema_decay"`
	WindowSize     int     `yaml:"window_size"`
	SeasonBoost    float64 `yaml:"season_boost"`
	VolBoost       float64 `yaml:"vol_boost"`
	HighVolumeDamp float64 `yaml:"high_volume_damp"`
}

// MarketConfig holds market context refresh settings.
type MarketConfig struct {
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	FeedURL         string        `yaml:"feed_url"`
	CacheTTL        time.Duration `yaml:"cache_ttl"`
}

// PostgresConfig holds the decision store connection settings.
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// RedisConfig holds cache and stream connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Stream   string `yaml:"stream"`
}

// AgentConfig describes one roster entry.
type AgentConfig struct {
	ID             string  `yaml:"id"`
	Name           string  `yaml:"name"`
	Specialization string  `yaml:"specialization"`
	Weight         float64 `yaml:"weight"`
	MaxConcurrent  int     `yaml:"max_concurrent"`
}

// Default returns the built-in configuration; Load overlays the file on it.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:      "127.0.0.1",
			Port:      8090,
			RateLimit: 200,
			RateBurst: 50,
		},
		Engine: EngineConfig{
			ConfidenceThreshold: 0.7,
			MaxExposure:         1.0,
			RelevanceFloor:      0.4,
			TaskDeadline:        30 * time.Second,
			GoalDeadline:        60 * time.Second,
			DelegationPolicy:    "specialization_based",
		},
		Weighting: WeightingConfig{
			EMADecay:       0.9,
			WindowSize:     50,
			SeasonBoost:    0.3,
			VolBoost:       0.2,
			HighVolumeDamp: 0.8,
		},
		Market: MarketConfig{
			RefreshInterval: 15 * time.Second,
			CacheTTL:        time.Minute,
		},
		Redis: RedisConfig{
			Addr:   "localhost:6379",
			Stream: "conclave:decisions",
		},
		Roster: []AgentConfig{
			{ID: "strateg-1", Name: "Strateg", Specialization: "strategic", Weight: 0.40, MaxConcurrent: 8},
			{ID: "analityk-1", Name: "Analityk", Specialization: "analytical", Weight: 0.25, MaxConcurrent: 8},
			{ID: "quant-1", Name: "Quant", Specialization: "quantitative", Weight: 0.30, MaxConcurrent: 8},
			{ID: "nadzorca-1", Name: "Nadzorca", Specialization: "oversight", Weight: 0.05, MaxConcurrent: 8},
		},
	}
}

// Load reads a YAML config file over the defaults and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot safely run with.
func (c Config) Validate() error {
	if c.Engine.ConfidenceThreshold < 0 || c.Engine.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence_threshold %.3f out of [0,1]", c.Engine.ConfidenceThreshold)
	}
	if c.Engine.MaxExposure <= 0 {
		return fmt.Errorf("max_exposure must be positive")
	}
	if c.Engine.TaskDeadline <= 0 || c.Engine.GoalDeadline <= 0 {
		return fmt.Errorf("task_deadline and goal_deadline must be positive")
	}
	if c.Engine.TaskDeadline > c.Engine.GoalDeadline {
		return fmt.Errorf("task_deadline %s exceeds goal_deadline %s",
			c.Engine.TaskDeadline, c.Engine.GoalDeadline)
	}
	if _, err := delegate.ParsePolicy(c.Engine.DelegationPolicy); err != nil {
		return err
	}
	if c.Weighting.EMADecay < 0 || c.Weighting.EMADecay >= 1 {
		return fmt.Errorf("ema_decay %.3f out of [0,1)", c.Weighting.EMADecay)
	}
	if c.Weighting.WindowSize <= 0 {
		return fmt.Errorf("window_size must be positive")
	}
	roster, err := c.BuildRoster()
	if err != nil {
		return err
	}
	// Surfaces weight-sum and duplicate-id violations before startup.
	if _, err := agent.NewRegistry(roster); err != nil {
		return err
	}
	return nil
}

// BuildRoster converts the roster entries to validated agents. Weight-sum
// and specialization errors surface here, before the engine starts.
func (c Config) BuildRoster() ([]agent.Agent, error) {
	roster := make([]agent.Agent, 0, len(c.Roster))
	for _, ac := range c.Roster {
		spec, err := agent.ParseSpecialization(ac.Specialization)
		if err != nil {
			return nil, fmt.Errorf("agent %s: %w", ac.ID, err)
		}
		roster = append(roster, agent.Agent{
			ID:             ac.ID,
			Name:           ac.Name,
			Specialization: spec,
			Weight:         ac.Weight,
			MaxConcurrent:  ac.MaxConcurrent,
		})
	}
	return roster, nil
}

// Policy returns the parsed delegation policy. Call after Validate.
func (c Config) Policy() delegate.Policy {
	p, _ := delegate.ParsePolicy(c.Engine.DelegationPolicy)
	return p
}
