package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krakenfall/conclave/internal/delegate"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "conclave.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultsValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 0.7, cfg.Engine.ConfidenceThreshold)
	assert.Equal(t, 0.9, cfg.Weighting.EMADecay)
	assert.Equal(t, delegate.SpecializationBased, cfg.Policy())

	roster, err := cfg.BuildRoster()
	require.NoError(t, err)
	assert.Len(t, roster, 4)
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
engine:
  confidence_threshold: 0.8
  max_exposure: 0.5
  task_deadline: 10s
  goal_deadline: 20s
  delegation_policy: performance_based
server:
  port: 9000
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 0.8, cfg.Engine.ConfidenceThreshold)
	assert.Equal(t, 0.5, cfg.Engine.MaxExposure)
	assert.Equal(t, 10*time.Second, cfg.Engine.TaskDeadline)
	assert.Equal(t, delegate.PerformanceBased, cfg.Policy())
	assert.Equal(t, 9000, cfg.Server.Port)
	// Untouched sections keep their defaults.
	assert.Equal(t, 0.9, cfg.Weighting.EMADecay)
	assert.Len(t, cfg.Roster, 4)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidateRejectsBadRosterWeights(t *testing.T) {
	path := writeConfig(t, `
roster:
  - id: a
    name: A
    specialization: strategic
    weight: 0.9
    max_concurrent: 4
  - id: b
    name: B
    specialization: oversight
    weight: 0.2
    max_concurrent: 4
`)
	_, err := Load(path)
	assert.Error(t, err, "roster weights summing to 1.1 must be fatal")
}

func TestValidateRejectsUnknownSpecialization(t *testing.T) {
	path := writeConfig(t, `
roster:
  - id: a
    name: A
    specialization: astrologer
    weight: 1.0
    max_concurrent: 4
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateRejectsBadRanges(t *testing.T) {
	cases := map[string]func(*Config){
		"threshold above one":       func(c *Config) { c.Engine.ConfidenceThreshold = 1.2 },
		"zero exposure":             func(c *Config) { c.Engine.MaxExposure = 0 },
		"decay at one":              func(c *Config) { c.Weighting.EMADecay = 1.0 },
		"task deadline beyond goal": func(c *Config) { c.Engine.TaskDeadline = 2 * c.Engine.GoalDeadline },
		"unknown delegation policy": func(c *Config) { c.Engine.DelegationPolicy = "dartboard" },
		"non-positive window":       func(c *Config) { c.Weighting.WindowSize = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
