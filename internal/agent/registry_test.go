package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRoster() []Agent {
	return []Agent{
		{ID: "strateg-1", Name: "Strateg", Specialization: Strategic, Weight: 0.40, MaxConcurrent: 10},
		{ID: "analyst-1", Name: "Analyst", Specialization: Analytical, Weight: 0.25, MaxConcurrent: 5},
		{ID: "quant-1", Name: "Quant", Specialization: Quantitative, Weight: 0.30, MaxConcurrent: 8},
		{ID: "guardian-1", Name: "Guardian", Specialization: Oversight, Weight: 0.05, MaxConcurrent: 3},
	}
}

func TestNewRegistry_ValidRoster(t *testing.T) {
	reg, err := NewRegistry(testRoster())
	require.NoError(t, err)
	assert.Len(t, reg.Agents(), 4)

	a, err := reg.Get("quant-1")
	require.NoError(t, err)
	assert.Equal(t, Quantitative, a.Specialization)
	assert.Equal(t, 0.30, a.Weight)
}

func TestNewRegistry_WeightSumViolation(t *testing.T) {
	roster := testRoster()
	roster[0].Weight = 0.50 // Sum becomes 1.10

	_, err := NewRegistry(roster)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrWeightSum)
}

func TestNewRegistry_WeightSumWithinEpsilon(t *testing.T) {
	roster := testRoster()
	roster[0].Weight = 0.4000000001 // off by 1e-10, inside the epsilon

	_, err := NewRegistry(roster)
	assert.NoError(t, err)
}

func TestNewRegistry_EmptyRoster(t *testing.T) {
	_, err := NewRegistry(nil)
	assert.ErrorIs(t, err, ErrEmptyRoster)
}

func TestNewRegistry_DuplicateID(t *testing.T) {
	roster := testRoster()
	roster[1].ID = "strateg-1"

	_, err := NewRegistry(roster)
	assert.Error(t, err)
}

func TestRegistry_BySpecialization(t *testing.T) {
	reg, err := NewRegistry(testRoster())
	require.NoError(t, err)

	guardians := reg.BySpecialization(Oversight)
	require.Len(t, guardians, 1)
	assert.Equal(t, "guardian-1", guardians[0].ID)
	assert.True(t, guardians[0].Specialization.CanVeto())

	quants := reg.BySpecialization(Quantitative)
	require.Len(t, quants, 1)
	assert.False(t, quants[0].Specialization.CanVeto())
}

func TestRegistry_OutstandingCounts(t *testing.T) {
	reg, err := NewRegistry(testRoster())
	require.NoError(t, err)

	reg.IncOutstanding("quant-1")
	reg.IncOutstanding("quant-1")
	assert.Equal(t, 2, reg.Outstanding("quant-1"))

	reg.DecOutstanding("quant-1")
	assert.Equal(t, 1, reg.Outstanding("quant-1"))

	// Never goes negative
	reg.DecOutstanding("quant-1")
	reg.DecOutstanding("quant-1")
	assert.Equal(t, 0, reg.Outstanding("quant-1"))
}

func TestParseSpecialization(t *testing.T) {
	cases := map[string]Specialization{
		"strategic":    Strategic,
		"analytical":   Analytical,
		"quantitative": Quantitative,
		"oversight":    Oversight,
	}
	for in, want := range cases {
		got, err := ParseSpecialization(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
		assert.Equal(t, in, got.String())
	}

	_, err := ParseSpecialization("janitor")
	assert.Error(t, err)
}

func TestDefaultWeightsSumToOne(t *testing.T) {
	sum := Strategic.DefaultWeight() + Analytical.DefaultWeight() +
		Quantitative.DefaultWeight() + Oversight.DefaultWeight()
	assert.InDelta(t, 1.0, sum, WeightEpsilon)
}
