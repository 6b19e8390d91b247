package market

import (
	"fmt"
	"time"
)

// VolumeTrend classifies the direction of aggregate market volume.
type VolumeTrend int

const (
	VolumeStable VolumeTrend = iota
	VolumeIncreasing
	VolumeDecreasing
)

func (v VolumeTrend) String() string {
	switch v {
	case VolumeIncreasing:
		return "increasing"
	case VolumeDecreasing:
		return "decreasing"
	case VolumeStable:
		return "stable"
	default:
		return "unknown"
	}
}

// Context is the market regime snapshot consumed by every weighting pass.
// It is written only by the Store refresher; readers get value copies, so a
// snapshot stays coherent for the duration of one decision.
type Context struct {
	Volatility   float64     `json:"volatility"`    // 0.0-1.0
	HighActivity bool        `json:"high_activity"` // heightened-activity season
	RiskAppetite float64     `json:"risk_appetite"` // 0.0-1.0
	VolumeTrend  VolumeTrend `json:"volume_trend"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// Valid reports whether the snapshot carries usable values. Weighting falls
// back to static base weights when this is false.
func (c Context) Valid() bool {
	if c.UpdatedAt.IsZero() {
		return false
	}
	if c.Volatility < 0 || c.Volatility > 1 {
		return false
	}
	if c.RiskAppetite < 0 || c.RiskAppetite > 1 {
		return false
	}
	return true
}

func (c Context) String() string {
	return fmt.Sprintf("vol=%.2f season=%t appetite=%.2f volume=%s",
		c.Volatility, c.HighActivity, c.RiskAppetite, c.VolumeTrend)
}
