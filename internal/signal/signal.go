package signal

import (
	"fmt"
	"time"
)

// Kind enumerates the raw signal categories the engine understands.
type Kind int

const (
	VolumeSpike Kind = iota
	PriceMomentum
	HighLiquidity
	SocialSentiment
	WhaleTransfer
	ContractVerified
	DevActivity
	RugIndicator
	HoneypotIndicator
)

var kindNames = map[Kind]string{
	VolumeSpike:       "volume_spike",
	PriceMomentum:     "price_momentum",
	HighLiquidity:     "high_liquidity",
	SocialSentiment:   "social_sentiment",
	WhaleTransfer:     "whale_transfer",
	ContractVerified:  "contract_verified",
	DevActivity:       "dev_activity",
	RugIndicator:      "rug_indicator",
	HoneypotIndicator: "honeypot_indicator",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// ParseKind converts a wire/config name to a Kind.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown signal kind: %q", s)
}

// Kinds returns all known kinds.
func Kinds() []Kind {
	out := make([]Kind, 0, len(kindNames))
	for k := VolumeSpike; k <= HoneypotIndicator; k++ {
		out = append(out, k)
	}
	return out
}

// Signal is one raw indicator about a trading opportunity. Immutable once
// created; weighting produces a separate Enhanced value.
type Signal struct {
	Kind      Kind      `json:"kind"`
	Strength  float64   `json:"strength"` // 0.0-1.0
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

// Validate rejects malformed signals at ingestion so they never enter the
// weighting pipeline.
func (s Signal) Validate() error {
	if _, ok := kindNames[s.Kind]; !ok {
		return fmt.Errorf("unknown signal kind: %d", s.Kind)
	}
	if s.Strength < 0 || s.Strength > 1 {
		return fmt.Errorf("signal strength %.4f out of [0,1]", s.Strength)
	}
	if s.Timestamp.IsZero() {
		return fmt.Errorf("signal missing timestamp")
	}
	return nil
}

// Enhanced wraps a Signal with derived weight, performance-adjusted
// confidence, and a market-relevance score. Created per weighting pass and
// not persisted beyond the decision it feeds.
type Enhanced struct {
	Signal     Signal  `json:"signal"`
	Weight     float64 `json:"weight"`     // may be negative for risk kinds
	Confidence float64 `json:"confidence"` // 0.0-1.0
	Relevance  float64 `json:"relevance"`  // 0.0-1.0, secondary filter
}
