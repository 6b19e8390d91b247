package signal

// baseWeights is the static per-kind weight table. Negative weights mark
// risk-indicating kinds; the sign is never flipped by any adjustment.
var baseWeights = map[Kind]float64{
	VolumeSpike:       0.70,
	PriceMomentum:     0.65,
	HighLiquidity:     0.70,
	SocialSentiment:   0.50,
	WhaleTransfer:     0.60,
	ContractVerified:  0.40,
	DevActivity:       0.30,
	RugIndicator:      -0.90,
	HoneypotIndicator: -0.95,
}

// BaseWeight returns the static weight for a kind.
func BaseWeight(k Kind) float64 {
	return baseWeights[k]
}

// isMomentumClass marks kinds boosted under high volatility: spikes and
// momentum carry more information when the market is moving.
func isMomentumClass(k Kind) bool {
	switch k {
	case VolumeSpike, PriceMomentum, WhaleTransfer:
		return true
	}
	return false
}

// isVolumeClass marks kinds dampened when volume is already elevated.
func isVolumeClass(k Kind) bool {
	return k == VolumeSpike
}

// isSeasonCorrelated marks kinds that fire more meaningfully during a
// heightened-activity season.
func isSeasonCorrelated(k Kind) bool {
	switch k {
	case VolumeSpike, PriceMomentum, WhaleTransfer, HighLiquidity:
		return true
	}
	return false
}

// isSentimentClass marks social/sentiment kinds, which get the smaller
// season boost.
func isSentimentClass(k Kind) bool {
	switch k {
	case SocialSentiment, DevActivity:
		return true
	}
	return false
}

// isRiskClass marks kinds whose base weight is negative.
func isRiskClass(k Kind) bool {
	return baseWeights[k] < 0
}
