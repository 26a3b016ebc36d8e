// Package confidence implements the agent confidence update rule: a pure
// function of prior confidence, the worker's proposal, and sector state.
package confidence

import "github.com/sectorsim/tradesim/internal/domain"

// SectorTrend is the subset of sector state the update rule needs.
type SectorTrend struct {
	ChangePercent float64
	Volatility    float64
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// AlignmentWithTrend scores how well action agrees with the sector's
// current trend: BUY aligned with a positive changePercent, SELL with a
// negative one, HOLD with a near-flat trend (|changePercent| < 0.5).
func AlignmentWithTrend(action domain.ActionType, changePercent float64) float64 {
	switch action {
	case domain.ActionBuy:
		if changePercent > 0 {
			return clamp(changePercent*20, 0, 100)
		}
		return 0
	case domain.ActionSell:
		if changePercent < 0 {
			return clamp(-changePercent*20, 0, 100)
		}
		return 0
	default: // HOLD
		if changePercent > -0.5 && changePercent < 0.5 {
			return 100
		}
		return 0
	}
}

// Update implements the Phase-4 monotone assist rule: confidence
// never decreases within a round. When the LLM's own signal strength is at
// or below the prior, the agent is nudged up by a flat +2 instead of being
// pulled down toward the new signal; otherwise it jumps straight to the new
// signal. Phase 5 will replace this rule body with a bidirectional,
// data-driven update; the signature is deliberately unchanged so that swap
// is a one-function edit.
func Update(prior float64, proposal *domain.Proposal, trend SectorTrend) float64 {
	_ = trend // reserved for the Phase-5 bidirectional rule; unused here by design
	llmConfidence := clamp(proposal.EffectiveSignalStrength(), 1, 100)

	var next float64
	if llmConfidence <= prior {
		next = prior + 2
	} else {
		next = llmConfidence
	}
	return domain.ClampConfidence(next)
}
