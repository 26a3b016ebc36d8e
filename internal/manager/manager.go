// Package manager implements the manager agent's evaluation loop: it
// decides whether a checklist item should be approved, rejected, or sent
// back for revision, and owns the refinement-cycle cap.
package manager

import (
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sectorsim/tradesim/internal/domain"
	"github.com/sectorsim/tradesim/internal/metrics"
)

// hardConstraintKeywords are the rejection-reason substrings that promote
// a rejection straight to ACCEPT_REJECTION, bypassing the refinement
// cycle entirely.
var hardConstraintKeywords = []string{
	"forbidden", "not allowed", "policy violation", "banned", "prohibited", "hard constraint",
}

// riskTooHighKeywords are the substrings that trigger the halving rule on
// revision.
var riskTooHighKeywords = []string{"too risky", "risk too high", "excessive risk"}

// riskThreshold is the sector risk score above which a revision is
// automatically tagged as risk-too-high even without a keyword hit.
const riskThreshold = 75.0

// HasHardConstraintViolation reports whether reason names a non-negotiable
// policy violation.
func HasHardConstraintViolation(reason string) bool {
	return containsAny(reason, hardConstraintKeywords)
}

// IsRiskTooHigh reports whether reason or the sector's own risk score
// indicates the item should be halved on revision.
func IsRiskTooHigh(reason string, sector *domain.Sector) bool {
	if containsAny(reason, riskTooHighKeywords) {
		return true
	}
	return sector != nil && sector.RiskScore > riskThreshold
}

func containsAny(s string, needles []string) bool {
	lower := strings.ToLower(s)
	for _, n := range needles {
		if strings.Contains(lower, n) {
			return true
		}
	}
	return false
}

// Engine evaluates checklist items and gates discussion eligibility.
type Engine struct {
	log zerolog.Logger
}

// New returns a ready-to-use Engine.
func New() *Engine {
	return &Engine{log: log.With().Str("component", "manager").Logger()}
}

// CheckEligibility implements the eligibility gate shared by StartDiscussion
// and the scheduler: no active discussion, positive balance,
// every worker's confidence at or above the gating threshold.
func (e *Engine) CheckEligibility(sector *domain.Sector, workers []domain.Agent, hasActiveDiscussion bool) error {
	if hasActiveDiscussion {
		return domain.ContentionError("sector already has an active discussion")
	}
	if sector.Balance <= 0 {
		return domain.ValidationError("balance", "sector balance must be positive to start a discussion")
	}
	for _, w := range workers {
		if w.Confidence < domain.GatingThreshold {
			return domain.ValidationError("confidence", "worker confidence below gating threshold")
		}
	}
	return nil
}

// Decision is the manager's verdict on one checklist item before the
// refinement-cap and hard-constraint rules are layered on top.
type Decision struct {
	Status domain.ChecklistStatus
	Reason string
}

// lowConfidenceFloor is the confidence below which the manager rejects an
// item outright instead of inviting a revision (no plausible revision
// would clear the gating threshold).
const lowConfidenceFloor = 10.0

// evaluateRaw produces the manager's first-pass verdict, before cap and
// hard-constraint promotion are applied. A higher confidence and a
// reasonable allocation earn approval; a critically low confidence is
// rejected outright; everything else needs revision.
func evaluateRaw(item *domain.ChecklistItem, sector *domain.Sector) Decision {
	if item.ActionType == domain.ActionHold {
		return Decision{Status: domain.StatusApproved, Reason: "HOLD requires no execution"}
	}
	if item.Confidence < lowConfidenceFloor {
		return Decision{Status: domain.StatusRejected, Reason: "confidence critically low"}
	}
	if IsRiskTooHigh("", sector) {
		return Decision{Status: domain.StatusReviseRequired, Reason: "too risky for current sector volatility"}
	}
	if item.Confidence >= domain.GatingThreshold && item.AllocationPercent > 0 && item.AllocationPercent <= 50 {
		return Decision{Status: domain.StatusApproved, Reason: "confidence and allocation within policy"}
	}
	if item.AllocationPercent > 50 {
		return Decision{Status: domain.StatusReviseRequired, Reason: "allocation exceeds single-item policy limit"}
	}
	return Decision{Status: domain.StatusReviseRequired, Reason: "confidence below policy threshold"}
}

// Evaluate runs evaluateRaw and then applies the hard-constraint and
// refinement-cap rules, mutating item in place and returning the reason
// recorded for this evaluation. Apart from the discussion engine marking
// an APPROVED item REJECTED when its execution fails, this is the only
// path that changes a checklist item's status once it leaves PENDING.
func (e *Engine) Evaluate(discussion *domain.Discussion, item *domain.ChecklistItem, sector *domain.Sector) string {
	start := time.Now()
	defer func() {
		metrics.RecordManagerDecision(float64(time.Since(start).Milliseconds()))
		if item.Status.IsTerminal() {
			metrics.RecordChecklistItem(string(item.Status))
		}
	}()

	decision := evaluateRaw(item, sector)

	if decision.Status != domain.StatusApproved && (HasHardConstraintViolation(decision.Reason) || HasHardConstraintViolation(item.Rationale)) {
		decision.Status = domain.StatusAcceptRejection
		decision.Reason = "hard constraint violation: " + decision.Reason
	}

	if decision.Status == domain.StatusReviseRequired {
		cycle := discussion.ActiveRefinementCycles[item.ID]
		if cycle == nil {
			cycle = &domain.RefinementCycle{ChecklistItemID: item.ID, StartedAt: time.Now()}
			if discussion.ActiveRefinementCycles == nil {
				discussion.ActiveRefinementCycles = make(map[string]*domain.RefinementCycle)
			}
			discussion.ActiveRefinementCycles[item.ID] = cycle
		}
		cycle.RoundsUsed++
		cycle.LastReason = decision.Reason
		item.RevisionCount = cycle.RoundsUsed

		if cycle.RoundsUsed >= domain.MaxRefinementRounds {
			decision.Status = domain.StatusAcceptRejection
			delete(discussion.ActiveRefinementCycles, item.ID)
		} else if IsRiskTooHigh(decision.Reason, sector) {
			item.Amount /= 2
			item.Confidence = domain.ClampConfidence(item.Confidence - 5)
		}
	}

	item.Status = decision.Status
	item.UpdatedAt = time.Now()
	item.RefinementLog = append(item.RefinementLog, domain.RefinementEntry{
		Round:     discussion.CurrentRound,
		Reason:    decision.Reason,
		Action:    actionLabel(decision.Status),
		Timestamp: item.UpdatedAt,
	})
	discussion.ManagerDecisions = append(discussion.ManagerDecisions, domain.ManagerDecision{
		ChecklistItemID: item.ID,
		Decision:        decision.Status,
		Reason:          decision.Reason,
		Timestamp:       item.UpdatedAt,
	})

	e.log.Info().Str("discussionId", discussion.ID).Str("itemId", item.ID).
		Str("status", string(decision.Status)).Str("reason", decision.Reason).Msg("manager evaluated checklist item")

	return decision.Reason
}

func actionLabel(status domain.ChecklistStatus) string {
	switch status {
	case domain.StatusApproved:
		return "approve"
	case domain.StatusAcceptRejection:
		return "accept_rejection"
	case domain.StatusReviseRequired:
		return "revise"
	default:
		return "reject"
	}
}

// CanDiscussionClose reports whether every item in discussion is in a
// terminal status and every APPROVED item already has a matching entry in
// executedItemIDs.
func (e *Engine) CanDiscussionClose(discussion *domain.Discussion, executedItemIDs map[string]bool) bool {
	for i := range discussion.Checklist {
		item := &discussion.Checklist[i]
		if !item.Status.IsTerminal() {
			return false
		}
		if item.Status == domain.StatusApproved && !executedItemIDs[item.ID] {
			return false
		}
	}
	return true
}
