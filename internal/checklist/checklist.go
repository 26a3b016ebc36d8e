// Package checklist builds and validates ChecklistItems: the executable
// payload the manager engine evaluates.
package checklist

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sectorsim/tradesim/internal/domain"
	"github.com/sectorsim/tradesim/internal/validation"
)

// RawItem is the loosely-typed input ValidateChecklistItem accepts: either
// an API caller's request body or a Proposal flattened by the adapter.
type RawItem struct {
	ID                string
	SourceAgentID     string
	ActionType        string
	Symbol            string
	Amount            float64
	AllocationPercent float64
	Confidence        float64
	Rationale         string
	Reasoning         string // alias for Rationale,
	Status            string
	Round             *int
}

// Options tunes the validation rules that vary by caller.
type Options struct {
	AllowedSymbols      map[string]bool
	AllowZeroAmount     bool
	AllowZeroAllocation bool
}

// ValidateChecklistItem applies the validation rules: the generic field
// checks (required strings, enum membership, numeric ranges) run through
// the shared Validator and the first accumulated error is surfaced as a
// domain.ValidationError; the domain-shaped rules (allowed-set membership,
// the BUY/SELL-vs-HOLD conditions) follow, failing fast in order.
func ValidateChecklistItem(raw RawItem, opts Options) (*domain.ChecklistItem, error) {
	canonical := strings.ToUpper(strings.TrimSpace(raw.ActionType))

	v := validation.NewValidator()
	v.Required("id", raw.ID)
	v.Required("sourceAgentId", raw.SourceAgentID)
	v.OneOf("actionType", canonical, []string{string(domain.ActionBuy), string(domain.ActionSell), string(domain.ActionHold)})
	v.MinValue("allocationPercent", raw.AllocationPercent, 0)
	v.MaxValue("allocationPercent", raw.AllocationPercent, 100)
	v.NonNegative("amount", raw.Amount)
	v.MinValue("confidence", raw.Confidence, 0)
	v.MaxValue("confidence", raw.Confidence, 100)
	if v.HasErrors() {
		first := v.Errors()[0]
		return nil, domain.ValidationError(first.Field, first.Message)
	}

	action := domain.NormalizeActionType(canonical)

	symbol := strings.ToUpper(strings.TrimSpace(raw.Symbol))
	if opts.AllowedSymbols != nil && !opts.AllowedSymbols[symbol] {
		return nil, domain.ValidationError("symbol", "symbol not in sector's allowed-symbol set")
	}

	if raw.AllocationPercent == 0 && action != domain.ActionHold && !opts.AllowZeroAllocation {
		return nil, domain.ValidationError("allocationPercent", "must be > 0 for BUY/SELL unless allowZeroAllocation")
	}
	if raw.Amount == 0 && action != domain.ActionHold && raw.AllocationPercent > 0 && !opts.AllowZeroAmount {
		return nil, domain.ValidationError("amount", "must be > 0 for BUY/SELL when allocationPercent > 0")
	}

	rationale := strings.TrimSpace(raw.Rationale)
	if rationale == "" {
		rationale = strings.TrimSpace(raw.Reasoning)
	}
	if rationale == "" {
		return nil, domain.ValidationError("rationale", "must be non-empty (reasoning accepted as alias)")
	}

	status := domain.NormalizeChecklistStatus(raw.Status)

	now := time.Now()
	return &domain.ChecklistItem{
		ID:                raw.ID,
		SourceAgentID:     raw.SourceAgentID,
		ActionType:        action,
		Symbol:            symbol,
		Amount:            raw.Amount,
		AllocationPercent: raw.AllocationPercent,
		Confidence:        raw.Confidence,
		Rationale:         rationale,
		Status:            status,
		Round:             raw.Round,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

// CreateChecklistFromProposal is the only sanctioned path from a Proposal
// to a ChecklistItem. It never drops a proposal: an invalid one
// still produces a REJECTED item so per-round accounting and provenance
// stay exact.
func CreateChecklistFromProposal(proposal *domain.Proposal, agentID string, round int, opts Options) *domain.ChecklistItem {
	raw := RawItem{
		ID:                uuid.NewString(),
		SourceAgentID:     agentID,
		ActionType:        string(proposal.Action),
		Symbol:            proposal.Symbol,
		Amount:            proposal.AllocationPercent, // amount derived from allocation at the adapter boundary
		AllocationPercent: proposal.AllocationPercent,
		Confidence:        proposal.Confidence,
		Rationale:         proposal.Reasoning,
		Status:            string(domain.StatusPending),
		Round:             &round,
	}

	item, err := ValidateChecklistItem(raw, opts)
	if err == nil {
		return item
	}

	// The fallback item is a non-executable HOLD; a symbol that failed the
	// allowed-set check is dropped here (the rejection rationale still
	// names the failing rule) so persisted items never carry a symbol the
	// sector does not trade.
	symbol := strings.ToUpper(strings.TrimSpace(proposal.Symbol))
	if opts.AllowedSymbols != nil && !opts.AllowedSymbols[symbol] {
		symbol = ""
	}

	now := time.Now()
	return &domain.ChecklistItem{
		ID:                raw.ID,
		SourceAgentID:     agentID,
		ActionType:        domain.ActionHold,
		Symbol:            symbol,
		Amount:            0,
		AllocationPercent: 0,
		Confidence:        proposal.Confidence,
		Rationale:         "rejected: " + err.Error(),
		Status:            domain.StatusRejected,
		Round:             &round,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}
