package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sectorsim/tradesim/internal/domain"
)

// testResult is one named property check against a live discussion.
type testResult struct {
	Property string `json:"property"`
	Passed   bool   `json:"passed"`
	Detail   string `json:"detail,omitempty"`
}

// handleValidateInvariants implements GET /discussions/:id/validate-invariants.
// It checks the discussion against the testable properties that are
// verifiable from persisted state alone, surfacing both a machine-checkable
// `valid` flag and a named test-by-test breakdown.
func (s *Server) handleValidateInvariants(c *gin.Context) {
	d, err := s.store.Discussions().Get(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	sector, err := s.store.Sectors().Get(d.SectorID)
	if err != nil {
		fail(c, err)
		return
	}
	trades, err := s.store.ExecutionLog(sector.ID).List()
	if err != nil {
		fail(c, err)
		return
	}
	tradedItems := map[string]bool{}
	for _, t := range trades {
		tradedItems[t.ItemID] = true
	}

	var results []testResult
	var violations []string

	record := func(property string, passed bool, detail string) {
		results = append(results, testResult{Property: property, Passed: passed, Detail: detail})
		if !passed {
			violations = append(violations, fmt.Sprintf("%s: %s", property, detail))
		}
	}

	// Terminal discussion has no PENDING/REVISE_REQUIRED items.
	if d.Status.IsTerminal() {
		record("terminal-status-no-pending", !d.HasPendingOrRevising(), "terminal discussion still has a PENDING or REVISE_REQUIRED item")
	} else {
		record("terminal-status-no-pending", true, "discussion is not terminal; property vacuously holds")
	}

	// At most one checklist item per (agent, round).
	seen := map[string]bool{}
	dup := false
	for _, item := range d.Checklist {
		if item.Round == nil {
			continue
		}
		key := fmt.Sprintf("%s#%d", item.SourceAgentID, *item.Round)
		if seen[key] {
			dup = true
			break
		}
		seen[key] = true
	}
	record("one-checklist-item-per-agent-round", !dup, "duplicate checklist item for the same (agent, round) pair")

	// Every APPROVED item has a matching trade in the execution log.
	approvedWithoutTrade := false
	for _, item := range d.Checklist {
		if item.Status == domain.StatusApproved && item.ActionType != domain.ActionHold && !tradedItems[item.ID] {
			approvedWithoutTrade = true
			break
		}
	}
	record("approved-items-have-trades", !approvedWithoutTrade, "an APPROVED non-HOLD item has no matching trade in the execution log")

	// Refinement cap respected.
	capViolated := false
	for _, item := range d.Checklist {
		if item.RevisionCount > domain.MaxRefinementRounds {
			capViolated = true
			break
		}
		if item.RevisionCount >= domain.MaxRefinementRounds && item.Status == domain.StatusReviseRequired {
			capViolated = true
			break
		}
	}
	record("refinement-cap-respected", !capViolated, "an item exceeded the refinement cap without collapsing to ACCEPT_REJECTION")

	// Every checklist item's symbol is in the sector's allowed set.
	badSymbol := false
	for _, item := range d.Checklist {
		// A symbol-less HOLD (the builder's rejected-proposal fallback) has
		// nothing to trade and is exempt.
		if item.ActionType == domain.ActionHold && item.Symbol == "" {
			continue
		}
		if !sector.AllowsSymbol(item.Symbol) {
			badSymbol = true
			break
		}
	}
	record("checklist-symbols-allowed", !badSymbol, "a checklist item's symbol is not in the sector's allowed-symbol set")

	// At most one active discussion per sector (checked against
	// the sibling discussions sharing this sector, not just this record).
	siblings, err := s.store.Discussions().ListBySector(d.SectorID)
	activeCount := 0
	if err == nil {
		for _, sib := range siblings {
			if sib.Status.IsActive() {
				activeCount++
			}
		}
	}
	record("at-most-one-active-discussion-per-sector", activeCount <= 1, fmt.Sprintf("sector has %d concurrently active discussions", activeCount))

	ok(c, http.StatusOK, gin.H{
		"valid":       len(violations) == 0,
		"violations":  violations,
		"testResults": results,
	})
}
