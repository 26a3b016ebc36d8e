// Package domain holds the types shared across the discussion/decision
// engine. It is the neutral module that breaks the
// engine <-> manager <-> execution dependency cycle: every other package
// imports domain, domain imports nothing of theirs.
package domain

import (
	"strconv"
	"strings"
	"time"
)

// Sector is one simulated market.
type Sector struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Ticker         string    `json:"ticker"`
	AllowedSymbols []string  `json:"allowedSymbols"`
	Price          float64   `json:"price"`
	BaselinePrice  float64   `json:"baselinePrice"`
	ChangeAbs      float64   `json:"changeAbsolute"`
	ChangePercent  float64   `json:"changePercent"`
	Volatility     float64   `json:"volatility"`
	RiskScore      float64   `json:"riskScore"`
	Balance        float64   `json:"balance"`
	Volume         float64   `json:"volume"`
	AgentIDs       []string  `json:"agentIds"`
	DiscussionIDs  []string  `json:"discussionIds"`
	Candles        []Candle  `json:"candles"`
	CreatedAt      time.Time `json:"createdAt"`
	SchemaVersion  int       `json:"schemaVersion,omitempty"`
}

// NormalizedSymbols returns the allowed-symbol set upper-cased, the form
// every comparison in the engine must use.
func (s *Sector) NormalizedSymbols() map[string]bool {
	out := make(map[string]bool, len(s.AllowedSymbols))
	for _, sym := range s.AllowedSymbols {
		out[strings.ToUpper(sym)] = true
	}
	return out
}

// AllowsSymbol reports whether sym (any case) is in the sector's allowed set.
func (s *Sector) AllowsSymbol(sym string) bool {
	return s.NormalizedSymbols()[strings.ToUpper(sym)]
}

// Candle is one bounded OHLC-ish price bar.
type Candle struct {
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}

// Agent is one worker or the single manager inside a sector.
type Agent struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Role           AgentRole `json:"role"`
	SectorID       string    `json:"sectorId"`
	Confidence     float64   `json:"confidence"`
	RiskTolerance  string    `json:"riskTolerance"`
	DecisionStyle  string    `json:"decisionStyle"`
	LastActivity   time.Time `json:"lastActivity"`
	PerformancePct float64   `json:"performancePct"`
	TradeCount     int       `json:"tradeCount"`
	SchemaVersion  int       `json:"schemaVersion,omitempty"`
}

// ClampConfidence clamps c into the valid [0,100] range.
func ClampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 100 {
		return 100
	}
	return c
}

// Proposal is the LLM-facing tagged union. Action selects which
// of the optional fields are meaningful; internal code must never branch
// on raw strings once a Proposal has been constructed by the adapter.
type Proposal struct {
	Action            ActionType `json:"action"`
	Symbol            string     `json:"symbol"`
	AllocationPercent float64    `json:"allocationPercent"`
	Confidence        float64    `json:"confidence"`
	Reasoning         string     `json:"reasoning"`
	RiskNotes         string     `json:"riskNotes,omitempty"`
	SignalStrength    *float64   `json:"signalStrength,omitempty"`
	Volatility        *float64   `json:"volatility,omitempty"`
}

// EffectiveSignalStrength returns SignalStrength if present, else falls
// back to Confidence.
func (p *Proposal) EffectiveSignalStrength() float64 {
	if p.SignalStrength != nil {
		return *p.SignalStrength
	}
	return p.Confidence
}

// Message is one discussion contribution.
type Message struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agentId"`
	Role      string    `json:"role"` // "worker" | "manager" | "observation"
	Round     int       `json:"round"`
	Content   string    `json:"content"`
	Analysis  string    `json:"analysis,omitempty"`
	Proposal  *Proposal `json:"proposal,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ChecklistItem is an executable payload derived from a Proposal.
type ChecklistItem struct {
	ID                string            `json:"id"`
	SourceAgentID     string            `json:"sourceAgentId"`
	ActionType        ActionType        `json:"actionType"`
	Symbol            string            `json:"symbol"`
	Amount            float64           `json:"amount"`
	AllocationPercent float64           `json:"allocationPercent"`
	Confidence        float64           `json:"confidence"`
	Rationale         string            `json:"rationale"`
	Status            ChecklistStatus   `json:"status"`
	Round             *int              `json:"round,omitempty"`
	PreviousVersions  []ChecklistItem   `json:"previousVersions,omitempty"`
	RevisionCount     int               `json:"revisionCount"`
	RefinementLog     []RefinementEntry `json:"refinementLog,omitempty"`
	CreatedAt         time.Time         `json:"createdAt"`
	UpdatedAt         time.Time         `json:"updatedAt"`
}

// Action is a deprecated read-only alias for ActionType.
func (c *ChecklistItem) Action() string { return string(c.ActionType) }

// RefinementEntry is one append-only step of a refinement cycle.
type RefinementEntry struct {
	Round     int       `json:"round"`
	Reason    string    `json:"reason"`
	Action    string    `json:"action"` // "reject" | "revise" | "accept_rejection"
	Timestamp time.Time `json:"timestamp"`
}

// RoundSnapshot is a recorded snapshot of a discussion round.
type RoundSnapshot struct {
	Round     int             `json:"round"`
	Messages  []Message       `json:"messages"`
	Checklist []ChecklistItem `json:"checklist"`
	Timestamp time.Time       `json:"timestamp"`
}

// ManagerDecision records one manager evaluation outcome.
type ManagerDecision struct {
	ChecklistItemID string          `json:"checklistItemId"`
	Decision        ChecklistStatus `json:"decision"`
	Reason          string          `json:"reason"`
	Timestamp       time.Time       `json:"timestamp"`
}

// RefinementCycle tracks the capped reject->revise->re-evaluate sequence
// for one checklist item.
type RefinementCycle struct {
	ChecklistItemID string    `json:"checklistItemId"`
	RoundsUsed      int       `json:"roundsUsed"`
	LastReason      string    `json:"lastReason"`
	StartedAt       time.Time `json:"startedAt"`
}

// Discussion is a bounded-round deliberation owned by a sector.
type Discussion struct {
	ID                     string                      `json:"id"`
	SectorID               string                      `json:"sectorId"`
	Title                  string                      `json:"title"`
	ParticipantAgentIDs    []string                    `json:"participantAgentIds"`
	Messages               []Message                   `json:"messages"`
	Checklist              []ChecklistItem             `json:"checklist"`
	Round                  int                         `json:"round"`
	CurrentRound           int                         `json:"currentRound"`
	RoundHistory           []RoundSnapshot             `json:"roundHistory"`
	ManagerDecisions       []ManagerDecision           `json:"managerDecisions"`
	ActiveRefinementCycles map[string]*RefinementCycle `json:"activeRefinementCycles"`
	Status                 DiscussionStatus            `json:"status"`
	CreatedAt              time.Time                   `json:"createdAt"`
	UpdatedAt              time.Time                   `json:"updatedAt"`
	SchemaVersion          int                         `json:"schemaVersion,omitempty"`

	// attemptedChecklist records (agentID, round) pairs for which checklist
	// creation has already been attempted, independent of whether it
	// produced an item — the guardrail is authoritative on attempts,
	// not on successes.
	AttemptedChecklist map[string]bool `json:"attemptedChecklist,omitempty"`
}

// roundKey builds the (agentID, round) guardrail key used by
// HasChecklistItemForRound and HasAttemptedChecklistCreation.
func roundKey(agentID string, round int) string {
	return agentID + "#" + strconv.Itoa(round)
}

// HasChecklistItemForRound reports whether agentID already has a checklist
// item for round r.
func (d *Discussion) HasChecklistItemForRound(agentID string, r int) bool {
	for i := range d.Checklist {
		item := &d.Checklist[i]
		if item.SourceAgentID == agentID && item.Round != nil && *item.Round == r {
			return true
		}
	}
	return false
}

// HasAttemptedChecklistCreation reports whether checklist creation was
// already attempted for (agentID, r), regardless of outcome.
func (d *Discussion) HasAttemptedChecklistCreation(agentID string, r int) bool {
	if d.AttemptedChecklist == nil {
		return false
	}
	return d.AttemptedChecklist[roundKey(agentID, r)]
}

// MarkChecklistAttempted records that checklist creation was attempted for
// (agentID, r). Idempotent.
func (d *Discussion) MarkChecklistAttempted(agentID string, r int) {
	if d.AttemptedChecklist == nil {
		d.AttemptedChecklist = make(map[string]bool)
	}
	d.AttemptedChecklist[roundKey(agentID, r)] = true
}

// HasPendingOrRevising reports whether any checklist item is still in a
// non-terminal state.
func (d *Discussion) HasPendingOrRevising() bool {
	for i := range d.Checklist {
		st := d.Checklist[i].Status
		if st == StatusPending || st == StatusReviseRequired {
			return true
		}
	}
	return false
}

// PriceHistoryEntry is one append-only tick.
type PriceHistoryEntry struct {
	ID        string    `json:"id"`
	SectorID  string    `json:"sectorId"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// Trade is one execution fill.
type Trade struct {
	ID        string     `json:"id"`
	SectorID  string     `json:"sectorId"`
	AgentID   string     `json:"agentId"`
	ItemID    string     `json:"checklistItemId"`
	Action    ActionType `json:"action"`
	Price     float64    `json:"price"`
	Quantity  float64    `json:"quantity"`
	Timestamp time.Time  `json:"timestamp"`
}
