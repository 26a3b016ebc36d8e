package domain

import "strings"

// AgentRole distinguishes the single manager from worker agents.
type AgentRole string

const (
	RoleManager AgentRole = "manager"
	RoleWorker  AgentRole = "worker"
)

// ActionType is the canonical uppercase enum for a trade action;
// "action" (lowercase) is a deprecated read-only alias kept only on the
// wire types that still emit it.
type ActionType string

const (
	ActionBuy  ActionType = "BUY"
	ActionSell ActionType = "SELL"
	ActionHold ActionType = "HOLD"
)

// NormalizeActionType canonicalises arbitrary-case/aliased input into the
// enum. Unknown input defaults to HOLD — the neutral, always-safe action.
func NormalizeActionType(raw string) ActionType {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case string(ActionBuy):
		return ActionBuy
	case string(ActionSell):
		return ActionSell
	default:
		return ActionHold
	}
}

// ChecklistStatus is the canonical status enum for a ChecklistItem.
type ChecklistStatus string

const (
	StatusPending         ChecklistStatus = "PENDING"
	StatusApproved        ChecklistStatus = "APPROVED"
	StatusRejected        ChecklistStatus = "REJECTED"
	StatusReviseRequired  ChecklistStatus = "REVISE_REQUIRED"
	StatusAcceptRejection ChecklistStatus = "ACCEPT_REJECTION"
	StatusResubmitted     ChecklistStatus = "RESUBMITTED"
)

// NormalizeChecklistStatus canonicalises arbitrary-case status strings,
// defaulting absent/unknown input to PENDING.
func NormalizeChecklistStatus(raw string) ChecklistStatus {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case string(StatusApproved):
		return StatusApproved
	case string(StatusRejected):
		return StatusRejected
	case string(StatusReviseRequired):
		return StatusReviseRequired
	case string(StatusAcceptRejection):
		return StatusAcceptRejection
	case string(StatusResubmitted):
		return StatusResubmitted
	case string(StatusPending):
		return StatusPending
	default:
		return StatusPending
	}
}

// IsTerminal reports whether status is one of the three terminal states
// named in the glossary: APPROVED (executed), REJECTED, ACCEPT_REJECTION.
func (s ChecklistStatus) IsTerminal() bool {
	switch s {
	case StatusApproved, StatusRejected, StatusAcceptRejection:
		return true
	default:
		return false
	}
}

// DiscussionStatus is the sole authoritative discussion lifecycle enum,
// mutated only by the Discussion Status Service.
type DiscussionStatus string

const (
	DiscussionCreated           DiscussionStatus = "CREATED"
	DiscussionInProgress        DiscussionStatus = "IN_PROGRESS"
	DiscussionAwaitingExecution DiscussionStatus = "AWAITING_EXECUTION"
	DiscussionDecided           DiscussionStatus = "DECIDED"
	DiscussionClosed            DiscussionStatus = "CLOSED"
)

// IsTerminal reports whether the discussion status can no longer transition.
func (s DiscussionStatus) IsTerminal() bool {
	return s == DiscussionDecided || s == DiscussionClosed
}

// IsActive reports whether a sector should count this discussion against
// its serial-execution lock.
func (s DiscussionStatus) IsActive() bool {
	switch s {
	case DiscussionCreated, DiscussionInProgress, DiscussionAwaitingExecution:
		return true
	default:
		return false
	}
}

// validTransitions enumerates the permitted edges of the state machine
// of the discussion lifecycle.
var validTransitions = map[DiscussionStatus]map[DiscussionStatus]bool{
	DiscussionCreated: {
		DiscussionInProgress: true,
		DiscussionClosed:     true,
	},
	DiscussionInProgress: {
		DiscussionAwaitingExecution: true,
		DiscussionClosed:            true,
	},
	DiscussionAwaitingExecution: {
		DiscussionDecided: true,
		DiscussionClosed:  true,
	},
	DiscussionDecided: {},
	DiscussionClosed:  {},
}

// CanTransition reports whether from -> to is a permitted edge, or a no-op
// idempotent self-transition on an already-terminal status.
func CanTransition(from, to DiscussionStatus) bool {
	if from == to && from.IsTerminal() {
		return true
	}
	edges, ok := validTransitions[from]
	if !ok {
		return false
	}
	return edges[to]
}

// GatingThreshold is the minimum confidence a worker needs to participate
// in a round or for the manager to start a new discussion.
const GatingThreshold = 65.0

// MaxRefinementRounds caps the refinement cycle per checklist item.
const MaxRefinementRounds = 3

// MaxCandleHistory bounds the ring of persisted per-sector candles.
const MaxCandleHistory = 100

// MaxWorkersPerSector bounds the worker roster size.
const MaxWorkersPerSector = 5

// MaxPriceHistoryEntries bounds the global price history file.
const MaxPriceHistoryEntries = 100_000
