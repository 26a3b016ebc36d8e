// Package discussion implements the Discussion Engine: it owns the
// discussion lifecycle end to end — starting a discussion, running the
// multi-round worker contribution loop, finalizing a checklist, driving
// the manager evaluation loop, and dispatching approved items to
// execution. One goroutine owns each discussion and holds it in memory
// between suspension points instead of repeated reload-mutate-save passes.
package discussion

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sectorsim/tradesim/internal/bus"
	"github.com/sectorsim/tradesim/internal/checklist"
	"github.com/sectorsim/tradesim/internal/confidence"
	"github.com/sectorsim/tradesim/internal/discussionstatus"
	"github.com/sectorsim/tradesim/internal/domain"
	"github.com/sectorsim/tradesim/internal/execution"
	"github.com/sectorsim/tradesim/internal/llm"
	"github.com/sectorsim/tradesim/internal/manager"
	"github.com/sectorsim/tradesim/internal/metrics"
)

// SectorStore is the subset of sector persistence the engine needs.
type SectorStore interface {
	Get(id string) (*domain.Sector, error)
	Update(id string, mutator func(*domain.Sector) error) error
}

// AgentStore is the subset of agent persistence the engine needs.
type AgentStore interface {
	Get(id string) (*domain.Agent, error)
	ListBySector(sectorID string) ([]domain.Agent, error)
	Update(id string, mutator func(*domain.Agent) error) error
}

// DiscussionStore is the subset of discussion persistence the engine needs.
// CreateIfNoneActive must check for an active discussion and insert inside
// one critical section; it is the authoritative serial-execution lock.
type DiscussionStore interface {
	CreateIfNoneActive(d domain.Discussion) error
	Get(id string) (*domain.Discussion, error)
	Update(id string, mutator func(*domain.Discussion) error) error
	HasActiveDiscussion(sectorID string) (bool, error)
}

// TradeLog is the subset of the execution-log persistence the engine needs.
type TradeLog interface {
	Append(trade domain.Trade) error
}

// TradeLogFactory returns the TradeLog for one sector.
type TradeLogFactory func(sectorID string) TradeLog

// RejectedLog records checklist items that reached a terminal non-approved
// status, for audit/replay.
type RejectedLog interface {
	Append(item domain.ChecklistItem) error
}

// Config tunes engine behavior that legitimately varies by deployment.
type Config struct {
	DefaultRounds int
	RoundSleep    time.Duration
}

// Engine is the Discussion Engine.
type Engine struct {
	sectors     SectorStore
	agents      AgentStore
	discussions DiscussionStore
	tradeLogs   TradeLogFactory
	rejected    RejectedLog
	status      *discussionstatus.Service
	manager     *manager.Engine
	book        *execution.Book
	adapter     *llm.Adapter
	bus         *bus.Bus
	cfg         Config
	log         zerolog.Logger
}

// WithBus wires b so the engine publishes round/checklist/decision
// lifecycle events as they happen. A nil b leaves publishing off.
func (e *Engine) WithBus(b *bus.Bus) *Engine {
	e.bus = b
	return e
}

func (e *Engine) publish(evt bus.Event) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(evt)
}

// New constructs a ready-to-use Engine.
func New(sectors SectorStore, agents AgentStore, discussions DiscussionStore, tradeLogs TradeLogFactory, rejected RejectedLog,
	status *discussionstatus.Service, mgr *manager.Engine, book *execution.Book, adapter *llm.Adapter, cfg Config) *Engine {
	if cfg.DefaultRounds <= 0 {
		cfg.DefaultRounds = 2
	}
	if cfg.RoundSleep <= 0 {
		cfg.RoundSleep = 200 * time.Millisecond
	}
	return &Engine{
		sectors:     sectors,
		agents:      agents,
		discussions: discussions,
		tradeLogs:   tradeLogs,
		rejected:    rejected,
		status:      status,
		manager:     mgr,
		book:        book,
		adapter:     adapter,
		cfg:         cfg,
		log:         log.With().Str("component", "discussion").Logger(),
	}
}

// StartDiscussion validates eligibility and persists a new CREATED
// discussion. It does not run any rounds itself — the
// caller (the scheduler's per-sector task, or an API handler spawning a
// background goroutine) drives StartRounds across its own suspension
// boundary, keeping the engine's own methods synchronous and testable.
func (e *Engine) StartDiscussion(sector *domain.Sector, title string) (*domain.Discussion, error) {
	allAgents, err := e.agents.ListBySector(sector.ID)
	if err != nil {
		return nil, err
	}

	var workers []domain.Agent
	var participantIDs []string
	for _, a := range allAgents {
		if a.Role != domain.RoleManager {
			workers = append(workers, a)
			participantIDs = append(participantIDs, a.ID)
		}
	}

	// Advisory read: fails fast with the right error before building the
	// record. The authoritative check happens inside CreateIfNoneActive —
	// two concurrent calls can both pass this one.
	hasActive, err := e.discussions.HasActiveDiscussion(sector.ID)
	if err != nil {
		return nil, err
	}

	if err := e.manager.CheckEligibility(sector, workers, hasActive); err != nil {
		return nil, err
	}

	if title == "" {
		title = fmt.Sprintf("%s discussion %s", sector.Name, time.Now().Format("2006-01-02T15:04:05"))
	}

	now := time.Now()
	d := domain.Discussion{
		ID:                     uuid.NewString(),
		SectorID:               sector.ID,
		Title:                  title,
		ParticipantAgentIDs:    participantIDs,
		Round:                  1,
		CurrentRound:           1,
		Status:                 domain.DiscussionCreated,
		ActiveRefinementCycles: map[string]*domain.RefinementCycle{},
		AttemptedChecklist:     map[string]bool{},
		CreatedAt:              now,
		UpdatedAt:              now,
	}

	if err := e.discussions.CreateIfNoneActive(d); err != nil {
		return nil, err
	}

	metrics.RecordDiscussionStarted()
	e.log.Info().Str("discussionId", d.ID).Str("sectorId", sector.ID).Int("participants", len(participantIDs)).Msg("discussion created")
	return &d, nil
}

// Bootstrap runs a discussion end to end: create, rounds, finalize,
// manager evaluation, execution. Callers that want dispatch asynchronous
// relative to an HTTP request simply invoke Bootstrap in a goroutine; the
// engine itself stays synchronous.
func (e *Engine) Bootstrap(ctx context.Context, sector *domain.Sector, title string, numRounds int) (*domain.Discussion, error) {
	d, err := e.StartDiscussion(sector, title)
	if err != nil {
		return nil, err
	}

	if err := e.StartRounds(ctx, d.ID, numRounds); err != nil {
		return nil, err
	}

	final, err := e.discussions.Get(d.ID)
	if err != nil {
		return nil, err
	}
	if len(final.Messages) == 0 {
		_ = e.status.TransitionStatus(d.ID, domain.DiscussionClosed, "no messages")
		final, _ = e.discussions.Get(d.ID)
	}
	return final, nil
}

// StartRounds runs the multi-round worker contribution loop.
// Idempotent: resuming from a discussion already past CREATED with
// messages recorded simply continues from its CurrentRound, so calling
// StartRounds twice never doubles up a round's messages.
func (e *Engine) StartRounds(ctx context.Context, discussionID string, numRounds int) error {
	if numRounds <= 0 {
		numRounds = e.cfg.DefaultRounds
	}

	d, err := e.discussions.Get(discussionID)
	if err != nil {
		return err
	}

	if d.Status == domain.DiscussionCreated {
		if err := e.status.TransitionStatus(discussionID, domain.DiscussionInProgress, "starting rounds"); err != nil {
			return err
		}
	}

	startRound := d.CurrentRound
	if startRound < 1 {
		startRound = 1
	}

	sector, err := e.sectors.Get(d.SectorID)
	if err != nil {
		return err
	}

	for r := startRound; r <= numRounds; r++ {
		if err := e.discussions.Update(discussionID, func(cur *domain.Discussion) error {
			cur.CurrentRound = r
			cur.Round = r
			return nil
		}); err != nil {
			return err
		}

		for _, agentID := range d.ParticipantAgentIDs {
			if err := e.runAgentTurn(ctx, discussionID, agentID, r, sector); err != nil {
				return err
			}
		}

		e.publish(bus.Event{Type: bus.EventRoundCompleted, SectorID: d.SectorID})
		metrics.RecordRoundCompleted(d.SectorID)

		if r < numRounds {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(e.cfg.RoundSleep):
			}
		}
	}

	return e.FinalizeChecklist(ctx, discussionID)
}

// runAgentTurn handles one agent's contribution to round r: either a
// gated observation message, or an LLM-backed proposal that feeds both the
// checklist and the agent's confidence update. All mutation happens
// through one atomic discussions.Update call per turn.
func (e *Engine) runAgentTurn(ctx context.Context, discussionID, agentID string, r int, sector *domain.Sector) error {
	cur, err := e.discussions.Get(discussionID)
	if err != nil {
		return err
	}
	if cur.HasAttemptedChecklistCreation(agentID, r) {
		return nil // idempotent resume: already handled this (agent, round)
	}

	agent, err := e.agents.Get(agentID)
	if err != nil {
		return err
	}

	now := time.Now()

	if agent.Confidence < domain.GatingThreshold {
		observation := domain.Proposal{Action: domain.ActionHold, Confidence: agent.Confidence, Reasoning: "confidence below gating threshold; observing only"}
		return e.discussions.Update(discussionID, func(d *domain.Discussion) error {
			d.Messages = append(d.Messages, domain.Message{
				ID:        uuid.NewString(),
				AgentID:   agentID,
				Role:      "observation",
				Round:     r,
				Content:   observation.Reasoning,
				Proposal:  &observation,
				Timestamp: now,
			})
			d.MarkChecklistAttempted(agentID, r)
			return nil
		})
	}

	promptReq := llm.PromptRequest{
		RejectedItems: e.rejectedItemsFor(cur, agentID),
	}
	agentCtx := llm.AgentContext{
		AgentName:     agent.Name,
		Role:          string(agent.Role),
		DecisionStyle: agent.DecisionStyle,
		RiskTolerance: agent.RiskTolerance,
		Confidence:    agent.Confidence,
		SectorName:    sector.Name,
		Ticker:        sector.Ticker,
		Balance:       sector.Balance,
		CurrentPrice:  sector.Price,
		TrendPercent:  sector.ChangePercent,
		VolatilityPct: sector.Volatility * 100,
	}

	msg := e.adapter.GenerateAgentMessage(ctx, agentCtx, promptReq)
	metrics.RecordAgentProposal(string(agent.Role), string(msg.Proposal.Action), msg.Proposal.Confidence, agentID)

	trend := confidence.SectorTrend{ChangePercent: sector.ChangePercent, Volatility: sector.Volatility}
	newConfidence := confidence.Update(agent.Confidence, msg.Proposal, trend)

	opts := checklist.Options{AllowedSymbols: sector.NormalizedSymbols()}
	item := checklist.CreateChecklistFromProposal(msg.Proposal, agentID, r, opts)

	if err := e.agents.Update(agentID, func(a *domain.Agent) error {
		a.Confidence = newConfidence
		a.LastActivity = now
		return nil
	}); err != nil {
		return err
	}

	return e.discussions.Update(discussionID, func(d *domain.Discussion) error {
		d.Messages = append(d.Messages, domain.Message{
			ID:        uuid.NewString(),
			AgentID:   agentID,
			Role:      "worker",
			Round:     r,
			Content:   msg.Analysis,
			Analysis:  msg.Analysis,
			Proposal:  msg.Proposal,
			Timestamp: now,
		})
		if !d.HasChecklistItemForRound(agentID, r) {
			d.Checklist = append(d.Checklist, *item)
		}
		d.MarkChecklistAttempted(agentID, r)
		return nil
	})
}

// rejectedItemsFor builds the rejected-items prompt context from any
// refinement cycle active against one of agentID's own checklist items.
func (e *Engine) rejectedItemsFor(d *domain.Discussion, agentID string) []llm.RejectedItem {
	var out []llm.RejectedItem
	for i := range d.Checklist {
		item := &d.Checklist[i]
		if item.SourceAgentID != agentID {
			continue
		}
		cycle, ok := d.ActiveRefinementCycles[item.ID]
		if !ok {
			continue
		}
		out = append(out, llm.RejectedItem{
			PreviousProposalSummary: fmt.Sprintf("%s %.1f%% %s", item.ActionType, item.AllocationPercent, item.Symbol),
			RejectionReason:         cycle.LastReason,
		})
	}
	return out
}

// FinalizeChecklist closes out the round loop: if no eligible
// worker ever produced a message the discussion has nothing to decide and
// is closed here with reason "no messages". When the per-agent loop produced no
// checklist items at all (every participant gated out, or every proposal
// invalid), the full message history goes to a single consensus LLM call;
// if that too yields nothing, the per-round aggregation fallback runs.
// Either way the manager evaluation loop then runs to terminal state.
func (e *Engine) FinalizeChecklist(ctx context.Context, discussionID string) error {
	d, err := e.discussions.Get(discussionID)
	if err != nil {
		return err
	}
	if len(d.Messages) == 0 {
		// Nothing to decide; a terminal transition also releases the
		// sector's serial-execution lock.
		return e.CloseDiscussion(discussionID, "no messages")
	}

	if len(d.Checklist) == 0 {
		if err := e.consensusChecklist(ctx, discussionID, d); err != nil {
			return err
		}
		d, err = e.discussions.Get(discussionID)
		if err != nil {
			return err
		}
		if len(d.Checklist) == 0 {
			if err := e.aggregateFallback(discussionID, d); err != nil {
				return err
			}
		}
	}

	e.publish(bus.Event{Type: bus.EventChecklistFinalized, SectorID: d.SectorID})

	if err := e.status.CheckAndTransitionToAwaitingExecution(discussionID); err != nil {
		return err
	}

	return e.runManagerLoop(ctx, discussionID)
}

// consensusChecklist feeds every round message to one consensus LLM call
// and validates whatever comes back into checklist items, attributing each
// item to a distinct participant so the per-(agent,round) guardrail holds.
// Proposals beyond the participant count are dropped. A nil/empty result
// (disabled adapter, LLM failure, unusable response) leaves the checklist
// untouched for the aggregation fallback.
func (e *Engine) consensusChecklist(ctx context.Context, discussionID string, d *domain.Discussion) error {
	sector, err := e.sectors.Get(d.SectorID)
	if err != nil {
		return err
	}

	req := llm.ConsensusRequest{SectorName: sector.Name, Ticker: sector.Ticker, Balance: sector.Balance}
	for _, m := range d.Messages {
		name := m.AgentID
		if a, err := e.agents.Get(m.AgentID); err == nil {
			name = a.Name
		}
		req.Messages = append(req.Messages, llm.ConsensusMessage{AgentName: name, Round: m.Round, Content: m.Content})
	}

	proposals := e.adapter.GenerateConsensusChecklist(ctx, req)
	if len(proposals) == 0 {
		return nil
	}
	if len(proposals) > len(d.ParticipantAgentIDs) {
		e.log.Warn().Str("discussionId", discussionID).
			Int("proposals", len(proposals)).Int("participants", len(d.ParticipantAgentIDs)).
			Msg("consensus produced more items than participants, dropping the excess")
		proposals = proposals[:len(d.ParticipantAgentIDs)]
	}

	opts := checklist.Options{AllowedSymbols: sector.NormalizedSymbols()}
	round := d.CurrentRound
	var items []domain.ChecklistItem
	for i, p := range proposals {
		items = append(items, *checklist.CreateChecklistFromProposal(p, d.ParticipantAgentIDs[i], round, opts))
	}

	return e.discussions.Update(discussionID, func(cur *domain.Discussion) error {
		cur.Checklist = append(cur.Checklist, items...)
		return nil
	})
}

// aggregateFallback groups the latest round's messages by actionType and
// consolidates their reasoning into one checklist item per group, the
// fallback path used when the per-agent loop produced zero items.
func (e *Engine) aggregateFallback(discussionID string, d *domain.Discussion) error {
	sector, err := e.sectors.Get(d.SectorID)
	if err != nil {
		return err
	}
	opts := checklist.Options{AllowedSymbols: sector.NormalizedSymbols()}

	latestRound := d.CurrentRound
	groups := map[domain.ActionType][]domain.Message{}
	for _, m := range d.Messages {
		if m.Round != latestRound || m.Proposal == nil {
			continue
		}
		groups[m.Proposal.Action] = append(groups[m.Proposal.Action], m)
	}

	var newItems []domain.ChecklistItem
	for action, msgs := range groups {
		reasons := ""
		var totalAlloc, totalConf float64
		agentID := msgs[0].AgentID
		symbol := ""
		for _, m := range msgs {
			if reasons != "" {
				reasons += "; "
			}
			reasons += m.Proposal.Reasoning
			totalAlloc += m.Proposal.AllocationPercent
			totalConf += m.Proposal.Confidence
			if symbol == "" {
				symbol = m.Proposal.Symbol
			}
		}
		n := float64(len(msgs))
		consolidated := &domain.Proposal{
			Action:            action,
			Symbol:            symbol,
			AllocationPercent: totalAlloc / n,
			Confidence:        totalConf / n,
			Reasoning:         "consensus fallback: " + reasons,
		}
		item := checklist.CreateChecklistFromProposal(consolidated, agentID, latestRound, opts)
		newItems = append(newItems, *item)
	}

	return e.discussions.Update(discussionID, func(cur *domain.Discussion) error {
		cur.Checklist = append(cur.Checklist, newItems...)
		return nil
	})
}

// runManagerLoop repeatedly evaluates every non-terminal checklist item
// until the discussion can close, dispatching APPROVED non-HOLD items to
// execution. The refinement cap inside manager.Evaluate
// guarantees this terminates within MaxRefinementRounds+1 passes.
func (e *Engine) runManagerLoop(ctx context.Context, discussionID string) error {
	d, err := e.discussions.Get(discussionID)
	if err != nil {
		return err
	}
	sector, err := e.sectors.Get(d.SectorID)
	if err != nil {
		return err
	}
	trades := e.tradeLogs(sector.ID)

	// Items already APPROVED on entry (a resumed call after a prior pass
	// persisted them) were already executed; don't re-run them through the
	// book, just count them so CanDiscussionClose sees them as settled.
	executedItemIDs := map[string]bool{}
	for i := range d.Checklist {
		if d.Checklist[i].Status == domain.StatusApproved {
			executedItemIDs[d.Checklist[i].ID] = true
		}
	}

	for pass := 0; pass < domain.MaxRefinementRounds+1; pass++ {
		changed := false

		for i := range d.Checklist {
			item := &d.Checklist[i]
			if item.Status.IsTerminal() {
				continue
			}
			changed = true
			e.manager.Evaluate(d, item, sector)

			if item.Status == domain.StatusRejected || item.Status == domain.StatusAcceptRejection {
				if e.rejected != nil {
					_ = e.rejected.Append(*item)
				}
			}

			if item.Status != domain.StatusApproved {
				continue
			}
			if item.ActionType == domain.ActionHold {
				executedItemIDs[item.ID] = true
				continue
			}

			quantity := 0.0
			if sector.Price > 0 {
				quantity = (item.AllocationPercent / 100 * sector.Balance) / sector.Price
			}
			result, execErr := e.book.Execute(sector, execution.Decision{
				ChecklistItemID: item.ID,
				AgentID:         item.SourceAgentID,
				Action:          item.ActionType,
				Symbol:          item.Symbol,
				Quantity:        quantity,
				Price:           sector.Price,
				RiskScore:       sector.RiskScore,
			})
			if execErr != nil {
				item.Status = domain.StatusRejected
				item.Rationale += " (execution failed: " + execErr.Error() + ")"
				if e.rejected != nil {
					_ = e.rejected.Append(*item)
				}
				continue
			}
			if err := trades.Append(result.Trade); err != nil {
				return err
			}
			executedItemIDs[item.ID] = true
			_ = e.agents.Update(item.SourceAgentID, func(a *domain.Agent) error {
				a.TradeCount++
				return nil
			})
		}

		if !changed || e.manager.CanDiscussionClose(d, executedItemIDs) {
			break
		}
	}

	if err := e.sectors.Update(sector.ID, func(s *domain.Sector) error {
		*s = *sector
		return nil
	}); err != nil {
		return err
	}

	if err := e.discussions.Update(discussionID, func(cur *domain.Discussion) error {
		cur.Checklist = d.Checklist
		cur.ManagerDecisions = d.ManagerDecisions
		cur.ActiveRefinementCycles = d.ActiveRefinementCycles
		return nil
	}); err != nil {
		return err
	}

	e.publish(bus.Event{Type: bus.EventManagerDecision, SectorID: sector.ID})

	if e.manager.CanDiscussionClose(d, executedItemIDs) {
		snap := domain.RoundSnapshot{Round: d.CurrentRound, Messages: d.Messages, Checklist: d.Checklist, Timestamp: time.Now()}
		if err := e.discussions.Update(discussionID, func(cur *domain.Discussion) error {
			cur.RoundHistory = append(cur.RoundHistory, snap)
			return nil
		}); err != nil {
			return err
		}
		if err := e.status.TransitionStatus(discussionID, domain.DiscussionDecided, "all checklist items terminal and executed"); err != nil {
			return err
		}
		metrics.RecordDiscussionDecided()
		return nil
	}

	e.log.Warn().Str("discussionId", discussionID).Msg("manager loop exhausted without reaching a closeable state")
	return nil
}

// CloseDiscussion transitions a discussion to CLOSED on user request
// (POST /discussions/:id/close).
func (e *Engine) CloseDiscussion(discussionID, reason string) error {
	if err := e.status.TransitionStatus(discussionID, domain.DiscussionClosed, reason); err != nil {
		return err
	}
	// The metric label is bounded; the free-text reason only goes to the
	// status service's log line.
	label := "operator"
	if reason == "no messages" {
		label = "no_messages"
	}
	metrics.RecordDiscussionClosed(label)
	return nil
}
