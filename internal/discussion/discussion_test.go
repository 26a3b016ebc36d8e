package discussion

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/sectorsim/tradesim/internal/discussionstatus"
	"github.com/sectorsim/tradesim/internal/domain"
	"github.com/sectorsim/tradesim/internal/execution"
	"github.com/sectorsim/tradesim/internal/llm"
	"github.com/sectorsim/tradesim/internal/manager"
)

// memStore is a minimal in-memory stand-in for internal/store, enough to
// exercise the engine's full lifecycle without file persistence.
type memStore struct {
	mu          sync.Mutex
	sectors     map[string]domain.Sector
	agents      map[string]domain.Agent
	discussions map[string]domain.Discussion
	trades      []domain.Trade
	rejected    []domain.ChecklistItem
}

func newMemStore() *memStore {
	return &memStore{
		sectors:     map[string]domain.Sector{},
		agents:      map[string]domain.Agent{},
		discussions: map[string]domain.Discussion{},
	}
}

func (m *memStore) Get(id string) (*domain.Sector, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sectors[id]
	if !ok {
		return nil, domain.NotFoundError("id", "no sector "+id)
	}
	return &s, nil
}

func (m *memStore) Update(id string, mutator func(*domain.Sector) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sectors[id]
	if !ok {
		return domain.NotFoundError("id", "no sector "+id)
	}
	if err := mutator(&s); err != nil {
		return err
	}
	m.sectors[id] = s
	return nil
}

func (m *memStore) AgentGet(id string) (*domain.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok {
		return nil, domain.NotFoundError("id", "no agent "+id)
	}
	return &a, nil
}

func (m *memStore) ListBySector(sectorID string) ([]domain.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Agent
	for _, a := range m.agents {
		if a.SectorID == sectorID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memStore) AgentUpdate(id string, mutator func(*domain.Agent) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok {
		return domain.NotFoundError("id", "no agent "+id)
	}
	if err := mutator(&a); err != nil {
		return err
	}
	m.agents[id] = a
	return nil
}

func (m *memStore) Create(d domain.Discussion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.discussions[d.ID] = d
	return nil
}

// CreateIfNoneActive mirrors the store's atomic check-and-insert: the
// active-discussion scan and the insert happen under one lock acquisition.
func (m *memStore) CreateIfNoneActive(d domain.Discussion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.discussions {
		if existing.SectorID == d.SectorID && existing.Status.IsActive() {
			return domain.ContentionError("sector already has an active discussion")
		}
	}
	m.discussions[d.ID] = d
	return nil
}

func (m *memStore) DiscussionGet(id string) (*domain.Discussion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.discussions[id]
	if !ok {
		return nil, domain.NotFoundError("id", "no discussion "+id)
	}
	return &d, nil
}

func (m *memStore) DiscussionUpdate(id string, mutator func(*domain.Discussion) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.discussions[id]
	if !ok {
		return domain.NotFoundError("id", "no discussion "+id)
	}
	if err := mutator(&d); err != nil {
		return err
	}
	m.discussions[id] = d
	return nil
}

func (m *memStore) HasActiveDiscussion(sectorID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.discussions {
		if d.SectorID == sectorID && d.Status.IsActive() {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) tradeLog(sectorID string) TradeLog { return sectorTrades{m, sectorID} }

type sectorTrades struct {
	m        *memStore
	sectorID string
}

func (t sectorTrades) Append(trade domain.Trade) error {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	t.m.trades = append(t.m.trades, trade)
	return nil
}

func (m *memStore) Append(item domain.ChecklistItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejected = append(m.rejected, item)
	return nil
}

// thin adapters so memStore satisfies the engine's narrow interfaces
// despite Get/Update colliding across sector and agent.
type sectorAdapter struct{ m *memStore }

func (s sectorAdapter) Get(id string) (*domain.Sector, error) { return s.m.Get(id) }
func (s sectorAdapter) Update(id string, mutator func(*domain.Sector) error) error {
	return s.m.Update(id, mutator)
}

type agentAdapter struct{ m *memStore }

func (a agentAdapter) Get(id string) (*domain.Agent, error) { return a.m.AgentGet(id) }
func (a agentAdapter) ListBySector(sectorID string) ([]domain.Agent, error) {
	return a.m.ListBySector(sectorID)
}
func (a agentAdapter) Update(id string, mutator func(*domain.Agent) error) error {
	return a.m.AgentUpdate(id, mutator)
}

type discussionAdapter struct{ m *memStore }

func (d discussionAdapter) CreateIfNoneActive(disc domain.Discussion) error {
	return d.m.CreateIfNoneActive(disc)
}
func (d discussionAdapter) Get(id string) (*domain.Discussion, error) {
	return d.m.DiscussionGet(id)
}
func (d discussionAdapter) Update(id string, mutator func(*domain.Discussion) error) error {
	return d.m.DiscussionUpdate(id, mutator)
}
func (d discussionAdapter) HasActiveDiscussion(sectorID string) (bool, error) {
	return d.m.HasActiveDiscussion(sectorID)
}

// UpdateDiscussion/GetDiscussion satisfy discussionstatus.Store.
func (d discussionAdapter) UpdateDiscussion(id string, mutator func(*domain.Discussion) error) error {
	return d.m.DiscussionUpdate(id, mutator)
}
func (d discussionAdapter) GetDiscussion(id string) (*domain.Discussion, error) {
	return d.m.DiscussionGet(id)
}

// scriptedClient returns responses in order, cycling once exhausted.
type scriptedClient struct {
	responses []string
	i         int
	mu        sync.Mutex
}

func (c *scriptedClient) Complete(ctx context.Context, messages []llm.ChatMessage) (*llm.ChatResponse, error) {
	return nil, errors.New("not implemented")
}
func (c *scriptedClient) CompleteWithRetry(ctx context.Context, messages []llm.ChatMessage, maxRetries int) (*llm.ChatResponse, error) {
	return nil, errors.New("not implemented")
}
func (c *scriptedClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	resp := c.responses[c.i%len(c.responses)]
	c.i++
	return resp, nil
}
func (c *scriptedClient) ParseJSONResponse(content string, target interface{}) error {
	return errors.New("not implemented")
}

func newTestEngine(store *memStore, client llm.LLMClient) *Engine {
	statusSvc := discussionstatus.New(discussionAdapter{store})
	mgr := manager.New()
	book := execution.New()
	adapter := llm.NewAdapter(client, true, time.Second)
	return New(sectorAdapter{store}, agentAdapter{store}, discussionAdapter{store}, store.tradeLog, store,
		statusSvc, mgr, book, adapter, Config{DefaultRounds: 2, RoundSleep: time.Millisecond})
}

func seedSector(store *memStore, id string) domain.Sector {
	sector := domain.Sector{
		ID:             id,
		Name:           "Helios",
		AllowedSymbols: []string{"XYZ"},
		Price:          100,
		ChangePercent:  2.0,
		Volatility:     0.1,
		RiskScore:      10,
		Balance:        10000,
		CreatedAt:      time.Now(),
	}
	store.sectors[id] = sector
	return sector
}

func seedWorker(store *memStore, sectorID string, confidence float64) domain.Agent {
	a := domain.Agent{
		ID:            uuid.NewString(),
		Name:          "worker-" + uuid.NewString()[:8],
		Role:          domain.RoleWorker,
		SectorID:      sectorID,
		Confidence:    confidence,
		RiskTolerance: "medium",
		DecisionStyle: "balanced",
	}
	store.agents[a.ID] = a
	return a
}

func TestStartDiscussion_RejectsWhenActiveDiscussionExists(t *testing.T) {
	store := newMemStore()
	sector := seedSector(store, "sector-1")
	seedWorker(store, sector.ID, 80)
	engine := newTestEngine(store, &scriptedClient{responses: []string{`{"action":"HOLD","confidence":50}`}})

	first, err := engine.StartDiscussion(&sector, "")
	if err != nil {
		t.Fatalf("first StartDiscussion: %v", err)
	}
	if first.Status != domain.DiscussionCreated {
		t.Fatalf("expected CREATED, got %s", first.Status)
	}

	_, err = engine.StartDiscussion(&sector, "")
	if !domain.IsCode(err, domain.ErrCodeContention) {
		t.Fatalf("expected a contention error for a second concurrent discussion, got %v", err)
	}
}

func TestStartDiscussion_RejectsBelowGatingThreshold(t *testing.T) {
	store := newMemStore()
	sector := seedSector(store, "sector-1")
	seedWorker(store, sector.ID, 40)
	engine := newTestEngine(store, &scriptedClient{responses: []string{`{"action":"HOLD","confidence":50}`}})

	_, err := engine.StartDiscussion(&sector, "")
	if !domain.IsCode(err, domain.ErrCodeValidation) {
		t.Fatalf("expected a validation error for a worker below gating threshold, got %v", err)
	}
}

func TestBootstrap_BuyProposalExecutesAndClosesDiscussion(t *testing.T) {
	store := newMemStore()
	sector := seedSector(store, "sector-1")
	worker := seedWorker(store, sector.ID, 80)
	client := &scriptedClient{responses: []string{
		`{"action":"BUY","symbol":"XYZ","allocationPercent":20,"confidence":85,"reasoning":"strong uptrend"}`,
	}}
	engine := newTestEngine(store, client)

	d, err := engine.Bootstrap(context.Background(), &sector, "", 1)
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if d.Status != domain.DiscussionDecided {
		t.Fatalf("expected DECIDED, got %s", d.Status)
	}
	if len(d.Checklist) != 1 {
		t.Fatalf("expected exactly one checklist item, got %d", len(d.Checklist))
	}
	item := d.Checklist[0]
	if item.Status != domain.StatusApproved {
		t.Fatalf("expected APPROVED, got %s (rationale=%s)", item.Status, item.Rationale)
	}
	if len(store.trades) != 1 {
		t.Fatalf("expected one trade recorded, got %d", len(store.trades))
	}
	if store.trades[0].AgentID != worker.ID {
		t.Fatalf("trade recorded against wrong agent: %s", store.trades[0].AgentID)
	}

	updatedAgent, err := store.AgentGet(worker.ID)
	if err != nil {
		t.Fatalf("AgentGet: %v", err)
	}
	if updatedAgent.Confidence <= worker.Confidence {
		t.Fatalf("confidence should have moved up from %v, got %v", worker.Confidence, updatedAgent.Confidence)
	}
	if updatedAgent.TradeCount != 1 {
		t.Fatalf("expected trade count 1, got %d", updatedAgent.TradeCount)
	}
}

func TestStartRounds_LowConfidenceAgentOnlyObserves(t *testing.T) {
	store := newMemStore()
	sector := seedSector(store, "sector-1")
	seedWorker(store, sector.ID, 90)
	// second worker passes the start gate, then drops below the gating
	// threshold before the rounds run
	gated := domain.Agent{ID: uuid.NewString(), Name: "gated", Role: domain.RoleWorker, SectorID: sector.ID, Confidence: domain.GatingThreshold}
	store.agents[gated.ID] = gated

	client := &scriptedClient{responses: []string{
		`{"action":"BUY","symbol":"XYZ","allocationPercent":15,"confidence":70,"reasoning":"ok"}`,
	}}
	engine := newTestEngine(store, client)

	started, err := engine.StartDiscussion(&sector, "")
	if err != nil {
		t.Fatalf("StartDiscussion: %v", err)
	}
	gated.Confidence = 10
	store.agents[gated.ID] = gated

	if err := engine.StartRounds(context.Background(), started.ID, 1); err != nil {
		t.Fatalf("StartRounds: %v", err)
	}
	d, err := store.DiscussionGet(started.ID)
	if err != nil {
		t.Fatalf("DiscussionGet: %v", err)
	}

	foundObservation := false
	for _, m := range d.Messages {
		if m.AgentID == gated.ID {
			if m.Role != "observation" {
				t.Fatalf("expected gated agent's message to be an observation, got role %q", m.Role)
			}
			foundObservation = true
		}
	}
	if !foundObservation {
		t.Fatal("expected an observation message from the gated agent")
	}

	reloadedGated, err := store.AgentGet(gated.ID)
	if err != nil {
		t.Fatalf("AgentGet: %v", err)
	}
	if reloadedGated.Confidence != 10 {
		t.Fatalf("gated agent's confidence should stay unchanged, got %v", reloadedGated.Confidence)
	}
}

func TestBootstrap_NoMessagesClosesDiscussion(t *testing.T) {
	store := newMemStore()
	sector := seedSector(store, "sector-1")
	// no workers at all: eligible (no confidence check fails), but the round
	// loop produces zero messages.
	client := &scriptedClient{responses: []string{`{"action":"HOLD","confidence":50}`}}
	engine := newTestEngine(store, client)

	d, err := engine.Bootstrap(context.Background(), &sector, "", 1)
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if d.Status != domain.DiscussionClosed {
		t.Fatalf("expected CLOSED when no participant produced a message, got %s", d.Status)
	}
}

func TestStartRounds_IdempotentResumeSkipsCompletedRounds(t *testing.T) {
	store := newMemStore()
	sector := seedSector(store, "sector-1")
	seedWorker(store, sector.ID, 80)
	client := &scriptedClient{responses: []string{
		`{"action":"HOLD","confidence":50,"reasoning":"round one"}`,
	}}
	engine := newTestEngine(store, client)

	d, err := engine.StartDiscussion(&sector, "")
	if err != nil {
		t.Fatalf("StartDiscussion: %v", err)
	}

	if err := engine.StartRounds(context.Background(), d.ID, 1); err != nil {
		t.Fatalf("first StartRounds: %v", err)
	}
	after, err := store.DiscussionGet(d.ID)
	if err != nil {
		t.Fatalf("DiscussionGet: %v", err)
	}
	firstCount := len(after.Messages)
	if firstCount == 0 {
		t.Fatal("expected at least one message after the first StartRounds call")
	}

	// Calling StartRounds again for the same completed round must not add
	// a duplicate message for the same (agent, round) pair.
	if err := engine.StartRounds(context.Background(), d.ID, 1); err != nil {
		t.Fatalf("second StartRounds: %v", err)
	}
	again, err := store.DiscussionGet(d.ID)
	if err != nil {
		t.Fatalf("DiscussionGet: %v", err)
	}
	if len(again.Messages) != firstCount {
		t.Fatalf("expected idempotent resume to leave message count at %d, got %d", firstCount, len(again.Messages))
	}
}

func TestRunManagerLoop_TooRiskyCollapsesToAcceptRejectionWithinCap(t *testing.T) {
	store := newMemStore()
	sector := seedSector(store, "sector-1")
	sector.RiskScore = 90 // above manager's risk threshold, forces REVISE_REQUIRED
	store.sectors[sector.ID] = sector
	seedWorker(store, sector.ID, 80)
	client := &scriptedClient{responses: []string{
		`{"action":"BUY","symbol":"XYZ","allocationPercent":20,"confidence":85,"reasoning":"aggressive"}`,
	}}
	engine := newTestEngine(store, client)

	d, err := engine.Bootstrap(context.Background(), &sector, "", 1)
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if d.Status != domain.DiscussionDecided {
		t.Fatalf("expected DECIDED once the item collapses to a terminal state, got %s", d.Status)
	}
	if len(d.Checklist) != 1 {
		t.Fatalf("expected one checklist item, got %d", len(d.Checklist))
	}
	item := d.Checklist[0]
	if item.Status != domain.StatusAcceptRejection {
		t.Fatalf("expected ACCEPT_REJECTION after the refinement cap, got %s", item.Status)
	}
	if item.RevisionCount < domain.MaxRefinementRounds {
		t.Fatalf("expected the refinement cap to be reached, got %d rounds used", item.RevisionCount)
	}
	if len(store.rejected) != 1 {
		t.Fatalf("expected the collapsed item to be recorded in the rejected log, got %d entries", len(store.rejected))
	}
}

func TestFinalizeChecklist_ConsensusCallFillsEmptyChecklist(t *testing.T) {
	store := newMemStore()
	sector := seedSector(store, "sector-1")
	worker := seedWorker(store, sector.ID, 80)
	client := &scriptedClient{responses: []string{
		`{"items":[{"action":"BUY","symbol":"XYZ","allocationPercent":20,"confidence":75,"reasoning":"group consensus"}]}`,
	}}
	engine := newTestEngine(store, client)

	d := domain.Discussion{
		ID:                  "d-consensus",
		SectorID:            sector.ID,
		ParticipantAgentIDs: []string{worker.ID},
		Round:               1,
		CurrentRound:        1,
		Status:              domain.DiscussionInProgress,
		Messages: []domain.Message{
			{ID: "m1", AgentID: worker.ID, Role: "worker", Round: 1, Content: "the tape supports a position", Timestamp: time.Now()},
		},
	}
	if err := store.Create(d); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := engine.FinalizeChecklist(context.Background(), d.ID); err != nil {
		t.Fatalf("FinalizeChecklist: %v", err)
	}

	final, err := store.DiscussionGet(d.ID)
	if err != nil {
		t.Fatalf("DiscussionGet: %v", err)
	}
	if len(final.Checklist) != 1 {
		t.Fatalf("expected the consensus call to produce one checklist item, got %d", len(final.Checklist))
	}
	item := final.Checklist[0]
	if item.SourceAgentID != worker.ID || item.Symbol != "XYZ" {
		t.Fatalf("unexpected consensus item attribution: %+v", item)
	}
	if final.Status != domain.DiscussionDecided {
		t.Fatalf("expected DECIDED after the manager loop, got %s", final.Status)
	}
}

func TestFinalizeChecklist_AggregationFallbackWhenConsensusUnusable(t *testing.T) {
	store := newMemStore()
	sector := seedSector(store, "sector-1")
	worker := seedWorker(store, sector.ID, 80)
	client := &scriptedClient{responses: []string{"not json at all"}}
	engine := newTestEngine(store, client)

	hold := domain.Proposal{Action: domain.ActionHold, Symbol: "XYZ", Confidence: 50, Reasoning: "wait and see"}
	d := domain.Discussion{
		ID:                  "d-fallback",
		SectorID:            sector.ID,
		ParticipantAgentIDs: []string{worker.ID},
		Round:               1,
		CurrentRound:        1,
		Status:              domain.DiscussionInProgress,
		Messages: []domain.Message{
			{ID: "m1", AgentID: worker.ID, Role: "worker", Round: 1, Content: "wait and see", Proposal: &hold, Timestamp: time.Now()},
		},
	}
	if err := store.Create(d); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := engine.FinalizeChecklist(context.Background(), d.ID); err != nil {
		t.Fatalf("FinalizeChecklist: %v", err)
	}

	final, err := store.DiscussionGet(d.ID)
	if err != nil {
		t.Fatalf("DiscussionGet: %v", err)
	}
	if len(final.Checklist) != 1 {
		t.Fatalf("expected the aggregation fallback to produce one checklist item, got %d", len(final.Checklist))
	}
	if final.Checklist[0].ActionType != domain.ActionHold {
		t.Fatalf("expected a consolidated HOLD item, got %s", final.Checklist[0].ActionType)
	}
	if final.Status != domain.DiscussionDecided {
		t.Fatalf("expected DECIDED, got %s", final.Status)
	}
}

func TestStartDiscussion_ConcurrentCallsExactlyOneSucceeds(t *testing.T) {
	store := newMemStore()
	sector := seedSector(store, "sector-1")
	seedWorker(store, sector.ID, 80)
	engine := newTestEngine(store, &scriptedClient{responses: []string{`{"action":"HOLD","confidence":50}`}})

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = engine.StartDiscussion(&sector, "")
		}(i)
	}
	wg.Wait()

	successes, contentions := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			successes++
		case domain.IsCode(err, domain.ErrCodeContention):
			contentions++
		default:
			t.Fatalf("unexpected error from concurrent StartDiscussion: %v", err)
		}
	}
	if successes != 1 {
		t.Fatalf("expected exactly one concurrent StartDiscussion to succeed, got %d", successes)
	}
	if contentions != n-1 {
		t.Fatalf("expected %d contention errors, got %d", n-1, contentions)
	}

	active := 0
	store.mu.Lock()
	for _, d := range store.discussions {
		if d.Status.IsActive() {
			active++
		}
	}
	store.mu.Unlock()
	if active != 1 {
		t.Fatalf("expected exactly one active discussion persisted, got %d", active)
	}
}
