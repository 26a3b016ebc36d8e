package store

import "github.com/sectorsim/tradesim/internal/domain"

// SectorRepo is the non-generic sector-collection facade other packages
// depend on, so they don't need to reach for the generic helpers directly.
type SectorRepo struct{ s *Store }

// Sectors returns a SectorRepo bound to s.
func (s *Store) Sectors() SectorRepo { return SectorRepo{s} }

func sectorID(v *domain.Sector) string { return v.ID }

func (r SectorRepo) List() ([]domain.Sector, error) {
	return ReadCollection[domain.Sector](r.s, CollSectors)
}
func (r SectorRepo) Get(id string) (*domain.Sector, error) {
	return FindByID[domain.Sector](r.s, CollSectors, id, sectorID)
}
func (r SectorRepo) Create(sector domain.Sector) error {
	return InsertUnique[domain.Sector](r.s, CollSectors, sector, sectorID)
}
func (r SectorRepo) Update(id string, mutator func(*domain.Sector) error) error {
	return UpdateByID[domain.Sector](r.s, CollSectors, id, sectorID, mutator)
}
func (r SectorRepo) Delete(id string) error {
	return AtomicUpdate(r.s, CollSectors, func(items []domain.Sector) ([]domain.Sector, error) {
		out := items[:0]
		found := false
		for _, it := range items {
			if it.ID == id {
				found = true
				continue
			}
			out = append(out, it)
		}
		if !found {
			return nil, domain.NotFoundError("id", "no sector "+id)
		}
		return out, nil
	})
}

// AgentRepo is the non-generic agent-collection facade.
type AgentRepo struct{ s *Store }

func (s *Store) Agents() AgentRepo { return AgentRepo{s} }

func agentID(v *domain.Agent) string { return v.ID }

func (r AgentRepo) List() ([]domain.Agent, error) {
	return ReadCollection[domain.Agent](r.s, CollAgents)
}
func (r AgentRepo) Get(id string) (*domain.Agent, error) {
	return FindByID[domain.Agent](r.s, CollAgents, id, agentID)
}
func (r AgentRepo) ListBySector(sectorID string) ([]domain.Agent, error) {
	all, err := r.List()
	if err != nil {
		return nil, err
	}
	var out []domain.Agent
	for _, a := range all {
		if a.SectorID == sectorID {
			out = append(out, a)
		}
	}
	return out, nil
}
func (r AgentRepo) Create(agent domain.Agent) error {
	return InsertUnique[domain.Agent](r.s, CollAgents, agent, agentID)
}
func (r AgentRepo) Update(id string, mutator func(*domain.Agent) error) error {
	return UpdateByID[domain.Agent](r.s, CollAgents, id, agentID, mutator)
}

// DiscussionRepo is the non-generic discussion-collection facade. It
// implements the discussionstatus.Store interface.
type DiscussionRepo struct{ s *Store }

func (s *Store) Discussions() DiscussionRepo { return DiscussionRepo{s} }

func discussionID(v *domain.Discussion) string { return v.ID }

func (r DiscussionRepo) List() ([]domain.Discussion, error) {
	return ReadCollection[domain.Discussion](r.s, CollDiscussions)
}
func (r DiscussionRepo) ListBySector(sectorID string) ([]domain.Discussion, error) {
	all, err := r.List()
	if err != nil {
		return nil, err
	}
	var out []domain.Discussion
	for _, d := range all {
		if d.SectorID == sectorID {
			out = append(out, d)
		}
	}
	return out, nil
}
func (r DiscussionRepo) Get(id string) (*domain.Discussion, error) {
	return FindByID[domain.Discussion](r.s, CollDiscussions, id, discussionID)
}

// GetDiscussion satisfies discussionstatus.Store.
func (r DiscussionRepo) GetDiscussion(id string) (*domain.Discussion, error) { return r.Get(id) }

// CreateIfNoneActive appends d unless its sector already has a
// non-terminal discussion. The scan and the insert run inside one
// AtomicUpdate, so the serial-execution lock is enforced in the same
// critical section that persists the new record: two concurrent creates
// for one sector cannot both pass the check.
func (r DiscussionRepo) CreateIfNoneActive(d domain.Discussion) error {
	return AtomicUpdate(r.s, CollDiscussions, func(items []domain.Discussion) ([]domain.Discussion, error) {
		for i := range items {
			if items[i].ID == d.ID {
				return nil, domain.ValidationError("id", "duplicate id "+d.ID+" in "+CollDiscussions)
			}
			if items[i].SectorID == d.SectorID && items[i].Status.IsActive() {
				return nil, domain.ContentionError("sector already has an active discussion")
			}
		}
		return append(items, d), nil
	})
}
func (r DiscussionRepo) Update(id string, mutator func(*domain.Discussion) error) error {
	return UpdateByID[domain.Discussion](r.s, CollDiscussions, id, discussionID, mutator)
}

// UpdateDiscussion satisfies discussionstatus.Store.
func (r DiscussionRepo) UpdateDiscussion(id string, mutator func(*domain.Discussion) error) error {
	return r.Update(id, mutator)
}

// HasActiveDiscussion reports whether sectorID already has a non-terminal
// discussion, the serial-execution lock check.
func (r DiscussionRepo) HasActiveDiscussion(sectorID string) (bool, error) {
	discussions, err := r.ListBySector(sectorID)
	if err != nil {
		return false, err
	}
	for _, d := range discussions {
		if d.Status.IsActive() {
			return true, nil
		}
	}
	return false, nil
}

// PriceHistoryRepo is the append-only price-history facade.
type PriceHistoryRepo struct{ s *Store }

func (s *Store) PriceHistory() PriceHistoryRepo { return PriceHistoryRepo{s} }

func (r PriceHistoryRepo) Append(entry domain.PriceHistoryEntry) error {
	return Append(r.s, CollPriceHistory, entry, domain.MaxPriceHistoryEntries)
}
func (r PriceHistoryRepo) ListBySector(sectorID string, limit int) ([]domain.PriceHistoryEntry, error) {
	all, err := ReadCollection[domain.PriceHistoryEntry](r.s, CollPriceHistory)
	if err != nil {
		return nil, err
	}
	var out []domain.PriceHistoryEntry
	for _, e := range all {
		if e.SectorID == sectorID {
			out = append(out, e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// RejectedItemsRepo records checklist items the manager permanently
// rejected or collapsed to ACCEPT_REJECTION, for audit/replay.
type RejectedItemsRepo struct{ s *Store }

func (s *Store) RejectedItems() RejectedItemsRepo { return RejectedItemsRepo{s} }

func (r RejectedItemsRepo) Append(item domain.ChecklistItem) error {
	return Append(r.s, CollRejectedItems, item, 0)
}
func (r RejectedItemsRepo) List() ([]domain.ChecklistItem, error) {
	return ReadCollection[domain.ChecklistItem](r.s, CollRejectedItems)
}

// ExecutionLog is the per-sector trade log facade.
type ExecutionLog struct {
	s        *Store
	sectorID string
}

// ExecutionLog returns the execution-log facade for sectorID.
func (s *Store) ExecutionLog(sectorID string) ExecutionLog { return ExecutionLog{s, sectorID} }

func (l ExecutionLog) Append(trade domain.Trade) error {
	return AppendExecutionLog(l.s, l.sectorID, trade)
}
func (l ExecutionLog) List() ([]domain.Trade, error) { return ReadExecutionLog(l.s, l.sectorID) }
