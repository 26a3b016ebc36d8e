// Package discussionstatus is the sole mutator of Discussion.Status: it
// owns the discussion state machine and the invariants that gate
// each transition.
package discussionstatus

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sectorsim/tradesim/internal/domain"
)

// Store is the subset of the persistence store this service needs.
type Store interface {
	UpdateDiscussion(id string, mutator func(*domain.Discussion) error) error
	GetDiscussion(id string) (*domain.Discussion, error)
}

// Service owns discussion status transitions.
type Service struct {
	store Store
	log   zerolog.Logger
}

// New creates a discussion status Service backed by store.
func New(store Store) *Service {
	return &Service{store: store, log: log.With().Str("component", "discussionstatus").Logger()}
}

// TransitionStatus moves discussion id to target, refusing the move (and
// leaving status unchanged) if the edge is not permitted or DECIDED is
// requested while pending/revise-required items remain.
func (s *Service) TransitionStatus(id string, target domain.DiscussionStatus, reason string) error {
	return s.store.UpdateDiscussion(id, func(d *domain.Discussion) error {
		if !domain.CanTransition(d.Status, target) {
			return domain.StateError("illegal discussion status transition: " + string(d.Status) + " -> " + string(target))
		}
		if target == domain.DiscussionDecided && d.HasPendingOrRevising() {
			return domain.StateError("cannot transition to DECIDED while PENDING or REVISE_REQUIRED items remain")
		}
		if d.Status == target {
			return nil // idempotent self-transition on an already-terminal status
		}
		d.Status = target
		d.UpdatedAt = time.Now()
		s.log.Info().Str("discussionId", id).Str("status", string(target)).Str("reason", reason).Msg("discussion status transitioned")
		return nil
	})
}

// CheckAndTransitionToAwaitingExecution moves id from IN_PROGRESS to
// AWAITING_EXECUTION once all rounds have produced a final checklist,
// i.e. whenever the manager engine is ready to start evaluating items.
func (s *Service) CheckAndTransitionToAwaitingExecution(id string) error {
	d, err := s.store.GetDiscussion(id)
	if err != nil {
		return err
	}
	if d.Status != domain.DiscussionInProgress {
		return nil
	}
	return s.TransitionStatus(id, domain.DiscussionAwaitingExecution, "rounds complete, awaiting manager evaluation")
}

// FixInconsistentDecidedState is the only sanctioned repair path for a
// discussion that was somehow left DECIDED with non-terminal items: it
// reopens the discussion to AWAITING_EXECUTION so the manager engine can
// resume evaluating the stragglers.
func (s *Service) FixInconsistentDecidedState(id string) error {
	return s.store.UpdateDiscussion(id, func(d *domain.Discussion) error {
		if d.Status != domain.DiscussionDecided || !d.HasPendingOrRevising() {
			return nil
		}
		s.log.Warn().Str("discussionId", id).Msg("repairing inconsistent DECIDED discussion with non-terminal items")
		d.Status = domain.DiscussionAwaitingExecution
		d.UpdatedAt = time.Now()
		return nil
	})
}
