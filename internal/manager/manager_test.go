package manager

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sectorsim/tradesim/internal/domain"
)

func TestCheckEligibility_RejectsActiveDiscussion(t *testing.T) {
	e := New()
	err := e.CheckEligibility(&domain.Sector{Balance: 100}, nil, true)
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.ErrCodeContention))
}

func TestCheckEligibility_RejectsNonPositiveBalance(t *testing.T) {
	e := New()
	err := e.CheckEligibility(&domain.Sector{Balance: 0}, nil, false)
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.ErrCodeValidation))
}

func TestCheckEligibility_RejectsLowConfidenceWorker(t *testing.T) {
	e := New()
	err := e.CheckEligibility(&domain.Sector{Balance: 100}, []domain.Agent{{Confidence: 60}}, false)
	require.Error(t, err)
}

func TestCheckEligibility_PassesAtThreshold(t *testing.T) {
	e := New()
	err := e.CheckEligibility(&domain.Sector{Balance: 100}, []domain.Agent{{Confidence: 65}}, false)
	require.NoError(t, err)
}

func newItem(confidence, allocation float64) *domain.ChecklistItem {
	return &domain.ChecklistItem{
		ID: "c1", ActionType: domain.ActionBuy, Confidence: confidence, AllocationPercent: allocation, Amount: 10,
	}
}

func TestEvaluate_ApprovesHighConfidenceReasonableAllocation(t *testing.T) {
	e := New()
	d := &domain.Discussion{}
	item := newItem(80, 20)
	e.Evaluate(d, item, &domain.Sector{RiskScore: 10})
	assert.Equal(t, domain.StatusApproved, item.Status)
}

func TestEvaluate_RejectsCriticallyLowConfidence(t *testing.T) {
	e := New()
	d := &domain.Discussion{}
	item := newItem(5, 20)
	e.Evaluate(d, item, &domain.Sector{})
	assert.Equal(t, domain.StatusRejected, item.Status)
}

func TestEvaluate_HoldAlwaysApproved(t *testing.T) {
	e := New()
	d := &domain.Discussion{}
	item := &domain.ChecklistItem{ID: "c1", ActionType: domain.ActionHold}
	e.Evaluate(d, item, &domain.Sector{})
	assert.Equal(t, domain.StatusApproved, item.Status)
}

func TestEvaluate_HardConstraintPromotesImmediately(t *testing.T) {
	e := New()
	d := &domain.Discussion{}
	item := newItem(40, 20)
	item.Rationale = "this violates a forbidden pattern"
	e.Evaluate(d, item, &domain.Sector{})
	assert.Equal(t, domain.StatusAcceptRejection, item.Status)
	assert.Empty(t, d.ActiveRefinementCycles)
}

func TestEvaluate_RiskTooHighHalvesAmountOnRevise(t *testing.T) {
	e := New()
	d := &domain.Discussion{}
	item := newItem(80, 20)
	item.Amount = 10
	e.Evaluate(d, item, &domain.Sector{RiskScore: 90})
	assert.Equal(t, domain.StatusReviseRequired, item.Status)
	assert.Equal(t, 5.0, item.Amount)
}

func TestEvaluate_RefinementCapCollapsesToAcceptRejection(t *testing.T) {
	// manager rejects the same item three times, reason "too risky".
	e := New()
	d := &domain.Discussion{}
	item := newItem(40, 60) // confidence below threshold AND allocation over the policy cap -> revise path
	sector := &domain.Sector{RiskScore: 90}

	for i := 0; i < 3; i++ {
		e.Evaluate(d, item, sector)
	}

	assert.Equal(t, domain.StatusAcceptRejection, item.Status)
	assert.Equal(t, 3, item.RevisionCount)
	_, stillActive := d.ActiveRefinementCycles[item.ID]
	assert.False(t, stillActive)
}

func TestCanDiscussionClose(t *testing.T) {
	e := New()
	d := &domain.Discussion{Checklist: []domain.ChecklistItem{
		{ID: "c1", Status: domain.StatusApproved},
		{ID: "c2", Status: domain.StatusRejected},
	}}

	assert.False(t, e.CanDiscussionClose(d, map[string]bool{}))
	assert.True(t, e.CanDiscussionClose(d, map[string]bool{"c1": true}))
}

func TestCanDiscussionClose_FalseWhenPendingRemains(t *testing.T) {
	e := New()
	d := &domain.Discussion{Checklist: []domain.ChecklistItem{
		{ID: "c1", Status: domain.StatusPending},
	}}
	assert.False(t, e.CanDiscussionClose(d, nil))
}
