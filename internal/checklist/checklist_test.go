package checklist

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sectorsim/tradesim/internal/domain"
)

func allowed(symbols ...string) map[string]bool {
	m := make(map[string]bool)
	for _, s := range symbols {
		m[s] = true
	}
	return m
}

func TestValidateChecklistItem_Valid(t *testing.T) {
	item, err := ValidateChecklistItem(RawItem{
		ID: "c1", SourceAgentID: "a1", ActionType: "buy", Symbol: "abc",
		Amount: 10, AllocationPercent: 20, Confidence: 50, Rationale: "looks good",
	}, Options{AllowedSymbols: allowed("ABC")})
	require.NoError(t, err)
	assert.Equal(t, domain.ActionBuy, item.ActionType)
	assert.Equal(t, "ABC", item.Symbol)
	assert.Equal(t, domain.StatusPending, item.Status)
}

func TestValidateChecklistItem_RejectsUnknownSymbol(t *testing.T) {
	_, err := ValidateChecklistItem(RawItem{
		ID: "c1", SourceAgentID: "a1", ActionType: "BUY", Symbol: "XYZ",
		Amount: 1, AllocationPercent: 10, Rationale: "x",
	}, Options{AllowedSymbols: allowed("ABC")})
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.ErrCodeValidation))
}

func TestValidateChecklistItem_HoldAllowsZeroAllocationAndAmount(t *testing.T) {
	item, err := ValidateChecklistItem(RawItem{
		ID: "c1", SourceAgentID: "a1", ActionType: "HOLD", Symbol: "ABC",
		Amount: 0, AllocationPercent: 0, Rationale: "sitting tight",
	}, Options{AllowedSymbols: allowed("ABC")})
	require.NoError(t, err)
	assert.Equal(t, 0.0, item.Amount)
}

func TestValidateChecklistItem_RejectsZeroAllocationForBuy(t *testing.T) {
	_, err := ValidateChecklistItem(RawItem{
		ID: "c1", SourceAgentID: "a1", ActionType: "BUY", Symbol: "ABC",
		AllocationPercent: 0, Amount: 5, Rationale: "x",
	}, Options{AllowedSymbols: allowed("ABC")})
	require.Error(t, err)
}

func TestValidateChecklistItem_AllowZeroAllocationOverride(t *testing.T) {
	_, err := ValidateChecklistItem(RawItem{
		ID: "c1", SourceAgentID: "a1", ActionType: "BUY", Symbol: "ABC",
		AllocationPercent: 0, Amount: 0, Rationale: "x",
	}, Options{AllowedSymbols: allowed("ABC"), AllowZeroAllocation: true, AllowZeroAmount: true})
	require.NoError(t, err)
}

func TestValidateChecklistItem_RationaleAcceptsReasoningAlias(t *testing.T) {
	item, err := ValidateChecklistItem(RawItem{
		ID: "c1", SourceAgentID: "a1", ActionType: "HOLD", Symbol: "ABC",
		Reasoning: "via alias",
	}, Options{AllowedSymbols: allowed("ABC")})
	require.NoError(t, err)
	assert.Equal(t, "via alias", item.Rationale)
}

func TestValidateChecklistItem_RejectsEmptyRationale(t *testing.T) {
	_, err := ValidateChecklistItem(RawItem{
		ID: "c1", SourceAgentID: "a1", ActionType: "HOLD", Symbol: "ABC",
	}, Options{AllowedSymbols: allowed("ABC")})
	require.Error(t, err)
}

func TestValidateChecklistItem_DefaultsStatusToPending(t *testing.T) {
	item, err := ValidateChecklistItem(RawItem{
		ID: "c1", SourceAgentID: "a1", ActionType: "HOLD", Symbol: "ABC", Rationale: "x",
	}, Options{AllowedSymbols: allowed("ABC")})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, item.Status)
}

func TestCreateChecklistFromProposal_Valid(t *testing.T) {
	proposal := &domain.Proposal{
		Action: domain.ActionBuy, Symbol: "ABC", AllocationPercent: 15,
		Confidence: 60, Reasoning: "trend looks good",
	}
	item := CreateChecklistFromProposal(proposal, "agent-1", 1, Options{AllowedSymbols: allowed("ABC")})
	assert.Equal(t, domain.StatusPending, item.Status)
	assert.Equal(t, "agent-1", item.SourceAgentID)
	require.NotNil(t, item.Round)
	assert.Equal(t, 1, *item.Round)
}

func TestCreateChecklistFromProposal_InvalidProducesRejectedFallback(t *testing.T) {
	proposal := &domain.Proposal{
		Action: domain.ActionBuy, Symbol: "NOTALLOWED", AllocationPercent: 15,
		Confidence: 60, Reasoning: "trend looks good",
	}
	item := CreateChecklistFromProposal(proposal, "agent-1", 1, Options{AllowedSymbols: allowed("ABC")})
	require.NotNil(t, item, "an invalid proposal must still produce a provenance-preserving item")
	assert.Equal(t, domain.StatusRejected, item.Status)
	assert.Equal(t, domain.ActionHold, item.ActionType)
}

func TestValidateChecklistItem_RejectsUnknownActionType(t *testing.T) {
	_, err := ValidateChecklistItem(RawItem{
		ID: "c1", SourceAgentID: "a1", ActionType: "SHORT", Symbol: "ABC",
		Amount: 1, AllocationPercent: 10, Rationale: "x",
	}, Options{AllowedSymbols: allowed("ABC")})
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.ErrCodeValidation))
}
