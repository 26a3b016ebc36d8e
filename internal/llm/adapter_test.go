package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sectorsim/tradesim/internal/domain"
)

type fakeClient struct {
	content string
	err     error
}

func (f *fakeClient) Complete(ctx context.Context, messages []ChatMessage) (*ChatResponse, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeClient) CompleteWithRetry(ctx context.Context, messages []ChatMessage, maxRetries int) (*ChatResponse, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.content, nil
}
func (f *fakeClient) ParseJSONResponse(content string, target interface{}) error {
	return errors.New("not implemented")
}

func TestAdapter_Disabled_ReturnsNeutralHold(t *testing.T) {
	a := NewAdapter(&fakeClient{content: `{"action":"BUY","confidence":90}`}, false, time.Second)
	msg := a.GenerateAgentMessage(context.Background(), AgentContext{AgentName: "Ada"}, PromptRequest{})
	if msg.Proposal.Action != domain.ActionHold || msg.Proposal.Confidence != 1 {
		t.Fatalf("disabled adapter should return neutral HOLD, got %+v", msg.Proposal)
	}
}

func TestAdapter_ValidJSON_ProducesProposal(t *testing.T) {
	a := NewAdapter(&fakeClient{content: `{"action":"SELL","symbol":"xyz","allocationPercent":30,"confidence":80,"reasoning":"overbought"}`}, true, time.Second)
	msg := a.GenerateAgentMessage(context.Background(), AgentContext{AgentName: "Ada"}, PromptRequest{})
	if msg.Proposal.Action != domain.ActionSell || msg.Proposal.Symbol != "XYZ" || msg.Proposal.AllocationPercent != 30 {
		t.Fatalf("unexpected proposal: %+v", msg.Proposal)
	}
}

func TestAdapter_GarbageResponse_DegradesToHold(t *testing.T) {
	a := NewAdapter(&fakeClient{content: "not json at all"}, true, time.Second)
	msg := a.GenerateAgentMessage(context.Background(), AgentContext{AgentName: "Ada"}, PromptRequest{})
	if msg.Proposal.Action != domain.ActionHold || msg.Proposal.Confidence != 1 {
		t.Fatalf("garbage response should degrade to neutral HOLD, got %+v", msg.Proposal)
	}
}

func TestAdapter_EmbeddedJSONInMarkdown_StillParses(t *testing.T) {
	a := NewAdapter(&fakeClient{content: "Here is my analysis.\n```json\n{\"action\":\"BUY\",\"confidence\":55}\n```"}, true, time.Second)
	msg := a.GenerateAgentMessage(context.Background(), AgentContext{AgentName: "Ada"}, PromptRequest{})
	if msg.Proposal.Action != domain.ActionBuy {
		t.Fatalf("expected BUY extracted from embedded JSON, got %+v", msg.Proposal)
	}
}

func TestAdapter_LLMError_DegradesToHoldWithReason(t *testing.T) {
	a := NewAdapter(&fakeClient{err: errors.New("gateway timeout")}, true, time.Second)
	msg := a.GenerateAgentMessage(context.Background(), AgentContext{AgentName: "Ada"}, PromptRequest{})
	if msg.Proposal.Action != domain.ActionHold {
		t.Fatalf("expected HOLD on LLM error, got %+v", msg.Proposal)
	}
	if msg.Proposal.Reasoning == "" {
		t.Fatal("expected a reasoning message carrying the failure cause")
	}
}

func TestAdapter_HoldRewrittenToBuyOnPositiveTrend(t *testing.T) {
	a := NewAdapter(&fakeClient{content: `{"action":"HOLD","confidence":50,"reasoning":"uncertain"}`}, true, time.Second)
	agent := AgentContext{AgentName: "Ada", Balance: 1000, TrendPercent: 2.0}
	msg := a.GenerateAgentMessage(context.Background(), agent, PromptRequest{})
	if msg.Proposal.Action != domain.ActionBuy {
		t.Fatalf("expected HOLD rewritten to BUY on positive trend, got %+v", msg.Proposal)
	}
	if msg.Proposal.AllocationPercent < 10 || msg.Proposal.AllocationPercent > 25 {
		t.Fatalf("rewritten allocation out of [10,25]: %v", msg.Proposal.AllocationPercent)
	}
	if msg.Proposal.Confidence < 40 || msg.Proposal.Confidence > 65 {
		t.Fatalf("rewritten confidence out of [40,65]: %v", msg.Proposal.Confidence)
	}
}

func TestAdapter_HoldNotRewrittenWhenBalanceZero(t *testing.T) {
	a := NewAdapter(&fakeClient{content: `{"action":"HOLD","confidence":50}`}, true, time.Second)
	agent := AgentContext{AgentName: "Ada", Balance: 0, TrendPercent: 2.0}
	msg := a.GenerateAgentMessage(context.Background(), agent, PromptRequest{})
	if msg.Proposal.Action != domain.ActionHold {
		t.Fatalf("expected HOLD to stay HOLD with zero balance, got %+v", msg.Proposal)
	}
}

func TestNormalizeDecision_NilParsed_AllDefaults(t *testing.T) {
	p := normalizeDecision(nil, "fallback reason")
	if p.Action != domain.ActionHold || p.Confidence != 1 || p.Reasoning != "fallback reason" {
		t.Fatalf("nil parse should produce a fully-defaulted neutral proposal, got %+v", p)
	}
}

func TestParseProposalJSON_ExtractsFirstObjectFromNoise(t *testing.T) {
	raw := parseProposalJSON(`some preamble {"action":"BUY","confidence":70} trailing noise`)
	if raw == nil || raw.Action == nil || *raw.Action != "BUY" {
		t.Fatalf("expected extraction of embedded JSON object, got %+v", raw)
	}
}

func TestAdapter_EmptySymbolDefaultsToTicker(t *testing.T) {
	a := NewAdapter(&fakeClient{content: `{"action":"BUY","allocationPercent":20,"confidence":80,"reasoning":"uptrend"}`}, true, time.Second)
	msg := a.GenerateAgentMessage(context.Background(), AgentContext{AgentName: "Ada", Ticker: "hx"}, PromptRequest{})
	if msg.Proposal.Symbol != "HX" {
		t.Fatalf("expected empty symbol to default to the uppercased sector ticker, got %q", msg.Proposal.Symbol)
	}
}

func TestGenerateConsensusChecklist_ParsesItemsArray(t *testing.T) {
	a := NewAdapter(&fakeClient{content: `{"items":[{"action":"BUY","allocationPercent":15,"confidence":75,"reasoning":"group agrees"},{"action":"HOLD","confidence":60,"reasoning":"minority view"}]}`}, true, time.Second)
	req := ConsensusRequest{
		SectorName: "Helios",
		Ticker:     "HX",
		Messages:   []ConsensusMessage{{AgentName: "Ada", Round: 1, Content: "buy it"}},
	}
	proposals := a.GenerateConsensusChecklist(context.Background(), req)
	if len(proposals) != 2 {
		t.Fatalf("expected 2 consensus proposals, got %d", len(proposals))
	}
	if proposals[0].Action != domain.ActionBuy || proposals[0].Symbol != "HX" {
		t.Fatalf("unexpected first consensus proposal: %+v", proposals[0])
	}
}

func TestGenerateConsensusChecklist_GarbageYieldsNil(t *testing.T) {
	a := NewAdapter(&fakeClient{content: "no json here"}, true, time.Second)
	req := ConsensusRequest{Messages: []ConsensusMessage{{AgentName: "Ada", Round: 1, Content: "hm"}}}
	if got := a.GenerateConsensusChecklist(context.Background(), req); got != nil {
		t.Fatalf("expected nil for unparseable consensus response, got %+v", got)
	}
}

func TestGenerateConsensusChecklist_DisabledYieldsNil(t *testing.T) {
	a := NewAdapter(&fakeClient{content: `{"items":[{"action":"BUY"}]}`}, false, time.Second)
	req := ConsensusRequest{Messages: []ConsensusMessage{{AgentName: "Ada", Round: 1, Content: "hm"}}}
	if got := a.GenerateConsensusChecklist(context.Background(), req); got != nil {
		t.Fatalf("disabled adapter must not produce consensus proposals, got %+v", got)
	}
}
