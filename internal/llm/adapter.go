// Package llm builds the agent prompt contract, invokes the configured
// LLMClient, and normalises whatever comes back into a well-formed
// domain.Proposal. It never lets a malformed or absent LLM response
// propagate: every failure mode degrades to a neutral HOLD.
package llm

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/sectorsim/tradesim/internal/domain"
	"github.com/sectorsim/tradesim/internal/metrics"
)

// Adapter is the LLM Decision Adapter. Enabled selects between
// invoking client and returning the deterministic HOLD fallback
// unconditionally, wired from the LLM_ENABLED env var at construction.
type Adapter struct {
	client  LLMClient
	enabled bool
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker
	log     zerolog.Logger
}

// WithCircuitBreaker wires cb around every client call the adapter makes,
// tripping open on repeated LLM failures so a degraded provider doesn't
// pile up full-timeout calls across every agent turn. Pass the "llm"
// breaker the risk package sizes for AI-call latencies. A nil cb (the
// zero value) leaves the adapter calling the client directly.
func (a *Adapter) WithCircuitBreaker(cb *gobreaker.CircuitBreaker) *Adapter {
	a.breaker = cb
	return a
}

// NewAdapter returns an Adapter. When enabled is false the adapter never
// calls client and always returns the deterministic fallback proposal.
func NewAdapter(client LLMClient, enabled bool, timeout time.Duration) *Adapter {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Adapter{
		client:  client,
		enabled: enabled,
		timeout: timeout,
		log:     log.With().Str("component", "llm.adapter").Logger(),
	}
}

// AgentMessage is what GenerateAgentMessage returns: the free-text
// analysis plus the structured proposal derived from it.
type AgentMessage struct {
	Analysis string
	Proposal *domain.Proposal
}

// GenerateAgentMessage builds the prompt pair, invokes the LLM client with
// a bounded deadline, and normalises the result into a well-formed
// AgentMessage. It never returns an error: every failure mode
// (disabled adapter, timeout, malformed JSON) degrades to a neutral HOLD
// proposal.
func (a *Adapter) GenerateAgentMessage(ctx context.Context, agent AgentContext, req PromptRequest) AgentMessage {
	if !a.enabled || a.client == nil {
		metrics.RecordLLMFallback("disabled")
		return a.neutralFallback(agent, "LLM adapter disabled")
	}

	req.Agent = agent
	sys := systemPrompt(agent)
	usr := userPrompt(req)

	cctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()
	content, err := a.completeWithSystem(cctx, sys, usr)
	if err != nil {
		a.log.Warn().Err(err).Str("agent", agent.AgentName).Msg("llm call failed, degrading to HOLD")
		metrics.RecordLLMFallback("error")
		return a.neutralFallback(agent, "Unable to generate proposal: "+err.Error())
	}

	parsed := parseProposalJSON(content)
	proposal := normalizeDecision(parsed, "no reasoning provided")
	if parsed != nil {
		proposal = postProcess(proposal, agent)
	}
	if proposal.Symbol == "" {
		proposal.Symbol = normalizeTicker(agent.Ticker)
	}
	metrics.RecordLLMDecision(string(proposal.Action), float64(time.Since(start).Milliseconds()))

	analysis := content
	if analysis == "" {
		analysis = proposal.Reasoning
	}

	return AgentMessage{Analysis: analysis, Proposal: proposal}
}

// completeWithSystem calls the client directly, or through the circuit
// breaker when one is wired, so an open breaker fails fast instead of
// waiting out the adapter's own timeout on every turn.
func (a *Adapter) completeWithSystem(ctx context.Context, sys, usr string) (string, error) {
	if a.breaker == nil {
		return a.client.CompleteWithSystem(ctx, sys, usr)
	}
	res, err := a.breaker.Execute(func() (interface{}, error) {
		return a.client.CompleteWithSystem(ctx, sys, usr)
	})
	if err != nil {
		return "", err
	}
	return res.(string), nil
}

// neutralFallback implements the degrade-to-HOLD rule used on
// every adapter failure mode: a disabled adapter, an LLM error, or a
// timeout.
func (a *Adapter) neutralFallback(agent AgentContext, reason string) AgentMessage {
	return AgentMessage{
		Analysis: reason,
		Proposal: &domain.Proposal{
			Action:            domain.ActionHold,
			Symbol:            normalizeTicker(agent.Ticker),
			AllocationPercent: 0,
			Confidence:        1,
			Reasoning:         reason,
		},
	}
}

func normalizeTicker(t string) string {
	return strings.ToUpper(strings.TrimSpace(t))
}

// GenerateConsensusChecklist runs the finalization call: the full
// message history goes to one LLM call whose response is an items array.
// Returns nil when the adapter is disabled, the call fails, or the
// response yields no usable items; the caller falls back to per-round
// aggregation. Like GenerateAgentMessage, it never returns an error.
func (a *Adapter) GenerateConsensusChecklist(ctx context.Context, req ConsensusRequest) []*domain.Proposal {
	if !a.enabled || a.client == nil || len(req.Messages) == 0 {
		return nil
	}

	cctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	content, err := a.completeWithSystem(cctx, consensusSystemPrompt(req), consensusUserPrompt(req))
	if err != nil {
		a.log.Warn().Err(err).Msg("consensus call failed, falling back to per-round aggregation")
		return nil
	}

	var parsed struct {
		Items []rawProposal `json:"items"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &parsed); err != nil {
		extracted := extractFirstJSONObject(content)
		if extracted == "" {
			return nil
		}
		if err := json.Unmarshal([]byte(extracted), &parsed); err != nil {
			return nil
		}
	}

	var out []*domain.Proposal
	for i := range parsed.Items {
		p := normalizeDecision(&parsed.Items[i], "consensus of discussion messages")
		if p.Symbol == "" {
			p.Symbol = normalizeTicker(req.Ticker)
		}
		out = append(out, p)
	}
	return out
}

// rawProposal is the loosely-typed shape the LLM is asked to emit.
// Every field is optional from the parser's perspective: normalizeDecision
// fills in defaults for anything missing or malformed.
type rawProposal struct {
	Action            *string  `json:"action"`
	Symbol            *string  `json:"symbol"`
	AllocationPercent *float64 `json:"allocationPercent"`
	Confidence        *float64 `json:"confidence"`
	Reasoning         *string  `json:"reasoning"`
	RiskNotes         *string  `json:"riskNotes"`
	SignalStrength    *float64 `json:"signalStrength"`
	Volatility        *float64 `json:"volatility"`
}

// parseProposalJSON implements the parser contract: parse JSON; on
// failure, attempt to extract the first {...} substring; on total failure
// return nil (fed to normalizeDecision as "null").
func parseProposalJSON(content string) *rawProposal {
	var raw rawProposal
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &raw); err == nil {
		return &raw
	}

	extracted := extractFirstJSONObject(content)
	if extracted == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(extracted), &raw); err != nil {
		return nil
	}
	return &raw
}

// normalizeDecision always returns a well-formed Proposal, using defaults
// for missing fields. parsed may be nil (failed parse or LLM
// returned non-JSON garbage), in which case every field defaults.
func normalizeDecision(parsed *rawProposal, fallbackReasoning string) *domain.Proposal {
	p := &domain.Proposal{
		Action:            domain.ActionHold,
		Confidence:        1,
		AllocationPercent: 0,
		Reasoning:         fallbackReasoning,
	}
	if parsed == nil {
		return p
	}

	if parsed.Action != nil {
		p.Action = domain.NormalizeActionType(*parsed.Action)
	}
	if parsed.Symbol != nil {
		p.Symbol = strings.ToUpper(strings.TrimSpace(*parsed.Symbol))
	}
	if parsed.AllocationPercent != nil {
		p.AllocationPercent = clampPercent(*parsed.AllocationPercent)
	}
	if parsed.Confidence != nil {
		p.Confidence = domain.ClampConfidence(*parsed.Confidence)
	}
	if parsed.Reasoning != nil && strings.TrimSpace(*parsed.Reasoning) != "" {
		p.Reasoning = *parsed.Reasoning
	}
	if parsed.RiskNotes != nil {
		p.RiskNotes = *parsed.RiskNotes
	}
	if parsed.SignalStrength != nil {
		v := domain.ClampConfidence(*parsed.SignalStrength)
		p.SignalStrength = &v
	}
	if parsed.Volatility != nil {
		p.Volatility = parsed.Volatility
	}

	// HOLD with no allocation is internally consistent regardless of what
	// the LLM sent for allocationPercent; BUY/SELL keep whatever was parsed.
	if p.Action == domain.ActionHold {
		p.AllocationPercent = 0
	}

	return p
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// postProcess applies the HOLD->BUY rewrite: when the adapter landed
// on HOLD but the sector has a positive balance and a meaningfully
// positive trend, rewrite to a modest BUY instead of passively sitting
// out a favorable tape.
func postProcess(p *domain.Proposal, agent AgentContext) *domain.Proposal {
	if p.Action != domain.ActionHold || agent.Balance <= 0 || agent.TrendPercent <= 0.5 {
		return p
	}

	alloc := 10 + stableJitter(agent.AgentName, 15)
	conf := 40 + stableJitter(agent.AgentName+"#conf", 25)

	p.Action = domain.ActionBuy
	p.AllocationPercent = alloc
	p.Confidence = domain.ClampConfidence(conf)
	p.Reasoning = strings.TrimSpace(p.Reasoning) + " (rewritten from HOLD: positive trend favors a position)"
	return p
}

// stableJitter derives a small deterministic offset in [0, span) from seed,
// so postProcess's rewritten allocation/confidence land in their target
// range without reaching for a process-global RNG.
func stableJitter(seed string, span float64) float64 {
	var h uint32 = 2166136261
	for i := 0; i < len(seed); i++ {
		h ^= uint32(seed[i])
		h *= 16777619
	}
	return float64(h%1000) / 1000 * span
}
