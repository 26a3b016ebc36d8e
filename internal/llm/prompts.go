package llm

import "fmt"

// systemPrompt builds the system prompt: agent identity/style/risk
// level, sector snapshot, and an explicit policy preferring BUY/SELL over
// HOLD. The wording here is the prompt contract and must not drift once a
// deployment depends on it.
func systemPrompt(a AgentContext) string {
	return fmt.Sprintf(`You are %s, a %s trading agent with a %s decision style and %s risk tolerance, participating in a sector discussion for %s (ticker %s).

Current balance: $%.2f
Latest price: $%.2f
Trend: %.2f%%
Volatility: %.2f%%

Policy: prefer BUY or SELL over HOLD when the evidence supports a position. HOLD should be a deliberate choice, not a default.

Respond ONLY with valid JSON in the specified format. Do not include explanatory text outside the JSON.`,
		a.AgentName, a.Role, a.DecisionStyle, a.RiskTolerance, a.SectorName, a.Ticker,
		a.Balance, a.CurrentPrice, a.TrendPercent, a.VolatilityPct,
	)
}

// userPrompt builds the user prompt: the strictly JSON-shaped
// response request, plus the rejected-items context demanding a new
// proposal when the agent has entries in activeRefinementCycles.
func userPrompt(req PromptRequest) string {
	out := "Provide your trading proposal in the following JSON format:\n"
	out += `{
  "action": "BUY" | "SELL" | "HOLD",
  "symbol": "the sector ticker you are trading",
  "allocationPercent": 0-100,
  "confidence": 0-100,
  "reasoning": "detailed explanation of your analysis",
  "riskNotes": "optional risk caveats"
}`

	if len(req.RejectedItems) > 0 {
		out += "\n\nYour previous proposals in this discussion were not accepted:\n"
		for i, r := range req.RejectedItems {
			out += fmt.Sprintf("  %d. Previous proposal: %s\n     Rejection reason: %s\n", i+1, r.PreviousProposalSummary, r.RejectionReason)
		}
		out += "\nThe previous proposals are immutable and cannot be edited. Submit a new proposal that addresses the rejection reason."
	}

	if len(req.PreviousContent) > 0 {
		out += "\n\nPrior discussion messages:\n"
		for _, c := range req.PreviousContent {
			out += "  - " + c + "\n"
		}
	}

	return out
}

// consensusSystemPrompt frames the finalization call: the model acts as
// the discussion's neutral summarizer, distilling every round message into
// executable items.
func consensusSystemPrompt(req ConsensusRequest) string {
	return fmt.Sprintf(`You are the discussion facilitator for the %s sector (ticker %s, balance $%.2f). The discussion below has ended. Distill the agents' messages into the final list of trade actions the group converged on.

Respond ONLY with valid JSON in the specified format. Do not include explanatory text outside the JSON.`,
		req.SectorName, req.Ticker, req.Balance)
}

// consensusUserPrompt enumerates every round message and requests the
// items array the checklist builder will validate one by one.
func consensusUserPrompt(req ConsensusRequest) string {
	out := "Discussion messages, oldest first:\n"
	for _, m := range req.Messages {
		out += fmt.Sprintf("  [round %d] %s: %s\n", m.Round, m.AgentName, m.Content)
	}
	out += `
Provide the consensus trade actions in the following JSON format:
{
  "items": [
    {
      "action": "BUY" | "SELL" | "HOLD",
      "symbol": "the sector ticker",
      "allocationPercent": 0-100,
      "confidence": 0-100,
      "reasoning": "why the group converged on this action"
    }
  ]
}`
	return out
}
