// Package execution implements the simulated order book: it accepts
// manager-approved decisions, matches them against the sector's current
// price, and emits trades and candle updates.
package execution

import (
	"time"

	"github.com/google/uuid"

	"github.com/sectorsim/tradesim/internal/domain"
	"github.com/sectorsim/tradesim/internal/metrics"
)

// Decision is the executable request the manager engine hands to the book.
type Decision struct {
	ChecklistItemID string
	AgentID         string
	Action          domain.ActionType
	Symbol          string
	Quantity        float64
	Price           float64
	RiskScore       float64
}

// Result is what a successful execution produces.
type Result struct {
	Trade  domain.Trade
	Candle domain.Candle
}

// Book executes decisions against one sector's simulated market. It holds
// no state itself; the sector's
// balance, volume, and candle history live in the persisted domain.Sector
// and are passed in and returned, not cached here.
type Book struct{}

// New returns a ready-to-use Book.
func New() *Book { return &Book{} }

// Execute matches decision against sector, returning the updated sector
// fields and the trade/candle to persist, or a domain error when the
// decision cannot be filled: allowed-symbol mismatch, insufficient
// balance, or zero quantity for a non-HOLD action.
func (b *Book) Execute(sector *domain.Sector, decision Decision) (Result, error) {
	if decision.Action == domain.ActionHold {
		return Result{}, domain.ValidationError("action", "HOLD is not executable")
	}
	if !sector.AllowsSymbol(decision.Symbol) {
		return Result{}, domain.ValidationError("symbol", "symbol not in sector's allowed set")
	}
	if decision.Quantity <= 0 {
		return Result{}, domain.ValidationError("quantity", "quantity must be positive for a non-HOLD action")
	}

	notional := decision.Quantity * decision.Price
	switch decision.Action {
	case domain.ActionBuy:
		if notional > sector.Balance {
			return Result{}, domain.ValidationError("balance", "insufficient balance for buy")
		}
		sector.Balance -= notional
	case domain.ActionSell:
		sector.Balance += notional
	}

	now := time.Now()
	trade := domain.Trade{
		ID:        uuid.NewString(),
		SectorID:  sector.ID,
		AgentID:   decision.AgentID,
		ItemID:    decision.ChecklistItemID,
		Action:    decision.Action,
		Price:     decision.Price,
		Quantity:  decision.Quantity,
		Timestamp: now,
	}

	sector.Volume += decision.Quantity // volume is monotone non-decreasing
	candle := applyCandle(sector, decision.Price, decision.Quantity, now)
	metrics.RecordTrade(string(decision.Action), notional)

	return Result{Trade: trade, Candle: candle}, nil
}

// applyCandle extends the in-progress candle (the last one in the
// sector's history) with price, or opens a new one if the history is
// empty or the last candle belongs to a different minute bucket, then
// re-bounds the history to MaxCandleHistory.
func applyCandle(sector *domain.Sector, price, volume float64, at time.Time) domain.Candle {
	n := len(sector.Candles)
	if n > 0 {
		last := &sector.Candles[n-1]
		if at.Truncate(time.Minute).Equal(last.Timestamp.Truncate(time.Minute)) {
			if price > last.High {
				last.High = price
			}
			if price < last.Low {
				last.Low = price
			}
			last.Close = price
			last.Volume += volume
			return *last
		}
	}

	next := domain.Candle{Open: price, High: price, Low: price, Close: price, Volume: volume, Timestamp: at}
	sector.Candles = append(sector.Candles, next)
	if len(sector.Candles) > domain.MaxCandleHistory {
		sector.Candles = sector.Candles[len(sector.Candles)-domain.MaxCandleHistory:]
	}
	return next
}
