package grid

import (
	"github.com/shopspring/decimal"

	"github.com/SergeySdv/backpack-volume-auto/internal/models"
)

// lot is one unmatched buy fill.
type lot struct {
	price decimal.Decimal
	size  decimal.Decimal
}

// ledger tracks unmatched buy fills in fill order. Sells consume the oldest
// lots first; the open position is the size-weighted average of whatever
// remains. Decimal arithmetic keeps repeated partial consumption exact.
type ledger struct {
	lots []lot
}

// applyBuy records a filled buy.
func (l *ledger) applyBuy(price, size float64) {
	if size <= 0 {
		return
	}
	l.lots = append(l.lots, lot{
		price: decimal.NewFromFloat(price),
		size:  decimal.NewFromFloat(size),
	})
}

// applySell consumes size from the oldest lots. Selling more than the ledger
// holds empties it; the surplus has no cost basis to track.
func (l *ledger) applySell(size float64) {
	remaining := decimal.NewFromFloat(size)
	for len(l.lots) > 0 && remaining.IsPositive() {
		head := &l.lots[0]
		if head.size.GreaterThan(remaining) {
			head.size = head.size.Sub(remaining)
			return
		}
		remaining = remaining.Sub(head.size)
		l.lots = l.lots[1:]
	}
}

// position returns the weighted-average entry of the open lots, nil when
// nothing is open.
func (l *ledger) position() *models.Position {
	if len(l.lots) == 0 {
		return nil
	}
	totalSize := decimal.Zero
	totalCost := decimal.Zero
	for _, lt := range l.lots {
		totalSize = totalSize.Add(lt.size)
		totalCost = totalCost.Add(lt.price.Mul(lt.size))
	}
	if !totalSize.IsPositive() {
		return nil
	}
	entry, _ := totalCost.Div(totalSize).Float64()
	size, _ := totalSize.Float64()
	return &models.Position{EntryPrice: entry, Size: size}
}

// takeProfitPrice is the sell price that locks in the configured fraction
// over the position's entry.
func takeProfitPrice(p *models.Position, fraction float64) float64 {
	return p.EntryPrice * (1 + fraction)
}
