// Package grid maintains a set of resting orders around the market price,
// replaces filled levels with counter orders, and tracks the running cost
// basis of open buys.
package grid

import (
	"context"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/SergeySdv/backpack-volume-auto/internal/logger"
	"github.com/SergeySdv/backpack-volume-auto/internal/models"
	"github.com/SergeySdv/backpack-volume-auto/internal/trade"
)

const (
	pollInterval    = 10 * time.Second
	errPollInterval = 30 * time.Second

	// deviationFactor and driftFactor are multiples of the grid spread.
	// Market moving past deviationFactor re-centers the whole grid; a single
	// order drifting past driftFactor gets pulled one spread closer.
	deviationFactor = 2.0
	driftFactor     = 3.0

	// balanceFraction is the share of the larger balance committed when the
	// order size is derived instead of configured.
	balanceFraction = 0.8
)

// Status is a point-in-time snapshot of one bot for reporting.
type Status struct {
	Symbol        string
	Running       bool
	Levels        int
	Spread        float64
	LastPrice     float64
	LiveOrders    int
	Position      *models.Position
	PositionValue float64
	TakeProfit    float64
}

// Bot runs one symbol's grid. All mutable state is owned by the single
// goroutine inside Run; the mutex only covers the snapshot and Stop paths.
type Bot struct {
	engine *trade.Engine
	symbol string
	cfg    *models.Config

	mu        sync.Mutex
	running   bool
	live      map[string]models.GridOrder
	book      ledger
	lastPrice float64
	orderSize float64
}

// NewBot builds a grid bot for one symbol on top of an account's engine.
func NewBot(engine *trade.Engine, symbol string, cfg *models.Config) *Bot {
	return &Bot{
		engine: engine,
		symbol: symbol,
		cfg:    cfg,
		live:   make(map[string]models.GridOrder),
	}
}

// gridPrices returns the buy and sell level prices around center, one spread
// width apart, nearest level first.
func gridPrices(center, spread float64, levels int) (buys, sells []float64) {
	for i := 1; i <= levels; i++ {
		buys = append(buys, center*(1-float64(i)*spread))
		sells = append(sells, center*(1+float64(i)*spread))
	}
	return buys, sells
}

// deriveOrderSize sizes one grid slot from the account's balances: a share
// of the larger side spread across every slot, floored to the asset's
// precision and raised to the venue minimum.
func deriveOrderSize(baseAvail, quoteAvail, price float64, levels int, precision int, minSize float64) float64 {
	larger := baseAvail
	if quoteAvail/price > larger {
		larger = quoteAvail / price
	}
	size := trade.ToFixedFloat(larger*balanceFraction/float64(levels*2), precision)
	if size < minSize {
		size = minSize
	}
	return size
}

// Run places the initial grid and keeps it current until ctx is cancelled,
// a fatal trade condition occurs, or the bot stops itself for lack of funds.
// Live orders are cancelled on the way out.
func (b *Bot) Run(ctx context.Context) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return errors.Errorf("grid bot for %s is already running", b.symbol)
	}
	b.running = true
	b.live = make(map[string]models.GridOrder)
	b.mu.Unlock()
	defer b.Stop()

	if err := b.setupGrid(ctx); err != nil {
		return err
	}
	if b.liveCount() == 0 {
		logger.S().Warnf("[%s] grid %s: no side has enough balance, stopping", b.engine.Account(), b.symbol)
		return nil
	}

	interval := pollInterval
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}

		if err := b.monitor(ctx); err != nil {
			if trade.IsFatal(err) || ctx.Err() != nil {
				return err
			}
			logger.S().Warnf("[%s] grid %s monitor: %v", b.engine.Account(), b.symbol, err)
			interval = errPollInterval
			continue
		}
		interval = pollInterval

		if b.liveCount() == 0 {
			if err := b.setupGrid(ctx); err != nil {
				return err
			}
			if b.liveCount() == 0 {
				logger.S().Warnf("[%s] grid %s: nothing placeable anymore, stopping", b.engine.Account(), b.symbol)
				return nil
			}
		}
	}
}

// setupGrid centers a fresh grid at the current price. A side whose balance
// cannot cover even one minimum order is skipped without error.
func (b *Bot) setupGrid(ctx context.Context) error {
	price, err := b.engine.GetMarketPrice(ctx, b.symbol, models.SideBuy)
	if err != nil {
		return err
	}
	balances, err := b.engine.GetBalances(ctx)
	if err != nil {
		return err
	}

	base, quote := models.SplitSymbol(b.symbol)
	baseAvail := availableOf(balances, base)
	quoteAvail := availableOf(balances, quote)
	minSize := b.cfg.MinSize(base)

	size := b.cfg.Grid.OrderSize
	if size <= 0 {
		size = deriveOrderSize(baseAvail, quoteAvail, price, b.cfg.Grid.Levels, b.cfg.Precision(base), minSize)
	}
	b.mu.Lock()
	b.orderSize = size
	b.mu.Unlock()

	canBuy := quoteAvail >= minSize*price
	canSell := baseAvail >= minSize
	if !canBuy && !canSell {
		logger.S().Warnf("[%s] grid %s: %s %.6f / %s %.2f cover no orders",
			b.engine.Account(), b.symbol, base, baseAvail, quote, quoteAvail)
		return nil
	}

	buys, sells := gridPrices(price, b.cfg.Grid.Spread, b.cfg.Grid.Levels)
	if canBuy {
		for _, p := range buys {
			if err := b.placeGridOrder(ctx, models.SideBuy, p, size); err != nil {
				return err
			}
		}
	}
	if canSell {
		for _, p := range sells {
			if err := b.placeGridOrder(ctx, models.SideSell, p, size); err != nil {
				return err
			}
		}
	}

	b.mu.Lock()
	b.lastPrice = price
	b.mu.Unlock()
	logger.S().Infof("[%s] grid %s centered at %.4f with %d live orders",
		b.engine.Account(), b.symbol, price, b.liveCount())
	return nil
}

// placeGridOrder submits one resting order and records it in the live set.
// Fatal conditions stop the grid; anything else skips just this level.
func (b *Bot) placeGridOrder(ctx context.Context, side string, price, size float64) error {
	order, err := b.engine.PlaceOrder(ctx, b.symbol, side, size, price)
	if err != nil {
		if trade.IsFatal(err) || ctx.Err() != nil {
			return err
		}
		logger.S().Warnf("[%s] grid %s: %s level %.4f not placed: %v",
			b.engine.Account(), b.symbol, side, price, err)
		return nil
	}
	amount, _ := strconv.ParseFloat(order.Quantity, 64)
	orderPrice, _ := strconv.ParseFloat(order.Price, 64)
	b.mu.Lock()
	b.live[order.ID] = models.GridOrder{
		ID:     order.ID,
		Side:   side,
		Price:  orderPrice,
		Amount: amount,
		Status: models.StatusOpen,
	}
	b.mu.Unlock()
	return nil
}

// monitor reconciles the live set against the venue, then reacts to price
// movement: a large deviation re-centers the grid, a single drifted order is
// pulled closer.
func (b *Bot) monitor(ctx context.Context) error {
	for _, order := range b.liveOrders() {
		current, err := b.engine.OrderStatus(ctx, b.symbol, order.ID)
		if err != nil {
			return err
		}
		switch current.Status {
		case models.StatusFilled:
			if err := b.handleFill(ctx, order); err != nil {
				return err
			}
		case models.StatusCancelled, models.StatusExpired, models.StatusRejected:
			b.drop(order.ID)
		}
	}

	price, err := b.engine.GetMarketPrice(ctx, b.symbol, models.SideBuy)
	if err != nil {
		return err
	}

	b.mu.Lock()
	last := b.lastPrice
	spread := b.cfg.Grid.Spread
	b.mu.Unlock()

	if last > 0 && math.Abs(price-last)/last > deviationFactor*spread {
		logger.S().Infof("[%s] grid %s: price moved %.4f -> %.4f, re-centering",
			b.engine.Account(), b.symbol, last, price)
		if err := b.cancelAll(ctx); err != nil {
			return err
		}
		return b.setupGrid(ctx)
	}

	for _, order := range b.liveOrders() {
		if math.Abs(order.Price-price) <= driftFactor*spread*price {
			continue
		}
		if err := b.reposition(ctx, order, price, spread); err != nil {
			return err
		}
	}
	return nil
}

// handleFill removes a filled order from the live set, updates the cost
// basis, and places the counter order on the opposite side, sized exactly
// like the fill.
func (b *Bot) handleFill(ctx context.Context, order models.GridOrder) error {
	b.drop(order.ID)

	b.mu.Lock()
	if order.Side == models.SideBuy {
		b.book.applyBuy(order.Price, order.Amount)
	} else {
		b.book.applySell(order.Amount)
	}
	pos := b.book.position()
	b.mu.Unlock()

	spread := b.cfg.Grid.Spread
	counterSide := models.SideSell
	counterPrice := order.Price * (1 + spread)
	if order.Side == models.SideSell {
		counterSide = models.SideBuy
		counterPrice = order.Price * (1 - spread)
	} else if pos != nil {
		counterPrice = takeProfitPrice(pos, b.cfg.Grid.TakeProfit)
	}

	logger.S().Infof("[%s] grid %s: %s %.6f filled @ %.4f, countering with %s @ %.4f",
		b.engine.Account(), b.symbol, order.Side, order.Amount, order.Price, counterSide, counterPrice)
	return b.placeGridOrder(ctx, counterSide, counterPrice, order.Amount)
}

// reposition cancels one drifted order and re-places it one spread width off
// the current price, on the same side: below for buys, above for sells.
func (b *Bot) reposition(ctx context.Context, order models.GridOrder, price, spread float64) error {
	if err := b.engine.CancelOrder(ctx, b.symbol, order.ID); err != nil {
		return err
	}
	b.drop(order.ID)

	newPrice := price * (1 + spread)
	if order.Side == models.SideBuy {
		newPrice = price * (1 - spread)
	}
	logger.S().Infof("[%s] grid %s: %s order drifted, moving %.4f -> %.4f",
		b.engine.Account(), b.symbol, order.Side, order.Price, newPrice)
	return b.placeGridOrder(ctx, order.Side, newPrice, order.Amount)
}

// cancelAll cancels every live order and empties the live set.
func (b *Bot) cancelAll(ctx context.Context) error {
	for _, order := range b.liveOrders() {
		if err := b.engine.CancelOrder(ctx, b.symbol, order.ID); err != nil {
			return err
		}
		b.drop(order.ID)
	}
	return nil
}

// Stop cancels every live order and marks the bot stopped. Safe to call more
// than once; it returns only after the cancel calls have completed.
func (b *Bot) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	orders := make([]models.GridOrder, 0, len(b.live))
	for _, o := range b.live {
		orders = append(orders, o)
	}
	b.live = make(map[string]models.GridOrder)
	b.mu.Unlock()

	ctx := context.Background()
	for _, order := range orders {
		if err := b.engine.CancelOrder(ctx, b.symbol, order.ID); err != nil {
			logger.S().Warnf("[%s] grid %s: cancel %s on stop failed: %v",
				b.engine.Account(), b.symbol, order.ID, err)
		}
	}
	logger.S().Infof("[%s] grid %s stopped", b.engine.Account(), b.symbol)
}

// Status snapshots the bot for reporting.
func (b *Bot) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := Status{
		Symbol:     b.symbol,
		Running:    b.running,
		Levels:     b.cfg.Grid.Levels,
		Spread:     b.cfg.Grid.Spread,
		LastPrice:  b.lastPrice,
		LiveOrders: len(b.live),
		Position:   b.book.position(),
	}
	if st.Position != nil {
		st.PositionValue = st.Position.Size * b.lastPrice
		st.TakeProfit = takeProfitPrice(st.Position, b.cfg.Grid.TakeProfit)
	}
	return st
}

func (b *Bot) liveCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.live)
}

func (b *Bot) liveOrders() []models.GridOrder {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]models.GridOrder, 0, len(b.live))
	for _, o := range b.live {
		out = append(out, o)
	}
	return out
}

func (b *Bot) drop(orderID string) {
	b.mu.Lock()
	delete(b.live, orderID)
	b.mu.Unlock()
}

// availableOf parses one asset's available balance, zero when absent or
// malformed.
func availableOf(balances map[string]models.Balance, asset string) float64 {
	v, err := strconv.ParseFloat(balances[asset].Available, 64)
	if err != nil {
		return 0
	}
	return v
}
