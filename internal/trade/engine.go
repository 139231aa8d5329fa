// Package trade turns exchange responses into safe buy, sell and liquidate
// actions under partial failure. Every operation carries its own retry
// policy; which errors stop an account for good is decided here, not by
// callers.
package trade

import (
	"context"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/SergeySdv/backpack-volume-auto/internal/exchange"
	"github.com/SergeySdv/backpack-volume-auto/internal/logger"
	"github.com/SergeySdv/backpack-volume-auto/internal/models"
	"github.com/SergeySdv/backpack-volume-auto/internal/retry"
)

// minTradeUSD is the venue's minimum notional per order.
const minTradeUSD = 5.0

// pricePrecision is the quote decimal count on USDC markets.
const pricePrecision = 2

// Engine executes trades for one account. It owns its config copy and its
// volume counter; the exchange client behind it is account-scoped too.
type Engine struct {
	ex      exchange.Exchange
	account string // masked key, log prefix only
	cfg     models.Config

	mu      sync.Mutex
	volume  float64
	salvage []string // symbols whose sell leg failed and awaits another pass
}

// New builds an engine around an exchange client. The config is copied so
// later sizing decisions can never leak back into the shared instance.
func New(ex exchange.Exchange, account string, cfg *models.Config) *Engine {
	return &Engine{
		ex:      ex,
		account: account,
		cfg:     *cfg,
	}
}

// Account returns the masked account identifier used in log lines.
func (e *Engine) Account() string { return e.account }

// Volume returns the accumulated USD volume of filled orders.
func (e *Engine) Volume() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.volume
}

func (e *Engine) addVolume(usd float64) {
	e.mu.Lock()
	e.volume += usd
	e.mu.Unlock()
}

// GetBalances queries the account's balances, waiting out transient
// failures. An expired-request rejection gets a clock-skew hint in the log
// because that is what it means in practice.
func (e *Engine) GetBalances(ctx context.Context) (map[string]models.Balance, error) {
	var out map[string]models.Balance
	err := retry.Do(ctx, retry.FromSettings(e.cfg.Retry.Balance, nil), "balance query", func() error {
		res, err := e.ex.GetBalances(ctx)
		if err != nil {
			var apiErr *models.APIError
			if errors.As(err, &apiErr) && apiErr.ExpiredRequest() {
				logger.S().Warnf("[%s] request expired, check that the system clock is in sync", e.account)
			}
			return err
		}
		out = res
		return nil
	})
	return out, err
}

// GetMarketPrice quotes symbol at the configured depth: the depth-th best
// ask when buying, the depth-th best bid when selling.
func (e *Engine) GetMarketPrice(ctx context.Context, symbol, side string) (float64, error) {
	return e.marketPrice(ctx, symbol, side, e.cfg.Depth)
}

func (e *Engine) marketPrice(ctx context.Context, symbol, side string, depth int) (float64, error) {
	if depth < 1 {
		depth = 1
	}
	var price float64
	policy := retry.FromSettings(e.cfg.Retry.Price, func(err error) bool {
		return !errors.Is(err, ErrOrderbookEmpty)
	})
	err := retry.Do(ctx, policy, "price lookup "+symbol, func() error {
		book, err := e.ex.GetDepth(ctx, symbol)
		if err != nil {
			return err
		}
		if len(book.Asks) < depth || len(book.Bids) < depth {
			return errors.Wrapf(ErrOrderbookEmpty, "%s book has %d asks / %d bids, need %d",
				symbol, len(book.Asks), len(book.Bids), depth)
		}
		levels := book.Asks
		if side == models.SideSell {
			levels = book.Bids
		}
		price = levels[depth-1].Price
		return nil
	})
	return price, err
}

// effectiveBounds clamps the trade-amount window to the venue's minimum
// notional. Pure on purpose: the configured window is never modified.
func effectiveBounds(bounds [2]float64) (lo, hi float64) {
	lo, hi = bounds[0], bounds[1]
	if lo < minTradeUSD {
		lo = minTradeUSD
	}
	if hi < lo {
		hi = lo
	}
	return lo, hi
}

// spendAmount decides how many quote units the next buy commits, from the
// live balance minus the configured reserve, optionally narrowed to a random
// point inside the trade-amount window.
func (e *Engine) spendAmount(available float64) (float64, error) {
	spend := available - e.cfg.MinBalanceToLeft
	if e.cfg.TradeAmount[1] > 0 {
		lo, hi := effectiveBounds(e.cfg.TradeAmount)
		pick := lo + rand.Float64()*(hi-lo)
		if pick < spend {
			spend = pick
		}
	}
	if spend < minTradeUSD {
		return 0, Fatalf("available %.2f USD leaves nothing above the %.0f USD minimum to trade", available, minTradeUSD)
	}
	return spend, nil
}

// Buy spends quote balance on symbol with a fill-or-kill limit order,
// re-quoting price and size on every fill-or-kill rejection.
func (e *Engine) Buy(ctx context.Context, symbol string) error {
	_, quote := models.SplitSymbol(symbol)
	policy := retry.FromSettings(e.cfg.Retry.Order, IsFOKReject)
	return retry.Do(ctx, policy, "buy "+symbol, func() error {
		balances, err := e.GetBalances(ctx)
		if err != nil {
			return err
		}
		spend, err := e.spendAmount(availableOf(balances, quote))
		if err != nil {
			return err
		}
		price, err := e.GetMarketPrice(ctx, symbol, models.SideBuy)
		if err != nil {
			return err
		}
		return e.Trade(ctx, symbol, models.SideBuy, spend/price, price, models.TimeInForceFOK)
	})
}

// Sell liquidates the full base balance of symbol with a fill-or-kill limit
// order at the configured depth. A holding worth less than the venue minimum
// is nothing to sell and succeeds vacuously.
func (e *Engine) Sell(ctx context.Context, symbol string) error {
	return e.sell(ctx, symbol, e.cfg.Depth, models.TimeInForceFOK)
}

// SellSalvage is the relaxed sell used for stuck positions: best bid instead
// of the configured depth, resting instead of fill-or-kill, so the order
// survives a moving book.
func (e *Engine) SellSalvage(ctx context.Context, symbol string) error {
	return e.sell(ctx, symbol, 1, models.TimeInForceGTC)
}

func (e *Engine) sell(ctx context.Context, symbol string, depth int, tif string) error {
	base, _ := models.SplitSymbol(symbol)
	policy := retry.FromSettings(e.cfg.Retry.Order, IsFOKReject)
	return retry.Do(ctx, policy, "sell "+symbol, func() error {
		balances, err := e.GetBalances(ctx)
		if err != nil {
			return err
		}
		quantity := availableOf(balances, base)
		price, err := e.marketPrice(ctx, symbol, models.SideSell, depth)
		if err != nil {
			return err
		}
		if quantity*price < minTradeUSD {
			logger.S().Infof("[%s] %s holding worth %.2f USD is below the sellable minimum, nothing to do",
				e.account, symbol, quantity*price)
			return nil
		}
		return e.Trade(ctx, symbol, models.SideSell, quantity, price, tif)
	})
}

// Trade floors quantity to the asset's precision and submits one limit
// order. A zero-after-rounding quantity is rejected before any network call.
// Fill-or-kill rejections pass through untouched so callers can re-quote;
// the order's USD value counts toward volume only when the venue reports it
// filled.
func (e *Engine) Trade(ctx context.Context, symbol, side string, quantity, price float64, tif string) error {
	base, _ := models.SplitSymbol(symbol)
	precision := e.cfg.Precision(base)
	rounded := ToFixedFloat(quantity, precision)
	if rounded <= 0 {
		return Fatalf("insufficient funds: %s amount %.8f rounds to zero at %d decimals", base, quantity, precision)
	}

	req := models.OrderRequest{
		Symbol:      symbol,
		Side:        side,
		Quantity:    ToFixed(quantity, precision),
		Price:       ToFixed(price, pricePrecision),
		TimeInForce: tif,
	}

	var placed *models.Order
	policy := retry.FromSettings(e.cfg.Retry.OrderSubmit, func(err error) bool {
		return !IsFatal(err) && !IsFOKReject(err)
	})
	err := retry.Do(ctx, policy, side+" "+symbol, func() error {
		order, err := e.ex.ExecuteOrder(ctx, req)
		if err != nil {
			return classify(err)
		}
		placed = order
		return nil
	})
	if err != nil {
		return err
	}

	logger.S().Infof("[%s] %s %s %s @ %s: %s", e.account, side, req.Quantity, symbol, req.Price, placed.Status)
	if placed.Status == models.StatusFilled {
		e.addVolume(rounded * price)
	}
	return nil
}

// PlaceOrder submits a resting limit order and returns the venue's view of
// it. Grid bots use this path; resting orders never count toward volume.
func (e *Engine) PlaceOrder(ctx context.Context, symbol, side string, quantity, price float64) (*models.Order, error) {
	base, _ := models.SplitSymbol(symbol)
	precision := e.cfg.Precision(base)
	if ToFixedFloat(quantity, precision) <= 0 {
		return nil, Fatalf("insufficient funds: %s amount %.8f rounds to zero at %d decimals", base, quantity, precision)
	}

	req := models.OrderRequest{
		Symbol:      symbol,
		Side:        side,
		Quantity:    ToFixed(quantity, precision),
		Price:       ToFixed(price, pricePrecision),
		TimeInForce: models.TimeInForceGTC,
	}

	var placed *models.Order
	policy := retry.FromSettings(e.cfg.Retry.OrderSubmit, func(err error) bool {
		return !IsFatal(err)
	})
	err := retry.Do(ctx, policy, "place "+side+" "+symbol, func() error {
		order, err := e.ex.ExecuteOrder(ctx, req)
		if err != nil {
			return classify(err)
		}
		placed = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.S().Infof("[%s] placed %s %s %s @ %s", e.account, side, req.Quantity, symbol, req.Price)
	return placed, nil
}

// OrderStatus fetches the current state of an order.
func (e *Engine) OrderStatus(ctx context.Context, symbol, orderID string) (*models.Order, error) {
	var out *models.Order
	err := retry.Do(ctx, retry.FromSettings(e.cfg.Retry.OrderOps, nil), "order status "+orderID, func() error {
		order, err := e.ex.GetOrder(ctx, symbol, orderID)
		if err != nil {
			return err
		}
		out = order
		return nil
	})
	return out, err
}

// CancelOrder cancels one resting order, retrying only rejections of the
// fill-or-kill kind. An order the venue no longer knows about is already
// gone and counts as cancelled.
func (e *Engine) CancelOrder(ctx context.Context, symbol, orderID string) error {
	policy := retry.FromSettings(e.cfg.Retry.OrderOps, IsFOKReject)
	return retry.Do(ctx, policy, "cancel order "+orderID, func() error {
		err := e.ex.CancelOrder(ctx, symbol, orderID)
		var apiErr *models.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == 404 {
			return nil
		}
		return err
	})
}

// OpenOrders lists the account's resting orders on symbol.
func (e *Engine) OpenOrders(ctx context.Context, symbol string) ([]models.Order, error) {
	var out []models.Order
	err := retry.Do(ctx, retry.FromSettings(e.cfg.Retry.OrderOps, nil), "open orders "+symbol, func() error {
		orders, err := e.ex.GetOpenOrders(ctx, symbol)
		if err != nil {
			return err
		}
		out = orders
		return nil
	})
	return out, err
}

// queueSalvage remembers a symbol whose sell leg failed for a later pass.
func (e *Engine) queueSalvage(symbol string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range e.salvage {
		if s == symbol {
			return
		}
	}
	e.salvage = append(e.salvage, symbol)
}

// drainSalvage retries every queued symbol with the relaxed sell. Symbols
// that fail again go back on the queue.
func (e *Engine) drainSalvage(ctx context.Context) {
	e.mu.Lock()
	queued := e.salvage
	e.salvage = nil
	e.mu.Unlock()

	for _, symbol := range queued {
		if err := e.SellSalvage(ctx, symbol); err != nil {
			logger.S().Warnf("[%s] salvage sell %s failed: %v", e.account, symbol, err)
			e.queueSalvage(symbol)
		}
	}
}

// StartTrading runs buy/sell cycles over random pairs until the volume
// target is reached or ctx is cancelled. Per-trade errors are logged and the
// loop moves on; only fatal conditions stop the account. Failed sell legs go
// to the salvage queue, drained before each cycle and once more on the way
// out.
func (e *Engine) StartTrading(ctx context.Context, pairs []string) error {
	if len(pairs) == 0 {
		pairs = e.cfg.AllowedAssets
	}
	defer e.drainSalvage(context.Background())

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if e.cfg.NeededVolume > 0 && e.Volume() >= e.cfg.NeededVolume {
			logger.S().Infof("[%s] volume target reached: %.2f USD", e.account, e.Volume())
			return nil
		}

		e.drainSalvage(ctx)

		symbol := pairs[rand.Intn(len(pairs))]
		if err := e.Buy(ctx, symbol); err != nil {
			if IsFatal(err) || ctx.Err() != nil {
				return err
			}
			logger.S().Warnf("[%s] buy %s failed: %v", e.account, symbol, err)
			e.pause(ctx, e.cfg.DealDelay)
			continue
		}

		e.pause(ctx, e.cfg.TradeDelay)

		if err := e.Sell(ctx, symbol); err != nil {
			if IsFatal(err) || ctx.Err() != nil {
				return err
			}
			logger.S().Warnf("[%s] sell %s failed, queueing for salvage: %v", e.account, symbol, err)
			e.queueSalvage(symbol)
		}

		e.pause(ctx, e.cfg.DealDelay)
	}
}

// SellAll cancels the account's resting orders on the allowed pairs, then
// liquidates every non-quote asset with a positive balance. Assets that fail
// the normal sell get one more chance with the salvage variant.
func (e *Engine) SellAll(ctx context.Context) error {
	for _, symbol := range e.cfg.AllowedAssets {
		open, err := e.OpenOrders(ctx, symbol)
		if err != nil {
			logger.S().Warnf("[%s] sell all: list open orders %s: %v", e.account, symbol, err)
			continue
		}
		for _, order := range open {
			if err := e.CancelOrder(ctx, symbol, order.ID); err != nil {
				logger.S().Warnf("[%s] sell all: cancel %s on %s: %v", e.account, order.ID, symbol, err)
			}
		}
	}

	balances, err := e.GetBalances(ctx)
	if err != nil {
		return err
	}

	var failed []string
	for asset, balance := range balances {
		if asset == "USDC" || asset == "USDT" {
			continue
		}
		available, _ := strconv.ParseFloat(balance.Available, 64)
		if available <= 0 {
			continue
		}
		symbol := asset + "_USDC"
		if err := e.Sell(ctx, symbol); err != nil {
			logger.S().Warnf("[%s] sell all: %s failed: %v", e.account, symbol, err)
			failed = append(failed, symbol)
		}
	}

	for _, symbol := range failed {
		if err := e.SellSalvage(ctx, symbol); err != nil {
			logger.S().Errorf("[%s] sell all: giving up on %s: %v", e.account, symbol, err)
		}
	}
	return nil
}

func (e *Engine) pause(ctx context.Context, d models.DelayRange) {
	wait := d.Duration()
	if wait <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(wait):
	}
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
