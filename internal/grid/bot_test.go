package grid

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SergeySdv/backpack-volume-auto/internal/models"
	"github.com/SergeySdv/backpack-volume-auto/internal/trade"
)

// mockExchange doubles the venue for grid tests: every placed order gets a
// fresh id and rests as open until the test flips its status.
type mockExchange struct {
	sync.Mutex

	balances map[string]models.Balance
	price    float64

	requests  []models.OrderRequest
	orders    map[string]*models.Order
	cancelled []string
	nextID    int
}

func newMockExchange(price float64, balances map[string]models.Balance) *mockExchange {
	return &mockExchange{
		balances: balances,
		price:    price,
		orders:   make(map[string]*models.Order),
	}
}

func (m *mockExchange) GetBalances(ctx context.Context) (map[string]models.Balance, error) {
	m.Lock()
	defer m.Unlock()
	return m.balances, nil
}

func (m *mockExchange) GetDepth(ctx context.Context, symbol string) (*models.OrderBookSnapshot, error) {
	m.Lock()
	defer m.Unlock()
	return &models.OrderBookSnapshot{
		Asks: []models.PriceLevel{{Price: m.price, Size: 10}},
		Bids: []models.PriceLevel{{Price: m.price, Size: 10}},
	}, nil
}

func (m *mockExchange) ExecuteOrder(ctx context.Context, req models.OrderRequest) (*models.Order, error) {
	m.Lock()
	defer m.Unlock()
	m.requests = append(m.requests, req)
	m.nextID++
	order := &models.Order{
		ID:       fmt.Sprintf("order-%d", m.nextID),
		Symbol:   req.Symbol,
		Side:     req.Side,
		Quantity: req.Quantity,
		Price:    req.Price,
		Status:   models.StatusOpen,
	}
	m.orders[order.ID] = order
	return order, nil
}

func (m *mockExchange) GetOrder(ctx context.Context, symbol, orderID string) (*models.Order, error) {
	m.Lock()
	defer m.Unlock()
	order, ok := m.orders[orderID]
	if !ok {
		return nil, &models.APIError{StatusCode: 404, Body: "Order not found"}
	}
	return order, nil
}

func (m *mockExchange) CancelOrder(ctx context.Context, symbol, orderID string) error {
	m.Lock()
	defer m.Unlock()
	m.cancelled = append(m.cancelled, orderID)
	delete(m.orders, orderID)
	return nil
}

func (m *mockExchange) GetOpenOrders(ctx context.Context, symbol string) ([]models.Order, error) {
	return nil, nil
}

func (m *mockExchange) requestCount() int {
	m.Lock()
	defer m.Unlock()
	return len(m.requests)
}

func (m *mockExchange) lastRequest() models.OrderRequest {
	m.Lock()
	defer m.Unlock()
	return m.requests[len(m.requests)-1]
}

func gridTestConfig() *models.Config {
	fast := models.RetrySettings{Attempts: 2}
	return &models.Config{
		Depth: 1,
		Grid: models.GridConfig{
			Pairs:      []string{"SOL_USDC"},
			Levels:     3,
			Spread:     0.02,
			OrderSize:  0.1,
			TakeProfit: 0.03,
		},
		Retry: models.RetryConfig{
			Balance:     fast,
			Price:       fast,
			Order:       fast,
			OrderSubmit: fast,
			OrderOps:    fast,
		},
		AssetPrecision: map[string]int{"SOL": 2},
		MinOrderSize:   map[string]float64{"SOL": 0.01},
	}
}

func funded() map[string]models.Balance {
	return map[string]models.Balance{
		"SOL":  {Available: "10"},
		"USDC": {Available: "1000"},
	}
}

func newTestBot(ex *mockExchange, cfg *models.Config) *Bot {
	return NewBot(trade.New(ex, "acc", cfg), "SOL_USDC", cfg)
}

func TestGridPrices(t *testing.T) {
	buys, sells := gridPrices(100, 0.02, 3)
	assert.InDeltaSlice(t, []float64{98, 96, 94}, buys, 1e-9)
	assert.InDeltaSlice(t, []float64{102, 104, 106}, sells, 1e-9)
}

func TestDeriveOrderSize(t *testing.T) {
	// quote side dominates: 1000 USDC at 100 is 10 base units,
	// 80% over 10 slots is 0.8
	size := deriveOrderSize(1, 1000, 100, 5, 2, 0.01)
	assert.InDelta(t, 0.8, size, 1e-9)

	// tiny balances floor to the venue minimum
	size = deriveOrderSize(0.05, 1, 100, 5, 2, 0.01)
	assert.InDelta(t, 0.01, size, 1e-9)

	// base side dominates when it is worth more
	size = deriveOrderSize(20, 100, 100, 5, 2, 0.01)
	assert.InDelta(t, 1.6, size, 1e-9)
}

func TestSetupGridPlacesBothSides(t *testing.T) {
	ex := newMockExchange(100, funded())
	b := newTestBot(ex, gridTestConfig())

	require.NoError(t, b.setupGrid(context.Background()))
	assert.Equal(t, 6, b.liveCount())

	var buys, sells int
	for _, req := range ex.requests {
		assert.Equal(t, models.TimeInForceGTC, req.TimeInForce)
		if req.Side == models.SideBuy {
			buys++
		} else {
			sells++
		}
	}
	assert.Equal(t, 3, buys)
	assert.Equal(t, 3, sells)
}

func TestSetupGridSkipsUnfundedSide(t *testing.T) {
	ex := newMockExchange(100, map[string]models.Balance{
		"USDC": {Available: "1000"},
	})
	b := newTestBot(ex, gridTestConfig())

	require.NoError(t, b.setupGrid(context.Background()))
	assert.Equal(t, 3, b.liveCount())
	for _, req := range ex.requests {
		assert.Equal(t, models.SideBuy, req.Side)
	}
}

func TestRunSelfStopsWhenNothingPlaceable(t *testing.T) {
	ex := newMockExchange(100, map[string]models.Balance{})
	b := newTestBot(ex, gridTestConfig())

	done := make(chan error, 1)
	go func() { done <- b.Run(context.Background()) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("bot did not stop itself")
	}
	assert.Zero(t, ex.requestCount())
}

func TestHandleBuyFillCountersAtTakeProfit(t *testing.T) {
	ex := newMockExchange(100, funded())
	b := newTestBot(ex, gridTestConfig())
	b.live["order-1"] = models.GridOrder{ID: "order-1", Side: models.SideBuy, Price: 100, Amount: 0.1}

	filled := b.live["order-1"]
	require.NoError(t, b.handleFill(context.Background(), filled))

	req := ex.lastRequest()
	assert.Equal(t, models.SideSell, req.Side)
	assert.Equal(t, "103.00", req.Price) // take-profit, not one spread
	assert.Equal(t, 1, b.liveCount())

	pos := b.book.position()
	require.NotNil(t, pos)
	assert.InDelta(t, 100.0, pos.EntryPrice, 1e-9)
}

func TestHandleSellFillCountersOneSpreadBelow(t *testing.T) {
	ex := newMockExchange(100, funded())
	b := newTestBot(ex, gridTestConfig())
	b.live["order-1"] = models.GridOrder{ID: "order-1", Side: models.SideSell, Price: 102, Amount: 0.1}

	filled := b.live["order-1"]
	require.NoError(t, b.handleFill(context.Background(), filled))

	req := ex.lastRequest()
	assert.Equal(t, models.SideBuy, req.Side)
	assert.Equal(t, "99.96", req.Price) // 102 * 0.98
}

func TestHandleFillCountersWithTheFilledAmount(t *testing.T) {
	ex := newMockExchange(100, funded())
	b := newTestBot(ex, gridTestConfig())
	// the configured slot size no longer matches what actually filled
	b.orderSize = 0.5
	b.live["order-1"] = models.GridOrder{ID: "order-1", Side: models.SideBuy, Price: 100, Amount: 0.12}

	filled := b.live["order-1"]
	require.NoError(t, b.handleFill(context.Background(), filled))

	req := ex.lastRequest()
	assert.Equal(t, "0.12", req.Quantity)
}

func TestMonitorRecentersOnDeviation(t *testing.T) {
	ex := newMockExchange(100, funded())
	b := newTestBot(ex, gridTestConfig())
	require.NoError(t, b.setupGrid(context.Background()))
	placed := ex.requestCount()

	// market gaps well past 2 spreads from the last center
	ex.Lock()
	ex.price = 90
	ex.Unlock()

	require.NoError(t, b.monitor(context.Background()))
	assert.Len(t, ex.cancelled, placed)
	assert.Equal(t, placed*2, ex.requestCount())
	assert.InDelta(t, 90.0, b.lastPrice, 1e-9)
}

func TestMonitorRepositionsDriftedBuyBelowMarket(t *testing.T) {
	cfg := gridTestConfig()
	ex := newMockExchange(100, funded())
	b := newTestBot(ex, cfg)
	b.lastPrice = 100

	ex.orders["order-1"] = &models.Order{ID: "order-1", Status: models.StatusOpen}
	b.live["order-1"] = models.GridOrder{ID: "order-1", Side: models.SideBuy, Price: 110, Amount: 0.1}

	require.NoError(t, b.monitor(context.Background()))

	assert.Equal(t, []string{"order-1"}, ex.cancelled)
	req := ex.lastRequest()
	assert.Equal(t, models.SideBuy, req.Side)
	// one spread under the market, even for a buy stranded above it
	assert.Equal(t, "98.00", req.Price)
}

func TestMonitorRepositionsDriftedSellAboveMarket(t *testing.T) {
	cfg := gridTestConfig()
	ex := newMockExchange(100, funded())
	b := newTestBot(ex, cfg)
	b.lastPrice = 100

	ex.orders["order-1"] = &models.Order{ID: "order-1", Status: models.StatusOpen}
	b.live["order-1"] = models.GridOrder{ID: "order-1", Side: models.SideSell, Price: 90, Amount: 0.1}

	require.NoError(t, b.monitor(context.Background()))

	assert.Equal(t, []string{"order-1"}, ex.cancelled)
	req := ex.lastRequest()
	assert.Equal(t, models.SideSell, req.Side)
	assert.Equal(t, "102.00", req.Price)
}

func TestMonitorDropsTerminalOrdersSilently(t *testing.T) {
	ex := newMockExchange(100, funded())
	b := newTestBot(ex, gridTestConfig())
	b.lastPrice = 100

	ex.orders["order-1"] = &models.Order{ID: "order-1", Status: models.StatusCancelled}
	b.live["order-1"] = models.GridOrder{ID: "order-1", Side: models.SideBuy, Price: 100, Amount: 0.1}

	require.NoError(t, b.monitor(context.Background()))
	assert.Zero(t, b.liveCount())
	assert.Zero(t, ex.requestCount())
	assert.Nil(t, b.book.position())
}

func TestStopCancelsLiveOrdersAndIsIdempotent(t *testing.T) {
	ex := newMockExchange(100, funded())
	b := newTestBot(ex, gridTestConfig())
	b.running = true
	require.NoError(t, b.setupGrid(context.Background()))
	placed := b.liveCount()

	b.Stop()
	assert.Len(t, ex.cancelled, placed)
	assert.Zero(t, b.liveCount())

	b.Stop()
	assert.Len(t, ex.cancelled, placed)
}

func TestManagerStartStopAll(t *testing.T) {
	ex := newMockExchange(100, funded())
	cfg := gridTestConfig()
	m := NewManager(trade.New(ex, "acc", cfg), cfg)

	require.NoError(t, m.Start(context.Background(), "SOL_USDC"))
	assert.Error(t, m.Start(context.Background(), "SOL_USDC"))

	// wait for the bot to come up
	deadline := time.Now().Add(2 * time.Second)
	for ex.requestCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	require.NotZero(t, ex.requestCount())

	m.StopAll()
	assert.Empty(t, m.Active())
	// every placed order was cancelled on shutdown
	assert.Len(t, ex.cancelled, ex.requestCount())
}
