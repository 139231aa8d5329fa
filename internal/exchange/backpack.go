package exchange

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/SergeySdv/backpack-volume-auto/internal/models"
)

const (
	defaultWindowMs = 5000

	instructionBalanceQuery  = "balanceQuery"
	instructionOrderExecute  = "orderExecute"
	instructionOrderQuery    = "orderQuery"
	instructionOrderCancel   = "orderCancel"
	instructionOrderQueryAll = "orderQueryAll"
)

// BackpackExchange talks to the Backpack REST API with ED25519-signed
// requests. One instance per account; the optional proxy is applied to
// every request the instance makes.
type BackpackExchange struct {
	client     *resty.Client
	apiKey     string
	privateKey ed25519.PrivateKey
	window     int64
}

// NewBackpack builds a client for one account. The secret is the base64
// encoded ED25519 seed issued by the venue.
func NewBackpack(apiKey, apiSecret, baseURL, proxyURL string) (*BackpackExchange, error) {
	seed, err := base64.StdEncoding.DecodeString(apiSecret)
	if err != nil {
		return nil, errors.Wrap(err, "decode api secret")
	}
	if len(seed) != ed25519.SeedSize {
		return nil, errors.Errorf("api secret must be a %d byte ed25519 seed", ed25519.SeedSize)
	}

	client := resty.New().
		SetBaseURL(strings.TrimSuffix(baseURL, "/")).
		SetTimeout(30 * time.Second).
		SetHeader("Content-Type", "application/json")
	if proxyURL != "" {
		client.SetProxy(proxyURL)
	}

	return &BackpackExchange{
		client:     client,
		apiKey:     apiKey,
		privateKey: ed25519.NewKeyFromSeed(seed),
		window:     defaultWindowMs,
	}, nil
}

// sign produces the venue's signature headers for one instruction. The
// signed message is the instruction plus the alphabetically sorted params
// plus timestamp and window.
func (e *BackpackExchange) sign(instruction string, params map[string]string) map[string]string {
	timestamp := time.Now().UnixMilli()

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString("instruction=")
	sb.WriteString(instruction)
	for _, k := range keys {
		sb.WriteString("&")
		sb.WriteString(k)
		sb.WriteString("=")
		sb.WriteString(params[k])
	}
	fmt.Fprintf(&sb, "&timestamp=%d&window=%d", timestamp, e.window)

	signature := ed25519.Sign(e.privateKey, []byte(sb.String()))

	return map[string]string{
		"X-API-Key":   e.apiKey,
		"X-Signature": base64.StdEncoding.EncodeToString(signature),
		"X-Timestamp": fmt.Sprintf("%d", timestamp),
		"X-Window":    fmt.Sprintf("%d", e.window),
	}
}

// do runs one request and turns any non-200 response into *models.APIError
// so callers can branch on the venue's structured failures.
func (e *BackpackExchange) do(req *resty.Request, method, endpoint string, out interface{}) error {
	var (
		resp *resty.Response
		err  error
	)
	switch method {
	case http.MethodGet:
		resp, err = req.Get(endpoint)
	case http.MethodPost:
		resp, err = req.Post(endpoint)
	case http.MethodDelete:
		resp, err = req.Delete(endpoint)
	default:
		return errors.Errorf("unsupported method %s", method)
	}
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, endpoint)
	}

	if !resp.IsSuccess() {
		return &models.APIError{
			StatusCode: resp.StatusCode(),
			Body:       strings.TrimSpace(string(resp.Body())),
		}
	}

	if out != nil {
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return errors.Wrapf(err, "decode %s response", endpoint)
		}
	}
	return nil
}

// GetBalances returns every asset's balance for the account.
func (e *BackpackExchange) GetBalances(ctx context.Context) (map[string]models.Balance, error) {
	req := e.client.R().
		SetContext(ctx).
		SetHeaders(e.sign(instructionBalanceQuery, nil))

	balances := make(map[string]models.Balance)
	if err := e.do(req, http.MethodGet, "/api/v1/capital", &balances); err != nil {
		return nil, err
	}
	return balances, nil
}

// wireDepth is the venue's order book: price/size string pairs, both sides
// sorted by ascending price.
type wireDepth struct {
	Asks [][]string `json:"asks"`
	Bids [][]string `json:"bids"`
}

// GetDepth returns the order book with the best price first on both sides.
func (e *BackpackExchange) GetDepth(ctx context.Context, symbol string) (*models.OrderBookSnapshot, error) {
	req := e.client.R().
		SetContext(ctx).
		SetQueryParam("symbol", symbol)

	var depth wireDepth
	if err := e.do(req, http.MethodGet, "/api/v1/depth", &depth); err != nil {
		return nil, err
	}

	snapshot := &models.OrderBookSnapshot{
		Asks: parseLevels(depth.Asks, false),
		Bids: parseLevels(depth.Bids, true),
	}
	return snapshot, nil
}

func parseLevels(raw [][]string, reverse bool) []models.PriceLevel {
	levels := make([]models.PriceLevel, 0, len(raw))
	for _, entry := range raw {
		if len(entry) < 2 {
			continue
		}
		price, err := strconv.ParseFloat(entry[0], 64)
		if err != nil {
			continue
		}
		size, _ := strconv.ParseFloat(entry[1], 64)
		levels = append(levels, models.PriceLevel{Price: price, Size: size})
	}
	if reverse {
		for i, j := 0, len(levels)-1; i < j; i, j = i+1, j-1 {
			levels[i], levels[j] = levels[j], levels[i]
		}
	}
	return levels
}

// wireOrder is an order as the venue reports it.
type wireOrder struct {
	ID        string `json:"id"`
	ClientID  uint32 `json:"clientId"`
	Symbol    string `json:"symbol"`
	Side      string `json:"side"`
	Quantity  string `json:"quantity"`
	Price     string `json:"price"`
	Status    string `json:"status"`
	CreatedAt int64  `json:"createdAt"`
}

func (w wireOrder) toModel() *models.Order {
	return &models.Order{
		ID:        w.ID,
		ClientID:  w.ClientID,
		Symbol:    w.Symbol,
		Side:      sideFromWire(w.Side),
		Quantity:  w.Quantity,
		Price:     w.Price,
		Status:    statusFromWire(w.Status),
		CreatedAt: w.CreatedAt,
	}
}

func sideToWire(side string) string {
	if side == models.SideBuy {
		return "Bid"
	}
	return "Ask"
}

func sideFromWire(side string) string {
	if side == "Bid" {
		return models.SideBuy
	}
	return models.SideSell
}

func statusFromWire(status string) string {
	switch status {
	case "New", "TriggerPending":
		return models.StatusOpen
	case "PartiallyFilled":
		return models.StatusPartiallyFill
	case "Filled":
		return models.StatusFilled
	case "Cancelled":
		return models.StatusCancelled
	case "Expired":
		return models.StatusExpired
	case "Rejected":
		return models.StatusRejected
	default:
		return strings.ToLower(status)
	}
}

// newClientID derives the venue's uint32 client order id from a fresh UUID.
func newClientID() uint32 {
	id := uuid.New()
	return binary.BigEndian.Uint32(id[:4])
}

// ExecuteOrder submits a limit order. A zero ClientID in the request is
// replaced with a generated one.
func (e *BackpackExchange) ExecuteOrder(ctx context.Context, req models.OrderRequest) (*models.Order, error) {
	clientID := req.ClientID
	if clientID == 0 {
		clientID = newClientID()
	}

	params := map[string]string{
		"clientId":    fmt.Sprintf("%d", clientID),
		"orderType":   "Limit",
		"price":       req.Price,
		"quantity":    req.Quantity,
		"side":        sideToWire(req.Side),
		"symbol":      req.Symbol,
		"timeInForce": req.TimeInForce,
	}

	body := map[string]interface{}{
		"clientId":    clientID,
		"orderType":   "Limit",
		"price":       req.Price,
		"quantity":    req.Quantity,
		"side":        sideToWire(req.Side),
		"symbol":      req.Symbol,
		"timeInForce": req.TimeInForce,
	}

	r := e.client.R().
		SetContext(ctx).
		SetHeaders(e.sign(instructionOrderExecute, params)).
		SetBody(body)

	var order wireOrder
	if err := e.do(r, http.MethodPost, "/api/v1/order", &order); err != nil {
		return nil, err
	}
	return order.toModel(), nil
}

// GetOrder fetches one order's current state.
func (e *BackpackExchange) GetOrder(ctx context.Context, symbol, orderID string) (*models.Order, error) {
	params := map[string]string{
		"orderId": orderID,
		"symbol":  symbol,
	}

	req := e.client.R().
		SetContext(ctx).
		SetHeaders(e.sign(instructionOrderQuery, params)).
		SetQueryParams(params)

	var order wireOrder
	if err := e.do(req, http.MethodGet, "/api/v1/order", &order); err != nil {
		return nil, err
	}
	return order.toModel(), nil
}

// CancelOrder cancels one resting order.
func (e *BackpackExchange) CancelOrder(ctx context.Context, symbol, orderID string) error {
	params := map[string]string{
		"orderId": orderID,
		"symbol":  symbol,
	}

	req := e.client.R().
		SetContext(ctx).
		SetHeaders(e.sign(instructionOrderCancel, params)).
		SetBody(map[string]string{"orderId": orderID, "symbol": symbol})

	return e.do(req, http.MethodDelete, "/api/v1/order", nil)
}

// GetOpenOrders lists the account's resting orders for one symbol.
func (e *BackpackExchange) GetOpenOrders(ctx context.Context, symbol string) ([]models.Order, error) {
	params := map[string]string{"symbol": symbol}

	req := e.client.R().
		SetContext(ctx).
		SetHeaders(e.sign(instructionOrderQueryAll, params)).
		SetQueryParams(params)

	var wire []wireOrder
	if err := e.do(req, http.MethodGet, "/api/v1/orders", &wire); err != nil {
		return nil, err
	}

	orders := make([]models.Order, 0, len(wire))
	for _, w := range wire {
		orders = append(orders, *w.toModel())
	}
	return orders, nil
}
