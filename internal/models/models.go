package models

import (
	"fmt"
	"math/rand"
	"strings"
	"time"
)

// Order sides as used across the core. The exchange client translates them
// to the venue's wire vocabulary.
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// Time-in-force values accepted by the exchange.
const (
	TimeInForceFOK = "FOK"
	TimeInForceGTC = "GTC"
)

// Order statuses, normalized from the venue's wire vocabulary.
const (
	StatusOpen          = "open"
	StatusPartiallyFill = "partially_filled"
	StatusFilled        = "filled"
	StatusCancelled     = "cancelled"
	StatusExpired       = "expired"
	StatusRejected      = "rejected"
)

// Account is one API credential pair plus an optional proxy, immutable once
// loaded. Exactly one worker owns an Account for its lifetime.
type Account struct {
	APIKey    string
	APISecret string
	Proxy     string
}

// Masked returns a short identifier safe for logs.
func (a Account) Masked() string {
	if len(a.APIKey) <= 15 {
		return a.APIKey + "..."
	}
	return a.APIKey[:15] + "..."
}

// Fields returns the account's columns for the success/failure log lines.
func (a Account) Fields() []string {
	return []string{a.APIKey + ":" + a.APISecret, a.Proxy}
}

// Balance is one asset's balance as reported by the exchange.
type Balance struct {
	Available string `json:"available"`
	Locked    string `json:"locked"`
	Staked    string `json:"staked"`
}

// PriceLevel is a single (price, size) entry of an order book side.
type PriceLevel struct {
	Price float64
	Size  float64
}

// OrderBookSnapshot holds both sides of the book with the best price at
// index 0 on each side.
type OrderBookSnapshot struct {
	Asks []PriceLevel
	Bids []PriceLevel
}

// OrderRequest describes a limit order to be submitted.
type OrderRequest struct {
	Symbol      string
	Side        string
	Quantity    string
	Price       string
	TimeInForce string
	ClientID    uint32
}

// Order is the exchange's view of an order, statuses normalized.
type Order struct {
	ID        string `json:"id"`
	ClientID  uint32 `json:"clientId"`
	Symbol    string `json:"symbol"`
	Side      string `json:"side"`
	Quantity  string `json:"quantity"`
	Price     string `json:"price"`
	Status    string `json:"status"`
	CreatedAt int64  `json:"createdAt"`
}

// GridOrder is a live resting order tracked by one grid bot.
type GridOrder struct {
	ID     string
	Side   string
	Price  float64
	Amount float64
	Status string
}

// Position is the weighted-average cost basis of currently unmatched buy
// fills. A nil *Position means no open exposure.
type Position struct {
	EntryPrice float64
	Size       float64
}

// DelayRange is an inclusive (min, max) range of seconds to pause for.
type DelayRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Duration samples a uniform delay from the range. Zero max means no delay.
func (d DelayRange) Duration() time.Duration {
	if d.Max <= 0 {
		return 0
	}
	sec := d.Min + rand.Float64()*(d.Max-d.Min)
	return time.Duration(sec * float64(time.Second))
}

// APIError is a structured non-200 response from the exchange.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// ExpiredRequest reports whether the venue rejected the request as expired,
// which almost always means the local clock is skewed.
func (e *APIError) ExpiredRequest() bool {
	return strings.Contains(e.Body, "Request has expired")
}

// SplitSymbol splits "SOL_USDC" into base and quote assets.
func SplitSymbol(symbol string) (base, quote string) {
	parts := strings.SplitN(symbol, "_", 2)
	base = parts[0]
	if len(parts) > 1 {
		quote = parts[1]
	}
	return base, quote
}
