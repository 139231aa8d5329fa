package models

// Config holds every knob the bot reads. It is loaded once at startup and
// cloned per engine instance, never mutated in place after that.
type Config struct {
	APIURL        string  `json:"api_url"`
	AccountsFile  string  `json:"accounts_file"`
	ProxiesFile   string  `json:"proxies_file"`
	ValidateProxy bool    `json:"validate_proxies"`
	Threads       int     `json:"threads"`         // max concurrent account workers
	StartDelayMax float64 `json:"start_delay_max"` // seconds, jitter before each worker starts

	TradeDelay DelayRange `json:"trade_delay"` // pause between buy and sell legs
	DealDelay  DelayRange `json:"deal_delay"`  // pause between full buy->sell cycles

	NeededVolume     float64    `json:"needed_volume"`       // USD volume target, 0 = never stop
	MinBalanceToLeft float64    `json:"min_balance_to_left"` // USD to preserve on the quote balance
	TradeAmount      [2]float64 `json:"trade_amount"`        // (min, max) USD per trade, zeros = full balance
	AllowedAssets    []string   `json:"allowed_assets"`
	Depth            int        `json:"depth"` // order book level used as the market price

	Grid  GridConfig  `json:"grid"`
	Retry RetryConfig `json:"retry"`

	AssetPrecision map[string]int     `json:"asset_precision"` // quantity decimals per base asset
	MinOrderSize   map[string]float64 `json:"min_order_size"`  // per base asset

	LogConfig LogConfig `json:"log"`
}

// GridConfig parameterizes one grid bot. Immutable per bot instance.
type GridConfig struct {
	Pairs      []string `json:"pairs"`
	Levels     int      `json:"levels"`
	Spread     float64  `json:"spread"`      // fraction between grid levels, 0.01 = 1%
	OrderSize  float64  `json:"order_size"`  // base asset units, 0 = derive from balance
	TakeProfit float64  `json:"take_profit"` // fraction above entry, 0.03 = 3%
}

// RetrySettings is one operation's attempt budget and backoff window.
type RetrySettings struct {
	Attempts    int     `json:"attempts"`
	MinDelaySec float64 `json:"min_delay_sec"`
	MaxDelaySec float64 `json:"max_delay_sec"`
}

// RetryConfig groups the per-operation retry policies.
type RetryConfig struct {
	Balance     RetrySettings `json:"balance"`      // balance queries
	Price       RetrySettings `json:"price"`        // order book lookups
	Order       RetrySettings `json:"order"`        // buy/sell re-quote loops
	OrderSubmit RetrySettings `json:"order_submit"` // raw limit order submission
	OrderOps    RetrySettings `json:"order_ops"`    // status checks and cancels
}

// LogConfig mirrors the logger setup: level, sinks and rotation.
type LogConfig struct {
	Level      string `json:"level"`
	Output     string `json:"output"` // "console", "file", "both"
	File       string `json:"file"`
	MaxSize    int    `json:"max_size"` // MB
	MaxBackups int    `json:"max_backups"`
	MaxAge     int    `json:"max_age"` // days
	Compress   bool   `json:"compress"`
}

// defaultAssetPrecision lists quantity decimals for the assets Backpack
// lists against USDC. Unknown assets fall back to 0 decimals.
var defaultAssetPrecision = map[string]int{
	"SOL":    2,
	"USDC":   2,
	"PYTH":   1,
	"JTO":    1,
	"HNT":    1,
	"MOBILE": 0,
	"BONK":   0,
	"WIF":    1,
	"USDT":   0,
	"JUP":    2,
	"RENDER": 2,
	"WEN":    0,
	"BTC":    5,
	"W":      2,
	"TNSR":   2,
	"PRCL":   2,
	"SHFL":   2,
}

// defaultMinOrderSize lists the venue's minimum order quantity per base
// asset. Assets not listed use 0.01.
var defaultMinOrderSize = map[string]float64{
	"SOL":  0.01,
	"BTC":  0.0001,
	"JUP":  0.1,
	"PRCL": 0.1,
	"WEN":  1.0,
	"W":    0.01,
}

// Precision returns the quantity decimals for an asset.
func (c *Config) Precision(asset string) int {
	if p, ok := c.AssetPrecision[asset]; ok {
		return p
	}
	if p, ok := defaultAssetPrecision[asset]; ok {
		return p
	}
	return 0
}

// MinSize returns the minimum order quantity for an asset.
func (c *Config) MinSize(asset string) float64 {
	if s, ok := c.MinOrderSize[asset]; ok {
		return s
	}
	if s, ok := defaultMinOrderSize[asset]; ok {
		return s
	}
	return 0.01
}
