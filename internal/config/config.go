package config

import (
	"encoding/json"
	"os"

	"github.com/SergeySdv/backpack-volume-auto/internal/models"
)

// Load reads the JSON config file and fills in defaults for anything the
// file leaves out.
func Load(path string) (*models.Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	cfg := Default()
	if err := json.NewDecoder(file).Decode(cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)

	return cfg, nil
}

// Default returns a config with every field at its documented default.
func Default() *models.Config {
	return &models.Config{
		APIURL:       "https://api.backpack.exchange",
		AccountsFile: "inputs/accounts.txt",
		ProxiesFile:  "inputs/proxies.txt",
		Threads:      1,
		TradeDelay:   models.DelayRange{Min: 1, Max: 2},
		Depth:        3,
		AllowedAssets: []string{
			"SOL_USDC", "PYTH_USDC", "JTO_USDC", "HNT_USDC", "MOBILE_USDC",
			"BONK_USDC", "WIF_USDC", "JUP_USDC", "RENDER_USDC", "WEN_USDC",
			"BTC_USDC", "W_USDC", "TNSR_USDC", "PRCL_USDC", "SHFL_USDC",
		},
		Grid: models.GridConfig{
			Pairs:      []string{"SOL_USDC"},
			Levels:     5,
			Spread:     0.01,
			TakeProfit: 0.03,
		},
		Retry: models.RetryConfig{
			Balance:     models.RetrySettings{Attempts: 7, MinDelaySec: 2, MaxDelaySec: 5},
			Price:       models.RetrySettings{Attempts: 5, MinDelaySec: 2, MaxDelaySec: 5},
			Order:       models.RetrySettings{Attempts: 10, MinDelaySec: 5, MaxDelaySec: 7},
			OrderSubmit: models.RetrySettings{Attempts: 9, MinDelaySec: 2, MaxDelaySec: 5},
			OrderOps:    models.RetrySettings{Attempts: 5, MinDelaySec: 2, MaxDelaySec: 5},
		},
		LogConfig: models.LogConfig{
			Level:      "info",
			Output:     "both",
			File:       "logs/out.log",
			MaxSize:    50,
			MaxBackups: 3,
			MaxAge:     14,
		},
	}
}

// applyDefaults repairs fields a partial config file may have zeroed out.
func applyDefaults(cfg *models.Config) {
	def := Default()
	if cfg.APIURL == "" {
		cfg.APIURL = def.APIURL
	}
	if cfg.AccountsFile == "" {
		cfg.AccountsFile = def.AccountsFile
	}
	if cfg.ProxiesFile == "" {
		cfg.ProxiesFile = def.ProxiesFile
	}
	if cfg.Threads <= 0 {
		cfg.Threads = def.Threads
	}
	if cfg.Depth <= 0 {
		cfg.Depth = def.Depth
	}
	if len(cfg.AllowedAssets) == 0 {
		cfg.AllowedAssets = def.AllowedAssets
	}
	if cfg.Grid.Levels <= 0 {
		cfg.Grid.Levels = def.Grid.Levels
	}
	if cfg.Grid.Spread <= 0 {
		cfg.Grid.Spread = def.Grid.Spread
	}
	if cfg.Grid.TakeProfit <= 0 {
		cfg.Grid.TakeProfit = def.Grid.TakeProfit
	}
	if len(cfg.Grid.Pairs) == 0 {
		cfg.Grid.Pairs = def.Grid.Pairs
	}
	fixRetry(&cfg.Retry.Balance, def.Retry.Balance)
	fixRetry(&cfg.Retry.Price, def.Retry.Price)
	fixRetry(&cfg.Retry.Order, def.Retry.Order)
	fixRetry(&cfg.Retry.OrderSubmit, def.Retry.OrderSubmit)
	fixRetry(&cfg.Retry.OrderOps, def.Retry.OrderOps)
	if cfg.LogConfig.Level == "" {
		cfg.LogConfig = def.LogConfig
	}
}

func fixRetry(rs *models.RetrySettings, def models.RetrySettings) {
	if rs.Attempts <= 0 {
		*rs = def
	}
}
