package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"

	"github.com/SergeySdv/backpack-volume-auto/internal/config"
	"github.com/SergeySdv/backpack-volume-auto/internal/exchange"
	"github.com/SergeySdv/backpack-volume-auto/internal/grid"
	"github.com/SergeySdv/backpack-volume-auto/internal/logger"
	"github.com/SergeySdv/backpack-volume-auto/internal/models"
	"github.com/SergeySdv/backpack-volume-auto/internal/proxycheck"
	"github.com/SergeySdv/backpack-volume-auto/internal/reporter"
	"github.com/SergeySdv/backpack-volume-auto/internal/runner"
	"github.com/SergeySdv/backpack-volume-auto/internal/trade"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the config file")
	mode := flag.String("mode", "volume", "running mode: volume, grid, sell-all, balances or check-proxies")
	flag.Parse()

	logger.Init(models.LogConfig{Level: "info", Output: "console"})

	if err := godotenv.Load(); err == nil {
		logger.S().Info("loaded overrides from .env")
	}
	if env := os.Getenv("CONFIG_PATH"); env != "" && !flagPassed("config") {
		*configPath = env
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.S().Fatalf("load config %s: %v", *configPath, err)
	}

	logger.Init(cfg.LogConfig)
	defer logger.S().Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	accounts, err := runner.LoadAccounts(cfg.AccountsFile, cfg.ProxiesFile)
	if err != nil {
		logger.S().Fatalf("load accounts: %v", err)
	}
	logger.S().Infof("loaded %d accounts", len(accounts))

	if cfg.ValidateProxy {
		accounts = proxycheck.FilterAccounts(ctx, cfg.APIURL, accounts)
	}

	var worker runner.Worker
	switch *mode {
	case "volume":
		worker = volumeWorker(cfg)
	case "grid":
		worker = gridWorker(cfg)
	case "sell-all":
		worker = sellAllWorker(cfg)
	case "balances":
		worker = balancesWorker(cfg)
	case "check-proxies":
		runCheckProxies(ctx, cfg)
		return
	default:
		logger.S().Fatalf("unknown mode %q", *mode)
	}

	succeeded := runner.New(cfg).Run(ctx, accounts, worker)
	logger.S().Infof("done: %d/%d accounts succeeded", succeeded, len(accounts))
}

// newEngine wires one account's exchange client and execution engine.
func newEngine(cfg *models.Config, account models.Account) (*trade.Engine, error) {
	ex, err := exchange.NewBackpack(account.APIKey, account.APISecret, cfg.APIURL, account.Proxy)
	if err != nil {
		return nil, err
	}
	return trade.New(ex, account.Masked(), cfg), nil
}

// volumeWorker runs buy/sell cycles until the volume target is met.
func volumeWorker(cfg *models.Config) runner.Worker {
	return func(ctx context.Context, account models.Account) error {
		engine, err := newEngine(cfg, account)
		if err != nil {
			return err
		}
		err = engine.StartTrading(ctx, cfg.AllowedAssets)
		logger.S().Infof("[%s] traded volume: %.2f USD", account.Masked(), engine.Volume())
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
}

// gridWorker runs one grid bot per configured pair until shutdown.
func gridWorker(cfg *models.Config) runner.Worker {
	return func(ctx context.Context, account models.Account) error {
		engine, err := newEngine(cfg, account)
		if err != nil {
			return err
		}
		manager := grid.NewManager(engine, cfg)
		for _, symbol := range cfg.Grid.Pairs {
			if err := manager.Start(ctx, symbol); err != nil {
				manager.StopAll()
				return err
			}
		}
		<-ctx.Done()
		statuses := manager.Statuses()
		manager.StopAll()
		reporter.PrintGridStatus(account.Masked(), statuses)
		return nil
	}
}

// sellAllWorker liquidates everything the account holds into USDC.
func sellAllWorker(cfg *models.Config) runner.Worker {
	return func(ctx context.Context, account models.Account) error {
		engine, err := newEngine(cfg, account)
		if err != nil {
			return err
		}
		return engine.SellAll(ctx)
	}
}

// balancesWorker prints the account's balance table.
func balancesWorker(cfg *models.Config) runner.Worker {
	return func(ctx context.Context, account models.Account) error {
		engine, err := newEngine(cfg, account)
		if err != nil {
			return err
		}
		balances, err := engine.GetBalances(ctx)
		if err != nil {
			return err
		}
		reporter.PrintBalances(account.Masked(), balances)
		return nil
	}
}

// runCheckProxies validates the proxy list and reports the working subset.
func runCheckProxies(ctx context.Context, cfg *models.Config) {
	proxies, err := runner.ReadProxies(cfg.ProxiesFile)
	if err != nil {
		logger.S().Fatalf("load proxies: %v", err)
	}
	working := proxycheck.Report(ctx, cfg.APIURL, proxies)
	logger.S().Infof("%d/%d proxies working", len(working), len(proxies))
}

func flagPassed(name string) bool {
	passed := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			passed = true
		}
	})
	return passed
}
