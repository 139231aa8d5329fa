// Package proxycheck validates proxies against the exchange's public
// markets endpoint before workers are handed one that does not work.
package proxycheck

import (
	"context"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/SergeySdv/backpack-volume-auto/internal/logger"
	"github.com/SergeySdv/backpack-volume-auto/internal/models"
)

const (
	marketsEndpoint = "/api/v1/markets"
	checkTimeout    = 10 * time.Second
	checkWorkers    = 10
)

// check performs one request through the proxy and reports whether the
// exchange answered.
func check(ctx context.Context, baseURL, proxy string) bool {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(checkTimeout)
	if proxy != "" {
		client.SetProxy(proxy)
	}

	resp, err := client.R().SetContext(ctx).Get(marketsEndpoint)
	return err == nil && resp.IsSuccess()
}

// FilterAccounts drops the proxy from every account whose proxy fails the
// check, so its worker falls back to a direct connection. Accounts without a
// proxy pass through untouched. Checks run concurrently.
func FilterAccounts(ctx context.Context, baseURL string, accounts []models.Account) []models.Account {
	out := make([]models.Account, len(accounts))
	copy(out, accounts)

	sem := make(chan struct{}, checkWorkers)
	var wg sync.WaitGroup
	for i := range out {
		if out[i].Proxy == "" {
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(acc *models.Account) {
			defer wg.Done()
			defer func() { <-sem }()
			if !check(ctx, baseURL, acc.Proxy) {
				logger.S().Warnf("[%s] proxy %s failed the check, running without it", acc.Masked(), acc.Proxy)
				acc.Proxy = ""
			}
		}(&out[i])
	}
	wg.Wait()
	return out
}

// Report checks a list of bare proxies and returns the working ones.
func Report(ctx context.Context, baseURL string, proxies []string) (working []string) {
	sem := make(chan struct{}, checkWorkers)
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, proxy := range proxies {
		wg.Add(1)
		sem <- struct{}{}
		go func(proxy string) {
			defer wg.Done()
			defer func() { <-sem }()
			ok := check(ctx, baseURL, proxy)
			if ok {
				mu.Lock()
				working = append(working, proxy)
				mu.Unlock()
			}
			logger.S().Infof("proxy %s: ok=%v", proxy, ok)
		}(proxy)
	}
	wg.Wait()
	return working
}
