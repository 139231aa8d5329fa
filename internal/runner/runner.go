// Package runner fans account workers out over a bounded number of
// goroutines and records each account's outcome.
package runner

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/SergeySdv/backpack-volume-auto/internal/logger"
	"github.com/SergeySdv/backpack-volume-auto/internal/models"
)

// Worker runs one account end to end. A nil error marks the account
// successful.
type Worker func(ctx context.Context, account models.Account) error

// Runner executes a Worker once per account, at most Threads at a time.
type Runner struct {
	cfg *models.Config

	mu        sync.Mutex
	succeeded int
}

// New builds a runner from the config's concurrency settings.
func New(cfg *models.Config) *Runner {
	return &Runner{cfg: cfg}
}

// Run processes every account and returns how many workers came back clean.
// Worker failures and panics are contained to their own account; ctx
// cancellation stops admitting new workers but running ones finish their
// current call chain on their own ctx checks.
func (r *Runner) Run(ctx context.Context, accounts []models.Account, worker Worker) int {
	threads := r.cfg.Threads
	if threads < 1 {
		threads = 1
	}
	sem := make(chan struct{}, threads)

	var wg sync.WaitGroup
	for _, account := range accounts {
		if ctx.Err() != nil {
			break
		}
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		go func(account models.Account) {
			defer wg.Done()
			defer func() { <-sem }()
			r.runOne(ctx, account, worker)
		}(account)
	}
	wg.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.succeeded
}

// runOne executes one worker with start jitter and panic containment, then
// files the account under success or failure.
func (r *Runner) runOne(ctx context.Context, account models.Account, worker Worker) {
	if max := r.cfg.StartDelayMax; max > 0 {
		delay := time.Duration(rand.Float64() * max * float64(time.Second))
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}

	masked := account.Masked()
	logger.S().Infof("[%s] worker started", masked)

	err := func() (err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = errors.Errorf("worker panicked: %v", rec)
			}
		}()
		return worker(ctx, account)
	}()

	if err != nil {
		logger.S().Errorf("[%s] worker failed: %v", masked, err)
		r.record(account, "logs/failed.txt")
		return
	}

	logger.S().Infof("[%s] worker finished", masked)
	r.mu.Lock()
	r.succeeded++
	r.mu.Unlock()
	r.record(account, "logs/success.txt")
}

// record appends the account's fields as one "|"-joined line.
func (r *Runner) record(account models.Account, path string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		logger.S().Warnf("create %s: %v", filepath.Dir(path), err)
		return
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		logger.S().Warnf("open %s: %v", path, err)
		return
	}
	defer f.Close()

	line := strings.Join(account.Fields(), "|") + "\n"
	if _, err := f.WriteString(line); err != nil {
		logger.S().Warnf("write %s: %v", path, err)
	}
}
