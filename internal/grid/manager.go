package grid

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/SergeySdv/backpack-volume-auto/internal/logger"
	"github.com/SergeySdv/backpack-volume-auto/internal/models"
	"github.com/SergeySdv/backpack-volume-auto/internal/trade"
)

// handle is one bot's task: the bot, its cancellation, and a channel that
// closes when its Run goroutine has fully returned.
type handle struct {
	bot    *Bot
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager owns the running grid bots of one account, keyed by symbol.
// Shutdown is deterministic: Stop and StopAll return only after the bots'
// goroutines have exited and their orders are cancelled.
type Manager struct {
	engine *trade.Engine
	cfg    *models.Config

	mu   sync.Mutex
	bots map[string]*handle
}

// NewManager builds an empty registry on top of an account's engine.
func NewManager(engine *trade.Engine, cfg *models.Config) *Manager {
	return &Manager{
		engine: engine,
		cfg:    cfg,
		bots:   make(map[string]*handle),
	}
}

// Start launches a grid bot for symbol. Starting a symbol that already has a
// running bot is an error.
func (m *Manager) Start(ctx context.Context, symbol string) error {
	m.mu.Lock()
	if _, ok := m.bots[symbol]; ok {
		m.mu.Unlock()
		return errors.Errorf("grid bot for %s is already registered", symbol)
	}

	botCtx, cancel := context.WithCancel(ctx)
	h := &handle{
		bot:    NewBot(m.engine, symbol, m.cfg),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	m.bots[symbol] = h
	m.mu.Unlock()

	go func() {
		defer close(h.done)
		if err := h.bot.Run(botCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.S().Errorf("[%s] grid %s exited: %v", m.engine.Account(), symbol, err)
		}
		m.mu.Lock()
		delete(m.bots, symbol)
		m.mu.Unlock()
	}()
	return nil
}

// Stop shuts down one symbol's bot and waits for it to finish. Unknown
// symbols are a no-op.
func (m *Manager) Stop(symbol string) {
	m.mu.Lock()
	h, ok := m.bots[symbol]
	m.mu.Unlock()
	if !ok {
		return
	}
	h.cancel()
	<-h.done
}

// StopAll shuts down every bot and waits for all of them.
func (m *Manager) StopAll() {
	m.mu.Lock()
	handles := make([]*handle, 0, len(m.bots))
	for _, h := range m.bots {
		handles = append(handles, h)
	}
	m.mu.Unlock()

	for _, h := range handles {
		h.cancel()
	}
	for _, h := range handles {
		<-h.done
	}
}

// Active lists the symbols with a registered bot.
func (m *Manager) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.bots))
	for symbol := range m.bots {
		out = append(out, symbol)
	}
	return out
}

// Statuses snapshots every registered bot.
func (m *Manager) Statuses() []Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Status, 0, len(m.bots))
	for _, h := range m.bots {
		out = append(out, h.bot.Status())
	}
	return out
}
