package statestore

import (
	"context"
	"sync"
	"time"

	"log/slog"
)

// Flusher is the slice of Store the Manager needs: Store[T] satisfies it for
// any T.
type Flusher interface {
	Name() string
	Flush() error
	Dirty() bool
}

// Manager owns the periodic flush loop for a set of stores. The process
// lifecycle starts it once and joins it on shutdown; FlushAll is also called
// directly from the shutdown path and is safe from either trigger.
type Manager struct {
	logger   *slog.Logger
	interval time.Duration

	mu     sync.Mutex
	stores []Flusher

	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a flush manager. Interval must be positive.
func NewManager(logger *slog.Logger, interval time.Duration) *Manager {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Manager{logger: logger, interval: interval}
}

// Register adds a store to the flush set.
func (m *Manager) Register(s Flusher) {
	m.mu.Lock()
	m.stores = append(m.stores, s)
	m.mu.Unlock()
}

// Start begins the background flush loop. Call Stop to join it.
func (m *Manager) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.flushLoop(loopCtx)
}

func (m *Manager) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	defer close(m.done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.FlushAll()
		}
	}
}

// FlushAll flushes every dirty store. Clean stores are skipped, so calling
// this from both the ticker and the shutdown path cannot double-write.
func (m *Manager) FlushAll() {
	m.mu.Lock()
	stores := make([]Flusher, len(m.stores))
	copy(stores, m.stores)
	m.mu.Unlock()

	for _, s := range stores {
		if !s.Dirty() {
			continue
		}
		if err := s.Flush(); err != nil {
			m.logger.Error("statestore: flush failed", "name", s.Name(), "error", err)
		}
	}
}

// DirtyCount returns the number of stores with unflushed changes.
func (m *Manager) DirtyCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.stores {
		if s.Dirty() {
			n++
		}
	}
	return n
}

// Stop halts the flush loop, waits for it to exit, and runs a final FlushAll.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}
	m.FlushAll()
}
