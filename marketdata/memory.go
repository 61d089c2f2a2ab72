package marketdata

import (
	"context"
	"fmt"
	"sync"
)

// Memory is an in-process Provider double: tests and local runs seed it with
// snapshots/history directly instead of reaching a real exchange.
type Memory struct {
	mu        sync.RWMutex
	snapshots map[string]Snapshot
	history   map[string][]OHLCV
}

func NewMemory() *Memory {
	return &Memory{
		snapshots: make(map[string]Snapshot),
		history:   make(map[string][]OHLCV),
	}
}

func key(symbol, venue string) string { return symbol + "@" + venue }

func (m *Memory) SetSnapshot(symbol, venue string, s Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[key(symbol, venue)] = s
}

func (m *Memory) SetHistory(symbol, venue string, bars []OHLCV) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history[key(symbol, venue)] = bars
}

func (m *Memory) GetSnapshot(_ context.Context, symbol, venue string) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.snapshots[key(symbol, venue)]
	if !ok {
		return Snapshot{}, fmt.Errorf("marketdata: no snapshot seeded for %s@%s", symbol, venue)
	}
	return s, nil
}

func (m *Memory) GetHistory(_ context.Context, symbol, venue string, limit int) ([]OHLCV, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bars := m.history[key(symbol, venue)]
	if limit > 0 && len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}
	return bars, nil
}

var _ Provider = (*Memory)(nil)
