package trademgr

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradesignal/alertcore/clock"
	"github.com/tradesignal/alertcore/store"
	"github.com/tradesignal/alertcore/types"
)

// memStore is a minimal in-memory TradeStore double for exercising the
// state-transition logic without a real database.
type memStore struct {
	mu      sync.Mutex
	trades  map[string]*types.Trade
	counter int64
}

func newMemStore() *memStore {
	return &memStore{trades: map[string]*types.Trade{}}
}

func (s *memStore) AllocateTradeNumber(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counter++
	return s.counter, nil
}

func (s *memStore) CreateTrade(_ context.Context, t *types.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.trades[t.ID] = &cp
	return nil
}

func (s *memStore) GetOpenTrades(_ context.Context, userID, configID string) ([]*types.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.Trade
	for _, t := range s.trades {
		if t.UserID == userID && t.ConfigID == configID && t.Status == types.TradeOpen {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) GetOpenTradesForClose(ctx context.Context, userID, configID, symbol, strategy string) ([]*types.Trade, error) {
	all, _ := s.GetOpenTrades(ctx, userID, configID)
	var out []*types.Trade
	for _, t := range all {
		if t.Symbol == symbol && t.Strategy == strategy {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *memStore) GetTradeByNumber(_ context.Context, userID, configID string, tradeNumber int64) (*types.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.trades {
		if t.UserID == userID && t.ConfigID == configID && t.TradeNumber == tradeNumber {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memStore) CASTradeStatus(_ context.Context, tradeID string, from types.TradeStatus, mutate func(*types.Trade)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trades[tradeID]
	if !ok {
		return store.ErrConflict
	}
	if t.Status != from {
		return store.ErrConflict
	}
	mutate(t)
	return nil
}

func (s *memStore) WithTradePair(_ context.Context, _, _ string, fn func() error) error {
	return fn()
}

func cfgFor(id string, mgmt types.TradeMgmt) *types.AlertConfiguration {
	return &types.AlertConfiguration{
		ID:        id,
		Symbol:    "BTCUSDT",
		Timeframe: types.Timeframe5m,
		Strategy:  "trend-follow",
		TradeMgmt: mgmt,
		AllowedEntrySignals: map[types.Signal]bool{types.SignalBuy: true, types.SignalSell: true},
		AllowedExitSignals:  map[types.Signal]bool{types.SignalTPHit: true, types.SignalSLHit: true},
	}
}

func alertFor(signal types.Signal, price decimal.Decimal) *types.IncomingAlert {
	return &types.IncomingAlert{
		ID: uuid.NewString(),
		Data: types.WebhookPayload{
			Symbol: "BTCUSDT", Timeframe: types.Timeframe5m, Strategy: "trend-follow",
			Signal: signal, Price: price,
		},
	}
}

func TestApplyOpensFirstTrade(t *testing.T) {
	s := newMemStore()
	m := New(s, clock.NewFake(time.Now()))
	cfg := cfgFor("cfg-1", types.TradeMgmt{MaxOpenTrades: 2})

	actions, err := m.Apply(context.Background(), cfg, alertFor(types.SignalBuy, decimal.NewFromInt(100)), "user-1")
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, "open", actions[0].Action)
}

func TestApplySkipsWhenMaxOpenTradesReached(t *testing.T) {
	s := newMemStore()
	m := New(s, clock.NewFake(time.Now()))
	cfg := cfgFor("cfg-1", types.TradeMgmt{MaxOpenTrades: 1})

	_, err := m.Apply(context.Background(), cfg, alertFor(types.SignalBuy, decimal.NewFromInt(100)), "user-1")
	require.NoError(t, err)

	actions, err := m.Apply(context.Background(), cfg, alertFor(types.SignalBuy, decimal.NewFromInt(101)), "user-1")
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, "skip", actions[0].Action)
}

func TestApplySkipsOppositeSignalWhenDisallowed(t *testing.T) {
	s := newMemStore()
	m := New(s, clock.NewFake(time.Now()))
	cfg := cfgFor("cfg-1", types.TradeMgmt{MaxOpenTrades: 1, AllowOppositeSignals: false})

	_, err := m.Apply(context.Background(), cfg, alertFor(types.SignalBuy, decimal.NewFromInt(100)), "user-1")
	require.NoError(t, err)

	actions, err := m.Apply(context.Background(), cfg, alertFor(types.SignalSell, decimal.NewFromInt(101)), "user-1")
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, "skip", actions[0].Action)
}

func TestApplyReplacesOldestOnOppositeSignalAtCap(t *testing.T) {
	s := newMemStore()
	m := New(s, clock.NewFake(time.Now()))
	cfg := cfgFor("cfg-1", types.TradeMgmt{MaxOpenTrades: 1, AllowOppositeSignals: true})

	_, err := m.Apply(context.Background(), cfg, alertFor(types.SignalBuy, decimal.NewFromInt(100)), "user-1")
	require.NoError(t, err)

	actions, err := m.Apply(context.Background(), cfg, alertFor(types.SignalSell, decimal.NewFromInt(101)), "user-1")
	require.NoError(t, err)
	require.Len(t, actions, 2)

	open, _ := s.GetOpenTrades(context.Background(), "user-1", "cfg-1")
	require.Len(t, open, 1)
	assert.Equal(t, types.SignalSell, open[0].Signal)
}

func TestApplyReplacesOnSameSignal(t *testing.T) {
	s := newMemStore()
	m := New(s, clock.NewFake(time.Now()))
	cfg := cfgFor("cfg-1", types.TradeMgmt{MaxOpenTrades: 1, ReplaceOnSameSignal: true})

	_, err := m.Apply(context.Background(), cfg, alertFor(types.SignalBuy, decimal.NewFromInt(100)), "user-1")
	require.NoError(t, err)

	actions, err := m.Apply(context.Background(), cfg, alertFor(types.SignalBuy, decimal.NewFromInt(105)), "user-1")
	require.NoError(t, err)
	require.Len(t, actions, 2)

	open, _ := s.GetOpenTrades(context.Background(), "user-1", "cfg-1")
	require.Len(t, open, 1)
	assert.True(t, open[0].EntryPrice.Equal(decimal.NewFromInt(105)))
}

func TestApplyClosesOnTPHitWithBankersRoundedPnL(t *testing.T) {
	s := newMemStore()
	m := New(s, clock.NewFake(time.Now()))
	cfg := cfgFor("cfg-1", types.TradeMgmt{MaxOpenTrades: 1, AutoCloseOnTPSL: true})

	_, err := m.Apply(context.Background(), cfg, alertFor(types.SignalBuy, decimal.NewFromInt(100)), "user-1")
	require.NoError(t, err)

	// Exit at 100.125: amount 0.125 and percentage 0.125 are exact ties, which
	// banker's rounding takes to the even 0.12 (half-up would give 0.13).
	actions, err := m.Apply(context.Background(), cfg, alertFor(types.SignalTPHit, decimal.NewFromFloat(100.125)), "user-1")
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, "close", actions[0].Action)

	open, _ := s.GetOpenTrades(context.Background(), "user-1", "cfg-1")
	assert.Empty(t, open)

	closed := s.trades[actions[0].TradeID]
	require.NotNil(t, closed.PnL)
	assert.Equal(t, "0.12", closed.PnL.Amount.String())
	assert.Equal(t, "0.12", closed.PnL.Percentage.String())
}

func TestApplySkipsCloseWhenAutoCloseDisabled(t *testing.T) {
	s := newMemStore()
	m := New(s, clock.NewFake(time.Now()))
	cfg := cfgFor("cfg-1", types.TradeMgmt{MaxOpenTrades: 1, AutoCloseOnTPSL: false})

	_, err := m.Apply(context.Background(), cfg, alertFor(types.SignalBuy, decimal.NewFromInt(100)), "user-1")
	require.NoError(t, err)

	actions, err := m.Apply(context.Background(), cfg, alertFor(types.SignalSLHit, decimal.NewFromInt(90)), "user-1")
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, "skip", actions[0].Action)
}
