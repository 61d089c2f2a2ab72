package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradesignal/alertcore/clock"
	"github.com/tradesignal/alertcore/marketdata"
	"github.com/tradesignal/alertcore/types"
)

type fakeStore struct {
	mu    sync.Mutex
	due   []*types.UserAlert
	saved map[string]*types.UserAlert
	prev  map[string]decimal.Decimal
}

func newFakeStore(alerts ...*types.UserAlert) *fakeStore {
	s := &fakeStore{saved: map[string]*types.UserAlert{}, prev: map[string]decimal.Decimal{}}
	for _, a := range alerts {
		s.saved[a.ID] = a
		s.due = append(s.due, a)
	}
	return s
}

func (s *fakeStore) LoadDueAlerts(_ context.Context, _ time.Time, limit int) ([]*types.UserAlert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*types.UserAlert, len(s.due))
	copy(out, s.due)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) WithAlert(_ context.Context, id string, fn func(*types.UserAlert) error) (bool, error) {
	s.mu.Lock()
	ua, ok := s.saved[id]
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := fn(ua); err != nil {
		return true, err
	}
	return true, nil
}

func (s *fakeStore) GetPreviousValue(_ context.Context, userAlertID string, field types.ConditionField) (decimal.Decimal, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.prev[userAlertID+"|"+string(field)]
	return v, ok, nil
}

func (s *fakeStore) SetPreviousValue(_ context.Context, userAlertID string, field types.ConditionField, v decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prev[userAlertID+"|"+string(field)] = v
	return nil
}

func userAlertAbove(threshold decimal.Decimal) *types.UserAlert {
	return &types.UserAlert{
		ID: "ua-1", UserID: "user-1", Symbol: "BTCUSDT", Venue: "binance", Interval: "1m",
		Type: types.AlertTypePrice,
		Conditions: []types.Condition{
			{Field: types.FieldPrice, Operator: types.OpGT, Value: threshold},
		},
		LogicalOperator: types.LogicalAND,
		Frequency:       types.FrequencyRecurring,
		MaxTriggers:     10,
		CooldownMs:      60_000,
		IsActive:        true,
	}
}

func TestEvaluateTriggersWhenConditionMet(t *testing.T) {
	ua := userAlertAbove(decimal.NewFromInt(100))
	st := newFakeStore(ua)
	provider := marketdata.NewMemory()
	provider.SetSnapshot("BTCUSDT", "binance", marketdata.Snapshot{Price: decimal.NewFromInt(150), AsOf: time.Now()})

	var firedCount int
	clk := clock.NewFake(time.Now())
	s := New(st, provider, clk, func(ctx context.Context, ua *types.UserAlert, rec types.ExecutionRecord) {
		firedCount++
	}, Config{})

	s.Tick(context.Background())

	assert.Equal(t, 1, firedCount)
	assert.Equal(t, 1, ua.TriggerCount)
	assert.NotNil(t, ua.LastTriggered)
}

func TestEvaluateDoesNotTriggerWhenConditionUnmet(t *testing.T) {
	ua := userAlertAbove(decimal.NewFromInt(200))
	st := newFakeStore(ua)
	provider := marketdata.NewMemory()
	provider.SetSnapshot("BTCUSDT", "binance", marketdata.Snapshot{Price: decimal.NewFromInt(150), AsOf: time.Now()})

	var firedCount int
	clk := clock.NewFake(time.Now())
	s := New(st, provider, clk, func(ctx context.Context, ua *types.UserAlert, rec types.ExecutionRecord) {
		firedCount++
	}, Config{})

	s.Tick(context.Background())

	assert.Equal(t, 0, firedCount)
	assert.Equal(t, 0, ua.TriggerCount)
}

func TestEvaluateSkipsWhenCooldownActive(t *testing.T) {
	ua := userAlertAbove(decimal.NewFromInt(100))
	now := time.Now()
	ua.LastTriggered = &now

	st := newFakeStore(ua)
	provider := marketdata.NewMemory()
	provider.SetSnapshot("BTCUSDT", "binance", marketdata.Snapshot{Price: decimal.NewFromInt(150), AsOf: now})

	var firedCount int
	clk := clock.NewFake(now)
	s := New(st, provider, clk, func(ctx context.Context, ua *types.UserAlert, rec types.ExecutionRecord) {
		firedCount++
	}, Config{})

	s.Tick(context.Background())
	assert.Equal(t, 0, firedCount)
}

func TestEvaluateBacksOffOnProviderFailure(t *testing.T) {
	ua := userAlertAbove(decimal.NewFromInt(100))
	st := newFakeStore(ua)
	provider := marketdata.NewMemory() // no snapshot seeded -> GetSnapshot errors

	clk := clock.NewFake(time.Now())
	s := New(st, provider, clk, nil, Config{BaseBackoff: time.Minute, MaxBackoff: time.Hour})

	s.Tick(context.Background())

	require.Equal(t, 1, ua.ConsecutiveFailures)
	require.NotNil(t, ua.NextCheck)
	assert.True(t, ua.NextCheck.Sub(clk.Now()) >= time.Minute)
}

func TestCrossesAboveRequiresPriorObservation(t *testing.T) {
	ua := &types.UserAlert{
		ID: "ua-2", UserID: "user-1", Symbol: "BTCUSDT", Venue: "binance", Interval: "1m",
		Conditions: []types.Condition{
			{Field: types.FieldPrice, Operator: types.OpCrossesAbove, Value: decimal.NewFromInt(100)},
		},
		Frequency: types.FrequencyRecurring, MaxTriggers: 10, CooldownMs: 0, IsActive: true,
	}
	st := newFakeStore(ua)
	provider := marketdata.NewMemory()
	provider.SetSnapshot("BTCUSDT", "binance", marketdata.Snapshot{Price: decimal.NewFromInt(150)})

	var firedCount int
	clk := clock.NewFake(time.Now())
	s := New(st, provider, clk, func(ctx context.Context, ua *types.UserAlert, rec types.ExecutionRecord) {
		firedCount++
	}, Config{})

	s.Tick(context.Background())
	assert.Equal(t, 0, firedCount, "first observation only seeds the previous value")

	clk.Advance(2 * time.Minute)
	provider.SetSnapshot("BTCUSDT", "binance", marketdata.Snapshot{Price: decimal.NewFromInt(160)})
	ua.NextCheck = nil
	// re-mark due for the second tick
	st.mu.Lock()
	st.due = []*types.UserAlert{ua}
	st.mu.Unlock()

	s.Tick(context.Background())
	assert.Equal(t, 0, firedCount, "price stayed above threshold on both ticks, no crossing occurred")
}

func TestCustomExpressionEvaluation(t *testing.T) {
	ua := &types.UserAlert{
		ID: "ua-3", UserID: "user-1", Symbol: "BTCUSDT", Venue: "binance", Interval: "1m",
		Conditions: []types.Condition{
			{Field: types.FieldCustom, CustomExpr: "price > 100 && changePercent < 5"},
		},
		Frequency: types.FrequencyRecurring, MaxTriggers: 10, CooldownMs: 0, IsActive: true,
	}
	st := newFakeStore(ua)
	provider := marketdata.NewMemory()
	provider.SetSnapshot("BTCUSDT", "binance", marketdata.Snapshot{
		Price: decimal.NewFromInt(150), ChangePercent: decimal.NewFromFloat(2.5),
	})

	var firedCount int
	clk := clock.NewFake(time.Now())
	s := New(st, provider, clk, func(ctx context.Context, ua *types.UserAlert, rec types.ExecutionRecord) {
		firedCount++
	}, Config{})

	s.Tick(context.Background())
	assert.Equal(t, 1, firedCount)
}
