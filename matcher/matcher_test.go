package matcher

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradesignal/alertcore/types"
)

type fakeStore struct {
	cfgs []*types.AlertConfiguration
}

func (f *fakeStore) FindActiveConfigurations(_ context.Context, symbol string, tf types.Timeframe, strategy string) ([]*types.AlertConfiguration, error) {
	var out []*types.AlertConfiguration
	for _, c := range f.cfgs {
		if c.Symbol == symbol && c.Timeframe == tf && c.Strategy == strategy && c.Status == types.ConfigActive {
			out = append(out, c)
		}
	}
	return out, nil
}

type fakePrincipals struct {
	byPlan map[string][]types.Principal
}

func (f *fakePrincipals) PrincipalsWithAnyPlan(_ context.Context, planIDs map[string]bool) ([]types.Principal, error) {
	seen := map[string]bool{}
	var out []types.Principal
	for plan := range planIDs {
		for _, p := range f.byPlan[plan] {
			if !seen[p.UserID] {
				seen[p.UserID] = true
				out = append(out, p)
			}
		}
	}
	return out, nil
}

func baseConfig(id string) *types.AlertConfiguration {
	return &types.AlertConfiguration{
		ID:        id,
		Symbol:    "BTCUSDT",
		Timeframe: types.Timeframe5m,
		Strategy:  "trend-follow",
		Status:    types.ConfigActive,
		AllowedEntrySignals: map[types.Signal]bool{types.SignalBuy: true},
		Validation: types.ValidationRules{PriceTolerancePct: decimal.Zero},
		PlanIDs:    map[string]bool{"pro": true},
	}
}

func baseAlert() *types.IncomingAlert {
	return &types.IncomingAlert{
		ID:         "alert-1",
		ReceivedAt: time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC),
		Data: types.WebhookPayload{
			Symbol:    "BTCUSDT",
			Timeframe: types.Timeframe5m,
			Strategy:  "trend-follow",
			Signal:    types.SignalBuy,
			Price:     decimal.NewFromInt(50000),
		},
	}
}

func TestMatchOrdersConfigsAndUsersAscending(t *testing.T) {
	c2 := baseConfig("cfg-2")
	c1 := baseConfig("cfg-1")
	s := &fakeStore{cfgs: []*types.AlertConfiguration{c2, c1}}
	p := &fakePrincipals{byPlan: map[string][]types.Principal{
		"pro": {
			{UserID: "user-b", ActivePlanIDs: map[string]bool{"pro": true}, Enabled: true},
			{UserID: "user-a", ActivePlanIDs: map[string]bool{"pro": true}, Enabled: true},
		},
	}}

	m := New(s, p)
	res, err := m.Match(context.Background(), baseAlert())
	require.NoError(t, err)

	assert.Equal(t, []string{"cfg-1", "cfg-2"}, res.MatchedConfigIDs)
	require.Len(t, res.Matches, 4)
	assert.Equal(t, Match{ConfigID: "cfg-1", UserID: "user-a"}, res.Matches[0])
	assert.Equal(t, Match{ConfigID: "cfg-1", UserID: "user-b"}, res.Matches[1])
	assert.Equal(t, Match{ConfigID: "cfg-2", UserID: "user-a"}, res.Matches[2])
	assert.Equal(t, Match{ConfigID: "cfg-2", UserID: "user-b"}, res.Matches[3])
}

func TestMatchSkipsDisallowedSignal(t *testing.T) {
	cfg := baseConfig("cfg-1")
	cfg.AllowedEntrySignals = map[types.Signal]bool{types.SignalSell: true}
	s := &fakeStore{cfgs: []*types.AlertConfiguration{cfg}}
	p := &fakePrincipals{}

	m := New(s, p)
	res, err := m.Match(context.Background(), baseAlert())
	require.NoError(t, err)
	assert.Empty(t, res.MatchedConfigIDs)
	assert.Empty(t, res.Matches)
}

func TestMatchSkipsInactivePrincipal(t *testing.T) {
	cfg := baseConfig("cfg-1")
	s := &fakeStore{cfgs: []*types.AlertConfiguration{cfg}}
	p := &fakePrincipals{byPlan: map[string][]types.Principal{
		"pro": {
			{UserID: "blocked-user", ActivePlanIDs: map[string]bool{"pro": true}, Enabled: true, Blocked: true},
		},
	}}

	m := New(s, p)
	res, err := m.Match(context.Background(), baseAlert())
	require.NoError(t, err)
	assert.Equal(t, []string{"cfg-1"}, res.MatchedConfigIDs)
	assert.Empty(t, res.Matches)
}

func TestMatchAppliesPriceRangeFilterWithTolerance(t *testing.T) {
	cfg := baseConfig("cfg-1")
	maxPrice := decimal.NewFromInt(49000)
	cfg.Filters.MaxPrice = &maxPrice
	cfg.Validation.PriceTolerancePct = decimal.NewFromFloat(2) // 2% tolerance -> 49980 ceiling
	s := &fakeStore{cfgs: []*types.AlertConfiguration{cfg}}
	p := &fakePrincipals{}

	alert := baseAlert() // price 50000, outside 49000*1.02=49980
	m := New(s, p)
	res, err := m.Match(context.Background(), alert)
	require.NoError(t, err)
	assert.Empty(t, res.MatchedConfigIDs)
}

func TestMatchAppliesTimeWindowInConfigTimezone(t *testing.T) {
	cfg := baseConfig("cfg-1")
	cfg.Filters.Window = &types.TimeWindow{StartMinute: 9 * 60, EndMinute: 17 * 60, Timezone: "UTC"}
	s := &fakeStore{cfgs: []*types.AlertConfiguration{cfg}}
	p := &fakePrincipals{}

	alert := baseAlert()
	alert.ReceivedAt = time.Date(2026, 7, 31, 3, 0, 0, 0, time.UTC) // 03:00 UTC, outside 09:00-17:00
	m := New(s, p)
	res, err := m.Match(context.Background(), alert)
	require.NoError(t, err)
	assert.Empty(t, res.MatchedConfigIDs)
}

func TestMatchZeroMatchesWhenNoConfigurations(t *testing.T) {
	s := &fakeStore{}
	p := &fakePrincipals{}
	m := New(s, p)
	res, err := m.Match(context.Background(), baseAlert())
	require.NoError(t, err)
	assert.Empty(t, res.MatchedConfigIDs)
	assert.Empty(t, res.Matches)
}
