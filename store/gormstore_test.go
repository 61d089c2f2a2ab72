package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/tradesignal/alertcore/types"
)

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAllocateTradeNumberMonotonicAndUnique(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const n = 50
	numbers := make([]int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := s.AllocateTradeNumber(ctx)
			require.NoError(t, err)
			numbers[i] = v
		}(i)
	}
	wg.Wait()

	seen := make(map[int64]bool, n)
	for _, v := range numbers {
		require.False(t, seen[v], "duplicate trade number %d", v)
		seen[v] = true
	}
	require.Len(t, seen, n)

	next, err := s.AllocateTradeNumber(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(n+1), next)
}

func TestFindActiveConfigurationsOrderedByID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mk := func(id string) *types.AlertConfiguration {
		return &types.AlertConfiguration{
			ID: id, Symbol: "BTC", Timeframe: types.Timeframe5m, Strategy: "S2", Status: types.ConfigActive,
			AllowedEntrySignals: map[types.Signal]bool{types.SignalBuy: true},
			TradeMgmt:           types.TradeMgmt{MaxOpenTrades: 3},
		}
	}
	require.NoError(t, s.SaveAlertConfiguration(ctx, mk("c2")))
	require.NoError(t, s.SaveAlertConfiguration(ctx, mk("c1")))
	require.NoError(t, s.SaveAlertConfiguration(ctx, mk("c3")))

	cfgs, err := s.FindActiveConfigurations(ctx, "BTC", types.Timeframe5m, "S2")
	require.NoError(t, err)
	require.Len(t, cfgs, 3)
	require.Equal(t, []string{"c1", "c2", "c3"}, []string{cfgs[0].ID, cfgs[1].ID, cfgs[2].ID})
}

func TestFingerprintSeenWithinAndAfterTTL(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seen, err := s.FingerprintSeen(ctx, "fp1", 50*time.Millisecond)
	require.NoError(t, err)
	require.False(t, seen)

	seen, err = s.FingerprintSeen(ctx, "fp1", 50*time.Millisecond)
	require.NoError(t, err)
	require.True(t, seen)

	time.Sleep(60 * time.Millisecond)
	seen, err = s.FingerprintSeen(ctx, "fp1", 50*time.Millisecond)
	require.NoError(t, err)
	require.False(t, seen)
}

func TestCASTradeStatusConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tr := &types.Trade{
		ID: "t1", TradeNumber: 1, UserID: "u1", ConfigID: "c1",
		Symbol: "BTC", Timeframe: types.Timeframe5m, Strategy: "S2", Signal: types.SignalBuy,
		EntryPrice: decimal.NewFromFloat(100), Status: types.TradeOpen, OpenedAt: time.Now(),
	}
	require.NoError(t, s.CreateTrade(ctx, tr))

	err := s.CASTradeStatus(ctx, "t1", types.TradeOpen, func(t *types.Trade) {
		t.Status = types.TradeClosed
	})
	require.NoError(t, err)

	// now status is closed; CAS expecting "open" should conflict
	err = s.CASTradeStatus(ctx, "t1", types.TradeOpen, func(t *types.Trade) {
		t.Status = types.TradeReplaced
	})
	require.ErrorIs(t, err, ErrConflict)
}

func TestWithAlertSkipsWhenAlreadyLeased(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ua := &types.UserAlert{ID: "ua1", UserID: "u1", Symbol: "BTC", IsActive: true, Frequency: types.FrequencyRecurring, CooldownMs: 1000}
	require.NoError(t, s.SaveUserAlert(ctx, ua))

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		ok, err := s.WithAlert(ctx, "ua1", func(u *types.UserAlert) error {
			close(started)
			<-release
			return nil
		})
		require.NoError(t, err)
		require.True(t, ok)
	}()

	<-started
	ok, err := s.WithAlert(ctx, "ua1", func(u *types.UserAlert) error { return nil })
	require.NoError(t, err)
	require.False(t, ok, "second caller should observe the lease held")
	close(release)
}
