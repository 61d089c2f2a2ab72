package dispatcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradesignal/alertcore/clock"
	"github.com/tradesignal/alertcore/notify"
	"github.com/tradesignal/alertcore/types"
)

func TestDispatchSucceedsFirstTry(t *testing.T) {
	var calls int
	bus := notify.BusFunc(func(_ context.Context, _ notify.Notification) error {
		calls++
		return nil
	})
	d := New(bus, clock.NewFake(time.Now()), Config{})

	err := d.Dispatch(context.Background(), notify.Notification{UserID: "u1", Kind: notify.KindEntry})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDispatchRetriesThenSucceeds(t *testing.T) {
	var calls int
	bus := notify.BusFunc(func(_ context.Context, _ notify.Notification) error {
		calls++
		if calls < 3 {
			return errors.New("transient failure")
		}
		return nil
	})
	d := New(bus, clock.NewFake(time.Now()), Config{BaseDelay: time.Millisecond, MaxAttempts: 5})

	err := d.Dispatch(context.Background(), notify.Notification{UserID: "u1", Kind: notify.KindEntry})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDispatchFailsAfterMaxAttempts(t *testing.T) {
	var calls int
	bus := notify.BusFunc(func(_ context.Context, _ notify.Notification) error {
		calls++
		return errors.New("permanent failure")
	})
	d := New(bus, clock.NewFake(time.Now()), Config{BaseDelay: time.Millisecond, MaxAttempts: 3})

	err := d.Dispatch(context.Background(), notify.Notification{UserID: "u1", Kind: notify.KindEntry})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestFromTradeActionRendersOpenAndSkipsOthers(t *testing.T) {
	action := types.TradeAction{UserID: "u1", ConfigID: "cfg1", Action: "open", TradeID: "t1"}
	trade := &types.Trade{Signal: types.SignalBuy, Symbol: "BTCUSDT"}

	n, ok := FromTradeAction(action, trade)
	require.True(t, ok)
	assert.Equal(t, notify.KindEntry, n.Kind)

	_, ok = FromTradeAction(types.TradeAction{Action: "skip"}, nil)
	assert.False(t, ok)
}

func TestFromUserAlertTriggerRendersBody(t *testing.T) {
	ua := &types.UserAlert{UserID: "u1", Symbol: "BTCUSDT", Type: types.AlertTypePrice}
	n := FromUserAlertTrigger(ua, types.ExecutionRecord{Detail: "price > 100"})
	assert.Equal(t, notify.KindUserAlert, n.Kind)
	assert.Contains(t, n.Body, "price > 100")
}
