package ingestion

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradesignal/alertcore/apierr"
	"github.com/tradesignal/alertcore/clock"
	"github.com/tradesignal/alertcore/types"
)

type fakeStore struct {
	created      int
	fingerprints map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{fingerprints: map[string]bool{}}
}

func (f *fakeStore) CreateIncomingAlert(_ context.Context, alert *types.IncomingAlert) error {
	f.created++
	return nil
}

func (f *fakeStore) FingerprintSeen(_ context.Context, fp string, _ time.Duration) (bool, error) {
	if f.fingerprints[fp] {
		return true, nil
	}
	f.fingerprints[fp] = true
	return false, nil
}

func validBody() []byte {
	b, _ := json.Marshal(map[string]any{
		"symbol":          "BTCUSDT",
		"timeframe":       "5m",
		"strategy":        "trend-follow",
		"signal":          "buy",
		"price":           45000.50,
		"takeProfitPrice": 46000,
		"stopLossPrice":   44500,
	})
	return b
}

func TestAcceptPersistsAndEnqueuesValidPayload(t *testing.T) {
	s := newFakeStore()
	p := New(s, clock.NewFake(time.Now()), Config{})

	resp, err := p.Accept(context.Background(), validBody(), "", "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.AlertID)
	assert.Equal(t, "received", resp.Status)
	assert.Equal(t, 1, p.queue.Len())
}

func TestAcceptRejectsInvalidSignal(t *testing.T) {
	s := newFakeStore()
	p := New(s, clock.NewFake(time.Now()), Config{})

	body, _ := json.Marshal(map[string]any{
		"symbol": "BTCUSDT", "timeframe": "5m", "strategy": "s", "signal": "HOLD", "price": 1,
	})
	_, err := p.Accept(context.Background(), body, "", "")
	require.Error(t, err)
	assert.Equal(t, apierr.KindValidation, apierr.KindOf(err))
}

func TestAcceptRejectsBuyWithInvertedTakeProfit(t *testing.T) {
	s := newFakeStore()
	p := New(s, clock.NewFake(time.Now()), Config{})

	body, _ := json.Marshal(map[string]any{
		"symbol": "BTCUSDT", "timeframe": "5m", "strategy": "s", "signal": "BUY",
		"price": 100, "takeProfitPrice": 90, "stopLossPrice": 95,
	})
	_, err := p.Accept(context.Background(), body, "", "")
	require.Error(t, err)
	assert.Equal(t, apierr.KindValidation, apierr.KindOf(err))
}

func TestAcceptReturnsDuplicateOnSecondDelivery(t *testing.T) {
	s := newFakeStore()
	p := New(s, clock.NewFake(time.Now()), Config{})

	body := validBody()
	_, err := p.Accept(context.Background(), body, "", "")
	require.NoError(t, err)

	resp, err := p.Accept(context.Background(), body, "", "")
	require.NoError(t, err)
	assert.True(t, resp.Duplicate)
}

func TestAcceptRejectsBadSignature(t *testing.T) {
	s := newFakeStore()
	p := New(s, clock.NewFake(time.Now()), Config{Secret: "shh"})

	_, err := p.Accept(context.Background(), validBody(), "sha256=deadbeef", "")
	require.Error(t, err)
	assert.Equal(t, apierr.KindAuth, apierr.KindOf(err))
}

func TestAcceptAcceptsValidSignature(t *testing.T) {
	s := newFakeStore()
	p := New(s, clock.NewFake(time.Now()), Config{Secret: "shh"})

	body := validBody()
	mac := hmac.New(sha256.New, []byte("shh"))
	mac.Write(body)
	sig := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	resp, err := p.Accept(context.Background(), body, sig, "")
	require.NoError(t, err)
	assert.True(t, resp.Success)
}

func TestAcceptReturnsRateLimitedWhenQueueSaturated(t *testing.T) {
	s := newFakeStore()
	p := New(s, clock.NewFake(time.Now()), Config{QueueCapacity: 1, EnqueueDeadline: 5 * time.Millisecond})

	_, err := p.Accept(context.Background(), validBody(), "", "")
	require.NoError(t, err)

	// A distinct payload, so the second delivery is not deduplicated before
	// it reaches the full queue.
	second, _ := json.Marshal(map[string]any{
		"symbol": "BTCUSDT", "timeframe": "5m", "strategy": "trend-follow", "signal": "buy",
		"price": 45001, "takeProfitPrice": 46000, "stopLossPrice": 44500,
	})
	_, err = p.Accept(context.Background(), second, "", "")
	require.Error(t, err)
	assert.Equal(t, apierr.KindRateLimited, apierr.KindOf(err))
}
