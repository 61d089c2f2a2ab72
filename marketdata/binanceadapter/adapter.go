// Package binanceadapter is a sample MarketDataProvider backed by Binance's
// public websocket ticker stream, adapted from the teacher's
// internal/binance/client.go. Market-data acquisition is a spec Non-goal, so
// nothing in the core pipeline imports this package directly — it exists to
// show how a real Provider would plug into the marketdata.Provider seam, and
// is exercised only by its own test.
package binanceadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/tradesignal/alertcore/marketdata"
)

// Adapter maintains a live last-price cache fed by Binance's combined
// miniTicker stream and satisfies marketdata.Provider.
type Adapter struct {
	mu     sync.RWMutex
	prices map[string]tick
	conn   *websocket.Conn
	stopCh chan struct{}
}

type tick struct {
	price  decimal.Decimal
	volume decimal.Decimal
	change decimal.Decimal
	pct    decimal.Decimal
	asOf   time.Time
}

// New dials Binance's combined stream for the given lower-case symbols
// (e.g. "btcusdt") and starts updating the internal cache in the background.
func New(symbols []string) (*Adapter, error) {
	streams := make([]string, len(symbols))
	for i, s := range symbols {
		streams[i] = strings.ToLower(s) + "@miniTicker"
	}
	u := url.URL{
		Scheme:   "wss",
		Host:     "stream.binance.com:9443",
		Path:     "/stream",
		RawQuery: "streams=" + strings.Join(streams, "/"),
	}

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("binanceadapter: dial: %w", err)
	}

	a := &Adapter{prices: make(map[string]tick), conn: conn, stopCh: make(chan struct{})}
	go a.readLoop()
	return a, nil
}

type miniTickerEnvelope struct {
	Data struct {
		Symbol string `json:"s"`
		Close  string `json:"c"`
		Open   string `json:"o"`
		Volume string `json:"v"`
	} `json:"data"`
}

func (a *Adapter) readLoop() {
	for {
		select {
		case <-a.stopCh:
			return
		default:
		}

		_, msg, err := a.conn.ReadMessage()
		if err != nil {
			log.Error().Err(err).Msg("binanceadapter: read error")
			return
		}

		var env miniTickerEnvelope
		if err := json.Unmarshal(msg, &env); err != nil {
			continue
		}

		close, err1 := decimal.NewFromString(env.Data.Close)
		open, err2 := decimal.NewFromString(env.Data.Open)
		vol, err3 := decimal.NewFromString(env.Data.Volume)
		if err1 != nil || err2 != nil || err3 != nil {
			continue
		}

		change := close.Sub(open)
		pct := decimal.Zero
		if !open.IsZero() {
			pct = change.Div(open).Mul(decimal.NewFromInt(100))
		}

		a.mu.Lock()
		a.prices[strings.ToUpper(env.Data.Symbol)] = tick{
			price: close, volume: vol, change: change, pct: pct, asOf: time.Now().UTC(),
		}
		a.mu.Unlock()
	}
}

func (a *Adapter) Close() {
	close(a.stopCh)
	_ = a.conn.Close()
}

func (a *Adapter) GetSnapshot(_ context.Context, symbol, _ string) (marketdata.Snapshot, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	t, ok := a.prices[strings.ToUpper(symbol)]
	if !ok {
		return marketdata.Snapshot{}, fmt.Errorf("binanceadapter: no tick yet for %s", symbol)
	}
	return marketdata.Snapshot{
		Price: t.price, Volume: t.volume, Change: t.change, ChangePercent: t.pct, AsOf: t.asOf,
	}, nil
}

// GetHistory is not served by the live ticker stream; a real deployment
// would pair this adapter with Binance's REST klines endpoint.
func (a *Adapter) GetHistory(_ context.Context, _, _ string, _ int) ([]marketdata.OHLCV, error) {
	return nil, fmt.Errorf("binanceadapter: history not supported by the ticker-only sample adapter")
}

var _ marketdata.Provider = (*Adapter)(nil)
