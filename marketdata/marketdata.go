// Package marketdata defines the MarketDataProvider boundary (spec §6).
// Acquiring real market data is explicitly out of scope for this repository
// (spec §1 Non-goals); the core only consumes this interface.
package marketdata

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Snapshot is the point-in-time market view a condition is evaluated against.
type Snapshot struct {
	Price         decimal.Decimal
	Volume        decimal.Decimal
	Change        decimal.Decimal
	ChangePercent decimal.Decimal
	MarketCap     *decimal.Decimal
	Indicators    map[string]decimal.Decimal
	AsOf          time.Time
}

// OHLCV is one bar of historical price/volume data.
type OHLCV struct {
	Open, High, Low, Close, Volume decimal.Decimal
	Timestamp                      time.Time
}

// Provider is the MarketDataProvider interface of spec §6.
type Provider interface {
	GetSnapshot(ctx context.Context, symbol, venue string) (Snapshot, error)
	GetHistory(ctx context.Context, symbol, venue string, limit int) ([]OHLCV, error)
}
