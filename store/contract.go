// Package store defines and implements the AlertStore contract of spec §4.7:
// durable state for configurations, user alerts, trades and the processed-
// alert ledger, with transactional updates scoped to single-entity
// boundaries. The concrete implementation is backed by gorm.io/gorm, the way
// internal/database/database.go in the teacher repo persists trading state,
// generalized from Polymarket positions to virtual trades.
package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradesignal/alertcore/types"
)

// AlertStore is the full persistence contract the pipeline depends on.
// Individual-entity updates are linearizable; no multi-entity transactions
// are required (spec §4.7).
type AlertStore interface {
	// Configurations
	GetAlertConfiguration(ctx context.Context, id string) (*types.AlertConfiguration, error)
	FindActiveConfigurations(ctx context.Context, symbol string, tf types.Timeframe, strategy string) ([]*types.AlertConfiguration, error)
	SaveAlertConfiguration(ctx context.Context, cfg *types.AlertConfiguration) error
	RecordConfigurationOutcome(ctx context.Context, id string, success bool, processingMs int64) error

	// Incoming alerts — created once, mutated only until terminal.
	CreateIncomingAlert(ctx context.Context, alert *types.IncomingAlert) error
	UpdateIncomingAlert(ctx context.Context, alert *types.IncomingAlert) error
	GetIncomingAlert(ctx context.Context, id string) (*types.IncomingAlert, error)

	// User alerts
	LoadDueAlerts(ctx context.Context, now time.Time, limit int) ([]*types.UserAlert, error)
	SaveUserAlert(ctx context.Context, ua *types.UserAlert) error
	GetUserAlert(ctx context.Context, id string) (*types.UserAlert, error)
	// WithAlert acquires the alert's lease, runs fn with the freshest copy,
	// persists any change fn makes, and releases the lease on any exit path.
	// ok is false (fn is not invoked) if the alert was already leased.
	WithAlert(ctx context.Context, id string, fn func(*types.UserAlert) error) (ok bool, err error)

	// Trades
	AllocateTradeNumber(ctx context.Context) (int64, error)
	CreateTrade(ctx context.Context, t *types.Trade) error
	GetTrade(ctx context.Context, id string) (*types.Trade, error)
	GetOpenTrades(ctx context.Context, userID, configID string) ([]*types.Trade, error)
	GetOpenTradesForClose(ctx context.Context, userID, configID, symbol, strategy string) ([]*types.Trade, error)
	GetTradeByNumber(ctx context.Context, userID, configID string, tradeNumber int64) (*types.Trade, error)
	// CASTradeStatus performs a compare-and-swap on a trade's status: it
	// loads the trade, verifies its status equals from, applies mutate, and
	// writes back only if the status was still `from` at write time. Callers
	// retry on ErrConflict.
	CASTradeStatus(ctx context.Context, tradeID string, from types.TradeStatus, mutate func(*types.Trade)) error

	// WithTradePair serializes access to a (userID, configID) pair via the
	// advisory lock table spec §5 requires to live in the store.
	WithTradePair(ctx context.Context, userID, configID string, fn func() error) error

	// Dedup / crossing state
	FingerprintSeen(ctx context.Context, fp string, ttl time.Duration) (bool, error)
	GetPreviousValue(ctx context.Context, userAlertID string, field types.ConditionField) (decimal.Decimal, bool, error)
	SetPreviousValue(ctx context.Context, userAlertID string, field types.ConditionField, v decimal.Decimal) error
}

// ErrConflict is returned by CASTradeStatus when the trade's status changed
// between load and write; callers retry per spec §4.4 atomicity rule.
var ErrConflict = &conflictError{}

type conflictError struct{}

func (*conflictError) Error() string { return "store: conflicting concurrent update" }
