// Package trademgr owns the virtual trade lifecycle of spec §4.4: opening,
// replacing, skipping and closing Trades in response to matched signals.
// The exit-condition checks are generalized from risk.TPSLManager.CheckExit
// (risk/tp_sl.go in the teacher repo) from a live-position poll to a
// webhook-driven TP_HIT/SL_HIT signal, and CAS-based persistence replaces the
// teacher's in-memory mutex-guarded position map.
package trademgr

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/tradesignal/alertcore/clock"
	"github.com/tradesignal/alertcore/store"
	"github.com/tradesignal/alertcore/types"
)

const pnlCurrency = "USD"

// maxCASRetries bounds the retry store/contract.go's CASTradeStatus doc
// requires callers to perform on ErrConflict (spec §4.4's "re-try on
// conflict" CAS rule): CASTradeStatus re-loads the trade itself on every
// call, so each retry is a fresh re-fetch, re-mutate, re-CAS attempt.
const maxCASRetries = 5

// casRetry calls CASTradeStatus up to maxCASRetries times, retrying only on
// store.ErrConflict. Any other error, or exhausting the retries, returns the
// last error to the caller.
func (m *Manager) casRetry(ctx context.Context, tradeID string, from types.TradeStatus, mutate func(*types.Trade)) error {
	var err error
	for attempt := 1; attempt <= maxCASRetries; attempt++ {
		err = m.store.CASTradeStatus(ctx, tradeID, from, mutate)
		if err == nil {
			return nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return err
		}
		log.Warn().Str("trade", tradeID).Int("attempt", attempt).Msg("trademgr: CAS conflict, retrying")
	}
	return err
}

// TradeStore is the narrow slice of store.AlertStore the trade manager needs.
type TradeStore interface {
	AllocateTradeNumber(ctx context.Context) (int64, error)
	CreateTrade(ctx context.Context, t *types.Trade) error
	GetOpenTrades(ctx context.Context, userID, configID string) ([]*types.Trade, error)
	GetOpenTradesForClose(ctx context.Context, userID, configID, symbol, strategy string) ([]*types.Trade, error)
	GetTradeByNumber(ctx context.Context, userID, configID string, tradeNumber int64) (*types.Trade, error)
	CASTradeStatus(ctx context.Context, tradeID string, from types.TradeStatus, mutate func(*types.Trade)) error
	WithTradePair(ctx context.Context, userID, configID string, fn func() error) error
}

// Manager applies one matched (userID, configID) pair's signal to that
// pair's open trades.
type Manager struct {
	store TradeStore
	clock clock.Clock
}

func New(s TradeStore, clk clock.Clock) *Manager {
	return &Manager{store: s, clock: clk}
}

// Apply processes alert's signal against userID's trades under configID,
// serialized through store.WithTradePair so concurrent deliveries for the
// same pair never race. It returns one TradeAction per trade it touched (or
// exactly one "skip" action if nothing qualified).
func (m *Manager) Apply(ctx context.Context, cfg *types.AlertConfiguration, alert *types.IncomingAlert, userID string) ([]types.TradeAction, error) {
	var actions []types.TradeAction
	err := m.store.WithTradePair(ctx, userID, cfg.ID, func() error {
		var innerErr error
		sig := alert.Data.Signal
		switch {
		case sig.IsEntry():
			actions, innerErr = m.applyEntry(ctx, cfg, alert, userID)
		case sig.IsExit():
			actions, innerErr = m.applyExit(ctx, cfg, alert, userID)
		default:
			actions = []types.TradeAction{{UserID: userID, ConfigID: cfg.ID, Action: "skip", Reason: "unrecognized signal"}}
		}
		return innerErr
	})
	return actions, err
}

// applyEntry runs the BUY/SELL state machine of spec §4.4: open while under
// the cap, else replace a same-signal trade, else replace the oldest trade
// if opposite signals are allowed, else skip.
func (m *Manager) applyEntry(ctx context.Context, cfg *types.AlertConfiguration, alert *types.IncomingAlert, userID string) ([]types.TradeAction, error) {
	sig := alert.Data.Signal
	open, err := m.store.GetOpenTrades(ctx, userID, cfg.ID)
	if err != nil {
		return nil, err
	}
	sort.Slice(open, func(i, j int) bool { return open[i].OpenedAt.Before(open[j].OpenedAt) })

	if len(open) < cfg.TradeMgmt.MaxOpenTrades {
		trade, err := m.openTrade(ctx, cfg, alert, userID)
		if err != nil {
			return nil, err
		}
		return []types.TradeAction{{UserID: userID, ConfigID: cfg.ID, Action: "open", TradeID: trade.ID}}, nil
	}

	if cfg.TradeMgmt.ReplaceOnSameSignal {
		for _, t := range open {
			if t.Signal == sig {
				return m.replaceTrades(ctx, cfg, alert, userID, []*types.Trade{t}, "same signal")
			}
		}
	}

	if cfg.TradeMgmt.AllowOppositeSignals {
		return m.replaceTrades(ctx, cfg, alert, userID, []*types.Trade{open[0]}, "cap reached")
	}

	return []types.TradeAction{{UserID: userID, ConfigID: cfg.ID, Action: "skip", Reason: "cap"}}, nil
}

func (m *Manager) openTrade(ctx context.Context, cfg *types.AlertConfiguration, alert *types.IncomingAlert, userID string) (*types.Trade, error) {
	num, err := m.store.AllocateTradeNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("trademgr: allocate trade number: %w", err)
	}
	trade := &types.Trade{
		ID:              uuid.NewString(),
		TradeNumber:     num,
		UserID:          userID,
		ConfigID:        cfg.ID,
		Symbol:          alert.Data.Symbol,
		Timeframe:       alert.Data.Timeframe,
		Strategy:        alert.Data.Strategy,
		Signal:          alert.Data.Signal,
		EntryPrice:      alert.Data.Price,
		TakeProfitPrice: alert.Data.TakeProfitPrice,
		StopLossPrice:   alert.Data.StopLossPrice,
		Status:          types.TradeOpen,
		OpenedAt:        m.clock.Now(),
	}
	if err := m.store.CreateTrade(ctx, trade); err != nil {
		return nil, fmt.Errorf("trademgr: create trade: %w", err)
	}
	log.Info().Str("user", userID).Str("config", cfg.ID).Int64("tradeNumber", num).Msg("trademgr: opened trade")
	return trade, nil
}

func (m *Manager) replaceTrades(ctx context.Context, cfg *types.AlertConfiguration, alert *types.IncomingAlert, userID string, toReplace []*types.Trade, reason string) ([]types.TradeAction, error) {
	replacement, err := m.openTrade(ctx, cfg, alert, userID)
	if err != nil {
		return nil, err
	}

	actions := []types.TradeAction{{UserID: userID, ConfigID: cfg.ID, Action: "open", TradeID: replacement.ID}}
	for _, old := range toReplace {
		now := m.clock.Now()
		replacedBy := replacement.ID
		err := m.casRetry(ctx, old.ID, types.TradeOpen, func(t *types.Trade) {
			t.Status = types.TradeReplaced
			t.ReplacedAt = &now
			t.ReplacedBy = &replacedBy
			t.ReplacementReason = reason
		})
		if err != nil {
			log.Error().Err(err).Str("trade", old.ID).Msg("trademgr: failed to mark trade replaced after retries")
			continue
		}
		actions = append(actions, types.TradeAction{UserID: userID, ConfigID: cfg.ID, Action: "replace", TradeID: old.ID, Reason: reason})
	}
	return actions, nil
}

func (m *Manager) applyExit(ctx context.Context, cfg *types.AlertConfiguration, alert *types.IncomingAlert, userID string) ([]types.TradeAction, error) {
	if !cfg.TradeMgmt.AutoCloseOnTPSL {
		return []types.TradeAction{{UserID: userID, ConfigID: cfg.ID, Action: "skip", Reason: "autoCloseOnTPSL is disabled"}}, nil
	}

	var targets []*types.Trade
	if alert.Data.TradeNumber != nil {
		t, err := m.store.GetTradeByNumber(ctx, userID, cfg.ID, *alert.Data.TradeNumber)
		if err != nil {
			return nil, err
		}
		if t != nil && t.Status == types.TradeOpen {
			targets = []*types.Trade{t}
		}
	} else {
		ts, err := m.store.GetOpenTradesForClose(ctx, userID, cfg.ID, alert.Data.Symbol, alert.Data.Strategy)
		if err != nil {
			return nil, err
		}
		targets = ts
	}

	if len(targets) == 0 {
		return []types.TradeAction{{UserID: userID, ConfigID: cfg.ID, Action: "skip", Reason: "no open trade to close"}}, nil
	}

	exitReason := types.ExitTPHit
	if alert.Data.Signal == types.SignalSLHit {
		exitReason = types.ExitSLHit
	}

	var actions []types.TradeAction
	for _, t := range targets {
		entryPrice, signal := t.EntryPrice, t.Signal
		exitPrice := alert.Data.Price
		pnl := computePnL(entryPrice, exitPrice, signal, alert.Data.Metadata)
		closedAt := m.clock.Now()

		err := m.casRetry(ctx, t.ID, types.TradeOpen, func(trade *types.Trade) {
			trade.Status = types.TradeClosed
			trade.ExitPrice = &exitPrice
			trade.ExitReason = &exitReason
			trade.ClosedAt = &closedAt
			trade.PnL = &pnl
		})
		if err != nil {
			log.Error().Err(err).Str("trade", t.ID).Msg("trademgr: failed to close trade after retries")
			continue
		}
		actions = append(actions, types.TradeAction{UserID: userID, ConfigID: cfg.ID, Action: "close", TradeID: t.ID, Reason: string(exitReason)})
	}
	return actions, nil
}

// computePnL realizes profit/loss for an exiting trade, rounding both amount
// and percentage to 2 decimals with banker's rounding per spec §4.4.
// Currency defaults to USD unless the webhook's metadata overrides it.
func computePnL(entryPrice, exitPrice decimal.Decimal, signal types.Signal, metadata map[string]any) types.PnL {
	diff := exitPrice.Sub(entryPrice)
	if signal == types.SignalSell {
		diff = diff.Neg()
	}
	pct := decimal.Zero
	if !entryPrice.IsZero() {
		pct = diff.Div(entryPrice).Mul(decimal.NewFromInt(100))
	}

	currency := pnlCurrency
	if v, ok := metadata["currency"].(string); ok && v != "" {
		currency = v
	}

	return types.PnL{
		Amount:     diff.RoundBank(2),
		Percentage: pct.RoundBank(2),
		Currency:   currency,
	}
}

var _ TradeStore = (store.AlertStore)(nil)
