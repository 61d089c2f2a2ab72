package dispatcher

import (
	"fmt"

	"github.com/tradesignal/alertcore/notify"
	"github.com/tradesignal/alertcore/types"
)

// FromTradeAction renders one Trade Manager outcome into a notification. It
// returns ok=false for "skip" actions, which are recorded in history but
// never surfaced to the user.
func FromTradeAction(a types.TradeAction, trade *types.Trade) (notify.Notification, bool) {
	switch a.Action {
	case "open":
		return notify.Notification{
			UserID: a.UserID,
			Kind:   notify.KindEntry,
			Body:   fmt.Sprintf("Opened %s %s @ %s (config %s)", trade.Signal, trade.Symbol, trade.EntryPrice, a.ConfigID),
			Meta:   map[string]any{"tradeId": a.TradeID, "configId": a.ConfigID},
		}, true
	case "replace":
		return notify.Notification{
			UserID: a.UserID,
			Kind:   notify.KindReplace,
			Body:   fmt.Sprintf("Replaced trade %s (config %s)", a.TradeID, a.ConfigID),
			Meta:   map[string]any{"tradeId": a.TradeID, "configId": a.ConfigID},
		}, true
	case "close":
		body := fmt.Sprintf("Closed trade %s: %s", a.TradeID, a.Reason)
		if trade != nil && trade.PnL != nil {
			body = fmt.Sprintf("Closed trade %s: %s, PnL %s%% (%s %s)", a.TradeID, a.Reason,
				trade.PnL.Percentage, trade.PnL.Amount, trade.PnL.Currency)
		}
		return notify.Notification{
			UserID: a.UserID,
			Kind:   notify.KindExit,
			Body:   body,
			Meta:   map[string]any{"tradeId": a.TradeID, "configId": a.ConfigID},
		}, true
	default:
		return notify.Notification{}, false
	}
}

// FromUserAlertTrigger renders a fired UserAlert's execution record into a
// notification.
func FromUserAlertTrigger(ua *types.UserAlert, rec types.ExecutionRecord) notify.Notification {
	return notify.Notification{
		UserID: ua.UserID,
		Kind:   notify.KindUserAlert,
		Body:   fmt.Sprintf("%s alert on %s triggered: %s", ua.Type, ua.Symbol, rec.Detail),
		Meta:   map[string]any{"alertId": ua.ID},
	}
}
