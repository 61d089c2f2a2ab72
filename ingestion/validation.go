package ingestion

import (
	"encoding/json"
	"regexp"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradesignal/alertcore/apierr"
	"github.com/tradesignal/alertcore/types"
)

// rawPayload mirrors the wire shape of spec §6 before it is coerced into
// types.WebhookPayload; price fields arrive as json.Number so "45000.50"
// round-trips without float64 precision loss.
type rawPayload struct {
	Symbol          string          `json:"symbol"`
	Timeframe       string          `json:"timeframe"`
	Strategy        string          `json:"strategy"`
	Signal          string          `json:"signal"`
	Price           json.Number     `json:"price"`
	TakeProfitPrice *json.Number    `json:"takeProfitPrice"`
	StopLossPrice   *json.Number    `json:"stopLossPrice"`
	Timestamp       *string         `json:"timestamp"`
	TradeNumber     *int64          `json:"tradeNumber"`
	Metadata        map[string]any  `json:"metadata"`
}

var symbolPattern = regexp.MustCompile(`^[A-Z0-9._-]{1,20}$`)

// decodeAndValidate implements the "Decode & validate" step of spec §4.2,
// enforcing every field constraint of §6 and returning a field-annotated
// ValidationError on the first batch of violations found.
func decodeAndValidate(body []byte) (types.WebhookPayload, error) {
	var raw rawPayload
	if err := json.Unmarshal(body, &raw); err != nil {
		return types.WebhookPayload{}, apierr.Wrap(apierr.KindValidation, "malformed JSON body", err)
	}

	var fields []string

	symbol := raw.Symbol
	if !symbolPattern.MatchString(symbol) {
		fields = append(fields, "symbol")
	}

	tf := types.Timeframe(raw.Timeframe)
	if !types.ValidTimeframe(tf) {
		fields = append(fields, "timeframe")
	}

	if len(raw.Strategy) < 1 || len(raw.Strategy) > 100 {
		fields = append(fields, "strategy")
	}

	signal, ok := normalizeSignal(raw.Signal)
	if !ok {
		fields = append(fields, "signal")
	}

	price, err := decimalFromJSONNumber(raw.Price)
	if err != nil || !price.IsPositive() {
		fields = append(fields, "price")
	}

	var tp, sl *decimal.Decimal
	if raw.TakeProfitPrice != nil {
		v, err := decimalFromJSONNumber(*raw.TakeProfitPrice)
		if err != nil || !v.IsPositive() {
			fields = append(fields, "takeProfitPrice")
		} else {
			tp = &v
		}
	}
	if raw.StopLossPrice != nil {
		v, err := decimalFromJSONNumber(*raw.StopLossPrice)
		if err != nil || !v.IsPositive() {
			fields = append(fields, "stopLossPrice")
		} else {
			sl = &v
		}
	}

	var ts *time.Time
	if raw.Timestamp != nil {
		t, err := time.Parse(time.RFC3339, *raw.Timestamp)
		if err != nil {
			fields = append(fields, "timestamp")
		} else {
			ts = &t
		}
	}

	if raw.TradeNumber != nil && *raw.TradeNumber < 1 {
		fields = append(fields, "tradeNumber")
	}

	// Semantic constraints (spec §6) only make sense once price/tp/sl/signal
	// all individually validated; skip them otherwise to avoid cascading
	// field noise from an already-invalid payload.
	if len(fields) == 0 {
		switch signal {
		case types.SignalBuy:
			if tp != nil && !tp.GreaterThan(price) {
				fields = append(fields, "takeProfitPrice")
			}
			if sl != nil && !sl.LessThan(price) {
				fields = append(fields, "stopLossPrice")
			}
		case types.SignalSell:
			if tp != nil && !tp.LessThan(price) {
				fields = append(fields, "takeProfitPrice")
			}
			if sl != nil && !sl.GreaterThan(price) {
				fields = append(fields, "stopLossPrice")
			}
		}
	}

	if len(fields) > 0 {
		return types.WebhookPayload{}, apierr.Validation("webhook payload failed validation", fields...)
	}

	return types.WebhookPayload{
		Symbol:          symbol,
		Timeframe:       tf,
		Strategy:        raw.Strategy,
		Signal:          signal,
		Price:           price,
		TakeProfitPrice: tp,
		StopLossPrice:   sl,
		Timestamp:       ts,
		TradeNumber:     raw.TradeNumber,
		Metadata:        raw.Metadata,
	}, nil
}

func normalizeSignal(s string) (types.Signal, bool) {
	switch upper(s) {
	case "BUY":
		return types.SignalBuy, true
	case "SELL":
		return types.SignalSell, true
	case "TP_HIT":
		return types.SignalTPHit, true
	case "SL_HIT":
		return types.SignalSLHit, true
	default:
		return "", false
	}
}

func upper(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - 'a' + 'A'
		}
	}
	return string(b)
}

func decimalFromJSONNumber(n json.Number) (decimal.Decimal, error) {
	return decimal.NewFromString(n.String())
}
