// Package matcher resolves an IncomingAlert to the AlertConfigurations and
// subscribed users it applies to (spec §4.3), generalized from
// core.Router's tick-to-strategy fan-out (core/router.go in the teacher
// repo) to webhook-to-configuration-to-user fan-out.
package matcher

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/tradesignal/alertcore/types"
)

var hundred = decimal.NewFromInt(100)

// ConfigFinder is the narrow slice of store.AlertStore the matcher needs.
type ConfigFinder interface {
	FindActiveConfigurations(ctx context.Context, symbol string, tf types.Timeframe, strategy string) ([]*types.AlertConfiguration, error)
}

// PrincipalProvider resolves the set of users eligible for a configuration's
// plan ids. Identity/subscription management lives outside this repository
// (spec §1 Non-goals); this is the narrow seam the core needs.
type PrincipalProvider interface {
	PrincipalsWithAnyPlan(ctx context.Context, planIDs map[string]bool) ([]types.Principal, error)
}

// Match pairs one surviving configuration with one eligible user.
type Match struct {
	ConfigID string
	UserID   string
}

// Matcher implements spec §4.3.
type Matcher struct {
	store      ConfigFinder
	principals PrincipalProvider
}

func New(s ConfigFinder, p PrincipalProvider) *Matcher {
	return &Matcher{store: s, principals: p}
}

// Result is the outcome of matching one IncomingAlert.
type Result struct {
	MatchedConfigIDs []string
	Matches          []Match // ordered: ascending ConfigID, then ascending UserID
}

// Match resolves alert to 0..N configurations and, for each, the eligible
// subscribed users, in the deterministic order the test suite requires
// (spec §4.3): configurations ascending by id, users ascending by userId.
func (m *Matcher) Match(ctx context.Context, alert *types.IncomingAlert) (Result, error) {
	cfgs, err := m.store.FindActiveConfigurations(ctx, alert.Data.Symbol, alert.Data.Timeframe, alert.Data.Strategy)
	if err != nil {
		return Result{}, err
	}

	// FindActiveConfigurations already orders by id, but re-sort defensively
	// since the matching contract's determinism is load-bearing for tests.
	sort.Slice(cfgs, func(i, j int) bool { return cfgs[i].ID < cfgs[j].ID })

	res := Result{}
	for _, cfg := range cfgs {
		if !cfg.AllowsSignal(alert.Data.Signal) {
			continue
		}
		if !passesValidation(cfg, alert) {
			continue
		}

		res.MatchedConfigIDs = append(res.MatchedConfigIDs, cfg.ID)

		users, err := m.principals.PrincipalsWithAnyPlan(ctx, cfg.PlanIDs)
		if err != nil {
			log.Error().Err(err).Str("config", cfg.ID).Msg("matcher: failed to resolve eligible users")
			continue
		}
		sort.Slice(users, func(i, j int) bool { return users[i].UserID < users[j].UserID })

		for _, u := range users {
			if !u.Active() {
				continue
			}
			res.Matches = append(res.Matches, Match{ConfigID: cfg.ID, UserID: u.UserID})
		}
	}

	return res, nil
}

// passesValidation applies the configuration-level validation of spec §4.3:
// required-field enforcement, price tolerance around any configured
// price-range filter, the time-window filter evaluated in the
// configuration's timezone, and a best-effort volume floor (volume is not a
// first-class webhook field; it is read from metadata when the
// configuration requires it).
func passesValidation(cfg *types.AlertConfiguration, alert *types.IncomingAlert) bool {
	for _, field := range cfg.Validation.RequiredFields {
		if !hasRequiredField(alert, field) {
			return false
		}
	}

	f := cfg.Filters
	price := alert.Data.Price

	toleranceFrac := cfg.Validation.PriceTolerancePct.Div(hundred)
	if f.MinPrice != nil {
		lowerBound := f.MinPrice.Mul(decimal.NewFromInt(1).Sub(toleranceFrac))
		if price.LessThan(lowerBound) {
			return false
		}
	}
	if f.MaxPrice != nil {
		upperBound := f.MaxPrice.Mul(decimal.NewFromInt(1).Add(toleranceFrac))
		if price.GreaterThan(upperBound) {
			return false
		}
	}

	if f.Window != nil && !withinWindow(*f.Window, alert.ReceivedAt) {
		return false
	}

	if f.MinVolume != nil {
		if v, ok := numericMetadata(alert.Data.Metadata, "volume"); ok {
			if v.LessThan(*f.MinVolume) {
				return false
			}
		}
		// Absent volume in the payload: pass-through. A webhook has no
		// first-class volume field (spec §6); we only enforce the floor
		// when the caller supplied one via metadata.
	}

	return true
}

// hasRequiredField reports whether alert carries a value for one name in
// AlertConfiguration.validation.requiredFields (spec §3). The well-known
// webhook fields are checked directly; anything else is looked up in the
// payload's free-form metadata, since that's the only other place a webhook
// can carry a named value.
func hasRequiredField(alert *types.IncomingAlert, field string) bool {
	switch field {
	case "symbol":
		return alert.Data.Symbol != ""
	case "timeframe":
		return alert.Data.Timeframe != ""
	case "strategy":
		return alert.Data.Strategy != ""
	case "signal":
		return alert.Data.Signal != ""
	case "price":
		return true // ingestion rejects a payload with no price before the matcher ever sees it
	case "takeProfitPrice":
		return alert.Data.TakeProfitPrice != nil
	case "stopLossPrice":
		return alert.Data.StopLossPrice != nil
	case "timestamp":
		return alert.Data.Timestamp != nil
	case "tradeNumber":
		return alert.Data.TradeNumber != nil
	default:
		_, ok := alert.Data.Metadata[field]
		return ok
	}
}

func numericMetadata(meta map[string]any, key string) (decimal.Decimal, bool) {
	raw, present := meta[key]
	if !present {
		return decimal.Decimal{}, false
	}
	switch v := raw.(type) {
	case float64:
		return decimal.NewFromFloat(v), true
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return decimal.Decimal{}, false
		}
		return d, true
	}
	return decimal.Decimal{}, false
}

func withinWindow(w types.TimeWindow, at time.Time) bool {
	loc, err := time.LoadLocation(w.Timezone)
	if err != nil {
		loc = time.UTC
	}
	local := at.In(loc)
	minutes := local.Hour()*60 + local.Minute()
	if w.StartMinute <= w.EndMinute {
		return minutes >= w.StartMinute && minutes < w.EndMinute
	}
	// window wraps midnight, e.g. 22:00-06:00
	return minutes >= w.StartMinute || minutes < w.EndMinute
}
