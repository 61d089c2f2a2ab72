package store

import (
	"github.com/tradesignal/alertcore/types"
)

func boolSetToMap(s map[types.Signal]bool) map[string]bool {
	out := make(map[string]bool, len(s))
	for k, v := range s {
		if v {
			out[string(k)] = true
		}
	}
	return out
}

func mapToSignalSet(m map[string]bool) map[types.Signal]bool {
	out := make(map[types.Signal]bool, len(m))
	for k, v := range m {
		if v {
			out[types.Signal(k)] = true
		}
	}
	return out
}

func planIDsToMap(s map[string]bool) map[string]bool { return s }

func configToModel(c *types.AlertConfiguration) *AlertConfigurationModel {
	m := &AlertConfigurationModel{
		ID:        c.ID,
		Symbol:    c.Symbol,
		Timeframe: string(c.Timeframe),
		Strategy:  c.Strategy,
		Status:    string(c.Status),

		MaxOpenTrades:        c.TradeMgmt.MaxOpenTrades,
		AllowOppositeSignals: c.TradeMgmt.AllowOppositeSignals,
		ReplaceOnSameSignal:  c.TradeMgmt.ReplaceOnSameSignal,
		AutoCloseOnTPSL:      c.TradeMgmt.AutoCloseOnTPSL,

		AllowedEntrySignals: jsonColumn[map[string]bool]{Value: boolSetToMap(c.AllowedEntrySignals)},
		AllowedExitSignals:  jsonColumn[map[string]bool]{Value: boolSetToMap(c.AllowedExitSignals)},

		RequiredFields:    jsonColumn[[]string]{Value: c.Validation.RequiredFields},
		PriceTolerancePct: c.Validation.PriceTolerancePct,

		MinPrice:  c.Filters.MinPrice,
		MaxPrice:  c.Filters.MaxPrice,
		MinVolume: c.Filters.MinVolume,

		PlanIDs: jsonColumn[map[string]bool]{Value: planIDsToMap(c.PlanIDs)},

		StatsTotal:           c.Stats.Total,
		StatsSuccess:         c.Stats.Success,
		StatsFailed:          c.Stats.Failed,
		StatsLastAlertAt:     c.Stats.LastAlertAt,
		StatsAvgProcessingMs: c.Stats.AvgProcessingMs,
	}
	if c.Filters.Window != nil {
		m.WindowStartMinute = &c.Filters.Window.StartMinute
		m.WindowEndMinute = &c.Filters.Window.EndMinute
		m.WindowTimezone = c.Filters.Window.Timezone
	}
	return m
}

func modelToConfig(m *AlertConfigurationModel) *types.AlertConfiguration {
	c := &types.AlertConfiguration{
		ID:        m.ID,
		Symbol:    m.Symbol,
		Timeframe: types.Timeframe(m.Timeframe),
		Strategy:  m.Strategy,
		Status:    types.ConfigStatus(m.Status),
		TradeMgmt: types.TradeMgmt{
			MaxOpenTrades:        m.MaxOpenTrades,
			AllowOppositeSignals: m.AllowOppositeSignals,
			ReplaceOnSameSignal:  m.ReplaceOnSameSignal,
			AutoCloseOnTPSL:      m.AutoCloseOnTPSL,
		},
		AllowedEntrySignals: mapToSignalSet(m.AllowedEntrySignals.Value),
		AllowedExitSignals:  mapToSignalSet(m.AllowedExitSignals.Value),
		Validation: types.ValidationRules{
			RequiredFields:    m.RequiredFields.Value,
			PriceTolerancePct: m.PriceTolerancePct,
		},
		Filters: types.Filters{
			MinPrice:  m.MinPrice,
			MaxPrice:  m.MaxPrice,
			MinVolume: m.MinVolume,
		},
		PlanIDs: m.PlanIDs.Value,
		Stats: types.ConfigStats{
			Total:           m.StatsTotal,
			Success:         m.StatsSuccess,
			Failed:          m.StatsFailed,
			LastAlertAt:     m.StatsLastAlertAt,
			AvgProcessingMs: m.StatsAvgProcessingMs,
		},
	}
	if m.WindowStartMinute != nil && m.WindowEndMinute != nil {
		c.Filters.Window = &types.TimeWindow{
			StartMinute: *m.WindowStartMinute,
			EndMinute:   *m.WindowEndMinute,
			Timezone:    m.WindowTimezone,
		}
	}
	return c
}

func alertToModel(a *types.IncomingAlert) *IncomingAlertModel {
	actions := make([]tradeActionDTO, len(a.Processing.TradeActions))
	for i, t := range a.Processing.TradeActions {
		actions[i] = tradeActionDTO{UserID: t.UserID, ConfigID: t.ConfigID, Action: t.Action, Reason: t.Reason, TradeID: t.TradeID}
	}
	return &IncomingAlertModel{
		ID:          a.ID,
		ReceivedAt:  a.ReceivedAt,
		SourceIP:    a.SourceIP,
		Fingerprint: a.Fingerprint,

		Symbol:           a.Data.Symbol,
		Timeframe:        string(a.Data.Timeframe),
		Strategy:         a.Data.Strategy,
		Signal:           string(a.Data.Signal),
		Price:            a.Data.Price,
		TakeProfitPrice:  a.Data.TakeProfitPrice,
		StopLossPrice:    a.Data.StopLossPrice,
		PayloadTimestamp: a.Data.Timestamp,
		TradeNumber:      a.Data.TradeNumber,
		Metadata:         jsonColumn[map[string]any]{Value: a.Data.Metadata},

		Status:           string(a.Processing.Status),
		MatchedConfigIDs: jsonColumn[[]string]{Value: a.Processing.MatchedConfigIDs},
		MatchedUsers:     jsonColumn[[]string]{Value: a.Processing.MatchedUsers},
		TradeActions:     jsonColumn[[]tradeActionDTO]{Value: actions},
		Errors:           jsonColumn[[]string]{Value: a.Processing.Errors},
		ProcessingMs:     a.Processing.ProcessingMs,
	}
}

func modelToAlert(m *IncomingAlertModel) *types.IncomingAlert {
	actions := make([]types.TradeAction, len(m.TradeActions.Value))
	for i, t := range m.TradeActions.Value {
		actions[i] = types.TradeAction{UserID: t.UserID, ConfigID: t.ConfigID, Action: t.Action, Reason: t.Reason, TradeID: t.TradeID}
	}
	return &types.IncomingAlert{
		ID:          m.ID,
		ReceivedAt:  m.ReceivedAt,
		SourceIP:    m.SourceIP,
		Fingerprint: m.Fingerprint,
		Data: types.WebhookPayload{
			Symbol:          m.Symbol,
			Timeframe:       types.Timeframe(m.Timeframe),
			Strategy:        m.Strategy,
			Signal:          types.Signal(m.Signal),
			Price:           m.Price,
			TakeProfitPrice: m.TakeProfitPrice,
			StopLossPrice:   m.StopLossPrice,
			Timestamp:       m.PayloadTimestamp,
			TradeNumber:     m.TradeNumber,
			Metadata:        m.Metadata.Value,
		},
		Processing: types.Processing{
			Status:           types.IngestStatus(m.Status),
			MatchedConfigIDs: m.MatchedConfigIDs.Value,
			MatchedUsers:     m.MatchedUsers.Value,
			TradeActions:     actions,
			Errors:           m.Errors.Value,
			ProcessingMs:     m.ProcessingMs,
		},
	}
}

func userAlertToModel(u *types.UserAlert) *UserAlertModel {
	conds := make([]conditionDTO, len(u.Conditions))
	for i, c := range u.Conditions {
		conds[i] = conditionDTO{
			Field: string(c.Field), Operator: string(c.Operator),
			Value: c.Value, SecondValue: c.SecondValue, CustomExpr: c.CustomExpr,
		}
	}
	hist := make([]executionDTO, len(u.ExecutionHistory))
	for i, h := range u.ExecutionHistory {
		hist[i] = executionDTO{At: h.At, Triggered: h.Triggered, Detail: h.Detail}
	}
	return &UserAlertModel{
		ID: u.ID, UserID: u.UserID, Symbol: u.Symbol, Venue: u.Venue, Interval: u.Interval,
		Type:            string(u.Type),
		Conditions:      jsonColumn[[]conditionDTO]{Value: conds},
		LogicalOperator: string(u.LogicalOperator),
		Priority:        u.Priority,
		Frequency:       string(u.Frequency),
		MaxTriggers:     u.MaxTriggers,
		TriggerCount:    u.TriggerCount,
		CooldownMs:      u.CooldownMs,
		LastTriggered:   u.LastTriggered,
		LastChecked:     u.LastChecked,
		NextCheck:       u.NextCheck,
		ExpiresAt:       u.ExpiresAt,
		ConsecutiveFailures: u.ConsecutiveFailures,
		IsActive:        u.IsActive,
		IsPaused:        u.IsPaused,
		NotificationChannels: jsonColumn[[]string]{Value: u.NotificationChannels},
		ExecutionHistory:     jsonColumn[[]executionDTO]{Value: hist},
		PerfTotalChecks:      u.Performance.TotalChecks,
		PerfTotalTriggers:    u.Performance.TotalTriggers,
		PerfAccuracy:         u.Performance.Accuracy,
	}
}

func modelToUserAlert(m *UserAlertModel) *types.UserAlert {
	conds := make([]types.Condition, len(m.Conditions.Value))
	for i, c := range m.Conditions.Value {
		conds[i] = types.Condition{
			Field: types.ConditionField(c.Field), Operator: types.ConditionOperator(c.Operator),
			Value: c.Value, SecondValue: c.SecondValue, CustomExpr: c.CustomExpr,
		}
	}
	hist := make([]types.ExecutionRecord, len(m.ExecutionHistory.Value))
	for i, h := range m.ExecutionHistory.Value {
		hist[i] = types.ExecutionRecord{At: h.At, Triggered: h.Triggered, Detail: h.Detail}
	}
	return &types.UserAlert{
		ID: m.ID, UserID: m.UserID, Symbol: m.Symbol, Venue: m.Venue, Interval: m.Interval,
		Type:            types.AlertType(m.Type),
		Conditions:      conds,
		LogicalOperator: types.LogicalOperator(m.LogicalOperator),
		Priority:        m.Priority,
		Frequency:       types.AlertFrequency(m.Frequency),
		MaxTriggers:     m.MaxTriggers,
		TriggerCount:    m.TriggerCount,
		CooldownMs:      m.CooldownMs,
		LastTriggered:   m.LastTriggered,
		LastChecked:     m.LastChecked,
		NextCheck:       m.NextCheck,
		ExpiresAt:       m.ExpiresAt,
		ConsecutiveFailures: m.ConsecutiveFailures,
		IsActive:        m.IsActive,
		IsPaused:        m.IsPaused,
		NotificationChannels: m.NotificationChannels.Value,
		ExecutionHistory:     hist,
		Performance: types.Performance{
			TotalChecks:   m.PerfTotalChecks,
			TotalTriggers: m.PerfTotalTriggers,
			Accuracy:      m.PerfAccuracy,
		},
	}
}

func tradeToModel(t *types.Trade) *TradeModel {
	m := &TradeModel{
		ID: t.ID, TradeNumber: t.TradeNumber, UserID: t.UserID, ConfigID: t.ConfigID,
		Symbol: t.Symbol, Timeframe: string(t.Timeframe), Strategy: t.Strategy, Signal: string(t.Signal),
		EntryPrice: t.EntryPrice, TakeProfitPrice: t.TakeProfitPrice, StopLossPrice: t.StopLossPrice,
		ExitPrice: t.ExitPrice, Status: string(t.Status),
		OpenedAt: t.OpenedAt, ClosedAt: t.ClosedAt, ReplacedAt: t.ReplacedAt, ReplacedBy: t.ReplacedBy,
		ReplacementReason: t.ReplacementReason,
	}
	if t.ExitReason != nil {
		s := string(*t.ExitReason)
		m.ExitReason = &s
	}
	if t.PnL != nil {
		m.PnLAmount = &t.PnL.Amount
		m.PnLPercentage = &t.PnL.Percentage
		m.PnLCurrency = t.PnL.Currency
	}
	return m
}

func modelToTrade(m *TradeModel) *types.Trade {
	t := &types.Trade{
		ID: m.ID, TradeNumber: m.TradeNumber, UserID: m.UserID, ConfigID: m.ConfigID,
		Symbol: m.Symbol, Timeframe: types.Timeframe(m.Timeframe), Strategy: m.Strategy, Signal: types.Signal(m.Signal),
		EntryPrice: m.EntryPrice, TakeProfitPrice: m.TakeProfitPrice, StopLossPrice: m.StopLossPrice,
		ExitPrice: m.ExitPrice, Status: types.TradeStatus(m.Status),
		OpenedAt: m.OpenedAt, ClosedAt: m.ClosedAt, ReplacedAt: m.ReplacedAt, ReplacedBy: m.ReplacedBy,
		ReplacementReason: m.ReplacementReason,
	}
	if m.ExitReason != nil {
		r := types.ExitReason(*m.ExitReason)
		t.ExitReason = &r
	}
	if m.PnLAmount != nil && m.PnLPercentage != nil {
		t.PnL = &types.PnL{Amount: *m.PnLAmount, Percentage: *m.PnLPercentage, Currency: m.PnLCurrency}
	}
	return t
}
