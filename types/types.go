// Package types holds the domain entities shared across the alert pipeline:
// configurations, incoming webhook alerts, user-owned monitoring alerts and
// virtual trades. Nothing in here talks to a store or a network — these are
// plain value types plus the small amount of validation that belongs next to
// the data itself.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Timeframe is one of the fixed chart intervals a configuration can match on.
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe30m Timeframe = "30m"
	Timeframe1h  Timeframe = "1h"
	Timeframe2h  Timeframe = "2h"
	Timeframe4h  Timeframe = "4h"
	Timeframe6h  Timeframe = "6h"
	Timeframe12h Timeframe = "12h"
	Timeframe1d  Timeframe = "1d"
	Timeframe1w  Timeframe = "1w"
)

func ValidTimeframe(tf Timeframe) bool {
	switch tf {
	case Timeframe1m, Timeframe5m, Timeframe15m, Timeframe30m, Timeframe1h,
		Timeframe2h, Timeframe4h, Timeframe6h, Timeframe12h, Timeframe1d, Timeframe1w:
		return true
	}
	return false
}

// Signal is the kind of event a webhook or a trade carries.
type Signal string

const (
	SignalBuy    Signal = "BUY"
	SignalSell   Signal = "SELL"
	SignalTPHit  Signal = "TP_HIT"
	SignalSLHit  Signal = "SL_HIT"
)

func (s Signal) IsEntry() bool { return s == SignalBuy || s == SignalSell }
func (s Signal) IsExit() bool  { return s == SignalTPHit || s == SignalSLHit }

// ConfigStatus is the lifecycle state of an AlertConfiguration.
type ConfigStatus string

const (
	ConfigActive   ConfigStatus = "active"
	ConfigInactive ConfigStatus = "inactive"
	ConfigTesting  ConfigStatus = "testing"
)

// TradeMgmt bundles the per-configuration trade-lifecycle policy knobs.
type TradeMgmt struct {
	MaxOpenTrades        int  // 1..5
	AllowOppositeSignals bool
	ReplaceOnSameSignal  bool
	AutoCloseOnTPSL      bool
}

// ValidationRules describes how strictly a webhook payload must match before
// a configuration will accept it.
type ValidationRules struct {
	RequiredFields []string
	PriceTolerancePct decimal.Decimal
}

// TimeWindow restricts matching to a daily wall-clock range in a named zone.
type TimeWindow struct {
	StartMinute int // minutes since local midnight, inclusive
	EndMinute   int // minutes since local midnight, exclusive
	Timezone    string
}

// Filters narrows which incoming alerts a configuration will accept.
type Filters struct {
	MinPrice  *decimal.Decimal
	MaxPrice  *decimal.Decimal
	Window    *TimeWindow
	MinVolume *decimal.Decimal
}

// ConfigStats is a rolling counter set maintained by the pipeline
// coordinator through store.RecordConfigurationOutcome.
type ConfigStats struct {
	Total          int64
	Success        int64
	Failed         int64
	LastAlertAt    *time.Time
	AvgProcessingMs float64
}

// AlertConfiguration is the admin-defined template the Matcher resolves
// incoming webhook alerts against.
type AlertConfiguration struct {
	ID       string
	Symbol   string // always uppercased
	Timeframe Timeframe
	Strategy string
	Status   ConfigStatus

	TradeMgmt TradeMgmt

	AllowedEntrySignals map[Signal]bool // subset of {BUY, SELL}
	AllowedExitSignals  map[Signal]bool // subset of {TP_HIT, SL_HIT}

	Validation ValidationRules
	Filters    Filters

	PlanIDs map[string]bool

	Stats ConfigStats
}

// AllowsSignal reports whether this configuration's allowed-signal sets
// permit the given signal to be evaluated against it.
func (c *AlertConfiguration) AllowsSignal(sig Signal) bool {
	if sig.IsEntry() {
		return c.AllowedEntrySignals[sig]
	}
	if sig.IsExit() {
		return c.AllowedExitSignals[sig]
	}
	return false
}

// Valid checks the AlertConfiguration invariant from the data model: at
// least one entry or exit signal must be permitted.
func (c *AlertConfiguration) Valid() bool {
	return len(c.AllowedEntrySignals) > 0 || len(c.AllowedExitSignals) > 0
}

// IngestStatus is the monotonically-advancing lifecycle of an IncomingAlert.
type IngestStatus string

const (
	IngestReceived   IngestStatus = "received"
	IngestProcessing IngestStatus = "processing"
	IngestProcessed  IngestStatus = "processed"
	IngestFailed     IngestStatus = "failed"
)

func (s IngestStatus) Terminal() bool {
	return s == IngestProcessed || s == IngestFailed
}

// WebhookPayload is the decoded body of an inbound webhook delivery.
type WebhookPayload struct {
	Symbol          string
	Timeframe       Timeframe
	Strategy        string
	Signal          Signal
	Price           decimal.Decimal
	TakeProfitPrice *decimal.Decimal
	StopLossPrice   *decimal.Decimal
	Timestamp       *time.Time
	TradeNumber     *int64
	Metadata        map[string]any
}

// TradeAction records one effect the Trade Manager applied for a matched
// (userID, configID) pair while processing a single IncomingAlert.
type TradeAction struct {
	UserID   string
	ConfigID string
	Action   string // "open", "replace", "close", "skip"
	Reason   string
	TradeID  string
}

// Processing tracks the mutable bookkeeping fields of an IncomingAlert as it
// moves through the pipeline.
type Processing struct {
	Status          IngestStatus
	MatchedConfigIDs []string
	MatchedUsers    []string
	TradeActions    []TradeAction
	Errors          []string
	ProcessingMs    int64
}

// IncomingAlert is the immutable record of one external signal delivery.
// Only the Processing field is mutated, and only until it reaches a
// terminal status.
type IncomingAlert struct {
	ID          string
	ReceivedAt  time.Time
	SourceIP    string
	Fingerprint string

	Data WebhookPayload

	Processing Processing
}

// ConditionField is the closed set of fields a UserAlert condition may
// reference. "custom" carries a restricted expression instead.
type ConditionField string

const (
	FieldPrice         ConditionField = "price"
	FieldVolume        ConditionField = "volume"
	FieldChange        ConditionField = "change"
	FieldChangePercent ConditionField = "changePercent"
	FieldMarketCap     ConditionField = "marketCap"
	FieldSMA           ConditionField = "sma"
	FieldEMA           ConditionField = "ema"
	FieldRSI           ConditionField = "rsi"
	FieldMACD          ConditionField = "macd"
	FieldBollinger     ConditionField = "bollinger"
	FieldCustom        ConditionField = "custom"
)

// ConditionOperator is the comparison applied between a resolved field value
// and the condition's threshold(s).
type ConditionOperator string

const (
	OpGT            ConditionOperator = ">"
	OpLT            ConditionOperator = "<"
	OpGTE           ConditionOperator = ">="
	OpLTE           ConditionOperator = "<="
	OpEQ            ConditionOperator = "=="
	OpNEQ           ConditionOperator = "!="
	OpCrossesAbove  ConditionOperator = "crosses_above"
	OpCrossesBelow  ConditionOperator = "crosses_below"
	OpBetween       ConditionOperator = "between"
	OpNotBetween    ConditionOperator = "not_between"
)

// Condition is one clause of a UserAlert's trigger rule.
type Condition struct {
	Field        ConditionField
	Operator     ConditionOperator
	Value        decimal.Decimal
	SecondValue  *decimal.Decimal // used by between/not_between
	CustomExpr   string           // used when Field == FieldCustom
}

// LogicalOperator combines multiple conditions on a UserAlert.
type LogicalOperator string

const (
	LogicalAND LogicalOperator = "AND"
	LogicalOR  LogicalOperator = "OR"
)

// AlertFrequency controls whether a UserAlert disables itself after firing.
type AlertFrequency string

const (
	FrequencyOnce      AlertFrequency = "once"
	FrequencyRecurring AlertFrequency = "recurring"
)

// AlertType groups UserAlerts by the kind of condition they monitor.
type AlertType string

const (
	AlertTypePrice      AlertType = "price"
	AlertTypeVolume     AlertType = "volume"
	AlertTypeTechnical  AlertType = "technical"
	AlertTypeCustom     AlertType = "custom"
)

// ExecutionRecord is one entry of a UserAlert's capped execution history.
type ExecutionRecord struct {
	At        time.Time
	Triggered bool
	Detail    string
}

// Performance is the running accuracy tally for a UserAlert.
type Performance struct {
	TotalChecks   int64
	TotalTriggers int64
	Accuracy      float64
}

// UserAlert is a user-owned rule the Evaluation Scheduler periodically
// checks against live market data.
type UserAlert struct {
	ID       string
	UserID   string
	Symbol   string
	Venue    string
	Interval string // e.g. "1m", "5m" — resolved to a poll interval

	Type             AlertType
	Conditions       []Condition // 1..5
	LogicalOperator  LogicalOperator

	Priority int

	Frequency    AlertFrequency
	MaxTriggers  int
	TriggerCount int
	CooldownMs   int64 // 60_000..86_400_000

	LastTriggered *time.Time
	LastChecked   *time.Time
	NextCheck     *time.Time
	ExpiresAt     *time.Time

	// ConsecutiveFailures counts evaluation failures since the last success;
	// the scheduler uses it to back off NextCheck exponentially.
	ConsecutiveFailures int

	IsActive bool
	IsPaused bool

	NotificationChannels []string

	ExecutionHistory []ExecutionRecord // ring buffer, cap 100
	Performance      Performance
}

// CanTrigger implements the UserAlert invariant from the data model.
func (u *UserAlert) CanTrigger(now time.Time) bool {
	if !u.IsActive || u.IsPaused {
		return false
	}
	if u.ExpiresAt != nil && !u.ExpiresAt.After(now) {
		return false
	}
	if u.LastTriggered != nil {
		elapsed := now.Sub(*u.LastTriggered).Milliseconds()
		if elapsed < u.CooldownMs {
			return false
		}
	}
	if u.Frequency != FrequencyRecurring && u.TriggerCount >= u.MaxTriggers {
		return false
	}
	return true
}

// PushExecutionHistory appends to the ring buffer, trimming to cap 100 the
// same way feeds.PriceWindow trims its rolling window.
func (u *UserAlert) PushExecutionHistory(rec ExecutionRecord) {
	const cap_ = 100
	u.ExecutionHistory = append(u.ExecutionHistory, rec)
	if len(u.ExecutionHistory) > cap_ {
		u.ExecutionHistory = u.ExecutionHistory[len(u.ExecutionHistory)-cap_:]
	}
}

// TradeStatus is the lifecycle state of a virtual Trade.
type TradeStatus string

const (
	TradeOpen     TradeStatus = "open"
	TradeClosed   TradeStatus = "closed"
	TradeReplaced TradeStatus = "replaced"
)

// ExitReason records why a Trade left the open state.
type ExitReason string

const (
	ExitTPHit    ExitReason = "TP_HIT"
	ExitSLHit    ExitReason = "SL_HIT"
	ExitReplaced ExitReason = "REPLACED"
	ExitManual   ExitReason = "MANUAL"
)

// PnL is the realized profit/loss of a closed Trade.
type PnL struct {
	Amount     decimal.Decimal
	Percentage decimal.Decimal
	Currency   string
}

// Trade is a per-user virtual position opened from one IncomingAlert.
type Trade struct {
	ID          string
	TradeNumber int64 // globally monotonic, >= 1
	UserID      string
	ConfigID    string
	Symbol      string
	Timeframe   Timeframe
	Strategy    string
	Signal      Signal // BUY or SELL

	EntryPrice      decimal.Decimal
	TakeProfitPrice *decimal.Decimal
	StopLossPrice   *decimal.Decimal
	ExitPrice       *decimal.Decimal
	ExitReason      *ExitReason

	Status TradeStatus

	OpenedAt    time.Time
	ClosedAt    *time.Time
	ReplacedAt  *time.Time
	ReplacedBy  *string
	ReplacementReason string

	PnL *PnL
}

// Principal is the minimal user-identity view the core consumes; the real
// authentication/subscription system lives outside this repository.
type Principal struct {
	UserID            string
	ActivePlanIDs     map[string]bool
	PreferredChannels []string
	Timezone          string
	Enabled           bool
	Blocked           bool
}

func (p Principal) Active() bool { return p.Enabled && !p.Blocked }

// HasAnyPlan reports whether the principal holds at least one of the given
// plan ids.
func (p Principal) HasAnyPlan(planIDs map[string]bool) bool {
	for id := range planIDs {
		if p.ActivePlanIDs[id] {
			return true
		}
	}
	return false
}
