package store

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// jsonColumn is a generic gorm column type for the small nested structures
// (conditions, signal sets, plan-id sets, metadata) that don't warrant their own
// table. None of the example repos in the pack carry gorm.io/datatypes, so
// this is a thin hand-rolled Valuer/Scanner pair rather than an imported one
// — see DESIGN.md.
type jsonColumn[T any] struct {
	Value T
}

// Value implements driver.Valuer.
func (j jsonColumn[T]) Value() (driver.Value, error) {
	b, err := json.Marshal(j.Value)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (j *jsonColumn[T]) Scan(src any) error {
	if src == nil {
		return nil
	}
	var b []byte
	switch v := src.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return errors.New("jsonColumn: unsupported scan source")
	}
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, &j.Value)
}

// AlertConfigurationModel is the gorm row for an admin-defined matching
// template. Complex sub-structures are flattened into JSON columns.
type AlertConfigurationModel struct {
	ID        string `gorm:"primaryKey"`
	Symbol    string `gorm:"index"`
	Timeframe string `gorm:"index"`
	Strategy  string `gorm:"index"`
	Status    string `gorm:"index"`

	MaxOpenTrades        int
	AllowOppositeSignals bool
	ReplaceOnSameSignal  bool
	AutoCloseOnTPSL      bool

	AllowedEntrySignals jsonColumn[map[string]bool] `gorm:"type:text"`
	AllowedExitSignals  jsonColumn[map[string]bool] `gorm:"type:text"`

	RequiredFields    jsonColumn[[]string] `gorm:"type:text"`
	PriceTolerancePct decimal.Decimal      `gorm:"type:decimal(10,6)"`

	MinPrice  *decimal.Decimal `gorm:"type:decimal(24,8)"`
	MaxPrice  *decimal.Decimal `gorm:"type:decimal(24,8)"`
	MinVolume *decimal.Decimal `gorm:"type:decimal(24,8)"`

	WindowStartMinute *int
	WindowEndMinute   *int
	WindowTimezone    string

	PlanIDs jsonColumn[map[string]bool] `gorm:"type:text"`

	StatsTotal       int64
	StatsSuccess     int64
	StatsFailed      int64
	StatsLastAlertAt *time.Time
	StatsAvgProcessingMs float64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IncomingAlertModel is the gorm row for one immutable webhook delivery.
type IncomingAlertModel struct {
	ID          string `gorm:"primaryKey"`
	ReceivedAt  time.Time
	SourceIP    string
	Fingerprint string `gorm:"index"`

	Symbol          string
	Timeframe       string
	Strategy        string
	Signal          string
	Price           decimal.Decimal `gorm:"type:decimal(24,8)"`
	TakeProfitPrice *decimal.Decimal `gorm:"type:decimal(24,8)"`
	StopLossPrice   *decimal.Decimal `gorm:"type:decimal(24,8)"`
	PayloadTimestamp *time.Time
	TradeNumber     *int64
	Metadata        jsonColumn[map[string]any] `gorm:"type:text"`

	Status           string `gorm:"index"`
	MatchedConfigIDs jsonColumn[[]string]           `gorm:"type:text"`
	MatchedUsers     jsonColumn[[]string]           `gorm:"type:text"`
	TradeActions     jsonColumn[[]tradeActionDTO]   `gorm:"type:text"`
	Errors           jsonColumn[[]string]           `gorm:"type:text"`
	ProcessingMs     int64
}

type tradeActionDTO struct {
	UserID   string `json:"userId"`
	ConfigID string `json:"configId"`
	Action   string `json:"action"`
	Reason   string `json:"reason"`
	TradeID  string `json:"tradeId"`
}

// UserAlertModel is the gorm row for a user-owned monitoring rule.
type UserAlertModel struct {
	ID       string `gorm:"primaryKey"`
	UserID   string `gorm:"index"`
	Symbol   string
	Venue    string
	Interval string

	Type            string
	Conditions      jsonColumn[[]conditionDTO] `gorm:"type:text"`
	LogicalOperator string

	Priority int `gorm:"index"`

	Frequency    string
	MaxTriggers  int
	TriggerCount int
	CooldownMs   int64

	LastTriggered *time.Time
	LastChecked   *time.Time
	NextCheck     *time.Time `gorm:"index"`
	ExpiresAt     *time.Time

	ConsecutiveFailures int

	IsActive bool `gorm:"index"`
	IsPaused bool `gorm:"index"`

	NotificationChannels jsonColumn[[]string]          `gorm:"type:text"`
	ExecutionHistory     jsonColumn[[]executionDTO]    `gorm:"type:text"`

	PerfTotalChecks   int64
	PerfTotalTriggers int64
	PerfAccuracy      float64

	// LeasedUntil is the sole mutual-exclusion mechanism for WithAlert: a
	// conditional UPDATE claims the row only while this is unset or expired
	// (see GormStore.WithAlert), so a crashed or restarted replica never
	// leaves an alert stuck leased — the expiry reclaims it, not a process
	// restart hook.
	LeasedUntil *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

type conditionDTO struct {
	Field       string           `json:"field"`
	Operator    string           `json:"operator"`
	Value       decimal.Decimal  `json:"value"`
	SecondValue *decimal.Decimal `json:"secondValue,omitempty"`
	CustomExpr  string           `json:"customExpr,omitempty"`
}

type executionDTO struct {
	At        time.Time `json:"at"`
	Triggered bool      `json:"triggered"`
	Detail    string    `json:"detail,omitempty"`
}

// TradeModel is the gorm row for a virtual position.
type TradeModel struct {
	ID          string `gorm:"primaryKey"`
	TradeNumber int64  `gorm:"uniqueIndex"`
	UserID      string `gorm:"index:idx_trade_pair"`
	ConfigID    string `gorm:"index:idx_trade_pair"`
	Symbol      string
	Timeframe   string
	Strategy    string
	Signal      string

	EntryPrice      decimal.Decimal `gorm:"type:decimal(24,8)"`
	TakeProfitPrice *decimal.Decimal `gorm:"type:decimal(24,8)"`
	StopLossPrice   *decimal.Decimal `gorm:"type:decimal(24,8)"`
	ExitPrice       *decimal.Decimal `gorm:"type:decimal(24,8)"`
	ExitReason      *string

	Status string `gorm:"index"`

	OpenedAt          time.Time `gorm:"index"`
	ClosedAt          *time.Time
	ReplacedAt        *time.Time
	ReplacedBy        *string
	ReplacementReason string

	PnLAmount     *decimal.Decimal `gorm:"type:decimal(24,8)"`
	PnLPercentage *decimal.Decimal `gorm:"type:decimal(24,8)"`
	PnLCurrency   string
}

// TradeCounterModel is the single-row sequence backing AllocateTradeNumber.
type TradeCounterModel struct {
	ID    int   `gorm:"primaryKey"`
	Value int64
}

// DedupFingerprintModel backs FingerprintSeen; an expired row is overwritten
// when its fingerprint is looked up again, and is not otherwise deleted.
type DedupFingerprintModel struct {
	Fingerprint string `gorm:"primaryKey"`
	FirstSeenAt time.Time
	ExpiresAt   time.Time `gorm:"index"`
}

// PreviousValueModel backs the crossing-detection side map keyed by user
// alert id and field (spec §4.5).
type PreviousValueModel struct {
	UserAlertID string `gorm:"primaryKey"`
	Field       string `gorm:"primaryKey"`
	Value       decimal.Decimal `gorm:"type:decimal(24,8)"`
	UpdatedAt   time.Time
}

func migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&AlertConfigurationModel{},
		&IncomingAlertModel{},
		&UserAlertModel{},
		&TradeModel{},
		&TradeCounterModel{},
		&DedupFingerprintModel{},
		&PreviousValueModel{},
	)
}
