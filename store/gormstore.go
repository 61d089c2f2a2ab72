package store

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/tradesignal/alertcore/types"
)

// alertLeaseDuration bounds how long a WithAlert lease (UserAlertModel.LeasedUntil)
// is held before it's considered abandoned, so a crashed replica never leaves
// a UserAlert permanently un-evaluable. It comfortably exceeds one scheduler
// evaluation (a single snapshot fetch plus condition evaluation).
const alertLeaseDuration = 30 * time.Second

// GormStore is the gorm-backed AlertStore implementation. It serves both
// Postgres (production, via DATABASE_DSN) and SQLite (local dev / tests),
// mirroring the dual-driver setup in gorm.io/driver/postgres +
// gorm.io/driver/sqlite already present in the teacher's go.mod
// (internal/database/database.go).
type GormStore struct {
	db *gorm.DB

	// tradePairs backs WithTradePair's SQLite-only fallback; on Postgres the
	// pair is serialized with a real advisory lock instead (see
	// WithTradePair), so this table sits unused in that configuration.
	tradePairs *keyedLocks // per (userID, configID)

	supportsRowLock bool // true for Postgres; SQLite has no FOR UPDATE / advisory locks
}

// Open connects to dsn. A dsn starting with "postgres://" or "postgresql://"
// uses the Postgres driver; anything else (including ":memory:" and file
// paths) uses SQLite.
func Open(dsn string) (*GormStore, error) {
	var dialector gorm.Dialector
	if isPostgresDSN(dsn) {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	if dialector.Name() != "postgres" {
		// Each connection to ":memory:" opens its own empty database, and
		// SQLite admits one writer at a time, so the pool keeps one connection.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("store: open: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := migrate(db); err != nil {
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	gs := &GormStore{
		db:              db,
		tradePairs:      newKeyedLocks(),
		supportsRowLock: dialector.Name() == "postgres",
	}
	if err := gs.ensureCounter(); err != nil {
		return nil, err
	}

	log.Info().Str("driver", dialector.Name()).Msg("store connected")
	return gs, nil
}

func isPostgresDSN(dsn string) bool {
	return len(dsn) >= 11 && (dsn[:11] == "postgres://" || (len(dsn) >= 14 && dsn[:14] == "postgresql://"))
}

func (s *GormStore) ensureCounter() error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var c TradeCounterModel
		err := tx.First(&c, "id = ?", 1).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(&TradeCounterModel{ID: 1, Value: 0}).Error
		}
		return err
	})
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// --- configurations ---

func (s *GormStore) GetAlertConfiguration(ctx context.Context, id string) (*types.AlertConfiguration, error) {
	var m AlertConfigurationModel
	if err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return modelToConfig(&m), nil
}

func (s *GormStore) FindActiveConfigurations(ctx context.Context, symbol string, tf types.Timeframe, strategy string) ([]*types.AlertConfiguration, error) {
	var rows []AlertConfigurationModel
	err := s.db.WithContext(ctx).
		Where("symbol = ? AND timeframe = ? AND strategy = ? AND status = ?", symbol, string(tf), strategy, string(types.ConfigActive)).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]*types.AlertConfiguration, len(rows))
	for i := range rows {
		out[i] = modelToConfig(&rows[i])
	}
	return out, nil
}

func (s *GormStore) SaveAlertConfiguration(ctx context.Context, cfg *types.AlertConfiguration) error {
	return s.db.WithContext(ctx).Save(configToModel(cfg)).Error
}

func (s *GormStore) RecordConfigurationOutcome(ctx context.Context, id string, success bool, processingMs int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m AlertConfigurationModel
		if err := tx.First(&m, "id = ?", id).Error; err != nil {
			return err
		}
		m.StatsTotal++
		if success {
			m.StatsSuccess++
		} else {
			m.StatsFailed++
		}
		now := time.Now().UTC()
		m.StatsLastAlertAt = &now
		if m.StatsTotal > 0 {
			m.StatsAvgProcessingMs = (m.StatsAvgProcessingMs*float64(m.StatsTotal-1) + float64(processingMs)) / float64(m.StatsTotal)
		}
		return tx.Save(&m).Error
	})
}

// --- incoming alerts ---

func (s *GormStore) CreateIncomingAlert(ctx context.Context, a *types.IncomingAlert) error {
	return s.db.WithContext(ctx).Create(alertToModel(a)).Error
}

func (s *GormStore) UpdateIncomingAlert(ctx context.Context, a *types.IncomingAlert) error {
	return s.db.WithContext(ctx).Save(alertToModel(a)).Error
}

func (s *GormStore) GetIncomingAlert(ctx context.Context, id string) (*types.IncomingAlert, error) {
	var m IncomingAlertModel
	if err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return modelToAlert(&m), nil
}

// --- user alerts ---

func (s *GormStore) LoadDueAlerts(ctx context.Context, now time.Time, limit int) ([]*types.UserAlert, error) {
	var rows []UserAlertModel
	err := s.db.WithContext(ctx).
		Where("is_active = ? AND is_paused = ? AND next_check <= ?", true, false, now).
		Where("expires_at IS NULL OR expires_at > ?", now).
		Order("priority DESC, next_check ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]*types.UserAlert, len(rows))
	for i := range rows {
		out[i] = modelToUserAlert(&rows[i])
	}
	return out, nil
}

func (s *GormStore) SaveUserAlert(ctx context.Context, u *types.UserAlert) error {
	return s.db.WithContext(ctx).Save(userAlertToModel(u)).Error
}

func (s *GormStore) GetUserAlert(ctx context.Context, id string) (*types.UserAlert, error) {
	var m UserAlertModel
	if err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return modelToUserAlert(&m), nil
}

// WithAlert leases id via UserAlertModel.LeasedUntil: a conditional UPDATE
// that only succeeds if the row is unleased or its previous lease expired.
// This is a database-level compare-and-swap rather than an in-process mutex,
// so two replicas evaluating the same UserAlert against one Postgres
// database (spec §5's clustered deployment) cannot both win the lease.
func (s *GormStore) WithAlert(ctx context.Context, id string, fn func(*types.UserAlert) error) (bool, error) {
	now := time.Now().UTC()
	until := now.Add(alertLeaseDuration)

	res := s.db.WithContext(ctx).Model(&UserAlertModel{}).
		Where("id = ? AND (leased_until IS NULL OR leased_until < ?)", id, now).
		Update("leased_until", until)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	defer func() {
		err := s.db.WithContext(ctx).Model(&UserAlertModel{}).Where("id = ?", id).Update("leased_until", nil).Error
		if err != nil {
			log.Warn().Err(err).Str("userAlert", id).Msg("store: failed to release alert lease")
		}
	}()

	ua, err := s.GetUserAlert(ctx, id)
	if err != nil {
		return true, err
	}
	if err := fn(ua); err != nil {
		return true, err
	}
	return true, s.SaveUserAlert(ctx, ua)
}

// --- trades ---

func (s *GormStore) AllocateTradeNumber(ctx context.Context) (int64, error) {
	var next int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx
		if s.supportsRowLock {
			q = tx.Set("gorm:query_option", "FOR UPDATE")
		}
		var c TradeCounterModel
		if err := q.First(&c, "id = ?", 1).Error; err != nil {
			return err
		}
		c.Value++
		next = c.Value
		return tx.Save(&c).Error
	})
	if err != nil {
		return 0, err
	}
	return next, nil
}

func (s *GormStore) CreateTrade(ctx context.Context, t *types.Trade) error {
	return s.db.WithContext(ctx).Create(tradeToModel(t)).Error
}

func (s *GormStore) GetTrade(ctx context.Context, id string) (*types.Trade, error) {
	var m TradeModel
	if err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return modelToTrade(&m), nil
}

func (s *GormStore) GetOpenTrades(ctx context.Context, userID, configID string) ([]*types.Trade, error) {
	var rows []TradeModel
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND config_id = ? AND status = ?", userID, configID, string(types.TradeOpen)).
		Order("opened_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return modelsToTrades(rows), nil
}

func (s *GormStore) GetOpenTradesForClose(ctx context.Context, userID, configID, symbol, strategy string) ([]*types.Trade, error) {
	var rows []TradeModel
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND config_id = ? AND symbol = ? AND strategy = ? AND status = ?",
			userID, configID, symbol, strategy, string(types.TradeOpen)).
		Order("opened_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return modelsToTrades(rows), nil
}

func (s *GormStore) GetTradeByNumber(ctx context.Context, userID, configID string, tradeNumber int64) (*types.Trade, error) {
	var m TradeModel
	err := s.db.WithContext(ctx).
		First(&m, "user_id = ? AND config_id = ? AND trade_number = ?", userID, configID, tradeNumber).Error
	if err != nil {
		return nil, err
	}
	return modelToTrade(&m), nil
}

func modelsToTrades(rows []TradeModel) []*types.Trade {
	out := make([]*types.Trade, len(rows))
	for i := range rows {
		out[i] = modelToTrade(&rows[i])
	}
	return out
}

func (s *GormStore) CASTradeStatus(ctx context.Context, tradeID string, from types.TradeStatus, mutate func(*types.Trade)) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m TradeModel
		if err := tx.First(&m, "id = ?", tradeID).Error; err != nil {
			return err
		}
		if types.TradeStatus(m.Status) != from {
			return ErrConflict
		}
		t := modelToTrade(&m)
		mutate(t)
		return tx.Save(tradeToModel(t)).Error
	})
}

// WithTradePair serializes access to a (userID, configID) pair. On Postgres
// this takes pg_advisory_xact_lock, a real database-level lock held for the
// duration of the transaction and released automatically on commit or
// rollback — so the pair is exclusive across replicas in the clustered
// deployment spec §5 anticipates, not just within this process. SQLite has
// no advisory-lock primitive and this repo never runs it clustered, so that
// driver falls back to the in-process mutex table.
func (s *GormStore) WithTradePair(ctx context.Context, userID, configID string, fn func() error) error {
	if s.supportsRowLock {
		key := advisoryLockKey("trade-pair", userID, configID)
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Exec("SELECT pg_advisory_xact_lock(?)", key).Error; err != nil {
				return fmt.Errorf("store: acquire trade pair lock: %w", err)
			}
			return fn()
		})
	}

	key := userID + "|" + configID
	s.tradePairs.Lock(key)
	defer s.tradePairs.Unlock(key)
	return fn()
}

// advisoryLockKey hashes a namespaced key into the signed 64-bit integer
// pg_advisory_xact_lock takes. FNV-1a gives a stable, low-collision key
// without pulling in a dependency for what's ultimately a single hash call.
func advisoryLockKey(parts ...string) int64 {
	h := fnv.New64a()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write([]byte(p))
	}
	return int64(h.Sum64())
}

// --- dedup / previous values ---

func (s *GormStore) FingerprintSeen(ctx context.Context, fp string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()

	var seen bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m DedupFingerprintModel
		err := tx.First(&m, "fingerprint = ?", fp).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			seen = false
		case err != nil:
			return err
		case m.ExpiresAt.After(now):
			seen = true
			return nil // still within TTL: leave firstSeenAt/expiry untouched
		default:
			seen = false
		}

		return tx.Save(&DedupFingerprintModel{
			Fingerprint: fp,
			FirstSeenAt: now,
			ExpiresAt:   now.Add(ttl),
		}).Error
	})
	if err != nil {
		return false, err
	}
	return seen, nil
}

func (s *GormStore) GetPreviousValue(ctx context.Context, userAlertID string, field types.ConditionField) (decimal.Decimal, bool, error) {
	var m PreviousValueModel
	err := s.db.WithContext(ctx).First(&m, "user_alert_id = ? AND field = ?", userAlertID, string(field)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, err
	}
	return m.Value, true, nil
}

func (s *GormStore) SetPreviousValue(ctx context.Context, userAlertID string, field types.ConditionField, v decimal.Decimal) error {
	return s.db.WithContext(ctx).Save(&PreviousValueModel{
		UserAlertID: userAlertID,
		Field:       string(field),
		Value:       v,
		UpdatedAt:   time.Now().UTC(),
	}).Error
}

var _ AlertStore = (*GormStore)(nil)
