// Package scheduler implements the Evaluation Scheduler of spec §4.5: a
// cron-driven tick that pulls due UserAlerts and checks them against live
// market data with a bounded worker pool. The cron driver and Job shape are
// grounded on internal/scheduler/scheduler.go from the aristath-sentinel
// trader-go repo; the per-alert lease-and-mutate loop generalizes
// risk.TPSLManager.CheckExit's single-position poll (risk/tp_sl.go in the
// teacher repo) to many independently-leased UserAlerts.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/tradesignal/alertcore/clock"
	"github.com/tradesignal/alertcore/marketdata"
	"github.com/tradesignal/alertcore/types"
)

// Store is the narrow slice of store.AlertStore the scheduler needs.
type Store interface {
	LoadDueAlerts(ctx context.Context, now time.Time, limit int) ([]*types.UserAlert, error)
	WithAlert(ctx context.Context, id string, fn func(*types.UserAlert) error) (bool, error)
	GetPreviousValue(ctx context.Context, userAlertID string, field types.ConditionField) (decimal.Decimal, bool, error)
	SetPreviousValue(ctx context.Context, userAlertID string, field types.ConditionField, v decimal.Decimal) error
}

// TriggerFunc is invoked once for every UserAlert that fires this tick.
type TriggerFunc func(ctx context.Context, ua *types.UserAlert, rec types.ExecutionRecord)

// Config controls the scheduler's pacing and concurrency.
type Config struct {
	TickSchedule string // robfig/cron expression, e.g. "@every 5s"
	Workers      int
	BatchSize    int
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
	DefaultInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.TickSchedule == "" {
		c.TickSchedule = "@every 5s"
	}
	if c.Workers <= 0 {
		c.Workers = 5
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = time.Minute
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = time.Hour
	}
	if c.DefaultInterval <= 0 {
		c.DefaultInterval = time.Minute
	}
	return c
}

// Scheduler runs the periodic due-alert evaluation loop.
type Scheduler struct {
	cfg      Config
	store    Store
	provider marketdata.Provider
	clock    clock.Clock
	onTrigger TriggerFunc

	cron *cron.Cron
	sem  chan struct{}
	wg   sync.WaitGroup
}

func New(s Store, provider marketdata.Provider, clk clock.Clock, onTrigger TriggerFunc, cfg Config) *Scheduler {
	cfg = cfg.withDefaults()
	return &Scheduler{
		cfg: cfg, store: s, provider: provider, clock: clk, onTrigger: onTrigger,
		cron: cron.New(cron.WithSeconds()),
		sem:  make(chan struct{}, cfg.Workers),
	}
}

// Start schedules the tick and begins running it in the background.
func (s *Scheduler) Start() error {
	_, err := s.cron.AddFunc(s.cfg.TickSchedule, func() {
		s.Tick(context.Background())
	})
	if err != nil {
		return fmt.Errorf("scheduler: register tick: %w", err)
	}
	s.cron.Start()
	log.Info().Str("schedule", s.cfg.TickSchedule).Int("workers", s.cfg.Workers).Msg("scheduler: started")
	return nil
}

// Stop drains the cron scheduler and waits for in-flight evaluations.
func (s *Scheduler) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.wg.Wait()
}

// Tick loads one batch of due alerts and evaluates each on the worker pool,
// blocking until the batch completes.
func (s *Scheduler) Tick(ctx context.Context) {
	due, err := s.store.LoadDueAlerts(ctx, s.clock.Now(), s.cfg.BatchSize)
	if err != nil {
		log.Error().Err(err).Msg("scheduler: failed to load due alerts")
		return
	}

	for _, ua := range due {
		id := ua.ID
		s.wg.Add(1)
		s.sem <- struct{}{}
		go func() {
			defer s.wg.Done()
			defer func() { <-s.sem }()
			s.evaluate(ctx, id)
		}()
	}
	s.wg.Wait()
}

func (s *Scheduler) evaluate(ctx context.Context, id string) {
	var fired *types.ExecutionRecord
	var firedAlert *types.UserAlert

	ok, err := s.store.WithAlert(ctx, id, func(ua *types.UserAlert) error {
		now := s.clock.Now()

		if !ua.CanTrigger(now) {
			next := now.Add(s.cfg.DefaultInterval)
			ua.NextCheck = &next
			return nil
		}

		snap, err := s.provider.GetSnapshot(ctx, ua.Symbol, ua.Venue)
		if err != nil {
			ua.ConsecutiveFailures++
			ua.LastChecked = &now
			next := now.Add(s.backoff(ua.ConsecutiveFailures))
			ua.NextCheck = &next
			log.Warn().Err(err).Str("alert", ua.ID).Msg("scheduler: snapshot fetch failed")
			return nil
		}

		triggered, detail, evalErr := s.evaluateConditions(ctx, ua, snap)
		ua.LastChecked = &now
		if evalErr != nil {
			ua.ConsecutiveFailures++
			next := now.Add(s.backoff(ua.ConsecutiveFailures))
			ua.NextCheck = &next
			log.Warn().Err(evalErr).Str("alert", ua.ID).Msg("scheduler: condition evaluation failed")
			return nil
		}

		ua.ConsecutiveFailures = 0
		ua.Performance.TotalChecks++

		rec := types.ExecutionRecord{At: now, Triggered: triggered, Detail: detail}
		ua.PushExecutionHistory(rec)

		if triggered {
			ua.TriggerCount++
			ua.LastTriggered = &now
			ua.Performance.TotalTriggers++
			fired = &rec
		}
		if ua.Performance.TotalChecks > 0 {
			ua.Performance.Accuracy = float64(ua.Performance.TotalTriggers) / float64(ua.Performance.TotalChecks)
		}

		next := now.Add(s.interval(ua))
		ua.NextCheck = &next

		if fired != nil {
			cp := *ua
			firedAlert = &cp
		}
		return nil
	})

	if err != nil {
		log.Error().Err(err).Str("alert", id).Msg("scheduler: store error while evaluating alert")
		return
	}
	if !ok {
		// already leased by another in-flight evaluation; skip this tick.
		return
	}
	if fired != nil && s.onTrigger != nil && firedAlert != nil {
		s.onTrigger(ctx, firedAlert, *fired)
	}
}

// backoff implements base × 2^failures capped at MaxBackoff (spec §4.5).
func (s *Scheduler) backoff(failures int) time.Duration {
	d := s.cfg.BaseBackoff
	for i := 0; i < failures && d < s.cfg.MaxBackoff; i++ {
		d *= 2
	}
	if d > s.cfg.MaxBackoff {
		d = s.cfg.MaxBackoff
	}
	return d
}

func (s *Scheduler) interval(ua *types.UserAlert) time.Duration {
	if d, err := time.ParseDuration(normalizeInterval(ua.Interval)); err == nil && d > 0 {
		return d
	}
	return s.cfg.DefaultInterval
}

// normalizeInterval turns shorthand like "5m"/"1h" into a Go duration
// string; both already parse with time.ParseDuration so this mostly exists
// to fail closed on empty/garbage values.
func normalizeInterval(s string) string {
	if s == "" {
		return "0s"
	}
	return s
}
