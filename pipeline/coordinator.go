// Package pipeline runs the Matcher -> Trade Manager -> Dispatcher fan-out of
// spec §4.3/§4.4/§4.6 for each IncomingAlert handed off by the ingestion
// queue, on a bounded worker pool matching the teacher's cmd/polybot/main.go
// goroutine-per-stage wiring generalized into an explicit pool (spec §5).
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tradesignal/alertcore/dispatcher"
	"github.com/tradesignal/alertcore/matcher"
	"github.com/tradesignal/alertcore/metrics"
	"github.com/tradesignal/alertcore/trademgr"
	"github.com/tradesignal/alertcore/types"
)

// AlertLocker guards concurrent processing of a single IncomingAlert id
// (spec §4.2's concurrency contract).
type AlertLocker interface {
	WithAlertLock(alertID string, fn func())
}

// Store is the narrow slice of store.AlertStore the coordinator needs to
// look up a trade for notification rendering, re-fetch a matched
// configuration and record the alert's outcome.
type Store interface {
	GetAlertConfiguration(ctx context.Context, id string) (*types.AlertConfiguration, error)
	GetTrade(ctx context.Context, id string) (*types.Trade, error)
	UpdateIncomingAlert(ctx context.Context, alert *types.IncomingAlert) error
	// RecordConfigurationOutcome maintains AlertConfiguration.stats (spec
	// §3: total/success/failed/lastAlertAt/avgProcessingMs) for every match
	// the coordinator applies.
	RecordConfigurationOutcome(ctx context.Context, id string, success bool, processingMs int64) error
}

// Source is the consume side of the ingestion queue.
type Source interface {
	C() <-chan *types.IncomingAlert
}

// Config controls the coordinator's worker pool width.
type Config struct {
	Workers int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 8
	}
	return c
}

// Coordinator drains IncomingAlerts from an ingestion queue and runs each
// through matching, trade management and dispatch.
type Coordinator struct {
	source     Source
	store      Store
	locks      AlertLocker
	matcher    *matcher.Matcher
	trades     *trademgr.Manager
	dispatcher *dispatcher.Dispatcher
	cfg        Config

	wg   sync.WaitGroup
	sem  chan struct{}
	stop chan struct{}
}

func New(source Source, store Store, locks AlertLocker, m *matcher.Matcher, tm *trademgr.Manager, d *dispatcher.Dispatcher, cfg Config) *Coordinator {
	cfg = cfg.withDefaults()
	return &Coordinator{
		source: source, store: store, locks: locks, matcher: m, trades: tm, dispatcher: d,
		cfg:  cfg,
		sem:  make(chan struct{}, cfg.Workers),
		stop: make(chan struct{}),
	}
}

// Run drains the queue until ctx is cancelled or Stop is called, blocking
// until every in-flight alert finishes.
func (c *Coordinator) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			c.wg.Wait()
			return
		case <-c.stop:
			c.wg.Wait()
			return
		case alert, ok := <-c.source.C():
			if !ok {
				c.wg.Wait()
				return
			}
			c.wg.Add(1)
			c.sem <- struct{}{}
			go func() {
				defer c.wg.Done()
				defer func() { <-c.sem }()
				c.process(ctx, alert)
			}()
		}
	}
}

// Stop signals Run to drain in-flight work and return.
func (c *Coordinator) Stop() { close(c.stop) }

// process implements the per-alert sequence of spec §4.3/§4.4/§4.6, holding
// the per-alertId lock for the whole sequence so a redelivery of the same id
// cannot race it (spec §4.2).
func (c *Coordinator) process(ctx context.Context, alert *types.IncomingAlert) {
	start := time.Now()
	c.locks.WithAlertLock(alert.ID, func() {
		c.processLocked(ctx, alert)
	})
	metrics.ProcessingLatency.WithLabelValues("match_to_dispatch").Observe(time.Since(start).Seconds())
}

func (c *Coordinator) processLocked(ctx context.Context, alert *types.IncomingAlert) {
	alert.Processing.Status = types.IngestProcessing

	result, err := c.matcher.Match(ctx, alert)
	if err != nil {
		alert.Processing.Status = types.IngestFailed
		alert.Processing.Errors = append(alert.Processing.Errors, err.Error())
		c.persist(ctx, alert)
		log.Error().Err(err).Str("alertId", alert.ID).Msg("pipeline: matching failed")
		return
	}
	metrics.ConfigsMatched.Add(float64(len(result.MatchedConfigIDs)))
	alert.Processing.MatchedConfigIDs = result.MatchedConfigIDs

	for _, match := range result.Matches {
		alert.Processing.MatchedUsers = append(alert.Processing.MatchedUsers, match.UserID)
		c.applyMatch(ctx, alert, match)
	}

	alert.Processing.Status = types.IngestProcessed
	c.persist(ctx, alert)
}

func (c *Coordinator) applyMatch(ctx context.Context, alert *types.IncomingAlert, m matcher.Match) {
	start := time.Now()
	cfg, err := c.store.GetAlertConfiguration(ctx, m.ConfigID)
	if err != nil || cfg == nil {
		alert.Processing.Errors = append(alert.Processing.Errors, "config unavailable: "+m.ConfigID)
		c.recordOutcome(ctx, m.ConfigID, false, start)
		return
	}

	actions, err := c.trades.Apply(ctx, cfg, alert, m.UserID)
	if err != nil {
		alert.Processing.Errors = append(alert.Processing.Errors, err.Error())
		log.Error().Err(err).Str("alertId", alert.ID).Str("user", m.UserID).Msg("pipeline: trade manager failed")
		c.recordOutcome(ctx, m.ConfigID, false, start)
		return
	}
	alert.Processing.TradeActions = append(alert.Processing.TradeActions, actions...)
	c.recordOutcome(ctx, m.ConfigID, true, start)

	for _, action := range actions {
		metrics.TradeActions.WithLabelValues(action.Action).Inc()
		c.dispatch(ctx, action)
	}
}

// recordOutcome maintains the matched configuration's rolling stats (spec
// §3) for this one alert-to-configuration application.
func (c *Coordinator) recordOutcome(ctx context.Context, configID string, success bool, start time.Time) {
	processingMs := time.Since(start).Milliseconds()
	if err := c.store.RecordConfigurationOutcome(ctx, configID, success, processingMs); err != nil {
		log.Warn().Err(err).Str("config", configID).Msg("pipeline: failed to record configuration outcome")
	}
}

func (c *Coordinator) dispatch(ctx context.Context, action types.TradeAction) {
	var trade *types.Trade
	if action.TradeID != "" {
		t, err := c.store.GetTrade(ctx, action.TradeID)
		if err == nil {
			trade = t
		}
	}
	n, ok := dispatcher.FromTradeAction(action, trade)
	if !ok {
		return
	}
	if err := c.dispatcher.Dispatch(ctx, n); err != nil {
		metrics.NotificationsDispatched.WithLabelValues("failed").Inc()
		log.Warn().Err(err).Str("user", action.UserID).Msg("pipeline: dispatch failed")
		return
	}
	metrics.NotificationsDispatched.WithLabelValues("sent").Inc()
}

func (c *Coordinator) persist(ctx context.Context, alert *types.IncomingAlert) {
	if err := c.store.UpdateIncomingAlert(ctx, alert); err != nil {
		log.Error().Err(err).Str("alertId", alert.ID).Msg("pipeline: failed to persist processing outcome")
	}
}
