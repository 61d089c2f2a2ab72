// Command alertcore runs the trading-alert distribution platform: webhook
// ingestion, matching, trade lifecycle management and the user-alert
// evaluation scheduler, fronted by a chi HTTP server exposing /webhook,
// /healthz, /readyz and /metrics.
//
// Wiring follows cmd/polybot/main.go in the teacher repo: zerolog console
// output configured first, godotenv for local overrides, typed config load,
// component construction in dependency order, then block on signal with a
// bounded drain on shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tradesignal/alertcore/clock"
	"github.com/tradesignal/alertcore/dispatcher"
	"github.com/tradesignal/alertcore/httpapi"
	"github.com/tradesignal/alertcore/ingestion"
	"github.com/tradesignal/alertcore/internal/config"
	"github.com/tradesignal/alertcore/marketdata"
	"github.com/tradesignal/alertcore/matcher"
	"github.com/tradesignal/alertcore/metrics"
	"github.com/tradesignal/alertcore/notify"
	"github.com/tradesignal/alertcore/pipeline"
	"github.com/tradesignal/alertcore/principals"
	"github.com/tradesignal/alertcore/scheduler"
	"github.com/tradesignal/alertcore/store"
	"github.com/tradesignal/alertcore/trademgr"
	"github.com/tradesignal/alertcore/types"
)

const version = "1.0.0"

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("alertcore: no .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("alertcore: failed to load configuration")
	}
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	log.Info().Str("version", version).Msg("alertcore starting")

	db, err := store.Open(cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("alertcore: failed to open store")
	}

	clk := clock.Real{}

	bus, err := buildNotificationBus(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("alertcore: failed to build notification bus")
	}

	// Real market-data acquisition is a spec Non-goal (spec §1); the
	// in-memory provider satisfies the MarketDataProvider seam for this
	// binary. marketdata/binanceadapter shows how a live Provider would
	// plug in instead (see DESIGN.md for why it stays unwired here).
	provider := marketdata.NewMemory()
	principalRegistry := principals.NewStatic()

	ingest := ingestion.New(db, clk, ingestion.Config{
		Secret:          cfg.WebhookSecret,
		DedupTTL:        cfg.DedupTTL,
		EnqueueDeadline: cfg.EnqueueDeadline,
		QueueCapacity:   cfg.IngestQueueCapacity,
	})

	match := matcher.New(db, principalRegistry)
	trades := trademgr.New(db, clk)
	dispatch := dispatcher.New(bus, clk, dispatcher.Config{
		BaseDelay:   cfg.DispatchBaseDelay,
		Factor:      cfg.DispatchFactor,
		MaxAttempts: cfg.DispatchMaxAttempts,
		MaxDelay:    cfg.DispatchMaxDelay,
	})

	coord := pipeline.New(ingest.Queue(), db, ingest, match, trades, dispatch, pipeline.Config{
		Workers: cfg.PipelineWorkers,
	})

	sched := scheduler.New(db, provider, clk, func(ctx context.Context, ua *types.UserAlert, rec types.ExecutionRecord) {
		n := dispatcher.FromUserAlertTrigger(ua, rec)
		if err := dispatch.Dispatch(ctx, n); err != nil {
			metrics.NotificationsDispatched.WithLabelValues("failed").Inc()
			log.Warn().Err(err).Str("alertId", ua.ID).Msg("alertcore: user-alert dispatch failed")
			return
		}
		metrics.NotificationsDispatched.WithLabelValues("sent").Inc()
	}, scheduler.Config{
		TickSchedule:    cfg.SchedulerTickCron,
		Workers:         cfg.SchedulerWorkers,
		BatchSize:       cfg.SchedulerBatchSize,
		BaseBackoff:     cfg.SchedulerBaseBackoff,
		MaxBackoff:      cfg.SchedulerMaxBackoff,
		DefaultInterval: cfg.DefaultCheckInterval,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var shuttingDown atomic.Bool
	server := httpapi.New(ingest, shuttingDown.Load)
	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: server}

	go coord.Run(ctx)

	if err := sched.Start(); err != nil {
		log.Fatal().Err(err).Msg("alertcore: failed to start scheduler")
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("alertcore: http server listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("alertcore: http server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("alertcore: shutting down")
	shuttingDown.Store(true)

	drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.ShutdownDrainTimeout)
	defer drainCancel()

	_ = httpSrv.Shutdown(drainCtx)
	sched.Stop()
	coord.Stop()
	cancel()

	if !metrics.Healthy() {
		log.Warn().Msg("alertcore: exiting while marked non-ready")
		os.Exit(2)
	}

	log.Info().Msg("alertcore: clean shutdown")
}

// buildNotificationBus wires the Telegram-backed NotificationBus when a bot
// token is configured, matching the teacher's bot.New gating on credentials;
// otherwise it falls back to a logging-only bus so the pipeline still runs
// end to end in local/dev environments.
func buildNotificationBus(cfg *config.Config) (notify.Bus, error) {
	if cfg.TelegramToken == "" {
		log.Warn().Msg("alertcore: no TELEGRAM_BOT_TOKEN set, using log-only notification bus")
		return notify.BusFunc(func(_ context.Context, n notify.Notification) error {
			log.Info().Str("user", n.UserID).Str("kind", string(n.Kind)).Str("body", n.Body).Msg("notify: (no bus configured)")
			return nil
		}), nil
	}
	return notify.NewTelegramBus(cfg.TelegramToken, notify.StaticChatResolver{})
}
