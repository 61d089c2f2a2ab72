// Package dispatcher delivers notifications built from matched alerts and
// trade actions (spec §4.6) through a notify.Bus, retrying transient
// failures with exponential backoff. Retry shape follows the same
// base-times-factor growth the teacher uses for its exchange reconnects,
// generalized here to outbound message delivery instead of a websocket dial.
package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tradesignal/alertcore/clock"
	"github.com/tradesignal/alertcore/notify"
)

// Config controls delivery retry pacing.
type Config struct {
	BaseDelay   time.Duration
	Factor      float64
	MaxAttempts int
	MaxDelay    time.Duration
}

func (c Config) withDefaults() Config {
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.Factor <= 1 {
		c.Factor = 2
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	return c
}

// Dispatcher delivers notifications with bounded retry.
type Dispatcher struct {
	bus   notify.Bus
	clock clock.Clock
	cfg   Config
}

func New(bus notify.Bus, clk clock.Clock, cfg Config) *Dispatcher {
	return &Dispatcher{bus: bus, clock: clk, cfg: cfg.withDefaults()}
}

// Dispatch attempts delivery, retrying on error up to MaxAttempts times with
// exponential backoff capped at MaxDelay. A failure here is recorded by the
// caller against the originating alert's history; it never reopens that
// alert's evaluation loop (spec §4.6).
func (d *Dispatcher) Dispatch(ctx context.Context, n notify.Notification) error {
	delay := d.cfg.BaseDelay
	var lastErr error

	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = d.bus.Send(ctx, n)
		if lastErr == nil {
			return nil
		}

		log.Warn().Err(lastErr).Str("user", n.UserID).Str("kind", string(n.Kind)).
			Int("attempt", attempt).Msg("dispatcher: delivery attempt failed")

		if attempt == d.cfg.MaxAttempts {
			break
		}
		d.clock.Sleep(delay)
		delay = time.Duration(float64(delay) * d.cfg.Factor)
		if delay > d.cfg.MaxDelay {
			delay = d.cfg.MaxDelay
		}
	}

	return fmt.Errorf("dispatcher: delivery failed after %d attempts: %w", d.cfg.MaxAttempts, lastErr)
}
