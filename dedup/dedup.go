// Package dedup implements the short-TTL fingerprint set the ingestion
// pipeline uses for idempotent webhook intake (spec §4.1). It mirrors the
// mutex-guarded, lazily-evicted in-memory state style of risk.Manager's
// circuit breaker (risk/manager.go in the teacher repo): small, contended
// state kept behind a single Mutex rather than a background sweep goroutine.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/tradesignal/alertcore/clock"
	"github.com/tradesignal/alertcore/types"
)

// Outcome is the result of observing a fingerprint.
type Outcome int

const (
	Fresh Outcome = iota
	Duplicate
)

// Deduper is a bounded fingerprint -> firstSeenAt mapping with TTL-based
// eviction. Safe for concurrent use.
type Deduper struct {
	mu    sync.Mutex
	ttl   time.Duration
	clk   clock.Clock
	seen  map[string]time.Time
}

// New creates a Deduper with the given TTL (spec default 60s).
func New(clk clock.Clock, ttl time.Duration) *Deduper {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &Deduper{ttl: ttl, clk: clk, seen: make(map[string]time.Time)}
}

// Observe records fp if unseen within the TTL window, evicting expired
// entries lazily as it goes. It is atomic with respect to concurrent callers.
func (d *Deduper) Observe(fp string) Outcome {
	now := d.clk.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if first, ok := d.seen[fp]; ok {
		if now.Sub(first) < d.ttl {
			return Duplicate
		}
		// expired; treat as fresh and refresh the timestamp below.
	}

	d.seen[fp] = now
	d.evictLocked(now)
	return Fresh
}

// evictLocked drops entries whose TTL has elapsed. Must be called with mu held.
func (d *Deduper) evictLocked(now time.Time) {
	for fp, t := range d.seen {
		if now.Sub(t) >= d.ttl {
			delete(d.seen, fp)
		}
	}
}

// Fingerprint computes the deterministic hash over a canonicalized webhook
// payload per spec §4.1: symbol, timeframe, strategy, signal, price rounded
// to 8 decimals, trade number, and the minute-truncated timestamp when present.
func Fingerprint(p types.WebhookPayload) string {
	price := p.Price.Round(8).String()

	tradeNumber := ""
	if p.TradeNumber != nil {
		tradeNumber = fmt.Sprintf("%d", *p.TradeNumber)
	}

	minuteTS := ""
	if p.Timestamp != nil {
		minuteTS = p.Timestamp.UTC().Truncate(time.Minute).Format(time.RFC3339)
	}

	canonical := fmt.Sprintf("%s|%s|%s|%s|%s|%s|%s",
		p.Symbol, p.Timeframe, p.Strategy, p.Signal, price, tradeNumber, minuteTS)

	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}
