// Package ingestion implements spec §4.2: authenticated webhook intake,
// schema validation, two-level deduplication, persistence, and asynchronous
// hand-off to the Matcher. It is grounded on the teacher's signal-intake path
// (cmd/polybot/main.go's webhook handler wiring) generalized from a single
// exchange-webhook consumer to a multi-tenant, store-backed pipeline.
package ingestion

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/tradesignal/alertcore/apierr"
	"github.com/tradesignal/alertcore/clock"
	"github.com/tradesignal/alertcore/dedup"
	"github.com/tradesignal/alertcore/metrics"
	"github.com/tradesignal/alertcore/store"
	"github.com/tradesignal/alertcore/types"
	"github.com/tradesignal/alertcore/workqueue"
)

// Store is the narrow slice of store.AlertStore the ingestion pipeline needs.
type Store interface {
	CreateIncomingAlert(ctx context.Context, alert *types.IncomingAlert) error
	FingerprintSeen(ctx context.Context, fp string, ttl time.Duration) (bool, error)
}

var _ Store = (store.AlertStore)(nil)

// Response is the webhook HTTP response body the pipeline produces; httpapi
// translates it (and any returned error) to the status codes of spec §6.
type Response struct {
	Success   bool   `json:"success"`
	AlertID   string `json:"alertId,omitempty"`
	Status    string `json:"status,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// Config bundles the pipeline's tunables.
type Config struct {
	// Secret is the shared HMAC secret. Signature verification is skipped
	// entirely when empty (spec §4.2: "if a shared secret is configured").
	Secret       string
	DedupTTL     time.Duration
	EnqueueDeadline time.Duration
	QueueCapacity   int
}

func (c Config) withDefaults() Config {
	if c.DedupTTL <= 0 {
		c.DedupTTL = 60 * time.Second
	}
	if c.EnqueueDeadline <= 0 {
		c.EnqueueDeadline = 2 * time.Second
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 1024
	}
	return c
}

// Pipeline is the assembled ingestion pipeline of spec §4.2.
type Pipeline struct {
	store  Store
	dedupe *dedup.Deduper
	clock  clock.Clock
	locks  *alertLocks
	queue  *workqueue.Queue[*types.IncomingAlert]
	cfg    Config
}

// New assembles a Pipeline. The returned Queue's consume side (Queue()) must
// be wired to a Matcher worker pool by the caller.
func New(s Store, clk clock.Clock, cfg Config) *Pipeline {
	cfg = cfg.withDefaults()
	return &Pipeline{
		store:  s,
		dedupe: dedup.New(clk, cfg.DedupTTL),
		clock:  clk,
		locks:  newAlertLocks(),
		queue:  workqueue.New[*types.IncomingAlert](cfg.QueueCapacity, cfg.EnqueueDeadline),
		cfg:    cfg,
	}
}

// Queue exposes the consume side for the Matcher's worker pool.
func (p *Pipeline) Queue() *workqueue.Queue[*types.IncomingAlert] { return p.queue }

// Accept runs the full spec §4.2 sequence for one webhook delivery: verify,
// decode & validate, dedup, persist, enqueue. The returned error is always an
// *apierr.Error when non-nil; httpapi maps its Kind to a status code.
func (p *Pipeline) Accept(ctx context.Context, body []byte, signatureHeader, sourceIP string) (Response, error) {
	if err := p.verifySignature(body, signatureHeader); err != nil {
		return Response{}, err
	}

	payload, err := decodeAndValidate(body)
	if err != nil {
		return Response{}, err
	}

	fp := dedup.Fingerprint(payload)
	if p.dedupe.Observe(fp) == dedup.Duplicate {
		metrics.AlertsDeduped.Inc()
		return Response{Success: true, Duplicate: true}, nil
	}
	seen, err := p.store.FingerprintSeen(ctx, fp, p.cfg.DedupTTL)
	if err != nil {
		return Response{}, apierr.Wrap(apierr.KindInternal, "dedup lookup failed", err)
	}
	if seen {
		metrics.AlertsDeduped.Inc()
		return Response{Success: true, Duplicate: true}, nil
	}

	alert := &types.IncomingAlert{
		ID:          uuid.NewString(),
		ReceivedAt:  p.clock.Now(),
		SourceIP:    sourceIP,
		Fingerprint: fp,
		Data:        payload,
		Processing:  types.Processing{Status: types.IngestReceived},
	}
	if err := p.store.CreateIncomingAlert(ctx, alert); err != nil {
		return Response{}, apierr.Wrap(apierr.KindInternal, "failed to persist incoming alert", err)
	}
	metrics.AlertsIngested.Inc()

	if err := p.queue.Push(ctx, alert); err != nil {
		metrics.QueueDropped.WithLabelValues("ingestion_to_matcher").Inc()
		log.Warn().Str("alertId", alert.ID).Err(err).Msg("ingestion: matcher queue saturated")
		return Response{}, apierr.Wrap(apierr.KindRateLimited, "matching queue is saturated", err)
	}

	return Response{Success: true, AlertID: alert.ID, Status: string(types.IngestReceived)}, nil
}

// WithAlertLock serializes concurrent processing of the same alert id per
// spec §4.2's concurrency contract; a Matcher worker pool should call this
// around its per-alert handling.
func (p *Pipeline) WithAlertLock(alertID string, fn func()) {
	p.locks.WithLock(alertID, fn)
}

// verifySignature enforces the HMAC-SHA256 check of spec §4.2 when a secret
// is configured; it is a no-op otherwise.
func (p *Pipeline) verifySignature(body []byte, header string) error {
	if p.cfg.Secret == "" {
		return nil
	}

	const prefix = "sha256="
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return apierr.New(apierr.KindAuth, "missing or malformed signature header")
	}
	provided, err := hex.DecodeString(header[len(prefix):])
	if err != nil {
		return apierr.Wrap(apierr.KindAuth, "malformed signature encoding", err)
	}

	mac := hmac.New(sha256.New, []byte(p.cfg.Secret))
	mac.Write(body)
	expected := mac.Sum(nil)

	if !hmac.Equal(expected, provided) {
		return apierr.New(apierr.KindAuth, "signature mismatch")
	}
	return nil
}
