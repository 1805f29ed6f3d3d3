// Package relay forwards the registry event log to Kafka.
//
// The log is an outbox written in the same transaction as each mutation.
// The relay reads committed events past its cursor, publishes them in
// sequence order and then advances the cursor, so every event is delivered
// at least once and in order per identity.
package relay

//go:generate mockgen -source=relay.go -destination=mocks/mocks.go -package=mocks Publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	identitymetrics "soulid/internal/identity/metrics"
	"soulid/internal/identity/models"
	"soulid/internal/identity/store/events"
	"soulid/internal/kv"
	"soulid/pkg/platform/circuit"
)

const (
	defaultInterval = time.Second
	defaultBatch    = 100

	// registryKey partitions events that concern no single identity.
	registryKey = "registry"
)

// Publisher delivers one keyed record.
type Publisher interface {
	Publish(ctx context.Context, key, value []byte) error
}

// Relay polls the event log and publishes what it has not yet published.
type Relay struct {
	store     kv.Store
	log       *events.Log
	publisher Publisher
	interval  time.Duration
	batch     int
	logger    *slog.Logger
	metrics   *identitymetrics.Metrics
	breaker   *circuit.Breaker
}

type Option func(*Relay)

func WithInterval(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batch = min(n, events.MaxListLimit)
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) {
		r.logger = logger
	}
}

func WithMetrics(m *identitymetrics.Metrics) Option {
	return func(r *Relay) {
		r.metrics = m
	}
}

// WithBreaker makes the relay publish a single probe event per flush while
// the breaker is open.
func WithBreaker(b *circuit.Breaker) Option {
	return func(r *Relay) {
		r.breaker = b
	}
}

// New constructs a Relay over store publishing through publisher.
func New(store kv.Store, publisher Publisher, opts ...Option) (*Relay, error) {
	if store == nil {
		return nil, errors.New("relay: store is required")
	}
	if publisher == nil {
		return nil, errors.New("relay: publisher is required")
	}
	r := &Relay{
		store:     store,
		log:       events.New(),
		publisher: publisher,
		interval:  defaultInterval,
		batch:     defaultBatch,
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run flushes on every tick until ctx is done. Publish failures are logged
// and retried on the next tick.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	r.logger.InfoContext(ctx, "event relay started", "interval", r.interval, "batch", r.batch)
	for {
		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "event relay stopped")
			return nil
		case <-ticker.C:
			for {
				n, err := r.Flush(ctx)
				if err != nil {
					if ctx.Err() == nil {
						r.logger.WarnContext(ctx, "event relay flush failed", "error", err)
					}
					break
				}
				if n < r.batch {
					break
				}
			}
		}
	}
}

// Flush publishes at most one batch and returns how many events it
// published. The cursor moves past every event published before a failure.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	var (
		pending []*models.Event
		last    uint64
	)
	err := r.store.View(ctx, func(txn kv.Txn) error {
		cursor, err := r.log.Cursor(txn)
		if err != nil {
			return err
		}
		last, err = r.log.Last(txn)
		if err != nil {
			return err
		}
		pending, err = r.log.List(txn, cursor, r.batchSize())
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("read pending events: %w", err)
	}
	if len(pending) == 0 {
		r.setLag(0)
		return 0, nil
	}

	published := 0
	var publishErr error
	for _, e := range pending {
		value, err := json.Marshal(e)
		if err != nil {
			publishErr = fmt.Errorf("encode event %d: %w", e.Seq, err)
			break
		}
		if err := r.publisher.Publish(ctx, partitionKey(e), value); err != nil {
			publishErr = fmt.Errorf("publish event %d: %w", e.Seq, err)
			r.recordFailure(ctx)
			break
		}
		r.recordSuccess(ctx)
		published++
	}

	if published > 0 {
		upTo := pending[published-1].Seq
		if err := r.store.Update(ctx, func(txn kv.Txn) error {
			return r.log.SetCursor(txn, upTo)
		}); err != nil {
			return published, fmt.Errorf("advance relay cursor to %d: %w", upTo, err)
		}
		r.setLag(last - upTo)
		if r.metrics != nil {
			r.metrics.AddRelayPublished(published)
		}
	}
	if publishErr != nil {
		if r.metrics != nil {
			r.metrics.IncrementRelayFailures()
		}
		return published, publishErr
	}
	return published, nil
}

func (r *Relay) batchSize() int {
	if r.breaker != nil && r.breaker.IsOpen() {
		return 1
	}
	return r.batch
}

func (r *Relay) recordFailure(ctx context.Context) {
	if r.breaker == nil {
		return
	}
	if _, change := r.breaker.RecordFailure(); change.Opened {
		r.logger.WarnContext(ctx, "event relay circuit opened; probing one event per flush", "breaker", r.breaker.Name())
	}
}

func (r *Relay) recordSuccess(ctx context.Context) {
	if r.breaker == nil {
		return
	}
	if _, change := r.breaker.RecordSuccess(); change.Closed {
		r.logger.InfoContext(ctx, "event relay circuit closed", "breaker", r.breaker.Name())
	}
}

func (r *Relay) setLag(n uint64) {
	if r.metrics != nil {
		r.metrics.SetRelayLag(n)
	}
}

// partitionKey keeps each identity's events on one partition.
func partitionKey(e *models.Event) []byte {
	if e.IdentityID == nil {
		return []byte(registryKey)
	}
	return []byte(strconv.FormatUint(e.IdentityID.Uint64(), 10))
}
