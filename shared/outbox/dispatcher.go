package outbox

import (
	"context"
	"sync"
	"time"

	"github.com/draftea/order-system/shared/events"
	"github.com/draftea/order-system/shared/logging"
	"github.com/draftea/order-system/shared/telemetry"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	defaultDispatchInterval = time.Second
	defaultBatchSize        = 50
	defaultPublishTimeout   = 5 * time.Second
)

// DispatcherConfig controls polling and publishing
type DispatcherConfig struct {
	// DispatchInterval is the pause between dispatch cycles.
	DispatchInterval time.Duration
	// BatchSize is the max number of messages claimed per cycle.
	BatchSize int
	// PublishTimeout bounds a single broker publish.
	PublishTimeout time.Duration
}

// DefaultDispatcherConfig returns the baseline dispatcher configuration
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		DispatchInterval: defaultDispatchInterval,
		BatchSize:        defaultBatchSize,
		PublishTimeout:   defaultPublishTimeout,
	}
}

func (c *DispatcherConfig) normalize() {
	if c.DispatchInterval <= 0 {
		c.DispatchInterval = defaultDispatchInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = defaultPublishTimeout
	}
}

// DispatcherOption configures a Dispatcher
type DispatcherOption func(*Dispatcher)

func WithDispatchInterval(interval time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		d.cfg.DispatchInterval = interval
	}
}

func WithBatchSize(size int) DispatcherOption {
	return func(d *Dispatcher) {
		d.cfg.BatchSize = size
	}
}

func WithPublishTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		d.cfg.PublishTimeout = timeout
	}
}

func WithLogger(logger *zap.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logging.OrNop(logger)
	}
}

func WithClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// DispatchResult captures one dispatch cycle outcome
type DispatchResult struct {
	Processed         int
	Published         int
	Failed            int
	StateUpdateFailed int
}

// Dispatcher relays committed outbox messages to the broker. Delivery is
// at-least-once: a crash between publish and mark re-sends the message.
type Dispatcher struct {
	repo      Repository
	publisher events.Publisher
	logger    *zap.Logger
	cfg       DispatcherConfig
	now       func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
	mu       sync.Mutex
	running  bool
	stopped  bool
	cycles   sync.WaitGroup
}

// NewDispatcher creates an outbox dispatcher
func NewDispatcher(repo Repository, publisher events.Publisher, opts ...DispatcherOption) (*Dispatcher, error) {
	if repo == nil {
		return nil, ErrRepositoryRequired
	}
	if publisher == nil {
		return nil, ErrPublisherRequired
	}

	d := &Dispatcher{
		repo:      repo,
		publisher: publisher,
		logger:    zap.NewNop(),
		cfg:       DefaultDispatcherConfig(),
		now:       time.Now,
		stop:      make(chan struct{}),
	}

	for _, opt := range opts {
		opt(d)
	}
	d.cfg.normalize()

	return d, nil
}

// Run dispatches on every tick until ctx is done or Stop is called
func (d *Dispatcher) Run(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return ErrDispatcherRunning
	}
	d.running = true
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.running = false
		d.mu.Unlock()
	}()

	d.logger.Info("outbox dispatcher started",
		zap.Duration("interval", d.cfg.DispatchInterval),
		zap.Int("batch_size", d.cfg.BatchSize),
	)
	defer d.logger.Info("outbox dispatcher stopped")

	ticker := time.NewTicker(d.cfg.DispatchInterval)
	defer ticker.Stop()

	for {
		if !d.cycle(ctx) {
			return nil
		}

		select {
		case <-d.stop:
			return nil
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// cycle runs one dispatch unless Stop was called. Add happens under mu so no
// cycle can start once Shutdown is waiting.
func (d *Dispatcher) cycle(ctx context.Context) bool {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return false
	}
	d.cycles.Add(1)
	d.mu.Unlock()
	defer d.cycles.Done()

	if _, err := d.DispatchOnce(ctx); err != nil && ctx.Err() == nil {
		logging.WithTrace(ctx, d.logger).Error("outbox dispatch cycle failed", zap.Error(err))
	}
	return true
}

// Stop signals Run to return after the current cycle
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		d.mu.Lock()
		d.stopped = true
		d.mu.Unlock()
		close(d.stop)
	})
}

// Shutdown stops the dispatcher and waits for an in-flight cycle
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.Stop()

	done := make(chan struct{})
	go func() {
		d.cycles.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "outbox dispatcher shutdown")
	}
}

// DispatchOnce claims one batch and publishes it oldest first. A failed
// publish leaves the message pending for the next cycle without blocking
// the rest of the batch.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (DispatchResult, error) {
	var result DispatchResult

	ctx, span := telemetry.StartSpan(ctx, "outbox.dispatch",
		trace.WithAttributes(attribute.Int("batch_size", d.cfg.BatchSize)),
	)
	defer span.End()

	batch, err := d.repo.Claim(ctx, d.cfg.BatchSize)
	if err != nil {
		span.RecordError(err)
		return result, errors.Wrap(err, "failed to claim outbox batch")
	}

	for _, msg := range batch.Messages() {
		if ctx.Err() != nil {
			break
		}

		result.Processed++
		if err := d.publish(ctx, msg); err != nil {
			result.Failed++
			continue
		}

		if err := batch.MarkDispatched(ctx, msg.ID); err != nil {
			result.StateUpdateFailed++
			logging.WithTrace(ctx, d.logger).Error("failed to mark outbox message dispatched",
				zap.String("message_id", msg.ID.String()),
				zap.Error(err),
			)
			continue
		}

		result.Published++
		telemetry.RecordCounter(ctx, "outbox_messages_dispatched_total", "Outbox messages relayed to the broker", 1,
			attribute.String("event_type", msg.EventType),
			attribute.String("destination", msg.Destination),
		)
		telemetry.RecordHistogram(ctx, "outbox_dispatch_latency_seconds", "Time from outbox insert to broker publish",
			d.now().Sub(msg.CreatedAt).Seconds(),
			attribute.String("event_type", msg.EventType),
		)
	}

	if err := batch.Close(ctx); err != nil {
		span.RecordError(err)
		return result, errors.Wrap(err, "failed to release outbox batch")
	}

	span.SetAttributes(
		attribute.Int("processed", result.Processed),
		attribute.Int("published", result.Published),
		attribute.Int("failed", result.Failed),
	)

	d.recordBacklog(ctx)

	return result, nil
}

func (d *Dispatcher) publish(ctx context.Context, msg Message) error {
	publishCtx, cancel := context.WithTimeout(ctx, d.cfg.PublishTimeout)
	defer cancel()

	if err := d.publisher.Publish(publishCtx, msg.ToEvent()); err != nil {
		logging.WithTrace(ctx, d.logger).Warn("outbox publish failed, will retry next cycle",
			zap.String("message_id", msg.ID.String()),
			zap.String("correlation_id", msg.CorrelationID.String()),
			zap.String("event_type", msg.EventType),
			zap.Error(err),
		)
		telemetry.RecordCounter(ctx, "outbox_dispatch_failures_total", "Failed outbox publish attempts", 1,
			attribute.String("event_type", msg.EventType),
			attribute.String("destination", msg.Destination),
		)
		return err
	}

	return nil
}

func (d *Dispatcher) recordBacklog(ctx context.Context) {
	stats, err := d.repo.Stats(ctx)
	if err != nil {
		d.logger.Warn("failed to read outbox backlog", zap.Error(err))
		return
	}

	telemetry.RecordGauge(ctx, "outbox_pending_messages", "Undispatched outbox messages", float64(stats.Pending))
	telemetry.RecordGauge(ctx, "outbox_oldest_pending_age_seconds", "Age of the oldest undispatched outbox message",
		stats.OldestAge(d.now()).Seconds())
}
