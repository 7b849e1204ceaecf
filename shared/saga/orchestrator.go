package saga

import (
	"context"
	"time"

	"github.com/draftea/order-system/shared/logging"
	"github.com/draftea/order-system/shared/telemetry"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Orchestrator applies inbound events to sagas. Handle returning nil is the
// only signal that the delivery may be acknowledged.
type Orchestrator struct {
	store    Store
	machine  StateMachine
	cache    DeliveryCache
	logger   *zap.Logger
	validate *validator.Validate
	now      func() time.Time
}

// OrchestratorOption configures an Orchestrator
type OrchestratorOption func(*Orchestrator)

func WithDeliveryCache(cache DeliveryCache) OrchestratorOption {
	return func(o *Orchestrator) {
		o.cache = cache
	}
}

func WithLogger(logger *zap.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		o.logger = logging.OrNop(logger)
	}
}

func WithClock(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// NewOrchestrator creates an orchestrator
func NewOrchestrator(store Store, machine StateMachine, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		store:    store,
		machine:  machine,
		cache:    NewMemoryDeliveryCache(defaultDeliveryCacheSize),
		logger:   zap.NewNop(),
		validate: validator.New(),
		now:      func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// Handle processes one delivery. Transient faults (lock timeout, version
// conflict, early events, storage errors) are returned so the transport
// redelivers; permanent faults are dead-lettered and acknowledged.
func (o *Orchestrator) Handle(ctx context.Context, env Envelope) (err error) {
	start := time.Now()
	ctx, span := telemetry.StartSpan(ctx, "saga.handle",
		trace.WithAttributes(
			attribute.String("correlation_id", env.CorrelationID.String()),
			attribute.String("event_type", env.EventType),
			attribute.String("delivery_id", env.DeliveryID),
		),
	)
	defer span.End()

	logger := logging.WithTrace(ctx, o.logger).With(
		zap.String("correlation_id", env.CorrelationID.String()),
		zap.String("event_type", env.EventType),
		zap.String("dedup_key", env.DedupKey()),
	)

	outcome := "error"
	defer func() {
		attrs := []attribute.KeyValue{
			attribute.String("event_type", env.EventType),
			attribute.String("outcome", outcome),
		}
		telemetry.RecordCounter(ctx, "saga_events_total", "Inbound saga events by outcome", 1, attrs...)
		telemetry.RecordHistogram(ctx, "saga_event_duration_seconds", "Saga event handling duration",
			time.Since(start).Seconds(), attrs...)
		span.SetAttributes(attribute.String("outcome", outcome))
		if err != nil {
			span.RecordError(err)
		}
	}()

	if verr := o.validate.Struct(env); verr != nil {
		outcome = "dead_lettered"
		return o.deadLetter(ctx, logger, env, errors.Wrap(ErrInvalidEnvelope, verr.Error()))
	}

	key := env.DedupKey()
	if seen, cerr := o.cache.Seen(ctx, env.CorrelationID, key); cerr != nil {
		logger.Warn("delivery cache lookup failed", zap.Error(cerr))
	} else if seen {
		outcome = "duplicate"
		logger.Debug("delivery already processed")
		return nil
	}

	var absorbed *Decision
	var committed *Commit
	err = o.store.WithLockedSaga(ctx, LockRequest{
		CorrelationID: env.CorrelationID,
		DedupKey:      key,
		Create:        o.machine.IsStart(env.EventType),
	}, func(current Instance) (*Commit, error) {
		decision, derr := o.machine.Decide(current, env)
		if derr != nil {
			return nil, derr
		}

		if decision.Outcome == OutcomeAbsorbed {
			absorbed = &decision
			return nil, nil
		}

		commit, cerr := BuildCommit(current, decision, env, o.now())
		if cerr != nil {
			return nil, cerr
		}

		if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
			commit.Transition.TraceID = sc.TraceID().String()
			commit.Transition.SpanID = sc.SpanID().String()
		}
		committed = commit
		return commit, nil
	})

	outcome = outcomeOf(err)
	switch {
	case err == nil:
		o.remember(ctx, logger, env)
		if absorbed != nil {
			outcome = "absorbed"
			logger.Info("event absorbed", zap.String("reason", absorbed.Reason))
			return nil
		}
		if committed != nil {
			telemetry.RecordCounter(ctx, "saga_transitions_total", "Committed saga transitions", 1,
				attribute.String("from", committed.Transition.FromState.String()),
				attribute.String("to", committed.Transition.ToState.String()),
			)
			logger.Info("saga transitioned",
				zap.String("from", committed.Transition.FromState.String()),
				zap.String("to", committed.Transition.ToState.String()),
				zap.Int("version", committed.Transition.Version),
				zap.Int("messages", len(committed.Messages)),
			)
		}
		return nil

	case errors.Is(err, ErrDuplicateDelivery):
		o.remember(ctx, logger, env)
		logger.Debug("delivery already committed")
		return nil

	case IsPermanent(err):
		return o.deadLetter(ctx, logger, env, err)

	default:
		logger.Warn("event not acknowledged, awaiting redelivery", zap.String("outcome", outcome), zap.Error(err))
		return errors.Wrap(err, "failed to apply saga event")
	}
}

func (o *Orchestrator) remember(ctx context.Context, logger *zap.Logger, env Envelope) {
	if err := o.cache.Remember(ctx, env.CorrelationID, env.DedupKey()); err != nil {
		logger.Warn("failed to remember delivery", zap.Error(err))
	}
}

func (o *Orchestrator) deadLetter(ctx context.Context, logger *zap.Logger, env Envelope, cause error) error {
	letter := DeadLetter{
		ID:        NewDeadLetterID(env.CorrelationID, env.DedupKey()),
		Envelope:  env,
		Reason:    cause.Error(),
		CreatedAt: o.now(),
	}

	if err := o.store.DeadLetter(ctx, letter); err != nil {
		logger.Error("failed to dead-letter event", zap.NamedError("cause", cause), zap.Error(err))
		return errors.Wrap(err, "failed to dead-letter event")
	}

	logger.Error("event dead-lettered", zap.Error(cause))
	return nil
}
