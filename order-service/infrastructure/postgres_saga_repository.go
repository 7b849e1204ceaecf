package infrastructure

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/draftea/order-system/shared/models"
	"github.com/draftea/order-system/shared/outbox"
	"github.com/draftea/order-system/shared/saga"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
)

var _ saga.Store = (*PostgresSagaRepository)(nil)

const (
	DefaultLockTimeout = 5 * time.Second

	pqLockNotAvailable     = "55P03"
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
)

// PostgresSagaRepository serializes saga transitions with a row lock. The
// wait for the lock is bounded by lock_timeout, and the update is guarded by
// the version read under the lock.
type PostgresSagaRepository struct {
	db          *sqlx.DB
	lockTimeout time.Duration
	now         func() time.Time
}

// NewPostgresSagaRepository creates a new PostgresSagaRepository
func NewPostgresSagaRepository(db *sqlx.DB, lockTimeout time.Duration) *PostgresSagaRepository {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	return &PostgresSagaRepository{
		db:          db,
		lockTimeout: lockTimeout,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// postgresSaga represents a saga in database
type postgresSaga struct {
	CorrelationID string    `db:"correlation_id"`
	State         string    `db:"state"`
	Version       int       `db:"version"`
	Payload       []byte    `db:"payload"`
	AppliedEvents []byte    `db:"applied_events"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

type postgresTransition struct {
	CorrelationID string    `db:"correlation_id"`
	Version       int       `db:"version"`
	FromState     string    `db:"from_state"`
	ToState       string    `db:"to_state"`
	EventType     string    `db:"event_type"`
	DedupKey      string    `db:"dedup_key"`
	TraceID       string    `db:"trace_id"`
	SpanID        string    `db:"span_id"`
	RecordedAt    time.Time `db:"recorded_at"`
}

const selectSaga = `
	SELECT correlation_id, state, version, payload, applied_events, created_at, updated_at
	FROM order_sagas
	WHERE correlation_id = $1`

// WithLockedSaga runs fn while holding the saga row lock and commits the
// returned state, outbox messages, transition and inbox entry atomically.
func (r *PostgresSagaRepository) WithLockedSaga(ctx context.Context, req saga.LockRequest, fn saga.DecideFunc) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	// SET does not take bind parameters
	lockTimeout := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", r.lockTimeout.Milliseconds())
	if _, err := tx.ExecContext(ctx, lockTimeout); err != nil {
		return errors.Wrap(err, "failed to set lock timeout")
	}

	if req.Create {
		now := r.now()
		_, err := tx.ExecContext(ctx, `
			INSERT INTO order_sagas (correlation_id, state, version, payload, applied_events, created_at, updated_at)
			VALUES ($1, '', 0, '{}', '[]', $2, $2)
			ON CONFLICT (correlation_id) DO NOTHING`,
			req.CorrelationID.String(), now)
		if err != nil {
			return classify(err, "failed to create saga")
		}
	}

	var row postgresSaga
	if err := tx.GetContext(ctx, &row, selectSaga+" FOR UPDATE", req.CorrelationID.String()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return saga.ErrSagaNotFound
		}
		return classify(err, "failed to lock saga")
	}

	var processed bool
	err = tx.GetContext(ctx, &processed,
		`SELECT EXISTS (SELECT 1 FROM saga_inbox WHERE correlation_id = $1 AND dedup_key = $2)`,
		req.CorrelationID.String(), req.DedupKey)
	if err != nil {
		return classify(err, "failed to check inbox")
	}
	if processed {
		return saga.ErrDuplicateDelivery
	}

	current, err := r.toDomain(&row)
	if err != nil {
		return err
	}

	commit, err := fn(*current)
	if err != nil {
		return err
	}
	if commit == nil {
		return nil
	}

	if err := r.update(ctx, tx, current.Version.Value, commit.Next); err != nil {
		return err
	}

	for _, msg := range commit.Messages {
		if err := insertOutboxMessage(ctx, tx, msg); err != nil {
			return err
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO saga_inbox (correlation_id, dedup_key, processed_at) VALUES ($1, $2, $3)`,
		req.CorrelationID.String(), req.DedupKey, commit.Transition.RecordedAt)
	if err != nil {
		return classify(err, "failed to record delivery")
	}

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO saga_transitions (
			correlation_id, version, from_state, to_state, event_type,
			dedup_key, trace_id, span_id, recorded_at
		) VALUES (
			:correlation_id, :version, :from_state, :to_state, :event_type,
			:dedup_key, :trace_id, :span_id, :recorded_at
		)`, toPostgresTransition(commit.Transition))
	if err != nil {
		return classify(err, "failed to record transition")
	}

	if err := tx.Commit(); err != nil {
		return classify(err, "failed to commit saga transition")
	}

	return nil
}

// update writes the next state only if nobody committed since the read
func (r *PostgresSagaRepository) update(ctx context.Context, tx *sqlx.Tx, loadedVersion int, next saga.Instance) error {
	payload, err := json.Marshal(next.Payload)
	if err != nil {
		return errors.Wrap(err, "failed to marshal saga payload")
	}
	applied, err := json.Marshal(next.AppliedEvents)
	if err != nil {
		return errors.Wrap(err, "failed to marshal applied events")
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE order_sagas
		SET state = $1, version = $2, payload = $3, applied_events = $4, created_at = $5, updated_at = $6
		WHERE correlation_id = $7 AND version = $8`,
		string(next.State), next.Version.Value, payload, applied,
		next.CreatedAt, next.UpdatedAt, next.CorrelationID.String(), loadedVersion)
	if err != nil {
		return classify(err, "failed to update saga")
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read affected rows")
	}
	if affected == 0 {
		return saga.ErrVersionConflict
	}

	return nil
}

// Load returns the last committed saga state
func (r *PostgresSagaRepository) Load(ctx context.Context, correlationID models.ID) (*saga.Instance, error) {
	var row postgresSaga
	if err := r.db.GetContext(ctx, &row, selectSaga+" AND version > 0", correlationID.String()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, saga.ErrSagaNotFound
		}
		return nil, errors.Wrap(err, "failed to load saga")
	}

	return r.toDomain(&row)
}

// History returns committed transitions in version order
func (r *PostgresSagaRepository) History(ctx context.Context, correlationID models.ID) ([]saga.TransitionRecord, error) {
	query := `
		SELECT correlation_id, version, from_state, to_state, event_type,
			   dedup_key, trace_id, span_id, recorded_at
		FROM saga_transitions
		WHERE correlation_id = $1
		ORDER BY version`

	var rows []postgresTransition
	if err := r.db.SelectContext(ctx, &rows, query, correlationID.String()); err != nil {
		return nil, errors.Wrap(err, "failed to load saga history")
	}

	history := make([]saga.TransitionRecord, 0, len(rows))
	for _, row := range rows {
		history = append(history, saga.TransitionRecord{
			CorrelationID: models.ID(row.CorrelationID),
			Version:       row.Version,
			FromState:     saga.State(row.FromState),
			ToState:       saga.State(row.ToState),
			EventType:     row.EventType,
			DedupKey:      row.DedupKey,
			TraceID:       row.TraceID,
			SpanID:        row.SpanID,
			RecordedAt:    row.RecordedAt,
		})
	}

	return history, nil
}

// DeadLetter stores an event that can never be applied
func (r *PostgresSagaRepository) DeadLetter(ctx context.Context, letter saga.DeadLetter) error {
	envelope, err := json.Marshal(letter.Envelope)
	if err != nil {
		return errors.Wrap(err, "failed to marshal envelope")
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO saga_dead_letters (id, correlation_id, event_type, dedup_key, envelope, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`,
		letter.ID, letter.Envelope.CorrelationID.String(), letter.Envelope.EventType,
		letter.Envelope.DedupKey(), envelope, letter.Reason, letter.CreatedAt)
	if err != nil {
		return errors.Wrap(err, "failed to insert dead letter")
	}

	return nil
}

func insertOutboxMessage(ctx context.Context, tx *sqlx.Tx, msg outbox.Message) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO outbox_messages (id, correlation_id, destination, event_type, causation_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		msg.ID, msg.CorrelationID.String(), msg.Destination, msg.EventType,
		msg.CausationID, []byte(msg.Payload), msg.CreatedAt)
	if err != nil {
		return classify(err, "failed to insert outbox message")
	}
	return nil
}

// toDomain converts postgres model to domain saga
func (r *PostgresSagaRepository) toDomain(row *postgresSaga) (*saga.Instance, error) {
	instance := &saga.Instance{
		CorrelationID: models.ID(row.CorrelationID),
		State:         saga.State(row.State),
		Version:       models.Version{Value: row.Version},
		Payload:       map[string]interface{}{},
		Timestamps: models.Timestamps{
			CreatedAt: row.CreatedAt,
			UpdatedAt: row.UpdatedAt,
		},
	}

	if len(row.Payload) > 0 {
		if err := json.Unmarshal(row.Payload, &instance.Payload); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal saga payload")
		}
	}
	if len(row.AppliedEvents) > 0 {
		if err := json.Unmarshal(row.AppliedEvents, &instance.AppliedEvents); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal applied events")
		}
	}

	return instance, nil
}

func toPostgresTransition(t saga.TransitionRecord) *postgresTransition {
	return &postgresTransition{
		CorrelationID: t.CorrelationID.String(),
		Version:       t.Version,
		FromState:     string(t.FromState),
		ToState:       string(t.ToState),
		EventType:     t.EventType,
		DedupKey:      t.DedupKey,
		TraceID:       t.TraceID,
		SpanID:        t.SpanID,
		RecordedAt:    t.RecordedAt,
	}
}

// classify maps lock and concurrency failures to transient saga errors
func classify(err error, msg string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Wrap(saga.ErrLockTimeout, msg+": context deadline exceeded")
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pqLockNotAvailable:
			return errors.Wrap(saga.ErrLockTimeout, pqErr.Message)
		case pqSerializationFailure, pqDeadlockDetected:
			return errors.Wrap(saga.ErrVersionConflict, pqErr.Message)
		}
	}
	return errors.Wrap(err, msg)
}
