package infrastructure

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/draftea/order-system/shared/models"
	"github.com/draftea/order-system/shared/outbox"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
)

var _ outbox.Repository = (*PostgresOutboxRepository)(nil)

const DefaultClaimLease = time.Minute

// PostgresOutboxRepository claims pending messages with a lease, so that
// concurrent dispatchers never hold the same message and a crashed one
// releases its claim when the lease expires.
type PostgresOutboxRepository struct {
	db    *sqlx.DB
	lease time.Duration
	now   func() time.Time
}

// NewPostgresOutboxRepository creates a new PostgresOutboxRepository
func NewPostgresOutboxRepository(db *sqlx.DB, lease time.Duration) *PostgresOutboxRepository {
	if lease <= 0 {
		lease = DefaultClaimLease
	}
	return &PostgresOutboxRepository{
		db:    db,
		lease: lease,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

type postgresOutboxMessage struct {
	ID            uuid.UUID  `db:"id"`
	CorrelationID string     `db:"correlation_id"`
	Destination   string     `db:"destination"`
	EventType     string     `db:"event_type"`
	CausationID   string     `db:"causation_id"`
	Payload       []byte     `db:"payload"`
	CreatedAt     time.Time  `db:"created_at"`
	DispatchedAt  *time.Time `db:"dispatched_at"`
}

// Claim leases up to limit pending messages, oldest first
func (r *PostgresOutboxRepository) Claim(ctx context.Context, limit int) (outbox.Batch, error) {
	now := r.now()
	query := `
		UPDATE outbox_messages
		SET claimed_until = $1
		WHERE id IN (
			SELECT id FROM outbox_messages
			WHERE dispatched_at IS NULL AND (claimed_until IS NULL OR claimed_until < $2)
			ORDER BY created_at, id
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, correlation_id, destination, event_type, causation_id, payload, created_at, dispatched_at`

	var rows []postgresOutboxMessage
	if err := r.db.SelectContext(ctx, &rows, query, now.Add(r.lease), now, limit); err != nil {
		return nil, errors.Wrap(err, "failed to claim outbox messages")
	}

	// RETURNING does not keep the subquery order
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].ID.String() < rows[j].ID.String()
		}
		return rows[i].CreatedAt.Before(rows[j].CreatedAt)
	})

	messages := make([]outbox.Message, 0, len(rows))
	for _, row := range rows {
		messages = append(messages, outbox.Message{
			ID:            row.ID,
			CorrelationID: models.ID(row.CorrelationID),
			Destination:   row.Destination,
			EventType:     row.EventType,
			CausationID:   row.CausationID,
			Payload:       row.Payload,
			CreatedAt:     row.CreatedAt,
			DispatchedAt:  row.DispatchedAt,
		})
	}

	return &postgresBatch{repo: r, messages: messages, marked: map[uuid.UUID]bool{}}, nil
}

// Stats reports the undispatched backlog
func (r *PostgresOutboxRepository) Stats(ctx context.Context) (outbox.Stats, error) {
	var row struct {
		Pending int        `db:"pending"`
		Oldest  *time.Time `db:"oldest"`
	}

	err := r.db.GetContext(ctx, &row, `
		SELECT COUNT(*) AS pending, MIN(created_at) AS oldest
		FROM outbox_messages
		WHERE dispatched_at IS NULL`)
	if err != nil {
		return outbox.Stats{}, errors.Wrap(err, "failed to read outbox stats")
	}

	return outbox.Stats{Pending: row.Pending, OldestCreatedAt: row.Oldest}, nil
}

type postgresBatch struct {
	repo     *PostgresOutboxRepository
	messages []outbox.Message

	mu     sync.Mutex
	marked map[uuid.UUID]bool
}

func (b *postgresBatch) Messages() []outbox.Message {
	return b.messages
}

// MarkDispatched commits the mark on its own so a later failure in the batch
// cannot undo it
func (b *postgresBatch) MarkDispatched(ctx context.Context, id uuid.UUID) error {
	if !b.claimed(id) {
		return outbox.ErrMessageNotClaimed
	}

	res, err := b.repo.db.ExecContext(ctx, `
		UPDATE outbox_messages
		SET dispatched_at = $1, claimed_until = NULL
		WHERE id = $2 AND dispatched_at IS NULL`,
		b.repo.now(), id)
	if err != nil {
		return errors.Wrap(err, "failed to mark outbox message dispatched")
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read affected rows")
	}
	if affected == 0 {
		return errors.Errorf("outbox message %s already dispatched", id)
	}

	b.mu.Lock()
	b.marked[id] = true
	b.mu.Unlock()
	return nil
}

// Close releases the lease of every message that was not marked
func (b *postgresBatch) Close(ctx context.Context) error {
	b.mu.Lock()
	pending := make([]string, 0, len(b.messages))
	for _, msg := range b.messages {
		if !b.marked[msg.ID] {
			pending = append(pending, msg.ID.String())
		}
	}
	b.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	_, err := b.repo.db.ExecContext(ctx, `
		UPDATE outbox_messages
		SET claimed_until = NULL
		WHERE id = ANY($1::uuid[]) AND dispatched_at IS NULL`,
		pq.Array(pending))
	if err != nil {
		return errors.Wrap(err, "failed to release outbox claims")
	}

	return nil
}

func (b *postgresBatch) claimed(id uuid.UUID) bool {
	for _, msg := range b.messages {
		if msg.ID == id {
			return true
		}
	}
	return false
}
