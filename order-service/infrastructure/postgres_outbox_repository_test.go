package infrastructure

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/draftea/order-system/shared/outbox"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var outboxColumns = []string{"id", "correlation_id", "destination", "event_type", "causation_id", "payload", "created_at", "dispatched_at"}

func TestPostgresOutboxRepository_Claim(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresOutboxRepository(db, 30*time.Second)

	older := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(time.Second)
	first, second := uuid.New(), uuid.New()

	mock.ExpectQuery(`UPDATE outbox_messages SET claimed_until = \$1 WHERE id IN \(\s*SELECT id FROM outbox_messages WHERE dispatched_at IS NULL (.+) ORDER BY created_at, id LIMIT \$3 FOR UPDATE SKIP LOCKED\s*\) RETURNING`).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), 10).
		WillReturnRows(sqlmock.NewRows(outboxColumns).
			AddRow(second.String(), "order-1", "payments", "payment.charge", "d-2", []byte(`{}`), newer, nil).
			AddRow(first.String(), "order-1", "inventory", "inventory.reserve", "d-1", []byte(`{"a":1}`), older, nil))

	batch, err := repo.Claim(context.Background(), 10)
	require.NoError(t, err)

	messages := batch.Messages()
	require.Len(t, messages, 2)
	assert.Equal(t, first, messages[0].ID)
	assert.Equal(t, "inventory.reserve", messages[0].EventType)
	assert.JSONEq(t, `{"a":1}`, string(messages[0].Payload))
	assert.Equal(t, second, messages[1].ID)
	assert.False(t, messages[1].IsDispatched())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresOutboxRepository_MarkAndClose(t *testing.T) {
	tests := []struct {
		name          string
		setupMocks    func(mock sqlmock.Sqlmock, first, second uuid.UUID)
		mark          func(t *testing.T, batch outbox.Batch, first, second uuid.UUID)
		expectedError string
	}{
		{
			name: "every message marked leaves nothing to release",
			setupMocks: func(mock sqlmock.Sqlmock, first, second uuid.UUID) {
				mock.ExpectExec(`UPDATE outbox_messages SET dispatched_at = \$1, claimed_until = NULL WHERE id = \$2`).
					WithArgs(sqlmock.AnyArg(), first.String()).
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectExec(`UPDATE outbox_messages SET dispatched_at`).
					WithArgs(sqlmock.AnyArg(), second.String()).
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
			mark: func(t *testing.T, batch outbox.Batch, first, second uuid.UUID) {
				require.NoError(t, batch.MarkDispatched(context.Background(), first))
				require.NoError(t, batch.MarkDispatched(context.Background(), second))
			},
		},
		{
			name: "unmarked messages are released",
			setupMocks: func(mock sqlmock.Sqlmock, first, second uuid.UUID) {
				mock.ExpectExec(`UPDATE outbox_messages SET dispatched_at`).
					WithArgs(sqlmock.AnyArg(), first.String()).
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectExec(`UPDATE outbox_messages SET claimed_until = NULL WHERE id = ANY`).
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
			mark: func(t *testing.T, batch outbox.Batch, first, second uuid.UUID) {
				require.NoError(t, batch.MarkDispatched(context.Background(), first))
			},
		},
		{
			name: "a failed mark does not affect the others",
			setupMocks: func(mock sqlmock.Sqlmock, first, second uuid.UUID) {
				mock.ExpectExec(`UPDATE outbox_messages SET dispatched_at`).
					WithArgs(sqlmock.AnyArg(), first.String()).
					WillReturnError(errors.New("connection reset"))
				mock.ExpectExec(`UPDATE outbox_messages SET dispatched_at`).
					WithArgs(sqlmock.AnyArg(), second.String()).
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectExec(`UPDATE outbox_messages SET claimed_until = NULL`).
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
			mark: func(t *testing.T, batch outbox.Batch, first, second uuid.UUID) {
				assert.EqualError(t, batch.MarkDispatched(context.Background(), first),
					"failed to mark outbox message dispatched: connection reset")
				require.NoError(t, batch.MarkDispatched(context.Background(), second))
			},
		},
		{
			name: "foreign message is rejected",
			setupMocks: func(mock sqlmock.Sqlmock, first, second uuid.UUID) {
				mock.ExpectExec(`UPDATE outbox_messages SET claimed_until = NULL`).
					WillReturnResult(sqlmock.NewResult(0, 2))
			},
			mark: func(t *testing.T, batch outbox.Batch, first, second uuid.UUID) {
				assert.ErrorIs(t, batch.MarkDispatched(context.Background(), uuid.New()), outbox.ErrMessageNotClaimed)
			},
		},
		{
			name: "release failure is reported",
			setupMocks: func(mock sqlmock.Sqlmock, first, second uuid.UUID) {
				mock.ExpectExec(`UPDATE outbox_messages SET claimed_until = NULL`).
					WillReturnError(errors.New("timeout"))
			},
			mark:          func(t *testing.T, batch outbox.Batch, first, second uuid.UUID) {},
			expectedError: "failed to release outbox claims: timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			repo := NewPostgresOutboxRepository(db, 0)
			first, second := uuid.New(), uuid.New()
			now := time.Now()

			mock.ExpectQuery(`UPDATE outbox_messages SET claimed_until`).
				WillReturnRows(sqlmock.NewRows(outboxColumns).
					AddRow(first.String(), "order-1", "inventory", "inventory.reserve", "d-1", []byte(`{}`), now, nil).
					AddRow(second.String(), "order-1", "payments", "payment.charge", "d-2", []byte(`{}`), now.Add(time.Second), nil))
			tt.setupMocks(mock, first, second)

			batch, err := repo.Claim(context.Background(), 5)
			require.NoError(t, err)

			tt.mark(t, batch, first, second)
			err = batch.Close(context.Background())

			if tt.expectedError != "" {
				assert.EqualError(t, err, tt.expectedError)
			} else {
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresOutboxRepository_Stats(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresOutboxRepository(db, 0)
	oldest := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT COUNT\(\*\) AS pending, MIN\(created_at\) AS oldest FROM outbox_messages WHERE dispatched_at IS NULL`).
		WillReturnRows(sqlmock.NewRows([]string{"pending", "oldest"}).AddRow(3, oldest))

	stats, err := repo.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Pending)
	require.NotNil(t, stats.OldestCreatedAt)
	assert.Equal(t, time.Minute, stats.OldestAge(oldest.Add(time.Minute)))
	assert.NoError(t, mock.ExpectationsWereMet())
}
