package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/draftea/order-system/shared/models"
	"github.com/draftea/order-system/shared/outbox"
	"github.com/draftea/order-system/shared/saga"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lockRequest(dedupKey string, create bool) saga.LockRequest {
	return saga.LockRequest{CorrelationID: "order-1", DedupKey: dedupKey, Create: create}
}

func advanceWith(dedupKey string, next saga.State, messages ...saga.OutboundMessage) saga.DecideFunc {
	return func(current saga.Instance) (*saga.Commit, error) {
		env := saga.Envelope{CorrelationID: current.CorrelationID, EventType: string(next), DeliveryID: dedupKey}
		return saga.BuildCommit(current, saga.Decision{Next: next, Messages: messages}, env, time.Now())
	}
}

func TestMemorySagaRepository_WithLockedSaga(t *testing.T) {
	ctx := context.Background()
	repo := NewMemorySagaRepository()

	err := repo.WithLockedSaga(ctx, lockRequest("d-1", false), advanceWith("d-1", "Submitted"))
	assert.ErrorIs(t, err, saga.ErrSagaNotFound)

	require.NoError(t, repo.WithLockedSaga(ctx, lockRequest("d-1", true),
		advanceWith("d-1", "Submitted", saga.OutboundMessage{Destination: "inventory", EventType: "inventory.reserve"})))

	err = repo.WithLockedSaga(ctx, lockRequest("d-1", true), advanceWith("d-1", "Submitted"))
	assert.ErrorIs(t, err, saga.ErrDuplicateDelivery)

	require.NoError(t, repo.WithLockedSaga(ctx, lockRequest("d-2", false),
		advanceWith("d-2", "AwaitingPayment", saga.OutboundMessage{Destination: "payments", EventType: "payment.charge"})))

	instance, err := repo.Load(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, saga.State("AwaitingPayment"), instance.State)
	assert.Equal(t, 2, instance.Version.Value)

	history, err := repo.History(ctx, "order-1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 1, history[0].Version)
	assert.Equal(t, 2, history[1].Version)

	messages := repo.OutboxMessages()
	require.Len(t, messages, 2)
	assert.Equal(t, "inventory.reserve", messages[0].EventType)
	assert.Equal(t, "payment.charge", messages[1].EventType)

	_, err = repo.Load(ctx, "order-404")
	assert.ErrorIs(t, err, saga.ErrSagaNotFound)
}

func TestMemorySagaRepository_AbortedCommitLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	repo := NewMemorySagaRepository(WithCommitHook(func(ctx context.Context, commit *saga.Commit) error {
		return errors.New("crash before commit")
	}))

	err := repo.WithLockedSaga(ctx, lockRequest("d-1", true),
		advanceWith("d-1", "Submitted", saga.OutboundMessage{Destination: "inventory", EventType: "inventory.reserve"}))
	assert.EqualError(t, err, "commit aborted: crash before commit")

	_, err = repo.Load(ctx, "order-1")
	assert.ErrorIs(t, err, saga.ErrSagaNotFound)
	assert.Empty(t, repo.OutboxMessages())
	history, _ := repo.History(ctx, "order-1")
	assert.Empty(t, history)
}

func TestMemorySagaRepository_LockTimeout(t *testing.T) {
	ctx := context.Background()
	repo := NewMemorySagaRepository(WithMemoryLockTimeout(50 * time.Millisecond))

	holding := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- repo.WithLockedSaga(ctx, lockRequest("d-1", true), func(current saga.Instance) (*saga.Commit, error) {
			close(holding)
			<-release
			return advanceWith("d-1", "Submitted")(current)
		})
	}()
	<-holding

	err := repo.WithLockedSaga(ctx, lockRequest("d-2", true), advanceWith("d-2", "Submitted"))
	assert.ErrorIs(t, err, saga.ErrLockTimeout)

	close(release)
	require.NoError(t, <-done)
	assert.Zero(t, repo.lockCount())

	// another correlation id is never blocked
	err = repo.WithLockedSaga(ctx, saga.LockRequest{CorrelationID: "order-2", DedupKey: "d-1", Create: true},
		advanceWith("d-1", "Submitted"))
	assert.NoError(t, err)
}

func (r *MemorySagaRepository) lockCount() int {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()
	return len(r.locks)
}

func TestMemorySagaRepository_LockWaitHonorsContext(t *testing.T) {
	tests := []struct {
		name          string
		newContext    func() (context.Context, context.CancelFunc)
		expectedErrIs error
	}{
		{
			name: "deadline counts as lock timeout",
			newContext: func() (context.Context, context.CancelFunc) {
				return context.WithTimeout(context.Background(), 20*time.Millisecond)
			},
			expectedErrIs: saga.ErrLockTimeout,
		},
		{
			name: "cancellation is reported as is",
			newContext: func() (context.Context, context.CancelFunc) {
				ctx, cancel := context.WithCancel(context.Background())
				time.AfterFunc(20*time.Millisecond, cancel)
				return ctx, cancel
			},
			expectedErrIs: context.Canceled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := NewMemorySagaRepository()
			holding := make(chan struct{})
			release := make(chan struct{})
			done := make(chan struct{})
			go func() {
				defer close(done)
				_ = repo.WithLockedSaga(context.Background(), lockRequest("d-1", true), func(current saga.Instance) (*saga.Commit, error) {
					close(holding)
					<-release
					return nil, nil
				})
			}()
			<-holding

			ctx, cancel := tt.newContext()
			defer cancel()

			err := repo.WithLockedSaga(ctx, lockRequest("d-2", true), advanceWith("d-2", "Submitted"))
			assert.ErrorIs(t, err, tt.expectedErrIs)

			close(release)
			<-done
			assert.Zero(t, repo.lockCount())
		})
	}
}

func TestMemorySagaRepository_LocksArePrunedAfterRelease(t *testing.T) {
	ctx := context.Background()
	repo := NewMemorySagaRepository()

	for i := 0; i < 1000; i++ {
		id := models.ID(fmt.Sprintf("unknown-%d", i))
		err := repo.WithLockedSaga(ctx, saga.LockRequest{CorrelationID: id, DedupKey: "d-1"}, advanceWith("d-1", "Submitted"))
		require.ErrorIs(t, err, saga.ErrSagaNotFound)
	}
	assert.Zero(t, repo.lockCount())

	// contended keys are pruned once the last waiter is done
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("d-%d", i)
			_ = repo.WithLockedSaga(ctx, lockRequest(key, true), advanceWith(key, "Submitted"))
		}(i)
	}
	wg.Wait()
	assert.Zero(t, repo.lockCount())

	instance, err := repo.Load(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, 20, instance.Version.Value)
}

func TestMemorySagaRepository_Outbox(t *testing.T) {
	ctx := context.Background()
	repo := NewMemorySagaRepository()

	require.NoError(t, repo.WithLockedSaga(ctx, lockRequest("d-1", true), advanceWith("d-1", "Submitted",
		saga.OutboundMessage{Destination: "inventory", EventType: "first"},
		saga.OutboundMessage{Destination: "inventory", EventType: "second"},
		saga.OutboundMessage{Destination: "inventory", EventType: "third"},
	)))

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Pending)
	assert.NotNil(t, stats.OldestCreatedAt)

	batch, err := repo.Claim(ctx, 2)
	require.NoError(t, err)
	require.Len(t, batch.Messages(), 2)
	assert.Equal(t, "first", batch.Messages()[0].EventType)
	assert.Equal(t, "second", batch.Messages()[1].EventType)

	// a concurrent claim only sees what is left
	other, err := repo.Claim(ctx, 10)
	require.NoError(t, err)
	require.Len(t, other.Messages(), 1)
	assert.Equal(t, "third", other.Messages()[0].EventType)
	require.NoError(t, other.Close(ctx))

	require.NoError(t, batch.MarkDispatched(ctx, batch.Messages()[0].ID))
	assert.Error(t, batch.MarkDispatched(ctx, batch.Messages()[0].ID))
	assert.ErrorIs(t, batch.MarkDispatched(ctx, other.Messages()[0].ID), outbox.ErrMessageNotClaimed)
	require.NoError(t, batch.Close(ctx))

	stats, err = repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Pending)

	next, err := repo.Claim(ctx, 10)
	require.NoError(t, err)
	require.Len(t, next.Messages(), 2)
	assert.Equal(t, "second", next.Messages()[0].EventType)
	assert.Equal(t, "third", next.Messages()[1].EventType)
}
