package infrastructure

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/draftea/order-system/shared/models"
	"github.com/draftea/order-system/shared/outbox"
	"github.com/draftea/order-system/shared/saga"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var (
	_ saga.Store        = (*MemorySagaRepository)(nil)
	_ outbox.Repository = (*MemorySagaRepository)(nil)
)

// CommitHook runs after a decision is built and before it becomes visible.
// Returning an error aborts the commit.
type CommitHook func(ctx context.Context, commit *saga.Commit) error

type memoryOutboxEntry struct {
	message outbox.Message
	seq     int
	claimed bool
}

// MemorySagaRepository keeps sagas and their outbox in process. It gives the
// same guarantees as the Postgres store for a single instance: one holder per
// correlation id with a bounded wait, and all writes of a transition become
// visible together.
type MemorySagaRepository struct {
	lockTimeout time.Duration
	hook        CommitHook
	now         func() time.Time

	locksMu sync.Mutex
	locks   map[models.ID]*keyLock

	mu          sync.RWMutex
	sagas       map[models.ID]saga.Instance
	inbox       map[models.ID]map[string]time.Time
	history     map[models.ID][]saga.TransitionRecord
	outbox      []*memoryOutboxEntry
	deadLetters []saga.DeadLetter
	seq         int
}

type MemoryOption func(*MemorySagaRepository)

func WithMemoryLockTimeout(timeout time.Duration) MemoryOption {
	return func(r *MemorySagaRepository) {
		if timeout > 0 {
			r.lockTimeout = timeout
		}
	}
}

func WithCommitHook(hook CommitHook) MemoryOption {
	return func(r *MemorySagaRepository) {
		r.hook = hook
	}
}

// NewMemorySagaRepository creates an empty in-memory store
func NewMemorySagaRepository(opts ...MemoryOption) *MemorySagaRepository {
	r := &MemorySagaRepository{
		lockTimeout: DefaultLockTimeout,
		now:         func() time.Time { return time.Now().UTC() },
		locks:       map[models.ID]*keyLock{},
		sagas:       map[models.ID]saga.Instance{},
		inbox:       map[models.ID]map[string]time.Time{},
		history:     map[models.ID][]saga.TransitionRecord{},
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// keyLock is a one-slot semaphore shared by the holder and the waiters of one
// correlation id. It is dropped from the map when refs reaches zero.
type keyLock struct {
	ch   chan struct{}
	refs int
}

func (r *MemorySagaRepository) lockFor(id models.ID) *keyLock {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()

	lock, ok := r.locks[id]
	if !ok {
		lock = &keyLock{ch: make(chan struct{}, 1)}
		r.locks[id] = lock
	}
	lock.refs++
	return lock
}

func (r *MemorySagaRepository) unref(id models.ID, lock *keyLock) {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()

	lock.refs--
	if lock.refs == 0 {
		delete(r.locks, id)
	}
}

func (r *MemorySagaRepository) acquire(ctx context.Context, id models.ID) (func(), error) {
	lock := r.lockFor(id)

	timer := time.NewTimer(r.lockTimeout)
	defer timer.Stop()

	select {
	case lock.ch <- struct{}{}:
		return func() {
			<-lock.ch
			r.unref(id, lock)
		}, nil
	case <-timer.C:
		r.unref(id, lock)
		return nil, errors.Wrapf(saga.ErrLockTimeout, "waited %s for saga %s", r.lockTimeout, id)
	case <-ctx.Done():
		r.unref(id, lock)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, errors.Wrapf(saga.ErrLockTimeout, "deadline reached waiting for saga %s", id)
		}
		return nil, errors.Wrap(ctx.Err(), "saga lock wait interrupted")
	}
}

// WithLockedSaga runs fn while holding the saga lock and publishes the commit atomically
func (r *MemorySagaRepository) WithLockedSaga(ctx context.Context, req saga.LockRequest, fn saga.DecideFunc) error {
	release, err := r.acquire(ctx, req.CorrelationID)
	if err != nil {
		return err
	}
	defer release()

	r.mu.RLock()
	current, exists := r.sagas[req.CorrelationID]
	_, processed := r.inbox[req.CorrelationID][req.DedupKey]
	r.mu.RUnlock()

	if !exists {
		if !req.Create {
			return saga.ErrSagaNotFound
		}
		current = saga.NewInstance(req.CorrelationID, r.now())
	}
	if processed {
		return saga.ErrDuplicateDelivery
	}

	commit, err := fn(current.Clone())
	if err != nil {
		return err
	}
	if commit == nil {
		return nil
	}

	if r.hook != nil {
		if err := r.hook(ctx, commit); err != nil {
			return errors.Wrap(err, "commit aborted")
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if stored := r.sagas[req.CorrelationID]; stored.Version != current.Version {
		return saga.ErrVersionConflict
	}

	r.sagas[req.CorrelationID] = commit.Next.Clone()
	if r.inbox[req.CorrelationID] == nil {
		r.inbox[req.CorrelationID] = map[string]time.Time{}
	}
	r.inbox[req.CorrelationID][req.DedupKey] = commit.Transition.RecordedAt
	r.history[req.CorrelationID] = append(r.history[req.CorrelationID], commit.Transition)
	for _, msg := range commit.Messages {
		r.seq++
		r.outbox = append(r.outbox, &memoryOutboxEntry{message: msg, seq: r.seq})
	}

	return nil
}

func (r *MemorySagaRepository) Load(_ context.Context, correlationID models.ID) (*saga.Instance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	instance, ok := r.sagas[correlationID]
	if !ok {
		return nil, saga.ErrSagaNotFound
	}
	clone := instance.Clone()
	return &clone, nil
}

func (r *MemorySagaRepository) History(_ context.Context, correlationID models.ID) ([]saga.TransitionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]saga.TransitionRecord(nil), r.history[correlationID]...), nil
}

func (r *MemorySagaRepository) DeadLetter(_ context.Context, letter saga.DeadLetter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.deadLetters {
		if existing.ID == letter.ID {
			return nil
		}
	}
	r.deadLetters = append(r.deadLetters, letter)
	return nil
}

// DeadLetters returns every dead-lettered event
func (r *MemorySagaRepository) DeadLetters() []saga.DeadLetter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]saga.DeadLetter(nil), r.deadLetters...)
}

// OutboxMessages returns every outbox message in insertion order
func (r *MemorySagaRepository) OutboxMessages() []outbox.Message {
	r.mu.RLock()
	defer r.mu.RUnlock()

	messages := make([]outbox.Message, 0, len(r.outbox))
	for _, entry := range r.outbox {
		messages = append(messages, entry.message)
	}
	return messages
}

// Claim reserves up to limit pending messages, oldest first
func (r *MemorySagaRepository) Claim(_ context.Context, limit int) (outbox.Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pending := make([]*memoryOutboxEntry, 0, limit)
	for _, entry := range r.outbox {
		if entry.message.IsDispatched() || entry.claimed {
			continue
		}
		pending = append(pending, entry)
	}

	sort.SliceStable(pending, func(i, j int) bool {
		if pending[i].message.CreatedAt.Equal(pending[j].message.CreatedAt) {
			return pending[i].seq < pending[j].seq
		}
		return pending[i].message.CreatedAt.Before(pending[j].message.CreatedAt)
	})
	if len(pending) > limit {
		pending = pending[:limit]
	}

	batch := &memoryBatch{repo: r, entries: map[uuid.UUID]*memoryOutboxEntry{}}
	for _, entry := range pending {
		entry.claimed = true
		batch.entries[entry.message.ID] = entry
		batch.messages = append(batch.messages, entry.message)
	}

	return batch, nil
}

func (r *MemorySagaRepository) Stats(_ context.Context) (outbox.Stats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stats outbox.Stats
	for _, entry := range r.outbox {
		if entry.message.IsDispatched() {
			continue
		}
		stats.Pending++
		if stats.OldestCreatedAt == nil || entry.message.CreatedAt.Before(*stats.OldestCreatedAt) {
			createdAt := entry.message.CreatedAt
			stats.OldestCreatedAt = &createdAt
		}
	}
	return stats, nil
}

type memoryBatch struct {
	repo     *MemorySagaRepository
	messages []outbox.Message
	entries  map[uuid.UUID]*memoryOutboxEntry
}

func (b *memoryBatch) Messages() []outbox.Message {
	return b.messages
}

func (b *memoryBatch) MarkDispatched(_ context.Context, id uuid.UUID) error {
	b.repo.mu.Lock()
	defer b.repo.mu.Unlock()

	entry, ok := b.entries[id]
	if !ok {
		return outbox.ErrMessageNotClaimed
	}
	if entry.message.IsDispatched() {
		return errors.Errorf("outbox message %s already dispatched", id)
	}

	now := b.repo.now()
	entry.message.DispatchedAt = &now
	entry.claimed = false
	return nil
}

func (b *memoryBatch) Close(_ context.Context) error {
	b.repo.mu.Lock()
	defer b.repo.mu.Unlock()

	for _, entry := range b.entries {
		entry.claimed = false
	}
	return nil
}
