package saga_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/draftea/order-system/shared/mocks"
	"github.com/draftea/order-system/shared/models"
	"github.com/draftea/order-system/shared/saga"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// lightMachine toggles between Off and On and rejects anything else
type lightMachine struct{}

func (lightMachine) IsStart(eventType string) bool {
	return eventType == "switch.installed"
}

func (lightMachine) Decide(current saga.Instance, env saga.Envelope) (saga.Decision, error) {
	switch {
	case current.State == saga.StateNone && env.EventType == "switch.installed":
		return saga.Decision{
			Next:     "Off",
			Messages: []saga.OutboundMessage{{Destination: "lights", EventType: "light.ready", Payload: map[string]string{"id": env.CorrelationID.String()}}},
			Payload:  map[string]interface{}{"room": "kitchen"},
		}, nil
	case current.State == "Off" && env.EventType == "switch.flipped":
		return saga.Decision{Next: "On"}, nil
	case current.State == "On" && env.EventType == "switch.flipped":
		return saga.Absorb("already on"), nil
	}
	return saga.Decision{}, errors.Wrapf(saga.ErrUnknownTransition, "%s in %s", env.EventType, current.State)
}

func envelope(eventType, deliveryID string) saga.Envelope {
	return saga.Envelope{
		CorrelationID: "light-1",
		EventType:     eventType,
		DeliveryID:    deliveryID,
		Payload:       json.RawMessage(`{}`),
		OccurredAt:    time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func lockedWith(current saga.Instance, captured **saga.Commit) func(context.Context, saga.LockRequest, saga.DecideFunc) error {
	return func(_ context.Context, _ saga.LockRequest, fn saga.DecideFunc) error {
		commit, err := fn(current)
		if captured != nil {
			*captured = commit
		}
		return err
	}
}

func TestOrchestrator_Handle(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	off := saga.Instance{CorrelationID: "light-1", State: "Off", Version: models.Version{Value: 1}, Payload: map[string]interface{}{}, AppliedEvents: []string{"switch.installed"}}
	on := saga.Instance{CorrelationID: "light-1", State: "On", Version: models.Version{Value: 2}, Payload: map[string]interface{}{}}

	tests := []struct {
		name          string
		env           saga.Envelope
		setupMocks    func(*mocks.MockStore, **saga.Commit)
		expectedErrIs error
		expectedError string
		checkCommit   func(*testing.T, *saga.Commit)
	}{
		{
			name: "start event creates the saga and its messages",
			env:  envelope("switch.installed", "d-1"),
			setupMocks: func(store *mocks.MockStore, captured **saga.Commit) {
				store.EXPECT().WithLockedSaga(mock.Anything, saga.LockRequest{CorrelationID: "light-1", DedupKey: "d-1", Create: true}, mock.Anything).
					RunAndReturn(lockedWith(saga.NewInstance("light-1", now), captured)).Once()
			},
			checkCommit: func(t *testing.T, commit *saga.Commit) {
				require.NotNil(t, commit)
				assert.Equal(t, saga.State("Off"), commit.Next.State)
				assert.Equal(t, 1, commit.Next.Version.Value)
				assert.Equal(t, "kitchen", commit.Next.Payload["room"])
				require.Len(t, commit.Messages, 1)
				assert.Equal(t, "light.ready", commit.Messages[0].EventType)
				assert.Equal(t, "d-1", commit.Messages[0].CausationID)
				assert.Equal(t, saga.StateNone, commit.Transition.FromState)
			},
		},
		{
			name: "existing saga advances one version",
			env:  envelope("switch.flipped", "d-2"),
			setupMocks: func(store *mocks.MockStore, captured **saga.Commit) {
				store.EXPECT().WithLockedSaga(mock.Anything, mock.Anything, mock.Anything).
					RunAndReturn(lockedWith(off, captured)).Once()
			},
			checkCommit: func(t *testing.T, commit *saga.Commit) {
				require.NotNil(t, commit)
				assert.Equal(t, saga.State("On"), commit.Next.State)
				assert.Equal(t, 2, commit.Next.Version.Value)
				assert.Empty(t, commit.Messages)
				assert.Equal(t, []string{"switch.installed", "switch.flipped"}, commit.Next.AppliedEvents)
			},
		},
		{
			name: "absorbed event commits nothing",
			env:  envelope("switch.flipped", "d-3"),
			setupMocks: func(store *mocks.MockStore, captured **saga.Commit) {
				store.EXPECT().WithLockedSaga(mock.Anything, mock.Anything, mock.Anything).
					RunAndReturn(lockedWith(on, captured)).Once()
			},
			checkCommit: func(t *testing.T, commit *saga.Commit) {
				assert.Nil(t, commit)
			},
		},
		{
			name: "committed delivery is acknowledged",
			env:  envelope("switch.flipped", "d-4"),
			setupMocks: func(store *mocks.MockStore, _ **saga.Commit) {
				store.EXPECT().WithLockedSaga(mock.Anything, mock.Anything, mock.Anything).
					Return(saga.ErrDuplicateDelivery).Once()
			},
		},
		{
			name: "lock timeout is not acknowledged",
			env:  envelope("switch.flipped", "d-5"),
			setupMocks: func(store *mocks.MockStore, _ **saga.Commit) {
				store.EXPECT().WithLockedSaga(mock.Anything, mock.Anything, mock.Anything).
					Return(errors.Wrap(saga.ErrLockTimeout, "canceling statement due to lock timeout")).Once()
			},
			expectedErrIs: saga.ErrLockTimeout,
		},
		{
			name: "version conflict is not acknowledged",
			env:  envelope("switch.flipped", "d-6"),
			setupMocks: func(store *mocks.MockStore, _ **saga.Commit) {
				store.EXPECT().WithLockedSaga(mock.Anything, mock.Anything, mock.Anything).
					Return(saga.ErrVersionConflict).Once()
			},
			expectedErrIs: saga.ErrVersionConflict,
		},
		{
			name: "unknown transition is dead-lettered and acknowledged",
			env:  envelope("switch.removed", "d-7"),
			setupMocks: func(store *mocks.MockStore, captured **saga.Commit) {
				store.EXPECT().WithLockedSaga(mock.Anything, mock.Anything, mock.Anything).
					RunAndReturn(lockedWith(off, captured)).Once()
				store.EXPECT().DeadLetter(mock.Anything, mock.MatchedBy(func(letter saga.DeadLetter) bool {
					return letter.Envelope.DeliveryID == "d-7" && letter.Reason != "" &&
						letter.ID == saga.NewDeadLetterID("light-1", "d-7")
				})).Return(nil).Once()
			},
		},
		{
			name: "dead-letter failure is not acknowledged",
			env:  envelope("switch.removed", "d-8"),
			setupMocks: func(store *mocks.MockStore, captured **saga.Commit) {
				store.EXPECT().WithLockedSaga(mock.Anything, mock.Anything, mock.Anything).
					RunAndReturn(lockedWith(off, captured)).Once()
				store.EXPECT().DeadLetter(mock.Anything, mock.Anything).Return(errors.New("disk full")).Once()
			},
			expectedError: "failed to dead-letter event",
		},
		{
			name: "envelope without correlation id is dead-lettered",
			env:  saga.Envelope{EventType: "switch.flipped", DeliveryID: "d-9"},
			setupMocks: func(store *mocks.MockStore, _ **saga.Commit) {
				store.EXPECT().DeadLetter(mock.Anything, mock.Anything).Return(nil).Once()
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := mocks.NewMockStore(t)
			var captured *saga.Commit
			tt.setupMocks(store, &captured)

			orchestrator := saga.NewOrchestrator(store, lightMachine{}, saga.WithClock(func() time.Time { return now }))
			err := orchestrator.Handle(context.Background(), tt.env)

			switch {
			case tt.expectedErrIs != nil:
				assert.ErrorIs(t, err, tt.expectedErrIs)
			case tt.expectedError != "":
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectedError)
			default:
				assert.NoError(t, err)
			}

			if tt.checkCommit != nil {
				tt.checkCommit(t, captured)
			}
		})
	}
}

func TestOrchestrator_RedeliveryIsServedFromCache(t *testing.T) {
	store := mocks.NewMockStore(t)
	current := saga.Instance{CorrelationID: "light-1", State: "Off", Version: models.Version{Value: 1}, Payload: map[string]interface{}{}}

	store.EXPECT().WithLockedSaga(mock.Anything, mock.Anything, mock.Anything).
		RunAndReturn(lockedWith(current, nil)).Once()

	orchestrator := saga.NewOrchestrator(store, lightMachine{}, saga.WithDeliveryCache(saga.NewMemoryDeliveryCache(10)))

	require.NoError(t, orchestrator.Handle(context.Background(), envelope("switch.flipped", "d-1")))
	require.NoError(t, orchestrator.Handle(context.Background(), envelope("switch.flipped", "d-1")))
}

func TestOrchestrator_MessageIDTakesPrecedenceForDedup(t *testing.T) {
	store := mocks.NewMockStore(t)

	store.EXPECT().WithLockedSaga(mock.Anything, mock.MatchedBy(func(req saga.LockRequest) bool {
		return req.DedupKey == "msg-42"
	}), mock.Anything).Return(saga.ErrDuplicateDelivery).Once()

	env := envelope("switch.flipped", "fresh-delivery")
	env.MessageID = "msg-42"

	orchestrator := saga.NewOrchestrator(store, lightMachine{})
	assert.NoError(t, orchestrator.Handle(context.Background(), env))
}
