package application

import (
	"context"
	"testing"
	"time"

	"github.com/draftea/order-system/shared/mocks"
	"github.com/draftea/order-system/shared/outbox"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func TestGetOutboxStats_Execute(t *testing.T) {
	now := time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC)
	oldest := now.Add(-90 * time.Second)

	tests := []struct {
		name           string
		setupMocks     func(*mocks.MockOutboxRepository)
		expectedError  string
		expectedResult *GetOutboxStatsResponse
	}{
		{
			name: "pending backlog",
			setupMocks: func(repo *mocks.MockOutboxRepository) {
				repo.EXPECT().Stats(mock.Anything).Return(outbox.Stats{Pending: 3, OldestCreatedAt: &oldest}, nil).Once()
			},
			expectedResult: &GetOutboxStatsResponse{
				Pending:          3,
				OldestCreatedAt:  "2025-02-01T11:58:30Z",
				OldestAgeSeconds: 90,
			},
		},
		{
			name: "empty outbox",
			setupMocks: func(repo *mocks.MockOutboxRepository) {
				repo.EXPECT().Stats(mock.Anything).Return(outbox.Stats{}, nil).Once()
			},
			expectedResult: &GetOutboxStatsResponse{},
		},
		{
			name: "repository error",
			setupMocks: func(repo *mocks.MockOutboxRepository) {
				repo.EXPECT().Stats(mock.Anything).Return(outbox.Stats{}, errors.New("database is down")).Once()
			},
			expectedError: "failed to read outbox stats",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := mocks.NewMockOutboxRepository(t)
			tt.setupMocks(repo)

			uc := NewGetOutboxStats(repo)
			uc.now = func() time.Time { return now }

			result, err := uc.Execute(context.Background())

			if tt.expectedError != "" {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectedError)
				return
			}

			assert.NoError(t, err)
			assert.Equal(t, tt.expectedResult, result)
		})
	}
}
