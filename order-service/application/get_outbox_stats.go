package application

import (
	"context"
	"time"

	"github.com/draftea/order-system/shared/outbox"
	"github.com/pkg/errors"
)

// OutboxStatsReader reports the undispatched backlog
type OutboxStatsReader interface {
	Stats(ctx context.Context) (outbox.Stats, error)
}

// GetOutboxStatsResponse represents the outbox backlog
type GetOutboxStatsResponse struct {
	Pending          int     `json:"pending"`
	OldestCreatedAt  string  `json:"oldest_created_at,omitempty"`
	OldestAgeSeconds float64 `json:"oldest_age_seconds"`
}

// GetOutboxStats use case
type GetOutboxStats struct {
	repository OutboxStatsReader
	now        func() time.Time
}

// NewGetOutboxStats creates a new GetOutboxStats use case
func NewGetOutboxStats(repository OutboxStatsReader) *GetOutboxStats {
	return &GetOutboxStats{
		repository: repository,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Execute executes the get outbox stats use case
func (uc *GetOutboxStats) Execute(ctx context.Context) (*GetOutboxStatsResponse, error) {
	stats, err := uc.repository.Stats(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read outbox stats")
	}

	response := &GetOutboxStatsResponse{
		Pending:          stats.Pending,
		OldestAgeSeconds: stats.OldestAge(uc.now()).Seconds(),
	}
	if stats.OldestCreatedAt != nil {
		response.OldestCreatedAt = stats.OldestCreatedAt.Format(time.RFC3339)
	}

	return response, nil
}
