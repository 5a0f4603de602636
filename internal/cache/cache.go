package cache

import (
	"context"
	"time"

	"studioledger/backend/internal/domain"
)

// SummaryCache holds computed project-ledger summaries. Misses are cheap (the
// summary is recomputed from the stores), so failures degrade to a miss.
type SummaryCache interface {
	Get(ctx context.Context, key string) (*domain.ProjectSummary, bool, error)
	Set(ctx context.Context, key string, value *domain.ProjectSummary, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
}

type NoopSummaryCache struct{}

func (NoopSummaryCache) Get(_ context.Context, _ string) (*domain.ProjectSummary, bool, error) {
	return nil, false, nil
}

func (NoopSummaryCache) Set(_ context.Context, _ string, _ *domain.ProjectSummary, _ time.Duration) error {
	return nil
}

func (NoopSummaryCache) Invalidate(_ context.Context, _ string) error {
	return nil
}
