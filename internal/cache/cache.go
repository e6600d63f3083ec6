package cache

import (
	"context"
	"time"

	"lucciole/backend/internal/domain"
)

// SnapshotCache holds the date-windowed movement log slice a report was
// computed from, so filter-only reruns skip the full log retrieval but still
// recompute table and chart from the same snapshot.
type SnapshotCache interface {
	Get(ctx context.Context, key string) ([]domain.LogEntry, bool, error)
	Set(ctx context.Context, key string, entries []domain.LogEntry, ttl time.Duration) error
}

type NoopSnapshotCache struct{}

func (NoopSnapshotCache) Get(_ context.Context, _ string) ([]domain.LogEntry, bool, error) {
	return nil, false, nil
}

func (NoopSnapshotCache) Set(_ context.Context, _ string, _ []domain.LogEntry, _ time.Duration) error {
	return nil
}
