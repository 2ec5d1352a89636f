package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"FeedScanner/internal/ports"
)

// Sweeper enforces the retention horizon on stored items.
type Sweeper struct {
	repository ports.ItemRepository
}

// NewSweeper wires the item store.
func NewSweeper(repository ports.ItemRepository) *Sweeper {
	return &Sweeper{repository: repository}
}

// Sweep deletes every item ingested before now-horizon and returns how many went.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time, horizon time.Duration) (int64, error) {
	if s == nil || s.repository == nil {
		return 0, errors.New("sweeper has no repository")
	}
	if horizon <= 0 {
		return 0, fmt.Errorf("retention horizon must be positive, got %s", horizon)
	}
	removed, err := s.repository.DeleteIngestedBefore(ctx, now.Add(-horizon))
	if err != nil {
		return 0, fmt.Errorf("sweep items: %w", err)
	}
	return removed, nil
}
