// Package history persists a bounded log of completed trip plans.
package history

import (
	"context"
	"fmt"

	"github.com/yejikwon7/multi-agent/internal/domain"
)

// Store loads and appends trip history entries. Implementations keep only
// the most recent domain.MaxTripHistory entries, oldest first.
type Store interface {
	Load(ctx context.Context) ([]domain.TripHistoryEntry, error)
	Append(ctx context.Context, entry domain.TripHistoryEntry) error
}

// Trim keeps the last limit entries.
func Trim(entries []domain.TripHistoryEntry, limit int) []domain.TripHistoryEntry {
	if limit <= 0 || len(entries) <= limit {
		return entries
	}
	return entries[len(entries)-limit:]
}

// Unavailable stands in for a backend that could not be opened. Load yields
// the empty log and Append reports Err, so a run still completes and its
// result says why the entry was not saved.
type Unavailable struct {
	Err error
}

func (u Unavailable) Load(ctx context.Context) ([]domain.TripHistoryEntry, error) {
	return []domain.TripHistoryEntry{}, nil
}

func (u Unavailable) Append(ctx context.Context, entry domain.TripHistoryEntry) error {
	return fmt.Errorf("history unavailable: %w", u.Err)
}
