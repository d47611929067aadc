// Package postgres stores trip history in PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/yejikwon7/multi-agent/internal/domain"
	"github.com/yejikwon7/multi-agent/internal/history"
)

const DefaultOpTimeout = 5 * time.Second

// Store implements history.Store. The 20-entry cap is enforced in the same
// transaction as the insert.
type Store struct {
	db        *sql.DB
	opTimeout time.Duration
	limit     int
}

func New(db *sql.DB, opTimeout time.Duration) *Store {
	if opTimeout <= 0 {
		opTimeout = DefaultOpTimeout
	}
	return &Store{db: db, opTimeout: opTimeout, limit: domain.MaxTripHistory}
}

// EnsureSchema creates the trip_history table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, querySchema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Load returns the stored entries, oldest first. A failed query yields the
// empty log like a corrupt history file does.
func (s *Store) Load(ctx context.Context) ([]domain.TripHistoryEntry, error) {
	entries, err := s.list(ctx)
	if err != nil {
		log.Printf("history: load from postgres failed, starting empty: %v", err)
		return []domain.TripHistoryEntry{}, nil
	}
	return entries, nil
}

func (s *Store) list(ctx context.Context) ([]domain.TripHistoryEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListEntries, s.limit)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	result := []domain.TripHistoryEntry{}
	for rows.Next() {
		var (
			e                domain.TripHistoryEntry
			trip, passengers []byte
		)
		err := rows.Scan(
			&e.CreatedAt,
			&trip,
			&passengers,
			&e.HomeAddress,
			&e.ParkingRaw,
			&e.DepartureRaw,
			&e.FlightRaw,
		)
		if err != nil {
			return nil, err
		}
		e.Trip = decodeObject(trip)
		e.Passengers = decodeObject(passengers)
		result = append(result, e)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) Append(ctx context.Context, entry domain.TripHistoryEntry) error {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	trip, err := encodeObject(entry.Trip)
	if err != nil {
		return fmt.Errorf("encode trip: %w", err)
	}
	passengers, err := encodeObject(entry.Passengers)
	if err != nil {
		return fmt.Errorf("encode passengers: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, queryInsertEntry,
		entry.CreatedAt.UTC(),
		trip,
		passengers,
		entry.HomeAddress,
		entry.ParkingRaw,
		entry.DepartureRaw,
		entry.FlightRaw,
	)
	if err != nil {
		return fmt.Errorf("insert history: %w", err)
	}

	res, err := tx.ExecContext(ctx, queryEvictOldest, s.limit)
	if err != nil {
		return fmt.Errorf("evict history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	if n, err := res.RowsAffected(); err == nil && n > 0 {
		log.Printf("history: evicted %d old entries", n)
	}
	return nil
}

func encodeObject(m map[string]any) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// decodeObject is lenient: anything that is not a JSON object becomes nil.
func decodeObject(data []byte) map[string]any {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}

var _ history.Store = (*Store)(nil)
