package history

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/yejikwon7/multi-agent/internal/domain"
)

const DefaultFile = "trip_history.json"

type document struct {
	TripHistory []domain.TripHistoryEntry `json:"trip_history"`
}

// FileStore keeps the history in one JSON document. Writes go to a temp
// file in the same directory and are renamed over the target.
// Concurrent writers in other processes are not coordinated.
type FileStore struct {
	path  string
	limit int
	mu    sync.Mutex
}

func NewFileStore(path string) *FileStore {
	if path == "" {
		path = DefaultFile
	}
	return &FileStore{path: path, limit: domain.MaxTripHistory}
}

func (s *FileStore) Path() string {
	return s.path
}

// Load returns the stored entries. A missing or unreadable document is an
// empty history, not an error.
func (s *FileStore) Load(ctx context.Context) ([]domain.TripHistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(), nil
}

func (s *FileStore) load() []domain.TripHistoryEntry {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Printf("history: read %s failed, starting empty: %v", s.path, err)
		}
		return []domain.TripHistoryEntry{}
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		log.Printf("history: %s is corrupt, starting empty: %v", s.path, err)
		return []domain.TripHistoryEntry{}
	}
	if doc.TripHistory == nil {
		return []domain.TripHistoryEntry{}
	}
	return doc.TripHistory
}

// Append adds entry and drops the oldest entries beyond the limit.
func (s *FileStore) Append(ctx context.Context, entry domain.TripHistoryEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries := append(s.load(), entry)
	entries = Trim(entries, s.limit)

	if err := s.write(document{TripHistory: entries}); err != nil {
		return fmt.Errorf("write %s: %w", s.path, err)
	}
	log.Printf("history: appended entry count=%d path=%s", len(entries), s.path)
	return nil
}

func (s *FileStore) write(doc document) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, s.path)
}

var _ Store = (*FileStore)(nil)
