// Package history persists finished transcripts for the app's history
// view. Writes are fire-and-forget from the transcription path: a failed
// save is logged by the caller, never surfaced to the job.
package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clipscribe/clipscribe/internal/domain"
)

// Record is one saved transcript.
type Record struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Title     string         `json:"title"`
	Text      string         `json:"text"`
	Chunks    []domain.Chunk `json:"chunks,omitempty"`
	Language  string         `json:"language"`
	Model     string         `json:"model"`
	Duration  float64        `json:"duration"`
}

// Store keeps one JSON file per record under a directory.
type Store struct {
	dir string
}

// NewStore creates a store rooted at dir. The directory is created on
// first save.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Save writes one record. A missing ID or timestamp is filled in.
func (s *Store) Save(rec Record) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("history: creating dir: %w", err)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("history: encoding record: %w", err)
	}

	name := fmt.Sprintf("%s-%s.json", rec.Timestamp.Format("20060102T150405"), rec.ID)
	tmp := filepath.Join(s.dir, name+".tmp")
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("history: writing record: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(s.dir, name)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("history: moving record into place: %w", err)
	}
	return nil
}

// List returns up to limit records, most recent first. limit <= 0 means
// all records. Unreadable files are skipped.
func (s *Store) List(limit int) ([]Record, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("history: reading dir: %w", err)
	}

	var records []Record
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			continue
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Timestamp.After(records[j].Timestamp)
	})

	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}
