// Package results persists completed research results as JSON documents on
// disk, one file per task. Writes are atomic (temp file then rename) so a
// crash mid-write never leaves a truncated document, and a sweep evicts
// documents past their retention window.
package results

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ballotd/internal/stance"
)

// ErrNotFound indicates no persisted result exists for the task.
var ErrNotFound = errors.New("result not found")

// Result is the persisted outcome of a completed research task.
type Result struct {
	TaskID      string              `json:"task_id"`
	Subjects    []string            `json:"subjects"`
	Issues      []string            `json:"issues"`
	Depth       string              `json:"depth"`
	Cards       []stance.StanceCard `json:"stance_cards"`
	Sources     []stance.Source     `json:"sources"`
	Warnings    []string            `json:"warnings,omitempty"`
	Comparison  *Comparison         `json:"comparison,omitempty"`
	CompletedAt time.Time           `json:"completed_at"`
}

// ComparisonPoint is one stance question with each compared candidate's
// position on it.
type ComparisonPoint struct {
	CardID     string                      `json:"card_id"`
	Question   string                      `json:"question"`
	Alignments map[string]stance.Alignment `json:"alignments"`
}

// Comparison summarizes where compared candidates agree and where they
// split.
type Comparison struct {
	Subjects     []string          `json:"subjects"`
	CommonGround []ComparisonPoint `json:"common_ground"`
	Divergences  []ComparisonPoint `json:"divergences"`
}

// Store is a directory-backed result store.
type Store struct {
	mu     sync.Mutex
	dir    string
	logger *zap.Logger
}

// NewStore creates a store rooted at dir, creating it if needed.
func NewStore(dir string, logger *zap.Logger) (*Store, error) {
	if dir == "" {
		return nil, errors.New("results directory required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create results directory: %w", err)
	}
	return &Store{dir: dir, logger: logger}, nil
}

func (s *Store) path(taskID string) (string, error) {
	if taskID == "" || strings.ContainsAny(taskID, `/\`) || taskID == "." || taskID == ".." {
		return "", fmt.Errorf("invalid task id %q", taskID)
	}
	return filepath.Join(s.dir, taskID+".json"), nil
}

// Save persists one result atomically.
func (s *Store) Save(res *Result) error {
	path, err := s.path(res.TaskID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to commit result: %w", err)
	}

	s.logger.Debug("result saved",
		zap.String("task_id", res.TaskID),
		zap.Int("cards", len(res.Cards)))
	return nil
}

// Load reads one persisted result.
func (s *Store) Load(taskID string) (*Result, error) {
	path, err := s.path(taskID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read result: %w", err)
	}

	var res Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("failed to parse result %s: %w", taskID, err)
	}
	return &res, nil
}

// Delete removes one persisted result. Deleting an absent result is not an
// error.
func (s *Store) Delete(taskID string) error {
	path, err := s.path(taskID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete result: %w", err)
	}
	return nil
}

// Sweep evicts results whose completion time is older than the retention
// window, returning how many were removed. Unparseable files are removed
// too; they can never be served.
func (s *Store) Sweep(retention time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to list results: %w", err)
	}

	cutoff := time.Now().Add(-retention)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())

		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var res Result
		expired := json.Unmarshal(data, &res) != nil || res.CompletedAt.Before(cutoff)
		if !expired {
			continue
		}

		if err := os.Remove(path); err != nil {
			s.logger.Warn("failed to evict result", zap.String("file", entry.Name()), zap.Error(err))
			continue
		}
		removed++
	}

	if removed > 0 {
		s.logger.Info("evicted expired results", zap.Int("count", removed))
	}
	return removed, nil
}
