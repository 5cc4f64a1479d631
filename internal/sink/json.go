// Package sink persists crawl results for downstream reporting.
package sink

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/rendercrawl/rendercrawl/internal/crawler"
)

// JSONFile collects results in completion order and writes them as a single
// JSON array. Flush is atomic (temp file + rename), so an interrupted crawl
// leaves either the previous file or a complete new one, never a torn write.
type JSONFile struct {
	path   string
	logger *zap.Logger

	mu      sync.Mutex
	results []crawler.Result
}

// NewJSONFile builds a sink writing to path, creating parent directories.
func NewJSONFile(path string, logger *zap.Logger) (*JSONFile, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create sink dir %s: %w", dir, err)
		}
	}
	return &JSONFile{path: path, logger: logger}, nil
}

// Record appends a result. Safe for concurrent use.
func (s *JSONFile) Record(result crawler.Result) {
	s.mu.Lock()
	s.results = append(s.results, result)
	s.mu.Unlock()
}

// Len returns the number of results captured so far.
func (s *JSONFile) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.results)
}

// Flush writes every captured result to disk.
func (s *JSONFile) Flush() error {
	s.mu.Lock()
	results := s.results
	if results == nil {
		results = []crawler.Result{}
	}
	payload, err := json.MarshalIndent(results, "", "  ")
	count := len(results)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o600); err != nil {
		return fmt.Errorf("write results %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("rename results into place: %w", err)
	}
	s.logger.Info("results written", zap.String("path", s.path), zap.Int("count", count))
	return nil
}
