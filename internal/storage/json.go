package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/maltedev/amazon-rank-scraper/internal/models"
)

const timestampLayout = "20060102_150405"

// JSONSink writes one document per successful keyword and one combined
// document per run under <dir>/<country>/. All files of a sink share the
// timestamp taken when the sink was created.
type JSONSink struct {
	mu        sync.Mutex
	dir       string
	timestamp string
}

func NewJSONSink(dir string) *JSONSink {
	return &JSONSink{
		dir:       dir,
		timestamp: time.Now().Format(timestampLayout),
	}
}

func (s *JSONSink) SaveKeywordRun(ctx context.Context, run *models.KeywordRun) error {
	if run.Status != models.RunStatusSuccess {
		return nil
	}

	path := filepath.Join(s.dir, run.Country, KeywordFileName(run.Keyword, s.timestamp))
	return s.write(path, run)
}

func (s *JSONSink) SaveRunResult(ctx context.Context, result *models.RunResult) error {
	path := filepath.Join(s.dir, result.Summary.Country, "all_keywords_"+s.timestamp+".json")
	return s.write(path, result)
}

func (s *JSONSink) Close() error {
	return nil
}

// Dir returns the output directory for a country.
func (s *JSONSink) Dir(country string) string {
	return filepath.Join(s.dir, country)
}

func (s *JSONSink) write(path string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	// Write to temp file first for atomicity
	tmpFile := path + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmpFile, err)
	}

	if err := os.Rename(tmpFile, path); err != nil {
		return fmt.Errorf("failed to rename %s: %w", tmpFile, err)
	}
	return nil
}

// KeywordFileName builds the per keyword file name, replacing spaces and
// slashes with underscores.
func KeywordFileName(keyword, timestamp string) string {
	name := strings.NewReplacer(" ", "_", "/", "_").Replace(keyword)
	return name + "_" + timestamp + ".json"
}
