// Package storage persists the price series as a single JSON file of
// [timestamp, price] pairs. The file is the tool's only durable artifact
// and its only channel between runs, so reads are tolerant (missing or
// corrupt content starts an empty series) while writes are atomic
// (temp file plus rename) so a crash can never leave a half-written file.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/taometrics/pricehist/internal/models"
)

// FileStore reads and writes the persisted series.
type FileStore struct {
	path   string
	logger *slog.Logger
}

// NewFileStore creates a store for the series file at path.
func NewFileStore(path string, logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{path: path, logger: logger}
}

// Path returns the series file path.
func (s *FileStore) Path() string { return s.path }

// Load reads the persisted series. A missing file or malformed content is
// not an error: the collector starts from an empty series and the fetch
// window falls back to the configured start date. Both cases log a warning
// so the operator can tell a bootstrap from a corrupted file.
func (s *FileStore) Load(ctx context.Context) ([]models.PricePoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Warn("no existing series file, starting empty", "path", s.path)
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read series file %s: %w", s.path, err)
	}

	var points []models.PricePoint
	if err := json.Unmarshal(data, &points); err != nil {
		s.logger.Warn("series file is malformed, starting empty",
			"path", s.path,
			"error", err)
		return nil, nil
	}

	s.logger.Debug("loaded series", "path", s.path, "points", len(points))
	return points, nil
}

// Write overwrites the series file with the full sorted series. The data
// is written to a temporary file in the same directory and renamed over
// the target, so the previous version stays intact if anything fails
// mid-write. Output is indented for human readability.
func (s *FileStore) Write(ctx context.Context, points []models.PricePoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := encodeSeries(points)
	if err != nil {
		return fmt.Errorf("failed to encode series: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp series file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp series file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace series file %s: %w", s.path, err)
	}

	s.logger.Debug("wrote series", "path", s.path, "points", len(points))
	return nil
}

// encodeSeries renders the series with one [timestamp, price] pair per
// line, which keeps diffs and manual inspection sane as the file grows.
func encodeSeries(points []models.PricePoint) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("[")
	for i, p := range points {
		pair, err := json.Marshal(p)
		if err != nil {
			return nil, err
		}
		if i > 0 {
			buf.WriteString(",")
		}
		buf.WriteString("\n  ")
		buf.Write(pair)
	}
	if len(points) > 0 {
		buf.WriteString("\n")
	}
	buf.WriteString("]\n")
	return buf.Bytes(), nil
}
