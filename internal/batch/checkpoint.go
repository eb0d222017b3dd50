package batch

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// checkpointWriter persists completed results in numbered slices so a crash
// loses at most one slice. Files are never rewritten.
type checkpointWriter struct {
	dir    string
	runID  string
	seq    int
	logger *slog.Logger
}

func newCheckpointWriter(dir, runID string, logger *slog.Logger) (*checkpointWriter, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create checkpoint directory: %w", err)
	}
	return &checkpointWriter{dir: dir, runID: runID, logger: logger}, nil
}

// write persists one slice of results. Empty slices are skipped.
func (w *checkpointWriter) write(results []Result) error {
	if len(results) == 0 {
		return nil
	}
	w.seq++

	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	path := filepath.Join(w.dir, fmt.Sprintf("checkpoint_%s_%04d.json", w.runID, w.seq))
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}

	w.logger.Info("checkpoint written", "path", path, "results", len(results))
	return nil
}

// writeSummary persists the run summary next to the checkpoints.
func (w *checkpointWriter) writeSummary(s *Summary) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	path := filepath.Join(w.dir, fmt.Sprintf("summary_%s.json", w.runID))
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}
