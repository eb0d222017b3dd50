package batch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/contratta/contratta/internal/config"
)

// Runner fans a list of files out to a worker pool, collects one Result per
// file, and checkpoints completed work every BatchSize documents.
type Runner struct {
	cfg    *config.Config
	proc   *Processor
	logger *slog.Logger
}

func NewRunner(cfg *config.Config, proc *Processor, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{cfg: cfg, proc: proc, logger: logger}
}

// Discover walks the input directory tree and returns every PDF, sorted so
// runs over the same tree are reproducible.
func Discover(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.EqualFold(filepath.Ext(path), ".pdf") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

type job struct {
	index int
	file  string
}

type indexedResult struct {
	index  int
	result Result
}

// Run processes the files and returns the summary. On deadline expiry no new
// documents are submitted, in-flight ones finish, and everything completed
// so far is checkpointed; the summary then covers the partial run.
func (r *Runner) Run(ctx context.Context, files []string) (*Summary, error) {
	runID := uuid.NewString()[:8]
	workers := workerCount(r.cfg)

	if r.cfg.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Deadline)
		defer cancel()
	}

	writer, err := newCheckpointWriter(r.cfg.DataDirectory, runID, r.logger)
	if err != nil {
		return nil, err
	}

	r.logger.Info("batch started",
		"run", runID, "files", len(files), "workers", workers, "batch_size", r.cfg.BatchSize)
	start := time.Now()

	jobs := make(chan job)
	results := make(chan indexedResult, workers)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				results <- indexedResult{
					index:  j.index,
					result: r.proc.Process(ctx, j.file),
				}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i, file := range files {
			select {
			case <-ctx.Done():
				r.logger.Warn("deadline reached, no new submissions",
					"submitted", i, "total", len(files))
				return
			case jobs <- job{index: i, file: file}:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	ordered := make([]*Result, len(files))
	var pending []Result
	for res := range results {
		ordered[res.index] = &res.result
		pending = append(pending, res.result)
		if len(pending) >= r.cfg.BatchSize {
			if err := writer.write(pending); err != nil {
				r.logger.Error("checkpoint failed", "error", err)
			}
			pending = nil
		}
	}
	if err := writer.write(pending); err != nil {
		r.logger.Error("checkpoint failed", "error", err)
	}

	summary := &Summary{RunID: runID}
	for _, res := range ordered {
		if res == nil {
			continue // never submitted before the deadline
		}
		summary.Results = append(summary.Results, *res)
		summary.tally(*res)
	}
	if err := writer.writeSummary(summary); err != nil {
		r.logger.Error("summary write failed", "error", err)
	}

	r.logger.Info("batch finished",
		"run", runID,
		"processed", summary.Processed,
		"accepted", summary.Accepted,
		"needs_review", summary.NeedsReview,
		"failures", len(summary.Failures),
		"duration_ms", time.Since(start).Milliseconds())
	return summary, nil
}
