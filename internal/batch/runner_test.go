package batch

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contratta/contratta/internal/config"
	"github.com/contratta/contratta/internal/extract"
	"github.com/contratta/contratta/internal/fingerprint"
	"github.com/contratta/contratta/internal/issuer"
	"github.com/contratta/contratta/internal/record"
	"github.com/contratta/contratta/internal/strategy"
	"github.com/contratta/contratta/internal/validate"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.InputDirectory = t.TempDir()
	cfg.DataDirectory = t.TempDir()
	cfg.Workers = 2
	cfg.BatchSize = 2
	cfg.EnableOCR = false
	cfg.EnableLLM = false
	return cfg
}

func testProcessor(t *testing.T, cfg *config.Config) *Processor {
	t.Helper()

	registry, err := fingerprint.OpenRegistry(
		filepath.Join(cfg.DataDirectory, "layouts.json"), fingerprint.DefaultThresholds(), nil)
	require.NoError(t, err)

	store, err := strategy.OpenStore(filepath.Join(cfg.DataDirectory, "strategies"), nil)
	require.NoError(t, err)

	extractor := extract.NewExtractor(
		cfg.RequiredFields, cfg.ImportantFields,
		validate.NewNoiseFilter(cfg.MinCodeDigits, cfg.MaxCodeDigits), nil)

	validator := record.NewValidator(record.Params{
		RequiredFields:  cfg.RequiredFields,
		ImportantFields: cfg.ImportantFields,
		MathTolerance:   cfg.MathTolerance,
		ReviewThreshold: cfg.ReviewThreshold,
	})

	printer := fingerprint.NewFingerprinter(nil, nil, cfg.RenderPages, cfg.RenderDPI, nil)

	return NewProcessor(cfg, issuer.NewClassifier(nil), printer, registry, store, extractor, validator, nil)
}

// corruptPDFs drops files that cannot be opened; every one must surface as a
// structured failure at the open stage, in input order.
func corruptPDFs(t *testing.T, dir string, n int) []string {
	t.Helper()
	var files []string
	for i := 0; i < n; i++ {
		path := filepath.Join(dir, string(rune('a'+i))+".pdf")
		require.NoError(t, os.WriteFile(path, []byte("not a pdf"), 0o640))
		files = append(files, path)
	}
	return files
}

func TestRunContainsPerDocumentFailures(t *testing.T) {
	cfg := testConfig(t)
	files := corruptPDFs(t, cfg.InputDirectory, 5)
	runner := NewRunner(cfg, testProcessor(t, cfg), nil)

	summary, err := runner.Run(context.Background(), files)
	require.NoError(t, err)

	assert.Equal(t, 5, summary.Processed)
	assert.Len(t, summary.Failures, 5)
	require.Len(t, summary.Results, 5)
	for i, res := range summary.Results {
		assert.Equal(t, files[i], res.File, "results keep input order")
		require.NotNil(t, res.Failure)
		assert.Equal(t, StageOpened, res.Failure.Stage)
	}
}

func TestRunWritesCheckpoints(t *testing.T) {
	cfg := testConfig(t)
	cfg.BatchSize = 2
	files := corruptPDFs(t, cfg.InputDirectory, 5)
	runner := NewRunner(cfg, testProcessor(t, cfg), nil)

	_, err := runner.Run(context.Background(), files)
	require.NoError(t, err)

	checkpoints, err := filepath.Glob(filepath.Join(cfg.DataDirectory, "checkpoint_*.json"))
	require.NoError(t, err)
	assert.Len(t, checkpoints, 3, "5 documents at batch size 2: 2+2+1")

	summaries, err := filepath.Glob(filepath.Join(cfg.DataDirectory, "summary_*.json"))
	require.NoError(t, err)
	assert.Len(t, summaries, 1)
}

func TestRunCancelledContextSubmitsNothing(t *testing.T) {
	cfg := testConfig(t)
	files := corruptPDFs(t, cfg.InputDirectory, 3)
	runner := NewRunner(cfg, testProcessor(t, cfg), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := runner.Run(ctx, files)
	require.NoError(t, err)
	assert.Zero(t, summary.Processed, "partial run reports only completed work")
}

func TestDiscoverFindsPDFsRecursively(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "2025")
	require.NoError(t, os.MkdirAll(sub, 0o750))
	for _, name := range []string{
		filepath.Join(root, "b.pdf"),
		filepath.Join(root, "a.PDF"),
		filepath.Join(sub, "c.pdf"),
		filepath.Join(root, "notes.txt"),
	} {
		require.NoError(t, os.WriteFile(name, []byte("x"), 0o640))
	}

	files, err := Discover(root)
	require.NoError(t, err)

	require.Len(t, files, 3)
	assert.Equal(t, filepath.Join(root, "a.PDF"), files[0], "sorted for reproducible runs")
}

func TestWorkerCountExplicitWins(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Workers = 7
	assert.Equal(t, 7, workerCount(cfg))
}

func TestWorkerCountFromMemoryBudget(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Workers = 0
	cfg.MemoryBudgetGB = 7.0
	cfg.ReservedGB = 1.0
	cfg.EnableOCR = true // 1.5 GB per task: (7-1)/1.5 = 4

	n := workerCount(cfg)
	assert.LessOrEqual(t, n, 4)
	assert.GreaterOrEqual(t, n, 1)
}

func TestWorkerCountTextTasksLighter(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Workers = 0
	cfg.MemoryBudgetGB = 3.0
	cfg.ReservedGB = 1.0

	cfg.EnableOCR = true
	ocrWorkers := workerCount(cfg)
	cfg.EnableOCR = false
	textWorkers := workerCount(cfg)

	assert.GreaterOrEqual(t, textWorkers, ocrWorkers)
	assert.Equal(t, 1, ocrWorkers, "(3-1)/1.5 floors to one recognition worker")
}

func TestWorkerCountNeverZero(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Workers = 0
	cfg.MemoryBudgetGB = 0.5
	cfg.ReservedGB = 1.0

	assert.Equal(t, 1, workerCount(cfg))
}
