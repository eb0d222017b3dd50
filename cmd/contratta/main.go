package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"

	"github.com/contratta/contratta/internal/batch"
	"github.com/contratta/contratta/internal/config"
	"github.com/contratta/contratta/internal/extract"
	"github.com/contratta/contratta/internal/fingerprint"
	"github.com/contratta/contratta/internal/issuer"
	"github.com/contratta/contratta/internal/llm"
	"github.com/contratta/contratta/internal/ocr"
	"github.com/contratta/contratta/internal/pdfio"
	"github.com/contratta/contratta/internal/record"
	"github.com/contratta/contratta/internal/strategy"
	"github.com/contratta/contratta/internal/validate"
)

var (
	version   = "dev"     // This will be set by build flags
	buildTime = "unknown" // This will be set by build flags
	gitCommit = "unknown" // This will be set by build flags
)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" || arg == "-v" {
			printVersion()
			return
		}
	}

	cfg, err := config.LoadFromFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogging(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful cancellation: the first signal stops submissions, in-flight
	// documents finish and everything completed so far is checkpointed.
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		sig := <-signalCh
		logger.Warn("signal received, finishing in-flight documents", "signal", sig.String())
		cancel()
	}()

	summary, err := run(ctx, cfg, logger)
	if err != nil {
		logger.Error("batch failed", "error", err)
		os.Exit(1)
	}

	fmt.Printf("run %s: %d processed, %d accepted, %d need review, %d failed\n",
		summary.RunID, summary.Processed, summary.Accepted, summary.NeedsReview, len(summary.Failures))
	if len(summary.Failures) > 0 {
		os.Exit(2)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*batch.Summary, error) {
	files, err := batch.Discover(cfg.InputDirectory)
	if err != nil {
		return nil, fmt.Errorf("discover input files: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no PDF files under %s", cfg.InputDirectory)
	}

	renderer := pdfio.NewRenderer(cfg.PdftoppmBin, nil)
	if !renderer.Available() {
		logger.Warn("page renderer missing, visual fingerprints degraded", "binary", cfg.PdftoppmBin)
	}

	cache := fingerprint.OpenCache(filepath.Join(cfg.DataDirectory, "fingerprints.json"), logger)
	defer func() {
		if err := cache.Save(); err != nil {
			logger.Error("fingerprint cache not saved", "error", err)
		}
	}()

	registry, err := fingerprint.OpenRegistry(
		filepath.Join(cfg.DataDirectory, "layouts.json"),
		fingerprint.Thresholds{
			Similarity:       cfg.SimilarityThreshold,
			HammingBuckets:   cfg.HammingBuckets,
			VisualWeight:     cfg.VisualWeight,
			StructuralWeight: cfg.StructuralWeight,
		},
		logger)
	if err != nil {
		return nil, fmt.Errorf("open layout registry: %w", err)
	}

	store, err := strategy.OpenStore(filepath.Join(cfg.DataDirectory, "strategies"), logger)
	if err != nil {
		return nil, fmt.Errorf("open strategy store: %w", err)
	}

	var opts []extract.Option
	if cfg.EnableOCR {
		engine, err := ocr.NewEngine(cfg.TesseractBin, renderer, nil, cfg.OCRPageTimeout, logger)
		if err != nil {
			logger.Warn("optical recognition disabled", "error", err)
		} else {
			opts = append(opts, extract.WithOCR(engine))
		}
	}
	if cfg.EnableLLM {
		client, err := llm.NewClient(llm.Config{
			APIKey:            os.Getenv("ANTHROPIC_API_KEY"),
			Model:             cfg.LLMModel,
			MaxTokens:         cfg.LLMMaxTokens,
			RequestsPerMinute: cfg.LLMRequestsPerMinute,
			RequestsPerDay:    cfg.LLMRequestsPerDay,
		}, logger)
		if err != nil {
			logger.Warn("completion collaborator disabled", "error", err)
		} else {
			opts = append(opts, extract.WithCompleter(client, cfg.MinFieldsForLLM))
		}
	}

	extractor := extract.NewExtractor(
		cfg.RequiredFields, cfg.ImportantFields,
		validate.NewNoiseFilter(cfg.MinCodeDigits, cfg.MaxCodeDigits),
		logger, opts...)

	validator := record.NewValidator(record.Params{
		RequiredFields:   cfg.RequiredFields,
		ImportantFields:  cfg.ImportantFields,
		MathTolerance:    cfg.MathTolerance,
		RequiredPenalty:  cfg.RequiredPenalty,
		ImportantPenalty: cfg.ImportantPenalty,
		AlertPenalty:     cfg.AlertPenalty,
		AlertPenaltyCap:  cfg.AlertPenaltyCap,
		ReviewThreshold:  cfg.ReviewThreshold,
	})

	printer := fingerprint.NewFingerprinter(renderer, cache, cfg.RenderPages, cfg.RenderDPI, logger)
	processor := batch.NewProcessor(
		cfg, issuer.NewClassifier(logger), printer, registry, store, extractor, validator, logger)

	return batch.NewRunner(cfg, processor, logger).Run(ctx, files)
}

func setupLogging(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

// printVersion prints version information
func printVersion() {
	fmt.Printf("contratta\n")
	fmt.Printf("Version: %s\n", version)
	fmt.Printf("Build Time: %s\n", buildTime)
	fmt.Printf("Git Commit: %s\n", gitCommit)
	fmt.Printf("Built with: %s\n", runtime.Version())
}
