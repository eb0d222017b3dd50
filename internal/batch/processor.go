package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/contratta/contratta/internal/config"
	"github.com/contratta/contratta/internal/extract"
	"github.com/contratta/contratta/internal/fingerprint"
	"github.com/contratta/contratta/internal/issuer"
	"github.com/contratta/contratta/internal/pdfio"
	"github.com/contratta/contratta/internal/record"
	"github.com/contratta/contratta/internal/strategy"
)

// Processor carries one document through the whole state machine. All
// collaborators are shared and safe for concurrent use; Process is called
// from many workers at once.
type Processor struct {
	cfg        *config.Config
	classifier *issuer.Classifier
	printer    *fingerprint.Fingerprinter
	registry   *fingerprint.Registry
	store      *strategy.Store
	extractor  *extract.Extractor
	validator  *record.Validator
	logger     *slog.Logger
}

func NewProcessor(
	cfg *config.Config,
	classifier *issuer.Classifier,
	printer *fingerprint.Fingerprinter,
	registry *fingerprint.Registry,
	store *strategy.Store,
	extractor *extract.Extractor,
	validator *record.Validator,
	logger *slog.Logger,
) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		cfg:        cfg,
		classifier: classifier,
		printer:    printer,
		registry:   registry,
		store:      store,
		extractor:  extractor,
		validator:  validator,
		logger:     logger,
	}
}

// Process runs one file through the state machine and returns its outcome.
// Every error is contained here: the returned Result carries either records
// or a Failure, never both, and the batch keeps going regardless.
func (p *Processor) Process(ctx context.Context, path string) Result {
	start := time.Now()

	doc, err := pdfio.Open(path, pdfio.Options{MaxPages: p.cfg.MaxPages})
	if err != nil {
		return p.fail(path, StageOpened, err)
	}
	defer doc.Close()
	p.step(path, StageOpened)

	resolved := p.classifier.Resolve(path, doc.Text())

	modelID := ""
	fp, err := p.printer.Compute(ctx, doc)
	if err != nil {
		// Classification is an optimization, not a gate; extraction can
		// proceed on issuer and page count alone.
		p.logger.Warn("fingerprint failed, continuing unclassified", "file", path, "error", err)
	} else {
		id, isNew, conf, cerr := p.registry.Classify(fp, resolved.Issuer)
		if cerr != nil {
			p.logger.Warn("layout classification failed", "file", path, "error", cerr)
		} else {
			modelID = id
			p.logger.Debug("layout classified",
				"file", path, "model", id, "new", isNew, "confidence", conf)
		}
	}
	p.step(path, StageClassified)

	strat, err := p.selectStrategy(resolved.Issuer, doc, modelID)
	if err != nil {
		return p.fail(path, StageStrategySelected, err)
	}
	p.step(path, StageStrategySelected)

	outcome := p.extractor.Run(ctx, doc, strat)
	p.step(path, StageFieldsExtracted)

	multi := p.extractor.ExtractAll(doc)
	var codes []string
	if multi.Multi() {
		for _, c := range multi.Codes {
			codes = append(codes, c.Value)
		}
		p.step(path, StageMultiExpanded)
	} else {
		p.step(path, StageSingle)
	}

	ref := record.StrategyRef(strat.Issuer, strat.TargetPageCount, strat.Version)
	records := record.Assemble(outcome.Fields, path, ref, codes)

	for _, r := range records {
		if len(outcome.OCRPages) > 0 {
			r.AddAlert(record.AlertExtractionFailed, "",
				fmt.Sprintf("texto de %d página(s) obtido por reconhecimento óptico", len(outcome.OCRPages)))
		}
		for _, field := range outcome.LLMFilled {
			r.AddAlert(record.AlertExtractionFailed, field, "valor obtido por completação automática")
		}
	}
	p.step(path, StageValidated)

	for _, r := range records {
		p.validator.Finalize(r)
	}
	p.step(path, StageScored)

	p.logger.Info("document processed",
		"file", path,
		"issuer", resolved.Issuer,
		"records", len(records),
		"duration_ms", time.Since(start).Milliseconds())
	return Result{File: path, Stage: StageScored, Records: records}
}

// selectStrategy resolves a stored strategy; a layout nobody mapped yet gets
// the generic discovery strategy, saved as version 1 of its family so later
// curation has something to edit.
func (p *Processor) selectStrategy(issuerKey string, doc *pdfio.Document, modelID string) (*strategy.Strategy, error) {
	sel, err := p.store.Select(issuerKey, doc.NumPages(), doc.Text())
	if err == nil {
		return sel.Strategy, nil
	}
	if !errors.Is(err, strategy.ErrNoStrategy) {
		return nil, err
	}

	discovery := discoveryStrategy(issuerKey, doc.NumPages(), modelID)
	version, serr := p.store.Save(discovery)
	if serr != nil {
		return nil, fmt.Errorf("save discovery strategy: %w", serr)
	}
	discovery.Version = version
	p.logger.Info("no strategy for layout, discovery patterns saved",
		"issuer", issuerKey, "pages", doc.NumPages(), "version", version)
	return discovery, nil
}

// discoveryStrategy is the generic pattern set applied to layouts that have
// no curated map yet. Patterns favor precision; anything it misses surfaces
// as a MISSING_IN_DOC alert rather than a bad guess.
func discoveryStrategy(issuerKey string, pages int, modelID string) *strategy.Strategy {
	if strings.TrimSpace(issuerKey) == "" {
		issuerKey = issuer.UnknownIssuer
	}
	return &strategy.Strategy{
		ModelID:         modelID,
		Issuer:          issuerKey,
		TargetPageCount: pages,
		Fields: map[string][]strategy.Rule{
			"numero_instalacao": {
				{Anchor: "Instalação", Pattern: `(\d{5,12})`, ConfidenceHint: 0.7},
				{Anchor: "Unidade Consumidora", Pattern: `(\d{5,12})`, ConfidenceHint: 0.7},
				{Pattern: `(?i)UC\s*[:\-]?\s*(\d{5,12})`, ConfidenceHint: 0.5},
			},
			"cnpj_cliente": {
				{Pattern: `(\d{2}\.\d{3}\.\d{3}/\d{4}-\d{2})`, ConfidenceHint: 0.8},
				{Pattern: `(?i)CNPJ\s*[:\-]?\s*(\d{14})`, ConfidenceHint: 0.6},
			},
			"valor_mensal": {
				{Anchor: "valor mensal", Pattern: `R?\$?\s*([\d.,]+)`, ConfidenceHint: 0.6},
				{Anchor: "mensalidade", Pattern: `R?\$?\s*([\d.,]+)`, ConfidenceHint: 0.5},
			},
			"data_inicio": {
				{Anchor: "início da vigência", Pattern: `(\d{2}/\d{2}/\d{4})`, ConfidenceHint: 0.6},
				{Anchor: "vigência", Pattern: `(\d{2}/\d{2}/\d{4})`, ConfidenceHint: 0.4},
			},
			"data_fim": {
				{Anchor: "término da vigência", Pattern: `(\d{2}/\d{2}/\d{4})`, ConfidenceHint: 0.6},
			},
			"potencia_contratada": {
				{Anchor: "potência", Pattern: `([\d.,]+)\s*kWp?`, ConfidenceHint: 0.6},
			},
		},
	}
}

func (p *Processor) fail(path string, stage Stage, err error) Result {
	p.logger.Error("document failed", "file", path, "stage", string(stage), "error", err)
	return Result{
		File:    path,
		Stage:   StageFailed,
		Failure: &Failure{File: path, Stage: stage, Err: err.Error()},
	}
}

func (p *Processor) step(path string, stage Stage) {
	p.logger.Debug("stage", "file", path, "stage", string(stage))
}
