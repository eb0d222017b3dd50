// Package extract runs extraction strategies against opened documents: per
// field, ordered pattern rules with optional anchors, a table-grid fallback
// for required fields, and optional OCR / AI-completion escalation.
package extract

import (
	"context"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/contratta/contratta/internal/pdfio"
	"github.com/contratta/contratta/internal/strategy"
	"github.com/contratta/contratta/internal/validate"
)

const anchorWindowRunes = 600

// OCREngine recognizes the text of one page of a document. Implemented by
// ocr.Engine; nil means the capability is absent.
type OCREngine interface {
	PageText(ctx context.Context, path string, page int) (string, error)
}

// Completer fills absent fields from the document text. Implemented by
// llm.Client; nil means the capability is absent.
type Completer interface {
	TryComplete(ctx context.Context, docText string, missing []string) (map[string]string, error)
}

// Outcome is the result of running one strategy against one document.
type Outcome struct {
	Fields    map[string]string
	OCRPages  []int    // pages whose text came from optical recognition
	LLMFilled []string // fields filled by the AI collaborator
}

// Extractor applies strategies to documents. Safe for concurrent use.
type Extractor struct {
	required  []string
	important []string
	minForLLM int
	ocr       OCREngine
	completer Completer
	filter    *validate.NoiseFilter
	logger    *slog.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithOCR attaches the optical-recognition collaborator.
func WithOCR(engine OCREngine) Option {
	return func(e *Extractor) { e.ocr = engine }
}

// WithCompleter attaches the AI-completion collaborator and the field-count
// threshold below which it is consulted.
func WithCompleter(c Completer, minFields int) Option {
	return func(e *Extractor) {
		e.completer = c
		e.minForLLM = minFields
	}
}

// NewExtractor builds an extractor. required and important name the fields
// that matter for escalation and the table fallback; filter screens
// multi-installation candidates.
func NewExtractor(required, important []string, filter *validate.NoiseFilter, logger *slog.Logger, opts ...Option) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Extractor{
		required:  required,
		important: important,
		filter:    filter,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract applies the strategy's rules to the document text. Pure: no
// collaborators, no escalation. A field with no matching rule is absent from
// the result, never guessed.
func (e *Extractor) Extract(doc *pdfio.Document, strat *strategy.Strategy) map[string]string {
	fields := e.applyRules(doc.Text(), strat)
	e.tableFallback(doc, fields)
	return fields
}

// Run applies the strategy with escalation: pages with a near-empty text
// layer are OCR'd and the rules re-run over the recognized text; when fewer
// than the configured minimum of fields came out, the AI collaborator fills
// only the fields that are still absent.
func (e *Extractor) Run(ctx context.Context, doc *pdfio.Document, strat *strategy.Strategy) *Outcome {
	out := &Outcome{Fields: e.Extract(doc, strat)}

	if e.ocr != nil && e.missingAny(out.Fields) {
		e.escalateOCR(ctx, doc, strat, out)
	}
	if e.completer != nil && len(out.Fields) < e.minForLLM {
		e.escalateLLM(ctx, doc, out)
	}
	return out
}

func (e *Extractor) applyRules(text string, strat *strategy.Strategy) map[string]string {
	fields := make(map[string]string)

	names := make([]string, 0, len(strat.Fields))
	for name := range strat.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		for i, rule := range strat.Fields[name] {
			value, ok := e.applyRule(text, name, rule)
			if !ok {
				continue
			}
			fields[name] = value
			e.logger.Debug("field extracted", "field", name, "rule", i)
			break
		}
	}
	return fields
}

// applyRule runs one rule. Any failure, from a missing anchor to a pattern
// that does not compile, skips the rule and lets the next one try.
func (e *Extractor) applyRule(text, field string, rule strategy.Rule) (string, bool) {
	window := text
	if rule.Anchor != "" {
		idx := indexFold(text, rule.Anchor)
		if idx < 0 {
			return "", false
		}
		window = runeWindow(text[idx+len(rule.Anchor):], anchorWindowRunes)
	}

	re, err := regexp.Compile(rule.Pattern)
	if err != nil {
		e.logger.Warn("strategy pattern does not compile", "field", field, "error", err)
		return "", false
	}

	m := re.FindStringSubmatch(window)
	if m == nil {
		return "", false
	}
	value := m[0]
	if len(m) > 1 && m[1] != "" {
		value = m[1]
	}
	return e.normalize(field, value)
}

// normalize collapses whitespace, trims trailing punctuation, and reformats
// monetary fields through the locale-aware parser.
func (e *Extractor) normalize(field, value string) (string, bool) {
	value = strings.Join(strings.Fields(value), " ")
	value = strings.TrimRight(value, ".,;:- ")
	if value == "" {
		return "", false
	}

	if isMoneyField(field) {
		amount, err := validate.ParseMoney(value)
		if err != nil {
			return "", false
		}
		return validate.FormatMoney(amount), true
	}
	return value, true
}

func isMoneyField(field string) bool {
	lower := strings.ToLower(field)
	for _, cue := range []string{"valor", "preco", "preço", "tarifa", "custo"} {
		if strings.Contains(lower, cue) {
			return true
		}
	}
	return false
}

// fallbackLabels maps field names to the table-header keywords that label
// their values in tabular layouts.
var fallbackLabels = map[string][]string{
	"numero_instalacao":   {"instala", "unidade consumidora", "uc"},
	"cnpj_cliente":        {"cnpj"},
	"valor_mensal":        {"valor mensal", "mensalidade"},
	"potencia_contratada": {"potência", "potencia", "kwp"},
	"data_inicio":         {"início", "inicio da vigência"},
	"data_fim":            {"término", "termino", "fim da vigência"},
}

// tableFallback fills still-absent required fields from table grids by
// header-keyword adjacency.
func (e *Extractor) tableFallback(doc *pdfio.Document, fields map[string]string) {
	var missing []string
	for _, name := range e.required {
		if fields[name] == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 || !doc.HasTables() {
		return
	}

	for page := 1; page <= doc.PagesRead(); page++ {
		for _, grid := range doc.Tables(page) {
			for _, name := range missing {
				if fields[name] != "" {
					continue
				}
				labels := fallbackLabels[name]
				if len(labels) == 0 {
					labels = []string{strings.ReplaceAll(name, "_", " ")}
				}
				if value, ok := grid.Find(labels...); ok {
					if normalized, valid := e.normalize(name, value); valid {
						fields[name] = normalized
						e.logger.Debug("field recovered from table", "field", name, "page", page)
					}
				}
			}
		}
	}
}

func (e *Extractor) missingAny(fields map[string]string) bool {
	for _, name := range e.required {
		if fields[name] == "" {
			return true
		}
	}
	for _, name := range e.important {
		if fields[name] == "" {
			return true
		}
	}
	return false
}

// escalateOCR recognizes pages whose own text layer is near empty and
// re-runs the strategy over the combined text. OCR failures skip the page.
func (e *Extractor) escalateOCR(ctx context.Context, doc *pdfio.Document, strat *strategy.Strategy, out *Outcome) {
	pageTexts := make([]string, doc.PagesRead())
	recognized := false
	for page := 1; page <= doc.PagesRead(); page++ {
		pageTexts[page-1] = doc.PageText(page)
		if len(strings.TrimSpace(pageTexts[page-1])) >= 40 {
			continue
		}
		text, err := e.ocr.PageText(ctx, doc.Path, page)
		if err != nil {
			e.logger.Warn("optical recognition skipped page", "file", doc.Path, "page", page, "error", err)
			continue
		}
		pageTexts[page-1] = text
		out.OCRPages = append(out.OCRPages, page)
		recognized = true
	}
	if !recognized {
		return
	}

	rescued := e.applyRules(strings.Join(pageTexts, "\n\f\n"), strat)
	for name, value := range rescued {
		if out.Fields[name] == "" {
			out.Fields[name] = value
		}
	}
}

// escalateLLM asks the AI collaborator for the fields that are still absent.
// Present fields are never overwritten.
func (e *Extractor) escalateLLM(ctx context.Context, doc *pdfio.Document, out *Outcome) {
	var missing []string
	for _, name := range append(append([]string{}, e.required...), e.important...) {
		if out.Fields[name] == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return
	}

	filled, err := e.completer.TryComplete(ctx, doc.Text(), missing)
	if err != nil {
		e.logger.Warn("completion collaborator unavailable", "file", doc.Path, "error", err)
		return
	}
	for name, value := range filled {
		if out.Fields[name] != "" || strings.TrimSpace(value) == "" {
			continue
		}
		if normalized, ok := e.normalize(name, value); ok {
			out.Fields[name] = normalized
			out.LLMFilled = append(out.LLMFilled, name)
		}
	}
	sort.Strings(out.LLMFilled)
}

func indexFold(s, substr string) int {
	return strings.Index(strings.ToLower(s), strings.ToLower(substr))
}

func runeWindow(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
