package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contratta/contratta/internal/pdfio"
	"github.com/contratta/contratta/internal/strategy"
	"github.com/contratta/contratta/internal/validate"
)

var (
	requiredFields  = []string{"numero_instalacao", "cnpj_cliente"}
	importantFields = []string{"valor_mensal", "data_inicio"}
)

func newTestExtractor(opts ...Option) *Extractor {
	return NewExtractor(requiredFields, importantFields, validate.NewNoiseFilter(5, 12), nil, opts...)
}

func contractDoc() *pdfio.Document {
	return pdfio.NewDocumentFromText("contrato.pdf", []string{
		"CONTRATO DE FORNECIMENTO\n" +
			"Instalação nº 30112345\n" +
			"CNPJ: 11.222.333/0001-81\n" +
			"Valor mensal: R$ 1.234,56",
		"Cláusula primeira: do objeto do presente instrumento.",
	})
}

func contractStrategy() *strategy.Strategy {
	return &strategy.Strategy{
		Issuer:          "CEMIG",
		TargetPageCount: 2,
		Fields: map[string][]strategy.Rule{
			"numero_instalacao": {
				{Anchor: "Instalação", Pattern: `(\d{5,12})`},
			},
			"cnpj_cliente": {
				{Pattern: `(\d{2}\.\d{3}\.\d{3}/\d{4}-\d{2})`},
			},
			"valor_mensal": {
				{Anchor: "Valor mensal", Pattern: `([\d.,]+)`},
			},
		},
	}
}

func TestExtractAppliesAnchoredRules(t *testing.T) {
	fields := newTestExtractor().Extract(contractDoc(), contractStrategy())

	assert.Equal(t, "30112345", fields["numero_instalacao"])
	assert.Equal(t, "11.222.333/0001-81", fields["cnpj_cliente"])
}

func TestExtractFormatsMoneyFields(t *testing.T) {
	fields := newTestExtractor().Extract(contractDoc(), contractStrategy())

	assert.Equal(t, "1234,56", fields["valor_mensal"])
}

func TestExtractRuleOrderAndContainment(t *testing.T) {
	strat := contractStrategy()
	strat.Fields["numero_instalacao"] = []strategy.Rule{
		{Anchor: "Unidade Consumidora", Pattern: `(\d+)`}, // anchor absent
		{Pattern: `([`},                                   // does not compile
		{Anchor: "Instalação", Pattern: `(\d{5,12})`},     // succeeds
	}

	fields := newTestExtractor().Extract(contractDoc(), strat)
	assert.Equal(t, "30112345", fields["numero_instalacao"])
}

func TestExtractAbsentFieldStaysAbsent(t *testing.T) {
	strat := contractStrategy()
	strat.Fields["potencia_contratada"] = []strategy.Rule{
		{Anchor: "Potência", Pattern: `([\d.,]+)\s*kWp`},
	}

	fields := newTestExtractor().Extract(contractDoc(), strat)
	_, present := fields["potencia_contratada"]
	assert.False(t, present, "a field with no match must be absent, never guessed")
}

func TestExtractAnchorLimitsWindow(t *testing.T) {
	// The only digits sit far beyond the anchor window; the rule must miss.
	filler := strings.Repeat("x", 700)
	doc := pdfio.NewDocumentFromText("a.pdf", []string{"Instalação " + filler + " 30112345"})

	strat := &strategy.Strategy{
		Issuer:          "CEMIG",
		TargetPageCount: 1,
		Fields: map[string][]strategy.Rule{
			"numero_instalacao": {{Anchor: "Instalação", Pattern: `(\d{5,12})`}},
		},
	}

	fields := newTestExtractor().Extract(doc, strat)
	assert.Empty(t, fields["numero_instalacao"])
}

func TestExtractTableFallbackForRequiredFields(t *testing.T) {
	// Two-column layout: labels on the left, values 200pt to the right.
	row := func(y float64, label, value string) []pdfio.TextElement {
		return []pdfio.TextElement{
			{Text: label, X: 50, Y: y, W: 120, H: 12},
			{Text: value, X: 300, Y: y, W: 100, H: 12},
		}
	}
	var elements []pdfio.TextElement
	elements = append(elements, row(700, "Instalação", "30112345")...)
	elements = append(elements, row(680, "CNPJ", "11.222.333/0001-81")...)
	elements = append(elements, row(660, "Endereço", "Rua A, 10")...)
	doc := pdfio.NewDocumentFromElements("tabular.pdf", [][]pdfio.TextElement{elements})

	strat := &strategy.Strategy{
		Issuer:          "CEMIG",
		TargetPageCount: 1,
		Fields: map[string][]strategy.Rule{
			// Rules that miss on purpose: the grid pass must recover both.
			"numero_instalacao": {{Anchor: "Unidade Consumidora", Pattern: `(\d+)`}},
			"cnpj_cliente":      {{Pattern: `CNPJ do contratante:\s*(\S+)`}},
		},
	}

	fields := newTestExtractor().Extract(doc, strat)
	assert.Equal(t, "30112345", fields["numero_instalacao"])
	assert.Equal(t, "11.222.333/0001-81", fields["cnpj_cliente"])
}

type stubOCR struct {
	pages map[int]string
	calls []int
	err   error
}

func (s *stubOCR) PageText(_ context.Context, _ string, page int) (string, error) {
	s.calls = append(s.calls, page)
	if s.err != nil {
		return "", s.err
	}
	return s.pages[page], nil
}

func TestRunEscalatesToOCRForEmptyPages(t *testing.T) {
	doc := pdfio.NewDocumentFromText("scanned.pdf", []string{
		"CONTRATO DE FORNECIMENTO DE ENERGIA — condições gerais do instrumento.",
		"", // image-only page
	})
	ocr := &stubOCR{pages: map[int]string{2: "Instalação nº 30112345\nCNPJ: 11.222.333/0001-81"}}

	out := newTestExtractor(WithOCR(ocr)).Run(context.Background(), doc, contractStrategy())

	assert.Equal(t, []int{2}, ocr.calls, "only the near-empty page is recognized")
	assert.Equal(t, []int{2}, out.OCRPages)
	assert.Equal(t, "30112345", out.Fields["numero_instalacao"])
}

func TestRunOCRFailureSkipsPage(t *testing.T) {
	doc := pdfio.NewDocumentFromText("scanned.pdf", []string{""})
	ocr := &stubOCR{err: errors.New("tesseract timed out")}

	out := newTestExtractor(WithOCR(ocr)).Run(context.Background(), doc, contractStrategy())

	assert.Empty(t, out.OCRPages)
	assert.Empty(t, out.Fields)
}

type stubCompleter struct {
	missing []string
	fields  map[string]string
	err     error
	calls   int
}

func (s *stubCompleter) TryComplete(_ context.Context, _ string, missing []string) (map[string]string, error) {
	s.calls++
	s.missing = missing
	return s.fields, s.err
}

func TestRunEscalatesToCompleterWhenSparse(t *testing.T) {
	completer := &stubCompleter{fields: map[string]string{
		"cnpj_cliente": "11.222.333/0001-81",
		"valor_mensal": "1.234,56",
	}}
	doc := pdfio.NewDocumentFromText("sparse.pdf", []string{
		"Instalação nº 30112345 — demais condições ilegíveis no original digitalizado.",
	})

	out := newTestExtractor(WithCompleter(completer, 3)).Run(context.Background(), doc, contractStrategy())

	require.Equal(t, 1, completer.calls)
	assert.NotContains(t, completer.missing, "numero_instalacao", "present fields are not requested")
	assert.Equal(t, "11.222.333/0001-81", out.Fields["cnpj_cliente"])
	assert.Equal(t, "1234,56", out.Fields["valor_mensal"], "completed money fields are normalized")
	assert.Equal(t, []string{"cnpj_cliente", "valor_mensal"}, out.LLMFilled)
}

func TestRunSkipsCompleterWhenEnoughFields(t *testing.T) {
	completer := &stubCompleter{}

	out := newTestExtractor(WithCompleter(completer, 3)).Run(context.Background(), contractDoc(), contractStrategy())

	assert.Zero(t, completer.calls)
	assert.Len(t, out.Fields, 3)
}

func TestRunCompleterNeverOverwrites(t *testing.T) {
	completer := &stubCompleter{fields: map[string]string{
		"numero_instalacao": "99999999",
		"cnpj_cliente":      "11.222.333/0001-81",
	}}
	doc := pdfio.NewDocumentFromText("sparse.pdf", []string{"Instalação nº 30112345"})

	out := newTestExtractor(WithCompleter(completer, 3)).Run(context.Background(), doc, contractStrategy())

	assert.Equal(t, "30112345", out.Fields["numero_instalacao"])
}

func TestRunCompleterFailureIsContained(t *testing.T) {
	completer := &stubCompleter{err: fmt.Errorf("daily budget exhausted")}
	doc := pdfio.NewDocumentFromText("sparse.pdf", []string{"Instalação nº 30112345"})

	out := newTestExtractor(WithCompleter(completer, 3)).Run(context.Background(), doc, contractStrategy())

	assert.Equal(t, "30112345", out.Fields["numero_instalacao"])
	assert.Empty(t, out.LLMFilled)
}
