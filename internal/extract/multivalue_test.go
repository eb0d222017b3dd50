package extract

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contratta/contratta/internal/pdfio"
)

func codeValues(r MultiResult) []string {
	out := make([]string, len(r.Codes))
	for i, c := range r.Codes {
		out[i] = c.Value
	}
	return out
}

func TestExtractAllFiltersNoiseAndDeduplicates(t *testing.T) {
	// One tax id, one year, one percentage and a process number mixed with
	// three real codes, one of them listed twice.
	doc := pdfio.NewDocumentFromText("anexo.pdf", []string{
		"ANEXO I - RELAÇÃO DE UNIDADES CONSUMIDORAS\n" +
			"- 30112345\n" +
			"- 30112346\n" +
			"- 30112347\n" +
			"- 30112345\n" +
			"Código: 11.222.333/0001-81\n" +
			"Celebrado em 2021\n" +
			"Reajuste anual de 10293847 %\n" +
			"Processo 48500123456",
	})

	result := newTestExtractor().ExtractAll(doc)

	assert.Equal(t, []string{"30112345", "30112346", "30112347"}, codeValues(result))
	assert.True(t, result.Multi())
	assert.Equal(t, 1, result.PagesSwept)
}

func TestExtractAllSkipsNonTopicalPages(t *testing.T) {
	doc := pdfio.NewDocumentFromText("contrato.pdf", []string{
		"Das obrigações das partes. O pagamento ocorre todo dia 10.\n98765432 firmou o presente.",
	})

	result := newTestExtractor().ExtractAll(doc)

	assert.Empty(t, result.Codes, "pages without topical keywords are never swept")
	assert.Zero(t, result.PagesSwept)
}

func TestExtractAllLabelledCodes(t *testing.T) {
	doc := pdfio.NewDocumentFromText("contrato.pdf", []string{
		"Unidade consumidora: 3011234567\nInstalação nº 3011234568",
	})

	result := newTestExtractor().ExtractAll(doc)

	assert.Equal(t, []string{"3011234567", "3011234568"}, codeValues(result))
}

func TestExtractAllPlainNumbersNeedAnnexContext(t *testing.T) {
	// Same bare number on a clause page (topical via "instalação") and on an
	// annex page; only the annex occurrence is trusted.
	doc := pdfio.NewDocumentFromText("contrato.pdf", []string{
		"A instalação objeto deste contrato atende ao disposto.\n77665544 é referido adiante.",
		"ANEXO II\n77665544",
	})

	result := newTestExtractor().ExtractAll(doc)

	require.Len(t, result.Codes, 1)
	assert.Equal(t, "77665544", result.Codes[0].Value)
	assert.Equal(t, []int{2}, result.Codes[0].Pages)
}

func TestExtractAllTracksPageProvenance(t *testing.T) {
	doc := pdfio.NewDocumentFromText("anexo.pdf", []string{
		"ANEXO I\n30112345",
		"ANEXO I (continuação)\n30112345\n30112399",
	})

	result := newTestExtractor().ExtractAll(doc)

	require.Len(t, result.Codes, 2)
	assert.Equal(t, []int{1, 2}, result.Codes[0].Pages)
	assert.Equal(t, []int{2}, result.Codes[1].Pages)
}

func TestSweepConfidenceBounds(t *testing.T) {
	assert.Zero(t, sweepConfidence(nil))

	uniform := []Code{{Value: "30112345"}, {Value: "30112346"}}
	assert.InDelta(t, 1.0, sweepConfidence(uniform), 0.001)

	// An implausibly large set loses confidence.
	var huge []Code
	for i := 0; i < 150; i++ {
		huge = append(huge, Code{Value: fmt.Sprintf("3011%04d", i)})
	}
	assert.Less(t, sweepConfidence(huge), 0.7)

	// Wildly inconsistent lengths lose confidence.
	mixed := []Code{
		{Value: "30112345"}, {Value: "301123"}, {Value: "301123456789"},
	}
	assert.Less(t, sweepConfidence(mixed), 1.0)

	// Repetition across pages earns it back, clamped at 1.
	repeated := []Code{
		{Value: "30112345", Pages: []int{1, 2}},
		{Value: "30112346", Pages: []int{1}},
	}
	assert.InDelta(t, 1.0, sweepConfidence(repeated), 0.001)
}

func TestSingleCodeIsNotMulti(t *testing.T) {
	doc := pdfio.NewDocumentFromText("contrato.pdf", []string{
		"Instalação nº 30112345\n" + strings.Repeat("cláusulas gerais. ", 5),
	})

	result := newTestExtractor().ExtractAll(doc)

	require.Len(t, result.Codes, 1)
	assert.False(t, result.Multi())
}
