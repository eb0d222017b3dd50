package batch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contratta/contratta/internal/pdfio"
	"github.com/contratta/contratta/internal/strategy"
)

func TestDiscoveryStrategyIsValid(t *testing.T) {
	st := discoveryStrategy("CEMIG", 9, "abc123")
	assert.NoError(t, st.Validate())

	st = discoveryStrategy("", 3, "")
	assert.NoError(t, st.Validate(), "unknown issuers still get usable discovery patterns")
}

func TestSelectStrategySavesDiscoveryOnce(t *testing.T) {
	cfg := testConfig(t)
	p := testProcessor(t, cfg)
	doc := pdfio.NewDocumentFromText("novo.pdf", []string{
		"CONTRATO DE FORNECIMENTO\nInstalação nº 30112345",
		"Cláusulas gerais.",
	})

	first, err := p.selectStrategy("CEMIG", doc, "model1")
	require.NoError(t, err)
	assert.Equal(t, 1, first.Version, "unmapped layout gets discovery patterns as v1")
	assert.Equal(t, 1, p.store.Len())

	// The same layout again resolves the stored strategy, no new version.
	second, err := p.selectStrategy("CEMIG", doc, "model1")
	require.NoError(t, err)
	assert.Equal(t, 1, second.Version)
	assert.Equal(t, 1, p.store.Len())
}

func TestSelectStrategyPrefersStoredOverDiscovery(t *testing.T) {
	cfg := testConfig(t)
	p := testProcessor(t, cfg)

	curated := &strategy.Strategy{
		Issuer:          "CEMIG",
		TargetPageCount: 2,
		Fields: map[string][]strategy.Rule{
			"numero_instalacao": {{Anchor: "Instalação", Pattern: `(\d{5,12})`}},
		},
	}
	_, err := p.store.Save(curated)
	require.NoError(t, err)

	doc := pdfio.NewDocumentFromText("conhecido.pdf", []string{"página um", "página dois"})
	st, err := p.selectStrategy("CEMIG", doc, "")
	require.NoError(t, err)
	assert.Len(t, st.Fields, 1, "the curated map wins over discovery")
}
