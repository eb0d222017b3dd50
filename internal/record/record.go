// Package record turns extracted fields into the engine's output unit: one
// validated, scored record per installation, with explicit alerts for
// everything a reviewer should look at.
package record

import (
	"fmt"
	"sort"
)

// AlertType classifies a validation finding.
type AlertType string

const (
	AlertMissingInDoc      AlertType = "MISSING_IN_DOC"
	AlertInvalidFormat     AlertType = "INVALID_FORMAT"
	AlertMathInconsistency AlertType = "MATH_INCONSISTENCY"
	AlertExtractionFailed  AlertType = "EXTRACTION_FAILED"
)

// Alert is one validation finding attached to a record.
type Alert struct {
	Type   AlertType `json:"tipo"`
	Field  string    `json:"campo,omitempty"`
	Detail string    `json:"detalhe,omitempty"`
}

// Record is the output for one installation of one document.
type Record struct {
	Fields            map[string]string `json:"campos"`
	ArquivoOrigem     string            `json:"arquivo_origem"`
	StrategyUsed      string            `json:"estrategia_utilizada,omitempty"`
	FieldsExtracted   int               `json:"campos_extraidos"`
	Confidence        int               `json:"confianca"`
	Alerts            []Alert           `json:"alertas,omitempty"`
	MultiInstallation bool              `json:"multiplas_instalacoes"`
	Installation      string            `json:"instalacao,omitempty"`
	NeedsReview       bool              `json:"revisao_manual"`
}

// AddAlert appends a finding. Identical findings are collapsed.
func (r *Record) AddAlert(t AlertType, field, detail string) {
	for _, a := range r.Alerts {
		if a.Type == t && a.Field == field {
			return
		}
	}
	r.Alerts = append(r.Alerts, Alert{Type: t, Field: field, Detail: detail})
}

// StrategyRef renders the strategy identity stored on records.
func StrategyRef(issuer string, pages, version int) string {
	return fmt.Sprintf("%s/%dp/v%d", issuer, pages, version)
}

// Assemble expands one document's extraction into records. With two or more
// installations, each gets a record inheriting the shared fields and its own
// installation code; otherwise the document yields a single record.
func Assemble(base map[string]string, source, strategyRef string, installations []string) []*Record {
	build := func() *Record {
		fields := make(map[string]string, len(base))
		for k, v := range base {
			if v != "" {
				fields[k] = v
			}
		}
		return &Record{
			Fields:        fields,
			ArquivoOrigem: source,
			StrategyUsed:  strategyRef,
		}
	}

	if len(installations) < 2 {
		r := build()
		if len(installations) == 1 {
			r.Fields["numero_instalacao"] = installations[0]
			r.Installation = installations[0]
		}
		r.FieldsExtracted = len(r.Fields)
		return []*Record{r}
	}

	records := make([]*Record, 0, len(installations))
	for _, code := range installations {
		r := build()
		r.Fields["numero_instalacao"] = code
		r.Installation = code
		r.MultiInstallation = true
		r.FieldsExtracted = len(r.Fields)
		records = append(records, r)
	}
	return records
}

// FieldNames returns the record's field names sorted, for stable output.
func (r *Record) FieldNames() []string {
	names := make([]string, 0, len(r.Fields))
	for name := range r.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
