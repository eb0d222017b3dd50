// Package strategy stores and selects versioned extraction strategies
// ("maps"): named pattern rules, per field, addressable by issuer and page
// count. Strategies are immutable once saved; changed content always
// allocates the next version.
package strategy

import (
	"fmt"
	"regexp"
	"strings"
)

// Subtype tags a strategy (and a document) with the contract flavour it
// applies to. Mismatches are penalized during selection, not excluded, so a
// document always gets some strategy if any exist.
type Subtype string

const (
	SubtypeOrdinary    Subtype = ""
	SubtypeAmendment   Subtype = "aditivo"
	SubtypeTermination Subtype = "rescisao"
)

// Rule is one pattern binding for a field. When Anchor is set, the pattern
// is applied only to the text window following the anchor's first occurrence.
type Rule struct {
	Anchor         string  `json:"ancora,omitempty"`
	Pattern        string  `json:"regex"`
	ConfidenceHint float64 `json:"confianca,omitempty"`
}

// Strategy is one versioned extraction map.
type Strategy struct {
	ModelID         string            `json:"modelo_identificado,omitempty"`
	Issuer          string            `json:"distribuidora_principal"`
	TargetPageCount int               `json:"paginas_analisadas"`
	Version         int               `json:"versao"`
	Subtype         Subtype           `json:"subtipo,omitempty"`
	Fields          map[string][]Rule `json:"campos"`
}

// Key identifies the strategy family this version belongs to. Subtype is
// part of the key so an amendment map never supersedes the ordinary map for
// the same layout.
func (s *Strategy) Key() string {
	return fmt.Sprintf("%s|%d|%s", strings.ToUpper(s.Issuer), s.TargetPageCount, s.Subtype)
}

// Validate rejects strategies that would fail mid-batch: empty field sets,
// missing patterns, patterns that do not compile.
func (s *Strategy) Validate() error {
	if strings.TrimSpace(s.Issuer) == "" {
		return fmt.Errorf("strategy missing issuer")
	}
	if s.TargetPageCount <= 0 {
		return fmt.Errorf("strategy %s: non-positive page count", s.Issuer)
	}
	if len(s.Fields) == 0 {
		return fmt.Errorf("strategy %s/%dp: no fields", s.Issuer, s.TargetPageCount)
	}
	switch s.Subtype {
	case SubtypeOrdinary, SubtypeAmendment, SubtypeTermination:
	default:
		return fmt.Errorf("strategy %s/%dp: unknown subtype %q", s.Issuer, s.TargetPageCount, s.Subtype)
	}

	for field, rules := range s.Fields {
		if len(rules) == 0 {
			return fmt.Errorf("strategy %s/%dp: field %s has no rules", s.Issuer, s.TargetPageCount, field)
		}
		for i, rule := range rules {
			if strings.TrimSpace(rule.Pattern) == "" {
				return fmt.Errorf("strategy %s/%dp: field %s rule %d has an empty pattern",
					s.Issuer, s.TargetPageCount, field, i)
			}
			if _, err := regexp.Compile(rule.Pattern); err != nil {
				return fmt.Errorf("strategy %s/%dp: field %s rule %d: %w",
					s.Issuer, s.TargetPageCount, field, i, err)
			}
		}
	}
	return nil
}

var (
	amendmentKeywords   = []string{"aditivo", "aditamento", "termo aditivo"}
	terminationKeywords = []string{"rescisão", "rescisao", "distrato", "encerramento do contrato"}
)

// DetectSubtype inspects document text once for the contract flavour.
func DetectSubtype(text string) Subtype {
	lower := strings.ToLower(text)
	for _, kw := range terminationKeywords {
		if strings.Contains(lower, kw) {
			return SubtypeTermination
		}
	}
	for _, kw := range amendmentKeywords {
		if strings.Contains(lower, kw) {
			return SubtypeAmendment
		}
	}
	return SubtypeOrdinary
}
