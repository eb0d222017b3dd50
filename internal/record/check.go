package record

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/contratta/contratta/internal/validate"
)

// Params tunes validation and scoring. Zero values fall back to the engine
// defaults.
type Params struct {
	RequiredFields  []string
	ImportantFields []string
	MathTolerance   float64
	RequiredPenalty  int
	ImportantPenalty int
	AlertPenalty     int
	AlertPenaltyCap  int
	ReviewThreshold  int
}

func (p Params) withDefaults() Params {
	if p.MathTolerance == 0 {
		p.MathTolerance = 0.05
	}
	if p.RequiredPenalty == 0 {
		p.RequiredPenalty = 30
	}
	if p.ImportantPenalty == 0 {
		p.ImportantPenalty = 10
	}
	if p.AlertPenalty == 0 {
		p.AlertPenalty = 5
	}
	if p.AlertPenaltyCap == 0 {
		p.AlertPenaltyCap = 50
	}
	if p.ReviewThreshold == 0 {
		p.ReviewThreshold = 70
	}
	return p
}

// Validator checks records and computes their confidence. Stateless and safe
// for concurrent use.
type Validator struct {
	params Params
}

func NewValidator(p Params) *Validator {
	return &Validator{params: p.withDefaults()}
}

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// Finalize validates, scores and routes one record, in that order. The
// confidence is always recomputed here; nothing upstream may set it.
func (v *Validator) Finalize(r *Record) {
	v.validateFields(r)
	v.checkMath(r)
	r.Confidence = v.Score(r)
	r.NeedsReview = r.Confidence < v.params.ReviewThreshold || r.MultiInstallation
}

// validateFields flags absent required/important fields and malformed
// present ones.
func (v *Validator) validateFields(r *Record) {
	for _, name := range v.params.RequiredFields {
		if r.Fields[name] == "" {
			r.AddAlert(AlertMissingInDoc, name, "campo obrigatório ausente")
		}
	}
	for _, name := range v.params.ImportantFields {
		if r.Fields[name] == "" {
			r.AddAlert(AlertMissingInDoc, name, "campo importante ausente")
		}
	}

	for name, value := range r.Fields {
		lower := strings.ToLower(name)
		switch {
		case strings.Contains(lower, "cnpj"), strings.Contains(lower, "cpf"):
			if !validate.TaxID(value) {
				r.AddAlert(AlertInvalidFormat, name, fmt.Sprintf("dígito verificador inválido: %s", value))
			}
		case strings.Contains(lower, "email"), strings.Contains(lower, "e-mail"):
			if !emailPattern.MatchString(value) {
				r.AddAlert(AlertInvalidFormat, name, value)
			}
		case isMoneyName(lower):
			if _, err := validate.ParseMoney(value); err != nil {
				r.AddAlert(AlertInvalidFormat, name, value)
			}
		case strings.HasPrefix(lower, "data"):
			v.checkDate(r, name, value)
		}
	}

	v.checkDateOrder(r)
}

func (v *Validator) checkDate(r *Record, name, value string) {
	t, err := validate.ParseDate(value)
	if err != nil {
		r.AddAlert(AlertInvalidFormat, name, value)
		return
	}
	if !validate.PlausibleDate(t) {
		r.AddAlert(AlertInvalidFormat, name, fmt.Sprintf("data fora do intervalo plausível: %s", value))
	}
}

func (v *Validator) checkDateOrder(r *Record) {
	start, end := r.Fields["data_inicio"], r.Fields["data_fim"]
	if start == "" || end == "" {
		return
	}
	st, err1 := validate.ParseDate(start)
	et, err2 := validate.ParseDate(end)
	if err1 != nil || err2 != nil {
		return // already flagged as INVALID_FORMAT
	}
	if !validate.DateOrder(st, et) {
		r.AddAlert(AlertInvalidFormat, "data_fim", "término anterior ao início da vigência")
	}
}

// checkMath verifies monthly value = unit value × quantity within the
// relative tolerance, when all three fields are present and parseable.
func (v *Validator) checkMath(r *Record) {
	monthly, ok1 := v.money(r, "valor_mensal")
	unit, ok2 := v.money(r, "valor_unitario")
	quantity, ok3 := v.money(r, "quantidade")
	if !ok1 || !ok2 || !ok3 || unit*quantity == 0 {
		return
	}

	expected := unit * quantity
	diff := monthly - expected
	if diff < 0 {
		diff = -diff
	}
	if diff/expected > v.params.MathTolerance {
		r.AddAlert(AlertMathInconsistency, "valor_mensal",
			fmt.Sprintf("declarado %s, calculado %s", validate.FormatMoney(monthly), validate.FormatMoney(expected)))
	}
}

func (v *Validator) money(r *Record, name string) (float64, bool) {
	value := r.Fields[name]
	if value == "" {
		return 0, false
	}
	amount, err := validate.ParseMoney(value)
	if err != nil {
		return 0, false
	}
	return amount, true
}

// Score computes the 0-100 confidence. Missing fields are priced by their
// own penalties; their MISSING_IN_DOC alerts are not charged again under the
// per-alert penalty.
func (v *Validator) Score(r *Record) int {
	score := 100

	for _, name := range v.params.RequiredFields {
		if r.Fields[name] == "" {
			score -= v.params.RequiredPenalty
		}
	}
	for _, name := range v.params.ImportantFields {
		if r.Fields[name] == "" {
			score -= v.params.ImportantPenalty
		}
	}

	alertPenalty := 0
	for _, a := range r.Alerts {
		if a.Type == AlertMissingInDoc {
			continue
		}
		alertPenalty += v.params.AlertPenalty
	}
	if alertPenalty > v.params.AlertPenaltyCap {
		alertPenalty = v.params.AlertPenaltyCap
	}
	score -= alertPenalty

	if score < 0 {
		score = 0
	}
	return score
}

func isMoneyName(lower string) bool {
	for _, cue := range []string{"valor", "preco", "preço", "tarifa", "custo"} {
		if strings.Contains(lower, cue) {
			return true
		}
	}
	return false
}
