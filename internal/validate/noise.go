package validate

import (
	"regexp"
	"strconv"
	"strings"
)

// NoiseReason identifies which predicate rejected a numeric candidate.
type NoiseReason string

const (
	NoiseNone            NoiseReason = ""
	NoiseTooShort        NoiseReason = "too_short"
	NoiseTooLong         NoiseReason = "too_long"
	NoiseTaxID           NoiseReason = "tax_id"
	NoiseYear            NoiseReason = "year"
	NoiseCorporateSuffix NoiseReason = "corporate_suffix"
	NoisePercentage      NoiseReason = "percentage"
	NoiseCurrency        NoiseReason = "currency"
	NoiseDate            NoiseReason = "date"
	NoiseBoilerplate     NoiseReason = "boilerplate"
)

// Candidate is a numeric string under scrutiny together with the text
// immediately around it, which several predicates need.
type Candidate struct {
	Raw     string
	Context string
}

// NoisePredicate inspects one candidate and either rejects it with a reason
// or passes it along the chain.
type NoisePredicate func(c Candidate) (NoiseReason, bool)

// NoiseFilter is an ordered chain of independent predicates. New exception
// rules are appended to the chain, not merged into existing conditionals.
type NoiseFilter struct {
	chain []NoisePredicate
}

var (
	percentPattern     = regexp.MustCompile(`(?:^|\s)` + `[\d.,]+\s*%`)
	dateShapePattern   = regexp.MustCompile(`^\d{1,2}[/.-]\d{1,2}[/.-]\d{2,4}$`)
	currencyCuePattern = regexp.MustCompile(`(?i)R\$\s*[\d.,]*$`)
	// Branch-office suffix of a corporate registration: /0001-XX tail.
	corporateSuffixPattern = regexp.MustCompile(`0001\d{2}$`)
)

// Known regulatory / process identifiers that show up in every contract of
// the corpus and are never installation codes.
var boilerplateIdentifiers = []string{
	"48500",  // federal energy agency process prefix
	"414201", // standard tariff resolution
}

// NewNoiseFilter builds the default predicate chain for installation-code
// candidates. minDigits/maxDigits bound the plausible code length.
func NewNoiseFilter(minDigits, maxDigits int) *NoiseFilter {
	f := &NoiseFilter{}

	f.Append(func(c Candidate) (NoiseReason, bool) {
		if len(CleanDigits(c.Raw)) < minDigits {
			return NoiseTooShort, true
		}
		return NoiseNone, false
	})
	f.Append(func(c Candidate) (NoiseReason, bool) {
		if len(CleanDigits(c.Raw)) > maxDigits {
			return NoiseTooLong, true
		}
		return NoiseNone, false
	})
	// A checksum-valid tax id is a party identifier, not an installation code.
	f.Append(func(c Candidate) (NoiseReason, bool) {
		if TaxID(c.Raw) {
			return NoiseTaxID, true
		}
		return NoiseNone, false
	})
	f.Append(func(c Candidate) (NoiseReason, bool) {
		digits := CleanDigits(c.Raw)
		if len(digits) == 4 {
			if n, err := strconv.Atoi(digits); err == nil && PlausibleYear(n) {
				return NoiseYear, true
			}
		}
		return NoiseNone, false
	})
	f.Append(func(c Candidate) (NoiseReason, bool) {
		digits := CleanDigits(c.Raw)
		if len(digits) >= 8 && corporateSuffixPattern.MatchString(digits) {
			return NoiseCorporateSuffix, true
		}
		return NoiseNone, false
	})
	f.Append(func(c Candidate) (NoiseReason, bool) {
		if percentPattern.MatchString(c.Raw + inlineContext(c)) {
			return NoisePercentage, true
		}
		return NoiseNone, false
	})
	f.Append(func(c Candidate) (NoiseReason, bool) {
		if currencyCuePattern.MatchString(beforeCandidate(c)) {
			return NoiseCurrency, true
		}
		return NoiseNone, false
	})
	f.Append(func(c Candidate) (NoiseReason, bool) {
		if dateShapePattern.MatchString(strings.TrimSpace(c.Raw)) {
			return NoiseDate, true
		}
		return NoiseNone, false
	})
	f.Append(func(c Candidate) (NoiseReason, bool) {
		digits := CleanDigits(c.Raw)
		for _, known := range boilerplateIdentifiers {
			if strings.HasPrefix(digits, known) {
				return NoiseBoilerplate, true
			}
		}
		return NoiseNone, false
	})

	return f
}

// Append adds a predicate to the end of the chain.
func (f *NoiseFilter) Append(p NoisePredicate) {
	f.chain = append(f.chain, p)
}

// Classify runs the chain in order. The first rejecting predicate wins.
func (f *NoiseFilter) Classify(c Candidate) (NoiseReason, bool) {
	for _, p := range f.chain {
		if reason, noisy := p(c); noisy {
			return reason, true
		}
	}
	return NoiseNone, false
}

// inlineContext returns the candidate together with the text right after it,
// so a trailing percent sign in the source line is visible to predicates.
func inlineContext(c Candidate) string {
	idx := strings.Index(c.Context, c.Raw)
	if idx < 0 {
		return ""
	}
	after := c.Context[idx+len(c.Raw):]
	if len(after) > 4 {
		after = after[:4]
	}
	return after
}

func beforeCandidate(c Candidate) string {
	idx := strings.Index(c.Context, c.Raw)
	if idx < 0 {
		return ""
	}
	start := idx - 6
	if start < 0 {
		start = 0
	}
	return c.Context[start:idx]
}
