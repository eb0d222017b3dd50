package extract

import (
	"regexp"
	"sort"
	"strings"

	"github.com/contratta/contratta/internal/pdfio"
	"github.com/contratta/contratta/internal/validate"
)

// Code is one installation code surviving the noise filter, with the pages
// it appeared on.
type Code struct {
	Value string
	Pages []int
}

// MultiResult is the outcome of the multi-installation sweep.
type MultiResult struct {
	Codes      []Code
	Confidence float64
	PagesSwept int // pages that passed the topical gate
}

// Multi reports whether the document covers more than one installation.
func (r MultiResult) Multi() bool { return len(r.Codes) > 1 }

// topicalKeywords gate the sweep: only pages talking about installations,
// annexes or listings are scanned, so clause numbering in the legal body
// never becomes a candidate.
var topicalKeywords = []string{
	"instala", "unidade", "código", "codigo", "anexo", "tabela", "lista", "relação", "relacao", "uc",
}

var (
	// The token bound is generous on purpose: a formatted CNPJ spans 18
	// characters and must reach the noise chain whole to be recognized.
	labelledCodePattern = regexp.MustCompile(
		`(?i)(?:instala[çc][ãa]o|unidade(?:\s+consumidora)?|uc|c[óo]digo)\s*(?:n[ºo°.]?\s*)?[:\-]?\s*(\d[\d.\-/]{2,20}\d)`)
	listItemPattern  = regexp.MustCompile(`(?m)^\s*(?:[-•*]|\d{1,2}[.)])\s*(\d[\d.\-/]{2,20}\d)\s*(?:[-–—].*)?$`)
	plainCodePattern = regexp.MustCompile(`\b(\d{5,12})\b`)
)

// ExtractAll sweeps the document for installation codes: topical pages only,
// layered patterns from most to least specific, every candidate screened by
// the noise chain, duplicates collapsed by digit string in first-seen order.
func (e *Extractor) ExtractAll(doc *pdfio.Document) MultiResult {
	var result MultiResult

	type seenCode struct {
		value string
		pages map[int]bool
	}
	order := []string{}
	seen := map[string]*seenCode{}

	for page := 1; page <= doc.PagesRead(); page++ {
		text := doc.PageText(page)
		if !topicalPage(text) {
			continue
		}
		result.PagesSwept++
		annexPage := strings.Contains(strings.ToLower(text), "anexo")

		for _, candidate := range pageCandidates(text, annexPage) {
			if e.filter != nil {
				if reason, noisy := e.filter.Classify(candidate); noisy {
					e.logger.Debug("candidate rejected", "page", page, "raw", candidate.Raw, "reason", string(reason))
					continue
				}
			}
			digits := validate.CleanDigits(candidate.Raw)
			entry, ok := seen[digits]
			if !ok {
				entry = &seenCode{value: digits, pages: map[int]bool{}}
				seen[digits] = entry
				order = append(order, digits)
			}
			entry.pages[page] = true
		}
	}

	for _, digits := range order {
		entry := seen[digits]
		pages := make([]int, 0, len(entry.pages))
		for p := range entry.pages {
			pages = append(pages, p)
		}
		sort.Ints(pages)
		result.Codes = append(result.Codes, Code{Value: entry.value, Pages: pages})
	}

	result.Confidence = sweepConfidence(result.Codes)
	return result
}

func topicalPage(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range topicalKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// pageCandidates collects candidates layered by pattern specificity. Plain
// bounded numbers are only trusted on annex pages, where bare listings are
// the norm.
func pageCandidates(text string, annexPage bool) []validate.Candidate {
	var out []validate.Candidate
	add := func(matches [][]string) {
		for _, m := range matches {
			out = append(out, validate.Candidate{Raw: m[1], Context: contextAround(text, m[1])})
		}
	}

	add(labelledCodePattern.FindAllStringSubmatch(text, -1))
	add(listItemPattern.FindAllStringSubmatch(text, -1))
	if annexPage {
		add(plainCodePattern.FindAllStringSubmatch(text, -1))
	}
	return out
}

// contextAround returns the line containing the candidate's first occurrence.
func contextAround(text, raw string) string {
	idx := strings.Index(text, raw)
	if idx < 0 {
		return raw
	}
	start := strings.LastIndexByte(text[:idx], '\n') + 1
	end := strings.IndexByte(text[idx:], '\n')
	if end < 0 {
		end = len(text)
	} else {
		end += idx
	}
	return text[start:end]
}

// sweepConfidence scores the code set: an implausibly large set and wildly
// inconsistent code lengths lower it, repetition across pages raises it.
func sweepConfidence(codes []Code) float64 {
	if len(codes) == 0 {
		return 0
	}

	conf := 1.0
	if len(codes) > 100 {
		conf -= 0.4
	}

	lengths := map[int]int{}
	multiPage := false
	for _, c := range codes {
		lengths[len(c.Value)]++
		if len(c.Pages) > 1 {
			multiPage = true
		}
	}
	dominant := 0
	for _, n := range lengths {
		if n > dominant {
			dominant = n
		}
	}
	if float64(dominant)/float64(len(codes)) < 0.7 {
		conf -= 0.2
	}
	if multiPage {
		conf += 0.1
	}

	if conf > 1 {
		conf = 1
	}
	if conf < 0 {
		conf = 0
	}
	return conf
}
