package strategy

import (
	"errors"
	"sort"
	"strings"
)

// ErrNoStrategy means the store holds nothing usable for the document. The
// caller falls back to discovery extraction and may save the result as the
// first strategy for this layout.
var ErrNoStrategy = errors.New("no extraction strategy available")

const (
	issuerMatchScore    = 500
	exactPageScore      = 100
	pageDistancePenalty = 10
	subtypeMatchBonus   = 50
	subtypeMismatch     = 1000
)

// Selection is the outcome of strategy resolution for one document.
type Selection struct {
	Strategy *Strategy
	Subtype  Subtype // subtype detected on the document
	Exact    bool    // issuer and page count both matched
	PageDiff int
}

// Select resolves the best strategy for a document. Exact issuer and page
// count wins; otherwise the same issuer with the closest page count; a
// strategy tagged with a different contract subtype is heavily penalized but
// never excluded, so a lone mismatched map still beats having none.
func (s *Store) Select(issuer string, pageCount int, docText string) (*Selection, error) {
	docSubtype := DetectSubtype(docText)
	issuer = strings.ToUpper(strings.TrimSpace(issuer))

	var (
		best      *Strategy
		bestScore int
	)
	for _, st := range s.latestPerKey() {
		score := 0
		if st.Issuer == issuer {
			score += issuerMatchScore
		}

		diff := st.TargetPageCount - pageCount
		if diff < 0 {
			diff = -diff
		}
		if diff == 0 {
			score += exactPageScore
		} else {
			score -= diff * pageDistancePenalty
		}

		switch {
		case st.Subtype == SubtypeOrdinary:
			// Untagged maps are the generic fallback; no adjustment.
		case st.Subtype == docSubtype:
			score += subtypeMatchBonus
		default:
			score -= subtypeMismatch
		}

		switch {
		case best == nil || score > bestScore:
			best, bestScore = st, score
		case score == bestScore && st.TargetPageCount < best.TargetPageCount:
			// Equidistant page counts: the shorter layout wins, so the
			// pick is stable across runs.
			best = st
		}
	}

	if best == nil {
		return nil, ErrNoStrategy
	}

	diff := best.TargetPageCount - pageCount
	if diff < 0 {
		diff = -diff
	}
	return &Selection{
		Strategy: best,
		Subtype:  docSubtype,
		Exact:    best.Issuer == issuer && diff == 0,
		PageDiff: diff,
	}, nil
}

// latestPerKey reduces the loaded versions to the newest per issuer and page
// count; selection never resurrects a superseded version.
func (s *Store) latestPerKey() []*Strategy {
	s.mu.RLock()
	defer s.mu.RUnlock()

	latest := make(map[string]*Strategy)
	for _, st := range s.strategies {
		if cur, ok := latest[st.Key()]; !ok || st.Version > cur.Version {
			latest[st.Key()] = st
		}
	}
	out := make([]*Strategy, 0, len(latest))
	for _, st := range latest {
		out = append(out, st)
	}
	// Map order is random; candidates are compared in a fixed order so
	// remaining ties resolve the same way every run.
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}
