package validate

import (
	"fmt"
	"strings"
	"time"
)

// dateLayouts covers the formats seen across the distributor corpus.
var dateLayouts = []string{
	"02/01/2006",
	"02-01-2006",
	"02.01.2006",
	"2006-01-02",
	"02/01/06",
}

var monthNames = map[string]time.Month{
	"janeiro": time.January, "fevereiro": time.February, "março": time.March,
	"marco": time.March, "abril": time.April, "maio": time.May,
	"junho": time.June, "julho": time.July, "agosto": time.August,
	"setembro": time.September, "outubro": time.October,
	"novembro": time.November, "dezembro": time.December,
}

// ParseDate parses a contract date in numeric or written-out form
// ("12 de março de 2021").
func ParseDate(s string) (time.Time, error) {
	cleaned := strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, cleaned); err == nil {
			return t, nil
		}
	}

	// "<day> de <month> de <year>"
	lower := strings.ToLower(cleaned)
	parts := strings.Split(lower, " de ")
	if len(parts) == 3 {
		var day, year int
		if _, err := fmt.Sscanf(strings.TrimSpace(parts[0]), "%d", &day); err == nil {
			if _, err := fmt.Sscanf(strings.TrimSpace(parts[2]), "%d", &year); err == nil {
				if month, ok := monthNames[strings.TrimSpace(parts[1])]; ok {
					return time.Date(year, month, day, 0, 0, 0, 0, time.UTC), nil
				}
			}
		}
	}

	return time.Time{}, fmt.Errorf("unparsable date %q", s)
}

// PlausibleDate reports whether a date is believable for a contract:
// not before 1990 and not more than 15 years in the future.
func PlausibleDate(t time.Time) bool {
	if t.IsZero() {
		return false
	}
	if t.Year() < 1990 {
		return false
	}
	return !t.After(time.Now().AddDate(15, 0, 0))
}

// DateOrder reports whether end follows start.
func DateOrder(start, end time.Time) bool {
	if start.IsZero() || end.IsZero() {
		return false
	}
	return end.After(start)
}

// PlausibleYear reports whether a bare number reads as a calendar year.
func PlausibleYear(n int) bool {
	return n >= 1990 && n <= time.Now().Year()+15
}
