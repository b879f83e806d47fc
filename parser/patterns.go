package parser

import (
	"regexp"
	"strings"
	"time"
)

// Patterns shared by the classifier and the extractors.
var (
	EmailPattern    = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	PhonePattern    = regexp.MustCompile(`(?:\+44\s?\(?0?\)?\s?|\b0)(?:\d{2,4}\)?[\s\-]?\d{3,4}[\s\-]?\d{3,4})\b`)
	PostcodePattern = regexp.MustCompile(`\b(?:[A-Z]{1,2}[0-9][A-Z0-9]?) ?[0-9][A-Z]{2}\b`)
	MoneyPattern    = regexp.MustCompile(`(?i)(?:£|\$|€)\s?\d{1,3}(?:,\d{3})*(?:\.\d{1,2})?(?:\s?(?:k|m|bn|million|billion))?\b`)
	DatePattern     = regexp.MustCompile(`(?i)\b(?:\d{1,2}(?:st|nd|rd|th)?\s+(?:jan|feb|mar|apr|may|jun|jul|aug|sep|sept|oct|nov|dec)[a-z]*\.?\s+\d{4}|\d{4}-\d{2}-\d{2}|\d{1,2}/\d{1,2}/\d{4})\b`)
)

var dateLayouts = []string{
	"2 January 2006",
	"2 Jan 2006",
	"2006-01-02",
	"02/01/2006",
	"2/1/2006",
}

var ordinalSuffix = regexp.MustCompile(`(?i)^(\d{1,2})(?:st|nd|rd|th)\b`)

// ParseDate parses a date matched by DatePattern. UK day-first order is
// assumed for slash dates.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	s = ordinalSuffix.ReplaceAllString(s, "$1")
	s = strings.ReplaceAll(s, ".", "")
	s = strings.Join(strings.Fields(s), " ")
	if fields := strings.Fields(s); len(fields) == 3 {
		fields[1] = titleCase(fields[1])
		if fields[1] == "Sept" {
			fields[1] = "Sep"
		}
		s = strings.Join(fields, " ")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}

// LatestDate returns the most recent parseable date in text that is not
// after now.
func LatestDate(text string, now time.Time) (time.Time, bool) {
	var latest time.Time
	found := false
	for _, m := range DatePattern.FindAllString(text, 200) {
		t, ok := ParseDate(m)
		if !ok || t.After(now) {
			continue
		}
		if !found || t.After(latest) {
			latest = t
			found = true
		}
	}
	return latest, found
}
