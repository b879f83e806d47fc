package parser

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/aluiziolira/civic-crawler/models"
)

// ValidateRecord ensures the crawler captured the required fields before a
// record is handed to storage.
func ValidateRecord(r *models.Record) error {
	if r == nil {
		return fmt.Errorf("record is nil")
	}
	if strings.TrimSpace(r.URL) == "" {
		return fmt.Errorf("record missing url")
	}
	if strings.TrimSpace(r.ContentHash) == "" {
		return fmt.Errorf("record missing content hash for %s", r.URL)
	}
	if r.Category == "" {
		return fmt.Errorf("record missing category for %s", r.URL)
	}
	if r.OverallScore != r.Quality.Overall() {
		return fmt.Errorf("record overall score %d does not match components for %s", r.OverallScore, r.URL)
	}
	return nil
}

// NormalizeSpace collapses runs of whitespace into single spaces.
func NormalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Truncate shortens s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// Words splits text into lower-case word tokens.
func Words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

// ContainsAny reports whether s contains any of the substrings.
func ContainsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// CountAny counts how many of the substrings occur in s.
func CountAny(s string, subs ...string) int {
	n := 0
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			n++
		}
	}
	return n
}
