package classifier

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aluiziolira/civic-crawler/config"
	"github.com/aluiziolira/civic-crawler/models"
	"github.com/aluiziolira/civic-crawler/parser"
)

// Analyzer reads pages into Signals and derives analyses and scores from
// them. Signals are cached by URL and content hash, so analysing and then
// scoring the same fetch parses the page once.
type Analyzer struct {
	cache      *lru.Cache[string, Signals]
	thresholds map[models.Category]int
	now        func() time.Time
}

// NewAnalyzer builds an Analyzer from the crawl configuration.
func NewAnalyzer(cfg *config.Config) (*Analyzer, error) {
	size := cfg.AnalysisCacheSize
	if size <= 0 {
		size = 128
	}
	cache, err := lru.New[string, Signals](size)
	if err != nil {
		return nil, fmt.Errorf("analysis cache: %w", err)
	}
	thresholds := config.DefaultQualityThresholds()
	for c, v := range cfg.QualityThresholds {
		thresholds[c] = v
	}
	return &Analyzer{cache: cache, thresholds: thresholds, now: time.Now}, nil
}

// Inspect returns the Signals for a fetched page.
func (a *Analyzer) Inspect(content []byte, contentType, url string, lastModified time.Time) (Signals, error) {
	key := cacheKey(content, contentType, url, lastModified)
	if s, ok := a.cache.Get(key); ok {
		return s, nil
	}
	doc, err := parser.NewDocument(content, contentType, url)
	if err != nil {
		return Signals{}, err
	}
	s := ReadSignals(doc, lastModified, a.now())
	a.cache.Add(key, s)
	return s, nil
}

// Analyze classifies content and profiles its structure.
func (a *Analyzer) Analyze(content []byte, contentType, url string) (models.ContentAnalysis, error) {
	s, err := a.Inspect(content, contentType, url, time.Time{})
	if err != nil {
		return models.ContentAnalysis{}, err
	}
	return AnalyzeSignals(s, a.now()), nil
}

// Score computes the quality components of content already analysed as
// analysis, judged as a page of the given category.
func (a *Analyzer) Score(content []byte, contentType, url string, category models.Category, analysis models.ContentAnalysis) (models.QualityScore, error) {
	s, err := a.Inspect(content, contentType, url, time.Time{})
	if err != nil {
		return models.QualityScore{}, err
	}
	return ScoreSignals(s, category, analysis), nil
}

// MeetsThreshold reports whether score passes the gate for category.
func (a *Analyzer) MeetsThreshold(score models.QualityScore, category models.Category) bool {
	return MeetsThreshold(score, category, a.thresholds)
}

// Threshold is the minimum overall score for category.
func (a *Analyzer) Threshold(category models.Category) int {
	if v, ok := a.thresholds[category]; ok {
		return v
	}
	return a.thresholds[models.CategoryOther]
}

// MeetsThreshold compares the overall score with the category minimum,
// falling back to the minimum for other.
func MeetsThreshold(score models.QualityScore, category models.Category, thresholds map[models.Category]int) bool {
	floor, ok := thresholds[category]
	if !ok {
		floor = thresholds[models.CategoryOther]
	}
	return score.Overall() >= floor
}

// AnalyzeSignals derives a ContentAnalysis from s.
func AnalyzeSignals(s Signals, now time.Time) models.ContentAnalysis {
	c := Classify(s)
	return models.ContentAnalysis{
		Category:    c.Category,
		Subcategory: c.Subcategory,
		Title:       s.Title,
		Importance:  Importance(s, c.Category),
		Freshness:   Freshness(s, now),
		Structure:   StructureOf(s),
		Extractable: Extractable(s),
		Keywords:    Keywords(s.Words, 10),
		Complexity:  Complexity(s),
		Confidence:  Confidence(c),
		WordCount:   s.WordCount,
	}
}

var baseImportance = map[models.Category]int{
	models.CategoryFinance:      7,
	models.CategoryTransparency: 7,
	models.CategoryPlanning:     6,
	models.CategoryMeeting:      6,
	models.CategoryConsultation: 6,
	models.CategoryService:      5,
	models.CategoryDocument:     5,
	models.CategoryOther:        3,
}

// Importance rates how valuable a page of this category is, 1-10.
func Importance(s Signals, category models.Category) int {
	v := baseImportance[category]
	if s.Tables > 0 {
		v++
	}
	if s.Amounts >= 3 {
		v++
	}
	if s.Dates >= 3 {
		switch category {
		case models.CategoryMeeting, models.CategoryPlanning, models.CategoryConsultation:
			v++
		}
	}
	if s.WordCount < 80 {
		v -= 2
	}
	return clampInt(v, 1, 10)
}

// Freshness rates the age of the newest date on the page, 1-10. Pages
// without a date get 3.
func Freshness(s Signals, now time.Time) int {
	newest, ok := s.NewestDate()
	if !ok {
		return 3
	}
	age := now.Sub(newest)
	day := 24 * time.Hour
	switch {
	case age <= 7*day:
		return 10
	case age <= 30*day:
		return 9
	case age <= 90*day:
		return 7
	case age <= 180*day:
		return 6
	case age <= 365*day:
		return 5
	case age <= 730*day:
		return 3
	default:
		return 2
	}
}

// StructureOf grades the markup structure of the page.
func StructureOf(s Signals) models.Structure {
	switch {
	case s.Tables > 0 || s.JSONLD > 0:
		return models.StructureStructured
	case s.Lists >= 2 || s.Headings >= 3 || s.Forms > 0:
		return models.StructureSemiStructured
	default:
		return models.StructureUnstructured
	}
}

// Extractable counts the extraction candidates in s.
func Extractable(s Signals) models.ExtractableCounts {
	return models.ExtractableCounts{
		Tables:   s.Tables,
		Forms:    s.Forms,
		Lists:    s.Lists,
		Contacts: s.Contacts(),
		Dates:    s.Dates,
		Amounts:  s.Amounts,
		Links:    s.Links,
	}
}

// Complexity buckets the page by length, one step up for heavy tabular or
// form content.
func Complexity(s Signals) string {
	levels := []string{"low", "medium", "high"}
	i := 0
	switch {
	case s.WordCount >= 1500:
		i = 2
	case s.WordCount >= 300:
		i = 1
	}
	if (s.Tables > 2 || s.Forms > 1) && i < 2 {
		i++
	}
	return levels[i]
}

// Confidence of a classification grows with its rule score.
func Confidence(c Classification) float64 {
	if c.Category == models.CategoryOther {
		return 0.3
	}
	conf := 0.4 + 0.1*float64(c.Score)
	if conf > 0.95 {
		conf = 0.95
	}
	return conf
}

var stopwords = map[string]struct{}{
	"about": {}, "after": {}, "also": {}, "been": {}, "before": {}, "council": {},
	"could": {}, "does": {}, "each": {}, "from": {}, "have": {}, "here": {},
	"into": {}, "more": {}, "most": {}, "only": {}, "other": {}, "page": {},
	"should": {}, "some": {}, "such": {}, "than": {}, "that": {}, "their": {},
	"them": {}, "then": {}, "there": {}, "these": {}, "they": {}, "this": {},
	"those": {}, "very": {}, "were": {}, "what": {}, "when": {}, "where": {},
	"which": {}, "will": {}, "with": {}, "would": {}, "your": {}, "you're": {},
}

// Keywords returns the n most frequent words of four or more letters,
// skipping stopwords. Ties sort alphabetically.
func Keywords(words []string, n int) []string {
	counts := map[string]int{}
	for _, w := range words {
		if len(w) < 4 {
			continue
		}
		if _, err := strconv.Atoi(w); err == nil {
			continue
		}
		if _, stop := stopwords[w]; stop {
			continue
		}
		counts[w]++
	}
	keys := make([]string, 0, len(counts))
	for w := range counts {
		keys = append(keys, w)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if len(keys) > n {
		keys = keys[:n]
	}
	return keys
}

func cacheKey(content []byte, contentType, url string, lastModified time.Time) string {
	h := sha256.New()
	h.Write([]byte(url))
	h.Write([]byte{0})
	h.Write([]byte(contentType))
	h.Write([]byte{0})
	h.Write(content)
	return hex.EncodeToString(h.Sum(nil)) + ":" + strconv.FormatInt(lastModified.Unix(), 10)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
