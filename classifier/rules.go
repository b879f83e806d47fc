package classifier

import (
	"strings"

	"github.com/aluiziolira/civic-crawler/models"
	"github.com/aluiziolira/civic-crawler/parser"
)

// Rule recognises one content category from URL, title and body keywords.
type Rule struct {
	Category      models.Category
	PathHints     []string
	TitleKeywords []string
	BodyKeywords  []string
	Subcategories []Subcategory
}

// Subcategory refines a category when any of its keywords appear.
type Subcategory struct {
	Name     string
	Keywords []string
}

// Score is the weighted hit count of the rule against s: a path hint is
// worth 3, each title keyword 2 and each distinct body keyword 1.
func (r Rule) Score(s Signals) int {
	score := 0
	if parser.ContainsAny(s.Path, r.PathHints...) {
		score += 3
	}
	score += 2 * parser.CountAny(s.Title, r.TitleKeywords...)
	score += parser.CountAny(s.Text, r.BodyKeywords...)
	return score
}

// Subcategory returns the first subcategory whose keyword appears in the
// path, title or body.
func (r Rule) Subcategory(s Signals) string {
	for _, sub := range r.Subcategories {
		for _, kw := range sub.Keywords {
			if strings.Contains(s.Path, strings.ReplaceAll(kw, " ", "-")) || strings.Contains(s.Title, kw) || strings.Contains(s.Text, kw) {
				return sub.Name
			}
		}
	}
	return ""
}

var transparencyRule = Rule{
	Category:      models.CategoryTransparency,
	PathHints:     []string{"/transparency", "/foi", "/freedom-of-information", "/open-data", "/opendata"},
	TitleKeywords: []string{"transparency", "freedom of information", "open data"},
	BodyKeywords:  []string{"transparency code", "freedom of information", "foi request", "senior salaries", "contracts register", "open data", "publication scheme"},
	Subcategories: []Subcategory{
		{Name: "foi", Keywords: []string{"freedom of information", "foi"}},
		{Name: "contracts", Keywords: []string{"contracts register", "contract"}},
		{Name: "salaries", Keywords: []string{"salaries", "pay policy"}},
	},
}

var financeRule = Rule{
	Category:      models.CategoryFinance,
	PathHints:     []string{"/budget", "/finance", "/spending", "/council-tax", "/accounts", "/payments-over"},
	TitleKeywords: []string{"budget", "spending", "council tax", "accounts", "expenditure"},
	BodyKeywords:  []string{"budget", "expenditure", "spending", "council tax", "statement of accounts", "revenue", "capital programme", "payments over £500"},
	Subcategories: []Subcategory{
		{Name: "budget", Keywords: []string{"budget"}},
		{Name: "council-tax", Keywords: []string{"council tax"}},
		{Name: "spending", Keywords: []string{"payments over", "spending", "expenditure"}},
		{Name: "accounts", Keywords: []string{"statement of accounts", "accounts"}},
	},
}

var meetingRule = Rule{
	Category:      models.CategoryMeeting,
	PathHints:     []string{"/meeting", "/committee", "/agenda", "/minutes", "/mgcommittee", "/ieListDocuments", "/democracy"},
	TitleKeywords: []string{"meeting", "committee", "agenda", "minutes", "cabinet"},
	BodyKeywords:  []string{"agenda", "minutes", "committee", "apologies", "declarations of interest", "councillor", "chair", "meeting"},
	Subcategories: []Subcategory{
		{Name: "agenda", Keywords: []string{"agenda"}},
		{Name: "minutes", Keywords: []string{"minutes"}},
		{Name: "committee", Keywords: []string{"committee", "cabinet"}},
	},
}

var planningRule = Rule{
	Category:      models.CategoryPlanning,
	PathHints:     []string{"/planning", "/development-control", "/building-control", "/local-plan"},
	TitleKeywords: []string{"planning", "application", "local plan", "development"},
	BodyKeywords:  []string{"planning application", "planning permission", "application reference", "appeal", "local plan", "listed building", "conservation area", "decision notice"},
	Subcategories: []Subcategory{
		{Name: "application", Keywords: []string{"planning application", "application reference"}},
		{Name: "appeal", Keywords: []string{"appeal"}},
		{Name: "policy", Keywords: []string{"local plan", "planning policy"}},
	},
}

var consultationRule = Rule{
	Category:      models.CategoryConsultation,
	PathHints:     []string{"/consultation", "/have-your-say", "/engagement", "/survey"},
	TitleKeywords: []string{"consultation", "have your say", "survey"},
	BodyKeywords:  []string{"consultation", "have your say", "closing date", "respond", "feedback", "survey"},
	Subcategories: []Subcategory{
		{Name: "closed", Keywords: []string{"consultation has closed", "closed consultation"}},
		{Name: "open", Keywords: []string{"closing date", "have your say"}},
	},
}

var serviceRule = Rule{
	Category:      models.CategoryService,
	PathHints:     []string{"/bins", "/waste", "/recycling", "/parking", "/housing", "/benefits", "/apply", "/report", "/schools", "/libraries", "/services"},
	TitleKeywords: []string{"apply", "report", "bins", "parking", "housing", "benefits", "recycling"},
	BodyKeywords:  []string{"apply online", "report it", "bin collection", "parking permit", "housing", "benefits", "recycling", "opening hours", "contact us"},
	Subcategories: []Subcategory{
		{Name: "waste", Keywords: []string{"bin", "waste", "recycling"}},
		{Name: "parking", Keywords: []string{"parking"}},
		{Name: "housing", Keywords: []string{"housing"}},
		{Name: "benefits", Keywords: []string{"benefit"}},
	},
}

var documentRule = Rule{
	Category:      models.CategoryDocument,
	PathHints:     []string{"/documents", "/downloads", "/publications", "/reports", ".pdf", ".docx", ".xlsx", ".csv"},
	TitleKeywords: []string{"report", "strategy", "policy", "publication", "document"},
	BodyKeywords:  []string{"download", "pdf", "publication", "strategy", "policy document", "annual report"},
	Subcategories: []Subcategory{
		{Name: "report", Keywords: []string{"annual report", "report"}},
		{Name: "policy", Keywords: []string{"policy", "strategy"}},
	},
}

// Rules is the classification cascade. Earlier rules win ties.
var Rules = []Rule{
	transparencyRule,
	financeRule,
	meetingRule,
	planningRule,
	consultationRule,
	serviceRule,
	documentRule,
}

// minRuleScore is the lowest score that counts as a match.
const minRuleScore = 3

// Classification is the result of running the rule cascade.
type Classification struct {
	Category    models.Category
	Subcategory string
	Score       int
}

// Classify runs the rule cascade over s, falling back to other.
func Classify(s Signals) Classification {
	if !s.HTML && isDocumentPath(s.Path) {
		return Classification{Category: models.CategoryDocument, Subcategory: documentRule.Subcategory(s), Score: minRuleScore}
	}
	best := Classification{Category: models.CategoryOther}
	for _, r := range Rules {
		score := r.Score(s)
		if score >= minRuleScore && score > best.Score {
			best = Classification{Category: r.Category, Subcategory: r.Subcategory(s), Score: score}
		}
	}
	return best
}

// CategoryFromURL guesses a category from a URL path alone. It is used to
// label discovered links before they are fetched.
func CategoryFromURL(path string, fallback models.Category) models.Category {
	path = strings.ToLower(path)
	for _, r := range Rules {
		if parser.ContainsAny(path, r.PathHints...) {
			return r.Category
		}
	}
	return fallback
}

func isDocumentPath(path string) bool {
	for _, ext := range []string{".pdf", ".doc", ".docx", ".xls", ".xlsx", ".csv", ".odt", ".ods", ".rtf"} {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	return false
}
