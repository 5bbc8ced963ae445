package relevance

import (
	"strings"

	"github.com/newsprism/backend/internal/storage/models"
)

// DefaultURLKeywords is deliberately short; content-level filtering is broader.
var DefaultURLKeywords = []string{
	"iran", "iranian", "tehran", "persian", "khamenei", "raisi", "irgc", "jcpoa",
	"nuclear", "sanctions", "israel-iran", "hezbollah", "houthis",
}

var DefaultContentKeywords = []string{
	"iran", "iranian", "persia", "persian",
	"tehran", "isfahan", "mashhad", "tabriz", "shiraz", "qom", "karaj", "ahvaz",
	"khamenei", "raisi", "rouhani", "ahmadinejad", "khatami", "supreme leader",
	"islamic republic", "majlis", "guardian council", "assembly of experts",
	"irgc", "revolutionary guard", "quds force", "basij", "artesh",
	"iranian military", "iranian forces",
	"jcpoa", "nuclear deal", "iran nuclear", "uranium enrichment", "natanz", "fordow",
	"centrifuge", "heavy water", "arak reactor",
	"iran sanctions", "iranian economy", "oil embargo", "swift ban",
	"iranian rial", "economic pressure",
	"hezbollah", "houthis", "hamas", "axis of resistance", "proxy war",
	"lebanon", "yemen", "syria conflict", "gaza",
	"israel-iran", "iran-israel", "us-iran", "iran-us", "iran-europe",
	"iran-china", "iran-russia",
	"iran protests", "mahsa amini", "women life freedom", "morality police",
	"iranian dissidents", "political prisoners",
	"iranian oil", "persian gulf", "strait of hormuz", "south pars",
	"shia", "shiite", "ayatollah", "mullah", "clerical establishment",
}

type Filter struct {
	urlKeywords     []string
	contentKeywords []string
}

// New builds a filter; empty keyword lists fall back to the defaults.
func New(urlKeywords, contentKeywords []string) *Filter {
	if len(urlKeywords) == 0 {
		urlKeywords = DefaultURLKeywords
	}
	if len(contentKeywords) == 0 {
		contentKeywords = DefaultContentKeywords
	}
	return &Filter{
		urlKeywords:     lowerAll(urlKeywords),
		contentKeywords: lowerAll(contentKeywords),
	}
}

func (f *Filter) URLRelevant(rawURL, category string) bool {
	if category == models.CategoryIranSpecific {
		return true
	}
	return containsAny(strings.ToLower(rawURL), f.urlKeywords)
}

func (f *Filter) ContentRelevant(title, description, content, category string) bool {
	if category == models.CategoryIranSpecific {
		return true
	}
	text := strings.ToLower(title + " " + description + " " + content)
	return containsAny(text, f.contentKeywords)
}

// MatchedKeyword returns the first content keyword found, for logging.
func (f *Filter) MatchedKeyword(text string) (string, bool) {
	lower := strings.ToLower(text)
	for _, k := range f.contentKeywords {
		if strings.Contains(lower, k) {
			return k, true
		}
	}
	return "", false
}

func containsAny(text string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
