package analysis

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/newsprism/backend/internal/pipeline"
	"github.com/newsprism/backend/internal/storage/models"
)

const systemPrompt = "You are a geopolitical news analyst specializing in comparative media analysis. Always respond with valid JSON."

const responseFormat = `{
  "topic_title": "A concise 3-6 word topic title/tag",
  "aggregate_summary": "A comprehensive 2-3 sentence summary of the overall topic/event",
  "source_perspectives": [
    {
      "source_name": "Source name",
      "source_category": "Category (e.g., 'Iran-Specific', 'General')",
      "source_country": "Country",
      "perspective_summary": "How this source presents the topic (2-3 sentences)",
      "key_themes": ["theme1", "theme2", "theme3"],
      "sentiment": "positive/negative/neutral"
    }
  ]
}`

// articleUnit is the per-article text handed to the model.
type articleUnit struct {
	ID      string
	Title   string
	Source  string
	Content string
}

func buildPrompt(units []articleUnit) string {
	var b strings.Builder
	b.WriteString("You are a geopolitical news analyst. Analyze the following articles about the same topic from different news sources and provide a comparative analysis.\n\n")
	b.WriteString("Articles:\n")
	for i, u := range units {
		fmt.Fprintf(&b, "\n%d. **%s**\n   Source: %s\n   Content: %s\n", i+1, u.Title, u.Source, u.Content)
	}
	b.WriteString("\nPlease provide your analysis in the following JSON format:\n")
	b.WriteString(responseFormat)
	b.WriteString("\n\nFocus on identifying different perspectives, biases, emphasis, and framing between sources, especially between Iranian state media vs Western/international sources.\n")
	return b.String()
}

type modelPerspective struct {
	SourceName         string   `json:"source_name"`
	SourceCategory     string   `json:"source_category"`
	SourceCountry      string   `json:"source_country"`
	PerspectiveSummary string   `json:"perspective_summary"`
	KeyThemes          []string `json:"key_themes"`
	Sentiment          string   `json:"sentiment"`
}

type modelResponse struct {
	TopicTitle         string             `json:"topic_title"`
	AggregateSummary   string             `json:"aggregate_summary"`
	SourcePerspectives []modelPerspective `json:"source_perspectives"`
}

func cleanJSONResponse(content string) string {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start >= 0 && end > start {
		content = content[start : end+1]
	}
	return content
}

func normalizeSentiment(s string) models.Sentiment {
	switch models.Sentiment(strings.ToLower(strings.TrimSpace(s))) {
	case models.SentimentPositive:
		return models.SentimentPositive
	case models.SentimentNegative:
		return models.SentimentNegative
	}
	return models.SentimentNeutral
}

// matchSource maps a source name echoed by the model onto the cluster's own
// spelling, ignoring case and runs of whitespace. Unknown names are returned
// trimmed with a zero count.
func matchSource(raw string, sourceCounts map[string]int) (string, int) {
	name := strings.Join(strings.Fields(raw), " ")
	if n, ok := sourceCounts[name]; ok {
		return name, n
	}
	for known, n := range sourceCounts {
		if strings.EqualFold(strings.Join(strings.Fields(known), " "), name) {
			return known, n
		}
	}
	return name, 0
}

// parseResponse validates the model output. Missing required fields are a
// ParseError; an unknown sentiment defaults to neutral. sourceCounts supplies
// the per-source article counts the model is not asked for.
func parseResponse(content string, sourceCounts map[string]int) (*modelResponse, []models.SourcePerspective, error) {
	var resp modelResponse
	if err := json.Unmarshal([]byte(cleanJSONResponse(content)), &resp); err != nil {
		return nil, nil, &pipeline.ParseError{What: "analysis response", Err: err}
	}

	resp.TopicTitle = strings.TrimSpace(resp.TopicTitle)
	resp.AggregateSummary = strings.TrimSpace(resp.AggregateSummary)
	switch {
	case resp.TopicTitle == "":
		return nil, nil, &pipeline.ParseError{What: "analysis response", Err: fmt.Errorf("missing topic_title")}
	case resp.AggregateSummary == "":
		return nil, nil, &pipeline.ParseError{What: "analysis response", Err: fmt.Errorf("missing aggregate_summary")}
	case len(resp.SourcePerspectives) == 0:
		return nil, nil, &pipeline.ParseError{What: "analysis response", Err: fmt.Errorf("missing source_perspectives")}
	}

	perspectives := make([]models.SourcePerspective, 0, len(resp.SourcePerspectives))
	for _, p := range resp.SourcePerspectives {
		name, count := matchSource(p.SourceName, sourceCounts)
		if name == "" {
			return nil, nil, &pipeline.ParseError{What: "analysis response", Err: fmt.Errorf("perspective without source_name")}
		}
		themes := make([]string, 0, len(p.KeyThemes))
		for _, th := range p.KeyThemes {
			if th = strings.TrimSpace(th); th != "" {
				themes = append(themes, th)
			}
		}
		perspectives = append(perspectives, models.SourcePerspective{
			SourceName:         name,
			SourceCategory:     strings.TrimSpace(p.SourceCategory),
			SourceCountry:      strings.TrimSpace(p.SourceCountry),
			ArticleCount:       count,
			PerspectiveSummary: strings.TrimSpace(p.PerspectiveSummary),
			KeyThemes:          themes,
			Sentiment:          normalizeSentiment(p.Sentiment),
		})
	}

	return &resp, perspectives, nil
}
