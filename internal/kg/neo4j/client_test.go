package neo4j

import (
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"github.com/newsprism/backend/internal/storage/models"
)

func TestAnalysisParams(t *testing.T) {
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	a := &models.ComparativeAnalysis{
		ID:               "an-1",
		TopicID:          "topic-1",
		TopicSummary:     "Nuclear talks resume",
		AggregateSummary: "Talks resumed in Vienna.",
		ArticleIDs:       []string{"a", "b"},
		SourcePerspectives: []models.SourcePerspective{
			{SourceName: "Press TV", SourceCategory: "Iran-Specific", Sentiment: models.SentimentPositive, KeyThemes: []string{"sovereignty"}, ArticleCount: 1},
		},
		AnalysisTimestamp: at,
	}
	refs := map[string]models.ArticleRef{
		"a": {ID: "a", Title: "Talks", Source: "Press TV", Link: "https://presstv.ir/a"},
	}

	params := analysisParams(a, refs)

	assert.Equal(t, "topic-1", params["topic_id"])
	assert.Equal(t, at.Unix(), params["analysed_at"])

	articles := params["articles"].([]any)
	assert.Equal(t, 2, len(articles))
	first := articles[0].(map[string]any)
	assert.Equal(t, "Press TV", first["source"])
	assert.Equal(t, "https://presstv.ir/a", first["link"])
	second := articles[1].(map[string]any)
	assert.Equal(t, "b", second["id"])
	assert.Equal(t, "unknown", second["source"])

	perspectives := params["perspectives"].([]any)
	assert.Equal(t, 1, len(perspectives))
	p := perspectives[0].(map[string]any)
	assert.Equal(t, "positive", p["sentiment"])
	assert.Equal(t, []any{"sovereignty"}, p["key_themes"])
	assert.Equal(t, int64(1), p["article_count"])
}
