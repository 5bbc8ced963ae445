package zilliz

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestArticleExprEscapesQuotes(t *testing.T) {
	assert.Equal(t, `article_id == "abc"`, articleExpr("abc"))
	assert.Equal(t, `article_id == "a\"b"`, articleExpr(`a"b`))
}

func TestRelatedArticlesKeepsBestScorePerArticle(t *testing.T) {
	matches := []Match{
		{ChunkID: "1", ArticleID: "a", Score: 0.7},
		{ChunkID: "2", ArticleID: "b", Score: 0.9},
		{ChunkID: "3", ArticleID: "a", Score: 0.95},
		{ChunkID: "4", ArticleID: "c", Score: 0.2},
	}

	got := RelatedArticles(matches, 2)

	assert.Equal(t, 2, len(got))
	assert.Equal(t, "a", got[0].ArticleID)
	assert.Equal(t, "3", got[0].ChunkID)
	assert.Equal(t, "b", got[1].ArticleID)
}
