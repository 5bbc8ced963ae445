// Package clustering groups articles that discuss the same event by comparing
// their chunk embeddings.
//
// GreedySingleLink is the only algorithm: articles are visited in first-seen
// order, each unassigned article seeds a cluster, and every later unassigned
// article whose best chunk-pair cosine similarity reaches the threshold joins
// it. Assignments are never revisited, so the result depends on input order.
package clustering

import (
	"fmt"
	"math"
	"time"

	"github.com/newsprism/backend/internal/storage/models"
)

const AlgorithmGreedySingleLink = "greedy-single-link"

type TopicCluster struct {
	TopicID             string
	Algorithm           string
	SimilarityThreshold float64
	Chunks              []models.ChunkWithArticle
	CreatedAt           time.Time
}

// ArticleIDs returns the distinct article ids in the order they joined the cluster.
func (c TopicCluster) ArticleIDs() []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, ch := range c.Chunks {
		if _, ok := seen[ch.ArticleID]; ok {
			continue
		}
		seen[ch.ArticleID] = struct{}{}
		ids = append(ids, ch.ArticleID)
	}
	return ids
}

// CosineSimilarity is 0 when either vector has zero norm or the dimensions differ.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if sim > 1 {
		return 1
	}
	if sim < -1 {
		return -1
	}
	return sim
}

type articleGroup struct {
	id     string
	chunks []models.ChunkWithArticle
}

func groupByArticle(chunks []models.ChunkWithArticle) []articleGroup {
	index := make(map[string]int)
	var groups []articleGroup
	for _, ch := range chunks {
		i, ok := index[ch.ArticleID]
		if !ok {
			i = len(groups)
			index[ch.ArticleID] = i
			groups = append(groups, articleGroup{id: ch.ArticleID})
		}
		groups[i].chunks = append(groups[i].chunks, ch)
	}
	return groups
}

func maxSimilarity(a, b []models.ChunkWithArticle) float64 {
	best := 0.0
	for _, x := range a {
		for _, y := range b {
			if s := CosineSimilarity(x.Embedding, y.Embedding); s > best {
				best = s
			}
		}
	}
	return best
}

// GreedySingleLink emits only clusters spanning at least two articles.
func GreedySingleLink(chunks []models.ChunkWithArticle, threshold float64, now time.Time) []TopicCluster {
	groups := groupByArticle(chunks)
	assigned := make([]bool, len(groups))

	var clusters []TopicCluster
	for i := range groups {
		if assigned[i] {
			continue
		}
		assigned[i] = true

		members := append([]models.ChunkWithArticle(nil), groups[i].chunks...)
		articleCount := 1

		for j := i + 1; j < len(groups); j++ {
			if assigned[j] {
				continue
			}
			if maxSimilarity(groups[i].chunks, groups[j].chunks) >= threshold {
				members = append(members, groups[j].chunks...)
				assigned[j] = true
				articleCount++
			}
		}

		if articleCount < 2 {
			continue
		}

		clusters = append(clusters, TopicCluster{
			TopicID:             fmt.Sprintf("cluster_%d_%d", now.UnixMilli(), i),
			Algorithm:           AlgorithmGreedySingleLink,
			SimilarityThreshold: threshold,
			Chunks:              members,
			CreatedAt:           now,
		})
	}

	return clusters
}

// ArticleSimilarity is the mean cosine similarity over all chunk pairs of two articles.
func ArticleSimilarity(a, b []models.ChunkWithArticle) (float64, int) {
	total := 0.0
	comparisons := 0
	for _, x := range a {
		for _, y := range b {
			total += CosineSimilarity(x.Embedding, y.Embedding)
			comparisons++
		}
	}
	if comparisons == 0 {
		return 0, 0
	}
	return total / float64(comparisons), comparisons
}
