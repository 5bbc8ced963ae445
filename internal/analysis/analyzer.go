// Package analysis clusters recently embedded articles by topic and stores a
// cross-source comparative analysis for every new cluster.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/newsprism/backend/internal/clustering"
	"github.com/newsprism/backend/internal/llm"
	"github.com/newsprism/backend/internal/metrics"
	"github.com/newsprism/backend/internal/pipeline"
	"github.com/newsprism/backend/internal/storage/models"
	"github.com/newsprism/backend/internal/storage/sqlite"
	"github.com/newsprism/backend/pkg/logger"
	"github.com/newsprism/backend/pkg/utils"
)

const (
	DefaultHoursBack      = 12
	DefaultThreshold      = 0.5
	DefaultContentLimit   = 2000
	DefaultSavedHoursBack = 168
	DefaultSavedLimit     = 10

	temperature = 0.3
	maxTokens   = 2000
)

// ErrMissingEmbeddings means an article has no stored chunk vectors to compare.
var ErrMissingEmbeddings = errors.New("article has no embeddings")

type Store interface {
	RecentChunks(ctx context.Context, since time.Time) ([]models.ChunkWithArticle, error)
	ChunksForArticles(ctx context.Context, articleIDs []string) ([]models.ChunkWithArticle, error)
	AnalysisExists(ctx context.Context, articleIDs []string) (bool, error)
	InsertAnalysis(ctx context.Context, a *models.ComparativeAnalysis) error
	ListAnalyses(ctx context.Context, since time.Time, limit, offset int) ([]models.ComparativeAnalysis, error)
	ArticleRefs(ctx context.Context, ids []string) (map[string]models.ArticleRef, error)
}

type Completer interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)
}

// GraphRecorder receives every stored analysis.
type GraphRecorder interface {
	RecordAnalysis(ctx context.Context, a *models.ComparativeAnalysis, refs map[string]models.ArticleRef) error
}

type Options struct {
	HoursBack    int
	Threshold    float64
	ContentLimit int
}

type Params struct {
	HoursBack int
	Threshold float64
}

type Analyzer struct {
	store        Store
	llm          Completer
	graph        GraphRecorder
	hoursBack    int
	threshold    float64
	contentLimit int
	logger       *zap.Logger
	now          func() time.Time
}

// NewAnalyzer builds an analyzer. graph may be nil.
func NewAnalyzer(store Store, completer Completer, graph GraphRecorder, opts Options, log *zap.Logger) *Analyzer {
	if opts.HoursBack <= 0 {
		opts.HoursBack = DefaultHoursBack
	}
	if opts.Threshold <= 0 || opts.Threshold > 1 {
		opts.Threshold = DefaultThreshold
	}
	if opts.ContentLimit <= 0 {
		opts.ContentLimit = DefaultContentLimit
	}
	return &Analyzer{
		store:        store,
		llm:          completer,
		graph:        graph,
		hoursBack:    opts.HoursBack,
		threshold:    opts.Threshold,
		contentLimit: opts.ContentLimit,
		logger:       logger.OrNop(log).Named("analysis"),
		now:          time.Now,
	}
}

// Analyze clusters chunks of articles from the last HoursBack hours and stores
// one analysis per cluster whose article set has not been analysed before.
func (a *Analyzer) Analyze(ctx context.Context, p Params) (*pipeline.Summary, error) {
	if p.HoursBack <= 0 {
		p.HoursBack = a.hoursBack
	}
	if p.Threshold <= 0 || p.Threshold > 1 {
		p.Threshold = a.threshold
	}

	now := a.now()
	chunks, err := a.store.RecentChunks(ctx, now.Add(-time.Duration(p.HoursBack)*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("failed to load recent chunks: %w", err)
	}

	clusters := clustering.GreedySingleLink(chunks, p.Threshold, now)

	summary := pipeline.NewSummary(pipeline.StageAnalyze)
	summary.Add("chunks", len(chunks))
	summary.Add("clusters", len(clusters))

	a.logger.Info("Topic clusters found",
		zap.Int("chunks", len(chunks)),
		zap.Int("clusters", len(clusters)),
		zap.Int("hours_back", p.HoursBack),
		zap.Float64("threshold", p.Threshold),
	)

	for _, cluster := range clusters {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		outcome, err := a.analyzeCluster(ctx, cluster)
		if err != nil {
			summary.Errored++
			a.logger.Error("Cluster analysis failed", zap.String("topic_id", cluster.TopicID), zap.Error(err))
			continue
		}

		metrics.Analyses.WithLabelValues(outcome).Inc()
		summary.Add(outcome, 1)
		if outcome == "skipped" {
			summary.Skipped++
		} else {
			summary.Processed++
		}
	}

	return summary, nil
}

func sortedIDs(ids []string) []string {
	out := append([]string(nil), ids...)
	sort.Strings(out)
	return out
}

// analyzeCluster returns "created", "fallback" or "skipped".
func (a *Analyzer) analyzeCluster(ctx context.Context, cluster clustering.TopicCluster) (string, error) {
	ids := sortedIDs(cluster.ArticleIDs())

	exists, err := a.store.AnalysisExists(ctx, ids)
	if err != nil {
		return "", err
	}
	if exists {
		a.logger.Debug("Cluster already analysed", zap.Strings("article_ids", ids))
		return "skipped", nil
	}

	analysis := a.synthesize(ctx, cluster, ids)

	err = a.store.InsertAnalysis(ctx, analysis)
	if errors.Is(err, sqlite.ErrDuplicateAnalysis) {
		return "skipped", nil
	}
	if err != nil {
		return "", err
	}

	if a.graph != nil {
		refs, err := a.store.ArticleRefs(ctx, ids)
		if err == nil {
			err = a.graph.RecordAnalysis(ctx, analysis, refs)
		}
		if err != nil {
			a.logger.Warn("Failed to record analysis in graph", zap.String("analysis_id", analysis.ID), zap.Error(err))
		}
	}

	if analysis.Fallback {
		return "fallback", nil
	}
	return "created", nil
}

// synthesize asks the model for a comparative analysis and falls back to a
// deterministic one when the call or the response fails.
func (a *Analyzer) synthesize(ctx context.Context, cluster clustering.TopicCluster, ids []string) *models.ComparativeAnalysis {
	units, sourceCounts, sourceOrder := a.units(cluster)

	analysis := &models.ComparativeAnalysis{
		ID:                  uuid.New().String(),
		TopicID:             cluster.TopicID,
		ArticleIDs:          ids,
		SimilarityThreshold: cluster.SimilarityThreshold,
		TotalArticles:       len(ids),
		AnalysisTimestamp:   a.now(),
	}

	resp, err := a.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   buildPrompt(units),
		Temperature:  temperature,
		MaxTokens:    maxTokens,
	})
	if err == nil {
		var parsed *modelResponse
		var perspectives []models.SourcePerspective
		parsed, perspectives, err = parseResponse(resp.Content, sourceCounts)
		if err == nil {
			analysis.TopicSummary = parsed.TopicTitle
			analysis.AggregateSummary = parsed.AggregateSummary
			analysis.SourcePerspectives = perspectives
			return analysis
		}
	}

	a.logger.Warn("Using fallback analysis", zap.String("topic_id", cluster.TopicID), zap.Error(err))
	applyFallback(analysis, sourceCounts, sourceOrder)
	return analysis
}

func applyFallback(analysis *models.ComparativeAnalysis, sourceCounts map[string]int, sourceOrder []string) {
	n := analysis.TotalArticles
	analysis.Fallback = true
	analysis.TopicSummary = fmt.Sprintf("Topic cluster with %d articles", n)
	analysis.AggregateSummary = fmt.Sprintf("Analysis of %d related articles from multiple sources", n)
	analysis.SourcePerspectives = make([]models.SourcePerspective, 0, len(sourceOrder))
	for _, source := range sourceOrder {
		count := sourceCounts[source]
		analysis.SourcePerspectives = append(analysis.SourcePerspectives, models.SourcePerspective{
			SourceName:         source,
			ArticleCount:       count,
			PerspectiveSummary: fmt.Sprintf("%d articles from this source", count),
			KeyThemes:          []string{},
			Sentiment:          models.SentimentNeutral,
		})
	}
}

// units builds one prompt unit per distinct article in cluster order, and
// counts distinct articles per source.
func (a *Analyzer) units(cluster clustering.TopicCluster) ([]articleUnit, map[string]int, []string) {
	byArticle := make(map[string][]string)
	var order []string
	first := make(map[string]models.ChunkWithArticle)
	for _, ch := range cluster.Chunks {
		if _, ok := first[ch.ArticleID]; !ok {
			first[ch.ArticleID] = ch
			order = append(order, ch.ArticleID)
		}
		byArticle[ch.ArticleID] = append(byArticle[ch.ArticleID], ch.ChunkText)
	}

	units := make([]articleUnit, 0, len(order))
	sourceCounts := make(map[string]int)
	var sourceOrder []string
	for _, id := range order {
		head := first[id]
		units = append(units, articleUnit{
			ID:      id,
			Title:   head.Title,
			Source:  head.Source,
			Content: utils.Truncate(strings.Join(byArticle[id], " "), a.contentLimit),
		})
		if _, ok := sourceCounts[head.Source]; !ok {
			sourceOrder = append(sourceOrder, head.Source)
		}
		sourceCounts[head.Source]++
	}
	return units, sourceCounts, sourceOrder
}

// SavedAnalysis is a stored analysis with its member articles resolved for display.
type SavedAnalysis struct {
	models.ComparativeAnalysis
	Articles []models.ArticleRef `json:"articles"`
}

type SavedPage struct {
	Analyses []SavedAnalysis `json:"analyses"`
	HasMore  bool            `json:"has_more"`
}

// ListSaved pages through analyses stamped within the last hoursBack hours.
func (a *Analyzer) ListSaved(ctx context.Context, hoursBack, limit, offset int) (*SavedPage, error) {
	if hoursBack <= 0 {
		hoursBack = DefaultSavedHoursBack
	}
	if limit <= 0 {
		limit = DefaultSavedLimit
	}
	if offset < 0 {
		offset = 0
	}

	since := a.now().Add(-time.Duration(hoursBack) * time.Hour)
	stored, err := a.store.ListAnalyses(ctx, since, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list analyses: %w", err)
	}

	var allIDs []string
	for _, an := range stored {
		allIDs = append(allIDs, an.ArticleIDs...)
	}
	refs := map[string]models.ArticleRef{}
	if len(allIDs) > 0 {
		refs, err = a.store.ArticleRefs(ctx, allIDs)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve articles: %w", err)
		}
	}

	page := &SavedPage{Analyses: make([]SavedAnalysis, 0, len(stored)), HasMore: len(stored) == limit}
	for _, an := range stored {
		saved := SavedAnalysis{ComparativeAnalysis: an, Articles: make([]models.ArticleRef, 0, len(an.ArticleIDs))}
		for _, id := range an.ArticleIDs {
			if ref, ok := refs[id]; ok {
				saved.Articles = append(saved.Articles, ref)
			}
		}
		page.Analyses = append(page.Analyses, saved)
	}
	return page, nil
}

type SimilarityResult struct {
	ArticleA    string  `json:"article_a"`
	ArticleB    string  `json:"article_b"`
	Similarity  float64 `json:"similarity"`
	Comparisons int     `json:"comparisons"`
	ChunksA     int     `json:"chunks_a"`
	ChunksB     int     `json:"chunks_b"`
}

// CompareArticles reports the mean chunk-pair similarity of two articles.
func (a *Analyzer) CompareArticles(ctx context.Context, articleA, articleB string) (*SimilarityResult, error) {
	chunks, err := a.store.ChunksForArticles(ctx, []string{articleA, articleB})
	if err != nil {
		return nil, fmt.Errorf("failed to load chunks: %w", err)
	}

	var ca, cb []models.ChunkWithArticle
	for _, ch := range chunks {
		switch ch.ArticleID {
		case articleA:
			ca = append(ca, ch)
		case articleB:
			cb = append(cb, ch)
		}
	}
	if len(ca) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingEmbeddings, articleA)
	}
	if len(cb) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingEmbeddings, articleB)
	}

	sim, n := clustering.ArticleSimilarity(ca, cb)
	return &SimilarityResult{
		ArticleA:    articleA,
		ArticleB:    articleB,
		Similarity:  sim,
		Comparisons: n,
		ChunksA:     len(ca),
		ChunksB:     len(cb),
	}, nil
}
