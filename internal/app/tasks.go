package app

import (
	"context"
	"fmt"

	"github.com/newsprism/backend/internal/analysis"
	"github.com/newsprism/backend/internal/pipeline"
	"github.com/newsprism/backend/internal/worker"
)

func needs(stage pipeline.Stage) (llm, scraper bool) {
	switch stage {
	case pipeline.StageDiscover, pipeline.StageScrape:
		return false, true
	case pipeline.StageEmbed, pipeline.StageAnalyze:
		return true, false
	}
	return false, false
}

// RunStage executes one stage synchronously after checking the configuration
// it depends on.
func (a *App) RunStage(ctx context.Context, stage pipeline.Stage) (*pipeline.Summary, error) {
	return a.run(ctx, stage, func(ctx context.Context) (*pipeline.Summary, error) {
		switch stage {
		case pipeline.StageDiscover:
			return a.Discoverer.Run(ctx)
		case pipeline.StageScrape:
			return a.Queue.ProcessBatch(ctx)
		case pipeline.StageEmbed:
			return a.Embeddings.GenerateBatch(ctx, 0)
		case pipeline.StageAnalyze:
			return a.Analyzer.Analyze(ctx, analysis.Params{})
		case pipeline.StageFeeds:
			return a.Feeds.Run(ctx)
		}
		return nil, fmt.Errorf("unknown stage %q", stage)
	})
}

func (a *App) run(ctx context.Context, stage pipeline.Stage, fn func(ctx context.Context) (*pipeline.Summary, error)) (*pipeline.Summary, error) {
	needsLLM, needsScraper := needs(stage)
	if err := a.Config.Validate(needsLLM, needsScraper); err != nil {
		return nil, err
	}
	return fn(ctx)
}

func (a *App) StageTask(stage pipeline.Stage) worker.Task {
	return worker.Task{
		Stage: stage,
		Key:   string(stage),
		Run: func(ctx context.Context) (*pipeline.Summary, error) {
			return a.RunStage(ctx, stage)
		},
	}
}

func (a *App) AnalyzeTask(p analysis.Params) worker.Task {
	return worker.Task{
		Stage: pipeline.StageAnalyze,
		Key:   string(pipeline.StageAnalyze),
		Run: func(ctx context.Context) (*pipeline.Summary, error) {
			return a.run(ctx, pipeline.StageAnalyze, func(ctx context.Context) (*pipeline.Summary, error) {
				return a.Analyzer.Analyze(ctx, p)
			})
		},
	}
}

// EmbedArticleTask regenerates one article's chunks. Its key is per article
// so it never collides with the batch embed run.
func (a *App) EmbedArticleTask(articleID string) worker.Task {
	return worker.Task{
		Stage: pipeline.StageEmbed,
		Key:   "embed:" + articleID,
		Run: func(ctx context.Context) (*pipeline.Summary, error) {
			return a.run(ctx, pipeline.StageEmbed, func(ctx context.Context) (*pipeline.Summary, error) {
				summary := pipeline.NewSummary(pipeline.StageEmbed)
				n, err := a.Embeddings.GenerateForArticle(ctx, articleID)
				if err != nil {
					summary.Errored++
					return summary, err
				}
				summary.Processed++
				summary.Add("chunks", n)
				return summary, nil
			})
		},
	}
}
