package llm

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/newsprism/backend/internal/metrics"
	"github.com/newsprism/backend/internal/pipeline"
	"github.com/newsprism/backend/pkg/circuitbreaker"
	"github.com/newsprism/backend/pkg/logger"
	"github.com/newsprism/backend/pkg/retry"
	"github.com/newsprism/backend/pkg/utils"
)

const providerName = "openai"

// EmbeddingCache stores vectors keyed by a hash of model and input text.
type EmbeddingCache interface {
	GetEmbedding(ctx context.Context, key string) ([]float32, bool, error)
	SetEmbedding(ctx context.Context, key string, embedding []float32, ttl time.Duration) error
}

type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	EmbeddingModel string
	Temperature    float32
	MaxTokens      int
	Timeout        time.Duration
	CacheTTL       time.Duration
}

type Client struct {
	client         *openai.Client
	model          string
	embeddingModel string
	temperature    float32
	maxTokens      int
	timeout        time.Duration
	cache          EmbeddingCache
	cacheTTL       time.Duration
	cb             *circuitbreaker.CircuitBreaker
	retryConfig    retry.Config
	logger         *zap.Logger
}

type CompletionRequest struct {
	SystemPrompt string
	UserPrompt   string
	Temperature  float32
	MaxTokens    int
}

type CompletionResponse struct {
	Content string
	Usage   Usage
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// NewClient builds an OpenAI-compatible client. cache may be nil.
func NewClient(cfg Config, cache EmbeddingCache, log *zap.Logger) *Client {
	log = logger.OrNop(log).Named("llm")

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	cb := circuitbreaker.New("llm", circuitbreaker.Config{
		MaxRequests:      5,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		IsFailure:        countsAgainstBreaker,
		OnStateChange:    metrics.BreakerStateChanged,
		Logger:           log,
	})

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         log,
	}

	log.Info("LLM client initialized",
		zap.String("model", cfg.Model),
		zap.String("embedding_model", cfg.EmbeddingModel),
		zap.Bool("embedding_cache", cache != nil),
	)

	return &Client{
		client:         openai.NewClientWithConfig(clientConfig),
		model:          cfg.Model,
		embeddingModel: cfg.EmbeddingModel,
		temperature:    cfg.Temperature,
		maxTokens:      cfg.MaxTokens,
		timeout:        cfg.Timeout,
		cache:          cache,
		cacheTTL:       cfg.CacheTTL,
		cb:             cb,
		retryConfig:    retryConfig,
		logger:         log,
	}
}

func (c *Client) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	temperature := req.Temperature
	if temperature == 0 {
		temperature = c.temperature
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}

	messages := []openai.ChatCompletionMessage{
		{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		},
		{
			Role:    openai.ChatMessageRoleUser,
			Content: req.UserPrompt,
		},
	}

	var result *CompletionResponse

	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			resp, err := c.client.CreateChatCompletion(
				ctx,
				openai.ChatCompletionRequest{
					Model:       c.model,
					Messages:    messages,
					Temperature: temperature,
					MaxTokens:   maxTokens,
				},
			)
			if err != nil {
				return classify(err)
			}
			if len(resp.Choices) == 0 {
				return retry.Permanent(&pipeline.ProviderError{Provider: providerName, Message: "completion returned no choices"})
			}

			c.logger.Debug("LLM completion generated",
				zap.Int("prompt_tokens", resp.Usage.PromptTokens),
				zap.Int("completion_tokens", resp.Usage.CompletionTokens),
			)

			result = &CompletionResponse{
				Content: resp.Choices[0].Message.Content,
				Usage: Usage{
					PromptTokens:     resp.Usage.PromptTokens,
					CompletionTokens: resp.Usage.CompletionTokens,
					TotalTokens:      resp.Usage.TotalTokens,
				},
			}

			return nil
		})
	})
	recordRequest(err)

	if err != nil {
		return nil, fmt.Errorf("failed to create completion: %w", err)
	}

	metrics.LLMTokensUsed.WithLabelValues(c.model, "prompt").Add(float64(result.Usage.PromptTokens))
	metrics.LLMTokensUsed.WithLabelValues(c.model, "completion").Add(float64(result.Usage.CompletionTokens))

	return result, nil
}

// Embed returns the embedding vector for text, consulting the cache first
// when one is configured. Cache failures only cost a provider call.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	key := utils.HashText(c.embeddingModel, text)

	if c.cache != nil {
		cached, ok, err := c.cache.GetEmbedding(ctx, key)
		if err != nil {
			c.logger.Warn("Embedding cache lookup failed", zap.Error(err))
		} else if ok {
			metrics.CacheHits.WithLabelValues("embedding").Inc()
			return cached, nil
		}
		metrics.CacheMisses.WithLabelValues("embedding").Inc()
	}

	embedding, err := c.generateEmbedding(ctx, text)
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		if err := c.cache.SetEmbedding(ctx, key, embedding, c.cacheTTL); err != nil {
			c.logger.Warn("Failed to cache embedding", zap.Error(err))
		}
	}

	return embedding, nil
}

func (c *Client) generateEmbedding(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var embedding []float32

	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			resp, err := c.client.CreateEmbeddings(
				ctx,
				openai.EmbeddingRequest{
					Input: []string{text},
					Model: openai.EmbeddingModel(c.embeddingModel),
				},
			)
			if err != nil {
				return classify(err)
			}
			if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
				return retry.Permanent(&pipeline.ProviderError{Provider: providerName, Message: "embedding response was empty"})
			}

			embedding = make([]float32, len(resp.Data[0].Embedding))
			copy(embedding, resp.Data[0].Embedding)

			metrics.LLMTokensUsed.WithLabelValues(c.embeddingModel, "embedding").Add(float64(resp.Usage.TotalTokens))
			return nil
		})
	})
	recordRequest(err)

	if err != nil {
		return nil, fmt.Errorf("failed to generate embedding: %w", err)
	}

	return embedding, nil
}

// classify turns an SDK error into a ProviderError, marking client-side
// failures permanent so the retry loop gives up at once.
func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		pe := &pipeline.ProviderError{Provider: providerName, Status: apiErr.HTTPStatusCode, Message: apiErr.Message}
		if !pe.Transient() {
			return retry.Permanent(pe)
		}
		return pe
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		pe := &pipeline.ProviderError{Provider: providerName, Status: reqErr.HTTPStatusCode, Message: reqErr.Error()}
		if !pe.Transient() {
			return retry.Permanent(pe)
		}
		return pe
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return retry.Permanent(err)
	}

	return &pipeline.ProviderError{Provider: providerName, Message: err.Error()}
}

func countsAgainstBreaker(err error) bool {
	if err == nil {
		return false
	}
	var pe *pipeline.ProviderError
	if errors.As(err, &pe) {
		return pe.Transient()
	}
	return true
}

func recordRequest(err error) {
	status := "ok"
	var pe *pipeline.ProviderError
	switch {
	case err == nil:
	case errors.As(err, &pe) && pe.Status > 0:
		status = strconv.Itoa(pe.Status)
	default:
		status = "error"
	}
	metrics.ProviderRequests.WithLabelValues(providerName, status).Inc()
}
