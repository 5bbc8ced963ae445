package models

import "time"

const CategoryIranSpecific = "Iran-Specific"

type Website struct {
	ID              int64
	URL             string
	Name            string
	Description     string
	Category        string
	IsActive        bool
	ScrapingEnabled bool
	LastScrapedAt   *time.Time
}

type JobStatus string

const (
	JobPending     JobStatus = "pending"
	JobProcessing  JobStatus = "processing"
	JobCompleted   JobStatus = "completed"
	JobFailed      JobStatus = "failed"
	JobNotRelevant JobStatus = "not-relevant"
)

func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobNotRelevant
}

type ScrapeJob struct {
	ID              string     `json:"id"`
	URL             string     `json:"url"`
	WebsiteID       int64      `json:"website_id"`
	Status          JobStatus  `json:"status"`
	Attempts        int        `json:"attempts"`
	CreatedAt       time.Time  `json:"created_at"`
	LastProcessedAt *time.Time `json:"last_processed_at,omitempty"`
	ErrorLog        *string    `json:"error_log,omitempty"`
}

type Article struct {
	ID                   string     `json:"id"`
	Title                string     `json:"title"`
	Link                 string     `json:"link"`
	Description          string     `json:"description"`
	Content              string     `json:"content,omitempty"`
	Source               string     `json:"source"`
	Category             string     `json:"category"`
	Author               string     `json:"author"`
	PubDate              time.Time  `json:"pub_date"`
	Tags                 []string   `json:"tags"`
	ImageURL             string     `json:"image_url"`
	LanguageCode         string     `json:"language_code,omitempty"`
	WebsiteID            *int64     `json:"website_id,omitempty"`
	EmbeddingGenerated   bool       `json:"embedding_generated"`
	EmbeddingGeneratedAt *time.Time `json:"embedding_generated_at,omitempty"`
	WordCount            int        `json:"word_count"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

type ArticleChunk struct {
	ID                   string
	ArticleID            string
	ChunkIndex           int
	ChunkText            string
	WordCount            int
	Embedding            []float32
	EmbeddingGenerated   bool
	EmbeddingGeneratedAt *time.Time
	CreatedAt            time.Time
}

// ChunkWithArticle is a chunk joined with the article fields the
// clustering and analysis stages need.
type ChunkWithArticle struct {
	ArticleChunk
	Title   string
	Link    string
	Source  string
	Author  string
	PubDate time.Time
}

type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentNeutral  Sentiment = "neutral"
)

type SourcePerspective struct {
	SourceName         string    `json:"source_name"`
	SourceCategory     string    `json:"source_category"`
	SourceCountry      string    `json:"source_country"`
	ArticleCount       int       `json:"article_count"`
	PerspectiveSummary string    `json:"perspective_summary"`
	KeyThemes          []string  `json:"key_themes"`
	Sentiment          Sentiment `json:"sentiment"`
}

type ComparativeAnalysis struct {
	ID                  string              `json:"id"`
	TopicID             string              `json:"topic_id"`
	TopicSummary        string              `json:"topic_summary"`
	AggregateSummary    string              `json:"aggregate_summary"`
	SourcePerspectives  []SourcePerspective `json:"source_perspectives"`
	ArticleIDs          []string            `json:"article_ids"`
	SimilarityThreshold float64             `json:"similarity_threshold"`
	TotalArticles       int                 `json:"total_articles"`
	Fallback            bool                `json:"fallback"`
	AnalysisTimestamp   time.Time           `json:"analysis_timestamp"`
	CreatedAt           time.Time           `json:"created_at"`
}

// ArticleRef is the display form of an analysed article.
type ArticleRef struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Source string `json:"source"`
	Link   string `json:"link"`
}

type Feed struct {
	ID          int64
	URL         string
	Name        string
	Description string
	Category    string
	IsActive    bool
}

type EmbeddingStatus struct {
	TotalArticles        int `json:"total_articles"`
	WithEmbeddings       int `json:"articles_with_embeddings"`
	WithoutEmbeddings    int `json:"articles_without_embeddings"`
	CompletionPercentage int `json:"completion_percentage"`
}
