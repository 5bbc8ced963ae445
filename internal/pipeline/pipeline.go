// Package pipeline holds the vocabulary shared by the ingestion stages:
// stage names, batch summaries and the error taxonomy.
package pipeline

import (
	"errors"
	"fmt"
)

type Stage string

const (
	StageDiscover Stage = "discover"
	StageScrape   Stage = "scrape"
	StageEmbed    Stage = "embed"
	StageAnalyze  Stage = "analyze"
	StageFeeds    Stage = "feeds"
)

func ParseStage(s string) (Stage, error) {
	switch Stage(s) {
	case StageDiscover, StageScrape, StageEmbed, StageAnalyze, StageFeeds:
		return Stage(s), nil
	}
	return "", fmt.Errorf("unknown stage %q", s)
}

// Summary is the operator-visible outcome of one batch.
type Summary struct {
	Stage     Stage          `json:"stage"`
	Processed int            `json:"processed"`
	Errored   int            `json:"errored"`
	Skipped   int            `json:"skipped"`
	Details   map[string]int `json:"details,omitempty"`
}

func NewSummary(stage Stage) *Summary {
	return &Summary{Stage: stage, Details: map[string]int{}}
}

func (s *Summary) Add(key string, n int) {
	if s.Details == nil {
		s.Details = map[string]int{}
	}
	s.Details[key] += n
}

// ErrNotRelevant is a terminal classification outcome, not a failure.
var ErrNotRelevant = errors.New("article content not relevant to Iran")

// ParseError wraps a malformed structured response from a provider.
type ParseError struct {
	What string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse %s: %v", e.What, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ProviderError is a non-success answer from an external capability.
type ProviderError struct {
	Provider string
	Status   int
	Message  string
}

func (e *ProviderError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s error: %d - %s", e.Provider, e.Status, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Provider, e.Message)
}

// Transient reports whether the failure may succeed on a later attempt.
func (e *ProviderError) Transient() bool {
	return e.Status == 0 || e.Status == 408 || e.Status == 429 || e.Status >= 500
}
