// Package ai declares the review tools offered to HR users. Implementations
// return an analysis for the given text within a bounded time.
package ai

import (
	"context"
	"errors"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// Analysis kinds, also used as the stored result kind.
const (
	KindBias      = "bias"
	KindChat      = "chat"
	KindInterview = "interview"
)

var ErrEmptyInput = errors.New("input text is empty")

type BiasFinding struct {
	Phrase     string `json:"phrase"`
	Category   string `json:"category"`
	Suggestion string `json:"suggestion"`
}

type BiasReport struct {
	Score       float64       `json:"score"`
	Level       string        `json:"level"`
	Findings    []BiasFinding `json:"findings"`
	Suggestions []string      `json:"suggestions"`
}

type ChatSummary struct {
	Summary     string   `json:"summary"`
	Sentiment   string   `json:"sentiment"`
	KeyPoints   []string `json:"key_points"`
	ActionItems []string `json:"action_items"`
}

type InterviewSummary struct {
	Summary        string   `json:"summary"`
	Strengths      []string `json:"strengths"`
	Concerns       []string `json:"concerns"`
	Recommendation string   `json:"recommendation"`
	Score          float64  `json:"score"`
}

type BiasDetector interface {
	DetectBias(ctx context.Context, text string) (*BiasReport, error)
}

type ChatSummarizer interface {
	SummarizeChat(ctx context.Context, transcript string) (*ChatSummary, error)
}

type InterviewSummarizer interface {
	SummarizeInterview(ctx context.Context, notes string) (*InterviewSummary, error)
}

// Assistant bundles every review tool.
type Assistant interface {
	BiasDetector
	ChatSummarizer
	InterviewSummarizer
}

// CheckInput rejects blank analysis input.
func CheckInput(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyInput
	}
	return nil
}

// ToMap flattens an analysis into the generic form it is stored in.
func ToMap(analysis any) (map[string]any, error) {
	out := map[string]any{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  &out,
		TagName: "json",
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(analysis); err != nil {
		return nil, err
	}
	return out, nil
}
