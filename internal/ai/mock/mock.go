// Package mock is the shipped review tool backend. It answers every request
// with a fixed analysis after a fixed delay.
package mock

import (
	"context"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/spigell/hireboard/internal/ai"
	"github.com/spigell/hireboard/internal/logger"
	"github.com/spigell/hireboard/internal/utils"
)

const DefaultDelay = 2 * time.Second

type Assistant struct {
	delay  time.Duration
	logger *zap.Logger
	wait   func(context.Context, time.Duration) error
}

var _ ai.Assistant = (*Assistant)(nil)

// New returns an assistant answering after delay. A non-positive delay uses
// DefaultDelay.
func New(delay time.Duration, log *zap.Logger) *Assistant {
	if delay <= 0 {
		delay = DefaultDelay
	}
	return &Assistant{
		delay:  delay,
		logger: logger.WithComponent(log, "ai-mock"),
		wait:   utils.WaitFor,
	}
}

func (a *Assistant) simulate(ctx context.Context, kind, input string) error {
	if err := ai.CheckInput(input); err != nil {
		return err
	}

	a.logger.Debug("simulated analysis",
		zap.String("kind", kind),
		zap.Int("input_length", utf8.RuneCountInString(input)),
		zap.Duration("delay", a.delay),
	)
	return a.wait(ctx, a.delay)
}

func (a *Assistant) DetectBias(ctx context.Context, text string) (*ai.BiasReport, error) {
	if err := a.simulate(ctx, ai.KindBias, text); err != nil {
		return nil, err
	}

	return &ai.BiasReport{
		Score: 0.23,
		Level: "low",
		Findings: []ai.BiasFinding{
			{Phrase: "rockstar", Category: "gender-coded", Suggestion: "skilled engineer"},
			{Phrase: "young and dynamic", Category: "age", Suggestion: "motivated"},
		},
		Suggestions: []string{
			"Use gender-neutral job titles.",
			"Describe requirements by skills, not by personal traits.",
		},
	}, nil
}

func (a *Assistant) SummarizeChat(ctx context.Context, transcript string) (*ai.ChatSummary, error) {
	if err := a.simulate(ctx, ai.KindChat, transcript); err != nil {
		return nil, err
	}

	return &ai.ChatSummary{
		Summary:   "The candidate confirmed interest in the role and asked about the team structure and remote options.",
		Sentiment: "positive",
		KeyPoints: []string{
			"Available to start in four weeks",
			"Prefers a hybrid schedule",
			"Salary expectations are within range",
		},
		ActionItems: []string{
			"Send the technical assignment",
			"Schedule a call with the team lead",
		},
	}, nil
}

func (a *Assistant) SummarizeInterview(ctx context.Context, notes string) (*ai.InterviewSummary, error) {
	if err := a.simulate(ctx, ai.KindInterview, notes); err != nil {
		return nil, err
	}

	return &ai.InterviewSummary{
		Summary:        "Solid technical interview with clear explanations of past projects.",
		Strengths:      []string{"System design", "Communication", "Ownership of production incidents"},
		Concerns:       []string{"Limited experience with large teams"},
		Recommendation: "proceed",
		Score:          0.82,
	}, nil
}
