package mock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/spigell/hireboard/internal/ai"
)

func TestAnswersAfterDelay(t *testing.T) {
	a := New(time.Minute, nil)

	var waited time.Duration
	a.wait = func(_ context.Context, d time.Duration) error {
		waited = d
		return nil
	}

	report, err := a.DetectBias(context.Background(), "We need a rockstar developer")
	if err != nil {
		t.Fatalf("DetectBias() error = %v", err)
	}
	if waited != time.Minute {
		t.Fatalf("expected to wait the configured delay, waited %v", waited)
	}
	if report.Level == "" || len(report.Findings) == 0 {
		t.Fatalf("unexpected report: %+v", report)
	}

	chat, err := a.SummarizeChat(context.Background(), "hi\nhello")
	if err != nil {
		t.Fatalf("SummarizeChat() error = %v", err)
	}
	if chat.Summary == "" || len(chat.KeyPoints) == 0 {
		t.Fatalf("unexpected chat summary: %+v", chat)
	}

	interview, err := a.SummarizeInterview(context.Background(), "notes")
	if err != nil {
		t.Fatalf("SummarizeInterview() error = %v", err)
	}
	if interview.Recommendation == "" || interview.Score <= 0 {
		t.Fatalf("unexpected interview summary: %+v", interview)
	}
}

func TestHonoursCancellation(t *testing.T) {
	a := New(time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	_, err := a.SummarizeInterview(ctx, "notes")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("cancelled call should return promptly")
	}
}

func TestRejectsEmptyInput(t *testing.T) {
	a := New(0, nil)
	a.wait = func(context.Context, time.Duration) error {
		t.Fatal("empty input must not wait")
		return nil
	}

	if _, err := a.DetectBias(context.Background(), "  \n"); !errors.Is(err, ai.ErrEmptyInput) {
		t.Fatalf("expected ErrEmptyInput, got %v", err)
	}
}

func TestDefaultDelay(t *testing.T) {
	if got := New(-1, nil).delay; got != DefaultDelay {
		t.Fatalf("expected default delay, got %v", got)
	}
}
