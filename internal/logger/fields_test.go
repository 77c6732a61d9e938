package logger

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestStringFields(t *testing.T) {
	fields := StringFields(
		StringField{Key: "  feed  ", Value: "  notifications  "},
		StringField{Key: "ignored", Value: "   "},
		StringField{Key: "   ", Value: "empty key"},
	)

	if len(fields) != 1 {
		t.Fatalf("expected 1 field, got %d", len(fields))
	}

	if fields[0].Key != "feed" || fields[0].String != "notifications" {
		t.Fatalf("unexpected feed field: %+v", fields[0])
	}

	empty := StringFields()
	if len(empty) != 0 {
		t.Fatalf("expected empty fields, got %d", len(empty))
	}
}

func TestWithFields(t *testing.T) {
	core, observed := observer.New(zapcore.InfoLevel)
	logger := zap.New(core)

	enriched := WithFields(logger, zap.String("foo", "bar"))
	enriched.Info("test log")

	entries := observed.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}

	ctx := entries[0].ContextMap()
	if ctx["foo"] != "bar" {
		t.Fatalf("expected field to be bar, got %q", ctx["foo"])
	}

	enriched = WithFields(nil, zap.String("baz", "qux"))
	if enriched == nil {
		t.Fatalf("expected fallback logger when nil provided")
	}

	// Ensure logging with the fallback logger does not panic.
	enriched.Info("another log")
}

func TestFeedFields(t *testing.T) {
	fields := FeedFields("notifications", "user-1")
	if len(fields) != 2 {
		t.Fatalf("expected 2 fields, got %d", len(fields))
	}

	if fields[0].Key != FieldFeed || fields[0].String != "notifications" {
		t.Fatalf("unexpected feed field: %+v", fields[0])
	}

	if fields[1].Key != FieldScope || fields[1].String != "user-1" {
		t.Fatalf("unexpected scope field: %+v", fields[1])
	}

	unscoped := FeedFields("applications", "")
	if len(unscoped) != 1 {
		t.Fatalf("expected scope to be omitted, got %d fields", len(unscoped))
	}
}

func TestWithComponent(t *testing.T) {
	core, observed := observer.New(zapcore.InfoLevel)

	WithComponent(zap.New(core), "querycache").Info("test log")

	entries := observed.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}

	if got := entries[0].ContextMap()[FieldComponent]; got != "querycache" {
		t.Fatalf("expected component field, got %q", got)
	}

	// Nil logger falls back to nop.
	WithComponent(nil, "x").Info("another log")
}
