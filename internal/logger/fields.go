package logger

import (
	"strings"

	"go.uber.org/zap"
)

const (
	// FieldComponent names the sync-layer component emitting the entry.
	FieldComponent = "component"
	// FieldFeed is the realtime feed name.
	FieldFeed = "feed"
	// FieldScope is the feed or cache scope, usually a user id.
	FieldScope = "scope"
	// FieldCacheKey is the canonical query cache key.
	FieldCacheKey = "cache_key"
)

// StringField describes a string-valued structured logging field.
type StringField struct {
	Key   string
	Value string
}

// StringFields converts the provided key/value pairs into zap fields, trimming
// whitespace and omitting entries with empty keys or values.
func StringFields(fields ...StringField) []zap.Field {
	result := make([]zap.Field, 0, len(fields))
	for _, field := range fields {
		key := strings.TrimSpace(field.Key)
		if key == "" {
			continue
		}

		value := strings.TrimSpace(field.Value)
		if value == "" {
			continue
		}

		result = append(result, zap.String(key, value))
	}

	return result
}

// WithFields safely attaches the provided fields to the logger.
// A nil logger becomes a no-op logger.
func WithFields(logger *zap.Logger, fields ...zap.Field) *zap.Logger {
	logger = OrNop(logger)

	if len(fields) == 0 {
		return logger
	}

	return logger.With(fields...)
}

// FeedFields returns the fields describing a realtime feed slot.
// An empty scope is omitted to keep unscoped feeds compact.
func FeedFields(feed, scope string) []zap.Field {
	return StringFields(
		StringField{Key: FieldFeed, Value: feed},
		StringField{Key: FieldScope, Value: scope},
	)
}

// WithComponent tags every entry of the returned logger with the component name.
func WithComponent(logger *zap.Logger, component string) *zap.Logger {
	return WithFields(logger, StringFields(StringField{Key: FieldComponent, Value: component})...)
}
