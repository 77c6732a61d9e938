package realtime

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	eventJoin      = "phx_join"
	eventLeave     = "phx_leave"
	eventReply     = "phx_reply"
	eventError     = "phx_error"
	eventClose     = "phx_close"
	eventHeartbeat = "heartbeat"
	eventChanges   = "postgres_changes"
	eventSystem    = "system"

	phoenixTopic = "phoenix"
	topicPrefix  = "realtime:"

	defaultSchema = "public"
	anyEvent      = "*"
)

// ChangeType is the kind of row change pushed by the backend.
type ChangeType string

const (
	Insert ChangeType = "INSERT"
	Update ChangeType = "UPDATE"
	Delete ChangeType = "DELETE"
)

// Filter selects the row changes a subscription receives.
type Filter struct {
	Schema string
	Table  string
	// Event is INSERT, UPDATE, DELETE or * (default).
	Event string
	// Filter is a row filter such as "user_id=eq.42". Empty means all rows.
	Filter string
}

func (f Filter) normalized() Filter {
	if f.Schema == "" {
		f.Schema = defaultSchema
	}
	if f.Event == "" {
		f.Event = anyEvent
	}
	return f
}

// Change is one row change delivered to a subscription.
type Change struct {
	Type            ChangeType
	Schema          string
	Table           string
	Record          map[string]any
	OldRecord       map[string]any
	CommitTimestamp time.Time
}

type message struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref,omitempty"`
}

type changeConfig struct {
	Event  string `json:"event"`
	Schema string `json:"schema"`
	Table  string `json:"table"`
	Filter string `json:"filter,omitempty"`
}

type joinPayload struct {
	Config struct {
		PostgresChanges []changeConfig `json:"postgres_changes"`
	} `json:"config"`
	AccessToken string `json:"access_token,omitempty"`
}

type replyPayload struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

type changesPayload struct {
	Data struct {
		Type            string         `json:"type"`
		Schema          string         `json:"schema"`
		Table           string         `json:"table"`
		CommitTimestamp string         `json:"commit_timestamp"`
		Record          map[string]any `json:"record"`
		OldRecord       map[string]any `json:"old_record"`
	} `json:"data"`
}

func newJoin(topic, ref, token string, f Filter) (message, error) {
	var p joinPayload
	p.Config.PostgresChanges = []changeConfig{{
		Event:  f.Event,
		Schema: f.Schema,
		Table:  f.Table,
		Filter: f.Filter,
	}}
	p.AccessToken = token

	raw, err := json.Marshal(p)
	if err != nil {
		return message{}, fmt.Errorf("marshal join payload: %w", err)
	}

	return message{Topic: topic, Event: eventJoin, Payload: raw, Ref: ref}, nil
}

func decodeChange(raw json.RawMessage) (Change, error) {
	var p changesPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Change{}, fmt.Errorf("decode change: %w", err)
	}

	change := Change{
		Type:      ChangeType(p.Data.Type),
		Schema:    p.Data.Schema,
		Table:     p.Data.Table,
		Record:    p.Data.Record,
		OldRecord: p.Data.OldRecord,
	}

	if p.Data.CommitTimestamp != "" {
		if ts, err := time.Parse(time.RFC3339Nano, p.Data.CommitTimestamp); err == nil {
			change.CommitTimestamp = ts
		}
	}

	return change, nil
}
