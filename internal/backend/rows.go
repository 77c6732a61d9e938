package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
)

const (
	preferRepresentation = "return=representation"
	preferCountExact     = "count=exact"
	singleObjectType     = "application/vnd.pgrst.object+json"
)

// Query is a filtered request against one relation. Filters use the rest
// service operators (col=eq.value).
type Query struct {
	client *Client
	table  string
	params url.Values
	orders []string
	single bool
}

// From starts a query against table.
func (c *Client) From(table string) *Query {
	return &Query{
		client: c,
		table:  table,
		params: url.Values{},
	}
}

// Select sets the projection, including relationship expansion such as
// "*,job:job_postings(*)".
func (q *Query) Select(columns string) *Query {
	q.params.Set("select", columns)
	return q
}

func (q *Query) filter(column, op string, value any) *Query {
	q.params.Add(column, op+"."+formatValue(value))
	return q
}

func (q *Query) Eq(column string, value any) *Query  { return q.filter(column, "eq", value) }
func (q *Query) Neq(column string, value any) *Query { return q.filter(column, "neq", value) }
func (q *Query) Gt(column string, value any) *Query  { return q.filter(column, "gt", value) }
func (q *Query) Gte(column string, value any) *Query { return q.filter(column, "gte", value) }
func (q *Query) Lt(column string, value any) *Query  { return q.filter(column, "lt", value) }
func (q *Query) Lte(column string, value any) *Query { return q.filter(column, "lte", value) }

// Is filters on null or boolean identity: Is("read_at", nil), Is("read", false).
func (q *Query) Is(column string, value any) *Query {
	if value == nil {
		return q.filter(column, "is", "null")
	}
	return q.filter(column, "is", value)
}

// ILike is a case-insensitive pattern match; * is the wildcard.
func (q *Query) ILike(column, pattern string) *Query {
	return q.filter(column, "ilike", pattern)
}

func (q *Query) In(column string, values ...any) *Query {
	formatted := make([]string, 0, len(values))
	for _, v := range values {
		formatted = append(formatted, quoteListValue(formatValue(v)))
	}
	return q.filter(column, "in", "("+strings.Join(formatted, ",")+")")
}

func (q *Query) Order(column string, ascending bool) *Query {
	dir := "desc"
	if ascending {
		dir = "asc"
	}
	q.orders = append(q.orders, column+"."+dir)
	return q
}

func (q *Query) Limit(n int) *Query {
	q.params.Set("limit", strconv.Itoa(n))
	return q
}

// Single expects exactly one row; Execute decodes it into a struct target.
func (q *Query) Single() *Query {
	q.single = true
	return q
}

// Values returns the encoded query parameters.
func (q *Query) Values() url.Values {
	values := url.Values{}
	for k, v := range q.params {
		values[k] = append([]string(nil), v...)
	}
	if len(q.orders) > 0 {
		values.Set("order", strings.Join(q.orders, ","))
	}
	return values
}

func (q *Query) url(values url.Values) string {
	u := q.client.endpoint(restPath, q.table)
	if encoded := values.Encode(); encoded != "" {
		u += "?" + encoded
	}
	return u
}

// filterValues returns the row filters only, as used by writes.
func (q *Query) filterValues() url.Values {
	values := q.Values()
	values.Del("select")
	values.Del("order")
	values.Del("limit")
	return values
}

// Execute runs the read and decodes rows into target (a pointer to a slice,
// or to a struct after Single).
func (q *Query) Execute(ctx context.Context, target any) error {
	token, err := q.client.bearer(ctx)
	if err != nil {
		return err
	}

	req, err := q.client.newRequest(ctx, http.MethodGet, q.url(q.Values()), token, nil)
	if err != nil {
		return err
	}
	if q.single {
		req.Header.Set("Accept", singleObjectType)
	} else {
		req.Header.Set("Accept", contentType)
	}

	data, _, err := q.client.send(req)
	if err != nil {
		return fmt.Errorf("select %s: %w", q.table, err)
	}

	return decodeRows(data, target)
}

// Count returns the number of matching rows without transferring them.
func (q *Query) Count(ctx context.Context) (int, error) {
	token, err := q.client.bearer(ctx)
	if err != nil {
		return 0, err
	}

	values := q.filterValues()
	values.Set("select", "id")
	values.Set("limit", "1")

	req, err := q.client.newRequest(ctx, http.MethodGet, q.url(values), token, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Prefer", preferCountExact)

	_, header, err := q.client.send(req)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", q.table, err)
	}

	return parseContentRange(header.Get("Content-Range"))
}

// Update patches every matching row and decodes the updated rows into target.
func (q *Query) Update(ctx context.Context, patch any, target any) error {
	token, err := q.client.bearer(ctx)
	if err != nil {
		return err
	}

	header := http.Header{}
	header.Set("Prefer", preferRepresentation)

	var raw json.RawMessage
	if err := q.client.doJSON(ctx, http.MethodPatch, q.url(q.filterValues()), token, patch, header, &raw); err != nil {
		return fmt.Errorf("update %s: %w", q.table, err)
	}

	if target == nil {
		return nil
	}
	return decodeRows(raw, target)
}

// Delete removes every matching row.
func (q *Query) Delete(ctx context.Context) error {
	token, err := q.client.bearer(ctx)
	if err != nil {
		return err
	}

	if err := q.client.doJSON(ctx, http.MethodDelete, q.url(q.filterValues()), token, nil, nil, nil); err != nil {
		return fmt.Errorf("delete %s: %w", q.table, err)
	}
	return nil
}

// Insert writes row (a struct, map or slice of them) and decodes the stored
// representation into target.
func (c *Client) Insert(ctx context.Context, table string, row any, target any) error {
	token, err := c.bearer(ctx)
	if err != nil {
		return err
	}

	header := http.Header{}
	header.Set("Prefer", preferRepresentation)

	var raw json.RawMessage
	if err := c.doJSON(ctx, http.MethodPost, c.endpoint(restPath, table), token, row, header, &raw); err != nil {
		return fmt.Errorf("insert %s: %w", table, err)
	}

	if target == nil {
		return nil
	}
	return decodeRows(raw, target)
}

// decodeRows goes through a generic value so that a one-element array can
// land in a struct target and timestamps decode into time.Time.
func decodeRows(data []byte, target any) error {
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return fmt.Errorf("decode rows: %w", err)
	}

	if rows, ok := generic.([]any); ok && !isSliceTarget(target) {
		if len(rows) == 0 {
			return fmt.Errorf("decode rows: %w", ErrNoRows)
		}
		generic = rows[0]
	}

	cfg := &mapstructure.DecoderConfig{
		Result:  target,
		TagName: "json",
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeHookFunc(time.RFC3339Nano),
		),
	}

	decoder, err := mapstructure.NewDecoder(cfg)
	if err != nil {
		return err
	}

	if err := decoder.Decode(generic); err != nil {
		return fmt.Errorf("decode rows: %w", err)
	}
	return nil
}

func isSliceTarget(target any) bool {
	switch target.(type) {
	case *[]any, *[]map[string]any:
		return true
	}
	return strings.HasPrefix(fmt.Sprintf("%T", target), "*[]")
}

func formatValue(v any) string {
	switch typed := v.(type) {
	case nil:
		return "null"
	case string:
		return typed
	case time.Time:
		return typed.UTC().Format(time.RFC3339Nano)
	case fmt.Stringer:
		return typed.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

func quoteListValue(v string) string {
	if strings.ContainsAny(v, ",()\" ") {
		return strconv.Quote(v)
	}
	return v
}

// parseContentRange reads the total from "0-9/42" or "*/0".
func parseContentRange(value string) (int, error) {
	idx := strings.LastIndex(value, "/")
	if idx < 0 || idx == len(value)-1 {
		return 0, fmt.Errorf("unexpected content range %q", value)
	}

	total := value[idx+1:]
	if total == "*" {
		return 0, fmt.Errorf("content range %q has no total", value)
	}

	n, err := strconv.Atoi(total)
	if err != nil {
		return 0, fmt.Errorf("parse content range %q: %w", value, err)
	}
	return n, nil
}
