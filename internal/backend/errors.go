package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrNoRows is returned when a single-row read or write matched nothing.
var ErrNoRows = errors.New("no rows")

// APIError is a non-success answer from the backend.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.Code != "" {
		return fmt.Sprintf("bad status: %d %s: %s", e.Status, e.Code, msg)
	}
	return fmt.Sprintf("bad status: %d: %s", e.Status, msg)
}

// HTTPStatus exposes the status code for retry classification.
func (e *APIError) HTTPStatus() int {
	return e.Status
}

// IsClientError reports whether err carries a 4xx status.
func IsClientError(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Status >= 400 && apiErr.Status < 500
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

// errorBody covers the error shapes of the rest, auth and storage services.
type errorBody struct {
	Code             any    `json:"code"`
	ErrorCode        string `json:"error_code"`
	Message          string `json:"message"`
	Msg              string `json:"msg"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Hint             string `json:"hint"`
}

func parseAPIError(status int, data []byte) error {
	apiErr := &APIError{Status: status}

	var body errorBody
	if len(data) > 0 && json.Unmarshal(data, &body) == nil {
		apiErr.Code = firstNonEmpty(body.ErrorCode, codeString(body.Code), body.Error)
		apiErr.Message = firstNonEmpty(body.Message, body.Msg, body.ErrorDescription, body.Hint)
	}

	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(data))
	}

	return apiErr
}

func codeString(v any) string {
	switch typed := v.(type) {
	case nil:
		return ""
	case string:
		return typed
	case float64:
		return fmt.Sprintf("%d", int(typed))
	default:
		return fmt.Sprintf("%v", typed)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
