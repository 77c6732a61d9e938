// Package scoring talks to the local resume matching service.
package scoring

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spigell/hireboard/internal/logger"
	"github.com/spigell/hireboard/internal/utils"
)

const (
	DefaultURL = "http://localhost:8000/match"

	defaultTimeout = 2 * time.Minute
	userAgent      = "hireboard/scoring"
	maxBodyLog     = 256

	fieldDescription = "job_description"
	fieldResults     = "num_results"
	fieldDocuments   = "resumes"
)

// ErrDocumentNotFound is returned before any request when a document is missing.
var ErrDocumentNotFound = errors.New("document not found")

type Config struct {
	URL       string
	Timeout   time.Duration
	UserAgent string
}

type Client struct {
	url        string
	HTTPClient *http.Client
	UserAgent  string
	logger     *zap.Logger
}

// Request asks for the TopN documents best matching JobDescription.
type Request struct {
	JobDescription string
	// TopN defaults to the number of documents.
	TopN      int
	Documents []string
}

type Result struct {
	Filename string  `json:"filename"`
	Score    float64 `json:"score"`
}

// StatusError is a non-2xx answer from the matching service.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("bad status: %d", e.Status)
	}
	return fmt.Sprintf("bad status: %d: %s", e.Status, e.Body)
}

func (e *StatusError) HTTPStatus() int {
	return e.Status
}

func New(cfg Config, log *zap.Logger) *Client {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		url = DefaultURL
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	ua := cfg.UserAgent
	if ua == "" {
		ua = userAgent
	}

	return &Client{
		url:        url,
		HTTPClient: &http.Client{Timeout: timeout},
		UserAgent:  ua,
		logger:     logger.WithComponent(log, "scoring"),
	}
}

// Match uploads the documents and returns their scores, best first. Failures
// are returned as they are; the call is never repeated.
func (c *Client) Match(ctx context.Context, req Request) ([]Result, error) {
	if strings.TrimSpace(req.JobDescription) == "" {
		return nil, errors.New("job description is required")
	}
	if len(req.Documents) == 0 {
		return nil, errors.New("at least one document is required")
	}
	if err := checkDocuments(req.Documents); err != nil {
		return nil, err
	}

	topN := req.TopN
	if topN <= 0 {
		topN = len(req.Documents)
	}

	body, contentType, err := encode(req.JobDescription, topN, req.Documents)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, body)
	if err != nil {
		return nil, err
	}
	requestID := uuid.NewString()
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", c.UserAgent)
	httpReq.Header.Set("X-Request-ID", requestID)

	c.logger.Debug("make request",
		zap.String("url", c.url),
		zap.String("request_id", requestID),
		zap.Int("documents", len(req.Documents)),
		zap.Int("num_results", topN),
	)

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("match documents: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read match response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("matching service failed",
			zap.String("request_id", requestID),
			zap.Int("status", resp.StatusCode),
			zap.String("body", utils.TruncateForLog(string(data), maxBodyLog)),
		)
		return nil, &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	var results []Result
	if err := json.Unmarshal(data, &results); err != nil {
		return nil, fmt.Errorf("decode match response: %w", err)
	}

	slices.SortStableFunc(results, func(a, b Result) int {
		return cmp.Compare(b.Score, a.Score)
	})
	return results, nil
}

func checkDocuments(paths []string) error {
	for _, p := range paths {
		info, err := os.Stat(p)
		if errors.Is(err, fs.ErrNotExist) || (err == nil && info.IsDir()) {
			return fmt.Errorf("%w: %s", ErrDocumentNotFound, p)
		}
		if err != nil {
			return fmt.Errorf("stat %s: %w", p, err)
		}
	}
	return nil
}

func encode(description string, topN int, paths []string) (*bytes.Buffer, string, error) {
	var b bytes.Buffer
	w := multipart.NewWriter(&b)

	fields := map[string]string{
		fieldDescription: description,
		fieldResults:     strconv.Itoa(topN),
	}
	for key, val := range fields {
		if err := w.WriteField(key, val); err != nil {
			return nil, "", err
		}
	}

	for _, p := range paths {
		if err := attach(w, p); err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &b, w.FormDataContentType(), nil
}

func attach(w *multipart.Writer, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	part, err := w.CreateFormFile(fieldDocuments, filepath.Base(path))
	if err != nil {
		return err
	}
	_, err = io.Copy(part, file)
	return err
}
