package backend

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/spigell/hireboard/internal/logger"
)

const (
	restPath     = "/rest/v1"
	authPath     = "/auth/v1"
	storagePath  = "/storage/v1"
	realtimePath = "/realtime/v1/websocket"
	userAgent    = "spigell/hireboard"

	defaultTimeout = 10 * time.Second
	// Access tokens expiring within this margin are refreshed before use.
	refreshMargin = time.Minute
)

// Config holds the connection settings of the hosted backend.
type Config struct {
	URL       string
	AnonKey   string
	UserAgent string
	Timeout   time.Duration
	// RequestsPerSecond paces outgoing requests. Zero disables pacing.
	RequestsPerSecond float64
	Burst             int
}

// Client talks to the hosted backend: rows, auth, storage. It owns the
// current auth session and notifies listeners when it changes.
type Client struct {
	baseURL    *url.URL
	anonKey    string
	logger     *zap.Logger
	limiter    *rate.Limiter
	HTTPClient *http.Client
	UserAgent  string

	mu        sync.RWMutex
	session   *Session
	listeners map[uint64]AuthListener
	nextID    uint64

	refreshGroup singleflight.Group
	now          func() time.Time
}

func New(cfg Config, log *zap.Logger) (*Client, error) {
	raw := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if raw == "" {
		return nil, errors.New("backend url is required")
	}

	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse backend url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("unsupported backend url scheme %q", base.Scheme)
	}

	if strings.TrimSpace(cfg.AnonKey) == "" {
		return nil, errors.New("backend anon key is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	ua := cfg.UserAgent
	if ua == "" {
		ua = userAgent
	}

	c := &Client{
		baseURL: base,
		anonKey: strings.TrimSpace(cfg.AnonKey),
		logger:  logger.WithComponent(log, "backend"),
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
		UserAgent: ua,
		listeners: make(map[uint64]AuthListener),
		now:       time.Now,
	}

	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return c, nil
}

// AnonKey returns the public API key the client was built with.
func (c *Client) AnonKey() string {
	return c.anonKey
}

// RealtimeURL returns the websocket endpoint of the change feed.
func (c *Client) RealtimeURL() string {
	u := *c.baseURL
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + realtimePath

	q := url.Values{}
	q.Set("apikey", c.anonKey)
	q.Set("vsn", "1.0.0")
	u.RawQuery = q.Encode()

	return u.String()
}

func (c *Client) endpoint(prefix string, segments ...string) string {
	u := *c.baseURL
	path := strings.TrimRight(u.Path, "/") + prefix
	for _, s := range segments {
		path += "/" + strings.Trim(s, "/")
	}
	u.Path = path
	u.RawQuery = ""
	return u.String()
}
