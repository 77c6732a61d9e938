// Package realtime subscribes to row changes pushed by the backend over a
// single websocket connection.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/spigell/hireboard/internal/logger"
	"github.com/spigell/hireboard/internal/utils"
)

const (
	defaultHeartbeat     = 25 * time.Second
	defaultJoinTimeout   = 10 * time.Second
	defaultMaxReconnects = 10
	defaultReconnectBase = time.Second
	defaultReconnectMax  = 30 * time.Second
	writeTimeout         = 5 * time.Second
)

var (
	// ErrGaveUp is reported through the error hook when reconnection
	// attempts are exhausted.
	ErrGaveUp = errors.New("realtime: reconnect attempts exhausted")
	ErrClosed = errors.New("realtime: client closed")
)

// TokenFunc returns the token sent with every channel join.
type TokenFunc func(ctx context.Context) (string, error)

type Config struct {
	URL   string
	Token TokenFunc

	Heartbeat     time.Duration
	JoinTimeout   time.Duration
	MaxReconnects int
	// ReconnectDelay returns the wait before the given reconnect attempt (1-based).
	ReconnectDelay func(attempt int) time.Duration
	// OnError receives connection failures that are not returned to a caller.
	OnError func(error)

	Dialer *websocket.Dialer
}

// Client multiplexes subscriptions over one lazily dialled socket. The
// socket is closed when the last subscription leaves.
type Client struct {
	url       string
	token     TokenFunc
	dialer    *websocket.Dialer
	heartbeat time.Duration
	joinWait  time.Duration
	reconnect int
	delay     func(int) time.Duration
	onError   func(error)
	logger    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	sock   *socket
	subs   map[string]*Subscription
	seq    uint64
	closed bool

	pendingMu sync.Mutex
	pending   map[string]chan replyPayload

	ref atomic.Uint64
}

type socket struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	done    chan struct{}
}

func (s *socket) write(msg message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, raw)
}

func (s *socket) close() {
	s.writeMu.Lock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeTimeout))
	s.writeMu.Unlock()
	_ = s.conn.Close()
}

// Subscription is one joined channel topic.
type Subscription struct {
	client  *Client
	topic   string
	filter  Filter
	handler func(Change)
	once    sync.Once
}

// Topic returns the channel topic of the subscription.
func (s *Subscription) Topic() string {
	return s.topic
}

// Unsubscribe leaves the channel. It is safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.client.remove(s)
	})
}

func New(cfg Config, log *zap.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("realtime url is required")
	}

	token := cfg.Token
	if token == nil {
		token = func(context.Context) (string, error) { return "", nil }
	}

	dialer := cfg.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: defaultJoinTimeout}
	}

	heartbeat := cfg.Heartbeat
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}

	joinWait := cfg.JoinTimeout
	if joinWait <= 0 {
		joinWait = defaultJoinTimeout
	}

	reconnect := cfg.MaxReconnects
	if reconnect == 0 {
		reconnect = defaultMaxReconnects
	}
	if reconnect < 0 {
		reconnect = 0
	}

	delay := cfg.ReconnectDelay
	if delay == nil {
		delay = func(attempt int) time.Duration {
			return utils.Jitter(utils.Backoff(attempt, defaultReconnectBase, defaultReconnectMax))
		}
	}

	onError := cfg.OnError
	if onError == nil {
		onError = func(error) {}
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Client{
		url:       cfg.URL,
		token:     token,
		dialer:    dialer,
		heartbeat: heartbeat,
		joinWait:  joinWait,
		reconnect: reconnect,
		delay:     delay,
		onError:   onError,
		logger:    logger.WithComponent(log, "realtime"),
		ctx:       ctx,
		cancel:    cancel,
		subs:      make(map[string]*Subscription),
		pending:   make(map[string]chan replyPayload),
	}, nil
}

// Subscribe joins a channel for the changes selected by filter. The handler
// runs on the socket reader goroutine and must not block.
func (c *Client) Subscribe(ctx context.Context, filter Filter, handler func(Change)) (*Subscription, error) {
	if filter.Table == "" {
		return nil, errors.New("realtime: table is required")
	}
	if handler == nil {
		return nil, errors.New("realtime: handler is required")
	}
	filter = filter.normalized()

	token, err := c.token(ctx)
	if err != nil {
		return nil, fmt.Errorf("get realtime token: %w", err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}

	sock := c.sock
	if sock == nil {
		sock, err = c.dialLocked(ctx, token)
		if err != nil {
			c.mu.Unlock()
			return nil, err
		}
	}

	c.seq++
	sub := &Subscription{
		client:  c,
		topic:   topicPrefix + filter.Table + ":" + strconv.FormatUint(c.seq, 10),
		filter:  filter,
		handler: handler,
	}
	c.subs[sub.topic] = sub
	c.mu.Unlock()

	if err := c.awaitJoin(ctx, sock, sub, token); err != nil {
		sub.Unsubscribe()
		return nil, err
	}

	c.logger.Debug("subscribed",
		zap.String("topic", sub.topic),
		zap.String("table", filter.Table),
		zap.String("filter", filter.Filter),
	)
	return sub, nil
}

func (c *Client) awaitJoin(ctx context.Context, sock *socket, sub *Subscription, token string) error {
	ref := c.nextRef()
	msg, err := newJoin(sub.topic, ref, token, sub.filter)
	if err != nil {
		return err
	}

	replies := c.expectReply(ref)
	defer c.dropReply(ref)

	if err := sock.write(msg); err != nil {
		return fmt.Errorf("join %s: %w", sub.topic, err)
	}

	timer := time.NewTimer(c.joinWait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("join %s: timed out", sub.topic)
	case <-sock.done:
		return fmt.Errorf("join %s: connection lost", sub.topic)
	case reply := <-replies:
		if reply.Status != "ok" {
			return fmt.Errorf("join %s rejected: %s %s", sub.topic, reply.Status, string(reply.Response))
		}
		return nil
	}
}

// dialLocked opens the socket and rejoins the topics of every live
// subscription. Callers hold c.mu.
func (c *Client) dialLocked(ctx context.Context, token string) (*socket, error) {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial realtime: %w", err)
	}

	sock := &socket{conn: conn, done: make(chan struct{})}
	c.sock = sock

	c.wg.Add(2)
	go c.readLoop(sock)
	go c.heartbeatLoop(sock)

	for _, sub := range c.subs {
		msg, err := newJoin(sub.topic, c.nextRef(), token, sub.filter)
		if err == nil {
			err = sock.write(msg)
		}
		if err != nil {
			c.logger.Warn("rejoin failed", zap.String("topic", sub.topic), zap.Error(err))
		}
	}

	c.logger.Debug("socket connected", zap.Int("topics", len(c.subs)))
	return sock, nil
}

func (c *Client) remove(sub *Subscription) {
	c.mu.Lock()
	if c.subs[sub.topic] != sub {
		c.mu.Unlock()
		return
	}
	delete(c.subs, sub.topic)

	sock := c.sock
	last := len(c.subs) == 0
	if last && sock != nil {
		c.sock = nil
		close(sock.done)
	}
	c.mu.Unlock()

	if sock == nil {
		return
	}

	leave := message{Topic: sub.topic, Event: eventLeave, Payload: json.RawMessage(`{}`), Ref: c.nextRef()}
	if err := sock.write(leave); err != nil {
		c.logger.Debug("leave failed", zap.String("topic", sub.topic), zap.Error(err))
	}

	if last {
		sock.close()
		c.logger.Debug("socket closed, no subscriptions left")
	}
}

func (c *Client) readLoop(sock *socket) {
	defer c.wg.Done()

	for {
		_, data, err := sock.conn.ReadMessage()
		if err != nil {
			c.dropped(sock, err)
			return
		}
		c.dispatch(data)
	}
}

func (c *Client) heartbeatLoop(sock *socket) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-sock.done:
			return
		case <-ticker.C:
			hb := message{Topic: phoenixTopic, Event: eventHeartbeat, Payload: json.RawMessage(`{}`), Ref: c.nextRef()}
			if err := sock.write(hb); err != nil {
				c.logger.Warn("heartbeat failed", zap.Error(err))
				_ = sock.conn.Close()
				return
			}
		}
	}
}

func (c *Client) dispatch(data []byte) {
	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logger.Warn("undecodable message", zap.String("data", utils.TruncateForLog(string(data), 200)), zap.Error(err))
		return
	}

	switch msg.Event {
	case eventReply:
		var reply replyPayload
		if err := json.Unmarshal(msg.Payload, &reply); err != nil {
			c.logger.Warn("undecodable reply", zap.String("topic", msg.Topic), zap.Error(err))
			return
		}
		c.deliverReply(msg.Ref, reply)
	case eventChanges:
		c.mu.Lock()
		sub := c.subs[msg.Topic]
		c.mu.Unlock()
		if sub == nil {
			return
		}

		change, err := decodeChange(msg.Payload)
		if err != nil {
			c.logger.Warn("undecodable change", zap.String("topic", msg.Topic), zap.Error(err))
			return
		}
		sub.handler(change)
	case eventError, eventClose:
		c.logger.Warn("channel event", zap.String("topic", msg.Topic), zap.String("event", msg.Event))
	case eventSystem:
		c.logger.Debug("system message", zap.String("topic", msg.Topic), zap.ByteString("payload", msg.Payload))
	}
}

// dropped handles a read failure. Sockets closed on purpose are no longer
// current and are ignored.
func (c *Client) dropped(sock *socket, err error) {
	c.mu.Lock()
	if c.sock != sock {
		c.mu.Unlock()
		return
	}
	c.sock = nil
	close(sock.done)
	c.mu.Unlock()

	_ = sock.conn.Close()
	c.logger.Warn("socket lost", zap.Error(err))
	c.onError(fmt.Errorf("realtime connection lost: %w", err))

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.redial()
	}()
}

func (c *Client) redial() {
	for attempt := 1; attempt <= c.reconnect; attempt++ {
		if err := utils.WaitFor(c.ctx, c.delay(attempt)); err != nil {
			return
		}

		token, err := c.token(c.ctx)
		if err != nil {
			c.logger.Warn("reconnect token", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}

		c.mu.Lock()
		if c.closed || c.sock != nil || len(c.subs) == 0 {
			c.mu.Unlock()
			return
		}
		_, err = c.dialLocked(c.ctx, token)
		c.mu.Unlock()

		if err == nil {
			c.logger.Info("socket reconnected", zap.Int("attempt", attempt))
			return
		}

		c.logger.Warn("reconnect failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", c.reconnect),
			zap.Error(err),
		)
	}

	c.logger.Error("giving up on realtime, falling back to polling")
	c.onError(ErrGaveUp)
}

// Connected reports whether a socket is currently open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sock != nil
}

// Close drops every subscription, closes the socket and waits for the
// background goroutines.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	sock := c.sock
	c.sock = nil
	if sock != nil {
		close(sock.done)
	}
	c.subs = make(map[string]*Subscription)
	c.mu.Unlock()

	c.cancel()
	if sock != nil {
		sock.close()
	}
	c.wg.Wait()
	return nil
}

func (c *Client) nextRef() string {
	return strconv.FormatUint(c.ref.Add(1), 10)
}

func (c *Client) expectReply(ref string) chan replyPayload {
	ch := make(chan replyPayload, 1)
	c.pendingMu.Lock()
	c.pending[ref] = ch
	c.pendingMu.Unlock()
	return ch
}

func (c *Client) dropReply(ref string) {
	c.pendingMu.Lock()
	delete(c.pending, ref)
	c.pendingMu.Unlock()
}

func (c *Client) deliverReply(ref string, reply replyPayload) {
	c.pendingMu.Lock()
	ch, ok := c.pending[ref]
	c.pendingMu.Unlock()
	if !ok {
		return
	}

	select {
	case ch <- reply:
	default:
	}
}
