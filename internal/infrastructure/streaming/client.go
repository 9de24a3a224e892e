package streaming

import (
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vitos/ig_price_stream/internal/domain"
	"go.uber.org/zap"
)

// Config tunes the websocket push client.
type Config struct {
	URL            string
	DialTimeout    time.Duration
	StallTimeout   time.Duration
	ReconnectBase  time.Duration
	ReconnectMax   time.Duration
	MaxDialRetries int
}

func (c *Config) applyDefaults() {
	if c.DialTimeout == 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.StallTimeout == 0 {
		c.StallTimeout = 90 * time.Second
	}
	if c.ReconnectBase == 0 {
		c.ReconnectBase = time.Second
	}
	if c.ReconnectMax == 0 {
		c.ReconnectMax = 30 * time.Second
	}
	if c.MaxDialRetries == 0 {
		c.MaxDialRetries = 5
	}
}

type sink struct {
	item   string
	req    domain.SubscriptionRequest
	events domain.SubscriptionEvents
}

// Client is the push-protocol transport over a single websocket connection.
// Connect and Disconnect return immediately; progress is reported through the
// status callbacks as raw status strings.
type Client struct {
	cfg Config
	log *zap.Logger

	mu         sync.Mutex
	conn       *websocket.Conn
	connecting bool
	closing    bool
	statusCbs  []func(string)
	byID       map[string]*sink // subscription id -> sink
	byItem     map[string]*sink // item key -> sink
	subSeq     int64
	writeMu    sync.Mutex
}

func NewClient(cfg Config, log *zap.Logger) *Client {
	cfg.applyDefaults()
	return &Client{
		cfg:    cfg,
		log:    log,
		byID:   make(map[string]*sink),
		byItem: make(map[string]*sink),
	}
}

// OnStatusChange registers a connection status listener.
func (c *Client) OnStatusChange(cb func(status string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statusCbs = append(c.statusCbs, cb)
}

func (c *Client) emitStatus(status string) {
	c.mu.Lock()
	cbs := make([]func(string), len(c.statusCbs))
	copy(cbs, c.statusCbs)
	c.mu.Unlock()

	for _, cb := range cbs {
		cb(status)
	}
}

// Connect dials asynchronously. A no-op if a session is already established
// or being established.
func (c *Client) Connect() error {
	c.mu.Lock()
	if c.conn != nil || c.connecting {
		c.mu.Unlock()
		return nil
	}
	c.connecting = true
	c.closing = false
	c.mu.Unlock()

	c.emitStatus(domain.RawStatusConnecting)
	go c.dialLoop()
	return nil
}

func (c *Client) dialLoop() {
	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.DialTimeout}
	wait := c.cfg.ReconnectBase

	for attempt := 1; ; attempt++ {
		conn, _, err := dialer.Dial(c.cfg.URL, nil)
		if err == nil {
			c.mu.Lock()
			if c.closing {
				// Disconnected while the dial was in flight. Clear the
				// in-progress flag or a later Connect becomes a no-op.
				c.connecting = false
				c.mu.Unlock()
				conn.Close()
				return
			}
			c.conn = conn
			c.connecting = false
			c.mu.Unlock()

			c.emitStatus(domain.RawStatusWSStreaming)
			c.resubscribe()
			go c.readLoop(conn)
			return
		}

		c.log.Warn("dial failed",
			zap.String("url", c.cfg.URL),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if attempt >= c.cfg.MaxDialRetries || c.isClosing() {
			c.mu.Lock()
			c.connecting = false
			c.mu.Unlock()
			c.emitStatus(domain.RawStatusDisconnected)
			return
		}
		c.emitStatus(domain.RawStatusDisconnectedRetry)
		time.Sleep(wait)
		wait *= 2
		if wait > c.cfg.ReconnectMax {
			wait = c.cfg.ReconnectMax
		}
	}
}

func (c *Client) isClosing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closing
}

// Disconnect closes the session. Active subscriptions stay registered so a
// later Connect resumes them.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	c.closing = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	c.emitStatus(domain.RawStatusDisconnected)
	return nil
}

// Subscribe registers the event sink and issues the subscribe command.
// Returns the subscription id for Unsubscribe.
func (c *Client) Subscribe(req domain.SubscriptionRequest, events domain.SubscriptionEvents) (string, error) {
	id := "sub-" + strconv.FormatInt(atomic.AddInt64(&c.subSeq, 1), 10)
	s := &sink{item: req.Item, req: req, events: events}

	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		return "", fmt.Errorf("subscribe %s: %w", req.Item, domain.ErrNotConnected)
	}
	if _, dup := c.byItem[req.Item]; dup {
		c.mu.Unlock()
		return "", fmt.Errorf("subscribe %s: %w", req.Item, domain.ErrAlreadySubscribed)
	}
	c.byID[id] = s
	c.byItem[req.Item] = s
	conn := c.conn
	c.mu.Unlock()

	cmd := command{
		Op:       "subscribe",
		Sub:      id,
		Mode:     string(req.Mode),
		Item:     req.Item,
		Fields:   req.Fields,
		Snapshot: req.Snapshot,
	}
	if err := c.writeJSON(conn, cmd); err != nil {
		c.dropSink(id)
		return "", fmt.Errorf("subscribe %s: %w", req.Item, err)
	}
	return id, nil
}

// Unsubscribe removes the sink and issues the unsubscribe command. Safe to
// call while disconnected; the sink is dropped either way.
func (c *Client) Unsubscribe(id string) error {
	c.mu.Lock()
	s, ok := c.byID[id]
	if ok {
		delete(c.byID, id)
		delete(c.byItem, s.item)
	}
	conn := c.conn
	c.mu.Unlock()

	if !ok || conn == nil {
		return nil
	}
	return c.writeJSON(conn, command{Op: "unsubscribe", Sub: id, Item: s.item})
}

func (c *Client) dropSink(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.byID[id]; ok {
		delete(c.byID, id)
		delete(c.byItem, s.item)
	}
}

// resubscribe re-issues subscribe commands for every registered sink after a
// reconnect.
func (c *Client) resubscribe() {
	c.mu.Lock()
	conn := c.conn
	sinks := make(map[string]*sink, len(c.byID))
	for id, s := range c.byID {
		sinks[id] = s
	}
	c.mu.Unlock()

	if conn == nil {
		return
	}
	for id, s := range sinks {
		cmd := command{
			Op:       "subscribe",
			Sub:      id,
			Mode:     string(s.req.Mode),
			Item:     s.req.Item,
			Fields:   s.req.Fields,
			Snapshot: s.req.Snapshot,
		}
		if err := c.writeJSON(conn, cmd); err != nil {
			c.log.Warn("resubscribe failed", zap.String("item", s.item), zap.Error(err))
		}
	}
}

func (c *Client) writeJSON(conn *websocket.Conn, v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(v)
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		conn.SetReadDeadline(time.Now().Add(c.cfg.StallTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.isClosing() {
				return
			}
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				// No traffic inside the stall window. The session is left
				// for the caller to tear down explicitly.
				c.log.Warn("connection stalled", zap.Duration("timeout", c.cfg.StallTimeout))
				c.emitStatus(domain.RawStatusStalled)
				return
			}

			c.log.Warn("read error, reconnecting", zap.Error(err))
			c.mu.Lock()
			c.conn = nil
			c.connecting = true
			c.mu.Unlock()
			conn.Close()

			c.emitStatus(domain.RawStatusDisconnectedRetry)
			c.dialLoop()
			return
		}

		var event serverEvent
		if err := json.Unmarshal(message, &event); err != nil {
			c.log.Warn("malformed server event", zap.Error(err))
			continue
		}
		c.dispatch(event)
	}
}

func (c *Client) dispatch(event serverEvent) {
	c.mu.Lock()
	s, ok := c.byItem[event.Item]
	c.mu.Unlock()
	if !ok {
		return
	}

	switch event.Type {
	case eventSubscribed:
		if s.events.OnSubscribed != nil {
			s.events.OnSubscribed()
		}
	case eventUpdate:
		var fields map[string]string
		if err := json.Unmarshal(event.Fields, &fields); err != nil {
			c.log.Warn("malformed update fields", zap.String("item", event.Item), zap.Error(err))
			return
		}
		if s.events.OnUpdate != nil {
			s.events.OnUpdate(event.Item, fields)
		}
	case eventLoss:
		if s.events.OnUpdateLost != nil {
			s.events.OnUpdateLost(event.Count)
		}
	case eventError:
		// The server rejected the subscription; it is dead on arrival.
		c.mu.Lock()
		for id, cand := range c.byID {
			if cand == s {
				delete(c.byID, id)
				break
			}
		}
		delete(c.byItem, s.item)
		c.mu.Unlock()
		if s.events.OnError != nil {
			s.events.OnError(event.Code, event.Message)
		}
	case eventUnsubscribed:
		c.mu.Lock()
		for id, cand := range c.byID {
			if cand == s {
				delete(c.byID, id)
				break
			}
		}
		delete(c.byItem, s.item)
		c.mu.Unlock()
		if s.events.OnUnsubscribed != nil {
			s.events.OnUnsubscribed()
		}
	default:
		c.log.Debug("unhandled server event", zap.String("type", event.Type))
	}
}
