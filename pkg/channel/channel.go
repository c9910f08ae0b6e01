// Package channel is the push-channel client: a websocket connection to the
// order-status service that reconnects with exponential backoff, keeps itself
// alive, deduplicates subscriptions and fans decoded events out to listeners.
package channel

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/uhyunpark/noteswap/pkg/metrics"
	"github.com/uhyunpark/noteswap/pkg/util"
)

// ErrTransport marks connection-level failures. They are only logged; recovery
// goes through the reconnect schedule.
var ErrTransport = errors.New("channel transport error")

const writeWait = 10 * time.Second

type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	}
	return "disconnected"
}

type Config struct {
	URL           string
	ReconnectBase time.Duration
	ReconnectMax  time.Duration
	PingInterval  time.Duration
}

func DefaultConfig(url string) Config {
	return Config{
		URL:           url,
		ReconnectBase: time.Second,
		ReconnectMax:  60 * time.Second,
		PingInterval:  30 * time.Second,
	}
}

// Backoff returns the delay before the attempt-th consecutive reconnect:
// min(base * 2^(attempt-1), ceiling).
func Backoff(base, ceiling time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		if d >= ceiling {
			break
		}
		d *= 2
	}
	if d > ceiling {
		d = ceiling
	}
	return d
}

// OrderChannel owns one logical connection. The desired subscription set
// survives reconnects and is replayed on every successful connect.
type OrderChannel struct {
	cfg     Config
	dialer  *websocket.Dialer
	clock   util.Clock
	logger  *zap.SugaredLogger
	metrics *metrics.Metrics

	mu       sync.Mutex
	state    State
	running  bool
	cancel   context.CancelFunc
	conn     *websocket.Conn
	attempts int
	desired  map[string]Subscription

	lmu       sync.RWMutex
	listeners map[int]func(Message)
	nextID    int
}

func New(cfg Config, clock util.Clock, logger *zap.SugaredLogger, m *metrics.Metrics) (*OrderChannel, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("channel: empty url")
	}
	if cfg.ReconnectBase <= 0 || cfg.ReconnectMax < cfg.ReconnectBase {
		return nil, fmt.Errorf("channel: invalid backoff %s..%s", cfg.ReconnectBase, cfg.ReconnectMax)
	}
	if cfg.PingInterval <= 0 {
		return nil, fmt.Errorf("channel: invalid ping interval %s", cfg.PingInterval)
	}
	if clock == nil {
		clock = util.RealClock{}
	}
	return &OrderChannel{
		cfg:       cfg,
		dialer:    &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		clock:     clock,
		logger:    util.OrNop(logger),
		metrics:   m,
		desired:   make(map[string]Subscription),
		listeners: make(map[int]func(Message)),
	}, nil
}

func (c *OrderChannel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempts is the number of consecutive failed connections since the last success.
func (c *OrderChannel) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

func (c *OrderChannel) setStateLocked(s State) {
	c.state = s
	c.metrics.SetChannelState(int(s))
}

// ==============================
// Lifecycle
// ==============================

// Connect starts the connection loop. It is a no-op while a connection is up,
// being established, or scheduled for reconnect.
func (c *OrderChannel) Connect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.running = true
	c.cancel = cancel
	c.attempts = 0
	c.setStateLocked(Connecting)
	go c.run(ctx)
}

// Disconnect closes the connection and suppresses automatic reconnection.
func (c *OrderChannel) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	c.running = false
	c.cancel()
	if c.conn != nil {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = c.conn.Close()
		c.conn = nil
	}
	c.attempts = 0
	c.setStateLocked(Disconnected)
	c.logger.Infow("channel_disconnected", "url", c.cfg.URL)
}

func (c *OrderChannel) run(ctx context.Context) {
	for {
		conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warnw("channel_dial_failed", "url", c.cfg.URL, "err", fmt.Errorf("%w: %v", ErrTransport, err))
		} else {
			if !c.connected(ctx, conn) {
				_ = conn.Close()
				return
			}
			c.readLoop(ctx, conn)
		}

		delay, ok := c.scheduleReconnect(ctx)
		if !ok {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-c.clock.After(delay):
		}

		c.mu.Lock()
		if ctx.Err() != nil {
			c.mu.Unlock()
			return
		}
		c.setStateLocked(Connecting)
		c.mu.Unlock()
	}
}

// connected installs conn and replays the desired subscriptions.
func (c *OrderChannel) connected(ctx context.Context, conn *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctx.Err() != nil {
		return false
	}
	c.conn = conn
	c.attempts = 0
	c.setStateLocked(Connected)
	c.logger.Infow("channel_connected", "url", c.cfg.URL, "subscriptions", len(c.desired))

	if subs := c.desiredLocked(); len(subs) > 0 {
		c.sendLocked(ClientMessage{Type: ClientSubscribe, Channels: subs})
	}
	return true
}

func (c *OrderChannel) scheduleReconnect(ctx context.Context) (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctx.Err() != nil {
		return 0, false
	}
	c.attempts++
	delay := Backoff(c.cfg.ReconnectBase, c.cfg.ReconnectMax, c.attempts)
	c.setStateLocked(Disconnected)
	c.metrics.Reconnect()
	c.logger.Infow("channel_reconnect_scheduled", "attempt", c.attempts, "delay_ms", delay.Milliseconds())
	return delay, true
}

func (c *OrderChannel) readLoop(ctx context.Context, conn *websocket.Conn) {
	done := make(chan struct{})
	go c.pingLoop(conn, done)
	defer close(done)

	readWait := 2*c.cfg.PingInterval + writeWait
	for {
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Warnw("channel_closed", "err", fmt.Errorf("%w: %v", ErrTransport, err))
			}
			break
		}
		c.dispatch(data)
	}

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	_ = conn.Close()
}

func (c *OrderChannel) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-c.clock.After(c.cfg.PingInterval):
		}
		c.mu.Lock()
		if c.conn != conn {
			c.mu.Unlock()
			return
		}
		c.sendLocked(ClientMessage{Type: ClientPing})
		c.mu.Unlock()
	}
}

// sendLocked writes one client message. Failures are logged; the read loop
// notices the broken connection and schedules a reconnect.
func (c *OrderChannel) sendLocked(msg ClientMessage) bool {
	if c.conn == nil {
		return false
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(msg); err != nil {
		c.logger.Warnw("channel_send_failed", "type", msg.Type, "err", fmt.Errorf("%w: %v", ErrTransport, err))
		return false
	}
	return true
}

// ==============================
// Subscriptions
// ==============================

// Subscribe adds channels to the desired set and transmits only the ones that
// were not already present. While disconnected nothing is sent; the set is
// replayed on connect.
func (c *OrderChannel) Subscribe(subs ...Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var fresh []Subscription
	for _, s := range subs {
		s = s.Canonical()
		key := s.Key()
		if _, ok := c.desired[key]; ok {
			continue
		}
		c.desired[key] = s
		fresh = append(fresh, s)
	}
	if len(fresh) == 0 || c.state != Connected {
		return
	}
	c.sendLocked(ClientMessage{Type: ClientSubscribe, Channels: fresh})
}

// Unsubscribe removes channels from the desired set and transmits the removal.
// Transmission is best-effort and skipped while disconnected.
func (c *OrderChannel) Unsubscribe(subs ...Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	seen := make(map[string]bool, len(subs))
	var removed []Subscription
	for _, s := range subs {
		s = s.Canonical()
		key := s.Key()
		if seen[key] {
			continue
		}
		seen[key] = true
		delete(c.desired, key)
		removed = append(removed, s)
	}
	if len(removed) == 0 || c.state != Connected {
		return
	}
	c.sendLocked(ClientMessage{Type: ClientUnsubscribe, Channels: removed})
}

// Reset drops every desired subscription. Used when the active account changes.
func (c *OrderChannel) Reset() {
	c.Unsubscribe(c.Subscriptions()...)
}

// Subscriptions returns the desired set ordered by key.
func (c *OrderChannel) Subscriptions() []Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.desiredLocked()
}

func (c *OrderChannel) desiredLocked() []Subscription {
	out := make([]Subscription, 0, len(c.desired))
	for _, s := range c.desired {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// ==============================
// Listeners
// ==============================

// AddListener registers fn for every decoded message. The returned func removes it.
func (c *OrderChannel) AddListener(fn func(Message)) (remove func()) {
	c.lmu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.lmu.Unlock()
	return func() {
		c.lmu.Lock()
		delete(c.listeners, id)
		c.lmu.Unlock()
	}
}

func (c *OrderChannel) OnOrderUpdate(fn func(*OrderUpdate)) (remove func()) {
	return c.AddListener(func(m Message) {
		if u, ok := m.(*OrderUpdate); ok {
			fn(u)
		}
	})
}

func (c *OrderChannel) OnPoolState(fn func(*PoolStateUpdate)) (remove func()) {
	return c.AddListener(func(m Message) {
		if u, ok := m.(*PoolStateUpdate); ok {
			fn(u)
		}
	})
}

func (c *OrderChannel) OnOraclePrice(fn func(*OraclePriceUpdate)) (remove func()) {
	return c.AddListener(func(m Message) {
		if u, ok := m.(*OraclePriceUpdate); ok {
			fn(u)
		}
	})
}

func (c *OrderChannel) OnStats(fn func(*StatsUpdate)) (remove func()) {
	return c.AddListener(func(m Message) {
		if u, ok := m.(*StatsUpdate); ok {
			fn(u)
		}
	})
}

func (c *OrderChannel) dispatch(data []byte) {
	msg, err := Decode(data)
	if err != nil {
		c.metrics.DroppedMessage()
		c.logger.Warnw("channel_message_dropped", "err", err, "bytes", len(data))
		return
	}
	if e, ok := msg.(*ErrorMessage); ok {
		c.logger.Warnw("channel_server_error", "message", e.Message)
	}

	c.lmu.RLock()
	fns := make([]func(Message), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.lmu.RUnlock()

	for _, fn := range fns {
		c.deliver(fn, msg)
	}
}

func (c *OrderChannel) deliver(fn func(Message), msg Message) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Errorw("channel_listener_panic", "type", msg.MessageType(), "panic", r)
		}
	}()
	fn(msg)
}
