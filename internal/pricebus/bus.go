// Package pricebus maintains one shared WebSocket connection to the market
// data feed and fans live price ticks out to per-coin subscribers.
//
// The connection is opened when the bus gains its first subscriber and,
// when CloseWhenIdle is set, closed again when the last one leaves. Lost
// connections are retried with jittered exponential backoff; after
// MaxRetries consecutive failed attempts the bus parks in StateFailed until
// a new subscription or an explicit Reconnect.
package pricebus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"cryptodash/internal/telemetry"
	"cryptodash/internal/util"
)

// State is the connection state of the bus.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	// StateFailed means the retry ceiling was reached.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// TypePrice is the frame type carrying price updates.
const TypePrice = "price"

// Message is an inbound frame: {"type": "...", "payload": ...}.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ErrClosed is returned by Open after Close.
var ErrClosed = errors.New("price bus closed")

// Options configures a Bus.
type Options struct {
	URL           string
	ReconnectBase time.Duration
	ReconnectMax  time.Duration
	// MaxRetries is the number of consecutive failed connection attempts
	// before the bus enters StateFailed. Zero retries forever.
	MaxRetries int
	// CloseWhenIdle closes the socket when the last subscriber leaves.
	CloseWhenIdle    bool
	HandshakeTimeout time.Duration
	// ReadTimeout drops a connection that has been silent this long. Zero
	// disables the deadline.
	ReadTimeout time.Duration
}

type priceSub struct {
	id uint64
	fn func(float64)
}

type messageSub struct {
	id uint64
	fn func(Message)
}

type stateSub struct {
	id uint64
	fn func(State)
}

// Bus is the live price bus. Create it with New, start it with Open and
// release it with Close.
type Bus struct {
	opts Options
	log  *slog.Logger

	mu       sync.Mutex
	state    State
	base     context.Context
	opened   bool
	closed   bool
	topics   map[string][]priceSub
	refs     map[string]int
	total    int
	messages []messageSub
	watchers []stateSub
	nextID   uint64

	// gen identifies the current connection loop; transitions reported by
	// an older loop are ignored.
	gen    uint64
	cancel context.CancelFunc
	done   chan struct{}
	conn   *websocket.Conn
}

// New creates an idle bus.
func New(opts Options, log *slog.Logger) *Bus {
	if opts.ReconnectBase <= 0 {
		opts.ReconnectBase = 5 * time.Second
	}
	if opts.ReconnectMax < opts.ReconnectBase {
		opts.ReconnectMax = opts.ReconnectBase
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	return &Bus{
		opts:   opts,
		log:    log,
		topics: make(map[string][]priceSub),
		refs:   make(map[string]int),
	}
}

// Open binds the bus to ctx. Subscriptions made before Open connect now;
// later ones connect on demand. Cancelling ctx stops the bus.
func (b *Bus) Open(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if b.opened {
		return nil
	}
	b.opened = true
	b.base = ctx
	if b.activeLocked() > 0 {
		b.startLocked()
	}
	return nil
}

// Close disconnects and waits for the connection loop to exit. It must not
// be called from a subscriber callback.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	done, gen := b.stopLocked()
	b.mu.Unlock()

	if done != nil {
		<-done
	}
	b.transition(gen, StateDisconnected)
}

// Reconnect restarts a stopped or failed bus that still has subscribers.
func (b *Bus) Reconnect() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.activeLocked() > 0 {
		b.startLocked()
	}
}

// State returns the current connection state.
func (b *Bus) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// SubscriberCount returns the number of price callbacks registered for coin.
func (b *Bus) SubscriberCount(coin string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.refs[coin]
}

// Subscribers returns the number of price callbacks across all coins.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}

// ---------------------------------------------------------------------------
// Subscriptions
// ---------------------------------------------------------------------------

// SubscribeToPrice registers fn for price ticks of coin. Callbacks for the
// same coin run in registration order on the bus reader goroutine and must
// not block. The returned function unsubscribes; calling it again is a
// no-op.
func (b *Bus) SubscribeToPrice(coin string, fn func(price float64)) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.topics[coin] = append(b.topics[coin], priceSub{id: id, fn: fn})
	b.refs[coin]++
	b.total++
	telemetry.BusSubscribers.Set(float64(b.total))
	b.startLocked()
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.removePrice(coin, id) })
	}
}

// SubscribeToMessages registers fn for every decoded frame regardless of its
// type. A message subscriber keeps the connection open like a price
// subscriber does.
func (b *Bus) SubscribeToMessages(fn func(Message)) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.messages = append(b.messages, messageSub{id: id, fn: fn})
	b.startLocked()
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			for i, s := range b.messages {
				if s.id == id {
					b.messages = append(b.messages[:i:i], b.messages[i+1:]...)
					break
				}
			}
			b.releaseLocked()
		})
	}
}

// OnStateChange registers fn for connection state transitions.
func (b *Bus) OnStateChange(fn func(State)) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.watchers = append(b.watchers, stateSub{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, s := range b.watchers {
				if s.id == id {
					b.watchers = append(b.watchers[:i:i], b.watchers[i+1:]...)
					return
				}
			}
		})
	}
}

func (b *Bus) removePrice(coin string, id uint64) {
	b.mu.Lock()
	subs := b.topics[coin]
	for i, s := range subs {
		if s.id != id {
			continue
		}
		subs = append(subs[:i:i], subs[i+1:]...)
		if len(subs) == 0 {
			delete(b.topics, coin)
		} else {
			b.topics[coin] = subs
		}
		b.refs[coin]--
		if b.refs[coin] <= 0 {
			delete(b.refs, coin)
		}
		b.total--
		telemetry.BusSubscribers.Set(float64(b.total))
		break
	}
	b.releaseLocked()
}

// releaseLocked applies the idle close policy and unlocks b.mu. The old
// loop is not waited for, so this is safe from inside a callback.
func (b *Bus) releaseLocked() {
	if !b.opts.CloseWhenIdle || b.activeLocked() > 0 || b.cancel == nil {
		b.mu.Unlock()
		return
	}
	_, gen := b.stopLocked()
	b.mu.Unlock()
	b.log.Info("price bus idle, closing connection", "url", b.opts.URL)
	b.transition(gen, StateDisconnected)
}

func (b *Bus) activeLocked() int {
	return b.total + len(b.messages)
}

// ---------------------------------------------------------------------------
// Connection loop
// ---------------------------------------------------------------------------

func (b *Bus) startLocked() {
	if !b.opened || b.closed || b.cancel != nil {
		return
	}
	b.gen++
	gen := b.gen
	ctx, cancel := context.WithCancel(b.base)
	done := make(chan struct{})
	b.cancel = cancel
	b.done = done
	go b.run(ctx, gen, done)
}

// stopLocked cancels the running loop and returns its done channel and the
// generation that now owns the state.
func (b *Bus) stopLocked() (chan struct{}, uint64) {
	b.gen++
	if b.cancel == nil {
		return nil, b.gen
	}
	b.cancel()
	b.cancel = nil
	if b.conn != nil {
		b.conn.Close()
		b.conn = nil
	}
	done := b.done
	b.done = nil
	return done, b.gen
}

// transition moves the bus to s if gen still owns it, notifying watchers.
func (b *Bus) transition(gen uint64, s State) {
	b.mu.Lock()
	if gen != b.gen || b.state == s {
		b.mu.Unlock()
		return
	}
	b.state = s
	watchers := append([]stateSub(nil), b.watchers...)
	b.mu.Unlock()

	telemetry.BusState.Set(float64(s))
	b.log.Debug("price bus state", "state", s.String())
	for _, w := range watchers {
		w.fn(s)
	}
}

// finish clears the loop bookkeeping when the loop exits on its own.
func (b *Bus) finish(gen uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if gen != b.gen || b.cancel == nil {
		return
	}
	b.cancel()
	b.cancel = nil
	b.done = nil
}

func (b *Bus) run(ctx context.Context, gen uint64, done chan struct{}) {
	defer close(done)
	failures := 0

	for {
		b.transition(gen, StateConnecting)
		conn, err := b.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				b.exit(gen)
				return
			}
			failures++
			telemetry.BusReconnects.Inc()
			b.log.Warn("price bus connect failed", "url", b.opts.URL, "attempt", failures, "error", err)
			if b.opts.MaxRetries > 0 && failures >= b.opts.MaxRetries {
				b.log.Error("price bus giving up", "url", b.opts.URL, "attempts", failures)
				b.finish(gen)
				b.transition(gen, StateFailed)
				return
			}
			b.transition(gen, StateDisconnected)
			if !sleep(ctx, util.Backoff(failures-1, b.opts.ReconnectBase, b.opts.ReconnectMax)) {
				b.exit(gen)
				return
			}
			continue
		}

		failures = 0
		if !b.attach(gen, conn) {
			return
		}
		b.transition(gen, StateConnected)
		b.log.Info("price bus connected", "url", b.opts.URL)

		err = b.read(conn)
		b.detach(conn)
		if ctx.Err() != nil {
			b.exit(gen)
			return
		}
		b.log.Warn("price bus connection lost", "url", b.opts.URL, "error", err)
		b.transition(gen, StateDisconnected)
		telemetry.BusReconnects.Inc()
		if !sleep(ctx, util.Backoff(0, b.opts.ReconnectBase, b.opts.ReconnectMax)) {
			b.exit(gen)
			return
		}
	}
}

func (b *Bus) exit(gen uint64) {
	b.finish(gen)
	b.transition(gen, StateDisconnected)
}

func (b *Bus) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: b.opts.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, b.opts.URL, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (b *Bus) attach(gen uint64, conn *websocket.Conn) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if gen != b.gen {
		conn.Close()
		return false
	}
	b.conn = conn
	return true
}

func (b *Bus) detach(conn *websocket.Conn) {
	b.mu.Lock()
	if b.conn == conn {
		b.conn = nil
	}
	b.mu.Unlock()
	conn.Close()
}

func (b *Bus) read(conn *websocket.Conn) error {
	for {
		if b.opts.ReadTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(b.opts.ReadTimeout))
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		b.dispatch(data)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
