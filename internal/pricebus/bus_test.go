package pricebus

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptodash/internal/util"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func testOptions(url string) Options {
	return Options{
		URL:           url,
		ReconnectBase: 5 * time.Millisecond,
		ReconnectMax:  20 * time.Millisecond,
	}
}

type recorder struct {
	mu     sync.Mutex
	prices []float64
}

func (r *recorder) add(p float64) {
	r.mu.Lock()
	r.prices = append(r.prices, p)
	r.mu.Unlock()
}

func (r *recorder) values() []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]float64(nil), r.prices...)
}

func TestDispatchDeliversOnlySubscribedCoin(t *testing.T) {
	b := New(testOptions("ws://unused"), util.Discard())
	var rec recorder
	b.SubscribeToPrice("bitcoin", rec.add)

	b.dispatch([]byte(`{"type":"price","payload":{"bitcoin":50000,"ethereum":3000}}`))

	assert.Equal(t, []float64{50000}, rec.values())
}

func TestDispatchRegistrationOrder(t *testing.T) {
	b := New(testOptions("ws://unused"), util.Discard())
	var mu sync.Mutex
	var order []string
	for _, name := range []string{"first", "second", "third"} {
		b.SubscribeToPrice("bitcoin", func(float64) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		})
	}

	b.dispatch([]byte(`{"type":"price","payload":{"bitcoin":1}}`))
	b.dispatch([]byte(`{"type":"price","payload":{"bitcoin":2}}`))

	assert.Equal(t, []string{"first", "second", "third", "first", "second", "third"}, order)
}

func TestDispatchPreservesArrivalOrder(t *testing.T) {
	b := New(testOptions("ws://unused"), util.Discard())
	var rec recorder
	b.SubscribeToPrice("solana", rec.add)

	for _, p := range []string{"101", "99.5", "100"} {
		b.dispatch([]byte(`{"type":"price","payload":{"solana":` + p + `}}`))
	}
	assert.Equal(t, []float64{101, 99.5, 100}, rec.values())
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	b := New(testOptions("ws://unused"), util.Discard())
	var kept, dropped recorder
	b.SubscribeToPrice("bitcoin", kept.add)
	unsubscribe := b.SubscribeToPrice("bitcoin", dropped.add)
	require.Equal(t, 2, b.SubscriberCount("bitcoin"))

	unsubscribe()
	unsubscribe()

	assert.Equal(t, 1, b.SubscriberCount("bitcoin"))
	assert.Equal(t, 1, b.Subscribers())

	b.dispatch([]byte(`{"type":"price","payload":{"bitcoin":42}}`))
	assert.Equal(t, []float64{42}, kept.values())
	assert.Empty(t, dropped.values())
}

func TestMalformedFramesNeverReachSubscribers(t *testing.T) {
	b := New(testOptions("ws://unused"), util.Discard())
	var rec recorder
	var messages atomic.Int32
	b.SubscribeToPrice("bitcoin", rec.add)
	b.SubscribeToMessages(func(Message) { messages.Add(1) })

	b.dispatch([]byte(`not json`))
	b.dispatch([]byte(`{"type":"price","payload":[50000]}`))
	assert.Empty(t, rec.values())
	assert.Equal(t, int32(0), messages.Load())

	b.dispatch([]byte(`{"type":"heartbeat","payload":{}}`))
	assert.Equal(t, int32(1), messages.Load())
	assert.Empty(t, rec.values())
}

func TestBadEntriesDoNotDropTheFrame(t *testing.T) {
	b := New(testOptions("ws://unused"), util.Discard())
	var btc, eth, sol recorder
	b.SubscribeToPrice("bitcoin", btc.add)
	b.SubscribeToPrice("ethereum", eth.add)
	b.SubscribeToPrice("solana", sol.add)

	b.dispatch([]byte(`{"type":"price","payload":{"ts":"2024-05-01T00:00:00Z","bitcoin":50000,"ethereum":null,"solana":"fifty"}}`))

	assert.Equal(t, []float64{50000}, btc.values())
	assert.Empty(t, eth.values(), "null is not a price")
	assert.Empty(t, sol.values())
}

func TestPanickingSubscriberIsContained(t *testing.T) {
	b := New(testOptions("ws://unused"), util.Discard())
	var rec recorder
	b.SubscribeToPrice("bitcoin", func(float64) { panic("bad widget") })
	b.SubscribeToPrice("bitcoin", rec.add)

	b.dispatch([]byte(`{"type":"price","payload":{"bitcoin":7}}`))
	assert.Equal(t, []float64{7}, rec.values())
}

// ---------------------------------------------------------------------------
// Against a live socket
// ---------------------------------------------------------------------------

type feed struct {
	srv        *httptest.Server
	conns      atomic.Int32
	clientGone chan struct{}
	frames     []string
	drop       bool
}

func newFeed(t *testing.T, drop bool, frames ...string) *feed {
	t.Helper()
	f := &feed{clientGone: make(chan struct{}, 16), frames: frames, drop: drop}
	upgrader := websocket.Upgrader{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		f.conns.Add(1)
		for _, frame := range f.frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
				return
			}
		}
		if f.drop {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				f.clientGone <- struct{}{}
				return
			}
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *feed) url() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws/updates"
}

func TestConnectsOnFirstSubscription(t *testing.T) {
	f := newFeed(t, false, `{"type":"price","payload":{"bitcoin":50000,"ethereum":3000}}`)
	b := New(testOptions(f.url()), util.Discard())
	require.NoError(t, b.Open(context.Background()))
	defer b.Close()

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), f.conns.Load(), "no subscriber, no socket")
	assert.Equal(t, StateDisconnected, b.State())

	got := make(chan float64, 4)
	b.SubscribeToPrice("bitcoin", func(p float64) { got <- p })

	select {
	case p := <-got:
		assert.Equal(t, 50000.0, p)
	case <-time.After(waitFor):
		t.Fatal("no price delivered")
	}
	require.Eventually(t, func() bool { return b.State() == StateConnected }, waitFor, tick)

	// A second subscriber shares the socket.
	b.SubscribeToPrice("ethereum", func(float64) {})
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), f.conns.Load())
}

func TestCloseWhenIdle(t *testing.T) {
	f := newFeed(t, false)
	opts := testOptions(f.url())
	opts.CloseWhenIdle = true
	b := New(opts, util.Discard())
	require.NoError(t, b.Open(context.Background()))
	defer b.Close()

	unsubscribe := b.SubscribeToPrice("bitcoin", func(float64) {})
	require.Eventually(t, func() bool { return b.State() == StateConnected }, waitFor, tick)

	unsubscribe()
	select {
	case <-f.clientGone:
	case <-time.After(waitFor):
		t.Fatal("socket not closed after last unsubscribe")
	}
	assert.Equal(t, StateDisconnected, b.State())

	// Subscribing again reopens it.
	b.SubscribeToPrice("bitcoin", func(float64) {})
	require.Eventually(t, func() bool { return f.conns.Load() == 2 }, waitFor, tick)
}

func TestStaysOpenWhenIdleByDefault(t *testing.T) {
	f := newFeed(t, false)
	b := New(testOptions(f.url()), util.Discard())
	require.NoError(t, b.Open(context.Background()))
	defer b.Close()

	unsubscribe := b.SubscribeToPrice("bitcoin", func(float64) {})
	require.Eventually(t, func() bool { return b.State() == StateConnected }, waitFor, tick)
	unsubscribe()

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, StateConnected, b.State())
}

func TestReconnectsAfterDrop(t *testing.T) {
	f := newFeed(t, true, `{"type":"price","payload":{"bitcoin":1}}`)
	b := New(testOptions(f.url()), util.Discard())
	require.NoError(t, b.Open(context.Background()))
	defer b.Close()

	var rec recorder
	b.SubscribeToPrice("bitcoin", rec.add)

	require.Eventually(t, func() bool { return f.conns.Load() >= 3 }, waitFor, tick)
	require.Eventually(t, func() bool { return len(rec.values()) >= 2 }, waitFor, tick)
}

func TestFailsAfterRetryCeiling(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(dead.URL, "http")
	dead.Close()

	opts := testOptions(url)
	opts.MaxRetries = 3
	b := New(opts, util.Discard())

	var mu sync.Mutex
	var states []State
	b.OnStateChange(func(s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})
	require.NoError(t, b.Open(context.Background()))
	defer b.Close()

	b.SubscribeToPrice("bitcoin", func(float64) {})
	require.Eventually(t, func() bool { return b.State() == StateFailed }, waitFor, tick)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, StateConnecting, states[0])
	assert.Equal(t, StateFailed, states[len(states)-1])
}

func TestOpenAfterCloseFails(t *testing.T) {
	b := New(testOptions("ws://unused"), util.Discard())
	b.Close()
	assert.ErrorIs(t, b.Open(context.Background()), ErrClosed)
}
