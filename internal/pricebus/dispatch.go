package pricebus

import (
	"encoding/json"

	"cryptodash/internal/telemetry"
)

// dispatch decodes one frame and delivers it. Malformed frames are logged
// and dropped before any callback sees them.
func (b *Bus) dispatch(data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		telemetry.BusFrames.WithLabelValues("invalid").Inc()
		b.log.Warn("price bus: invalid frame", "error", err)
		return
	}

	var prices map[string]float64
	if msg.Type == TypePrice {
		var err error
		if prices, err = b.decodePrices(msg.Payload); err != nil {
			telemetry.BusFrames.WithLabelValues("invalid").Inc()
			b.log.Warn("price bus: invalid price payload", "error", err)
			return
		}
	}
	telemetry.BusFrames.WithLabelValues("ok").Inc()

	b.mu.Lock()
	messages := append([]messageSub(nil), b.messages...)
	b.mu.Unlock()
	for _, s := range messages {
		b.call(func() { s.fn(msg) })
	}

	for coin, price := range prices {
		b.mu.Lock()
		subs := append([]priceSub(nil), b.topics[coin]...)
		b.mu.Unlock()
		for _, s := range subs {
			b.call(func() { s.fn(price) })
		}
	}
}

// decodePrices decodes a coin -> price object. Entries that are null or not
// numbers are skipped so one bad value does not cost the rest of the frame.
func (b *Bus) decodePrices(payload json.RawMessage) (map[string]float64, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, err
	}
	prices := make(map[string]float64, len(raw))
	for coin, v := range raw {
		if string(v) == "null" {
			continue
		}
		var price float64
		if err := json.Unmarshal(v, &price); err != nil {
			b.log.Debug("price bus: skipping non-numeric entry", "key", coin)
			continue
		}
		prices[coin] = price
	}
	return prices, nil
}

// call runs a subscriber callback, containing any panic.
func (b *Bus) call(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("price bus subscriber panicked", "panic", r)
		}
	}()
	fn()
}
