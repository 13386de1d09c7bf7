package domain

import (
	"encoding/json"
	"fmt"
)

// MarshalJSON encodes a point as a [timestamp, price] pair, the wire shape of
// the market data API.
func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{float64(p.Time), p.Price})
}

// UnmarshalJSON decodes a [timestamp, price] pair.
func (p *Point) UnmarshalJSON(data []byte) error {
	var pair []float64
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("decoding point: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("decoding point: want 2 values, got %d", len(pair))
	}
	p.Time = int64(pair[0])
	p.Price = pair[1]
	return nil
}
