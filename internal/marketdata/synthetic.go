package marketdata

import (
	"math/rand/v2"
	"strings"
	"time"

	"cryptodash/internal/domain"
)

const day = 24 * time.Hour

// synthesizer generates placeholder data with the shape of real responses.
type synthesizer struct {
	rnd func() float64
	now func() time.Time
}

func newSynthesizer(rnd func() float64, now func() time.Time) *synthesizer {
	if rnd == nil {
		rnd = rand.Float64
	}
	if now == nil {
		now = time.Now
	}
	return &synthesizer{rnd: rnd, now: now}
}

// price is uniform in [1000, 51000).
func (s *synthesizer) price() float64 {
	return s.rnd()*50000 + 1000
}

// forecast returns max(days,1) daily points starting now, each uniform in
// [1000, 11000).
func (s *synthesizer) forecast(days int) domain.Series {
	if days < 1 {
		days = 1
	}
	now := s.now()
	out := make(domain.Series, days)
	for i := range out {
		out[i] = domain.Point{
			Time:  now.Add(time.Duration(i) * day).UnixMilli(),
			Price: s.rnd()*10000 + 1000,
		}
	}
	return out
}

// historical returns days+1 daily points ending now, as a random walk with
// steps of at most ±5%.
func (s *synthesizer) historical(days int) domain.Series {
	if days < 1 {
		days = 1
	}
	now := s.now()
	start := now.Add(-time.Duration(days) * day)
	price := s.price()
	out := make(domain.Series, days+1)
	for i := range out {
		out[i] = domain.Point{Time: start.Add(time.Duration(i) * day).UnixMilli(), Price: price}
		price *= 1 + (s.rnd()-0.5)*0.1
	}
	return out
}

func (s *synthesizer) info(id string) domain.CurrencyInfo {
	symbol := id
	if r := []rune(symbol); len(r) > 3 {
		symbol = string(r[:3])
	}
	return domain.CurrencyInfo{
		ID:     id,
		Name:   domain.Capitalize(id),
		Symbol: strings.ToUpper(symbol),
	}
}
