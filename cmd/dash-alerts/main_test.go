package main

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"cryptodash/internal/alerts"
	"cryptodash/internal/domain"
)

func TestDescribe(t *testing.T) {
	price := 50000.0
	pct := 5.0
	tests := []struct {
		name string
		trig alerts.Trigger
		want []string
	}{
		{
			name: "price",
			trig: alerts.Trigger{
				Alert: domain.PriceAlert{ID: "1", CoinID: "bitcoin", Condition: domain.AlertAbove, Type: domain.AlertPrice, Price: &price},
				Price: decimal.NewFromInt(51000),
			},
			want: []string{"Bitcoin is above", "$51,000.00", "$50,000.00"},
		},
		{
			name: "percentage",
			trig: alerts.Trigger{
				Alert:  domain.PriceAlert{ID: "2", CoinID: "ethereum", Condition: domain.AlertBelow, Type: domain.AlertPercentage, Percentage: &pct},
				Price:  decimal.NewFromInt(1900),
				Change: decimal.NewFromFloat(-5.5),
			},
			want: []string{"Ethereum moved -5.50%", "below 5.00%"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := describe(tt.trig)
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("describe() = %q, missing %q", got, w)
				}
			}
		})
	}
}
