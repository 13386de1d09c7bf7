package domain

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDashboardKeyPrefersUUID(t *testing.T) {
	d := Dashboard{ID: "1700000000", UUID: "6f1c1f0e-8d5a-4b8e-9a53-0c1d2e3f4a5b"}
	if got := d.Key(); got != d.UUID {
		t.Errorf("Key() = %q, want uuid %q", got, d.UUID)
	}
	d.UUID = ""
	if got := d.Key(); got != "1700000000" {
		t.Errorf("Key() = %q, want id %q", got, "1700000000")
	}
}

func TestParsePeriod(t *testing.T) {
	tests := []struct {
		in      string
		want    Period
		wantErr bool
	}{
		{"7", Period7D, false},
		{"30d", Period30D, false},
		{" 365D ", Period365D, false},
		{"custom", PeriodCustom, false},
		{"0", "", true},
		{"week", "", true},
	}
	for _, tt := range tests {
		got, err := ParsePeriod(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParsePeriod(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParsePeriod(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPeriodDays(t *testing.T) {
	if got := Period90D.Days(); got != 90 {
		t.Errorf("Period90D.Days() = %d, want 90", got)
	}
	if got := PeriodCustom.Days(); got != 0 {
		t.Errorf("PeriodCustom.Days() = %d, want 0", got)
	}
}

func TestRangeDays(t *testing.T) {
	days, err := RangeDays("2024-01-01", "2024-01-31")
	if err != nil {
		t.Fatalf("RangeDays() error: %v", err)
	}
	if days != 30 {
		t.Errorf("RangeDays() = %d, want 30", days)
	}
	if _, err := RangeDays("2024-02-01", "2024-01-01"); err == nil {
		t.Error("RangeDays() with reversed range should fail")
	}
}

func TestGridRectOverlaps(t *testing.T) {
	a := GridRect{X: 0, Y: 0, W: 6, H: 4}
	if a.Overlaps(GridRect{X: 6, Y: 0, W: 6, H: 4}) {
		t.Error("side by side rects should not overlap")
	}
	if a.Overlaps(GridRect{X: 0, Y: 4, W: 6, H: 4}) {
		t.Error("stacked rects should not overlap")
	}
	if !a.Overlaps(GridRect{X: 3, Y: 2, W: 6, H: 4}) {
		t.Error("intersecting rects should overlap")
	}
}

func TestGridRectValidate(t *testing.T) {
	if err := (GridRect{X: 0, Y: 0, W: 6, H: 4, MinW: 3, MinH: 3}).Validate(); err != nil {
		t.Errorf("valid rect rejected: %v", err)
	}
	if err := (GridRect{X: 0, Y: 0, W: 2, H: 4, MinW: 3, MinH: 3}).Validate(); err == nil {
		t.Error("rect narrower than MinW accepted")
	}
	if err := (GridRect{X: -1, Y: 0, W: 6, H: 4}).Validate(); err == nil {
		t.Error("negative x accepted")
	}
}

func TestPriceAlertValidate(t *testing.T) {
	price := 50000.0
	pct := 5.0

	ok := PriceAlert{CoinID: "bitcoin", Condition: AlertAbove, Type: AlertPrice, Price: &price}
	if err := ok.Validate(); err != nil {
		t.Errorf("valid price alert rejected: %v", err)
	}

	both := PriceAlert{CoinID: "bitcoin", Condition: AlertBelow, Type: AlertPrice, Price: &price, Percentage: &pct}
	if err := both.Validate(); !errors.Is(err, ErrInvalidAlert) {
		t.Errorf("alert with both thresholds: err = %v, want ErrInvalidAlert", err)
	}

	mismatch := PriceAlert{CoinID: "bitcoin", Condition: AlertBelow, Type: AlertPercentage, Price: &price}
	if err := mismatch.Validate(); !errors.Is(err, ErrInvalidAlert) {
		t.Errorf("percentage alert with price: err = %v, want ErrInvalidAlert", err)
	}
}

// The payload sent on persistence must come back from the server's echo with
// the same widget order and layouts.
func TestDashboardPersistenceRoundTrip(t *testing.T) {
	name := "Majors"
	upd := DashboardUpdate{
		Name: &name,
		Widgets: []Widget{
			{ID: "widget-d1-0", Type: WidgetPriceChart, Coin: "bitcoin", Period: Period7D, ChartType: ChartReal,
				Title: "Bitcoin Price Chart", Layout: GridRect{X: 0, Y: 0, W: 6, H: 4, MinW: 3, MinH: 3}},
			{ID: "widget-d1-1", Type: WidgetPriceChart, Coin: "ethereum", Period: Period30D, ChartType: ChartPrediction,
				Title: "ETH", Layout: GridRect{X: 6, Y: 0, W: 6, H: 5, MinW: 3, MinH: 3}},
		},
	}
	body, err := json.Marshal(upd)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var echoed Dashboard
	if err := json.Unmarshal(body, &echoed); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(echoed.Widgets) != len(upd.Widgets) {
		t.Fatalf("got %d widgets, want %d", len(echoed.Widgets), len(upd.Widgets))
	}
	for i, w := range echoed.Widgets {
		if w.ID != upd.Widgets[i].ID {
			t.Errorf("widget %d id = %q, want %q", i, w.ID, upd.Widgets[i].ID)
		}
		if w.Layout != upd.Widgets[i].Layout {
			t.Errorf("widget %d layout = %+v, want %+v", i, w.Layout, upd.Widgets[i].Layout)
		}
	}
	if echoed.Name != name {
		t.Errorf("Name = %q, want %q", echoed.Name, name)
	}
}

func TestPointJSON(t *testing.T) {
	var s Series
	if err := json.Unmarshal([]byte(`[[1700000000000, 42000.5], [1700086400000, 43000]]`), &s); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(s) != 2 || s[0].Time != 1700000000000 || s[1].Price != 43000 {
		t.Errorf("decoded series = %+v", s)
	}
	if err := json.Unmarshal([]byte(`[[1, 2, 3]]`), &s); err == nil {
		t.Error("triple should not decode as a point")
	}
}

func TestCapitalize(t *testing.T) {
	tests := map[string]string{
		"":         "",
		"bitcoin":  "Bitcoin",
		"Solana":   "Solana",
		"éthereum": "Éthereum",
		"ñ":        "Ñ",
	}
	for in, want := range tests {
		if got := Capitalize(in); got != want {
			t.Errorf("Capitalize(%q) = %q, want %q", in, got, want)
		}
	}
}
