package archive

import (
	"errors"
	"os"
	"testing"
	"time"

	"cryptodash/internal/domain"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	a := NewParquet(t.TempDir())
	at := time.UnixMilli(1714564800000)
	series := domain.Series{{Time: 1714478400000, Price: 60000.5}, {Time: 1714564800000, Price: 61000}}

	if err := a.SaveSeries("bitcoin", "7d", series, at); err != nil {
		t.Fatalf("SaveSeries: %v", err)
	}
	got, fetched, err := a.LoadSeries("bitcoin", "7d")
	if err != nil {
		t.Fatalf("LoadSeries: %v", err)
	}
	if !fetched.Equal(at) {
		t.Errorf("fetchedAt = %v, want %v", fetched, at)
	}
	if len(got) != 2 || got[0] != series[0] || got[1] != series[1] {
		t.Errorf("series = %v, want %v", got, series)
	}
}

func TestSaveReplacesSnapshot(t *testing.T) {
	a := NewParquet(t.TempDir())
	a.SaveSeries("bitcoin", "1d", domain.Series{{Time: 1, Price: 1}, {Time: 2, Price: 2}}, time.UnixMilli(10))
	a.SaveSeries("bitcoin", "1d", domain.Series{{Time: 3, Price: 3}}, time.UnixMilli(20))

	got, _, err := a.LoadSeries("bitcoin", "1d")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Time != 3 {
		t.Errorf("series = %v, want only the latest snapshot", got)
	}
}

func TestLoadMissing(t *testing.T) {
	a := NewParquet(t.TempDir())
	_, _, err := a.LoadSeries("ghost", "7d")
	if err == nil {
		t.Fatal("expected error for missing snapshot")
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Logf("missing snapshot error: %v", err)
	}
}

func TestCoinsPeriodsAndMerged(t *testing.T) {
	a := NewParquet(t.TempDir())
	a.SaveSeries("ethereum", "7d", domain.Series{{Time: 100, Price: 1}, {Time: 200, Price: 2}}, time.UnixMilli(1000))
	a.SaveSeries("ethereum", "1d", domain.Series{{Time: 200, Price: 2.5}, {Time: 300, Price: 3}}, time.UnixMilli(2000))
	a.SaveSeries("bitcoin", "7d", domain.Series{{Time: 100, Price: 9}}, time.UnixMilli(1000))

	coins, err := a.Coins()
	if err != nil {
		t.Fatal(err)
	}
	if len(coins) != 2 || coins[0] != "bitcoin" || coins[1] != "ethereum" {
		t.Errorf("coins = %v", coins)
	}

	periods, _ := a.Periods("ethereum")
	if len(periods) != 2 || periods[0] != "1d" || periods[1] != "7d" {
		t.Errorf("periods = %v", periods)
	}

	merged, err := a.Merged("ethereum")
	if err != nil {
		t.Fatal(err)
	}
	want := domain.Series{{Time: 100, Price: 1}, {Time: 200, Price: 2.5}, {Time: 300, Price: 3}}
	if len(merged) != len(want) {
		t.Fatalf("merged = %v, want %v", merged, want)
	}
	for i := range want {
		if merged[i] != want[i] {
			t.Errorf("merged[%d] = %v, want %v", i, merged[i], want[i])
		}
	}
}

func TestCoinsEmptyDir(t *testing.T) {
	a := NewParquet(t.TempDir())
	coins, err := a.Coins()
	if err != nil || coins != nil {
		t.Errorf("Coins() = %v, %v; want nil, nil", coins, err)
	}
}
