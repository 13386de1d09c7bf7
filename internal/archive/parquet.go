// Package archive keeps historical price series on disk as Parquet files so
// charts survive a restart while the market API is unreachable.
//
// Layout:
//
//	<dir>/history/<coin>/<period>.parquet
//
// Each file is the last snapshot fetched for that coin and period.
package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"

	"cryptodash/internal/domain"
	"cryptodash/internal/marketdata"
)

var _ marketdata.Archive = (*Parquet)(nil)

// PointRecord is the on-disk schema of one sample.
type PointRecord struct {
	Coin      string  `parquet:"coin"`
	Period    string  `parquet:"period"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Price     float64 `parquet:"price"`
	FetchedAt int64   `parquet:"fetched_at,timestamp(millisecond)"`
}

// Parquet is a file-backed history archive.
type Parquet struct {
	dir string
	mu  sync.Mutex
}

// NewParquet creates an archive rooted at dir.
func NewParquet(dir string) *Parquet {
	return &Parquet{dir: dir}
}

// SaveSeries replaces the snapshot of coin/period.
func (p *Parquet) SaveSeries(coin, period string, series domain.Series, fetchedAt time.Time) error {
	if len(series) == 0 {
		return nil
	}
	at := fetchedAt.UnixMilli()
	records := make([]PointRecord, len(series))
	for i, pt := range series {
		records[i] = PointRecord{Coin: coin, Period: period, Timestamp: pt.Time, Price: pt.Price, FetchedAt: at}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := writeParquetFile(p.path(coin, period), records); err != nil {
		return fmt.Errorf("archiving %s/%s: %w", coin, period, err)
	}
	return nil
}

// LoadSeries returns the archived snapshot of coin/period and when it was
// fetched. A missing snapshot returns os.ErrNotExist.
func (p *Parquet) LoadSeries(coin, period string) (domain.Series, time.Time, error) {
	p.mu.Lock()
	records, err := readParquetFile[PointRecord](p.path(coin, period))
	p.mu.Unlock()
	if err != nil {
		return nil, time.Time{}, err
	}
	if len(records) == 0 {
		return nil, time.Time{}, os.ErrNotExist
	}
	series := make(domain.Series, len(records))
	for i, r := range records {
		series[i] = domain.Point{Time: r.Timestamp, Price: r.Price}
	}
	return series, time.UnixMilli(records[0].FetchedAt), nil
}

// Coins lists the coins that have archived data.
func (p *Parquet) Coins() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(p.dir, "history"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var coins []string
	for _, e := range entries {
		if e.IsDir() {
			coins = append(coins, e.Name())
		}
	}
	sort.Strings(coins)
	return coins, nil
}

// Periods lists the archived periods of coin.
func (p *Parquet) Periods(coin string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(p.dir, "history", coin))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var periods []string
	for _, e := range entries {
		if name, ok := strings.CutSuffix(e.Name(), ".parquet"); ok && !e.IsDir() {
			periods = append(periods, name)
		}
	}
	sort.Strings(periods)
	return periods, nil
}

// Merged returns every archived sample of coin across periods, one per
// timestamp, in time order. Samples from the most recent snapshot win.
func (p *Parquet) Merged(coin string) (domain.Series, error) {
	periods, err := p.Periods(coin)
	if err != nil {
		return nil, err
	}
	var all []PointRecord
	p.mu.Lock()
	for _, period := range periods {
		records, err := readParquetFile[PointRecord](p.path(coin, period))
		if err != nil {
			continue
		}
		all = append(all, records...)
	}
	p.mu.Unlock()

	merged := mergePointRecords(all)
	series := make(domain.Series, len(merged))
	for i, r := range merged {
		series[i] = domain.Point{Time: r.Timestamp, Price: r.Price}
	}
	return series, nil
}

// path returns <dir>/history/<coin>/<period>.parquet.
func (p *Parquet) path(coin, period string) string {
	return filepath.Join(p.dir, "history", sanitize(coin), sanitize(period)+".parquet")
}

func sanitize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, s)
}

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := parquet.WriteFile(tmp, records); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func readParquetFile[T any](path string) ([]T, error) {
	return parquet.ReadFile[T](path)
}

// mergePointRecords deduplicates records by timestamp, keeping the one with
// the latest FetchedAt, sorted by timestamp.
func mergePointRecords(records []PointRecord) []PointRecord {
	seen := make(map[int64]PointRecord, len(records))
	for _, r := range records {
		if prev, ok := seen[r.Timestamp]; ok && prev.FetchedAt > r.FetchedAt {
			continue
		}
		seen[r.Timestamp] = r
	}
	merged := make([]PointRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}
