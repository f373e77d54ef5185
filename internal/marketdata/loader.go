package marketdata

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// LoadCSV reads one symbol's daily bars from a CSV file with the header
// date,open,high,low,close,volume,iv and returns a validated Series.
func LoadCSV(path, symbol string) (*Series, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open series file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if len(records) < 2 {
		return nil, &GapError{Symbol: symbol, Reason: "no data rows"}
	}

	days := make([]Day, 0, len(records)-1)
	for i, rec := range records[1:] { // skip header
		if len(rec) != 7 {
			return nil, fmt.Errorf("%s row %d: expected 7 columns, got %d", path, i+2, len(rec))
		}
		date, err := time.Parse("2006-01-02", rec[0])
		if err != nil {
			return nil, fmt.Errorf("%s row %d: bad date %q: %w", path, i+2, rec[0], err)
		}
		vals := make([]float64, 6)
		for j := 1; j < 7; j++ {
			v, err := strconv.ParseFloat(rec[j], 64)
			if err != nil {
				return nil, fmt.Errorf("%s row %d col %d: %w", path, i+2, j+1, err)
			}
			vals[j-1] = v
		}
		days = append(days, Day{
			Date: date, Open: vals[0], High: vals[1], Low: vals[2],
			Close: vals[3], Volume: vals[4], IV: vals[5],
		})
	}

	return NewSeries(symbol, days)
}

// LoadDir loads <symbol>.csv for each requested symbol from dir. Symbols load
// concurrently; this is the only parallelism in the system, and it finishes
// before any simulation starts.
func LoadDir(ctx context.Context, dir string, symbols []string) (map[string]*Series, error) {
	out := make(map[string]*Series, len(symbols))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	for _, symbol := range symbols {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			s, err := LoadCSV(filepath.Join(dir, symbol+".csv"), symbol)
			if err != nil {
				return fmt.Errorf("load %s: %w", symbol, err)
			}
			log.Debug().Str("symbol", symbol).Int("bars", len(s.Days)).Msg("Loaded series")
			mu.Lock()
			out[symbol] = s
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
