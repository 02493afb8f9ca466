package archive

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/peterldowns/testy/assert"
	"github.com/rs/zerolog/log"

	"quantpipe/shared"
)

func setupStore(t *testing.T) *Store {
	t.Helper()

	base := t.TempDir()
	cfg := &StoreConfig{
		RawDir:       filepath.Join(base, "raw"),
		ProcessedDir: filepath.Join(base, "processed"),
		Logger:       &log.Logger,
	}

	store, err := NewStore(cfg)
	assert.NoError(t, err)

	return store
}

func makeCandles(market string, timeframe shared.Timeframe, start time.Time, count int) []shared.Candlestick {
	candles := make([]shared.Candlestick, 0, count)
	interval := timeframe.Duration()

	for idx := 0; idx < count; idx++ {
		price := 100 + float64(idx)
		candles = append(candles, shared.Candlestick{
			Open:      price,
			High:      price + 2,
			Low:       price - 2,
			Close:     price + 1,
			Volume:    10 + float64(idx),
			Date:      start.Add(time.Duration(idx) * interval),
			Market:    market,
			Timeframe: timeframe,
		})
	}

	return candles
}

func TestStoreConfigValidate(t *testing.T) {
	cfg := &StoreConfig{}
	assert.Error(t, cfg.Validate())

	cfg = &StoreConfig{RawDir: "raw", ProcessedDir: "processed", Logger: &log.Logger}
	assert.NoError(t, cfg.Validate())
}

func TestStoreRoundTrip(t *testing.T) {
	store := setupStore(t)
	market := "BTCUSDT"
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	// Ensure a missing archive loads as an empty dataset with a zero head.
	candles, err := store.LoadCandles(market, shared.OneHour)
	assert.NoError(t, err)
	assert.Equal(t, len(candles), 0)

	last, err := store.LastTimestamp(market, shared.OneHour)
	assert.NoError(t, err)
	assert.True(t, last.IsZero())

	// Ensure written candles load back identically.
	written := makeCandles(market, shared.OneHour, start, 5)
	assert.NoError(t, store.WriteCandles(market, shared.OneHour, written))

	loaded, err := store.LoadCandles(market, shared.OneHour)
	assert.NoError(t, err)
	assert.Equal(t, cmp.Diff(written, loaded), "")

	last, err = store.LastTimestamp(market, shared.OneHour)
	assert.NoError(t, err)
	assert.Equal(t, last, written[4].Date)
}

func TestStoreAppend(t *testing.T) {
	store := setupStore(t)
	market := "BTCUSDT"
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	initial := makeCandles(market, shared.OneHour, start, 3)
	assert.NoError(t, store.WriteCandles(market, shared.OneHour, initial))

	more := makeCandles(market, shared.OneHour, start.Add(time.Hour*3), 2)
	assert.NoError(t, store.AppendCandles(market, shared.OneHour, more))

	loaded, err := store.LoadCandles(market, shared.OneHour)
	assert.NoError(t, err)
	assert.Equal(t, len(loaded), 5)

	for idx := 1; idx < len(loaded); idx++ {
		assert.True(t, loaded[idx].Date.After(loaded[idx-1].Date))
	}

	// Ensure appending nothing leaves the archive untouched.
	before, err := os.ReadFile(store.CandlePath(market, shared.OneHour))
	assert.NoError(t, err)

	assert.NoError(t, store.AppendCandles(market, shared.OneHour, nil))

	after, err := os.ReadFile(store.CandlePath(market, shared.OneHour))
	assert.NoError(t, err)
	assert.Equal(t, string(before), string(after))
}

func TestStoreMalformedArchive(t *testing.T) {
	store := setupStore(t)
	market := "BTCUSDT"
	path := store.CandlePath(market, shared.OneHour)

	assert.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))

	// Ensure an unexpected header is rejected.
	err := os.WriteFile(path, []byte("a,b,c\n1,2,3\n"), 0o644)
	assert.NoError(t, err)

	_, err = store.LoadCandles(market, shared.OneHour)
	assert.Error(t, err)

	// Ensure malformed rows are rejected.
	err = os.WriteFile(path, []byte("timestamp,open,high,low,close,volume\nnotatime,1,2,3,4,5\n"), 0o644)
	assert.NoError(t, err)

	_, err = store.LoadCandles(market, shared.OneHour)
	assert.Error(t, err)
}

func TestStorePaths(t *testing.T) {
	store := setupStore(t)

	assert.True(t, filepath.Base(store.CandlePath("BTCUSDT", shared.OneHour)) == "BTCUSDT_1h.csv")
	assert.True(t, filepath.Base(store.FeaturesPath("BTCUSDT", shared.OneHour)) == "BTCUSDT_1h_features.csv")
	assert.True(t, filepath.Base(store.ReportPath("BTCUSDT", shared.OneHour)) == "quality_report_BTCUSDT_1h.txt")
	assert.True(t, filepath.Base(store.GapsPath("BTCUSDT", shared.OneHour)) == "gaps_BTCUSDT_1h.csv")
}
