package service

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"

	"quantpipe/shared"
)

// klineServer serves a fixed hourly candle series the way the exchange does,
// honoring startTime and limit pagination.
func klineServer(t *testing.T, start time.Time, closes []float64) *httptest.Server {
	t.Helper()

	interval := time.Hour

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startMs, err := strconv.ParseInt(r.URL.Query().Get("startTime"), 10, 64)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"code":-1100,"msg":"Illegal startTime."}`))
			return
		}

		limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
		if err != nil || limit <= 0 {
			limit = 1000
		}

		from := time.UnixMilli(startMs).UTC()

		rows := make([]string, 0, limit)
		for idx := range closes {
			open := start.Add(time.Duration(idx) * interval)
			if open.Before(from) {
				continue
			}
			if len(rows) == limit {
				break
			}

			price := closes[idx]
			rows = append(rows, fmt.Sprintf(`[%d,"%v","%v","%v","%v","10",%d,"0",0,"0","0","0"]`,
				open.UnixMilli(), price, price+1, price-1, price, open.Add(interval).UnixMilli()-1))
		}

		w.Write([]byte("[" + strings.Join(rows, ",") + "]"))
	}))
}

func setupPipeline(t *testing.T, baseURL string) *Pipeline {
	t.Helper()

	base := t.TempDir()
	cfg := &PipelineConfig{
		Market:           "BTCUSDT",
		Timeframe:        "1h",
		RawDataDir:       filepath.Join(base, "raw"),
		ProcessedDataDir: filepath.Join(base, "processed"),
		BackfillStart:    "2024-03-01",
		VolWindow:        6,
		ZWindow:          6,
		ExchangeBaseURL:  baseURL,
	}

	pipeline, err := NewPipeline(context.Background(), cfg)
	assert.NoError(t, err)

	return pipeline
}

func TestPipelineConfigValidate(t *testing.T) {
	cfg := &PipelineConfig{}
	err := cfg.Validate()
	assert.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "market cannot be an empty string"))

	cfg = &PipelineConfig{
		Market:           "BTCUSDT",
		Timeframe:        "3h",
		RawDataDir:       "data/raw",
		ProcessedDataDir: "data/processed",
		BackfillStart:    "2024-03-01",
		VolWindow:        24,
		ZWindow:          24,
	}
	err = cfg.Validate()
	assert.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "unknown timeframe label"))
}

func TestPipelineEndToEnd(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	closes := make([]float64, 48)
	for idx := range closes {
		closes[idx] = 60000 + float64(idx%9)*25
	}

	server := klineServer(t, start, closes)
	defer server.Close()

	pipeline := setupPipeline(t, server.URL)
	ctx := context.Background()

	// Download backfills the archive from scratch.
	summary, err := pipeline.Download(ctx)
	assert.NoError(t, err)
	assert.Equal(t, summary.Appended, 48)

	// A rerun appends nothing.
	summary, err = pipeline.Download(ctx)
	assert.NoError(t, err)
	assert.Equal(t, summary.Appended, 0)

	// Quality passes on a contiguous archive and persists the report.
	report, err := pipeline.QualityCheck(ctx)
	assert.NoError(t, err)
	assert.True(t, report.Pass())

	reportPath := pipeline.store.ReportPath("BTCUSDT", shared.OneHour)
	text, err := os.ReadFile(reportPath)
	assert.NoError(t, err)
	assert.True(t, strings.Contains(string(text), "Result: PASS"))

	// Features build and validate.
	assert.NoError(t, pipeline.BuildFeatures(ctx))
	assert.NoError(t, pipeline.Validate(ctx))

	featuresPath := pipeline.store.FeaturesPath("BTCUSDT", shared.OneHour)
	content, err := os.ReadFile(featuresPath)
	assert.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	assert.Equal(t, lines[0], "timestamp,open,high,low,close,volume,ret,log_ret,vol_6,zret_6")
	// Header plus input rows minus the warm-up window.
	assert.Equal(t, len(lines), 1+48-6)
}

func TestPipelineQualityFailureBlocksFeatures(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	server := klineServer(t, start, make([]float64, 0))
	defer server.Close()

	pipeline := setupPipeline(t, server.URL)
	ctx := context.Background()

	// Seed a gapped archive directly.
	closes := []float64{100, 101, 102, 103, 104, 105, 106, 107, 108, 109}
	candles := make([]shared.Candlestick, 0, len(closes))
	for idx, price := range closes {
		open := start.Add(time.Duration(idx) * time.Hour)
		if idx >= 5 {
			// Shift the tail to open a gap.
			open = open.Add(time.Hour * 3)
		}

		candles = append(candles, shared.Candlestick{
			Open: price, High: price + 1, Low: price - 1, Close: price, Volume: 10,
			Date: open, Market: "BTCUSDT", Timeframe: shared.OneHour,
		})
	}
	assert.NoError(t, pipeline.store.WriteCandles("BTCUSDT", shared.OneHour, candles))

	report, err := pipeline.QualityCheck(ctx)
	assert.NoError(t, err)
	assert.False(t, report.Pass())

	// The gaps dataset is persisted alongside the report.
	gapsPath := pipeline.store.GapsPath("BTCUSDT", shared.OneHour)
	content, err := os.ReadFile(gapsPath)
	assert.NoError(t, err)
	assert.True(t, strings.Contains(string(content), "prev_time,curr_time,width"))

	// Feature building refuses a failing archive.
	err = pipeline.BuildFeatures(ctx)
	assert.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "failed its quality check"))
}

func TestPipelineValidateMissingDataset(t *testing.T) {
	server := klineServer(t, time.Now().UTC(), nil)
	defer server.Close()

	pipeline := setupPipeline(t, server.URL)

	err := pipeline.Validate(context.Background())
	assert.Error(t, err)
}
