package archive

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"quantpipe/shared"
)

// candleHeader is the column layout of a persisted candle archive.
var candleHeader = []string{"timestamp", "open", "high", "low", "close", "volume"}

// StoreConfig represents the configuration for the flat-file dataset store.
type StoreConfig struct {
	// RawDir is the directory holding raw candle archives.
	RawDir string
	// ProcessedDir is the directory holding derived datasets and reports.
	ProcessedDir string
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Validate asserts the config has sane inputs.
func (cfg *StoreConfig) Validate() error {
	var errs error

	if cfg.RawDir == "" {
		errs = errors.Join(errs, fmt.Errorf("raw data directory cannot be an empty string"))
	}
	if cfg.ProcessedDir == "" {
		errs = errors.Join(errs, fmt.Errorf("processed data directory cannot be an empty string"))
	}
	if cfg.Logger == nil {
		errs = errors.Join(errs, fmt.Errorf("logger cannot be nil"))
	}

	return errs
}

// Store represents the flat-file dataset store for candle archives and their
// derived artifacts. One archive exists per (market, timeframe) pair, keyed by
// the candle interval open timestamp.
type Store struct {
	cfg *StoreConfig
}

// NewStore initializes a new flat-file dataset store.
func NewStore(cfg *StoreConfig) (*Store, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validating store config: %w", err)
	}

	return &Store{cfg: cfg}, nil
}

// CandlePath returns the archive filepath for the provided market and timeframe.
func (s *Store) CandlePath(market string, timeframe shared.Timeframe) string {
	return filepath.Join(s.cfg.RawDir, fmt.Sprintf("%s_%s.csv", market, timeframe.String()))
}

// FeaturesPath returns the features dataset filepath for the provided market and timeframe.
func (s *Store) FeaturesPath(market string, timeframe shared.Timeframe) string {
	return filepath.Join(s.cfg.ProcessedDir, fmt.Sprintf("%s_%s_features.csv", market, timeframe.String()))
}

// ReportPath returns the quality report filepath for the provided market and timeframe.
func (s *Store) ReportPath(market string, timeframe shared.Timeframe) string {
	return filepath.Join(s.cfg.ProcessedDir, fmt.Sprintf("quality_report_%s_%s.txt", market, timeframe.String()))
}

// GapsPath returns the gaps dataset filepath for the provided market and timeframe.
func (s *Store) GapsPath(market string, timeframe shared.Timeframe) string {
	return filepath.Join(s.cfg.ProcessedDir, fmt.Sprintf("gaps_%s_%s.csv", market, timeframe.String()))
}

// LoadCandles loads the candle archive for the provided market and timeframe.
//
// A missing archive is not an error, it loads as an empty dataset.
func (s *Store) LoadCandles(market string, timeframe shared.Timeframe) ([]shared.Candlestick, error) {
	path := s.CandlePath(market, timeframe)

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("opening candle archive %s: %w", path, err)
	}

	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading candle archive %s: %w", path, err)
	}

	if len(records) == 0 {
		return nil, nil
	}

	if len(records[0]) != len(candleHeader) || records[0][0] != candleHeader[0] {
		return nil, fmt.Errorf("unexpected candle archive header in %s: %v", path, records[0])
	}

	candles := make([]shared.Candlestick, 0, len(records)-1)
	for idx, record := range records[1:] {
		candle, err := parseCandleRecord(record, market, timeframe)
		if err != nil {
			return nil, fmt.Errorf("parsing candle archive %s row %d: %w", path, idx+1, err)
		}

		candles = append(candles, candle)
	}

	return candles, nil
}

// LastTimestamp returns the latest stored candle timestamp for the provided market
// and timeframe. An empty or missing archive returns the zero time.
func (s *Store) LastTimestamp(market string, timeframe shared.Timeframe) (time.Time, error) {
	candles, err := s.LoadCandles(market, timeframe)
	if err != nil {
		return time.Time{}, err
	}

	if len(candles) == 0 {
		return time.Time{}, nil
	}

	return candles[len(candles)-1].Date, nil
}

// AppendCandles appends the provided candles to the archive for the market and
// timeframe, preserving ordering. Appending nothing is a no-op that leaves the
// archive untouched.
func (s *Store) AppendCandles(market string, timeframe shared.Timeframe, candles []shared.Candlestick) error {
	if len(candles) == 0 {
		return nil
	}

	existing, err := s.LoadCandles(market, timeframe)
	if err != nil {
		return err
	}

	merged := make([]shared.Candlestick, 0, len(existing)+len(candles))
	merged = append(merged, existing...)
	merged = append(merged, candles...)

	return s.WriteCandles(market, timeframe, merged)
}

// WriteCandles replaces the archive for the market and timeframe with the provided
// candles. The write goes through a temp file and rename so a failed run never
// truncates an existing archive.
func (s *Store) WriteCandles(market string, timeframe shared.Timeframe, candles []shared.Candlestick) error {
	path := s.CandlePath(market, timeframe)

	records := make([][]string, 0, len(candles)+1)
	records = append(records, candleHeader)
	for idx := range candles {
		records = append(records, candleRecord(&candles[idx]))
	}

	return writeCSV(path, records)
}

// WriteReport persists the provided quality report text for the market and timeframe.
func (s *Store) WriteReport(market string, timeframe shared.Timeframe, report string) error {
	path := s.ReportPath(market, timeframe)

	err := os.MkdirAll(filepath.Dir(path), 0o755)
	if err != nil {
		return fmt.Errorf("creating processed data directory: %w", err)
	}

	err = os.WriteFile(path, []byte(report), 0o644)
	if err != nil {
		return fmt.Errorf("writing quality report %s: %w", path, err)
	}

	s.cfg.Logger.Info().Msgf("quality report saved to %s", path)

	return nil
}

// WriteGaps persists the provided gaps dataset text for the market and timeframe.
func (s *Store) WriteGaps(market string, timeframe shared.Timeframe, gapsCSV string) error {
	path := s.GapsPath(market, timeframe)

	err := os.MkdirAll(filepath.Dir(path), 0o755)
	if err != nil {
		return fmt.Errorf("creating processed data directory: %w", err)
	}

	err = os.WriteFile(path, []byte(gapsCSV), 0o644)
	if err != nil {
		return fmt.Errorf("writing gaps dataset %s: %w", path, err)
	}

	s.cfg.Logger.Info().Msgf("gaps dataset saved to %s", path)

	return nil
}

// candleRecord flattens a candlestick into an archive row.
func candleRecord(candle *shared.Candlestick) []string {
	return []string{
		strconv.FormatInt(candle.Date.UnixMilli(), 10),
		strconv.FormatFloat(candle.Open, 'f', -1, 64),
		strconv.FormatFloat(candle.High, 'f', -1, 64),
		strconv.FormatFloat(candle.Low, 'f', -1, 64),
		strconv.FormatFloat(candle.Close, 'f', -1, 64),
		strconv.FormatFloat(candle.Volume, 'f', -1, 64),
	}
}

// parseCandleRecord parses an archive row into a candlestick.
func parseCandleRecord(record []string, market string, timeframe shared.Timeframe) (shared.Candlestick, error) {
	if len(record) != len(candleHeader) {
		return shared.Candlestick{}, fmt.Errorf("expected %d columns, got %d", len(candleHeader), len(record))
	}

	ms, err := strconv.ParseInt(record[0], 10, 64)
	if err != nil {
		return shared.Candlestick{}, fmt.Errorf("parsing timestamp %q: %w", record[0], err)
	}

	fields := make([]float64, 0, 5)
	for _, raw := range record[1:] {
		val, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return shared.Candlestick{}, fmt.Errorf("parsing numeric column %q: %w", raw, err)
		}

		fields = append(fields, val)
	}

	candle := shared.Candlestick{
		Date:      time.UnixMilli(ms).UTC(),
		Open:      fields[0],
		High:      fields[1],
		Low:       fields[2],
		Close:     fields[3],
		Volume:    fields[4],
		Market:    market,
		Timeframe: timeframe,
	}

	return candle, nil
}

// writeCSV writes the provided records to path atomically.
func writeCSV(path string, records [][]string) error {
	err := os.MkdirAll(filepath.Dir(path), 0o755)
	if err != nil {
		return fmt.Errorf("creating dataset directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp")
	if err != nil {
		return fmt.Errorf("creating temp dataset file: %w", err)
	}

	writer := csv.NewWriter(tmp)
	err = writer.WriteAll(records)
	if err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing dataset %s: %w", path, err)
	}

	err = tmp.Close()
	if err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("closing temp dataset file: %w", err)
	}

	err = os.Rename(tmp.Name(), path)
	if err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replacing dataset %s: %w", path, err)
	}

	return nil
}
