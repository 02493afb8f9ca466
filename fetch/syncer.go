package fetch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"quantpipe/archive"
	"quantpipe/shared"
)

// SyncerConfig represents the configuration for the incremental synchronizer.
type SyncerConfig struct {
	// Market represents the synchronized market.
	Market string
	// Timeframe represents the timeframe of the synchronized archive.
	Timeframe shared.Timeframe
	// Start is the backfill origin used when the archive is empty.
	Start time.Time
	// BatchSize is the kline page size per request.
	BatchSize int
	// ExchangeClient represents the market exchange client.
	ExchangeClient shared.KlineFetcher
	// Archive represents the flat-file dataset store.
	Archive *archive.Store
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Validate asserts the config has sane inputs.
func (cfg *SyncerConfig) Validate() error {
	var errs error

	if cfg.Market == "" {
		errs = errors.Join(errs, fmt.Errorf("market cannot be an empty string"))
	}
	if cfg.Start.IsZero() {
		errs = errors.Join(errs, fmt.Errorf("backfill start time cannot be the zero time"))
	}
	if cfg.ExchangeClient == nil {
		errs = errors.Join(errs, fmt.Errorf("exchange client cannot be nil"))
	}
	if cfg.Archive == nil {
		errs = errors.Join(errs, fmt.Errorf("archive cannot be nil"))
	}
	if cfg.Logger == nil {
		errs = errors.Join(errs, fmt.Errorf("logger cannot be nil"))
	}

	return errs
}

// SyncSummary summarizes a completed archive synchronization.
type SyncSummary struct {
	// Appended is the number of new candles appended to the archive.
	Appended int
	// Dropped is the number of fetched candles discarded as invalid.
	Dropped int
	// LastTimestamp is the archive head after the run.
	LastTimestamp time.Time
}

// Syncer incrementally synchronizes a candle archive against the exchange.
type Syncer struct {
	cfg *SyncerConfig
}

// NewSyncer initializes a new incremental synchronizer.
func NewSyncer(cfg *SyncerConfig) (*Syncer, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validating syncer config: %w", err)
	}

	if cfg.BatchSize <= 0 || cfg.BatchSize > MaxKlineLimit {
		cfg.BatchSize = MaxKlineLimit
	}

	return &Syncer{cfg: cfg}, nil
}

// Sync catches the archive up on candles newer than its latest stored timestamp.
//
// An empty archive triggers a full backfill from the configured start. The fetched
// pages accumulate in memory and the archive is only appended to once every page
// succeeded, so a failed run never leaves a partial archive behind. Re-running with
// no new data available appends nothing.
func (s *Syncer) Sync(ctx context.Context) (*SyncSummary, error) {
	last, err := s.cfg.Archive.LastTimestamp(s.cfg.Market, s.cfg.Timeframe)
	if err != nil {
		return nil, fmt.Errorf("fetching archive head for %s: %w", s.cfg.Market, err)
	}

	interval := s.cfg.Timeframe.Duration()

	cursor := s.cfg.Start
	switch {
	case last.IsZero():
		s.cfg.Logger.Info().Msgf("empty archive for %s (%s), backfilling from %s",
			s.cfg.Market, s.cfg.Timeframe.String(), cursor.Format(shared.DateLayout))
	default:
		cursor = last.Add(interval)
	}

	var fresh []shared.Candlestick
	var dropped int

	for {
		data, err := s.cfg.ExchangeClient.FetchKlines(ctx, s.cfg.Market, s.cfg.Timeframe,
			cursor, s.cfg.BatchSize)
		if err != nil {
			return nil, fmt.Errorf("catching up on %s: %w", s.cfg.Market, err)
		}

		if len(data) == 0 {
			break
		}

		candles, err := shared.ParseCandlesticks(data, s.cfg.Market, s.cfg.Timeframe)
		if err != nil {
			return nil, fmt.Errorf("parsing candlesticks for %s: %w", s.cfg.Market, err)
		}

		for idx := range candles {
			candle := candles[idx]

			// Overlapping pages and candles at or before the archive head are
			// skipped so a rerun stays idempotent.
			if !last.IsZero() && !candle.Date.After(last) {
				continue
			}
			if len(fresh) > 0 && !candle.Date.After(fresh[len(fresh)-1].Date) {
				continue
			}

			// The exchange occasionally reports implausible klines, zero priced
			// ones in particular. They cannot feed return calculations, drop them.
			err = candle.Validate()
			if err != nil {
				s.cfg.Logger.Warn().Msgf("dropping invalid candle at %s: %v",
					candle.Date.Format(shared.DateLayout), err)
				dropped++
				continue
			}

			fresh = append(fresh, candle)
		}

		cursor = candles[len(candles)-1].Date.Add(interval)

		// A short page means the exchange has no further data.
		if len(data) < s.cfg.BatchSize {
			break
		}
	}

	if len(fresh) == 0 {
		s.cfg.Logger.Info().Msgf("archive for %s (%s) already caught up",
			s.cfg.Market, s.cfg.Timeframe.String())
		return &SyncSummary{Dropped: dropped, LastTimestamp: last}, nil
	}

	err = s.cfg.Archive.AppendCandles(s.cfg.Market, s.cfg.Timeframe, fresh)
	if err != nil {
		return nil, fmt.Errorf("appending candles for %s: %w", s.cfg.Market, err)
	}

	summary := &SyncSummary{
		Appended:      len(fresh),
		Dropped:       dropped,
		LastTimestamp: fresh[len(fresh)-1].Date,
	}

	s.cfg.Logger.Info().Msgf("appended %d candles to %s (%s), archive head now %s",
		summary.Appended, s.cfg.Market, s.cfg.Timeframe.String(),
		summary.LastTimestamp.Format(shared.DateLayout))

	return summary, nil
}
