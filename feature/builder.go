// Package feature derives the statistical columns used for backtesting research
// from a validated candle archive: simple and log returns plus rolling
// volatility and z-score of returns.
package feature

import (
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"quantpipe/shared"
)

const (
	// DefaultWindow is the default rolling window for volatility and z-score.
	DefaultWindow = 24
)

// Row represents a candlestick augmented with derived return columns.
type Row struct {
	shared.Candlestick

	// Ret is the simple return versus the previous close.
	Ret float64
	// LogRet is the natural log return versus the previous close.
	LogRet float64
	// Vol is the rolling standard deviation of log returns.
	Vol float64
	// ZRet is the rolling z-score of simple returns.
	ZRet float64
}

// BuilderConfig represents the configuration for the feature builder.
type BuilderConfig struct {
	// VolWindow is the rolling window for return volatility.
	VolWindow int
	// ZWindow is the rolling window for the return z-score.
	ZWindow int
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Validate asserts the config has sane inputs.
func (cfg *BuilderConfig) Validate() error {
	var errs error

	if cfg.VolWindow < 2 {
		errs = errors.Join(errs, fmt.Errorf("volatility window must be at least 2, got %d", cfg.VolWindow))
	}
	if cfg.ZWindow < 2 {
		errs = errors.Join(errs, fmt.Errorf("z-score window must be at least 2, got %d", cfg.ZWindow))
	}
	if cfg.Logger == nil {
		errs = errors.Join(errs, fmt.Errorf("logger cannot be nil"))
	}

	return errs
}

// Builder computes derived feature rows over a candle dataset.
type Builder struct {
	cfg *BuilderConfig
}

// NewBuilder initializes a new feature builder.
func NewBuilder(cfg *BuilderConfig) (*Builder, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validating builder config: %w", err)
	}

	return &Builder{cfg: cfg}, nil
}

// Warmup returns the number of leading rows without enough history for a full
// rolling window. These rows are excluded from the output rather than zero filled.
func (b *Builder) Warmup() int {
	warmup := b.cfg.VolWindow
	if b.cfg.ZWindow > warmup {
		warmup = b.cfg.ZWindow
	}

	return warmup
}

// Build computes the derived columns per candle. The output excludes the warm-up
// prefix, so its row count is the input count minus the warm-up window.
func (b *Builder) Build(candles []shared.Candlestick) ([]Row, error) {
	warmup := b.Warmup()
	if len(candles) < warmup+1 {
		return nil, fmt.Errorf("insufficient rows for feature building: have %d, need at least %d",
			len(candles), warmup+1)
	}

	rets := make([]float64, len(candles))
	logRets := make([]float64, len(candles))

	for idx := range candles {
		close := candles[idx].Close

		// NaN compares false against zero, so the finiteness check cannot fold
		// into the sign check.
		if math.IsNaN(close) || math.IsInf(close, 0) {
			return nil, fmt.Errorf("non-finite close at %s, run a quality check before building features",
				candles[idx].Date.Format(shared.DateLayout))
		}
		if close <= 0 {
			return nil, fmt.Errorf("non-positive close at %s, run a quality check before building features",
				candles[idx].Date.Format(shared.DateLayout))
		}

		if idx == 0 {
			continue
		}

		ratio := candles[idx].Close / candles[idx-1].Close
		rets[idx] = ratio - 1
		logRets[idx] = math.Log(ratio)
	}

	rows := make([]Row, 0, len(candles)-warmup)
	for idx := warmup; idx < len(candles); idx++ {
		// Rolling windows cover returns only, the zeroed slot at index 0 never
		// enters a window because the warm-up is at least the window size.
		volStart := idx - b.cfg.VolWindow + 1
		zStart := idx - b.cfg.ZWindow + 1

		vol := stddev(logRets[volStart : idx+1])
		zMean := mean(rets[zStart : idx+1])
		zStd := stddev(rets[zStart : idx+1])

		zRet := math.NaN()
		if zStd > 0 {
			zRet = (rets[idx] - zMean) / zStd
		}

		rows = append(rows, Row{
			Candlestick: candles[idx],
			Ret:         rets[idx],
			LogRet:      logRets[idx],
			Vol:         vol,
			ZRet:        zRet,
		})
	}

	b.cfg.Logger.Info().Msgf("built %d feature rows (warm-up %d) over %d candles",
		len(rows), warmup, len(candles))

	return rows, nil
}

// mean returns the arithmetic mean of the provided values.
func mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}

	return sum / float64(len(values))
}

// stddev returns the sample standard deviation of the provided values.
func stddev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}

	avg := mean(values)

	var sum float64
	for _, v := range values {
		diff := v - avg
		sum += diff * diff
	}

	return math.Sqrt(sum / float64(len(values)-1))
}
