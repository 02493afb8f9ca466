package shared

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/tidwall/gjson"
)

// Candlestick represents a unit candlestick for a market.
type Candlestick struct {
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
	Date   time.Time

	// Metadata.
	Market    string
	Timeframe Timeframe
}

// Validate asserts the candlestick describes a plausible interval.
func (c *Candlestick) Validate() error {
	var errs error

	fields := []float64{c.Open, c.High, c.Low, c.Close, c.Volume}
	for _, field := range fields {
		if math.IsNaN(field) || math.IsInf(field, 0) {
			errs = errors.Join(errs, fmt.Errorf("candlestick fields must be finite, got %v", field))
			break
		}
	}

	if c.Close <= 0 {
		errs = errors.Join(errs, fmt.Errorf("close price must be positive, got %v", c.Close))
	}
	if c.Open <= 0 {
		errs = errors.Join(errs, fmt.Errorf("open price must be positive, got %v", c.Open))
	}
	if c.Volume < 0 {
		errs = errors.Join(errs, fmt.Errorf("volume cannot be negative, got %v", c.Volume))
	}
	if c.High < c.Low {
		errs = errors.Join(errs, fmt.Errorf("high (%v) cannot be below low (%v)", c.High, c.Low))
	}
	if c.High < math.Max(c.Open, c.Close) {
		errs = errors.Join(errs, fmt.Errorf("high (%v) cannot be below open/close", c.High))
	}
	if c.Low > math.Min(c.Open, c.Close) {
		errs = errors.Join(errs, fmt.Errorf("low (%v) cannot be above open/close", c.Low))
	}
	if c.Date.IsZero() {
		errs = errors.Join(errs, fmt.Errorf("candlestick date cannot be the zero time"))
	}

	return errs
}

// ParseCandlesticks parses candlesticks from the provided exchange kline data.
//
// A kline is a fixed-order json array: index 0 is the interval open time in unix
// milliseconds, indices 1-5 are open, high, low, close and volume.
func ParseCandlesticks(data []gjson.Result, market string, timeframe Timeframe) ([]Candlestick, error) {
	candles := make([]Candlestick, 0, len(data))

	for idx := range data {
		fields := data[idx].Array()
		if len(fields) < 6 {
			return nil, fmt.Errorf("malformed kline at index %d: expected at least 6 fields, got %d",
				idx, len(fields))
		}

		var candle Candlestick

		candle.Date = time.UnixMilli(fields[0].Int()).UTC()
		candle.Open = fields[1].Float()
		candle.High = fields[2].Float()
		candle.Low = fields[3].Float()
		candle.Close = fields[4].Float()
		candle.Volume = fields[5].Float()

		candle.Market = market
		candle.Timeframe = timeframe

		candles = append(candles, candle)
	}

	return candles, nil
}
