package shared

import (
	"context"
	"time"

	"github.com/tidwall/gjson"
)

// KlineFetcher defines the requirements for fetching historical market klines.
type KlineFetcher interface {
	// FetchKlines fetches a page of historical klines for the market, starting at the
	// provided interval open time.
	FetchKlines(ctx context.Context, market string, timeframe Timeframe, start time.Time, limit int) ([]gjson.Result, error)
}
