// Package quality scans candle archives for the defects that corrupt downstream
// research: missing intervals, duplicate timestamps, out-of-order rows and
// non-positive closing prices.
package quality

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"quantpipe/shared"
)

const (
	// maxReportedGaps limits how many gaps the rendered report lists.
	maxReportedGaps = 15
)

// Gap represents a missing stretch of expected intervals in a dataset.
type Gap struct {
	// Prev is the candle timestamp preceding the gap.
	Prev time.Time
	// Curr is the first candle timestamp after the gap.
	Curr time.Time
	// Width is the distance between the bounding timestamps.
	Width time.Duration
}

// Report represents the outcome of a dataset quality scan.
type Report struct {
	// Market is the scanned market.
	Market string
	// Timeframe is the scanned timeframe.
	Timeframe shared.Timeframe
	// Rows is the dataset row count.
	Rows int
	// Start is the earliest candle timestamp.
	Start time.Time
	// End is the latest candle timestamp.
	End time.Time
	// Gaps holds the detected gaps in chronological order.
	Gaps []Gap
	// Duplicates is the number of rows sharing a timestamp with an earlier row.
	Duplicates int
	// OutOfOrder is the number of rows breaking chronological order.
	OutOfOrder int
	// InvalidClose is the number of rows with a non-positive closing price.
	InvalidClose int
	// NonFinite is the number of rows carrying a NaN or infinite numeric field.
	NonFinite int
}

// Pass reports whether the dataset is fit for feature building. Only gaps and
// duplicates fail the check, the remaining counters are informational.
func (r *Report) Pass() bool {
	return len(r.Gaps) == 0 && r.Duplicates == 0
}

// Check scans the provided candles against the nominal interval of their timeframe
// and derives a quality report. The input is not mutated.
func Check(candles []shared.Candlestick, market string, timeframe shared.Timeframe) *Report {
	report := &Report{
		Market:    market,
		Timeframe: timeframe,
		Rows:      len(candles),
	}

	if len(candles) == 0 {
		return report
	}

	for idx := range candles {
		candle := &candles[idx]

		if candle.Close <= 0 {
			report.InvalidClose++
		}
		if !isFinite(candle.Open) || !isFinite(candle.High) || !isFinite(candle.Low) ||
			!isFinite(candle.Close) || !isFinite(candle.Volume) {
			report.NonFinite++
		}
		if idx > 0 && candle.Date.Before(candles[idx-1].Date) {
			report.OutOfOrder++
		}
	}

	// Gap and duplicate scans run over a sorted copy so out-of-order input does
	// not masquerade as missing intervals.
	sorted := make([]shared.Candlestick, len(candles))
	copy(sorted, candles)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Date.Before(sorted[j].Date)
	})

	report.Start = sorted[0].Date
	report.End = sorted[len(sorted)-1].Date

	interval := timeframe.Duration()
	for idx := 1; idx < len(sorted); idx++ {
		diff := sorted[idx].Date.Sub(sorted[idx-1].Date)

		switch {
		case diff == 0:
			report.Duplicates++
		case diff > interval:
			report.Gaps = append(report.Gaps, Gap{
				Prev:  sorted[idx-1].Date,
				Curr:  sorted[idx].Date,
				Width: diff,
			})
		}
	}

	return report
}

// Render renders the report as a plain text document.
func (r *Report) Render() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Quality report for %s (%s)\n\n", r.Market, r.Timeframe.String()))
	sb.WriteString(fmt.Sprintf("Rows: %d\n", r.Rows))

	if r.Rows > 0 {
		sb.WriteString(fmt.Sprintf("Start: %s\n", r.Start.Format(shared.DateLayout)))
		sb.WriteString(fmt.Sprintf("End: %s\n", r.End.Format(shared.DateLayout)))
	}

	sb.WriteString(fmt.Sprintf("Out of order rows: %d\n", r.OutOfOrder))
	sb.WriteString(fmt.Sprintf("Duplicate timestamps: %d\n", r.Duplicates))
	sb.WriteString(fmt.Sprintf("Rows with close <= 0: %d\n", r.InvalidClose))
	sb.WriteString(fmt.Sprintf("Rows with non-finite values: %d\n", r.NonFinite))
	sb.WriteString(fmt.Sprintf("Gaps (diff > %s): %d\n", r.Timeframe.Duration(), len(r.Gaps)))

	if len(r.Gaps) > 0 {
		// List the widest gaps first to point at the worst stretches.
		widest := make([]Gap, len(r.Gaps))
		copy(widest, r.Gaps)
		sort.Slice(widest, func(i, j int) bool {
			return widest[i].Width > widest[j].Width
		})

		if len(widest) > maxReportedGaps {
			widest = widest[:maxReportedGaps]
		}

		sb.WriteString(fmt.Sprintf("\nWidest gaps (top %d):\n", len(widest)))
		for _, gap := range widest {
			sb.WriteString(fmt.Sprintf(" - %s -> %s | gap=%s\n",
				gap.Prev.Format(shared.DateLayout), gap.Curr.Format(shared.DateLayout), gap.Width))
		}
	}

	sb.WriteString("\nResult: ")
	switch r.Pass() {
	case true:
		sb.WriteString("PASS\n")
	default:
		sb.WriteString("FAIL\n")
	}

	return sb.String()
}

// isFinite reports whether the value is neither NaN nor infinite.
func isFinite(value float64) bool {
	return !math.IsNaN(value) && !math.IsInf(value, 0)
}

// RenderGapsCSV renders the detected gaps as a CSV document for later analysis.
func (r *Report) RenderGapsCSV() string {
	var sb strings.Builder

	sb.WriteString("prev_time,curr_time,width\n")
	for _, gap := range r.Gaps {
		sb.WriteString(fmt.Sprintf("%d,%d,%s\n",
			gap.Prev.UnixMilli(), gap.Curr.UnixMilli(), gap.Width))
	}

	return sb.String()
}
