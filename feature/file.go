package feature

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"quantpipe/shared"
)

// WriteFile persists the provided feature rows as a CSV dataset at path. The
// rolling window sizes are embedded in the volatility and z-score column names,
// mirroring the archive naming convention for derived datasets.
func WriteFile(path string, rows []Row, volWindow int, zWindow int) error {
	err := os.MkdirAll(filepath.Dir(path), 0o755)
	if err != nil {
		return fmt.Errorf("creating features directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp")
	if err != nil {
		return fmt.Errorf("creating temp features file: %w", err)
	}

	records := make([][]string, 0, len(rows)+1)
	records = append(records, []string{
		"timestamp", "open", "high", "low", "close", "volume",
		"ret", "log_ret",
		fmt.Sprintf("vol_%d", volWindow),
		fmt.Sprintf("zret_%d", zWindow),
	})

	for idx := range rows {
		row := &rows[idx]
		records = append(records, []string{
			strconv.FormatInt(row.Date.UnixMilli(), 10),
			strconv.FormatFloat(row.Open, 'f', -1, 64),
			strconv.FormatFloat(row.High, 'f', -1, 64),
			strconv.FormatFloat(row.Low, 'f', -1, 64),
			strconv.FormatFloat(row.Close, 'f', -1, 64),
			strconv.FormatFloat(row.Volume, 'f', -1, 64),
			strconv.FormatFloat(row.Ret, 'g', -1, 64),
			strconv.FormatFloat(row.LogRet, 'g', -1, 64),
			strconv.FormatFloat(row.Vol, 'g', -1, 64),
			strconv.FormatFloat(row.ZRet, 'g', -1, 64),
		})
	}

	writer := csv.NewWriter(tmp)
	err = writer.WriteAll(records)
	if err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing features dataset %s: %w", path, err)
	}

	err = tmp.Close()
	if err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("closing temp features file: %w", err)
	}

	err = os.Rename(tmp.Name(), path)
	if err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replacing features dataset %s: %w", path, err)
	}

	return nil
}

// LoadFile loads and structurally validates a features dataset: the required
// columns must be present and the timestamp index must be chronological and
// unique. Backtests depend on these invariants, so violations are errors here
// rather than downstream surprises.
func LoadFile(path string, market string, timeframe shared.Timeframe) ([]Row, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening features dataset %s: %w", path, err)
	}

	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading features dataset %s: %w", path, err)
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("features dataset %s is empty", path)
	}

	columns := make(map[string]int, len(records[0]))
	for idx, name := range records[0] {
		columns[name] = idx
	}

	required := []string{"timestamp", "open", "high", "low", "close", "volume", "ret", "log_ret"}
	for _, name := range required {
		_, ok := columns[name]
		if !ok {
			return nil, fmt.Errorf("features dataset %s is missing required column %q", path, name)
		}
	}

	volCol, zretCol := -1, -1
	for name, idx := range columns {
		switch {
		case len(name) > 4 && name[:4] == "vol_":
			volCol = idx
		case len(name) > 5 && name[:5] == "zret_":
			zretCol = idx
		}
	}

	if volCol == -1 {
		return nil, fmt.Errorf("features dataset %s has no volatility column (expected vol_<window>)", path)
	}
	if zretCol == -1 {
		return nil, fmt.Errorf("features dataset %s has no z-score column (expected zret_<window>)", path)
	}

	rows := make([]Row, 0, len(records)-1)
	var prev time.Time

	for num, record := range records[1:] {
		if len(record) != len(records[0]) {
			return nil, fmt.Errorf("features dataset %s row %d: expected %d columns, got %d",
				path, num+1, len(records[0]), len(record))
		}

		parse := func(name string) (float64, error) {
			val, err := strconv.ParseFloat(record[columns[name]], 64)
			if err != nil {
				return 0, fmt.Errorf("features dataset %s row %d: parsing %s: %w", path, num+1, name, err)
			}
			return val, nil
		}

		ms, err := strconv.ParseInt(record[columns["timestamp"]], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("features dataset %s row %d: parsing timestamp: %w", path, num+1, err)
		}

		row := Row{
			Candlestick: shared.Candlestick{
				Date:      time.UnixMilli(ms).UTC(),
				Market:    market,
				Timeframe: timeframe,
			},
		}

		fields := []struct {
			name string
			dst  *float64
		}{
			{"open", &row.Open},
			{"high", &row.High},
			{"low", &row.Low},
			{"close", &row.Close},
			{"volume", &row.Volume},
			{"ret", &row.Ret},
			{"log_ret", &row.LogRet},
		}
		for _, field := range fields {
			*field.dst, err = parse(field.name)
			if err != nil {
				return nil, err
			}
		}

		row.Vol, err = strconv.ParseFloat(record[volCol], 64)
		if err != nil {
			return nil, fmt.Errorf("features dataset %s row %d: parsing volatility: %w", path, num+1, err)
		}
		row.ZRet, err = strconv.ParseFloat(record[zretCol], 64)
		if err != nil {
			return nil, fmt.Errorf("features dataset %s row %d: parsing z-score: %w", path, num+1, err)
		}

		if !prev.IsZero() && !row.Date.After(prev) {
			return nil, fmt.Errorf("features dataset %s row %d: timestamps must be strictly increasing", path, num+1)
		}
		prev = row.Date

		rows = append(rows, row)
	}

	return rows, nil
}
