package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"quantpipe/shared"
)

const (
	// defaultBaseURL is the binance spot api endpoint.
	defaultBaseURL = "https://api.binance.com"
	// klinesPath is the public historical klines route.
	klinesPath = "/api/v3/klines"
	// MaxKlineLimit is the largest page size accepted by the klines route.
	MaxKlineLimit = 1000
)

// BinanceConfig represents the configuration for the binance client.
type BinanceConfig struct {
	// BaseURL is the exchange api base url.
	BaseURL string
}

// BinanceClient represents the binance exchange api client.
//
// The klines route is public market data and needs no api credentials.
type BinanceClient struct {
	cfg   *BinanceConfig
	httpc http.Client
	buf   *bytes.Buffer
}

// Ensure the binance client implements the KlineFetcher interface.
var _ shared.KlineFetcher = (*BinanceClient)(nil)

// NewBinanceClient instantiates a new binance client.
func NewBinanceClient(cfg *BinanceConfig) *BinanceClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}

	return &BinanceClient{
		cfg:   cfg,
		httpc: http.Client{Timeout: time.Second * 10},
		buf:   bytes.NewBuffer(make([]byte, 0, 512)),
	}
}

// formURL creates full urls including parameters for the api.
func (c *BinanceClient) formURL(path string, params string) string {
	c.buf.WriteString(c.cfg.BaseURL)
	c.buf.WriteString(path)
	c.buf.WriteString("?")
	c.buf.WriteString(params)
	url := c.buf.String()
	c.buf.Reset()

	return url
}

// FetchKlines fetches a page of historical klines for the market, starting at the
// provided interval open time.
func (c *BinanceClient) FetchKlines(ctx context.Context, market string, timeframe shared.Timeframe, start time.Time, limit int) ([]gjson.Result, error) {
	if limit <= 0 || limit > MaxKlineLimit {
		limit = MaxKlineLimit
	}

	params := url.Values{}
	params.Add("symbol", market)
	params.Add("interval", timeframe.String())
	params.Add("startTime", strconv.FormatInt(start.UnixMilli(), 10))
	params.Add("limit", strconv.Itoa(limit))

	formedURL := c.formURL(klinesPath, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, formedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating klines request: %w", err)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching klines (%s) for %s: %w", timeframe.String(), market, err)
	}

	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		// The exchange reports errors as a {code, msg} payload.
		msg := gjson.GetBytes(body, "msg").String()
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}

		return nil, fmt.Errorf("fetching klines (%s) for %s: status %d: %s",
			timeframe.String(), market, resp.StatusCode, msg)
	}

	data := gjson.ParseBytes(body).Array()

	return data, nil
}
