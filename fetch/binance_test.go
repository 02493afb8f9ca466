package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"

	"quantpipe/shared"
)

func TestBinanceClientFormURL(t *testing.T) {
	cfg := &BinanceConfig{
		BaseURL: "http://base",
	}

	client := NewBinanceClient(cfg)

	params := url.Values{}
	params.Add("a", "bbb")
	params.Add("b", "ccc")

	path := "/path"
	formedURL := client.formURL(path, params.Encode())
	assert.Equal(t, formedURL, "http://base/path?a=bbb&b=ccc")
}

func TestBinanceClientFetchKlines(t *testing.T) {
	payload := `[
		[1709294400000,"62000.1","62500.5","61800.0","62400.2","35.7",1709297999999,"0",0,"0","0","0"],
		[1709298000000,"62400.2","62800.0","62100.3","62650.9","28.4",1709301599999,"0",0,"0","0","0"]
	]`

	var gotQuery url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.Write([]byte(payload))
	}))
	defer server.Close()

	client := NewBinanceClient(&BinanceConfig{BaseURL: server.URL})

	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	data, err := client.FetchKlines(context.Background(), "BTCUSDT", shared.OneHour, start, 500)
	assert.NoError(t, err)
	assert.Equal(t, len(data), 2)

	// Ensure the request carried the expected parameters.
	assert.Equal(t, gotQuery.Get("symbol"), "BTCUSDT")
	assert.Equal(t, gotQuery.Get("interval"), "1h")
	assert.Equal(t, gotQuery.Get("startTime"), "1709294400000")
	assert.Equal(t, gotQuery.Get("limit"), "500")

	// Ensure the payload parses into candles.
	candles, err := shared.ParseCandlesticks(data, "BTCUSDT", shared.OneHour)
	assert.NoError(t, err)
	assert.Equal(t, len(candles), 2)
	assert.Equal(t, candles[0].Close, 62400.2)
}

func TestBinanceClientFetchKlinesLimitClamp(t *testing.T) {
	var gotLimit string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotLimit = r.URL.Query().Get("limit")
		w.Write([]byte("[]"))
	}))
	defer server.Close()

	client := NewBinanceClient(&BinanceConfig{BaseURL: server.URL})

	_, err := client.FetchKlines(context.Background(), "BTCUSDT", shared.OneHour, time.Now(), 0)
	assert.NoError(t, err)
	assert.Equal(t, gotLimit, "1000")

	_, err = client.FetchKlines(context.Background(), "BTCUSDT", shared.OneHour, time.Now(), 5000)
	assert.NoError(t, err)
	assert.Equal(t, gotLimit, "1000")
}

func TestBinanceClientFetchKlinesError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
	}))
	defer server.Close()

	client := NewBinanceClient(&BinanceConfig{BaseURL: server.URL})

	// Ensure exchange error payloads surface to the caller.
	_, err := client.FetchKlines(context.Background(), "NOPE", shared.OneHour, time.Now(), 10)
	assert.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "Invalid symbol."))

	// Ensure transport failures surface to the caller.
	down := NewBinanceClient(&BinanceConfig{BaseURL: "http://127.0.0.1:1"})
	_, err = down.FetchKlines(context.Background(), "BTCUSDT", shared.OneHour, time.Now(), 10)
	assert.Error(t, err)
}
