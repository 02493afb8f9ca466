package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the configuration struct for the pipeline.
type Config struct {
	// Market represents the synchronized market pair.
	Market string
	// Timeframe is the candle interval label.
	Timeframe string
	// RawDataDir is the directory holding raw candle archives.
	RawDataDir string
	// ProcessedDataDir is the directory holding derived datasets and reports.
	ProcessedDataDir string
	// BackfillStart is the historical backfill origin date (YYYY-MM-DD).
	BackfillStart string
	// VolWindow is the rolling window for return volatility.
	VolWindow int
	// ZWindow is the rolling window for the return z-score.
	ZWindow int
	// ExchangeBaseURL overrides the exchange api base url when set.
	ExchangeBaseURL string
	// DatabaseEndpoint is the optional run ledger endpoint.
	DatabaseEndpoint string
	// DatabaseUser is the run ledger user.
	DatabaseUser string
	// DatabasePass is the run ledger user pass.
	DatabasePass string

	registeredFlags map[string]bool
}

// Validate asserts the config has sane inputs.
func (cfg *Config) Validate() error {
	var errs error

	if cfg.Market == "" {
		errs = errors.Join(errs, fmt.Errorf("market cannot be an empty string"))
	}
	if cfg.Timeframe == "" {
		errs = errors.Join(errs, fmt.Errorf("timeframe cannot be an empty string"))
	}
	if cfg.RawDataDir == "" {
		errs = errors.Join(errs, fmt.Errorf("raw data directory cannot be an empty string"))
	}
	if cfg.ProcessedDataDir == "" {
		errs = errors.Join(errs, fmt.Errorf("processed data directory cannot be an empty string"))
	}
	if _, err := time.Parse("2006-01-02", cfg.BackfillStart); err != nil {
		errs = errors.Join(errs, fmt.Errorf("parsing backfill start date: %w", err))
	}
	if cfg.VolWindow < 2 {
		errs = errors.Join(errs, fmt.Errorf("volatility window must be at least 2, got %d", cfg.VolWindow))
	}
	if cfg.ZWindow < 2 {
		errs = errors.Join(errs, fmt.Errorf("z-score window must be at least 2, got %d", cfg.ZWindow))
	}

	return errs
}

// registerFlag registers command line arguments of any type and tracks them to avoid reregistration.
func (cfg *Config) registerFlag(name string, value interface{}, usage string) error {
	if cfg.registeredFlags == nil {
		cfg.registeredFlags = make(map[string]bool)
	}

	if cfg.registeredFlags[name] {
		return nil
	}

	cfg.registeredFlags[name] = true

	defValue := os.Getenv(name)
	val := reflect.ValueOf(value)
	if val.Kind() != reflect.Ptr || val.IsNil() {
		return fmt.Errorf("%s: value must be a non-nil pointer", name)
	}

	switch val.Elem().Kind() {
	case reflect.String:
		flag.StringVar(value.(*string), name, defValue, usage)
	case reflect.Bool:
		var def bool
		if defValue != "" {
			def, _ = strconv.ParseBool(defValue)
		}
		flag.BoolVar(value.(*bool), name, def, usage)
	case reflect.Int:
		var def int
		if defValue != "" {
			def, _ = strconv.Atoi(defValue)
		}
		flag.IntVar(value.(*int), name, def, usage)
	default:
		return fmt.Errorf("%s: unsupported type", name)
	}

	return nil
}

// applyDefaults fills unset fields with the pipeline defaults.
func (cfg *Config) applyDefaults() {
	if cfg.Market == "" {
		cfg.Market = "BTCUSDT"
	}
	if cfg.Timeframe == "" {
		cfg.Timeframe = "1h"
	}
	if cfg.RawDataDir == "" {
		cfg.RawDataDir = "data/raw"
	}
	if cfg.ProcessedDataDir == "" {
		cfg.ProcessedDataDir = "data/processed"
	}
	if cfg.BackfillStart == "" {
		cfg.BackfillStart = "2023-01-01"
	}
	if cfg.VolWindow == 0 {
		cfg.VolWindow = 24
	}
	if cfg.ZWindow == 0 {
		cfg.ZWindow = 24
	}
}

// loadConfig loads the configuration from environment variables and command line flags.
func loadConfig(cfg *Config, path string) error {
	if path == "" {
		path = ".env"
	}

	// Check if the expected .env file exists before loading it.
	_, err := os.Stat(path)
	if err == nil {
		err := godotenv.Load(path)
		if err != nil {
			return fmt.Errorf("loading .env file: %w", err)
		}
	}

	// Register command line arguments using loaded environment variables as defaults.
	err = cfg.registerFlag("market", &cfg.Market, "the synchronized market pair")
	if err != nil {
		return err
	}
	err = cfg.registerFlag("timeframe", &cfg.Timeframe, "the candle interval label")
	if err != nil {
		return err
	}
	err = cfg.registerFlag("rawdatadir", &cfg.RawDataDir, "the raw candle archive directory")
	if err != nil {
		return err
	}
	err = cfg.registerFlag("processeddatadir", &cfg.ProcessedDataDir, "the derived dataset directory")
	if err != nil {
		return err
	}
	err = cfg.registerFlag("backfillstart", &cfg.BackfillStart, "the historical backfill origin date")
	if err != nil {
		return err
	}
	err = cfg.registerFlag("volwindow", &cfg.VolWindow, "the rolling volatility window")
	if err != nil {
		return err
	}
	err = cfg.registerFlag("zwindow", &cfg.ZWindow, "the rolling z-score window")
	if err != nil {
		return err
	}
	err = cfg.registerFlag("exchangebaseurl", &cfg.ExchangeBaseURL, "the exchange api base url override")
	if err != nil {
		return err
	}
	err = cfg.registerFlag("dbendpoint", &cfg.DatabaseEndpoint, "the run ledger endpoint")
	if err != nil {
		return err
	}
	err = cfg.registerFlag("dbuser", &cfg.DatabaseUser, "the run ledger user")
	if err != nil {
		return err
	}
	err = cfg.registerFlag("dbpass", &cfg.DatabasePass, "the run ledger user pass")
	if err != nil {
		return err
	}

	// Parse command-line flags.
	flag.Parse()

	cfg.applyDefaults()

	return cfg.Validate()
}
