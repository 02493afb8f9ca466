package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/rs/zerolog/pkgerrors"

	"quantpipe/archive"
	"quantpipe/database"
	"quantpipe/feature"
	"quantpipe/fetch"
	"quantpipe/quality"
	"quantpipe/shared"
)

const (
	// backfillDateLayout is the format layout for the configured backfill origin.
	backfillDateLayout = "2006-01-02"
)

// PipelineConfig represents the configuration struct for the pipeline service.
type PipelineConfig struct {
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
}

// Validate asserts the config has sane inputs.
func (cfg *PipelineConfig) Validate() error {
	var errs error

	if cfg.Market == "" {
		errs = errors.Join(errs, fmt.Errorf("market cannot be an empty string"))
	}
	if _, err := shared.ParseTimeframe(cfg.Timeframe); err != nil {
		errs = errors.Join(errs, err)
	}
	if cfg.RawDataDir == "" {
		errs = errors.Join(errs, fmt.Errorf("raw data directory cannot be an empty string"))
	}
	if cfg.ProcessedDataDir == "" {
		errs = errors.Join(errs, fmt.Errorf("processed data directory cannot be an empty string"))
	}
	if _, err := time.Parse(backfillDateLayout, cfg.BackfillStart); err != nil {
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

// Pipeline represents the candle data pipeline service.
type Pipeline struct {
	cfg       *PipelineConfig
	timeframe shared.Timeframe
	store     *archive.Store
	syncer    *fetch.Syncer
	builder   *feature.Builder
	recorder  database.RunRecorder
	logger    *zerolog.Logger
}

// NewPipeline initializes a new pipeline service.
func NewPipeline(ctx context.Context, cfg *PipelineConfig) (*Pipeline, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validating pipeline config: %w", err)
	}

	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack

	logger := log.With().Str("service", "quantpipe").Logger()

	timeframe, err := shared.ParseTimeframe(cfg.Timeframe)
	if err != nil {
		return nil, fmt.Errorf("parsing timeframe: %w", err)
	}

	start, err := time.Parse(backfillDateLayout, cfg.BackfillStart)
	if err != nil {
		return nil, fmt.Errorf("parsing backfill start date: %w", err)
	}

	storeLogger := logger.With().Str("component", "archive").Logger()
	store, err := archive.NewStore(&archive.StoreConfig{
		RawDir:       cfg.RawDataDir,
		ProcessedDir: cfg.ProcessedDataDir,
		Logger:       &storeLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating dataset store: %w", err)
	}

	client := fetch.NewBinanceClient(&fetch.BinanceConfig{
		BaseURL: cfg.ExchangeBaseURL,
	})

	syncerLogger := logger.With().Str("component", "syncer").Logger()
	syncer, err := fetch.NewSyncer(&fetch.SyncerConfig{
		Market:         cfg.Market,
		Timeframe:      timeframe,
		Start:          start.UTC(),
		ExchangeClient: client,
		Archive:        store,
		Logger:         &syncerLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating syncer: %w", err)
	}

	builderLogger := logger.With().Str("component", "features").Logger()
	builder, err := feature.NewBuilder(&feature.BuilderConfig{
		VolWindow: cfg.VolWindow,
		ZWindow:   cfg.ZWindow,
		Logger:    &builderLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating feature builder: %w", err)
	}

	pipeline := &Pipeline{
		cfg:       cfg,
		timeframe: timeframe,
		store:     store,
		syncer:    syncer,
		builder:   builder,
		logger:    &logger,
	}

	// The run ledger is optional, the flat-file pipeline never depends on it.
	if cfg.DatabaseEndpoint != "" {
		dbLogger := logger.With().Str("component", "database").Logger()
		db, err := database.NewDatabase(ctx, &database.DatabaseConfig{
			Endpoint: cfg.DatabaseEndpoint,
			User:     cfg.DatabaseUser,
			Pass:     cfg.DatabasePass,
			Logger:   &dbLogger,
		})
		if err != nil {
			return nil, fmt.Errorf("creating run ledger: %w", err)
		}

		pipeline.recorder = db
	}

	return pipeline, nil
}

// Download incrementally synchronizes the candle archive against the exchange.
func (p *Pipeline) Download(ctx context.Context) (*fetch.SyncSummary, error) {
	summary, err := p.syncer.Sync(ctx)
	if err != nil {
		return nil, err
	}

	if p.recorder != nil {
		err = p.recorder.RecordSyncRun(ctx, p.cfg.Market, p.timeframe, summary)
		if err != nil {
			return nil, fmt.Errorf("recording sync run: %w", err)
		}
	}

	return summary, nil
}

// QualityCheck scans the candle archive and persists the resulting report, plus
// a gaps dataset when gaps were found.
func (p *Pipeline) QualityCheck(ctx context.Context) (*quality.Report, error) {
	candles, err := p.store.LoadCandles(p.cfg.Market, p.timeframe)
	if err != nil {
		return nil, err
	}

	if len(candles) == 0 {
		return nil, fmt.Errorf("no archive found for %s (%s), run a download first",
			p.cfg.Market, p.timeframe.String())
	}

	report := quality.Check(candles, p.cfg.Market, p.timeframe)

	err = p.store.WriteReport(p.cfg.Market, p.timeframe, report.Render())
	if err != nil {
		return nil, err
	}

	if len(report.Gaps) > 0 {
		err = p.store.WriteGaps(p.cfg.Market, p.timeframe, report.RenderGapsCSV())
		if err != nil {
			return nil, err
		}
	}

	if p.recorder != nil {
		err = p.recorder.RecordQualityReport(ctx, report)
		if err != nil {
			return nil, fmt.Errorf("recording quality report: %w", err)
		}
	}

	return report, nil
}

// BuildFeatures computes the derived feature dataset from the candle archive and
// persists it. The archive must pass a quality check first.
func (p *Pipeline) BuildFeatures(ctx context.Context) error {
	candles, err := p.store.LoadCandles(p.cfg.Market, p.timeframe)
	if err != nil {
		return err
	}

	if len(candles) == 0 {
		return fmt.Errorf("no archive found for %s (%s), run a download first",
			p.cfg.Market, p.timeframe.String())
	}

	report := quality.Check(candles, p.cfg.Market, p.timeframe)
	if !report.Pass() {
		return fmt.Errorf("archive for %s (%s) failed its quality check (%d gaps, %d duplicates), refusing to build features",
			p.cfg.Market, p.timeframe.String(), len(report.Gaps), report.Duplicates)
	}

	rows, err := p.builder.Build(candles)
	if err != nil {
		return err
	}

	path := p.store.FeaturesPath(p.cfg.Market, p.timeframe)
	err = feature.WriteFile(path, rows, p.cfg.VolWindow, p.cfg.ZWindow)
	if err != nil {
		return err
	}

	p.logger.Info().Msgf("features dataset saved to %s (%d rows)", path, len(rows))

	return nil
}

// Validate loads the features dataset and asserts its structural invariants.
func (p *Pipeline) Validate(ctx context.Context) error {
	path := p.store.FeaturesPath(p.cfg.Market, p.timeframe)

	rows, err := feature.LoadFile(path, p.cfg.Market, p.timeframe)
	if err != nil {
		return err
	}

	if len(rows) == 0 {
		return fmt.Errorf("features dataset %s has no rows", path)
	}

	p.logger.Info().Msgf("features dataset %s is valid: %d rows, %s to %s",
		path, len(rows), rows[0].Date.Format(shared.DateLayout),
		rows[len(rows)-1].Date.Format(shared.DateLayout))

	return nil
}
