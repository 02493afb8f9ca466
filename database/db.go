package database

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/google/uuid"
	rqlitehttp "github.com/rqlite/rqlite-go-http"
	"github.com/rs/zerolog"

	"quantpipe/fetch"
	"quantpipe/quality"
	"quantpipe/shared"
)

const (
	// SQL statements.
	createSyncRunTableSQL = "CREATE TABLE IF NOT EXISTS syncrun (id TEXT PRIMARY KEY, market TEXT, timeframe TEXT, appended INTEGER, dropped INTEGER, lastts INTEGER, createdon INTEGER)"
	createQualityTableSQL = "CREATE TABLE IF NOT EXISTS qualityreport (id TEXT PRIMARY KEY, market TEXT, timeframe TEXT, rows INTEGER, gaps INTEGER, duplicates INTEGER, invalidclose INTEGER, pass INTEGER, createdon INTEGER)"
	persistSyncRunSQL     = "INSERT INTO syncrun(id, market, timeframe, appended, dropped, lastts, createdon) VALUES(?,?,?,?,?,?,?)"
	persistQualitySQL     = "INSERT INTO qualityreport(id, market, timeframe, rows, gaps, duplicates, invalidclose, pass, createdon) VALUES(?,?,?,?,?,?,?,?,?)"
)

// RunRecorder defines the requirements for recording pipeline runs.
type RunRecorder interface {
	// RecordSyncRun stores the provided sync run summary to the database.
	RecordSyncRun(ctx context.Context, market string, timeframe shared.Timeframe, summary *fetch.SyncSummary) error
	// RecordQualityReport stores the provided quality report outcome to the database.
	RecordQualityReport(ctx context.Context, report *quality.Report) error
}

// DatabaseConfig is the configuration for the database.
type DatabaseConfig struct {
	// Endpoint represents the database connection endpoint.
	Endpoint string
	// User is the database user.
	User string
	// Pass is the database user pass.
	Pass string
	// Logger is the database logger.
	Logger *zerolog.Logger
}

// Database represents the run ledger database connection. The candle datasets
// themselves live in flat files, the ledger only tracks pipeline run outcomes.
type Database struct {
	cfg    *DatabaseConfig
	client *rqlitehttp.Client
}

// Ensure the database implements the RunRecorder interface.
var _ RunRecorder = (*Database)(nil)

// NewDatabase initializes a new database connection.
func NewDatabase(ctx context.Context, cfg *DatabaseConfig) (*Database, error) {
	httpc := &http.Client{Timeout: time.Second * 5}
	client, err := rqlitehttp.NewClient(cfg.Endpoint, httpc)
	if err != nil {
		return nil, fmt.Errorf("creating database client: %w", err)
	}

	client.SetBasicAuth(cfg.User, cfg.Pass)

	db := &Database{
		cfg:    cfg,
		client: client,
	}

	err = db.bootstrap(ctx)
	if err != nil {
		return nil, fmt.Errorf("bootstrapping database: %w", err)
	}

	return db, nil
}

// bootstrap initializes the database.
func (db *Database) bootstrap(ctx context.Context) error {
	_, err := db.client.Execute(ctx, rqlitehttp.SQLStatements{
		{SQL: createSyncRunTableSQL},
		{SQL: createQualityTableSQL},
	}, &rqlitehttp.ExecuteOptions{
		Transaction: true,
		Timings:     true,
	})
	if err != nil {
		return err
	}

	return nil
}

// RecordSyncRun stores the provided sync run summary to the database.
func (db *Database) RecordSyncRun(ctx context.Context, market string, timeframe shared.Timeframe, summary *fetch.SyncSummary) error {
	resp, err := db.client.Execute(ctx, rqlitehttp.SQLStatements{
		{
			SQL: persistSyncRunSQL,
			PositionalParams: []any{uuid.New().String(), market, timeframe.String(),
				summary.Appended, summary.Dropped, summary.LastTimestamp.UnixMilli(),
				time.Now().Unix()},
		},
	}, &rqlitehttp.ExecuteOptions{Transaction: true, Timings: true})
	if err != nil {
		return err
	}

	has, idx, errStr := resp.HasError()
	if has {
		db.cfg.Logger.Error().Msgf("unexpected sync run state: %s", spew.Sdump(summary))
		return fmt.Errorf("recording sync run for %s: %d -> %s", market, idx, errStr)
	}

	return nil
}

// RecordQualityReport stores the provided quality report outcome to the database.
func (db *Database) RecordQualityReport(ctx context.Context, report *quality.Report) error {
	var pass int
	if report.Pass() {
		pass = 1
	}

	resp, err := db.client.Execute(ctx, rqlitehttp.SQLStatements{
		{
			SQL: persistQualitySQL,
			PositionalParams: []any{uuid.New().String(), report.Market, report.Timeframe.String(),
				report.Rows, len(report.Gaps), report.Duplicates, report.InvalidClose, pass,
				time.Now().Unix()},
		},
	}, &rqlitehttp.ExecuteOptions{Transaction: true, Timings: true})
	if err != nil {
		return err
	}

	has, idx, errStr := resp.HasError()
	if has {
		db.cfg.Logger.Error().Msgf("unexpected quality report state: %s", spew.Sdump(report))
		return fmt.Errorf("recording quality report for %s: %d -> %s", report.Market, idx, errStr)
	}

	return nil
}
