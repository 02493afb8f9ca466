package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"

	"quantpipe/service"
)

// handleTermination processes context cancellation signals or interrupt signals from the OS.
func handleTermination(ctx context.Context, cancel context.CancelFunc) {
	// Listen for interrupt signals.
	signals := []os.Signal{os.Interrupt}
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, signals...)

	// Wait for the context to be cancelled or an interrupt signal.
	for {
		select {
		case <-ctx.Done():
			return

		case <-interrupt:
			cancel()
		}
	}
}

// run dispatches the requested pipeline step.
func run(ctx context.Context, pipeline *service.Pipeline, step string) error {
	switch step {
	case "download":
		_, err := pipeline.Download(ctx)
		return err
	case "quality":
		report, err := pipeline.QualityCheck(ctx)
		if err != nil {
			return err
		}
		if !report.Pass() {
			return fmt.Errorf("quality check failed: %d gaps, %d duplicates",
				len(report.Gaps), report.Duplicates)
		}
		return nil
	case "features":
		return pipeline.BuildFeatures(ctx)
	case "validate":
		return pipeline.Validate(ctx)
	default:
		return fmt.Errorf("unknown pipeline step %q, expected download|quality|features|validate", step)
	}
}

func main() {
	var cfg Config
	err := loadConfig(&cfg, "")
	if err != nil {
		log.Printf("loading config: %v", err)
		os.Exit(1)
	}

	step := flag.Arg(0)
	if step == "" {
		log.Printf("no pipeline step provided, expected download|quality|features|validate")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go handleTermination(ctx, cancel)

	pipelineCfg := service.PipelineConfig{
		Market:           cfg.Market,
		Timeframe:        cfg.Timeframe,
		RawDataDir:       cfg.RawDataDir,
		ProcessedDataDir: cfg.ProcessedDataDir,
		BackfillStart:    cfg.BackfillStart,
		VolWindow:        cfg.VolWindow,
		ZWindow:          cfg.ZWindow,
		ExchangeBaseURL:  cfg.ExchangeBaseURL,
		DatabaseEndpoint: cfg.DatabaseEndpoint,
		DatabaseUser:     cfg.DatabaseUser,
		DatabasePass:     cfg.DatabasePass,
	}
	pipeline, err := service.NewPipeline(ctx, &pipelineCfg)
	if err != nil {
		log.Printf("creating pipeline service: %v", err)
		os.Exit(1)
	}

	err = run(ctx, pipeline, step)
	if err != nil {
		log.Printf("running %s: %v", step, err)
		os.Exit(1)
	}
}
