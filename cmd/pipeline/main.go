// Command pipeline runs a single stage once and exits, for cron hosts.
//
//	pipeline discover|scrape|embed|analyze|feeds
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/newsprism/backend/internal/app"
	"github.com/newsprism/backend/internal/pipeline"
	"github.com/newsprism/backend/pkg/config"
	"github.com/newsprism/backend/pkg/logger"
)

const (
	exitOK = iota
	exitFailed
	exitUsage
	exitConfig
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: pipeline discover|scrape|embed|analyze|feeds")
		return exitUsage
	}
	stage, err := pipeline.ParseStage(args[0])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitUsage
	}

	cfg, err := config.Load(os.Getenv("NEWSPRISM_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return exitConfig
	}

	log, err := logger.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return exitConfig
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error("Failed to build application", zap.Error(err))
		return exitFailed
	}
	defer application.Close(context.Background())

	summary, err := application.RunStage(ctx, stage)
	if err != nil {
		if config.IsConfigError(err) {
			log.Error("Invalid configuration", zap.Error(err))
			return exitConfig
		}
		log.Error("Stage failed", zap.String("stage", string(stage)), zap.Error(err))
		return exitFailed
	}

	out, _ := json.MarshalIndent(summary, "", "  ")
	fmt.Println(string(out))
	return exitOK
}
