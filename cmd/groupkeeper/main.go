package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"groupkeeper-bot/internal/app"
	"groupkeeper-bot/internal/config"
	"groupkeeper-bot/pkg/logger"
)

// ENTRY POINT

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage:\n  %s              run the bot\n  %s migrate CMD  run a schema command: up, down or status\n", os.Args[0], os.Args[0])
	}
	flag.Parse()

	if flag.Arg(0) == "migrate" {
		os.Exit(migrate(flag.Arg(1)))
	}
	os.Exit(serve())
}

func serve() int {
	application := app.New(
		app.Modules(),
		fx.WithLogger(logger.NewFxLogger),
	)
	if err := application.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build application: %v\n", err)
		return 1
	}

	startCtx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	err := application.Start(startCtx)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start application: %v\n", err)
		return 1
	}

	sig := <-application.Done()

	// Give in-flight updates 30 seconds to finish
	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := application.Stop(stopCtx); err != nil {
		fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
		return 1
	}
	return sig.ExitCode
}

func migrate(command string) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	log, err := logger.New(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, File: cfg.Log.File})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer log.Sync()

	if err := app.Migrate(context.Background(), cfg, log, command); err != nil {
		log.Error("Migration failed", zap.String("command", command), zap.Error(err))
		return 1
	}
	return 0
}
