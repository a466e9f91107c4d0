package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/docs-agent/backend/internal/app"
	"github.com/docs-agent/backend/internal/cli"
	"github.com/docs-agent/backend/pkg/config"
	"github.com/docs-agent/backend/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Answers go to stdout, so logs never do.
	output := cfg.Logging.OutputPath
	if output == "" || output == "stdout" {
		output = "stderr"
	}
	if err := logger.Init(cfg.Logging.Level, cfg.Logging.Format, output); err != nil {
		return err
	}
	defer logger.Sync()

	load := func(ctx context.Context) (*app.App, error) {
		return app.New(ctx, cfg)
	}

	return cli.NewRootCommand(load, os.Stdout).ExecuteContext(ctx)
}
