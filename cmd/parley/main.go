package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/harunnryd/parley/pkg/config"
	"github.com/harunnryd/parley/pkg/logging"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file; PARLEY_* variables override it")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "parley: %v\n", err)
		os.Exit(1)
	}
	logger := logging.InitLogger(cfg.Logging, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("parley_init_failed", "error", err.Error())
		os.Exit(1)
	}
	if err := a.run(ctx); err != nil {
		logger.Error("parley_exit", "error", err.Error())
		os.Exit(1)
	}
}
