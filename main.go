package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/spf13/pflag"

	"pricecollector/internal/app"
	"pricecollector/internal/config"
	"pricecollector/internal/logger"
	"pricecollector/internal/store"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	flags := pflag.NewFlagSet("pricecollector", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", "", "path to the YAML config (default ./prices.yaml)")
	flags.String("mode", "", "cheap (no browser sources) or full")
	flags.String("policy", "", "skip-if-exists or update-if-exists")
	flags.String("assets", "", "asset universe CSV")
	date := flags.String("date", "", "collection date YYYY-MM-DD (default today in the exchange timezone)")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	config.LoadDotenvOnce()

	cfg, err := config.Load(*configPath, flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return 1
	}

	log, closer, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		return 1
	}
	defer closer.Close()

	var runDate time.Time
	if *date != "" {
		runDate, err = time.ParseInLocation(store.DateLayout, *date, cfg.Location())
		if err != nil {
			log.Error("invalid --date", logger.String("date", *date), logger.Error(err))
			return 1
		}
	}

	// Create context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle interrupt signals for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Warn("received interrupt signal, shutting down")
		cancel()
	}()

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Error("failed to build collector", logger.Error(err))
		return 1
	}
	defer a.Close()

	rep, err := a.Run(ctx, app.Options{RunDate: runDate})
	if err != nil {
		log.Error("collection run failed", logger.Error(err))
		return 1
	}

	if err := rep.WriteText(os.Stdout); err != nil {
		log.Error("failed to write summary", logger.Error(err))
		return 1
	}
	return 0
}
