// Command webreactord runs the single-process HTTP reactor: parse
// configuration, stand up logging and the database pool, then start the
// event loop on the calling goroutine until interrupted.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/go-reactor/webreactor/internal/config"
	"github.com/go-reactor/webreactor/internal/dbpool"
	"github.com/go-reactor/webreactor/internal/logging"
	"github.com/go-reactor/webreactor/internal/reactor"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.Parse(args)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log := logging.New(cfg.LoggingOptions())
	defer log.Sync()

	pool, err := dbpool.Open(cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPoolSize)
	if err != nil {
		return fmt.Errorf("dbpool: %w", err)
	}
	defer pool.Close()

	srv := reactor.New(cfg.ReactorConfig(), log)
	if err := srv.Start(); err != nil {
		return fmt.Errorf("reactor: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutdown signal received")
		srv.Stop()
	}()

	log.Info("webreactord listening", zap.Int("port", cfg.Port))
	srv.Run()
	return nil
}
