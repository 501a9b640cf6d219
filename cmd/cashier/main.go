// Command cashier is the counter terminal: a line-oriented console that keeps
// a cart locally and submits it to the transaction service.
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"partsdesk/internal/config"
	"partsdesk/internal/logging"
	"partsdesk/internal/posclient"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load configuration: %v", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.CashierUsername == "" || cfg.CashierPassword == "" {
		logger.Fatal("CASHIER_USERNAME and CASHIER_PASSWORD must be set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := posclient.New(cfg.APIBaseURL, posclient.WithLogger(logger))
	loginCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	login, err := client.Login(loginCtx, cfg.CashierUsername, cfg.CashierPassword)
	cancel()
	if err != nil {
		logger.Fatal("sign in failed", zap.String("api", cfg.APIBaseURL), zap.Error(err))
	}
	logger.Info("signed in", zap.String("username", login.Username), zap.String("role", login.Role))

	c := newConsole(client, login.Username, os.Stdout, logger)
	defer c.Close()

	if err := c.Run(ctx, os.Stdin); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("console stopped", zap.Error(err))
	}
}
