package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chatwire/chatwire/internal/api"
	"github.com/chatwire/chatwire/internal/config"
	"github.com/chatwire/chatwire/internal/push"
	"github.com/chatwire/chatwire/internal/server"
	"github.com/chatwire/chatwire/internal/stats"
	"github.com/chatwire/chatwire/internal/store"
)

func main() {
	logger := log.New(os.Stderr, "[chatwire] ", log.LstdFlags)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config:", err)
	}

	db, err := store.NewPgRepository(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("db open:", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Fatal("db close:", err)
		}
	}()

	mux := http.NewServeMux()

	statsUpdater := stats.NewUpdater(mux)

	var notifier server.Notifier = push.NewLogSink(logger)
	if cfg.PushWebhookURL != "" {
		notifier = push.NewWebhookSink(logger, cfg.PushWebhookURL)
	}

	tokenValidator := api.NewTokenValidator(cfg.SigningKey, db)

	chatServer, err := server.NewChatServer(logger, db, statsUpdater, tokenValidator, notifier)
	if err != nil {
		logger.Fatal("new chat server:", err)
	}

	srv := api.NewApp(mux, logger, chatServer, db, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	go chatServer.Run()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("HTTP server shutdown:", err)
	}

	logger.Println("shutting down chat server...")
	if err := chatServer.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("chat server shutdown:", err)
	}

	logger.Println("shutdown complete")
}
