package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/seantiz/gamehost/internal/api"
	"github.com/seantiz/gamehost/internal/config"
	"github.com/seantiz/gamehost/internal/governor"
	"github.com/seantiz/gamehost/internal/host"
	"github.com/seantiz/gamehost/internal/ludo"
	"github.com/seantiz/gamehost/internal/session"
	"github.com/seantiz/gamehost/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := config.NewLogger(os.Stdout, cfg.Level())

	logger.Info("gamehost: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"game", cfg.GameKind,
		"soft_limit_ms", cfg.SoftLimitMS,
	)

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	games := session.NewRegistry()
	if err := games.Register(ludo.Descriptor()); err != nil {
		log.Fatalf("register game: %v", err)
	}

	gov := governor.New(governor.Config{SoftLimit: cfg.SoftLimit()}, logger)
	if !gov.Enabled() {
		logger.Warn("governor disabled, hosted logic runs without budgets")
	}

	h, err := host.New(gov, games, db, host.Options{
		Kind:               cfg.GameKind,
		ConstructionBudget: cfg.ConstructionBudget,
		ReapInterval:       cfg.ReapInterval,
		MaxSessionAborts:   cfg.MaxSessionAborts,
	}, logger)
	if err != nil {
		log.Fatalf("create host: %v", err)
	}

	srv := api.NewServer(cfg.ListenAddr, db, h, gov, games, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return gov.Run(ctx) })
	g.Go(func() error { return h.Run(ctx) })
	g.Go(func() error { return srv.Run(ctx) })

	if err := g.Wait(); err != nil {
		logger.Error("gamehost: stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("gamehost: stopped")
}
