// Package main wires together the link checker service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/linkmend/linkmend/internal/api"
	"github.com/linkmend/linkmend/internal/check"
	"github.com/linkmend/linkmend/internal/clock/system"
	"github.com/linkmend/linkmend/internal/config"
	"github.com/linkmend/linkmend/internal/extract"
	"github.com/linkmend/linkmend/internal/gitrepo"
	"github.com/linkmend/linkmend/internal/id/uuid"
	"github.com/linkmend/linkmend/internal/logging"
	notifymemory "github.com/linkmend/linkmend/internal/notify/memory"
	notifypubsub "github.com/linkmend/linkmend/internal/notify/pubsub"
	publishlog "github.com/linkmend/linkmend/internal/publish/log"
	"github.com/linkmend/linkmend/internal/session"
	storememory "github.com/linkmend/linkmend/internal/store/memory"
	storepostgres "github.com/linkmend/linkmend/internal/store/postgres"
	"github.com/linkmend/linkmend/internal/suggest"
	"github.com/linkmend/linkmend/internal/verify"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store check.ResultStore
	if cfg.DB.DSN != "" {
		pgStore, err := storepostgres.New(ctx, storepostgres.Config{
			DSN:             cfg.DB.DSN,
			MaxConns:        cfg.DB.MaxConns,
			MinConns:        cfg.DB.MinConns,
			MaxConnLifetime: time.Duration(cfg.DB.ConnLifetimeMin) * time.Minute,
		})
		if err != nil {
			logger.Fatal("postgres init failed", zap.Error(err))
		}
		if err := pgStore.EnsureSchema(ctx); err != nil {
			logger.Fatal("schema init failed", zap.Error(err))
		}
		store = pgStore
	} else {
		logger.Info("no db.dsn configured, using in-memory store")
		store = storememory.New()
	}
	defer store.Close()

	var notifier check.Notifier
	if cfg.PubSub.ProjectID != "" {
		psNotifier, err := notifypubsub.New(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName)
		if err != nil {
			logger.Fatal("pubsub init failed", zap.Error(err))
		}
		defer func() {
			if closeErr := psNotifier.Close(); closeErr != nil {
				logger.Warn("pubsub close failed", zap.Error(closeErr))
			}
		}()
		notifier = psNotifier
	} else {
		notifier = notifymemory.New()
	}

	checkerCfg := verify.Config{
		Concurrency:    cfg.Checker.Concurrency,
		ConnectTimeout: time.Duration(cfg.Checker.ConnectTimeoutSeconds) * time.Second,
		RequestTimeout: time.Duration(cfg.Checker.RequestTimeoutSeconds) * time.Second,
		MaxRedirects:   cfg.Checker.MaxRedirects,
		MaxRetries:     cfg.Checker.MaxRetries,
		UserAgent:      cfg.Checker.UserAgent,
		PerHostRPS:     cfg.Checker.PerHostRPS,
		PerHostBurst:   cfg.Checker.PerHostBurst,
	}
	resolver := suggest.NewGitHubAPIResolver(cfg.Suggest.GitHubAPIBase, checkerCfg.RequestTimeout)

	orchestrator := session.New(session.Deps{
		Source:    gitrepo.NewCloneSource(logger.Named("gitrepo")),
		Extractor: extract.New(extract.Config{Extensions: cfg.Extract.Extensions}, logger.Named("extract")),
		NewVerifier: func() check.Verifier {
			return verify.New(checkerCfg, logger.Named("verify"))
		},
		NewSuggester: func(v check.Verifier) check.Suggester {
			return suggest.New(v, resolver, logger.Named("suggest"))
		},
		Store:     store,
		Publisher: publishlog.New(logger.Named("publish")),
		Notifier:  notifier,
		Clock:     system.New(),
		IDs:       uuid.NewUUIDGenerator(),
		Logger:    logger.Named("session"),
	})

	apiServer := api.NewServer(orchestrator, cfg, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
