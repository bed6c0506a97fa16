package main

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jcbdelo26/chiefaiofficer-alpha-swarm-sub004/pkg/api"
	"github.com/jcbdelo26/chiefaiofficer-alpha-swarm-sub004/pkg/classifier"
	"github.com/jcbdelo26/chiefaiofficer-alpha-swarm-sub004/pkg/config"
	"github.com/jcbdelo26/chiefaiofficer-alpha-swarm-sub004/pkg/escalation"
	"github.com/jcbdelo26/chiefaiofficer-alpha-swarm-sub004/pkg/governor"
	"github.com/jcbdelo26/chiefaiofficer-alpha-swarm-sub004/pkg/ledger"
	"github.com/jcbdelo26/chiefaiofficer-alpha-swarm-sub004/pkg/observability"
	"github.com/jcbdelo26/chiefaiofficer-alpha-swarm-sub004/pkg/pipeline"
	"github.com/jcbdelo26/chiefaiofficer-alpha-swarm-sub004/pkg/policy"
	"github.com/jcbdelo26/chiefaiofficer-alpha-swarm-sub004/pkg/router"
	"github.com/jcbdelo26/chiefaiofficer-alpha-swarm-sub004/pkg/token"
)

func runServer(stderr io.Writer) int {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)
	logger := slog.Default()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	obs, err := observability.New(ctx, &observability.Config{
		ServiceName:    "failsafe-core",
		ServiceVersion: "1.0.0",
		Environment:    envOr("ENVIRONMENT", "development"),
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Enabled:        cfg.OTLPEndpoint != "",
		Insecure:       true,
	})
	if err != nil {
		logger.Error("observability init failed", "error", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = obs.Shutdown(shutdownCtx)
	}()

	profile, err := config.LoadProfile(cfg.PoliciesPath)
	if err != nil {
		logger.Error("policy profile load failed", "path", cfg.PoliciesPath, "error", err)
		return 1
	}

	ledgerDB, err := ledger.OpenSQLite(cfg.LedgerPath)
	if err != nil {
		logger.Error("ledger open failed", "path", cfg.LedgerPath, "error", err)
		return 1
	}
	defer func() { _ = ledgerDB.Close() }()
	auditLog, err := ledger.NewSQLiteLog(ledgerDB, nil)
	if err != nil {
		logger.Error("ledger init failed", "error", err)
		return 1
	}

	govOpts := []governor.Option{
		governor.WithIntegrationConfig(profile.GovernorConfigs()),
		governor.WithLogger(logger),
	}
	if cfg.RedisAddr != "" {
		govOpts = append(govOpts, governor.WithSharedWindowStore(
			governor.NewRedisWindowStore(cfg.RedisAddr, os.Getenv("REDIS_PASSWORD"), 0)))
	}
	gov := governor.New(auditLog, profile.GovernorDefaults(), govOpts...)

	store, closeStore, err := buildApprovalStore(cfg, logger)
	if err != nil {
		return 1
	}
	defer closeStore()

	var notifier escalation.Notifier = escalation.NewLogNotifier(logger)
	if cfg.NotifyWebhookURL != "" {
		notifier = escalation.NewWebhookNotifier(cfg.NotifyWebhookURL, nil)
		logger.Info("escalation notifications via webhook", "url", cfg.NotifyWebhookURL)
	}

	scheduler := escalation.NewScheduler(store, auditLog, notifier, gov,
		escalation.WithScanInterval(cfg.ScanInterval),
		escalation.WithLogger(logger),
	)
	go scheduler.Run(ctx)

	guard, err := policy.NewGuardEvaluator()
	if err != nil {
		logger.Error("guard evaluator init failed", "error", err)
		return 1
	}

	// routerTokens stays a nil interface when no key is configured; a nil
	// *token.Issuer boxed into the interface would defeat the router's
	// nil check.
	var issuer *token.Issuer
	var routerTokens router.TokenIssuer
	if cfg.TokenKey != "" {
		issuer = token.NewIssuer([]byte(cfg.TokenKey), cfg.TokenTTL)
		routerTokens = issuer
	} else {
		logger.Warn("TOKEN_KEY unset, decisions carry no authorization tokens")
	}

	rt := router.New(profile.PolicySet(), guard, scheduler, routerTokens, auditLog,
		router.WithLogger(logger))

	gate := classifier.NewGate(classifier.NewHeuristicDetector(), 0, logger)

	p, err := pipeline.New(gate, gov, rt, scheduler, auditLog, issuer, logger)
	if err != nil {
		logger.Error("pipeline init failed", "error", err)
		return 1
	}

	handler := api.NewServer(p, obs).Handler(
		api.NewRateLimiter(50, 100),
		api.NewIdempotencyStore(10*time.Minute),
	)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("failsafe daemon listening", "port", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		return 1
	}
	return 0
}

// buildApprovalStore selects Postgres when DATABASE_URL is set, otherwise the
// in-memory store.
func buildApprovalStore(cfg *config.Config, logger *slog.Logger) (escalation.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		return escalation.NewMemoryStore(), func() {}, nil
	}
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Error("approval store open failed", "error", err)
		return nil, nil, err
	}
	store, err := escalation.NewPostgresStore(db)
	if err != nil {
		logger.Error("approval store migrate failed", "error", err)
		_ = db.Close()
		return nil, nil, err
	}
	return store, func() { _ = db.Close() }, nil
}

func setupLogging(level string) {
	var l slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		l = slog.LevelDebug
	case "WARN":
		l = slog.LevelWarn
	case "ERROR":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: l})))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
