package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"deskbridge.io/internal/audit"
	"deskbridge.io/internal/auth"
	"deskbridge.io/internal/config"
	"deskbridge.io/internal/desk"
	"deskbridge.io/internal/gateway"
	"deskbridge.io/internal/httpapi"
	"deskbridge.io/internal/identity"
	"deskbridge.io/internal/migrate"
	"deskbridge.io/internal/oauthlink"
	"deskbridge.io/internal/obs"
	"deskbridge.io/internal/signature"
	"deskbridge.io/internal/slackapi"
	"deskbridge.io/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	if err := run(); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, "deskbridge:", err)
		os.Exit(1)
	}
}

type storeCloser interface {
	desk.Store
	Close() error
}

type memoryStore struct{ *desk.InMemory }

func (memoryStore) Close() error { return nil }

func run() error {
	cfg, err := config.Load(os.Args[1:], os.Getenv)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := obs.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := obs.NewMetrics(reg)
	if err := obs.RegisterBuildInfo(reg, version, commit); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	slackClient, err := slackapi.New(slackapi.Config{
		BotToken:     cfg.SlackBotToken,
		ClientID:     cfg.SlackClientID,
		ClientSecret: cfg.SlackClientSecret,
		APIURL:       cfg.SlackAPIURL,
		Timeout:      cfg.UpstreamTimeout,
	}, &http.Client{Timeout: cfg.UpstreamTimeout}, logger.Named("slack"))
	if err != nil {
		return err
	}

	// Request paths never wait on the database longer than upstream_timeout.
	bounded := desk.WithTimeout(store, cfg.UpstreamTimeout)

	auditLog := audit.New(logger)
	reconciler := identity.NewReconciler(bounded,
		identity.WithDirectory(slackClient),
		identity.WithLogger(logger.Named("identity")),
		identity.WithAudit(auditLog),
		identity.WithCounter(metrics.Reconciles),
	)

	codec, err := oauthlink.NewStateCodec([]byte(cfg.LinkStateSecret), oauthlink.DefaultStateTTL, nil)
	if err != nil {
		return err
	}
	linker := oauthlink.NewLinker(oauthlink.Config{
		ClientID:     cfg.SlackClientID,
		ClientSecret: cfg.SlackClientSecret,
		BaseURL:      cfg.BaseURL(),
	}, codec, slackClient, bounded, reconciler, logger.Named("oauth"), auditLog)

	issuer, err := auth.NewIssuer([]byte(cfg.SessionSecret), nil)
	if err != nil {
		return err
	}

	tasks := gateway.NewTasks(logger.Named("tasks"), 2*cfg.UpstreamTimeout)
	router := gateway.NewRouter(cfg.BaseURL(), slackClient, bounded, reconciler, linker, tasks,
		gateway.WithLogger(logger.Named("gateway")),
		gateway.WithAudit(auditLog),
		gateway.WithCounter(metrics.Interactions),
	)

	api := httpapi.New(httpapi.Deps{
		Gateway:      router,
		OAuth:        linker,
		Verifier:     signature.NewVerifier([]byte(cfg.SlackSigningSecret), logger.Named("signature"), metrics.SignatureFailures).Middleware,
		Issuer:       issuer,
		Ready:        store,
		Metrics:      metrics,
		Log:          logger.Named("http"),
		Version:      version,
		MaxBodyBytes: cfg.MaxBodyBytes,
		RateBurst:    cfg.RateBurst,
		RatePerSec:   cfg.RatePerSec,

		TrustProxyHeaders: cfg.TrustProxyHeaders,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting deskbridge",
			zap.String("version", version),
			zap.String("addr", srv.Addr),
			zap.Bool("postgres", cfg.DatabaseDSN != ""))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if err := tasks.Drain(shutdownCtx); err != nil {
		logger.Warn("background tasks still running at shutdown", zap.Error(err))
	}
	logger.Info("stopped")
	return nil
}

func openStore(ctx context.Context, cfg config.Config, log *zap.Logger) (storeCloser, error) {
	if cfg.DatabaseDSN == "" {
		log.Warn("no database_dsn configured, using in-memory store")
		return memoryStore{desk.NewInMemory()}, nil
	}
	store, err := pg.Open(cfg.DatabaseDSN)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if cfg.AutoMigrate {
		applied, err := migrate.NewManager(store.DB()).Up(pingCtx)
		if err != nil && !errors.Is(err, migrate.ErrNothingApplied) {
			_ = store.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		log.Info("migrations applied", zap.Strings("files", applied))
	}
	return store, nil
}
