package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	charmlog "charm.land/log/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"

	"github.com/dyadchat/dyad/cockroach"
	"github.com/dyadchat/dyad/cockroach/migrator"
	"github.com/dyadchat/dyad/config"
	"github.com/dyadchat/dyad/metrics"
	"github.com/dyadchat/dyad/pubsub"
	"github.com/dyadchat/dyad/realtime"
	"github.com/dyadchat/dyad/service"
	"github.com/dyadchat/dyad/web"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	errLogger := slog.New(charmlog.NewWithOptions(os.Stderr, charmlog.Options{
		ReportTimestamp: true,
	}))
	infoLogger := slog.New(charmlog.NewWithOptions(os.Stdout, charmlog.Options{
		ReportTimestamp: true,
	}))

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	dbPool, err := pgxpool.New(context.Background(), cfg.CockroachURL)
	if err != nil {
		return fmt.Errorf("open cockroach connection pool: %w", err)
	}

	defer dbPool.Close()

	if err := dbPool.Ping(context.Background()); err != nil {
		return fmt.Errorf("ping cockroach: %w", err)
	}

	migrationStart := time.Now()
	infoLogger.Info("starting cockroach migrations")

	if err := migrator.Migrate(context.Background(), dbPool, cockroach.MigrationsFS); err != nil {
		return fmt.Errorf("migrate cockroach schema: %w", err)
	}

	infoLogger.Info("finished cockroach migrations", "took", time.Since(migrationStart))

	db := cockroach.New(dbPool)

	// clear state a previous process may have left behind
	if err := db.DeactivateAllConnections(context.Background()); err != nil {
		return fmt.Errorf("deactivate stale connections: %w", err)
	}
	if err := db.ResetPresence(context.Background()); err != nil {
		return fmt.Errorf("reset presence: %w", err)
	}

	var bus pubsub.PubSub
	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL)
		if err != nil {
			return fmt.Errorf("connect to nats: %w", err)
		}
		defer nc.Drain()
		bus = pubsub.NewNATS(nc)
		infoLogger.Info("using nats fan-out", "url", cfg.NATSURL)
	} else {
		bus = pubsub.NewMemory()
		infoLogger.Info("using in-process fan-out; set DYAD_NATS_URL to run more than one node")
	}

	m := metrics.New()
	hub := realtime.NewHub(bus, errLogger, m)

	var svc *service.Service
	presence := realtime.NewPresence(cfg.PresenceGrace, func(userID string, online bool) {
		svc.PresenceChanged(userID, online)
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc = service.New(&service.Config{
		Cockroach: db,
		Hub:       hub,
		Presence:  presence,
		Logger:    errLogger,
		Metrics:   m,

		TokenKey:    cfg.TokenKey,
		RingTimeout: cfg.RingTimeout,

		VAPIDPublicKey:  cfg.VAPIDPublicKey,
		VAPIDPrivateKey: cfg.VAPIDPrivateKey,
		PushContact:     cfg.PushContact,

		BaseCtx:           context.Background(),
		BackgroundTimeout: cfg.BackgroundTimeout,
	})

	go func() {
		for err := range svc.Errs() {
			errLogger.Error("service error", "error", err)
		}
	}()

	go svc.RunCallReaper(ctx)

	handler := &web.Handler{
		Service: svc,
		Logger:  errLogger,
		Metrics: m,
	}
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: handler,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errLogger.Error("server shutdown", "error", err)
		}
	}()

	infoLogger.Info("starting dyad server", "url", fmt.Sprintf("http://localhost:%d", cfg.Port))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start dyad server: %w", err)
	}

	return svc.Close()
}
