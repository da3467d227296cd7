// Command server runs the inbound webhook gateway.
//
// Configuration comes from the environment (a local .env file is loaded when
// present). The process serves until SIGINT/SIGTERM, then drains HTTP
// traffic, waits for in-flight forwards and closes the optional backends.
//
// @title       WA Inbound Gateway API
// @version     1.0
// @description Multi-tenant webhook gateway for WhatsApp provider events and automation message calls.
// @BasePath    /api/v1
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/wa-inbound-gateway/internal/config"
	"github.com/tbourn/wa-inbound-gateway/internal/dedupe"
	"github.com/tbourn/wa-inbound-gateway/internal/events"
	"github.com/tbourn/wa-inbound-gateway/internal/forward"
	httpapi "github.com/tbourn/wa-inbound-gateway/internal/http"
	"github.com/tbourn/wa-inbound-gateway/internal/observability"
	"github.com/tbourn/wa-inbound-gateway/internal/repo"
	"github.com/tbourn/wa-inbound-gateway/internal/services"
	"github.com/tbourn/wa-inbound-gateway/internal/sysutil"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

const shutdownTimeout = 15 * time.Second

func main() {
	_ = godotenv.Load()

	cfg := config.MustLoad()
	version = sysutil.FirstNonEmpty(os.Getenv("APP_VERSION"), version)
	sysutil.ConfigureLogging(os.Stdout, cfg.LogLevel, cfg.LogPretty, cfg.OTEL.ServiceName)
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}

	db, err := repo.OpenDB(cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.DB.Driver).Msg("open database")
	}
	if cfg.DB.AutoMigrate {
		if err := repo.AutoMigrate(db); err != nil {
			log.Fatal().Err(err).Msg("auto-migrate")
		}
	}

	var cache dedupe.Cache = dedupe.Noop{}
	var closeCache func() error
	if cfg.Redis.Addr != "" {
		rc, err := dedupe.NewRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.TTL)
		if err != nil {
			log.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("connect redis")
		}
		cache, closeCache = rc, rc.Close
	}

	var publisher events.Publisher = events.Noop{}
	if cfg.AMQP.URL != "" {
		publisher, err = events.NewAMQP(cfg.AMQP.URL, cfg.AMQP.Exchange)
		if err != nil {
			log.Fatal().Err(err).Msg("connect amqp")
		}
	}

	fwd := forward.New(
		forward.DBTargets{DB: db, Fallback: forward.Target{URL: cfg.Forward.URL, Secret: cfg.Forward.Secret}},
		forward.Options{
			Timeout:     cfg.Forward.Timeout,
			MaxInFlight: cfg.Forward.MaxInFlight,
			Observe:     observability.ObserveForward,
		},
	)

	resolver := &services.Resolver{}
	deps := httpapi.Deps{
		Ingest: &services.IngestService{
			DB:               db,
			Resolver:         resolver,
			Distributor:      &services.Distributor{},
			Forwarder:        fwd,
			Cache:            cache,
			Events:           publisher,
			IdempotentInsert: cfg.Webhook.IdempotentInsert,
		},
		Automation: &services.AutomationService{
			DB:               db,
			Resolver:         resolver,
			IdempotentInsert: cfg.Webhook.IdempotentInsert,
		},
		DB: db,
	}

	r := gin.New()
	httpapi.RegisterRoutes(r, deps, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	go func() {
		log.Info().
			Str("addr", srv.Addr).
			Str("version", version).
			Str("db", cfg.DB.Driver).
			Bool("auth_enforced", cfg.Webhook.AuthEnforced).
			Bool("redis", cfg.Redis.Addr != "").
			Bool("amqp", cfg.AMQP.URL != "").
			Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(sctx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	if err := fwd.Close(sctx); err != nil {
		log.Warn().Err(err).Msg("forwards still in flight at shutdown")
	}
	if err := publisher.Close(); err != nil {
		log.Warn().Err(err).Msg("close amqp")
	}
	if closeCache != nil {
		if err := closeCache(); err != nil {
			log.Warn().Err(err).Msg("close redis")
		}
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	if err := shutdownOTel(sctx); err != nil {
		log.Warn().Err(err).Msg("otel shutdown")
	}
	log.Info().Msg("bye")
}
