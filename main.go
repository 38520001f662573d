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

	"github.com/MicahParks/keyfunc"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"taskboard-api/activity"
	"taskboard-api/api"
	"taskboard-api/domain"
	"taskboard-api/storage"
)

type store interface {
	domain.Store
	Ping(ctx context.Context) error
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Fatalf("load .env: %v", err)
	}
	cfg, err := loadConfig(os.Getenv)
	if err != nil {
		log.Fatal(err)
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	logger := log.StandardLogger()

	if cfg.Tracing {
		tp := sdktrace.NewTracerProvider()
		otel.SetTracerProvider(tp)
		defer func() {
			if err := tp.Shutdown(context.Background()); err != nil {
				log.Errorf("tracer shutdown: %v", err)
			}
		}()
	}

	st, closeStore, err := openStore(cfg)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	defer closeStore()

	var sink activity.Sink = activity.LogSink{Log: logger}
	if cfg.ActivityQueue != "" {
		qs, err := activity.NewQueueSink(cfg.ConnStr, cfg.ActivityQueue)
		if err != nil {
			log.Fatalf("activity queue: %v", err)
		}
		sink = qs
	}
	dispatcher := activity.NewDispatcher(sink, activity.Options{
		Workers:        cfg.ActivityWorkers,
		Buffer:         cfg.ActivityBuffer,
		HandoffTimeout: 15 * time.Millisecond,
	}, logger)
	defer dispatcher.Close()

	var idem api.Idempotency
	if cfg.RedisConn != "" {
		rc := redis.NewClient(redisOptions(cfg.RedisConn))
		defer rc.Close()
		idem = api.NewRedisIdempotency(rc, cfg.IdempotencyTTL)
	}

	auth, err := newAuth(cfg)
	if err != nil {
		log.Fatalf("auth: %v", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "Idempotency-Key", "Request-Timeout"},
	}))

	svc := api.Services{
		Projects: domain.NewProjectService(st, dispatcher),
		Tasks:    domain.NewTaskService(st, dispatcher),
	}
	api.Register(e, svc, st, auth, idem, api.Options{Debug: cfg.Debug, RequestTimeout: cfg.RequestTimeout}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Infof("listening on %s, store: %s", cfg.ListenAddr, cfg.StoreBackend)
		if err := e.Start(cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Errorf("server shutdown: %v", err)
	}
}

func openStore(cfg config) (store, func(), error) {
	switch cfg.StoreBackend {
	case backendTables:
		st, err := storage.NewTables(cfg.ConnStr, cfg.ProjectsTable, cfg.TasksTable)
		if err != nil {
			return nil, nil, err
		}
		return st, func() {}, nil
	default:
		st, err := storage.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return st, func() {
			if err := st.Close(); err != nil {
				log.Errorf("close database: %v", err)
			}
		}, nil
	}
}

func newAuth(cfg config) (*api.Auth, error) {
	authCfg := api.AuthConfig{
		LocalMode:   cfg.LocalAuthMode,
		LocalSecret: cfg.LocalAuthSecret,
		KeyCacheTTL: cfg.JWKSCacheTTL,
	}
	if cfg.LocalAuthMode != "" {
		return api.NewAuth(nil, authCfg)
	}
	jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", cfg.Auth0Domain)
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{RefreshInterval: cfg.JWKSCacheTTL})
	if err != nil {
		return nil, fmt.Errorf("jwks: %w", err)
	}
	authCfg.Audience = cfg.Auth0Audience
	authCfg.Issuer = "https://" + cfg.Auth0Domain + "/"
	return api.NewAuth(jwks, authCfg)
}
