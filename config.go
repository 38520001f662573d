package main

import (
	"crypto/tls"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"taskboard-api/api"
)

const (
	backendTables = "tables"
	backendSQLite = "sqlite"
)

type config struct {
	StoreBackend    string
	ConnStr         string
	ProjectsTable   string
	TasksTable      string
	SQLitePath      string
	RedisConn       string
	IdempotencyTTL  time.Duration
	ActivityQueue   string
	ActivityWorkers int
	ActivityBuffer  int
	RequestTimeout  time.Duration
	Auth0Domain     string
	Auth0Audience   string
	LocalAuthMode   string
	LocalAuthSecret string
	JWKSCacheTTL    time.Duration
	ListenAddr      string
	Debug           bool
	Tracing         bool
}

// loadConfig reads the process configuration through getenv.
func loadConfig(getenv func(string) string) (config, error) {
	cfg := config{
		ConnStr:         getenv("STORAGE_CONNECTION_STRING"),
		ProjectsTable:   orDefault(getenv("PROJECTS_TABLE"), "projects"),
		TasksTable:      orDefault(getenv("TASKS_TABLE"), "tasks"),
		SQLitePath:      orDefault(getenv("SQLITE_PATH"), "data/taskboard.db"),
		RedisConn:       getenv("REDIS_CONNECTION_STRING"),
		ActivityQueue:   getenv("ACTIVITY_QUEUE"),
		Auth0Domain:     getenv("AUTH0_DOMAIN"),
		Auth0Audience:   getenv("AUTH0_AUDIENCE"),
		LocalAuthMode:   strings.ToLower(getenv("LOCAL_AUTH_MODE")),
		LocalAuthSecret: getenv("LOCAL_AUTH_SHARED_SECRET"),
	}

	cfg.StoreBackend = strings.ToLower(getenv("STORE_BACKEND"))
	if cfg.StoreBackend == "" {
		cfg.StoreBackend = backendSQLite
		if cfg.ConnStr != "" {
			cfg.StoreBackend = backendTables
		}
	}
	switch cfg.StoreBackend {
	case backendTables:
		if cfg.ConnStr == "" {
			return config{}, errors.New("missing storage config: STORAGE_CONNECTION_STRING is required for the tables backend")
		}
	case backendSQLite:
	default:
		return config{}, fmt.Errorf("invalid STORE_BACKEND %q", cfg.StoreBackend)
	}
	if cfg.ActivityQueue != "" && cfg.ConnStr == "" {
		return config{}, errors.New("ACTIVITY_QUEUE requires STORAGE_CONNECTION_STRING")
	}

	switch cfg.LocalAuthMode {
	case "":
		if cfg.Auth0Domain == "" || cfg.Auth0Audience == "" {
			return config{}, errors.New("missing Auth0 config")
		}
	case "hs256":
		if cfg.LocalAuthSecret == "" {
			return config{}, errors.New("LOCAL_AUTH_SHARED_SECRET must be set when LOCAL_AUTH_MODE=hs256")
		}
	default:
		return config{}, fmt.Errorf("unsupported LOCAL_AUTH_MODE value %q", cfg.LocalAuthMode)
	}

	var err error
	if cfg.IdempotencyTTL, err = durationVar(getenv, "IDEMPOTENCY_TTL", 24*time.Hour); err != nil {
		return config{}, err
	}
	if cfg.RequestTimeout, err = durationVar(getenv, "REQUEST_TIMEOUT", 30*time.Second); err != nil {
		return config{}, err
	}
	if cfg.JWKSCacheTTL, err = durationVar(getenv, "JWKS_CACHE_TTL", api.DefaultJWKSCacheTTL); err != nil {
		return config{}, err
	}
	if cfg.ActivityWorkers, err = intVar(getenv, "ACTIVITY_WORKERS", 4); err != nil {
		return config{}, err
	}
	if cfg.ActivityBuffer, err = intVar(getenv, "ACTIVITY_BUFFER", 1024); err != nil {
		return config{}, err
	}

	port := orDefault(getenv("PORT"), "8080")
	if val := getenv("FUNCTIONS_CUSTOMHANDLER_PORT"); val != "" {
		port = val
	}
	cfg.ListenAddr = ":" + port

	cfg.Debug, _ = strconv.ParseBool(getenv("DEBUG"))
	cfg.Tracing = getenv("OTEL_TRACING") == "1"
	return cfg, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func durationVar(getenv func(string) string, name string, def time.Duration) (time.Duration, error) {
	v := getenv(name)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", name, v)
	}
	return d, nil
}

func intVar(getenv func(string) string, name string, def int) (int, error) {
	v := getenv(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be a positive integer", name)
	}
	return n, nil
}

// redisOptions accepts a redis:// URL or an Azure style
// "host:port,password=...,ssl=True" connection string.
func redisOptions(conn string) *redis.Options {
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts
	}
	parts := strings.Split(conn, ",")
	opts := &redis.Options{Addr: strings.TrimSpace(parts[0])}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(kv[1], "true") {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts
}
