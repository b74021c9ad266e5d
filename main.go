package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"todo-api/api"
	"todo-api/storage"
)

const (
	startupTimeout  = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

type config struct {
	databaseURL    string
	debug          bool
	listenAddr     string
	redisConn      string
	cacheTTL       time.Duration
	strictNotFound bool
	maxOpenConns   int
}

var errMissingDatabaseURL = errors.New("missing DATABASE_URL")

func loadConfig(getenv func(string) string) (config, error) {
	cfg := config{
		databaseURL:  getenv("DATABASE_URL"),
		listenAddr:   ":8080",
		redisConn:    getenv("REDIS_CONNECTION_STRING"),
		cacheTTL:     30 * time.Second,
		maxOpenConns: 10,
	}
	if cfg.databaseURL == "" {
		return config{}, errMissingDatabaseURL
	}
	if v := getenv("DEBUG"); v != "" {
		dbg, err := strconv.ParseBool(v)
		if err != nil {
			return config{}, errors.New("invalid DEBUG: " + err.Error())
		}
		cfg.debug = dbg
	}
	if v := getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return config{}, errors.New("invalid PORT: " + v)
		}
		cfg.listenAddr = ":" + v
	}
	if v := getenv("TODOS_CACHE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return config{}, errors.New("invalid TODOS_CACHE_TTL: " + v)
		}
		cfg.cacheTTL = d
	}
	if v := getenv("STRICT_NOT_FOUND"); v != "" {
		strict, err := strconv.ParseBool(v)
		if err != nil {
			return config{}, errors.New("invalid STRICT_NOT_FOUND: " + err.Error())
		}
		cfg.strictNotFound = strict
	}
	if v := getenv("MAX_OPEN_CONNS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return config{}, errors.New("invalid MAX_OPEN_CONNS: must be greater than zero")
		}
		cfg.maxOpenConns = n
	}
	return cfg, nil
}

func main() {
	cfg, err := loadConfig(os.Getenv)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.debug {
		log.SetLevel(log.DebugLevel)
	}

	startCtx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()
	store, err := storage.Open(startCtx, cfg.databaseURL, cfg.maxOpenConns)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	if err := store.CreateSchemaIfMissing(startCtx); err != nil {
		log.Fatalf("storage: %v", err)
	}
	log.WithField("driver", store.Driver()).Info("storage ready")

	var backend api.Storage = store
	if cfg.redisConn != "" {
		redisOpts := parseRedisConnection(cfg.redisConn)
		rc := redis.NewClient(redisOpts)
		defer rc.Close()
		backend = storage.NewCache(store, rc, cfg.cacheTTL)
		log.WithField("ttl", cfg.cacheTTL).Info("todo list cache enabled")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	logger := log.New()
	logger.SetLevel(log.GetLevel())
	e := newServer(backend, api.Options{StrictNotFound: cfg.strictNotFound}, logger, registry)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := e.Start(cfg.listenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Errorf("shutdown: %v", err)
	}
	if err := store.Close(); err != nil {
		log.Errorf("close storage: %v", err)
	}
}
