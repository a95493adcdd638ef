// Command server starts the bspnode session orchestration HTTP service.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"bspnode/internal/api"
	"bspnode/internal/egress"
	"bspnode/internal/lifecycle"
	"bspnode/internal/media"
	"bspnode/internal/observability/logging"
	"bspnode/internal/observability/metrics"
	"bspnode/internal/recording"
	"bspnode/internal/rooms"
	"bspnode/internal/server"
	"bspnode/internal/serverutil"
	"bspnode/internal/storage"
)

func main() {
	// A missing .env is fine, environment wins over file values anyway.
	_ = godotenv.Load()

	addr := flag.String("addr", "", "HTTP listen address")
	dataPath := flag.String("data", "", "path to JSON datastore")
	storageDriver := flag.String("storage-driver", "", "datastore driver (json or postgres)")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string")
	postgresMaxConns := flag.Int("postgres-max-conns", 0, "maximum connections in the Postgres pool")
	postgresMinConns := flag.Int("postgres-min-conns", 0, "minimum idle connections maintained by the Postgres pool")
	postgresMaxConnLifetime := flag.Duration("postgres-max-conn-lifetime", 0, "maximum lifetime for a pooled Postgres connection")
	postgresMaxConnIdle := flag.Duration("postgres-max-conn-idle", 0, "maximum idle time for a pooled Postgres connection")
	postgresHealthInterval := flag.Duration("postgres-health-interval", 0, "interval between Postgres health checks")
	postgresAcquireTimeout := flag.Duration("postgres-acquire-timeout", 0, "timeout when acquiring a Postgres connection from the pool")
	postgresAppName := flag.String("postgres-app-name", "", "application_name reported to Postgres")
	tlsCert := flag.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "path to TLS private key file")
	logLevel := flag.String("log-level", "", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "log format (json or text)")
	globalRPS := flag.Float64("rate-global-rps", 0, "global request rate limit in requests per second")
	globalBurst := flag.Int("rate-global-burst", 0, "global rate limit burst allowance")
	webhookRPS := flag.Float64("rate-webhook-rps", 0, "per-source webhook rate limit in requests per second")
	webhookBurst := flag.Int("rate-webhook-burst", 0, "per-source webhook rate limit burst allowance")
	roomsURL := flag.String("rooms-url", "", "room service control-plane URL")
	roomsAPIKey := flag.String("rooms-api-key", "", "room service API key")
	roomsAPISecret := flag.String("rooms-api-secret", "", "room service API secret")
	mediaURL := flag.String("media-url", "", "media provider API URL")
	mediaToken := flag.String("media-token", "", "media provider API token")
	webhookSecret := flag.String("webhook-secret", "", "signing secret for media provider webhooks")
	ledgerDriver := flag.String("webhook-ledger", "", "webhook dedup ledger driver (memory or redis)")
	redisAddr := flag.String("redis-addr", "", "Redis address for the webhook ledger")
	redisAddrs := flag.String("redis-addrs", "", "comma separated Redis addresses for the webhook ledger")
	redisUsername := flag.String("redis-username", "", "Redis username for the webhook ledger")
	redisPassword := flag.String("redis-password", "", "Redis password for the webhook ledger")
	redisMasterName := flag.String("redis-master-name", "", "Redis sentinel master name for the webhook ledger")
	redisPoolSize := flag.Int("redis-pool-size", 0, "maximum Redis connections for the webhook ledger")
	ledgerRetention := flag.Duration("webhook-ledger-retention", 0, "how long processed webhook event ids are remembered")
	rtmpBase := flag.String("rtmp-base", "", "RTMP ingest base URL egress jobs push to")
	egressStopRetries := flag.Int("egress-stop-retries", 0, "retry attempts when stopping an egress job")
	pollGrace := flag.Duration("recording-poll-grace", 0, "delay before the first recording status check")
	pollInterval := flag.Duration("recording-poll-interval", 0, "interval between recording status checks")
	pollMaxAttempts := flag.Int("recording-poll-max-attempts", 0, "status checks before a recording is marked failed")
	maxUploadBytes := flag.Int64("max-upload-bytes", 0, "largest accepted recording upload in bytes")
	flag.Parse()

	logger := logging.Init(logging.Config{
		Level:  firstNonEmpty(*logLevel, os.Getenv("BSPNODE_LOG_LEVEL")),
		Format: firstNonEmpty(*logFormat, os.Getenv("BSPNODE_LOG_FORMAT")),
	})
	recorder := metrics.NewRecorder()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := buildStore(ctx, storeSettings{
		driver:          firstNonEmpty(*storageDriver, os.Getenv("BSPNODE_STORAGE_DRIVER")),
		dataPath:        firstNonEmpty(*dataPath, os.Getenv("BSPNODE_DATA"), "data/store.json"),
		dsn:             firstNonEmpty(*postgresDSN, os.Getenv("BSPNODE_POSTGRES_DSN"), os.Getenv("DATABASE_URL")),
		maxConns:        resolveInt(*postgresMaxConns, "BSPNODE_POSTGRES_MAX_CONNS"),
		minConns:        resolveInt(*postgresMinConns, "BSPNODE_POSTGRES_MIN_CONNS"),
		maxConnLifetime: resolveDuration(*postgresMaxConnLifetime, "BSPNODE_POSTGRES_MAX_CONN_LIFETIME"),
		maxConnIdle:     resolveDuration(*postgresMaxConnIdle, "BSPNODE_POSTGRES_MAX_CONN_IDLE"),
		healthInterval:  resolveDuration(*postgresHealthInterval, "BSPNODE_POSTGRES_HEALTH_INTERVAL"),
		acquireTimeout:  resolveDuration(*postgresAcquireTimeout, "BSPNODE_POSTGRES_ACQUIRE_TIMEOUT"),
		appName:         firstNonEmpty(*postgresAppName, os.Getenv("BSPNODE_POSTGRES_APP_NAME")),
	})
	if err != nil {
		logger.Error("failed to open datastore", "error", err)
		os.Exit(1)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.Close(closeCtx); err != nil {
			logger.Warn("datastore close failed", "error", err)
		}
	}()

	roomService, err := buildRooms(rooms.Config{
		BaseURL:   firstNonEmpty(*roomsURL, os.Getenv("BSPNODE_ROOMS_URL")),
		APIKey:    firstNonEmpty(*roomsAPIKey, os.Getenv("BSPNODE_ROOMS_API_KEY")),
		APISecret: firstNonEmpty(*roomsAPISecret, os.Getenv("BSPNODE_ROOMS_API_SECRET")),
		Logger:    logging.WithComponent(logger, "rooms"),
	})
	if err != nil {
		logger.Error("failed to configure room service", "error", err)
		os.Exit(1)
	}

	mediaClient, err := buildMedia(media.Config{
		BaseURL: firstNonEmpty(*mediaURL, os.Getenv("BSPNODE_MEDIA_URL")),
		Token:   firstNonEmpty(*mediaToken, os.Getenv("BSPNODE_MEDIA_TOKEN")),
		Logger:  logging.WithComponent(logger, "media"),
	})
	if err != nil {
		logger.Error("failed to configure media client", "error", err)
		os.Exit(1)
	}

	ledger, err := buildLedger(ledgerSettings{
		driver:     firstNonEmpty(*ledgerDriver, os.Getenv("BSPNODE_WEBHOOK_LEDGER")),
		addr:       firstNonEmpty(*redisAddr, os.Getenv("BSPNODE_REDIS_ADDR")),
		addrs:      splitAndTrim(firstNonEmpty(*redisAddrs, os.Getenv("BSPNODE_REDIS_ADDRS"))),
		username:   firstNonEmpty(*redisUsername, os.Getenv("BSPNODE_REDIS_USERNAME")),
		password:   firstNonEmpty(*redisPassword, os.Getenv("BSPNODE_REDIS_PASSWORD")),
		masterName: firstNonEmpty(*redisMasterName, os.Getenv("BSPNODE_REDIS_MASTER_NAME")),
		poolSize:   resolveInt(*redisPoolSize, "BSPNODE_REDIS_POOL_SIZE"),
		retention:  resolveDuration(*ledgerRetention, "BSPNODE_WEBHOOK_LEDGER_RETENTION"),
	})
	if err != nil {
		logger.Error("failed to configure webhook ledger", "error", err)
		os.Exit(1)
	}
	defer ledger.Close()

	controller := egress.NewController(mediaClient, logging.WithComponent(logger, "egress"), 0)
	poller := recording.NewPoller(recording.PollerConfig{
		Store:       store,
		Media:       mediaClient,
		Logger:      logging.WithComponent(logger, "recording"),
		Grace:       resolveDuration(*pollGrace, "BSPNODE_RECORDING_POLL_GRACE"),
		Interval:    resolveDuration(*pollInterval, "BSPNODE_RECORDING_POLL_INTERVAL"),
		MaxAttempts: resolveInt(*pollMaxAttempts, "BSPNODE_RECORDING_POLL_MAX_ATTEMPTS"),
	})
	pipeline := recording.NewPipeline(store, mediaClient, poller, logging.WithComponent(logger, "recording"))
	webhooks := recording.NewWebhookHandler(store, poller, ledger, logging.WithComponent(logger, "webhook"))

	orchestrator := lifecycle.New(lifecycle.Config{
		Store:              store,
		Rooms:              roomService,
		Egress:             controller,
		Logger:             logging.WithComponent(logger, "lifecycle"),
		RTMPBase:           firstNonEmpty(*rtmpBase, os.Getenv("BSPNODE_RTMP_BASE")),
		EgressStopRetries:  resolveInt(*egressStopRetries, "BSPNODE_EGRESS_STOP_RETRIES"),
		EgressStopObserved: recorder.EgressStop,
	})

	handler := &api.Handler{
		Orchestrator:   orchestrator,
		Pipeline:       pipeline,
		Webhooks:       webhooks,
		Store:          store,
		Metrics:        recorder,
		Logger:         logging.WithComponent(logger, "api"),
		WebhookSecret:  firstNonEmpty(*webhookSecret, os.Getenv("BSPNODE_WEBHOOK_SECRET")),
		MaxUploadBytes: resolveInt64(*maxUploadBytes, "BSPNODE_MAX_UPLOAD_BYTES"),
	}

	srv := server.New(handler, server.Config{
		Addr: firstNonEmpty(*addr, os.Getenv("BSPNODE_ADDR"), "127.0.0.1:8080"),
		TLS: serverutil.TLSConfig{
			CertFile: firstNonEmpty(*tlsCert, os.Getenv("BSPNODE_TLS_CERT")),
			KeyFile:  firstNonEmpty(*tlsKey, os.Getenv("BSPNODE_TLS_KEY")),
		},
		RateLimit: server.RateLimitConfig{
			GlobalRPS:    resolveFloat(*globalRPS, "BSPNODE_RATE_GLOBAL_RPS"),
			GlobalBurst:  resolveInt(*globalBurst, "BSPNODE_RATE_GLOBAL_BURST"),
			WebhookRPS:   resolveFloat(*webhookRPS, "BSPNODE_RATE_WEBHOOK_RPS"),
			WebhookBurst: resolveInt(*webhookBurst, "BSPNODE_RATE_WEBHOOK_BURST"),
		},
		Logger:  logger,
		Metrics: recorder,
	})

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return srv.Run(groupCtx)
	})
	group.Go(func() error {
		<-groupCtx.Done()
		drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return poller.Shutdown(drainCtx)
	})
	if err := group.Wait(); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

type storeSettings struct {
	driver          string
	dataPath        string
	dsn             string
	maxConns        int
	minConns        int
	maxConnLifetime time.Duration
	maxConnIdle     time.Duration
	healthInterval  time.Duration
	acquireTimeout  time.Duration
	appName         string
}

func buildStore(ctx context.Context, settings storeSettings) (storage.Repository, error) {
	driver := strings.ToLower(strings.TrimSpace(settings.driver))
	if driver == "" {
		if settings.dsn != "" {
			driver = "postgres"
		} else {
			driver = "json"
		}
	}
	switch driver {
	case "json":
		return storage.NewStorage(settings.dataPath)
	case "postgres":
		if settings.dsn == "" {
			return nil, fmt.Errorf("postgres storage selected without DSN")
		}
		return storage.NewPostgresRepository(ctx, storage.PostgresConfig{
			DSN:                 settings.dsn,
			MaxConnections:      int32(settings.maxConns),
			MinConnections:      int32(settings.minConns),
			MaxConnLifetime:     settings.maxConnLifetime,
			MaxConnIdleTime:     settings.maxConnIdle,
			HealthCheckInterval: settings.healthInterval,
			AcquireTimeout:      settings.acquireTimeout,
			ApplicationName:     settings.appName,
		})
	default:
		return nil, fmt.Errorf("unknown storage driver %q", settings.driver)
	}
}

func buildRooms(cfg rooms.Config) (rooms.Service, error) {
	if cfg.BaseURL == "" {
		keys, err := rooms.NewKeypair(
			firstNonEmpty(cfg.APIKey, "bspnode-dev"),
			firstNonEmpty(cfg.APISecret, "bspnode-dev-secret"),
		)
		if err != nil {
			return nil, err
		}
		return rooms.NewNoopService(keys, cfg.Logger), nil
	}
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, fmt.Errorf("rooms url set without api key and secret")
	}
	return rooms.NewHTTPService(cfg)
}

func buildMedia(cfg media.Config) (media.Client, error) {
	if cfg.BaseURL == "" {
		return media.NoopClient{}, nil
	}
	return media.NewHTTPClient(cfg)
}

type ledgerSettings struct {
	driver     string
	addr       string
	addrs      []string
	username   string
	password   string
	masterName string
	poolSize   int
	retention  time.Duration
}

func buildLedger(settings ledgerSettings) (recording.Ledger, error) {
	driver := strings.ToLower(strings.TrimSpace(settings.driver))
	if driver == "" {
		if settings.addr != "" || len(settings.addrs) > 0 {
			driver = "redis"
		} else {
			driver = "memory"
		}
	}
	switch driver {
	case "memory":
		return recording.NewMemoryLedger(settings.retention), nil
	case "redis":
		return recording.NewRedisLedger(recording.RedisLedgerConfig{
			Addr:       settings.addr,
			Addrs:      settings.addrs,
			Username:   settings.username,
			Password:   settings.password,
			MasterName: settings.masterName,
			PoolSize:   settings.poolSize,
			Retention:  settings.retention,
		})
	default:
		return nil, fmt.Errorf("unknown webhook ledger driver %q", settings.driver)
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func splitAndTrim(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func resolveInt(flagValue int, envKey string) int {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.Atoi(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return 0
}

func resolveInt64(flagValue int64, envKey string) int64 {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.ParseInt(strings.TrimSpace(env), 10, 64); err == nil {
			return value
		}
	}
	return 0
}

func resolveFloat(flagValue float64, envKey string) float64 {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.ParseFloat(strings.TrimSpace(env), 64); err == nil {
			return value
		}
	}
	return 0
}

func resolveDuration(flagValue time.Duration, envKey string) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := time.ParseDuration(env); err == nil {
			return value
		}
	}
	return 0
}
