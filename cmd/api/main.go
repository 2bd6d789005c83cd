package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/sebastianruiz9504/calculadora/internal/auth"
	"github.com/sebastianruiz9504/calculadora/internal/calculator"
	"github.com/sebastianruiz9504/calculadora/internal/common"
	"github.com/sebastianruiz9504/calculadora/internal/config"
	"github.com/sebastianruiz9504/calculadora/internal/crm"
	"github.com/sebastianruiz9504/calculadora/internal/health"
	"github.com/sebastianruiz9504/calculadora/internal/obs"
	"github.com/sebastianruiz9504/calculadora/internal/provisioning"
	"github.com/sebastianruiz9504/calculadora/internal/quote"
	"github.com/sebastianruiz9504/calculadora/internal/ratelimit"
	"github.com/sebastianruiz9504/calculadora/internal/resilience"
	"github.com/sebastianruiz9504/calculadora/internal/scenario"
	"github.com/sebastianruiz9504/calculadora/internal/security"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("env", cfg.AppEnv).Logger()

	obs.MustRegisterDomainMetrics(cfg.MetricsNamespace, nil)
	resilience.MustRegisterMetrics(cfg.MetricsNamespace, nil)

	tracingEnabled := cfg.TracingEnabled
	shutdownTracer, err := obs.InitTracer(context.Background(), obs.TracingConfig{
		Enabled:       cfg.TracingEnabled,
		ServiceName:   "calculadora-api",
		Endpoint:      cfg.TracingEndpoint,
		SamplingRatio: cfg.TracingSampling,
		Environment:   cfg.AppEnv,
	})
	if err != nil {
		logger.Error().Err(err).Msg("initialise tracing")
		tracingEnabled = false
	} else {
		defer func() {
			if err := shutdownTracer(context.Background()); err != nil {
				logger.Error().Err(err).Msg("shutdown tracer")
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := scenario.Migrate(cfg.DatabaseURL); err != nil {
		logger.Fatal().Err(err).Msg("migrate database")
	}
	pool := mustInitDatabase(initCtx, cfg, logger)
	defer pool.Close()

	redisClient := mustInitRedis(initCtx, cfg, logger)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()

	crmClient, err := crm.New(crm.Config{
		BaseURL: cfg.CRMBaseURL,
		Tokens:  crm.StaticToken(cfg.CRMAccessToken),
		HTTP: resilience.Client{
			HTTP: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
			Breaker: resilience.NewBreaker(cfg.CRMBreakerMinReq, cfg.CRMBreakerRatio, cfg.CRMBreakerOpenFor).
				Named("crm").WithLogger(logger),
			Attempts:    cfg.CRMRetryAttempts,
			BaseBackoff: cfg.CRMRetryBase,
			Jitter:      0.2,
			Timeout:     cfg.CRMTimeout,
		},
		Segments: crm.NewCache(redisClient, "crm:segment:", cfg.SegmentCacheTTL),
		Searches: crm.NewCache(redisClient, "crm:search:", cfg.SearchCacheTTL),
		Logger:   logger.With().Str("component", "crm").Logger(),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise crm client")
	}

	verifier := mustInitVerifier(ctx, cfg, logger)
	authMiddleware := auth.Middleware{Verifier: verifier}

	limiterStore, err := ratelimit.NewRedisStore(redisClient, "calculadora:ratelimit")
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise rate limit store")
	}
	searchLimiter, err := ratelimit.New(limiterStore, cfg.SearchRateLimit)
	if err != nil {
		logger.Fatal().Err(err).Str("rate", cfg.SearchRateLimit).Msg("parse search rate limit")
	}
	searchLimit := ratelimit.Handler{
		Limiter: searchLimiter,
		Key:     ratelimit.CallerKey,
		OnError: func(err error) { logger.Warn().Err(err).Msg("rate limit store unavailable") },
	}

	queueOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse queue redis url")
	}
	queueClient := asynq.NewClient(queueOpt)
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close queue client")
		}
	}()

	provisioningSvc := &provisioning.Service{
		Queue:         provisioning.AsynqEnqueuer{Client: queueClient, MaxRetry: cfg.QueueMaxRetry},
		MaxAttachment: cfg.MaxAttachment,
	}
	if cfg.StorageEnabled() {
		store, err := provisioning.NewMinioStore(cfg.StorageEndpoint, cfg.StorageAccessKey, cfg.StorageSecretKey, cfg.StorageBucket, cfg.StorageUseSSL)
		if err != nil {
			logger.Fatal().Err(err).Msg("initialise attachment storage")
		}
		if err := store.EnsureBucket(initCtx); err != nil {
			logger.Fatal().Err(err).Str("bucket", cfg.StorageBucket).Msg("ensure attachment bucket")
		}
		provisioningSvc.Store = store
	}

	idem := common.Idem{R: redisClient, TTL: cfg.IdempotencyTTL}
	calcHandler := &calculator.Handler{
		Engine:       quote.NewEngine(cfg.Policy),
		Directory:    crmClient,
		Scenarios:    scenario.NewService(scenario.NewStore(pool)),
		Provisioning: provisioningSvc,
		MaxBodyBytes: cfg.MaxBodyBytes,
		SearchLimit:  searchLimit.Middleware,
		Idempotency:  idem.Middleware,
	}

	var httpMetrics *obs.HTTPMetrics
	if cfg.MetricsEnabled {
		httpMetrics = obs.NewHTTPMetrics(cfg.MetricsNamespace, nil, nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(security.Headers{HSTS: cfg.HSTSEnabled, HSTSIncludeSubdomains: true}.Middleware)
	r.Use(cors.Handler(corsOptions(cfg)))

	if cfg.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	healthHandler := health.Handler{
		Probes: map[string]health.Probe{
			"db":    pool.Ping,
			"redis": func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		},
		Timeout: 500 * time.Millisecond,
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.Use(authMiddleware.RequireAuth)
		calcHandler.Routes(v)
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		health.SetReady(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("shutdown http server")
		}
	}()

	logger.Info().Str("addr", srv.Addr).Msg("starting HTTP server")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("http server stopped")
	}
	logger.Info().Msg("http server stopped")
}

func mustInitDatabase(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *pgxpool.Pool {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "calculadora-api"

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}
	return pool
}

func mustInitRedis(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *redis.Client {
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if cfg.MetricsEnabled {
		if err := redisotel.InstrumentMetrics(redisClient); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}
	return redisClient
}

func mustInitVerifier(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *auth.Verifier {
	opts := auth.Options{
		Issuer:    cfg.JWTIssuer,
		Audience:  cfg.JWTAudience,
		ClockSkew: cfg.JWTClockSkew,
	}
	var (
		verifier *auth.Verifier
		err      error
	)
	if cfg.JWTJWKSURL != "" {
		verifier, err = auth.NewJWKSVerifier(ctx, cfg.JWTJWKSURL, opts)
	} else {
		verifier, err = auth.NewSecretVerifier(cfg.JWTSecret, opts)
	}
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise token verifier")
	}
	return verifier
}

// corsOptions allows credentials only for an explicit origin list. Without
// configured origins any origin may call the API, but never with credentials.
func corsOptions(cfg *config.Config) cors.Options {
	origins := cfg.CORSAllowedOrigins
	credentials := len(origins) > 0 && !slices.Contains(origins, "*")
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"Content-Disposition", "Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: credentials,
		MaxAge:           300,
	}
}
