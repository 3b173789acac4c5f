package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"

	"github.com/care/emr/internal/config"
	"github.com/care/emr/internal/domain/authz"
	"github.com/care/emr/internal/domain/encounter"
	"github.com/care/emr/internal/domain/facility"
	"github.com/care/emr/internal/domain/fileupload"
	"github.com/care/emr/internal/domain/observation"
	"github.com/care/emr/internal/domain/organization"
	"github.com/care/emr/internal/domain/otp"
	"github.com/care/emr/internal/domain/patient"
	"github.com/care/emr/internal/domain/permission"
	"github.com/care/emr/internal/domain/questionnaire"
	"github.com/care/emr/internal/domain/rolebinding"
	"github.com/care/emr/internal/domain/scheduling"
	"github.com/care/emr/internal/domain/user"
	"github.com/care/emr/internal/domain/valueset"
	"github.com/care/emr/internal/platform/auth"
	"github.com/care/emr/internal/platform/batch"
	"github.com/care/emr/internal/platform/blobstore"
	"github.com/care/emr/internal/platform/cache"
	"github.com/care/emr/internal/platform/db"
	"github.com/care/emr/internal/platform/middleware"
	"github.com/care/emr/internal/platform/notification"
	"github.com/care/emr/internal/platform/plugin"
	"github.com/care/emr/internal/platform/taskqueue"
	"github.com/care/emr/internal/platform/telemetry"
)

const (
	memoryKVEntries = 10000
	requestTimeout  = 30 * time.Second
)

// resolveSigningKey returns the configured JWT key, or a random one when none
// is set. Tokens signed with a random key do not survive a restart.
func resolveSigningKey(configured string) ([]byte, bool, error) {
	if configured != "" {
		return []byte(configured), false, nil
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, false, fmt.Errorf("generate signing key: %w", err)
	}
	return key, true, nil
}

func newKV(cfg *config.Config) (cache.KV, error) {
	if cfg.RedisURL == "" {
		return cache.NewMemoryKV(memoryKVEntries), nil
	}
	client, err := cache.NewRedisClient(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	return cache.NewRedisKV(client), nil
}

// newPublisher picks the task queue backend. The returned close func is
// always safe to call.
func newPublisher(ctx context.Context, cfg *config.Config) (taskqueue.Publisher, func() error, error) {
	noop := func() error { return nil }
	switch cfg.TaskQueueBackend {
	case "sqs":
		p, err := taskqueue.NewSQSPublisher(ctx, cfg.SQSQueueName, "")
		if err != nil {
			return nil, noop, err
		}
		return p, noop, nil
	case "kafka":
		p := taskqueue.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		return p, p.Close, nil
	default:
		return taskqueue.NewMemoryPublisher(), noop, nil
	}
}

// newSMSSender logs messages instead of sending them unless USE_SMS is set.
func newSMSSender(cfg *config.Config, tasks taskqueue.Publisher, logger zerolog.Logger) notification.SMSSender {
	if !cfg.UseSMS {
		return notification.NewLogSMSSender(logger)
	}
	switch cfg.SMSProvider {
	case "http":
		return notification.NewHTTPSMSSender(cfg.SMSProviderURL, cfg.SMSProviderAPIKey)
	case "log":
		return notification.NewLogSMSSender(logger)
	default:
		return notification.NewQueueSMSSender(tasks)
	}
}

func newBlobStore(ctx context.Context, cfg *config.Config) (blobstore.Store, error) {
	if cfg.S3Bucket == "" {
		return blobstore.NewMemoryStore(), nil
	}
	store, err := blobstore.NewS3Store(ctx, blobstore.S3Config{
		Bucket:     cfg.S3Bucket,
		Region:     cfg.S3Region,
		Endpoint:   cfg.S3Endpoint,
		AccessKey:  cfg.S3AccessKey,
		SecretKey:  cfg.S3SecretKey,
		PresignTTL: cfg.S3PresignTTL,
	})
	if err != nil {
		return nil, err
	}
	return store, nil
}

// applyPlugins hands authorization overrides of registered plugins to the
// controller in registration order.
func applyPlugins(ctrl *authz.Controller, plugins *plugin.Registry) error {
	for _, p := range plugins.Plugins() {
		ext, ok := p.(authz.Extension)
		if !ok {
			continue
		}
		actions, queries := ext.AuthzOverrides()
		if err := ctrl.Override(p.Name(), actions, queries); err != nil {
			return fmt.Errorf("plugin %s: %w", p.Name(), err)
		}
	}
	return nil
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	signingKey, random, err := resolveSigningKey(cfg.JWTSigningKey)
	if err != nil {
		return err
	}
	if random {
		logger.Warn().Msg("JWT_SIGNING_KEY not set, using a random key for this process")
	}

	shutdownTracing, err := telemetry.Setup(telemetry.Config{
		ServiceName: "emr-server",
		Environment: cfg.Env,
		Exporter:    cfg.OTelExporter,
		SampleRate:  cfg.OTelSampleRate,
	})
	if err != nil {
		return err
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	kv, err := newKV(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to redis")
	}
	tasks, closeTasks, err := newPublisher(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to set up task queue")
	}
	defer func() {
		if err := closeTasks(); err != nil {
			logger.Error().Err(err).Msg("close task queue")
		}
	}()
	blobs, err := newBlobStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to set up blob store")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	tx := db.NewTxManager(pool)
	issuer := auth.NewIssuer(signingKey, cfg.JWTIssuer, cfg.AccessTokenTTL)

	// Authorization sources come first; every domain service depends on the
	// controller.
	permissionSvc := permission.NewService(permission.NewRepo(pool), kv, tx, cfg.RoleCacheTTL, logger)
	bindingRepo := rolebinding.NewRepo(pool)
	encounterRepo := encounter.NewRepo(pool)
	ctrl := authz.NewController(permissionSvc, bindingRepo, encounterRepo, logger)

	plugins := plugin.NewRegistry()
	if err := applyPlugins(ctrl, plugins); err != nil {
		return err
	}

	userSvc := user.NewService(user.NewRepo(pool))
	orgSvc := organization.NewService(organization.NewRepo(pool), tx, ctrl, cfg.ParentChainCacheExpiry, logger)
	facilitySvc := facility.NewService(facility.NewRepo(pool), orgSvc, tx, ctrl, logger)
	bindingSvc := rolebinding.NewService(bindingRepo, ctrl, userSvc, permissionSvc, orgSvc, logger)
	patientSvc := patient.NewService(patient.NewRepo(pool), bindingRepo, userSvc, permissionSvc, orgSvc, tx, ctrl, logger)
	encounterSvc := encounter.NewService(encounterRepo, patientSvc, facilitySvc, orgSvc, tx, ctrl, kv, tasks, logger)
	valuesetSvc := valueset.NewService(valueset.NewRepo(pool), ctrl, logger)
	observationSvc := observation.NewService(observation.NewRepo(pool), patientSvc)
	questionnaireSvc := questionnaire.NewService(questionnaire.NewRepo(pool), orgSvc, encounterSvc, patientSvc,
		valuesetSvc, observationSvc, tx, ctrl, logger)
	schedulingSvc := scheduling.NewService(scheduling.NewRepos(pool), userSvc, patientSvc, bindingSvc, tx, ctrl,
		scheduling.NewMetrics(registry), scheduling.Options{Location: loc, Failsafe: cfg.SlotGenerationFailsafe}, logger)
	otpSvc := otp.NewService(otp.NewRepo(pool), newSMSSender(cfg, tasks, logger), issuer, otp.Config{
		Length:       cfg.OTPLength,
		RepeatWindow: time.Duration(cfg.OTPRepeatWindow) * time.Minute,
		MaxRepeats:   cfg.OTPMaxRepeats,
		Expiry:       time.Duration(cfg.OTPExpiryMinutes) * time.Minute,
	}, logger)
	fileSvc := fileupload.NewService(fileupload.NewRepo(pool), blobs, patientSvc, encounterSvc, logger)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.ErrorHandler(logger)

	httpMetrics := middleware.NewHTTPMetrics(registry)
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(telemetry.Middleware(otel.GetTracerProvider()))
	e.Use(middleware.Logger(logger))
	e.Use(httpMetrics.Middleware())
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit("1M", "10M"))
	e.Use(middleware.RequestTimeout(requestTimeout))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-Tenant-ID"},
	}))

	jwtCfg := auth.JWTConfig{Issuer: cfg.JWTIssuer, SigningKey: signingKey, Skipper: auth.AuthSkipper}
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware(cfg.DevUsername, jwtCfg))
	} else {
		e.Use(auth.JWTMiddleware(jwtCfg))
	}
	e.Use(db.TenantMiddleware(pool, cfg.DefaultTenant))
	e.Use(userSvc.ResolveMiddleware())

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(pool))
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	api := e.Group("/api/v1")
	api.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))

	user.NewHandler(userSvc).RegisterRoutes(api)
	permission.NewHandler(permissionSvc).RegisterRoutes(api)
	organization.NewHandler(orgSvc, facilitySvc).RegisterRoutes(api)
	facility.NewHandler(facilitySvc).RegisterRoutes(api)
	rolebinding.NewHandler(bindingSvc, facilitySvc).RegisterRoutes(api)
	patient.NewHandler(patientSvc).RegisterRoutes(api)
	encounter.NewHandler(encounterSvc).RegisterRoutes(api)
	valueset.NewHandler(valuesetSvc).RegisterRoutes(api)
	observation.NewHandler(observationSvc).RegisterRoutes(api)
	questionnaire.NewHandler(questionnaireSvc).RegisterRoutes(api)
	schedulingHandler := scheduling.NewHandler(schedulingSvc, facilitySvc)
	schedulingHandler.RegisterRoutes(api)
	schedulingHandler.RegisterPatientRoutes(api)
	otp.NewHandler(otpSvc).RegisterRoutes(api)
	fileupload.NewHandler(fileSvc).RegisterRoutes(api)
	plugins.RegisterRoutes(api)
	batch.NewHandler(e, tx, logger).RegisterRoutes(api)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("flush traces")
	}
	logger.Info().Msg("server stopped")
	return nil
}
