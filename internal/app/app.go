package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"notify-service/internal/config"
	"notify-service/internal/domain/repository"
	domainservice "notify-service/internal/domain/service"
	"notify-service/internal/handler"
	"notify-service/internal/infrastructure/cron"
	"notify-service/internal/infrastructure/db"
	"notify-service/internal/infrastructure/fcm"
	"notify-service/internal/infrastructure/kafka"
	"notify-service/internal/infrastructure/memory"
	"notify-service/internal/infrastructure/mongo"
	"notify-service/internal/infrastructure/postgres"
	"notify-service/internal/infrastructure/postmark"
	"notify-service/internal/infrastructure/redis"
	"notify-service/internal/infrastructure/smtp"
	"notify-service/internal/infrastructure/templates"
	"notify-service/internal/infrastructure/twilio"
	"notify-service/internal/infrastructure/userdirectory"
	"notify-service/internal/middleware"
	"notify-service/internal/service"
	"notify-service/pkg/jwt"
	"notify-service/pkg/logger"
)

const twilioCallbackPath = "/api/v1/webhooks/twilio"

type closer struct {
	name string
	fn   func() error
}

// App represents the application
type App struct {
	cfg       *config.Config
	log       zerolog.Logger
	logCloser io.Closer

	// closers run in reverse order on shutdown
	closers []closer
	checks  map[string]handler.HealthCheck

	httpServer *http.Server
	consumer   *kafka.ReceiptConsumer
	sweeper    *cron.PendingSweeper
	limiters   []*middleware.RateLimiter
}

// New creates a new application instance
func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	log, logCloser, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.OutputPath,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	log = log.With().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Logger()

	return &App{
		cfg:       cfg,
		log:       log,
		logCloser: logCloser,
		checks:    make(map[string]handler.HealthCheck),
	}, nil
}

// Run starts the application and blocks until a signal or a fatal component error
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer a.close()

	if err := a.init(ctx); err != nil {
		return err
	}

	errChan := make(chan error, 2)

	go func() {
		a.log.Info().Str("addr", a.httpServer.Addr).Msg("starting http server")
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http server error: %w", err)
		}
	}()

	if a.consumer != nil {
		go func() {
			if err := a.consumer.Start(ctx); err != nil {
				errChan <- fmt.Errorf("kafka consumer error: %w", err)
			}
		}()
	}

	if a.sweeper != nil {
		if err := a.sweeper.Start(); err != nil {
			return fmt.Errorf("failed to start pending sweeper: %w", err)
		}
	}

	for _, l := range a.limiters {
		l.Cleanup(ctx, 5*time.Minute, 10*time.Minute)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	a.log.Info().Msg("notification service started")

	var runErr error
	select {
	case runErr = <-errChan:
		a.log.Error().Err(runErr).Msg("component failed")
	case sig := <-sigChan:
		a.log.Info().Str("signal", sig.String()).Msg("received signal")
	}

	a.log.Info().Msg("shutting down gracefully")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		a.log.Error().Err(err).Msg("http server shutdown error")
	}

	cancel()

	if a.sweeper != nil {
		a.sweeper.Stop()
	}

	a.log.Info().Msg("application stopped")
	return runErr
}

func (a *App) init(ctx context.Context) error {
	notifications, err := a.initNotificationStore(ctx)
	if err != nil {
		return err
	}

	targets, err := a.initPushTargetStore(ctx)
	if err != nil {
		return err
	}

	directory := a.initUserDirectory()

	var publisher domainservice.EventPublisher = service.NopEventPublisher{}
	if a.cfg.Kafka.Enabled {
		producer := kafka.NewProducer(&a.cfg.Kafka)
		a.onClose("kafka producer", producer.Close)
		publisher = producer
	}

	adapters, validator, renderer := a.initAdapters(ctx)

	tokenService := service.NewTokenService(targets, validator, directory, logger.Component(a.log, "tokens"))

	dispatchService := service.NewDispatchService(service.DispatchDeps{
		Repo:      notifications,
		Adapters:  adapters,
		Tokens:    tokenService,
		Directory: directory,
		Renderer:  renderer,
		Publisher: publisher,
	}, service.DispatchConfig{
		DefaultCountryCode: a.cfg.SMS.DefaultCountryCode,
	}, logger.Component(a.log, "dispatch"))

	notificationService := service.NewNotificationService(notifications, publisher, service.NotificationConfig{
		PendingTimeout: a.cfg.Sweeper.PendingTimeout,
		SweepBatch:     a.cfg.Sweeper.BatchSize,
	}, logger.Component(a.log, "notifications"))

	reconcilerService := service.NewReconcilerService(notifications, publisher, logger.Component(a.log, "reconciler"))

	if a.cfg.Kafka.Enabled {
		a.consumer = kafka.NewReceiptConsumer(&a.cfg.Kafka, reconcilerService, logger.Component(a.log, "kafka"))
		a.onClose("kafka consumer", a.consumer.Close)
	}

	if a.cfg.Sweeper.Enabled {
		a.sweeper = cron.NewPendingSweeper(notificationService, a.cfg.Sweeper.Schedule, logger.Component(a.log, "sweeper"))
	}

	a.initHTTPServer(dispatchService, tokenService, notificationService, reconcilerService)
	return nil
}

func (a *App) initNotificationStore(ctx context.Context) (repository.NotificationRepository, error) {
	switch a.cfg.Storage.Notifications {
	case config.StorageMongo:
		a.log.Info().Msg("connecting to MongoDB")
		client, err := mongo.NewClient(ctx, &a.cfg.Mongo)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
		}
		a.onClose("mongo", func() error { return client.Disconnect(context.Background()) })
		a.checks["mongo"] = handler.HealthCheck(mongo.Healthcheck(client))

		database := client.Database(a.cfg.Mongo.Database)
		if err := mongo.EnsureIndexes(ctx, database, a.cfg.Mongo.Collection); err != nil {
			return nil, fmt.Errorf("failed to create MongoDB indexes: %w", err)
		}
		a.log.Info().Str("database", a.cfg.Mongo.Database).Msg("connected to MongoDB")
		return mongo.NewNotificationRepository(database, a.cfg.Mongo.Collection), nil

	case config.StoragePostgres:
		a.log.Info().Msg("connecting to PostgreSQL")
		pool, err := db.NewPostgresPool(ctx, &a.cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
		}
		a.onClose("postgres", func() error { pool.Close(); return nil })
		a.checks["postgres"] = handler.HealthCheck(db.Healthcheck(pool))

		if a.cfg.Database.AutoMigrate {
			if err := db.Migrate(ctx, pool, logger.Component(a.log, "migrations")); err != nil {
				return nil, fmt.Errorf("failed to migrate PostgreSQL: %w", err)
			}
		}
		a.log.Info().Msg("connected to PostgreSQL")
		return postgres.NewNotificationRepository(pool), nil

	default:
		a.log.Warn().Msg("using in-memory notification store, records are lost on restart")
		return memory.NewNotificationRepository(), nil
	}
}

func (a *App) initPushTargetStore(ctx context.Context) (repository.PushTargetRepository, error) {
	if a.cfg.Storage.PushTargets != config.StorageRedis {
		a.log.Warn().Msg("using in-memory push target store")
		return memory.NewPushTargetRepository(), nil
	}

	a.log.Info().Msg("connecting to Redis")
	client, err := redis.NewClient(ctx, &a.cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	a.onClose("redis", client.Close)
	a.checks["redis"] = handler.HealthCheck(redis.Healthcheck(client))
	a.log.Info().Msg("connected to Redis")

	return redis.NewPushTargetRepository(client, a.cfg.Redis.KeyPrefix), nil
}

func (a *App) initUserDirectory() domainservice.UserDirectory {
	if a.cfg.UserDirectory.URL == "" {
		a.log.Info().Msg("user directory not configured")
		return nil
	}

	client, err := userdirectory.NewClient(&a.cfg.UserDirectory)
	if err != nil {
		a.log.Warn().Err(err).Msg("user directory unavailable")
		return nil
	}
	return client
}

// initAdapters builds every channel adapter it can. A channel whose
// adapter cannot be configured stays unregistered and rejects sends.
func (a *App) initAdapters(ctx context.Context) ([]domainservice.ChannelAdapter, domainservice.TokenValidator, domainservice.TemplateRenderer) {
	var (
		adapters  []domainservice.ChannelAdapter
		validator domainservice.TokenValidator
		renderer  domainservice.TemplateRenderer
	)

	unavailable := func(channel string, err error) {
		a.log.Warn().Err(err).Str("channel", channel).Msg("channel adapter not configured, channel disabled")
	}

	if r, err := templates.NewRenderer(&a.cfg.Email); err != nil {
		a.log.Warn().Err(err).Msg("email templates unavailable")
	} else {
		renderer = r
	}

	switch strings.ToLower(a.cfg.Email.Provider) {
	case config.EmailProviderPostmark:
		if c, err := postmark.NewClient(&a.cfg.Postmark); err != nil {
			unavailable("email", err)
		} else {
			adapters = append(adapters, c)
		}
	default:
		if c, err := smtp.NewClient(&a.cfg.SMTP); err != nil {
			unavailable("email", err)
		} else {
			adapters = append(adapters, c)
		}
	}

	callbackURL := ""
	if a.cfg.Twilio.StatusCallback && a.cfg.HTTP.PublicURL != "" {
		callbackURL = strings.TrimRight(a.cfg.HTTP.PublicURL, "/") + twilioCallbackPath
	}
	if c, err := twilio.NewClient(&a.cfg.Twilio, callbackURL); err != nil {
		unavailable("sms", err)
	} else {
		adapters = append(adapters, c)
	}

	if c, err := fcm.NewClient(ctx, &a.cfg.FCM); err != nil {
		unavailable("push", err)
	} else {
		adapters = append(adapters, c)
		if a.cfg.FCM.ValidateTokens {
			validator = c
		}
	}

	for _, ad := range adapters {
		a.log.Info().Str("channel", string(ad.Channel())).Msg("channel adapter registered")
	}

	return adapters, validator, renderer
}

func (a *App) initHTTPServer(
	dispatch domainservice.DispatchService,
	tokens domainservice.TokenService,
	notifications domainservice.NotificationService,
	reconciler domainservice.ReconcilerService,
) {
	httpLog := logger.Component(a.log, "http")

	tokenManager := jwt.NewTokenManager(a.cfg.Auth.JWTSecret, a.cfg.Auth.JWTIssuer, a.cfg.Auth.TokenTTL)
	auth := middleware.NewAuthMiddleware(a.cfg.Auth.APIKey, tokenManager, httpLog)

	deps := handler.RouterDeps{
		Send:          handler.NewSendHandler(dispatch, tokens, httpLog),
		Notifications: handler.NewNotificationHandler(notifications, httpLog),
		Webhooks: handler.NewWebhookHandler(reconciler, auth, handler.WebhookConfig{
			PublicURL:               a.cfg.HTTP.PublicURL,
			TwilioAuthToken:         a.cfg.Twilio.AuthToken,
			ValidateTwilioSignature: a.cfg.Twilio.ValidateSignature,
			PostmarkToken:           a.cfg.Postmark.WebhookToken,
		}, httpLog),
		Auth:   auth,
		Checks: a.checks,
	}

	if a.cfg.RateLimit.Enabled {
		deps.SendLimiter = middleware.NewRateLimiter(a.cfg.RateLimit.Send, a.cfg.RateLimit.SendBurst)
		deps.HookLimiter = middleware.NewRateLimiter(a.cfg.RateLimit.Webhook, a.cfg.RateLimit.WebhookBurst)
		a.limiters = append(a.limiters, deps.SendLimiter, deps.HookLimiter)
	}

	router := handler.NewRouter(deps, httpLog)

	a.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.cfg.HTTP.Port),
		Handler:      router.Setup(),
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
	}

	a.log.Info().Int("port", a.cfg.HTTP.Port).Msg("http server configured")
}

func (a *App) onClose(name string, fn func() error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

func (a *App) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(); err != nil {
			a.log.Error().Err(err).Str("component", c.name).Msg("failed to close")
		}
	}
	a.closers = nil

	if a.logCloser != nil {
		_ = a.logCloser.Close()
	}
}
