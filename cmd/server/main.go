package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/notifyhub/dispatch/internal/api"
	"github.com/notifyhub/dispatch/internal/channel"
	"github.com/notifyhub/dispatch/internal/config"
	"github.com/notifyhub/dispatch/internal/db"
	"github.com/notifyhub/dispatch/internal/dispatcher"
	"github.com/notifyhub/dispatch/internal/logging"
	"github.com/notifyhub/dispatch/internal/metrics"
	"github.com/notifyhub/dispatch/internal/queue"
	"github.com/notifyhub/dispatch/internal/ratelimiter"
	"github.com/notifyhub/dispatch/internal/repository"
	"github.com/notifyhub/dispatch/internal/scheduler"
	"github.com/notifyhub/dispatch/internal/webhook"
	"github.com/notifyhub/dispatch/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback, _ := zap.NewProduction()
		fallback.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := logging.New(cfg.LogFile)
	if err != nil {
		fallback, _ := zap.NewProduction()
		fallback.Fatal("failed to build logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	// ---- database ----
	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	if err := db.Migrate(cfg.DatabaseURL, "migrations"); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}
	logger.Info("database migrations applied")

	// ---- repositories ----
	notifications := repository.NewPgNotificationRepository(pool)
	clients := repository.NewPgClientRepository(pool)
	templates := repository.NewPgTemplateRepository(pool)
	channelConfigs := repository.NewPgChannelConfigRepository(pool)
	audit := repository.NewPgAuditRepository(pool)

	// ---- core dependencies ----
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	q := queue.New()

	var bucketStore ratelimiter.BucketStore = ratelimiter.NewMemoryBucketStore()
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		bucketStore = ratelimiter.NewRedisBucketStore(rdb)
		logger.Info("using shared redis rate-limit store", zap.String("addr", cfg.RedisAddr))
	}
	clientLimiter := ratelimiter.NewClientLimiter(clients, bucketStore, cfg.DefaultRateLimitPerMin)
	channelLimiters := ratelimiter.NewChannelLimiters(cfg.ChannelSendRate)

	// ---- channel adapters ----
	emailAdapter := channel.NewEmailAdapter(channel.EmailConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		Timeout:  cfg.ProviderTimeout,
	}, channelConfigs, logger)
	telegramAdapter := channel.NewTelegramAdapter(channel.TelegramConfig{
		BotToken: cfg.TelegramBotToken,
		APIURL:   cfg.TelegramAPIURL,
		Timeout:  cfg.ProviderTimeout,
	}, channelConfigs, logger)
	smsAdapter := channel.NewSMSAdapter(channel.SMSConfig{
		APIURL:     cfg.SMSAPIURL,
		AccountSID: cfg.SMSAccountSID,
		AuthToken:  cfg.SMSAuthToken,
		FromNumber: cfg.SMSFromNumber,
		Timeout:    cfg.ProviderTimeout,
	}, channelConfigs, logger)
	whatsappAdapter := channel.NewWhatsAppAdapter(logger)

	chRouter := channel.NewRouter(channelConfigs, logger,
		emailAdapter, telegramAdapter, smsAdapter, whatsappAdapter)

	// ---- dispatch core ----
	webhooks := webhook.NewNotifier(cfg.WebhookSecret, cfg.WebhookTimeout, logger)
	svc := dispatcher.NewService(
		notifications, clients, templates, audit,
		chRouter, q, webhooks,
		cfg.NotificationTTL, m.DispatcherHooks(), logger,
	)

	// ---- background goroutines ----
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	deliveryPool := worker.NewPool(cfg.WorkerCount, q, svc, channelLimiters, logger)
	deliveryPool.Start(workerCtx)

	sched := scheduler.New(
		notifications, q, webhooks,
		cfg.RetryPollInterval, cfg.RetryBatchLimit, cfg.LeaseTimeout,
		m.SchedulerHooks(), logger,
	)
	go sched.Run(workerCtx)

	// Refresh the queue depth gauges every few seconds.
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C:
				m.ObserveQueueDepths(q.Depths())
			}
		}
	}()

	// ---- HTTP server ----
	router := api.NewRouter(svc, chRouter, clientLimiter, q, pool, reg,
		func() { m.RateLimitedRequests.Inc() }, logger)
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// ---- graceful shutdown ----
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutdown signal received")

	// 1. Stop accepting new HTTP requests.
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// 2. Signal workers and the scheduler to stop.
	cancelWorkers()

	// 3. Wait for in-flight delivery attempts to finish. Rows still leased
	// when the process dies are returned to PENDING by the stale-lease sweep
	// after the next start.
	deliveryPool.Wait()

	logger.Info("server stopped cleanly")
}
