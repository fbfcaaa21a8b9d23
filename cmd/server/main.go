package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wordchain-server/internal/config"
	"wordchain-server/internal/database"
	deliveryhttp "wordchain-server/internal/delivery/http"
	"wordchain-server/internal/delivery/websocket"
	"wordchain-server/internal/messaging"
	"wordchain-server/internal/repository"
	"wordchain-server/internal/service"
	"wordchain-server/internal/session"
	"wordchain-server/internal/syncengine"
	"wordchain-server/pkg/logger"

	"github.com/gin-gonic/gin"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	zapLogger, err := logger.New(logger.Config{Level: cfg.LogLevel, Encoding: cfg.LogEncoding})
	if err != nil {
		log.Fatalf("Не удалось инициализировать логгер: %v", err)
	}
	defer func() { _ = zapLogger.Sync() }()
	zapLogger.Info("Logger initialized", zap.String("logLevel", cfg.LogLevel))

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	// --- PostgreSQL --- //
	dbPool, err := database.NewPool(context.Background(), database.PoolConfig{
		DSN:         cfg.GetDSN(),
		MaxConns:    int(cfg.DBMaxConns),
		IdleTimeout: cfg.DBIdleTimeout,
	}, zapLogger)
	if err != nil {
		zapLogger.Fatal("Не удалось подключиться к БД", zap.Error(err))
	}
	defer dbPool.Close()
	if err := database.ApplyMigrations(dbPool, zapLogger); err != nil {
		zapLogger.Fatal("Не удалось применить миграции", zap.Error(err))
	}

	// --- Redis --- //
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		zapLogger.Fatal("Неверный REDIS_URL", zap.Error(err))
	}
	redisClient := redis.NewClient(redisOpts)
	defer func() { _ = redisClient.Close() }()
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		pingCancel()
		zapLogger.Fatal("Не удалось подключиться к Redis", zap.Error(err))
	}
	pingCancel()
	zapLogger.Info("Успешное подключение к Redis")

	// --- RabbitMQ --- //
	rabbitConn, err := connectRabbitMQ(cfg.RabbitMQURL, zapLogger)
	if err != nil {
		zapLogger.Fatal("Не удалось подключиться к RabbitMQ", zap.Error(err))
	}
	defer func() { _ = rabbitConn.Close() }()
	pushChannel, err := rabbitConn.Channel()
	if err != nil {
		zapLogger.Fatal("Не удалось открыть канал RabbitMQ", zap.Error(err))
	}
	defer func() { _ = pushChannel.Close() }()
	if err := messaging.DeclarePushQueue(pushChannel, cfg.PushNotificationsQueue); err != nil {
		zapLogger.Fatal("Не удалось объявить очередь push-уведомлений", zap.Error(err))
	}

	// --- Хранилища и синхронизация --- //
	changeFeed := repository.NewRedisChangeFeed(redisClient, zapLogger)
	backend := repository.NewNotifyingStoryBackend(repository.NewPgStoryRepository(dbPool, zapLogger), changeFeed, zapLogger)
	codeStore := repository.NewRedisCodeStore(redisClient, zapLogger)
	statsRepo := repository.NewPgUserStatsRepository(dbPool, zapLogger)

	localCache, err := syncengine.OpenBadgerRepository(cfg.LocalCachePath, zapLogger)
	if err != nil {
		zapLogger.Fatal("Не удалось открыть локальный кэш историй", zap.Error(err))
	}

	notifier := messaging.NewDebouncedNotifier(
		messaging.NewRabbitMQPushPublisher(pushChannel, cfg.PushNotificationsQueue, zapLogger),
		cfg.PushDebounce,
		zapLogger,
	)

	engine := syncengine.NewEngine(backend, changeFeed, localCache, notifier, syncengine.Config{
		WriteMaxAttempts:  cfg.WriteMaxAttempts,
		WriteRetryBackoff: cfg.WriteRetryBackoff,
		ResyncDebounce:    cfg.ResyncDebounce,
		OperationTimeout:  cfg.OperationTimeout,
	}, zapLogger)

	registry := session.NewRegistry(codeStore, backend, nil, session.Config{
		MaxAttempts: cfg.CodeMaxAttempts,
		CodeTTL:     cfg.SessionCodeTTL,
	}, zapLogger)

	// --- Сервисы --- //
	branches := service.NewBranchCoordinator(engine, registry, zapLogger)
	stories := service.NewStoryService(engine, registry, branches, service.NewStatsRecorder(statsRepo, zapLogger), zapLogger)

	// --- HTTP и live-обновления --- //
	hubCtx, stopHub := context.WithCancel(context.Background())
	hub := websocket.NewHub(engine, cfg.CORSAllowedOrigins, zapLogger)
	engine.AddObserver(hub)
	go hub.Run(hubCtx)

	handler := deliveryhttp.NewHandler(stories, branches, zapLogger)
	router := deliveryhttp.NewRouter(deliveryhttp.RouterConfig{
		JWTSecret:      []byte(cfg.JWTSecret),
		AllowedOrigins: cfg.CORSAllowedOrigins,
		Live:           hub.ServeWS,
	}, handler, zapLogger)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		zapLogger.Info("Wordchain server listening", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLogger.Fatal("Ошибка запуска HTTP сервера", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zapLogger.Info("Получен сигнал завершения, начинаем graceful shutdown...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		zapLogger.Error("Ошибка при graceful shutdown HTTP сервера", zap.Error(err))
	}
	stopHub()
	notifier.Close()
	if err := engine.Close(); err != nil {
		zapLogger.Error("Ошибка закрытия движка синхронизации", zap.Error(err))
	}
	zapLogger.Info("Wordchain server stopped")
}

// connectRabbitMQ пытается подключиться к RabbitMQ с несколькими попытками
func connectRabbitMQ(url string, logger *zap.Logger) (*amqp.Connection, error) {
	const maxRetries = 5
	retryDelay := 5 * time.Second
	var lastErr error
	for i := 0; i < maxRetries; i++ {
		conn, err := amqp.Dial(url)
		if err == nil {
			logger.Info("Успешное подключение к RabbitMQ")
			return conn, nil
		}
		lastErr = err
		logger.Warn("Не удалось подключиться к RabbitMQ",
			zap.Int("attempt", i+1),
			zap.Int("max_attempts", maxRetries),
			zap.Duration("retry_delay", retryDelay),
			zap.Error(err),
		)
		time.Sleep(retryDelay)
	}
	return nil, fmt.Errorf("rabbitmq unavailable after %d attempts: %w", maxRetries, lastErr)
}
