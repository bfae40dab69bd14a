package main

import (
	"log"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"mail-service/internal/cache"
	"mail-service/internal/config"
	"mail-service/internal/crypto"
	"mail-service/internal/db"
	"mail-service/internal/handlers"
	"mail-service/internal/middleware"
	"mail-service/internal/notify"
	"mail-service/internal/observability"
	"mail-service/internal/presence"
	"mail-service/internal/rabbitmq"
	"mail-service/internal/repositories"
	"mail-service/internal/service"
	"mail-service/internal/session"
	"mail-service/internal/telemetry"
	"mail-service/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	database, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("failed to connect to db", zap.Error(err))
	}
	defer database.Close()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal("failed to parse redis url", zap.Error(err))
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()

	box, err := crypto.NewBox(cfg.MessageKey)
	if err != nil {
		logger.Fatal("failed to init message crypto", zap.Error(err))
	}

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	defer publisher.Close()

	channelRepo := repositories.NewChannelRepo(database)
	messageRepo := repositories.NewMessageRepo(database)
	receiptRepo := repositories.NewReceiptRepo(database)

	store := cache.New(rdb, logger)
	presenceStore := presence.NewStore(rdb)
	sessions := session.NewStore(rdb)

	notifier := notify.NewAMQPNotifier(publisher, logger)
	activity := telemetry.NewActivityLogger(publisher, "activity.log", "mail-service", cfg.Env, logger)

	hub := ws.NewHub(logger)
	deliverer := service.NewDeliverer(presenceStore, hub, notifier, logger)

	messenger := service.NewMessenger(service.Deps{
		Channels:  channelRepo,
		Messages:  messageRepo,
		Receipts:  receiptRepo,
		Box:       box,
		Cache:     store,
		Hub:       hub,
		Deliverer: deliverer,
		Notifier:  notifier,
		Activity:  activity,
		Log:       logger,
	})

	gateway := ws.NewGateway(hub, sessions, presenceStore, messenger, logger)
	mailHandler := handlers.NewMailHandler(messenger)

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("mail-service"))
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/health", func(c *gin.Context) { c.JSON(200, gin.H{"status": "ok"}) })
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authMiddleware := middleware.Auth(sessions)

	router.POST("/channels", authMiddleware, mailHandler.CreateChannel)
	router.GET("/channels", authMiddleware, mailHandler.ListChannels)
	router.POST("/channels/:channel_id/join", authMiddleware, mailHandler.JoinChannel)
	router.POST("/channels/:channel_id/leave", authMiddleware, mailHandler.LeaveChannel)
	router.GET("/channels/:channel_id/messages", authMiddleware, mailHandler.ListMessages)
	router.POST("/channels/:channel_id/messages", authMiddleware, mailHandler.PostMessage)
	router.PATCH("/channels/:channel_id/messages/:message_id", authMiddleware, mailHandler.EditMessage)
	router.GET("/channels/:channel_id/messages/:message_id/history", authMiddleware, mailHandler.EditHistory)
	router.DELETE("/channels/:channel_id/messages/:message_id", authMiddleware, mailHandler.DeleteMessage)
	router.POST("/channels/:channel_id/messages/:message_id/reactions", authMiddleware, mailHandler.AddReaction)
	router.GET("/channels/:channel_id/messages/:message_id/reactions", authMiddleware, mailHandler.ListReactions)
	router.DELETE("/channels/:channel_id/messages/:message_id/reactions", authMiddleware, mailHandler.RemoveReaction)
	router.POST("/channels/:channel_id/read", authMiddleware, mailHandler.MarkAsRead)
	router.GET("/channels/:channel_id/read", authMiddleware, mailHandler.ReadState)

	router.GET("/ws", gateway.Handle)

	logger.Info("starting mail-service", zap.String("port", cfg.Port), zap.String("env", cfg.Env))
	if err := router.Run(":" + cfg.Port); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

func newLogger(env, level string) (*zap.Logger, error) {
	var zapCfg zap.Config
	if env == "production" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	zapCfg.Level = zap.NewAtomicLevelAt(lvl)
	return zapCfg.Build()
}
