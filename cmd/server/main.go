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

	"github.com/qs3c/vipgate_server/config"
	"github.com/qs3c/vipgate_server/internal/api"
	"github.com/qs3c/vipgate_server/internal/api/handler"
	"github.com/qs3c/vipgate_server/internal/database"
	"github.com/qs3c/vipgate_server/internal/gateway"
	"github.com/qs3c/vipgate_server/internal/pkg/logging"
	"github.com/qs3c/vipgate_server/internal/pkg/pubsub"
	"github.com/qs3c/vipgate_server/internal/pkg/queue"
	"github.com/qs3c/vipgate_server/internal/pkg/ws"
	"github.com/qs3c/vipgate_server/internal/platform/telegram"
	"github.com/qs3c/vipgate_server/internal/repository"
	"github.com/qs3c/vipgate_server/internal/service"
)

func main() {
	log := logging.Component("server")

	// 加载配置
	cfg, err := config.Load(configPath())
	if err != nil {
		log.WithError(err).Fatal("failed to load config")
	}
	logging.Init(cfg.Log.Level, cfg.Log.Format)

	// 初始化数据库
	db, err := database.NewMySQL(&cfg.Database)
	if err != nil {
		log.WithError(err).Fatal("failed to connect database")
	}
	if err := database.AutoMigrate(db); err != nil {
		log.WithError(err).Fatal("failed to migrate database")
	}
	log.Info("database connected")

	// 初始化 Redis
	rdb, err := database.NewRedis(&cfg.Redis)
	if err != nil {
		log.WithError(err).Fatal("failed to connect redis")
	}
	log.Info("redis connected")

	commands := queue.NewQueue(rdb, cfg.Queue.CommandQueue)
	gw := gateway.NewPushinPay(cfg.Payment.GatewayBaseURL, cfg.Payment.HTTPTimeout)

	// 初始化 Repository
	tenantRepo := repository.NewTenantRepository(db)
	botRepo := repository.NewBotRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	offerRepo := repository.NewOfferRepository(db)
	attrRepo := repository.NewAttributionRepository(db)

	// 初始化 Service。API 进程不持有接收循环，回调发货用只发不收的会话
	sender := service.FactoryProvider{Factory: telegram.NewFactory(telegram.WithLogger(logging.Component("telegram")))}
	authService := service.NewAuthService(tenantRepo, cfg)
	tenantService := service.NewTenantService(tenantRepo, gw)
	botService := service.NewBotService(botRepo, paymentRepo, commands)
	paymentService := service.NewPaymentService(paymentRepo, tenantRepo, attrRepo, gw, cfg.Payment)
	fulfillmentService := service.NewFulfillmentService(botRepo, paymentRepo, offerRepo, attrRepo, sender, cfg)
	fulfillmentService.SetPublisher(pubsub.NewPublisher(rdb))

	// 运行时事件经 Redis 转发给在线的运营后台
	ctx, stopEvents := context.WithCancel(context.Background())
	defer stopEvents()
	hub := ws.NewHub()
	go func() {
		err := pubsub.NewSubscriber(rdb).Subscribe(ctx, func(ev *pubsub.BotEvent) {
			_ = hub.SendToTenant(ev.TenantID, &ws.Message{Type: ev.Type, Data: ev})
		})
		if err != nil && ctx.Err() == nil {
			log.WithError(err).Error("bot event subscription ended")
		}
	}()

	// 初始化 Router
	router := api.NewRouter(
		handler.NewAuthHandler(authService),
		handler.NewTenantHandler(tenantService),
		handler.NewBotHandler(botService),
		handler.NewWebhookHandler(paymentService, fulfillmentService, cfg.Webhook.Secret),
		handler.NewHealthHandler(db, rdb),
		handler.NewWebSocketHandler(hub, cfg.JWT.Secret, cfg.CORS.AllowedOrigins),
		cfg,
	)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router.Setup(),
	}

	go func() {
		log.WithField("addr", srv.Addr).Info("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("failed to start server")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Info("received shutdown signal")

	stopEvents()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("server shutdown incomplete")
	}
	_ = rdb.Close()
	log.Info("server shutdown complete")
}

func configPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "config.yaml"
}
