package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/qs3c/vipgate_server/config"
	"github.com/qs3c/vipgate_server/internal/bot"
	"github.com/qs3c/vipgate_server/internal/database"
	"github.com/qs3c/vipgate_server/internal/gateway"
	"github.com/qs3c/vipgate_server/internal/model"
	"github.com/qs3c/vipgate_server/internal/pkg/cron"
	"github.com/qs3c/vipgate_server/internal/pkg/logging"
	"github.com/qs3c/vipgate_server/internal/pkg/pubsub"
	"github.com/qs3c/vipgate_server/internal/pkg/queue"
	"github.com/qs3c/vipgate_server/internal/pkg/session"
	"github.com/qs3c/vipgate_server/internal/platform/telegram"
	"github.com/qs3c/vipgate_server/internal/repository"
	"github.com/qs3c/vipgate_server/internal/service"
)

func main() {
	log := logging.Component("worker")

	// 加载配置
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load config")
	}
	logging.Init(cfg.Log.Level, cfg.Log.Format)

	// 初始化数据库
	db, err := database.NewMySQL(&cfg.Database)
	if err != nil {
		log.WithError(err).Fatal("failed to connect database")
	}
	log.Info("database connected")

	// 初始化 Redis
	rdb, err := database.NewRedis(&cfg.Redis)
	if err != nil {
		log.WithError(err).Fatal("failed to connect redis")
	}
	log.Info("redis connected")

	commands := queue.NewQueue(rdb, cfg.Queue.CommandQueue)
	sessions := session.NewStore(rdb, cfg.Bot.SessionTTL)
	gw := gateway.NewPushinPay(cfg.Payment.GatewayBaseURL, cfg.Payment.HTTPTimeout)
	factory := telegram.NewFactory(telegram.WithLogger(logging.Component("telegram")))

	// 初始化 Repository
	tenantRepo := repository.NewTenantRepository(db)
	botRepo := repository.NewBotRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	offerRepo := repository.NewOfferRepository(db)
	attrRepo := repository.NewAttributionRepository(db)

	// 上次进程留下的运行标记不可信
	if n, err := botRepo.ResetRunning(); err != nil {
		log.WithError(err).Warn("failed to reset running flags")
	} else if n > 0 {
		log.WithField("bots", n).Info("cleared stale running flags")
	}

	// 初始化 Service
	offerService := service.NewOfferService(offerRepo)
	paymentService := service.NewPaymentService(paymentRepo, tenantRepo, attrRepo, gw, cfg.Payment)
	fulfillmentService := service.NewFulfillmentService(botRepo, paymentRepo, offerRepo, attrRepo, service.FactoryProvider{Factory: factory}, cfg)

	events := pubsub.NewPublisher(rdb)
	fulfillmentService.SetPublisher(events)

	dispatcher := bot.NewDispatcher(botRepo, attrRepo, sessions, offerService, paymentService, fulfillmentService, cfg)
	supervisor := bot.NewSupervisor(factory, dispatcher, botRepo, cfg.Bot)
	supervisor.SetPublisher(events)

	// 创建 context 用于优雅关闭
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("received shutdown signal")
		cancel()
	}()

	// 启动所有已启用的机器人
	active, err := botRepo.ListActive()
	if err != nil {
		log.WithError(err).Fatal("failed to list active bots")
	}
	bots := make([]*model.Bot, 0, len(active))
	for i := range active {
		bots = append(bots, &active[i])
	}
	results := supervisor.StartAll(ctx, bots)
	started := 0
	for _, r := range results {
		if r == bot.Started {
			started++
		}
	}
	log.WithFields(logging.Fields{"active": len(bots), "started": started}).Info("initial start finished")

	cronService := cron.NewService(supervisor, paymentService, cfg.Bot.ReconcileInterval, cfg.Payment.SweepInterval)
	cronService.Start()

	workers := cfg.Queue.MaxWorkers
	if workers <= 0 {
		workers = 1
	}
	log.WithField("max_workers", workers).Info("worker started")

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			consume(ctx, workerID, commands, supervisor)
		}(i)
	}

	// 等待 context 取消
	<-ctx.Done()
	wg.Wait()
	cronService.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Bot.StopTimeout+5*time.Second)
	defer shutdownCancel()
	supervisor.Shutdown(shutdownCtx)
	if n, err := botRepo.ResetRunning(); err == nil && n > 0 {
		log.WithField("bots", n).Info("cleared running flags on exit")
	}
	_ = rdb.Close()
	log.Info("worker shutdown complete")
}

// consume 从队列取启停指令交给 supervisor
func consume(ctx context.Context, workerID int, commands *queue.Queue, supervisor *bot.Supervisor) {
	log := logging.Component("worker").WithField("worker_id", workerID)

	for {
		select {
		case <-ctx.Done():
			log.Info("consumer shutting down")
			return
		default:
		}

		cmd, err := commands.Pop(ctx, 5*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.WithError(err).Warn("failed to pop command")
			time.Sleep(time.Second)
			continue
		}
		if cmd == nil {
			continue // 超时，继续等待
		}

		if err := supervisor.HandleCommand(ctx, cmd); err != nil {
			log.WithError(err).WithField("command_id", cmd.ID).Error("command failed")
		}
	}
}
