package main

import (
	"flag"
	"os"
	"time"

	"github.com/qs3c/vipgate_server/config"
	"github.com/qs3c/vipgate_server/internal/database"
	"github.com/qs3c/vipgate_server/internal/gateway"
	"github.com/qs3c/vipgate_server/internal/pkg/logging"
	"github.com/qs3c/vipgate_server/internal/repository"
	"github.com/qs3c/vipgate_server/internal/service"
)

var (
	dryRun       = flag.Bool("dry-run", true, "Dry run mode, only list expired payments")
	listLimit    = flag.Int("limit", 100, "Max expired payments to list in dry-run mode")
	resetRunning = flag.Bool("reset-running", false, "Clear is_running flags left by a crashed worker")
)

func main() {
	flag.Parse()

	log := logging.Component("cleanup")

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
	log.WithField("dry_run", *dryRun).Info("starting cleanup task")

	db, err := database.NewMySQL(&cfg.Database)
	if err != nil {
		log.WithError(err).Fatal("failed to connect database")
	}

	paymentRepo := repository.NewPaymentRepository(db)
	now := time.Now()

	// 1. 过期收款
	expired, err := paymentRepo.ListExpiredPending(now, *listLimit)
	if err != nil {
		log.WithError(err).Fatal("failed to list expired payments")
	}
	for _, p := range expired {
		log.WithFields(logging.Fields{
			"payment_id": p.ID,
			"bot_id":     p.BotID,
			"reference":  p.Reference,
			"amount":     p.Amount.StringFixed(2),
			"expires_at": p.ExpiresAt,
		}).Info("expired pending payment")
	}

	if !*dryRun {
		payments := service.NewPaymentService(paymentRepo, repository.NewTenantRepository(db), repository.NewAttributionRepository(db),
			gateway.NewPushinPay(cfg.Payment.GatewayBaseURL, cfg.Payment.HTTPTimeout), cfg.Payment)
		n, err := payments.ExpireStale(now)
		if err != nil {
			log.WithError(err).Fatal("failed to expire payments")
		}
		log.WithField("expired", n).Info("expired stale payments")
	}

	// 2. 残留运行标记
	if *resetRunning {
		if *dryRun {
			log.Info("dry-run: skipping running flag reset")
		} else {
			n, err := repository.NewBotRepository(db).ResetRunning()
			if err != nil {
				log.WithError(err).Fatal("failed to reset running flags")
			}
			log.WithField("bots", n).Info("cleared running flags")
		}
	}

	log.Info("cleanup finished")
}
