package service

import (
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/vipgate_server/config"
	"github.com/qs3c/vipgate_server/internal/gateway/gatewaytest"
	"github.com/qs3c/vipgate_server/internal/platform/platformtest"
	"github.com/qs3c/vipgate_server/internal/repository"
	"github.com/qs3c/vipgate_server/internal/testutil"
)

func testConfig() *config.Config {
	return &config.Config{
		Bot: config.BotConfig{
			SendRetries:    1,
			SendRetryDelay: time.Millisecond,
		},
		Payment: config.PaymentConfig{
			WebhookURL:  "https://example.com/api/v1/webhooks/pushinpay",
			ChargeTTL:   24 * time.Hour,
			PlatformFee: testutil.Money("0.70"),
		},
	}
}

type fixture struct {
	db          *gorm.DB
	gw          *gatewaytest.Gateway
	platform    *platformtest.Factory
	payments    *PaymentService
	offers      *OfferService
	fulfillment *FulfillmentService
	paymentRepo *repository.PaymentRepository
	offerRepo   *repository.OfferRepository
	attrRepo    *repository.AttributionRepository
}

func setupServices(t *testing.T) (*fixture, func()) {
	t.Helper()

	db := testutil.SetupTestDB(t)
	cfg := testConfig()

	botRepo := repository.NewBotRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	tenantRepo := repository.NewTenantRepository(db)
	offerRepo := repository.NewOfferRepository(db)
	attrRepo := repository.NewAttributionRepository(db)

	gw := gatewaytest.New()
	factory := platformtest.NewFactory()

	f := &fixture{
		db:          db,
		gw:          gw,
		platform:    factory,
		payments:    NewPaymentService(paymentRepo, tenantRepo, attrRepo, gw, cfg.Payment),
		offers:      NewOfferService(offerRepo),
		fulfillment: NewFulfillmentService(botRepo, paymentRepo, offerRepo, attrRepo, FactoryProvider{Factory: factory.New}, cfg),
		paymentRepo: paymentRepo,
		offerRepo:   offerRepo,
		attrRepo:    attrRepo,
	}

	cleanup := func() {
		testutil.CleanupTestDB(t, db)
	}

	return f, cleanup
}
