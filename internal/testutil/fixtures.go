package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/qs3c/vipgate_server/internal/model"
)

var seq int64

func next() int64 {
	return atomic.AddInt64(&seq, 1)
}

// Money 测试用金额
func Money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// TestTenant 创建测试租户
func TestTenant(t *testing.T, db *gorm.DB, opts ...func(*model.Tenant)) *model.Tenant {
	t.Helper()

	tenant := &model.Tenant{
		Name:         fmt.Sprintf("tenant_%d", next()),
		GatewayToken: "gw-token-test",
	}

	for _, opt := range opts {
		opt(tenant)
	}

	if err := db.Create(tenant).Error; err != nil {
		t.Fatalf("Failed to create test tenant: %v", err)
	}

	return tenant
}

// WithoutGatewayToken 租户未配置网关凭证
func WithoutGatewayToken() func(*model.Tenant) {
	return func(tn *model.Tenant) {
		tn.GatewayToken = ""
	}
}

// TestBot 创建测试机器人
func TestBot(t *testing.T, db *gorm.DB, tenantID int64, opts ...func(*model.Bot)) *model.Bot {
	t.Helper()

	n := next()
	bot := &model.Bot{
		TenantID:    tenantID,
		Token:       fmt.Sprintf("%d:test-token", 100000+n),
		Name:        fmt.Sprintf("Test Bot %d", n),
		Handle:      fmt.Sprintf("test_%d_bot", n),
		WelcomeText: "Bem-vindo!",
		VIPChatID:   "-1001234567890",
		AuditChatID: "-1009876543210",
		IsActive:    true,
		Plans: datatypes.JSONSlice[model.Plan]{
			{Name: "Basic", Price: Money("10.00"), DurationDays: 7},
			{Name: "Premium", Price: Money("20.00"), DurationDays: 30},
			{Name: "Elite", Price: Money("50.00"), DurationDays: 365},
		},
	}

	for _, opt := range opts {
		opt(bot)
	}

	if err := db.Create(bot).Error; err != nil {
		t.Fatalf("Failed to create test bot: %v", err)
	}

	return bot
}

// WithPlans 设置套餐
func WithPlans(plans ...model.Plan) func(*model.Bot) {
	return func(b *model.Bot) {
		b.Plans = plans
	}
}

// WithoutDestination 不配置 VIP 频道
func WithoutDestination() func(*model.Bot) {
	return func(b *model.Bot) {
		b.VIPChatID = ""
	}
}

// WithoutAuditChannel 不配置审计频道
func WithoutAuditChannel() func(*model.Bot) {
	return func(b *model.Bot) {
		b.AuditChatID = ""
	}
}

// WithInactive 设置为未启用
func WithInactive() func(*model.Bot) {
	return func(b *model.Bot) {
		b.IsActive = false
	}
}

// WithWelcomeMedia 设置欢迎媒体
func WithWelcomeMedia(kind, ref, audio string) func(*model.Bot) {
	return func(b *model.Bot) {
		b.WelcomeMediaKind = kind
		b.WelcomeMediaRef = ref
		b.WelcomeAudioRef = audio
	}
}

// TestOffer 创建测试附加优惠（默认启用的 order bump）
func TestOffer(t *testing.T, db *gorm.DB, botID int64, price string, opts ...func(*model.Offer)) *model.Offer {
	t.Helper()

	offer := &model.Offer{
		BotID:        botID,
		Type:         model.OfferTypeOrderBump,
		Name:         "Pack Extra",
		Message:      "Leve também o pack extra!",
		AcceptLabel:  "✅ Quero",
		DeclineLabel: "❌ Não, obrigado",
		Price:        Money(price),
		IsActive:     true,
	}

	for _, opt := range opts {
		opt(offer)
	}

	if err := db.Create(offer).Error; err != nil {
		t.Fatalf("Failed to create test offer: %v", err)
	}

	return offer
}

// WithOfferType 设置优惠类型
func WithOfferType(offerType string) func(*model.Offer) {
	return func(o *model.Offer) {
		o.Type = offerType
	}
}

// WithOfferInactive 设置为未启用
func WithOfferInactive() func(*model.Offer) {
	return func(o *model.Offer) {
		o.IsActive = false
	}
}

// WithPosition 设置排序
func WithPosition(pos int) func(*model.Offer) {
	return func(o *model.Offer) {
		o.Position = pos
	}
}

// TestPayment 创建测试支付
func TestPayment(t *testing.T, db *gorm.DB, bot *model.Bot, buyerID int64, amount string, opts ...func(*model.Payment)) *model.Payment {
	t.Helper()

	payment := &model.Payment{
		Reference: fmt.Sprintf("ref-%d", next()),
		BotID:     bot.ID,
		TenantID:  bot.TenantID,
		Amount:    Money(amount),
		Status:    model.PaymentStatusPending,
		BuyerID:   buyerID,
		BuyerName: "Test Buyer",
		PlanName:  "Basic",
		PixCode:   "00020126pix",
	}

	for _, opt := range opts {
		opt(payment)
	}

	if err := db.Create(payment).Error; err != nil {
		t.Fatalf("Failed to create test payment: %v", err)
	}

	return payment
}

// WithReference 设置网关参考号
func WithReference(ref string) func(*model.Payment) {
	return func(p *model.Payment) {
		p.Reference = ref
	}
}

// WithPaymentStatus 设置支付状态
func WithPaymentStatus(status string) func(*model.Payment) {
	return func(p *model.Payment) {
		p.Status = status
	}
}

// WithPlan 设置套餐名
func WithPlan(name string) func(*model.Payment) {
	return func(p *model.Payment) {
		p.PlanName = name
	}
}

// WithEmail 设置登录邮箱
func WithEmail(email string) func(*model.Tenant) {
	return func(tn *model.Tenant) {
		tn.Email = &email
	}
}
