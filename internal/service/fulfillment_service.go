package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/qs3c/vipgate_server/config"
	"github.com/qs3c/vipgate_server/internal/model"
	"github.com/qs3c/vipgate_server/internal/pkg/logging"
	"github.com/qs3c/vipgate_server/internal/pkg/pubsub"
	"github.com/qs3c/vipgate_server/internal/platform"
	"github.com/qs3c/vipgate_server/internal/repository"
)

// 审计分类
const (
	CategoryNormal   = "normal"
	CategoryPremium  = "premium"
	CategoryDownsell = "downsell"
	CategoryMailing  = "mailing"
	CategoryBundle   = "bundle"
)

const (
	msgAccessGranted = "🎊 PAGAMENTO APROVADO!\n\n👑 Clique no link abaixo para entrar no grupo VIP:\n\n%s\n\n🚀 Aproveite o conteúdo exclusivo!"
	msgApproved      = "✅ PAGAMENTO APROVADO!\n\n💰 Valor: R$ %s\n\nObrigado pela compra! Em breve você receberá seu acesso."
	msgGrantFailed   = "✅ PAGAMENTO APROVADO!\n\n💰 Valor: R$ %s\n\n⚠️ Não conseguimos liberar seu acesso automaticamente. Fale com o suporte informando o código %s."
)

// ClientProvider 为机器人提供可发消息的会话
type ClientProvider interface {
	ClientFor(bot *model.Bot) (platform.Client, error)
}

// FactoryProvider 只用令牌新建会话，供不持有运行中机器人的进程使用
type FactoryProvider struct {
	Factory platform.Factory
}

func (p FactoryProvider) ClientFor(bot *model.Bot) (platform.Client, error) {
	return p.Factory(bot.Token)
}

// AuditDetails 审计频道的一条成交记录
type AuditDetails struct {
	BotName         string
	BotHandle       string
	BuyerID         int64
	BuyerUsername   string
	BuyerName       string
	PayerName       string
	PlanName        string
	Category        string
	Gross           decimal.Decimal
	Fee             decimal.Decimal
	Latency         time.Duration
	AttributionCode string
	Reference       string
	HasDestination  bool
	AccessGranted   bool
}

func (d AuditDetails) Net() decimal.Decimal {
	return d.Gross.Sub(d.Fee)
}

// FulfillmentResult 一次发货的结果
type FulfillmentResult struct {
	AccessGranted bool
	BuyerNotified bool
	Audited       bool
	Err           error
}

type FulfillmentService struct {
	botRepo         *repository.BotRepository
	paymentRepo     *repository.PaymentRepository
	offerRepo       *repository.OfferRepository
	attributionRepo *repository.AttributionRepository
	provider        ClientProvider
	events          *pubsub.Publisher
	cfg             *config.Config
	now             func() time.Time
}

func NewFulfillmentService(
	botRepo *repository.BotRepository,
	paymentRepo *repository.PaymentRepository,
	offerRepo *repository.OfferRepository,
	attributionRepo *repository.AttributionRepository,
	provider ClientProvider,
	cfg *config.Config,
) *FulfillmentService {
	return &FulfillmentService{
		botRepo:         botRepo,
		paymentRepo:     paymentRepo,
		offerRepo:       offerRepo,
		attributionRepo: attributionRepo,
		provider:        provider,
		cfg:             cfg,
		now:             time.Now,
	}
}

// SetPublisher 发货完成后向运营后台推送 payment_approved
func (s *FulfillmentService) SetPublisher(p *pubsub.Publisher) {
	s.events = p
}

// Fulfill 为刚完成 pending->approved 的支付发货，会话由 provider 提供
func (s *FulfillmentService) Fulfill(ctx context.Context, payment *model.Payment) *FulfillmentResult {
	bot, err := s.botRepo.GetByID(payment.BotID)
	if err != nil {
		s.logFor(payment).WithError(err).Error("fulfillment: bot lookup failed")
		return &FulfillmentResult{Err: ErrBotNotFound}
	}

	client, err := s.provider.ClientFor(bot)
	if err != nil {
		s.logFor(payment).WithError(err).Error("fulfillment: no platform session")
		return &FulfillmentResult{Err: err}
	}

	return s.FulfillWith(ctx, client, bot, payment)
}

// FulfillWith 使用已有会话发货：发放邀请、给买家恰好一条消息、写审计
func (s *FulfillmentService) FulfillWith(ctx context.Context, client platform.Client, bot *model.Bot, payment *model.Payment) *FulfillmentResult {
	log := s.logFor(payment)
	result := &FulfillmentResult{}

	granted, err := s.GrantAccess(ctx, client, payment.BuyerID, bot.VIPChatID)
	if err != nil {
		log.WithError(err).Error("failed to grant access")
	}
	result.AccessGranted = granted
	if err := s.paymentRepo.SetAccessGranted(payment.ID, granted); err != nil {
		log.WithError(err).Warn("failed to record access outcome")
	}

	if granted {
		result.BuyerNotified = true
	} else {
		text := fmt.Sprintf(msgApproved, payment.Amount.StringFixed(2))
		if bot.HasDestination() {
			text = fmt.Sprintf(msgGrantFailed, payment.Amount.StringFixed(2), payment.Reference)
		}
		if err := s.send(ctx, client, platform.ChatID(payment.BuyerID), text); err != nil {
			log.WithError(err).Error("failed to notify buyer")
		} else {
			result.BuyerNotified = true
		}
	}

	details := s.auditDetails(bot, payment, granted)
	if err := s.Notify(ctx, client, bot.AuditChatID, details); err != nil {
		log.WithError(err).Warn("failed to post audit notification")
	} else {
		result.Audited = bot.HasAuditChannel()
	}

	log.WithFields(logging.Fields{
		"access_granted": result.AccessGranted,
		"buyer_notified": result.BuyerNotified,
		"audited":        result.Audited,
	}).Info("payment fulfilled")

	if err := s.events.Publish(ctx, &pubsub.BotEvent{
		Type:      pubsub.EventPaymentApproved,
		TenantID:  payment.TenantID,
		BotID:     payment.BotID,
		PaymentID: payment.ID,
		Amount:    payment.Amount.StringFixed(2),
		Message:   payment.PlanName,
	}); err != nil {
		log.WithError(err).Debug("failed to publish payment event")
	}

	return result
}

// GrantAccess 生成一次性邀请链接并私信给买家。未配置频道时返回 false 且不做任何调用
func (s *FulfillmentService) GrantAccess(ctx context.Context, client platform.Client, buyerID int64, destinationID string) (bool, error) {
	if destinationID == "" {
		return false, nil
	}

	link, err := client.CreateInviteLink(ctx, destinationID)
	if err != nil {
		return false, fmt.Errorf("create invite link: %w", err)
	}

	if err := s.send(ctx, client, platform.ChatID(buyerID), fmt.Sprintf(msgAccessGranted, link)); err != nil {
		return false, fmt.Errorf("deliver invite link: %w", err)
	}
	return true, nil
}

// Notify 发送审计记录，未配置审计频道时静默跳过
func (s *FulfillmentService) Notify(ctx context.Context, client platform.Client, auditChannelID string, details AuditDetails) error {
	if auditChannelID == "" {
		logging.Component("fulfillment").WithField("reference", details.Reference).Warn("audit channel not configured, skipping")
		return nil
	}
	return s.send(ctx, client, auditChannelID, FormatAudit(details))
}

func (s *FulfillmentService) send(ctx context.Context, client platform.Client, chatID, text string) error {
	return platform.SendWithRetry(ctx, s.cfg.Bot.SendRetries, s.cfg.Bot.SendRetryDelay, func(ctx context.Context) error {
		return client.SendText(ctx, chatID, text, nil)
	})
}

func (s *FulfillmentService) auditDetails(bot *model.Bot, payment *model.Payment, granted bool) AuditDetails {
	details := AuditDetails{
		BotName:        bot.Name,
		BotHandle:      bot.Handle,
		BuyerID:        payment.BuyerID,
		BuyerUsername:  payment.BuyerUsername,
		BuyerName:      payment.BuyerName,
		PayerName:      payment.PayerName,
		PlanName:       payment.PlanName,
		Category:       Category(payment.PlanName),
		Gross:          payment.Amount,
		Fee:            s.cfg.Payment.PlatformFee,
		Reference:      payment.Reference,
		HasDestination: bot.HasDestination(),
		AccessGranted:  granted,
	}

	if acceptances, err := s.offerRepo.ListAcceptancesByPayment(payment.ID); err == nil && len(acceptances) > 0 {
		details.Category = CategoryBundle
	}

	if payment.AttributionID != nil {
		if code, err := s.attributionRepo.GetByID(*payment.AttributionID); err == nil {
			details.AttributionCode = code.Code
		}
	}

	start := payment.CreatedAt
	if payment.FirstContactAt != nil {
		start = *payment.FirstContactAt
	}
	end := s.now()
	if payment.PaidAt != nil {
		end = *payment.PaidAt
	}
	if !start.IsZero() && end.After(start) {
		details.Latency = end.Sub(start)
	}

	return details
}

func (s *FulfillmentService) logFor(payment *model.Payment) *logrus.Entry {
	return logging.Component("fulfillment").WithFields(logging.Fields{
		"payment_id": payment.ID,
		"bot_id":     payment.BotID,
		"buyer_id":   payment.BuyerID,
	})
}

// Category 按套餐名关键字归类
func Category(planName string) string {
	name := strings.ToLower(planName)
	switch {
	case strings.Contains(name, "downsell"):
		return CategoryDownsell
	case strings.Contains(name, "mailing") || strings.Contains(name, "remarketing"):
		return CategoryMailing
	case strings.Contains(name, "bundle") || strings.Contains(name, "combo"):
		return CategoryBundle
	case strings.Contains(name, "premium"):
		return CategoryPremium
	}
	return CategoryNormal
}

// FormatAudit 审计频道消息正文
func FormatAudit(d AuditDetails) string {
	var b strings.Builder

	b.WriteString("🔔 NOVA VENDA APROVADA\n\n")
	fmt.Fprintf(&b, "🤖 Bot: %s", orDash(d.BotName))
	if d.BotHandle != "" {
		fmt.Fprintf(&b, " (@%s)", d.BotHandle)
	}
	b.WriteString("\n")

	username := "sem_username"
	if d.BuyerUsername != "" {
		username = "@" + d.BuyerUsername
	}
	fmt.Fprintf(&b, "👤 Comprador: %s %s (ID: %d)\n", orDash(d.BuyerName), username, d.BuyerID)
	if d.PayerName != "" {
		fmt.Fprintf(&b, "🪪 Pagador: %s\n", d.PayerName)
	}
	fmt.Fprintf(&b, "📦 Plano: %s\n", orDash(d.PlanName))
	fmt.Fprintf(&b, "🏷️ Categoria: #%s\n", d.Category)
	fmt.Fprintf(&b, "💰 Valor bruto: R$ %s\n", d.Gross.StringFixed(2))
	fmt.Fprintf(&b, "💵 Valor líquido: R$ %s\n", d.Net().StringFixed(2))
	if d.Latency > 0 {
		fmt.Fprintf(&b, "⏱️ Tempo até o pagamento: %s\n", d.Latency.Round(time.Second))
	}
	if d.AttributionCode != "" {
		fmt.Fprintf(&b, "🔗 Código de venda: %s\n", d.AttributionCode)
	}
	fmt.Fprintf(&b, "🧾 Referência: %s\n\n", d.Reference)

	switch {
	case !d.HasDestination:
		b.WriteString("ℹ️ Nenhum grupo VIP configurado")
	case d.AccessGranted:
		b.WriteString("✅ Acesso liberado")
	default:
		b.WriteString("⚠️ Falha ao liberar acesso, verificar manualmente")
	}

	return b.String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
