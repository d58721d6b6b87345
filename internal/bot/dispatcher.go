package bot

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/qs3c/vipgate_server/config"
	"github.com/qs3c/vipgate_server/internal/gateway"
	"github.com/qs3c/vipgate_server/internal/model"
	"github.com/qs3c/vipgate_server/internal/pkg/logging"
	"github.com/qs3c/vipgate_server/internal/pkg/session"
	"github.com/qs3c/vipgate_server/internal/platform"
	"github.com/qs3c/vipgate_server/internal/repository"
	"github.com/qs3c/vipgate_server/internal/service"
)

const defaultChargeTimeout = 45 * time.Second

// Dispatcher 把一条入站事件路由到欢迎、选套餐、附加优惠、查单等流程。
// 自身不保存会话状态，机器人配置每次事件都重新读取
type Dispatcher struct {
	botRepo     *repository.BotRepository
	attrRepo    *repository.AttributionRepository
	sessions    *session.Store
	offers      *service.OfferService
	payments    *service.PaymentService
	fulfillment *service.FulfillmentService
	cfg         *config.Config
	now         func() time.Time
}

func NewDispatcher(
	botRepo *repository.BotRepository,
	attrRepo *repository.AttributionRepository,
	sessions *session.Store,
	offers *service.OfferService,
	payments *service.PaymentService,
	fulfillment *service.FulfillmentService,
	cfg *config.Config,
) *Dispatcher {
	return &Dispatcher{
		botRepo:     botRepo,
		attrRepo:    attrRepo,
		sessions:    sessions,
		offers:      offers,
		payments:    payments,
		fulfillment: fulfillment,
		cfg:         cfg,
		now:         time.Now,
	}
}

// conversation 单条事件的处理上下文
type conversation struct {
	client platform.Client
	bot    *model.Bot
	buyer  platform.Buyer
	chatID string
	log    *logrus.Entry
}

// HandleEvent 处理一条事件。任何错误或 panic 都只影响这一条事件
func (d *Dispatcher) HandleEvent(ctx context.Context, client platform.Client, botID int64, ev platform.Event) {
	log := logging.Component("dispatcher").WithFields(logging.Fields{
		"bot_id":   botID,
		"buyer_id": ev.Buyer.ID,
	})

	defer func() {
		if r := recover(); r != nil {
			log.WithFields(logging.Fields{
				"panic": r,
				"stack": string(debug.Stack()),
			}).Error("event handler panicked")
		}
	}()

	if ev.Kind == platform.EventCallback && ev.CallbackID != "" {
		if err := client.AnswerCallback(ctx, ev.CallbackID); err != nil {
			log.WithError(err).Debug("answer callback failed")
		}
	}

	bot, err := d.botRepo.GetByID(botID)
	if err != nil {
		log.WithError(err).Error("bot lookup failed")
		return
	}

	conv := &conversation{
		client: client,
		bot:    bot,
		buyer:  ev.Buyer,
		chatID: ev.ChatID,
		log:    log,
	}
	if conv.chatID == "" {
		conv.chatID = platform.ChatID(ev.Buyer.ID)
	}

	switch ev.Kind {
	case platform.EventMessage:
		if ev.IsCommand("start") {
			d.onGreeting(ctx, conv, ev.Param)
			return
		}
		d.sendText(ctx, conv, msgUseStart, nil)
	case platform.EventCallback:
		d.onCallback(ctx, conv, ev.CallbackData)
	}
}

func (d *Dispatcher) onCallback(ctx context.Context, conv *conversation, data string) {
	action, err := DecodeCallback(data)
	if err != nil {
		conv.log.WithError(err).Warn("rejected callback")
		d.sendText(ctx, conv, msgInvalidAction, startKeyboard())
		return
	}

	switch a := action.(type) {
	case Start:
		d.onGreeting(ctx, conv, "")
	case Pix:
		d.onPlanSelected(ctx, conv, a)
	case BumpAccept:
		d.onUpsellAnswer(ctx, conv, a.OfferID, true)
	case BumpDecline:
		d.onUpsellAnswer(ctx, conv, a.OfferID, false)
	case Check:
		d.onCheck(ctx, conv, a.PaymentID)
	}
}

// onGreeting 欢迎流程：记录推广码与首次接触时间，发送欢迎媒体和套餐按钮
func (d *Dispatcher) onGreeting(ctx context.Context, conv *conversation, param string) {
	d.recordContact(ctx, conv, param)

	bot := conv.bot
	if bot.WelcomeMediaKind != model.MediaKindNone && bot.WelcomeMediaRef != "" {
		d.sendMedia(ctx, conv, platform.Media{Kind: bot.WelcomeMediaKind, Ref: bot.WelcomeMediaRef}, "")
	}
	if bot.WelcomeAudioRef != "" {
		d.sendMedia(ctx, conv, platform.Media{Kind: platform.MediaAudio, Ref: bot.WelcomeAudioRef}, "")
	}

	text := bot.WelcomeText
	if text == "" {
		text = msgDefaultWelcome
	}

	plans := d.plansFor(bot)
	kb := make(platform.Keyboard, 0, len(plans))
	for i, plan := range plans {
		kb = append(kb, []platform.Button{{
			Text: planButton(plan.Name, plan.Price),
			Data: Pix{Amount: plan.Price, BotID: bot.ID, PlanIndex: i}.Encode(),
		}})
	}

	d.sendText(ctx, conv, text, kb)
}

// recordContact 推广码在一个会话周期内只记录一次，重新 /start 会清掉未完成的选择
func (d *Dispatcher) recordContact(ctx context.Context, conv *conversation, param string) {
	existing, err := d.sessions.Get(ctx, conv.bot.ID, conv.buyer.ID)
	if err != nil {
		conv.log.WithError(err).Warn("session unavailable, greeting without attribution")
		return
	}

	var attributionID *int64
	if param != "" && (existing == nil || existing.AttributionID == nil) {
		code := &model.AttributionCode{
			BotID:         conv.bot.ID,
			BuyerID:       conv.buyer.ID,
			BuyerUsername: conv.buyer.Username,
			FirstName:     conv.buyer.FirstName,
			LastName:      conv.buyer.LastName,
			Code:          param,
		}
		if err := d.attrRepo.Create(code); err != nil {
			conv.log.WithError(err).Warn("failed to store attribution code")
		} else {
			attributionID = &code.ID
		}
	}

	now := d.now()
	_, err = d.sessions.Update(ctx, conv.bot.ID, conv.buyer.ID, func(c *session.Conversation) {
		if c.FirstContactAt.IsZero() {
			c.FirstContactAt = now
		}
		if c.AttributionID == nil && attributionID != nil {
			c.AttributionID = attributionID
		}
		c.Pending = nil
	})
	if err != nil {
		conv.log.WithError(err).Warn("failed to update session")
	}
}

// onPlanSelected 选套餐：有启用的 order bump 时先展示优惠，否则直接生成 PIX
func (d *Dispatcher) onPlanSelected(ctx context.Context, conv *conversation, a Pix) {
	plan, ok := d.resolvePlan(conv.bot, a.PlanIndex)
	if !ok || a.BotID != conv.bot.ID || !plan.Price.Equal(a.Amount) {
		conv.log.WithFields(logging.Fields{
			"plan_index": a.PlanIndex,
			"amount":     a.Amount.String(),
			"payload_id": a.BotID,
		}).Warn("stale plan button")
		d.sendText(ctx, conv, msgStaleButton, startKeyboard())
		return
	}

	offer, err := d.offers.GetActiveUpsell(conv.bot.ID)
	if err != nil {
		conv.log.WithError(err).Warn("upsell lookup failed, skipping offer")
	}
	if offer == nil {
		d.charge(ctx, conv, a.PlanIndex, plan, nil)
		return
	}

	_, err = d.sessions.Update(ctx, conv.bot.ID, conv.buyer.ID, func(c *session.Conversation) {
		c.Pending = &session.PendingSelection{
			PlanIndex: a.PlanIndex,
			OfferID:   offer.ID,
			CreatedAt: d.now(),
		}
	})
	if err != nil {
		conv.log.WithError(err).Warn("cannot stash selection, charging plan only")
		d.charge(ctx, conv, a.PlanIndex, plan, nil)
		return
	}

	d.sendOffer(ctx, conv, offer)
}

func (d *Dispatcher) sendOffer(ctx context.Context, conv *conversation, offer *model.Offer) {
	if offer.MediaKind != model.MediaKindNone && offer.MediaRef != "" {
		d.sendMedia(ctx, conv, platform.Media{Kind: offer.MediaKind, Ref: offer.MediaRef}, "")
	}

	text := offer.Message
	if text == "" {
		text = offer.Name
	}
	text += "\n\n" + fmt.Sprintf(msgOfferPrice, offer.Price.StringFixed(2))

	kb := platform.Keyboard{{
		{Text: labelOr(offer.AcceptLabel, btnDefaultAccept), Data: BumpAccept{OfferID: offer.ID}.Encode()},
		{Text: labelOr(offer.DeclineLabel, btnDefaultDecline), Data: BumpDecline{OfferID: offer.ID}.Encode()},
	}}
	d.sendText(ctx, conv, text, kb)
}

// onUpsellAnswer 接受或拒绝附加优惠，两者都收敛到同一个收款步骤
func (d *Dispatcher) onUpsellAnswer(ctx context.Context, conv *conversation, offerID int64, accepted bool) {
	pending, err := d.sessions.TakePending(ctx, conv.bot.ID, conv.buyer.ID, offerID)
	if err != nil {
		if !errors.Is(err, session.ErrNoPendingSelection) {
			conv.log.WithError(err).Warn("session unavailable")
		}
		d.sendText(ctx, conv, msgSelectionGone, startKeyboard())
		return
	}

	plan, ok := d.resolvePlan(conv.bot, pending.PlanIndex)
	if !ok {
		d.sendText(ctx, conv, msgStaleButton, startKeyboard())
		return
	}

	var offer *model.Offer
	if accepted {
		offer, err = d.offers.GetForBot(conv.bot.ID, offerID)
		if err != nil {
			conv.log.WithError(err).WithField("offer_id", offerID).Warn("accepted offer unavailable, charging plan only")
			offer = nil
		}
	}

	d.charge(ctx, conv, pending.PlanIndex, plan, offer)
}

// charge 生成 PIX 并发出付款信息
func (d *Dispatcher) charge(ctx context.Context, conv *conversation, planIndex int, plan model.Plan, offer *model.Offer) {
	ctx, cancel := d.detach(ctx)
	defer cancel()

	amount := plan.Price
	if offer != nil {
		amount = amount.Add(offer.Price)
	}

	req := service.ChargeRequest{
		Bot:       conv.bot,
		Buyer:     conv.buyer,
		PlanIndex: planIndex,
		PlanName:  plan.Name,
		Amount:    amount,
	}
	if s, err := d.sessions.Get(ctx, conv.bot.ID, conv.buyer.ID); err == nil && s != nil {
		req.AttributionID = s.AttributionID
		if !s.FirstContactAt.IsZero() {
			first := s.FirstContactAt
			req.FirstContactAt = &first
		}
	}

	payment, err := d.payments.CreateCharge(ctx, req)
	if err != nil {
		var gwErr *service.GatewayError
		switch {
		case errors.Is(err, service.ErrGatewayUnavailable):
			d.sendText(ctx, conv, msgGatewayMissing, startKeyboard())
		case errors.As(err, &gwErr):
			d.sendText(ctx, conv, fmt.Sprintf(msgGatewayError, gwErr.Message), startKeyboard())
		default:
			conv.log.WithError(err).Error("charge creation failed")
			d.sendText(ctx, conv, msgGenericError, startKeyboard())
		}
		return
	}

	if offer != nil {
		if _, _, err := d.offers.RecordAcceptance(offer.ID, payment.ID, offer.Price); err != nil {
			conv.log.WithError(err).WithField("payment_id", payment.ID).Error("failed to record offer acceptance")
		}
	}

	charge := gateway.Charge{QRCodeBase64: payment.QRCodeBase64}
	if img, err := charge.QRImage(); err == nil {
		d.sendMedia(ctx, conv, platform.Media{Kind: platform.MediaImage, Data: img, Filename: "pix.png"}, "")
	}

	text := fmt.Sprintf(msgPixCreated, plan.Name, amount.StringFixed(2), payment.PixCode)
	d.sendText(ctx, conv, text, pendingKeyboard(payment.ID))
}

// onCheck 买家手动查单。只有完成 pending->approved 的一方发货
func (d *Dispatcher) onCheck(ctx context.Context, conv *conversation, paymentID int64) {
	ctx, cancel := d.detach(ctx)
	defer cancel()

	payment, err := d.payments.Get(conv.bot.ID, paymentID)
	if err != nil || payment.BuyerID != conv.buyer.ID {
		if err != nil && !errors.Is(err, service.ErrPaymentNotFound) {
			conv.log.WithError(err).Error("payment lookup failed")
		}
		d.sendText(ctx, conv, msgPaymentMissing, startKeyboard())
		return
	}

	res, err := d.payments.Verify(ctx, payment)
	if err != nil {
		conv.log.WithError(err).WithField("payment_id", paymentID).Error("payment verification failed")
		d.sendText(ctx, conv, msgGenericError, pendingKeyboard(paymentID))
		return
	}

	switch {
	case res.Transitioned:
		d.fulfillment.FulfillWith(ctx, conv.client, conv.bot, res.Payment)
	case res.Settled:
		d.sendText(ctx, conv, msgAlreadyPaid, startKeyboard())
	case res.Payment.Status == model.PaymentStatusFailed:
		d.sendText(ctx, conv, msgPaymentFailed, startKeyboard())
	default:
		d.sendText(ctx, conv, msgPaymentPending, pendingKeyboard(paymentID))
	}
}

// detach 收款和发货不随机器人停止而中断，只受自身超时约束
func (d *Dispatcher) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := d.cfg.Payment.ChargeTimeout
	if timeout <= 0 {
		timeout = defaultChargeTimeout
	}
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}

// plansFor 机器人未配置套餐时使用默认套餐
func (d *Dispatcher) plansFor(bot *model.Bot) []model.Plan {
	if len(bot.Plans) > 0 {
		return bot.Plans
	}
	plans := make([]model.Plan, 0, len(d.cfg.Bot.DefaultPlans))
	for _, p := range d.cfg.Bot.DefaultPlans {
		plans = append(plans, model.Plan{Name: p.Name, Price: p.Price, DurationDays: p.DurationDays})
	}
	return plans
}

func (d *Dispatcher) resolvePlan(bot *model.Bot, index int) (model.Plan, bool) {
	plans := d.plansFor(bot)
	if index < 0 || index >= len(plans) {
		return model.Plan{}, false
	}
	return plans[index], true
}

func (d *Dispatcher) sendText(ctx context.Context, conv *conversation, text string, kb platform.Keyboard) {
	err := platform.SendWithRetry(ctx, d.cfg.Bot.SendRetries, d.cfg.Bot.SendRetryDelay, func(ctx context.Context) error {
		return conv.client.SendText(ctx, conv.chatID, text, kb)
	})
	if err != nil {
		conv.log.WithError(err).Warn("send message failed")
	}
}

// sendMedia 媒体是可选步骤，重试用尽后跳过
func (d *Dispatcher) sendMedia(ctx context.Context, conv *conversation, media platform.Media, caption string) {
	err := platform.SendWithRetry(ctx, d.cfg.Bot.SendRetries, d.cfg.Bot.SendRetryDelay, func(ctx context.Context) error {
		return conv.client.SendMedia(ctx, conv.chatID, media, caption)
	})
	if err != nil {
		conv.log.WithError(err).WithField("media_kind", media.Kind).Warn("media send failed, skipping")
	}
}
