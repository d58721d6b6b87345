package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/qs3c/vipgate_server/config"
	"github.com/qs3c/vipgate_server/internal/gateway"
	"github.com/qs3c/vipgate_server/internal/model"
	"github.com/qs3c/vipgate_server/internal/pkg/logging"
	"github.com/qs3c/vipgate_server/internal/platform"
	"github.com/qs3c/vipgate_server/internal/repository"
)

var (
	ErrPaymentNotFound    = errors.New("支付记录不存在")
	ErrGatewayUnavailable = errors.New("租户未配置支付网关")
	ErrInvalidAmount      = errors.New("金额必须大于0")
	ErrTenantNotFound     = errors.New("租户不存在")
)

// GatewayError 网关拒绝创建收款，Message 是网关原文
type GatewayError struct {
	Message string
	Err     error
}

func (e *GatewayError) Error() string {
	return e.Message
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// ChargeRequest 创建收款所需的会话信息
type ChargeRequest struct {
	Bot            *model.Bot
	Buyer          platform.Buyer
	PlanIndex      int
	PlanName       string
	Amount         decimal.Decimal
	AttributionID  *int64
	FirstContactAt *time.Time
}

// VerifyResult 一次确认的结果。Transitioned 只在本次调用完成 pending->approved 时为 true，
// 调用方据此决定是否发货
type VerifyResult struct {
	Payment      *model.Payment
	Settled      bool
	Transitioned bool
}

// WebhookEvent 网关回调
type WebhookEvent struct {
	Reference       string
	Status          string
	PayerName       string
	PayerNationalID string
}

type PaymentService struct {
	paymentRepo     *repository.PaymentRepository
	tenantRepo      *repository.TenantRepository
	attributionRepo *repository.AttributionRepository
	gw              gateway.Gateway
	cfg             config.PaymentConfig
	now             func() time.Time
}

func NewPaymentService(
	paymentRepo *repository.PaymentRepository,
	tenantRepo *repository.TenantRepository,
	attributionRepo *repository.AttributionRepository,
	gw gateway.Gateway,
	cfg config.PaymentConfig,
) *PaymentService {
	return &PaymentService{
		paymentRepo:     paymentRepo,
		tenantRepo:      tenantRepo,
		attributionRepo: attributionRepo,
		gw:              gw,
		cfg:             cfg,
		now:             time.Now,
	}
}

// CreateCharge 向网关发起 PIX 收款并落库为 pending。网关失败时不落库
func (s *PaymentService) CreateCharge(ctx context.Context, req ChargeRequest) (*model.Payment, error) {
	if !req.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	log := logging.Component("payment").WithFields(logging.Fields{
		"bot_id":   req.Bot.ID,
		"buyer_id": req.Buyer.ID,
		"amount":   req.Amount.StringFixed(2),
	})

	token, err := s.gatewayToken(req.Bot.TenantID)
	if err != nil {
		return nil, err
	}

	charge, err := s.gw.CreateCharge(ctx, token, gateway.ChargeRequest{
		Amount:     req.Amount,
		WebhookURL: s.cfg.WebhookURL,
	})
	if err != nil {
		log.WithError(err).Warn("gateway rejected charge")
		return nil, &GatewayError{Message: err.Error(), Err: err}
	}

	expiresAt := s.now().Add(s.cfg.ChargeTTL)
	payment := &model.Payment{
		Reference:      charge.Reference,
		BotID:          req.Bot.ID,
		TenantID:       req.Bot.TenantID,
		Amount:         req.Amount,
		Status:         model.PaymentStatusPending,
		BuyerID:        req.Buyer.ID,
		BuyerUsername:  req.Buyer.Username,
		BuyerName:      req.Buyer.DisplayName(),
		PlanName:       req.PlanName,
		PlanIndex:      req.PlanIndex,
		PixCode:        charge.PixCode,
		QRCodeBase64:   charge.QRCodeBase64,
		AttributionID:  req.AttributionID,
		FirstContactAt: req.FirstContactAt,
		ExpiresAt:      &expiresAt,
	}
	if err := s.paymentRepo.Create(payment); err != nil {
		return nil, fmt.Errorf("save payment %s: %w", charge.Reference, err)
	}

	if req.AttributionID != nil {
		if _, err := s.attributionRepo.LinkPayment(*req.AttributionID, payment.ID); err != nil {
			log.WithError(err).WithField("attribution_id", *req.AttributionID).Warn("failed to link attribution code")
		}
	}

	log.WithFields(logging.Fields{
		"payment_id": payment.ID,
		"reference":  payment.Reference,
	}).Info("charge created")

	return payment, nil
}

// Get 按 ID 取支付并校验归属机器人
func (s *PaymentService) Get(botID, paymentID int64) (*model.Payment, error) {
	payment, err := s.paymentRepo.GetByID(paymentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	if payment.BotID != botID {
		return nil, ErrPaymentNotFound
	}
	return payment, nil
}

// Verify 向网关查询状态并推进本地状态。网关不可用按"未支付"处理
func (s *PaymentService) Verify(ctx context.Context, payment *model.Payment) (VerifyResult, error) {
	if !payment.IsPending() {
		return VerifyResult{Payment: payment, Settled: payment.IsApproved()}, nil
	}

	log := logging.Component("payment").WithFields(logging.Fields{
		"payment_id": payment.ID,
		"bot_id":     payment.BotID,
		"buyer_id":   payment.BuyerID,
	})

	token, err := s.gatewayToken(payment.TenantID)
	if err != nil {
		log.WithError(err).Warn("cannot verify payment without gateway credential")
		return VerifyResult{Payment: payment}, nil
	}

	status, err := s.gw.GetStatus(ctx, token, payment.Reference)
	if err != nil {
		log.WithError(err).Warn("gateway status query failed, treating as not settled")
		return VerifyResult{Payment: payment}, nil
	}

	return s.apply(payment, status.Status, status.PayerName, status.PayerNationalID)
}

// ReconcileWebhook 处理网关回调，未知 reference 返回 ErrPaymentNotFound
func (s *PaymentService) ReconcileWebhook(ctx context.Context, ev WebhookEvent) (VerifyResult, error) {
	payment, err := s.paymentRepo.GetByReference(ev.Reference)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logging.Component("payment").WithFields(logging.Fields{
				"reference": ev.Reference,
				"status":    ev.Status,
			}).Warn("unmatched webhook")
			return VerifyResult{}, ErrPaymentNotFound
		}
		return VerifyResult{}, err
	}

	return s.apply(payment, ev.Status, ev.PayerName, ev.PayerNationalID)
}

// apply 根据网关状态推进 pending 支付，终态不会被覆盖
func (s *PaymentService) apply(payment *model.Payment, gatewayStatus, payerName, payerNationalID string) (VerifyResult, error) {
	log := logging.Component("payment").WithFields(logging.Fields{
		"payment_id": payment.ID,
		"bot_id":     payment.BotID,
		"buyer_id":   payment.BuyerID,
		"status":     gatewayStatus,
	})

	if err := s.paymentRepo.UpdatePayer(payment.ID, payerName, payerNationalID); err != nil {
		log.WithError(err).Warn("failed to store payer details")
	}

	switch {
	case gateway.IsSettled(gatewayStatus):
		transitioned, err := s.paymentRepo.MarkApproved(payment.ID, s.now())
		if err != nil {
			return VerifyResult{}, fmt.Errorf("approve payment %d: %w", payment.ID, err)
		}
		if transitioned {
			log.Info("payment approved")
		}
		fresh, err := s.paymentRepo.GetByID(payment.ID)
		if err != nil {
			return VerifyResult{}, err
		}
		if fresh.Status == model.PaymentStatusFailed {
			// 本地已过期或已失败但网关收到了钱，买家没有拿到权限，需要人工处理
			log.WithField("reference", fresh.Reference).Warn("gateway settled a payment already marked failed, manual reconciliation required")
		}
		return VerifyResult{Payment: fresh, Settled: fresh.IsApproved(), Transitioned: transitioned}, nil

	case gateway.IsFailed(gatewayStatus):
		failed, err := s.paymentRepo.MarkFailed(payment.ID)
		if err != nil {
			return VerifyResult{}, fmt.Errorf("fail payment %d: %w", payment.ID, err)
		}
		if failed {
			log.Info("payment failed at gateway")
		}
		fresh, err := s.paymentRepo.GetByID(payment.ID)
		if err != nil {
			return VerifyResult{}, err
		}
		return VerifyResult{Payment: fresh, Settled: fresh.IsApproved()}, nil
	}

	log.Debug("payment still pending")
	fresh, err := s.paymentRepo.GetByID(payment.ID)
	if err != nil {
		return VerifyResult{}, err
	}
	return VerifyResult{Payment: fresh, Settled: fresh.IsApproved()}, nil
}

// ExpireStale 把过期仍未支付的收款置为 failed
func (s *PaymentService) ExpireStale(now time.Time) (int64, error) {
	n, err := s.paymentRepo.ExpirePending(now)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logging.Component("payment").WithField("expired", n).Info("expired stale charges")
	}
	return n, nil
}

func (s *PaymentService) gatewayToken(tenantID int64) (string, error) {
	tenant, err := s.tenantRepo.GetByID(tenantID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrTenantNotFound
		}
		return "", err
	}
	if !tenant.HasGatewayToken() {
		return "", ErrGatewayUnavailable
	}
	return tenant.GatewayToken, nil
}
