package handler

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/vipgate_server/internal/api/middleware"
	"github.com/qs3c/vipgate_server/internal/model/dto"
	"github.com/qs3c/vipgate_server/internal/pkg/response"
	"github.com/qs3c/vipgate_server/internal/service"
)

const (
	WebhookSecretHeader = "X-Webhook-Secret"

	fulfillTimeout = 45 * time.Second
)

type WebhookHandler struct {
	paymentService     *service.PaymentService
	fulfillmentService *service.FulfillmentService
	secret             string
}

func NewWebhookHandler(paymentService *service.PaymentService, fulfillmentService *service.FulfillmentService, secret string) *WebhookHandler {
	return &WebhookHandler{
		paymentService:     paymentService,
		fulfillmentService: fulfillmentService,
		secret:             secret,
	}
}

// PushinPay 网关支付状态回调
// POST /api/v1/webhooks/pushinpay
func (h *WebhookHandler) PushinPay(c *gin.Context) {
	log := middleware.GetLogger(c)

	if h.secret != "" {
		got := c.GetHeader(WebhookSecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
			log.Warn("webhook secret mismatch")
			response.ErrorWithStatus(c, http.StatusUnauthorized, response.CodeAuthFailed, "")
			return
		}
	}

	var req dto.PushinPayWebhook
	if err := c.ShouldBind(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, response.CodeParamError, err.Error())
		return
	}
	ref := req.Ref()
	if ref == "" || req.Status == "" {
		response.ErrorWithStatus(c, http.StatusBadRequest, response.CodeParamError, "缺少 id 或 status")
		return
	}

	log = log.WithField("reference", ref).WithField("status", req.Status)

	result, err := h.paymentService.ReconcileWebhook(c.Request.Context(), service.WebhookEvent{
		Reference:       ref,
		Status:          req.Status,
		PayerName:       req.PayerName,
		PayerNationalID: req.PayerNationalRegistration,
	})
	if err != nil {
		if errors.Is(err, service.ErrPaymentNotFound) {
			// 不是本系统的收款，确认收到即可，避免网关无限重试
			response.NotFoundError(c, err.Error())
			return
		}
		log.WithError(err).Error("reconcile webhook failed")
		response.ErrorWithStatus(c, http.StatusInternalServerError, response.CodeServerError, "")
		return
	}

	if result.Transitioned && result.Settled {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), fulfillTimeout)
		res := h.fulfillmentService.Fulfill(ctx, result.Payment)
		cancel()
		if res.Err != nil {
			log.WithError(res.Err).Error("fulfillment after webhook failed")
		} else {
			log.WithField("access_granted", res.AccessGranted).Info("payment settled by webhook")
		}
	}

	response.Success(c, &dto.WebhookResult{
		PaymentID: result.Payment.ID,
		Reference: result.Payment.Reference,
		Status:    result.Payment.Status,
	})
}
