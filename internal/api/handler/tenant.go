package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/vipgate_server/internal/api/middleware"
	"github.com/qs3c/vipgate_server/internal/model/dto"
	"github.com/qs3c/vipgate_server/internal/pkg/response"
	"github.com/qs3c/vipgate_server/internal/service"
)

type TenantHandler struct {
	tenantService *service.TenantService
}

func NewTenantHandler(tenantService *service.TenantService) *TenantHandler {
	return &TenantHandler{
		tenantService: tenantService,
	}
}

// GetProfile 获取当前运营方信息
// GET /api/v1/tenant/profile
func (h *TenantHandler) GetProfile(c *gin.Context) {
	tenantID, ok := middleware.GetTenantID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	info, err := h.tenantService.GetProfile(tenantID)
	if err != nil {
		if errors.Is(err, service.ErrTenantNotFound) {
			response.NotFoundError(c, err.Error())
			return
		}
		response.ServerError(c, "")
		return
	}

	response.Success(c, info)
}

// UpdateGatewayToken 更新支付网关凭证
// PUT /api/v1/tenant/gateway-token
func (h *TenantHandler) UpdateGatewayToken(c *gin.Context) {
	tenantID, ok := middleware.GetTenantID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	var req dto.UpdateGatewayTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	info, err := h.tenantService.UpdateGatewayToken(c.Request.Context(), tenantID, req.Token)
	if err != nil {
		var gwErr *service.GatewayError
		switch {
		case errors.Is(err, service.ErrInvalidGatewayToken):
			response.ParamError(c, err.Error())
		case errors.Is(err, service.ErrTenantNotFound):
			response.NotFoundError(c, err.Error())
		case errors.As(err, &gwErr):
			response.GatewayError(c, gwErr.Message)
		default:
			middleware.GetLogger(c).WithError(err).Error("update gateway token failed")
			response.ServerError(c, "")
		}
		return
	}

	response.SuccessWithMessage(c, "网关凭证已更新", info)
}
