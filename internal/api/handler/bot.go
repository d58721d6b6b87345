package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/vipgate_server/internal/api/middleware"
	"github.com/qs3c/vipgate_server/internal/model/dto"
	"github.com/qs3c/vipgate_server/internal/pkg/queue"
	"github.com/qs3c/vipgate_server/internal/pkg/response"
	"github.com/qs3c/vipgate_server/internal/service"
)

type BotHandler struct {
	botService *service.BotService
}

func NewBotHandler(botService *service.BotService) *BotHandler {
	return &BotHandler{
		botService: botService,
	}
}

// List 当前运营方的机器人列表
// GET /api/v1/bots
func (h *BotHandler) List(c *gin.Context) {
	tenantID, ok := middleware.GetTenantID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	items, err := h.botService.List(tenantID)
	if err != nil {
		middleware.GetLogger(c).WithError(err).Error("list bots failed")
		response.ServerError(c, "")
		return
	}

	response.Success(c, items)
}

// Status 运行状态与心跳
// GET /api/v1/bots/:id/status
func (h *BotHandler) Status(c *gin.Context) {
	tenantID, botID, ok := h.parse(c)
	if !ok {
		return
	}

	status, err := h.botService.Status(tenantID, botID)
	if err != nil {
		h.handleError(c, err)
		return
	}

	response.Success(c, status)
}

// Start 请求启动机器人
// POST /api/v1/bots/:id/start
func (h *BotHandler) Start(c *gin.Context) {
	tenantID, botID, ok := h.parse(c)
	if !ok {
		return
	}

	cmd, err := h.botService.RequestStart(c.Request.Context(), tenantID, botID)
	if err != nil {
		h.handleError(c, err)
		return
	}

	respondCommand(c, cmd)
}

// Stop 请求停止机器人
// POST /api/v1/bots/:id/stop
func (h *BotHandler) Stop(c *gin.Context) {
	tenantID, botID, ok := h.parse(c)
	if !ok {
		return
	}

	cmd, err := h.botService.RequestStop(c.Request.Context(), tenantID, botID)
	if err != nil {
		h.handleError(c, err)
		return
	}

	respondCommand(c, cmd)
}

func (h *BotHandler) parse(c *gin.Context) (int64, int64, bool) {
	tenantID, ok := middleware.GetTenantID(c)
	if !ok {
		response.AuthError(c, "")
		return 0, 0, false
	}

	botID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || botID <= 0 {
		response.ParamError(c, "无效的机器人ID")
		return 0, 0, false
	}

	return tenantID, botID, true
}

func (h *BotHandler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrBotNotFound):
		response.NotFoundError(c, err.Error())
	case errors.Is(err, service.ErrBotForbidden):
		response.PermissionError(c, err.Error())
	default:
		middleware.GetLogger(c).WithError(err).Error("bot request failed")
		response.ServerError(c, "")
	}
}

func respondCommand(c *gin.Context, cmd *queue.BotCommand) {
	response.SuccessWithMessage(c, "指令已提交", &dto.BotCommandResponse{
		CommandID: cmd.ID,
		Action:    cmd.Action,
		BotID:     cmd.BotID,
	})
}
