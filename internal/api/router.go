package api

import (
	"github.com/gin-gonic/gin"

	"github.com/qs3c/vipgate_server/config"
	"github.com/qs3c/vipgate_server/internal/api/handler"
	"github.com/qs3c/vipgate_server/internal/api/middleware"
)

type Router struct {
	authHandler    *handler.AuthHandler
	tenantHandler  *handler.TenantHandler
	botHandler     *handler.BotHandler
	webhookHandler *handler.WebhookHandler
	healthHandler  *handler.HealthHandler
	wsHandler      *handler.WebSocketHandler
	cfg            *config.Config
}

func NewRouter(
	authHandler *handler.AuthHandler,
	tenantHandler *handler.TenantHandler,
	botHandler *handler.BotHandler,
	webhookHandler *handler.WebhookHandler,
	healthHandler *handler.HealthHandler,
	wsHandler *handler.WebSocketHandler,
	cfg *config.Config,
) *Router {
	return &Router{
		authHandler:    authHandler,
		tenantHandler:  tenantHandler,
		botHandler:     botHandler,
		webhookHandler: webhookHandler,
		healthHandler:  healthHandler,
		wsHandler:      wsHandler,
		cfg:            cfg,
	}
}

func (r *Router) Setup() *gin.Engine {
	if r.cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(middleware.RequestID())
	engine.Use(middleware.Logger())
	engine.Use(gin.Recovery())
	engine.Use(middleware.CORS(r.cfg.CORS))

	api := engine.Group("/api/v1")
	{
		api.GET("/health", r.healthHandler.Check)

		// WebSocket，令牌走 query
		api.GET("/ws", r.wsHandler.Handle)

		// 支付网关回调
		webhooks := api.Group("/webhooks")
		{
			webhooks.POST("/pushinpay", r.webhookHandler.PushinPay)
		}

		// 公开接口 - 认证
		auth := api.Group("/auth")
		{
			auth.POST("/register", r.authHandler.Register)
			auth.POST("/login", r.authHandler.Login)
		}

		// 需要认证的接口
		authenticated := api.Group("")
		authenticated.Use(middleware.Auth(r.cfg.JWT.Secret))
		{
			tenant := authenticated.Group("/tenant")
			{
				tenant.GET("/profile", r.tenantHandler.GetProfile)
				tenant.PUT("/gateway-token", r.tenantHandler.UpdateGatewayToken)
			}

			bots := authenticated.Group("/bots")
			{
				bots.GET("", r.botHandler.List)
				bots.GET("/:id/status", r.botHandler.Status)
				bots.POST("/:id/start", r.botHandler.Start)
				bots.POST("/:id/stop", r.botHandler.Stop)
			}
		}
	}

	return engine
}
