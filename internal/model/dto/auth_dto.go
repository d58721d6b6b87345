package dto

// RegisterRequest 运营方注册
type RegisterRequest struct {
	Name     string `json:"name" binding:"required,min=2,max=100"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8,max=32"`
}

type RegisterResponse struct {
	TenantID int64 `json:"tenant_id"`
}

// LoginRequest 登录请求
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type LoginResponse struct {
	Token  string      `json:"token"`
	Tenant *TenantInfo `json:"tenant"`
}

// TenantInfo 运营方信息，不含任何凭证
type TenantInfo struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	Email           string `json:"email,omitempty"`
	HasGatewayToken bool   `json:"has_gateway_token"`
}

// UpdateGatewayTokenRequest 更新支付网关凭证
type UpdateGatewayTokenRequest struct {
	Token string `json:"token" binding:"required,min=10,max=255"`
}
