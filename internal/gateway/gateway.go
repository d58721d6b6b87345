// Package gateway PIX 支付网关客户端
package gateway

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrUnauthorized = errors.New("gateway credential rejected")

// ChargeRequest 创建收款的参数，金额单位为元
type ChargeRequest struct {
	Amount     decimal.Decimal
	WebhookURL string
}

// Charge 网关返回的收款信息
type Charge struct {
	Reference    string
	PixCode      string // 复制粘贴码
	QRCodeBase64 string
	Status       string
}

// QRImage 解码二维码图片，兼容 data URI 前缀
func (c *Charge) QRImage() ([]byte, error) {
	raw := c.QRCodeBase64
	if raw == "" {
		return nil, errors.New("charge has no qr image")
	}
	if i := strings.Index(raw, ","); i >= 0 && strings.HasPrefix(raw, "data:") {
		raw = raw[i+1:]
	}
	return base64.StdEncoding.DecodeString(raw)
}

// Status 网关查询到的收款状态
type Status struct {
	Reference       string
	Status          string
	PayerName       string
	PayerNationalID string
}

func (s *Status) Settled() bool {
	return IsSettled(s.Status)
}

func (s *Status) Failed() bool {
	return IsFailed(s.Status)
}

// APIError 网关返回的业务错误，Message 原样展示给买家
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("gateway returned status %d", e.StatusCode)
	}
	return e.Message
}

func (e *APIError) Unwrap() error {
	if e.StatusCode == 401 || e.StatusCode == 403 {
		return ErrUnauthorized
	}
	return nil
}

type Gateway interface {
	CreateCharge(ctx context.Context, token string, req ChargeRequest) (*Charge, error)
	GetStatus(ctx context.Context, token, reference string) (*Status, error)
	ValidateToken(ctx context.Context, token string) error
}
