package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	PaymentStatusPending  = "pending"
	PaymentStatusApproved = "approved"
	PaymentStatusFailed   = "failed"
)

// Payment 一次 PIX 收款。状态只能从 pending 单向流转到 approved 或 failed
type Payment struct {
	ID              int64           `gorm:"primaryKey" json:"id"`
	Reference       string          `gorm:"size:100;uniqueIndex;not null" json:"reference"`
	BotID           int64           `gorm:"not null;index" json:"bot_id"`
	TenantID        int64           `gorm:"not null;index" json:"tenant_id"`
	Amount          decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"amount"`
	Status          string          `gorm:"size:20;default:pending;index" json:"status"`
	BuyerID         int64           `gorm:"not null;index" json:"buyer_id"`
	BuyerUsername   string          `gorm:"size:100" json:"buyer_username,omitempty"`
	BuyerName       string          `gorm:"size:200" json:"buyer_name,omitempty"`
	PlanName        string          `gorm:"size:100" json:"plan_name"`
	PlanIndex       int             `json:"plan_index"`
	PixCode         string          `gorm:"type:text" json:"pix_code,omitempty"`
	QRCodeBase64    string          `gorm:"type:text" json:"-"`
	PayerName       string          `gorm:"size:200" json:"payer_name,omitempty"`
	PayerNationalID string          `gorm:"size:32" json:"-"`
	AttributionID   *int64          `gorm:"index" json:"attribution_id,omitempty"`
	AccessGranted   *bool           `json:"access_granted,omitempty"`
	FirstContactAt  *time.Time      `json:"first_contact_at,omitempty"`
	ExpiresAt       *time.Time      `gorm:"index" json:"expires_at,omitempty"`
	PaidAt          *time.Time      `json:"paid_at,omitempty"`
	CreatedAt       time.Time       `gorm:"index" json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func (Payment) TableName() string {
	return "payments"
}

func (p *Payment) IsPending() bool {
	return p.Status == PaymentStatusPending
}

func (p *Payment) IsApproved() bool {
	return p.Status == PaymentStatusApproved
}
