package model

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var ErrInvalidOfferPrice = errors.New("offer price must be positive")

const (
	OfferTypeOrderBump = "order_bump"
	// 以下两种类型仅保留配置，运行时不触发
	OfferTypeDownsell = "downsell"
	OfferTypeMailing  = "mailing"
)

type Offer struct {
	ID           int64           `gorm:"primaryKey" json:"id"`
	BotID        int64           `gorm:"not null;index" json:"bot_id"`
	Type         string          `gorm:"size:20;not null;index" json:"type" validate:"required,oneof=order_bump downsell mailing"`
	Name         string          `gorm:"size:100" json:"name"`
	Message      string          `gorm:"type:text" json:"message"`
	MediaKind    string          `gorm:"size:10" json:"media_kind" validate:"omitempty,oneof=image video"`
	MediaRef     string          `gorm:"size:500" json:"media_ref"`
	AcceptLabel  string          `gorm:"size:64" json:"accept_label"`
	DeclineLabel string          `gorm:"size:64" json:"decline_label"`
	Price        decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"price"`
	IsActive     bool            `gorm:"index" json:"is_active"`
	Position     int             `gorm:"default:0" json:"position"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func (Offer) TableName() string {
	return "offers"
}

func (o *Offer) Validate() error {
	if err := validator.New().Struct(o); err != nil {
		return err
	}
	if !o.Price.IsPositive() {
		return ErrInvalidOfferPrice
	}
	return nil
}

// OfferAcceptance 某笔支付接受了某个附加优惠，(offer_id, payment_id) 唯一
type OfferAcceptance struct {
	ID        int64           `gorm:"primaryKey" json:"id"`
	OfferID   int64           `gorm:"not null;uniqueIndex:idx_offer_payment" json:"offer_id"`
	PaymentID int64           `gorm:"not null;uniqueIndex:idx_offer_payment" json:"payment_id"`
	Amount    decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"amount"`
	CreatedAt time.Time       `json:"created_at"`
}

func (OfferAcceptance) TableName() string {
	return "offer_acceptances"
}
