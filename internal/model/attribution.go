package model

import (
	"time"
)

// AttributionCode 记录买家通过哪个推广参数进入机器人，付款后关联一次
type AttributionCode struct {
	ID            int64     `gorm:"primaryKey" json:"id"`
	BotID         int64     `gorm:"not null;index" json:"bot_id"`
	BuyerID       int64     `gorm:"not null;index" json:"buyer_id"`
	BuyerUsername string    `gorm:"size:100" json:"buyer_username,omitempty"`
	FirstName     string    `gorm:"size:100" json:"first_name,omitempty"`
	LastName      string    `gorm:"size:100" json:"last_name,omitempty"`
	Code          string    `gorm:"size:255;not null" json:"code"`
	PaymentID     *int64    `gorm:"index" json:"payment_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (AttributionCode) TableName() string {
	return "attribution_codes"
}
