package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

var ErrInvalidPlan = errors.New("invalid plan")

// 欢迎媒体类型，上传时确定并落库，运行时不再猜测
const (
	MediaKindNone  = ""
	MediaKindImage = "image"
	MediaKindVideo = "video"
)

type Plan struct {
	Name         string          `json:"name"`
	Price        decimal.Decimal `json:"price"`
	DurationDays int             `json:"duration_days"`
}

type Bot struct {
	ID               int64                     `gorm:"primaryKey" json:"id"`
	TenantID         int64                     `gorm:"not null;index" json:"tenant_id"`
	Token            string                    `gorm:"size:100;uniqueIndex;not null" json:"-" validate:"required,min=10,max=100"`
	Name             string                    `gorm:"size:100" json:"name" validate:"max=100"`
	Handle           string                    `gorm:"size:100" json:"handle"`
	WelcomeText      string                    `gorm:"type:text" json:"welcome_text"`
	WelcomeMediaKind string                    `gorm:"size:10" json:"welcome_media_kind" validate:"omitempty,oneof=image video"`
	WelcomeMediaRef  string                    `gorm:"size:500" json:"welcome_media_ref"`
	WelcomeAudioRef  string                    `gorm:"size:500" json:"welcome_audio_ref"`
	Plans            datatypes.JSONSlice[Plan] `json:"plans"`
	VIPChatID        string                    `gorm:"column:vip_chat_id;size:64" json:"vip_chat_id"`
	AuditChatID      string                    `gorm:"size:64" json:"audit_chat_id"`
	IsActive         bool                      `gorm:"index" json:"is_active"`
	IsRunning        bool                      `json:"is_running"`
	LastActivityAt   *time.Time                `json:"last_activity_at,omitempty"`
	CreatedAt        time.Time                 `json:"created_at"`
	UpdatedAt        time.Time                 `json:"updated_at"`
}

func (Bot) TableName() string {
	return "bots"
}

// HasDestination 是否配置了 VIP 频道
func (b *Bot) HasDestination() bool {
	return b.VIPChatID != ""
}

func (b *Bot) HasAuditChannel() bool {
	return b.AuditChatID != ""
}

// Validate 启动前校验机器人配置
func (b *Bot) Validate() error {
	v := validator.New()
	if err := v.Struct(b); err != nil {
		return err
	}
	for i, plan := range b.Plans {
		if plan.Name == "" || !plan.Price.IsPositive() {
			return fmt.Errorf("%w: index %d", ErrInvalidPlan, i)
		}
	}
	return nil
}
