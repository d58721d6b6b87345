package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/vipgate_server/internal/model"
)

type BotRepository struct {
	db *gorm.DB
}

func NewBotRepository(db *gorm.DB) *BotRepository {
	return &BotRepository{db: db}
}

func (r *BotRepository) Create(bot *model.Bot) error {
	return r.db.Create(bot).Error
}

func (r *BotRepository) GetByID(id int64) (*model.Bot, error) {
	var bot model.Bot
	err := r.db.Where("id = ?", id).First(&bot).Error
	if err != nil {
		return nil, err
	}
	return &bot, nil
}

func (r *BotRepository) GetByToken(token string) (*model.Bot, error) {
	var bot model.Bot
	err := r.db.Where("token = ?", token).First(&bot).Error
	if err != nil {
		return nil, err
	}
	return &bot, nil
}

// ListActive 期望处于运行状态的机器人
func (r *BotRepository) ListActive() ([]model.Bot, error) {
	var bots []model.Bot
	err := r.db.Where("is_active = ?", true).Order("id ASC").Find(&bots).Error
	return bots, err
}

func (r *BotRepository) ListByTenant(tenantID int64) ([]model.Bot, error) {
	var bots []model.Bot
	err := r.db.Where("tenant_id = ?", tenantID).Order("id ASC").Find(&bots).Error
	return bots, err
}

func (r *BotRepository) SetActive(id int64, active bool) error {
	return r.db.Model(&model.Bot{}).Where("id = ?", id).Update("is_active", active).Error
}

// SetRunning 记录运行标记，同时刷新心跳时间
func (r *BotRepository) SetRunning(id int64, running bool, at time.Time) error {
	return r.db.Model(&model.Bot{}).Where("id = ?", id).Updates(map[string]interface{}{
		"is_running":       running,
		"last_activity_at": at,
	}).Error
}

// Touch 心跳：刷新活动时间，并把被外部清掉的运行标记写回
func (r *BotRepository) Touch(id int64, at time.Time) error {
	return r.db.Model(&model.Bot{}).Where("id = ?", id).Updates(map[string]interface{}{
		"is_running":       true,
		"last_activity_at": at,
	}).Error
}

// ResetRunning 进程启动时清除上一轮残留的运行标记
func (r *BotRepository) ResetRunning() (int64, error) {
	result := r.db.Model(&model.Bot{}).Where("is_running = ?", true).Update("is_running", false)
	return result.RowsAffected, result.Error
}
