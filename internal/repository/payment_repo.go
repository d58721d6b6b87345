package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/vipgate_server/internal/model"
)

type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) Create(payment *model.Payment) error {
	return r.db.Create(payment).Error
}

func (r *PaymentRepository) GetByID(id int64) (*model.Payment, error) {
	var payment model.Payment
	err := r.db.Where("id = ?", id).First(&payment).Error
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *PaymentRepository) GetByReference(reference string) (*model.Payment, error) {
	var payment model.Payment
	err := r.db.Where("reference = ?", reference).First(&payment).Error
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// MarkApproved pending -> approved。只有真正完成状态迁移的调用方返回 true，
// 并发的重复确认最多一个成功
func (r *PaymentRepository) MarkApproved(id int64, paidAt time.Time) (bool, error) {
	result := r.db.Model(&model.Payment{}).
		Where("id = ? AND status = ?", id, model.PaymentStatusPending).
		Updates(map[string]interface{}{
			"status":  model.PaymentStatusApproved,
			"paid_at": paidAt,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// MarkFailed pending -> failed
func (r *PaymentRepository) MarkFailed(id int64) (bool, error) {
	result := r.db.Model(&model.Payment{}).
		Where("id = ? AND status = ?", id, model.PaymentStatusPending).
		Update("status", model.PaymentStatusFailed)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// UpdatePayer 回调中携带的付款人信息，只补充不覆盖
func (r *PaymentRepository) UpdatePayer(id int64, name, nationalID string) error {
	updates := map[string]interface{}{}
	if name != "" {
		updates["payer_name"] = name
	}
	if nationalID != "" {
		updates["payer_national_id"] = nationalID
	}
	if len(updates) == 0 {
		return nil
	}
	return r.db.Model(&model.Payment{}).Where("id = ?", id).Updates(updates).Error
}

func (r *PaymentRepository) SetAccessGranted(id int64, granted bool) error {
	return r.db.Model(&model.Payment{}).Where("id = ?", id).Update("access_granted", granted).Error
}

// ListExpiredPending 已过期但仍为 pending 的支付
func (r *PaymentRepository) ListExpiredPending(before time.Time, limit int) ([]model.Payment, error) {
	var payments []model.Payment
	err := r.db.Where("status = ? AND expires_at IS NOT NULL AND expires_at < ?", model.PaymentStatusPending, before).
		Order("id ASC").
		Limit(limit).
		Find(&payments).Error
	return payments, err
}

// ExpirePending 批量把过期 pending 置为 failed
func (r *PaymentRepository) ExpirePending(before time.Time) (int64, error) {
	result := r.db.Model(&model.Payment{}).
		Where("status = ? AND expires_at IS NOT NULL AND expires_at < ?", model.PaymentStatusPending, before).
		Update("status", model.PaymentStatusFailed)
	return result.RowsAffected, result.Error
}

// CountByStatus 按状态统计某个机器人的支付数
func (r *PaymentRepository) CountByStatus(botID int64) (map[string]int64, error) {
	var rows []struct {
		Status string
		Total  int64
	}
	err := r.db.Model(&model.Payment{}).
		Select("status, COUNT(*) AS total").
		Where("bot_id = ?", botID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Total
	}
	return counts, nil
}
