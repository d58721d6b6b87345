package repository

import (
	"gorm.io/gorm"

	"github.com/qs3c/vipgate_server/internal/model"
)

type AttributionRepository struct {
	db *gorm.DB
}

func NewAttributionRepository(db *gorm.DB) *AttributionRepository {
	return &AttributionRepository{db: db}
}

func (r *AttributionRepository) Create(code *model.AttributionCode) error {
	return r.db.Create(code).Error
}

func (r *AttributionRepository) GetByID(id int64) (*model.AttributionCode, error) {
	var code model.AttributionCode
	err := r.db.Where("id = ?", id).First(&code).Error
	if err != nil {
		return nil, err
	}
	return &code, nil
}

// LinkPayment 关联支付，只在尚未关联时生效
func (r *AttributionRepository) LinkPayment(id, paymentID int64) (bool, error) {
	result := r.db.Model(&model.AttributionCode{}).
		Where("id = ? AND payment_id IS NULL", id).
		Update("payment_id", paymentID)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}
