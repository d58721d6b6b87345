package repository

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/qs3c/vipgate_server/internal/model"
)

type OfferRepository struct {
	db *gorm.DB
}

func NewOfferRepository(db *gorm.DB) *OfferRepository {
	return &OfferRepository{db: db}
}

func (r *OfferRepository) Create(offer *model.Offer) error {
	return r.db.Create(offer).Error
}

func (r *OfferRepository) GetByID(id int64) (*model.Offer, error) {
	var offer model.Offer
	err := r.db.Where("id = ?", id).First(&offer).Error
	if err != nil {
		return nil, err
	}
	return &offer, nil
}

// GetActiveByType 某机器人某类型的第一条启用优惠（按 position、id 排序）
func (r *OfferRepository) GetActiveByType(botID int64, offerType string) (*model.Offer, error) {
	var offer model.Offer
	err := r.db.Where("bot_id = ? AND type = ? AND is_active = ?", botID, offerType, true).
		Order("position ASC").
		Order("id ASC").
		First(&offer).Error
	if err != nil {
		return nil, err
	}
	return &offer, nil
}

// CreateAcceptance 插入接受记录，(offer_id, payment_id) 已存在时不做任何事并返回 false
func (r *OfferRepository) CreateAcceptance(acceptance *model.OfferAcceptance) (bool, error) {
	result := r.db.Clauses(clause.OnConflict{DoNothing: true}).Create(acceptance)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *OfferRepository) GetAcceptance(offerID, paymentID int64) (*model.OfferAcceptance, error) {
	var acceptance model.OfferAcceptance
	err := r.db.Where("offer_id = ? AND payment_id = ?", offerID, paymentID).First(&acceptance).Error
	if err != nil {
		return nil, err
	}
	return &acceptance, nil
}

func (r *OfferRepository) ListAcceptancesByPayment(paymentID int64) ([]model.OfferAcceptance, error) {
	var acceptances []model.OfferAcceptance
	err := r.db.Where("payment_id = ?", paymentID).Order("id ASC").Find(&acceptances).Error
	return acceptances, err
}

// HasAcceptedByBuyer 买家是否在任意一笔支付中接受过该优惠
func (r *OfferRepository) HasAcceptedByBuyer(buyerID, offerID int64) (bool, error) {
	var count int64
	err := r.db.Model(&model.OfferAcceptance{}).
		Joins("JOIN payments ON payments.id = offer_acceptances.payment_id").
		Where("offer_acceptances.offer_id = ? AND payments.buyer_id = ?", offerID, buyerID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
