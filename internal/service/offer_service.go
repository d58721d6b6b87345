package service

import (
	"errors"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/qs3c/vipgate_server/internal/model"
	"github.com/qs3c/vipgate_server/internal/repository"
)

var (
	ErrOfferNotFound = errors.New("优惠不存在")
	ErrOfferInactive = errors.New("优惠已停用")
)

type OfferService struct {
	offerRepo *repository.OfferRepository
}

func NewOfferService(offerRepo *repository.OfferRepository) *OfferService {
	return &OfferService{offerRepo: offerRepo}
}

// GetActiveUpsell 机器人当前生效的 order bump，没有时返回 nil, nil
func (s *OfferService) GetActiveUpsell(botID int64) (*model.Offer, error) {
	offer, err := s.offerRepo.GetActiveByType(botID, model.OfferTypeOrderBump)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return offer, nil
}

// GetForBot 取某机器人名下仍启用的优惠，回调里的 offer id 不可信
func (s *OfferService) GetForBot(botID, offerID int64) (*model.Offer, error) {
	offer, err := s.offerRepo.GetByID(offerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOfferNotFound
		}
		return nil, err
	}
	if offer.BotID != botID {
		return nil, ErrOfferNotFound
	}
	if !offer.IsActive {
		return nil, ErrOfferInactive
	}
	return offer, nil
}

func (s *OfferService) HasAccepted(buyerID, offerID int64) (bool, error) {
	return s.offerRepo.HasAcceptedByBuyer(buyerID, offerID)
}

// RecordAcceptance 记录接受，同一 (offer, payment) 重复调用返回已有记录且 created=false
func (s *OfferService) RecordAcceptance(offerID, paymentID int64, amount decimal.Decimal) (*model.OfferAcceptance, bool, error) {
	acceptance := &model.OfferAcceptance{
		OfferID:   offerID,
		PaymentID: paymentID,
		Amount:    amount,
	}
	created, err := s.offerRepo.CreateAcceptance(acceptance)
	if err != nil {
		return nil, false, err
	}
	if created {
		return acceptance, true, nil
	}

	existing, err := s.offerRepo.GetAcceptance(offerID, paymentID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}
