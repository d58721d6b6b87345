package service

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/qs3c/vipgate_server/internal/gateway"
	"github.com/qs3c/vipgate_server/internal/model/dto"
	"github.com/qs3c/vipgate_server/internal/repository"
)

var ErrInvalidGatewayToken = errors.New("网关凭证无效")

type TenantService struct {
	tenantRepo *repository.TenantRepository
	gw         gateway.Gateway
}

func NewTenantService(tenantRepo *repository.TenantRepository, gw gateway.Gateway) *TenantService {
	return &TenantService{
		tenantRepo: tenantRepo,
		gw:         gw,
	}
}

// GetProfile 获取运营方信息
func (s *TenantService) GetProfile(tenantID int64) (*dto.TenantInfo, error) {
	tenant, err := s.tenantRepo.GetByID(tenantID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTenantNotFound
		}
		return nil, err
	}
	return buildTenantInfo(tenant), nil
}

// UpdateGatewayToken 先向网关校验凭证，通过后才保存
func (s *TenantService) UpdateGatewayToken(ctx context.Context, tenantID int64, token string) (*dto.TenantInfo, error) {
	token = strings.TrimSpace(token)

	if _, err := s.tenantRepo.GetByID(tenantID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTenantNotFound
		}
		return nil, err
	}

	if err := s.gw.ValidateToken(ctx, token); err != nil {
		if errors.Is(err, gateway.ErrUnauthorized) {
			return nil, ErrInvalidGatewayToken
		}
		return nil, &GatewayError{Message: err.Error(), Err: err}
	}

	if err := s.tenantRepo.UpdateGatewayToken(tenantID, token); err != nil {
		return nil, err
	}

	return s.GetProfile(tenantID)
}
