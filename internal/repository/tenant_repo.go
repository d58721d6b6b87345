package repository

import (
	"gorm.io/gorm"

	"github.com/qs3c/vipgate_server/internal/model"
)

type TenantRepository struct {
	db *gorm.DB
}

func NewTenantRepository(db *gorm.DB) *TenantRepository {
	return &TenantRepository{db: db}
}

func (r *TenantRepository) Create(tenant *model.Tenant) error {
	return r.db.Create(tenant).Error
}

func (r *TenantRepository) GetByID(id int64) (*model.Tenant, error) {
	var tenant model.Tenant
	err := r.db.Where("id = ?", id).First(&tenant).Error
	if err != nil {
		return nil, err
	}
	return &tenant, nil
}

func (r *TenantRepository) UpdateGatewayToken(id int64, token string) error {
	return r.db.Model(&model.Tenant{}).Where("id = ?", id).Update("gateway_token", token).Error
}

func (r *TenantRepository) GetByEmail(email string) (*model.Tenant, error) {
	var tenant model.Tenant
	err := r.db.Where("email = ?", email).First(&tenant).Error
	if err != nil {
		return nil, err
	}
	return &tenant, nil
}

func (r *TenantRepository) ExistsByEmail(email string) (bool, error) {
	var count int64
	err := r.db.Model(&model.Tenant{}).Where("email = ?", email).Count(&count).Error
	return count > 0, err
}
