package service

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/qs3c/vipgate_server/config"
	"github.com/qs3c/vipgate_server/internal/model"
	"github.com/qs3c/vipgate_server/internal/model/dto"
	"github.com/qs3c/vipgate_server/internal/pkg/jwt"
	"github.com/qs3c/vipgate_server/internal/repository"
)

var (
	ErrEmailExists        = errors.New("邮箱已被注册")
	ErrInvalidCredentials = errors.New("邮箱或密码错误")
)

type AuthService struct {
	tenantRepo *repository.TenantRepository
	cfg        *config.Config
}

func NewAuthService(tenantRepo *repository.TenantRepository, cfg *config.Config) *AuthService {
	return &AuthService{
		tenantRepo: tenantRepo,
		cfg:        cfg,
	}
}

// Register 运营方注册
func (s *AuthService) Register(req *dto.RegisterRequest) (*dto.RegisterResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))

	exists, err := s.tenantRepo.ExistsByEmail(email)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrEmailExists
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	passwordStr := string(hashedPassword)

	tenant := &model.Tenant{
		Name:         strings.TrimSpace(req.Name),
		Email:        &email,
		PasswordHash: &passwordStr,
	}
	if err := s.tenantRepo.Create(tenant); err != nil {
		return nil, err
	}

	return &dto.RegisterResponse{TenantID: tenant.ID}, nil
}

// Login 运营方登录
func (s *AuthService) Login(req *dto.LoginRequest) (*dto.LoginResponse, error) {
	tenant, err := s.tenantRepo.GetByEmail(strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if tenant.PasswordHash == nil {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(*tenant.PasswordHash), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	token, err := jwt.GenerateToken(tenant.ID, s.cfg.JWT.Secret, s.cfg.JWT.ExpireHours)
	if err != nil {
		return nil, err
	}

	return &dto.LoginResponse{
		Token:  token,
		Tenant: buildTenantInfo(tenant),
	}, nil
}

func buildTenantInfo(tenant *model.Tenant) *dto.TenantInfo {
	info := &dto.TenantInfo{
		ID:              tenant.ID,
		Name:            tenant.Name,
		HasGatewayToken: tenant.GatewayToken != "",
	}
	if tenant.Email != nil {
		info.Email = *tenant.Email
	}
	return info
}
