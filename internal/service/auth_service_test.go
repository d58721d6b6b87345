package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/vipgate_server/config"
	"github.com/qs3c/vipgate_server/internal/model/dto"
	"github.com/qs3c/vipgate_server/internal/pkg/jwt"
	"github.com/qs3c/vipgate_server/internal/repository"
	"github.com/qs3c/vipgate_server/internal/testutil"
)

const testJWTSecret = "test-secret-key-for-testing"

func setupAuthService(t *testing.T) (*AuthService, func()) {
	t.Helper()

	db := testutil.SetupTestDB(t)
	tenantRepo := repository.NewTenantRepository(db)

	cfg := &config.Config{
		JWT: config.JWTConfig{
			Secret:      testJWTSecret,
			ExpireHours: 24,
		},
	}

	service := NewAuthService(tenantRepo, cfg)

	cleanup := func() {
		testutil.CleanupTestDB(t, db)
	}

	return service, cleanup
}

func TestAuthService_Register_Success(t *testing.T) {
	service, cleanup := setupAuthService(t)
	defer cleanup()

	resp, err := service.Register(&dto.RegisterRequest{
		Name:     "Loja VIP",
		Email:    "owner@example.com",
		Password: "password123",
	})
	require.NoError(t, err)
	assert.NotZero(t, resp.TenantID)
}

func TestAuthService_Register_DuplicateEmail(t *testing.T) {
	service, cleanup := setupAuthService(t)
	defer cleanup()

	req := &dto.RegisterRequest{Name: "Loja", Email: "dup@example.com", Password: "password123"}
	_, err := service.Register(req)
	require.NoError(t, err)

	// 大小写不同视为同一邮箱
	_, err = service.Register(&dto.RegisterRequest{Name: "Outra", Email: "DUP@example.com", Password: "password123"})
	assert.ErrorIs(t, err, ErrEmailExists)
}

func TestAuthService_Login_Success(t *testing.T) {
	service, cleanup := setupAuthService(t)
	defer cleanup()

	reg, err := service.Register(&dto.RegisterRequest{Name: "Loja", Email: "login@example.com", Password: "password123"})
	require.NoError(t, err)

	resp, err := service.Login(&dto.LoginRequest{Email: "login@example.com", Password: "password123"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Token)
	assert.Equal(t, reg.TenantID, resp.Tenant.ID)
	assert.Equal(t, "login@example.com", resp.Tenant.Email)
	assert.False(t, resp.Tenant.HasGatewayToken)

	claims, err := jwt.ParseToken(resp.Token, testJWTSecret)
	require.NoError(t, err)
	assert.Equal(t, reg.TenantID, claims.TenantID)
}

func TestAuthService_Login_WrongPassword(t *testing.T) {
	service, cleanup := setupAuthService(t)
	defer cleanup()

	_, err := service.Register(&dto.RegisterRequest{Name: "Loja", Email: "wrong@example.com", Password: "password123"})
	require.NoError(t, err)

	_, err = service.Login(&dto.LoginRequest{Email: "wrong@example.com", Password: "nope-nope"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthService_Login_UnknownEmail(t *testing.T) {
	service, cleanup := setupAuthService(t)
	defer cleanup()

	_, err := service.Login(&dto.LoginRequest{Email: "ghost@example.com", Password: "password123"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthService_Login_TenantWithoutPassword(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	email := "legacy@example.com"
	testutil.TestTenant(t, db, testutil.WithEmail(email))

	service := NewAuthService(repository.NewTenantRepository(db), &config.Config{JWT: config.JWTConfig{Secret: testJWTSecret, ExpireHours: 1}})
	_, err := service.Login(&dto.LoginRequest{Email: email, Password: "password123"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}
