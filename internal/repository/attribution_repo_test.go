package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/vipgate_server/internal/model"
	"github.com/qs3c/vipgate_server/internal/testutil"
)

func TestAttributionRepository_LinkPaymentOnce(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewAttributionRepository(db)
	tenant := testutil.TestTenant(t, db)
	bot := testutil.TestBot(t, db, tenant.ID)
	p1 := testutil.TestPayment(t, db, bot, 5, "10.00")
	p2 := testutil.TestPayment(t, db, bot, 5, "10.00")

	code := &model.AttributionCode{BotID: bot.ID, BuyerID: 5, Code: "campaign_abc"}
	require.NoError(t, repo.Create(code))

	linked, err := repo.LinkPayment(code.ID, p1.ID)
	require.NoError(t, err)
	assert.True(t, linked)

	linked, err = repo.LinkPayment(code.ID, p2.ID)
	require.NoError(t, err)
	assert.False(t, linked)

	found, err := repo.GetByID(code.ID)
	require.NoError(t, err)
	require.NotNil(t, found.PaymentID)
	assert.Equal(t, p1.ID, *found.PaymentID)
}

func TestTenantRepository_UpdateGatewayToken(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewTenantRepository(db)
	tenant := testutil.TestTenant(t, db, testutil.WithoutGatewayToken())
	assert.False(t, tenant.HasGatewayToken())

	require.NoError(t, repo.UpdateGatewayToken(tenant.ID, "new-token"))

	found, err := repo.GetByID(tenant.ID)
	require.NoError(t, err)
	assert.True(t, found.HasGatewayToken())
	assert.Equal(t, "new-token", found.GatewayToken)
}
