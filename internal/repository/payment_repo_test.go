package repository

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/vipgate_server/internal/model"
	"github.com/qs3c/vipgate_server/internal/testutil"
)

func TestPaymentRepository_CreateAndGet(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewPaymentRepository(db)
	tenant := testutil.TestTenant(t, db)
	bot := testutil.TestBot(t, db, tenant.ID)

	payment := &model.Payment{
		Reference: "gw-abc",
		BotID:     bot.ID,
		TenantID:  tenant.ID,
		Amount:    testutil.Money("15.00"),
		Status:    model.PaymentStatusPending,
		BuyerID:   42,
		PlanName:  "Basic",
	}
	require.NoError(t, repo.Create(payment))
	assert.NotZero(t, payment.ID)

	byID, err := repo.GetByID(payment.ID)
	require.NoError(t, err)
	assert.True(t, testutil.Money("15").Equal(byID.Amount))

	byRef, err := repo.GetByReference("gw-abc")
	require.NoError(t, err)
	assert.Equal(t, payment.ID, byRef.ID)

	_, err = repo.GetByReference("missing")
	assert.Error(t, err)
}

func TestPaymentRepository_ReferenceUnique(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewPaymentRepository(db)
	tenant := testutil.TestTenant(t, db)
	bot := testutil.TestBot(t, db, tenant.ID)
	testutil.TestPayment(t, db, bot, 1, "10.00", testutil.WithReference("dup"))

	err := repo.Create(&model.Payment{Reference: "dup", BotID: bot.ID, TenantID: tenant.ID, BuyerID: 2, Amount: testutil.Money("1")})
	assert.Error(t, err)
}

func TestPaymentRepository_MarkApproved(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewPaymentRepository(db)
	tenant := testutil.TestTenant(t, db)
	bot := testutil.TestBot(t, db, tenant.ID)

	t.Run("pending to approved once", func(t *testing.T) {
		p := testutil.TestPayment(t, db, bot, 1, "10.00")

		ok, err := repo.MarkApproved(p.ID, time.Now())
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = repo.MarkApproved(p.ID, time.Now())
		require.NoError(t, err)
		assert.False(t, ok)

		found, _ := repo.GetByID(p.ID)
		assert.Equal(t, model.PaymentStatusApproved, found.Status)
		assert.NotNil(t, found.PaidAt)
	})

	t.Run("failed is terminal", func(t *testing.T) {
		p := testutil.TestPayment(t, db, bot, 1, "10.00", testutil.WithPaymentStatus(model.PaymentStatusFailed))

		ok, err := repo.MarkApproved(p.ID, time.Now())
		require.NoError(t, err)
		assert.False(t, ok)

		found, _ := repo.GetByID(p.ID)
		assert.Equal(t, model.PaymentStatusFailed, found.Status)
	})

	t.Run("concurrent confirmations have a single winner", func(t *testing.T) {
		p := testutil.TestPayment(t, db, bot, 1, "10.00")

		var wg sync.WaitGroup
		var mu sync.Mutex
		winners := 0
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := repo.MarkApproved(p.ID, time.Now())
				if err == nil && ok {
					mu.Lock()
					winners++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, winners)
	})
}

func TestPaymentRepository_MarkFailed(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewPaymentRepository(db)
	tenant := testutil.TestTenant(t, db)
	bot := testutil.TestBot(t, db, tenant.ID)

	approved := testutil.TestPayment(t, db, bot, 1, "10.00", testutil.WithPaymentStatus(model.PaymentStatusApproved))
	ok, err := repo.MarkFailed(approved.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	pending := testutil.TestPayment(t, db, bot, 1, "10.00")
	ok, err = repo.MarkFailed(pending.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPaymentRepository_UpdatePayerAndAccess(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewPaymentRepository(db)
	tenant := testutil.TestTenant(t, db)
	bot := testutil.TestBot(t, db, tenant.ID)
	p := testutil.TestPayment(t, db, bot, 1, "10.00")

	require.NoError(t, repo.UpdatePayer(p.ID, "Maria Silva", "12345678900"))
	require.NoError(t, repo.UpdatePayer(p.ID, "", ""))
	require.NoError(t, repo.SetAccessGranted(p.ID, true))

	found, err := repo.GetByID(p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Maria Silva", found.PayerName)
	assert.Equal(t, "12345678900", found.PayerNationalID)
	require.NotNil(t, found.AccessGranted)
	assert.True(t, *found.AccessGranted)
}

func TestPaymentRepository_ExpirePending(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewPaymentRepository(db)
	tenant := testutil.TestTenant(t, db)
	bot := testutil.TestBot(t, db, tenant.ID)

	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)
	expired := testutil.TestPayment(t, db, bot, 1, "10.00", func(p *model.Payment) { p.ExpiresAt = &past })
	testutil.TestPayment(t, db, bot, 1, "10.00", func(p *model.Payment) { p.ExpiresAt = &future })
	testutil.TestPayment(t, db, bot, 1, "10.00", func(p *model.Payment) {
		p.ExpiresAt = &past
		p.Status = model.PaymentStatusApproved
	})

	list, err := repo.ListExpiredPending(time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, expired.ID, list[0].ID)

	n, err := repo.ExpirePending(time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	found, _ := repo.GetByID(expired.ID)
	assert.Equal(t, model.PaymentStatusFailed, found.Status)
}

func TestPaymentRepository_CountByStatus(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewPaymentRepository(db)
	tenant := testutil.TestTenant(t, db)
	bot := testutil.TestBot(t, db, tenant.ID)
	testutil.TestPayment(t, db, bot, 1, "10.00")
	testutil.TestPayment(t, db, bot, 2, "10.00")
	testutil.TestPayment(t, db, bot, 3, "10.00", testutil.WithPaymentStatus(model.PaymentStatusApproved))

	counts, err := repo.CountByStatus(bot.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[model.PaymentStatusPending])
	assert.Equal(t, int64(1), counts[model.PaymentStatusApproved])
	assert.Equal(t, int64(0), counts[model.PaymentStatusFailed])
}
