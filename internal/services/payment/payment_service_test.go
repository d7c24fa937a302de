package payment

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vidnet/backend/internal/apperrors"
	"github.com/vidnet/backend/internal/config"
	"github.com/vidnet/backend/internal/database/dbtest"
	"github.com/vidnet/backend/internal/metrics"
	"github.com/vidnet/backend/internal/models"
	"github.com/vidnet/backend/internal/services/commission"
	"gorm.io/gorm"
)

func newTestService(t *testing.T, autoComplete bool) (*PaymentService, *gorm.DB) {
	t.Helper()

	db := dbtest.New(t)
	log := logrus.New()
	log.SetOutput(io.Discard)
	m := metrics.NewUnregistered()

	membership := config.DefaultMembershipConfig()
	membership.AutoComplete = autoComplete
	engine := commission.NewEngine(db, config.DefaultMLMConfig(), log, m)
	return NewPaymentService(db, engine, membership, log, m), db
}

func input(user *models.User, hash string) ProcessPaymentInput {
	return ProcessPaymentInput{
		UserID:          user.ID,
		Amount:          decimal.NewFromInt(10),
		Currency:        models.CurrencyUSDT,
		TransactionHash: hash,
	}
}

func sponsoredPayer(t *testing.T, db *gorm.DB) (*models.User, []*models.User) {
	t.Helper()

	expiry := time.Now().UTC().Add(48 * time.Hour)
	top := dbtest.CreateUser(t, db, "top", dbtest.WithMembershipUntil(expiry))
	mid := dbtest.CreateUser(t, db, "mid", dbtest.WithSponsor(top), dbtest.WithMembershipUntil(expiry))
	payer := dbtest.CreateUser(t, db, "payer", dbtest.WithSponsor(mid))
	return payer, []*models.User{mid, top}
}

func countCommissions(t *testing.T, db *gorm.DB) int64 {
	t.Helper()

	var n int64
	require.NoError(t, db.Model(&models.Commission{}).Count(&n).Error)
	return n
}

func TestProcessPaymentCompletesAndDistributes(t *testing.T) {
	svc, db := newTestService(t, true)
	payer, sponsors := sponsoredPayer(t, db)
	before := time.Now().UTC()

	res, err := svc.ProcessPayment(context.Background(), input(payer, "0xabcdef0123456789"))
	require.NoError(t, err)

	assert.Equal(t, models.PaymentStatusCompleted, res.Payment.Status)
	assert.NotNil(t, res.Payment.CompletedAt)
	assert.Equal(t, 28, res.Payment.MembershipExtension)
	assert.Equal(t, 2, res.Distributed)
	require.Len(t, res.Payment.Commissions, 2)
	assert.Equal(t, sponsors[0].ID, res.Payment.Commissions[0].ToUserID)
	assert.Equal(t, sponsors[1].ID, res.Payment.Commissions[1].ToUserID)

	require.NotNil(t, res.MembershipExpiry)
	assert.WithinDuration(t, before.Add(28*24*time.Hour), *res.MembershipExpiry, time.Minute)

	var stored models.User
	require.NoError(t, db.First(&stored, "id = ?", payer.ID).Error)
	require.NotNil(t, stored.MembershipExpiry)
	assert.True(t, stored.HasActiveMembership(time.Now().UTC()))
}

func TestProcessPaymentRejectsReplayedHash(t *testing.T) {
	svc, db := newTestService(t, true)
	payer, _ := sponsoredPayer(t, db)

	_, err := svc.ProcessPayment(context.Background(), input(payer, "0xreplayed-hash-0001"))
	require.NoError(t, err)
	require.Equal(t, int64(2), countCommissions(t, db))

	_, err = svc.ProcessPayment(context.Background(), input(payer, "0xreplayed-hash-0001"))
	assert.ErrorIs(t, err, apperrors.ErrDuplicateTransaction)
	assert.Equal(t, apperrors.KindConflict, apperrors.KindOf(err))
	assert.Equal(t, int64(2), countCommissions(t, db))

	var payments int64
	require.NoError(t, db.Model(&models.Payment{}).Count(&payments).Error)
	assert.Equal(t, int64(1), payments)
}

func TestProcessPaymentValidation(t *testing.T) {
	svc, db := newTestService(t, true)
	payer := dbtest.CreateUser(t, db, "payer")

	cases := map[string]ProcessPaymentInput{
		"wrong amount": {UserID: payer.ID, Amount: decimal.RequireFromString("9.99"), Currency: models.CurrencyUSDT, TransactionHash: "0x0123456789"},
		"bad currency": {UserID: payer.ID, Amount: decimal.NewFromInt(10), Currency: "DOGE", TransactionHash: "0x0123456789"},
		"short hash":   {UserID: payer.ID, Amount: decimal.NewFromInt(10), Currency: models.CurrencyBUSD, TransactionHash: "0x123"},
		"blank hash":   {UserID: payer.ID, Amount: decimal.NewFromInt(10), Currency: models.CurrencyUSDC, TransactionHash: "            "},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.ProcessPayment(context.Background(), in)
			assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
		})
	}

	_, err := svc.ProcessPayment(context.Background(), input(&models.User{Base: models.Base{ID: uuid.New()}}, "0x0123456789"))
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))
}

func TestProcessPaymentExtendsActiveMembership(t *testing.T) {
	svc, db := newTestService(t, true)
	current := time.Now().UTC().Add(10 * 24 * time.Hour)
	payer := dbtest.CreateUser(t, db, "payer", dbtest.WithMembershipUntil(current))

	res, err := svc.ProcessPayment(context.Background(), input(payer, "0xextend-0000000001"))
	require.NoError(t, err)
	assert.WithinDuration(t, current.Add(28*24*time.Hour), *res.MembershipExpiry, time.Second)
	assert.Zero(t, res.Distributed)
}

func TestPendingPaymentVerifiedByAdmin(t *testing.T) {
	svc, db := newTestService(t, false)
	payer, _ := sponsoredPayer(t, db)

	res, err := svc.ProcessPayment(context.Background(), input(payer, "0xpending-000000001"))
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPending, res.Payment.Status)
	assert.Nil(t, res.MembershipExpiry)
	assert.Zero(t, countCommissions(t, db))

	verified, err := svc.VerifyPayment(context.Background(), res.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCompleted, verified.Payment.Status)
	assert.Equal(t, 2, verified.Distributed)
	assert.Equal(t, int64(2), countCommissions(t, db))

	_, err = svc.VerifyPayment(context.Background(), res.Payment.ID)
	assert.ErrorIs(t, err, apperrors.ErrPaymentAlreadyCompleted)
	assert.Equal(t, int64(2), countCommissions(t, db))

	_, err = svc.VerifyPayment(context.Background(), uuid.New())
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))
}

func TestPaymentKeepsAdminStatus(t *testing.T) {
	t.Run("suspended payer", func(t *testing.T) {
		svc, db := newTestService(t, true)
		payer := dbtest.CreateUser(t, db, "payer", dbtest.WithStatus(models.UserStatusSuspended))

		res, err := svc.ProcessPayment(context.Background(), input(payer, "0xsuspended-00000001"))
		require.NoError(t, err)
		require.NotNil(t, res.MembershipExpiry)

		var stored models.User
		require.NoError(t, db.First(&stored, "id = ?", payer.ID).Error)
		assert.Equal(t, models.UserStatusSuspended, stored.Status)
		assert.True(t, stored.HasActiveMembership(time.Now().UTC()))
	})

	t.Run("suspended between submit and verify", func(t *testing.T) {
		svc, db := newTestService(t, false)
		payer := dbtest.CreateUser(t, db, "payer")

		res, err := svc.ProcessPayment(context.Background(), input(payer, "0xsuspended-00000002"))
		require.NoError(t, err)
		require.NoError(t, db.Model(&models.User{}).Where("id = ?", payer.ID).Update("status", models.UserStatusSuspended).Error)

		_, err = svc.VerifyPayment(context.Background(), res.Payment.ID)
		require.NoError(t, err)

		var stored models.User
		require.NoError(t, db.First(&stored, "id = ?", payer.ID).Error)
		assert.Equal(t, models.UserStatusSuspended, stored.Status)
	})

	t.Run("banned payer", func(t *testing.T) {
		svc, db := newTestService(t, true)
		payer := dbtest.CreateUser(t, db, "payer", dbtest.WithStatus(models.UserStatusBanned))

		_, err := svc.ProcessPayment(context.Background(), input(payer, "0xbanned-0000000001"))
		assert.Equal(t, apperrors.KindConflict, apperrors.KindOf(err))
	})
}

func TestGetAndListPayments(t *testing.T) {
	svc, db := newTestService(t, true)
	payer, _ := sponsoredPayer(t, db)
	other := dbtest.CreateUser(t, db, "other")

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		res, err := svc.ProcessPayment(context.Background(), input(payer, fmt.Sprintf("0xlist-hash-%04d", i)))
		require.NoError(t, err)
		ids = append(ids, res.Payment.ID)
	}

	p, err := svc.GetPayment(context.Background(), payer.ID, ids[0])
	require.NoError(t, err)
	require.Len(t, p.Commissions, 2)
	assert.Equal(t, 1, p.Commissions[0].Level)
	require.NotNil(t, p.Commissions[0].ToUser)

	_, err = svc.GetPayment(context.Background(), other.ID, ids[0])
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))

	page, total, err := svc.ListPayments(context.Background(), payer.ID, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, page, 2)

	page, _, err = svc.ListPayments(context.Background(), payer.ID, 2, 2)
	require.NoError(t, err)
	assert.Len(t, page, 1)
}

func TestPaymentStats(t *testing.T) {
	svc, db := newTestService(t, true)
	payer, sponsors := sponsoredPayer(t, db)

	_, err := svc.ProcessPayment(context.Background(), input(payer, "0xstats-hash-0001"))
	require.NoError(t, err)
	_, err = svc.ProcessPayment(context.Background(), input(payer, "0xstats-hash-0002"))
	require.NoError(t, err)

	stats, err := svc.PaymentStats(context.Background(), payer.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalPayments)
	assert.True(t, stats.TotalSpent.Equal(decimal.NewFromInt(20)), "total spent %s", stats.TotalSpent)
	assert.Equal(t, int64(2), stats.MonthlyPayments)
	assert.True(t, stats.HasActiveMembership)
	assert.Equal(t, 56, stats.DaysUntilExpiry)
	assert.NotNil(t, stats.LastPaymentDate)

	sponsorStats, err := svc.PaymentStats(context.Background(), sponsors[0].ID)
	require.NoError(t, err)
	assert.True(t, sponsorStats.CommissionsEarned.Equal(decimal.NewFromInt(7)), "earned %s", sponsorStats.CommissionsEarned)
	assert.Zero(t, sponsorStats.TotalPayments)
}

func TestExtendMembership(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, now.Add(28*24*time.Hour), ExtendMembership(nil, now, 28))

	expired := now.Add(-time.Hour)
	assert.Equal(t, now.Add(28*24*time.Hour), ExtendMembership(&expired, now, 28))

	active := now.Add(5 * 24 * time.Hour)
	assert.Equal(t, active.Add(28*24*time.Hour), ExtendMembership(&active, now, 28))
}
