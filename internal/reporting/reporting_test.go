package reporting

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schooltino/creditcore/internal/wallet"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func seedStore(t *testing.T) *wallet.MemoryStore {
	t.Helper()
	store := wallet.NewMemoryStore()
	ctx := context.Background()

	_, err := store.CreditShared(ctx, "school-1", decimal.NewFromInt(500), "starter", t0.AddDate(1, 0, 0), t0)
	require.NoError(t, err)
	_, err = store.CreditPersonal(ctx, "school-1", "stu-1", wallet.KindStudent, decimal.NewFromInt(30), t0)
	require.NoError(t, err)
	_, err = store.CreditPersonal(ctx, "school-1", "stu-2", wallet.KindStudent, decimal.NewFromInt(5), t0)
	require.NoError(t, err)

	// stu-1 spends 12 on chat: 10 personal leaves 20, plus 2 from the pool.
	_, err = store.Debit(ctx, wallet.DebitRequest{
		TenantID:     "school-1",
		UserID:       "stu-1",
		UserKind:     wallet.KindStudent,
		FromPersonal: decimal.NewFromInt(10),
		FromShared:   decimal.NewFromInt(2),
		At:           t0.Add(time.Hour),
		FeatureName:  "ai_study_chat",
		Count:        6,
		TotalDebited: decimal.NewFromInt(12),
	})
	require.NoError(t, err)
	_, err = store.Debit(ctx, wallet.DebitRequest{
		TenantID:     "school-1",
		UserID:       "stu-2",
		UserKind:     wallet.KindStudent,
		FromPersonal: decimal.NewFromInt(3),
		FromShared:   decimal.Zero,
		At:           t0.Add(2 * time.Hour),
		FeatureName:  "doubt_solver",
		Count:        3,
		TotalDebited: decimal.NewFromInt(3),
	})
	require.NoError(t, err)
	return store
}

func TestBalance(t *testing.T) {
	store := seedStore(t)
	svc := NewService(store, decimal.NewFromInt(10))

	b, err := svc.Balance(context.Background(), "school-1", "stu-1")
	require.NoError(t, err)
	assert.True(t, b.WalletExists)
	assert.Equal(t, "20", b.PersonalAvailable.String())
	assert.Equal(t, "495", b.SharedAvailable.String())
	assert.Equal(t, "515", b.TotalAvailable.String())
}

func TestBalanceWithoutPersonalWallet(t *testing.T) {
	store := seedStore(t)
	svc := NewService(store, decimal.NewFromInt(10))

	b, err := svc.Balance(context.Background(), "school-1", "newcomer")
	require.NoError(t, err)
	assert.False(t, b.WalletExists)
	assert.True(t, b.PersonalAvailable.IsZero())
	assert.Equal(t, b.SharedAvailable.String(), b.TotalAvailable.String())
}

func TestUserUsageAggregates(t *testing.T) {
	store := seedStore(t)
	svc := NewService(store, decimal.NewFromInt(10))

	report, err := svc.UserUsage(context.Background(), "school-1", "stu-1", t0)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Transactions)
	assert.Equal(t, "12", report.TotalDebited.String())
	assert.Equal(t, "10", report.FromPersonal.String())
	assert.Equal(t, "2", report.FromShared.String())
	assert.Equal(t, "12", report.ByFeature["ai_study_chat"].String())
}

func TestUsageWindowIsHalfOpen(t *testing.T) {
	store := seedStore(t)
	svc := NewService(store, decimal.NewFromInt(10))

	// A window opening after stu-1's debit excludes it.
	report, err := svc.UserUsage(context.Background(), "school-1", "stu-1", t0.Add(90*time.Minute))
	require.NoError(t, err)
	assert.Zero(t, report.Transactions)
	assert.True(t, report.TotalDebited.IsZero())

	// A window opening exactly at the debit includes it.
	report, err = svc.UserUsage(context.Background(), "school-1", "stu-1", t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Transactions)
}

func TestRollup(t *testing.T) {
	store := seedStore(t)
	svc := NewService(store, decimal.NewFromInt(10))

	r, err := svc.Rollup(context.Background(), "school-1", t0)
	require.NoError(t, err)
	assert.Equal(t, "495", r.SharedAvailable.String())
	// stu-1 has 20 left, stu-2 has 2 left.
	assert.Equal(t, "22", r.SumPersonalAvailable.String())
	assert.Equal(t, 2, r.ActiveWallets)
	assert.Equal(t, "15", r.TotalDebited.String())
	assert.Equal(t, "13", r.FromPersonal.String())
	assert.Equal(t, "2", r.FromShared.String())
	assert.Equal(t, []string{"stu-2"}, r.LowBalanceUsers)
}

func TestRollupEmptyTenant(t *testing.T) {
	svc := NewService(wallet.NewMemoryStore(), decimal.NewFromInt(10))

	r, err := svc.Rollup(context.Background(), "school-empty", t0)
	require.NoError(t, err)
	assert.True(t, r.SharedAvailable.IsZero())
	assert.Zero(t, r.ActiveWallets)
	assert.True(t, r.TotalDebited.IsZero())
	assert.Empty(t, r.LowBalanceUsers)
}
