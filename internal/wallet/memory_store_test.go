package wallet

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestGetSharedUnprovisioned(t *testing.T) {
	store := NewMemoryStore()

	w, err := store.GetShared(context.Background(), "school-1")
	require.NoError(t, err)
	assert.True(t, w.Available().IsZero())
	assert.False(t, w.Provisioned())
}

func TestCreditSharedProvisions(t *testing.T) {
	store := NewMemoryStore()
	expiry := t0.AddDate(1, 0, 0)

	w, err := store.CreditShared(context.Background(), "school-1", decimal.NewFromInt(500), "starter", expiry, t0)
	require.NoError(t, err)
	assert.True(t, w.Provisioned())
	assert.Equal(t, "starter", w.CurrentPlanID)
	assert.Equal(t, "500", w.Available().String())
	require.NotNil(t, w.PlanExpiry)
	assert.Equal(t, expiry, *w.PlanExpiry)
}

func TestCreditRejectsNegativeAmounts(t *testing.T) {
	store := NewMemoryStore()

	_, err := store.CreditShared(context.Background(), "school-1", decimal.NewFromInt(-1), "starter", t0, t0)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = store.CreditPersonal(context.Background(), "school-1", "stu-1", KindStudent, decimal.NewFromInt(-1), t0)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestCreatePersonalIfAbsentIsIdempotent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	w1, err := store.CreatePersonalIfAbsent(ctx, "school-1", "stu-1", KindStudent)
	require.NoError(t, err)
	_, err = store.CreditPersonal(ctx, "school-1", "stu-1", KindStudent, decimal.NewFromInt(10), t0)
	require.NoError(t, err)

	// A second create never resets the balance or re-kinds the wallet.
	w2, err := store.CreatePersonalIfAbsent(ctx, "school-1", "stu-1", KindTeacher)
	require.NoError(t, err)
	assert.Equal(t, w1.CreatedAt, w2.CreatedAt)
	assert.Equal(t, KindStudent, w2.UserKind)
	assert.Equal(t, "10", w2.Available().String())
}

func TestCreatePersonalIfAbsentConcurrent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.CreatePersonalIfAbsent(ctx, "school-1", "stu-1", KindStudent)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	wallets, err := store.ListPersonalWallets(ctx, "school-1")
	require.NoError(t, err)
	assert.Len(t, wallets, 1)
}

func TestDebitSplitsAcrossWallets(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.CreditShared(ctx, "school-1", decimal.NewFromInt(100), "starter", t0.AddDate(1, 0, 0), t0)
	require.NoError(t, err)
	_, err = store.CreditPersonal(ctx, "school-1", "stu-1", KindStudent, decimal.NewFromInt(5), t0)
	require.NoError(t, err)

	txn, err := store.Debit(ctx, DebitRequest{
		TenantID:     "school-1",
		UserID:       "stu-1",
		UserKind:     KindStudent,
		FromPersonal: decimal.NewFromInt(5),
		FromShared:   decimal.NewFromInt(7),
		At:           t0.Add(time.Hour),
		FeatureName:  "ai_study_chat",
		Count:        6,
		TotalDebited: decimal.NewFromInt(12),
	})
	require.NoError(t, err)
	assert.Equal(t, TxnUsage, txn.Kind)
	assert.Equal(t, "5", txn.DebitedPersonal.String())
	assert.Equal(t, "7", txn.DebitedShared.String())

	personal, err := store.GetPersonal(ctx, "school-1", "stu-1")
	require.NoError(t, err)
	assert.True(t, personal.Available().IsZero())
	shared, err := store.GetShared(ctx, "school-1")
	require.NoError(t, err)
	assert.Equal(t, "93", shared.Available().String())
}

func TestDebitRejectsStaleBalances(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.CreditPersonal(ctx, "school-1", "stu-1", KindStudent, decimal.NewFromInt(3), t0)
	require.NoError(t, err)

	_, err = store.Debit(ctx, DebitRequest{
		TenantID:     "school-1",
		UserID:       "stu-1",
		UserKind:     KindStudent,
		FromPersonal: decimal.NewFromInt(5),
		At:           t0,
		FeatureName:  "doubt_solver",
		Count:        5,
		TotalDebited: decimal.NewFromInt(5),
	})
	assert.ErrorIs(t, err, ErrConcurrentModification)

	// Spilling into a pool that does not exist also loses the race.
	_, err = store.Debit(ctx, DebitRequest{
		TenantID:     "school-1",
		UserID:       "stu-1",
		UserKind:     KindStudent,
		FromPersonal: decimal.NewFromInt(1),
		FromShared:   decimal.NewFromInt(1),
		At:           t0,
		FeatureName:  "doubt_solver",
		Count:        2,
		TotalDebited: decimal.NewFromInt(2),
	})
	assert.ErrorIs(t, err, ErrConcurrentModification)

	// Neither failed attempt consumed anything.
	personal, err := store.GetPersonal(ctx, "school-1", "stu-1")
	require.NoError(t, err)
	assert.Equal(t, "3", personal.Available().String())
}

func TestFractionalDebitsAreExact(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.CreditPersonal(ctx, "school-1", "stu-1", KindStudent, decimal.NewFromInt(2), t0)
	require.NoError(t, err)

	half := decimal.NewFromFloat(0.5)
	for i := 0; i < 3; i++ {
		_, err = store.Debit(ctx, DebitRequest{
			TenantID:     "school-1",
			UserID:       "stu-1",
			UserKind:     KindStudent,
			FromPersonal: half,
			At:           t0,
			FeatureName:  "voice_assistant",
			Count:        1,
			TotalDebited: half,
		})
		require.NoError(t, err)
	}

	personal, err := store.GetPersonal(ctx, "school-1", "stu-1")
	require.NoError(t, err)
	assert.Equal(t, "0.5", personal.Available().String())
}

func TestMarkGuardedCreditsApplyOnce(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	amount := decimal.NewFromInt(10)

	for i, want := range []bool{true, false, false} {
		applied, err := store.CreditPersonalOnce(ctx, "school-1", "stu-1", KindStudent, amount, t0, "pay_1")
		require.NoError(t, err)
		assert.Equal(t, want, applied, "attempt %d", i)
	}
	w, err := store.GetPersonal(ctx, "school-1", "stu-1")
	require.NoError(t, err)
	assert.Equal(t, "10", w.Available().String())

	// A different reference credits again.
	applied, err := store.CreditPersonalOnce(ctx, "school-1", "stu-1", KindStudent, amount, t0, "pay_2")
	require.NoError(t, err)
	assert.True(t, applied)

	// The shared mark is scoped per reference too.
	applied, err = store.CreditSharedOnce(ctx, "school-1", decimal.NewFromInt(500), "starter", t0.AddDate(1, 0, 0), t0, "pay_1")
	require.NoError(t, err)
	assert.True(t, applied)
	applied, err = store.CreditSharedOnce(ctx, "school-1", decimal.NewFromInt(500), "starter", t0.AddDate(1, 0, 0), t0, "pay_1")
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestAppendPurchaseDeduplicatesByRef(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first, err := store.AppendPurchase(ctx, &Transaction{
		Kind:       TxnPackPurchase,
		TenantID:   "school-1",
		UserID:     "stu-1",
		At:         t0,
		PackID:     "mini",
		Credits:    decimal.NewFromInt(20),
		GatewayRef: "pay_1",
	})
	require.NoError(t, err)

	dup, err := store.AppendPurchase(ctx, &Transaction{
		Kind:       TxnPackPurchase,
		TenantID:   "school-1",
		UserID:     "stu-1",
		At:         t0.Add(time.Minute),
		PackID:     "mini",
		Credits:    decimal.NewFromInt(20),
		GatewayRef: "pay_1",
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, dup.ID)
	assert.Equal(t, first.At, dup.At)

	got, err := store.GetPurchaseByRef(ctx, "pay_1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)

	_, err = store.GetPurchaseByRef(ctx, "pay_missing")
	assert.ErrorIs(t, err, ErrWalletNotFound)
}

func TestQueryUsageFiltersAndOrders(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.CreditPersonal(ctx, "school-1", "stu-1", KindStudent, decimal.NewFromInt(100), t0)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = store.Debit(ctx, DebitRequest{
			TenantID:     "school-1",
			UserID:       "stu-1",
			UserKind:     KindStudent,
			FromPersonal: decimal.NewFromInt(1),
			At:           t0.Add(time.Duration(i) * time.Hour),
			FeatureName:  "doubt_solver",
			Count:        1,
			TotalDebited: decimal.NewFromInt(1),
		})
		require.NoError(t, err)
	}

	// Excludes entries before the window opens; newest first.
	txns, err := store.QueryUsage(ctx, "school-1", "stu-1", t0.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, txns, 2)
	assert.True(t, txns[0].At.After(txns[1].At))

	txns, err = store.QueryUsage(ctx, "school-1", "someone-else", t0)
	require.NoError(t, err)
	assert.Empty(t, txns)
}

func TestBalancesNeverGoNegative(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.CreditShared(ctx, "school-1", decimal.NewFromInt(10), "starter", t0.AddDate(1, 0, 0), t0)
	require.NoError(t, err)
	_, err = store.CreditPersonal(ctx, "school-1", "stu-1", KindStudent, decimal.NewFromInt(10), t0)
	require.NoError(t, err)

	// Hammer the same wallets; every accepted debit must be covered.
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			store.Debit(ctx, DebitRequest{
				TenantID:     "school-1",
				UserID:       "stu-1",
				UserKind:     KindStudent,
				FromPersonal: decimal.NewFromInt(1),
				FromShared:   decimal.NewFromInt(1),
				At:           t0,
				FeatureName:  "doubt_solver",
				Count:        2,
				TotalDebited: decimal.NewFromInt(2),
			})
		}()
	}
	wg.Wait()

	personal, err := store.GetPersonal(ctx, "school-1", "stu-1")
	require.NoError(t, err)
	shared, err := store.GetShared(ctx, "school-1")
	require.NoError(t, err)
	assert.False(t, personal.Available().IsNegative())
	assert.False(t, shared.Available().IsNegative())
	assert.True(t, personal.Available().IsZero())
	assert.True(t, shared.Available().IsZero())
}

func TestSoftLimitDebitRequiresExactDrain(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.CreditShared(ctx, "school-1", decimal.NewFromInt(3), "starter", t0.AddDate(1, 0, 0), t0)
	require.NoError(t, err)
	_, err = store.CreditPersonal(ctx, "school-1", "stu-1", KindStudent, decimal.NewFromInt(2), t0)
	require.NoError(t, err)

	// A credit landed after the split was computed: the personal wallet
	// holds 2 but the split claims it held 1. The drain must be rejected.
	_, err = store.Debit(ctx, DebitRequest{
		TenantID:     "school-1",
		UserID:       "stu-1",
		UserKind:     KindStudent,
		FromPersonal: decimal.NewFromInt(1),
		FromShared:   decimal.NewFromInt(3),
		At:           t0,
		FeatureName:  "doubt_solver",
		Count:        1,
		TotalDebited: decimal.NewFromInt(9),
		SoftLimit:    true,
	})
	assert.ErrorIs(t, err, ErrConcurrentModification)

	// Same for the shared side.
	_, err = store.Debit(ctx, DebitRequest{
		TenantID:     "school-1",
		UserID:       "stu-1",
		UserKind:     KindStudent,
		FromPersonal: decimal.NewFromInt(2),
		FromShared:   decimal.NewFromInt(1),
		At:           t0,
		FeatureName:  "doubt_solver",
		Count:        1,
		TotalDebited: decimal.NewFromInt(9),
		SoftLimit:    true,
	})
	assert.ErrorIs(t, err, ErrConcurrentModification)

	// Nothing was touched by the rejected drains.
	personal, err := store.GetPersonal(ctx, "school-1", "stu-1")
	require.NoError(t, err)
	assert.Equal(t, "2", personal.Available().String())

	// The exact split commits and leaves both wallets empty.
	txn, err := store.Debit(ctx, DebitRequest{
		TenantID:     "school-1",
		UserID:       "stu-1",
		UserKind:     KindStudent,
		FromPersonal: decimal.NewFromInt(2),
		FromShared:   decimal.NewFromInt(3),
		At:           t0,
		FeatureName:  "doubt_solver",
		Count:        1,
		TotalDebited: decimal.NewFromInt(9),
		SoftLimit:    true,
	})
	require.NoError(t, err)
	assert.True(t, txn.SoftLimit)

	personal, err = store.GetPersonal(ctx, "school-1", "stu-1")
	require.NoError(t, err)
	shared, err := store.GetShared(ctx, "school-1")
	require.NoError(t, err)
	assert.True(t, personal.Available().IsZero())
	assert.True(t, shared.Available().IsZero())
}
