// Package reporting derives read-only views from wallet state and the
// transaction log. Nothing here mutates; windows are half-open
// [since, now).
package reporting

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/schooltino/creditcore/internal/wallet"
)

// Balance is a user's spendable position. TotalAvailable bounds the
// consumption that is guaranteed to succeed without a soft-limit grant.
type Balance struct {
	TenantID          string          `json:"tenantId"`
	UserID            string          `json:"userId"`
	PersonalAvailable decimal.Decimal `json:"personalAvailable"`
	SharedAvailable   decimal.Decimal `json:"sharedAvailable"`
	TotalAvailable    decimal.Decimal `json:"totalAvailable"`
	WalletExists      bool            `json:"walletExists"`
}

// UsageReport aggregates one user's usage transactions over a window.
type UsageReport struct {
	TenantID     string                     `json:"tenantId"`
	UserID       string                     `json:"userId,omitempty"`
	Since        time.Time                  `json:"since"`
	TotalDebited decimal.Decimal            `json:"totalDebited"`
	FromPersonal decimal.Decimal            `json:"fromPersonal"`
	FromShared   decimal.Decimal            `json:"fromShared"`
	ByFeature    map[string]decimal.Decimal `json:"byFeature"`
	Transactions int                        `json:"transactions"`
}

// TenantRollup is the tenant-wide position plus windowed consumption
// totals and the wallets running low.
type TenantRollup struct {
	TenantID             string          `json:"tenantId"`
	SharedAvailable      decimal.Decimal `json:"sharedAvailable"`
	SumPersonalAvailable decimal.Decimal `json:"sumPersonalAvailable"`
	ActiveWallets        int             `json:"activeWallets"`
	Since                time.Time       `json:"since"`
	TotalDebited         decimal.Decimal `json:"totalDebited"`
	FromPersonal         decimal.Decimal `json:"fromPersonal"`
	FromShared           decimal.Decimal `json:"fromShared"`
	LowBalanceUsers      []string        `json:"lowBalanceUsers,omitempty"`
}

// Service computes reporting views over a wallet store.
type Service struct {
	store wallet.Store

	// lowThreshold marks personal wallets as low in the tenant rollup.
	lowThreshold decimal.Decimal
}

// NewService creates a reporting service. threshold feeds the rollup's
// low-balance list and matches the consumption engine's warning floor.
func NewService(store wallet.Store, threshold decimal.Decimal) *Service {
	return &Service{store: store, lowThreshold: threshold}
}

// Balance returns the user's position. A user with no personal wallet
// still reports the tenant's shared availability.
func (s *Service) Balance(ctx context.Context, tenantID, userID string) (*Balance, error) {
	shared, err := s.store.GetShared(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	b := &Balance{
		TenantID:          tenantID,
		UserID:            userID,
		PersonalAvailable: decimal.Zero,
		SharedAvailable:   shared.Available(),
	}
	personal, err := s.store.GetPersonal(ctx, tenantID, userID)
	switch {
	case err == nil:
		b.PersonalAvailable = personal.Available()
		b.WalletExists = true
	case errors.Is(err, wallet.ErrWalletNotFound):
		// No wallet yet: the user spends from the pool only.
	default:
		return nil, err
	}
	b.TotalAvailable = b.PersonalAvailable.Add(b.SharedAvailable)
	return b, nil
}

// UserUsage aggregates the user's usage transactions in [since, now).
func (s *Service) UserUsage(ctx context.Context, tenantID, userID string, since time.Time) (*UsageReport, error) {
	txns, err := s.store.QueryUsage(ctx, tenantID, userID, since)
	if err != nil {
		return nil, err
	}
	report := newUsageReport(tenantID, userID, since)
	for _, txn := range txns {
		report.add(txn)
	}
	return report, nil
}

// TenantUsage aggregates all of a tenant's usage in [since, now).
func (s *Service) TenantUsage(ctx context.Context, tenantID string, since time.Time) (*UsageReport, error) {
	txns, err := s.store.QueryTenantUsage(ctx, tenantID, since)
	if err != nil {
		return nil, err
	}
	report := newUsageReport(tenantID, "", since)
	for _, txn := range txns {
		report.add(txn)
	}
	return report, nil
}

// Rollup returns the tenant-wide position with windowed totals.
func (s *Service) Rollup(ctx context.Context, tenantID string, since time.Time) (*TenantRollup, error) {
	shared, err := s.store.GetShared(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	wallets, err := s.store.ListPersonalWallets(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	usage, err := s.TenantUsage(ctx, tenantID, since)
	if err != nil {
		return nil, err
	}

	r := &TenantRollup{
		TenantID:             tenantID,
		SharedAvailable:      shared.Available(),
		SumPersonalAvailable: decimal.Zero,
		ActiveWallets:        len(wallets),
		Since:                since,
		TotalDebited:         usage.TotalDebited,
		FromPersonal:         usage.FromPersonal,
		FromShared:           usage.FromShared,
	}
	for _, w := range wallets {
		avail := w.Available()
		r.SumPersonalAvailable = r.SumPersonalAvailable.Add(avail)
		if avail.LessThanOrEqual(s.lowThreshold) {
			r.LowBalanceUsers = append(r.LowBalanceUsers, w.UserID)
		}
	}
	return r, nil
}

func newUsageReport(tenantID, userID string, since time.Time) *UsageReport {
	return &UsageReport{
		TenantID:     tenantID,
		UserID:       userID,
		Since:        since,
		TotalDebited: decimal.Zero,
		FromPersonal: decimal.Zero,
		FromShared:   decimal.Zero,
		ByFeature:    make(map[string]decimal.Decimal),
	}
}

func (r *UsageReport) add(txn *wallet.Transaction) {
	r.TotalDebited = r.TotalDebited.Add(txn.TotalDebited)
	r.FromPersonal = r.FromPersonal.Add(txn.DebitedPersonal)
	r.FromShared = r.FromShared.Add(txn.DebitedShared)
	r.ByFeature[txn.FeatureName] = r.ByFeature[txn.FeatureName].Add(txn.TotalDebited)
	r.Transactions++
}
