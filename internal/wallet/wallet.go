// Package wallet persists the two wallet kinds and the append-only
// transaction log.
//
// Every tenant (school) owns one shared pool; every (tenant, user) pair
// owns at most one personal wallet. Balances are derived: available =
// total_credited - total_consumed, and both counters only ever grow.
// Consumption debits the personal wallet first, then spills into the
// shared pool; the split is recorded on each usage transaction.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidRequest         = errors.New("wallet: invalid request")
	ErrInvalidAmount          = fmt.Errorf("%w: invalid amount", ErrInvalidRequest)
	ErrStorageUnavailable     = errors.New("wallet: storage unavailable")
	ErrConcurrentModification = errors.New("wallet: concurrent modification")
	ErrWalletNotFound         = errors.New("wallet: not found")
)

// UserKind distinguishes the two personal wallet owners.
type UserKind string

const (
	KindStudent UserKind = "student"
	KindTeacher UserKind = "teacher"
)

// ValidUserKind reports whether k is a recognised user kind.
func ValidUserKind(k UserKind) bool {
	return k == KindStudent || k == KindTeacher
}

// TxnKind is the transaction log entry kind.
type TxnKind string

const (
	TxnPlanPurchase TxnKind = "plan_purchase"
	TxnPackPurchase TxnKind = "pack_purchase"
	TxnUsage        TxnKind = "usage"
)

// SharedWallet is the tenant-level credit pool.
type SharedWallet struct {
	TenantID       string          `json:"tenantId"`
	TotalCredited  decimal.Decimal `json:"totalCredited"`
	TotalConsumed  decimal.Decimal `json:"totalConsumed"`
	CurrentPlanID  string          `json:"currentPlanId,omitempty"`
	PlanExpiry     *time.Time      `json:"planExpiry,omitempty"`
	LastPurchaseAt *time.Time      `json:"lastPurchaseAt,omitempty"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// Available returns the spendable balance of the pool.
func (w *SharedWallet) Available() decimal.Decimal {
	return w.TotalCredited.Sub(w.TotalConsumed)
}

// Provisioned reports whether a plan purchase has ever hit this wallet.
// Expiry is advisory: an expired plan does not clamp the balance.
func (w *SharedWallet) Provisioned() bool {
	return w.CurrentPlanID != ""
}

// PersonalWallet is the per-(tenant, user) balance, spent before the pool.
type PersonalWallet struct {
	TenantID      string          `json:"tenantId"`
	UserID        string          `json:"userId"`
	UserKind      UserKind        `json:"userKind"`
	TotalCredited decimal.Decimal `json:"totalCredited"`
	TotalConsumed decimal.Decimal `json:"totalConsumed"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// Available returns the spendable balance of the wallet.
func (w *PersonalWallet) Available() decimal.Decimal {
	return w.TotalCredited.Sub(w.TotalConsumed)
}

// Transaction is one append-only log entry. Kind-specific fields are
// zero-valued for the other kinds.
type Transaction struct {
	ID       string    `json:"id"`
	Kind     TxnKind   `json:"kind"`
	TenantID string    `json:"tenantId"`
	UserID   string    `json:"userId,omitempty"` // empty for plan purchases
	At       time.Time `json:"at"`

	// usage
	FeatureName     string          `json:"featureName,omitempty"`
	Count           int64           `json:"count,omitempty"`
	TotalDebited    decimal.Decimal `json:"totalDebited"`
	DebitedPersonal decimal.Decimal `json:"debitedPersonal"`
	DebitedShared   decimal.Decimal `json:"debitedShared"`
	SoftLimit       bool            `json:"softLimit,omitempty"`

	// purchases
	PlanID          string          `json:"planId,omitempty"`
	PackID          string          `json:"packId,omitempty"`
	SharedCredited  decimal.Decimal `json:"sharedCredited"`
	PerUserCredited decimal.Decimal `json:"perUserCredited"`
	Credits         decimal.Decimal `json:"credits"`
	UsersCredited   int             `json:"usersCredited,omitempty"`
	AmountPaidMinor int64           `json:"amountPaidMinor,omitempty"`
	GatewayRef      string          `json:"gatewayRef,omitempty"`
}

// DebitRequest carries one atomic two-wallet debit plus its audit record.
// FromPersonal and FromShared are the amounts actually deducted; under a
// soft limit TotalDebited exceeds their sum and the shortfall is logged
// but not deducted.
type DebitRequest struct {
	TenantID     string
	UserID       string
	UserKind     UserKind
	FromPersonal decimal.Decimal
	FromShared   decimal.Decimal
	At           time.Time

	FeatureName  string
	Count        int64
	TotalDebited decimal.Decimal
	SoftLimit    bool
}

// SharedCreditUserID is the reserved fan-out mark owner for the shared
// pool credit, so a plan's pool credit is applied at most once per
// gateway reference just like each per-user credit.
const SharedCreditUserID = "#shared"

// Store is the durable wallet and transaction log storage.
//
// All operations return ErrStorageUnavailable (wrapped) on transport
// errors. Debit and the *Once credits are atomic: either every row they
// touch advances, or none do. Conditional updates guarantee a write never
// acts on a stale balance; a lost race surfaces as
// ErrConcurrentModification and the caller re-issues.
type Store interface {
	// GetShared returns the tenant's pool, or a zero-valued wallet if no
	// plan purchase has ever created one.
	GetShared(ctx context.Context, tenantID string) (*SharedWallet, error)

	// GetPersonal returns the user's wallet or ErrWalletNotFound.
	GetPersonal(ctx context.Context, tenantID, userID string) (*PersonalWallet, error)

	// CreatePersonalIfAbsent creates a zero-balance wallet, or returns the
	// existing one. Safe under concurrent callers: at most one wallet ever
	// exists per (tenant, user).
	CreatePersonalIfAbsent(ctx context.Context, tenantID, userID string, kind UserKind) (*PersonalWallet, error)

	// CreditShared increases the pool's total_credited and stamps the plan
	// fields. Rejects negative amounts with ErrInvalidAmount.
	CreditShared(ctx context.Context, tenantID string, amount decimal.Decimal, planID string, expiry, at time.Time) (*SharedWallet, error)

	// CreditPersonal creates the wallet if absent, then credits it.
	CreditPersonal(ctx context.Context, tenantID, userID string, kind UserKind, amount decimal.Decimal, at time.Time) (*PersonalWallet, error)

	// CreditSharedOnce is CreditShared guarded by a fan-out mark keyed on
	// (gatewayRef, SharedCreditUserID). Returns applied=false without
	// crediting when the mark already exists.
	CreditSharedOnce(ctx context.Context, tenantID string, amount decimal.Decimal, planID string, expiry, at time.Time, gatewayRef string) (bool, error)

	// CreditPersonalOnce is CreditPersonal guarded by a fan-out mark keyed
	// on (gatewayRef, userID). The mark and the credit commit together, so
	// a resumed fan-out never double-credits a recipient.
	CreditPersonalOnce(ctx context.Context, tenantID, userID string, kind UserKind, amount decimal.Decimal, at time.Time, gatewayRef string) (bool, error)

	// Debit applies one usage: consumes FromPersonal and FromShared on the
	// respective wallets and appends the usage transaction, all or nothing.
	Debit(ctx context.Context, req DebitRequest) (*Transaction, error)

	// AppendUsage records a usage transaction without touching any wallet.
	// Used for zero-cost features when the deployment records them.
	AppendUsage(ctx context.Context, txn *Transaction) (*Transaction, error)

	// AppendPurchase appends a purchase transaction. gateway_ref is unique
	// across purchases; appending a duplicate returns the committed
	// transaction instead of a new one.
	AppendPurchase(ctx context.Context, txn *Transaction) (*Transaction, error)

	// GetPurchaseByRef returns the committed purchase transaction for a
	// gateway reference, or ErrWalletNotFound if none exists.
	GetPurchaseByRef(ctx context.Context, gatewayRef string) (*Transaction, error)

	// QueryUsage returns a user's usage transactions in [since, now),
	// newest first.
	QueryUsage(ctx context.Context, tenantID, userID string, since time.Time) ([]*Transaction, error)

	// QueryTenantUsage returns all of a tenant's usage transactions in
	// [since, now), newest first.
	QueryTenantUsage(ctx context.Context, tenantID string, since time.Time) ([]*Transaction, error)

	// ListPersonalWallets returns every personal wallet of the tenant.
	ListPersonalWallets(ctx context.Context, tenantID string) ([]*PersonalWallet, error)
}

// EmptyShared returns a zero-valued pool for tenants that never purchased
// a plan. Callers treat it as a wallet with zero available credits.
func EmptyShared(tenantID string) *SharedWallet {
	return &SharedWallet{
		TenantID:      tenantID,
		TotalCredited: decimal.Zero,
		TotalConsumed: decimal.Zero,
		UpdatedAt:     time.Now(),
	}
}
