package wallet

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/schooltino/creditcore/internal/idgen"
)

// MemoryStore is an in-memory wallet store for demo mode and tests.
// A single mutex serialises every mutation, which gives the same
// linearisability the Postgres store gets from transactions.
type MemoryStore struct {
	mu       sync.RWMutex
	shared   map[string]*SharedWallet       // tenant_id
	personal map[string]*PersonalWallet     // tenant_id + "/" + user_id
	txns     []*Transaction                 // append order = commit order
	byRef    map[string]*Transaction        // gateway_ref -> purchase txn
	marks    map[string]map[string]struct{} // gateway_ref -> user_id set
}

// NewMemoryStore creates an empty in-memory wallet store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		shared:   make(map[string]*SharedWallet),
		personal: make(map[string]*PersonalWallet),
		byRef:    make(map[string]*Transaction),
		marks:    make(map[string]map[string]struct{}),
	}
}

func personalKey(tenantID, userID string) string {
	return tenantID + "/" + userID
}

func (m *MemoryStore) GetShared(ctx context.Context, tenantID string) (*SharedWallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if w, ok := m.shared[tenantID]; ok {
		cp := *w
		return &cp, nil
	}
	return EmptyShared(tenantID), nil
}

func (m *MemoryStore) GetPersonal(ctx context.Context, tenantID, userID string) (*PersonalWallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if w, ok := m.personal[personalKey(tenantID, userID)]; ok {
		cp := *w
		return &cp, nil
	}
	return nil, ErrWalletNotFound
}

func (m *MemoryStore) CreatePersonalIfAbsent(ctx context.Context, tenantID, userID string, kind UserKind) (*PersonalWallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w := m.personalLocked(tenantID, userID, kind)
	cp := *w
	return &cp, nil
}

// personalLocked returns the wallet, creating a zero-balance one if absent.
// Caller holds the write lock.
func (m *MemoryStore) personalLocked(tenantID, userID string, kind UserKind) *PersonalWallet {
	key := personalKey(tenantID, userID)
	if w, ok := m.personal[key]; ok {
		return w
	}
	now := time.Now()
	w := &PersonalWallet{
		TenantID:      tenantID,
		UserID:        userID,
		UserKind:      kind,
		TotalCredited: decimal.Zero,
		TotalConsumed: decimal.Zero,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	m.personal[key] = w
	return w
}

func (m *MemoryStore) CreditShared(ctx context.Context, tenantID string, amount decimal.Decimal, planID string, expiry, at time.Time) (*SharedWallet, error) {
	if amount.IsNegative() {
		return nil, ErrInvalidAmount
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	w := m.creditSharedLocked(tenantID, amount, planID, expiry, at)
	cp := *w
	return &cp, nil
}

func (m *MemoryStore) creditSharedLocked(tenantID string, amount decimal.Decimal, planID string, expiry, at time.Time) *SharedWallet {
	w, ok := m.shared[tenantID]
	if !ok {
		w = EmptyShared(tenantID)
		m.shared[tenantID] = w
	}
	w.TotalCredited = w.TotalCredited.Add(amount)
	w.CurrentPlanID = planID
	e, p := expiry, at
	w.PlanExpiry = &e
	w.LastPurchaseAt = &p
	w.UpdatedAt = at
	return w
}

func (m *MemoryStore) CreditPersonal(ctx context.Context, tenantID, userID string, kind UserKind, amount decimal.Decimal, at time.Time) (*PersonalWallet, error) {
	if amount.IsNegative() {
		return nil, ErrInvalidAmount
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	w := m.personalLocked(tenantID, userID, kind)
	w.TotalCredited = w.TotalCredited.Add(amount)
	w.UpdatedAt = at
	cp := *w
	return &cp, nil
}

func (m *MemoryStore) CreditSharedOnce(ctx context.Context, tenantID string, amount decimal.Decimal, planID string, expiry, at time.Time, gatewayRef string) (bool, error) {
	if amount.IsNegative() {
		return false, ErrInvalidAmount
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.markLocked(gatewayRef, SharedCreditUserID) {
		return false, nil
	}
	m.creditSharedLocked(tenantID, amount, planID, expiry, at)
	return true, nil
}

func (m *MemoryStore) CreditPersonalOnce(ctx context.Context, tenantID, userID string, kind UserKind, amount decimal.Decimal, at time.Time, gatewayRef string) (bool, error) {
	if amount.IsNegative() {
		return false, ErrInvalidAmount
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.markLocked(gatewayRef, userID) {
		return false, nil
	}
	w := m.personalLocked(tenantID, userID, kind)
	w.TotalCredited = w.TotalCredited.Add(amount)
	w.UpdatedAt = at
	return true, nil
}

// markLocked records the fan-out mark, returning false if it already
// existed. Caller holds the write lock.
func (m *MemoryStore) markLocked(gatewayRef, userID string) bool {
	set, ok := m.marks[gatewayRef]
	if !ok {
		set = make(map[string]struct{})
		m.marks[gatewayRef] = set
	}
	if _, dup := set[userID]; dup {
		return false
	}
	set[userID] = struct{}{}
	return true
}

func (m *MemoryStore) Debit(ctx context.Context, req DebitRequest) (*Transaction, error) {
	if req.FromPersonal.IsNegative() || req.FromShared.IsNegative() {
		return nil, ErrInvalidAmount
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	personal := m.personalLocked(req.TenantID, req.UserID, req.UserKind)
	if req.SoftLimit {
		// A soft-limit split drains both wallets to zero, so it must still
		// match the balances exactly; a credit that landed after the
		// caller's balance read invalidates the whole split.
		if !personal.Available().Equal(req.FromPersonal) {
			return nil, ErrConcurrentModification
		}
	} else if personal.Available().LessThan(req.FromPersonal) {
		return nil, ErrConcurrentModification
	}

	shared, sharedExists := m.shared[req.TenantID]
	switch {
	case req.SoftLimit:
		if sharedExists && !shared.Available().Equal(req.FromShared) {
			return nil, ErrConcurrentModification
		}
		if !sharedExists && req.FromShared.IsPositive() {
			return nil, ErrConcurrentModification
		}
	case req.FromShared.IsPositive():
		if !sharedExists || shared.Available().LessThan(req.FromShared) {
			return nil, ErrConcurrentModification
		}
	}

	personal.TotalConsumed = personal.TotalConsumed.Add(req.FromPersonal)
	personal.UpdatedAt = req.At
	if req.FromShared.IsPositive() {
		shared.TotalConsumed = shared.TotalConsumed.Add(req.FromShared)
		shared.UpdatedAt = req.At
	}

	txn := &Transaction{
		ID:              idgen.WithPrefix("txn_"),
		Kind:            TxnUsage,
		TenantID:        req.TenantID,
		UserID:          req.UserID,
		At:              req.At,
		FeatureName:     req.FeatureName,
		Count:           req.Count,
		TotalDebited:    req.TotalDebited,
		DebitedPersonal: req.FromPersonal,
		DebitedShared:   req.FromShared,
		SoftLimit:       req.SoftLimit,
	}
	m.txns = append(m.txns, txn)

	cp := *txn
	return &cp, nil
}

func (m *MemoryStore) AppendUsage(ctx context.Context, txn *Transaction) (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *txn
	cp.Kind = TxnUsage
	if cp.ID == "" {
		cp.ID = idgen.WithPrefix("txn_")
	}
	m.txns = append(m.txns, &cp)

	out := cp
	return &out, nil
}

func (m *MemoryStore) AppendPurchase(ctx context.Context, txn *Transaction) (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if txn.GatewayRef != "" {
		if prior, ok := m.byRef[txn.GatewayRef]; ok {
			cp := *prior
			return &cp, nil
		}
	}

	cp := *txn
	if cp.ID == "" {
		cp.ID = idgen.WithPrefix("txn_")
	}
	m.txns = append(m.txns, &cp)
	if cp.GatewayRef != "" {
		m.byRef[cp.GatewayRef] = &cp
	}

	out := cp
	return &out, nil
}

func (m *MemoryStore) GetPurchaseByRef(ctx context.Context, gatewayRef string) (*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if txn, ok := m.byRef[gatewayRef]; ok {
		cp := *txn
		return &cp, nil
	}
	return nil, ErrWalletNotFound
}

func (m *MemoryStore) QueryUsage(ctx context.Context, tenantID, userID string, since time.Time) ([]*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Transaction
	for i := len(m.txns) - 1; i >= 0; i-- {
		t := m.txns[i]
		if t.Kind != TxnUsage || t.TenantID != tenantID || t.UserID != userID {
			continue
		}
		if t.At.Before(since) {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryStore) QueryTenantUsage(ctx context.Context, tenantID string, since time.Time) ([]*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Transaction
	for i := len(m.txns) - 1; i >= 0; i-- {
		t := m.txns[i]
		if t.Kind != TxnUsage || t.TenantID != tenantID {
			continue
		}
		if t.At.Before(since) {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryStore) ListPersonalWallets(ctx context.Context, tenantID string) ([]*PersonalWallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*PersonalWallet
	for _, w := range m.personal {
		if w.TenantID != tenantID {
			continue
		}
		cp := *w
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}
