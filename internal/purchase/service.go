package purchase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/schooltino/creditcore/internal/catalog"
	"github.com/schooltino/creditcore/internal/idgen"
	"github.com/schooltino/creditcore/internal/logging"
	"github.com/schooltino/creditcore/internal/traces"
	"github.com/schooltino/creditcore/internal/wallet"
)

// PlanPurchase is one verified plan payment to activate.
type PlanPurchase struct {
	TenantID        string
	PlanID          string
	GatewayRef      string
	PaymentVerified bool
	At              time.Time // zero means now
}

// PackPurchase is one verified personal top-up to activate.
type PackPurchase struct {
	TenantID        string
	UserID          string
	UserKind        wallet.UserKind
	PackID          string
	GatewayRef      string
	PaymentVerified bool
	At              time.Time
}

// PlanResult reports a completed plan activation. Replayed indicates the
// gateway reference had already been activated and nothing new was
// credited.
type PlanResult struct {
	Transaction   *wallet.Transaction  `json:"transaction"`
	SharedWallet  *wallet.SharedWallet `json:"sharedWallet,omitempty"`
	UsersCredited int                  `json:"usersCredited"`
	Replayed      bool                 `json:"replayed"`
}

// PackResult reports a completed pack activation.
type PackResult struct {
	Transaction *wallet.Transaction    `json:"transaction"`
	Wallet      *wallet.PersonalWallet `json:"wallet,omitempty"`
	Replayed    bool                   `json:"replayed"`
}

// Service activates verified purchases against the wallet store.
type Service struct {
	store  wallet.Store
	roster RecipientEnumerator
	now    func() time.Time
}

// NewService creates an activator. roster may be nil for deployments that
// only sell packs; plan activation then fails loudly.
func NewService(store wallet.Store, roster RecipientEnumerator) *Service {
	return &Service{store: store, roster: roster, now: time.Now}
}

// WithClock overrides the service time source. Test hook.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// ActivatePlan credits the tenant's shared pool and fans out per-user
// credits to every active roster user, then appends the purchase
// transaction. The transaction commits last, so its presence proves the
// whole fan-out completed; a crash mid-fan-out leaves per-recipient marks
// behind and a retried activation resumes where it stopped without
// double-crediting anyone.
func (s *Service) ActivatePlan(ctx context.Context, p PlanPurchase) (*PlanResult, error) {
	ctx, span := traces.StartSpan(ctx, "purchase.activate_plan",
		traces.Tenant(p.TenantID),
		traces.PlanID(p.PlanID),
		traces.GatewayRef(p.GatewayRef),
	)
	defer span.End()

	if !p.PaymentVerified {
		return nil, ErrPaymentNotVerified
	}
	if p.TenantID == "" || p.GatewayRef == "" {
		return nil, fmt.Errorf("%w: tenant and gateway ref are required", wallet.ErrInvalidRequest)
	}

	// A committed purchase transaction means a prior activation finished.
	// The replay check runs before the catalog lookup: a reference that
	// already committed replays even if its plan has since left the
	// catalog.
	if prior, err := s.store.GetPurchaseByRef(ctx, p.GatewayRef); err == nil {
		logging.L(ctx).Info("plan activation replayed",
			"tenant", p.TenantID,
			"plan", p.PlanID,
			"ref", p.GatewayRef,
		)
		planReplayTotal.Inc()
		return &PlanResult{Transaction: prior, Replayed: true}, nil
	} else if !errors.Is(err, wallet.ErrWalletNotFound) {
		return nil, err
	}

	plan, err := catalog.GetPlan(p.PlanID)
	if err != nil {
		return nil, err
	}
	if s.roster == nil {
		return nil, fmt.Errorf("%w: no recipient source configured", wallet.ErrInvalidRequest)
	}
	at := p.At
	if at.IsZero() {
		at = s.now()
	}

	expiry := at.AddDate(0, 0, plan.ValidityDays)
	if _, err := s.store.CreditSharedOnce(ctx, p.TenantID, plan.SharedCredits, plan.ID, expiry, at, p.GatewayRef); err != nil {
		return nil, err
	}

	recipients, err := s.roster.ActiveRecipients(ctx, p.TenantID)
	if err != nil {
		return nil, fmt.Errorf("enumerating recipients: %w", err)
	}
	// credited counts every recipient holding this reference's credit by
	// the time the purchase commits, whether this attempt applied it or a
	// crashed earlier one did. newly counts this attempt's work only.
	credited := 0
	newly := 0
	for _, r := range recipients {
		kind := wallet.UserKind(r.UserKind)
		if !wallet.ValidUserKind(kind) {
			continue
		}
		applied, err := s.store.CreditPersonalOnce(ctx, p.TenantID, r.UserID, kind, plan.PerUserCredits, at, p.GatewayRef)
		if err != nil {
			return nil, fmt.Errorf("crediting user %s: %w", r.UserID, err)
		}
		credited++
		if applied {
			newly++
		}
	}

	txn := &wallet.Transaction{
		ID:              idgen.WithPrefix("txn_"),
		Kind:            wallet.TxnPlanPurchase,
		TenantID:        p.TenantID,
		At:              at,
		PlanID:          plan.ID,
		SharedCredited:  plan.SharedCredits,
		PerUserCredited: plan.PerUserCredits,
		UsersCredited:   credited,
		AmountPaidMinor: plan.PriceMinorUnits,
		GatewayRef:      p.GatewayRef,
	}
	committed, err := s.store.AppendPurchase(ctx, txn)
	if err != nil {
		return nil, err
	}

	shared, err := s.store.GetShared(ctx, p.TenantID)
	if err != nil {
		return nil, err
	}
	logging.L(ctx).Info("plan activated",
		"tenant", p.TenantID,
		"plan", plan.ID,
		"ref", p.GatewayRef,
		"recipients", len(recipients),
		"credited", credited,
		"newly_credited", newly,
	)
	planActivationsTotal.WithLabelValues(plan.ID).Inc()
	return &PlanResult{
		Transaction:   committed,
		SharedWallet:  shared,
		UsersCredited: credited,
	}, nil
}

// ActivatePack credits a single personal wallet, creating it on first
// purchase. Idempotent on the gateway reference.
func (s *Service) ActivatePack(ctx context.Context, p PackPurchase) (*PackResult, error) {
	ctx, span := traces.StartSpan(ctx, "purchase.activate_pack",
		traces.Tenant(p.TenantID),
		traces.User(p.UserID),
		traces.PackID(p.PackID),
		traces.GatewayRef(p.GatewayRef),
	)
	defer span.End()

	if !p.PaymentVerified {
		return nil, ErrPaymentNotVerified
	}
	if p.TenantID == "" || p.UserID == "" || p.GatewayRef == "" {
		return nil, fmt.Errorf("%w: tenant, user and gateway ref are required", wallet.ErrInvalidRequest)
	}
	if !wallet.ValidUserKind(p.UserKind) {
		return nil, fmt.Errorf("%w: unknown user kind %q", wallet.ErrInvalidRequest, p.UserKind)
	}

	// Replay before the catalog lookup, as in ActivatePlan.
	if prior, err := s.store.GetPurchaseByRef(ctx, p.GatewayRef); err == nil {
		logging.L(ctx).Info("pack activation replayed",
			"tenant", p.TenantID,
			"user", p.UserID,
			"pack", p.PackID,
			"ref", p.GatewayRef,
		)
		packReplayTotal.Inc()
		return &PackResult{Transaction: prior, Replayed: true}, nil
	} else if !errors.Is(err, wallet.ErrWalletNotFound) {
		return nil, err
	}

	pack, err := catalog.GetPack(p.PackID)
	if err != nil {
		return nil, err
	}
	at := p.At
	if at.IsZero() {
		at = s.now()
	}

	if _, err := s.store.CreditPersonalOnce(ctx, p.TenantID, p.UserID, p.UserKind, pack.Credits, at, p.GatewayRef); err != nil {
		return nil, err
	}

	txn := &wallet.Transaction{
		ID:              idgen.WithPrefix("txn_"),
		Kind:            wallet.TxnPackPurchase,
		TenantID:        p.TenantID,
		UserID:          p.UserID,
		At:              at,
		PackID:          pack.ID,
		Credits:         pack.Credits,
		AmountPaidMinor: pack.PriceMinorUnits,
		GatewayRef:      p.GatewayRef,
	}
	committed, err := s.store.AppendPurchase(ctx, txn)
	if err != nil {
		return nil, err
	}

	w, err := s.store.GetPersonal(ctx, p.TenantID, p.UserID)
	if err != nil {
		return nil, err
	}
	logging.L(ctx).Info("pack activated",
		"tenant", p.TenantID,
		"user", p.UserID,
		"pack", pack.ID,
		"ref", p.GatewayRef,
	)
	packActivationsTotal.WithLabelValues(pack.ID).Inc()
	return &PackResult{Transaction: committed, Wallet: w}, nil
}
