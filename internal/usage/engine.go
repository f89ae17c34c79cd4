// Package usage applies the priority-order debit rule: a user's personal
// wallet is always drained before the tenant's shared pool. Personal
// top-ups are cheaper per credit, so personal-first consumption is what
// makes self-recharge worthwhile; it is the only behavioural difference
// between the two wallet kinds.
package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/schooltino/creditcore/internal/catalog"
	"github.com/schooltino/creditcore/internal/logging"
	"github.com/schooltino/creditcore/internal/retry"
	"github.com/schooltino/creditcore/internal/traces"
	"github.com/schooltino/creditcore/internal/wallet"
)

// Debits are retried a few times when the balance moved under us before
// the conflict is surfaced to the caller.
const (
	debitAttempts  = 3
	debitBaseDelay = 20 * time.Millisecond
)

// Warning classifies the wallet state after a successful consumption.
// Warnings are advisory; they are never errors.
type Warning string

const (
	WarningNone            Warning = "none"
	WarningLowPersonal     Warning = "low_personal"
	WarningDrainedPersonal Warning = "drained_personal"
	WarningBothDrained     Warning = "both_drained"
)

// Result reports how a consumption was funded.
type Result struct {
	FromPersonal      decimal.Decimal     `json:"fromPersonal"`
	FromShared        decimal.Decimal     `json:"fromShared"`
	RemainingPersonal decimal.Decimal     `json:"remainingPersonal"`
	RemainingShared   decimal.Decimal     `json:"remainingShared"`
	SoftLimit         bool                `json:"softLimit"`
	Warning           Warning             `json:"warning"`
	Transaction       *wallet.Transaction `json:"transaction,omitempty"`
}

// Engine is the consumption engine.
type Engine struct {
	store wallet.Store
	now   func() time.Time

	// lowThreshold is the personal balance at or below which the result
	// carries WarningLowPersonal. Deployment constant.
	lowThreshold decimal.Decimal

	// recordFree controls whether free features append a zero-valued
	// usage transaction. Either way they never touch wallet balances;
	// the choice only affects the audit log and is fixed per deployment.
	recordFree bool
}

// Option configures the engine.
type Option func(*Engine)

// WithClock overrides the engine's time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLowBalanceThreshold overrides the low-personal warning floor.
func WithLowBalanceThreshold(t decimal.Decimal) Option {
	return func(e *Engine) { e.lowThreshold = t }
}

// WithFreeUsageRecording enables zero-valued transactions for free features.
func WithFreeUsageRecording(record bool) Option {
	return func(e *Engine) { e.recordFree = record }
}

// NewEngine creates a consumption engine over the given store.
func NewEngine(store wallet.Store, opts ...Option) *Engine {
	e := &Engine{
		store:        store,
		now:          time.Now,
		lowThreshold: decimal.NewFromInt(10),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Consume debits unit_cost(feature) x count from the user's wallets,
// personal first. The call succeeds even when the combined balances
// cannot cover the debit: both wallets drain to zero, the transaction
// records the full amount, and SoftLimit flags the shortfall for
// operators. Availability of classroom features wins over strict
// metering.
func (e *Engine) Consume(ctx context.Context, tenantID, userID string, kind wallet.UserKind, feature string, count int64) (*Result, error) {
	if count < 1 {
		return nil, fmt.Errorf("%w: count must be >= 1", wallet.ErrInvalidRequest)
	}
	if tenantID == "" || userID == "" {
		return nil, fmt.Errorf("%w: tenant and user are required", wallet.ErrInvalidRequest)
	}
	if !wallet.ValidUserKind(kind) {
		return nil, fmt.Errorf("%w: unknown user kind %q", wallet.ErrInvalidRequest, kind)
	}

	ctx, span := traces.StartSpan(ctx, "usage.consume",
		traces.Tenant(tenantID),
		traces.User(userID),
		traces.Feature(feature),
	)
	defer span.End()

	unit := catalog.FeatureCost(feature)
	if !catalog.KnownFeature(feature) {
		// Unknown features consume at the default cost so freshly shipped
		// features keep working during a rolling upgrade. The literal name
		// lands in the log for catalogue reconciliation.
		unknownFeatureTotal.WithLabelValues(feature).Inc()
		logging.L(ctx).Warn("consuming unknown feature at default cost",
			"feature", feature,
			"tenant", tenantID,
		)
	}
	need := unit.Mul(decimal.NewFromInt(count))
	span.SetAttributes(traces.Amount(need.String()))
	now := e.now()

	if need.IsZero() {
		return e.consumeFree(ctx, tenantID, userID, feature, count, now)
	}

	var (
		p, s                     decimal.Decimal
		fromPersonal, fromShared decimal.Decimal
		softLimit                bool
		warning                  Warning
		txn                      *wallet.Transaction
	)

	// Balances are read, the split computed, and the debit applied against
	// the balances we read. A concurrent debit invalidates the split, so
	// the whole sequence is retried with fresh balances.
	err := retry.Do(ctx, debitAttempts, debitBaseDelay, func() error {
		personal, err := e.store.CreatePersonalIfAbsent(ctx, tenantID, userID, kind)
		if err != nil {
			return retry.Permanent(err)
		}
		shared, err := e.store.GetShared(ctx, tenantID)
		if err != nil {
			return retry.Permanent(err)
		}

		p = personal.Available()
		s = shared.Available()
		softLimit = false
		warning = WarningNone

		switch {
		case p.GreaterThanOrEqual(need):
			fromPersonal = need
			fromShared = decimal.Zero
			if p.Sub(need).LessThanOrEqual(e.lowThreshold) {
				warning = WarningLowPersonal
			}
		case p.Add(s).GreaterThanOrEqual(need):
			fromPersonal = p
			fromShared = need.Sub(p)
			warning = WarningDrainedPersonal
		default:
			// Soft limit: grant the feature, drain whatever is there, log the
			// full amount for audit. The shortfall is never deducted.
			fromPersonal = p
			fromShared = s
			softLimit = true
			warning = WarningBothDrained
		}

		txn, err = e.store.Debit(ctx, wallet.DebitRequest{
			TenantID:     tenantID,
			UserID:       userID,
			UserKind:     kind,
			FromPersonal: fromPersonal,
			FromShared:   fromShared,
			At:           now,
			FeatureName:  feature,
			Count:        count,
			TotalDebited: need,
			SoftLimit:    softLimit,
		})
		if err != nil {
			if errors.Is(err, wallet.ErrConcurrentModification) {
				return err
			}
			return retry.Permanent(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	creditsConsumedTotal.WithLabelValues("personal").Add(toFloat(fromPersonal))
	creditsConsumedTotal.WithLabelValues("shared").Add(toFloat(fromShared))
	if softLimit {
		softLimitGrantsTotal.Inc()
		logging.L(ctx).Warn("consumption granted under soft limit",
			"tenant", tenantID,
			"user", userID,
			"feature", feature,
			"needed", need.String(),
			"covered", fromPersonal.Add(fromShared).String(),
		)
	}

	return &Result{
		FromPersonal:      fromPersonal,
		FromShared:        fromShared,
		RemainingPersonal: p.Sub(fromPersonal),
		RemainingShared:   s.Sub(fromShared),
		SoftLimit:         softLimit,
		Warning:           warning,
		Transaction:       txn,
	}, nil
}

// consumeFree handles zero-cost features. Wallet state is never touched.
func (e *Engine) consumeFree(ctx context.Context, tenantID, userID, feature string, count int64, now time.Time) (*Result, error) {
	res := &Result{
		FromPersonal:      decimal.Zero,
		FromShared:        decimal.Zero,
		RemainingPersonal: decimal.Zero,
		RemainingShared:   decimal.Zero,
		Warning:           WarningNone,
	}

	if personal, err := e.store.GetPersonal(ctx, tenantID, userID); err == nil {
		res.RemainingPersonal = personal.Available()
	}
	if shared, err := e.store.GetShared(ctx, tenantID); err == nil {
		res.RemainingShared = shared.Available()
	}

	if e.recordFree {
		txn, err := e.store.AppendUsage(ctx, &wallet.Transaction{
			Kind:            wallet.TxnUsage,
			TenantID:        tenantID,
			UserID:          userID,
			At:              now,
			FeatureName:     feature,
			Count:           count,
			TotalDebited:    decimal.Zero,
			DebitedPersonal: decimal.Zero,
			DebitedShared:   decimal.Zero,
		})
		if err != nil {
			return nil, err
		}
		res.Transaction = txn
	}
	return res, nil
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
