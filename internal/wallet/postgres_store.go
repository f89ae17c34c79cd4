package wallet

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/schooltino/creditcore/internal/idgen"
)

// PostgresStore implements Store with PostgreSQL.
//
// Single-wallet read-modify-write is done inside the database: every
// debit is a conditional UPDATE whose WHERE clause re-checks the balance,
// so a stale in-process read can never overwrite a concurrent write. The
// debit's two wallet updates and the transaction append share one
// database transaction.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed wallet store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// storeErr classifies a driver error into the store's sentinel errors.
func storeErr(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001": // serialization_failure
			return fmt.Errorf("%s: %w", op, ErrConcurrentModification)
		case "23514": // check_violation: a balance guard raced a writer
			return fmt.Errorf("%s: %w", op, ErrConcurrentModification)
		}
	}
	return fmt.Errorf("%s: %w: %v", op, ErrStorageUnavailable, err)
}

func (p *PostgresStore) GetShared(ctx context.Context, tenantID string) (*SharedWallet, error) {
	w := &SharedWallet{TenantID: tenantID}
	var planID sql.NullString
	var expiry, lastPurchase sql.NullTime

	err := p.db.QueryRowContext(ctx, `
		SELECT total_credited, total_consumed, current_plan_id, plan_expiry, last_purchase_at, updated_at
		FROM shared_wallets WHERE tenant_id = $1
	`, tenantID).Scan(&w.TotalCredited, &w.TotalConsumed, &planID, &expiry, &lastPurchase, &w.UpdatedAt)

	if err == sql.ErrNoRows {
		return EmptyShared(tenantID), nil
	}
	if err != nil {
		return nil, storeErr("get shared wallet", err)
	}

	w.CurrentPlanID = planID.String
	if expiry.Valid {
		t := expiry.Time
		w.PlanExpiry = &t
	}
	if lastPurchase.Valid {
		t := lastPurchase.Time
		w.LastPurchaseAt = &t
	}
	return w, nil
}

func (p *PostgresStore) GetPersonal(ctx context.Context, tenantID, userID string) (*PersonalWallet, error) {
	w := &PersonalWallet{TenantID: tenantID, UserID: userID}

	err := p.db.QueryRowContext(ctx, `
		SELECT user_kind, total_credited, total_consumed, created_at, updated_at
		FROM personal_wallets WHERE tenant_id = $1 AND user_id = $2
	`, tenantID, userID).Scan(&w.UserKind, &w.TotalCredited, &w.TotalConsumed, &w.CreatedAt, &w.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, storeErr("get personal wallet", err)
	}
	return w, nil
}

// CreatePersonalIfAbsent relies on the primary key: concurrent callers
// race on the INSERT and the loser reads the winner's row.
func (p *PostgresStore) CreatePersonalIfAbsent(ctx context.Context, tenantID, userID string, kind UserKind) (*PersonalWallet, error) {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO personal_wallets (tenant_id, user_id, user_kind, total_credited, total_consumed, created_at, updated_at)
		VALUES ($1, $2, $3, 0, 0, NOW(), NOW())
		ON CONFLICT (tenant_id, user_id) DO NOTHING
	`, tenantID, userID, kind)
	if err != nil {
		return nil, storeErr("create personal wallet", err)
	}
	return p.GetPersonal(ctx, tenantID, userID)
}

func (p *PostgresStore) CreditShared(ctx context.Context, tenantID string, amount decimal.Decimal, planID string, expiry, at time.Time) (*SharedWallet, error) {
	if amount.IsNegative() {
		return nil, ErrInvalidAmount
	}

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO shared_wallets (tenant_id, total_credited, total_consumed, current_plan_id, plan_expiry, last_purchase_at, updated_at)
		VALUES ($1, $2, 0, $3, $4, $5, $5)
		ON CONFLICT (tenant_id) DO UPDATE SET
			total_credited   = shared_wallets.total_credited + $2,
			current_plan_id  = $3,
			plan_expiry      = $4,
			last_purchase_at = $5,
			updated_at       = $5
	`, tenantID, amount, planID, expiry, at)
	if err != nil {
		return nil, storeErr("credit shared wallet", err)
	}
	return p.GetShared(ctx, tenantID)
}

func (p *PostgresStore) CreditPersonal(ctx context.Context, tenantID, userID string, kind UserKind, amount decimal.Decimal, at time.Time) (*PersonalWallet, error) {
	if amount.IsNegative() {
		return nil, ErrInvalidAmount
	}

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO personal_wallets (tenant_id, user_id, user_kind, total_credited, total_consumed, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, $5, $5)
		ON CONFLICT (tenant_id, user_id) DO UPDATE SET
			total_credited = personal_wallets.total_credited + $4,
			updated_at     = $5
	`, tenantID, userID, kind, amount, at)
	if err != nil {
		return nil, storeErr("credit personal wallet", err)
	}
	return p.GetPersonal(ctx, tenantID, userID)
}

// CreditSharedOnce inserts the fan-out mark and the pool credit in one
// database transaction; a duplicate mark means the credit already
// committed under this gateway reference.
func (p *PostgresStore) CreditSharedOnce(ctx context.Context, tenantID string, amount decimal.Decimal, planID string, expiry, at time.Time, gatewayRef string) (bool, error) {
	if amount.IsNegative() {
		return false, ErrInvalidAmount
	}

	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return false, storeErr("credit shared once", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO plan_fanout_marks (gateway_ref, user_id, marked_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (gateway_ref, user_id) DO NOTHING
	`, gatewayRef, SharedCreditUserID, at)
	if err != nil {
		return false, storeErr("credit shared once", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return false, nil
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO shared_wallets (tenant_id, total_credited, total_consumed, current_plan_id, plan_expiry, last_purchase_at, updated_at)
		VALUES ($1, $2, 0, $3, $4, $5, $5)
		ON CONFLICT (tenant_id) DO UPDATE SET
			total_credited   = shared_wallets.total_credited + $2,
			current_plan_id  = $3,
			plan_expiry      = $4,
			last_purchase_at = $5,
			updated_at       = $5
	`, tenantID, amount, planID, expiry, at)
	if err != nil {
		return false, storeErr("credit shared once", err)
	}

	if err := tx.Commit(); err != nil {
		return false, storeErr("credit shared once", err)
	}
	return true, nil
}

// CreditPersonalOnce: mark plus credit, atomically, per recipient. A
// resumed fan-out re-runs every recipient and each one no-ops or applies.
func (p *PostgresStore) CreditPersonalOnce(ctx context.Context, tenantID, userID string, kind UserKind, amount decimal.Decimal, at time.Time, gatewayRef string) (bool, error) {
	if amount.IsNegative() {
		return false, ErrInvalidAmount
	}

	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return false, storeErr("credit personal once", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO plan_fanout_marks (gateway_ref, user_id, marked_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (gateway_ref, user_id) DO NOTHING
	`, gatewayRef, userID, at)
	if err != nil {
		return false, storeErr("credit personal once", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return false, nil
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO personal_wallets (tenant_id, user_id, user_kind, total_credited, total_consumed, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, $5, $5)
		ON CONFLICT (tenant_id, user_id) DO UPDATE SET
			total_credited = personal_wallets.total_credited + $4,
			updated_at     = $5
	`, tenantID, userID, kind, amount, at)
	if err != nil {
		return false, storeErr("credit personal once", err)
	}

	if err := tx.Commit(); err != nil {
		return false, storeErr("credit personal once", err)
	}
	return true, nil
}

// Debit consumes from both wallets and appends the usage transaction in
// one database transaction. Each UPDATE re-checks the available balance
// in its WHERE clause; zero rows affected means a concurrent writer got
// there first and the whole debit rolls back. Soft-limit debits drain
// both wallets to zero, so their guards require the balances to equal
// the requested split exactly rather than merely cover it.
func (p *PostgresStore) Debit(ctx context.Context, req DebitRequest) (*Transaction, error) {
	if req.FromPersonal.IsNegative() || req.FromShared.IsNegative() {
		return nil, ErrInvalidAmount
	}

	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, storeErr("debit", err)
	}
	defer tx.Rollback()

	personalGuard := ">="
	if req.SoftLimit {
		personalGuard = "="
	}
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`
		UPDATE personal_wallets SET
			total_consumed = total_consumed + $3,
			updated_at     = $4
		WHERE tenant_id = $1 AND user_id = $2
		  AND total_credited - total_consumed %s $3
	`, personalGuard), req.TenantID, req.UserID, req.FromPersonal, req.At)
	if err != nil {
		return nil, storeErr("debit personal", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return nil, fmt.Errorf("debit personal: %w", ErrConcurrentModification)
	}

	switch {
	case req.SoftLimit:
		res, err = tx.ExecContext(ctx, `
			UPDATE shared_wallets SET
				total_consumed = total_consumed + $2,
				updated_at     = $3
			WHERE tenant_id = $1
			  AND total_credited - total_consumed = $2
		`, req.TenantID, req.FromShared, req.At)
		if err != nil {
			return nil, storeErr("debit shared", err)
		}
		if rows, _ := res.RowsAffected(); rows == 0 {
			// No shared wallet at all is a clean drain; an existing one
			// that missed the guard moved after the caller's balance read.
			var exists bool
			if err := tx.QueryRowContext(ctx, `
				SELECT EXISTS (SELECT 1 FROM shared_wallets WHERE tenant_id = $1)
			`, req.TenantID).Scan(&exists); err != nil {
				return nil, storeErr("debit shared", err)
			}
			if exists || req.FromShared.IsPositive() {
				return nil, fmt.Errorf("debit shared: %w", ErrConcurrentModification)
			}
		}
	case req.FromShared.IsPositive():
		res, err = tx.ExecContext(ctx, `
			UPDATE shared_wallets SET
				total_consumed = total_consumed + $2,
				updated_at     = $3
			WHERE tenant_id = $1
			  AND total_credited - total_consumed >= $2
		`, req.TenantID, req.FromShared, req.At)
		if err != nil {
			return nil, storeErr("debit shared", err)
		}
		if rows, _ := res.RowsAffected(); rows == 0 {
			return nil, fmt.Errorf("debit shared: %w", ErrConcurrentModification)
		}
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
	_, err = tx.ExecContext(ctx, `
		INSERT INTO wallet_transactions
			(id, kind, tenant_id, user_id, at, feature_name, usage_count, total_debited, debited_personal, debited_shared, soft_limit)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, txn.ID, txn.Kind, txn.TenantID, txn.UserID, txn.At, txn.FeatureName, txn.Count,
		txn.TotalDebited, txn.DebitedPersonal, txn.DebitedShared, txn.SoftLimit)
	if err != nil {
		return nil, storeErr("append usage transaction", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, storeErr("debit", err)
	}
	return txn, nil
}

func (p *PostgresStore) AppendUsage(ctx context.Context, txn *Transaction) (*Transaction, error) {
	cp := *txn
	cp.Kind = TxnUsage
	if cp.ID == "" {
		cp.ID = idgen.WithPrefix("txn_")
	}

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO wallet_transactions
			(id, kind, tenant_id, user_id, at, feature_name, usage_count, total_debited, debited_personal, debited_shared, soft_limit)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, cp.ID, cp.Kind, cp.TenantID, cp.UserID, cp.At, cp.FeatureName, cp.Count,
		cp.TotalDebited, cp.DebitedPersonal, cp.DebitedShared, cp.SoftLimit)
	if err != nil {
		return nil, storeErr("append usage transaction", err)
	}
	return &cp, nil
}

func (p *PostgresStore) AppendPurchase(ctx context.Context, txn *Transaction) (*Transaction, error) {
	cp := *txn
	if cp.ID == "" {
		cp.ID = idgen.WithPrefix("txn_")
	}

	var userID sql.NullString
	if cp.UserID != "" {
		userID = sql.NullString{String: cp.UserID, Valid: true}
	}

	res, err := p.db.ExecContext(ctx, `
		INSERT INTO wallet_transactions
			(id, kind, tenant_id, user_id, at, plan_id, pack_id, shared_credited, per_user_credited, credits, users_credited, amount_paid_minor, gateway_ref)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8, $9, $10, $11, $12, $13)
		ON CONFLICT (gateway_ref) DO NOTHING
	`, cp.ID, cp.Kind, cp.TenantID, userID, cp.At, cp.PlanID, cp.PackID,
		cp.SharedCredited, cp.PerUserCredited, cp.Credits, cp.UsersCredited, cp.AmountPaidMinor, cp.GatewayRef)
	if err != nil {
		return nil, storeErr("append purchase transaction", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		// Redelivered gateway callback: surface the committed transaction.
		return p.GetPurchaseByRef(ctx, cp.GatewayRef)
	}
	return &cp, nil
}

func (p *PostgresStore) GetPurchaseByRef(ctx context.Context, gatewayRef string) (*Transaction, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, kind, tenant_id, user_id, at,
		       plan_id, pack_id, shared_credited, per_user_credited, credits, users_credited, amount_paid_minor, gateway_ref
		FROM wallet_transactions WHERE gateway_ref = $1
	`, gatewayRef)

	txn := &Transaction{}
	var userID, planID, packID, ref sql.NullString
	var usersCredited sql.NullInt64
	var amountPaid sql.NullInt64
	var sharedCredited, perUserCredited, credits decimal.NullDecimal

	err := row.Scan(&txn.ID, &txn.Kind, &txn.TenantID, &userID, &txn.At,
		&planID, &packID, &sharedCredited, &perUserCredited, &credits, &usersCredited, &amountPaid, &ref)
	if err == sql.ErrNoRows {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, storeErr("get purchase by ref", err)
	}

	txn.UserID = userID.String
	txn.PlanID = planID.String
	txn.PackID = packID.String
	txn.SharedCredited = sharedCredited.Decimal
	txn.PerUserCredited = perUserCredited.Decimal
	txn.Credits = credits.Decimal
	txn.UsersCredited = int(usersCredited.Int64)
	txn.AmountPaidMinor = amountPaid.Int64
	txn.GatewayRef = ref.String
	return txn, nil
}

func (p *PostgresStore) QueryUsage(ctx context.Context, tenantID, userID string, since time.Time) ([]*Transaction, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, tenant_id, user_id, at, feature_name, usage_count, total_debited, debited_personal, debited_shared, soft_limit
		FROM wallet_transactions
		WHERE kind = 'usage' AND tenant_id = $1 AND user_id = $2 AND at >= $3
		ORDER BY at DESC
	`, tenantID, userID, since)
	if err != nil {
		return nil, storeErr("query usage", err)
	}
	defer rows.Close()
	return scanUsageRows(rows)
}

func (p *PostgresStore) QueryTenantUsage(ctx context.Context, tenantID string, since time.Time) ([]*Transaction, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, tenant_id, user_id, at, feature_name, usage_count, total_debited, debited_personal, debited_shared, soft_limit
		FROM wallet_transactions
		WHERE kind = 'usage' AND tenant_id = $1 AND at >= $2
		ORDER BY at DESC
	`, tenantID, since)
	if err != nil {
		return nil, storeErr("query tenant usage", err)
	}
	defer rows.Close()
	return scanUsageRows(rows)
}

func scanUsageRows(rows *sql.Rows) ([]*Transaction, error) {
	var out []*Transaction
	for rows.Next() {
		t := &Transaction{Kind: TxnUsage}
		var userID, feature sql.NullString
		var count sql.NullInt64
		if err := rows.Scan(&t.ID, &t.TenantID, &userID, &t.At, &feature, &count,
			&t.TotalDebited, &t.DebitedPersonal, &t.DebitedShared, &t.SoftLimit); err != nil {
			return nil, storeErr("scan usage transaction", err)
		}
		t.UserID = userID.String
		t.FeatureName = feature.String
		t.Count = count.Int64
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate usage transactions", err)
	}
	return out, nil
}

func (p *PostgresStore) ListPersonalWallets(ctx context.Context, tenantID string) ([]*PersonalWallet, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT user_id, user_kind, total_credited, total_consumed, created_at, updated_at
		FROM personal_wallets WHERE tenant_id = $1
		ORDER BY user_id
	`, tenantID)
	if err != nil {
		return nil, storeErr("list personal wallets", err)
	}
	defer rows.Close()

	var out []*PersonalWallet
	for rows.Next() {
		w := &PersonalWallet{TenantID: tenantID}
		if err := rows.Scan(&w.UserID, &w.UserKind, &w.TotalCredited, &w.TotalConsumed, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, storeErr("scan personal wallet", err)
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate personal wallets", err)
	}
	return out, nil
}
