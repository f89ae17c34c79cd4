// Package roster is the recipient read model for plan fan-out: which
// students and teachers of a tenant are active right now. It is
// deliberately thin; identity lives elsewhere and this table only mirrors
// enough of it to enumerate fan-out recipients.
package roster

import (
	"context"
	"errors"
	"time"

	"github.com/schooltino/creditcore/internal/wallet"
)

var (
	ErrUserNotFound = errors.New("roster: user not found")
)

// User is one enrolled roster entry.
type User struct {
	TenantID  string          `json:"tenantId"`
	UserID    string          `json:"userId"`
	UserKind  wallet.UserKind `json:"userKind"`
	Active    bool            `json:"active"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Store persists roster entries.
type Store interface {
	// Upsert enrols the user, or reactivates and re-kinds an existing
	// entry.
	Upsert(ctx context.Context, u *User) error

	// Deactivate marks the user inactive. Deactivated users keep their
	// wallets; they just stop receiving plan fan-outs.
	Deactivate(ctx context.Context, tenantID, userID string, at time.Time) error

	// ListActive returns the tenant's active users, ordered by user id.
	ListActive(ctx context.Context, tenantID string) ([]*User, error)

	// List returns every roster entry of the tenant, active or not.
	List(ctx context.Context, tenantID string) ([]*User, error)
}
