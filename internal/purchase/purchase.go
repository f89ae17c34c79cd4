// Package purchase activates verified plan and pack purchases.
//
// The HTTP layer verifies the payment gateway signature; activators only
// consume a verified boolean plus an opaque gateway reference. The
// gateway reference is the idempotency key: gateways redeliver
// verification callbacks, and every activation path tolerates replays.
package purchase

import (
	"context"
	"errors"
)

var (
	// ErrPaymentNotVerified is returned when the caller did not verify the
	// gateway signature. Nothing is credited.
	ErrPaymentNotVerified = errors.New("purchase: payment not verified")
)

// Recipient is one fan-out target: an active student or teaching-role
// user of the tenant.
type Recipient struct {
	UserID   string
	UserKind string
}

// RecipientEnumerator lists the users who receive per-user credits when
// their tenant activates a plan. The set is captured at activation time;
// it may be eventually consistent and the activator tolerates it changing
// between calls. Users created after the purchase receive nothing from it.
type RecipientEnumerator interface {
	ActiveRecipients(ctx context.Context, tenantID string) ([]Recipient, error)
}
