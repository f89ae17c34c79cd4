package roster

import (
	"context"

	"github.com/schooltino/creditcore/internal/purchase"
)

// Enumerator adapts a roster Store to the purchase fan-out interface.
type Enumerator struct {
	store Store
}

// NewEnumerator wraps a roster store for plan fan-out.
func NewEnumerator(store Store) *Enumerator {
	return &Enumerator{store: store}
}

func (e *Enumerator) ActiveRecipients(ctx context.Context, tenantID string) ([]purchase.Recipient, error) {
	users, err := e.store.ListActive(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	out := make([]purchase.Recipient, 0, len(users))
	for _, u := range users {
		out = append(out, purchase.Recipient{UserID: u.UserID, UserKind: string(u.UserKind)})
	}
	return out, nil
}
