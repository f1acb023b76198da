// Package royalty computes royalty shortfalls of orders against the default
// royalty schedules of their collections.
package royalty

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/alanyoungcy/nftbook/internal/domain"
)

const zeroAddress = "0x0000000000000000000000000000000000000000"

// Reconciler computes the royalty owed under a default schedule on top of
// what an order's protocol enforces.
type Reconciler struct {
	provider domain.RoyaltyProvider
}

// NewReconciler creates a Reconciler.
func NewReconciler(provider domain.RoyaltyProvider) *Reconciler {
	return &Reconciler{provider: provider}
}

// Reconcile looks up the schedule for key (contract:<c> or token:<c>:<id>)
// and splits floor(price*bpsDiff/10000) pro-rata over the eligible
// recipients. Each share is truncated and the remainder is dropped, so the
// per-recipient amounts may sum to less than TotalAmount.
func (r *Reconciler) Reconcile(ctx context.Context, key string, builtInBps int, price *big.Int, scheme string) (domain.RoyaltyShortfall, error) {
	schedule, err := r.provider.GetDefaultRoyalties(ctx, key, scheme)
	if err != nil {
		return domain.RoyaltyShortfall{}, fmt.Errorf("royalty: default royalties %s: %w", key, err)
	}
	return Shortfall(schedule, builtInBps, price), nil
}

// Shortfall is the pure part of Reconcile. A recipient is eligible when its
// bps and address are both non-zero.
func Shortfall(schedule []domain.Royalty, builtInBps int, price *big.Int) domain.RoyaltyShortfall {
	totalDefault := 0
	for _, r := range schedule {
		totalDefault += r.Bps
	}
	bpsDiff := totalDefault - builtInBps
	if bpsDiff <= 0 || price == nil {
		return domain.RoyaltyShortfall{}
	}

	eligible := make([]domain.Royalty, 0, len(schedule))
	eligibleBps := 0
	for _, r := range schedule {
		recipient := strings.ToLower(r.Recipient)
		if r.Bps <= 0 || recipient == "" || recipient == zeroAddress {
			continue
		}
		eligible = append(eligible, domain.Royalty{Recipient: recipient, Bps: r.Bps})
		eligibleBps += r.Bps
	}
	if len(eligible) == 0 {
		return domain.RoyaltyShortfall{}
	}

	total := new(big.Int).Mul(price, big.NewInt(int64(bpsDiff)))
	total.Quo(total, big.NewInt(10000))

	out := domain.RoyaltyShortfall{
		BpsDiff:      bpsDiff,
		TotalAmount:  total,
		PerRecipient: make([]domain.MissingRoyalty, 0, len(eligible)),
	}
	weight := big.NewInt(int64(eligibleBps))
	for _, r := range eligible {
		amount := new(big.Int).Mul(total, big.NewInt(int64(r.Bps)))
		amount.Quo(amount, weight)
		out.PerRecipient = append(out.PerRecipient, domain.MissingRoyalty{
			Bps:       bpsDiff * r.Bps / eligibleBps,
			Amount:    amount.String(),
			Recipient: r.Recipient,
		})
	}
	return out
}
