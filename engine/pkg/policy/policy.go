// Package policy holds the pure distribution rules of the token economy: how
// a minted amount is split between the owner and the custodial pool, and what
// fee a cross-network bridge transfer pays. Everything here is deterministic
// and side-effect free so the numbers can be audited and replayed.
package policy

import (
	"errors"
	"fmt"

	"github.com/particlerush/tokenengine/engine/pkg/chains"
)

var ErrInvalidAmount = errors.New("invalid amount")

// Owner share of every mint cycle, in percent. The remainder goes to the pool,
// so integer rounding always favors the pool.
const ownerSharePercent = 20

// Split is the owner/pool division of a minted amount.
// OwnerShare + PoolShare always equals the minted total exactly.
type Split struct {
	OwnerShare int64
	PoolShare  int64
}

// SplitMint divides a minted total between owner and pool.
func SplitMint(total int64) (Split, error) {
	if total <= 0 {
		return Split{}, fmt.Errorf("%w: mint total must be positive, got %d", ErrInvalidAmount, total)
	}
	owner := total * ownerSharePercent / 100
	return Split{
		OwnerShare: owner,
		PoolShare:  total - owner,
	}, nil
}

// BridgeFee computes the fee for bridging amount to the destination network,
// floored to the smallest token unit.
func BridgeFee(amount int64, dest chains.Config) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("%w: bridge amount must be positive, got %d", ErrInvalidAmount, amount)
	}
	return amount * dest.FeeBasisPoints / 10_000, nil
}
