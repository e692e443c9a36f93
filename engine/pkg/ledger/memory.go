package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// MemoryClient is an in-process ledger used by dev mode and tests. Transfers
// confirm immediately; there is no fee model.
type MemoryClient struct {
	mu       sync.Mutex
	balances map[string]int64
	statuses map[TxRef]TxStatus
	mintable bool
}

// NewMemoryClient creates an in-memory ledger with the given starting
// balances. The client has mint authority.
func NewMemoryClient(balances map[string]int64) *MemoryClient {
	b := make(map[string]int64, len(balances))
	for k, v := range balances {
		b[k] = v
	}
	return &MemoryClient{
		balances: b,
		statuses: make(map[TxRef]TxStatus),
		mintable: true,
	}
}

func (c *MemoryClient) GetBalance(_ context.Context, address string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balances[address], nil
}

func (c *MemoryClient) SubmitTransfer(_ context.Context, from, to string, amount int64) (TxRef, error) {
	if amount <= 0 {
		return "", fmt.Errorf("%w: transfer amount must be positive", ErrRejectedByLedger)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.balances[from] < amount {
		return "", fmt.Errorf("%w: %s has %d, needs %d", ErrInsufficientFunds, from, c.balances[from], amount)
	}
	c.balances[from] -= amount
	c.balances[to] += amount
	ref := TxRef(uuid.NewString())
	c.statuses[ref] = TxStatusConfirmed
	return ref, nil
}

func (c *MemoryClient) SubmitMint(_ context.Context, to string, amount int64) (TxRef, error) {
	if amount <= 0 {
		return "", fmt.Errorf("%w: mint amount must be positive", ErrRejectedByLedger)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.mintable {
		return "", fmt.Errorf("%w: client has no mint authority", ErrRejectedByLedger)
	}
	c.balances[to] += amount
	ref := TxRef(uuid.NewString())
	c.statuses[ref] = TxStatusConfirmed
	return ref, nil
}

func (c *MemoryClient) TransactionStatus(_ context.Context, ref TxRef) (TxStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.statuses[ref]
	if !ok {
		return TxStatusNotFound, nil
	}
	return st, nil
}
