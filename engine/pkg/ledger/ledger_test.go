package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEngine_Ledger_MapRPCError(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want error
	}{
		{"context deadline", context.DeadlineExceeded, ErrNetwork},
		{"connection refused", errors.New("dial tcp: connection refused"), ErrNetwork},
		{"timeout", errors.New("i/o timeout"), ErrNetwork},
		{"rate limited", errors.New("429 Too Many Requests"), ErrNetwork},
		{"insufficient lamports", errors.New("Transfer: insufficient lamports 100, need 200"), ErrInsufficientFunds},
		{"spl insufficient funds", errors.New("custom program error: 0x1"), ErrInsufficientFunds},
		{"blockhash not found", errors.New("BlockhashNotFound"), ErrRejectedByLedger},
		{"signature verification", errors.New("Transaction signature verification failure"), ErrRejectedByLedger},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := mapRPCError("send transaction", tc.err)
			require.ErrorIs(t, got, tc.want)
		})
	}
}

func TestEngine_Ledger_MemoryClient(t *testing.T) {
	t.Parallel()

	t.Run("transfers move balances and confirm immediately", func(t *testing.T) {
		t.Parallel()

		c := NewMemoryClient(map[string]int64{"a": 100})
		ref, err := c.SubmitTransfer(context.Background(), "a", "b", 60)
		require.NoError(t, err)

		status, err := c.TransactionStatus(context.Background(), ref)
		require.NoError(t, err)
		require.Equal(t, TxStatusConfirmed, status)

		a, err := c.GetBalance(context.Background(), "a")
		require.NoError(t, err)
		b, err := c.GetBalance(context.Background(), "b")
		require.NoError(t, err)
		require.Equal(t, int64(40), a)
		require.Equal(t, int64(60), b)
	})

	t.Run("rejects overdrafts and non-positive amounts", func(t *testing.T) {
		t.Parallel()

		c := NewMemoryClient(map[string]int64{"a": 10})
		_, err := c.SubmitTransfer(context.Background(), "a", "b", 11)
		require.ErrorIs(t, err, ErrInsufficientFunds)

		_, err = c.SubmitTransfer(context.Background(), "a", "b", 0)
		require.ErrorIs(t, err, ErrRejectedByLedger)

		_, err = c.SubmitMint(context.Background(), "a", -1)
		require.ErrorIs(t, err, ErrRejectedByLedger)
	})

	t.Run("unknown references report not found", func(t *testing.T) {
		t.Parallel()

		c := NewMemoryClient(nil)
		status, err := c.TransactionStatus(context.Background(), "never-submitted")
		require.NoError(t, err)
		require.Equal(t, TxStatusNotFound, status)
	})
}
