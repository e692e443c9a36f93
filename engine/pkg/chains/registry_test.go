package chains_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/particlerush/tokenengine/engine/pkg/chains"
)

func TestEngine_Chains_Registry(t *testing.T) {
	t.Parallel()

	t.Run("resolves every default chain", func(t *testing.T) {
		t.Parallel()

		r, err := chains.New(chains.DefaultConfigs())
		require.NoError(t, err)

		for _, id := range []uint16{
			chains.ChainIDSolana,
			chains.ChainIDEthereum,
			chains.ChainIDBSC,
			chains.ChainIDPolygon,
			chains.ChainIDAvalanche,
			chains.ChainIDArbitrum,
			chains.ChainIDOptimism,
			chains.ChainIDBase,
		} {
			c, err := r.Resolve(id)
			require.NoError(t, err)
			require.Equal(t, id, c.ChainID)
			require.Equal(t, int64(50), c.FeeBasisPoints)
		}
	})

	t.Run("rejects an unknown chain id", func(t *testing.T) {
		t.Parallel()

		r, err := chains.New(chains.DefaultConfigs())
		require.NoError(t, err)

		_, err = r.Resolve(999)
		require.ErrorIs(t, err, chains.ErrUnsupportedChain)
	})

	t.Run("rejects duplicate and invalid configs", func(t *testing.T) {
		t.Parallel()

		_, err := chains.New([]chains.Config{
			{ChainID: 1, Name: "One"},
			{ChainID: 1, Name: "Other"},
		})
		require.Error(t, err)

		_, err = chains.New([]chains.Config{{Name: "NoID"}})
		require.Error(t, err)

		_, err = chains.New([]chains.Config{{ChainID: 7}})
		require.Error(t, err)

		_, err = chains.New([]chains.Config{{ChainID: 7, Name: "Bad", FeeBasisPoints: -1}})
		require.Error(t, err)
	})
}

func TestEngine_Chains_ValidateAddress(t *testing.T) {
	t.Parallel()

	r, err := chains.New(chains.DefaultConfigs())
	require.NoError(t, err)

	cases := []struct {
		name    string
		chainID uint16
		addr    string
		wantErr bool
	}{
		{"valid solana address", chains.ChainIDSolana, "11111111111111111111111111111111", false},
		{"valid solana token account", chains.ChainIDSolana, "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA", false},
		{"solana address too short", chains.ChainIDSolana, "abc", true},
		{"solana address bad alphabet", chains.ChainIDSolana, "0OIl0OIl0OIl0OIl0OIl0OIl0OIl0OIl", true},
		{"valid evm address", chains.ChainIDEthereum, "0x52908400098527886E0F7030069857D2E4169EE7", false},
		{"evm address without prefix", chains.ChainIDEthereum, "52908400098527886E0F7030069857D2E4169EE7", true},
		{"evm address too short", chains.ChainIDPolygon, "0x1234", true},
		{"evm address bad hex", chains.ChainIDBase, "0x52908400098527886E0F7030069857D2E4169EEZ", true},
		{"unknown chain", 999, "0x52908400098527886E0F7030069857D2E4169EE7", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := r.ValidateAddress(tc.chainID, tc.addr)
			if tc.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}
