package chain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walletmesh/router/pkg/chain"
)

func TestParse(t *testing.T) {
	t.Parallel()

	tcs := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{name: "eip155 mainnet", input: "eip155:1"},
		{name: "eip155 arbitrary positive", input: "eip155:42161"},
		{name: "eip155 zero is invalid", input: "eip155:0", wantErr: true},
		{name: "eip155 non-numeric is invalid", input: "eip155:mainnet", wantErr: true},
		{name: "solana well-known", input: "solana:mainnet"},
		{name: "solana base58 hash", input: "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp"},
		{name: "solana invalid reference", input: "solana:not-a-hash", wantErr: true},
		{name: "aztec well-known", input: "aztec:sandbox"},
		{name: "aztec decimal", input: "aztec:31337"},
		{name: "unknown namespace passes generic check", input: "cosmos:cosmoshub-4"},
		{name: "namespace too short", input: "ab:1", wantErr: true},
		{name: "namespace uppercase invalid", input: "EIP155:1", wantErr: true},
		{name: "missing colon", input: "eip1551", wantErr: true},
		{name: "empty reference", input: "eip155:", wantErr: true},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			id, err := chain.Parse(tc.input)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.input, id.String())
		})
	}
}

func TestIDAccessors(t *testing.T) {
	t.Parallel()

	id, err := chain.Parse("eip155:1")
	require.NoError(t, err)
	assert.Equal(t, "eip155", id.Namespace())
	assert.Equal(t, "1", id.Reference())
}
