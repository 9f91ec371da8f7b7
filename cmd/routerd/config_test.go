package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walletmesh/router/pkg/log"
)

func TestLoadWallets(t *testing.T) {
	tcs := []struct {
		name        string
		fileContent string
		missing     bool
		expectErr   bool
		assertFunc  func(t *testing.T, wallets []WalletEndpoint)
	}{
		{
			name:    "missing manifest returns no wallets",
			missing: true,
			assertFunc: func(t *testing.T, wallets []WalletEndpoint) {
				assert.Empty(t, wallets)
			},
		},
		{
			name: "disabled entries are filtered out",
			fileContent: `
wallets:
  - chain_id: "eip155:1"
    url: "wss://wallet.example/eth"
    default_timeout: 10s
  - chain_id: "eip155:137"
    url: "wss://wallet.example/polygon"
    disabled: true
`,
			assertFunc: func(t *testing.T, wallets []WalletEndpoint) {
				require.Len(t, wallets, 1)
				assert.Equal(t, "eip155:1", wallets[0].ChainID)
				assert.Equal(t, "wss://wallet.example/eth", wallets[0].URL)
				assert.Equal(t, 10*time.Second, wallets[0].DefaultTimeout)
			},
		},
		{
			name:        "malformed yaml is an error",
			fileContent: "wallets: [not valid",
			expectErr:   true,
		},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "wallets.yaml")
			if !tc.missing {
				require.NoError(t, os.WriteFile(path, []byte(tc.fileContent), 0o600))
			}

			wallets, err := loadWallets(path)
			if tc.expectErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			tc.assertFunc(t, wallets)
		})
	}
}

func TestLoadConfigReadsEnvAndWallets(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wallets.yaml"), []byte(`
wallets:
  - chain_id: "eip155:1"
    url: "wss://wallet.example/eth"
`), 0o600))

	t.Setenv("ROUTER_CONFIG_DIR_PATH", dir)
	t.Setenv("ROUTER_LISTEN_ADDR", ":9999")
	t.Setenv("ROUTER_AUTO_APPROVE", "true")

	cfg, err := LoadConfig(log.NewNop())
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.env.ListenAddr)
	assert.True(t, cfg.env.AutoApprove)
	require.Len(t, cfg.wallets, 1)
	assert.Equal(t, "eip155:1", cfg.wallets[0].ChainID)
}
