package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var bob = common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC")

func readBack(t *testing.T, path string) Config {
	t.Helper()
	v := viper.New()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())
	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))
	return cfg
}

func TestSaveActiveAccount_CreatesNewFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	require.NoError(t, SaveActiveAccount(path, bob))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "wallet:")
	assert.Contains(t, string(data), "active_account: "+bob.Hex())
	assert.Equal(t, bob.Hex(), readBack(t, path).Wallet.ActiveAccount)
}

func TestSaveActiveAccount_PreservesOtherConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	initial := `# Provenance Configuration
ledger:
  backend: evm # remote node
  rpc_url: http://node:8545
wallet:
  # rotated weekly
  keystore_dir: /keys
  active_account: "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
server:
  addr: ":7000"
`
	require.NoError(t, os.WriteFile(path, []byte(initial), 0o600))

	require.NoError(t, SaveActiveAccount(path, bob))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "# Provenance Configuration")
	assert.Contains(t, content, "# remote node")
	assert.Contains(t, content, "# rotated weekly")
	assert.NotContains(t, content, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")

	cfg := readBack(t, path)
	assert.Equal(t, bob.Hex(), cfg.Wallet.ActiveAccount)
	assert.Equal(t, "/keys", cfg.Wallet.KeystoreDir)
	assert.Equal(t, "evm", cfg.Ledger.Backend)
	assert.Equal(t, "http://node:8545", cfg.Ledger.RPCURL)
	assert.Equal(t, ":7000", cfg.Server.Addr)
}

func TestSaveActiveAccount_AddsWalletSection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cache:\n  record_ttl: 10s\n"), 0o600))

	require.NoError(t, SaveActiveAccount(path, bob))

	cfg := readBack(t, path)
	assert.Equal(t, bob.Hex(), cfg.Wallet.ActiveAccount)
	assert.Equal(t, "10s", cfg.Cache.RecordTTL.String())
}

func TestSaveActiveAccount_ReplacesNullWallet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("wallet:\n"), 0o600))

	require.NoError(t, SaveActiveAccount(path, bob))
	assert.Equal(t, bob.Hex(), readBack(t, path).Wallet.ActiveAccount)
}

func TestSaveActiveAccount_RejectsScalarWallet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("wallet: none\n"), 0o600))

	err := SaveActiveAccount(path, bob)
	require.ErrorContains(t, err, `"wallet" is not a mapping`)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "wallet: none\n", string(data))
}

func TestSaveActiveAccount_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("wallet: [unclosed\n"), 0o600))

	err := SaveActiveAccount(path, bob)
	require.ErrorContains(t, err, "parsing config")
}

func TestSaveActiveAccount_LeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	require.NoError(t, SaveActiveAccount(path, bob))
	require.NoError(t, SaveActiveAccount(path, bob))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "config.yaml", entries[0].Name())
}
