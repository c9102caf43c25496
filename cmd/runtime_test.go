package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/provenance/internal/audit"
	"github.com/zjrosen/provenance/internal/config"
	"github.com/zjrosen/provenance/internal/domain"
	"github.com/zjrosen/provenance/internal/testutil"
	"github.com/zjrosen/provenance/internal/wallet"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testConfig is a dev-backend configuration rooted in a temp dir with no
// outbound audit transport.
func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	c := config.Defaults()
	c.Ledger.DevDBPath = filepath.Join(dir, "devchain.db")
	c.Ledger.ConfirmTimeout = 10 * time.Second
	c.Wallet.SessionFile = filepath.Join(dir, "active_account")
	c.Wallet.WatchDebounce = 10 * time.Millisecond
	c.Audit.BaseURL = ""
	c.Server.Addr = "127.0.0.1:0"
	c.Server.StorePath = filepath.Join(dir, "audit.db")
	c.Tracing.Enabled = false
	return c
}

func registration(rfid string) domain.RegistrationRequest {
	return domain.RegistrationRequest{
		RFID:             rfid,
		AuthenticityHash: testutil.Hash,
		Owner:            testutil.Alice.Hex(),
		TokenURI:         testutil.URI,
	}
}

func TestOpenWallet_DevKeysWhenNoneConfigured(t *testing.T) {
	c := testConfig(t)
	ring, err := openWallet(c.Wallet, c.Ledger)
	require.NoError(t, err)
	defer ring.Close()

	require.Len(t, ring.Accounts(), len(wallet.DevKeys))
	active, err := ring.Address(context.Background())
	require.NoError(t, err)
	assert.Equal(t, testutil.Admin, active)
}

func TestOpenWallet_EVMRequiresKeys(t *testing.T) {
	c := testConfig(t)
	c.Ledger.Backend = config.BackendEVM
	ring, err := openWallet(c.Wallet, c.Ledger)
	require.NoError(t, err)
	defer ring.Close()
	assert.Empty(t, ring.Accounts())
}

func TestOpenWallet_SessionFileSelectsAccount(t *testing.T) {
	c := testConfig(t)
	require.NoError(t, wallet.WriteSessionFile(c.Wallet.SessionFile, testutil.Bob))

	ring, err := openWallet(c.Wallet, c.Ledger)
	require.NoError(t, err)
	defer ring.Close()

	active, err := ring.Address(context.Background())
	require.NoError(t, err)
	assert.Equal(t, testutil.Bob, active)
}

func TestOpenWallet_SessionFileUnknownAccountIgnored(t *testing.T) {
	c := testConfig(t)
	c.Wallet.ActiveAccount = testutil.Alice.Hex()
	require.NoError(t, os.WriteFile(c.Wallet.SessionFile, []byte("0x000000000000000000000000000000000000dEaD\n"), 0o600))

	ring, err := openWallet(c.Wallet, c.Ledger)
	require.NoError(t, err)
	defer ring.Close()

	active, err := ring.Address(context.Background())
	require.NoError(t, err)
	assert.Equal(t, testutil.Alice, active)
}

func TestOpenWallet_InvalidPrivateKey(t *testing.T) {
	c := testConfig(t)
	c.Wallet.PrivateKeys = []string{"not-a-key"}
	_, err := openWallet(c.Wallet, c.Ledger)
	require.ErrorContains(t, err, "wallet.private_keys[0]")
}

func TestOpenRuntime_RegisterAndCheck(t *testing.T) {
	ctx := context.Background()
	rt, err := openRuntime(ctx, testConfig(t), runtimeOptions{})
	require.NoError(t, err)
	defer func() { require.NoError(t, rt.Close()) }()

	admin, err := rt.service.Admin(ctx)
	require.NoError(t, err)
	assert.Equal(t, testutil.Admin, admin)

	result, err := rt.service.Register(ctx, registration(testutil.RFID))
	require.NoError(t, err)
	assert.Equal(t, testutil.RFID, result.RFID)

	view, err := rt.service.Check(ctx, testutil.RFID)
	require.NoError(t, err)
	assert.Equal(t, testutil.Alice, view.Owner)
	assert.False(t, view.OwnedBySigner)
}

func TestOpenRuntime_DevChainPersistsAcrossOpens(t *testing.T) {
	ctx := context.Background()
	c := testConfig(t)

	rt, err := openRuntime(ctx, c, runtimeOptions{})
	require.NoError(t, err)
	_, err = rt.service.Register(ctx, registration(testutil.RFID))
	require.NoError(t, err)
	require.NoError(t, rt.Close())

	rt, err = openRuntime(ctx, c, runtimeOptions{})
	require.NoError(t, err)
	defer func() { _ = rt.Close() }()
	view, err := rt.service.Check(ctx, testutil.RFID)
	require.NoError(t, err)
	assert.Equal(t, testutil.Alice, view.Owner)
}

func TestOpenRuntime_AuditOverride(t *testing.T) {
	ctx := context.Background()
	var got []audit.Entry
	sink := audit.LoggerFunc(func(_ context.Context, e audit.Entry) error {
		got = append(got, e)
		return nil
	})

	rt, err := openRuntime(ctx, testConfig(t), runtimeOptions{audit: sink})
	require.NoError(t, err)
	defer func() { _ = rt.Close() }()

	_, err = rt.service.Register(ctx, registration(testutil.RFID))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, audit.ActionRegister, got[0].Action)
	assert.Equal(t, testutil.RFID, got[0].RFID)
}

func TestOpenAudit_NoTransports(t *testing.T) {
	logger, closer, err := openAudit(config.AuditConfig{})
	require.NoError(t, err)
	assert.Nil(t, closer)
	assert.IsType(t, audit.Noop{}, logger)
}

func TestOpenStore_Kinds(t *testing.T) {
	for _, kind := range []string{config.StoreSQLite, config.StoreJSONL} {
		t.Run(kind, func(t *testing.T) {
			c := config.ServerConfig{Store: kind, StorePath: filepath.Join(t.TempDir(), "sink")}
			store, err := openStore(c)
			require.NoError(t, err)

			ctx := context.Background()
			_, err = store.Append(ctx, map[string]any{"action": "register", "rfid": testutil.RFID})
			require.NoError(t, err)
			entries, err := store.List(ctx, audit.Query{})
			require.NoError(t, err)
			require.Len(t, entries, 1)
			assert.Equal(t, testutil.RFID, entries[0].RFID)
			require.NoError(t, store.Close())
		})
	}
}

func TestOperationContext(t *testing.T) {
	ctx, cancel := operationContext(context.Background(), config.LedgerConfig{ConfirmTimeout: time.Minute})
	defer cancel()
	_, ok := ctx.Deadline()
	assert.True(t, ok)

	ctx, cancel = operationContext(context.Background(), config.LedgerConfig{})
	defer cancel()
	_, ok = ctx.Deadline()
	assert.False(t, ok)
}

func TestServeStack_RelayWritesAuditEntry(t *testing.T) {
	c := testConfig(t)
	c.Server.RelayEnabled = true

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stack, err := newServeStack(ctx, c)
	require.NoError(t, err)
	defer func() { _ = stack.Close() }()
	require.True(t, stack.relay)

	done := make(chan error, 1)
	go func() { done <- stack.Run(ctx) }()

	base := fmt.Sprintf("http://127.0.0.1:%d", stack.server.Port())
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	body, err := json.Marshal(map[string]string{
		"rfid":             testutil.RFID,
		"authenticityHash": testutil.Hash,
		"bottleOwner":      testutil.Alice.Hex(),
		"tokenURI":         testutil.URI,
	})
	require.NoError(t, err)
	resp, err := http.Post(base+"/register-collectible", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(base + "/records/" + testutil.RFID)
	require.NoError(t, err)
	var view struct {
		Owner common.Address `json:"owner"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	resp.Body.Close()
	assert.Equal(t, testutil.Alice, view.Owner)

	resp, err = http.Get(base + "/log?action=register")
	require.NoError(t, err)
	var entries []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&entries))
	resp.Body.Close()
	require.Len(t, entries, 1)
	assert.Equal(t, testutil.RFID, entries[0]["rfid"])

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve stack did not stop")
	}
}

func TestServeStack_RelayDisabled(t *testing.T) {
	c := testConfig(t)
	stack, err := newServeStack(context.Background(), c)
	require.NoError(t, err)
	defer func() { _ = stack.Close() }()
	assert.False(t, stack.relay)
	assert.False(t, stack.consumeAMQP)
}
