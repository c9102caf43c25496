// Package wallet holds the signing accounts available to the CLI and tracks
// which one is active. The active account is resolved on every write so
// switching accounts mid-session takes effect on the next step.
package wallet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/zjrosen/provenance/internal/log"
	"github.com/zjrosen/provenance/internal/pubsub"
)

var (
	// ErrNoActiveAccount is returned when no account has been selected.
	ErrNoActiveAccount = errors.New("no active wallet account")
	// ErrUnknownAccount is returned when selecting an address the ring has no key for.
	ErrUnknownAccount = errors.New("unknown wallet account")
)

// Session is the signer surface the ledger backends depend on.
type Session interface {
	Address(ctx context.Context) (common.Address, error)
	TransactOpts(ctx context.Context) (*bind.TransactOpts, error)
	Subscribe(ctx context.Context) <-chan pubsub.Event[common.Address]
}

// KeyRing is an in-memory Session over a set of private keys.
type KeyRing struct {
	mu      sync.RWMutex
	keys    map[common.Address]*ecdsa.PrivateKey
	order   []common.Address
	active  common.Address
	chainID *big.Int
	broker  *pubsub.Broker[common.Address]
}

var _ Session = (*KeyRing)(nil)

// NewKeyRing creates an empty ring that signs for chainID.
func NewKeyRing(chainID *big.Int) *KeyRing {
	if chainID == nil {
		chainID = big.NewInt(1337)
	}
	return &KeyRing{
		keys:    make(map[common.Address]*ecdsa.PrivateKey),
		chainID: new(big.Int).Set(chainID),
		broker:  pubsub.NewBroker[common.Address](),
	}
}

// AddKey adds a private key and returns its address. The first key added
// becomes the active account.
func (k *KeyRing) AddKey(key *ecdsa.PrivateKey) common.Address {
	addr := crypto.PubkeyToAddress(key.PublicKey)

	k.mu.Lock()
	if _, ok := k.keys[addr]; !ok {
		k.order = append(k.order, addr)
	}
	k.keys[addr] = key
	first := k.active == (common.Address{})
	if first {
		k.active = addr
	}
	k.mu.Unlock()

	if first {
		k.broker.Publish(pubsub.SignerChanged, addr)
	}
	log.Debug(log.CatWallet, "key added", "address", addr.Hex())
	return addr
}

// AddHexKey parses a hex private key, with or without a 0x prefix.
func (k *KeyRing) AddHexKey(hexKey string) (common.Address, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("parse private key: %w", err)
	}
	return k.AddKey(key), nil
}

// AddKeystore decrypts a keystore JSON file.
func (k *KeyRing) AddKeystore(path, password string) (common.Address, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return common.Address{}, fmt.Errorf("read keystore %s: %w", path, err)
	}
	key, err := keystore.DecryptKey(data, password)
	if err != nil {
		return common.Address{}, fmt.Errorf("decrypt keystore %s: %w", filepath.Base(path), err)
	}
	return k.AddKey(key.PrivateKey), nil
}

// LoadKeystoreDir decrypts every regular file in dir with password.
// Files that fail to decrypt are logged and skipped.
func (k *KeyRing) LoadKeystoreDir(dir, password string) ([]common.Address, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read keystore dir: %w", err)
	}
	var added []common.Address
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		addr, err := k.AddKeystore(filepath.Join(dir, e.Name()), password)
		if err != nil {
			log.Warn(log.CatWallet, "skipping keystore file", "file", e.Name(), "error", err)
			continue
		}
		added = append(added, addr)
	}
	return added, nil
}

// Accounts returns the known addresses in insertion order.
func (k *KeyRing) Accounts() []common.Address {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make([]common.Address, len(k.order))
	copy(out, k.order)
	return out
}

// Has reports whether the ring holds a key for addr.
func (k *KeyRing) Has(addr common.Address) bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	_, ok := k.keys[addr]
	return ok
}

// Use makes addr the active account and notifies subscribers when it changes.
func (k *KeyRing) Use(addr common.Address) error {
	k.mu.Lock()
	if _, ok := k.keys[addr]; !ok {
		k.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownAccount, addr.Hex())
	}
	changed := k.active != addr
	k.active = addr
	k.mu.Unlock()

	if changed {
		log.Info(log.CatWallet, "active account changed", "address", addr.Hex())
		k.broker.Publish(pubsub.SignerChanged, addr)
	}
	return nil
}

// Address returns the active account.
func (k *KeyRing) Address(ctx context.Context) (common.Address, error) {
	if err := ctx.Err(); err != nil {
		return common.Address{}, err
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.active == (common.Address{}) {
		return common.Address{}, ErrNoActiveAccount
	}
	return k.active, nil
}

// TransactOpts returns signing options for the active account bound to ctx.
func (k *KeyRing) TransactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	k.mu.RLock()
	key := k.keys[k.active]
	chainID := k.chainID
	k.mu.RUnlock()
	if key == nil {
		return nil, ErrNoActiveAccount
	}
	opts, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		return nil, fmt.Errorf("build transactor: %w", err)
	}
	opts.Context = ctx
	return opts, nil
}

// ChainID is the chain the ring signs for.
func (k *KeyRing) ChainID() *big.Int {
	return new(big.Int).Set(k.chainID)
}

// Subscribe streams active-account changes.
func (k *KeyRing) Subscribe(ctx context.Context) <-chan pubsub.Event[common.Address] {
	return k.broker.Subscribe(ctx)
}

// Close stops delivering account events.
func (k *KeyRing) Close() {
	k.broker.Close()
}
