package wallet

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/zjrosen/provenance/internal/log"
	"github.com/zjrosen/provenance/internal/validate"
	"github.com/zjrosen/provenance/internal/watcher"
)

// ReadSessionFile returns the address stored in a session file. The file
// holds a single 0x address; surrounding whitespace is ignored.
func ReadSessionFile(path string) (common.Address, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return common.Address{}, err
	}
	s := strings.TrimSpace(string(data))
	if !validate.IsValidAddress(s) {
		return common.Address{}, fmt.Errorf("session file %s: invalid address %q", filepath.Base(path), s)
	}
	return common.HexToAddress(s), nil
}

// WriteSessionFile stores addr as the active account for other processes.
// The file is written to a temp name and renamed so readers never see a
// partial write.
func WriteSessionFile(path string, addr common.Address) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(addr.Hex()+"\n"), 0o600); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	return os.Rename(tmp, path)
}

// WatchSessionFile applies the address in path to ring now and again each
// time the file changes, until ctx ends. Addresses the ring has no key for
// are logged and ignored.
func WatchSessionFile(ctx context.Context, ring *KeyRing, path string, debounce time.Duration) error {
	apply := func() {
		addr, err := ReadSessionFile(path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				log.Warn(log.CatWallet, "session file unreadable", "path", path, "error", err)
			}
			return
		}
		if err := ring.Use(addr); err != nil {
			log.Warn(log.CatWallet, "session file names unknown account", "address", addr.Hex())
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	apply()
	return watcher.Watch(ctx, watcher.Config{Path: path, Debounce: debounce}, apply)
}
