// Package watcher watches a single file for changes and debounces bursts of
// writes into one notification.
package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/zjrosen/provenance/internal/log"
)

// DefaultDebounce is used when Config.Debounce is zero.
const DefaultDebounce = 250 * time.Millisecond

// Config selects the watched file.
type Config struct {
	// Path is the watched file. Its directory must exist; the file need not.
	Path     string
	Debounce time.Duration
}

// Watch calls onChange once per debounced burst of writes to cfg.Path until
// ctx ends. It returns nil when ctx ends and an error if watching cannot
// start. onChange runs on the watching goroutine.
func Watch(ctx context.Context, cfg Config, onChange func()) error {
	if cfg.Path == "" {
		return fmt.Errorf("watcher: path is required")
	}
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	defer func() { _ = fsw.Close() }()

	// Writers replace the file by rename, so watch its directory.
	dir := filepath.Dir(cfg.Path)
	if err := fsw.Add(dir); err != nil {
		return fmt.Errorf("watching directory %s: %w", dir, err)
	}
	name := filepath.Base(cfg.Path)

	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != name || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			timer.Reset(debounce)

		case <-timer.C:
			onChange()

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			log.ErrorErr(log.CatWatcher, "watch error", err, "path", cfg.Path)
		}
	}
}
