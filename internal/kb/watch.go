package kb

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	// defaultSettleDelay is how long a file must stay quiet after its last
	// create/write event before it counts as fully written.
	defaultSettleDelay = 2 * time.Second

	// defaultSettleInterval is how often the pending set is swept.
	defaultSettleInterval = 500 * time.Millisecond
)

// Watch ingests files as they land in dir: anything already present is
// ingested immediately, then create/write events are debounced with a
// settle delay so half-written files are not submitted. Runs until ctx is
// canceled. onResult, when set, receives every ingestion outcome.
func (ing *Ingestor) Watch(ctx context.Context, dir string, onResult func(Result)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("kb: creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("kb: watching %s: %w", dir, err)
	}

	ing.logger.Info("kb: watching directory", "dir", dir)

	// Files created before the watch registered still count.
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("kb: reading %s: %w", dir, err)
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			return nil
		}

		if entry.IsDir() || !watchable(entry.Name()) {
			continue
		}

		ing.deliver(ctx, filepath.Join(dir, entry.Name()), onResult)
	}

	settle := time.NewTicker(ing.settleInterval)
	defer settle.Stop()

	pending := make(map[string]time.Time)

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if !watchable(filepath.Base(ev.Name)) {
				continue
			}

			switch {
			case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
				pending[ev.Name] = time.Now()
			case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
				delete(pending, ev.Name)
			}

		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			ing.logger.Warn("kb: watcher error", "error", werr)

		case <-settle.C:
			now := time.Now()

			for path, last := range pending {
				if now.Sub(last) < ing.settleDelay {
					continue
				}

				delete(pending, path)

				info, err := os.Stat(path)
				if err != nil || info.IsDir() {
					continue
				}

				ing.deliver(ctx, path, onResult)
			}
		}
	}
}

// watchable filters out dotfiles and in-progress download temp files.
func watchable(name string) bool {
	return !strings.HasPrefix(name, ".") && !strings.HasSuffix(name, ".partial")
}

func (ing *Ingestor) deliver(ctx context.Context, path string, onResult func(Result)) {
	res := ing.Ingest(ctx, path, "", "")
	if res.Err != nil {
		ing.logger.Warn("kb: ingestion failed", "path", path, "error", res.Err)
	}

	if onResult != nil {
		onResult(res)
	}
}
