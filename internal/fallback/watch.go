package fallback

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher monitors an operator-supplied dataset file and invokes the supplied
// callback whenever it changes. Stop must be called to release filesystem
// resources.
type Watcher struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Stop halts the watcher and waits for the underlying goroutine to exit.
func (w *Watcher) Stop() {
	if w == nil {
		return
	}
	w.once.Do(func() {
		w.cancel()
		<-w.done
	})
}

// Watch wires fsnotify around the dataset file and reloads it on any relevant
// change. The initial load result is delivered through onChange before Watch
// returns.
func Watch(ctx context.Context, path string, onChange func(Table), onError func(error)) (*Watcher, error) {
	if onChange == nil {
		return nil, fmt.Errorf("fallback: watch requires a change callback")
	}
	if path == "" {
		return nil, fmt.Errorf("fallback: no dataset file configured for watching")
	}

	target, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("fallback: resolve dataset file: %w", err)
	}
	target = filepath.Clean(target)

	table, err := LoadFile(target)
	if err != nil {
		return nil, err
	}

	watchCtx, cancel := context.WithCancel(ctx)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("fallback: watch: %w", err)
	}
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		cancel()
		if closeErr := watcher.Close(); closeErr != nil && onError != nil {
			onError(fmt.Errorf("fallback: watch close: %w", closeErr))
		}
		return nil, fmt.Errorf("fallback: watch add: %w", err)
	}

	onChange(table)

	done := make(chan struct{})
	w := &Watcher{cancel: cancel, done: done}

	go func() {
		defer close(done)
		defer func() {
			if err := watcher.Close(); err != nil && onError != nil {
				onError(fmt.Errorf("fallback: watch close: %w", err))
			}
		}()

		reload := func() {
			table, err := LoadFile(target)
			if err != nil {
				if onError != nil {
					onError(err)
				}
				return
			}
			onChange(table)
		}

		// Editors often emit bursts of events per save; coalesce them.
		const debounce = 25 * time.Millisecond
		var reloadTimer *time.Timer
		var reloadSignal <-chan time.Time
		scheduleReload := func() {
			if reloadTimer == nil {
				reloadTimer = time.NewTimer(debounce)
			} else {
				if !reloadTimer.Stop() {
					select {
					case <-reloadTimer.C:
					default:
					}
				}
				reloadTimer.Reset(debounce)
			}
			reloadSignal = reloadTimer.C
		}

		for {
			select {
			case <-watchCtx.Done():
				return
			case <-reloadSignal:
				reloadSignal = nil
				reload()
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					scheduleReload()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				if err != nil && onError != nil {
					onError(fmt.Errorf("fallback: watch: %w", err))
				}
			}
		}
	}()

	return w, nil
}
