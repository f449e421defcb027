package service

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDriftDebounce coalesces bursts such as `rm conf.d/*`.
const DefaultDriftDebounce = 750 * time.Millisecond

// WatchDrift watches the supervisor conf dir and the dirs holding the stored
// channel configs, and runs Reconcile (debounced) whenever a file there is
// removed or renamed away. The watcher lives until ctx is done.
func (p *Provisioner) WatchDrift(ctx context.Context, unitDir string, debounce time.Duration) error {
	if debounce <= 0 {
		debounce = DefaultDriftDebounce
	}

	dirs := []string{filepath.Clean(unitDir)}
	for _, rec := range p.store.GetList() {
		if rec.PlayoutConfig != "" {
			dirs = append(dirs, filepath.Dir(filepath.Clean(rec.PlayoutConfig)))
		}
	}
	slices.Sort(dirs)
	dirs = slices.Compact(dirs)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watcher init: %w", err)
	}
	for _, dir := range dirs {
		if err := w.Add(dir); err != nil {
			// A config dir may not exist yet; the unit dir must.
			if dir == filepath.Clean(unitDir) {
				w.Close()
				return fmt.Errorf("watch %s: %w", dir, err)
			}
			p.log.Warn("drift watch: skip dir", zap.String("dir", dir), zap.Error(err))
		}
	}

	go p.watchDrift(ctx, w, debounce)
	p.log.Info("drift watch: started", zap.Strings("dirs", w.WatchList()))
	return nil
}

func (p *Provisioner) watchDrift(ctx context.Context, w *fsnotify.Watcher, debounce time.Duration) {
	defer w.Close()

	trigger := func() {
		if ctx.Err() != nil {
			return
		}
		if err := p.Reconcile(ctx); err != nil {
			p.log.Warn("drift watch: reconcile finished with errors", zap.Error(err))
		}
	}

	// Single timer, reset on each qualifying event.
	var t *time.Timer
	defer func() {
		if t != nil {
			t.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if strings.HasPrefix(filepath.Base(ev.Name), ".") { // our own temp files
				continue
			}
			p.log.Debug("drift watch: file gone", zap.String("path", ev.Name))
			if t != nil {
				t.Stop()
			}
			t = time.AfterFunc(debounce, trigger)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			p.log.Warn("drift watch: watcher error", zap.Error(err))
		}
	}
}
