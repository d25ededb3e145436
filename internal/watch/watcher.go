// Package watch triggers a refresh when the collector rewrites snapshot files.
package watch

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"nem_dashboard/internal/logging"
	"nem_dashboard/internal/worker"
)

// DefaultDebounce collapses the burst of events a collector run produces.
const DefaultDebounce = 2 * time.Second

// Watcher runs a worker after snapshot files in a directory change. Events
// closer together than the debounce period cause a single run.
type Watcher struct {
	dir      string
	target   worker.Worker
	debounce time.Duration
	logger   *zap.Logger
	wg       sync.WaitGroup
}

func New(dir string, target worker.Worker, debounce time.Duration, logger *zap.Logger) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		dir:      dir,
		target:   target,
		debounce: debounce,
		logger:   logging.OrNop(logger).Named("watch"),
	}
}

// Start begins watching until ctx is cancelled. It fails if the directory
// cannot be watched.
func (w *Watcher) Start(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fw.Add(w.dir); err != nil {
		fw.Close()
		return err
	}

	w.wg.Add(1)
	go w.loop(ctx, fw)
	w.logger.Info("watching snapshot directory", zap.String("dir", w.dir))
	return nil
}

// Wait blocks until the watch loop has exited.
func (w *Watcher) Wait() {
	w.wg.Wait()
}

func (w *Watcher) loop(ctx context.Context, fw *fsnotify.Watcher) {
	defer w.wg.Done()
	defer fw.Close()

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-fw.Events:
			if !ok {
				return
			}
			if !relevant(evt) {
				continue
			}
			w.logger.Debug("snapshot changed", zap.String("file", evt.Name), zap.String("op", evt.Op.String()))
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			if err := w.target.Run(ctx); err != nil {
				w.logger.Error("refresh after file change failed", zap.Error(err))
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

func relevant(evt fsnotify.Event) bool {
	if evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return false
	}
	base := filepath.Base(evt.Name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	return strings.EqualFold(filepath.Ext(base), ".csv")
}
