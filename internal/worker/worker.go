package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"nem_dashboard/internal/logging"
)

// Worker is one unit of periodic background work.
type Worker interface {
	// Name returns worker name for logging
	Name() string
	// Run executes one iteration of work
	Run(ctx context.Context) error
}

// PeriodicWorker runs a Worker immediately and then on every tick.
type PeriodicWorker struct {
	worker   Worker
	interval time.Duration
	logger   *zap.Logger
	wg       sync.WaitGroup
}

func NewPeriodicWorker(w Worker, interval time.Duration, logger *zap.Logger) *PeriodicWorker {
	return &PeriodicWorker{
		worker:   w,
		interval: interval,
		logger:   logging.OrNop(logger).With(zap.String("worker", w.Name())),
	}
}

// Start runs the worker in the background until ctx is cancelled.
func (pw *PeriodicWorker) Start(ctx context.Context) {
	pw.wg.Add(1)
	go pw.run(ctx)
}

// Stop waits up to timeout for the worker goroutine to exit. It returns false
// on timeout.
func (pw *PeriodicWorker) Stop(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		pw.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		pw.logger.Info("worker stopped")
		return true
	case <-time.After(timeout):
		pw.logger.Warn("worker stop timeout")
		return false
	}
}

func (pw *PeriodicWorker) run(ctx context.Context) {
	defer pw.wg.Done()

	pw.logger.Info("worker started", zap.Duration("interval", pw.interval))

	pw.runOnce(ctx)

	ticker := time.NewTicker(pw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pw.runOnce(ctx)
		}
	}
}

func (pw *PeriodicWorker) runOnce(ctx context.Context) {
	if err := pw.worker.Run(ctx); err != nil {
		pw.logger.Error("worker execution failed", zap.Error(err))
	}
}
