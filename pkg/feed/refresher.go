package feed

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultRefreshInterval is the period between automatic feed refreshes.
const DefaultRefreshInterval = 10 * time.Second

// Refresher periodically reloads a feed from offset zero so fresh records
// surface without user action. A refresh tick is skipped while a load is
// already in flight; the loader's own guard makes the skip a no-op rather
// than a queued request.
type Refresher struct {
	loader   *Loader
	interval time.Duration
	logger   *zap.Logger
}

// NewRefresher creates a refresher over the given loader. interval <= 0
// means DefaultRefreshInterval.
func NewRefresher(loader *Loader, interval time.Duration, logger *zap.Logger) *Refresher {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Refresher{loader: loader, interval: interval, logger: logger}
}

// Start launches the refresh loop and returns a stop function. The loop
// ends when ctx is cancelled or the stop function is called; the stop
// function blocks until the loop has exited.
func (r *Refresher) Start(ctx context.Context) func() {
	t := time.NewTicker(r.interval)
	quit := make(chan struct{})
	stopped := make(chan struct{})
	var once sync.Once

	go func() {
		defer close(stopped)
		for {
			select {
			case <-ctx.Done():
				return
			case <-quit:
				return
			case <-t.C:
				if r.loader.Loading() {
					continue
				}
				if err := r.loader.Load(ctx, true); err != nil {
					r.logger.Warn("feed refresh failed", zap.Error(err))
				}
			}
		}
	}()

	return func() {
		once.Do(func() {
			t.Stop()
			close(quit)
			<-stopped
		})
	}
}
