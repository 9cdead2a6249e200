package alerting

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Sweeper expires due alerts on a fixed interval. Reads also expire lazily,
// so a missed tick only delays the expired event.
type Sweeper struct {
	service  *Service
	interval time.Duration
	wg       sync.WaitGroup
}

func NewSweeper(service *Service, interval time.Duration) *Sweeper {
	return &Sweeper{service: service, interval: interval}
}

func (sw *Sweeper) Start(ctx context.Context) {
	sw.wg.Add(1)
	go sw.run(ctx)
}

func (sw *Sweeper) run(ctx context.Context) {
	defer sw.wg.Done()
	slog.Info("starting expiry sweeper", "interval", sw.interval)

	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	sw.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("expiry sweeper shutting down")
			return
		case <-ticker.C:
			sw.sweep(ctx)
		}
	}
}

func (sw *Sweeper) sweep(ctx context.Context) {
	if _, err := sw.service.ExpireDue(ctx); err != nil && ctx.Err() == nil {
		slog.Error("expiry sweep failed", "error", err)
	}
}

// Stop waits for the sweeper goroutine; cancel its context first.
func (sw *Sweeper) Stop() {
	sw.wg.Wait()
}
