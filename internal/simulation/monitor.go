package simulation

import (
	"context"
	"time"
)

// runMonitor periodically reconciles every tracked job so that exits are
// noticed and output is prepared even when no client is polling.
func (r *Registry) runMonitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

// sweep reconciles a snapshot of the registry. Jobs created or deleted
// during the sweep are picked up on the next tick.
func (r *Registry) sweep(ctx context.Context) {
	for _, j := range r.store.snapshot() {
		if ctx.Err() != nil {
			return
		}
		j.Reconcile(ctx)
	}
}
