package sweeper

import (
	"context"
	"log"
	"time"
)

const DefaultInterval = time.Minute

// Store is the slice of the persistence layer the sweeper needs.
type Store interface {
	SweepTimeouts(ctx context.Context, timeout time.Duration) (int, error)
}

// Sweeper periodically writes TIMEOUT logs for abandoned sessions. Every
// worker replica can run one; SKIP LOCKED in the store makes overlapping
// sweeps cheap instead of conflicting.
type Sweeper struct {
	store    Store
	timeout  time.Duration
	interval time.Duration
}

func New(store Store, timeout, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Sweeper{store: store, timeout: timeout, interval: interval}
}

// Run sweeps once per interval until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.store.SweepTimeouts(ctx, s.timeout)
			if err != nil {
				log.Printf("[Sweeper] sweep failed: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("[Sweeper] timed out %d abandoned sessions", n)
			}
		}
	}
}
