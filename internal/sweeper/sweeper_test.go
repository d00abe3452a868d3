package sweeper

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type fakeStore struct {
	calls atomic.Int64
	err   error
}

func (f *fakeStore) SweepTimeouts(ctx context.Context, timeout time.Duration) (int, error) {
	f.calls.Add(1)
	if f.err != nil {
		return 0, f.err
	}
	return 2, nil
}

func TestRunSweepsOnInterval(t *testing.T) {
	store := &fakeStore{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go New(store, time.Minute, 10*time.Millisecond).Run(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for store.calls.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("expected repeated sweeps, got %d", store.calls.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRunKeepsGoingAfterErrors(t *testing.T) {
	store := &fakeStore{err: errors.New("db down")}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go New(store, time.Minute, 10*time.Millisecond).Run(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for store.calls.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("a failing sweep must not stop the loop, got %d", store.calls.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	store := &fakeStore{}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		New(store, time.Minute, 5*time.Millisecond).Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run must return once the context is cancelled")
	}
}
