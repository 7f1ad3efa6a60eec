// Package sweep runs a function at a fixed interval until stopped.
package sweep

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Task manages a background function that runs at regular intervals.
type Task struct {
	clock    clock.Clock
	interval time.Duration
	fn       func(ctx context.Context)

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// New creates a task. A nil clock uses the wall clock.
func New(clk clock.Clock, interval time.Duration, fn func(ctx context.Context)) *Task {
	if clk == nil {
		clk = clock.New()
	}
	return &Task{
		clock:    clk,
		interval: interval,
		fn:       fn,
	}
}

// Start begins running fn every interval. Calling Start on a running task
// is a no-op. Non-positive intervals never start.
func (t *Task) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running || t.interval <= 0 {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.running = true

	// Create the ticker before returning so a mock clock advanced right
	// after Start is observed.
	ticker := t.clock.Ticker(t.interval)

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				t.fn(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop terminates the task and waits for an in-flight run to finish.
func (t *Task) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running {
		return
	}

	t.cancel()
	t.wg.Wait()
	t.running = false
}

// IsRunning reports whether the task is running.
func (t *Task) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}
