package service

import (
	"context"
	"sync"
	"time"

	"github.com/Skotchmaster/online_pharmacy/pkg/logging"
)

const defaultTaskTimeout = 10 * time.Second

// Background runs best-effort work after a transaction has committed.
// Failures are logged and counted, never returned to the caller. The zero
// value is ready to use.
type Background struct {
	Timeout time.Duration
	wg      sync.WaitGroup
}

// Go detaches fn from the request's cancellation but keeps its logger.
// A nil Background runs fn inline.
func (b *Background) Go(ctx context.Context, task string, fn func(ctx context.Context) error) {
	l := logging.FromContext(ctx).With("task", task)
	detached := logging.IntoContext(context.WithoutCancel(ctx), l)

	run := func(timeout time.Duration) {
		tctx, cancel := context.WithTimeout(detached, timeout)
		defer cancel()

		if err := fn(tctx); err != nil {
			bestEffortFailures.WithLabelValues(task).Inc()
			l.Warn("best_effort_failed", "error", err)
		}
	}

	if b == nil {
		run(defaultTaskTimeout)
		return
	}

	timeout := b.Timeout
	if timeout <= 0 {
		timeout = defaultTaskTimeout
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		run(timeout)
	}()
}

// Wait blocks until every started task has finished.
func (b *Background) Wait() {
	if b != nil {
		b.wg.Wait()
	}
}
