package conversation

import (
	"context"
	"log/slog"
	"time"

	"prefrontal/app/util/clock"
	"prefrontal/app/util/metrics"
)

type WaitResult struct {
	TimedOut bool
	// Cancelled is set when ctx ended the wait
	Cancelled bool
	Outcome   Outcome
	Elapsed   time.Duration
}

// Waiter polls the observer until a new message shows up or the ceiling is hit.
type Waiter struct {
	observer Observer
	clock    clock.Clock
	interval time.Duration
	timeout  time.Duration
}

func NewWaiter(observer Observer, clk clock.Clock, interval, timeout time.Duration) *Waiter {
	return &Waiter{
		observer: observer,
		clock:    clk,
		interval: interval,
		timeout:  timeout,
	}
}

func (w *Waiter) Wait(ctx context.Context) WaitResult {
	start := w.clock.Now()
	w.observer.SetWaitStart(start)

	for {
		if w.observer.NewMessageSince(start) {
			slog.Debug("Wait finished, new message arrived")
			return WaitResult{Outcome: OutcomeOK, Elapsed: w.clock.Now().Sub(start)}
		}

		elapsed := w.clock.Now().Sub(start)
		if elapsed > w.timeout {
			slog.Info("Wait timed out", "elapsed", elapsed)
			metrics.RecordOutcome("waiter", OutcomeTimeout.String())
			return WaitResult{TimedOut: true, Outcome: OutcomeTimeout, Elapsed: elapsed}
		}

		if err := w.clock.Sleep(ctx, w.interval); err != nil {
			return WaitResult{TimedOut: true, Cancelled: true, Outcome: OutcomeTimeout, Elapsed: elapsed}
		}
	}
}
