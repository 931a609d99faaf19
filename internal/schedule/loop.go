// Package schedule runs interval timers whose dependencies are fixed at start.
//
// A Loop never mutates a running timer. Changing the dependency set means
// calling Start again with a new closure: the previous run is cancelled and
// awaited before the new one begins, so a superseded run cannot apply results
// after its replacement has started.
package schedule

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"spotdex/internal/metrics"
)

// Loop is a restartable interval timer.
type Loop struct {
	name     string
	interval time.Duration
	logger   *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	runs   uint64
	closed bool
}

// NewLoop creates a stopped loop. name labels logs and the restart metric.
func NewLoop(name string, interval time.Duration, logger *zap.Logger) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{
		name:     name,
		interval: interval,
		logger:   logger,
	}
}

// Start cancels any running instance and calls fn every interval until the next
// Start, Stop or Close. fn receives a context cancelled when its run is superseded.
func (l *Loop) Start(fn func(ctx context.Context)) {
	l.start(fn, false)
}

// StartNow is Start with an immediate first call.
func (l *Loop) StartNow(fn func(ctx context.Context)) {
	l.start(fn, true)
}

func (l *Loop) start(fn func(ctx context.Context), immediate bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}

	restarted := l.stopLocked()
	if restarted {
		metrics.TimerRestarts.WithLabelValues(l.name).Inc()
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	l.cancel = cancel
	l.done = done
	l.runs++

	l.logger.Debug("loop started",
		zap.String("loop", l.name),
		zap.Duration("interval", l.interval),
		zap.Bool("restart", restarted))

	go func() {
		defer close(done)

		if immediate {
			fn(ctx)
		}

		ticker := time.NewTicker(l.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if ctx.Err() != nil {
					return
				}
				fn(ctx)
			}
		}
	}()
}

// Stop cancels the running instance and waits for it to return.
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopLocked() {
		l.logger.Debug("loop stopped", zap.String("loop", l.name))
	}
}

// Close stops the loop permanently; later Starts are ignored.
func (l *Loop) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopLocked()
	l.closed = true
}

// Running reports whether an instance is active.
func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cancel != nil
}

// Runs returns how many times the loop has been started.
func (l *Loop) Runs() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.runs
}

// stopLocked must be called with l.mu held. It reports whether a run was active.
func (l *Loop) stopLocked() bool {
	if l.cancel == nil {
		return false
	}
	l.cancel()
	<-l.done
	l.cancel = nil
	l.done = nil
	return true
}
