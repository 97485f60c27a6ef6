package runner

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// LifecycleRunner ties the engine to a context: Run blocks until the
// context is cancelled or Stop is called, then drains the session
// pipeline once within a bounded window.
type LifecycleRunner struct {
	state   atomic.Int32
	ctx     context.Context
	cancel  context.CancelFunc
	stopped sync.Once

	hooks    Hooks
	drainer  Drainer
	window   time.Duration
	drainErr error
}

func NewLifecycleRunner(drainer Drainer, hooks Hooks, window time.Duration) *LifecycleRunner {
	if window <= 0 {
		window = 10 * time.Second
	}
	r := &LifecycleRunner{
		hooks:   hooks,
		drainer: drainer,
		window:  window,
	}
	r.ctx, r.cancel = context.WithCancel(context.Background())
	r.state.Store(int32(StateNew))
	return r
}

// Run is single-use; a second call fails instead of restarting.
func (r *LifecycleRunner) Run(ctx context.Context) error {
	if !r.state.CompareAndSwap(int32(StateNew), int32(StateStarting)) {
		return errors.New("runner already started")
	}
	PrintBanner()
	if ctx != nil {
		r.ctx, r.cancel = context.WithCancel(ctx)
	}
	if r.hooks.OnStart != nil {
		r.hooks.OnStart()
	}
	r.state.Store(int32(StateRunning))
	<-r.ctx.Done()
	return r.shutdown()
}

func (r *LifecycleRunner) Stop() error {
	r.cancel()
	return r.shutdown()
}

func (r *LifecycleRunner) State() State {
	return State(r.state.Load())
}

func (r *LifecycleRunner) shutdown() error {
	r.stopped.Do(func() {
		r.state.Store(int32(StateDraining))
		r.drainErr = r.drain()
		if r.hooks.OnStop != nil {
			r.hooks.OnStop()
		}
		r.state.Store(int32(StateStopped))
	})
	return r.drainErr
}

// drain gives in-flight work one bounded chance to flush. A drainer
// that overruns the window is abandoned, not waited on.
func (r *LifecycleRunner) drain() error {
	if r.drainer == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		_ = r.drainer.Drain()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(r.window):
		return errors.New("drain timeout")
	}
}
