// Package supervisor manages named goroutines tied to a shared context:
// panic recovery with stack logging, optional cancel-on-first-error, and
// timeout-aware waiting on stop.
package supervisor

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"remindbot/pkg/logx"
)

type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	log         logx.Logger
	cancelOnErr bool

	errOnce  sync.Once
	firstErr atomic.Value // error
	wg       sync.WaitGroup
	active   atomic.Int64
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

// WithCancelOnError makes the first non-nil goroutine error cancel the
// supervisor context.
func WithCancelOnError(enabled bool) Option {
	return func(s *Supervisor) { s.cancelOnErr = enabled }
}

func New(parent context.Context, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{ctx: ctx, cancel: cancel, log: logx.Nop()}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Cancel cancels the supervisor context without waiting for goroutines.
func (s *Supervisor) Cancel() { s.cancel() }

// Err returns the first error recorded by a supervised goroutine.
func (s *Supervisor) Err() error {
	if v := s.firstErr.Load(); v != nil {
		return v.(error)
	}
	return nil
}

// Active reports the number of currently running supervised goroutines.
// Operational signal only, not a synchronization primitive.
func (s *Supervisor) Active() int64 { return s.active.Load() }

// Go runs fn on a new goroutine. A panic is recovered and logged; a non-nil
// error is recorded as the first error and, with WithCancelOnError, cancels
// the supervisor context.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	s.wg.Add(1)
	s.active.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.active.Add(-1)
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("panic in supervised goroutine",
					logx.String("goroutine", name),
					logx.Any("panic", r),
					logx.Stack(string(debug.Stack())))
			}
		}()
		if err := fn(s.ctx); err != nil && s.ctx.Err() == nil {
			s.recordErr(name, err)
		}
	}()
}

// Go0 runs a goroutine that cannot fail.
func (s *Supervisor) Go0(name string, fn func(ctx context.Context)) {
	s.Go(name, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

func (s *Supervisor) recordErr(name string, err error) {
	s.errOnce.Do(func() {
		s.firstErr.Store(err)
		s.log.Error("supervised goroutine failed", logx.String("goroutine", name), logx.Err(err))
		if s.cancelOnErr {
			s.cancel()
		}
	})
}

// Stop cancels the context and waits for all goroutines, bounded by ctx.
// Returns false if ctx expired before everything exited.
func (s *Supervisor) Stop(ctx context.Context) bool {
	s.cancel()
	return s.waitBounded(ctx)
}

// Drain waits for running goroutines without cancelling them first; if ctx
// expires it cancels and returns false. For work that should finish rather
// than be interrupted.
func (s *Supervisor) Drain(ctx context.Context) bool {
	if s.waitBounded(ctx) {
		s.cancel()
		return true
	}
	s.cancel()
	return false
}

func (s *Supervisor) waitBounded(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
