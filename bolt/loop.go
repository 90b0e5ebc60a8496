package bolt

import (
	"context"
	"runtime/debug"
)

const defaultLoopBuffer = 1024

// Loop is the single-writer scheduling actor. One goroutine owns the unit
// catalog, the instance map and every listener list; all mutation of that
// state arrives here as a job. Host callbacks, timers and reloads are
// marshalled onto the loop so none of those structures ever needs a lock.
type Loop struct {
	logger Logger
	jobs   chan func()
	stop   chan struct{}
	done   chan struct{}
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithLoopBuffer sets the job buffer size.
func WithLoopBuffer(size int) LoopOption {
	return func(l *Loop) {
		if size > 0 {
			l.jobs = make(chan func(), size)
		}
	}
}

// NewLoop creates a stopped loop. Call Start before submitting jobs.
func NewLoop(logger Logger, opts ...LoopOption) *Loop {
	l := &Loop{
		logger: logger,
		jobs:   make(chan func(), defaultLoopBuffer),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Start begins draining jobs on the loop goroutine.
func (l *Loop) Start() {
	go l.run()
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		select {
		case job := <-l.jobs:
			l.invoke(job)
		case <-l.stop:
			// Drain whatever was already queued so stop/start ordering
			// guarantees hold for jobs submitted before Stop.
			for {
				select {
				case job := <-l.jobs:
					l.invoke(job)
				default:
					return
				}
			}
		}
	}
}

// invoke runs one job, converting a panic into an error log so a single bad
// callback cannot take down unrelated listeners.
func (l *Loop) invoke(job func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("job panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	job()
}

// Submit queues a job for execution on the loop.
func (l *Loop) Submit(job func()) error {
	select {
	case <-l.stop:
		return ErrLoopNotRunning
	default:
	}

	select {
	case l.jobs <- job:
		return nil
	default:
		return ErrLoopBufferFull
	}
}

// Do runs a job on the loop and waits for it to finish, or for the context
// to be cancelled.
func (l *Loop) Do(ctx context.Context, job func()) error {
	finished := make(chan struct{})
	if err := l.Submit(func() {
		defer close(finished)
		job()
	}); err != nil {
		return err
	}

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop halts the loop after draining already-queued jobs. It is safe to
// call once; subsequent Submits fail with ErrLoopNotRunning.
func (l *Loop) Stop() {
	close(l.stop)
	<-l.done
}
