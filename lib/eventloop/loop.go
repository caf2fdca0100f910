// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package eventloop

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned by Flush when the loop has been closed.
var ErrClosed = errors.New("eventloop: closed")

// Loop runs tasks serially on a dedicated goroutine. The queue is
// unbounded so Dispatch never blocks: a slow consumer grows memory
// instead of stalling the producer, which matters when two loops post
// to each other.
type Loop struct {
	name   string
	logger *slog.Logger

	mu      sync.Mutex
	queue   []func()
	closing bool

	// wake has capacity 1. A pending token means the run goroutine has
	// work to look at; extra wakeups coalesce.
	wake chan struct{}
	done chan struct{}

	// goroutine is the id of the run goroutine, recorded once on start.
	goroutine atomic.Uint64
	started   chan struct{}
}

// New starts a loop. The name appears in log records and assertion
// panics.
func New(name string, logger *slog.Logger) *Loop {
	loop := &Loop{
		name:    name,
		logger:  logger,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		started: make(chan struct{}),
	}
	go loop.run()
	<-loop.started
	return loop
}

// Name returns the loop name given to New.
func (l *Loop) Name() string { return l.name }

// Dispatch queues task to run on the loop. It returns false without
// queueing if the loop is closing.
func (l *Loop) Dispatch(task func()) bool {
	l.mu.Lock()
	if l.closing {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, task)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// IsCurrent reports whether the caller is running on this loop.
func (l *Loop) IsCurrent() bool {
	return currentGoroutine() == l.goroutine.Load()
}

// AssertOn panics if the caller is not running on this loop.
func (l *Loop) AssertOn() {
	if !l.IsCurrent() {
		panic(fmt.Sprintf("eventloop: called off the %s loop", l.name))
	}
}

// Flush blocks until every task queued before the call has run. It
// must not be called from the loop itself.
func (l *Loop) Flush(ctx context.Context) error {
	if l.IsCurrent() {
		panic(fmt.Sprintf("eventloop: Flush called on the %s loop", l.name))
	}
	reached := make(chan struct{})
	if !l.Dispatch(func() { close(reached) }) {
		return ErrClosed
	}
	select {
	case <-reached:
		return nil
	case <-l.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting tasks, runs whatever is already queued, and
// waits for the loop goroutine to exit. Tasks queued by those final
// tasks are dropped. Close is idempotent. Calling Close from the loop
// itself marks it closing and returns without waiting.
func (l *Loop) Close() {
	l.mu.Lock()
	alreadyClosing := l.closing
	l.closing = true
	l.mu.Unlock()

	if !alreadyClosing {
		select {
		case l.wake <- struct{}{}:
		default:
		}
	}
	if l.IsCurrent() {
		return
	}
	<-l.done
}

// Done is closed once the loop goroutine has exited.
func (l *Loop) Done() <-chan struct{} { return l.done }

func (l *Loop) run() {
	defer close(l.done)
	l.goroutine.Store(currentGoroutine())
	close(l.started)

	for range l.wake {
		for {
			l.mu.Lock()
			batch := l.queue
			l.queue = nil
			closing := l.closing
			l.mu.Unlock()

			for _, task := range batch {
				task()
			}
			if len(batch) > 0 && !closing {
				continue
			}
			if closing {
				l.mu.Lock()
				dropped := len(l.queue)
				l.queue = nil
				l.mu.Unlock()
				if dropped > 0 {
					l.logger.Debug("dropping tasks queued during close",
						"loop", l.name,
						"count", dropped,
					)
				}
				return
			}
			break
		}
	}
}

// currentGoroutine parses the goroutine id out of the first line of the
// caller's stack trace ("goroutine 42 [running]:").
func currentGoroutine() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	line := bytes.TrimPrefix(buf[:n], []byte("goroutine "))
	if i := bytes.IndexByte(line, ' '); i > 0 {
		line = line[:i]
	}
	id, err := strconv.ParseUint(string(line), 10, 64)
	if err != nil {
		panic("eventloop: cannot parse goroutine id: " + err.Error())
	}
	return id
}
