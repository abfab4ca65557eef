// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package loop provides a single goroutine function executor used as the
// control goroutine for image resources.
package loop

import (
	"context"
	"log/slog"
	"sync"
)

// Loop executes posted functions in order on a single goroutine.
type Loop struct {
	mu     sync.Mutex
	queue  []func()
	notify chan struct{}

	log *slog.Logger
}

// New returns a new Loop.
func New(log *slog.Logger) *Loop {
	return &Loop{
		notify: make(chan struct{}, 1),
		log:    log.With(slog.String("component", "loop")),
	}
}

// Post queues fn for execution on the loop. Post never blocks and may be
// called from any goroutine, including the loop's own.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	select {
	case l.notify <- struct{}{}:
	default:
	}
}

// Run executes posted functions until ctx is cancelled. Only one goroutine
// may call Run or Drain at a time; that goroutine is the control goroutine.
func (l *Loop) Run(ctx context.Context) error {
	l.log.LogAttrs(ctx, slog.LevelDebug, "start")
	defer l.log.LogAttrs(ctx, slog.LevelDebug, "stop")
	for {
		l.Drain()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.notify:
		}
	}
}

// Drain executes all currently queued functions, including functions they
// post, and returns the number executed.
func (l *Loop) Drain() int {
	var n int
	for {
		l.mu.Lock()
		q := l.queue
		l.queue = nil
		l.mu.Unlock()
		if len(q) == 0 {
			return n
		}
		for _, fn := range q {
			fn()
		}
		n += len(q)
	}
}

// Ready returns a channel that receives a value after functions have been
// posted. It is for control goroutines that drain the loop from their own
// event loop rather than calling Run.
func (l *Loop) Ready() <-chan struct{} {
	return l.notify
}

// Len returns the number of queued functions.
func (l *Loop) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}
