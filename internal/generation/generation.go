// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package generation provides a process-wide invalidation signal for
// consumers of image resources.
package generation

import (
	"sync"
	"sync/atomic"
)

// Bus is a monotonic generation counter with a change broadcast. Consumers
// may compare Generation values to cheaply detect that something changed
// since they last looked, or subscribe to be told when to re-layout.
//
// The zero Bus is ready to use. A Bus must not be copied after first use.
type Bus struct {
	gen atomic.Uint64

	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]func(uint64)
}

// Generation returns the current generation.
func (b *Bus) Generation() uint64 {
	return b.gen.Load()
}

// Bump advances the generation and calls each subscriber with the new
// value. Subscribers are called synchronously on the calling goroutine in
// no particular order.
func (b *Bus) Bump() {
	gen := b.gen.Add(1)
	b.mu.Lock()
	fns := make([]func(uint64), 0, len(b.subs))
	for _, fn := range b.subs {
		fns = append(fns, fn)
	}
	b.mu.Unlock()
	for _, fn := range fns {
		fn(gen)
	}
}

// Subscribe registers fn to be called after each Bump. The returned cancel
// function removes the subscription and may be called more than once.
func (b *Bus) Subscribe(fn func(gen uint64)) (cancel func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs == nil {
		b.subs = make(map[uint64]func(uint64))
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Len returns the number of current subscribers.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
