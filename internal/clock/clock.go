// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package clock provides the shared animation clock that advances animated
// image resources.
package clock

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/kortschak/lazyimg/internal/animation"
)

// DefaultPeriod is the default tick period. It is shorter than
// animation.MinDuration so that no frame is skipped at the shortest
// permitted frame duration.
const DefaultPeriod = 16 * time.Millisecond

// Ticker is an animation driven by a Clock.
type Ticker interface {
	// Advance moves the animation forward by d.
	Advance(d time.Duration)
	// Alive returns whether the animation's owner still exists.
	// Tickers that are not alive are removed from the clock.
	Alive() bool
}

// Clock is a fixed period animation clock. Each call to Tick advances every
// subscribed Ticker by the clock period.
//
// Clock methods other than Period and Run must be called from the single
// control goroutine that owns the animated resources; Clock performs no
// locking.
type Clock struct {
	period  time.Duration
	tickers []Ticker
}

// New returns a new Clock with the provided tick period. The period must
// be positive and no longer than animation.MinDuration.
func New(period time.Duration) (*Clock, error) {
	if period <= 0 || period > animation.MinDuration {
		return nil, fmt.Errorf("invalid clock period: %v not in (0, %v]", period, animation.MinDuration)
	}
	return &Clock{period: period}, nil
}

// Period returns the clock's tick period.
func (c *Clock) Period() time.Duration {
	return c.period
}

// Subscribe adds t to the set of tickers advanced by the clock. The clock
// holds t only until t reports that it is no longer alive.
func (c *Clock) Subscribe(t Ticker) {
	c.tickers = append(c.tickers, t)
}

// Tick advances all live tickers by the clock period and drops tickers
// that are no longer alive.
func (c *Clock) Tick() {
	c.tickers = slices.DeleteFunc(c.tickers, func(t Ticker) bool {
		return !t.Alive()
	})
	for _, t := range c.tickers {
		t.Advance(c.period)
	}
}

// Len returns the number of subscribed tickers, including any that have
// died since the last tick.
func (c *Clock) Len() int {
	return len(c.tickers)
}

// Run calls post with the clock's Tick method once per period until ctx is
// cancelled. The post function is expected to arrange for Tick to be
// executed on the control goroutine.
func (c *Clock) Run(ctx context.Context, post func(func())) error {
	t := time.NewTicker(c.period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			post(c.Tick)
		}
	}
}
