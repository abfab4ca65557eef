// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package clock

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestNew(t *testing.T) {
	for _, test := range []struct {
		period  time.Duration
		wantErr bool
	}{
		{period: DefaultPeriod},
		{period: 20 * time.Millisecond},
		{period: time.Millisecond},
		{period: 0, wantErr: true},
		{period: -time.Millisecond, wantErr: true},
		{period: 21 * time.Millisecond, wantErr: true},
	} {
		_, err := New(test.period)
		if (err != nil) != test.wantErr {
			t.Errorf("unexpected error state for %v: got:%v want error:%t", test.period, err, test.wantErr)
		}
	}
}

var playerTests = []struct {
	name      string
	durations []time.Duration
	period    time.Duration
	ticks     int

	wantCursor  int
	wantElapsed time.Duration
}{
	{
		name:        "within_first",
		durations:   []time.Duration{100 * time.Millisecond, 50 * time.Millisecond},
		period:      10 * time.Millisecond,
		ticks:       10,
		wantCursor:  0,
		wantElapsed: 100 * time.Millisecond,
	},
	{
		name:        "second_frame_carry",
		durations:   []time.Duration{100 * time.Millisecond, 50 * time.Millisecond},
		period:      10 * time.Millisecond,
		ticks:       13,
		wantCursor:  1,
		wantElapsed: 30 * time.Millisecond,
	},
	{
		name:        "wrapped",
		durations:   []time.Duration{100 * time.Millisecond, 50 * time.Millisecond},
		period:      10 * time.Millisecond,
		ticks:       20,
		wantCursor:  0,
		wantElapsed: 50 * time.Millisecond,
	},
	{
		name:        "catch_up",
		durations:   []time.Duration{20 * time.Millisecond, 20 * time.Millisecond, 20 * time.Millisecond},
		period:      50 * time.Millisecond,
		ticks:       1,
		wantCursor:  2,
		wantElapsed: 10 * time.Millisecond,
	},
	{
		name:        "clamped",
		durations:   []time.Duration{5 * time.Millisecond, 5 * time.Millisecond},
		period:      10 * time.Millisecond,
		ticks:       3,
		wantCursor:  1,
		wantElapsed: 10 * time.Millisecond,
	},
}

func TestPlayer(t *testing.T) {
	for _, test := range playerTests {
		t.Run(test.name, func(t *testing.T) {
			p := NewPlayer(test.durations)
			for range test.ticks {
				p.Advance(test.period)
			}
			if p.Cursor() != test.wantCursor {
				t.Errorf("unexpected cursor: got:%d want:%d", p.Cursor(), test.wantCursor)
			}
			if p.Elapsed() != test.wantElapsed {
				t.Errorf("unexpected elapsed time: got:%v want:%v", p.Elapsed(), test.wantElapsed)
			}
		})
	}
}

func TestPlayerPanicsWithoutFrames(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	NewPlayer(nil)
}

type ticker struct {
	name    string
	alive   bool
	elapsed time.Duration
	log     *[]string
}

func (t *ticker) Advance(d time.Duration) {
	t.elapsed += d
	*t.log = append(*t.log, t.name)
}

func (t *ticker) Alive() bool { return t.alive }

func TestClockTick(t *testing.T) {
	c, err := New(10 * time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var log []string
	a := &ticker{name: "a", alive: true, log: &log}
	b := &ticker{name: "b", alive: true, log: &log}
	c.Subscribe(a)
	c.Subscribe(b)

	c.Tick()
	c.Tick()
	b.alive = false
	c.Tick()

	want := []string{"a", "b", "a", "b", "a"}
	if !cmp.Equal(log, want) {
		t.Errorf("unexpected advance order:\n--- want:\n+++ got:\n%s", cmp.Diff(want, log))
	}
	if a.elapsed != 30*time.Millisecond {
		t.Errorf("unexpected elapsed time for live ticker: %v", a.elapsed)
	}
	if b.elapsed != 20*time.Millisecond {
		t.Errorf("unexpected elapsed time for dead ticker: %v", b.elapsed)
	}
	if c.Len() != 1 {
		t.Errorf("dead ticker not pruned: %d tickers", c.Len())
	}
}

func TestClockRun(t *testing.T) {
	c, err := New(time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	var posted atomic.Int64
	done := make(chan error)
	go func() {
		done <- c.Run(ctx, func(fn func()) {
			if posted.Add(1) == 3 {
				cancel()
			}
		})
	}()
	select {
	case err = <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("clock did not stop")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("unexpected error: %v", err)
	}
	if n := posted.Load(); n < 3 {
		t.Errorf("unexpected number of posted ticks: %d", n)
	}
}
