// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package clock

import (
	"time"

	"github.com/kortschak/lazyimg/internal/animation"
)

// Player is a frame cursor over a sequence of frame durations. It carries
// the time elapsed within the current frame forward between advances so
// that playback speed is correct regardless of the clock period.
type Player struct {
	durations []time.Duration
	cursor    int
	elapsed   time.Duration
}

// NewPlayer returns a Player over the provided frame durations. Durations
// are clamped to animation.MinDuration. NewPlayer panics if durations is
// empty.
func NewPlayer(durations []time.Duration) *Player {
	if len(durations) == 0 {
		panic("clock: no frames")
	}
	d := make([]time.Duration, len(durations))
	for i, v := range durations {
		d[i] = animation.Clamp(v)
	}
	return &Player{durations: d}
}

// Advance adds d to the time elapsed within the current frame and moves
// the cursor past every frame whose duration has been exceeded, wrapping
// at the end of the sequence. It returns whether the cursor moved.
func (p *Player) Advance(d time.Duration) bool {
	moved := false
	p.elapsed += d
	for p.elapsed > p.durations[p.cursor] {
		p.elapsed -= p.durations[p.cursor]
		p.cursor = (p.cursor + 1) % len(p.durations)
		moved = true
	}
	return moved
}

// Cursor returns the index of the current frame.
func (p *Player) Cursor() int {
	return p.cursor
}

// Elapsed returns the time spent so far in the current frame.
func (p *Player) Elapsed() time.Duration {
	return p.elapsed
}

// Len returns the number of frames.
func (p *Player) Len() int {
	return len(p.durations)
}
