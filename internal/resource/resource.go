// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package resource provides lazily loaded, possibly animated, image
// resources.
//
// An Image backed by a URL does not fetch its data until CurrentFrame is
// first called. Fetching and decoding happen off the control goroutine and
// the result is posted back to it through the Loader's Dispatcher. All
// Image methods other than Close must be called on the control goroutine,
// the goroutine that executes posted functions and clock ticks.
package resource

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync/atomic"
	"time"
	"weak"

	"github.com/kortschak/lazyimg/internal/animation"
	"github.com/kortschak/lazyimg/internal/clock"
	"github.com/kortschak/lazyimg/internal/slogext"
)

// FallbackSize is the width and height reported for an image that has no
// frame available.
const FallbackSize = 16

// Image is a lazily loaded image resource.
type Image struct {
	src  Source
	meta Meta

	loader *Loader

	// d holds the mutable load and animation state. It does not refer
	// back to the Image so that the clock and the GC cleanup can hold it
	// without keeping the Image alive.
	d *decoded
}

// decoded is the load state of an Image and its frame cursor. All fields
// except alive are only accessed on the control goroutine.
type decoded struct {
	alive atomic.Bool

	state   State
	err     error
	frames  []animation.Frame
	player  *clock.Player
	current image.Image
}

// Advance implements clock.Ticker.
func (d *decoded) Advance(dt time.Duration) {
	if d.player.Advance(dt) {
		d.current = d.frames[d.player.Cursor()].Image
	}
}

// Alive implements clock.Ticker.
func (d *decoded) Alive() bool {
	return d.alive.Load()
}

// CurrentFrame returns the frame to display now. The first call on an
// unloaded URL-backed Image starts an asynchronous fetch. CurrentFrame
// returns nil while the image is loading or if loading failed. It never
// blocks.
func (img *Image) CurrentFrame() image.Image {
	if img.d.state == NotLoaded && img.d.alive.Load() {
		img.load()
	}
	return img.d.current
}

// load starts the fetch of the Image's URL. The fetch continuation holds
// only a weak reference to the Image and discards its result if the Image
// has been closed or collected by the time the result reaches the control
// goroutine.
func (img *Image) load() {
	url := string(img.src.(URL))
	img.d.state = Loading
	l := img.loader
	log := l.log.With(slog.String("url", url))
	ctx := context.Background()
	log.LogAttrs(ctx, slog.LevelDebug, "fetch")

	ref := weak.Make(img)
	l.fetcher.Fetch(url, func(b []byte, err error) {
		var frames []animation.Frame
		if err != nil {
			err = fmt.Errorf("%w: %w", ErrFetch, err)
		} else {
			frames, err = decode(b)
			if err != nil {
				log.LogAttrs(ctx, slog.LevelDebug, "decode error", slog.Any("body", slogext.Bytes{Data: b, Format: animation.Format}))
			}
		}
		l.post.Post(func() {
			img := ref.Value()
			if img == nil || !img.d.alive.Load() {
				log.LogAttrs(ctx, slog.LevelDebug, "discard result for dead image", slog.Any("error", err))
				return
			}
			img.complete(frames, err, log)
		})
	})
}

// decode returns the frames in b, classifying errors as decode failures.
func decode(b []byte) ([]animation.Frame, error) {
	frames, err := animation.Decode(b)
	switch {
	case errors.Is(err, animation.ErrNoData):
		return nil, fmt.Errorf("%w: %w", ErrEmptyDecode, err)
	case err != nil:
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	case len(frames) == 0:
		return nil, ErrEmptyDecode
	}
	return frames, nil
}

// complete installs the result of a fetch and decode, registering animated
// images with the clock, and bumps the generation. It must be called on
// the control goroutine.
func (img *Image) complete(frames []animation.Frame, err error, log *slog.Logger) {
	ctx := context.Background()
	d := img.d
	l := img.loader
	switch {
	case err != nil:
		d.state = Failed
		d.err = err
		log.LogAttrs(ctx, slog.LevelWarn, "image load failed", slog.Any("error", err))
	case len(frames) == 1:
		d.state = Static
		d.frames = frames
		d.current = frames[0].Image
		log.LogAttrs(ctx, slog.LevelDebug, "image loaded", slog.Any("state", slogext.Stringer{Stringer: d.state}))
	default:
		d.state = Animated
		d.frames = frames
		durations := make([]time.Duration, len(frames))
		for i, f := range frames {
			durations[i] = f.Duration
		}
		d.player = clock.NewPlayer(durations)
		d.current = frames[0].Image
		l.clock.Subscribe(d)
		log.LogAttrs(ctx, slog.LevelDebug, "image loaded", slog.Any("state", slogext.Stringer{Stringer: d.state}), slog.Int("frames", len(frames)))
	}
	l.bus.Bump()
}

// Close marks the Image as destroyed. A fetch in flight for the Image is
// discarded on completion and an animated Image is removed from the clock
// on its next tick. Close is safe to call from any goroutine and more than
// once. An Image that becomes unreachable is closed automatically.
func (img *Image) Close() {
	img.d.alive.Store(false)
}

// Source returns the source of the image.
func (img *Image) Source() Source { return img.src }

// URL returns the image's URL and whether it is URL-backed.
func (img *Image) URL() (string, bool) {
	u, ok := img.src.(URL)
	return string(u), ok
}

// Scale returns the display scale factor.
func (img *Image) Scale() float64 { return img.meta.Scale }

// Name returns the display name.
func (img *Image) Name() string { return img.meta.Name }

// Tooltip returns the tooltip text.
func (img *Image) Tooltip() string { return img.meta.Tooltip }

// Margin returns the layout margins.
func (img *Image) Margin() Margins { return img.meta.Margin }

// IsHat returns whether the image is a decorative overlay.
func (img *Image) IsHat() bool { return img.meta.Hat }

// State returns the load state.
func (img *Image) State() State { return img.d.state }

// Err returns the reason for a Failed state.
func (img *Image) Err() error { return img.d.err }

// Frames returns the number of decoded frames.
func (img *Image) Frames() int { return len(img.d.frames) }

// IsAnimated returns whether the image decoded to two or more frames.
func (img *Image) IsAnimated() bool { return img.d.state == Animated }

// Width returns the width of the current frame, or FallbackSize if there
// is no frame.
func (img *Image) Width() int {
	if img.d.current == nil {
		return FallbackSize
	}
	return img.d.current.Bounds().Dx()
}

// Height returns the height of the current frame, or FallbackSize if there
// is no frame.
func (img *Image) Height() int {
	if img.d.current == nil {
		return FallbackSize
	}
	return img.d.current.Bounds().Dy()
}

// ScaledWidth returns Width multiplied by the scale, truncated.
func (img *Image) ScaledWidth() int {
	return int(float64(img.Width()) * img.meta.Scale)
}

// ScaledHeight returns Height multiplied by the scale, truncated.
func (img *Image) ScaledHeight() int {
	return int(float64(img.Height()) * img.meta.Scale)
}

// Cursor returns the index of the displayed frame.
func (img *Image) Cursor() int {
	if img.d.player == nil {
		return 0
	}
	return img.d.player.Cursor()
}
