// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package resource

import (
	"image"
	"log/slog"
	"runtime"
	"sync"
	"weak"

	"github.com/kortschak/lazyimg/internal/animation"
	"github.com/kortschak/lazyimg/internal/clock"
	"github.com/kortschak/lazyimg/internal/generation"
)

// Fetcher retrieves the bytes addressed by a URL.
type Fetcher interface {
	// Fetch starts retrieval of url. The done function is called exactly
	// once with the payload or an error. It is never called before Fetch
	// returns.
	Fetch(url string, done func([]byte, error))
}

// Dispatcher arranges for functions to be run on the control goroutine.
type Dispatcher interface {
	// Post queues fn. Post must not block.
	Post(fn func())
}

// Loader constructs Images sharing a fetcher, control dispatcher, animation
// clock and generation bus.
type Loader struct {
	fetcher Fetcher
	post    Dispatcher
	clock   *clock.Clock
	bus     *generation.Bus
	log     *slog.Logger

	mu     sync.Mutex
	images map[string]weak.Pointer[Image]
}

// NewLoader returns a new Loader.
func NewLoader(fetcher Fetcher, post Dispatcher, clk *clock.Clock, bus *generation.Bus, log *slog.Logger) *Loader {
	return &Loader{
		fetcher: fetcher,
		post:    post,
		clock:   clk,
		bus:     bus,
		log:     log.With(slog.String("component", "resource")),
		images:  make(map[string]weak.Pointer[Image]),
	}
}

// FromURL returns a new Image that will fetch url on first use.
func (l *Loader) FromURL(url string, meta Meta) *Image {
	return l.newImage(URL(url), meta, &decoded{state: NotLoaded})
}

// FromRaster returns a new Image displaying img. The returned Image is
// already loaded and never fetches. img must not be nil.
func (l *Loader) FromRaster(img image.Image, meta Meta) *Image {
	return l.newImage(Raster{img}, meta, &decoded{
		state:   Static,
		frames:  []animation.Frame{{Image: img, Duration: animation.MinDuration}},
		current: img,
	})
}

// Image returns the live Image for url if one exists, otherwise a new
// URL-backed Image. The Loader does not keep Images alive; an Image that
// has been closed or collected is replaced. The meta of an existing Image
// is not altered.
func (l *Loader) Image(url string, meta Meta) *Image {
	l.mu.Lock()
	defer l.mu.Unlock()
	if img := l.images[url].Value(); img != nil && img.d.alive.Load() {
		return img
	}
	img := l.FromURL(url, meta)
	l.images[url] = weak.Make(img)
	runtime.AddCleanup(img, l.forget, url)
	return img
}

// forget removes the registry entry for url if it no longer refers to a
// live Image.
func (l *Loader) forget(url string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.images[url].Value() == nil {
		delete(l.images, url)
	}
}

// Len returns the number of URLs held in the registry.
func (l *Loader) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.images)
}

func (l *Loader) newImage(src Source, meta Meta, d *decoded) *Image {
	d.alive.Store(true)
	img := &Image{src: src, meta: meta, loader: l, d: d}
	runtime.AddCleanup(img, func(d *decoded) {
		d.alive.Store(false)
	}, d)
	return img
}
