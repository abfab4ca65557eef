// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kortschak/lazyimg/internal/animation"
	"github.com/kortschak/lazyimg/internal/cache"
	"github.com/kortschak/lazyimg/internal/cache/pgcache"
	"github.com/kortschak/lazyimg/internal/clock"
	"github.com/kortschak/lazyimg/internal/config"
	"github.com/kortschak/lazyimg/internal/fetch"
	"github.com/kortschak/lazyimg/internal/generation"
	"github.com/kortschak/lazyimg/internal/loop"
	"github.com/kortschak/lazyimg/internal/mtls"
	"github.com/kortschak/lazyimg/internal/resource"
	"github.com/kortschak/lazyimg/internal/xdg"
)

// arg is a command line image argument.
type arg struct {
	name string
	url  string
}

// parseArgs parses [name=]url command line arguments. A name may not
// contain a colon or slash so that URLs holding an equals sign are not
// split.
func parseArgs(args []string) ([]arg, error) {
	parsed := make([]arg, 0, len(args))
	for _, a := range args {
		name, url, ok := strings.Cut(a, "=")
		if !ok || strings.ContainsAny(name, ":/") {
			name, url = "", a
		}
		if url == "" {
			return nil, fmt.Errorf("empty url in argument %q", a)
		}
		parsed = append(parsed, arg{name: name, url: url})
	}
	return parsed, nil
}

// openCache returns the payload cache described by cfg and a function to
// close it. If the backend is "none", the returned cache is nil. If the
// sqlite cache is in use by another process, no cache is used.
func openCache(ctx context.Context, cfg *config.Cache, log *slog.Logger) (fetch.Cache, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Backend {
	case "none":
		return nil, noop, nil
	case "postgres":
		db, err := pgcache.Open(ctx, cfg.URL, cfg.MaxAge, log)
		if err != nil {
			return nil, noop, err
		}
		return db, func() error { return db.Close(context.Background()) }, nil
	case "sqlite", "":
		path := cfg.Path
		if path == "" {
			dir, ok := xdg.CacheHome()
			if !ok {
				log.LogAttrs(ctx, slog.LevelWarn, "no cache directory")
				return nil, noop, nil
			}
			dir = filepath.Join(dir, "lazyimg")
			err := os.MkdirAll(dir, 0o755)
			if err != nil {
				return nil, noop, err
			}
			path = filepath.Join(dir, "images.sqlite3")
		}
		db, err := cache.Open(path, cfg.MaxAge, log)
		if err != nil {
			if errors.Is(err, cache.ErrLocked) {
				log.LogAttrs(ctx, slog.LevelWarn, "cache in use by another process", slog.String("path", path))
				return nil, noop, nil
			}
			return nil, noop, err
		}
		return db, db.Close, nil
	default:
		return nil, noop, fmt.Errorf("unknown cache backend: %q", cfg.Backend)
	}
}

// fetchOptions returns the fetch client options for cfg.
func fetchOptions(cfg *config.Fetch, store fetch.Cache) (fetch.Options, error) {
	opts := fetch.Options{
		Timeout:   cfg.Timeout,
		MaxBytes:  cfg.MaxBytes,
		UserAgent: cfg.UserAgent,
		HTTP2:     *cfg.HTTP2,
		FileRoot:  cfg.FileRoot,
		Cache:     store,
	}
	if len(cfg.Header) != 0 {
		opts.Header = make(http.Header)
		for k, v := range cfg.Header {
			opts.Header.Set(k, v)
		}
	}
	if cfg.TLS != nil {
		tlsCfg, err := mtls.LoadClientConfig(cfg.TLS.CA, cfg.TLS.Cert, cfg.TLS.Key)
		if err != nil {
			return opts, err
		}
		opts.TLS = tlsCfg
	}
	return opts, nil
}

// placeholderBounds is the size of placeholder images.
var placeholderBounds = image.Rect(0, 0, 112, 28)

// resources returns the images for the command line arguments followed by
// the configured images and an optional placeholder. Images for the same
// URL share a single resource.
func resources(loader *resource.Loader, args []arg, scale float64, configured []config.Image, placeholder string) ([]*resource.Image, error) {
	images := make([]*resource.Image, 0, len(args)+len(configured)+1)
	for _, a := range args {
		images = append(images, loader.Image(a.url, resource.Meta{
			Scale: scale,
			Name:  a.name,
		}))
	}
	for _, c := range configured {
		meta := resource.Meta{
			Scale:   *c.Scale,
			Name:    c.Name,
			Tooltip: c.Tooltip,
			Hat:     c.Hat,
		}
		if c.Margin != nil {
			meta.Margin = resource.Margins{
				Top:    c.Margin.Top,
				Right:  c.Margin.Right,
				Bottom: c.Margin.Bottom,
				Left:   c.Margin.Left,
			}
		}
		images = append(images, loader.Image(c.URL, meta))
	}
	if placeholder != "" {
		pal := color.Palette{color.Transparent, color.White}
		img, err := animation.Placeholder(placeholder, placeholderBounds, pal, 1, 0)
		if err != nil {
			return nil, fmt.Errorf("placeholder: %w", err)
		}
		images = append(images, loader.FromRaster(img, resource.Meta{
			Scale: scale,
			Name:  placeholder,
		}))
	}
	return images, nil
}

// record is the dumped state of an image.
type record struct {
	Name         string            `json:"name,omitempty"`
	URL          string            `json:"url,omitempty"`
	Tooltip      string            `json:"tooltip,omitempty"`
	State        string            `json:"state"`
	Error        string            `json:"error,omitempty"`
	Frames       int               `json:"frames"`
	Cursor       int               `json:"cursor"`
	Width        int               `json:"width"`
	Height       int               `json:"height"`
	ScaledWidth  int               `json:"scaled_width"`
	ScaledHeight int               `json:"scaled_height"`
	Hat          bool              `json:"hat,omitempty"`
	Margin       *resource.Margins `json:"margin,omitempty"`
}

// dumpImages starts loading all images, waits for them to reach a terminal
// state, runs the requested number of clock ticks followed by the clock in
// real time for the play duration, and writes a record for each image to w.
// The calling goroutine is used as the control goroutine.
func dumpImages(ctx context.Context, w io.Writer, images []*resource.Image, ctrl *loop.Loop, clk *clock.Clock, bus *generation.Bus, wait time.Duration, ticks int, play time.Duration, log *slog.Logger) error {
	cancel := bus.Subscribe(func(gen uint64) {
		log.LogAttrs(ctx, slog.LevelDebug, "generation", slog.Uint64("generation", gen))
	})
	defer cancel()

	for _, img := range images {
		img.CurrentFrame()
	}
	timeout := time.NewTimer(wait)
	defer timeout.Stop()
	for !allTerminal(images) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeout.C:
			return fmt.Errorf("images not loaded after %v", wait)
		case <-ctrl.Ready():
			ctrl.Drain()
		}
	}
	for range ticks {
		clk.Tick()
	}
	if play > 0 {
		err := run(ctx, ctrl, clk, play)
		if err != nil {
			return err
		}
		log.LogAttrs(ctx, slog.LevelInfo, "played", slog.Duration("duration", play))
	}
	log.LogAttrs(ctx, slog.LevelInfo, "loaded", slog.Int("images", len(images)), slog.Uint64("generation", bus.Generation()), slog.Int("animated", clk.Len()))

	enc := json.NewEncoder(w)
	for _, img := range images {
		err := enc.Encode(newRecord(img))
		if err != nil {
			return err
		}
	}
	return nil
}

// run runs the animation clock for d with the calling goroutine serving
// ctrl.
func run(ctx context.Context, ctrl *loop.Loop, clk *clock.Clock, d time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- clk.Run(ctx, ctrl.Post)
	}()
	err := ctrl.Run(ctx)
	<-done
	if errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func allTerminal(images []*resource.Image) bool {
	for _, img := range images {
		if !img.State().IsTerminal() {
			return false
		}
	}
	return true
}

func newRecord(img *resource.Image) record {
	url, _ := img.URL()
	r := record{
		Name:         img.Name(),
		URL:          url,
		Tooltip:      img.Tooltip(),
		State:        img.State().String(),
		Frames:       img.Frames(),
		Cursor:       img.Cursor(),
		Width:        img.Width(),
		Height:       img.Height(),
		ScaledWidth:  img.ScaledWidth(),
		ScaledHeight: img.ScaledHeight(),
		Hat:          img.IsHat(),
	}
	if err := img.Err(); err != nil {
		r.Error = err.Error()
	}
	if m := img.Margin(); m != (resource.Margins{}) {
		r.Margin = &m
	}
	return r
}
