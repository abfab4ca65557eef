// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// The lazyimg command loads images lazily from URLs and displays them in
// the terminal, animating animated images on a shared clock.
//
// Usage:
//
//	lazyimg [flags] [name=]url ...
//
// Images listed in the configuration file are shown after those given on
// the command line. With -dump, images are loaded and their final state is
// written to stdout as a stream of JSON objects instead of being displayed.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kortschak/lazyimg/internal/clock"
	"github.com/kortschak/lazyimg/internal/config"
	"github.com/kortschak/lazyimg/internal/fetch"
	"github.com/kortschak/lazyimg/internal/generation"
	"github.com/kortschak/lazyimg/internal/loop"
	"github.com/kortschak/lazyimg/internal/resource"
	"github.com/kortschak/lazyimg/internal/slogext"
	"github.com/kortschak/lazyimg/internal/version"
	"github.com/kortschak/lazyimg/internal/view"
	"github.com/kortschak/lazyimg/internal/xdg"
)

// Exit status codes.
const (
	success       = 0
	internalError = 1 << (iota - 1)
	invocationError
)

func main() { os.Exit(Main()) }

func Main() int {
	cfgPath := flag.String("config", "", "configuration file (default $XDG_CONFIG_HOME/lazyimg/config.toml if it exists)")
	logging := flag.String("log", "", "logging level (debug, info, warn or error) overriding the configuration")
	lines := flag.Bool("lines", false, "display source line details in logs")
	v := flag.Bool("version", false, "print version and exit")
	scale := flag.Float64("scale", 1, "display scale for images given on the command line")
	placeholder := flag.String("placeholder", "", "add a placeholder image showing the provided text")
	fileRoot := flag.String("file_root", "", "directory served for file URLs, overriding the configuration")
	width := flag.Int("width", 0, "maximum displayed image width in terminal cells (0 is unlimited)")
	captions := flag.Bool("captions", true, "show image names below images")
	dump := flag.Bool("dump", false, "load images and print their state as JSON instead of displaying them")
	wait := flag.Duration("wait", 30*time.Second, "maximum time to wait for images to load with -dump")
	ticks := flag.Int("ticks", 0, "number of animation clock ticks to run before printing with -dump")
	duration := flag.Duration("duration", 0, "time to run the animation clock after any ticks before printing with -dump")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] [name=]url ...\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if *v {
		err := version.Print(os.Stdout)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return internalError
		}
		return success
	}
	if *scale <= 0 || *ticks < 0 || *width < 0 || *wait <= 0 || *duration < 0 {
		flag.Usage()
		return invocationError
	}
	args, err := parseArgs(flag.Args())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		flag.Usage()
		return invocationError
	}

	path := *cfgPath
	if path == "" {
		path, err = xdg.Config("lazyimg/config.toml", false)
		if err != nil && !errors.Is(err, syscall.ENOENT) {
			fmt.Fprintln(os.Stderr, err)
			return internalError
		}
	}
	cfg := config.WithDefaults(nil)
	if path != "" {
		cfg, err = config.Load(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
			return invocationError
		}
	}
	if *fileRoot != "" {
		cfg.Fetch.FileRoot = *fileRoot
	}
	if len(args) == 0 && len(cfg.Images) == 0 && *placeholder == "" {
		fmt.Fprintln(os.Stderr, "no images")
		flag.Usage()
		return invocationError
	}

	var level slog.LevelVar
	level.Set(*cfg.Log.Level)
	if *logging != "" {
		err := level.UnmarshalText([]byte(*logging))
		if err != nil {
			flag.Usage()
			return invocationError
		}
	}
	addSource := slogext.NewAtomicBool(*lines || *cfg.Log.AddSource)

	// log is the root logger.
	log := slog.New(slogext.GoID{Handler: slogext.NewJSONHandler(os.Stderr, &slogext.HandlerOptions{
		Level:     &level,
		AddSource: addSource,
	})})
	// mlog is the logger for main.
	mlog := log.With(slog.String("component", "lazyimg.main"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	go func() {
		<-c
		log.LogAttrs(ctx, slog.LevelInfo, "terminating")
		cancel()
	}()
	if path != "" {
		mlog.LogAttrs(ctx, slog.LevelInfo, "config", slog.String("path", path), slog.Any("sum", cfg.Sum))
	}

	store, closeStore, err := openCache(ctx, cfg.Cache, log)
	if err != nil {
		mlog.LogAttrs(ctx, slog.LevelError, "failed to open cache", slog.Any("error", err))
		return internalError
	}
	defer func() {
		err := closeStore()
		if err != nil {
			mlog.LogAttrs(ctx, slog.LevelWarn, "failed to close cache", slog.Any("error", err))
		}
	}()

	opts, err := fetchOptions(cfg.Fetch, store)
	if err != nil {
		mlog.LogAttrs(ctx, slog.LevelError, "invalid fetch options", slog.Any("error", err))
		return internalError
	}
	client, err := fetch.New(opts, log)
	if err != nil {
		mlog.LogAttrs(ctx, slog.LevelError, "failed to create fetch client", slog.Any("error", err))
		return internalError
	}
	defer client.Close()

	clk, err := clock.New(cfg.Animation.Tick)
	if err != nil {
		mlog.LogAttrs(ctx, slog.LevelError, "failed to create clock", slog.Any("error", err))
		return internalError
	}
	var bus generation.Bus
	ctrl := loop.New(log)
	loader := resource.NewLoader(client, ctrl, clk, &bus, log)

	images, err := resources(loader, args, *scale, cfg.Images, *placeholder)
	if err != nil {
		mlog.LogAttrs(ctx, slog.LevelError, "failed to create images", slog.Any("error", err))
		return internalError
	}
	defer func() {
		for _, img := range images {
			img.Close()
		}
	}()

	if *dump {
		err = dumpImages(ctx, os.Stdout, images, ctrl, clk, &bus, *wait, *ticks, *duration, mlog)
		if err != nil {
			mlog.LogAttrs(ctx, slog.LevelError, "dump", slog.Any("error", err))
			return internalError
		}
		return success
	}

	if path != "" {
		changes := make(chan config.Change)
		w, err := config.NewWatcher(ctx, path, cfg, changes, -1, log)
		if err != nil {
			mlog.LogAttrs(ctx, slog.LevelWarn, "failed to watch config", slog.Any("error", err))
		} else {
			defer w.Close()
			go applyLogChanges(ctx, changes, &level, *logging == "", addSource, *lines, mlog)
		}
	}

	m := view.New(images, ctrl, clk, &bus, view.Options{MaxWidth: *width, Captions: *captions}, log)
	defer m.Close()
	_, err = tea.NewProgram(m, tea.WithContext(ctx), tea.WithAltScreen()).Run()
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		mlog.LogAttrs(ctx, slog.LevelError, "viewer", slog.Any("error", err))
		return internalError
	}
	return success
}

// applyLogChanges updates the logging configuration from the configuration
// stream until ctx is cancelled. The level is only updated if setLevel is
// true.
func applyLogChanges(ctx context.Context, changes <-chan config.Change, level *slog.LevelVar, setLevel bool, addSource *atomic.Bool, lines bool, log *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ch := <-changes:
			switch {
			case ch.Err != nil:
				log.LogAttrs(ctx, slog.LevelWarn, "config stream error", slog.Any("error", ch.Err))
			case ch.Config == nil:
				log.LogAttrs(ctx, slog.LevelInfo, "config removed", slog.Any("op", slogext.Stringer{Stringer: ch.Op()}))
			default:
				if setLevel {
					level.Set(*ch.Config.Log.Level)
				}
				addSource.Store(lines || *ch.Config.Log.AddSource)
				log.LogAttrs(ctx, slog.LevelInfo, "config updated", slog.Any("sum", ch.Config.Sum), slog.String("level", level.Level().String()))
			}
		}
	}
}
