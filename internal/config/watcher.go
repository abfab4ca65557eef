// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"context"
	"crypto/sha1"
	"errors"
	"hash"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileDebounce is the default duration we wait for the contents to have
// stabilised to work around some editors writing an empty file and then the
// buffer.
const FileDebounce = 10 * time.Millisecond

// Change is a configuration change identified by a Watcher. Config is nil
// if the file was removed or could not be loaded. Config has defaults
// applied.
type Change struct {
	Event  []fsnotify.Event
	Config *Config
	Err    error
}

// Op returns an aggregated fsnotify.Op for all elements of the receivers'
// Event field.
func (c Change) Op() fsnotify.Op {
	var op fsnotify.Op
	for _, o := range c.Event {
		op |= o.Op
	}
	return op
}

// Watcher watches a configuration file and sends semantically meaningful
// changes to it.
type Watcher struct {
	path     string
	debounce time.Duration
	watcher  *fsnotify.Watcher
	changes  chan<- Change
	hash     hash.Hash
	sum      *Sum
	bad      *Sum // Sum of the last invalid file contents.
	done     chan struct{}
	log      *slog.Logger
}

// NewWatcher starts watching the configuration file at path, sending
// changes on the changes channel until ctx is cancelled. The file's
// directory is watched so that editors that replace the file by renaming
// are handled. The current sum of the file is taken from current, which
// may be nil. The debounce parameter specifies how long to wait after a
// write before reading the file. If it is less than zero, FileDebounce is
// used.
func NewWatcher(ctx context.Context, path string, current *Config, changes chan<- Change, debounce time.Duration, log *slog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	path, err = filepath.Abs(path)
	if err != nil {
		return nil, errors.Join(err, fw.Close())
	}
	err = fw.Add(filepath.Dir(path))
	if err != nil {
		return nil, errors.Join(err, fw.Close())
	}
	if debounce < 0 {
		debounce = FileDebounce
	}
	w := &Watcher{
		path:     path,
		debounce: debounce,
		watcher:  fw,
		changes:  changes,
		hash:     sha1.New(),
		done:     make(chan struct{}),
		log:      log.With(slog.String("component", "config_watcher")),
	}
	if current != nil {
		w.sum = current.Sum
	}
	go func() {
		defer close(w.done)
		w.process(ctx)
	}()
	return w, nil
}

// process watches the fsnotify.Watcher events, filtering out events for
// other files and changes that do not alter the configuration semantics.
func (w *Watcher) process(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			switch {
			case ev.Has(fsnotify.Write), ev.Has(fsnotify.Create):
				w.log.LogAttrs(ctx, slog.LevelDebug, "write", slog.String("name", ev.Name), slog.String("op", ev.Op.String()))
				time.Sleep(w.debounce)
				b, err := os.ReadFile(w.path)
				if err != nil {
					w.log.LogAttrs(ctx, slog.LevelError, "read file", slog.Any("error", err))
					w.send(ctx, Change{Event: []fsnotify.Event{ev}, Err: err})
					continue
				}
				cfg, sum, err := unmarshalConfig(w.hash, b)
				if err != nil {
					bad := Sum(sha1.Sum(b))
					if w.bad.Equal(&bad) {
						continue
					}
					w.bad = &bad
					w.send(ctx, Change{Event: []fsnotify.Event{ev}, Err: err})
					continue
				}
				w.bad = nil
				if w.sum.Equal(&sum) {
					w.log.LogAttrs(ctx, slog.LevelDebug, "no change", slog.Any("sum", sumValue{&sum}))
					continue
				}
				w.log.LogAttrs(ctx, slog.LevelDebug, "set hash", slog.Any("sum", sumValue{&sum}))
				w.sum = &sum
				w.send(ctx, Change{Event: []fsnotify.Event{ev}, Config: WithDefaults(cfg)})
			case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
				w.log.LogAttrs(ctx, slog.LevelDebug, "remove", slog.String("name", ev.Name), slog.String("op", ev.Op.String()))
				w.sum = nil
				w.bad = nil
				w.send(ctx, Change{Event: []fsnotify.Event{ev}})
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.send(ctx, Change{Err: err})
		}
	}
}

func (w *Watcher) send(ctx context.Context, c Change) {
	w.log.LogAttrs(ctx, slog.LevelDebug, "change", slog.Any("change", changeValue{c}))
	select {
	case <-ctx.Done():
	case w.changes <- c:
	}
}

// Close stops the watcher and waits for it to finish processing.
func (w *Watcher) Close() error {
	err := w.watcher.Close()
	<-w.done
	return err
}
