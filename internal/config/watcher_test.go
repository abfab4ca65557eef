// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"bytes"
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/kortschak/lazyimg/internal/slogext"
)

var operations = []struct {
	name string
	fn   func(dir string) error

	// wantOp is the operation expected for the change.
	// If zero, no change is expected.
	wantOp    fsnotify.Op
	wantAgent string
	wantErr   bool
}{
	{
		name: "create", fn: func(dir string) error {
			return create(dir, "config.toml", 0o644, `[fetch]
user_agent = "first"
`)
		},
		wantOp:    fsnotify.Create,
		wantAgent: "first",
	},
	{
		name: "no_semantic_change", fn: func(dir string) error {
			return create(dir, "config.toml", 0o644, `# Comment.
[fetch]
user_agent = "first"
`)
		},
	},
	{
		name: "other_file", fn: func(dir string) error {
			return create(dir, "other.toml", 0o644, `[fetch]
user_agent = "other"
`)
		},
	},
	{
		name: "change", fn: func(dir string) error {
			return create(dir, "config.toml", 0o644, `[fetch]
user_agent = "second"
`)
		},
		wantOp:    fsnotify.Write,
		wantAgent: "second",
	},
	{
		name: "invalid", fn: func(dir string) error {
			return create(dir, "config.toml", 0o644, `[cache]
backend = "redis"
`)
		},
		wantOp:  fsnotify.Write,
		wantErr: true,
	},
	{
		name: "remove", fn: func(dir string) error {
			return rm(dir, "config.toml")
		},
		wantOp: fsnotify.Remove,
	},
	{
		name: "rename_into_place", fn: func(dir string) error {
			err := create(dir, "config.toml.tmp", 0o644, `[fetch]
user_agent = "third"
`)
			if err != nil {
				return err
			}
			return mv(dir, "config.toml.tmp", "config.toml")
		},
		wantOp:    fsnotify.Create,
		wantAgent: "third",
	},
}

func (c Change) isZero() bool {
	return c.Event == nil && c.Config == nil && c.Err == nil
}

func create(dir, name string, perm fs.FileMode, data string) error {
	return os.WriteFile(filepath.Join(dir, name), []byte(data), perm)
}

func mv(dir, from, to string) error {
	return os.Rename(filepath.Join(dir, from), filepath.Join(dir, to))
}

func rm(dir, name string) error {
	return os.RemoveAll(filepath.Join(dir, name))
}

func TestWatcher(t *testing.T) {
	var logBuf bytes.Buffer
	log := slog.New(slogext.NewJSONHandler(&logBuf, &slogext.HandlerOptions{
		Level:     slog.LevelDebug,
		AddSource: slogext.NewAtomicBool(*lines),
	}))
	defer func() {
		if *verbose {
			t.Logf("log:\n%s\n", &logBuf)
		}
	}()

	dir := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream := make(chan Change)
	w, err := NewWatcher(ctx, filepath.Join(dir, "config.toml"), nil, stream, -1, log)
	if err != nil {
		t.Fatalf("unexpected error returned by NewWatcher: %v", err)
	}
	defer func() {
		cancel()
		err := w.Close()
		if err != nil {
			t.Errorf("unexpected error closing watcher: %v", err)
		}
	}()

	for _, op := range operations {
		err := op.fn(dir)
		if err != nil {
			t.Errorf("unexpected error running operation %q: %v", op.name, err)
		}
		timer := time.NewTimer(200 * time.Millisecond)
		var got Change
		select {
		case <-timer.C:
		case got = <-stream:
			timer.Stop()
		}
		if got.isZero() != (op.wantOp == 0) {
			if got.isZero() {
				t.Errorf("did not receive %q event in time", op.name)
			} else {
				t.Errorf("unexpected %q event: %+v", op.name, got)
			}
		}
		if got.isZero() {
			continue
		}

		if !got.Op().Has(op.wantOp) {
			t.Errorf("unexpected op for %q: got:%v want:%v", op.name, got.Op(), op.wantOp)
		}
		for _, e := range got.Event {
			if filepath.Base(e.Name) != "config.toml" {
				t.Errorf("unexpected event name for %q: %s", op.name, e.Name)
			}
		}
		if (got.Err != nil) != op.wantErr {
			t.Errorf("unexpected error for %q: %v", op.name, got.Err)
		}
		switch {
		case op.wantAgent == "":
			if got.Config != nil {
				t.Errorf("unexpected config for %q: %+v", op.name, got.Config)
			}
		case got.Config == nil:
			t.Errorf("missing config for %q", op.name)
		default:
			if got.Config.Fetch.UserAgent != op.wantAgent {
				t.Errorf("unexpected user agent for %q: got:%q want:%q", op.name, got.Config.Fetch.UserAgent, op.wantAgent)
			}
			if got.Config.Sum == nil {
				t.Errorf("missing sum for %q", op.name)
			}
		}
	}
}

var sumTests = []struct {
	a, b *Sum
	want bool
}{
	{a: nil, b: nil, want: true},
	{a: nil, b: &Sum{}, want: false},
	{a: &Sum{}, b: nil, want: false},
	{a: &Sum{}, b: &Sum{}, want: true},
	{a: &Sum{0: 1}, b: &Sum{}, want: false},
	{a: &Sum{}, b: &Sum{0: 1}, want: false},
}

func TestSum(t *testing.T) {
	for _, test := range sumTests {
		got := test.a.Equal(test.b)
		if got != test.want {
			t.Errorf("unexpected result for %q.equal(%q): got:%t want:%t", test.a, test.b, got, test.want)
		}
	}
}
