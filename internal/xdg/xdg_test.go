// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package xdg

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"testing"
)

var envOrDefaultTests = []struct {
	set map[string]string

	key, def, home string

	want   string
	wantOK bool
}{
	0: {
		set: map[string]string{
			"test_HOME": "testdata/home",
			"testkey":   "testdata/home/dir",
		},
		key:  "testkey",
		def:  "testdata/global_dir",
		home: "test_HOME",

		want:   "testdata/home/dir",
		wantOK: true,
	},
	1: {
		set: map[string]string{
			"test_HOME": "testdata/home",
		},
		key:  "testkey",
		def:  "testdata/global_dir",
		home: "test_HOME",

		want:   "testdata/home/testdata/global_dir",
		wantOK: true,
	},
	2: {
		set: map[string]string{
			"test_HOME": "testdata/home",
		},
		key:  "testkey",
		def:  "",
		home: "test_HOME",

		want:   "",
		wantOK: false,
	},
	3: {
		set: map[string]string{
			"test_HOME": "testdata/home",
		},
		key:  "testkey",
		def:  "testdata/global_dir",
		home: "",

		want:   "testdata/global_dir",
		wantOK: true,
	},
	4: {
		set: map[string]string{
			"test_HOME": "testdata/home",
		},
		key:  "testkey",
		def:  "testdata/global_dir",
		home: "invalid",

		want:   "",
		wantOK: false,
	},
}

func TestEnvOrDefault(t *testing.T) {
	for i, test := range envOrDefaultTests {
		t.Run(fmt.Sprint(i), func(t *testing.T) {
			os.Unsetenv(test.key)
			for k, v := range test.set {
				if k == "test_HOME" && test.home == "" {
					continue
				}
				t.Setenv(k, v)
			}

			got, gotOK := envOrDefault(test.key, test.def, test.home)
			if gotOK != test.wantOK {
				t.Errorf("unexpected ok: got:%t want:%t", gotOK, test.wantOK)
			}
			if got != test.want {
				t.Errorf("unexpected result: got:%q want:%q", got, test.want)
			}
		})
	}
}

func TestFind(t *testing.T) {
	home := t.TempDir()
	dir := filepath.Join(home, "cache", "lazyimg")
	err := os.MkdirAll(dir, 0o755)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Setenv("test_HOME", home)

	got, err := find("lazyimg", "", "cache", "", "", "test_HOME", true)
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if got != dir {
		t.Errorf("unexpected path: got:%q want:%q", got, dir)
	}

	_, err = find("missing", "", "cache", "", "", "test_HOME", true)
	if !errors.Is(err, syscall.ENOENT) {
		t.Errorf("unexpected error for missing path: got:%v want:%v", err, syscall.ENOENT)
	}
}
