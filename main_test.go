// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"flag"
	"image"
	"image/color"
	"image/color/palette"
	"image/gif"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rogpeppe/go-internal/testscript"
)

var (
	update = flag.Bool("update", false, "update tests")
	keep   = flag.Bool("keep", false, "keep $WORK directory after tests")
)

func TestMain(m *testing.M) {
	os.Exit(testscript.RunMain(m, map[string]func() int{
		"lazyimg": Main,
	}))
}

func TestScripts(t *testing.T) {
	t.Parallel()

	p := testscript.Params{
		Dir:           filepath.Join("testdata"),
		UpdateScripts: *update,
		TestWork:      *keep,
		Cmds: map[string]func(ts *testscript.TestScript, neg bool, args []string){
			"sleep": sleep,
			"mkgif": mkgif,
			"mkpng": mkpng,
			"serve": serve,
		},
	}
	testscript.Run(t, p)
}

func sleep(ts *testscript.TestScript, neg bool, args []string) {
	if neg {
		ts.Fatalf("unsupported: ! sleep")
	}
	if len(args) != 1 {
		ts.Fatalf("usage: sleep duration")
	}
	d, err := time.ParseDuration(args[0])
	ts.Check(err)
	time.Sleep(d)
}

// mkgif writes a 4×2 GIF with the requested number of solid frames, each
// displayed for delay hundredths of a second.
func mkgif(ts *testscript.TestScript, neg bool, args []string) {
	if neg {
		ts.Fatalf("unsupported: ! mkgif")
	}
	if len(args) != 3 {
		ts.Fatalf("usage: mkgif path frames delay")
	}
	n, err := strconv.Atoi(args[1])
	ts.Check(err)
	delay, err := strconv.Atoi(args[2])
	ts.Check(err)
	g := &gif.GIF{}
	for i := range n {
		img := image.NewPaletted(image.Rect(0, 0, 4, 2), palette.Plan9)
		for j := range img.Pix {
			img.Pix[j] = uint8(i * 16)
		}
		g.Image = append(g.Image, img)
		g.Delay = append(g.Delay, delay)
	}
	var buf bytes.Buffer
	ts.Check(gif.EncodeAll(&buf, g))
	write(ts, args[0], buf.Bytes())
}

// mkpng writes an opaque PNG with the requested dimensions.
func mkpng(ts *testscript.TestScript, neg bool, args []string) {
	if neg {
		ts.Fatalf("unsupported: ! mkpng")
	}
	if len(args) != 3 {
		ts.Fatalf("usage: mkpng path width height")
	}
	w, err := strconv.Atoi(args[1])
	ts.Check(err)
	h, err := strconv.Atoi(args[2])
	ts.Check(err)
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, color.NRGBA{R: uint8(x * 32), G: uint8(y * 32), B: 0x80, A: 0xff})
		}
	}
	var buf bytes.Buffer
	ts.Check(png.Encode(&buf, img))
	write(ts, args[0], buf.Bytes())
}

func write(ts *testscript.TestScript, path string, data []byte) {
	path = ts.MkAbs(path)
	ts.Check(os.MkdirAll(filepath.Dir(path), 0o755))
	ts.Check(os.WriteFile(path, data, 0o644))
}

// serve starts an HTTP server for the files in dir and sets $SERVER to
// its URL. The server is closed at the end of the script.
func serve(ts *testscript.TestScript, neg bool, args []string) {
	if neg {
		ts.Fatalf("unsupported: ! serve")
	}
	if len(args) != 1 {
		ts.Fatalf("usage: serve dir")
	}
	srv := httptest.NewServer(http.FileServer(http.Dir(ts.MkAbs(args[0]))))
	ts.Defer(srv.Close)
	ts.Setenv("SERVER", srv.URL)
}

var parseArgsTests = []struct {
	name    string
	args    []string
	want    []arg
	wantErr bool
}{
	{
		name: "none",
		args: nil,
		want: []arg{},
	},
	{
		name: "url",
		args: []string{"https://example.com/a.gif"},
		want: []arg{{url: "https://example.com/a.gif"}},
	},
	{
		name: "named",
		args: []string{"kappa=https://example.com/a.gif"},
		want: []arg{{name: "kappa", url: "https://example.com/a.gif"}},
	},
	{
		name: "query",
		args: []string{"https://example.com/a?size=2", "b=https://example.com/b?size=3"},
		want: []arg{
			{url: "https://example.com/a?size=2"},
			{name: "b", url: "https://example.com/b?size=3"},
		},
	},
	{
		name:    "empty_url",
		args:    []string{"kappa="},
		wantErr: true,
	},
}

func TestParseArgs(t *testing.T) {
	for _, test := range parseArgsTests {
		t.Run(test.name, func(t *testing.T) {
			got, err := parseArgs(test.args)
			if (err != nil) != test.wantErr {
				t.Fatalf("unexpected error: %v", err)
			}
			if err != nil {
				return
			}
			if !cmp.Equal(test.want, got, cmp.AllowUnexported(arg{})) {
				t.Errorf("unexpected result:\n--- want:\n+++ got:\n%s", cmp.Diff(test.want, got, cmp.AllowUnexported(arg{})))
			}
		})
	}
}
