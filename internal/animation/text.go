// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package animation

import (
	"errors"
	"image"
	"image/color"

	"golang.org/x/image/draw"
	"golang.org/x/image/font/basicfont"

	"github.com/kortschak/lazyimg/internal/text"
)

// Placeholder returns an image of the label rendered within bound using
// [basicfont.Face7x13]. The provided palette must have at least two colors,
// which will be indexed by fg and bg to provide the foreground and background
// colors. The label is word wrapped and centred, and is truncated with an
// ellipsis if it does not fit.
func Placeholder(label string, bound image.Rectangle, pal color.Palette, fg, bg byte) (*image.Paletted, error) {
	if len(pal) < 2 {
		return nil, errors.New("palette too small")
	}
	if int(fg) >= len(pal) || int(bg) >= len(pal) {
		return nil, errors.New("color index not in palette")
	}
	rows, cols := text.Size(bound, basicfont.Face7x13)
	if rows < 1 || cols < 4 {
		return nil, errors.New("bound too small")
	}
	dst := image.NewPaletted(bound, pal)
	draw.Draw(dst, dst.Bounds(), &image.Uniform{pal[bg]}, image.Point{}, draw.Src)
	text.Draw(dst, label, pal[fg], basicfont.Face7x13, 0.5, 0.5, true)
	return dst, nil
}
