// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package view

import (
	"fmt"
	"image"
	"image/color"
	"strings"

	"golang.org/x/image/draw"

	"github.com/kortschak/lazyimg/internal/text"
)

// Scale returns src scaled to fit w×h pixels, keeping its aspect ratio.
// If src already has the requested size it is returned unaltered.
func Scale(src image.Image, w, h int) image.Image {
	b := src.Bounds()
	if b.Dx() == w && b.Dy() == h {
		return src
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, text.KeepAspectRatio(dst, src), src, b, draw.Over, nil)
	return dst
}

// opaque is the alpha threshold below which a pixel is shown as the
// terminal background.
const opaque = 0x8000

// HalfBlocks renders img as rows of 24-bit colour half block characters,
// two pixels per cell. Transparent pixels are left as the terminal
// background. Each row is terminated with an attribute reset.
func HalfBlocks(img image.Image) string {
	b := img.Bounds()
	var buf strings.Builder
	for y := b.Min.Y; y < b.Max.Y; y += 2 {
		if y != b.Min.Y {
			buf.WriteByte('\n')
		}
		for x := b.Min.X; x < b.Max.X; x++ {
			top := img.At(x, y)
			var bot color.Color = color.Transparent
			if y+1 < b.Max.Y {
				bot = img.At(x, y+1)
			}
			topOK, botOK := visible(top), visible(bot)
			switch {
			case topOK && botOK:
				fg(&buf, top)
				bg(&buf, bot)
				buf.WriteString("▀")
			case topOK:
				buf.WriteString("\x1b[49m")
				fg(&buf, top)
				buf.WriteString("▀")
			case botOK:
				buf.WriteString("\x1b[49m")
				fg(&buf, bot)
				buf.WriteString("▄")
			default:
				buf.WriteString("\x1b[0m ")
			}
		}
		buf.WriteString("\x1b[0m")
	}
	return buf.String()
}

func visible(c color.Color) bool {
	_, _, _, a := c.RGBA()
	return a >= opaque
}

func fg(buf *strings.Builder, c color.Color) {
	r, g, b := rgb(c)
	fmt.Fprintf(buf, "\x1b[38;2;%d;%d;%dm", r, g, b)
}

func bg(buf *strings.Builder, c color.Color) {
	r, g, b := rgb(c)
	fmt.Fprintf(buf, "\x1b[48;2;%d;%d;%dm", r, g, b)
}

// rgb returns the non-premultiplied 8-bit colour components of c.
func rgb(c color.Color) (r, g, b uint8) {
	n := color.NRGBAModel.Convert(c).(color.NRGBA)
	return n.R, n.G, n.B
}
