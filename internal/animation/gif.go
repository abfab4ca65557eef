// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package animation

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"io"
	"time"

	"golang.org/x/image/draw"
)

// IsGIF returns whether the data held by r is a GIF image.
func IsGIF(r ReadPeeker) bool {
	return hasMagic("GIF8?a", r)
}

// ReadPeeker is an io.Reader that can also peek n bytes ahead.
type ReadPeeker interface {
	io.Reader
	Peek(n int) ([]byte, error)
}

// AsReadPeeker converts an io.Reader to a ReadPeeker.
func AsReadPeeker(r io.Reader) ReadPeeker {
	if r, ok := r.(ReadPeeker); ok {
		return r
	}
	return bufio.NewReader(r)
}

// hasMagic returns whether r starts with the provided magic bytes.
// A '?' in magic matches any byte.
func hasMagic(magic string, r ReadPeeker) bool {
	b, err := r.Peek(len(magic))
	if err != nil || len(b) != len(magic) {
		return false
	}
	for i, c := range b {
		if magic[i] != c && magic[i] != '?' {
			return false
		}
	}
	return true
}

// DecodeGIF returns the frames of the GIF read from r in stored order.
// Each frame is the full logical screen after the GIF frame has been
// composited over the result of the previous frame's disposal, so every
// returned image can be displayed on its own. Frame delays are converted
// from hundredths of a second and clamped to MinDuration.
//
// GIF delay, disposal and global background index values are checked for
// validity, and GIFs needing more than MaxPixels to composite are rejected
// with ErrTooLarge.
func DecodeGIF(r io.Reader) ([]Frame, error) {
	g, err := gif.DecodeAll(r)
	if err != nil {
		return nil, err
	}
	if len(g.Image) == 0 {
		return nil, fmt.Errorf("gif: %w", ErrNoData)
	}
	if len(g.Image) != len(g.Delay) && g.Delay != nil {
		return nil, fmt.Errorf("mismatched image count and delay count: %d != %d", len(g.Image), len(g.Delay))
	}
	if len(g.Image) != len(g.Disposal) && g.Disposal != nil {
		return nil, fmt.Errorf("mismatched image count and disposal count: %d != %d", len(g.Image), len(g.Disposal))
	}
	pal, ok := g.Config.ColorModel.(color.Palette)
	if idx := int(g.BackgroundIndex); ok && idx >= len(pal) {
		return nil, fmt.Errorf("global background colour index not in palette: %d", idx)
	}
	err = checkSize(screen(g), len(g.Image)+1)
	if err != nil {
		return nil, err
	}
	return composite(g), nil
}

// screen returns the logical screen of g, or the union of its frame
// bounds if the logical screen is empty.
func screen(g *gif.GIF) image.Rectangle {
	bounds := image.Rect(0, 0, g.Config.Width, g.Config.Height)
	if bounds.Empty() {
		for _, frame := range g.Image {
			bounds = bounds.Union(frame.Bounds())
		}
	}
	return bounds
}

// GIF block introducers.
const (
	gifExtension  = 0x21
	gifDescriptor = 0x2c
	gifTrailer    = 0x3b
)

// gifLayout returns the logical screen of the GIF in b extended to cover
// all frames, and the number of frames, without decoding image data. The
// walk stops at the first malformed block; reporting that is left to the
// decoder.
func gifLayout(b []byte) (bounds image.Rectangle, frames int) {
	const header = 6 + 7 // Signature and logical screen descriptor.
	if len(b) < header {
		return bounds, 0
	}
	bounds = image.Rect(0, 0, int(binary.LittleEndian.Uint16(b[6:])), int(binary.LittleEndian.Uint16(b[8:])))
	p := header + colorTableLen(b[10])
	for p < len(b) {
		switch b[p] {
		case gifExtension:
			// Introducer, label and data sub-blocks.
			p = skipSubBlocks(b, p+2)
		case gifDescriptor:
			if p+10 > len(b) {
				return bounds, frames
			}
			d := b[p+1 : p+10]
			x, y := int(binary.LittleEndian.Uint16(d[0:])), int(binary.LittleEndian.Uint16(d[2:]))
			w, h := int(binary.LittleEndian.Uint16(d[4:])), int(binary.LittleEndian.Uint16(d[6:]))
			bounds = bounds.Union(image.Rect(x, y, x+w, y+h))
			frames++
			// Descriptor, local colour table, LZW minimum code size
			// and image data sub-blocks.
			p = skipSubBlocks(b, p+10+colorTableLen(d[8])+1)
		case gifTrailer:
			return bounds, frames
		default:
			return bounds, frames
		}
	}
	return bounds, frames
}

// colorTableLen returns the length of the colour table described by the
// packed fields of a GIF screen or image descriptor.
func colorTableLen(flags byte) int {
	if flags&0x80 == 0 {
		return 0
	}
	return 3 << ((flags & 0x07) + 1)
}

// skipSubBlocks returns the offset in b following the data sub-blocks
// starting at p.
func skipSubBlocks(b []byte, p int) int {
	for p < len(b) {
		n := int(b[p])
		p++
		if n == 0 {
			return p
		}
		p += n
	}
	return p
}

// composite renders the frames of g onto a canvas the size of the GIF's
// logical screen, applying each frame's disposal method before the next
// frame is drawn.
//
// Background disposal restores to transparent rather than to the global
// background colour. This matches how emote images are expected to look
// when drawn over arbitrary backgrounds.
func composite(g *gif.GIF) []Frame {
	bounds := screen(g)
	canvas := image.NewRGBA(bounds)
	frames := make([]Frame, 0, len(g.Image))
	for i, frame := range g.Image {
		var disposal byte
		if g.Disposal != nil {
			disposal = g.Disposal[i]
		}

		var restore *image.RGBA
		if disposal == gif.DisposalPrevious {
			restore = image.NewRGBA(frame.Bounds())
			draw.Copy(restore, frame.Bounds().Min, canvas, frame.Bounds(), draw.Src, nil)
		}
		draw.Copy(canvas, frame.Bounds().Min, frame, frame.Bounds(), draw.Over, nil)

		snapshot := image.NewRGBA(bounds)
		copy(snapshot.Pix, canvas.Pix)
		var delay int
		if g.Delay != nil {
			delay = g.Delay[i]
		}
		frames = append(frames, Frame{
			Image:    snapshot,
			Duration: Clamp(10 * time.Duration(delay) * time.Millisecond),
		})

		switch disposal {
		case gif.DisposalBackground:
			draw.Copy(canvas, frame.Bounds().Min, image.Transparent, frame.Bounds(), draw.Src, nil)
		case gif.DisposalPrevious:
			draw.Copy(canvas, frame.Bounds().Min, restore, restore.Bounds(), draw.Src, nil)
		}
	}
	return frames
}
