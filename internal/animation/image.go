// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package animation

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"time"

	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// MinDuration is the shortest display duration of any decoded frame.
// Shorter durations, including the zero delay commonly found in GIFs,
// are raised to this value.
const MinDuration = 20 * time.Millisecond

// Frame is a decoded raster and the duration it is displayed for.
type Frame struct {
	Image    image.Image
	Duration time.Duration
}

// Clamp returns d raised to MinDuration if it is shorter.
func Clamp(d time.Duration) time.Duration {
	return max(d, MinDuration)
}

// MaxPixels is the largest number of pixels Decode will allocate for the
// frames of a single payload, counting each composited GIF frame and the
// composition canvas.
const MaxPixels = 1 << 25

var (
	// ErrNoData is returned when a payload holds no frames.
	ErrNoData = errors.New("no image data")

	// ErrTooLarge is returned when decoding a payload would exceed
	// MaxPixels.
	ErrTooLarge = errors.New("image too large")
)

// checkSize returns ErrTooLarge if n images of size bounds exceed
// MaxPixels.
func checkSize(bounds image.Rectangle, n int) error {
	px := int64(bounds.Dx()) * int64(bounds.Dy()) * int64(n)
	if px > MaxPixels {
		return fmt.Errorf("%w: %d images of %dx%d", ErrTooLarge, n, bounds.Dx(), bounds.Dy())
	}
	return nil
}

// Decode returns the frames encoded in b in the order they are stored.
// GIF data may produce any number of frames; all other supported formats,
// PNG, JPEG, BMP, TIFF and WebP, produce a single frame. For formats with
// an animation extension that is not supported, such as APNG, only the
// default image is returned. Decode never returns a partial frame list;
// either the complete sequence or an error is returned.
//
// Image dimensions are read from the payload headers before any image data
// is decoded, and payloads that would need more than MaxPixels are
// rejected with ErrTooLarge.
func Decode(b []byte) ([]Frame, error) {
	if len(b) == 0 {
		return nil, ErrNoData
	}
	r := AsReadPeeker(bytes.NewReader(b))
	if IsGIF(r) {
		bounds, n := gifLayout(b)
		err := checkSize(bounds, n+1)
		if err != nil {
			return nil, err
		}
		return DecodeGIF(r)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	err = checkSize(image.Rect(0, 0, cfg.Width, cfg.Height), 1)
	if err != nil {
		return nil, err
	}
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, err
	}
	return []Frame{{Image: img, Duration: MinDuration}}, nil
}

// formats is the set of recognised format signatures. A '?' in a magic
// string matches any byte.
var formats = []struct {
	name, magic string
}{
	{name: "gif", magic: "GIF8?a"},
	{name: "png", magic: "\x89PNG\r\n\x1a\n"},
	{name: "jpeg", magic: "\xff\xd8\xff"},
	{name: "webp", magic: "RIFF????WEBP"},
	{name: "bmp", magic: "BM????\x00\x00\x00\x00"},
	{name: "tiff", magic: "II*\x00"},
	{name: "tiff", magic: "MM\x00*"},
}

// Format returns the name of the image format of the data in b based on
// its leading signature, or the empty string if the format is not
// recognised.
func Format(b []byte) string {
	r := AsReadPeeker(bytes.NewReader(b))
	for _, f := range formats {
		if hasMagic(f.magic, r) {
			return f.name
		}
	}
	return ""
}
