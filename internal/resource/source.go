// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package resource

import (
	"errors"
	"fmt"
	"image"
)

// Source is the origin of an image resource's pixels. It is either a URL
// or a Raster.
type Source interface {
	isSource()
}

// URL is a remote image address fetched on first use.
type URL string

func (URL) isSource() {}

// Raster is a caller-owned in-memory image.
type Raster struct {
	image.Image
}

func (Raster) isSource() {}

// State is the load state of an image resource.
type State int

const (
	NotLoaded State = iota
	Loading
	Static   // Loaded with a single frame.
	Animated // Loaded with two or more frames.
	Failed
)

func (s State) String() string {
	switch s {
	case NotLoaded:
		return "not_loaded"
	case Loading:
		return "loading"
	case Static:
		return "static"
	case Animated:
		return "animated"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// IsTerminal returns whether no further load transitions can happen from s.
func (s State) IsTerminal() bool {
	return s == Static || s == Animated || s == Failed
}

var (
	// ErrFetch is the error class of transport failures, non-2xx
	// responses and timeouts.
	ErrFetch = errors.New("fetch failed")
	// ErrDecode is the error class of malformed or unsupported payloads.
	ErrDecode = errors.New("decode failed")
	// ErrEmptyDecode is returned when decoding produces no frames.
	ErrEmptyDecode = fmt.Errorf("%w: no frames", ErrDecode)
)

// Margins are layout margins around an image in pixels.
type Margins struct {
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
	Left   int `json:"left"`
}

// Meta holds the display attributes of an image resource.
type Meta struct {
	// Scale is the display scale factor.
	Scale float64
	// Name is the display name, for example an emote code.
	Name string
	// Tooltip is the hover text.
	Tooltip string
	// Margin is the layout margin.
	Margin Margins
	// Hat marks a decorative image that is layered over the previous
	// image rather than placed beside it.
	Hat bool
}
