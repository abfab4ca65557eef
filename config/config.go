// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config provides lazyimg configuration types and schemas.
package config

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"
)

// Config is a complete configuration.
type Config struct {
	Log       *Log       `json:"log,omitempty" toml:"log"`
	Fetch     *Fetch     `json:"fetch,omitempty" toml:"fetch"`
	Cache     *Cache     `json:"cache,omitempty" toml:"cache"`
	Animation *Animation `json:"animation,omitempty" toml:"animation"`
	// Images is a set of images to load in addition to
	// those requested on the command line.
	Images []Image `json:"image,omitempty" toml:"image"`

	Sum *Sum `json:"-" toml:"-"`
}

// Log is the logging configuration.
type Log struct {
	Level     *slog.Level `json:"level,omitempty" toml:"level"`
	AddSource *bool       `json:"add_source,omitempty" toml:"add_source"`
}

// Fetch is the image fetch client configuration.
type Fetch struct {
	// Timeout is the total time allowed for a single fetch.
	Timeout time.Duration `json:"timeout,omitempty" toml:"timeout"`
	// MaxBytes is the largest accepted payload.
	MaxBytes int64 `json:"max_bytes,omitempty" toml:"max_bytes"`
	// UserAgent is sent with every request.
	UserAgent string `json:"user_agent,omitempty" toml:"user_agent"`
	// Header holds additional request headers, for example
	// an API client ID.
	Header map[string]string `json:"header,omitempty" toml:"header"`
	// HTTP2 enables HTTP/2 with connection health checks.
	// The default is true.
	HTTP2 *bool `json:"http2,omitempty" toml:"http2"`
	// FileRoot is the directory that file URLs are resolved
	// against. If empty, file URLs are not supported.
	FileRoot string `json:"file_root,omitempty" toml:"file_root"`
	TLS      *TLS   `json:"tls,omitempty" toml:"tls"`
}

// TLS holds paths to PEM encoded files used to configure client TLS.
type TLS struct {
	// CA is the root certificate bundle replacing the system roots.
	CA string `json:"ca,omitempty" toml:"ca"`
	// Cert and Key are the client certificate and key for mTLS.
	Cert string `json:"cert,omitempty" toml:"cert"`
	Key  string `json:"key,omitempty" toml:"key"`
}

// Cache is the payload cache configuration.
type Cache struct {
	// Backend is one of "sqlite", "postgres" or "none".
	Backend string `json:"backend,omitempty" toml:"backend"`
	// Path is the sqlite database path. If empty, a file
	// in the user's cache directory is used.
	Path string `json:"path,omitempty" toml:"path"`
	// URL is the postgres connection URL.
	URL string `json:"url,omitempty" toml:"url"`
	// MaxAge is the age beyond which a cached payload is
	// refetched. Zero is no expiry.
	MaxAge time.Duration `json:"max_age,omitempty" toml:"max_age"`
}

// Animation is the animation clock configuration.
type Animation struct {
	// Tick is the animation clock period. It must not
	// exceed the minimum frame duration of 20ms.
	Tick time.Duration `json:"tick,omitempty" toml:"tick"`
}

// Image is a configured image resource.
type Image struct {
	Name    string   `json:"name,omitempty" toml:"name"`
	URL     string   `json:"url" toml:"url"`
	Scale   *float64 `json:"scale,omitempty" toml:"scale"`
	Tooltip string   `json:"tooltip,omitempty" toml:"tooltip"`
	Hat     bool     `json:"hat,omitempty" toml:"hat"`
	Margin  *Margin  `json:"margin,omitempty" toml:"margin"`
}

// Margin is an image layout margin.
type Margin struct {
	Top    int `json:"top,omitempty" toml:"top"`
	Right  int `json:"right,omitempty" toml:"right"`
	Bottom int `json:"bottom,omitempty" toml:"bottom"`
	Left   int `json:"left,omitempty" toml:"left"`
}

// Schema is the schema for a valid configuration.
const Schema = `
{
	log?:       _#log
	fetch?:     _#fetch
	cache?:     _#cache
	animation?: _#animation
	image?:     [... _#image]
}

_#log: {
	level?:      _#log_level
	add_source?: bool
}

_#fetch: {
	timeout?:    int & >=0
	max_bytes?:  int & >=0
	user_agent?: string
	header?:     {[string]: string}
	http2?:      bool
	file_root?:  string
	tls?:        _#tls
}

_#tls: T={
	ca?:   !=""
	cert?: !=""
	key?:  !=""
	if T.cert != _|_ {
		key!: _
	}
	if T.key != _|_ {
		cert!: _
	}
}

_#cache: C={
	backend?: "sqlite" | "postgres" | "none"
	path?:    string
	url?:     string
	max_age?: int & >=0
	if C.backend == "postgres" {
		url!: =~"^postgres(?:ql)?://"
	}
}

_#animation: {
	tick?: int & >0 & <=20000000 // Nanoseconds, at most 20ms.
}

_#image: {
	name?:    string
	url:      !=""
	scale?:   number & >=0
	tooltip?: string
	hat?:     bool
	margin?:  {
		top?:    int
		right?:  int
		bottom?: int
		left?:   int
	}
}

_#log_level: =~"(?i)^(?:debug|info|warn|error)$"
`

// Sum is a comparable optional SHA-1 sum.
type Sum [sha1.Size]byte

// Equal returns whether s is equal to other.
func (s *Sum) Equal(other *Sum) bool {
	switch {
	case s == other:
		return true
	case s != nil && other != nil:
		return *s == *other
	default:
		return false
	}
}

func (s *Sum) String() string {
	if s == nil {
		return ""
	}
	return hex.EncodeToString(s[:])
}

func (s *Sum) UnmarshalText(text []byte) error {
	if len(text) != hex.EncodedLen(len(s)) {
		return fmt.Errorf("invalid length: %d != %d", len(text), hex.EncodedLen(len(s)))
	}
	_, err := hex.Decode(s[:], text)
	if err != nil {
		return err
	}
	return nil
}

func (s *Sum) MarshalText() (text []byte, err error) {
	if s == nil {
		return nil, nil
	}
	text = make([]byte, hex.EncodedLen(len(s)))
	hex.Encode(text, s[:])
	return text, nil
}
