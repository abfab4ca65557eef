// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config provides configuration loading, validation and live
// reloading.
package config

import (
	"crypto/sha1"
	"encoding/json"
	"fmt"
	"hash"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/kortschak/lazyimg/config"
)

// Alias the publicly visible types.
type (
	Config    = config.Config
	Log       = config.Log
	Fetch     = config.Fetch
	TLS       = config.TLS
	Cache     = config.Cache
	Animation = config.Animation
	Image     = config.Image
	Margin    = config.Margin
	Sum       = config.Sum
)

// Default configuration values.
const (
	DefaultTimeout   = 30 * time.Second
	DefaultMaxBytes  = 16 << 20
	DefaultUserAgent = "lazyimg"
	DefaultBackend   = "sqlite"
	DefaultMaxAge    = 7 * 24 * time.Hour
	DefaultTick      = 16 * time.Millisecond
)

// Load reads, validates and returns the configuration in the TOML file at
// path with defaults applied. Unknown keys are an error.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, _, err := unmarshalConfig(sha1.New(), b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return WithDefaults(cfg), nil
}

// unmarshalConfig returns the configuration and its semantic hash from the
// provided raw data. The hash is independent of formatting and comments.
func unmarshalConfig(h hash.Hash, b []byte) (cfg *Config, sum Sum, _ error) {
	cfg = &Config{}
	md, err := toml.Decode(string(b), cfg)
	if err != nil {
		return nil, sum, err
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		slices.Sort(keys)
		return nil, sum, fmt.Errorf("unknown configuration keys: %s", strings.Join(keys, ", "))
	}
	_, err = Validate(config.Schema, cfg)
	if err != nil {
		return nil, sum, err
	}

	err = json.NewEncoder(h).Encode(cfg)
	if err != nil {
		return nil, sum, err
	}
	sum = ([sha1.Size]byte)(h.Sum(nil))
	h.Reset()
	cfg.Sum = &sum
	return cfg, sum, nil
}

// WithDefaults returns a copy of cfg with unset values filled with their
// defaults. A nil cfg returns the default configuration.
func WithDefaults(cfg *Config) *Config {
	var c Config
	if cfg != nil {
		c = *cfg
	}

	var l Log
	if c.Log != nil {
		l = *c.Log
	}
	if l.Level == nil {
		l.Level = ptr(slog.LevelInfo)
	}
	if l.AddSource == nil {
		l.AddSource = ptr(false)
	}
	c.Log = &l

	var f Fetch
	if c.Fetch != nil {
		f = *c.Fetch
	}
	if f.Timeout == 0 {
		f.Timeout = DefaultTimeout
	}
	if f.MaxBytes == 0 {
		f.MaxBytes = DefaultMaxBytes
	}
	if f.UserAgent == "" {
		f.UserAgent = DefaultUserAgent
	}
	if f.HTTP2 == nil {
		f.HTTP2 = ptr(true)
	}
	c.Fetch = &f

	var ca Cache
	if c.Cache != nil {
		ca = *c.Cache
	}
	if ca.Backend == "" {
		ca.Backend = DefaultBackend
	}
	if ca.MaxAge == 0 {
		ca.MaxAge = DefaultMaxAge
	}
	c.Cache = &ca

	var a Animation
	if c.Animation != nil {
		a = *c.Animation
	}
	if a.Tick == 0 {
		a.Tick = DefaultTick
	}
	c.Animation = &a

	c.Images = slices.Clone(c.Images)
	for i, img := range c.Images {
		if img.Scale == nil {
			img.Scale = ptr(1.0)
		}
		c.Images[i] = img
	}

	return &c
}

func ptr[T any](v T) *T { return &v }
