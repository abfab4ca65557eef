// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"log/slog"
	"net/url"
)

type changeValue struct {
	Change
}

func (v changeValue) LogValue() slog.Value {
	events := make([]eventValue, len(v.Event))
	for i, e := range v.Event {
		events[i] = eventValue{
			Name: e.Name,
			Op:   e.Op.String(),
			Code: int(e.Op),
		}
	}
	return slog.AnyValue(struct {
		Event  []eventValue `json:"event"`
		Config *Config      `json:"config"`
		Err    error        `json:"err"`
	}{
		Event:  events,
		Config: Redact(v.Config),
		Err:    v.Err,
	})
}

// Redact returns a copy of cfg with credentials removed from the cache
// URL. It is intended for logging.
func Redact(cfg *Config) *Config {
	if cfg == nil || cfg.Cache == nil || cfg.Cache.URL == "" {
		return cfg
	}
	c := *cfg
	cache := *c.Cache
	u, err := url.Parse(cache.URL)
	if err != nil {
		cache.URL = "INVALID"
	} else {
		cache.URL = u.Redacted()
	}
	c.Cache = &cache
	return &c
}

type eventValue struct {
	Name string `json:"name"`
	Op   string `json:"op"`
	Code int    `json:"op_code"`
}

type sumValue struct {
	*Sum
}

func (v sumValue) LogValue() slog.Value {
	return slog.StringValue(v.Sum.String())
}
