// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package slogext

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestJSONHandlerAddSource(t *testing.T) {
	var buf bytes.Buffer
	addSource := NewAtomicBool(false)
	log := slog.New(GoID{NewJSONHandler(&buf, &HandlerOptions{
		Level:     slog.LevelDebug,
		AddSource: addSource,
	})})

	log.Debug("without")
	addSource.Store(true)
	log.Debug("with")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("unexpected number of log lines: %d\n%s", len(lines), &buf)
	}
	for i, want := range []bool{false, true} {
		var rec map[string]any
		err := json.Unmarshal([]byte(lines[i]), &rec)
		if err != nil {
			t.Fatalf("unexpected error unmarshaling log line %d: %v", i, err)
		}
		if _, ok := rec[slog.SourceKey]; ok != want {
			t.Errorf("unexpected source key presence for line %d: got:%t want:%t", i, ok, want)
		}
		if _, ok := rec["goid"]; !ok {
			t.Errorf("missing goid for line %d", i)
		}
	}
}

func TestBytes(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewJSONHandler(&buf, nil))
	log.Info("fetched", slog.Any("body", Bytes{
		Data:   []byte("GIF89a..."),
		Format: func([]byte) string { return "gif" },
	}))
	var rec struct {
		Body struct {
			Len    int    `json:"len"`
			Format string `json:"format"`
		} `json:"body"`
	}
	err := json.Unmarshal(buf.Bytes(), &rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Body.Len != 9 || rec.Body.Format != "gif" {
		t.Errorf("unexpected body value: %+v", rec.Body)
	}
}

func TestStringer(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewJSONHandler(&buf, nil))
	log.Info("values", slog.Any("set", Stringer{time.Second}), slog.Any("unset", Stringer{}))
	var rec struct {
		Set   string `json:"set"`
		Unset string `json:"unset"`
	}
	err := json.Unmarshal(buf.Bytes(), &rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Set != "1s" || rec.Unset != "<nil>" {
		t.Errorf("unexpected values: %+v", rec)
	}
}
