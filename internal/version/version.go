// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package version reports the build version.
package version

import (
	"errors"
	"fmt"
	"io"
	"runtime/debug"
)

// Print writes the build version to w.
func Print(w io.Writer) error {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return errors.New("no build info")
	}
	return write(w, bi)
}

func write(w io.Writer, bi *debug.BuildInfo) error {
	var (
		revision, modified string
		err                error
	)
	for _, bs := range bi.Settings {
		switch bs.Key {
		case "vcs.revision":
			revision = bs.Value
		case "vcs.modified":
			modified = bs.Value
		}
	}
	if revision == "" {
		_, err = fmt.Fprintln(w, bi.Main.Version)
		return err
	}
	switch modified {
	case "true":
		_, err = fmt.Fprintln(w, bi.Main.Version, revision, "(modified)")
	case "false":
		_, err = fmt.Fprintln(w, bi.Main.Version, revision)
	default:
		// This should never happen.
		_, err = fmt.Fprintln(w, bi.Main.Version, revision, modified)
	}
	return err
}
