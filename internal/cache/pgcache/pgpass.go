// Copyright ©2024 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pgcache

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

func pgUserinfo(pgUser, pgHost, pgPort, pgDatabase, pgPassword string) (*url.Userinfo, error) {
	if pgPassword != "" {
		return url.UserPassword(pgUser, pgPassword), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("could not get home directory: %w", err)
	}
	pgpass, err := os.Open(filepath.Join(home, ".pgpass"))
	if err != nil {
		return nil, fmt.Errorf("could not open .pgpass: %w", err)
	}
	defer pgpass.Close()
	fi, err := pgpass.Stat()
	if err != nil {
		return nil, fmt.Errorf("could not stat .pgpass: %v", err)
	}
	if fi.Mode()&0o077 != 0o000 {
		return nil, fmt.Errorf(".pgpass permissions too relaxed: %s", fi.Mode())
	}
	password, err := findPassword(pgpass, pgUser, pgHost, pgPort, pgDatabase)
	if err != nil {
		return nil, err
	}
	return url.UserPassword(pgUser, password), nil
}

// findPassword returns the password of the first .pgpass entry in r
// matching the connection parameters.
func findPassword(r io.Reader, user, host, port, database string) (string, error) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		e, err := parsePgPassLine(line)
		if err != nil {
			return "", fmt.Errorf("could not parse .pgpass: %w", err)
		}
		if e.match(user, host, port, database) {
			return e.password, nil
		}
	}
	if err := sc.Err(); err != nil {
		return "", fmt.Errorf("unexpected error reading .pgpass: %w", err)
	}
	return "", errors.New("must have postgres password in $PGPASSWORD or .pgpass")
}

type pgPassEntry struct {
	host     string
	port     string
	database string
	user     string
	password string
}

func (e pgPassEntry) match(user, host, port, database string) bool {
	return user == e.user &&
		(host == e.host || e.host == "*") &&
		(port == e.port || e.port == "*") &&
		(database == e.database || e.database == "*")
}

// parsePgPassLine parses a hostname:port:database:username:password line.
// Colons and backslashes within fields are escaped with a backslash. Colons
// in the password field need not be escaped.
func parsePgPassLine(text string) (pgPassEntry, error) {
	var (
		entry  pgPassEntry
		field  int
		buf    strings.Builder
		escape bool
	)
	for _, r := range text {
		switch {
		case escape:
			buf.WriteRune(r)
			escape = false
		case r == '\\':
			escape = true
		case r == ':' && field < 4:
			switch field {
			case 0:
				entry.host = buf.String()
			case 1:
				entry.port = buf.String()
			case 2:
				entry.database = buf.String()
			case 3:
				entry.user = buf.String()
			}
			buf.Reset()
			field++
		default:
			buf.WriteRune(r)
		}
	}
	if field != 4 {
		return entry, errors.New("too few fields")
	}
	entry.password = buf.String()
	return entry, nil
}
