// Copyright ©2024 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pgcache provides persistence of fetched image payloads using
// PostgreSQL.
package pgcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/kortschak/lazyimg/internal/cache"
)

// DB is a persistent payload cache keyed by URL.
type DB struct {
	name string

	mu    sync.Mutex
	store *pgx.Conn

	maxAge time.Duration
	now    func() time.Time
	log    *slog.Logger
}

// Schema is the DB schema.
const Schema = `
create table if not exists images (
	url     TEXT PRIMARY KEY,
	fetched TIMESTAMP WITH TIME ZONE NOT NULL,
	data    BYTEA NOT NULL
);
`

const (
	upsert = `insert into images (url, fetched, data) values ($1, $2, $3)
	on conflict (url) do update set fetched = excluded.fetched, data = excluded.data`

	get = `select fetched, data from images where url = $1`

	expire = `delete from images where fetched < $1`
)

// Open opens a PostgresSQL DB. See [pgx.Connect] for name handling details.
// If the name does not include a password, it is taken from $PGPASSWORD or
// the user's .pgpass file. If maxAge is positive, entries older than maxAge
// are treated as absent and are deleted on open.
func Open(ctx context.Context, name string, maxAge time.Duration, log *slog.Logger) (*DB, error) {
	u, err := url.Parse(name)
	if err != nil {
		return nil, err
	}
	if u.User == nil {
		return nil, fmt.Errorf("missing user info: %s", u)
	}
	if _, ok := u.User.Password(); !ok {
		pgHost, pgPort, err := net.SplitHostPort(u.Host)
		if err != nil {
			return nil, err
		}
		userInfo, err := pgUserinfo(u.User.Username(), pgHost, pgPort, strings.TrimPrefix(u.Path, "/"), os.Getenv("PGPASSWORD"))
		if err != nil {
			return nil, err
		}
		u.User = userInfo
	}

	conn, err := pgx.Connect(ctx, u.String())
	if err != nil {
		return nil, err
	}
	_, err = conn.Exec(ctx, Schema)
	if err != nil {
		return nil, errors.Join(err, conn.Close(ctx))
	}
	u.User = nil
	db := &DB{
		name:   u.String(),
		store:  conn,
		maxAge: maxAge,
		now:    time.Now,
		log:    log.With(slog.String("component", "pgcache")),
	}
	_, err = db.Expire(ctx)
	if err != nil {
		return nil, errors.Join(err, db.Close(ctx))
	}
	return db, nil
}

// Name returns the name of the database, without user information.
func (db *DB) Name() string {
	return db.name
}

// Get returns the payload stored for url. Get returns cache.ErrNotFound if
// no payload is found or the payload has expired.
func (db *DB) Get(ctx context.Context, url string) ([]byte, error) {
	db.log.LogAttrs(ctx, slog.LevelDebug, "get", slog.String("url", url))
	db.mu.Lock()
	defer db.mu.Unlock()
	var (
		fetched time.Time
		data    []byte
	)
	err := db.store.QueryRow(ctx, get, url).Scan(&fetched, &data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, cache.ErrNotFound
		}
		db.log.LogAttrs(ctx, slog.LevelError, "get", slog.String("url", url), slog.Any("error", err))
		return nil, err
	}
	if db.maxAge > 0 && db.now().Sub(fetched) > db.maxAge {
		return nil, cache.ErrNotFound
	}
	return data, nil
}

// Put stores data for url, replacing any existing payload.
func (db *DB) Put(ctx context.Context, url string, data []byte) error {
	db.log.LogAttrs(ctx, slog.LevelDebug, "put", slog.String("url", url), slog.Int("len", len(data)))
	db.mu.Lock()
	defer db.mu.Unlock()
	_, err := db.store.Exec(ctx, upsert, url, db.now(), data)
	if err != nil {
		db.log.LogAttrs(ctx, slog.LevelError, "put", slog.String("url", url), slog.Any("error", err))
	}
	return err
}

// Expire deletes expired entries and returns the number deleted.
func (db *DB) Expire(ctx context.Context) (int64, error) {
	if db.maxAge <= 0 {
		return 0, nil
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	tag, err := db.store.Exec(ctx, expire, db.now().Add(-db.maxAge))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Close closes the database connection.
func (db *DB) Close(ctx context.Context) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.store.Close(ctx)
}
