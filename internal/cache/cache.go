// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package cache provides persistence of fetched image payloads.
package cache

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gofrs/flock"

	// For sql.DB registration.
	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when no fresh payload is held for a URL.
	ErrNotFound = errors.New("not found")
	// ErrLocked is returned by Open when another process owns the cache.
	ErrLocked = errors.New("cache locked by another process")
)

// DB is a persistent payload cache keyed by URL.
type DB struct {
	mu     sync.Mutex
	store  *sql.DB
	lock   *flock.Flock
	maxAge time.Duration
	now    func() time.Time
	log    *slog.Logger
}

// Schema is the DB schema. Fetch times are stored as Unix milliseconds.
const Schema = `
create table if not exists images(
	url     TEXT NOT NULL PRIMARY KEY,
	fetched INTEGER NOT NULL,
	data    BLOB NOT NULL
);
`

const (
	upsert = `
insert into images values(?, ?, ?)
  on conflict(url) do update set fetched=excluded.fetched, data=excluded.data;
`

	get = `
select fetched, data from images where url is ?;
`

	expire = `
delete from images where fetched < ?;
`

	count = `
select count(*) from images;
`
)

// Open opens a cache DB at path, creating the tables if required, and
// removes expired entries. Ownership of the cache is held by a lock on
// path+".lock" until Close is called. If maxAge is positive, entries older
// than maxAge are treated as absent.
// See https://pkg.go.dev/modernc.org/sqlite#Driver.Open for path handling
// details.
func Open(path string, maxAge time.Duration, log *slog.Logger) (*DB, error) {
	fl := flock.New(path + ".lock")
	ok, err := fl.TryLock()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLocked
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Join(err, fl.Unlock())
	}
	_, err = db.Exec(Schema)
	if err != nil {
		return nil, errors.Join(err, db.Close(), fl.Unlock())
	}
	c := &DB{
		store:  db,
		lock:   fl,
		maxAge: maxAge,
		now:    time.Now,
		log:    log.With(slog.String("component", "cache")),
	}
	_, err = c.Expire(context.Background())
	if err != nil {
		return nil, errors.Join(err, c.Close())
	}
	return c, nil
}

// Get returns the payload stored for url. Get returns ErrNotFound if no
// payload is found or the payload has expired.
func (c *DB) Get(ctx context.Context, url string) ([]byte, error) {
	c.log.LogAttrs(ctx, slog.LevelDebug, "get", slog.String("url", url))
	c.mu.Lock()
	defer c.mu.Unlock()
	var (
		fetched int64
		data    []byte
	)
	err := c.store.QueryRowContext(ctx, get, url).Scan(&fetched, &data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		c.log.LogAttrs(ctx, slog.LevelError, "get", slog.String("url", url), slog.Any("error", err))
		return nil, err
	}
	if c.expired(time.UnixMilli(fetched)) {
		return nil, ErrNotFound
	}
	return data, nil
}

// Put stores data for url, replacing any existing payload.
func (c *DB) Put(ctx context.Context, url string, data []byte) error {
	c.log.LogAttrs(ctx, slog.LevelDebug, "put", slog.String("url", url), slog.Int("len", len(data)))
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.store.ExecContext(ctx, upsert, url, c.now().UnixMilli(), data)
	if err != nil {
		c.log.LogAttrs(ctx, slog.LevelError, "put", slog.String("url", url), slog.Any("error", err))
	}
	return err
}

// Expire deletes expired entries and returns the number deleted.
func (c *DB) Expire(ctx context.Context) (int64, error) {
	if c.maxAge <= 0 {
		return 0, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	res, err := c.store.ExecContext(ctx, expire, c.now().Add(-c.maxAge).UnixMilli())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if n != 0 {
		c.log.LogAttrs(ctx, slog.LevelDebug, "expire", slog.Int64("deleted", n))
	}
	return n, err
}

// Len returns the number of stored entries, including expired entries that
// have not been deleted.
func (c *DB) Len(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int
	err := c.store.QueryRowContext(ctx, count).Scan(&n)
	return n, err
}

func (c *DB) expired(fetched time.Time) bool {
	return c.maxAge > 0 && c.now().Sub(fetched) > c.maxAge
}

// Close closes the database and releases the cache lock.
func (c *DB) Close() error {
	return errors.Join(c.store.Close(), c.lock.Unlock())
}
