// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fetch provides asynchronous retrieval of image payloads over
// HTTP(S) and from a local file root.
package fetch

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/net/http2"

	"github.com/kortschak/lazyimg/internal/animation"
	"github.com/kortschak/lazyimg/internal/cache"
	"github.com/kortschak/lazyimg/internal/slogext"
)

// Cache is a persistent payload store.
type Cache interface {
	// Get returns the payload for url or an error wrapping
	// cache.ErrNotFound if there is none.
	Get(ctx context.Context, url string) ([]byte, error)
	// Put stores the payload for url.
	Put(ctx context.Context, url string, data []byte) error
}

// Options are the Client's configuration options.
type Options struct {
	// Timeout is the total time allowed for a request.
	// Zero is no timeout.
	Timeout time.Duration
	// MaxBytes is the largest accepted payload. Zero is no limit.
	MaxBytes int64
	// UserAgent is the request User-Agent header value.
	UserAgent string
	// Header holds additional request headers.
	Header http.Header
	// HTTP2 enables HTTP/2 over TLS with connection health checks.
	HTTP2 bool
	// TLS is the client TLS configuration. If nil, the system
	// defaults are used.
	TLS *tls.Config
	// FileRoot is the root directory served for file URLs.
	// If empty, file URLs are not supported.
	FileRoot string
	// Cache is an optional payload cache. File URLs are not cached.
	Cache Cache
}

// ErrTooLarge is returned when a payload exceeds Options.MaxBytes.
var ErrTooLarge = errors.New("payload too large")

// StatusError is returned for non-2xx responses.
type StatusError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status: %s", e.URL, e.Status)
}

// Client is an asynchronous payload fetcher.
type Client struct {
	client *http.Client
	opts   Options
	log    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

const (
	http2ReadIdleTimeout = 30 * time.Second
	http2PingTimeout     = 15 * time.Second
)

// New returns a new Client.
func New(opts Options, log *slog.Logger) (*Client, error) {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	if opts.TLS != nil {
		transport.TLSClientConfig = opts.TLS.Clone()
	}
	if opts.HTTP2 {
		h2, err := http2.ConfigureTransports(transport)
		if err != nil {
			return nil, fmt.Errorf("configure http2: %w", err)
		}
		h2.ReadIdleTimeout = http2ReadIdleTimeout
		h2.PingTimeout = http2PingTimeout
	}
	if opts.FileRoot != "" {
		transport.RegisterProtocol("file", http.NewFileTransport(http.Dir(opts.FileRoot)))
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		client: &http.Client{
			Transport: transport,
			Timeout:   opts.Timeout,
		},
		opts:   opts,
		log:    log.With(slog.String("component", "fetch")),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Fetch retrieves url on a new goroutine and calls done with the result.
// The done function is never called before Fetch returns.
func (c *Client) Fetch(url string, done func([]byte, error)) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		done(c.Get(c.ctx, url))
	}()
}

// Get retrieves url, consulting and filling the cache if one is configured.
func (c *Client) Get(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	cacheable := c.opts.Cache != nil && u.Scheme != "file"
	if cacheable {
		b, err := c.opts.Cache.Get(ctx, rawURL)
		switch {
		case err == nil:
			c.log.LogAttrs(ctx, slog.LevelDebug, "cache hit", slog.String("url", rawURL), slog.Any("body", slogext.Bytes{Data: b, Format: animation.Format}))
			return b, nil
		case !errors.Is(err, cache.ErrNotFound):
			c.log.LogAttrs(ctx, slog.LevelWarn, "cache get", slog.String("url", rawURL), slog.Any("error", err))
		}
	}

	b, err := c.get(ctx, u)
	if err != nil {
		c.log.LogAttrs(ctx, slog.LevelDebug, "get", slog.String("url", rawURL), slog.Any("error", err))
		return nil, err
	}
	if cacheable {
		err = c.opts.Cache.Put(ctx, rawURL, b)
		if err != nil {
			c.log.LogAttrs(ctx, slog.LevelWarn, "cache put", slog.String("url", rawURL), slog.Any("error", err))
		}
	}
	return b, nil
}

func (c *Client) get(ctx context.Context, u *url.URL) ([]byte, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	if c.opts.Header != nil {
		req.Header = c.opts.Header.Clone()
	}
	if c.opts.UserAgent != "" {
		req.Header.Set("User-Agent", c.opts.UserAgent)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || 300 <= resp.StatusCode {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<12))
		return nil, &StatusError{URL: u.String(), StatusCode: resp.StatusCode, Status: resp.Status}
	}

	var r io.Reader = resp.Body
	if c.opts.MaxBytes > 0 {
		if resp.ContentLength > c.opts.MaxBytes {
			return nil, fmt.Errorf("%s: %w: %d bytes", u, ErrTooLarge, resp.ContentLength)
		}
		r = io.LimitReader(resp.Body, c.opts.MaxBytes+1)
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if c.opts.MaxBytes > 0 && int64(len(b)) > c.opts.MaxBytes {
		return nil, fmt.Errorf("%s: %w: more than %d bytes", u, ErrTooLarge, c.opts.MaxBytes)
	}
	c.log.LogAttrs(ctx, slog.LevelDebug, "get",
		slog.String("url", u.String()),
		slog.String("proto", resp.Proto),
		slog.Duration("duration", time.Since(start)),
		slog.Any("body", slogext.Bytes{Data: b, Format: animation.Format}),
	)
	return b, nil
}

// Wait blocks until all fetches started by Fetch have called their done
// functions.
func (c *Client) Wait() {
	c.wg.Wait()
}

// Close cancels in-flight fetches, waits for their done functions to
// return and closes idle connections.
func (c *Client) Close() {
	c.cancel()
	c.wg.Wait()
	c.client.CloseIdleConnections()
}
