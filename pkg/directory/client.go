// Package directory is a client for the Bay Area benefits directory API.
// GET responses are cached per request signature together with their ETag
// and revalidated with If-None-Match.
package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/briangreenhill/baydirectory/cache"
)

const DefaultBaseURL = "https://api.bayareadiscounts.com"

// Doer performs one HTTP request. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// DoerFunc adapts a function to Doer.
type DoerFunc func(req *http.Request) (*http.Response, error)

func (f DoerFunc) Do(req *http.Request) (*http.Response, error) { return f(req) }

// CachedResponse is what the client stores per request signature.
type CachedResponse struct {
	Body      json.RawMessage `json:"body"`
	ETag      string          `json:"etag,omitempty"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// Response is the result of Request. Data is shared with the cache and
// must not be modified.
type Response struct {
	Data      json.RawMessage
	ETag      string
	FromCache bool
	Status    int
}

// Decode unmarshals Data into out.
func (r *Response) Decode(out any) error {
	return json.Unmarshal(r.Data, out)
}

// RequestOptions describes one call. Method defaults to GET. A non-nil Body
// is sent as JSON.
type RequestOptions struct {
	Method  string
	Params  map[string]string
	Headers http.Header
	Body    any
}

type Client struct {
	http    Doer
	baseURL *url.URL
	header  http.Header

	cache     *cache.TTLCache[CachedResponse] // optional; nil means no cache
	freshness time.Duration

	log    zerolog.Logger
	flight singleflight.Group
}

type Option func(*Client)

func WithHTTPClient(h Doer) Option {
	return func(c *Client) { c.http = h }
}

func WithCache(rc *cache.TTLCache[CachedResponse]) Option {
	return func(c *Client) { c.cache = rc }
}

// WithHeader adds a header to every request.
func WithHeader(key, value string) Option {
	return func(c *Client) { c.header.Add(key, value) }
}

// WithFreshness serves cached GET responses younger than d without asking
// the server. The default of 0 revalidates on every call.
func WithFreshness(d time.Duration) Option {
	return func(c *Client) { c.freshness = d }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// New creates a client for baseURL. An empty baseURL uses DefaultBaseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", baseURL)
	}
	c := &Client{
		http:    http.DefaultClient,
		baseURL: u,
		header:  make(http.Header),
		log:     zerolog.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Cache returns the response cache, or nil.
func (c *Client) Cache() *cache.TTLCache[CachedResponse] { return c.cache }

// Request issues one call to the API. Concurrent GETs with the same
// signature and per-call headers share a single network round trip.
func (c *Client) Request(ctx context.Context, p string, opts RequestOptions) (*Response, error) {
	method := strings.ToUpper(opts.Method)
	if method == "" {
		method = http.MethodGet
	}
	sig := cache.KeyFor(method, p, opts.Params)

	if method != http.MethodGet {
		return c.do(ctx, method, p, sig, opts)
	}

	ch := c.flight.DoChan(flightKey(sig, opts.Headers), func() (any, error) {
		return c.do(ctx, method, p, sig, opts)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			// The caller that started the shared request gave up; ours is
			// still live, so go again alone.
			if res.Shared && isContextErr(res.Err) && ctx.Err() == nil {
				return c.do(ctx, method, p, sig, opts)
			}
			return nil, res.Err
		}
		r := *res.Val.(*Response)
		return &r, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) do(ctx context.Context, method, p, sig string, opts RequestOptions) (*Response, error) {
	var (
		cached     CachedResponse
		haveCached bool
	)
	if c.cache != nil && method == http.MethodGet {
		cached, haveCached = c.cache.Get(sig)
		if haveCached && c.freshness > 0 && time.Since(cached.FetchedAt) < c.freshness {
			c.log.Debug().Str("sig", sig).Msg("served fresh from cache")
			return &Response{Data: cached.Body, ETag: cached.ETag, FromCache: true, Status: http.StatusOK}, nil
		}
	}

	req, err := c.newReq(ctx, method, p, opts)
	if err != nil {
		return nil, err
	}
	if haveCached && cached.ETag != "" {
		req.Header.Set("If-None-Match", cached.ETag)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Method: method, Path: p, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		_, _ = io.Copy(io.Discard, resp.Body)
		if !haveCached {
			return nil, &StaleProtocolError{Method: method, Path: p, Signature: sig}
		}
		if etag := resp.Header.Get("ETag"); etag != "" {
			cached.ETag = etag
		}
		cached.FetchedAt = time.Now()
		c.cache.Set(sig, cached)
		c.log.Debug().Str("sig", sig).Msg("revalidated")
		return &Response{Data: cached.Body, ETag: cached.ETag, FromCache: true, Status: resp.StatusCode}, nil

	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, &TransportError{Method: method, Path: p, Err: fmt.Errorf("read body: %w", err)}
		}
		// A body read to the end after cancellation is still discarded.
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(bytes.TrimSpace(body)) == 0 {
			body = []byte("null")
		}
		if !json.Valid(body) {
			return nil, fmt.Errorf("%s %s: %w", method, p, ErrInvalidJSON)
		}
		etag := resp.Header.Get("ETag")
		if c.cache != nil && method == http.MethodGet {
			c.cache.Set(sig, CachedResponse{Body: body, ETag: etag, FetchedAt: time.Now()})
		}
		return &Response{Data: body, ETag: etag, Status: resp.StatusCode}, nil

	default:
		return nil, newRequestError(method, p, resp)
	}
}

func (c *Client) newReq(ctx context.Context, method, p string, opts RequestOptions) (*http.Request, error) {
	u := *c.baseURL
	u.Path = path.Join(u.Path, p)
	q := u.Query()
	for k, v := range opts.Params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()

	var body io.Reader
	if opts.Body != nil {
		b, err := json.Marshal(opts.Body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}
	for k, vs := range c.header {
		req.Header[k] = append([]string(nil), vs...)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range opts.Headers {
		req.Header.Del(k)
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	return req, nil
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// flightKey separates in-flight GETs whose per-call headers differ, since
// a header such as Accept-Language can change the response.
func flightKey(sig string, h http.Header) string {
	if len(h) == 0 {
		return sig
	}
	var b strings.Builder
	b.WriteString(sig)
	b.WriteByte('\n')
	_ = h.Write(&b)
	return b.String()
}
