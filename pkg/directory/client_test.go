package directory

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/briangreenhill/baydirectory/cache"
)

func newTestCache() *cache.TTLCache[CachedResponse] {
	return cache.New[CachedResponse](cache.Options{TTL: time.Hour})
}

// stubResponse builds a canned *http.Response.
func stubResponse(status int, body string, header map[string]string) *http.Response {
	h := make(http.Header)
	for k, v := range header {
		h.Set(k, v)
	}
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Header:     h,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

// scriptedDoer answers with responses in order and records requests.
type scriptedDoer struct {
	mu        sync.Mutex
	responses []*http.Response
	requests  []*http.Request
}

func (s *scriptedDoer) Do(req *http.Request) (*http.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if len(s.responses) == 0 {
		return nil, errors.New("no more scripted responses")
	}
	r := s.responses[0]
	s.responses = s.responses[1:]
	return r, nil
}

func (s *scriptedDoer) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func TestNewValidatesBaseURL(t *testing.T) {
	_, err := New("not a url")
	assert.Error(t, err)

	c, err := New("")
	require.NoError(t, err)
	assert.Equal(t, DefaultBaseURL, c.baseURL.String())
}

func TestETagReplay(t *testing.T) {
	doer := &scriptedDoer{responses: []*http.Response{
		stubResponse(http.StatusOK, `{"data":"A"}`, map[string]string{"ETag": `"v1"`}),
		// A 304 body must never be parsed.
		stubResponse(http.StatusNotModified, `not json`, nil),
	}}
	c, err := New("https://api.example.test", WithHTTPClient(doer), WithCache(newTestCache()))
	require.NoError(t, err)
	ctx := context.Background()

	first, err := c.Request(ctx, "/programs", RequestOptions{})
	require.NoError(t, err)
	assert.False(t, first.FromCache)
	assert.Equal(t, `"v1"`, first.ETag)
	assert.JSONEq(t, `{"data":"A"}`, string(first.Data))

	second, err := c.Request(ctx, "/programs", RequestOptions{})
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, http.StatusNotModified, second.Status)
	assert.JSONEq(t, `{"data":"A"}`, string(second.Data))

	require.Equal(t, 2, doer.calls())
	assert.Empty(t, doer.requests[0].Header.Get("If-None-Match"))
	assert.Equal(t, `"v1"`, doer.requests[1].Header.Get("If-None-Match"))
}

func TestNotModifiedWithoutCacheIsAnError(t *testing.T) {
	for name, rc := range map[string]*cache.TTLCache[CachedResponse]{
		"no cache":    nil,
		"empty cache": newTestCache(),
	} {
		t.Run(name, func(t *testing.T) {
			doer := &scriptedDoer{responses: []*http.Response{stubResponse(http.StatusNotModified, "", nil)}}
			opts := []Option{WithHTTPClient(doer)}
			if rc != nil {
				opts = append(opts, WithCache(rc))
			}
			c, err := New("https://api.example.test", opts...)
			require.NoError(t, err)

			_, err = c.Request(context.Background(), "/programs", RequestOptions{})
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrStaleProtocol)
			var spe *StaleProtocolError
			require.ErrorAs(t, err, &spe)
			assert.Equal(t, "GET /programs", spe.Signature)
			assert.True(t, IsRetryable(err))
		})
	}
}

func TestSignatureIsolation(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("If-None-Match") != "" {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"same"`)
		_, _ = w.Write([]byte(`{"programs":[],"total":0}`))
	}))
	defer srv.Close()

	c, err := New(srv.URL, WithCache(newTestCache()))
	require.NoError(t, err)
	ctx := context.Background()

	food, err := c.Request(ctx, "/programs", RequestOptions{Params: map[string]string{"category": "Food"}})
	require.NoError(t, err)
	health, err := c.Request(ctx, "/programs", RequestOptions{Params: map[string]string{"category": "Health"}})
	require.NoError(t, err)

	assert.False(t, food.FromCache)
	assert.False(t, health.FromCache, "a different query never reuses another query's entry")
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 2, c.Cache().Stats().MemoryEntries)
}

func TestRequestSendsParamsHeadersAndBody(t *testing.T) {
	var got *http.Request
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c, err := New(srv.URL+"/api", WithHeader("X-Client", "baydir"))
	require.NoError(t, err)

	_, err = c.Request(context.Background(), "/translate", RequestOptions{
		Method:  "post",
		Params:  map[string]string{"v": "2"},
		Headers: http.Header{"Accept-Language": {"es"}},
		Body:    map[string]string{"hello": "world"},
	})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, "/api/translate", got.URL.Path)
	assert.Equal(t, "2", got.URL.Query().Get("v"))
	assert.Equal(t, "baydir", got.Header.Get("X-Client"))
	assert.Equal(t, "es", got.Header.Get("Accept-Language"))
	assert.Equal(t, "application/json", got.Header.Get("Content-Type"))
	assert.JSONEq(t, `{"hello":"world"}`, gotBody)
}

func TestPostResponsesAreNotCached(t *testing.T) {
	doer := &scriptedDoer{responses: []*http.Response{
		stubResponse(http.StatusOK, `{"n":1}`, map[string]string{"ETag": `"p"`}),
		stubResponse(http.StatusOK, `{"n":2}`, nil),
	}}
	rc := newTestCache()
	c, err := New("https://api.example.test", WithHTTPClient(doer), WithCache(rc))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := c.Request(context.Background(), "/subscribe", RequestOptions{Method: http.MethodPost, Body: map[string]string{}})
		require.NoError(t, err)
	}
	assert.Equal(t, 0, rc.Stats().MemoryEntries)
	assert.Empty(t, doer.requests[1].Header.Get("If-None-Match"))
}

func TestResponseWithoutETagIsCachedButNotRevalidated(t *testing.T) {
	doer := &scriptedDoer{responses: []*http.Response{
		stubResponse(http.StatusOK, `{"n":1}`, nil),
		stubResponse(http.StatusOK, `{"n":2}`, nil),
	}}
	rc := newTestCache()
	c, err := New("https://api.example.test", WithHTTPClient(doer), WithCache(rc))
	require.NoError(t, err)

	_, err = c.Request(context.Background(), "/stats", RequestOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, rc.Stats().MemoryEntries)

	second, err := c.Request(context.Background(), "/stats", RequestOptions{})
	require.NoError(t, err)
	assert.Empty(t, doer.requests[1].Header.Get("If-None-Match"))
	assert.JSONEq(t, `{"n":2}`, string(second.Data))
}

func TestFreshness(t *testing.T) {
	doer := &scriptedDoer{responses: []*http.Response{
		stubResponse(http.StatusOK, `{"n":1}`, map[string]string{"ETag": `"a"`}),
	}}
	c, err := New("https://api.example.test", WithHTTPClient(doer), WithCache(newTestCache()), WithFreshness(time.Hour))
	require.NoError(t, err)

	_, err = c.Request(context.Background(), "/areas", RequestOptions{})
	require.NoError(t, err)
	second, err := c.Request(context.Background(), "/areas", RequestOptions{})
	require.NoError(t, err)

	assert.True(t, second.FromCache)
	assert.Equal(t, 1, doer.calls())
}

func TestRequestErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		code      string
		message   string
		retryable bool
	}{
		{"json error", http.StatusNotFound, `{"error":"not_found","message":"Program not found"}`, "not_found", "Program not found", false},
		{"plain text", http.StatusBadGateway, "upstream down\n", "", "upstream down", true},
		{"rate limited", http.StatusTooManyRequests, "", "", "", true},
		{"bad request", http.StatusBadRequest, `{"error":"bad_param"}`, "bad_param", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doer := &scriptedDoer{responses: []*http.Response{stubResponse(tt.status, tt.body, nil)}}
			rc := newTestCache()
			c, err := New("https://api.example.test", WithHTTPClient(doer), WithCache(rc))
			require.NoError(t, err)

			_, err = c.Request(context.Background(), "/programs/42", RequestOptions{})
			var re *RequestError
			require.ErrorAs(t, err, &re)
			assert.Equal(t, tt.status, re.Status)
			assert.Equal(t, tt.code, re.Code)
			assert.Equal(t, tt.message, re.Message)
			assert.Equal(t, tt.retryable, IsRetryable(err))
			assert.Contains(t, err.Error(), "GET /programs/42")
			assert.Equal(t, 1, doer.calls(), "no automatic retry")
			assert.Equal(t, 0, rc.Stats().MemoryEntries)
		})
	}
}

func TestTransportErrorIsRetryable(t *testing.T) {
	c, err := New("https://api.example.test", WithHTTPClient(DoerFunc(func(*http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	})))
	require.NoError(t, err)

	_, err = c.Request(context.Background(), "/stats", RequestOptions{})
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.True(t, IsRetryable(err))
}

func TestInvalidJSONIsNotCached(t *testing.T) {
	doer := &scriptedDoer{responses: []*http.Response{stubResponse(http.StatusOK, `<html>`, map[string]string{"ETag": `"x"`})}}
	rc := newTestCache()
	c, err := New("https://api.example.test", WithHTTPClient(doer), WithCache(rc))
	require.NoError(t, err)

	_, err = c.Request(context.Background(), "/stats", RequestOptions{})
	assert.ErrorIs(t, err, ErrInvalidJSON)
	assert.False(t, IsRetryable(err))
	assert.Equal(t, 0, rc.Stats().MemoryEntries)
}

func TestEmptySuccessBodyIsNull(t *testing.T) {
	doer := &scriptedDoer{responses: []*http.Response{stubResponse(http.StatusNoContent, "", nil)}}
	c, err := New("https://api.example.test", WithHTTPClient(doer))
	require.NoError(t, err)

	resp, err := c.Request(context.Background(), "/unsubscribe", RequestOptions{Method: http.MethodDelete})
	require.NoError(t, err)
	assert.Equal(t, "null", string(resp.Data))
}

// abortingBody fails partway through the read, as a cancelled transfer does.
type abortingBody struct{ read bool }

func (b *abortingBody) Read(p []byte) (int, error) {
	if b.read {
		return 0, context.Canceled
	}
	b.read = true
	return copy(p, `{"partial":`), nil
}

func (b *abortingBody) Close() error { return nil }

func TestAbortedResponseIsNotCached(t *testing.T) {
	rc := newTestCache()
	c, err := New("https://api.example.test", WithCache(rc), WithHTTPClient(DoerFunc(func(*http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusOK, Header: http.Header{"Etag": {`"v"`}}, Body: &abortingBody{}}, nil
	})))
	require.NoError(t, err)

	_, err = c.Request(context.Background(), "/programs", RequestOptions{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsRetryable(err))
	assert.Equal(t, 0, rc.Stats().MemoryEntries)
}

func TestCancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	rc := newTestCache()
	c, err := New(srv.URL, WithCache(rc))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.Request(ctx, "/programs", RequestOptions{})
	require.Error(t, err)
	assert.Equal(t, 0, rc.Stats().MemoryEntries)
}

func TestConcurrentIdenticalRequestsShareOneCall(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		<-release
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(`{"total_programs":3}`))
	}))
	defer srv.Close()

	c, err := New(srv.URL, WithCache(newTestCache()))
	require.NoError(t, err)

	const n = 8
	var wg sync.WaitGroup
	results := make([]*Response, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.Request(context.Background(), "/stats", RequestOptions{})
		}(i)
	}

	// Let every goroutine join the in-flight call before answering.
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.JSONEq(t, `{"total_programs":3}`, string(results[i].Data))
	}
}

func TestConcurrentRequestsWithDifferentHeadersAreNotShared(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		<-release
		_, _ = w.Write([]byte(`{"lang":"` + r.Header.Get("Accept-Language") + `"}`))
	}))
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)

	langs := []string{"es", "zh", "es"}
	var wg sync.WaitGroup
	results := make([]*Response, len(langs))
	errs := make([]error, len(langs))
	for i, lang := range langs {
		wg.Add(1)
		go func(i int, lang string) {
			defer wg.Done()
			results[i], errs[i] = c.Request(context.Background(), "/categories", RequestOptions{
				Headers: http.Header{"Accept-Language": {lang}},
			})
		}(i, lang)
	}

	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(2), calls.Load(), "one call per distinct header set")
	for i, lang := range langs {
		require.NoError(t, errs[i])
		assert.JSONEq(t, `{"lang":"`+lang+`"}`, string(results[i].Data))
	}
}

func TestWaiterOutlivesCancelledLeader(t *testing.T) {
	var calls atomic.Int32
	started := make(chan struct{}, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			started <- struct{}{}
			<-r.Context().Done()
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := c.Request(leaderCtx, "/areas", RequestOptions{})
		leaderErr <- err
	}()
	<-started

	waiter := make(chan *Response, 1)
	go func() {
		resp, err := c.Request(context.Background(), "/areas", RequestOptions{})
		if err != nil {
			t.Errorf("waiter: %v", err)
		}
		waiter <- resp
	}()
	time.Sleep(50 * time.Millisecond)
	cancelLeader()

	assert.Error(t, <-leaderErr)
	resp := <-waiter
	require.NotNil(t, resp)
	assert.JSONEq(t, `{"ok":true}`, string(resp.Data))
}
