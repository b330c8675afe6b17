// Package translate batches UI strings through the translation endpoint and
// caches each batch by its contents and target language.
package translate

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/briangreenhill/baydirectory/cache"
	"github.com/briangreenhill/baydirectory/pkg/directory"
)

const (
	DefaultEndpoint = "/translate"
	DefaultTTL      = 7 * 24 * time.Hour
)

type Request struct {
	Texts      []string `json:"texts"`
	TargetLang string   `json:"targetLang"`
	SourceLang string   `json:"sourceLang,omitempty"`
}

type Result struct {
	Translations []string `json:"translations"`
	FromCache    bool     `json:"fromCache"`
}

// ValidationError is returned for a request that was never sent.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid translation request: %s %s", e.Field, e.Reason)
}

// CountMismatchError means the endpoint returned a different number of
// translations than texts sent.
type CountMismatchError struct {
	Sent, Got int
}

func (e *CountMismatchError) Error() string {
	return fmt.Sprintf("translation count mismatch: sent %d texts, got %d", e.Sent, e.Got)
}

type Translator struct {
	client   *directory.Client
	endpoint string
	cache    *cache.TTLCache[[]string]
	ttl      time.Duration
	log      zerolog.Logger
	flight   singleflight.Group
}

type Option func(*Translator)

func WithEndpoint(p string) Option {
	return func(t *Translator) { t.endpoint = p }
}

func WithCache(c *cache.TTLCache[[]string]) Option {
	return func(t *Translator) { t.cache = c }
}

// WithTTL sets how long a translated batch stays cached.
func WithTTL(d time.Duration) Option {
	return func(t *Translator) { t.ttl = d }
}

func WithLogger(l zerolog.Logger) Option {
	return func(t *Translator) { t.log = l }
}

func New(client *directory.Client, opts ...Option) *Translator {
	t := &Translator{
		client:   client,
		endpoint: DefaultEndpoint,
		ttl:      DefaultTTL,
		log:      zerolog.Nop(),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// TranslateTexts translates req.Texts into req.TargetLang, in order.
func (t *Translator) TranslateTexts(ctx context.Context, req Request) (*Result, error) {
	if len(req.Texts) == 0 {
		return nil, &ValidationError{Field: "texts", Reason: "must not be empty"}
	}
	if req.TargetLang == "" {
		return nil, &ValidationError{Field: "targetLang", Reason: "is required"}
	}

	key := Key(req)
	if t.cache != nil {
		if cached, ok := t.cache.Get(key); ok {
			t.log.Debug().Str("key", key).Int("texts", len(cached)).Msg("translation cache hit")
			return &Result{Translations: cloneStrings(cached), FromCache: true}, nil
		}
	}

	ch := t.flight.DoChan(key, func() (any, error) {
		return t.fetch(ctx, key, req)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			// Whoever started the shared call gave up; this caller has not.
			if res.Shared && isContextErr(res.Err) && ctx.Err() == nil {
				out, err := t.fetch(ctx, key, req)
				if err != nil {
					return nil, err
				}
				return &Result{Translations: cloneStrings(out)}, nil
			}
			return nil, res.Err
		}
		return &Result{Translations: cloneStrings(res.Val.([]string))}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *Translator) fetch(ctx context.Context, key string, req Request) ([]string, error) {
	resp, err := t.client.Request(ctx, t.endpoint, directory.RequestOptions{
		Method: http.MethodPost,
		Body:   req,
	})
	if err != nil {
		return nil, err
	}
	var out struct {
		Translations []string `json:"translations"`
	}
	if err := resp.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode translations: %w", err)
	}
	if len(out.Translations) != len(req.Texts) {
		return nil, &CountMismatchError{Sent: len(req.Texts), Got: len(out.Translations)}
	}
	if t.cache != nil {
		t.cache.Set(key, out.Translations, t.ttl)
	}
	t.log.Debug().Str("key", key).Str("lang", req.TargetLang).Int("texts", len(req.Texts)).Msg("translated")
	return out.Translations, nil
}

// Key is the cache key for req: translation:{targetLang}:{hash}. Each text
// is length-prefixed so ["ab","c"] and ["a","bc"] hash differently.
func Key(req Request) string {
	h := sha256.New()
	var n [8]byte
	write := func(s string) {
		binary.BigEndian.PutUint64(n[:], uint64(len(s)))
		h.Write(n[:])
		h.Write([]byte(s))
	}
	binary.BigEndian.PutUint64(n[:], uint64(len(req.Texts)))
	h.Write(n[:])
	for _, s := range req.Texts {
		write(s)
	}
	write(req.SourceLang)
	return "translation:" + req.TargetLang + ":" + hex.EncodeToString(h.Sum(nil)[:16])
}

func cloneStrings(s []string) []string {
	return append([]string(nil), s...)
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
