package cache

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var errRedisDown = errors.New("redis unreachable")

const maxProbeInterval = 30 * time.Second

type RedisStorageOpts struct {
	// Client cannot be nil.
	Client redis.Cmdable

	// ClientCloser closes Client when RedisStorage.Close is called.
	// Optional.
	ClientCloser io.Closer

	// ClientTimeout bounds each read and write. Default is 100ms.
	ClientTimeout time.Duration

	// Expiration is passed to SET so Redis can reclaim entries the cache
	// never gets around to evicting. Zero means no expiration.
	Expiration time.Duration

	// ProbeInterval is the first wait between health pings while Redis is
	// down. It doubles up to 30s. Default is 250ms.
	ProbeInterval time.Duration

	// A nil Logger disables logging.
	Logger *zerolog.Logger
}

func (opts *RedisStorageOpts) init() error {
	if opts.Client == nil {
		return errors.New("nil client")
	}
	if opts.ClientTimeout <= 0 {
		opts.ClientTimeout = 100 * time.Millisecond
	}
	if opts.ProbeInterval <= 0 {
		opts.ProbeInterval = 250 * time.Millisecond
	}
	if opts.Logger == nil {
		nop := zerolog.Nop()
		opts.Logger = &nop
	}
	return nil
}

// RedisStorage implements Storage on Redis. When a call fails the storage
// is marked down: later calls fail fast with no network traffic while a
// background probe pings the server, and the first successful ping brings
// it back. Close stops the probe.
type RedisStorage struct {
	opts RedisStorageOpts
	down atomic.Bool

	stop     chan struct{}
	stopOnce sync.Once
}

func NewRedisStorage(opts RedisStorageOpts) (*RedisStorage, error) {
	if err := opts.init(); err != nil {
		return nil, err
	}
	return &RedisStorage{opts: opts, stop: make(chan struct{})}, nil
}

func (r *RedisStorage) markDown(cause error) {
	if !r.down.CompareAndSwap(false, true) {
		return
	}
	r.opts.Logger.Warn().Err(cause).Msg("redis unreachable, cache storage paused")
	go r.probe()
}

func (r *RedisStorage) probe() {
	wait := r.opts.ProbeInterval
	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-timer.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*r.opts.ClientTimeout)
		err := r.opts.Client.Ping(ctx).Err()
		cancel()
		if err == nil {
			r.down.Store(false)
			r.opts.Logger.Info().Msg("redis reachable, cache storage resumed")
			return
		}
		wait = min(2*wait, maxProbeInterval)
		r.opts.Logger.Debug().Err(err).Dur("retry_in", wait).Msg("redis ping failed")
		timer.Reset(wait)
	}
}

func (r *RedisStorage) Get(key string) (string, bool, error) {
	if r.down.Load() {
		return "", false, errRedisDown
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.opts.ClientTimeout)
	defer cancel()
	v, err := r.opts.Client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		r.markDown(err)
		return "", false, err
	}
	return v, true, nil
}

func (r *RedisStorage) Set(key, value string) error {
	if r.down.Load() {
		return errRedisDown
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.opts.ClientTimeout)
	defer cancel()
	if err := r.opts.Client.Set(ctx, key, value, r.opts.Expiration).Err(); err != nil {
		r.markDown(err)
		return err
	}
	return nil
}

func (r *RedisStorage) Remove(key string) error {
	if r.down.Load() {
		return errRedisDown
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.opts.ClientTimeout)
	defer cancel()
	if err := r.opts.Client.Del(ctx, key).Err(); err != nil {
		r.markDown(err)
		return err
	}
	return nil
}

// Close stops any running probe and closes the redis client.
func (r *RedisStorage) Close() error {
	r.stopOnce.Do(func() { close(r.stop) })
	if f := r.opts.ClientCloser; f != nil {
		return f.Close()
	}
	return nil
}
