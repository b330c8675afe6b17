// Package cache provides an expiring key/value cache with an in-memory tier
// and an optional persistent tier, bounded by a write-ordered index.
package cache

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultTTL        = 5 * time.Minute
	DefaultMaxEntries = 100
	DefaultNamespace  = "baydir"
)

// Storage is the persistent tier. Implementations store UTF-8 string values
// by key; the cache does its own JSON encoding around them.
type Storage interface {
	// Get returns the stored value and true, or "" and false if the key is absent.
	Get(key string) (string, bool, error)
	Set(key, value string) error
	// Remove must not fail for an absent key.
	Remove(key string) error
}

// EvictionPolicy decides what "recent" means when the cache is over capacity.
type EvictionPolicy int

const (
	// EvictByWrite keeps the most recently written entries. Reads do not
	// refresh recency, so a hot but rarely rewritten key can be evicted.
	EvictByWrite EvictionPolicy = iota
	// EvictByAccess also refreshes recency on every successful Get.
	EvictByAccess
)

func (p EvictionPolicy) String() string {
	switch p {
	case EvictByAccess:
		return "lru-access"
	default:
		return "lru-write"
	}
}

// ParseEvictionPolicy accepts "lru-write" (or "") and "lru-access".
func ParseEvictionPolicy(s string) (EvictionPolicy, error) {
	switch s {
	case "", "lru-write", "write":
		return EvictByWrite, nil
	case "lru-access", "access":
		return EvictByAccess, nil
	default:
		return EvictByWrite, fmt.Errorf("unknown eviction policy %q", s)
	}
}

// Stats is a read-only snapshot of cache occupancy.
type Stats struct {
	MemoryEntries int           `json:"memory_entries"`
	StoredEntries int           `json:"stored_entries"`
	TTL           time.Duration `json:"-"`
	MaxEntries    int           `json:"max_entries"`
}

// MarshalJSON reports TTL in milliseconds.
func (s Stats) MarshalJSON() ([]byte, error) {
	type plain Stats
	return json.Marshal(struct {
		plain
		TTLMs int64 `json:"ttl_ms"`
	}{plain(s), s.TTL.Milliseconds()})
}

// Op names the cache operation during which a storage failure happened.
type Op string

const (
	OpGet    Op = "get"
	OpSet    Op = "set"
	OpRemove Op = "remove"
	OpClear  Op = "clear"
	OpIndex  Op = "index"
)

// IOError describes a persistent-tier failure. It never escapes the cache;
// it is only handed to the OnError hook and the logger.
type IOError struct {
	Op  Op
	Key string
	Err error
}

func (e *IOError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("cache %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("cache %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// Options configures a TTLCache. The zero value is a memory-only cache with
// the package defaults.
type Options struct {
	TTL            time.Duration
	MaxEntries     int
	Storage        Storage // optional
	Namespace      string
	EvictionPolicy EvictionPolicy
	Clock          func() time.Time
	Logger         *zerolog.Logger
	OnError        func(*IOError)
	Metrics        *Metrics
}

func (o *Options) init() {
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	if o.MaxEntries <= 0 {
		o.MaxEntries = DefaultMaxEntries
	}
	if o.Namespace == "" {
		o.Namespace = DefaultNamespace
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.Logger == nil {
		nop := zerolog.Nop()
		o.Logger = &nop
	}
}
