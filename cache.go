// cache.go
// --------
// RequestCache sits between the facade and the backends. It answers repeat
// reads from a time-boxed map, collapses identical concurrent calls into
// one backend call, and admits the remaining calls through the
// AdmissionQueue.
//
// Keys are "<functionName>:<blake2b-256 of the JSON params>", so every key
// starts with the function name that produced it.
package seatbridge

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/singleflight"
)

// CacheConfig configures a RequestCache.
type CacheConfig struct {
	TTL           time.Duration `yaml:"ttl" toml:"ttl"`
	MaxConcurrent int           `yaml:"max_concurrent" toml:"max_concurrent"`
}

// DefaultCacheConfig returns a 30s TTL and the default admission limit.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{TTL: 30 * time.Second, MaxConcurrent: DefaultMaxConcurrent}
}

// CacheEntry is one stored successful result.
type CacheEntry struct {
	Key       string
	Op        Operation
	Result    *Result
	Timestamp time.Time
}

// CallFunc performs the underlying backend call for Do.
type CallFunc func(ctx context.Context) *Result

type RequestCache struct {
	mu       sync.RWMutex
	entries  map[string]*CacheEntry
	inflight map[string]int
	gen      uint64 // bumped by every invalidation

	flight  singleflight.Group
	queue   *AdmissionQueue
	ttl     time.Duration
	now     func() time.Time
	metrics *Metrics
	logger  *slog.Logger

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// CacheOption customizes a RequestCache.
type CacheOption func(*RequestCache)

// WithCacheClock replaces time.Now for TTL decisions.
func WithCacheClock(now func() time.Time) CacheOption {
	return func(c *RequestCache) { c.now = now }
}

// WithCacheMetrics attaches metrics.
func WithCacheMetrics(m *Metrics) CacheOption {
	return func(c *RequestCache) { c.metrics = m }
}

// WithCacheLogger sets the logger.
func WithCacheLogger(l *slog.Logger) CacheOption {
	return func(c *RequestCache) { c.logger = l }
}

// withoutSweeper disables the background sweep goroutine.
func withoutSweeper() CacheOption {
	return func(c *RequestCache) { c.stop = nil }
}

// NewRequestCache builds the cache and starts its background sweep, which
// runs every TTL/2. Call Close to stop it.
func NewRequestCache(cfg CacheConfig, opts ...CacheOption) *RequestCache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultCacheConfig().TTL
	}
	c := &RequestCache{
		entries:  make(map[string]*CacheEntry),
		inflight: make(map[string]int),
		ttl:      cfg.TTL,
		now:      time.Now,
		logger:   slog.Default(),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.queue = NewAdmissionQueue(cfg.MaxConcurrent, c.metrics)
	c.logger = c.logger.With("component", "request_cache")
	if c.stop != nil {
		go c.sweepLoop(cfg.TTL / 2)
	} else {
		close(c.done)
	}
	return c
}

// CacheKey derives the cache key of an operation call.
func CacheKey(op Operation, params []any) (string, error) {
	if params == nil {
		params = []any{}
	}
	b, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("cache key for %s: %w", op, err)
	}
	sum := blake2b.Sum256(b)
	return op.FunctionName() + ":" + hex.EncodeToString(sum[:]), nil
}

// Do runs the call for req subject to the cache policy:
//
//  1. with useCache, a live entry is returned without calling fn;
//  2. an identical call already in flight is joined, never duplicated;
//  3. otherwise fn runs once a queue slot is free.
//
// Successful results populate the cache when useCache is set; successful
// mutations purge every entry that reads the state they invalidate.
// Cancelling ctx abandons the wait but not the shared call.
func (c *RequestCache) Do(ctx context.Context, req *RemoteCallRequest, useCache bool, fn CallFunc) *Result {
	key, err := CacheKey(req.Op, req.Params)
	if err != nil {
		return Failure(KindValidation, "%v", err)
	}
	cacheable := useCache && !req.Op.Mutating()

	if cacheable {
		if e, ok := c.Get(key); ok {
			c.metrics.cacheHit()
			c.logger.Debug("cache hit", "operation", req.Op.String())
			return e.Result.Clone()
		}
		c.metrics.cacheMiss()
	}

	c.mu.Lock()
	if c.inflight[key] > 0 {
		c.metrics.dedupJoin()
		c.logger.Debug("joining in-flight call", "operation", req.Op.String())
	}
	c.inflight[key]++
	startGen := c.gen
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		if c.inflight[key]--; c.inflight[key] <= 0 {
			delete(c.inflight, key)
		}
		c.mu.Unlock()
	}()

	shared := context.WithoutCancel(ctx)
	ch := c.flight.DoChan(key, func() (any, error) {
		return c.run(shared, req, key, cacheable, startGen, fn), nil
	})

	select {
	case r := <-ch:
		return r.Val.(*Result).Clone()
	case <-ctx.Done():
		return Failure(KindTimeout, "%s: caller gave up waiting: %v", req.Op, ctx.Err())
	}
}

func (c *RequestCache) run(ctx context.Context, req *RemoteCallRequest, key string, cacheable bool, startGen uint64, fn CallFunc) (res *Result) {
	release, err := c.queue.Acquire(ctx)
	if err != nil {
		return Failure(KindTimeout, "%s: waiting for admission: %v", req.Op, err)
	}
	defer release()

	defer func() {
		if p := recover(); p != nil {
			c.logger.Error("call panicked", "operation", req.Op.String(), "panic", p)
			res = Failure(KindException, "%s: %v", req.Op, p)
		}
	}()

	res = fn(ctx)
	if res == nil {
		return Failure(KindException, "%s: backend returned no result", req.Op)
	}
	if !res.Success {
		return res
	}
	if req.Op.Mutating() {
		c.Invalidate(req.Op.Invalidates()...)
	} else if cacheable {
		c.put(key, req.Op, res, startGen)
	}
	return res
}

// Get returns the live entry for key.
func (c *RequestCache) Get(key string) (*CacheEntry, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.now().Sub(e.Timestamp) >= c.ttl {
		c.mu.Lock()
		if cur, ok := c.entries[key]; ok && cur == e {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false
	}
	return e, true
}

// put stores res unless an invalidation happened after the call started,
// in which case the result may predate the mutation.
func (c *RequestCache) put(key string, op Operation, res *Result, startGen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != startGen {
		c.logger.Debug("skipping cache fill after concurrent invalidation", "operation", op.String())
		return
	}
	c.entries[key] = &CacheEntry{Key: key, Op: op, Result: res.Clone(), Timestamp: c.now()}
}

// Invalidate purges every entry whose operation reads one of tags and
// returns how many were removed.
func (c *RequestCache) Invalidate(tags ...Tag) int {
	if len(tags) == 0 {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	removed := 0
	for _, tag := range tags {
		n := 0
		for key, e := range c.entries {
			if e.Op.ReadsAny([]Tag{tag}) {
				delete(c.entries, key)
				n++
			}
		}
		c.metrics.invalidated(tag, n)
		removed += n
	}
	if removed > 0 {
		c.logger.Debug("invalidated cache entries", "tags", tags, "removed", removed)
	}
	return removed
}

// InvalidatePrefix purges every entry whose key starts with prefix, e.g. a
// function name.
func (c *RequestCache) InvalidatePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	removed := 0
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Clear drops every entry.
func (c *RequestCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.entries = make(map[string]*CacheEntry)
}

// Len is the number of stored entries, live or not yet swept.
func (c *RequestCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Pending is the number of distinct keys with a call in flight.
func (c *RequestCache) Pending() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.inflight)
}

// Queue exposes the admission queue for inspection.
func (c *RequestCache) Queue() *AdmissionQueue { return c.queue }

// sweep deletes every entry older than the TTL.
func (c *RequestCache) sweep() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for key, e := range c.entries {
		if now.Sub(e.Timestamp) >= c.ttl {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

func (c *RequestCache) sweepLoop(interval time.Duration) {
	defer close(c.done)
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			if n := c.sweep(); n > 0 {
				c.logger.Debug("swept expired entries", "removed", n)
			}
		}
	}
}

// Close stops the background sweep. It is safe to call more than once.
func (c *RequestCache) Close() {
	c.stopOnce.Do(func() {
		if c.stop != nil {
			close(c.stop)
		}
	})
	<-c.done
}
