// Package enrich refreshes batch schedule items with live flight data.
// Third-party aviation APIs stay behind the Source interface; this
// package only supplies the bounded concurrency, caching, and the
// keep-last-known-value failure policy around them.
package enrich

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/volarelabs/flightcast/log"
)

const moduleName = "enrich"

const (
	// Worker pool bounds for rate-limited upstream sources.
	minWorkers     = 4
	maxWorkers     = 8
	defaultWorkers = 6

	defaultTTL = 10 * time.Minute
)

// Status is the enriched view of one schedule item.
type Status struct {
	ScheduleKey     string    `json:"schedule_key"`
	Status          string    `json:"status"`
	DepartureDelayM int       `json:"departure_delay_min"`
	ArrivalDelayM   int       `json:"arrival_delay_min"`
	FetchedAt       time.Time `json:"fetched_at"`
}

// Source fetches live status for a schedule item from a third-party
// aviation API.
type Source interface {
	FlightStatus(ctx context.Context, scheduleKey string) (*Status, error)
}

// Enricher refreshes schedule items through a bounded worker pool,
// caching responses and keeping prior known values on failure.
type Enricher struct {
	source  Source
	cache   *KVStore
	workers int
	ttl     time.Duration
	logger  *log.Logger
	now     func() time.Time
}

// Option configures an Enricher.
type Option func(*Enricher)

// WithWorkers sets the pool size, clamped to [4, 8].
func WithWorkers(n int) Option {
	return func(e *Enricher) {
		if n < minWorkers {
			n = minWorkers
		}
		if n > maxWorkers {
			n = maxWorkers
		}
		e.workers = n
	}
}

// WithTTL sets the cache freshness window.
func WithTTL(ttl time.Duration) Option {
	return func(e *Enricher) { e.ttl = ttl }
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Enricher) { e.now = now }
}

// NewEnricher creates an enricher. cache may be nil to disable caching.
func NewEnricher(source Source, cache *KVStore, logger *log.Logger, opts ...Option) *Enricher {
	e := &Enricher{
		source:  source,
		cache:   cache,
		workers: defaultWorkers,
		ttl:     defaultTTL,
		logger:  logger.WithModule(moduleName),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Refresh fetches status for the given schedule keys. Upstream failures
// leave prior known values untouched: a key that fails resolves to its
// cached value if one exists, and is otherwise absent from the result.
// Refresh never fails as a whole on per-key errors.
func (e *Enricher) Refresh(ctx context.Context, keys []string) map[string]*Status {
	var (
		mu  sync.Mutex
		out = make(map[string]*Status, len(keys))
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for _, key := range keys {
		key := key
		g.Go(func() error {
			status := e.refreshOne(ctx, key)
			if status != nil {
				mu.Lock()
				out[key] = status
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (e *Enricher) refreshOne(ctx context.Context, key string) *Status {
	if cached := e.cachedStatus(key); cached != nil && e.now().Sub(cached.FetchedAt) < e.ttl {
		return cached
	}

	status, err := e.source.FlightStatus(ctx, key)
	if err != nil {
		e.logger.Warn("flight status fetch failed; keeping prior value",
			"schedule_key", key,
			"err", err,
		)
		return e.cachedStatus(key)
	}
	status.FetchedAt = e.now().UTC()
	e.storeStatus(key, status)
	return status
}

func (e *Enricher) cachedStatus(key string) *Status {
	if e.cache == nil {
		return nil
	}
	b, err := e.cache.Get([]byte(key))
	if err != nil || b == nil {
		return nil
	}
	var status Status
	if err := json.Unmarshal(b, &status); err != nil {
		e.logger.Warn("dropping undecodable cache entry", "schedule_key", key, "err", err)
		return nil
	}
	return &status
}

func (e *Enricher) storeStatus(key string, status *Status) {
	if e.cache == nil {
		return
	}
	b, err := json.Marshal(status)
	if err != nil {
		return
	}
	if err := e.cache.Put([]byte(key), b); err != nil {
		e.logger.Warn("cache write failed", "schedule_key", key, "err", err)
	}
}
