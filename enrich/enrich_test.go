package enrich

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/volarelabs/flightcast/log"
)

type fakeSource struct {
	mu       sync.Mutex
	fail     map[string]bool
	calls    int
	inflight int32
	peak     int32
}

func (s *fakeSource) FlightStatus(_ context.Context, key string) (*Status, error) {
	cur := atomic.AddInt32(&s.inflight, 1)
	defer atomic.AddInt32(&s.inflight, -1)
	for {
		peak := atomic.LoadInt32(&s.peak)
		if cur <= peak || atomic.CompareAndSwapInt32(&s.peak, peak, cur) {
			break
		}
	}
	time.Sleep(2 * time.Millisecond)

	s.mu.Lock()
	s.calls++
	failing := s.fail[key]
	s.mu.Unlock()

	if failing {
		return nil, errors.New("upstream 429")
	}
	return &Status{ScheduleKey: key, Status: "ontime"}, nil
}

func testLogger() *log.Logger {
	return log.NewDefaultLogger("enrich-test")
}

func openTestCache(t *testing.T) *KVStore {
	t.Helper()
	cache, err := OpenKVStore(t.TempDir()+"/cache", testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })
	return cache
}

func TestRefreshBoundedConcurrency(t *testing.T) {
	source := &fakeSource{}
	e := NewEnricher(source, nil, testLogger(), WithWorkers(4))

	keys := make([]string, 40)
	for i := range keys {
		keys[i] = fmt.Sprintf("VLR%03d", i)
	}
	out := e.Refresh(context.Background(), keys)
	require.Len(t, out, 40)
	require.LessOrEqual(t, source.peak, int32(4))
}

func TestWorkersClamped(t *testing.T) {
	e := NewEnricher(&fakeSource{}, nil, testLogger(), WithWorkers(1))
	require.Equal(t, minWorkers, e.workers)

	e = NewEnricher(&fakeSource{}, nil, testLogger(), WithWorkers(100))
	require.Equal(t, maxWorkers, e.workers)

	e = NewEnricher(&fakeSource{}, nil, testLogger())
	require.Equal(t, defaultWorkers, e.workers)
}

func TestRefreshFailureKeepsPriorValue(t *testing.T) {
	cache := openTestCache(t)
	source := &fakeSource{fail: map[string]bool{}}
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	e := NewEnricher(source, cache, testLogger(),
		WithTTL(time.Minute),
		WithClock(func() time.Time { return now }))

	out := e.Refresh(context.Background(), []string{"VLR001"})
	require.Equal(t, "ontime", out["VLR001"].Status)

	// Upstream starts failing after the cache entry goes stale; the
	// prior value must be kept, not nulled.
	source.mu.Lock()
	source.fail["VLR001"] = true
	source.mu.Unlock()
	now = now.Add(2 * time.Minute)

	out = e.Refresh(context.Background(), []string{"VLR001"})
	require.NotNil(t, out["VLR001"])
	require.Equal(t, "ontime", out["VLR001"].Status)
}

func TestRefreshFailureWithoutPriorValueOmitsKey(t *testing.T) {
	source := &fakeSource{fail: map[string]bool{"VLR404": true}}
	e := NewEnricher(source, nil, testLogger())

	out := e.Refresh(context.Background(), []string{"VLR404", "VLR001"})
	require.NotContains(t, out, "VLR404")
	require.Contains(t, out, "VLR001")
}

func TestRefreshUsesFreshCache(t *testing.T) {
	cache := openTestCache(t)
	source := &fakeSource{}
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	e := NewEnricher(source, cache, testLogger(),
		WithTTL(time.Minute),
		WithClock(func() time.Time { return now }))

	e.Refresh(context.Background(), []string{"VLR001"})
	e.Refresh(context.Background(), []string{"VLR001"})
	require.Equal(t, 1, source.calls)

	now = now.Add(2 * time.Minute)
	e.Refresh(context.Background(), []string{"VLR001"})
	require.Equal(t, 2, source.calls)
}
