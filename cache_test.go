package wbcache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStorage is an in-memory StorageAdapter[string,...] standing in for
// a slower external store in tests, with hooks to inject read/write
// failures and record every storage write.
type fakeStorage struct {
	mu        sync.Mutex
	data      map[string]string
	readErr   map[string]error
	writeErr  map[string]error
	writeLog  []string
	readCalls int
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{data: make(map[string]string), readErr: map[string]error{}, writeErr: map[string]error{}}
}

func (f *fakeStorage) ReadFromStorage(_ context.Context, key string, _ bool) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readCalls++
	if err, ok := f.readErr[key]; ok {
		return "", err
	}
	return f.data[key], nil
}

func (f *fakeStorage) WriteToStorage(_ context.Context, key string, w string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.writeErr[key]; ok {
		return err
	}
	f.data[key] = w
	f.writeLog = append(f.writeLog, key+"="+w)
	return nil
}

func (f *fakeStorage) ConvertToInternalUpdate(_ string, u string) (string, error) { return u, nil }
func (f *fakeStorage) ConvertToCacheFormatFromStorage(_ string, r string) (string, error) {
	return r, nil
}
func (f *fakeStorage) ConvertFromCacheFormatToReturn(_ string, s string) (string, error) {
	return s, nil
}
func (f *fakeStorage) ApplyUpdate(s string, u string) (string, error) { return s + u, nil }
func (f *fakeStorage) SplitForWrite(_ string, s string, previousFailedWrite *string) (string, string, bool) {
	if previousFailedWrite != nil {
		return s, *previousFailedWrite, true
	}
	if s == "" {
		return s, s, false
	}
	return s, s, true
}

func (f *fakeStorage) get(key string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.data[key]
}

func newTestCache(storage *fakeStorage, opts ...Option) *Cache[string, string, string, string, string, string, string] {
	base := []Option{
		WithMaxSleepTime(5),
		WithMainQueueCacheTime(20),
		WithMainQueueCacheTimeMin(5),
		WithReturnQueueCacheTimeMin(0),
	}
	base = append(base, opts...)
	c := New[string, string, string, string, string, string, string](
		storage,
		DefaultPolicy[string, string, string, string](),
		base...,
	)
	c.Start()
	return c
}

func TestInitialLoadHappyPath(t *testing.T) {
	storage := newFakeStorage()
	storage.data["k"] = "v1"
	c := newTestCache(storage)
	defer c.Shutdown(context.Background(), time.Second)

	v, found, err := c.ReadFor(context.Background(), "k", 1000)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v1", v)
}

func TestWriteIfCachedIsFlushedToStorage(t *testing.T) {
	storage := newFakeStorage()
	storage.data["k"] = "base"
	c := newTestCache(storage, WithMainQueueCacheTime(10), WithMainQueueCacheTimeMin(5))
	defer c.Shutdown(context.Background(), time.Second)

	_, found, err := c.ReadFor(context.Background(), "k", 1000)
	require.NoError(t, err)
	require.True(t, found)

	found, err = c.WriteIfCached("k", "-upd")
	require.NoError(t, err)
	require.True(t, found)

	assert.Eventually(t, func() bool {
		return storage.get("k") == "base-upd"
	}, 2*time.Second, 5*time.Millisecond, "write-behind flush never reached storage")
}

func TestInitialReadFailureRemovesEntry(t *testing.T) {
	storage := newFakeStorage()
	storage.readErr["bad"] = errors.New("boom")
	c := newTestCache(storage, WithInitialReadFailedFinalAction(InitialReadFailedRemoveFromCache), WithReadFailureMaxRetryCount(0))
	defer c.Shutdown(context.Background(), time.Second)

	_, found, err := c.ReadFor(context.Background(), "bad", 500)
	assert.False(t, found)
	_ = err

	assert.Eventually(t, func() bool {
		_, ok := c.store.get("bad")
		return !ok
	}, time.Second, 5*time.Millisecond, "entry should eventually be removed after terminal read failure")
}

func TestBoundedUpdateCapacityTracksTooManyUpdates(t *testing.T) {
	storage := newFakeStorage()
	storage.data["k"] = "base"
	c := newTestCache(storage, WithMaxUpdatesToCollect(3), WithMainQueueCacheTime(10_000_000))
	defer c.Shutdown(context.Background(), time.Second)

	_, found, err := c.ReadFor(context.Background(), "k", 1000)
	require.NoError(t, err)
	require.True(t, found)

	for i := 0; i < 10; i++ {
		_, err := c.WriteIfCached("k", "x")
		require.NoError(t, err)
	}

	stats := c.GetStatus(0)
	assert.Greater(t, stats.TooManyUpdatesErrors, uint64(0))
}

func TestFlushDrainsUntouchedEntries(t *testing.T) {
	storage := newFakeStorage()
	storage.data["k"] = "v"
	c := newTestCache(storage,
		WithMainQueueCacheTime(5),
		WithMainQueueCacheTimeMin(5),
		WithReturnQueueCacheTimeMin(0),
		WithUntouchedItemCacheExpirationDelay(1),
	)
	defer c.Shutdown(context.Background(), time.Second)

	_, found, err := c.ReadFor(context.Background(), "k", 500)
	require.NoError(t, err)
	require.True(t, found)

	drained, err := c.Flush(context.Background(), 2*time.Second)
	require.NoError(t, err)
	assert.True(t, drained)
	assert.Equal(t, 0, c.store.mappingCount())
}

func TestHardSizeLimitRejectsAdmission(t *testing.T) {
	storage := newFakeStorage()
	storage.data["a"] = "1"
	storage.data["b"] = "2"
	c := newTestCache(storage, WithMaxCacheElementsHardLimit(1))
	defer c.Shutdown(context.Background(), time.Second)

	_, _, err := c.ReadFor(context.Background(), "a", 500)
	require.NoError(t, err)

	_, _, err = c.ReadFor(context.Background(), "b", 500)
	require.Error(t, err)
	var full *CacheFullError
	require.ErrorAs(t, err, &full)
}

func TestGetStatusMemoizesWithinMaxAge(t *testing.T) {
	storage := newFakeStorage()
	storage.data["k"] = "v"
	c := newTestCache(storage)
	defer c.Shutdown(context.Background(), time.Second)

	_, _, err := c.ReadFor(context.Background(), "k", 500)
	require.NoError(t, err)

	first := c.GetStatus(10_000)
	_, _, _ = c.ReadFor(context.Background(), "k", 500)
	second := c.GetStatus(10_000)
	assert.Equal(t, first, second)
}

func TestShutdownStopsAcceptingNewOperations(t *testing.T) {
	storage := newFakeStorage()
	c := newTestCache(storage)

	require.NoError(t, c.Shutdown(context.Background(), time.Second))
	assert.Equal(t, StateShutdownCompleted, c.GetControlState())

	_, _, err := c.ReadFor(context.Background(), "k", 100)
	require.Error(t, err)
	var cse *ControlStateError
	require.ErrorAs(t, err, &cse)
}
