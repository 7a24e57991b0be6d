// Command wbcachedemo exercises a write-behind cache over an in-memory
// "storage" backend standing in for a slow external store.
package main

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tempuscache/wbcache"
)

// memStorage is a toy StorageAdapter: keys and values are both strings,
// updates are appended suffixes, and every storage read and write sleeps
// briefly to stand in for network latency.
type memStorage struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemStorage() *memStorage {
	return &memStorage{data: make(map[string]string)}
}

func (m *memStorage) ReadFromStorage(ctx context.Context, key string, isRefresh bool) (string, error) {
	time.Sleep(10 * time.Millisecond)
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[key], nil
}

func (m *memStorage) WriteToStorage(ctx context.Context, key string, w string) error {
	time.Sleep(10 * time.Millisecond)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = w
	return nil
}

func (m *memStorage) ConvertToInternalUpdate(key string, update string) (string, error) {
	return update, nil
}

func (m *memStorage) ConvertToCacheFormatFromStorage(key string, r string) (string, error) {
	return r, nil
}

func (m *memStorage) ConvertFromCacheFormatToReturn(key string, s string) (string, error) {
	return s, nil
}

func (m *memStorage) ApplyUpdate(s string, update string) (string, error) {
	return s + update, nil
}

func (m *memStorage) SplitForWrite(key string, s string, previousFailedWrite *string) (string, string, bool) {
	if previousFailedWrite != nil {
		return s, *previousFailedWrite + s, true
	}
	return s, s, s != ""
}

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger()

	storage := newMemStorage()
	storage.data["greeting"] = "hello"

	c := wbcache.New[string, string, string, string, string, string, string](
		storage,
		wbcache.DefaultPolicy[string, string, string, string](),
		wbcache.WithLogger(logger),
		wbcache.WithMainQueueMaxTargetSize(100),
		wbcache.WithMainQueueCacheTime(500),
		wbcache.WithMaxSleepTime(50),
	)
	c.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = c.Shutdown(ctx, 2*time.Second)
	}()

	ctx := context.Background()

	v, found, err := c.ReadFor(ctx, "greeting", 1000)
	if err != nil {
		fmt.Println("read error:", err)
		return
	}
	fmt.Printf("greeting=%q found=%v\n", v, found)

	if _, err := c.WriteIfCached("greeting", " world"); err != nil {
		fmt.Println("write error:", err)
		return
	}

	time.Sleep(200 * time.Millisecond)
	stats := c.GetStatus(0)
	fmt.Printf("stats: hits=%d misses=%d writesOK=%d\n", stats.Hits, stats.Misses, stats.WritesOK)
}
