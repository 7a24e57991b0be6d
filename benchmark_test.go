package wbcache

import (
	"context"
	"strconv"
	"testing"
)

// BenchmarkWriteIfCached measures the cost of the in-memory update path:
// lock, ApplyUpdate, collect. No storage I/O is on this path, so it
// isolates the access-layer overhead from the write-behind flush.
func BenchmarkWriteIfCached(b *testing.B) {
	storage := newFakeStorage()
	storage.data["key"] = "v"
	c := newTestCache(storage, WithMainQueueCacheTime(1_000_000_000))
	defer c.Shutdown(context.Background(), 0)

	if _, _, err := c.ReadFor(context.Background(), "key", 500); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := c.WriteIfCached("key", "x"); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkReadIfCached measures the cost of the fast, already-loaded read
// path (no latch wait, no storage call).
func BenchmarkReadIfCached(b *testing.B) {
	storage := newFakeStorage()
	storage.data["key"] = "v"
	c := newTestCache(storage, WithMainQueueCacheTime(1_000_000_000))
	defer c.Shutdown(context.Background(), 0)

	if _, _, err := c.ReadFor(context.Background(), "key", 500); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, _, err := c.ReadIfCached("key"); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkAdmitUniqueKeys measures admission throughput across distinct
// keys, exercising entryStore.fetchOrAdd's singleflight path once per key.
func BenchmarkAdmitUniqueKeys(b *testing.B) {
	storage := newFakeStorage()
	c := newTestCache(storage, WithMaxCacheElementsHardLimit(b.N+1), WithMainQueueCacheTime(1_000_000_000))
	defer c.Shutdown(context.Background(), 0)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := c.Preload(strconv.Itoa(i)); err != nil {
			b.Fatal(err)
		}
	}
}
