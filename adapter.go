package wbcache

import "context"

/*
StorageAdapter is the caller-supplied SPI connecting the cache to whatever
slower external storage backs it. K is the key type; S is the cache's
internal value representation; R and W are the storage-side read and write
representations (often, but not necessarily, the same type as S); UExt and
UInt are the external and internal update representations a client's small
incremental writes are converted through; V is what reads return to callers.

Every method may be called concurrently for different keys, and
ApplyUpdate/SplitForWrite are called under the entry's write lock so they
must be fast and must not themselves call back into the cache.
*/
type StorageAdapter[K comparable, S any, R any, W any, UExt any, UInt any, V any] interface {
	// ReadFromStorage loads the current storage value for key. isRefresh
	// is true for a background resync read, false for an entry's initial
	// read; adapters may use it to pick a cheaper read path for resync.
	ReadFromStorage(ctx context.Context, key K, isRefresh bool) (R, error)

	// WriteToStorage persists w for key. At most one call per entry is in
	// flight at a time (WRITE_PENDING forbids a second concurrent write
	// for the same entry); a retried write task calls it again.
	WriteToStorage(ctx context.Context, key K, w W) error

	// ConvertToInternalUpdate turns a client-facing update into the
	// internal representation collected on the entry's pending-update
	// list and later replayed by ApplyUpdate.
	ConvertToInternalUpdate(key K, update UExt) (UInt, error)

	// ConvertToCacheFormatFromStorage turns a storage read result into
	// the cache's internal value representation.
	ConvertToCacheFormatFromStorage(key K, r R) (S, error)

	// ConvertFromCacheFormatToReturn turns the cache's internal value
	// representation into what read operations hand back to callers.
	ConvertFromCacheFormatToReturn(key K, s S) (V, error)

	// ApplyUpdate folds one internal update onto the current value. Must
	// be fast: it runs under the entry's write lock.
	ApplyUpdate(s S, update UInt) (S, error)

	// SplitForWrite is asked, at most once per main-queue cycle and only
	// when the entry is dirty or holds a previous failed write, to produce
	// the write-behind payload for the entry. previousFailedWrite is non-nil
	// when the last attempted write for this entry ended in
	// WRITE_FAILED_FINAL and the adapter is being asked to retry or merge
	// it with the current value. hasWrite=false means "nothing dirty,
	// skip the write this cycle".
	SplitForWrite(key K, s S, previousFailedWrite *W) (newCache S, write W, hasWrite bool)
}

// MergeWriteAdapter is an optional extension a StorageAdapter may also
// implement: when CanMergeWrites is configured true, the main-queue
// worker asks MergeFailedWrite to combine a previously failed write with
// the entry's current (possibly further-updated) value into one write,
// instead of re-emitting the stale failed write verbatim.
type MergeWriteAdapter[S any, W any] interface {
	MergeFailedWrite(previousFailedWrite W, current S) (write W, containsAllUpdates bool)
}
