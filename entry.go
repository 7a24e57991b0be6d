package wbcache

import (
	"sync"
	"sync/atomic"
)

// ReadStatus is the read half of an entry's two independent status fields
// (spec §3). REMOVED_FROM_CACHE is terminal: no transition leads out of it.
type ReadStatus int

const (
	ReadNotReadYet ReadStatus = iota
	ReadDataReady
	ReadDataReadyResyncPending
	ReadDataReadyResyncFailedFinal
	ReadFailedFinal
	ReadRemovedFromCache
)

func (s ReadStatus) String() string {
	switch s {
	case ReadNotReadYet:
		return "NOT_READ_YET"
	case ReadDataReady:
		return "DATA_READY"
	case ReadDataReadyResyncPending:
		return "DATA_READY_RESYNC_PENDING"
	case ReadDataReadyResyncFailedFinal:
		return "DATA_READY_RESYNC_FAILED_FINAL"
	case ReadFailedFinal:
		return "READ_FAILED_FINAL"
	case ReadRemovedFromCache:
		return "REMOVED_FROM_CACHE"
	default:
		return "UNKNOWN_READ_STATUS"
	}
}

// latchOpen reports whether this read status is one of the ones that must
// hold the access latch open (invariant 3).
func (s ReadStatus) latchOpen() bool {
	switch s {
	case ReadDataReady, ReadDataReadyResyncPending, ReadDataReadyResyncFailedFinal, ReadFailedFinal, ReadRemovedFromCache:
		return true
	default:
		return false
	}
}

// WriteStatus is the write half of an entry's status pair.
type WriteStatus int

const (
	WriteNoWriteRequestedYet WriteStatus = iota
	WritePending
	WriteSuccess
	WriteFailedFinal
	WriteRemovedFromCache
)

func (s WriteStatus) String() string {
	switch s {
	case WriteNoWriteRequestedYet:
		return "NO_WRITE_REQUESTED_YET"
	case WritePending:
		return "WRITE_PENDING"
	case WriteSuccess:
		return "WRITE_SUCCESS"
	case WriteFailedFinal:
		return "WRITE_FAILED_FINAL"
	case WriteRemovedFromCache:
		return "REMOVED_FROM_CACHE"
	default:
		return "UNKNOWN_WRITE_STATUS"
	}
}

// resetReason names why the collected-updates list was reset (spec §4.6).
type resetReason int

const (
	resetNewCacheEntryCreated resetReason = iota
	resetRemovedFromCache
	resetStorageDataMerged
	resetReadFailedFinalDecision
	resetIsMergePossibleException
	resetFullWriteSent
	resetReturnQueueDecision
	resetUpdateCollectException
)

func (r resetReason) String() string {
	switch r {
	case resetNewCacheEntryCreated:
		return "NO_WRITE_LOCK_NEW_CACHE_ENTRY_CREATED"
	case resetRemovedFromCache:
		return "REMOVED_FROM_CACHE"
	case resetStorageDataMerged:
		return "STORAGE_DATA_MERGED"
	case resetReadFailedFinalDecision:
		return "READ_FAILED_FINAL_DECISION"
	case resetIsMergePossibleException:
		return "IS_MERGE_POSSIBLE_EXCEPTION"
	case resetFullWriteSent:
		return "FULL_WRITE_SENT"
	case resetReturnQueueDecision:
		return "RETURN_QUEUE_DECISION"
	case resetUpdateCollectException:
		return "UPDATE_COLLECT_EXCEPTION"
	default:
		return "UNKNOWN_RESET_REASON"
	}
}

// internalQueue identifies which of the four queues currently (logically)
// holds an entry, for inQueueSince bookkeeping and logging.
type internalQueue int

const (
	queueNone internalQueue = iota
	queueRead
	queueMain
	queueWrite
	queueReturn
)

// latch is a one-shot, close-once gate. It starts closed (blocking) and
// opens exactly once; every waiter observes the open regardless of when it
// started waiting. This is the happens-before edge spec §5 requires: once
// opened by a successful initial read, every later RLock on the entry
// observes DATA_READY.
type latch struct {
	ch   chan struct{}
	once sync.Once
}

func newLatch() *latch {
	return &latch{ch: make(chan struct{})}
}

func (l *latch) open() {
	l.once.Do(func() { close(l.ch) })
}

func (l *latch) isOpen() bool {
	select {
	case <-l.ch:
		return true
	default:
		return false
	}
}

func (l *latch) done() <-chan struct{} { return l.ch }

// payload holds every mutable field of an entry (spec §3). It is read
// under the entry's read lock and mutated under the entry's write lock,
// except lastReadTimestamp which is additionally touchable under read
// lock via atomic operations (the "tagged volatile" field of §3/§5).
type payload[S any, W any, UInt any] struct {
	value S

	readStatus  ReadStatus
	writeStatus WriteStatus

	// lastReadTimestamp and lastWriteTimestamp are monotonic virtual
	// clocks whose sign carries meaning: positive means touched/dirty
	// since the last main-queue snapshot, negative means known-clean
	// after that snapshot. lastReadTimestamp is atomic so readers can
	// touch it while holding only the read lock.
	lastReadTimestamp  atomic.Int64
	lastWriteTimestamp int64

	inQueueSince          int64
	currentQueue          internalQueue
	lastSyncedWithStorage int64

	consecutiveReadFailures  int
	consecutiveWriteFailures int
	fullCycleFailures        int
	returnQueueRequeues      int
	fullCyclesCompleted      int

	collectUpdates bool
	updates        []UInt

	previousFailedWriteData *W
}

// Entry is one key's slot in the cache. It is exclusively owned by the
// entry store; every queue holds a non-owning reference that is only valid
// while the store still contains the key (invariant 2). An entry removed
// from the store transitions both statuses to REMOVED_FROM_CACHE and opens
// its latch; queues encountering that take the no-op branch.
type Entry[K comparable, S any, W any, UInt any] struct {
	Key K

	mu    sync.RWMutex
	latch *latch

	p payload[S, W, UInt]
}

// newEntry constructs a fresh entry for key at virtual time now, payload
// reset with the "new entry" reason, updates collection enabled.
func newEntry[K comparable, S any, W any, UInt any](key K, now int64) *Entry[K, S, W, UInt] {
	e := &Entry[K, S, W, UInt]{Key: key, latch: newLatch()}
	e.p.readStatus = ReadNotReadYet
	e.p.writeStatus = WriteNoWriteRequestedYet
	e.p.lastReadTimestamp.Store(now)
	e.p.lastWriteTimestamp = now
	e.p.inQueueSince = now
	e.p.collectUpdates = true
	e.p.updates = nil
	return e
}

// touchRead marks the entry as read-accessed at t (positive == dirty/touched
// since the last main-queue snapshot) under the read lock, matching the
// atomic/volatile tagging of lastReadTimestamp.
func (e *Entry[K, S, W, UInt]) touchRead(t int64) {
	e.p.lastReadTimestamp.Store(t)
}

// isRemoved reports whether the entry has already been killed (both
// statuses terminal). Callers must hold at least the read lock.
func (e *Entry[K, S, W, UInt]) isRemoved() bool {
	return e.p.readStatus == ReadRemovedFromCache && e.p.writeStatus == WriteRemovedFromCache
}

// kill is the second step of the two-step removal sequence (spec §3):
// called under the write lock, after the key has already been removed
// from the store, it marks both statuses terminal, nulls the update list,
// and opens the latch so no waiter blocks forever.
func (e *Entry[K, S, W, UInt]) kill() {
	e.p.readStatus = ReadRemovedFromCache
	e.p.writeStatus = WriteRemovedFromCache
	e.p.updates = nil
	e.p.collectUpdates = false
	e.p.previousFailedWriteData = nil
	e.latch.open()
}
