package wbcache

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// runMainQueueWorker is the main-queue worker of spec §4.3: for each
// entry, paces itself to MainQueueCacheTime since the entry's last cycle
// (skipping the wait while flushing/shutting down or while the store is
// over its soft target), merges the independent read/write ratings by
// worst outcome, and acts on the merged rating.
func (c *Cache[K, S, R, W, UExt, UInt, V]) runMainQueueWorker(ctx context.Context) {
	defer c.wg.Done()
	for {
		e, ok := c.mainQueue.Take(ctx)
		if !ok {
			return
		}
		if err := c.waitForMainQueueTurn(ctx, e); err != nil {
			return
		}
		c.processMainQueueEntry(e)
	}
}

// waitForMainQueueTurn blocks, in MaxSleepTime chunks, until the entry's
// cache-time window has elapsed, or returns immediately if the cache is
// draining or the store is over its soft target (spec §4.3 step 1).
func (c *Cache[K, S, R, W, UExt, UInt, V]) waitForMainQueueTurn(ctx context.Context, e *Entry[K, S, W, UInt]) error {
	if c.draining() || c.store.overTarget() {
		return nil
	}
	e.mu.RLock()
	since := e.p.inQueueSince
	e.mu.RUnlock()

	cacheTime := c.cfg.MainQueueCacheTime
	if cacheTime < c.cfg.MainQueueCacheTimeMin {
		cacheTime = c.cfg.MainQueueCacheTimeMin
	}
	deadline := c.clock.Add(since, cacheTime)

	for {
		if c.draining() || c.store.overTarget() {
			return nil
		}
		gap := c.clock.Gap(c.now(), deadline)
		if gap <= 0 {
			return nil
		}
		chunk := c.cfg.MaxSleepTime
		if chunk <= 0 || chunk > gap {
			chunk = gap
		}
		select {
		case <-time.After(c.clock.RealInterval(chunk)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Cache[K, S, R, W, UExt, UInt, V]) processMainQueueEntry(e *Entry[K, S, W, UInt]) {
	key := e.Key
	e.mu.Lock()
	if e.isRemoved() {
		e.mu.Unlock()
		return
	}

	now := c.now()
	readRating := c.policy.MainQueueReadRating(e, &c.cfg)
	writeRating := c.policy.MainQueueWriteRating(e, &c.cfg)
	rating := worstRating(readRating, writeRating)

	switch rating {
	case RatingRemoveFromCache:
		e.mu.Unlock()
		c.twoStepRemove(key, e, false)
	case RatingExpireFromCache:
		// already removed on the read or write side; the main queue is
		// just catching up on a stale entry. No stats double-count.
		e.mu.Unlock()
	case RatingMainQueue:
		e.p.currentQueue = queueMain
		e.p.inQueueSince = now
		e.mu.Unlock()
		c.mainQueue.Put(e)
	case RatingReturnQueueKeepFullCycleFailureCount:
		e.p.fullCycleFailures++
		c.enqueueReturn(e, now)
		e.mu.Unlock()
	case RatingReturnQueueNoWrite:
		c.enqueueReturn(e, now)
		e.mu.Unlock()
	case RatingReturnQueue:
		c.attemptWrite(key, e, now)
		e.p.fullCycleFailures = 0
		e.p.fullCyclesCompleted++
		c.enqueueReturn(e, now)
		e.mu.Unlock()
	default:
		e.mu.Unlock()
	}
}

// enqueueReturn moves e to the return queue, snapshotting
// lastReadTimestamp by negating it so the return-queue worker can later
// tell whether a read touched the entry after this point (see
// itemAccessInfo). Must be called under the entry's write lock.
func (c *Cache[K, S, R, W, UExt, UInt, V]) enqueueReturn(e *Entry[K, S, W, UInt], now int64) {
	if v := e.p.lastReadTimestamp.Load(); v > 0 {
		e.p.lastReadTimestamp.Store(-v)
	}
	e.p.currentQueue = queueReturn
	e.p.inQueueSince = now
	c.returnQueue.Put(e)
}

// attemptWrite asks the storage adapter to split off this cycle's
// write-behind payload and, if one is produced, enqueues it to the write
// queue (spec §4.3, §4.4). With no prior failed write and nothing dirty
// since the last write (lastWriteTimestamp already marked clean), the
// adapter isn't even asked — there is nothing for it to split off. Must
// be called under the entry's write lock.
func (c *Cache[K, S, R, W, UExt, UInt, V]) attemptWrite(key K, e *Entry[K, S, W, UInt], now int64) {
	if e.p.previousFailedWriteData == nil && e.p.lastWriteTimestamp <= 0 {
		return
	}

	var data W
	var newCache S
	var hasWrite, containsAllUpdates bool

	if e.p.previousFailedWriteData != nil && c.cfg.CanMergeWrites && c.merger != nil {
		write, mergedAll := c.merger.MergeFailedWrite(*e.p.previousFailedWriteData, e.p.value)
		data = write
		newCache = e.p.value
		hasWrite = true
		containsAllUpdates = mergedAll
	} else {
		newCache, data, hasWrite = c.adapter.SplitForWrite(key, e.p.value, e.p.previousFailedWriteData)
		containsAllUpdates = hasWrite
	}

	if !hasWrite {
		return
	}
	if containsAllUpdates {
		resetUpdates(e, resetFullWriteSent, true)
	}

	e.p.value = newCache
	e.p.writeStatus = WritePending
	e.p.previousFailedWriteData = nil
	if containsAllUpdates && e.p.lastWriteTimestamp > 0 {
		e.p.lastWriteTimestamp = -e.p.lastWriteTimestamp
	}

	c.writeQueue.Put(&writeTask[K, S, W, UInt]{
		key:   key,
		entry: e,
		data:  data,
		id:    uuid.New(),
	})
}
