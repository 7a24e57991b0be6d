package wbcache

import (
	"context"
	"math"
	"time"
)

// runReturnQueueWorker is the return-queue worker of spec §4.5: paces
// itself to ReturnQueueCacheTimeMin, computes whether the entry has been
// touched since its main-queue cycle and for how long it hasn't, and acts
// on the return-queue decision SPI.
func (c *Cache[K, S, R, W, UExt, UInt, V]) runReturnQueueWorker(ctx context.Context) {
	defer c.wg.Done()
	for {
		e, ok := c.returnQueue.Take(ctx)
		if !ok {
			return
		}
		if err := c.waitForReturnQueueTurn(ctx, e); err != nil {
			return
		}
		c.processReturnQueueEntry(e)
	}
}

func (c *Cache[K, S, R, W, UExt, UInt, V]) waitForReturnQueueTurn(ctx context.Context, e *Entry[K, S, W, UInt]) error {
	if c.draining() {
		return nil
	}
	e.mu.RLock()
	since := e.p.inQueueSince
	e.mu.RUnlock()
	deadline := c.clock.Add(since, c.cfg.ReturnQueueCacheTimeMin)

	for {
		if c.draining() {
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

// itemAccessInfo reports whether e has been read- or write-touched since
// it was last snapshotted by the main queue, and if not, for how long
// (spec §4.5 step 3: itemHadAccessSinceMainQueue = (lastRead > 0) OR
// (lastWrite > 0)). The sign of lastReadTimestamp/lastWriteTimestamp
// carries that snapshot (see enqueueReturn): positive means touched
// since, negative means clean-as-of-abs(value). When neither side was
// touched, untouchedMs is the shorter of the two gaps, since that is the
// more recent activity. A negative computed gap (clock skew, or a virtual
// clock rewound under test) is logged and clamped to "untouched for
// effectively forever" rather than silently treated as "just touched".
func (c *Cache[K, S, R, W, UExt, UInt, V]) itemAccessInfo(e *Entry[K, S, W, UInt], now int64) (hadAccess bool, untouchedMs int64) {
	readTouched, readGap := c.accessGap(e.p.lastReadTimestamp.Load(), now)
	writeTouched, writeGap := c.accessGap(e.p.lastWriteTimestamp, now)
	if readTouched || writeTouched {
		return true, 0
	}
	if writeGap < readGap {
		return false, writeGap
	}
	return false, readGap
}

// accessGap interprets one sign-tagged timestamp field (lastReadTimestamp
// or lastWriteTimestamp): positive means touched since the last
// main-queue snapshot, negative means clean as of abs(v).
func (c *Cache[K, S, R, W, UExt, UInt, V]) accessGap(v int64, now int64) (touched bool, gapMs int64) {
	if v > 0 {
		return true, 0
	}
	gap := c.clock.Gap(-v, now)
	if gap < 0 {
		c.cfg.Logger.Warn().Int64("computed_gap_ms", gap).Msg("itemUntouchedMs computed negative; clamping to unbounded")
		gap = math.MaxInt64
	}
	return false, gap
}

func (c *Cache[K, S, R, W, UExt, UInt, V]) processReturnQueueEntry(e *Entry[K, S, W, UInt]) {
	key := e.Key
	e.mu.Lock()
	if e.isRemoved() {
		e.mu.Unlock()
		return
	}

	now := c.now()
	hadAccess, untouchedMs := c.itemAccessInfo(e, now)
	mainQueueSize := c.mainQueue.Len()
	action, urgent := c.policy.ReturnQueueDecision(e, &c.cfg, hadAccess, untouchedMs, mainQueueSize)

	switch action {
	case ReturnMainQueuePlusResync:
		e.p.readStatus = ReadDataReadyResyncPending
		e.p.returnQueueRequeues = 0
		resetUpdates(e, resetReturnQueueDecision, true)
		e.p.currentQueue = queueMain
		e.p.inQueueSince = c.backdateIfUrgent(now, urgent, c.cfg.MainQueueCacheTime)
		c.mainQueue.Put(e)
		e.p.currentQueue = queueRead
		c.readQueue.Put(e)
		e.mu.Unlock()

	case ReturnMainQueueNoResync:
		e.p.returnQueueRequeues = 0
		e.p.currentQueue = queueMain
		e.p.inQueueSince = c.backdateIfUrgent(now, urgent, c.cfg.MainQueueCacheTime)
		c.mainQueue.Put(e)
		e.mu.Unlock()

	case ReturnExpireFromCache:
		c.stats.bucketTimeSinceAccess(untouchedMs, c.cfg.TimeSinceAccessThresholdsMs)
		e.mu.Unlock()
		c.twoStepRemove(key, e, true)

	case ReturnReturnQueueAgain:
		e.p.returnQueueRequeues++
		c.stats.returnQueueRecycle()
		e.p.currentQueue = queueReturn
		e.p.inQueueSince = c.backdateIfUrgent(now, urgent, c.cfg.ReturnQueueCacheTimeMin)
		c.returnQueue.Put(e)
		e.mu.Unlock()

	case ReturnRemoveFromCache:
		e.mu.Unlock()
		c.twoStepRemove(key, e, false)

	case ReturnDoNothing:
		c.cfg.Logger.Warn().Interface("key", key).Msg("return queue decision: DO_NOTHING")
		e.mu.Unlock()
	}
}

// backdateIfUrgent returns now unchanged, or now shifted back by window,
// when urgent is set: backdating inQueueSince makes the destination
// queue's pacing wait (waitForMainQueueTurn/waitForReturnQueueTurn) see
// an already-elapsed window, so the entry is reconsidered on the worker's
// next pass instead of waiting out a full fresh window.
func (c *Cache[K, S, R, W, UExt, UInt, V]) backdateIfUrgent(now int64, urgent bool, window int64) int64 {
	if !urgent || window <= 0 {
		return now
	}
	return now - window
}
