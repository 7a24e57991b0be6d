package wbcache

import "context"

// ReadBatchHook is an optional StorageAdapter extension: when implemented,
// the read-queue worker calls ReadBatchDelayExpired once a batching window
// closes, so adapters can flush whatever I/O they batched up internally
// (spec §4.2).
type ReadBatchHook interface {
	ReadBatchDelayExpired()
}

// runReadQueueWorker is the read-queue worker of spec §4.2: pulls one
// entry, optionally batches by polling for ReadQueueBatchingDelay, decides
// INITIAL_READ/REFRESH_READ/DO_NOTHING/SET_FINAL_FAILED_READ_STATUS from
// the entry's read status, and dispatches the storage read either inline
// or to the bounded read pool.
func (c *Cache[K, S, R, W, UExt, UInt, V]) runReadQueueWorker(ctx context.Context) {
	defer c.wg.Done()
	for {
		e, ok := c.readQueue.Take(ctx)
		if !ok {
			return
		}
		c.processReadEntry(ctx, e)

		if c.cfg.ReadQueueBatchingDelay > 0 {
			deadline := c.clock.Add(c.now(), c.cfg.ReadQueueBatchingDelay)
			for c.clock.Gap(c.now(), deadline) > 0 {
				next, ok := c.readQueue.TryTake()
				if !ok {
					break
				}
				c.processReadEntry(ctx, next)
			}
			if hook, ok := c.adapter.(ReadBatchHook); ok {
				hook.ReadBatchDelayExpired()
			}
		}
	}
}

func (c *Cache[K, S, R, W, UExt, UInt, V]) processReadEntry(ctx context.Context, e *Entry[K, S, W, UInt]) {
	e.mu.RLock()
	if e.isRemoved() {
		e.mu.RUnlock()
		return
	}
	action := c.policy.ReadQueueAction(e)
	key := e.Key
	e.mu.RUnlock()

	switch action {
	case ReadQueueDoNothing:
		c.cfg.Logger.Warn().Interface("key", key).Msg("read queue: unexpected read status")
		return
	case ReadQueueSetFinalFailedReadStatus:
		e.mu.Lock()
		c.finalizeReadFailure(e, key)
		e.mu.Unlock()
		return
	}

	isRefresh := action == ReadQueueRefreshRead
	e.mu.RLock()
	dispatchedStatus := e.p.readStatus
	e.mu.RUnlock()

	err := c.readPool.Submit(ctx, func() {
		r, rerr := c.adapter.ReadFromStorage(ctx, key, isRefresh)
		if rerr != nil {
			c.handleReadFailure(e, key, dispatchedStatus, rerr)
			return
		}
		c.handleReadSuccess(e, key, dispatchedStatus, r, isRefresh)
	})
	if err != nil {
		e.mu.Lock()
		e.p.readStatus = ReadFailedFinal
		e.latch.open()
		e.mu.Unlock()
		c.stats.readFailure()
	}
}

// handleReadSuccess is the read-success handler of spec §4.2, run under
// the entry's write lock. dispatchedStatus is the entry's read status at
// the moment this read was dispatched to the storage adapter; if the
// entry has since moved to a different status (a recycle through the
// return queue, a concurrent removal) the completion is "out of order"
// and, unless Config.AcceptOutOfOrderReads is set, is logged and dropped
// without mutating value/status (spec §9 Open Question).
func (c *Cache[K, S, R, W, UExt, UInt, V]) handleReadSuccess(e *Entry[K, S, W, UInt], key K, dispatchedStatus ReadStatus, r R, isRefresh bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.isRemoved() {
		return
	}
	if e.p.readStatus != dispatchedStatus && !c.cfg.AcceptOutOfOrderReads {
		c.cfg.Logger.Warn().Interface("key", key).
			Str("dispatched_status", dispatchedStatus.String()).
			Str("current_status", e.p.readStatus.String()).
			Msg("out-of-order read completion dropped")
		return
	}
	wasResyncLeg := e.p.readStatus == ReadDataReadyResyncPending || e.p.readStatus == ReadDataReadyResyncFailedFinal
	decision := c.policy.MergeDecision(e, &c.cfg, isRefresh)
	if wasResyncLeg && decision != MergeMergeData {
		// the default policy only falls through to a non-merge outcome
		// once the merge window has closed; see defaultMergeDecision.
		c.stats.resyncTooLateCount()
	}

	switch decision {
	case MergeSetDirectly:
		cacheVal, err := c.adapter.ConvertToCacheFormatFromStorage(key, r)
		if err != nil {
			c.failReadUnderLock(e, key, err)
			return
		}
		e.p.value = cacheVal
		resetUpdates(e, resetStorageDataMerged, true)
		e.p.readStatus = ReadDataReady
		e.latch.open()
		e.p.consecutiveReadFailures = 0
		e.p.lastSyncedWithStorage = c.now()
		c.stats.readOK()
	case MergeMergeData:
		cacheVal, err := c.adapter.ConvertToCacheFormatFromStorage(key, r)
		if err != nil {
			c.failReadUnderLock(e, key, err)
			return
		}
		merged, err := replayUpdates[K, S, R, W, UExt, UInt, V](c.adapter, cacheVal, e.p.updates)
		if err != nil {
			c.failReadUnderLock(e, key, err)
			return
		}
		e.p.value = merged
		resetUpdates(e, resetStorageDataMerged, true)
		e.p.readStatus = ReadDataReady
		e.latch.open()
		e.p.consecutiveReadFailures = 0
		e.p.lastSyncedWithStorage = c.now()
		c.stats.readOK()
	case MergeClearReadPendingStatus:
		if e.p.readStatus == ReadNotReadYet {
			e.p.readStatus = ReadFailedFinal
		} else if e.p.readStatus == ReadDataReadyResyncPending {
			e.p.readStatus = ReadDataReadyResyncFailedFinal
		}
		e.latch.open()
	case MergeDoNothing:
		c.cfg.Logger.Warn().Interface("key", key).Msg("merge decision: DO_NOTHING, latch left untouched")
	case MergeRemoveFromCache:
		e.mu.Unlock()
		c.twoStepRemove(key, e, false)
		e.mu.Lock()
	}
}

// failReadUnderLock handles a storage-format conversion or replay error:
// it counts a consecutive read failure and finalizes the read as failed
// directly, without consulting the ReadRetry decision that a storage read
// error goes through, and without re-acquiring the write lock (caller
// already holds it).
func (c *Cache[K, S, R, W, UExt, UInt, V]) failReadUnderLock(e *Entry[K, S, W, UInt], key K, err error) {
	e.p.consecutiveReadFailures++
	c.finalizeReadFailure(e, key)
}

// handleReadFailure is the read-failure handler of spec §4.2.
func (c *Cache[K, S, R, W, UExt, UInt, V]) handleReadFailure(e *Entry[K, S, W, UInt], key K, dispatchedStatus ReadStatus, cause error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.isRemoved() {
		return
	}
	if e.p.readStatus != dispatchedStatus && !c.cfg.AcceptOutOfOrderReads {
		c.cfg.Logger.Warn().Interface("key", key).Err(cause).
			Str("dispatched_status", dispatchedStatus.String()).
			Str("current_status", e.p.readStatus.String()).
			Msg("out-of-order read failure dropped")
		return
	}
	e.p.consecutiveReadFailures++
	c.stats.readFailure()

	switch c.policy.ReadRetry(e, &c.cfg) {
	case ReadRetryRetry:
		e.p.currentQueue = queueRead
		e.p.inQueueSince = c.now()
		c.readQueue.Put(e)
	case ReadRetryNoRetrySetFinalFailedStatus:
		c.finalizeReadFailureWithCause(e, key, cause)
	case ReadRetryDoNothing:
		c.cfg.Logger.Warn().Interface("key", key).Err(cause).Msg("read retry decision: DO_NOTHING")
	case ReadRetryRemoveFromCache:
		e.mu.Unlock()
		c.twoStepRemove(key, e, false)
		e.mu.Lock()
	}
}

// finalizeReadFailure transitions NOT_READ_YET → READ_FAILED_FINAL or
// DATA_READY_RESYNC_PENDING → DATA_READY_RESYNC_FAILED_FINAL, consulting
// the configured final-failure action. Must be called under the write
// lock.
func (c *Cache[K, S, R, W, UExt, UInt, V]) finalizeReadFailure(e *Entry[K, S, W, UInt], key K) {
	c.finalizeReadFailureWithCause(e, key, nil)
}

func (c *Cache[K, S, R, W, UExt, UInt, V]) finalizeReadFailureWithCause(e *Entry[K, S, W, UInt], key K, cause error) {
	switch e.p.readStatus {
	case ReadNotReadYet:
		switch c.cfg.InitialReadFailedFinalAction {
		case InitialReadFailedRemoveFromCache:
			e.mu.Unlock()
			c.twoStepRemove(key, e, false)
			e.mu.Lock()
		case InitialReadFailedKeepAndThrow:
			e.p.readStatus = ReadFailedFinal
			e.latch.open()
		}
	case ReadDataReadyResyncPending:
		switch c.cfg.ResyncFailedFinalAction {
		case ResyncFailedRemoveFromCache:
			e.mu.Unlock()
			c.twoStepRemove(key, e, false)
			e.mu.Lock()
		case ResyncFailedStopCollectingUpdates:
			e.p.readStatus = ReadDataReadyResyncFailedFinal
			resetUpdates(e, resetReadFailedFinalDecision, false)
			e.latch.open()
		case ResyncFailedKeepCollectingUpdates:
			e.p.readStatus = ReadDataReadyResyncFailedFinal
			e.latch.open()
		}
	}
	_ = cause
}
