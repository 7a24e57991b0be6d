package wbcache

import "context"

// WriteBatchHook mirrors ReadBatchHook for the write-queue worker's
// batching window (spec §4.4).
type WriteBatchHook interface {
	WriteBatchDelayExpired()
}

// runWriteQueueWorker is the write-queue worker of spec §4.4: pulls one
// write task, optionally batches, asks the write-queue decision SPI
// (default always WRITE), and dispatches inline or to the bounded write
// pool.
func (c *Cache[K, S, R, W, UExt, UInt, V]) runWriteQueueWorker(ctx context.Context) {
	defer c.wg.Done()
	for {
		t, ok := c.writeQueue.Take(ctx)
		if !ok {
			return
		}
		c.processWriteTask(ctx, t)

		if c.cfg.WriteQueueBatchingDelay > 0 {
			deadline := c.clock.Add(c.now(), c.cfg.WriteQueueBatchingDelay)
			for c.clock.Gap(c.now(), deadline) > 0 {
				next, ok := c.writeQueue.TryTake()
				if !ok {
					break
				}
				c.processWriteTask(ctx, next)
			}
			if hook, ok := c.adapter.(WriteBatchHook); ok {
				hook.WriteBatchDelayExpired()
			}
		}
	}
}

func (c *Cache[K, S, R, W, UExt, UInt, V]) processWriteTask(ctx context.Context, t *writeTask[K, S, W, UInt]) {
	switch c.policy.WriteQueueAction(&c.cfg) {
	case WriteQueueDoNothing:
		c.cfg.Logger.Warn().Interface("key", t.key).Str("write_id", t.id.String()).Msg("write queue decision: DO_NOTHING")
		return
	case WriteQueueSetFinalFailedWriteStatus:
		c.handleWriteFailure(t, errWriteSkippedBySPI)
		return
	}

	err := c.writePool.Submit(ctx, func() {
		werr := c.adapter.WriteToStorage(ctx, t.key, t.data)
		if werr != nil {
			c.handleWriteFailure(t, werr)
			return
		}
		c.handleWriteSuccess(t)
	})
	if err != nil {
		c.handleWriteFailure(t, err)
	}
}

// errWriteSkippedBySPI marks a write that never reached the storage
// adapter because the write-queue decision SPI chose
// SET_FINAL_FAILED_WRITE_STATUS.
var errWriteSkippedBySPI = &writeSkippedError{}

type writeSkippedError struct{}

func (*writeSkippedError) Error() string { return "wbcache: write skipped by write-queue decision SPI" }

// handleWriteSuccess is the write-success handler of spec §4.4.
func (c *Cache[K, S, R, W, UExt, UInt, V]) handleWriteSuccess(t *writeTask[K, S, W, UInt]) {
	e := t.entry
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.p.writeStatus {
	case WritePending:
		e.p.writeStatus = WriteSuccess
		e.p.consecutiveWriteFailures = 0
		e.p.previousFailedWriteData = nil
		c.stats.writeOK()
	case WriteRemovedFromCache:
		// too late, already removed; no-op.
	default:
		c.cfg.Logger.Warn().Interface("key", t.key).Str("status", e.p.writeStatus.String()).Msg("write success: unexpected write status")
	}
}

// handleWriteFailure is the write-failure handler of spec §4.4.
func (c *Cache[K, S, R, W, UExt, UInt, V]) handleWriteFailure(t *writeTask[K, S, W, UInt], cause error) {
	e := t.entry
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.isRemoved() {
		return
	}
	e.p.consecutiveWriteFailures++
	c.stats.writeFailure()

	switch c.policy.WriteRetry(e, &c.cfg) {
	case WriteRetryRetry:
		c.writeQueue.Put(t)
	case WriteRetryNoRetrySetFinalFailedStatus:
		data := t.data
		e.p.previousFailedWriteData = &data
		e.p.writeStatus = WriteFailedFinal
	case WriteRetryDoNothing:
		c.cfg.Logger.Warn().Interface("key", t.key).Err(cause).Msg("write retry decision: DO_NOTHING")
	case WriteRetryRemoveFromCache:
		e.mu.Unlock()
		c.twoStepRemove(t.key, e, false)
		e.mu.Lock()
	}
}
