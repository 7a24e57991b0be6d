package wbcache

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// writeTask is what the main-queue worker hands to the write queue: the
// key, a back-reference to the entry (non-owning — valid only while the
// entry store still contains it), and the write-behind payload produced by
// the storage adapter's SplitForWrite (spec §4.3, §4.4). id is an ambient
// tracing nicety (not a spec'd field) so log lines can be correlated
// across the main→write→return legs of one cycle.
type writeTask[K comparable, S any, W any, UInt any] struct {
	key   K
	entry *Entry[K, S, W, UInt]
	data  W
	id    uuid.UUID
}

// Cache is the concurrency engine of spec §2: an in-memory keyed cache
// interposed between clients and a slower external storage, absorbing
// updates in memory, flushing them asynchronously (write-behind) and
// periodically re-reading storage to reconcile concurrent external
// modifications (resync in background).
type Cache[K comparable, S any, R any, W any, UExt any, UInt any, V any] struct {
	cfg     Config
	adapter StorageAdapter[K, S, R, W, UExt, UInt, V]
	merger  MergeWriteAdapter[S, W]

	clock  Clock
	policy Policy[K, S, W, UInt]

	store *entryStore[K, S, W, UInt]

	readQueue   *queue[*Entry[K, S, W, UInt]]
	mainQueue   *queue[*Entry[K, S, W, UInt]]
	returnQueue *queue[*Entry[K, S, W, UInt]]
	writeQueue  *queue[*writeTask[K, S, W, UInt]]

	readPool  *ioPool
	writePool *ioPool

	control *controlStateMachine
	stats   *statsCollector
	status  *statusSnapshotter

	workerCtx   context.Context
	stopWorkers context.CancelFunc
	wg          sync.WaitGroup
}

// New constructs a Cache wired to adapter with the given Policy and
// Options layered onto DefaultConfig(). The cache is built in
// StateNotStarted; call Start to launch its worker goroutines and become
// usable, mirroring the NOT_STARTED → RUNNING edge of spec §4.8.
func New[K comparable, S any, R any, W any, UExt any, UInt any, V any](
	adapter StorageAdapter[K, S, R, W, UExt, UInt, V],
	policy Policy[K, S, W, UInt],
	opts ...Option,
) *Cache[K, S, R, W, UExt, UInt, V] {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	var keyString func(K) string
	if ks, ok := adapter.(KeyStringer[K]); ok {
		keyString = ks.KeyString
	}

	merger, _ := adapter.(MergeWriteAdapter[S, W])

	clock := Clock(NewRealClock(cfg.TimeFactor))

	c := &Cache[K, S, R, W, UExt, UInt, V]{
		cfg:         cfg,
		adapter:     adapter,
		merger:      merger,
		clock:       clock,
		policy:      policy.resolve(),
		store:       newEntryStore[K, S, W, UInt](cfg.MaxCacheElementsHardLimit, cfg.MainQueueMaxTargetSize, keyString),
		readQueue:   newQueue[*Entry[K, S, W, UInt]](),
		mainQueue:   newQueue[*Entry[K, S, W, UInt]](),
		returnQueue: newQueue[*Entry[K, S, W, UInt]](),
		writeQueue:  newQueue[*writeTask[K, S, W, UInt]](),
		readPool:    newIOPool(cfg.ReadThreadPoolMinSize, cfg.ReadThreadPoolMaxSize),
		writePool:   newIOPool(cfg.WriteThreadPoolMinSize, cfg.WriteThreadPoolMaxSize),
		control:     newControlStateMachine(),
		stats:       newStatsCollector(cfg.MetricsRegisterer),
	}
	c.status = newStatusSnapshotter(c.stats, c.clock)
	return c
}

// KeyStringer is an optional StorageAdapter extension: when implemented,
// the entry store's admission singleflight keys on KeyString(key) instead
// of fmt.Sprintf("%v", key).
type KeyStringer[K any] interface {
	KeyString(key K) string
}

// WithClock overrides the RealClock New builds by default; tests inject a
// VirtualClock this way. Not exposed as a Config field because Clock is an
// interface with no meaningful zero value to default from.
func (c *Cache[K, S, R, W, UExt, UInt, V]) WithClock(clock Clock) *Cache[K, S, R, W, UExt, UInt, V] {
	c.clock = clock
	c.status = newStatusSnapshotter(c.stats, c.clock)
	return c
}

// Start transitions NOT_STARTED → RUNNING and launches the four worker
// goroutines. Calling Start twice is a no-op on the second call.
func (c *Cache[K, S, R, W, UExt, UInt, V]) Start() {
	if !c.control.cas(StateNotStarted, StateRunning) {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.workerCtx = ctx
	c.stopWorkers = cancel

	c.wg.Add(4)
	go c.runReadQueueWorker(ctx)
	go c.runWriteQueueWorker(ctx)
	go c.runMainQueueWorker(ctx)
	go c.runReturnQueueWorker(ctx)
}

// IsAlive reports whether the worker goroutines have been launched and not
// yet fully shut down.
func (c *Cache[K, S, R, W, UExt, UInt, V]) IsAlive() bool {
	switch c.control.load() {
	case StateRunning, StateFlushing, StateShutdownInProgress:
		return true
	default:
		return false
	}
}

// IsUsable reports whether standard client operations are currently
// accepted (spec §4.8: RUNNING and FLUSHING both allow access operations;
// FLUSHING additionally makes workers skip their pacing waits).
func (c *Cache[K, S, R, W, UExt, UInt, V]) IsUsable() bool {
	return c.control.requireUsable("") == nil
}

// GetControlState returns the current lifecycle state.
func (c *Cache[K, S, R, W, UExt, UInt, V]) GetControlState() ControlState {
	return c.control.load()
}

// GetStatus returns a memoized Stats snapshot, refreshed at most once per
// maxAgeMs virtual milliseconds (spec §6).
func (c *Cache[K, S, R, W, UExt, UInt, V]) GetStatus(maxAgeMs int64) Stats {
	return c.status.get(maxAgeMs)
}

func (c *Cache[K, S, R, W, UExt, UInt, V]) now() int64 { return c.clock.Now() }

// admit is the shared fetch-or-create path behind preload/read/write: it
// enforces the hard size limit, logs the soft-target warning, and on a
// genuine add enqueues the fresh entry to the main queue then the read
// queue, in that order (spec §4.1's admission ordering).
func (c *Cache[K, S, R, W, UExt, UInt, V]) admit(key K) (*Entry[K, S, W, UInt], bool, error) {
	now := c.now()
	e, added, err := c.store.fetchOrAdd(key, func() *Entry[K, S, W, UInt] {
		return newEntry[K, S, W, UInt](key, now)
	})
	if err != nil {
		c.stats.cacheFullRejection()
		return nil, false, err
	}
	if added {
		c.stats.add()
		if c.store.overTarget() {
			c.cfg.Logger.Warn().
				Int("size", c.store.mappingCount()).
				Int("target", c.cfg.MainQueueMaxTargetSize).
				Msg("entry store exceeds main queue target size")
		}
		e.p.currentQueue = queueMain
		c.mainQueue.Put(e)
		e.p.currentQueue = queueRead
		c.readQueue.Put(e)
	}
	return e, added, nil
}

// Preload adds key to the cache if missing, without waiting for its
// initial read to complete (spec §4.1).
func (c *Cache[K, S, R, W, UExt, UInt, V]) Preload(key K) error {
	if err := c.control.requireUsable("preload"); err != nil {
		return err
	}
	_, _, err := c.admit(key)
	return err
}

// PreloadCache bulk-preloads every key. Spec §6 names PreloadCache in the
// public surface without spelling out cross-key atomicity, so this is a
// thin loop — the first error is returned but preceding keys remain
// preloaded.
func (c *Cache[K, S, R, W, UExt, UInt, V]) PreloadCache(keys []K) error {
	for _, k := range keys {
		if err := c.Preload(k); err != nil {
			return err
		}
	}
	return nil
}

// waitForLatch blocks until the entry's access latch opens or the virtual
// deadline/context elapses, sleeping in chunks of at most MaxSleepTime so
// a flush/shutdown transition is observed promptly (spec §5 "chunked by
// maxSleepTime").
func (c *Cache[K, S, R, W, UExt, UInt, V]) waitForLatch(ctx context.Context, e *Entry[K, S, W, UInt], deadline time.Time) error {
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return context.DeadlineExceeded
		}
		chunk := c.clock.RealInterval(c.cfg.MaxSleepTime)
		if chunk <= 0 || chunk > remaining {
			chunk = remaining
		}
		timer := time.NewTimer(chunk)
		select {
		case <-e.latch.done():
			timer.Stop()
			return nil
		case <-timer.C:
			if e.latch.isOpen() {
				return nil
			}
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// ReadIfCached returns the cached value for key without adding it and
// without waiting: absent if the key isn't already present or its initial
// read hasn't completed yet.
func (c *Cache[K, S, R, W, UExt, UInt, V]) ReadIfCached(key K) (V, bool, error) {
	var zero V
	if err := c.control.requireUsable("readIfCached"); err != nil {
		return zero, false, err
	}
	e, ok := c.store.get(key)
	if !ok {
		return zero, false, nil
	}
	return c.readFromEntry(context.Background(), e, key, false)
}

// ReadFor reads key, adding and waiting up to maxWaitVirtualMs (converted
// through the Clock's real-interval scaling) for its latch to open
// (spec §4.7).
func (c *Cache[K, S, R, W, UExt, UInt, V]) ReadFor(ctx context.Context, key K, maxWaitVirtualMs int64) (V, bool, error) {
	return c.read(ctx, key, maxWaitVirtualMs)
}

// ReadUntil reads key, waiting until the given virtual-ms deadline.
func (c *Cache[K, S, R, W, UExt, UInt, V]) ReadUntil(ctx context.Context, key K, deadlineVirtualMs int64) (V, bool, error) {
	return c.read(ctx, key, c.clock.Gap(c.now(), deadlineVirtualMs))
}

func (c *Cache[K, S, R, W, UExt, UInt, V]) read(ctx context.Context, key K, maxWaitVirtualMs int64) (V, bool, error) {
	var zero V
	if err := c.control.requireUsable("read"); err != nil {
		return zero, false, err
	}

	for attempt := 0; attempt < c.cfg.MaxCacheRemovedRetries; attempt++ {
		var e *Entry[K, S, W, UInt]
		var err error
		if maxWaitVirtualMs < 0 {
			var ok bool
			e, ok = c.store.get(key)
			if !ok {
				return zero, false, nil
			}
		} else {
			var added bool
			e, added, err = c.admit(key)
			if err != nil {
				return zero, false, err
			}
			if maxWaitVirtualMs == 0 && added {
				return zero, false, nil
			}
		}

		v, found, retry, err := c.readOnce(ctx, e, key, maxWaitVirtualMs)
		if retry {
			continue
		}
		return v, found, err
	}
	return zero, false, &ControlStateError{State: c.control.load(), Op: "read: too many REMOVED_FROM_CACHE retries"}
}

func (c *Cache[K, S, R, W, UExt, UInt, V]) readOnce(ctx context.Context, e *Entry[K, S, W, UInt], key K, maxWaitVirtualMs int64) (v V, found bool, retry bool, err error) {
	var zero V

	e.mu.RLock()
	e.touchRead(c.now())
	decision := c.policy.ReadAccessDecision(e, &c.cfg)
	e.mu.RUnlock()

	switch decision {
	case AccessRetryOuterLoop:
		return zero, false, true, nil
	case AccessReturnException:
		return zero, false, false, &ElementFailedLoadingError{}
	case AccessValueReturned:
		return c.readFromEntry(ctx, e, key, false)
	case AccessWaitForLatch:
		if maxWaitVirtualMs < 0 {
			return zero, false, false, nil
		}
		deadline := time.Now().Add(c.clock.RealInterval(maxWaitVirtualMs))
		if maxWaitVirtualMs == 0 {
			deadline = time.Now()
		}
		if err := c.waitForLatch(ctx, e, deadline); err != nil {
			return zero, false, false, nil
		}
		return c.readOnce(ctx, e, key, 0)
	default:
		return zero, false, false, ErrInternal
	}
}

func (c *Cache[K, S, R, W, UExt, UInt, V]) readFromEntry(ctx context.Context, e *Entry[K, S, W, UInt], key K, _ bool) (V, bool, error) {
	var zero V
	e.mu.RLock()
	status := e.p.readStatus
	val := e.p.value
	e.mu.RUnlock()

	switch status {
	case ReadFailedFinal:
		c.stats.miss()
		return zero, false, &ElementFailedLoadingError{}
	case ReadDataReadyResyncFailedFinal:
		if !c.cfg.AllowDataReadingAfterResyncFailedFinal {
			c.stats.miss()
			return zero, false, &ElementFailedResyncError{}
		}
	case ReadNotReadYet, ReadRemovedFromCache:
		c.stats.miss()
		return zero, false, nil
	}

	out, err := c.adapter.ConvertFromCacheFormatToReturn(key, val)
	if err != nil {
		return zero, false, err
	}
	c.stats.hit()
	return out, true, nil
}

// ReadOrException behaves like ReadFor but returns ErrElementNotYetLoaded
// instead of (zero, false, nil) when the value isn't available within the
// wait budget (spec §6).
func (c *Cache[K, S, R, W, UExt, UInt, V]) ReadOrException(ctx context.Context, key K, maxWaitVirtualMs int64) (V, error) {
	v, found, err := c.ReadFor(ctx, key, maxWaitVirtualMs)
	if err != nil {
		return v, err
	}
	if !found {
		return v, ErrElementNotYetLoaded
	}
	return v, nil
}

// WriteIfCached applies updateExt to key's cached value if key is already
// present, collecting the update for later resync merge (spec §4.7).
// Returns found=false if key isn't cached.
func (c *Cache[K, S, R, W, UExt, UInt, V]) WriteIfCached(key K, updateExt UExt) (found bool, err error) {
	_, found, err = c.writeIfCached(key, updateExt, false)
	return found, err
}

// WriteIfCachedAndRead behaves like WriteIfCached but also converts and
// returns the post-update value.
func (c *Cache[K, S, R, W, UExt, UInt, V]) WriteIfCachedAndRead(key K, updateExt UExt) (V, bool, error) {
	return c.writeIfCached(key, updateExt, true)
}

func (c *Cache[K, S, R, W, UExt, UInt, V]) writeIfCached(key K, updateExt UExt, produceReadResult bool) (V, bool, error) {
	var zero V
	if err := c.control.requireUsable("writeIfCached"); err != nil {
		return zero, false, err
	}

	updateInt, err := c.adapter.ConvertToInternalUpdate(key, updateExt)
	if err != nil {
		return zero, false, err
	}

	e, ok := c.store.get(key)
	if !ok {
		return zero, false, nil
	}

	e.mu.Lock()
	now := c.now()
	e.p.lastWriteTimestamp = now
	e.touchRead(now)

	decision := c.policy.WriteAccessDecision(e, &c.cfg)
	switch decision {
	case AccessRetryOuterLoop:
		e.mu.Unlock()
		return zero, false, nil
	case AccessReturnException:
		isResyncFailure := e.p.readStatus == ReadDataReadyResyncFailedFinal
		e.mu.Unlock()
		if isResyncFailure {
			return zero, false, &ElementFailedResyncError{}
		}
		return zero, false, &ElementFailedLoadingError{}
	}

	newVal, err := c.adapter.ApplyUpdate(e.p.value, updateInt)
	if err != nil {
		e.mu.Unlock()
		return zero, false, err
	}
	e.p.value = newVal

	switch collect(e, updateInt, c.cfg.MaxUpdatesToCollect) {
	case collectTooMany:
		c.stats.tooManyUpdates()
		resetUpdates(e, resetUpdateCollectException, false)
		c.cfg.Logger.Warn().Str("event", "TOO_MANY_CACHE_ELEMENT_UPDATES").Msg("update-collect exception; collection disabled for entry")
	}

	var out V
	if produceReadResult {
		out, err = c.adapter.ConvertFromCacheFormatToReturn(key, e.p.value)
	}
	e.mu.Unlock()
	if err != nil {
		return zero, true, err
	}
	return out, true, nil
}

// Flush transitions RUNNING → FLUSHING, lets the worker pipeline drain
// without its normal pacing waits, and transitions back to RUNNING once
// the store empties or deadline elapses (spec §4.8). Returns whether the
// store reached zero.
func (c *Cache[K, S, R, W, UExt, UInt, V]) Flush(ctx context.Context, deadline time.Duration) (bool, error) {
	return c.flushUntil(ctx, time.Now().Add(deadline))
}

// FlushFor is an alias matching spec §6's FlushFor naming.
func (c *Cache[K, S, R, W, UExt, UInt, V]) FlushFor(ctx context.Context, d time.Duration) (bool, error) {
	return c.flushUntil(ctx, time.Now().Add(d))
}

// FlushUntil flushes until the absolute deadline.
func (c *Cache[K, S, R, W, UExt, UInt, V]) FlushUntil(ctx context.Context, deadline time.Time) (bool, error) {
	return c.flushUntil(ctx, deadline)
}

func (c *Cache[K, S, R, W, UExt, UInt, V]) flushUntil(ctx context.Context, deadline time.Time) (bool, error) {
	if !c.control.cas(StateRunning, StateFlushing) {
		return false, &ControlStateError{State: c.control.load(), Op: "flush"}
	}
	defer c.control.store(StateRunning)

	for {
		if c.store.mappingCount() == 0 {
			return true, nil
		}
		if !time.Now().Before(deadline) {
			return false, nil
		}
		select {
		case <-time.After(c.clock.RealInterval(c.cfg.MaxSleepTime)):
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
}

// Shutdown transitions to SHUTDOWN_IN_PROGRESS one-way, drains like Flush,
// then stops the worker goroutines and I/O pools, always finishing in
// SHUTDOWN_COMPLETED (spec §4.8).
func (c *Cache[K, S, R, W, UExt, UInt, V]) Shutdown(ctx context.Context, deadline time.Duration) error {
	return c.shutdownUntil(ctx, time.Now().Add(deadline))
}

// ShutdownFor matches spec §6's ShutdownFor naming.
func (c *Cache[K, S, R, W, UExt, UInt, V]) ShutdownFor(ctx context.Context, d time.Duration) error {
	return c.shutdownUntil(ctx, time.Now().Add(d))
}

// ShutdownUntil shuts down by the absolute deadline.
func (c *Cache[K, S, R, W, UExt, UInt, V]) ShutdownUntil(ctx context.Context, deadline time.Time) error {
	return c.shutdownUntil(ctx, deadline)
}

func (c *Cache[K, S, R, W, UExt, UInt, V]) shutdownUntil(ctx context.Context, deadline time.Time) error {
	prev := c.control.load()
	if prev == StateShutdownCompleted || prev == StateShutdownInProgress {
		return nil
	}
	c.control.store(StateShutdownInProgress)

	for {
		if c.store.mappingCount() == 0 {
			break
		}
		if !time.Now().Before(deadline) {
			break
		}
		select {
		case <-time.After(c.clock.RealInterval(c.cfg.MaxSleepTime)):
		case <-ctx.Done():
			goto drain
		}
	}
drain:
	if c.stopWorkers != nil {
		c.stopWorkers()
	}
	c.wg.Wait()
	c.readQueue.Close()
	c.mainQueue.Close()
	c.returnQueue.Close()
	c.writeQueue.Close()
	c.readPool.Close()
	c.writePool.Close()

	c.control.store(StateShutdownCompleted)
	return nil
}

// draining reports whether workers should skip their normal pacing waits
// (spec §4.3 step 1: "In flushing/shutdown, if no in-flight read/write,
// bypass wait").
func (c *Cache[K, S, R, W, UExt, UInt, V]) draining() bool {
	switch c.control.load() {
	case StateFlushing, StateShutdownInProgress:
		return true
	default:
		return false
	}
}

// twoStepRemove performs the two-step removal sequence of spec §3: remove
// from the store (visible atomically), then under the write lock mark
// statuses terminal and null the update list. Must be called with e not
// already locked.
func (c *Cache[K, S, R, W, UExt, UInt, V]) twoStepRemove(key K, e *Entry[K, S, W, UInt], silent bool) {
	removed := c.store.removeIfSame(key, e)
	e.mu.Lock()
	e.kill()
	e.mu.Unlock()
	if removed {
		if silent {
			c.stats.expire()
		} else {
			c.stats.remove()
			c.cfg.Logger.Info().Interface("key", key).Msg("entry removed from cache")
		}
		n := e.p.fullCyclesCompleted
		c.stats.bucketFullCycles(n, c.cfg.FullCycleCountThresholds)
	}
}
