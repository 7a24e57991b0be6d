package wbcache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func newTestEntry() *Entry[string, string, string, string] {
	return newEntry[string, string, string, string]("k", 0)
}

func TestDefaultReadQueueAction(t *testing.T) {
	e := newTestEntry()
	e.p.readStatus = ReadNotReadYet
	assert.Equal(t, ReadQueueInitialRead, defaultReadQueueAction[string, string, string, string](e))

	e.p.readStatus = ReadDataReadyResyncPending
	assert.Equal(t, ReadQueueRefreshRead, defaultReadQueueAction[string, string, string, string](e))

	e.p.readStatus = ReadDataReady
	assert.Equal(t, ReadQueueDoNothing, defaultReadQueueAction[string, string, string, string](e))
}

func TestDefaultMergeDecisionInitialReadAlwaysSetsDirectly(t *testing.T) {
	e := newTestEntry()
	e.p.readStatus = ReadNotReadYet
	cfg := DefaultConfig()
	assert.Equal(t, MergeSetDirectly, defaultMergeDecision[string, string, string, string](e, &cfg, false))
}

func TestDefaultMergeDecisionMergesWhenCollectingAndNotTooLate(t *testing.T) {
	e := newTestEntry()
	e.p.readStatus = ReadDataReadyResyncPending
	e.p.collectUpdates = true
	e.p.fullCycleFailures = 0
	cfg := DefaultConfig()
	assert.Equal(t, MergeMergeData, defaultMergeDecision[string, string, string, string](e, &cfg, true))
}

func TestDefaultMergeDecisionTooLateFallsBackToConfiguredAction(t *testing.T) {
	e := newTestEntry()
	e.p.readStatus = ReadDataReadyResyncPending
	e.p.collectUpdates = false // isMergePossible == false => too late
	cfg := DefaultConfig()
	cfg.ResyncTooLateAction = ResyncTooLateClearReadPendingStatus
	assert.Equal(t, MergeClearReadPendingStatus, defaultMergeDecision[string, string, string, string](e, &cfg, true))
}

func TestDefaultReadRetryHonorsMaxRetryCount(t *testing.T) {
	e := newTestEntry()
	cfg := DefaultConfig()
	cfg.ReadFailureMaxRetryCount = 2
	e.p.consecutiveReadFailures = 2
	assert.Equal(t, ReadRetryRetry, defaultReadRetry[string, string, string, string](e, &cfg))
	e.p.consecutiveReadFailures = 3
	assert.Equal(t, ReadRetryNoRetrySetFinalFailedStatus, defaultReadRetry[string, string, string, string](e, &cfg))
}

func TestDefaultWriteRetryHonorsMaxRetryCount(t *testing.T) {
	e := newTestEntry()
	cfg := DefaultConfig()
	cfg.WriteFailureMaxRetryCount = 1
	e.p.consecutiveWriteFailures = 1
	assert.Equal(t, WriteRetryRetry, defaultWriteRetry[string, string, string, string](e, &cfg))
	e.p.consecutiveWriteFailures = 2
	assert.Equal(t, WriteRetryNoRetrySetFinalFailedStatus, defaultWriteRetry[string, string, string, string](e, &cfg))
}

func TestWorstRatingTakesMax(t *testing.T) {
	assert.Equal(t, RatingRemoveFromCache, worstRating(RatingReturnQueue, RatingRemoveFromCache))
	assert.Equal(t, RatingMainQueue, worstRating(RatingMainQueue, RatingReturnQueue))
}

func TestDefaultMainQueueReadRatingResyncPendingLoopsUntilTooManyFailures(t *testing.T) {
	e := newTestEntry()
	e.p.readStatus = ReadDataReadyResyncPending
	e.p.collectUpdates = true
	cfg := DefaultConfig()
	cfg.FullCacheCycleFailureMaxRetryCount = 3
	e.p.fullCycleFailures = 0
	assert.Equal(t, RatingMainQueue, defaultMainQueueReadRating[string, string, string, string](e, &cfg))

	e.p.fullCycleFailures = 3
	cfg.AllowDataWritingAfterResyncFailedFinal = false
	assert.Equal(t, RatingRemoveFromCache, defaultMainQueueReadRating[string, string, string, string](e, &cfg))

	cfg.AllowDataWritingAfterResyncFailedFinal = true
	assert.Equal(t, RatingReturnQueue, defaultMainQueueReadRating[string, string, string, string](e, &cfg))
}

func TestDefaultMainQueueWriteRatingPendingVsFailedFinal(t *testing.T) {
	e := newTestEntry()
	cfg := DefaultConfig()
	cfg.FullCacheCycleFailureMaxRetryCount = 5

	e.p.writeStatus = WritePending
	e.p.fullCycleFailures = 0
	assert.Equal(t, RatingReturnQueueNoWrite, defaultMainQueueWriteRating[string, string, string, string](e, &cfg))

	e.p.writeStatus = WriteFailedFinal
	assert.Equal(t, RatingReturnQueueKeepFullCycleFailureCount, defaultMainQueueWriteRating[string, string, string, string](e, &cfg))

	e.p.fullCycleFailures = 5
	assert.Equal(t, RatingRemoveFromCache, defaultMainQueueWriteRating[string, string, string, string](e, &cfg))
}

func TestDefaultReturnQueueDecisionExpiresUntouchedOverBudget(t *testing.T) {
	e := newTestEntry()
	e.p.writeStatus = WriteSuccess
	e.p.readStatus = ReadDataReady
	cfg := DefaultConfig()
	cfg.UntouchedItemCacheExpirationDelay = 1000

	action, _ := defaultReturnQueueDecision[string, string, string, string](e, &cfg, false, 2000, 0)
	assert.Equal(t, ReturnExpireFromCache, action)
}

func TestDefaultReturnQueueDecisionRecyclesWithResyncWhenMergePossible(t *testing.T) {
	e := newTestEntry()
	e.p.writeStatus = WriteSuccess
	e.p.readStatus = ReadDataReady
	e.p.collectUpdates = true
	cfg := DefaultConfig()
	cfg.UntouchedItemCacheExpirationDelay = 10_000
	cfg.MainQueueMaxTargetSize = 100

	action, _ := defaultReturnQueueDecision[string, string, string, string](e, &cfg, false, 10, 5)
	assert.Equal(t, ReturnMainQueuePlusResync, action)
}

func TestDefaultReturnQueueDecisionPendingWriteRequeues(t *testing.T) {
	e := newTestEntry()
	e.p.writeStatus = WritePending
	cfg := DefaultConfig()
	cfg.ReturnQueueMaxRequeueCount = 1

	e.p.returnQueueRequeues = 0
	action, _ := defaultReturnQueueDecision[string, string, string, string](e, &cfg, false, 0, 0)
	assert.Equal(t, ReturnReturnQueueAgain, action)

	e.p.returnQueueRequeues = 2
	action, _ = defaultReturnQueueDecision[string, string, string, string](e, &cfg, false, 0, 0)
	assert.Equal(t, ReturnMainQueueNoResync, action)
}

func TestDefaultReadAccessDecisionByStatus(t *testing.T) {
	cfg := DefaultConfig()
	e := newTestEntry()

	e.p.readStatus = ReadNotReadYet
	assert.Equal(t, AccessWaitForLatch, defaultReadAccessDecision[string, string, string, string](e, &cfg))

	e.p.readStatus = ReadRemovedFromCache
	assert.Equal(t, AccessRetryOuterLoop, defaultReadAccessDecision[string, string, string, string](e, &cfg))

	e.p.readStatus = ReadFailedFinal
	assert.Equal(t, AccessReturnException, defaultReadAccessDecision[string, string, string, string](e, &cfg))

	e.p.readStatus = ReadDataReadyResyncFailedFinal
	cfg.AllowDataReadingAfterResyncFailedFinal = false
	assert.Equal(t, AccessReturnException, defaultReadAccessDecision[string, string, string, string](e, &cfg))
	cfg.AllowDataReadingAfterResyncFailedFinal = true
	assert.Equal(t, AccessValueReturned, defaultReadAccessDecision[string, string, string, string](e, &cfg))

	e.p.readStatus = ReadDataReady
	assert.Equal(t, AccessValueReturned, defaultReadAccessDecision[string, string, string, string](e, &cfg))
}

func TestPolicyResolveFillsOnlyMissingHooks(t *testing.T) {
	called := false
	p := Policy[string, string, string, string]{
		ReadQueueAction: func(e *Entry[string, string, string, string]) ReadQueueAction {
			called = true
			return ReadQueueDoNothing
		},
	}
	resolved := p.resolve()
	_ = resolved.ReadQueueAction(newTestEntry())
	assert.True(t, called)
	assert.NotNil(t, resolved.MergeDecision)
	assert.NotNil(t, resolved.ReturnQueueDecision)
}
