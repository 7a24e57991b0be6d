package wbcache

// This file is the decision-SPI surface named throughout spec §4: every
// branch a worker takes when an entry's status doesn't trivially dictate
// the next step is phrased as a named hook with a default implementation,
// rather than deep inheritance (spec §9's design note) — a struct of
// function fields, defaulted by DefaultPolicy, that callers may override
// per-field.

// ReadQueueAction is what the read-queue worker does with a popped entry
// before it even calls the storage adapter (spec §4.2).
type ReadQueueAction int

const (
	ReadQueueDoNothing ReadQueueAction = iota
	ReadQueueInitialRead
	ReadQueueRefreshRead
	ReadQueueSetFinalFailedReadStatus
)

// MergeDecision is the read-success handler's choice of how to fold a
// storage value into the entry (spec §4.2).
type MergeDecision int

const (
	MergeSetDirectly MergeDecision = iota
	MergeMergeData
	MergeClearReadPendingStatus
	MergeDoNothing
	MergeRemoveFromCache
)

// ReadRetryDecision is the read-failure handler's choice (spec §4.2).
type ReadRetryDecision int

const (
	ReadRetryRetry ReadRetryDecision = iota
	ReadRetryNoRetrySetFinalFailedStatus
	ReadRetryDoNothing
	ReadRetryRemoveFromCache
)

// WriteQueueAction is the write-queue worker's pre-dispatch choice (spec §4.4).
type WriteQueueAction int

const (
	WriteQueueWrite WriteQueueAction = iota
	WriteQueueDoNothing
	WriteQueueSetFinalFailedWriteStatus
)

// WriteRetryDecision is the write-failure handler's choice (spec §4.4).
type WriteRetryDecision int

const (
	WriteRetryRetry WriteRetryDecision = iota
	WriteRetryNoRetrySetFinalFailedStatus
	WriteRetryDoNothing
	WriteRetryRemoveFromCache
)

// MainQueueRating is the main-queue worker's per-branch outcome, ordered so
// that a numerically larger rating is always a "worse" outcome; merging
// the independent read and write sub-decisions is simply taking the max
// (spec §4.3).
type MainQueueRating int

const (
	RatingReturnQueue                            MainQueueRating = 10
	RatingReturnQueueKeepFullCycleFailureCount    MainQueueRating = 20
	RatingReturnQueueNoWrite                      MainQueueRating = 30
	RatingMainQueue                               MainQueueRating = 40
	RatingExpireFromCache                         MainQueueRating = 50
	RatingRemoveFromCache                         MainQueueRating = 60
)

func worstRating(a, b MainQueueRating) MainQueueRating {
	if a > b {
		return a
	}
	return b
}

// ReturnQueueAction is the return-queue worker's choice (spec §4.5).
type ReturnQueueAction int

const (
	ReturnMainQueuePlusResync ReturnQueueAction = iota
	ReturnMainQueueNoResync
	ReturnExpireFromCache
	ReturnReturnQueueAgain
	ReturnRemoveFromCache
	ReturnDoNothing
)

// AccessDecision is the Access API's choice of how to respond to a
// read/write call given the entry's current status (spec §4.7).
type AccessDecision int

const (
	AccessWaitForLatch AccessDecision = iota
	AccessRetryOuterLoop
	AccessReturnException
	AccessValueReturned
)

// Policy bundles every decision hook for one Entry shape. Unset function
// fields are filled with the corresponding default* function when New
// resolves the Policy, so callers may override a single hook via Policy{MergeDecision: ...}
// without having to restate the rest.
type Policy[K comparable, S any, W any, UInt any] struct {
	ReadQueueAction func(e *Entry[K, S, W, UInt]) ReadQueueAction

	MergeDecision func(e *Entry[K, S, W, UInt], cfg *Config, isRefresh bool) MergeDecision
	ReadRetry     func(e *Entry[K, S, W, UInt], cfg *Config) ReadRetryDecision

	WriteQueueAction func(cfg *Config) WriteQueueAction
	WriteRetry       func(e *Entry[K, S, W, UInt], cfg *Config) WriteRetryDecision

	MainQueueReadRating  func(e *Entry[K, S, W, UInt], cfg *Config) MainQueueRating
	MainQueueWriteRating func(e *Entry[K, S, W, UInt], cfg *Config) MainQueueRating

	ReturnQueueDecision func(e *Entry[K, S, W, UInt], cfg *Config, itemHadAccessSinceMainQueue bool, itemUntouchedMs int64, mainQueueSize int) (ReturnQueueAction, bool)

	ReadAccessDecision  func(e *Entry[K, S, W, UInt], cfg *Config) AccessDecision
	WriteAccessDecision func(e *Entry[K, S, W, UInt], cfg *Config) AccessDecision
}

// DefaultPolicy returns the spec-mandated default for every hook.
func DefaultPolicy[K comparable, S any, W any, UInt any]() Policy[K, S, W, UInt] {
	return Policy[K, S, W, UInt]{
		ReadQueueAction:      defaultReadQueueAction[K, S, W, UInt],
		MergeDecision:        defaultMergeDecision[K, S, W, UInt],
		ReadRetry:            defaultReadRetry[K, S, W, UInt],
		WriteQueueAction:     defaultWriteQueueAction,
		WriteRetry:           defaultWriteRetry[K, S, W, UInt],
		MainQueueReadRating:  defaultMainQueueReadRating[K, S, W, UInt],
		MainQueueWriteRating: defaultMainQueueWriteRating[K, S, W, UInt],
		ReturnQueueDecision:  defaultReturnQueueDecision[K, S, W, UInt],
		ReadAccessDecision:   defaultReadAccessDecision[K, S, W, UInt],
		WriteAccessDecision:  defaultWriteAccessDecision[K, S, W, UInt],
	}
}

// resolve fills in any nil hook with its default, so the rest of the
// engine can call policy fields unconditionally.
func (p Policy[K, S, W, UInt]) resolve() Policy[K, S, W, UInt] {
	d := DefaultPolicy[K, S, W, UInt]()
	if p.ReadQueueAction == nil {
		p.ReadQueueAction = d.ReadQueueAction
	}
	if p.MergeDecision == nil {
		p.MergeDecision = d.MergeDecision
	}
	if p.ReadRetry == nil {
		p.ReadRetry = d.ReadRetry
	}
	if p.WriteQueueAction == nil {
		p.WriteQueueAction = d.WriteQueueAction
	}
	if p.WriteRetry == nil {
		p.WriteRetry = d.WriteRetry
	}
	if p.MainQueueReadRating == nil {
		p.MainQueueReadRating = d.MainQueueReadRating
	}
	if p.MainQueueWriteRating == nil {
		p.MainQueueWriteRating = d.MainQueueWriteRating
	}
	if p.ReturnQueueDecision == nil {
		p.ReturnQueueDecision = d.ReturnQueueDecision
	}
	if p.ReadAccessDecision == nil {
		p.ReadAccessDecision = d.ReadAccessDecision
	}
	if p.WriteAccessDecision == nil {
		p.WriteAccessDecision = d.WriteAccessDecision
	}
	return p
}

func defaultReadQueueAction[K comparable, S any, W any, UInt any](e *Entry[K, S, W, UInt]) ReadQueueAction {
	switch e.p.readStatus {
	case ReadNotReadYet:
		return ReadQueueInitialRead
	case ReadDataReadyResyncPending:
		return ReadQueueRefreshRead
	default:
		return ReadQueueDoNothing
	}
}

func defaultMergeDecision[K comparable, S any, W any, UInt any](e *Entry[K, S, W, UInt], cfg *Config, isRefresh bool) MergeDecision {
	if e.p.readStatus == ReadNotReadYet {
		return MergeSetDirectly
	}
	mergePossible := isMergePossible(e)
	tooLate := !mergePossible || (!cfg.AllowUpdatesCollectionForMultipleFullCycles && e.p.fullCycleFailures > 0)
	if mergePossible && !tooLate {
		return MergeMergeData
	}
	switch cfg.ResyncTooLateAction {
	case ResyncTooLateSetDirectly:
		return MergeSetDirectly
	case ResyncTooLateMergeData:
		return MergeMergeData
	case ResyncTooLateClearReadPendingStatus:
		return MergeClearReadPendingStatus
	case ResyncTooLateDoNothing:
		return MergeDoNothing
	case ResyncTooLateRemoveFromCache:
		return MergeRemoveFromCache
	default:
		return MergeSetDirectly
	}
}

func defaultReadRetry[K comparable, S any, W any, UInt any](e *Entry[K, S, W, UInt], cfg *Config) ReadRetryDecision {
	if e.p.consecutiveReadFailures > cfg.ReadFailureMaxRetryCount {
		return ReadRetryNoRetrySetFinalFailedStatus
	}
	return ReadRetryRetry
}

func defaultWriteQueueAction(cfg *Config) WriteQueueAction {
	return WriteQueueWrite
}

func defaultWriteRetry[K comparable, S any, W any, UInt any](e *Entry[K, S, W, UInt], cfg *Config) WriteRetryDecision {
	if e.p.consecutiveWriteFailures > cfg.WriteFailureMaxRetryCount {
		return WriteRetryNoRetrySetFinalFailedStatus
	}
	return WriteRetryRetry
}

func defaultMainQueueReadRating[K comparable, S any, W any, UInt any](e *Entry[K, S, W, UInt], cfg *Config) MainQueueRating {
	switch e.p.readStatus {
	case ReadFailedFinal, ReadNotReadYet:
		return RatingRemoveFromCache
	case ReadRemovedFromCache:
		return RatingExpireFromCache
	case ReadDataReady:
		return RatingReturnQueue
	case ReadDataReadyResyncPending:
		tooManyFailures := e.p.fullCycleFailures >= cfg.FullCacheCycleFailureMaxRetryCount
		mergeGone := !isMergePossible(e)
		if tooManyFailures || mergeGone {
			if cfg.AllowDataWritingAfterResyncFailedFinal {
				return RatingReturnQueue
			}
			return RatingRemoveFromCache
		}
		return RatingMainQueue
	case ReadDataReadyResyncFailedFinal:
		tooManyFailures := e.p.fullCycleFailures >= cfg.FullCacheCycleFailureMaxRetryCount
		mergeGone := !isMergePossible(e)
		if tooManyFailures || mergeGone {
			if cfg.AllowDataWritingAfterResyncFailedFinal {
				return RatingReturnQueue
			}
			return RatingRemoveFromCache
		}
		return RatingReturnQueueNoWrite
	default:
		return RatingRemoveFromCache
	}
}

func defaultMainQueueWriteRating[K comparable, S any, W any, UInt any](e *Entry[K, S, W, UInt], cfg *Config) MainQueueRating {
	tooManyFailures := e.p.fullCycleFailures >= cfg.FullCacheCycleFailureMaxRetryCount
	switch e.p.writeStatus {
	case WritePending:
		if tooManyFailures {
			return RatingRemoveFromCache
		}
		return RatingReturnQueueNoWrite
	case WriteFailedFinal:
		if tooManyFailures {
			return RatingRemoveFromCache
		}
		return RatingReturnQueueKeepFullCycleFailureCount
	case WriteRemovedFromCache:
		return RatingExpireFromCache
	case WriteSuccess, WriteNoWriteRequestedYet:
		return RatingReturnQueue
	default:
		return RatingRemoveFromCache
	}
}

func defaultReturnQueueDecision[K comparable, S any, W any, UInt any](
	e *Entry[K, S, W, UInt], cfg *Config, itemHadAccessSinceMainQueue bool, itemUntouchedMs int64, mainQueueSize int,
) (ReturnQueueAction, bool) {
	switch e.p.writeStatus {
	case WritePending:
		if e.p.returnQueueRequeues > cfg.ReturnQueueMaxRequeueCount {
			return ReturnMainQueueNoResync, true
		}
		return ReturnReturnQueueAgain, true
	case WriteFailedFinal:
		return ReturnMainQueueNoResync, true
	case WriteNoWriteRequestedYet, WriteSuccess:
		notTouched := !itemHadAccessSinceMainQueue
		withinBudget := itemUntouchedMs < cfg.UntouchedItemCacheExpirationDelay
		roomInMainQueue := mainQueueSize <= cfg.MainQueueMaxTargetSize
		if notTouched && withinBudget && roomInMainQueue {
			if isMergePossible(e) {
				switch e.p.readStatus {
				case ReadNotReadYet, ReadDataReadyResyncPending:
					return ReturnMainQueueNoResync, false
				case ReadDataReady, ReadFailedFinal, ReadDataReadyResyncFailedFinal:
					return ReturnMainQueuePlusResync, false
				}
			}
		}
		return ReturnExpireFromCache, true
	default:
		return ReturnExpireFromCache, true
	}
}

func defaultReadAccessDecision[K comparable, S any, W any, UInt any](e *Entry[K, S, W, UInt], cfg *Config) AccessDecision {
	switch e.p.readStatus {
	case ReadNotReadYet:
		return AccessWaitForLatch
	case ReadRemovedFromCache:
		return AccessRetryOuterLoop
	case ReadFailedFinal:
		return AccessReturnException
	case ReadDataReadyResyncFailedFinal:
		if cfg.AllowDataReadingAfterResyncFailedFinal {
			return AccessValueReturned
		}
		return AccessReturnException
	default:
		return AccessValueReturned
	}
}

func defaultWriteAccessDecision[K comparable, S any, W any, UInt any](e *Entry[K, S, W, UInt], cfg *Config) AccessDecision {
	switch e.p.readStatus {
	case ReadRemovedFromCache:
		return AccessRetryOuterLoop
	case ReadFailedFinal:
		return AccessReturnException
	case ReadDataReadyResyncFailedFinal:
		if e.p.writeStatus == WriteFailedFinal && !cfg.AllowDataWritingAfterResyncFailedFinal {
			return AccessReturnException
		}
		if !cfg.AllowDataReadingAfterResyncFailedFinal {
			return AccessReturnException
		}
		return AccessValueReturned
	default:
		return AccessValueReturned
	}
}
