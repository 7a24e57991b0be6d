package wbcache

// collectOutcome is the result of attempting to append an update to an
// entry's pending-update list (spec §4.6). Exception-driven control flow
// in the source ("collect throws when full") maps to this result type.
type collectOutcome int

const (
	collectOK collectOutcome = iota
	collectTooMany
	collectSkippedNotCollecting
)

// collect appends update to the entry's pending list, or reports why it
// didn't. Must be called under the entry's write lock.
func collect[K comparable, S any, W any, UInt any](e *Entry[K, S, W, UInt], update UInt, maxUpdatesToCollect int) collectOutcome {
	if !e.p.collectUpdates {
		return collectSkippedNotCollecting
	}
	if len(e.p.updates) >= maxUpdatesToCollect {
		return collectTooMany
	}
	e.p.updates = append(e.p.updates, update)
	return collectOK
}

// isMergePossible reports whether a resync read's storage value can still
// be merged with collected updates: it is simply collectUpdates. Policy has
// no hook of its own for this check; the default MergeDecision,
// MainQueueReadRating and ReturnQueueDecision hooks call it directly.
// Must be called under the entry's write lock (it
// reads collectUpdates, which is only mutated there).
func isMergePossible[K comparable, S any, W any, UInt any](e *Entry[K, S, W, UInt]) bool {
	return e.p.collectUpdates
}

// resetUpdates clears the pending-update list for reason and sets whether
// further updates should be collected afterward. Must be called under the
// entry's write lock.
func resetUpdates[K comparable, S any, W any, UInt any](e *Entry[K, S, W, UInt], reason resetReason, collectAfter bool) {
	e.p.updates = nil
	e.p.collectUpdates = collectAfter
}

// replayUpdates folds every collected update onto base, in collection
// order, via adapter.ApplyUpdate. Must be called under the entry's write
// lock (ApplyUpdate must be fast and is documented as running there).
func replayUpdates[K comparable, S any, R any, W any, UExt any, UInt any, V any](
	adapter StorageAdapter[K, S, R, W, UExt, UInt, V],
	base S,
	updates []UInt,
) (S, error) {
	cur := base
	for _, u := range updates {
		next, err := adapter.ApplyUpdate(cur, u)
		if err != nil {
			return cur, err
		}
		cur = next
	}
	return cur, nil
}
