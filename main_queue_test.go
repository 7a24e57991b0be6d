package wbcache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMainQueueCache(storage *fakeStorage) *Cache[string, string, string, string, string, string, string] {
	c := New[string, string, string, string, string, string, string](
		storage,
		DefaultPolicy[string, string, string, string](),
	)
	c.WithClock(NewVirtualClock(0))
	return c
}

// A clean entry (lastWriteTimestamp already marked negative) with no prior
// failed write has nothing for the adapter to split off, so attemptWrite
// must not touch the write queue at all.
func TestAttemptWriteSkipsWhenCleanAndNoPriorFailure(t *testing.T) {
	storage := newFakeStorage()
	c := newMainQueueCache(storage)
	e := newEntry[string, string, string, string]("k", 0)
	e.p.value = "v"
	e.p.lastWriteTimestamp = -5

	c.attemptWrite("k", e, 100)

	assert.Equal(t, 0, c.writeQueue.Len())
	assert.Equal(t, "v", e.p.value)
}

// A dirty entry (lastWriteTimestamp positive) whose write fully captures
// every pending update must be marked clean (negated) afterward, so the
// next main-queue cycle doesn't call SplitForWrite again for nothing.
func TestAttemptWriteMarksCleanWhenSplitForWriteCapturesEverything(t *testing.T) {
	storage := newFakeStorage()
	c := newMainQueueCache(storage)
	e := newEntry[string, string, string, string]("k", 0)
	e.p.value = "v"
	e.p.lastWriteTimestamp = 42

	c.attemptWrite("k", e, 100)

	require.Equal(t, 1, c.writeQueue.Len())
	assert.Equal(t, int64(-42), e.p.lastWriteTimestamp)
	assert.Equal(t, WritePending, e.p.writeStatus)
}

// mergeOnlyPartialAdapter always reports that a merged write does not
// capture every pending update, so lastWriteTimestamp must stay dirty
// (unchanged) even though a write was emitted.
type mergeOnlyPartialAdapter struct {
	*fakeStorage
}

func (m mergeOnlyPartialAdapter) MergeFailedWrite(previousFailedWrite string, current string) (string, bool) {
	return previousFailedWrite + "+" + current, false
}

func TestAttemptWriteLeavesDirtyWhenMergeIsPartial(t *testing.T) {
	storage := mergeOnlyPartialAdapter{newFakeStorage()}
	c := New[string, string, string, string, string, string, string](
		storage,
		DefaultPolicy[string, string, string, string](),
		WithCanMergeWrites(true),
	)
	c.WithClock(NewVirtualClock(0))

	e := newEntry[string, string, string, string]("k", 0)
	e.p.value = "v2"
	e.p.lastWriteTimestamp = 42
	prev := "v1"
	e.p.previousFailedWriteData = &prev

	c.attemptWrite("k", e, 100)

	require.Equal(t, 1, c.writeQueue.Len())
	assert.Equal(t, int64(42), e.p.lastWriteTimestamp, "a partial merge must not mark the entry clean")
	assert.Nil(t, e.p.previousFailedWriteData)
}
