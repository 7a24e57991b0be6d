package wbcache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func newAccessInfoCache(vc Clock) *Cache[string, string, string, string, string, string, string] {
	c := New[string, string, string, string, string, string, string](
		newFakeStorage(),
		DefaultPolicy[string, string, string, string](),
	)
	c.WithClock(vc)
	return c
}

func TestItemAccessInfoUntouchedUsesNegatedSnapshot(t *testing.T) {
	c := newAccessInfoCache(NewVirtualClock(0))
	e := newEntry[string, string, string, string]("k", 0)
	e.p.lastReadTimestamp.Store(-10)
	e.p.lastWriteTimestamp = -10

	hadAccess, untouched := c.itemAccessInfo(e, 50)
	assert.False(t, hadAccess)
	assert.Equal(t, int64(40), untouched)
}

func TestItemAccessInfoReadTouchedSinceSnapshot(t *testing.T) {
	c := newAccessInfoCache(NewVirtualClock(0))
	e := newEntry[string, string, string, string]("k", 0)
	e.p.lastReadTimestamp.Store(30)
	e.p.lastWriteTimestamp = -10

	hadAccess, untouched := c.itemAccessInfo(e, 50)
	assert.True(t, hadAccess)
	assert.Equal(t, int64(0), untouched)
}

// A write landing after the main queue's snapshot must count as access too
// (spec §4.5: itemHadAccessSinceMainQueue = (lastRead > 0) OR (lastWrite >
// 0)), even while lastReadTimestamp is still negative/clean.
func TestItemAccessInfoWriteTouchedSinceSnapshot(t *testing.T) {
	c := newAccessInfoCache(NewVirtualClock(0))
	e := newEntry[string, string, string, string]("k", 0)
	e.p.lastReadTimestamp.Store(-100)
	e.p.lastWriteTimestamp = 40

	hadAccess, untouched := c.itemAccessInfo(e, 50)
	assert.True(t, hadAccess)
	assert.Equal(t, int64(0), untouched)
}

func TestItemAccessInfoPicksShorterGapWhenBothClean(t *testing.T) {
	c := newAccessInfoCache(NewVirtualClock(0))
	e := newEntry[string, string, string, string]("k", 0)
	e.p.lastReadTimestamp.Store(-100) // 150ms since last read
	e.p.lastWriteTimestamp = -190     // 60ms since last write

	hadAccess, untouched := c.itemAccessInfo(e, 250)
	assert.False(t, hadAccess)
	assert.Equal(t, int64(60), untouched)
}

// Before the fix, itemAccessInfo only ever looked at lastReadTimestamp, so
// a write landing just after the main-queue snapshot was invisible to it
// whenever the read side alone still looked fresh. That made a touched
// entry indistinguishable from a genuinely idle one, silently dropping the
// write half of spec §4.5's itemHadAccessSinceMainQueue formula.
func TestItemAccessInfoReflectsWriteEvenWhenReadGapLooksFresh(t *testing.T) {
	c := newAccessInfoCache(NewVirtualClock(0))
	e := newEntry[string, string, string, string]("k", 0)
	e.p.lastReadTimestamp.Store(-990) // only 10ms since the read-side snapshot
	e.p.lastWriteTimestamp = 1000     // a write landed at the current instant

	hadAccess, untouched := c.itemAccessInfo(e, 1000)
	assert.True(t, hadAccess, "a write after the snapshot must register as access even though the read side looks fresh")
	assert.Equal(t, int64(0), untouched)
}
