package wbcache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEntryStartsNotReadYetAndCollecting(t *testing.T) {
	e := newEntry[string, string, string, string]("k", 10)
	assert.Equal(t, ReadNotReadYet, e.p.readStatus)
	assert.Equal(t, WriteNoWriteRequestedYet, e.p.writeStatus)
	assert.True(t, e.p.collectUpdates)
	assert.Nil(t, e.p.updates)
	assert.EqualValues(t, 10, e.p.lastReadTimestamp.Load())
	assert.False(t, e.latch.isOpen())
}

func TestEntryLatchOpensOnce(t *testing.T) {
	e := newEntry[string, string, string, string]("k", 0)
	done := e.latch.done()
	select {
	case <-done:
		t.Fatal("latch should not be open yet")
	default:
	}
	e.latch.open()
	e.latch.open() // must not panic
	<-done
	assert.True(t, e.latch.isOpen())
}

func TestEntryKillMarksBothStatusesTerminalAndOpensLatch(t *testing.T) {
	e := newEntry[string, string, string, string]("k", 0)
	e.p.updates = []string{"a"}
	e.p.collectUpdates = true
	failed := "x"
	e.p.previousFailedWriteData = &failed

	e.kill()

	assert.True(t, e.isRemoved())
	assert.Equal(t, ReadRemovedFromCache, e.p.readStatus)
	assert.Equal(t, WriteRemovedFromCache, e.p.writeStatus)
	assert.Nil(t, e.p.updates)
	assert.False(t, e.p.collectUpdates)
	assert.Nil(t, e.p.previousFailedWriteData)
	assert.True(t, e.latch.isOpen())
}

func TestIsRemovedRequiresBothStatusesTerminal(t *testing.T) {
	e := newEntry[string, string, string, string]("k", 0)
	e.p.readStatus = ReadRemovedFromCache
	require.False(t, e.isRemoved())
	e.p.writeStatus = WriteRemovedFromCache
	require.True(t, e.isRemoved())
}

func TestTouchReadStoresTimestamp(t *testing.T) {
	e := newEntry[string, string, string, string]("k", 0)
	e.touchRead(42)
	assert.EqualValues(t, 42, e.p.lastReadTimestamp.Load())
}
