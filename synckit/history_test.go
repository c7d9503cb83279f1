package synckit

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConflictLog_NewestFirst(t *testing.T) {
	l := NewConflictLog(3)
	for i := 1; i <= 2; i++ {
		l.Append(ConflictLogEntry{Collection: "users", RecordID: fmt.Sprint(i), Decision: KeepLocal})
	}

	entries := l.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "2", entries[0].RecordID)
	assert.Equal(t, "1", entries[1].RecordID)
}

func TestConflictLog_DefaultCapacityEvictsOldest(t *testing.T) {
	l := NewConflictLog(0)
	assert.Equal(t, DefaultHistoryCapacity, l.Cap())

	for i := 1; i <= 51; i++ {
		l.Append(ConflictLogEntry{Collection: "objects", RecordID: fmt.Sprint(i), Decision: KeepRemote})
	}

	entries := l.Entries()
	require.Len(t, entries, 50)
	assert.Equal(t, "51", entries[0].RecordID)
	assert.Equal(t, "2", entries[49].RecordID, "entry 1 was evicted")
}

func TestConflictLog_Clear(t *testing.T) {
	l := NewConflictLog(2)
	l.Append(ConflictLogEntry{RecordID: "1"})
	l.Clear()
	assert.Equal(t, 0, l.Len())
	assert.Empty(t, l.Entries())

	l.Append(ConflictLogEntry{RecordID: "2"})
	assert.Equal(t, "2", l.Entries()[0].RecordID)
}

func TestConflictLog_ConcurrentAppend(t *testing.T) {
	l := NewConflictLog(50)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				l.Append(ConflictLogEntry{RecordID: fmt.Sprintf("%d-%d", g, i)})
				_ = l.Entries()
			}
		}(g)
	}
	wg.Wait()
	assert.Equal(t, 50, l.Len())
}
