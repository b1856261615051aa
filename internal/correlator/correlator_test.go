package correlator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestIssueAllocatesIncreasingIDs(t *testing.T) {
	tbl := NewTable[int]()
	id1, s1 := tbl.Issue("main")
	id2, s2 := tbl.Issue("main")
	assert.Greater(t, id2, id1)
	assert.Equal(t, id1, s1.ID())
	assert.Equal(t, id2, s2.ID())
	assert.Equal(t, 2, tbl.Len())
}

func TestIDsAreSharedAcrossTables(t *testing.T) {
	a, b := NewTable[int](), NewTable[string]()
	id1, _ := a.Issue(nil)
	id2, _ := b.Issue(nil)
	id3, _ := a.Issue(nil)
	assert.Less(t, id1, id2)
	assert.Less(t, id2, id3)
}

func TestCompleteResolvesIndependently(t *testing.T) {
	tbl := NewTable[int]()
	id1, s1 := tbl.Issue(nil)
	id2, s2 := tbl.Issue(nil)

	require.True(t, tbl.Complete(id2, 20, nil))
	require.True(t, tbl.Complete(id1, 10, nil))

	v1, err := s1.Wait(context.Background())
	require.NoError(t, err)
	v2, err := s2.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, v1)
	assert.Equal(t, 20, v2)
	assert.Equal(t, 0, tbl.Len())
}

func TestCompleteUnknownIDIsDropped(t *testing.T) {
	tbl := NewTable[int]()
	id, _ := tbl.Issue(nil)
	assert.True(t, tbl.Complete(id, 1, nil))
	assert.False(t, tbl.Complete(id, 2, nil), "second completion must find nothing")
	assert.False(t, tbl.Complete(999999999, 0, nil))
}

func TestRejectCarriesError(t *testing.T) {
	tbl := NewTable[string]()
	id, s := tbl.Issue(nil)
	boom := errors.New("boom")
	tbl.Complete(id, "", boom)

	_, err := s.Wait(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestSlotSingleAssignment(t *testing.T) {
	tbl := NewTable[int]()
	_, s := tbl.Issue(nil)
	assert.True(t, s.Resolve(1))
	assert.False(t, s.Resolve(2))
	assert.False(t, s.Reject(errors.New("late")))
	v, err := s.Result()
	assert.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestDiscardWhereOnlyTouchesMatchingOwner(t *testing.T) {
	tbl := NewTable[int]()
	mainID, _ := tbl.Issue("main")
	frameID, _ := tbl.Issue("iframe")

	removed := tbl.DiscardWhere(func(owner any) bool { return owner == "iframe" })
	require.Len(t, removed, 1)
	assert.Equal(t, frameID, removed[0].ID())
	assert.True(t, tbl.Pending(mainID))
	assert.False(t, tbl.Pending(frameID))

	assert.False(t, tbl.Complete(frameID, 1, nil))
	assert.True(t, tbl.Complete(mainID, 1, nil))
}

func TestDiscardAll(t *testing.T) {
	tbl := NewTable[int]()
	tbl.Issue("a")
	tbl.Issue("b")
	assert.Len(t, tbl.DiscardAll(), 2)
	assert.Equal(t, 0, tbl.Len())
}

func TestWaitHonoursContext(t *testing.T) {
	tbl := NewTable[int]()
	_, s := tbl.Issue(nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := s.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConcurrentIssueAndComplete(t *testing.T) {
	tbl := NewTable[uint64]()
	var wg sync.WaitGroup
	seen := sync.Map{}
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, s := tbl.Issue(nil)
			_, dup := seen.LoadOrStore(id, true)
			assert.False(t, dup)
			tbl.Complete(id, id, nil)
			v, err := s.Wait(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, id, v)
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, tbl.Len())
}
