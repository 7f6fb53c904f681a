package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"local.dev/socialdemo-sync/internal/remote"
)

func TestReduceOrdersNewestFirstWithIDTieBreak(t *testing.T) {
	r := itemReducer()
	out := r.Reduce(nil, snapOf(1,
		itemRecord("b", 1, epoch),
		itemRecord("c", 1, epoch.Add(time.Minute)),
		itemRecord("a", 1, epoch),
	))
	require.Len(t, out, 3)
	assert.Equal(t, []string{"c", "a", "b"}, []string{out[0].ID, out[1].ID, out[2].ID})
}

func TestReduceDropsMalformedRecords(t *testing.T) {
	r := itemReducer()
	out := r.Reduce(nil, snapOf(1,
		itemRecord("a", 1, epoch),
		remote.Record{ID: "broken", Data: map[string]any{"n": "x"}},
	))
	require.Len(t, out, 1)
	assert.Equal(t, "a", out[0].ID)
}

func TestReduceAppliesPredicate(t *testing.T) {
	r := itemReducer()
	r.Keep = func(i item) bool { return i.N > 1 }
	out := r.Reduce(nil, snapOf(1, itemRecord("a", 1, epoch), itemRecord("b", 2, epoch)))
	require.Len(t, out, 1)
	assert.Equal(t, "b", out[0].ID)
}

func TestReduceKeepsIdentityWhenUnchanged(t *testing.T) {
	r := itemReducer()
	snap := snapOf(1, itemRecord("a", 1, epoch), itemRecord("b", 2, epoch))
	first := r.Reduce(nil, snap)

	again := r.Reduce(first, snapOf(2, itemRecord("b", 2, epoch), itemRecord("a", 1, epoch)))
	require.Len(t, again, 2)
	assert.Same(t, &first[0], &again[0])

	changed := r.Reduce(first, snapOf(3, itemRecord("a", 9, epoch), itemRecord("b", 2, epoch)))
	assert.NotSame(t, &first[0], &changed[0])
	assert.Equal(t, 9, changed[0].N)
}

func TestStableEmptyLists(t *testing.T) {
	prev := []item{}
	assert.Equal(t, 0, len(Stable(prev, []item{}, item.Equal)))
	assert.Nil(t, Stable[item](nil, nil, item.Equal))
}

func TestReduceWithoutEqualAlwaysRebuilds(t *testing.T) {
	r := itemReducer()
	r.Equal = nil
	snap := snapOf(1, itemRecord("a", 1, epoch))
	first := r.Reduce(nil, snap)
	require.Len(t, first, 1)

	again := r.Reduce(first, snap)
	require.Len(t, again, 1)
	assert.NotSame(t, &first[0], &again[0])
}

func TestOldestFirst(t *testing.T) {
	less := OldestFirst(func(i item) time.Time { return i.At }, itemID)
	assert.True(t, less(item{ID: "b", At: epoch}, item{ID: "a", At: epoch.Add(time.Second)}))
	assert.True(t, less(item{ID: "a", At: epoch}, item{ID: "b", At: epoch}))
}
