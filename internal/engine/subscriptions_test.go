package engine

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"local.dev/socialdemo-sync/internal/errs"
	"local.dev/socialdemo-sync/internal/remote"
)

type radius string

func (r radius) Key() string { return string(r) }

func newSubs() (*Loop, *fakeStore, *Subscriptions) {
	loop := NewLoop()
	store := &fakeStore{}
	return loop, store, NewSubscriptions(loop, store)
}

func TestSubscribersShareOneListener(t *testing.T) {
	loop, store, subs := newSubs()
	posts := remote.Query{Collection: remote.Posts}

	var a, b []uint64
	ha := subs.Subscribe(posts, radius("5000"), func(s remote.Snapshot) { a = append(a, s.Version) }, nil)
	hb := subs.Subscribe(posts, radius("5000"), func(s remote.Snapshot) { b = append(b, s.Version) }, nil)
	require.Equal(t, 1, store.opened())
	assert.Equal(t, 2, subs.Refs(ha.Key()))

	store.push(posts.Key(), snapOf(1))
	loop.Drain()
	assert.Equal(t, []uint64{1}, a)
	assert.Equal(t, []uint64{1}, b)

	subs.Unsubscribe(ha)
	require.Len(t, store.live(posts.Key()), 1)
	store.push(posts.Key(), snapOf(2))
	loop.Drain()
	assert.Equal(t, []uint64{1}, a)
	assert.Equal(t, []uint64{1, 2}, b)

	subs.Unsubscribe(hb)
	assert.Empty(t, store.live(posts.Key()))
	assert.Empty(t, subs.Active())
}

func TestDifferentPredicatesOpenSeparateListeners(t *testing.T) {
	_, store, subs := newSubs()
	posts := remote.Query{Collection: remote.Posts}
	subs.Subscribe(posts, radius("5000"), func(remote.Snapshot) {}, nil)
	subs.Subscribe(posts, radius("1000"), func(remote.Snapshot) {}, nil)
	assert.Equal(t, 2, store.opened())
	assert.Len(t, subs.Active(), 2)
}

func TestLateJoinerReceivesCachedSnapshot(t *testing.T) {
	loop, store, subs := newSubs()
	ref := remote.Doc(remote.UserChats, "u1")
	subs.Subscribe(ref, nil, func(remote.Snapshot) {}, nil)
	store.push(ref.Key(), snapOf(3))
	loop.Drain()

	var got []uint64
	subs.Subscribe(ref, nil, func(s remote.Snapshot) { got = append(got, s.Version) }, nil)
	loop.Drain()
	assert.Equal(t, []uint64{3}, got)
	assert.Equal(t, 1, store.opened())
}

func TestLateJoinerNeverGoesBackwards(t *testing.T) {
	loop, store, subs := newSubs()
	ref := remote.Doc(remote.UserChats, "u1")
	subs.Subscribe(ref, nil, func(remote.Snapshot) {}, nil)
	store.push(ref.Key(), snapOf(3))
	loop.Drain()

	store.push(ref.Key(), snapOf(4))
	var got []uint64
	subs.Subscribe(ref, nil, func(s remote.Snapshot) { got = append(got, s.Version) }, nil)
	loop.Drain()
	assert.Equal(t, []uint64{4}, got)

	store.push(ref.Key(), snapOf(5))
	loop.Drain()
	assert.Equal(t, []uint64{4, 5}, got)
}

func TestStaleSnapshotIsDropped(t *testing.T) {
	loop, store, subs := newSubs()
	ref := remote.Doc(remote.Chats, "c1")
	var got []uint64
	subs.Subscribe(ref, nil, func(s remote.Snapshot) { got = append(got, s.Version) }, nil)

	store.push(ref.Key(), snapOf(5))
	store.push(ref.Key(), snapOf(4))
	store.push(ref.Key(), snapOf(6))
	loop.Drain()
	assert.Equal(t, []uint64{5, 6}, got)
}

func TestNoCallbackAfterUnsubscribe(t *testing.T) {
	loop, store, subs := newSubs()
	ref := remote.Doc(remote.Chats, "c1")
	calls := 0
	h := subs.Subscribe(ref, nil, func(remote.Snapshot) { calls++ }, func(error) { calls++ })

	store.push(ref.Key(), snapOf(1))
	store.fail(ref.Key(), errors.New("boom"))
	subs.Unsubscribe(h)
	subs.Unsubscribe(h)
	loop.Drain()
	assert.Zero(t, calls)
	assert.True(t, h.Closed())
}

func TestUnsubscribeFromInsideCallback(t *testing.T) {
	loop, store, subs := newSubs()
	ref := remote.Doc(remote.Chats, "c1")
	var second *Handle
	secondCalls := 0
	subs.Subscribe(ref, nil, func(remote.Snapshot) { subs.Unsubscribe(second) }, nil)
	second = subs.Subscribe(ref, nil, func(remote.Snapshot) { secondCalls++ }, nil)

	store.push(ref.Key(), snapOf(1))
	loop.Drain()
	assert.Zero(t, secondCalls)
	assert.Len(t, store.live(ref.Key()), 1)
}

func TestRemoteErrorKeepsLastSnapshot(t *testing.T) {
	loop, store, subs := newSubs()
	ref := remote.Doc(remote.Users, "u1")
	var gotErr error
	subs.Subscribe(ref, nil, func(remote.Snapshot) {}, func(err error) { gotErr = err })
	store.push(ref.Key(), snapOf(2))
	store.fail(ref.Key(), errors.New("connection reset"))
	loop.Drain()
	require.Error(t, gotErr)
	assert.ErrorIs(t, gotErr, errs.ErrNetwork)

	var late []uint64
	subs.Subscribe(ref, nil, func(s remote.Snapshot) { late = append(late, s.Version) }, nil)
	loop.Drain()
	assert.Equal(t, []uint64{2}, late)
}

func TestOwnerReleaseClosesEveryHandle(t *testing.T) {
	loop, store, subs := newSubs()
	owner := subs.NewOwner("feed")
	released := false
	owner.OnRelease(func() { released = true })
	h1 := owner.Subscribe(remote.Doc(remote.Users, "a"), nil, func(remote.Snapshot) {}, nil)
	h2 := owner.Subscribe(remote.Doc(remote.Users, "b"), nil, func(remote.Snapshot) {}, nil)

	owner.Release()
	owner.Release()
	loop.Drain()
	assert.True(t, h1.Closed())
	assert.True(t, h2.Closed())
	assert.True(t, released)
	assert.Empty(t, store.live(remote.Doc(remote.Users, "a").Key()))

	h3 := owner.Subscribe(remote.Doc(remote.Users, "c"), nil, func(remote.Snapshot) {}, nil)
	assert.True(t, h3.Closed())
	assert.Equal(t, 2, store.opened())
}
