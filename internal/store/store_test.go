package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"local.dev/socialdemo-sync/internal/errs"
	"local.dev/socialdemo-sync/internal/remote"
)

var ctx = context.Background()

func TestGetMissingIsNotFound(t *testing.T) {
	s := NewStore()
	_, err := s.Get(ctx, remote.Doc(remote.Users, "nobody"))
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestSetMergeKeepsOtherFields(t *testing.T) {
	s := NewStore()
	ref := remote.Doc(remote.Users, "u1")
	require.NoError(t, s.Set(ctx, ref, map[string]any{"username": "alice", "isOnline": false}, false))
	require.NoError(t, s.Set(ctx, ref, map[string]any{"isOnline": true}, true))

	rec, err := s.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "alice", rec.Data["username"])
	assert.Equal(t, true, rec.Data["isOnline"])

	require.NoError(t, s.Set(ctx, ref, map[string]any{"isOnline": false}, false))
	rec, _ = s.Get(ctx, ref)
	assert.NotContains(t, rec.Data, "username")
}

func TestUpdateReactionIsOneAtomicStep(t *testing.T) {
	s := NewStore()
	ref := remote.Doc(remote.Posts, "p1")
	require.NoError(t, s.Set(ctx, ref, map[string]any{"likes": []any{}, "dislikes": []any{"u1"}}, false))

	require.NoError(t, s.Update(ctx, ref,
		remote.ArrayUnion("likes", "u1"),
		remote.ArrayRemove("dislikes", "u1")))
	rec, _ := s.Get(ctx, ref)
	assert.Equal(t, []any{"u1"}, rec.Data["likes"])
	assert.Equal(t, []any{}, rec.Data["dislikes"])

	// union is idempotent
	require.NoError(t, s.Update(ctx, ref, remote.ArrayUnion("likes", "u1")))
	rec, _ = s.Get(ctx, ref)
	assert.Len(t, rec.Data["likes"], 1)
}

func TestUpdateMissingDocument(t *testing.T) {
	s := NewStore()
	err := s.Update(ctx, remote.Doc(remote.Posts, "nope"), remote.SetField("caption", "x"))
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestConcurrentArrayUnionKeepsEveryComment(t *testing.T) {
	s := NewStore()
	ref := remote.Doc(remote.Posts, "p1")
	require.NoError(t, s.Set(ctx, ref, map[string]any{"comments": []any{}}, false))

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := map[string]any{"id": fmt.Sprintf("c%d", i), "text": "hi"}
			assert.NoError(t, s.Update(ctx, ref, remote.ArrayUnion("comments", c)))
		}(i)
	}
	wg.Wait()
	rec, _ := s.Get(ctx, ref)
	assert.Len(t, rec.Data["comments"], 40)
}

func TestNestedFieldPath(t *testing.T) {
	s := NewStore()
	ref := remote.Doc(remote.Users, "u1")
	require.NoError(t, s.Set(ctx, ref, map[string]any{}, false))
	require.NoError(t, s.Update(ctx, ref, remote.SetField("prefs.theme", "dark"), remote.ServerTime("seenAt")))
	rec, _ := s.Get(ctx, ref)
	assert.Equal(t, map[string]any{"theme": "dark"}, rec.Data["prefs"])
	assert.NotNil(t, rec.Data["seenAt"])

	require.NoError(t, s.Update(ctx, ref, remote.DeleteField("prefs.theme")))
	rec, _ = s.Get(ctx, ref)
	assert.Equal(t, map[string]any{}, rec.Data["prefs"])
}

func TestQueryFiltersAndOrder(t *testing.T) {
	s := NewStore()
	for i, name := range []string{"carol", "alice", "bob"} {
		require.NoError(t, s.Set(ctx, remote.Doc(remote.Users, name), map[string]any{
			"username": name, "isOnline": i != 0, "rank": i,
		}, false))
	}
	recs, err := s.Query(ctx, remote.Query{Collection: remote.Users}.Where("isOnline", "==", true))
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "alice", recs[0].ID)

	recs, _ = s.Query(ctx, remote.Query{Collection: remote.Users, OrderBy: "rank", Descending: true, Limit: 2})
	require.Len(t, recs, 2)
	assert.Equal(t, []string{"bob", "alice"}, []string{recs[0].ID, recs[1].ID})

	recs, _ = s.Query(ctx, remote.Query{Collection: remote.Users}.Where("rank", ">=", 1).Where("username", "!=", "bob"))
	require.Len(t, recs, 1)
	assert.Equal(t, "alice", recs[0].ID)
}

func TestListenDeliversOrderedSnapshots(t *testing.T) {
	s := NewStore()
	q := remote.Query{Collection: remote.Posts}
	var mu sync.Mutex
	var versions []uint64
	var sizes []int
	cancel := s.Listen(q, func(snap remote.Snapshot) {
		mu.Lock()
		versions = append(versions, snap.Version)
		sizes = append(sizes, len(snap.Records))
		mu.Unlock()
	}, nil)

	require.NoError(t, s.Set(ctx, remote.Doc(remote.Posts, "a"), map[string]any{"caption": "a"}, false))
	require.NoError(t, s.Set(ctx, remote.Doc(remote.Users, "u"), map[string]any{}, false))
	require.NoError(t, s.Set(ctx, remote.Doc(remote.Posts, "b"), map[string]any{"caption": "b"}, false))
	cancel()
	cancel()
	require.NoError(t, s.Set(ctx, remote.Doc(remote.Posts, "c"), map[string]any{"caption": "c"}, false))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{0, 1, 2}, sizes)
	require.Len(t, versions, 3)
	assert.Less(t, versions[0], versions[1])
	assert.Less(t, versions[1], versions[2])
	assert.Zero(t, s.Listeners())
}

func TestListenDocumentTarget(t *testing.T) {
	s := NewStore()
	ref := remote.Doc(remote.UserChats, "u1")
	var got []int
	cancel := s.Listen(ref, func(snap remote.Snapshot) { got = append(got, len(snap.Records)) }, nil)
	defer cancel()
	require.NoError(t, s.Set(ctx, remote.Doc(remote.UserChats, "u2"), map[string]any{}, false))
	require.NoError(t, s.Set(ctx, ref, map[string]any{"chats": []any{}}, false))
	assert.Equal(t, []int{0, 1}, got)
}

func TestTransactionReadModifyWrite(t *testing.T) {
	s := NewStore()
	ref := remote.Doc(remote.UserChats, "u1")
	require.NoError(t, s.Set(ctx, ref, map[string]any{"n": 1}, false))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.RunTransaction(ctx, func(_ context.Context, tx remote.Tx) error {
				rec, ok, err := tx.Get(ref)
				if err != nil || !ok {
					return errors.New("missing")
				}
				n, _ := rec.Data["n"].(int)
				return tx.Set(ref, map[string]any{"n": n + 1}, true)
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	rec, _ := s.Get(ctx, ref)
	assert.Equal(t, 21, rec.Data["n"])
}

func TestTransactionRules(t *testing.T) {
	s := NewStore()
	ref := remote.Doc(remote.Chats, "c1")
	err := s.RunTransaction(ctx, func(_ context.Context, tx remote.Tx) error {
		require.NoError(t, tx.Set(ref, map[string]any{"messages": []any{}}, false))
		_, _, err := tx.Get(ref)
		return err
	})
	require.Error(t, err)
	_, err = s.Get(ctx, ref)
	assert.ErrorIs(t, err, errs.ErrNotFound, "failed transaction must not write")

	err = s.RunTransaction(ctx, func(_ context.Context, tx remote.Tx) error {
		return tx.Update(ref, remote.ArrayUnion("messages", "x"))
	})
	assert.ErrorIs(t, err, errs.ErrNotFound)

	err = s.RunTransaction(ctx, func(_ context.Context, tx remote.Tx) error {
		if err := tx.Set(ref, map[string]any{"messages": []any{}}, false); err != nil {
			return err
		}
		return tx.Update(ref, remote.ArrayUnion("messages", "x"))
	})
	require.NoError(t, err)
	rec, _ := s.Get(ctx, ref)
	assert.Equal(t, []any{"x"}, rec.Data["messages"])
}

func TestFaultInjection(t *testing.T) {
	s := NewStore()
	ref := remote.Doc(remote.Posts, "p1")
	s.SetOffline(true)
	err := s.Set(ctx, ref, map[string]any{}, false)
	assert.ErrorIs(t, err, errs.ErrNetwork)
	s.SetOffline(false)

	s.FailNext("set", errs.Auth("permission denied"))
	assert.ErrorIs(t, s.Set(ctx, ref, map[string]any{}, false), errs.ErrAuth)
	assert.NoError(t, s.Set(ctx, ref, map[string]any{}, false))

	var gotErr error
	cancel := s.Listen(ref, func(remote.Snapshot) {}, func(err error) { gotErr = err })
	defer cancel()
	s.BreakListeners(errs.ErrNetwork)
	assert.ErrorIs(t, gotErr, errs.ErrNetwork)
}

func TestHoldBlocksUntilReleased(t *testing.T) {
	s := NewStore()
	release := s.Hold()
	done := make(chan error, 1)
	go func() { done <- s.Set(ctx, remote.Doc(remote.Posts, "p"), map[string]any{}, false) }()
	assert.Equal(t, 0, s.Count(remote.Posts))
	release()
	release()
	require.NoError(t, <-done)
	assert.Equal(t, 1, s.Count(remote.Posts))
}

func TestPersistAcrossRestart(t *testing.T) {
	file := filepath.Join(t.TempDir(), "docs.json")
	s := NewStore()
	require.NoError(t, s.Load(file))
	require.NoError(t, s.Set(ctx, remote.Doc(remote.Users, "u1"), map[string]any{"username": "alice"}, false))

	again := NewStore()
	require.NoError(t, again.Load(file))
	u, err := again.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)
}
