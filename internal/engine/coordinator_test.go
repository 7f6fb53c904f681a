package engine

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"local.dev/socialdemo-sync/internal/errs"
	"local.dev/socialdemo-sync/internal/models"
	"local.dev/socialdemo-sync/internal/remote"
)

type releaseSpy struct {
	name string
	log  *[]string
}

func (r releaseSpy) Release() { *r.log = append(*r.log, r.name) }

func signedIn(t *testing.T) *Coordinator {
	t.Helper()
	c := NewCoordinator()
	require.NoError(t, c.BeginLoading())
	require.NoError(t, c.CompleteLoading(models.User{ID: "u1", Username: "alice"}))
	return c
}

func TestSessionTransitions(t *testing.T) {
	c := NewCoordinator()
	var states []SessionState
	c.Observe(func(ev Event) {
		if ev.Kind == SessionChanged {
			states = append(states, ev.State)
		}
	})

	assert.ErrorIs(t, c.SignOut(), errs.ErrInvalidTransition)
	assert.ErrorIs(t, c.CompleteLoading(models.User{ID: "u1"}), errs.ErrInvalidTransition)

	require.NoError(t, c.BeginLoading())
	assert.ErrorIs(t, c.BeginLoading(), errs.ErrInvalidTransition)
	require.NoError(t, c.CompleteLoading(models.User{ID: "u1"}))
	assert.Equal(t, "u1", c.UserID())
	require.NoError(t, c.SignOut())
	assert.Nil(t, c.User())

	assert.Equal(t, []SessionState{Loading, SignedIn, SignedOut}, states)
}

func TestFailedLoadingReportsCause(t *testing.T) {
	c := NewCoordinator()
	var last Event
	c.Observe(func(ev Event) { last = ev })
	require.NoError(t, c.BeginLoading())
	require.NoError(t, c.FailLoading(errs.NotFound("users/u1")))
	assert.Equal(t, SignedOut, last.State)
	assert.ErrorIs(t, last.Err, errs.ErrNotFound)
	assert.Equal(t, SignedOut, c.State())
}

func TestSignOutReleasesScopesBeforeReporting(t *testing.T) {
	loop, store, subs := newSubs()
	c := signedIn(t)

	var order []string
	c.BindSession(releaseSpy{name: "session", log: &order})
	require.NoError(t, c.SelectChat("c1", &models.User{ID: "u2"}))
	c.BindChat(releaseSpy{name: "chat", log: &order})

	chatOwner := subs.NewOwner("chat")
	chatRef := remote.Doc(remote.Chats, "c1")
	handle := chatOwner.Subscribe(chatRef, nil, func(remote.Snapshot) {}, nil)
	c.BindChat(chatOwner)

	closedAtReport := false
	c.Observe(func(ev Event) {
		if ev.Kind == SessionChanged && ev.State == SignedOut {
			closedAtReport = handle.Closed() && len(store.live(chatRef.Key())) == 0
			order = append(order, "reported")
		}
	})

	require.NoError(t, c.SignOut())
	loop.Drain()
	assert.True(t, closedAtReport)
	assert.Equal(t, []string{"chat", "session", "reported"}, order)
	id, peer := c.ActiveChat()
	assert.Empty(t, id)
	assert.Nil(t, peer)
}

func TestSelectChatReleasesPreviousChatFirst(t *testing.T) {
	c := signedIn(t)
	var order []string
	require.NoError(t, c.SelectChat("c1", nil))
	c.BindChat(releaseSpy{name: "c1", log: &order})
	c.Observe(func(ev Event) {
		if ev.Kind == ChatChanged {
			order = append(order, "notify:"+ev.ChatID)
		}
	})

	require.NoError(t, c.SelectChat("c1", nil))
	assert.Empty(t, order)

	require.NoError(t, c.SelectChat("c2", nil))
	assert.Equal(t, []string{"c1", "notify:c2"}, order)

	c.ClearChat()
	assert.Equal(t, []string{"c1", "notify:c2", "notify:"}, order)
}

func TestSelectChatRequiresSession(t *testing.T) {
	c := NewCoordinator()
	assert.ErrorIs(t, c.SelectChat("c1", nil), errs.ErrAuth)
	c = signedIn(t)
	assert.ErrorIs(t, c.SelectChat("", nil), errs.ErrValidation)
}

func TestBindOutsideScopeReleasesImmediately(t *testing.T) {
	c := NewCoordinator()
	var order []string
	c.BindSession(releaseSpy{name: "s", log: &order})
	c.BindChat(releaseSpy{name: "c", log: &order})
	assert.Equal(t, []string{"s", "c"}, order)
}

func TestObserverRemoval(t *testing.T) {
	c := NewCoordinator()
	n := 0
	stop := c.Observe(func(Event) { n++ })
	c.Notify(errors.New("presence write failed"))
	stop()
	c.Notify(errors.New("again"))
	c.Notify(nil)
	assert.Equal(t, 1, n)
}
