// Package client is the view layer of one signed-in user: the feed, the
// chat list, presence and the open chat, kept in sync with the remote
// store through the engine. Exported methods are safe for concurrent use;
// they hop onto the engine loop for every state access.
package client

import (
	"context"
	"sync/atomic"
	"time"

	jww "github.com/spf13/jwalterweatherman"

	"local.dev/socialdemo-sync/internal/engine"
	"local.dev/socialdemo-sync/internal/errs"
	"local.dev/socialdemo-sync/internal/geo"
	"local.dev/socialdemo-sync/internal/models"
	"local.dev/socialdemo-sync/internal/remote"
)

// Deps are the remote services a Client is a view over.
type Deps struct {
	Store   remote.DocStore
	Auth    remote.Auth
	Blobs   remote.Blobs
	Locator remote.Locator
}

type Options struct {
	// Radius of the feed filter in meters.
	Radius          float64
	MutationTimeout time.Duration
	// Executor runs remote writes; nil means one goroutine per write.
	Executor func(func())
}

// Client owns the engine loop and every mounted view.
type Client struct {
	deps     Deps
	opts     Options
	loop     *engine.Loop
	subs     *engine.Subscriptions
	coord    *engine.Coordinator
	profiles *Profiles

	signingIn atomic.Bool

	// loop-confined
	origin    *geo.Point
	feed      *FeedView
	chats     *ChatListView
	presence  *PresenceView
	chat      *ChatView
	listeners map[int]func(Event)
	order     []int
	nextL     int
}

func New(deps Deps, opts Options) *Client {
	if opts.Radius <= 0 {
		opts.Radius = geo.DefaultRadiusMeters
	}
	if opts.MutationTimeout <= 0 {
		opts.MutationTimeout = engine.DefaultMutationTimeout
	}
	loop := engine.NewLoop()
	c := &Client{
		deps:      deps,
		opts:      opts,
		loop:      loop,
		subs:      engine.NewSubscriptions(loop, deps.Store),
		coord:     engine.NewCoordinator(),
		profiles:  NewProfiles(deps.Store),
		listeners: map[int]func(Event){},
	}
	c.coord.Observe(c.onCoordinator)
	return c
}

// Run drives the client until ctx ends: it watches the auth session and
// the device position and runs the engine loop.
func (c *Client) Run(ctx context.Context) error {
	stopAuth := c.deps.Auth.OnSessionChange(func(s *remote.Session) {
		c.loop.Post(func() { c.onAuthSession(s) })
	})
	defer stopAuth()

	if c.deps.Locator != nil {
		stopLoc := c.deps.Locator.Watch(ctx, func(p geo.Point, err error) {
			if err != nil {
				jww.WARN.Printf("position unavailable: %v", err)
				return
			}
			c.loop.Post(func() { c.setOrigin(p) })
		})
		defer stopLoc()
	}

	err := c.loop.Run(ctx)
	c.loop.Post(c.unmountAll)
	c.loop.Drain()
	return err
}

func (c *Client) options() []engine.QueueOption {
	opts := []engine.QueueOption{engine.WithTimeout(c.opts.MutationTimeout)}
	if c.opts.Executor != nil {
		opts = append(opts, engine.WithExecutor(c.opts.Executor))
	}
	return opts
}

// call runs fn on the loop and returns its error.
func (c *Client) call(ctx context.Context, fn func() error) error {
	var err error
	if cerr := c.loop.Call(ctx, func() { err = fn() }); cerr != nil {
		return cerr
	}
	return err
}

// requireUser must run on the loop.
func (c *Client) requireUser() (models.User, error) {
	if c.coord.State() != engine.SignedIn || c.coord.User() == nil {
		return models.User{}, errs.Auth("not signed in")
	}
	return *c.coord.User(), nil
}

// Events registers fn for every view and session event. fn runs on the
// engine loop and must not block or call back into the Client.
func (c *Client) Events(ctx context.Context, fn func(Event)) (cancel func(), err error) {
	var id int
	err = c.loop.Call(ctx, func() {
		c.nextL++
		id = c.nextL
		c.listeners[id] = fn
		c.order = append(c.order, id)
	})
	if err != nil {
		return func() {}, err
	}
	return func() {
		c.loop.Post(func() {
			delete(c.listeners, id)
			for i, x := range c.order {
				if x == id {
					c.order = append(c.order[:i], c.order[i+1:]...)
					break
				}
			}
		})
	}, nil
}

func (c *Client) emit(ev Event) {
	ids := append([]int(nil), c.order...)
	for _, id := range ids {
		if fn, ok := c.listeners[id]; ok {
			fn(ev)
		}
	}
}

// notice surfaces a non-fatal error to every observer.
func (c *Client) notice(err error) {
	jww.WARN.Printf("notice: %v", err)
	c.coord.Notify(err)
}

// onCoordinator mounts and unmounts views as the session and the chat
// selection change. Scopes are already released when it runs.
func (c *Client) onCoordinator(ev engine.Event) {
	switch ev.Kind {
	case engine.SessionChanged:
		switch ev.State {
		case engine.SignedIn:
			c.mountSession(*ev.User)
		case engine.SignedOut:
			c.feed, c.chats, c.presence, c.chat = nil, nil, nil, nil
		}
	case engine.ChatChanged:
		c.chat = nil
		if ev.ChatID != "" {
			c.chat = newChatView(c, ev.ChatID, ev.Peer)
			c.coord.BindChat(c.chat)
		}
	}
	c.emit(eventFrom(ev))
}

func (c *Client) mountSession(u models.User) {
	c.feed = newFeedView(c, c.origin)
	c.coord.BindSession(c.feed)
	c.chats = newChatListView(c, u.ID)
	c.coord.BindSession(c.chats)
	c.presence = newPresenceView(c, u.ID)
	c.coord.BindSession(c.presence)
}

func (c *Client) unmountAll() {
	if c.coord.State() == engine.SignedIn {
		_ = c.coord.SignOut()
	}
}

// State returns the coordinator state.
func (c *Client) State(ctx context.Context) (SessionInfo, error) {
	var out SessionInfo
	err := c.loop.Call(ctx, func() { out = c.sessionInfo() })
	return out, err
}

func (c *Client) sessionInfo() SessionInfo {
	out := SessionInfo{State: c.coord.State().String(), Origin: c.origin}
	if u := c.coord.User(); u != nil {
		cp := *u
		out.User = &cp
	}
	out.ChatID, out.Peer = c.coord.ActiveChat()
	for _, v := range []struct {
		name   string
		loaded bool
	}{
		{ViewFeed, c.feed != nil && c.feed.list.Loaded()},
		{ViewChats, c.chats != nil && c.chats.list.Loaded()},
		{ViewPresence, c.presence != nil && c.presence.list.Loaded()},
		{ViewMessages, c.chat != nil && c.chat.list.Loaded()},
	} {
		if v.loaded {
			out.Loaded = append(out.Loaded, v.name)
		}
	}
	return out
}
