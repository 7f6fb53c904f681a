package engine

import (
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"

	"local.dev/socialdemo-sync/internal/errs"
	"local.dev/socialdemo-sync/internal/metrics"
	"local.dev/socialdemo-sync/internal/models"
)

// SessionState is the authentication state shared by every view.
type SessionState int

const (
	SignedOut SessionState = iota
	Loading
	SignedIn
)

func (s SessionState) String() string {
	switch s {
	case Loading:
		return "loading"
	case SignedIn:
		return "signed_in"
	default:
		return "signed_out"
	}
}

// EventKind tells observers what changed.
type EventKind int

const (
	SessionChanged EventKind = iota
	ChatChanged
	Notice
)

func (k EventKind) String() string {
	switch k {
	case ChatChanged:
		return "chat"
	case Notice:
		return "notice"
	default:
		return "session"
	}
}

// Event is delivered synchronously to every observer.
type Event struct {
	Kind   EventKind
	State  SessionState
	User   *models.User
	ChatID string
	Peer   *models.User
	Err    error
}

// Coordinator holds the session and the active chat selection. Views read
// it instead of keeping their own copies, and bind their subscriptions to
// its scopes so a change of session or chat releases them before anything
// keyed on the new value is established.
type Coordinator struct {
	state  SessionState
	user   *models.User
	chatID string
	peer   *models.User

	sessionScope []Releaser
	chatScope    []Releaser

	observers map[int]func(Event)
	order     []int
	nextObs   int
}

func NewCoordinator() *Coordinator {
	return &Coordinator{observers: map[int]func(Event){}}
}

func (c *Coordinator) State() SessionState { return c.state }

// User is the signed-in profile, nil otherwise.
func (c *Coordinator) User() *models.User { return c.user }

// UserID is the signed-in user id, empty otherwise.
func (c *Coordinator) UserID() string {
	if c.user == nil {
		return ""
	}
	return c.user.ID
}

// ActiveChat returns the selected chat and its peer.
func (c *Coordinator) ActiveChat() (string, *models.User) { return c.chatID, c.peer }

// Observe registers fn and returns a func that removes it.
func (c *Coordinator) Observe(fn func(Event)) func() {
	c.nextObs++
	id := c.nextObs
	c.observers[id] = fn
	c.order = append(c.order, id)
	return func() {
		delete(c.observers, id)
		for i, x := range c.order {
			if x == id {
				c.order = append(c.order[:i], c.order[i+1:]...)
				break
			}
		}
	}
}

// BindSession ties r to the current session; it is released at sign-out.
func (c *Coordinator) BindSession(r Releaser) {
	if c.state != SignedIn {
		r.Release()
		return
	}
	c.sessionScope = append(c.sessionScope, r)
}

// BindChat ties r to the active chat; it is released when the selection
// changes or the session ends.
func (c *Coordinator) BindChat(r Releaser) {
	if c.chatID == "" {
		r.Release()
		return
	}
	c.chatScope = append(c.chatScope, r)
}

// BeginLoading moves SignedOut to Loading once a credential is accepted.
func (c *Coordinator) BeginLoading() error {
	if c.state != SignedOut {
		return errors.Wrapf(errs.ErrInvalidTransition, "%s -> %s", c.state, Loading)
	}
	c.transition(Loading, nil)
	return nil
}

// CompleteLoading moves Loading to SignedIn with the fetched profile.
func (c *Coordinator) CompleteLoading(u models.User) error {
	if c.state != Loading {
		return errors.Wrapf(errs.ErrInvalidTransition, "%s -> %s", c.state, SignedIn)
	}
	c.user = &u
	c.transition(SignedIn, nil)
	return nil
}

// FailLoading moves Loading back to SignedOut and reports cause.
func (c *Coordinator) FailLoading(cause error) error {
	if c.state != Loading {
		return errors.Wrapf(errs.ErrInvalidTransition, "%s -> %s", c.state, SignedOut)
	}
	c.transition(SignedOut, cause)
	return nil
}

// SignOut releases the chat scope, then the session scope, and only then
// reports SignedOut.
func (c *Coordinator) SignOut() error {
	if c.state != SignedIn {
		return errors.Wrapf(errs.ErrInvalidTransition, "%s -> %s", c.state, SignedOut)
	}
	c.releaseChat()
	c.chatID, c.peer = "", nil
	release(&c.sessionScope)
	c.user = nil
	c.transition(SignedOut, nil)
	return nil
}

// SelectChat changes the active chat. Selecting the active chat again is
// a no-op.
func (c *Coordinator) SelectChat(chatID string, peer *models.User) error {
	if c.state != SignedIn {
		return errs.Auth("select chat: not signed in")
	}
	if chatID == "" {
		return errs.Validation("select chat: empty chat id")
	}
	if chatID == c.chatID {
		if peer != nil {
			c.peer = peer
		}
		return nil
	}
	c.releaseChat()
	c.chatID, c.peer = chatID, peer
	jww.INFO.Printf("active chat -> %s", chatID)
	c.notify(Event{Kind: ChatChanged, State: c.state, User: c.user, ChatID: chatID, Peer: peer})
	return nil
}

// ClearChat deselects the active chat.
func (c *Coordinator) ClearChat() {
	if c.chatID == "" {
		return
	}
	c.releaseChat()
	c.chatID, c.peer = "", nil
	c.notify(Event{Kind: ChatChanged, State: c.state, User: c.user})
}

// Notify reports a non-fatal condition to every observer.
func (c *Coordinator) Notify(err error) {
	if err == nil {
		return
	}
	c.notify(Event{Kind: Notice, State: c.state, User: c.user, ChatID: c.chatID, Err: err})
}

func (c *Coordinator) releaseChat() {
	release(&c.chatScope)
}

func (c *Coordinator) transition(to SessionState, cause error) {
	from := c.state
	c.state = to
	metrics.IncTransition(from.String(), to.String())
	if cause != nil {
		jww.WARN.Printf("session %s -> %s: %v", from, to, cause)
	} else {
		jww.INFO.Printf("session %s -> %s", from, to)
	}
	c.notify(Event{Kind: SessionChanged, State: to, User: c.user, ChatID: c.chatID, Peer: c.peer, Err: cause})
}

func (c *Coordinator) notify(ev Event) {
	ids := append([]int(nil), c.order...)
	for _, id := range ids {
		if fn, ok := c.observers[id]; ok {
			fn(ev)
		}
	}
}

// release empties scope, releasing in reverse bind order.
func release(scope *[]Releaser) {
	rs := *scope
	*scope = nil
	for i := len(rs) - 1; i >= 0; i-- {
		rs[i].Release()
	}
}
