package client

import (
	"context"
	"strings"

	"local.dev/socialdemo-sync/internal/engine"
	"local.dev/socialdemo-sync/internal/models"
	"local.dev/socialdemo-sync/internal/remote"
)

var onlineQuery = remote.Query{Collection: remote.Users}.Where("isOnline", "==", true)

// excludeUser drops one account, normally the signed-in user, from a user
// list.
type excludeUser string

func (x excludeUser) Key() string { return "exclude:" + string(x) }

func (x excludeUser) Keep(u models.User) bool { return u.ID != string(x) }

func byUsername(a, b models.User) bool {
	la, lb := strings.ToLower(a.Username), strings.ToLower(b.Username)
	if la != lb {
		return la < lb
	}
	return a.ID < b.ID
}

func idOfUser(u models.User) string { return u.ID }

// PresenceView lists the other users currently online.
type PresenceView struct {
	owner *engine.Owner
	list  *engine.List[models.User]
}

func newPresenceView(c *Client, uid string) *PresenceView {
	pred := excludeUser(uid)
	v := &PresenceView{owner: c.subs.NewOwner("presence")}
	v.list = engine.NewList(engine.Reducer[models.User]{
		Entity: "user",
		Decode: models.DecodeUser,
		Keep:   pred.Keep,
		Less:   byUsername,
		Equal:  models.User.Equal,
	}, idOfUser)
	v.list.OnRender(func(us []models.User) { c.emit(Event{View: ViewPresence, Data: us}) })
	v.owner.Subscribe(onlineQuery, pred, v.list.Apply, c.notice)
	return v
}

func (v *PresenceView) Release() { v.owner.Release() }

// OnlineUsers returns the other signed-in users, ordered by username.
func (c *Client) OnlineUsers(ctx context.Context) ([]models.User, error) {
	var out []models.User
	err := c.call(ctx, func() error {
		if _, err := c.requireUser(); err != nil {
			return err
		}
		out = c.presence.list.Items()
		return nil
	})
	return out, err
}
