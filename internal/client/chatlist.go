package client

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"

	"local.dev/socialdemo-sync/internal/engine"
	"local.dev/socialdemo-sync/internal/errs"
	"local.dev/socialdemo-sync/internal/models"
	"local.dev/socialdemo-sync/internal/remote"
)

func idOfSummary(s models.ChatSummary) string { return s.ChatID }

// ChatListView is the signed-in user's conversation index joined with each
// peer's profile, most recently updated first.
type ChatListView struct {
	c     *Client
	uid   string
	owner *engine.Owner
	list  *engine.List[models.ChatSummary]
	queue *engine.MutationQueue[models.ChatSummary]

	peers  map[string]*models.User
	gone   map[string]bool // peer account deleted
	retry  map[string]bool // placeholder, fetch again on the next snapshot
	latest uint64
}

func newChatListView(c *Client, uid string) *ChatListView {
	v := &ChatListView{
		c:     c,
		uid:   uid,
		owner: c.subs.NewOwner("chats"),
		peers: map[string]*models.User{},
		gone:  map[string]bool{},
		retry: map[string]bool{},
	}
	v.list = engine.NewList(engine.Reducer[models.ChatSummary]{
		Entity: "chat_summary",
		Decode: v.decode,
		Less:   engine.NewestFirst(func(s models.ChatSummary) time.Time { return s.UpdatedAt }, idOfSummary),
		Equal:  models.ChatSummary.Equal,
	}, idOfSummary)
	v.list.OnRender(func(items []models.ChatSummary) { c.emit(Event{View: ViewChats, Data: items}) })
	v.queue = engine.NewMutationQueue(c.loop, v.list, v.owner, c.options()...)
	v.owner.Subscribe(remote.Doc(remote.UserChats, uid), nil, v.onSnapshot, c.notice)
	return v
}

func (v *ChatListView) Release() { v.owner.Release() }

// entries explodes the index document into one record per chat.
func entries(snap remote.Snapshot) remote.Snapshot {
	out := remote.Snapshot{Version: snap.Version, ReadTime: snap.ReadTime, Records: []remote.Record{}}
	if len(snap.Records) == 0 {
		return out
	}
	doc := snap.Records[0]
	raw, _ := doc.Data["chats"].([]any)
	for i, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		id, _ := m["chatId"].(string)
		if id == "" {
			id = "#" + strconv.Itoa(i)
		}
		out.Records = append(out.Records, remote.Record{ID: id, Data: m, UpdateTime: doc.UpdateTime})
	}
	return out
}

func (v *ChatListView) decode(rec remote.Record) (models.ChatSummary, error) {
	e, err := models.DecodeChatEntry(rec.Data)
	if err != nil {
		return models.ChatSummary{}, err
	}
	peer := v.peers[e.ReceiverID]
	if peer == nil {
		return models.ChatSummary{}, errs.NotFound("peer %s of chat %s", e.ReceiverID, e.ChatID)
	}
	return models.ChatSummary{
		ChatID:      e.ChatID,
		ReceiverID:  e.ReceiverID,
		LastMessage: e.LastMessage,
		UpdatedAt:   e.UpdatedAt,
		IsSeen:      e.IsSeen,
		Peer:        peer,
	}, nil
}

// onSnapshot resolves unknown peers off the loop before reducing. Only the
// newest snapshot is applied once its peers arrive.
func (v *ChatListView) onSnapshot(snap remote.Snapshot) {
	exploded := entries(snap)
	v.latest = exploded.Version

	var missing []string
	seen := map[string]bool{}
	for _, rec := range exploded.Records {
		id, _ := rec.Data["receiverId"].(string)
		if id == "" || seen[id] || v.gone[id] {
			continue
		}
		if _, ok := v.peers[id]; ok && !v.retry[id] {
			continue
		}
		seen[id] = true
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		v.list.Apply(exploded)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), v.c.opts.MutationTimeout)
		defer cancel()
		found, failed := v.c.profiles.Resolve(ctx, missing)
		v.c.loop.Post(func() {
			if v.owner.Released() {
				return
			}
			v.learn(found, failed)
			if v.latest == exploded.Version {
				v.list.Apply(exploded)
			}
		})
	}()
}

func (v *ChatListView) learn(found map[string]models.User, failed map[string]error) {
	for id, u := range found {
		v.peers[id] = &u
		delete(v.retry, id)
	}
	for id, err := range failed {
		if errs.KindOf(err) == errs.KindNotFound {
			v.gone[id] = true
			delete(v.peers, id)
			delete(v.retry, id)
			continue
		}
		jww.WARN.Printf("peer %s unavailable: %v", id, err)
		if _, ok := v.peers[id]; !ok {
			v.peers[id] = &models.User{ID: id}
		}
		v.retry[id] = true
	}
}

func (v *ChatListView) markSeen(chatID string) (*engine.Pending, error) {
	cur, ok := v.list.Get(chatID)
	if !ok {
		return nil, errs.NotFound("chat %s", chatID)
	}
	if cur.IsSeen {
		return nil, nil
	}
	uid := v.uid
	p, _, err := v.queue.ApplyLocal(chatID, "seen",
		func(s models.ChatSummary) models.ChatSummary { s.IsSeen = true; return s },
		func(ctx context.Context, _, _ models.ChatSummary) error {
			return v.c.deps.Store.RunTransaction(ctx, func(_ context.Context, tx remote.Tx) error {
				return rewriteEntry(tx, remote.Doc(remote.UserChats, uid), chatID, func(m map[string]any) {
					m["isSeen"] = true
				})
			})
		})
	return p, err
}

// rewriteEntry is a transactional read-modify-write of one chat entry in
// an index document, always starting from the freshest copy.
func rewriteEntry(tx remote.Tx, ref remote.Ref, chatID string, fn func(map[string]any)) error {
	rec, ok, err := tx.Get(ref)
	if err != nil {
		return err
	}
	if !ok {
		return errs.NotFound("%s", ref.Path())
	}
	return tx.Set(ref, map[string]any{"chats": modifyEntry(rec, chatID, fn)}, true)
}

func modifyEntry(rec remote.Record, chatID string, fn func(map[string]any)) []any {
	raw, _ := rec.Data["chats"].([]any)
	out := make([]any, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if ok && m["chatId"] == chatID {
			cp := make(map[string]any, len(m))
			for k, v := range m {
				cp[k] = v
			}
			fn(cp)
			item = cp
		}
		out = append(out, item)
	}
	return out
}

// Chats returns the chat list, narrowed to peers whose username contains
// filter (case-insensitive) when filter is not empty.
func (c *Client) Chats(ctx context.Context, filter string) ([]models.ChatSummary, error) {
	filter = strings.ToLower(strings.TrimSpace(filter))
	var out []models.ChatSummary
	err := c.call(ctx, func() error {
		if _, err := c.requireUser(); err != nil {
			return err
		}
		items := c.chats.list.Items()
		if filter == "" {
			out = items
			return nil
		}
		out = make([]models.ChatSummary, 0, len(items))
		for _, s := range items {
			if s.Peer != nil && strings.Contains(strings.ToLower(s.Peer.Username), filter) {
				out = append(out, s)
			}
		}
		return nil
	})
	return out, err
}

// SearchUser finds a user by exact username.
func (c *Client) SearchUser(ctx context.Context, username string) (models.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return models.User{}, errs.Validation("username is empty")
	}
	recs, err := c.deps.Store.Query(ctx, remote.Query{Collection: remote.Users}.Where("username", "==", username))
	if err != nil {
		return models.User{}, errs.Classify(err, "search user")
	}
	if len(recs) == 0 {
		return models.User{}, errs.NotFound("user %q", username)
	}
	return models.DecodeUser(recs[0])
}

// AddChat opens a conversation with peerID, creating the chat document and
// an index entry on both sides in one transaction. An existing chat with
// the same peer is returned instead.
func (c *Client) AddChat(ctx context.Context, peerID string) (string, error) {
	var uid string
	if err := c.call(ctx, func() error {
		u, err := c.requireUser()
		uid = u.ID
		return err
	}); err != nil {
		return "", err
	}
	if peerID == "" || peerID == uid {
		return "", errs.Validation("cannot start a chat with %q", peerID)
	}
	if _, err := c.profiles.Get(ctx, peerID); err != nil {
		if errs.KindOf(err) == errs.KindNotFound {
			return "", err
		}
		return "", errs.Classify(err, "load peer")
	}

	chatRef := c.deps.Store.NewRef(remote.Chats)
	now := time.Now().UTC()
	chatID := chatRef.ID
	err := c.deps.Store.RunTransaction(ctx, func(_ context.Context, tx remote.Tx) error {
		chatID = chatRef.ID
		ownRef, peerRef := remote.Doc(remote.UserChats, uid), remote.Doc(remote.UserChats, peerID)
		own, ownOK, err := tx.Get(ownRef)
		if err != nil {
			return err
		}
		_, peerOK, err := tx.Get(peerRef)
		if err != nil {
			return err
		}
		if ownOK {
			idx, _ := models.DecodeChatIndex(own)
			for _, e := range idx {
				if e.ReceiverID == peerID {
					chatID = e.ChatID
					return nil
				}
			}
		}

		if err := tx.Set(chatRef, map[string]any{"createdAt": now, "messages": []any{}}, false); err != nil {
			return err
		}
		mine := models.ChatEntry{ChatID: chatRef.ID, ReceiverID: peerID, UpdatedAt: now, IsSeen: true}
		theirs := models.ChatEntry{ChatID: chatRef.ID, ReceiverID: uid, UpdatedAt: now}
		if err := appendEntry(tx, ownRef, ownOK, mine); err != nil {
			return err
		}
		return appendEntry(tx, peerRef, peerOK, theirs)
	})
	if err != nil {
		return "", errs.Classify(err, "add chat")
	}
	jww.INFO.Printf("chat %s between %s and %s", chatID, uid, peerID)
	return chatID, nil
}

func appendEntry(tx remote.Tx, ref remote.Ref, exists bool, e models.ChatEntry) error {
	if !exists {
		return tx.Set(ref, models.ChatIndexDoc([]models.ChatEntry{e}), false)
	}
	return tx.Update(ref, remote.ArrayUnion("chats", models.ChatEntryValue(e)))
}

// SelectChat opens chatID, marking it seen. Selecting the open chat again
// changes nothing.
func (c *Client) SelectChat(ctx context.Context, chatID string) error {
	var p *engine.Pending
	err := c.call(ctx, func() error {
		if _, err := c.requireUser(); err != nil {
			return err
		}
		s, ok := c.chats.list.Get(chatID)
		if !ok {
			return errs.NotFound("chat %s", chatID)
		}
		var err error
		if p, err = c.chats.markSeen(chatID); err != nil {
			return err
		}
		return c.coord.SelectChat(chatID, s.Peer)
	})
	if err != nil || p == nil {
		return err
	}
	return errors.WithMessage(p.Wait(ctx), "mark seen")
}

// ClearChat closes the open chat.
func (c *Client) ClearChat(ctx context.Context) error {
	return c.call(ctx, func() error { c.coord.ClearChat(); return nil })
}
