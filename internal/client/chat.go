package client

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	jww "github.com/spf13/jwalterweatherman"

	"local.dev/socialdemo-sync/internal/engine"
	"local.dev/socialdemo-sync/internal/errs"
	"local.dev/socialdemo-sync/internal/models"
	"local.dev/socialdemo-sync/internal/remote"
)

func idOfMessage(m models.Message) string { return m.ID }

// messages explodes a chat document into one record per message.
func messages(snap remote.Snapshot) remote.Snapshot {
	out := remote.Snapshot{Version: snap.Version, ReadTime: snap.ReadTime, Records: []remote.Record{}}
	if len(snap.Records) == 0 {
		return out
	}
	doc := snap.Records[0]
	raw, _ := doc.Data["messages"].([]any)
	for i, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		msg, err := models.DecodeMessage(m, i)
		out.Records = append(out.Records, remote.Record{ID: msg.ID, Data: m, UpdateTime: doc.UpdateTime})
		if err != nil {
			jww.DEBUG.Printf("chat %s: %v", doc.ID, err)
		}
	}
	return out
}

// ChatView is the message thread of the selected chat, oldest first.
type ChatView struct {
	c     *Client
	id    string
	peer  *models.User
	owner *engine.Owner
	list  *engine.List[models.Message]
	queue *engine.MutationQueue[models.Message]
}

func newChatView(c *Client, chatID string, peer *models.User) *ChatView {
	v := &ChatView{c: c, id: chatID, peer: peer, owner: c.subs.NewOwner("chat:" + chatID)}
	index := map[string]int{}
	v.list = engine.NewList(engine.Reducer[models.Message]{
		Entity: "message",
		Decode: func(rec remote.Record) (models.Message, error) {
			return models.DecodeMessage(rec.Data, index[rec.ID])
		},
		Less:  engine.OldestFirst(func(m models.Message) time.Time { return m.CreatedAt }, idOfMessage),
		Equal: models.Message.Equal,
	}, idOfMessage)
	v.list.OnRender(func(ms []models.Message) {
		c.emit(Event{View: ViewMessages, ChatID: chatID, Data: ms})
	})
	v.queue = engine.NewMutationQueue(c.loop, v.list, v.owner, c.options()...)
	v.owner.Subscribe(remote.Doc(remote.Chats, chatID), nil, func(snap remote.Snapshot) {
		exploded := messages(snap)
		clear(index)
		for i, rec := range exploded.Records {
			index[rec.ID] = i
		}
		v.list.Apply(exploded)
	}, c.notice)
	return v
}

func (v *ChatView) Release() { v.owner.Release() }

// send shows msg at once and commits it together with both participants'
// index entries.
func (v *ChatView) send(uid string, msg models.Message) *engine.Pending {
	insert := func(ms []models.Message) []models.Message {
		for _, m := range ms {
			if m.ID == msg.ID {
				return ms
			}
		}
		return append(ms, msg)
	}
	chatID, peerID := v.id, ""
	if v.peer != nil {
		peerID = v.peer.ID
	}
	return v.queue.Apply("msg:"+msg.ID, "message", insert, func(ctx context.Context) error {
		return v.c.deps.Store.RunTransaction(ctx, func(_ context.Context, tx remote.Tx) error {
			return commitMessage(tx, chatID, uid, peerID, msg)
		})
	})
}

// commitMessage appends msg to the chat and stamps the summary of both
// sides. The sender's copy is seen, the receiver's is not.
func commitMessage(tx remote.Tx, chatID, senderID, peerID string, msg models.Message) error {
	chatRef := remote.Doc(remote.Chats, chatID)
	rec, ok, err := tx.Get(chatRef)
	if err != nil {
		return err
	} else if !ok {
		return errs.NotFound("chat %s", chatID)
	}
	if _, err := models.DecodeChat(rec); err != nil {
		return errs.NotFound("chat %s: %v", chatID, err)
	}

	type side struct {
		ref  remote.Ref
		rec  remote.Record
		seen bool
	}
	sides := []*side{{ref: remote.Doc(remote.UserChats, senderID), seen: true}}
	if peerID != "" {
		sides = append(sides, &side{ref: remote.Doc(remote.UserChats, peerID)})
	}
	for _, s := range sides {
		rec, ok, err := tx.Get(s.ref)
		if err != nil {
			return err
		}
		if !ok {
			rec = remote.Record{ID: s.ref.ID, Data: map[string]any{}}
		}
		s.rec = rec
	}

	if err := tx.Update(chatRef, remote.ArrayUnion("messages", models.MessageValue(msg))); err != nil {
		return err
	}
	stamp := msg.CreatedAt.UnixMilli()
	for _, s := range sides {
		seen := s.seen
		chats := modifyEntry(s.rec, chatID, func(m map[string]any) {
			m["lastMessage"] = msg.Text
			m["updatedAt"] = stamp
			m["isSeen"] = seen
		})
		if err := tx.Set(s.ref, map[string]any{"chats": chats}, true); err != nil {
			return err
		}
	}
	return nil
}

// Messages returns the open chat's thread.
func (c *Client) Messages(ctx context.Context) ([]models.Message, error) {
	var out []models.Message
	err := c.call(ctx, func() error {
		if _, err := c.requireUser(); err != nil {
			return err
		}
		if c.chat == nil {
			return errs.Validation("no chat selected")
		}
		out = c.chat.list.Items()
		return nil
	})
	return out, err
}

// SendMessage posts text to the open chat. The message is displayed
// immediately and removed again if the write fails.
func (c *Client) SendMessage(ctx context.Context, text string) (models.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return models.Message{}, errs.Validation("message is empty")
	}
	var p *engine.Pending
	var msg models.Message
	err := c.call(ctx, func() error {
		u, err := c.requireUser()
		if err != nil {
			return err
		}
		if c.chat == nil {
			return errs.Validation("no chat selected")
		}
		msg = models.Message{
			ID:        uuid.NewString(),
			SenderID:  u.ID,
			Text:      text,
			CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
		}
		p = c.chat.send(u.ID, msg)
		return nil
	})
	if err != nil {
		return models.Message{}, err
	}
	return msg, p.Wait(ctx)
}
