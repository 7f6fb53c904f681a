package models

import (
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"local.dev/socialdemo-sync/internal/geo"
	"local.dev/socialdemo-sync/internal/remote"
)

// ErrMalformed marks a record that fails the structural check. Reducers
// drop such records instead of failing the whole snapshot.
var ErrMalformed = errors.New("malformed document")

// ===== decode =====

func DecodeUser(rec remote.Record) (User, error) {
	d := rec.Data
	if d == nil {
		return User{}, errors.Wrapf(ErrMalformed, "users/%s: empty", rec.ID)
	}
	u := User{
		ID:       getString(d, "id"),
		Username: getString(d, "username"),
		Email:    getString(d, "email"),
		Avatar:   getString(d, "avatar"),
		IsOnline: getBool(d, "isOnline"),
		Blocked:  getStrings(d, "blocked"),
	}
	if u.ID == "" {
		u.ID = rec.ID
	}
	return u, nil
}

func DecodePost(rec remote.Record) (Post, error) {
	d := rec.Data
	if d == nil {
		return Post{}, errors.Wrapf(ErrMalformed, "posts/%s: empty", rec.ID)
	}
	created, ok := getTime(d, "createdAt")
	if !ok {
		// older documents used "timestamp"
		if created, ok = getTime(d, "timestamp"); !ok {
			return Post{}, errors.Wrapf(ErrMalformed, "posts/%s: missing createdAt", rec.ID)
		}
	}
	p := Post{
		ID:        rec.ID,
		CreatedBy: getString(d, "createdBy"),
		Caption:   getString(d, "caption"),
		ImageURLs: getStrings(d, "imageUrls"),
		CreatedAt: created,
		Likes:     getStrings(d, "likes"),
		Dislikes:  getStrings(d, "dislikes"),
		Comments:  []Comment{},
	}
	if len(p.ImageURLs) == 0 {
		if u := getString(d, "imageUrl"); u != "" {
			p.ImageURLs = []string{u}
		}
	}
	if p.CreatedBy == "" {
		p.CreatedBy = getString(d, "userId")
	}
	if raw, ok := d["comments"].([]any); ok {
		for _, c := range raw {
			m, ok := c.(map[string]any)
			if !ok {
				continue
			}
			p.Comments = append(p.Comments, Comment{
				ID:        getString(m, "id"),
				Text:      getString(m, "text"),
				CreatedAt: getString(m, "createdAt"),
				UserID:    getString(m, "userId"),
				Username:  getString(m, "username"),
			})
		}
	}
	lat, okLat := getFloat(d, "latitude")
	lng, okLng := getFloat(d, "longitude")
	if okLat && okLng {
		p.Location = &geo.Point{Lat: lat, Lng: lng}
	}
	return p, nil
}

// ChatEntry is the stored form of a ChatSummary (no peer profile).
type ChatEntry struct {
	ChatID      string
	ReceiverID  string
	LastMessage string
	UpdatedAt   time.Time
	IsSeen      bool
}

// DecodeChatIndex reads userchats/{uid}. A missing document is an empty
// index; malformed entries are skipped.
func DecodeChatIndex(rec remote.Record) ([]ChatEntry, error) {
	raw, _ := rec.Data["chats"].([]any)
	out := make([]ChatEntry, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		e, err := DecodeChatEntry(m)
		if err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// DecodeChatEntry reads one element of userchats/{uid}.chats.
func DecodeChatEntry(m map[string]any) (ChatEntry, error) {
	e := ChatEntry{
		ChatID:      getString(m, "chatId"),
		ReceiverID:  getString(m, "receiverId"),
		LastMessage: getString(m, "lastMessage"),
		IsSeen:      getBool(m, "isSeen"),
	}
	e.UpdatedAt, _ = getTime(m, "updatedAt")
	if e.ChatID == "" || e.ReceiverID == "" {
		return e, errors.Wrap(ErrMalformed, "chat entry without chatId or receiverId")
	}
	return e, nil
}

func DecodeChat(rec remote.Record) (Chat, error) {
	if rec.Data == nil {
		return Chat{}, errors.Wrapf(ErrMalformed, "chats/%s: empty", rec.ID)
	}
	c := Chat{ID: rec.ID, Messages: []Message{}}
	c.CreatedAt, _ = getTime(rec.Data, "createdAt")
	raw, _ := rec.Data["messages"].([]any)
	for i, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		msg, err := DecodeMessage(m, i)
		if err != nil {
			continue
		}
		c.Messages = append(c.Messages, msg)
	}
	return c, nil
}

// DecodeMessage reads one element of chats/{id}.messages. Messages written
// without an id get one derived from their position.
func DecodeMessage(m map[string]any, index int) (Message, error) {
	msg := Message{
		ID:       getString(m, "id"),
		SenderID: getString(m, "senderId"),
		Text:     getString(m, "text"),
	}
	msg.CreatedAt, _ = getTime(m, "createdAt")
	if msg.ID == "" {
		msg.ID = "#" + strconv.Itoa(index)
	}
	if msg.SenderID == "" {
		return msg, errors.Wrapf(ErrMalformed, "message %s without senderId", msg.ID)
	}
	return msg, nil
}

// ===== encode =====

func UserDoc(u User) map[string]any {
	blocked := u.Blocked
	if blocked == nil {
		blocked = []string{}
	}
	return map[string]any{
		"id":       u.ID,
		"username": u.Username,
		"email":    u.Email,
		"avatar":   u.Avatar,
		"isOnline": u.IsOnline,
		"blocked":  stringsToAny(blocked),
	}
}

// PostDoc is the document written on creation. createdAt is set by the
// caller (server time when the store supports it).
func PostDoc(p Post) map[string]any {
	doc := map[string]any{
		"caption":   p.Caption,
		"createdBy": p.CreatedBy,
		"createdAt": p.CreatedAt,
		"imageUrls": stringsToAny(p.ImageURLs),
		"likes":     []any{},
		"dislikes":  []any{},
		"comments":  []any{},
	}
	if p.Location != nil {
		doc["latitude"] = p.Location.Lat
		doc["longitude"] = p.Location.Lng
	}
	return doc
}

// CommentValue is the array element appended with ArrayUnion.
func CommentValue(c Comment) map[string]any {
	v := map[string]any{
		"id":        c.ID,
		"text":      c.Text,
		"createdAt": c.CreatedAt,
	}
	if c.UserID != "" {
		v["userId"] = c.UserID
	}
	if c.Username != "" {
		v["username"] = c.Username
	}
	return v
}

func ChatEntryValue(e ChatEntry) map[string]any {
	return map[string]any{
		"chatId":      e.ChatID,
		"receiverId":  e.ReceiverID,
		"lastMessage": e.LastMessage,
		"updatedAt":   e.UpdatedAt.UnixMilli(),
		"isSeen":      e.IsSeen,
	}
}

func ChatIndexDoc(entries []ChatEntry) map[string]any {
	chats := make([]any, 0, len(entries))
	for _, e := range entries {
		chats = append(chats, ChatEntryValue(e))
	}
	return map[string]any{"chats": chats}
}

func MessageValue(m Message) map[string]any {
	return map[string]any{
		"id":        m.ID,
		"senderId":  m.SenderID,
		"text":      m.Text,
		"createdAt": m.CreatedAt.UnixMilli(),
	}
}

// ===== field helpers =====

func getString(d map[string]any, key string) string {
	if v, ok := d[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func getBool(d map[string]any, key string) bool {
	v, _ := d[key].(bool)
	return v
}

func getFloat(d map[string]any, key string) (float64, bool) {
	switch v := d[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	}
	return 0, false
}

// getTime accepts a native timestamp, epoch milliseconds or RFC 3339.
func getTime(d map[string]any, key string) (time.Time, bool) {
	switch v := d[key].(type) {
	case time.Time:
		if v.IsZero() {
			return time.Time{}, false
		}
		return v.UTC(), true
	case int64:
		return time.UnixMilli(v).UTC(), true
	case int:
		return time.UnixMilli(int64(v)).UTC(), true
	case float64:
		return time.UnixMilli(int64(v)).UTC(), true
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return time.Time{}, false
		}
		return t.UTC(), true
	}
	return time.Time{}, false
}

func getStrings(d map[string]any, key string) []string {
	switch v := d[key].(type) {
	case []string:
		return append([]string{}, v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, x := range v {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return []string{}
}

func stringsToAny(in []string) []any {
	out := make([]any, 0, len(in))
	for _, s := range in {
		out = append(out, s)
	}
	return out
}
