package models

import (
	"time"

	"local.dev/socialdemo-sync/internal/geo"
)

// User is an account document: users/{id}.
type User struct {
	ID       string   `json:"id"`
	Username string   `json:"username"`
	Email    string   `json:"email,omitempty"`
	Avatar   string   `json:"avatar,omitempty"`
	IsOnline bool     `json:"isOnline"`
	Blocked  []string `json:"blocked,omitempty"`
}

// Comment is a reply on a post. Comments are append-only.
type Comment struct {
	ID        string `json:"id,omitempty"`
	Text      string `json:"text"`
	CreatedAt string `json:"createdAt"` // display formatted
	UserID    string `json:"userId,omitempty"`
	Username  string `json:"username,omitempty"`
}

// Post is a feed item: posts/{id}.
type Post struct {
	ID        string     `json:"id"`
	CreatedBy string     `json:"createdBy"`
	Caption   string     `json:"caption"`
	ImageURLs []string   `json:"imageUrls"`
	CreatedAt time.Time  `json:"createdAt"`
	Likes     []string   `json:"likes"`
	Dislikes  []string   `json:"dislikes"`
	Comments  []Comment  `json:"comments"`
	Location  *geo.Point `json:"location,omitempty"`
}

// ChatSummary is one participant's entry in userchats/{uid}.chats, joined
// with the peer's profile for display.
type ChatSummary struct {
	ChatID      string    `json:"chatId"`
	ReceiverID  string    `json:"receiverId"`
	LastMessage string    `json:"lastMessage"`
	UpdatedAt   time.Time `json:"updatedAt"`
	IsSeen      bool      `json:"isSeen"`
	Peer        *User     `json:"user,omitempty"`
}

// Message is one entry of chats/{id}.messages.
type Message struct {
	ID        string    `json:"id"`
	SenderID  string    `json:"senderId"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// Chat is a conversation thread: chats/{id}.
type Chat struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	Messages  []Message `json:"messages"`
}

// DisplayName falls back to the id when no username is set.
func (u User) DisplayName() string {
	if u.Username != "" {
		return u.Username
	}
	return u.ID
}

// LikedBy reports whether uid is in the likers set.
func (p Post) LikedBy(uid string) bool { return containsString(p.Likes, uid) }

// DislikedBy reports whether uid is in the dislikers set.
func (p Post) DislikedBy(uid string) bool { return containsString(p.Dislikes, uid) }

func containsString(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
