package client

import (
	"local.dev/socialdemo-sync/internal/engine"
	"local.dev/socialdemo-sync/internal/geo"
	"local.dev/socialdemo-sync/internal/models"
)

// View names used in Event.View.
const (
	ViewSession  = "session"
	ViewChat     = "chat"
	ViewNotice   = "notice"
	ViewFeed     = "feed"
	ViewChats    = "chats"
	ViewPresence = "presence"
	ViewMessages = "messages"
)

// Event is pushed to UI listeners whenever a view renders or the session
// changes. Data is never mutated after it is emitted.
type Event struct {
	View   string       `json:"view"`
	State  string       `json:"state,omitempty"`
	User   *models.User `json:"user,omitempty"`
	ChatID string       `json:"chatId,omitempty"`
	Data   any          `json:"data,omitempty"`
	Error  string       `json:"error,omitempty"`
}

// SessionInfo is a copy of the coordinator state.
type SessionInfo struct {
	State  string       `json:"state"`
	User   *models.User `json:"user,omitempty"`
	ChatID string       `json:"chatId,omitempty"`
	Peer   *models.User `json:"peer,omitempty"`
	Origin *geo.Point   `json:"origin,omitempty"`

	// Loaded names the mounted views that have applied a first snapshot.
	Loaded []string `json:"loaded,omitempty"`
}

func eventFrom(ev engine.Event) Event {
	out := Event{State: ev.State.String(), User: ev.User, ChatID: ev.ChatID}
	switch ev.Kind {
	case engine.ChatChanged:
		out.View = ViewChat
		if ev.Peer != nil {
			out.Data = ev.Peer
		}
	case engine.Notice:
		out.View = ViewNotice
	default:
		out.View = ViewSession
	}
	if ev.Err != nil {
		out.Error = ev.Err.Error()
	}
	return out
}
