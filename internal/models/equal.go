package models

// Equal methods back the reducer's referential stability: a list whose
// elements are all Equal to the previous render is not replaced.

func (u User) Equal(o User) bool {
	return u.ID == o.ID && u.Username == o.Username && u.Email == o.Email &&
		u.Avatar == o.Avatar && u.IsOnline == o.IsOnline && equalStrings(u.Blocked, o.Blocked)
}

func (c Comment) Equal(o Comment) bool { return c == o }

func (p Post) Equal(o Post) bool {
	if p.ID != o.ID || p.CreatedBy != o.CreatedBy || p.Caption != o.Caption ||
		!p.CreatedAt.Equal(o.CreatedAt) {
		return false
	}
	if !equalStrings(p.ImageURLs, o.ImageURLs) || !equalStrings(p.Likes, o.Likes) ||
		!equalStrings(p.Dislikes, o.Dislikes) {
		return false
	}
	if (p.Location == nil) != (o.Location == nil) {
		return false
	}
	if p.Location != nil && *p.Location != *o.Location {
		return false
	}
	if len(p.Comments) != len(o.Comments) {
		return false
	}
	for i := range p.Comments {
		if !p.Comments[i].Equal(o.Comments[i]) {
			return false
		}
	}
	return true
}

func (c ChatSummary) Equal(o ChatSummary) bool {
	if c.ChatID != o.ChatID || c.ReceiverID != o.ReceiverID || c.LastMessage != o.LastMessage ||
		!c.UpdatedAt.Equal(o.UpdatedAt) || c.IsSeen != o.IsSeen {
		return false
	}
	if (c.Peer == nil) != (o.Peer == nil) {
		return false
	}
	return c.Peer == nil || c.Peer.Equal(*o.Peer)
}

func (m Message) Equal(o Message) bool {
	return m.ID == o.ID && m.SenderID == o.SenderID && m.Text == o.Text && m.CreatedAt.Equal(o.CreatedAt)
}

func (c Chat) Equal(o Chat) bool {
	if c.ID != o.ID || !c.CreatedAt.Equal(o.CreatedAt) || len(c.Messages) != len(o.Messages) {
		return false
	}
	for i := range c.Messages {
		if !c.Messages[i].Equal(o.Messages[i]) {
			return false
		}
	}
	return true
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
